package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// UnknownIP is returned by GetClientIP when no address can be determined.
const UnknownIP = "unknown"

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// GetClientIP extracts the real client IP address from request headers.
// Headers are checked in this order:
//  1. X-Forwarded-For (first entry of the comma-separated list)
//  2. X-Real-IP
//  3. X-Client-IP
//  4. RemoteAddr (port stripped)
//
// Example X-Forwarded-For: "203.0.113.195, 70.41.3.18, 150.172.238.178"
// Returns: "203.0.113.195"
func GetClientIP(r *http.Request) string {
	return ClientIP(r.Header, r.RemoteAddr)
}

// ClientIP applies the GetClientIP rules to a header set and peer address
// captured outside of a live request.
func ClientIP(h http.Header, remoteAddr string) string {
	if xff := h.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if first := strings.TrimSpace(parts[0]); first != "" {
			return first
		}
	}
	if xri := strings.TrimSpace(h.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if xci := strings.TrimSpace(h.Get("X-Client-IP")); xci != "" {
		return xci
	}
	if remoteAddr != "" {
		if host, _, err := net.SplitHostPort(remoteAddr); err == nil && host != "" {
			return host
		}
		return remoteAddr
	}
	return UnknownIP
}

// ParseIntParam parses an integer query parameter with a default value.
// Returns defaultVal if the parameter is empty or invalid.
func ParseIntParam(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return defaultVal
}

// Pagination represents common pagination parameters for API responses.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total,omitempty"`
}

// ParsePagination extracts pagination parameters from the query string,
// applying defaultLimit and capping at maxLimit.
func ParsePagination(r *http.Request, defaultLimit, maxLimit int) Pagination {
	page := ParseIntParam(r.URL.Query().Get("page"), 1)
	limit := ParseIntParam(r.URL.Query().Get("limit"), defaultLimit)

	if limit > maxLimit {
		limit = maxLimit
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if page < 1 {
		page = 1
	}

	return Pagination{
		Page:  page,
		Limit: limit,
	}
}

// Offset returns (page-1) * limit for use in SQL OFFSET clauses.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.Limit
}

// ParseTimeParam parses an RFC 3339 query parameter. Empty input returns
// the zero time and no error.
func ParseTimeParam(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: expected RFC 3339", s)
	}
	return t, nil
}

// DecodeJSON decodes a bounded JSON request body into dst, rejecting
// unknown fields.
func DecodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body is empty")
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
