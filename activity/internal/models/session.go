package models

import "time"

type SessionStatus string

const (
	SessionActive     SessionStatus = "ACTIVE"
	SessionExpired    SessionStatus = "EXPIRED"
	SessionTerminated SessionStatus = "TERMINATED"
	SessionLoggedOut  SessionStatus = "LOGGED_OUT"
)

// Valid reports whether s is one of the four known statuses.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionActive, SessionExpired, SessionTerminated, SessionLoggedOut:
		return true
	}
	return false
}

// Session metadata keys written by the impersonation controller.
const (
	MetaIsImpersonating = "isImpersonating"
	MetaOriginalAdminID = "originalAdminId"
	MetaImpersonationID = "impersonationLogId"
)

// Session is one authenticated login.
// Uses ID (UUIDv7) for created_at timestamp.
// LogoutAt is set if and only if Status != ACTIVE.
type Session struct {
	ID             string            `json:"id"`
	PrincipalID    string            `json:"principal_id"`
	SessionToken   string            `json:"-"`
	RefreshToken   *string           `json:"-"`
	Status         SessionStatus     `json:"status"`
	DeviceType     string            `json:"device_type"`
	Browser        string            `json:"browser"`
	OS             string            `json:"os"`
	IPAddress      string            `json:"ip_address"`
	UserAgent      string            `json:"user_agent"`
	LoginAt        time.Time         `json:"login_at"`
	LastActivityAt time.Time         `json:"last_activity_at"`
	LogoutAt       *time.Time        `json:"logout_at,omitempty"`
	ExpiresAt      time.Time         `json:"expires_at"`
	RememberMe     bool              `json:"remember_me"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// IsValid reports whether the session can still authenticate requests at now.
// A session whose expiry equals now is already invalid.
func (s *Session) IsValid(now time.Time) bool {
	return s != nil &&
		s.Status == SessionActive &&
		s.ExpiresAt.After(now) &&
		s.LogoutAt == nil
}

// IsImpersonation reports whether the session was minted for an admin
// impersonating another principal.
func (s *Session) IsImpersonation() bool {
	return s != nil && s.Metadata[MetaIsImpersonating] == "true"
}

// Duration is the session length used by statistics: logout (or last
// activity when still open) minus login.
func (s *Session) Duration() time.Duration {
	end := s.LastActivityAt
	if s.LogoutAt != nil {
		end = *s.LogoutAt
	}
	if end.Before(s.LoginAt) {
		return 0
	}
	return end.Sub(s.LoginAt)
}

// Clone returns a deep copy so in-memory stores never hand out shared maps.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.RefreshToken != nil {
		rt := *s.RefreshToken
		c.RefreshToken = &rt
	}
	if s.LogoutAt != nil {
		lo := *s.LogoutAt
		c.LogoutAt = &lo
	}
	if s.Metadata != nil {
		c.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
