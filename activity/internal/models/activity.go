package models

import "time"

type ActivityType string

const (
	ActivityLogin              ActivityType = "login"
	ActivityLogout             ActivityType = "logout"
	ActivityView               ActivityType = "view"
	ActivityCreate             ActivityType = "create"
	ActivityUpdate             ActivityType = "update"
	ActivityDelete             ActivityType = "delete"
	ActivitySearch             ActivityType = "search"
	ActivityExport             ActivityType = "export"
	ActivityImport             ActivityType = "import"
	ActivityAdminAction        ActivityType = "admin_action"
	ActivityImpersonationStart ActivityType = "impersonation_start"
	ActivityImpersonationEnd   ActivityType = "impersonation_end"
	ActivityOther              ActivityType = "other"
)

// AllActivityTypes lists every type in declaration order.
var AllActivityTypes = []ActivityType{
	ActivityLogin, ActivityLogout, ActivityView, ActivityCreate, ActivityUpdate,
	ActivityDelete, ActivitySearch, ActivityExport, ActivityImport, ActivityAdminAction,
	ActivityImpersonationStart, ActivityImpersonationEnd, ActivityOther,
}

// Valid reports whether t is a known activity type.
func (t ActivityType) Valid() bool {
	for _, known := range AllActivityTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ActivityEvent is one immutable audit record. Metadata is sanitized before
// it reaches any store.
type ActivityEvent struct {
	ID             string         `json:"id"` // UUIDv7
	PrincipalID    string         `json:"principal_id"`
	SessionID      *string        `json:"session_id,omitempty"`
	ActivityType   ActivityType   `json:"activity_type"`
	Description    string         `json:"description"`
	ResourceType   *string        `json:"resource_type,omitempty"`
	ResourceID     *string        `json:"resource_id,omitempty"`
	IPAddress      string         `json:"ip_address"`
	UserAgent      string         `json:"user_agent"`
	RequestPath    string         `json:"request_path"`
	RequestMethod  string         `json:"request_method"`
	ResponseStatus int            `json:"response_status"`
	DurationMs     int64          `json:"duration_ms"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	IsSuccessful   bool           `json:"is_successful"`
	ErrorMessage   *string        `json:"error_message,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ActivityFilter selects events for the query paths. Zero values mean
// "no constraint". Results are ordered newest first.
type ActivityFilter struct {
	PrincipalID  string
	ActivityType ActivityType
	Start        time.Time // inclusive
	End          time.Time // exclusive
	Limit        int
	Offset       int
}

// Page is a slice of results plus the unpaged total.
type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}
