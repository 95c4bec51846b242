package logging

import "log/slog"

// Field names shared by every component so log queries stay uniform.
const (
	FieldService       = "service"
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldPrincipalID   = "principal_id"
	FieldAdminID       = "admin_id"
	FieldSessionID     = "session_id"
	FieldImpersonation = "impersonation_id"
	FieldActivityType  = "activity_type"
	FieldIP            = "ip"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldStatus        = "status"
	FieldDuration      = "duration_ms"
	FieldCount         = "count"
	FieldSweep         = "sweep"
	FieldError         = "error"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// PrincipalID returns a slog attribute for the acting principal.
func PrincipalID(id string) slog.Attr {
	return slog.String(FieldPrincipalID, id)
}

// AdminID returns a slog attribute for an admin principal.
func AdminID(id string) slog.Attr {
	return slog.String(FieldAdminID, id)
}

// SessionID returns a slog attribute for a session ID.
// Never pass a session token here.
func SessionID(id string) slog.Attr {
	return slog.String(FieldSessionID, id)
}

// ImpersonationID returns a slog attribute for an impersonation log ID.
func ImpersonationID(id string) slog.Attr {
	return slog.String(FieldImpersonation, id)
}

// ActivityType returns a slog attribute for an activity type.
func ActivityType(t string) slog.Attr {
	return slog.String(FieldActivityType, t)
}

// IP returns a slog attribute for the IP address.
func IP(ip string) slog.Attr {
	return slog.String(FieldIP, ip)
}

// Method returns a slog attribute for the HTTP method.
func Method(method string) slog.Attr {
	return slog.String(FieldMethod, method)
}

// Path returns a slog attribute for the HTTP path.
func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}

// Status returns a slog attribute for the HTTP status code.
func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Count returns a slog attribute for an affected row count.
func Count(n int64) slog.Attr {
	return slog.Int64(FieldCount, n)
}

// Sweep returns a slog attribute naming a background sweep.
func Sweep(name string) slog.Attr {
	return slog.String(FieldSweep, name)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}
