package models

import "time"

type ImpersonationStatus string

const (
	ImpersonationActive  ImpersonationStatus = "ACTIVE"
	ImpersonationEnded   ImpersonationStatus = "ENDED"
	ImpersonationExpired ImpersonationStatus = "EXPIRED"
)

// ImpersonationLog records one admin-initiated identity switch. It refers to
// the minted session by token equality only; the session may already be gone.
type ImpersonationLog struct {
	ID                      string              `json:"id"`
	AdminPrincipalID        string              `json:"admin_principal_id"`
	ImpersonatedPrincipalID string              `json:"impersonated_principal_id"`
	StartedAt               time.Time           `json:"started_at"`
	EndedAt                 *time.Time          `json:"ended_at,omitempty"`
	IPAddress               string              `json:"ip_address"`
	UserAgent               string              `json:"user_agent"`
	Reason                  *string             `json:"reason,omitempty"`
	SessionToken            string              `json:"-"`
	Status                  ImpersonationStatus `json:"status"`
}

// IsActive reports whether the log is still in the ACTIVE state.
func (l *ImpersonationLog) IsActive() bool {
	return l != nil && l.Status == ImpersonationActive
}

// Clone returns a deep copy.
func (l *ImpersonationLog) Clone() *ImpersonationLog {
	if l == nil {
		return nil
	}
	c := *l
	if l.EndedAt != nil {
		e := *l.EndedAt
		c.EndedAt = &e
	}
	if l.Reason != nil {
		r := *l.Reason
		c.Reason = &r
	}
	return &c
}

// ImpersonationFilter selects logs for the admin console history view.
type ImpersonationFilter struct {
	AdminPrincipalID string
	Status           ImpersonationStatus
	Limit            int
	Offset           int
}
