package models

import "time"

// CreateSessionRequest registers a login. Device, browser and OS are
// classified from UserAgent when left empty; ExpiresAt defaults to the
// configured session TTL.
type CreateSessionRequest struct {
	PrincipalID  string            `json:"principal_id"`
	SessionToken string            `json:"session_token"`
	RefreshToken string            `json:"refresh_token,omitempty"`
	DeviceType   string            `json:"device_type,omitempty"`
	Browser      string            `json:"browser,omitempty"`
	OS           string            `json:"os,omitempty"`
	IPAddress    string            `json:"ip_address"`
	UserAgent    string            `json:"user_agent"`
	ExpiresAt    time.Time         `json:"expires_at,omitempty"`
	RememberMe   bool              `json:"remember_me"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type StartImpersonationRequest struct {
	TargetPrincipalID string `json:"target_principal_id"`
	Reason            string `json:"reason,omitempty"`
	IPAddress         string `json:"-"`
	UserAgent         string `json:"-"`
}

type StartImpersonationResponse struct {
	AccessToken        string    `json:"access_token"`
	RefreshToken       string    `json:"refresh_token"`
	ImpersonationLogID string    `json:"impersonation_log_id"`
	ExpiresAt          time.Time `json:"expires_at"`
	TokenType          string    `json:"token_type"`
}

type EndImpersonationRequest struct {
	IPAddress string `json:"-"`
	UserAgent string `json:"-"`
}

type LogoutAllRequest struct {
	KeepCurrent bool `json:"keep_current"`
}

type CountResponse struct {
	Count int64 `json:"count"`
}
