package models

type Role string

const (
	RoleSuperAdmin Role = "SUPER_ADMIN"
	RoleAdmin      Role = "ADMIN"
	RoleUser       Role = "USER"
)

// Principal is a validated identity supplied by the authentication service.
type Principal struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
}

func (p *Principal) IsSuperAdmin() bool {
	return p != nil && p.Role == RoleSuperAdmin
}

// IsAdmin is true for ADMIN and SUPER_ADMIN.
func (p *Principal) IsAdmin() bool {
	return p != nil && (p.Role == RoleAdmin || p.Role == RoleSuperAdmin)
}
