package domain

import "strings"

// Role is an application role carried by a user profile.
type Role string

const (
	RoleUser      Role = "user"
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
)

// ParseRole maps a stored role string to a Role. Unknown or empty values
// fall back to RoleUser.
func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin
	case RoleModerator:
		return RoleModerator
	default:
		return RoleUser
	}
}

// Principal is the authenticated caller attached to a request.
type Principal struct {
	ID      string
	Email   string
	Role    Role
	Profile *UserProfile
}

// HasRole reports whether the principal holds any of the given roles.
func (p *Principal) HasRole(roles ...Role) bool {
	if p == nil {
		return false
	}
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

// IsStaff reports whether the principal may moderate content.
func (p *Principal) IsStaff() bool { return p.HasRole(RoleAdmin, RoleModerator) }
