package models

import "strings"

type UserRole string
type Role = UserRole // Alias for compatibility

const (
	RoleStudent           UserRole = "student"
	RoleInstructor        UserRole = "instructor"
	RolePartnerInstructor UserRole = "partner_instructor"
	RoleGuest             UserRole = "guest"
	RoleAdmin             UserRole = "admin"
)

var allRoles = []UserRole{
	RoleStudent,
	RoleInstructor,
	RolePartnerInstructor,
	RoleGuest,
	RoleAdmin,
}

// AllRoles returns the closed role enumeration in declaration order
func AllRoles() []UserRole {
	out := make([]UserRole, len(allRoles))
	copy(out, allRoles)
	return out
}

func (r UserRole) IsValid() bool {
	for _, role := range allRoles {
		if r == role {
			return true
		}
	}
	return false
}

// SupportsPermissionOverrides reports whether profiles with this role carry
// their own permission map instead of the role default set
func (r UserRole) SupportsPermissionOverrides() bool {
	return r == RolePartnerInstructor || r == RoleGuest
}

// RequiresInstitution reports whether the role is institution-scoped
func (r UserRole) RequiresInstitution() bool {
	return r == RolePartnerInstructor || r == RoleGuest
}

func (r UserRole) String() string {
	return string(r)
}

// ParseRole normalizes a raw role string; ok is false for anything outside the enumeration
func ParseRole(raw string) (UserRole, bool) {
	role := UserRole(strings.ToLower(strings.TrimSpace(raw)))
	if !role.IsValid() {
		return "", false
	}
	return role, true
}
