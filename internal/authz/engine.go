// Package authz answers role, permission and route questions about a user
// profile. Every function is total: missing or unrecognized input denies.
package authz

import (
	"github.com/SAP-F-2025/access-control-service/internal/models"
)

// HasRole reports whether the profile holds exactly the given role
func HasRole(profile *models.UserProfile, role models.UserRole) bool {
	if profile == nil || profile.Role == "" {
		return false
	}
	return profile.Role == role
}

// HasPermission resolves a permission for the profile.
// Unknown permissions deny for everyone; admins pass for the whole catalog; a present permission map is a strict allow-list that
// replaces the role defaults; otherwise the role default set applies.
func HasPermission(profile *models.UserProfile, permission models.Permission) bool {
	if profile == nil || profile.Role == "" || !permission.IsValid() {
		return false
	}
	if profile.Role == models.RoleAdmin {
		return true
	}
	if !profile.Role.IsValid() {
		return false
	}
	if profile.Permissions != nil {
		return profile.Permissions[permission]
	}
	return models.RoleDefaultIncludes(profile.Role, permission)
}

// HasAnyPermission short-circuits on the first granted permission
func HasAnyPermission(profile *models.UserProfile, permissions ...models.Permission) bool {
	for _, p := range permissions {
		if HasPermission(profile, p) {
			return true
		}
	}
	return false
}

// HasAllPermissions short-circuits on the first denied permission. An empty
// list is denied so that a misconfigured guard cannot open a route.
func HasAllPermissions(profile *models.UserProfile, permissions ...models.Permission) bool {
	if len(permissions) == 0 {
		return false
	}
	for _, p := range permissions {
		if !HasPermission(profile, p) {
			return false
		}
	}
	return true
}

// EffectivePermissions lists what the profile is currently granted, sorted
func EffectivePermissions(profile *models.UserProfile) []models.Permission {
	if profile == nil || !profile.Role.IsValid() {
		return []models.Permission{}
	}
	if profile.Role == models.RoleAdmin {
		return models.DefaultPermissionsFor(models.RoleAdmin)
	}
	if profile.Permissions != nil {
		return profile.Permissions.Granted()
	}
	return models.DefaultPermissionsFor(profile.Role)
}

// IsValidRoleChange validates the shape of a transition only. Admin can be
// neither source nor target; admin accounts are provisioned out of band.
func IsValidRoleChange(from, to models.UserRole) bool {
	if !from.IsValid() || !to.IsValid() {
		return false
	}
	if from == models.RoleAdmin || to == models.RoleAdmin {
		return false
	}
	return true
}
