package audit

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/SAP-F-2025/access-control-service/internal/models"
)

// Describe renders a one-line summary of entry for history screens. It reads
// the stored fields only and never changes them.
func Describe(entry *models.AuditLogEntry) string {
	if entry == nil {
		return ""
	}

	switch entry.Type {
	case models.AuditRoleChange:
		return fmt.Sprintf("Changed role from %s to %s", roleName(entry.OldRole), roleName(entry.NewRole))

	case models.AuditPermissionChange:
		return describePermissionChange(entry.OldPermissions, entry.NewPermissions)

	case models.AuditUserSuspended:
		return "Suspended user " + targetName(entry)

	case models.AuditUserUnsuspended:
		return "Unsuspended user " + targetName(entry)

	case models.AuditInstitutionAssigned:
		if entry.PreviousInstitutionID != nil && *entry.PreviousInstitutionID != "" {
			return fmt.Sprintf("Moved from institution %s to %s", *entry.PreviousInstitutionID, valueOr(entry.InstitutionID, "unknown"))
		}
		return "Assigned to institution " + valueOr(entry.InstitutionID, "unknown")

	case models.AuditInstitutionRemoved:
		return "Removed from institution " + valueOr(entry.PreviousInstitutionID, valueOr(entry.InstitutionID, "unknown"))

	case models.AuditGuestAccessCreated:
		if hours, ok := metadataHours(entry.Metadata); ok {
			return fmt.Sprintf("Granted guest access for %d hours", hours)
		}
		return "Granted guest access until " + metadataTime(entry.Metadata, models.MetaNewExpiry)

	case models.AuditGuestAccessExtended:
		return "Extended guest access until " + metadataTime(entry.Metadata, models.MetaNewExpiry)

	case models.AuditGuestAccessRevoked:
		return "Revoked guest access"

	case models.AuditUserDeleted:
		if role, ok := entry.Metadata[models.MetaDeletedRole]; ok {
			return fmt.Sprintf("Deleted user %s (%v)", targetName(entry), role)
		}
		return "Deleted user " + targetName(entry)
	}

	return string(entry.Type)
}

func describePermissionChange(oldPerms, newPerms models.PermissionMap) string {
	var granted, revoked []string
	for _, p := range models.AllPermissions() {
		was, is := oldPerms[p], newPerms[p]
		switch {
		case is && !was:
			granted = append(granted, string(p))
		case was && !is:
			revoked = append(revoked, string(p))
		}
	}

	parts := make([]string, 0, 2)
	if len(granted) > 0 {
		parts = append(parts, "granted "+strings.Join(granted, ", "))
	}
	if len(revoked) > 0 {
		parts = append(parts, "revoked "+strings.Join(revoked, ", "))
	}
	if len(parts) == 0 {
		return "Updated permissions"
	}
	return "Updated permissions: " + strings.Join(parts, "; ")
}

func roleName(role *models.UserRole) string {
	if role == nil || *role == "" {
		return "none"
	}
	return string(*role)
}

func targetName(entry *models.AuditLogEntry) string {
	if entry.TargetUserEmail != "" {
		return entry.TargetUserEmail
	}
	return entry.TargetUserID
}

func valueOr(s *string, fallback string) string {
	if s == nil || *s == "" {
		return fallback
	}
	return *s
}

// metadataHours accepts both in-memory ints and float64 decoded from jsonb
func metadataHours(meta map[string]interface{}) (int, bool) {
	switch v := meta[models.MetaDurationHours].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(math.Round(v)), true
	}
	return 0, false
}

// metadataTime formats an RFC 3339 value as minutes in UTC
func metadataTime(meta map[string]interface{}, key string) string {
	switch v := meta[key].(type) {
	case time.Time:
		return v.UTC().Format("2006-01-02 15:04 UTC")
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t.UTC().Format("2006-01-02 15:04 UTC")
		}
		return v
	case nil:
		return "unknown"
	default:
		return fmt.Sprint(v)
	}
}
