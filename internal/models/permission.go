package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

type Permission string

const (
	// Student
	PermViewCourses       Permission = "view_courses"
	PermEnrollCourses     Permission = "enroll_courses"
	PermSubmitAssessments Permission = "submit_assessments"
	PermViewOwnProgress   Permission = "view_own_progress"

	// Instructor
	PermCreateCourses     Permission = "create_courses"
	PermEditCourses       Permission = "edit_courses"
	PermDeleteCourses     Permission = "delete_courses"
	PermCreateAssessments Permission = "create_assessments"
	PermGradeAssessments  Permission = "grade_assessments"
	PermViewStudents      Permission = "view_students"

	// Partner instructor
	PermViewAssignedCourses      Permission = "view_assigned_courses"
	PermViewAssignedStudents     Permission = "view_assigned_students"
	PermViewInstitutionReports   Permission = "view_institution_reports"
	PermExportInstitutionReports Permission = "export_institution_reports"

	// Guest
	PermViewInstitutionCourses   Permission = "view_institution_courses"
	PermViewInstitutionStudents  Permission = "view_institution_students"
	PermViewInstitutionAnalytics Permission = "view_institution_analytics"
	PermExportInstitutionData    Permission = "export_institution_data"

	// Admin
	PermManageUsers        Permission = "manage_users"
	PermManageRoles        Permission = "manage_roles"
	PermManageInstitutions Permission = "manage_institutions"
	PermViewAuditLogs      Permission = "view_audit_logs"
	PermManageSystem       Permission = "manage_system"
)

var ErrUnknownPermission = errors.New("unknown permission")

// permissionsByRole lists the permissions each role originates. Admin is
// filled in by init from the whole catalog.
var permissionsByRole = map[UserRole][]Permission{
	RoleStudent: {
		PermViewCourses,
		PermEnrollCourses,
		PermSubmitAssessments,
		PermViewOwnProgress,
	},
	RoleInstructor: {
		PermCreateCourses,
		PermEditCourses,
		PermDeleteCourses,
		PermCreateAssessments,
		PermGradeAssessments,
		PermViewStudents,
	},
	RolePartnerInstructor: {
		PermViewAssignedCourses,
		PermViewAssignedStudents,
		PermViewInstitutionReports,
		PermExportInstitutionReports,
	},
	RoleGuest: {
		PermViewInstitutionCourses,
		PermViewInstitutionStudents,
		PermViewInstitutionAnalytics,
		PermExportInstitutionData,
	},
	RoleAdmin: {
		PermManageUsers,
		PermManageRoles,
		PermManageInstitutions,
		PermViewAuditLogs,
		PermManageSystem,
	},
}

var (
	allPermissions     []Permission
	permissionIndex    map[Permission]struct{}
	defaultPermissions map[UserRole]map[Permission]struct{}
)

func init() {
	permissionIndex = make(map[Permission]struct{})
	for _, role := range allRoles {
		for _, p := range permissionsByRole[role] {
			if _, seen := permissionIndex[p]; seen {
				continue
			}
			permissionIndex[p] = struct{}{}
			allPermissions = append(allPermissions, p)
		}
	}

	defaultPermissions = make(map[UserRole]map[Permission]struct{}, len(allRoles))
	for _, role := range allRoles {
		set := make(map[Permission]struct{})
		source := permissionsByRole[role]
		if role == RoleAdmin {
			source = allPermissions
		}
		for _, p := range source {
			set[p] = struct{}{}
		}
		defaultPermissions[role] = set
	}
}

// AllPermissions returns every permission in the catalog
func AllPermissions() []Permission {
	out := make([]Permission, len(allPermissions))
	copy(out, allPermissions)
	return out
}

func (p Permission) IsValid() bool {
	_, ok := permissionIndex[p]
	return ok
}

func (p Permission) String() string {
	return string(p)
}

// DefaultPermissionsFor returns the role's default set, sorted. Unknown roles get an empty set.
func DefaultPermissionsFor(role UserRole) []Permission {
	set := defaultPermissions[role]
	out := make([]Permission, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RoleDefaultIncludes reports whether permission is in the role default set
func RoleDefaultIncludes(role UserRole, permission Permission) bool {
	_, ok := defaultPermissions[role][permission]
	return ok
}

// PartnerInstructorBootstrap is the bundle applied when a subject becomes a partner instructor
func PartnerInstructorBootstrap() PermissionMap {
	return PermissionMap{
		PermViewAssignedCourses:      true,
		PermViewAssignedStudents:     true,
		PermViewInstitutionReports:   true,
		PermExportInstitutionReports: false,
	}
}

// GuestBootstrap is the institution-management bundle applied on guest grants
func GuestBootstrap() PermissionMap {
	return PermissionMap{
		PermViewInstitutionCourses:   true,
		PermViewInstitutionStudents:  true,
		PermViewInstitutionAnalytics: true,
		PermExportInstitutionData:    true,
		PermViewAssignedCourses:      true,
		PermViewAssignedStudents:     true,
		PermViewInstitutionReports:   true,
	}
}

// PermissionMap is a per-subject allow-list. Only keys from the catalog are
// accepted; a missing key or a false value denies.
type PermissionMap map[Permission]bool

// NewPermissionMap validates raw string keys against the catalog
func NewPermissionMap(raw map[string]bool) (PermissionMap, error) {
	if raw == nil {
		return nil, nil
	}
	out := make(PermissionMap, len(raw))
	for key, allowed := range raw {
		p := Permission(key)
		if !p.IsValid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPermission, key)
		}
		out[p] = allowed
	}
	return out, nil
}

func (m PermissionMap) Clone() PermissionMap {
	if m == nil {
		return nil
	}
	out := make(PermissionMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Granted returns the keys set to true, sorted
func (m PermissionMap) Granted() []Permission {
	out := make([]Permission, 0, len(m))
	for p, allowed := range m {
		if allowed {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m PermissionMap) Equal(other PermissionMap) bool {
	if (m == nil) != (other == nil) || len(m) != len(other) {
		return false
	}
	for k, v := range m {
		ov, ok := other[k]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

func (m *PermissionMap) UnmarshalJSON(data []byte) error {
	var raw map[string]bool
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := NewPermissionMap(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Value stores the map as jsonb; a nil map is stored as NULL
func (m PermissionMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(map[Permission]bool(m))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan reads jsonb written by Value. Keys that are no longer in the catalog
// are dropped so that historical rows stay readable; a dropped key denies.
func (m *PermissionMap) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported permission map type %T", value)
	}

	var raw map[string]bool
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode permission map: %w", err)
	}
	if raw == nil {
		*m = nil
		return nil
	}
	out := make(PermissionMap, len(raw))
	for key, allowed := range raw {
		if p := Permission(key); p.IsValid() {
			out[p] = allowed
		}
	}
	*m = out
	return nil
}

// GormDataType keeps AutoMigrate on jsonb
func (PermissionMap) GormDataType() string {
	return "jsonb"
}
