package validator

import "time"

// ChangeRoleRequest moves a profile from FromRole to ToRole. An empty FromRole
// means "whatever the profile currently has".
type ChangeRoleRequest struct {
	FromRole string `json:"from_role" validate:"omitempty,user_role"`
	ToRole   string `json:"to_role" validate:"required,user_role"`
	Reason   string `json:"reason" validate:"audit_reason"`
}

type UpdatePermissionsRequest struct {
	Permissions map[string]bool `json:"permissions" validate:"required,dive,keys,permission_key,endkeys"`
	Reason      string          `json:"reason" validate:"audit_reason"`
}

type SetSuspendedRequest struct {
	Suspended *bool  `json:"suspended" validate:"required"`
	Reason    string `json:"reason" validate:"audit_reason"`
}

// GuestAccessRequest grants or extends guest access. Zero DurationHours uses
// the configured default. InstitutionID binds an institution in the same
// grant when the profile has none yet.
type GuestAccessRequest struct {
	DurationHours int    `json:"duration_hours" validate:"omitempty,min=1,max=2160"`
	InstitutionID string `json:"institution_id" validate:"omitempty,max=255"`
	Reason        string `json:"reason" validate:"audit_reason"`
}

type AssignInstitutionRequest struct {
	InstitutionID string `json:"institution_id" validate:"required,max=255"`
	Reason        string `json:"reason" validate:"audit_reason"`
}

// ReasonRequest carries only the free-text justification of a mutation
type ReasonRequest struct {
	Reason string `json:"reason" validate:"audit_reason"`
}

// AuditLogQuery filters the audit history
type AuditLogQuery struct {
	TargetUserID    string     `form:"target_user_id" json:"target_user_id" validate:"omitempty,max=255"`
	TargetUserEmail string     `form:"target_user_email" json:"target_user_email" validate:"omitempty,email"`
	ActorID         string     `form:"actor_id" json:"actor_id" validate:"omitempty,max=255"`
	Type            string     `form:"type" json:"type" validate:"omitempty,audit_event_type"`
	DateFrom        *time.Time `form:"date_from" json:"date_from" time_format:"2006-01-02T15:04:05Z07:00"`
	DateTo          *time.Time `form:"date_to" json:"date_to" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit           int        `form:"limit" json:"limit" validate:"omitempty,min=1,max=1000"`
	Offset          int        `form:"offset" json:"offset" validate:"omitempty,min=0"`
	SortOrder       string     `form:"sort_order" json:"sort_order" validate:"omitempty,oneof=asc desc"`
}
