package models

import (
	"time"

	"gorm.io/datatypes"
)

type AuditEventType string

const (
	AuditRoleChange          AuditEventType = "ROLE_CHANGE"
	AuditPermissionChange    AuditEventType = "PERMISSION_CHANGE"
	AuditUserSuspended       AuditEventType = "USER_SUSPENDED"
	AuditUserUnsuspended     AuditEventType = "USER_UNSUSPENDED"
	AuditInstitutionAssigned AuditEventType = "INSTITUTION_ASSIGNED"
	AuditInstitutionRemoved  AuditEventType = "INSTITUTION_REMOVED"
	AuditGuestAccessCreated  AuditEventType = "GUEST_ACCESS_CREATED"
	AuditGuestAccessExtended AuditEventType = "GUEST_ACCESS_EXTENDED"
	AuditGuestAccessRevoked  AuditEventType = "GUEST_ACCESS_REVOKED"
	AuditUserDeleted         AuditEventType = "USER_DELETED"
)

var auditEventTypes = []AuditEventType{
	AuditRoleChange,
	AuditPermissionChange,
	AuditUserSuspended,
	AuditUserUnsuspended,
	AuditInstitutionAssigned,
	AuditInstitutionRemoved,
	AuditGuestAccessCreated,
	AuditGuestAccessExtended,
	AuditGuestAccessRevoked,
	AuditUserDeleted,
}

func AllAuditEventTypes() []AuditEventType {
	out := make([]AuditEventType, len(auditEventTypes))
	copy(out, auditEventTypes)
	return out
}

func (t AuditEventType) IsValid() bool {
	for _, known := range auditEventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Metadata keys used by guest access entries
const (
	MetaOldExpiry     = "old_expiry"
	MetaNewExpiry     = "new_expiry"
	MetaDurationHours = "duration_hours"
	MetaPreviousRole  = "previous_role"
	MetaDeletedRole   = "deleted_role"
)

// AuditLogEntry is one immutable record of an authorization-relevant mutation.
// Rows are inserted once and never updated or deleted.
type AuditLogEntry struct {
	ID   string         `json:"id" gorm:"primaryKey;size:36"`
	Type AuditEventType `json:"type" gorm:"size:40;not null;index"`

	// Actor
	ActorID    string `json:"actor_id" gorm:"size:255;not null;index"`
	ActorEmail string `json:"actor_email" gorm:"size:255"`

	// Target (kept as plain values so history outlives the profile)
	TargetUserID    string `json:"target_user_id" gorm:"size:255;not null;index"`
	TargetUserEmail string `json:"target_user_email" gorm:"size:255;index"`

	// Type-specific payload
	OldRole               *UserRole         `json:"old_role,omitempty" gorm:"type:varchar(32)"`
	NewRole               *UserRole         `json:"new_role,omitempty" gorm:"type:varchar(32)"`
	OldPermissions        PermissionMap     `json:"old_permissions" gorm:"type:jsonb"`
	NewPermissions        PermissionMap     `json:"new_permissions" gorm:"type:jsonb"`
	Suspended             *bool             `json:"suspended,omitempty"`
	InstitutionID         *string           `json:"institution_id,omitempty" gorm:"size:255"`
	PreviousInstitutionID *string           `json:"previous_institution_id,omitempty" gorm:"size:255"`
	Metadata              datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`

	Reason string `json:"reason" gorm:"type:text"`

	// CreatedAt is captured by the writer; ServerTimestamp is assigned by the store
	CreatedAt       time.Time `json:"created_at" gorm:"not null"`
	ServerTimestamp time.Time `json:"server_timestamp" gorm:"not null;default:now();index"`
}

func (AuditLogEntry) TableName() string {
	return "audit_logs"
}

// Clone returns a deep copy so stored history never shares maps or pointers
// with callers
func (e *AuditLogEntry) Clone() *AuditLogEntry {
	if e == nil {
		return nil
	}
	c := *e
	c.OldRole = copyPtr(e.OldRole)
	c.NewRole = copyPtr(e.NewRole)
	c.Suspended = copyPtr(e.Suspended)
	c.InstitutionID = copyPtr(e.InstitutionID)
	c.PreviousInstitutionID = copyPtr(e.PreviousInstitutionID)
	c.OldPermissions = e.OldPermissions.Clone()
	c.NewPermissions = e.NewPermissions.Clone()
	if e.Metadata != nil {
		c.Metadata = make(datatypes.JSONMap, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Actor identifies who performed a mutation
type Actor struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func RolePtr(r UserRole) *UserRole {
	return &r
}

func BoolPtr(b bool) *bool {
	return &b
}

func StringPtr(s string) *string {
	return &s
}
