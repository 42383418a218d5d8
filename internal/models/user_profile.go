package models

import (
	"time"
)

// UserProfile is the authorization-relevant projection of an account
type UserProfile struct {
	ID    string   `json:"id" gorm:"primaryKey;size:255"`
	Email string   `json:"email" gorm:"index;not null;size:255"`
	Role  UserRole `json:"role" gorm:"type:varchar(32);not null;index"`

	// Only partner instructors and guests carry a map; nil means role defaults apply
	Permissions   PermissionMap `json:"permissions" gorm:"type:jsonb"`
	InstitutionID *string       `json:"institution_id,omitempty" gorm:"size:255;index"`

	// Status
	Suspended         bool       `json:"suspended" gorm:"not null;default:false"`
	GuestAccessExpiry *time.Time `json:"guest_access_expiry,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (UserProfile) TableName() string {
	return "user_profiles"
}

// HasInstitution reports whether a non-empty institution is bound
func (p *UserProfile) HasInstitution() bool {
	return p != nil && p.InstitutionID != nil && *p.InstitutionID != ""
}

// Clone returns a deep copy so snapshots handed to callers cannot be mutated in place
func (p *UserProfile) Clone() *UserProfile {
	if p == nil {
		return nil
	}
	out := *p
	out.Permissions = p.Permissions.Clone()
	if p.InstitutionID != nil {
		id := *p.InstitutionID
		out.InstitutionID = &id
	}
	if p.GuestAccessExpiry != nil {
		expiry := *p.GuestAccessExpiry
		out.GuestAccessExpiry = &expiry
	}
	return &out
}

// ProfilePatch is a partial update. Pointer fields left nil are untouched;
// the Clear flags null a field out.
type ProfilePatch struct {
	Role              *UserRole
	Permissions       PermissionMap
	ClearPermissions  bool
	InstitutionID     *string
	ClearInstitution  bool
	Suspended         *bool
	GuestAccessExpiry *time.Time
	ClearGuestExpiry  bool
	UpdatedAt         time.Time
}

func (pp *ProfilePatch) SetRole(role UserRole) {
	pp.Role = &role
}

func (pp *ProfilePatch) SetPermissions(perms PermissionMap) {
	pp.Permissions = perms.Clone()
	pp.ClearPermissions = false
}

func (pp *ProfilePatch) UnsetPermissions() {
	pp.Permissions = nil
	pp.ClearPermissions = true
}

func (pp *ProfilePatch) SetInstitution(id string) {
	pp.InstitutionID = &id
	pp.ClearInstitution = false
}

func (pp *ProfilePatch) UnsetInstitution() {
	pp.InstitutionID = nil
	pp.ClearInstitution = true
}

func (pp *ProfilePatch) SetGuestExpiry(t time.Time) {
	pp.GuestAccessExpiry = &t
	pp.ClearGuestExpiry = false
}

func (pp *ProfilePatch) UnsetGuestExpiry() {
	pp.GuestAccessExpiry = nil
	pp.ClearGuestExpiry = true
}

func (pp *ProfilePatch) SetSuspended(suspended bool) {
	pp.Suspended = &suspended
}

// SetsPermissions reports whether the patch installs a fresh permission map
func (pp *ProfilePatch) SetsPermissions() bool {
	return pp.Permissions != nil
}

// Apply writes the patch onto p in place
func (pp *ProfilePatch) Apply(p *UserProfile) {
	if pp.Role != nil {
		p.Role = *pp.Role
	}
	if pp.Permissions != nil {
		p.Permissions = pp.Permissions.Clone()
	} else if pp.ClearPermissions {
		p.Permissions = nil
	}
	if pp.InstitutionID != nil {
		id := *pp.InstitutionID
		p.InstitutionID = &id
	} else if pp.ClearInstitution {
		p.InstitutionID = nil
	}
	if pp.Suspended != nil {
		p.Suspended = *pp.Suspended
	}
	if pp.GuestAccessExpiry != nil {
		expiry := *pp.GuestAccessExpiry
		p.GuestAccessExpiry = &expiry
	} else if pp.ClearGuestExpiry {
		p.GuestAccessExpiry = nil
	}
	if !pp.UpdatedAt.IsZero() {
		p.UpdatedAt = pp.UpdatedAt
	}
}

// Columns renders the patch as a column map for a single UPDATE statement
func (pp *ProfilePatch) Columns() map[string]interface{} {
	cols := make(map[string]interface{})
	if pp.Role != nil {
		cols["role"] = *pp.Role
	}
	if pp.Permissions != nil {
		cols["permissions"] = pp.Permissions
	} else if pp.ClearPermissions {
		cols["permissions"] = nil
	}
	if pp.InstitutionID != nil {
		cols["institution_id"] = *pp.InstitutionID
	} else if pp.ClearInstitution {
		cols["institution_id"] = nil
	}
	if pp.Suspended != nil {
		cols["suspended"] = *pp.Suspended
	}
	if pp.GuestAccessExpiry != nil {
		cols["guest_access_expiry"] = *pp.GuestAccessExpiry
	} else if pp.ClearGuestExpiry {
		cols["guest_access_expiry"] = nil
	}
	if !pp.UpdatedAt.IsZero() {
		cols["updated_at"] = pp.UpdatedAt
	}
	return cols
}

// IsEmpty reports whether the patch changes nothing besides the timestamp
func (pp *ProfilePatch) IsEmpty() bool {
	return pp.Role == nil && pp.Permissions == nil && !pp.ClearPermissions &&
		pp.InstitutionID == nil && !pp.ClearInstitution && pp.Suspended == nil &&
		pp.GuestAccessExpiry == nil && !pp.ClearGuestExpiry
}
