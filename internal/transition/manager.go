// Package transition computes the field-level effects of a role change.
// It never writes; callers apply the returned patch.
package transition

import (
	"errors"
	"fmt"
	"time"

	"github.com/SAP-F-2025/access-control-service/internal/authz"
	"github.com/SAP-F-2025/access-control-service/internal/guestaccess"
	"github.com/SAP-F-2025/access-control-service/internal/models"
)

var (
	ErrInvalidTransition  = errors.New("invalid role transition")
	ErrMissingInstitution = errors.New("institution is required for this role")
	ErrRoleMismatch       = errors.New("current role does not match the expected role")
	ErrSameRole           = errors.New("profile already has the requested role")
)

// Plan is the outcome of a validated transition
type Plan struct {
	Patch models.ProfilePatch

	OldRole               models.UserRole
	NewRole               models.UserRole
	OldPermissions        models.PermissionMap
	NewPermissions        models.PermissionMap
	PreviousInstitutionID *string

	// Audit entries the caller owes once the patch is written, in order
	Events []models.AuditEventType
}

// BootstrapsPermissions reports whether the plan installs a fresh bundle
func (p *Plan) BootstrapsPermissions() bool {
	return p.Patch.SetsPermissions()
}

type Manager struct {
	calculator *guestaccess.Calculator
}

func NewManager(calculator *guestaccess.Calculator) *Manager {
	if calculator == nil {
		calculator = guestaccess.NewCalculator(guestaccess.DefaultDurationHours, nil)
	}
	return &Manager{calculator: calculator}
}

// Plan validates from -> to for profile and computes the patch
func (m *Manager) Plan(profile *models.UserProfile, from, to models.UserRole, now time.Time) (*Plan, error) {
	if !authz.IsValidRoleChange(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if profile == nil {
		return nil, fmt.Errorf("%w: no profile", ErrInvalidTransition)
	}
	if profile.Role != from {
		return nil, fmt.Errorf("%w: expected %s, found %s", ErrRoleMismatch, from, profile.Role)
	}
	if from == to {
		return nil, fmt.Errorf("%w: %s", ErrSameRole, to)
	}

	plan := &Plan{
		OldRole:        from,
		NewRole:        to,
		OldPermissions: profile.Permissions.Clone(),
	}
	if profile.InstitutionID != nil {
		id := *profile.InstitutionID
		plan.PreviousInstitutionID = &id
	}
	patch := &plan.Patch
	patch.SetRole(to)
	patch.UpdatedAt = now

	// Entering or leaving guest
	if to == models.RoleGuest {
		if !profile.HasInstitution() {
			return nil, ErrMissingInstitution
		}
		patch.SetGuestExpiry(m.calculator.CalculateExpiry(now, 0))
		patch.SetPermissions(models.GuestBootstrap())
	} else if from == models.RoleGuest {
		patch.UnsetGuestExpiry()
		patch.UnsetPermissions()
	}

	// Entering or leaving partner instructor; the institution is optional here
	if to == models.RolePartnerInstructor {
		patch.SetPermissions(models.PartnerInstructorBootstrap())
	} else if from == models.RolePartnerInstructor {
		if !patch.SetsPermissions() {
			patch.UnsetPermissions()
		}
		if !to.RequiresInstitution() {
			patch.UnsetInstitution()
		}
	}

	// Roles without overrides never keep a leftover map or expiry
	if !to.SupportsPermissionOverrides() {
		if profile.Permissions != nil && !patch.ClearPermissions {
			patch.UnsetPermissions()
		}
		if profile.GuestAccessExpiry != nil && !patch.ClearGuestExpiry {
			patch.UnsetGuestExpiry()
		}
	}

	plan.Events = []models.AuditEventType{models.AuditRoleChange}
	if patch.SetsPermissions() {
		plan.NewPermissions = patch.Permissions.Clone()
		plan.Events = append(plan.Events, models.AuditPermissionChange)
	}

	return plan, nil
}
