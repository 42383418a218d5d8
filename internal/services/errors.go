package services

import (
	"errors"
	"fmt"

	"github.com/SAP-F-2025/access-control-service/internal/transition"
)

var (
	ErrNotFound         = errors.New("resource not found")
	ErrProfileNotFound  = fmt.Errorf("profile %w", ErrNotFound)
	ErrValidationFailed = errors.New("validation failed")

	// ErrLiveUpdatesUnavailable means the store cannot push profile changes
	ErrLiveUpdatesUnavailable = errors.New("live access updates are not available")

	// Mutation rejections; nothing is written when these are returned
	ErrAdminImmutable          = errors.New("admin profiles cannot be changed through this operation")
	ErrNoChange                = errors.New("requested state equals the current state")
	ErrPermissionsNotSupported = errors.New("role does not support permission overrides")
	ErrNotGuest                = errors.New("profile is not a guest")
	ErrAlreadyGuest            = errors.New("profile is already a guest")

	// Role transition rejections
	ErrInvalidTransition  = transition.ErrInvalidTransition
	ErrMissingInstitution = transition.ErrMissingInstitution
	ErrRoleMismatch       = transition.ErrRoleMismatch
	ErrSameRole           = transition.ErrSameRole

	// ErrAuditWriteFailed means the profile write succeeded but its audit
	// record could not be stored. The profile change stands.
	ErrAuditWriteFailed = errors.New("audit write failed after profile update")

	// ErrMutationRolledBack means the audit record could not be stored inside
	// the transaction, so the profile write was rolled back as well.
	ErrMutationRolledBack = errors.New("audit write failed, profile update rolled back")
)
