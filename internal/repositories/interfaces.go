package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/SAP-F-2025/access-control-service/internal/models"
)

var (
	ErrNotFound                = errors.New("record not found")
	ErrSubscriptionUnavailable = errors.New("profile subscriptions are not available")
)

// IsNotFoundError reports whether err is (or wraps) ErrNotFound
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ===== SHARED FILTER STRUCTS =====

type ProfileFilters struct {
	Role          *models.UserRole `json:"role"`
	InstitutionID *string          `json:"institution_id"`
	Suspended     *bool            `json:"suspended"`
	Limit         int              `json:"limit"`
	Offset        int              `json:"offset"`
}

type AuditLogFilters struct {
	TargetUserID    *string                `json:"target_user_id"`
	TargetUserEmail *string                `json:"target_user_email"`
	ActorID         *string                `json:"actor_id"`
	Type            *models.AuditEventType `json:"type"`
	DateFrom        *time.Time             `json:"date_from"`
	DateTo          *time.Time             `json:"date_to"`
	Limit           int                    `json:"limit"`
	Offset          int                    `json:"offset"`
	SortOrder       string                 `json:"sort_order"` // "asc" (append order, default), "desc"
}

// ===== REPOSITORY INTERFACES =====

// ProfileRepository stores UserProfile documents keyed by subject id.
// Update is a per-document atomic read-modify-write; concurrent writers are
// last-writer-wins at the document level.
type ProfileRepository interface {
	Create(ctx context.Context, profile *models.UserProfile) error
	GetByID(ctx context.Context, id string) (*models.UserProfile, error)
	Update(ctx context.Context, id string, patch *models.ProfilePatch) (*models.UserProfile, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filters ProfileFilters) ([]*models.UserProfile, int64, error)

	// Subscribe delivers the current document and then every change to it.
	// A nil value means the profile was deleted. The channel closes when ctx ends.
	Subscribe(ctx context.Context, id string) (<-chan *models.UserProfile, error)
}

// AuditLogRepository is append-only: there is no update or delete.
type AuditLogRepository interface {
	// Append persists entry and sets entry.ServerTimestamp from the store
	Append(ctx context.Context, entry *models.AuditLogEntry) error
	GetByID(ctx context.Context, id string) (*models.AuditLogEntry, error)

	// List orders by ServerTimestamp, then CreatedAt, then ID
	List(ctx context.Context, filters AuditLogFilters) ([]*models.AuditLogEntry, int64, error)
}
