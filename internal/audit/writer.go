// Package audit appends immutable records of authorization-relevant
// mutations and renders them for display and export.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/SAP-F-2025/access-control-service/internal/events"
	"github.com/SAP-F-2025/access-control-service/internal/models"
)

var ErrInvalidEntry = errors.New("invalid audit entry")

// Store is the append-only sink. It has no update or delete by construction.
type Store interface {
	Append(ctx context.Context, entry *models.AuditLogEntry) error
}

type Writer struct {
	store     Store
	publisher events.EventPublisher
	logger    *slog.Logger
	clock     func() time.Time
	newID     func() string
}

type Option func(*Writer)

func WithClock(clock func() time.Time) Option {
	return func(w *Writer) {
		if clock != nil {
			w.clock = clock
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(w *Writer) {
		if newID != nil {
			w.newID = newID
		}
	}
}

// NewWriter builds a writer. publisher may be nil when no event fan-out is wired.
func NewWriter(store Store, publisher events.EventPublisher, logger *slog.Logger, opts ...Option) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Writer{
		store:     store,
		publisher: publisher,
		logger:    logger,
		clock:     time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WithStore returns a copy bound to another store, typically a transaction-scoped one
func (w *Writer) WithStore(store Store) *Writer {
	copied := *w
	copied.store = store
	return &copied
}

// Append records entry and then publishes it. It returns the assigned id.
func (w *Writer) Append(ctx context.Context, entry *models.AuditLogEntry) (string, error) {
	if err := w.Record(ctx, entry); err != nil {
		return "", err
	}
	w.Publish(ctx, entry)
	return entry.ID, nil
}

// Record validates and persists entry, filling ID, CreatedAt and Reason when
// unset. The store assigns ServerTimestamp. Store failures are returned.
func (w *Writer) Record(ctx context.Context, entry *models.AuditLogEntry) error {
	if err := Validate(entry); err != nil {
		return err
	}

	entry.ID = w.newID()
	entry.CreatedAt = w.clock().UTC()
	if strings.TrimSpace(entry.Reason) == "" {
		entry.Reason = Describe(entry)
	}

	if err := w.store.Append(ctx, entry); err != nil {
		return fmt.Errorf("append %s audit entry: %w", entry.Type, err)
	}

	w.logger.Info("Audit entry appended",
		"audit_id", entry.ID,
		"type", entry.Type,
		"actor_id", entry.ActorID,
		"target_user_id", entry.TargetUserID)
	return nil
}

// Publish fans recorded entries out as domain events. Failures are logged only.
func (w *Writer) Publish(ctx context.Context, entries ...*models.AuditLogEntry) {
	if w.publisher == nil {
		return
	}
	for _, entry := range entries {
		snapshot := *entry
		if err := w.publisher.Publish(ctx, events.NewEvent(events.AuditEntryAppended, &snapshot)); err != nil {
			w.logger.Warn("Failed to publish audit event", "error", err, "audit_id", entry.ID)
		}
	}
}

// Validate checks that entry is fully populated for its type
func Validate(entry *models.AuditLogEntry) error {
	if entry == nil {
		return fmt.Errorf("%w: entry is nil", ErrInvalidEntry)
	}
	if !entry.Type.IsValid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEntry, entry.Type)
	}
	if strings.TrimSpace(entry.ActorID) == "" {
		return fmt.Errorf("%w: actor id is required", ErrInvalidEntry)
	}
	if strings.TrimSpace(entry.TargetUserID) == "" {
		return fmt.Errorf("%w: target user id is required", ErrInvalidEntry)
	}

	switch entry.Type {
	case models.AuditRoleChange:
		if entry.OldRole == nil || entry.NewRole == nil {
			return fmt.Errorf("%w: role change needs old and new role", ErrInvalidEntry)
		}
	case models.AuditPermissionChange:
		if entry.NewPermissions == nil {
			return fmt.Errorf("%w: permission change needs the new permission map", ErrInvalidEntry)
		}
	case models.AuditUserSuspended, models.AuditUserUnsuspended:
		want := entry.Type == models.AuditUserSuspended
		if entry.Suspended == nil {
			entry.Suspended = models.BoolPtr(want)
		} else if *entry.Suspended != want {
			return fmt.Errorf("%w: suspended flag contradicts %s", ErrInvalidEntry, entry.Type)
		}
	case models.AuditInstitutionAssigned:
		if entry.InstitutionID == nil || *entry.InstitutionID == "" {
			return fmt.Errorf("%w: institution assignment needs an institution id", ErrInvalidEntry)
		}
	case models.AuditGuestAccessCreated, models.AuditGuestAccessExtended:
		if _, ok := entry.Metadata[models.MetaNewExpiry]; !ok {
			return fmt.Errorf("%w: %s needs %s metadata", ErrInvalidEntry, entry.Type, models.MetaNewExpiry)
		}
	}
	return nil
}
