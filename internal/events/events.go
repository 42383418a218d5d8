// Package events publishes domain events for downstream consumers such as
// notification and reporting services.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	EventSource  = "access-control-service"
	EventVersion = "1.0"

	// AuditEntryAppended carries a persisted audit entry
	AuditEntryAppended = "audit.entry_appended"
)

type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Source    string      `json:"source"`
	Version   string      `json:"version"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

func NewEvent(eventType string, data interface{}) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    EventSource,
		Version:   EventVersion,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventPublisher delivers events at most once; callers treat failures as non-fatal
type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
	Close() error
}
