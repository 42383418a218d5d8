package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewEvent(t *testing.T) {
	event := NewEvent(AuditEntryAppended, map[string]string{"id": "e1"})

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, AuditEntryAppended, event.Type)
	assert.Equal(t, EventSource, event.Source)
	assert.Equal(t, EventVersion, event.Version)
	assert.Equal(t, time.UTC, event.Timestamp.Location())
	assert.NotEqual(t, event.ID, NewEvent(AuditEntryAppended, nil).ID)
}

func TestWatermillPublisher_InMemoryDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	publisher, channel := NewInMemoryPublisher("audit-test", discardLogger())
	defer publisher.Close()
	assert.Equal(t, "audit-test", publisher.Topic())

	messages, err := channel.Subscribe(ctx, "audit-test")
	require.NoError(t, err)

	event := NewEvent(AuditEntryAppended, map[string]string{"entry_id": "e1"})
	require.NoError(t, publisher.Publish(ctx, event))

	select {
	case msg := <-messages:
		assert.Equal(t, event.ID, msg.UUID)
		assert.Equal(t, AuditEntryAppended, msg.Metadata.Get("event_type"))
		assert.Equal(t, EventSource, msg.Metadata.Get("source"))

		var decoded Event
		require.NoError(t, json.Unmarshal(msg.Payload, &decoded))
		assert.Equal(t, event.ID, decoded.ID)
		assert.Equal(t, map[string]interface{}{"entry_id": "e1"}, decoded.Data)
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestWatermillPublisher_EncodeFailure(t *testing.T) {
	publisher, _ := NewInMemoryPublisher("audit-test", discardLogger())
	defer publisher.Close()

	err := publisher.Publish(context.Background(), NewEvent(AuditEntryAppended, make(chan int)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to encode event")
}

func TestWatermillPublisher_PublishAfterClose(t *testing.T) {
	publisher, _ := NewInMemoryPublisher("audit-test", discardLogger())
	require.NoError(t, publisher.Close())

	err := publisher.Publish(context.Background(), NewEvent(AuditEntryAppended, nil))
	assert.Error(t, err)
}

func TestMockEventPublisher(t *testing.T) {
	mock := NewMockEventPublisher(discardLogger())

	require.NoError(t, mock.Publish(context.Background(), NewEvent(AuditEntryAppended, nil)))
	require.Len(t, mock.GetPublishedEvents(), 1)

	mock.PublishErr = errors.New("broker down")
	assert.Error(t, mock.Publish(context.Background(), NewEvent(AuditEntryAppended, nil)))
	assert.Len(t, mock.GetPublishedEvents(), 1)

	mock.ClearEvents()
	assert.Empty(t, mock.GetPublishedEvents())
	assert.NoError(t, mock.Close())
}

// lockedBuffer lets the sink goroutine and the test share a log buffer
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStartLogSink(t *testing.T) {
	ctx := context.Background()
	out := &lockedBuffer{}
	logger := slog.New(slog.NewJSONHandler(out, nil))

	publisher, channel := NewInMemoryPublisher("audit-log", discardLogger())
	done, err := StartLogSink(ctx, channel, "audit-log", logger)
	require.NoError(t, err)

	event := NewEvent(AuditEntryAppended, map[string]string{"entry_id": "e42"})
	require.NoError(t, publisher.Publish(ctx, event))

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), event.ID)
	}, 2*time.Second, 10*time.Millisecond)
	logged := out.String()
	assert.Contains(t, logged, `"event_type":"audit.entry_appended"`)
	assert.Contains(t, logged, `"entry_id":"e42"`)

	require.NoError(t, publisher.Close())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("log sink did not stop after close")
	}
}
