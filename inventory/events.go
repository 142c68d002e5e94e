package inventory

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// =============================================================================
// EVENTS - Fire-and-forget notifications after a unit of work commits
// =============================================================================

type EventType string

const (
	EventTransactionRecorded EventType = "inventory.transaction.recorded"
	EventStockMoved          EventType = "inventory.stock.moved"
	EventOperationStarted    EventType = "process.operation.started"
	EventOperationCompleted  EventType = "process.operation.completed"
	EventOperationCancelled  EventType = "process.operation.cancelled"
	EventSafetyStockBreached EventType = "inventory.stock.below_safety"
	EventStockDrift          EventType = "inventory.stock.drift"
)

// Event is published once per committed fact. Sinks must not block.
type Event struct {
	ID         string
	Type       EventType
	OccurredAt time.Time
	Key        string // partition key, usually the item or operation id
	Payload    any
}

// EventSink receives events. Publish never fails the caller.
type EventSink interface {
	Publish(ctx context.Context, e Event)
}

type nopSink struct{}

func (nopSink) Publish(context.Context, Event) {}

// NopSink discards events.
var NopSink EventSink = nopSink{}

func newEvent(t EventType, key string, payload any, at time.Time) Event {
	return Event{ID: uuid.NewString(), Type: t, OccurredAt: at, Key: key, Payload: payload}
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
