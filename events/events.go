/*
Package events delivers engine events to the outside world.

SINKS:
  LogSink:    writes one structured logrus entry per event
  KafkaSink:  publishes JSON envelopes to a Kafka topic, keyed by Event.Key
              so all events of one item or operation land on one partition
  Multi:      fans an event out to several sinks

Every sink honours inventory.EventSink: Publish never blocks the unit of
work that produced the event and never reports failure to it. Delivery
failures are logged.
*/
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/warp/inventory-engine/inventory"
)

// =============================================================================
// LOG SINK
// =============================================================================

type LogSink struct {
	Log logrus.FieldLogger
}

var _ inventory.EventSink = (*LogSink)(nil)

func NewLogSink(log logrus.FieldLogger) *LogSink {
	return &LogSink{Log: log}
}

func (s *LogSink) Publish(_ context.Context, e inventory.Event) {
	entry := s.Log.WithFields(logrus.Fields{
		"event_id":   e.ID,
		"event_type": e.Type,
		"key":        e.Key,
	})
	if e.Type == inventory.EventStockDrift || e.Type == inventory.EventSafetyStockBreached {
		entry.Warn("inventory event")
		return
	}
	entry.Info("inventory event")
}

// =============================================================================
// KAFKA SINK
// =============================================================================

// Envelope is the wire format of a published event.
type Envelope struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Key        string    `json:"key"`
	Payload    any       `json:"payload"`
}

// MessageWriter is the subset of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaConfig struct {
	Brokers []string
	Topic   string

	// BatchTimeout bounds how long the async writer holds a partial batch.
	BatchTimeout time.Duration
}

type KafkaSink struct {
	writer MessageWriter
	log    logrus.FieldLogger
}

var _ inventory.EventSink = (*KafkaSink)(nil)

// NewKafkaSink builds an async writer. Messages with the same key go to the
// same partition (kafka.Hash), which keeps per-item ordering.
func NewKafkaSink(cfg KafkaConfig, log logrus.FieldLogger) *KafkaSink {
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           cfg.BatchTimeout,
		Async:                  true,
		AllowAutoTopicCreation: true,
	}
	w.Completion = func(msgs []kafka.Message, err error) {
		if err != nil {
			log.WithError(err).WithField("messages", len(msgs)).Error("kafka event delivery failed")
		}
	}
	return NewKafkaSinkWithWriter(w, log)
}

// NewKafkaSinkWithWriter wraps an existing writer.
func NewKafkaSinkWithWriter(w MessageWriter, log logrus.FieldLogger) *KafkaSink {
	return &KafkaSink{writer: w, log: log}
}

func (s *KafkaSink) Publish(ctx context.Context, e inventory.Event) {
	value, err := json.Marshal(Envelope{
		ID:         e.ID,
		Type:       string(e.Type),
		OccurredAt: e.OccurredAt.UTC(),
		Key:        e.Key,
		Payload:    e.Payload,
	})
	if err != nil {
		s.log.WithError(err).WithField("event_type", e.Type).Error("encode event")
		return
	}
	msg := kafka.Message{
		Key:   []byte(e.Key),
		Value: value,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	}
	// The request context may end right after the response is written.
	if err := s.writer.WriteMessages(context.WithoutCancel(ctx), msg); err != nil {
		s.log.WithError(err).WithField("event_type", e.Type).Error("publish event")
	}
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// =============================================================================
// FAN-OUT
// =============================================================================

type Multi []inventory.EventSink

var _ inventory.EventSink = Multi(nil)

func (m Multi) Publish(ctx context.Context, e inventory.Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(ctx, e)
		}
	}
}

// Recorder keeps every published event in memory. Used by tests.
type Recorder struct {
	ch chan inventory.Event
}

func NewRecorder(capacity int) *Recorder {
	return &Recorder{ch: make(chan inventory.Event, capacity)}
}

func (r *Recorder) Publish(_ context.Context, e inventory.Event) {
	select {
	case r.ch <- e:
	default:
	}
}

// Events drains what has been recorded so far.
func (r *Recorder) Events() []inventory.Event {
	var out []inventory.Event
	for {
		select {
		case e := <-r.ch:
			out = append(out, e)
		default:
			return out
		}
	}
}
