// Package notify publishes sync events so read-side caches can invalidate
// documents that were just rewritten. Publishing is best-effort.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/alena-kono/ugc-service-2/internal/etl/content"
	"github.com/alena-kono/ugc-service-2/internal/etl/pipeline"
	"github.com/alena-kono/ugc-service-2/pkg/kafka"
	"github.com/alena-kono/ugc-service-2/pkg/logger"
)

const (
	EventBatchIndexed  = "batch_indexed"
	EventCycleComplete = "cycle_completed"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// BatchEvent is emitted after every successful bulk write.
type BatchEvent struct {
	Type    string    `json:"type"`
	CycleID string    `json:"cycle_id,omitempty"`
	Kind    string    `json:"kind"`
	Index   string    `json:"index"`
	IDs     []string  `json:"ids"`
	At      time.Time `json:"at"`
}

// CycleEvent is emitted once per persisted watermark.
type CycleEvent struct {
	Type       string         `json:"type"`
	CycleID    string         `json:"cycle_id"`
	Previous   time.Time      `json:"previous"`
	Watermark  time.Time      `json:"watermark"`
	Full       bool           `json:"full"`
	Rounds     int            `json:"rounds"`
	Documents  map[string]int `json:"documents"`
	Skipped    map[string]int `json:"skipped"`
	DurationMS int64          `json:"duration_ms"`
}

// Kafka sends events through a Publisher keyed by index name, so all events
// of one index land on one partition in order.
type Kafka struct {
	pub    Publisher
	now    func() time.Time
	logger *slog.Logger
}

func NewKafka(pub Publisher) *Kafka {
	return &Kafka{
		pub:    pub,
		now:    time.Now,
		logger: slog.Default().With("component", "notifier"),
	}
}

func (k *Kafka) BatchIndexed(ctx context.Context, kind content.Kind, index string, ids []string) {
	event := BatchEvent{
		Type:    EventBatchIndexed,
		CycleID: logger.CycleID(ctx),
		Kind:    string(kind),
		Index:   index,
		IDs:     ids,
		At:      k.now().UTC(),
	}
	if err := k.pub.Publish(ctx, kafka.Event{Key: index, Value: event}); err != nil {
		k.logger.Warn("batch event not published", "index", index, "documents", len(ids), "error", err)
	}
}

func (k *Kafka) CycleCompleted(ctx context.Context, s pipeline.Summary) {
	skipped := make(map[string]int, len(s.Skipped))
	for kind, n := range s.Skipped {
		skipped[string(kind)] = n
	}
	event := CycleEvent{
		Type:       EventCycleComplete,
		CycleID:    s.CycleID,
		Previous:   s.Previous,
		Watermark:  s.Watermark,
		Full:       s.Full,
		Rounds:     s.Rounds,
		Documents:  s.Documents,
		Skipped:    skipped,
		DurationMS: s.Duration.Milliseconds(),
	}
	if err := k.pub.Publish(ctx, kafka.Event{Key: "cycle", Value: event}); err != nil {
		k.logger.Warn("cycle event not published", "cycle_id", s.CycleID, "error", err)
	}
}

// Nop drops every event.
type Nop struct{}

func (Nop) BatchIndexed(context.Context, content.Kind, string, []string) {}

func (Nop) CycleCompleted(context.Context, pipeline.Summary) {}
