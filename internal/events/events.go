// Package events carries queue lifecycle notifications to collaborators
// (audit log, dashboards). Publishing never fails the pipeline.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docextract/constants"
)

// Event is one lifecycle notification. Engine and Confidence are set on
// completion and fallback; Error is set on failure and fallback.
type Event struct {
	Type        constants.EventType `json:"type"`
	DocumentRef string              `json:"document_ref"`
	QueueID     uuid.UUID           `json:"queue_id"`
	OccurredAt  time.Time           `json:"occurred_at"`
	Attempt     int                 `json:"attempt,omitempty"`
	Engine      constants.EngineID  `json:"engine,omitempty"`
	Confidence  *float64            `json:"confidence,omitempty"`
	Error       string              `json:"error,omitempty"`
	// NextRetryAt is set on a failure that was rescheduled.
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) {}

// LogPublisher writes events as structured log records.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, e Event) {
	attrs := []any{
		"event", string(e.Type),
		"document_ref", e.DocumentRef,
		"queue_id", e.QueueID,
		"occurred_at", e.OccurredAt,
	}
	if e.Attempt > 0 {
		attrs = append(attrs, "attempt", e.Attempt)
	}
	if e.Engine != "" {
		attrs = append(attrs, "engine", e.Engine)
	}
	if e.Confidence != nil {
		attrs = append(attrs, "confidence", *e.Confidence)
	}
	if e.NextRetryAt != nil {
		attrs = append(attrs, "next_retry_at", *e.NextRetryAt)
	}
	level := slog.LevelInfo
	if e.Error != "" {
		attrs = append(attrs, "error", e.Error)
		if e.Type == constants.EventProcessingFailed {
			level = slog.LevelWarn
		}
	}
	p.logger.Log(ctx, level, "ocr.event", attrs...)
}

// Multi fans an event out to every publisher in order.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, e)
		}
	}
}

// Recorder keeps events in memory. Used by tests and the one-shot CLI.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType filters recorded events by type.
func (r *Recorder) OfType(t constants.EventType) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
