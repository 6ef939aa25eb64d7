package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docextract/constants"
)

// EnqueueOptions are the per-document processing flags supplied by the caller.
type EnqueueOptions struct {
	PreferredEngine      constants.EngineID `json:"preferred_engine,omitempty"`
	LanguageHints        []string           `json:"language_hints,omitempty"`
	EnableTableDetection bool               `json:"enable_table_detection"`
	EnableFormDetection  bool               `json:"enable_form_detection"`
	EnableEnhancement    bool               `json:"enable_enhancement"`
	MaxAttempts          int                `json:"max_attempts,omitempty"` // 0 = queue default
}

// QueueItem represents one document awaiting or undergoing extraction.
type QueueItem struct {
	ID                   uuid.UUID             `json:"id"`
	DocumentRef          string                `json:"document_ref"`
	Priority             constants.Priority    `json:"priority"`
	Status               constants.QueueStatus `json:"status"`
	PreferredEngine      constants.EngineID    `json:"preferred_engine,omitempty"`
	LanguageHints        []string              `json:"language_hints,omitempty"`
	EnableTableDetection bool                  `json:"enable_table_detection"`
	EnableFormDetection  bool                  `json:"enable_form_detection"`
	EnableEnhancement    bool                  `json:"enable_enhancement"`
	AttemptCount         int                   `json:"attempt_count"`
	MaxAttempts          int                   `json:"max_attempts"`
	LastError            *string               `json:"last_error,omitempty"`
	NextRetryAt          *time.Time            `json:"next_retry_at,omitempty"`
	QueuedAt             time.Time             `json:"queued_at"`
	StartedAt            *time.Time            `json:"started_at,omitempty"`
	CompletedAt          *time.Time            `json:"completed_at,omitempty"`
	// Version increases on every transition; stores drop stale snapshots.
	Version int64 `json:"version"`
}

// Options returns the processing flags carried by the item.
func (q *QueueItem) Options() EnqueueOptions {
	return EnqueueOptions{
		PreferredEngine:      q.PreferredEngine,
		LanguageHints:        append([]string(nil), q.LanguageHints...),
		EnableTableDetection: q.EnableTableDetection,
		EnableFormDetection:  q.EnableFormDetection,
		EnableEnhancement:    q.EnableEnhancement,
		MaxAttempts:          q.MaxAttempts,
	}
}

// Clone returns a deep copy safe to hand outside the queue lock.
func (q *QueueItem) Clone() QueueItem {
	c := *q
	c.LanguageHints = append([]string(nil), q.LanguageHints...)
	c.LastError = cloneString(q.LastError)
	c.NextRetryAt = cloneTime(q.NextRetryAt)
	c.StartedAt = cloneTime(q.StartedAt)
	c.CompletedAt = cloneTime(q.CompletedAt)
	return c
}

// QueueItemView is a QueueItem plus its computed place in line.
type QueueItemView struct {
	QueueItem
	Position        int   `json:"position"`
	EstimatedWaitMs int64 `json:"estimated_wait_ms"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
