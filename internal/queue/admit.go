package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/events"
)

// Request is one document to admit.
type Request struct {
	DocumentRef string
	Priority    constants.Priority
	Options     entity.EnqueueOptions
}

// BatchResult reports the outcome of one batch entry.
type BatchResult struct {
	DocumentRef string
	ID          uuid.UUID
	Err         error
}

// Enqueue admits a document and returns immediately. It fails with
// common.ErrAlreadyQueued when the document already has an active item.
func (q *Queue) Enqueue(ctx context.Context, documentRef string, priority constants.Priority, opts entity.EnqueueOptions) (uuid.UUID, error) {
	documentRef = strings.TrimSpace(documentRef)
	if documentRef == "" {
		return uuid.Nil, fmt.Errorf("%w: document ref is required", common.ErrInvalidInput)
	}
	if !priority.Valid() {
		return uuid.Nil, fmt.Errorf("%w: priority %s", common.ErrInvalidInput, priority)
	}
	if opts.MaxAttempts < 0 {
		return uuid.Nil, fmt.Errorf("%w: max attempts must not be negative", common.ErrInvalidInput)
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = q.cfg.MaxAttempts
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Warn("cannot enqueue: queue is shutting down", "document_ref", documentRef)
		return uuid.Nil, fmt.Errorf("%w: queue is shutting down", common.ErrInvalidState)
	}
	if id, ok := q.active[documentRef]; ok {
		q.mu.Unlock()
		return uuid.Nil, fmt.Errorf("%w: %s (queue id %s)", common.ErrAlreadyQueued, documentRef, id)
	}

	it := &entity.QueueItem{
		ID:                   uuid.New(),
		DocumentRef:          documentRef,
		Priority:             priority,
		Status:               constants.QueueStatusQueued,
		PreferredEngine:      opts.PreferredEngine,
		LanguageHints:        append([]string(nil), opts.LanguageHints...),
		EnableTableDetection: opts.EnableTableDetection,
		EnableFormDetection:  opts.EnableFormDetection,
		EnableEnhancement:    opts.EnableEnhancement,
		MaxAttempts:          maxAttempts,
		QueuedAt:             q.now().UTC(),
	}
	q.admitLocked(it)
	snap := q.touchLocked(it)
	q.broadcastLocked()
	q.mu.Unlock()

	q.persist(ctx, snap)
	q.pub.Publish(ctx, events.Event{
		Type:        constants.EventQueued,
		DocumentRef: snap.DocumentRef,
		QueueID:     snap.ID,
		OccurredAt:  snap.QueuedAt,
	})
	q.logger.Info("queued document for extraction",
		"queue_id", snap.ID,
		"document_ref", snap.DocumentRef,
		"priority", snap.Priority.String(),
	)
	return snap.ID, nil
}

// admitLocked registers a QUEUED item and places it in the ready or delayed heap.
func (q *Queue) admitLocked(it *entity.QueueItem) {
	q.seq++
	e := &entry{item: it, seq: q.seq, index: -1}
	q.items[it.ID] = it
	q.entries[it.ID] = e
	q.active[it.DocumentRef] = it.ID
	q.latest[it.DocumentRef] = it.ID
	q.scheduleLocked(e)
}

func (q *Queue) scheduleLocked(e *entry) {
	if e.item.NextRetryAt != nil && e.item.NextRetryAt.After(q.now()) {
		q.delayed.push(e)
		return
	}
	q.ready.push(e)
}

// EnqueueBatch admits each request independently; one failure does not stop
// the rest. Batches larger than MaxBatch are rejected whole.
func (q *Queue) EnqueueBatch(ctx context.Context, reqs []Request) ([]BatchResult, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: empty batch", common.ErrInvalidInput)
	}
	if len(reqs) > q.cfg.MaxBatch {
		return nil, fmt.Errorf("%w: batch of %d exceeds limit %d", common.ErrInvalidInput, len(reqs), q.cfg.MaxBatch)
	}
	out := make([]BatchResult, 0, len(reqs))
	for _, r := range reqs {
		id, err := q.Enqueue(ctx, r.DocumentRef, r.Priority, r.Options)
		out = append(out, BatchResult{DocumentRef: r.DocumentRef, ID: id, Err: err})
	}
	return out, nil
}

// Cancel succeeds only while the item is QUEUED, including items waiting for
// a retry window. Claimed items are not interrupted.
func (q *Queue) Cancel(ctx context.Context, id uuid.UUID) error {
	q.mu.Lock()
	it, ok := q.items[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: queue item %s", common.ErrNotFound, id)
	}
	if it.Status != constants.QueueStatusQueued {
		status := it.Status
		q.mu.Unlock()
		return fmt.Errorf("%w: cannot cancel item in status %s", common.ErrInvalidState, status)
	}
	if e, ok := q.entries[id]; ok {
		if !q.ready.remove(e) {
			q.delayed.remove(e)
		}
		delete(q.entries, id)
	}
	now := q.now().UTC()
	it.Status = constants.QueueStatusCancelled
	it.CompletedAt = &now
	it.NextRetryAt = nil
	delete(q.active, it.DocumentRef)
	snap := q.touchLocked(it)
	q.retireLocked(it)
	q.broadcastLocked()
	q.mu.Unlock()

	q.persist(ctx, snap)
	q.logger.Info("cancelled queue item", "queue_id", id, "document_ref", snap.DocumentRef)
	return nil
}

// Retry re-queues a FAILED item with its attempt count reset to zero.
func (q *Queue) Retry(ctx context.Context, id uuid.UUID) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("%w: queue is shutting down", common.ErrInvalidState)
	}
	it, ok := q.items[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: queue item %s", common.ErrNotFound, id)
	}
	if it.Status != constants.QueueStatusFailed {
		status := it.Status
		q.mu.Unlock()
		return fmt.Errorf("%w: only FAILED items can be retried, item is %s", common.ErrInvalidState, status)
	}
	if other, ok := q.active[it.DocumentRef]; ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s (queue id %s)", common.ErrAlreadyQueued, it.DocumentRef, other)
	}

	it.Status = constants.QueueStatusQueued
	it.AttemptCount = 0
	it.NextRetryAt = nil
	it.StartedAt = nil
	it.CompletedAt = nil
	it.QueuedAt = q.now().UTC()
	q.admitLocked(it)
	snap := q.touchLocked(it)
	q.broadcastLocked()
	q.mu.Unlock()

	q.persist(ctx, snap)
	q.pub.Publish(ctx, events.Event{
		Type:        constants.EventQueued,
		DocumentRef: snap.DocumentRef,
		QueueID:     snap.ID,
		OccurredAt:  snap.QueuedAt,
	})
	q.logger.Info("force-retried failed item", "queue_id", id, "document_ref", snap.DocumentRef)
	return nil
}
