package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

// Journal persists item snapshots. SaveItem must ignore a snapshot whose
// Version is not newer than the stored one; writes happen outside the queue
// lock and may arrive out of order.
type Journal interface {
	SaveItem(ctx context.Context, item entity.QueueItem) error
	LoadActive(ctx context.Context) ([]entity.QueueItem, error)
}

type nopJournal struct{}

func (nopJournal) SaveItem(context.Context, entity.QueueItem) error { return nil }
func (nopJournal) LoadActive(context.Context) ([]entity.QueueItem, error) {
	return nil, nil
}

// MemoryJournal keeps the latest snapshot per item in memory.
type MemoryJournal struct {
	mu    sync.Mutex
	items map[uuid.UUID]entity.QueueItem
	// History holds every accepted snapshot in arrival order.
	history []entity.QueueItem
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{items: map[uuid.UUID]entity.QueueItem{}}
}

func (j *MemoryJournal) SaveItem(_ context.Context, item entity.QueueItem) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if cur, ok := j.items[item.ID]; ok && cur.Version >= item.Version {
		return nil
	}
	j.items[item.ID] = item.Clone()
	j.history = append(j.history, item.Clone())
	return nil
}

func (j *MemoryJournal) LoadActive(_ context.Context) ([]entity.QueueItem, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []entity.QueueItem
	for _, it := range j.items {
		if it.Status.Active() {
			out = append(out, it.Clone())
		}
	}
	return out, nil
}

// Item returns the latest snapshot for id.
func (j *MemoryJournal) Item(id uuid.UUID) (entity.QueueItem, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	it, ok := j.items[id]
	return it.Clone(), ok
}

// History returns the accepted snapshots for id in version order.
func (j *MemoryJournal) History(id uuid.UUID) []entity.QueueItem {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []entity.QueueItem
	for _, it := range j.history {
		if it.ID == id {
			out = append(out, it.Clone())
		}
	}
	return out
}

// Restore reloads QUEUED and PROCESSING items from the journal. Items that
// were PROCESSING when the previous process stopped go back to QUEUED with
// their attempt count unchanged. Call before Start.
func (q *Queue) Restore(ctx context.Context) (int, error) {
	items, err := q.journal.LoadActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("load active queue items: %w", err)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].QueuedAt.Equal(items[j].QueuedAt) {
			return items[i].QueuedAt.Before(items[j].QueuedAt)
		}
		return items[i].ID.String() < items[j].ID.String()
	})

	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return 0, fmt.Errorf("restore after start")
	}
	var snaps []entity.QueueItem
	for i := range items {
		it := items[i].Clone()
		if _, dup := q.active[it.DocumentRef]; dup {
			q.logger.Warn("skipping duplicate active item on restore", "queue_id", it.ID, "document_ref", it.DocumentRef)
			continue
		}
		if _, known := q.items[it.ID]; known {
			continue
		}
		if it.MaxAttempts <= 0 {
			it.MaxAttempts = q.cfg.MaxAttempts
		}
		if it.Status == constants.QueueStatusProcessing {
			it.Status = constants.QueueStatusQueued
			it.StartedAt = nil
			snaps = append(snaps, q.touchLocked(&it))
		}
		q.admitLocked(&it)
	}
	n := len(q.active)
	q.broadcastLocked()
	q.mu.Unlock()

	for _, s := range snaps {
		q.persist(ctx, s)
	}
	q.logger.Info("restored queue items", "count", n, "requeued_in_flight", len(snaps))
	return n, nil
}
