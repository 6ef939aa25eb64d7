package queue

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

// Stats is a point-in-time summary of the queue.
type Stats struct {
	Workers         int                           `json:"workers"`
	Running         int                           `json:"running"`
	Ready           int                           `json:"ready"`
	Delayed         int                           `json:"delayed"`
	ByStatus        map[constants.QueueStatus]int `json:"by_status"`
	AvgProcessingMs int64                         `json:"avg_processing_ms"`
	Samples         int                           `json:"samples"`
}

// Status returns the most recent item for documentRef with its position and
// estimated wait.
func (q *Queue) Status(documentRef string) (entity.QueueItemView, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	id, ok := q.latest[documentRef]
	if !ok {
		return entity.QueueItemView{}, fmt.Errorf("%w: no queue item for %s", common.ErrNotFound, documentRef)
	}
	return q.viewLocked(q.items[id]), nil
}

// Get returns the item by id with its position and estimated wait.
func (q *Queue) Get(id uuid.UUID) (entity.QueueItemView, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.items[id]
	if !ok {
		return entity.QueueItemView{}, fmt.Errorf("%w: queue item %s", common.ErrNotFound, id)
	}
	return q.viewLocked(it), nil
}

func (q *Queue) viewLocked(it *entity.QueueItem) entity.QueueItemView {
	v := entity.QueueItemView{QueueItem: it.Clone()}
	if it.Status != constants.QueueStatusQueued {
		return v
	}
	e, ok := q.entries[it.ID]
	if !ok {
		return v
	}
	v.Position = q.positionLocked(e)
	v.EstimatedWaitMs = int64(v.Position) * q.averageLocked().Milliseconds()
	return v
}

// positionLocked counts QUEUED items ahead of e in dispatch order. Items
// waiting for a retry window count too.
func (q *Queue) positionLocked(e *entry) int {
	n := 0
	for _, h := range []*entryHeap{q.ready, q.delayed} {
		for _, other := range h.entries {
			if other != e && dispatchLess(other, e) {
				n++
			}
		}
	}
	return n
}

func (q *Queue) recordLocked(d time.Duration) {
	q.samples = append(q.samples, d)
	if len(q.samples) > durationWindow {
		q.samples = q.samples[len(q.samples)-durationWindow:]
	}
}

func (q *Queue) averageLocked() time.Duration {
	if len(q.samples) == 0 {
		return defaultEstimate
	}
	var sum time.Duration
	for _, d := range q.samples {
		sum += d
	}
	return sum / time.Duration(len(q.samples))
}

// Stats reports counts by status and the rolling processing average.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	by := map[constants.QueueStatus]int{}
	for _, it := range q.items {
		by[it.Status]++
	}
	return Stats{
		Workers:         q.cfg.Workers,
		Running:         q.running,
		Ready:           q.ready.Len(),
		Delayed:         q.delayed.Len(),
		ByStatus:        by,
		AvgProcessingMs: q.averageLocked().Milliseconds(),
		Samples:         len(q.samples),
	}
}
