package queue

import (
	"container/heap"
	"time"

	"github.com/joseph-ayodele/docextract/internal/entity"
)

// entry is the queue's handle on one QUEUED item. It sits in exactly one of
// the ready or delayed heaps.
type entry struct {
	item  *entity.QueueItem
	seq   uint64 // admission order, breaks queuedAt ties
	index int
}

// dispatchLess orders by priority DESC, queuedAt ASC, admission ASC.
func dispatchLess(a, b *entry) bool {
	if a.item.Priority != b.item.Priority {
		return a.item.Priority > b.item.Priority
	}
	if !a.item.QueuedAt.Equal(b.item.QueuedAt) {
		return a.item.QueuedAt.Before(b.item.QueuedAt)
	}
	return a.seq < b.seq
}

func retryAt(e *entry) time.Time {
	if e.item.NextRetryAt == nil {
		return time.Time{}
	}
	return *e.item.NextRetryAt
}

// dueLess orders delayed entries by nextRetryAt, then dispatch order.
func dueLess(a, b *entry) bool {
	ta, tb := retryAt(a), retryAt(b)
	if !ta.Equal(tb) {
		return ta.Before(tb)
	}
	return dispatchLess(a, b)
}

type entryHeap struct {
	less    func(a, b *entry) bool
	entries []*entry
}

func (h *entryHeap) Len() int           { return len(h.entries) }
func (h *entryHeap) Less(i, j int) bool { return h.less(h.entries[i], h.entries[j]) }
func (h *entryHeap) Swap(i, j int) {
	h.entries[i], h.entries[j] = h.entries[j], h.entries[i]
	h.entries[i].index = i
	h.entries[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(h.entries)
	h.entries = append(h.entries, e)
}

func (h *entryHeap) Pop() any {
	old := h.entries
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	h.entries = old[:n-1]
	return e
}

func (h *entryHeap) push(e *entry) { heap.Push(h, e) }

func (h *entryHeap) pop() *entry { return heap.Pop(h).(*entry) }

func (h *entryHeap) peek() *entry {
	if len(h.entries) == 0 {
		return nil
	}
	return h.entries[0]
}

// remove takes e out if it is in this heap.
func (h *entryHeap) remove(e *entry) bool {
	if e.index < 0 || e.index >= len(h.entries) || h.entries[e.index] != e {
		return false
	}
	heap.Remove(h, e.index)
	return true
}
