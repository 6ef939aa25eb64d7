// Package queue is the priority work queue in front of the extraction
// pipeline. Items are dispatched to a fixed pool of workers by priority then
// enqueue time; recoverable failures are retried with exponential backoff.
// At most one item per document is QUEUED or PROCESSING at any time.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/events"
)

const (
	DefaultWorkers        = 5
	DefaultMaxAttempts    = 3
	DefaultBaseDelay      = 5 * time.Second
	DefaultProcessTimeout = 5 * time.Minute
	DefaultMaxBatch       = 100
	DefaultRetainFinished = 1000

	// journalTimeout bounds one snapshot write. Writes run detached from the
	// caller's context so a worker past its processing deadline still
	// records the outcome.
	journalTimeout = 10 * time.Second

	// durationWindow is how many recent runs feed the wait estimate.
	durationWindow = 50
	// defaultEstimate stands in for the rolling average until a run completes.
	defaultEstimate = 10 * time.Second
	// maxBackoffShift keeps base << n from overflowing.
	maxBackoffShift = 20
)

// Outcome is what a processor reports for a completed item.
type Outcome struct {
	ResultID    uuid.UUID
	Engine      constants.EngineID
	Confidence  float64
	NeedsReview bool
}

// Processor runs the full pipeline for one item. A returned error is retried
// when common.Recoverable reports true and attempts remain.
type Processor interface {
	Process(ctx context.Context, item entity.QueueItem) (Outcome, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, item entity.QueueItem) (Outcome, error)

func (f ProcessorFunc) Process(ctx context.Context, item entity.QueueItem) (Outcome, error) {
	return f(ctx, item)
}

type Config struct {
	Workers        int
	MaxAttempts    int
	BaseDelay      time.Duration
	ProcessTimeout time.Duration
	MaxBatch       int
	// RetainFinished caps how many COMPLETED, FAILED and CANCELLED items stay
	// queryable in memory. The oldest are evicted first; the journal keeps
	// the durable record.
	RetainFinished int
}

type Option func(*Queue)

func WithJournal(j Journal) Option {
	return func(q *Queue) {
		if j != nil {
			q.journal = j
		}
	}
}

func WithPublisher(p events.Publisher) Option {
	return func(q *Queue) {
		if p != nil {
			q.pub = p
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

type Queue struct {
	cfg     Config
	proc    Processor
	journal Journal
	pub     events.Publisher
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	items   map[uuid.UUID]*entity.QueueItem
	entries map[uuid.UUID]*entry
	active  map[string]uuid.UUID // documentRef -> QUEUED/PROCESSING item
	latest  map[string]uuid.UUID // documentRef -> most recent item
	ready   *entryHeap
	delayed *entryHeap
	seq     uint64
	running int
	// settling counts finished items whose journal write and event are not
	// yet out; Wait holds until it drops to zero.
	settling int
	samples  []time.Duration
	wake     chan struct{}
	// finished lists terminal snapshots in the order they settled.
	finished []finishedRef

	startOnce sync.Once
	started   bool
	closed    bool
	stop      chan struct{}
	wg        sync.WaitGroup
}

func New(proc Processor, cfg Config, opts ...Option) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = DefaultProcessTimeout
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultMaxBatch
	}
	if cfg.RetainFinished <= 0 {
		cfg.RetainFinished = DefaultRetainFinished
	}
	q := &Queue{
		cfg:     cfg,
		proc:    proc,
		journal: nopJournal{},
		pub:     events.Discard{},
		logger:  slog.Default(),
		now:     time.Now,
		items:   map[uuid.UUID]*entity.QueueItem{},
		entries: map[uuid.UUID]*entry{},
		active:  map[string]uuid.UUID{},
		latest:  map[string]uuid.UUID{},
		ready:   &entryHeap{less: dispatchLess},
		delayed: &entryHeap{less: dueLess},
		wake:    make(chan struct{}),
		stop:    make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Start launches the worker pool. Calling it more than once is a no-op.
func (q *Queue) Start() {
	q.startOnce.Do(func() {
		q.mu.Lock()
		q.started = true
		q.mu.Unlock()
		for i := 0; i < q.cfg.Workers; i++ {
			q.wg.Add(1)
			go q.worker(i + 1)
		}
		q.logger.Info("queue started", "workers", q.cfg.Workers, "max_attempts", q.cfg.MaxAttempts)
	})
}

// Shutdown stops admission and dispatch, then waits for in-flight items to
// finish or ctx to expire. Items still QUEUED stay QUEUED in the journal.
func (q *Queue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.stop)
	q.broadcastLocked()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}
}

// Wait blocks until no item is QUEUED or PROCESSING, or ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
	for {
		q.mu.Lock()
		if len(q.active) == 0 && q.settling == 0 {
			q.mu.Unlock()
			return nil
		}
		ch := q.wake
		q.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return fmt.Errorf("wait for queue idle: %w", ctx.Err())
		}
	}
}

// broadcastLocked wakes everything blocked on the current wake channel.
func (q *Queue) broadcastLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}

// touchLocked bumps the item version and returns a snapshot for the journal.
func (q *Queue) touchLocked(it *entity.QueueItem) entity.QueueItem {
	it.Version++
	return it.Clone()
}

type finishedRef struct {
	id      uuid.UUID
	version int64
}

// retireLocked records a terminal item and evicts the oldest finished items
// beyond RetainFinished. An entry whose item has moved on since (a retried
// FAILED item) is dropped without evicting anything.
func (q *Queue) retireLocked(it *entity.QueueItem) {
	q.finished = append(q.finished, finishedRef{id: it.ID, version: it.Version})
	for len(q.finished) > q.cfg.RetainFinished {
		old := q.finished[0]
		q.finished[0] = finishedRef{}
		q.finished = q.finished[1:]
		cur, ok := q.items[old.id]
		if !ok || cur.Version != old.version || cur.Status.Active() {
			continue
		}
		delete(q.items, old.id)
		if q.latest[cur.DocumentRef] == old.id {
			delete(q.latest, cur.DocumentRef)
		}
	}
}

func (q *Queue) persist(ctx context.Context, snap entity.QueueItem) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()
	if err := q.journal.SaveItem(ctx, snap); err != nil {
		q.logger.Error("queue.journal.save_failed",
			"queue_id", snap.ID,
			"document_ref", snap.DocumentRef,
			"status", snap.Status,
			"error", err,
		)
	}
}
