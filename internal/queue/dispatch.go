package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/events"
)

// Backoff is the delay before retry n (n = attempts made so far):
// base * 2^n.
func Backoff(base time.Duration, n int) time.Duration {
	if n < 0 {
		n = 0
	}
	if n > maxBackoffShift {
		n = maxBackoffShift
	}
	return base << uint(n)
}

func (q *Queue) worker(workerID int) {
	defer q.wg.Done()
	q.logger.Debug("worker started", "worker_id", workerID)
	for {
		item, ok := q.claim()
		if !ok {
			q.logger.Debug("worker stopped", "worker_id", workerID)
			return
		}
		q.run(workerID, item)
	}
}

// claim blocks until an item is eligible or the queue stops. Moving the item
// to PROCESSING happens under the lock, so no two workers get the same item.
func (q *Queue) claim() (entity.QueueItem, bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return entity.QueueItem{}, false
		}
		now := q.now()
		q.promoteDueLocked(now)

		if q.ready.Len() > 0 {
			e := q.ready.pop()
			delete(q.entries, e.item.ID)
			it := e.item
			started := now.UTC()
			it.Status = constants.QueueStatusProcessing
			it.StartedAt = &started
			it.NextRetryAt = nil
			q.running++
			snap := q.touchLocked(it)
			q.broadcastLocked()
			q.mu.Unlock()

			q.persist(context.Background(), snap)
			q.pub.Publish(context.Background(), events.Event{
				Type:        constants.EventProcessingStarted,
				DocumentRef: snap.DocumentRef,
				QueueID:     snap.ID,
				OccurredAt:  started,
				Attempt:     snap.AttemptCount + 1,
			})
			return snap, true
		}

		var timer *time.Timer
		var fire <-chan time.Time
		if next := q.delayed.peek(); next != nil {
			timer = time.NewTimer(retryAt(next).Sub(now))
			fire = timer.C
		}
		wake := q.wake
		q.mu.Unlock()

		stopped := false
		select {
		case <-wake:
		case <-fire:
		case <-q.stop:
			stopped = true
		}
		if timer != nil {
			timer.Stop()
		}
		if stopped {
			return entity.QueueItem{}, false
		}
	}
}

func (q *Queue) promoteDueLocked(now time.Time) {
	for {
		e := q.delayed.peek()
		if e == nil || retryAt(e).After(now) {
			return
		}
		q.delayed.pop()
		q.ready.push(e)
	}
}

func (q *Queue) run(workerID int, item entity.QueueItem) {
	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.ProcessTimeout)
	defer cancel()
	ctx = common.WithWorkerID(ctx, workerID)
	ctx = common.WithRequestID(ctx, item.ID.String())

	start := time.Now()
	out, err := q.process(ctx, item)
	elapsed := time.Since(start)

	q.finish(ctx, item, out, err, elapsed)

	if err != nil {
		q.logger.Error("processing failed",
			"worker_id", workerID,
			"queue_id", item.ID,
			"document_ref", item.DocumentRef,
			"attempt", item.AttemptCount+1,
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
		)
		return
	}
	q.logger.Info("processed document successfully",
		"worker_id", workerID,
		"queue_id", item.ID,
		"document_ref", item.DocumentRef,
		"engine", out.Engine,
		"confidence", out.Confidence,
		"needs_review", out.NeedsReview,
		"duration_ms", elapsed.Milliseconds(),
	)
}

// process shields the worker from a panicking processor.
func (q *Queue) process(ctx context.Context, item entity.QueueItem) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: processor panic: %v", common.ErrInternal, r)
		}
	}()
	return q.proc.Process(ctx, item)
}

func (q *Queue) finish(ctx context.Context, claimed entity.QueueItem, out Outcome, procErr error, elapsed time.Duration) {
	q.mu.Lock()
	it, ok := q.items[claimed.ID]
	if !ok || it.Status != constants.QueueStatusProcessing {
		q.mu.Unlock()
		q.logger.Error("finished item is not processing", "queue_id", claimed.ID)
		return
	}
	q.running--
	q.recordLocked(elapsed)
	now := q.now().UTC()

	ev := events.Event{DocumentRef: it.DocumentRef, QueueID: it.ID, OccurredAt: now}
	if procErr == nil {
		it.Status = constants.QueueStatusCompleted
		it.CompletedAt = &now
		delete(q.active, it.DocumentRef)
		ev.Type = constants.EventProcessingCompleted
		ev.Engine = out.Engine
		conf := out.Confidence
		ev.Confidence = &conf
		ev.Attempt = it.AttemptCount + 1
	} else {
		it.AttemptCount++
		ev.Type = constants.EventProcessingFailed
		ev.Attempt = it.AttemptCount
		if common.Recoverable(procErr) && it.AttemptCount < it.MaxAttempts {
			msg := procErr.Error()
			retry := now.Add(Backoff(q.cfg.BaseDelay, it.AttemptCount))
			it.Status = constants.QueueStatusQueued
			it.LastError = &msg
			it.NextRetryAt = &retry
			it.StartedAt = nil
			q.seq++
			e := &entry{item: it, seq: q.seq, index: -1}
			q.entries[it.ID] = e
			q.scheduleLocked(e)
			ev.Error = msg
			ev.NextRetryAt = &retry
		} else {
			msg := fmt.Errorf("%w after %d of %d attempts: %v", common.ErrTerminalFailure, it.AttemptCount, it.MaxAttempts, procErr).Error()
			it.Status = constants.QueueStatusFailed
			it.LastError = &msg
			it.CompletedAt = &now
			it.NextRetryAt = nil
			delete(q.active, it.DocumentRef)
			ev.Error = msg
		}
	}
	snap := q.touchLocked(it)
	if !it.Status.Active() {
		q.retireLocked(it)
	}
	q.settling++
	q.broadcastLocked()
	q.mu.Unlock()

	// ctx may already be past ProcessTimeout; the outcome must still land.
	settleCtx := context.WithoutCancel(ctx)
	q.persist(settleCtx, snap)
	q.pub.Publish(settleCtx, ev)

	q.mu.Lock()
	q.settling--
	q.broadcastLocked()
	q.mu.Unlock()
}
