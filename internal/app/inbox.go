package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/storage"
)

// Enqueuer is the slice of the queue the inbox needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, documentRef string, priority constants.Priority, opts entity.EnqueueOptions) (uuid.UUID, error)
}

// InboxConfig controls WatchInbox.
type InboxConfig struct {
	Root     string
	Priority constants.Priority
	Debounce time.Duration
	Options  entity.EnqueueOptions
}

// WatchInbox enqueues every existing and newly written document under Root
// until ctx is cancelled. Documents that already have an active item are skipped.
func WatchInbox(ctx context.Context, cfg InboxConfig, q Enqueuer, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	refs, errs, err := storage.Watch(ctx, storage.WatchConfig{
		Root:        cfg.Root,
		InitialScan: true,
		Debounce:    cfg.Debounce,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	logger.Info("inbox watcher started", "root", cfg.Root, "priority", cfg.Priority.String())

	for refs != nil || errs != nil {
		select {
		case ref, ok := <-refs:
			if !ok {
				refs = nil
				continue
			}
			id, err := q.Enqueue(ctx, ref, cfg.Priority, cfg.Options)
			switch {
			case errors.Is(err, common.ErrAlreadyQueued):
				logger.Debug("inbox document already queued", "document_ref", ref)
			case err != nil:
				logger.Warn("inbox enqueue failed", "document_ref", ref, "error", err)
			default:
				logger.Info("inbox document queued", "document_ref", ref, "queue_id", id)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logger.Warn("inbox watcher error", "error", err)
		}
	}
	logger.Info("inbox watcher stopped", "root", cfg.Root)
	return nil
}
