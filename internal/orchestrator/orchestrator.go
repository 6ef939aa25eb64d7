// Package orchestrator drives the engine cascade for one document: it calls
// adapters in order, records an attempt for each call, stops at the first
// result that meets the acceptance threshold and otherwise keeps the best
// result seen.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/engine"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

const (
	DefaultAcceptanceThreshold = 0.6
	DefaultReviewThreshold     = 0.75
)

type Config struct {
	// AcceptanceThreshold stops the cascade once an attempt reaches it.
	AcceptanceThreshold float64
	// ReviewThreshold flags the selected result for a human when below it.
	ReviewThreshold float64
	// DefaultOrder is the cascade when no preferred engine is given.
	DefaultOrder []constants.EngineID
}

// Candidate is the selected engine output before reconciliation and normalization.
type Candidate struct {
	Engine            constants.EngineID
	EngineVersion     string
	Raw               *engine.RawResult
	Confidence        float64
	NeedsManualReview bool
	ReviewReason      string
}

type Orchestrator struct {
	cfg      Config
	registry *engine.Registry
	logger   *slog.Logger
	now      func() time.Time
}

func New(registry *engine.Registry, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AcceptanceThreshold <= 0 {
		cfg.AcceptanceThreshold = DefaultAcceptanceThreshold
	}
	if cfg.ReviewThreshold <= 0 {
		cfg.ReviewThreshold = DefaultReviewThreshold
	}
	if len(cfg.DefaultOrder) == 0 {
		cfg.DefaultOrder = constants.DefaultEngineOrder
	}
	return &Orchestrator{cfg: cfg, registry: registry, logger: logger, now: time.Now}
}

// Cascade returns the engine order for a document. A registered preferred
// engine goes first; the default order follows with duplicates and
// unregistered engines removed.
func (o *Orchestrator) Cascade(preferred constants.EngineID) []constants.EngineID {
	order := make([]constants.EngineID, 0, len(o.cfg.DefaultOrder)+1)
	if preferred != "" {
		if _, ok := o.registry.Get(preferred); ok {
			order = append(order, preferred)
		} else {
			o.logger.Warn("preferred engine not configured; using default order", "engine", preferred)
		}
	}
	for _, id := range o.cfg.DefaultOrder {
		if _, ok := o.registry.Get(id); !ok || slices.Contains(order, id) {
			continue
		}
		order = append(order, id)
	}
	return order
}

// Run executes the cascade. The attempt log is returned in every case,
// including when all engines fail with common.ErrAllEnginesFailed.
func (o *Orchestrator) Run(ctx context.Context, image []byte, languageHints []string, order []constants.EngineID, opts engine.Options) (*Candidate, []entity.EngineAttempt, error) {
	var (
		attempts []entity.EngineAttempt
		best     *Candidate
		lastErr  error
	)

	for _, id := range order {
		if err := ctx.Err(); err != nil {
			lastErr = err
			o.logger.Warn("cascade interrupted", "engine", id, "error", err)
			break
		}

		attempt := entity.EngineAttempt{Engine: id, Order: len(attempts) + 1, StartedAt: o.now()}
		adapter, ok := o.registry.Get(id)
		if !ok {
			attempt.Status = constants.AttemptFailed
			attempt.ErrorMessage = "engine not configured"
			attempt.CompletedAt = attempt.StartedAt
			attempts = append(attempts, attempt)
			lastErr = fmt.Errorf("%w: %s not configured", common.ErrEngineCallFailed, id)
			continue
		}

		raw, err := adapter.Extract(ctx, image, languageHints, opts)
		if err == nil && (raw == nil || len(raw.Pages) == 0) {
			err = fmt.Errorf("%w: %s returned no pages", common.ErrEngineCallFailed, id)
		}
		attempt.CompletedAt = o.now()

		if err != nil {
			attempt.Status = constants.AttemptFailed
			if errors.Is(err, common.ErrEngineTimeout) || errors.Is(err, context.DeadlineExceeded) {
				attempt.Status = constants.AttemptTimeout
			}
			attempt.ErrorMessage = err.Error()
			attempts = append(attempts, attempt)
			lastErr = err
			o.logger.Warn("engine attempt failed",
				"engine", id,
				"order", attempt.Order,
				"status", attempt.Status,
				"duration_ms", attempt.Duration().Milliseconds(),
				"error", err,
			)
			continue
		}

		conf := raw.Confidence()
		attempt.Confidence = &conf
		attempt.Status = constants.AttemptSuccess
		if conf < o.cfg.AcceptanceThreshold {
			attempt.Status = constants.AttemptFallback
		}
		attempts = append(attempts, attempt)

		if best == nil || conf > best.Confidence {
			best = &Candidate{Engine: id, EngineVersion: raw.EngineVersion, Raw: raw, Confidence: conf}
		}
		o.logger.Debug("engine attempt done",
			"engine", id,
			"order", attempt.Order,
			"status", attempt.Status,
			"confidence", conf,
			"duration_ms", attempt.Duration().Milliseconds(),
		)

		if attempt.Status == constants.AttemptSuccess {
			break
		}
	}

	if best == nil {
		if lastErr == nil {
			lastErr = errors.New("no engines in cascade")
		}
		return nil, attempts, fmt.Errorf("%w after %d attempts: %v", common.ErrAllEnginesFailed, len(attempts), lastErr)
	}

	if best.Confidence < o.cfg.ReviewThreshold {
		best.NeedsManualReview = true
		best.ReviewReason = fmt.Sprintf("confidence %.2f below review threshold %.2f (engine %s)", best.Confidence, o.cfg.ReviewThreshold, best.Engine)
	}
	return best, attempts, nil
}
