package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
)

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 60 * time.Second

// Guarded wraps an adapter with its local timeout and optional rate limit, and
// classifies failures as common.ErrEngineTimeout or common.ErrEngineCallFailed.
type Guarded struct {
	inner   Adapter
	timeout time.Duration
	limiter *rate.Limiter
	logger  *slog.Logger
}

// GuardOption configures a Guarded adapter.
type GuardOption func(*Guarded)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) GuardOption {
	return func(g *Guarded) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithRateLimit caps calls per second with the given burst. rps <= 0 disables.
func WithRateLimit(rps float64, burst int) GuardOption {
	return func(g *Guarded) {
		if rps <= 0 {
			return
		}
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithGuardLogger sets the logger.
func WithGuardLogger(l *slog.Logger) GuardOption {
	return func(g *Guarded) {
		if l != nil {
			g.logger = l
		}
	}
}

func Guard(inner Adapter, opts ...GuardOption) *Guarded {
	g := &Guarded{inner: inner, timeout: DefaultTimeout, logger: slog.Default()}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Guarded) ID() constants.EngineID     { return g.inner.ID() }
func (g *Guarded) Capabilities() Capabilities { return g.inner.Capabilities() }

// Timeout reports the adapter-local deadline.
func (g *Guarded) Timeout() time.Duration { return g.timeout }

type extractOutcome struct {
	res *RawResult
	err error
}

// Extract runs the inner adapter under the local deadline. The call runs on its
// own goroutine so providers that ignore ctx (cgo bindings) still time out.
func (g *Guarded) Extract(ctx context.Context, image []byte, languageHints []string, opts Options) (*RawResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, g.classify(ctx, fmt.Errorf("rate limit wait: %w", err))
		}
	}

	done := make(chan extractOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- extractOutcome{err: fmt.Errorf("adapter panic: %v", r)}
			}
		}()
		res, err := g.inner.Extract(ctx, image, languageHints, opts)
		done <- extractOutcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, g.classify(ctx, out.err)
		}
		if out.res == nil {
			return nil, fmt.Errorf("%w: %s returned no result", common.ErrEngineCallFailed, g.inner.ID())
		}
		return out.res, nil
	case <-ctx.Done():
		g.logger.Warn("engine call abandoned at deadline", "engine", g.inner.ID(), "timeout", g.timeout)
		return nil, g.classify(ctx, ctx.Err())
	}
}

func (g *Guarded) classify(ctx context.Context, err error) error {
	if errors.Is(err, common.ErrEngineTimeout) || errors.Is(err, common.ErrEngineCallFailed) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s after %s: %v", common.ErrEngineTimeout, g.inner.ID(), g.timeout, err)
	}
	return fmt.Errorf("%w: %s: %v", common.ErrEngineCallFailed, g.inner.ID(), err)
}
