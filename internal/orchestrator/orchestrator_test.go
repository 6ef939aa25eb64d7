package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/engine"
)

const (
	engA constants.EngineID = "a"
	engB constants.EngineID = "b"
	engC constants.EngineID = "c"
)

type fakeEngine struct {
	id   constants.EngineID
	conf float64
	err  error

	mu    sync.Mutex
	calls int
}

func (f *fakeEngine) ID() constants.EngineID            { return f.id }
func (f *fakeEngine) Capabilities() engine.Capabilities { return engine.Capabilities{} }
func (f *fakeEngine) Extract(context.Context, []byte, []string, engine.Options) (*engine.RawResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &engine.RawResult{
		EngineVersion: string(f.id) + "-1",
		Pages:         []engine.RawPage{{Number: 1, Text: "from " + string(f.id), Confidence: f.conf}},
	}, nil
}

func (f *fakeEngine) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func setup(t *testing.T, engines ...*fakeEngine) *Orchestrator {
	t.Helper()
	reg, err := engine.NewRegistry()
	require.NoError(t, err)
	order := make([]constants.EngineID, 0, len(engines))
	for _, e := range engines {
		require.NoError(t, reg.Register(e))
		order = append(order, e.id)
	}
	return New(reg, Config{DefaultOrder: order}, nil)
}

func assertOrderStrictlyIncreasing(t *testing.T, orders []int) {
	t.Helper()
	for i, o := range orders {
		assert.Equal(t, i+1, o)
	}
}

func TestRun_FallbackThenSuccessStopsCascade(t *testing.T) {
	a := &fakeEngine{id: engA, conf: 0.45}
	b := &fakeEngine{id: engB, conf: 0.82}
	c := &fakeEngine{id: engC, conf: 0.99}
	o := setup(t, a, b, c)

	cand, attempts, err := o.Run(context.Background(), []byte("img"), nil, o.Cascade(""), engine.Options{})
	require.NoError(t, err)

	assert.Equal(t, engB, cand.Engine)
	assert.InDelta(t, 0.82, cand.Confidence, 1e-9)
	assert.False(t, cand.NeedsManualReview)
	assert.Empty(t, cand.ReviewReason)

	require.Len(t, attempts, 2)
	assert.Equal(t, constants.AttemptFallback, attempts[0].Status)
	assert.Equal(t, constants.AttemptSuccess, attempts[1].Status)
	assert.Equal(t, 0, c.Calls())
	assertOrderStrictlyIncreasing(t, []int{attempts[0].Order, attempts[1].Order})
}

func TestRun_AcceptedButFlaggedForReview(t *testing.T) {
	a := &fakeEngine{id: engA, conf: 0.70}
	b := &fakeEngine{id: engB, conf: 0.95}
	o := setup(t, a, b)

	cand, attempts, err := o.Run(context.Background(), nil, nil, o.Cascade(""), engine.Options{})
	require.NoError(t, err)

	assert.Equal(t, engA, cand.Engine)
	assert.True(t, cand.NeedsManualReview)
	assert.NotEmpty(t, cand.ReviewReason)
	require.Len(t, attempts, 1)
	assert.Equal(t, constants.AttemptSuccess, attempts[0].Status)
	assert.Equal(t, 0, b.Calls())
}

func TestRun_ThresholdIsInclusive(t *testing.T) {
	a := &fakeEngine{id: engA, conf: 0.6}
	b := &fakeEngine{id: engB, conf: 0.9}
	o := setup(t, a, b)

	cand, attempts, err := o.Run(context.Background(), nil, nil, o.Cascade(""), engine.Options{})
	require.NoError(t, err)
	assert.Equal(t, engA, cand.Engine)
	assert.Len(t, attempts, 1)
}

func TestRun_AllBelowThresholdKeepsBest(t *testing.T) {
	a := &fakeEngine{id: engA, conf: 0.30}
	b := &fakeEngine{id: engB, conf: 0.55}
	c := &fakeEngine{id: engC, conf: 0.40}
	o := setup(t, a, b, c)

	cand, attempts, err := o.Run(context.Background(), nil, nil, o.Cascade(""), engine.Options{})
	require.NoError(t, err)

	assert.Equal(t, engB, cand.Engine)
	assert.True(t, cand.NeedsManualReview)
	require.Len(t, attempts, 3)
	for _, at := range attempts {
		assert.Equal(t, constants.AttemptFallback, at.Status)
		require.NotNil(t, at.Confidence)
	}
}

func TestRun_TieKeepsEarlierEngine(t *testing.T) {
	a := &fakeEngine{id: engA, conf: 0.5}
	b := &fakeEngine{id: engB, conf: 0.5}
	o := setup(t, a, b)

	cand, _, err := o.Run(context.Background(), nil, nil, o.Cascade(""), engine.Options{})
	require.NoError(t, err)
	assert.Equal(t, engA, cand.Engine)
}

func TestRun_FailuresRecordedAndSkipped(t *testing.T) {
	a := &fakeEngine{id: engA, err: fmt.Errorf("%w: a", common.ErrEngineTimeout)}
	b := &fakeEngine{id: engB, err: fmt.Errorf("%w: b", common.ErrEngineCallFailed)}
	c := &fakeEngine{id: engC, conf: 0.9}
	o := setup(t, a, b, c)

	cand, attempts, err := o.Run(context.Background(), nil, nil, o.Cascade(""), engine.Options{})
	require.NoError(t, err)
	assert.Equal(t, engC, cand.Engine)

	require.Len(t, attempts, 3)
	assert.Equal(t, constants.AttemptTimeout, attempts[0].Status)
	assert.Nil(t, attempts[0].Confidence)
	assert.NotEmpty(t, attempts[0].ErrorMessage)
	assert.Equal(t, constants.AttemptFailed, attempts[1].Status)
	assert.Nil(t, attempts[1].Confidence)
	assert.Equal(t, constants.AttemptSuccess, attempts[2].Status)
	assertOrderStrictlyIncreasing(t, []int{attempts[0].Order, attempts[1].Order, attempts[2].Order})
}

func TestRun_AllEnginesFailed(t *testing.T) {
	a := &fakeEngine{id: engA, err: errors.New("down")}
	b := &fakeEngine{id: engB, err: fmt.Errorf("%w", common.ErrEngineTimeout)}
	c := &fakeEngine{id: engC, err: errors.New("quota")}
	o := setup(t, a, b, c)

	cand, attempts, err := o.Run(context.Background(), nil, nil, o.Cascade(""), engine.Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrAllEnginesFailed)
	assert.True(t, common.Recoverable(err))
	assert.Nil(t, cand)
	assert.Len(t, attempts, 3)
}

func TestRun_UnknownEngineInOrder(t *testing.T) {
	a := &fakeEngine{id: engA, conf: 0.9}
	o := setup(t, a)

	cand, attempts, err := o.Run(context.Background(), nil, nil, []constants.EngineID{"ghost", engA}, engine.Options{})
	require.NoError(t, err)
	assert.Equal(t, engA, cand.Engine)
	require.Len(t, attempts, 2)
	assert.Equal(t, constants.AttemptFailed, attempts[0].Status)
	assert.Equal(t, "engine not configured", attempts[0].ErrorMessage)
}

func TestRun_EmptyResultIsFailure(t *testing.T) {
	reg, err := engine.NewRegistry(emptyEngine{})
	require.NoError(t, err)
	o := New(reg, Config{DefaultOrder: []constants.EngineID{"empty"}}, nil)

	_, attempts, err := o.Run(context.Background(), nil, nil, o.Cascade(""), engine.Options{})
	assert.ErrorIs(t, err, common.ErrAllEnginesFailed)
	require.Len(t, attempts, 1)
	assert.Equal(t, constants.AttemptFailed, attempts[0].Status)
}

func TestRun_GuardedTimeoutBecomesTimeoutAttempt(t *testing.T) {
	reg, err := engine.NewRegistry(
		engine.Guard(blockingEngine{}, engine.WithTimeout(10*time.Millisecond)),
		&fakeEngine{id: engB, conf: 0.8},
	)
	require.NoError(t, err)
	o := New(reg, Config{DefaultOrder: []constants.EngineID{"blocking", engB}}, nil)

	cand, attempts, err := o.Run(context.Background(), nil, nil, o.Cascade(""), engine.Options{})
	require.NoError(t, err)
	assert.Equal(t, engB, cand.Engine)
	assert.Equal(t, constants.AttemptTimeout, attempts[0].Status)
}

func TestRun_CancelledContextStopsCascade(t *testing.T) {
	a := &fakeEngine{id: engA, conf: 0.9}
	o := setup(t, a)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, attempts, err := o.Run(ctx, nil, nil, o.Cascade(""), engine.Options{})
	assert.ErrorIs(t, err, common.ErrAllEnginesFailed)
	assert.Empty(t, attempts)
	assert.Equal(t, 0, a.Calls())
}

func TestCascade(t *testing.T) {
	a := &fakeEngine{id: engA}
	b := &fakeEngine{id: engB}
	c := &fakeEngine{id: engC}
	o := setup(t, a, b, c)

	assert.Equal(t, []constants.EngineID{engA, engB, engC}, o.Cascade(""))
	assert.Equal(t, []constants.EngineID{engC, engA, engB}, o.Cascade(engC))
	assert.Equal(t, []constants.EngineID{engA, engB, engC}, o.Cascade("unknown"))
}

func TestCascade_SkipsUnregisteredDefaults(t *testing.T) {
	reg, err := engine.NewRegistry(&fakeEngine{id: constants.EngineTesseract})
	require.NoError(t, err)
	o := New(reg, Config{}, nil)

	assert.Equal(t, []constants.EngineID{constants.EngineTesseract}, o.Cascade(""))
}

type emptyEngine struct{}

func (emptyEngine) ID() constants.EngineID            { return "empty" }
func (emptyEngine) Capabilities() engine.Capabilities { return engine.Capabilities{} }
func (emptyEngine) Extract(context.Context, []byte, []string, engine.Options) (*engine.RawResult, error) {
	return &engine.RawResult{}, nil
}

type blockingEngine struct{}

func (blockingEngine) ID() constants.EngineID            { return "blocking" }
func (blockingEngine) Capabilities() engine.Capabilities { return engine.Capabilities{} }
func (blockingEngine) Extract(ctx context.Context, _ []byte, _ []string, _ engine.Options) (*engine.RawResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
