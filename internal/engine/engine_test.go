package engine

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
)

type funcAdapter struct {
	id constants.EngineID
	fn func(ctx context.Context) (*RawResult, error)
}

func (f funcAdapter) ID() constants.EngineID     { return f.id }
func (f funcAdapter) Capabilities() Capabilities { return Capabilities{} }
func (f funcAdapter) Extract(ctx context.Context, _ []byte, _ []string, _ Options) (*RawResult, error) {
	return f.fn(ctx)
}

func TestRawResult_ConfidenceIsPageMean(t *testing.T) {
	r := &RawResult{Pages: []RawPage{{Confidence: 0.5}, {Confidence: 0.9}}}
	assert.InDelta(t, 0.7, r.Confidence(), 1e-9)
	assert.Equal(t, 0.0, (&RawResult{}).Confidence())

	var nilResult *RawResult
	assert.Equal(t, 0.0, nilResult.Confidence())
}

func TestRawResult_Text(t *testing.T) {
	r := &RawResult{Pages: []RawPage{{Text: "one"}, {Text: "two"}}}
	assert.Equal(t, "one\n\ntwo", r.Text())
}

func TestGuard_Success(t *testing.T) {
	want := &RawResult{EngineVersion: "1"}
	g := Guard(funcAdapter{id: "a", fn: func(context.Context) (*RawResult, error) { return want, nil }})

	got, err := g.Extract(context.Background(), nil, nil, Options{})
	require.NoError(t, err)
	assert.Same(t, want, got)
	assert.Equal(t, constants.EngineID("a"), g.ID())
	assert.Equal(t, DefaultTimeout, g.Timeout())
}

func TestGuard_TimeoutEvenWhenAdapterIgnoresContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	g := Guard(funcAdapter{id: "slow", fn: func(context.Context) (*RawResult, error) {
		<-release
		return &RawResult{}, nil
	}}, WithTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := g.Extract(context.Background(), nil, nil, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrEngineTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestGuard_ClassifiesFailures(t *testing.T) {
	g := Guard(funcAdapter{id: "bad", fn: func(context.Context) (*RawResult, error) {
		return nil, errors.New("boom")
	}})
	_, err := g.Extract(context.Background(), nil, nil, Options{})
	assert.ErrorIs(t, err, common.ErrEngineCallFailed)
	assert.Contains(t, err.Error(), "boom")

	g = Guard(funcAdapter{id: "nil", fn: func(context.Context) (*RawResult, error) { return nil, nil }})
	_, err = g.Extract(context.Background(), nil, nil, Options{})
	assert.ErrorIs(t, err, common.ErrEngineCallFailed)

	g = Guard(funcAdapter{id: "panics", fn: func(context.Context) (*RawResult, error) { panic("oops") }})
	_, err = g.Extract(context.Background(), nil, nil, Options{})
	assert.ErrorIs(t, err, common.ErrEngineCallFailed)
}

func TestGuard_RateLimitWaitRespectsTimeout(t *testing.T) {
	g := Guard(funcAdapter{id: "rl", fn: func(context.Context) (*RawResult, error) { return &RawResult{}, nil }},
		WithRateLimit(0.001, 1), WithTimeout(30*time.Millisecond))

	_, err := g.Extract(context.Background(), nil, nil, Options{})
	require.NoError(t, err)

	// bucket is empty now; the next token is far beyond the deadline
	_, err = g.Extract(context.Background(), nil, nil, Options{})
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	a := funcAdapter{id: "b"}
	b := funcAdapter{id: "a"}
	r, err := NewRegistry(a, b)
	require.NoError(t, err)

	assert.Equal(t, []constants.EngineID{"a", "b"}, r.IDs())
	got, ok := r.Get("b")
	assert.True(t, ok)
	assert.Equal(t, a.ID(), got.ID())

	assert.Error(t, r.Register(funcAdapter{id: "a"}))
	assert.Error(t, r.Register(funcAdapter{}))
}

func TestSendJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		b, _ := io.ReadAll(r.Body)
		if string(b) == `{"fail":true}` {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down"))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	raw, code, err := SendJSON(context.Background(), srv.Client(), srv.URL, map[string]any{"x": 1}, map[string]string{"X-Api-Key": "secret"}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"ok":true}`, string(raw))

	_, code, err = SendJSON(context.Background(), srv.Client(), srv.URL, map[string]any{"fail": true}, map[string]string{"X-Api-Key": "secret"}, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Contains(t, err.Error(), "upstream down")
}

func TestResponseSchema(t *testing.T) {
	s := MustCompileSchema("test.json", map[string]any{
		"type":     "object",
		"required": []any{"pages"},
		"properties": map[string]any{
			"pages": map[string]any{"type": "array"},
		},
	})
	assert.NoError(t, s.Validate([]byte(`{"pages":[]}`)))
	assert.Error(t, s.Validate([]byte(`{"pages":"x"}`)))
	assert.Error(t, s.Validate([]byte(`{}`)))
	assert.Error(t, s.Validate([]byte(`not json`)))
}
