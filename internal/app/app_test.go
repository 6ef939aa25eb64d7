package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/events"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(common.LogConfig{Level: "warn", Format: "json"}, &buf)
	l.Info("hidden")
	l.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	l = NewLogger(common.LogConfig{Level: "bogus", Format: "TEXT"}, &buf)
	l.Info("plain")
	assert.Contains(t, buf.String(), "msg=plain")
}

func TestBuildEngines(t *testing.T) {
	reg, err := BuildEngines(map[string]common.EngineConfig{
		"vision":      {Enabled: false},
		"DocAnalysis": {Enabled: true, Endpoint: "http://127.0.0.1:1", Tables: true, RatePerSecond: 2, Burst: 1},
		"tesseract":   {Enabled: true, Backend: "cli", Timeout: common.Duration{Duration: time.Second}},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Len())

	_, ok := reg.Get(constants.EngineVision)
	assert.False(t, ok)
	da, ok := reg.Get(constants.EngineDocAnalysis)
	require.True(t, ok)
	assert.True(t, da.Capabilities().Tables)
	assert.False(t, da.Capabilities().Forms)
}

func TestBuildEngines_Errors(t *testing.T) {
	_, err := BuildEngines(map[string]common.EngineConfig{"vision": {Enabled: false}}, nil)
	assert.True(t, errors.Is(err, common.ErrInvalidInput))

	_, err = BuildEngines(map[string]common.EngineConfig{"abbyy": {Enabled: true}}, nil)
	assert.True(t, errors.Is(err, common.ErrInvalidInput))

	_, err = BuildEngines(map[string]common.EngineConfig{"tesseract": {Enabled: true, Backend: "wasm"}}, nil)
	assert.True(t, errors.Is(err, common.ErrInvalidInput))
}

func TestOpenStoreAndSource(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := OpenStore(ctx, common.DatabaseConfig{Driver: "sqlite", SQLitePath: filepath.Join(dir, "db", "x.db")}, nil)
	require.NoError(t, err)
	require.NoError(t, store.Ping(ctx))
	store.Close()

	_, err = OpenStore(ctx, common.DatabaseConfig{Driver: "mysql"}, nil)
	assert.True(t, errors.Is(err, common.ErrInvalidInput))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), []byte("\x89PNG\r\n\x1a\n"), 0o644))
	src, err := OpenSource(ctx, common.StorageConfig{Backend: "fs", Root: dir}, nil)
	require.NoError(t, err)
	doc, err := src.Read(ctx, "a.png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", doc.ContentType)

	_, err = OpenSource(ctx, common.StorageConfig{Backend: "ftp"}, nil)
	assert.True(t, errors.Is(err, common.ErrInvalidInput))
}

func testConfig(t *testing.T) *common.Config {
	t.Helper()
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DOCEXTRACT_CONFIG", "")
	cfg, err := common.LoadConfig()
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.Database.SQLitePath = filepath.Join(dir, "docextract.db")
	cfg.Storage = common.StorageConfig{Backend: "fs", Root: dir}
	cfg.Engines = map[string]common.EngineConfig{
		"vision":    {Enabled: false},
		"tesseract": {Enabled: true, Backend: "cli"},
	}
	return cfg
}

func TestBuild_SkipsDisabledEnginesInOrder(t *testing.T) {
	cfg := testConfig(t)
	st, err := Build(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	assert.Equal(t, []constants.EngineID{constants.EngineTesseract}, st.Registry.IDs())
	assert.NotNil(t, st.Processor)
}

func TestBuild_NoEnabledEngineInOrder(t *testing.T) {
	cfg := testConfig(t)
	cfg.Orchestrator.DefaultOrder = []string{"vision"}
	_, err := Build(context.Background(), cfg, nil, nil)
	assert.True(t, errors.Is(err, common.ErrInvalidInput))
}

type fakeEnqueuer struct {
	mu   sync.Mutex
	refs []string
	seen map[string]bool
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, ref string, _ constants.Priority, _ entity.EnqueueOptions) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen[ref] {
		return uuid.Nil, common.ErrAlreadyQueued
	}
	f.seen[ref] = true
	f.refs = append(f.refs, ref)
	return uuid.New(), nil
}

func (f *fakeEnqueuer) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.refs...)
}

func TestWatchInbox(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.png"), []byte("x"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	q := &fakeEnqueuer{seen: map[string]bool{}}
	done := make(chan error, 1)
	go func() {
		done <- WatchInbox(ctx, InboxConfig{Root: dir, Priority: constants.PriorityLow, Debounce: 20 * time.Millisecond}, q, nil)
	}()

	require.Eventually(t, func() bool { return len(q.snapshot()) == 1 }, 3*time.Second, 20*time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.pdf"), []byte("%PDF-1.4"), 0o644))
	require.Eventually(t, func() bool { return len(q.snapshot()) == 2 }, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"old.png", "new.pdf"}, q.snapshot())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatchInbox_RequiresRoot(t *testing.T) {
	err := WatchInbox(context.Background(), InboxConfig{}, &fakeEnqueuer{seen: map[string]bool{}}, nil)
	assert.Error(t, err)
}

func TestNewPublisher(t *testing.T) {
	pub, closeFn, err := NewPublisher(common.EventsConfig{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &events.LogPublisher{}, pub)
	assert.NoError(t, closeFn())

	pub, closeFn, err = NewPublisher(common.EventsConfig{KafkaBrokers: "localhost:9092", KafkaTopic: "docextract.events"}, nil)
	require.NoError(t, err)
	multi, ok := pub.(events.Multi)
	require.True(t, ok)
	assert.Len(t, multi, 2)
	assert.NoError(t, closeFn())

	_, _, err = NewPublisher(common.EventsConfig{KafkaBrokers: "localhost:9092"}, nil)
	assert.Error(t, err)
}

func TestEnhanceOptions(t *testing.T) {
	opts := EnhanceOptions(common.EnhanceConfig{EstimateSkew: true, MaxDimension: -1, SharpenAmount: 0.3, ClipPercent: 0.01})
	assert.True(t, opts.EstimateSkew)
	assert.Equal(t, -1, opts.MaxDimension)
	assert.Equal(t, 0.3, opts.SharpenAmount)
	assert.Equal(t, 0.01, opts.ClipPercent)
}
