package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/queue"
	"github.com/joseph-ayodele/docextract/internal/server"
)

type fakeAPI struct {
	server.QueueAPI
	enqueued []server.EnqueueRequest
	batch    server.EnqueueBatchRequest
	view     entity.QueueItemView
	result   *entity.ExtractionResult
	xlsx     []byte
	err      error
}

func (f *fakeAPI) Enqueue(_ context.Context, req server.EnqueueRequest) (server.EnqueueResponse, error) {
	if f.err != nil {
		return server.EnqueueResponse{}, f.err
	}
	f.enqueued = append(f.enqueued, req)
	return server.EnqueueResponse{QueueID: "11111111-1111-1111-1111-111111111111"}, nil
}

func (f *fakeAPI) EnqueueBatch(_ context.Context, req server.EnqueueBatchRequest) (server.EnqueueBatchResponse, error) {
	f.batch = req
	out := server.EnqueueBatchResponse{}
	for _, d := range req.Documents {
		out.Results = append(out.Results, server.BatchItem{DocumentRef: d.DocumentRef, QueueID: "q-" + d.DocumentRef})
	}
	return out, nil
}

func (f *fakeAPI) Status(context.Context, server.StatusRequest) (entity.QueueItemView, error) {
	return f.view, f.err
}

func (f *fakeAPI) Stats(context.Context, server.Empty) (queue.Stats, error) {
	return queue.Stats{Workers: 4, Ready: 2, ByStatus: map[constants.QueueStatus]int{constants.QueueStatusQueued: 2, constants.QueueStatusCompleted: 5}}, nil
}

func (f *fakeAPI) GetResult(context.Context, server.ResultRequest) (*entity.ExtractionResult, error) {
	return f.result, f.err
}

func (f *fakeAPI) ExportXLSX(_ context.Context, req server.StatusRequest) (server.ExportResponse, error) {
	return server.ExportResponse{DocumentRef: req.DocumentRef, XLSXBase64: base64.StdEncoding.EncodeToString(f.xlsx)}, nil
}

func execute(t *testing.T, fake *fakeAPI, args ...string) (string, error) {
	t.Helper()
	api = fake
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		api = nil
		rootCmd.SetArgs(nil)
		priority, engineFlag, languageHints = "NORMAL", "", nil
		tablesFlag, formsFlag, enhanceFlag, maxAttempts = false, false, false, 0
		dirPrefix, resultID, textOnly, exportPath = "", "", false, ""
	})
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	names := make([]string, 0)
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"enqueue", "enqueue-dir", "status", "get", "cancel", "retry", "stats", "result", "attempts", "export"} {
		assert.Contains(t, names, want)
	}
}

func TestEnqueueCmd_PassesFlags(t *testing.T) {
	fake := &fakeAPI{}
	out, err := execute(t, fake, "enqueue", "inbox/a.png", "-p", "high", "-e", "tesseract", "-l", "pt,en", "--tables", "--max-attempts", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "Queued inbox/a.png as 11111111-1111-1111-1111-111111111111")

	require.Len(t, fake.enqueued, 1)
	req := fake.enqueued[0]
	assert.Equal(t, "high", req.Priority)
	assert.Equal(t, constants.EngineTesseract, req.Options.PreferredEngine)
	assert.Equal(t, []string{"pt", "en"}, req.Options.LanguageHints)
	assert.True(t, req.Options.EnableTableDetection)
	assert.False(t, req.Options.EnableFormDetection)
	assert.Equal(t, 5, req.Options.MaxAttempts)
}

func TestEnqueueCmd_RequiresArg(t *testing.T) {
	_, err := execute(t, &fakeAPI{}, "enqueue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg(s)")
}

func TestEnqueueCmd_ReportsServerError(t *testing.T) {
	_, err := execute(t, &fakeAPI{err: common.ErrAlreadyQueued}, "enqueue", "a.png")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrAlreadyQueued)
}

func TestEnqueueDirCmd(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "scans"), 0o755))
	for _, name := range []string{"scans/b.pdf", "scans/a.png", "notes.txt", ".hidden.png"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	fake := &fakeAPI{}
	out, err := execute(t, fake, "enqueue-dir", dir, "--forms")
	require.NoError(t, err)
	require.Len(t, fake.batch.Documents, 2)
	assert.Equal(t, "scans/a.png", fake.batch.Documents[0].DocumentRef)
	assert.Equal(t, "scans/b.pdf", fake.batch.Documents[1].DocumentRef)
	assert.True(t, fake.batch.Documents[0].Options.EnableFormDetection)
	assert.Contains(t, out, "Total: 2 of 2 documents queued")
}

func TestStatusCmd(t *testing.T) {
	msg := "engine call failed"
	fake := &fakeAPI{view: entity.QueueItemView{
		QueueItem: entity.QueueItem{
			DocumentRef:  "a.png",
			Status:       constants.QueueStatusQueued,
			Priority:     constants.PriorityUrgent,
			AttemptCount: 1,
			MaxAttempts:  3,
			LastError:    &msg,
		},
		Position:        2,
		EstimatedWaitMs: 20000,
	}}
	out, err := execute(t, fake, "status", "a.png")
	require.NoError(t, err)
	assert.Contains(t, out, "Status:   QUEUED")
	assert.Contains(t, out, "Priority: URGENT")
	assert.Contains(t, out, "Attempts: 1/3")
	assert.Contains(t, out, "Position: 2 (about 20000ms)")
	assert.Contains(t, out, "Error:    engine call failed")
}

func TestStatsCmd(t *testing.T) {
	out, err := execute(t, &fakeAPI{}, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Workers: 4")
	assert.Contains(t, out, "COMPLETED  5")
	assert.Contains(t, out, "QUEUED     2")
}

func TestResultCmd(t *testing.T) {
	fake := &fakeAPI{result: &entity.ExtractionResult{DocumentRef: "a.png", FullTextNormalized: "Total: $10.00"}}
	out, err := execute(t, fake, "result", "a.png", "--text")
	require.NoError(t, err)
	assert.Equal(t, "Total: $10.00\n", out)

	_, err = execute(t, fake, "result")
	assert.Error(t, err)
}

func TestExportCmd(t *testing.T) {
	target := filepath.Join(t.TempDir(), "out.xlsx")
	fake := &fakeAPI{xlsx: []byte("PK\x03\x04data")}
	out, err := execute(t, fake, "export", "docs/inv.pdf", "-o", target)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+target)

	b, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, fake.xlsx, b)
}
