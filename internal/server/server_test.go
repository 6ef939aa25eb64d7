package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/queue"
	"github.com/joseph-ayodele/docextract/internal/repository"
)

type fixture struct {
	q     *queue.Queue
	store *repository.SQLiteStore
	svc   *QueueService
}

// newFixture returns a service over a queue that is never started, so
// admitted items stay QUEUED.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := repository.OpenSQLite(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	proc := queue.ProcessorFunc(func(context.Context, entity.QueueItem) (queue.Outcome, error) {
		return queue.Outcome{}, nil
	})
	q := queue.New(proc, queue.Config{MaxBatch: 10}, queue.WithJournal(store))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		q.Shutdown(ctx)
	})
	return &fixture{q: q, store: store, svc: NewQueueService(q, store, nil)}
}

func (f *fixture) saveResult(t *testing.T, ref string) *entity.ExtractionResult {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	val := "42"
	conf := 0.93
	res := &entity.ExtractionResult{
		ID:                 uuid.New(),
		QueueID:            uuid.New(),
		DocumentRef:        ref,
		Engine:             constants.EngineDocAnalysis,
		FullText:           "Invoice 42",
		FullTextNormalized: "Invoice 42",
		PageResults:        []entity.PageResult{{PageNumber: 1, Text: "Invoice 42", Confidence: conf}},
		OverallConfidence:  conf,
		DetectedTables:     []entity.Table{},
		DetectedFormFields: []entity.FormField{{PageNumber: 1, Label: "Invoice", Value: &val, LabelConfidence: 0.9}},
		Attempts: []entity.EngineAttempt{
			{Engine: constants.EngineDocAnalysis, Order: 1, Status: constants.AttemptSuccess, Confidence: &conf, StartedAt: now.Add(-time.Second), CompletedAt: now},
		},
		CreatedAt: now,
	}
	require.NoError(t, f.store.SaveResult(context.Background(), res))
	return res
}

func dialBufconn(t *testing.T, api QueueAPI) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs, _ := NewGRPCServer(api, nil)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewClient(conn)
}

func TestGRPC_EnqueueStatusCancel(t *testing.T) {
	f := newFixture(t)
	c := dialBufconn(t, f.svc)
	ctx := context.Background()

	resp, err := c.Enqueue(ctx, EnqueueRequest{
		DocumentRef: "inbox/a.png",
		Priority:    "high",
		Options:     entity.EnqueueOptions{PreferredEngine: "Tesseract", LanguageHints: []string{"pt"}},
	})
	require.NoError(t, err)
	id, err := uuid.Parse(resp.QueueID)
	require.NoError(t, err)

	view, err := c.Status(ctx, StatusRequest{DocumentRef: "inbox/a.png"})
	require.NoError(t, err)
	assert.Equal(t, id, view.ID)
	assert.Equal(t, constants.QueueStatusQueued, view.Status)
	assert.Equal(t, constants.PriorityHigh, view.Priority)
	assert.Equal(t, constants.EngineTesseract, view.PreferredEngine)
	assert.Equal(t, []string{"pt"}, view.LanguageHints)
	assert.Equal(t, 0, view.Position)

	_, err = c.Enqueue(ctx, EnqueueRequest{DocumentRef: "inbox/a.png"})
	assert.Equal(t, codes.AlreadyExists, status.Code(err))

	_, err = c.Cancel(ctx, ItemRequest{QueueID: resp.QueueID})
	require.NoError(t, err)
	got, err := c.GetItem(ctx, ItemRequest{QueueID: resp.QueueID})
	require.NoError(t, err)
	assert.Equal(t, constants.QueueStatusCancelled, got.Status)

	_, err = c.Cancel(ctx, ItemRequest{QueueID: resp.QueueID})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	stored, err := f.store.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, constants.QueueStatusCancelled, stored.Status)
}

func TestGRPC_RejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	c := dialBufconn(t, f.svc)
	ctx := context.Background()

	cases := []struct {
		name string
		call func() error
	}{
		{"missing ref", func() error { _, err := c.Enqueue(ctx, EnqueueRequest{}); return err }},
		{"bad priority", func() error {
			_, err := c.Enqueue(ctx, EnqueueRequest{DocumentRef: "x.png", Priority: "asap"})
			return err
		}},
		{"unknown engine", func() error {
			_, err := c.Enqueue(ctx, EnqueueRequest{DocumentRef: "x.png", Options: entity.EnqueueOptions{PreferredEngine: "abbyy"}})
			return err
		}},
		{"bad queue id", func() error { _, err := c.GetItem(ctx, ItemRequest{QueueID: "nope"}); return err }},
		{"status without ref", func() error { _, err := c.Status(ctx, StatusRequest{}); return err }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, codes.InvalidArgument, status.Code(tc.call()))
		})
	}

	_, err := c.GetItem(ctx, ItemRequest{QueueID: uuid.NewString()})
	assert.Equal(t, codes.NotFound, status.Code(err))
	_, err = c.Retry(ctx, ItemRequest{QueueID: uuid.NewString()})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestGRPC_BatchReportsPerItem(t *testing.T) {
	f := newFixture(t)
	c := dialBufconn(t, f.svc)

	resp, err := c.EnqueueBatch(context.Background(), EnqueueBatchRequest{Documents: []EnqueueRequest{
		{DocumentRef: "a.png"},
		{DocumentRef: "b.png", Priority: "bogus"},
		{DocumentRef: "a.png"},
		{DocumentRef: "c.png", Priority: "urgent"},
	}})
	require.NoError(t, err)
	require.Len(t, resp.Results, 4)
	assert.NotEmpty(t, resp.Results[0].QueueID)
	assert.Contains(t, resp.Results[1].Error, "unknown priority")
	assert.Contains(t, resp.Results[2].Error, "already queued")
	assert.NotEmpty(t, resp.Results[3].QueueID)

	st, err := c.Stats(context.Background(), Empty{})
	require.NoError(t, err)
	assert.Equal(t, 2, st.ByStatus[constants.QueueStatusQueued])
	assert.Equal(t, 2, st.Ready)

	_, err = c.EnqueueBatch(context.Background(), EnqueueBatchRequest{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPC_ResultsAndExport(t *testing.T) {
	f := newFixture(t)
	c := dialBufconn(t, f.svc)
	ctx := context.Background()

	_, err := c.GetResult(ctx, ResultRequest{DocumentRef: "inbox/none.png"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	saved := f.saveResult(t, "inbox/inv.png")

	byRef, err := c.GetResult(ctx, ResultRequest{DocumentRef: "inbox/inv.png"})
	require.NoError(t, err)
	assert.Equal(t, saved.ID, byRef.ID)
	assert.Equal(t, "Invoice 42", byRef.FullTextNormalized)
	require.Len(t, byRef.DetectedFormFields, 1)
	assert.Equal(t, "42", *byRef.DetectedFormFields[0].Value)

	byID, err := c.GetResult(ctx, ResultRequest{ResultID: saved.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, saved.DocumentRef, byID.DocumentRef)

	attempts, err := c.ListAttempts(ctx, ItemRequest{QueueID: saved.QueueID.String()})
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, constants.EngineDocAnalysis, attempts[0].Engine)

	exp, err := c.ExportXLSX(ctx, StatusRequest{DocumentRef: "inbox/inv.png"})
	require.NoError(t, err)
	b, err := base64.StdEncoding.DecodeString(exp.XLSXBase64)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(b, []byte("PK")))
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHTTP_Routes(t *testing.T) {
	f := newFixture(t)
	h := NewRouter(f.svc, nil)

	rec := do(t, h, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/v1/documents", EnqueueRequest{DocumentRef: "scan.tif", Priority: "LOW"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var enq EnqueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &enq))

	rec = do(t, h, http.MethodPost, "/api/v1/documents", EnqueueRequest{DocumentRef: "scan.tif"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/documents", map[string]any{"document_ref": "x.png", "colour": "red"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/documents/status?ref=scan.tif", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view entity.QueueItemView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, enq.QueueID, view.ID.String())
	assert.Equal(t, constants.PriorityLow, view.Priority)

	rec = do(t, h, http.MethodGet, "/api/v1/queue/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st queue.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 1, st.ByStatus[constants.QueueStatusQueued])

	rec = do(t, h, http.MethodGet, "/api/v1/queue/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/queue/"+enq.QueueID+"/retry", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/queue/"+enq.QueueID+"/cancel", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/results?ref=scan.tif", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHTTP_ResultAndExport(t *testing.T) {
	f := newFixture(t)
	h := NewRouter(f.svc, nil)
	saved := f.saveResult(t, "docs/inv.pdf")

	rec := do(t, h, http.MethodGet, "/api/v1/results/"+saved.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res entity.ExtractionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, saved.ID, res.ID)

	rec = do(t, h, http.MethodGet, "/api/v1/queue/"+saved.QueueID.String()+"/attempts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var attempts []entity.EngineAttempt
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &attempts))
	assert.Len(t, attempts, 1)

	rec = do(t, h, http.MethodGet, "/api/v1/documents/export?ref=docs/inv.pdf", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `inv.pdf.xlsx`)
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(assert.AnError))
}

func TestServiceDesc_MatchesProtoContract(t *testing.T) {
	b, err := os.ReadFile(filepath.Join("..", "..", "proto", ServiceDesc.Metadata.(string)))
	require.NoError(t, err)
	src := string(b)

	pkg := regexp.MustCompile(`(?m)^package ([\w.]+);`).FindStringSubmatch(src)
	svc := regexp.MustCompile(`(?m)^service (\w+) \{`).FindStringSubmatch(src)
	require.Len(t, pkg, 2)
	require.Len(t, svc, 2)
	assert.Equal(t, ServiceName, pkg[1]+"."+svc[1])

	var rpcs []string
	for _, m := range regexp.MustCompile(`rpc (\w+)\(google\.protobuf\.Struct\) returns \(google\.protobuf\.Value\);`).FindAllStringSubmatch(src, -1) {
		rpcs = append(rpcs, m[1])
	}
	var methods []string
	for _, m := range ServiceDesc.Methods {
		methods = append(methods, m.MethodName)
	}
	assert.Equal(t, methods, rpcs)
}
