package server

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/export"
	"github.com/joseph-ayodele/docextract/internal/queue"
	"github.com/joseph-ayodele/docextract/internal/repository"
)

const maxRefLength = 1024

type EnqueueRequest struct {
	DocumentRef string                `json:"document_ref"`
	Priority    string                `json:"priority,omitempty"`
	Options     entity.EnqueueOptions `json:"options"`
}

type EnqueueResponse struct {
	QueueID string `json:"queue_id"`
}

type EnqueueBatchRequest struct {
	Documents []EnqueueRequest `json:"documents"`
}

type BatchItem struct {
	DocumentRef string `json:"document_ref"`
	QueueID     string `json:"queue_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

type EnqueueBatchResponse struct {
	Results []BatchItem `json:"results"`
}

type StatusRequest struct {
	DocumentRef string `json:"document_ref"`
}

type ItemRequest struct {
	QueueID string `json:"queue_id"`
}

type ResultRequest struct {
	// ResultID wins when both are set.
	ResultID    string `json:"result_id,omitempty"`
	DocumentRef string `json:"document_ref,omitempty"`
}

type ExportResponse struct {
	DocumentRef string `json:"document_ref"`
	XLSXBase64  string `json:"xlsx_base64"`
}

type Empty struct{}

// QueueAPI is the management surface served over gRPC and HTTP.
type QueueAPI interface {
	Enqueue(ctx context.Context, req EnqueueRequest) (EnqueueResponse, error)
	EnqueueBatch(ctx context.Context, req EnqueueBatchRequest) (EnqueueBatchResponse, error)
	Status(ctx context.Context, req StatusRequest) (entity.QueueItemView, error)
	GetItem(ctx context.Context, req ItemRequest) (entity.QueueItemView, error)
	Cancel(ctx context.Context, req ItemRequest) (Empty, error)
	Retry(ctx context.Context, req ItemRequest) (Empty, error)
	Stats(ctx context.Context, req Empty) (queue.Stats, error)
	GetResult(ctx context.Context, req ResultRequest) (*entity.ExtractionResult, error)
	ListAttempts(ctx context.Context, req ItemRequest) ([]entity.EngineAttempt, error)
	ExportXLSX(ctx context.Context, req StatusRequest) (ExportResponse, error)
}

// QueueService implements QueueAPI over the in-process queue and the result store.
type QueueService struct {
	queue    *queue.Queue
	results  repository.ResultRepository
	exporter *export.Service
	logger   *slog.Logger
}

var _ QueueAPI = (*QueueService)(nil)

func NewQueueService(q *queue.Queue, results repository.ResultRepository, logger *slog.Logger) *QueueService {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueService{
		queue:    q,
		results:  results,
		exporter: export.NewService(results, logger),
		logger:   logger,
	}
}

func validEngines() []string {
	out := make([]string, 0, len(constants.DefaultEngineOrder))
	for _, id := range constants.DefaultEngineOrder {
		out = append(out, string(id))
	}
	return out
}

func (s *QueueService) parseEnqueue(req *EnqueueRequest) (constants.Priority, error) {
	req.DocumentRef = strings.TrimSpace(req.DocumentRef)
	if req.Options.PreferredEngine != "" {
		req.Options.PreferredEngine = constants.NormalizeEngineID(string(req.Options.PreferredEngine))
	}
	v := common.NewValidator()
	v.Field("document_ref", req.DocumentRef, common.Required, common.MaxLength(maxRefLength))
	v.Field("options.preferred_engine", string(req.Options.PreferredEngine), common.OneOf(validEngines()...))
	if err := v.Error(); err != nil {
		return 0, err
	}
	p, err := constants.ParsePriority(req.Priority)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", common.ErrInvalidInput, err)
	}
	return p, nil
}

func (s *QueueService) Enqueue(ctx context.Context, req EnqueueRequest) (EnqueueResponse, error) {
	p, err := s.parseEnqueue(&req)
	if err != nil {
		s.logger.Warn("enqueue rejected", "document_ref", req.DocumentRef, "error", err)
		return EnqueueResponse{}, err
	}
	id, err := s.queue.Enqueue(ctx, req.DocumentRef, p, req.Options)
	if err != nil {
		return EnqueueResponse{}, err
	}
	return EnqueueResponse{QueueID: id.String()}, nil
}

// EnqueueBatch validates every entry first; entries that fail validation are
// reported per item and the rest are admitted.
func (s *QueueService) EnqueueBatch(ctx context.Context, req EnqueueBatchRequest) (EnqueueBatchResponse, error) {
	if len(req.Documents) == 0 {
		return EnqueueBatchResponse{}, fmt.Errorf("%w: empty batch", common.ErrInvalidInput)
	}
	out := EnqueueBatchResponse{Results: make([]BatchItem, len(req.Documents))}
	reqs := make([]queue.Request, 0, len(req.Documents))
	idx := make([]int, 0, len(req.Documents))
	for i, d := range req.Documents {
		out.Results[i].DocumentRef = d.DocumentRef
		p, err := s.parseEnqueue(&d)
		if err != nil {
			out.Results[i].Error = err.Error()
			continue
		}
		reqs = append(reqs, queue.Request{DocumentRef: d.DocumentRef, Priority: p, Options: d.Options})
		idx = append(idx, i)
	}
	if len(reqs) == 0 {
		return out, nil
	}

	res, err := s.queue.EnqueueBatch(ctx, reqs)
	if err != nil {
		return EnqueueBatchResponse{}, err
	}
	for j, r := range res {
		i := idx[j]
		if r.Err != nil {
			out.Results[i].Error = r.Err.Error()
			continue
		}
		out.Results[i].QueueID = r.ID.String()
	}
	s.logger.Info("batch enqueued", "requested", len(req.Documents), "admitted", countAdmitted(out.Results))
	return out, nil
}

func countAdmitted(items []BatchItem) int {
	n := 0
	for _, it := range items {
		if it.QueueID != "" {
			n++
		}
	}
	return n
}

func (s *QueueService) Status(_ context.Context, req StatusRequest) (entity.QueueItemView, error) {
	if strings.TrimSpace(req.DocumentRef) == "" {
		return entity.QueueItemView{}, fmt.Errorf("%w: document_ref is required", common.ErrInvalidInput)
	}
	return s.queue.Status(strings.TrimSpace(req.DocumentRef))
}

func parseQueueID(raw string) (uuid.UUID, error) {
	v := common.NewValidator()
	v.Field("queue_id", raw, common.Required, common.UUID)
	if err := v.Error(); err != nil {
		return uuid.Nil, err
	}
	return uuid.MustParse(raw), nil
}

func (s *QueueService) GetItem(_ context.Context, req ItemRequest) (entity.QueueItemView, error) {
	id, err := parseQueueID(req.QueueID)
	if err != nil {
		return entity.QueueItemView{}, err
	}
	return s.queue.Get(id)
}

func (s *QueueService) Cancel(ctx context.Context, req ItemRequest) (Empty, error) {
	id, err := parseQueueID(req.QueueID)
	if err != nil {
		return Empty{}, err
	}
	return Empty{}, s.queue.Cancel(ctx, id)
}

func (s *QueueService) Retry(ctx context.Context, req ItemRequest) (Empty, error) {
	id, err := parseQueueID(req.QueueID)
	if err != nil {
		return Empty{}, err
	}
	return Empty{}, s.queue.Retry(ctx, id)
}

func (s *QueueService) Stats(context.Context, Empty) (queue.Stats, error) {
	return s.queue.Stats(), nil
}

func (s *QueueService) GetResult(ctx context.Context, req ResultRequest) (*entity.ExtractionResult, error) {
	if req.ResultID != "" {
		id, err := uuid.Parse(req.ResultID)
		if err != nil {
			return nil, fmt.Errorf("%w: result_id must be a UUID", common.ErrInvalidInput)
		}
		return s.results.GetResult(ctx, id)
	}
	if strings.TrimSpace(req.DocumentRef) == "" {
		return nil, fmt.Errorf("%w: result_id or document_ref is required", common.ErrInvalidInput)
	}
	return s.results.GetLatestResult(ctx, strings.TrimSpace(req.DocumentRef))
}

func (s *QueueService) ListAttempts(ctx context.Context, req ItemRequest) ([]entity.EngineAttempt, error) {
	id, err := parseQueueID(req.QueueID)
	if err != nil {
		return nil, err
	}
	return s.results.ListAttempts(ctx, id)
}

func (s *QueueService) ExportXLSX(ctx context.Context, req StatusRequest) (ExportResponse, error) {
	ref := strings.TrimSpace(req.DocumentRef)
	if ref == "" {
		return ExportResponse{}, fmt.Errorf("%w: document_ref is required", common.ErrInvalidInput)
	}
	b, err := s.exporter.ExportLatestXLSX(ctx, ref)
	if err != nil {
		return ExportResponse{}, err
	}
	return ExportResponse{DocumentRef: ref, XLSXBase64: base64.StdEncoding.EncodeToString(b)}, nil
}
