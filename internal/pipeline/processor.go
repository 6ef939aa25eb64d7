// Package pipeline is the per-document worker body: read, enhance, run the
// engine cascade, reconcile, normalize, persist.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/engine"
	"github.com/joseph-ayodele/docextract/internal/enhance"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/events"
	"github.com/joseph-ayodele/docextract/internal/normalize"
	"github.com/joseph-ayodele/docextract/internal/orchestrator"
	"github.com/joseph-ayodele/docextract/internal/queue"
	"github.com/joseph-ayodele/docextract/internal/reconcile"
	"github.com/joseph-ayodele/docextract/internal/repository"
	"github.com/joseph-ayodele/docextract/internal/storage"
)

// storeTimeout bounds result and attempt writes, which run detached from the
// processing deadline.
const storeTimeout = 15 * time.Second

type Config struct {
	// DefaultLocale drives normalization when the item carries no language hint.
	DefaultLocale string
	Enhance       enhance.Options
}

type Option func(*Processor)

func WithPublisher(pub events.Publisher) Option {
	return func(p *Processor) {
		if pub != nil {
			p.pub = pub
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// Processor implements queue.Processor.
type Processor struct {
	cfg        Config
	source     storage.Source
	preproc    *enhance.Preprocessor
	orch       *orchestrator.Orchestrator
	normalizer *normalize.Normalizer
	results    repository.ResultRepository
	pub        events.Publisher
	logger     *slog.Logger
	now        func() time.Time
}

var _ queue.Processor = (*Processor)(nil)

func NewProcessor(
	cfg Config,
	source storage.Source,
	orch *orchestrator.Orchestrator,
	normalizer *normalize.Normalizer,
	results repository.ResultRepository,
	opts ...Option,
) *Processor {
	p := &Processor{
		cfg:        cfg,
		source:     source,
		orch:       orch,
		normalizer: normalizer,
		results:    results,
		pub:        events.Discard{},
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	p.preproc = enhance.NewPreprocessor(p.logger)
	return p
}

// Process runs one queue item end to end. The returned error is classified by
// the queue: ErrAllEnginesFailed and storage errors are retried, a missing or
// unreadable document is not.
func (p *Processor) Process(ctx context.Context, item entity.QueueItem) (queue.Outcome, error) {
	start := p.now()
	log := p.logger.With("queue_id", item.ID, "document_ref", item.DocumentRef)

	doc, err := p.source.Read(ctx, item.DocumentRef)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return queue.Outcome{}, fmt.Errorf("%w: %w", common.ErrInvalidInput, err)
		}
		return queue.Outcome{}, fmt.Errorf("read document: %w", err)
	}

	image := doc.Data
	contentType := doc.ContentType
	var records []entity.EnhancementRecord
	var applied []string
	if item.EnableEnhancement && strings.HasPrefix(contentType, "image/") {
		out, rec := p.preproc.Enhance(doc.Data, p.cfg.Enhance)
		if !rec.Empty() {
			image = out
			contentType = "image/png"
			records = append(records, rec)
			applied = append(applied, rec.Operations...)
		}
	}

	order := p.orch.Cascade(item.PreferredEngine)
	cand, attempts, runErr := p.orch.Run(ctx, image, item.LanguageHints, order, engine.Options{
		DetectTables: item.EnableTableDetection,
		DetectForms:  item.EnableFormDetection,
		ContentType:  contentType,
	})
	// The cascade may have used up ctx; what it produced is still recorded.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	p.publishFallbacks(storeCtx, item, attempts)

	if runErr != nil {
		if err := p.results.SaveAttempts(storeCtx, item.ID, item.DocumentRef, attempts); err != nil {
			log.Error("save attempts failed", "error", err)
		}
		return queue.Outcome{}, runErr
	}

	pages := reconcile.Pages(cand.Raw)
	tables, forms := reconcile.Structure(cand.Raw, reconcile.Options{
		Tables: item.EnableTableDetection,
		Forms:  item.EnableFormDetection,
	})

	locale := p.cfg.DefaultLocale
	if len(item.LanguageHints) > 0 && strings.TrimSpace(item.LanguageHints[0]) != "" {
		locale = item.LanguageHints[0]
	}
	fullText := cand.Raw.Text()
	normalized := p.normalizer.Normalize(fullText, locale)

	finished := p.now()
	res := &entity.ExtractionResult{
		ID:                  uuid.New(),
		QueueID:             item.ID,
		DocumentRef:         item.DocumentRef,
		Engine:              cand.Engine,
		EngineVersion:       cand.EngineVersion,
		FullText:            fullText,
		FullTextNormalized:  normalized,
		Locale:              locale,
		PageResults:         pages,
		OverallConfidence:   cand.Confidence,
		DetectedTables:      tables,
		DetectedFormFields:  forms,
		Patterns:            normalize.ExtractPatterns(normalized),
		ProcessingTimeMs:    finished.Sub(start).Milliseconds(),
		EnhancementsApplied: applied,
		Enhancements:        records,
		NeedsManualReview:   cand.NeedsManualReview,
		ReviewReason:        cand.ReviewReason,
		Attempts:            attempts,
		CreatedAt:           finished.UTC(),
	}
	if err := p.results.SaveResult(storeCtx, res); err != nil {
		return queue.Outcome{}, fmt.Errorf("save result: %w", err)
	}

	log.Info("extraction complete",
		"result_id", res.ID,
		"engine", res.Engine,
		"confidence", res.OverallConfidence,
		"pages", len(pages),
		"tables", len(tables),
		"form_fields", len(forms),
		"needs_review", res.NeedsManualReview,
		"duration_ms", res.ProcessingTimeMs,
	)
	return queue.Outcome{
		ResultID:    res.ID,
		Engine:      res.Engine,
		Confidence:  res.OverallConfidence,
		NeedsReview: res.NeedsManualReview,
	}, nil
}

// publishFallbacks emits OCR_ENGINE_FALLBACK for every attempt the cascade
// moved past, i.e. all but the last.
func (p *Processor) publishFallbacks(ctx context.Context, item entity.QueueItem, attempts []entity.EngineAttempt) {
	for i := 0; i < len(attempts)-1; i++ {
		a := attempts[i]
		p.pub.Publish(ctx, events.Event{
			Type:        constants.EventEngineFallback,
			DocumentRef: item.DocumentRef,
			QueueID:     item.ID,
			OccurredAt:  a.CompletedAt.UTC(),
			Attempt:     item.AttemptCount + 1,
			Engine:      a.Engine,
			Confidence:  a.Confidence,
			Error:       a.ErrorMessage,
		})
	}
}
