// Package app assembles the extraction stack from a common.Config.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/engine"
	"github.com/joseph-ayodele/docextract/internal/engine/docanalysis"
	"github.com/joseph-ayodele/docextract/internal/engine/tesseract"
	"github.com/joseph-ayodele/docextract/internal/engine/vision"
	"github.com/joseph-ayodele/docextract/internal/enhance"
	"github.com/joseph-ayodele/docextract/internal/events"
	"github.com/joseph-ayodele/docextract/internal/normalize"
	"github.com/joseph-ayodele/docextract/internal/orchestrator"
	"github.com/joseph-ayodele/docextract/internal/pipeline"
	"github.com/joseph-ayodele/docextract/internal/repository"
	"github.com/joseph-ayodele/docextract/internal/storage"
)

// NewLogger builds the slog logger described by cfg.
func NewLogger(cfg common.LogConfig, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// OpenStore opens the configured database and applies migrations.
func OpenStore(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (repository.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return repository.OpenSQLite(ctx, cfg.SQLitePath, logger)
	case "postgres":
		return repository.Open(ctx, repository.Config{
			DSN:              cfg.DSN,
			MaxConns:         cfg.MaxConns,
			MinConns:         cfg.MinConns,
			MaxConnLifetime:  cfg.MaxConnLifetime.Duration,
			MaxConnIdleTime:  cfg.MaxConnIdleTime.Duration,
			DialTimeout:      cfg.DialTimeout.Duration,
			StatementTimeout: cfg.StatementTimeout.Duration,
		}, logger)
	}
	return nil, fmt.Errorf("%w: unknown database driver %q", common.ErrInvalidInput, cfg.Driver)
}

// OpenSource returns the document source for the configured backend.
func OpenSource(ctx context.Context, cfg common.StorageConfig, logger *slog.Logger) (storage.Source, error) {
	switch cfg.Backend {
	case "fs":
		return storage.NewFSSource(cfg.Root, logger)
	case "s3":
		return storage.NewS3Source(ctx, storage.S3Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		}, logger)
	}
	return nil, fmt.Errorf("%w: unknown storage backend %q", common.ErrInvalidInput, cfg.Backend)
}

// BuildEngines registers every enabled engine behind a timeout and rate-limit guard.
func BuildEngines(cfg map[string]common.EngineConfig, logger *slog.Logger) (*engine.Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	reg, err := engine.NewRegistry()
	if err != nil {
		return nil, err
	}
	for name, ec := range cfg {
		if !ec.Enabled {
			logger.Info("engine disabled", "engine", name)
			continue
		}
		var a engine.Adapter
		switch constants.NormalizeEngineID(name) {
		case constants.EngineVision:
			a = vision.NewClient(vision.Config{Endpoint: ec.Endpoint, APIKey: ec.APIKey, Timeout: ec.Timeout.Duration}, logger)
		case constants.EngineDocAnalysis:
			a = docanalysis.NewClient(docanalysis.Config{
				Endpoint: ec.Endpoint,
				APIKey:   ec.APIKey,
				Timeout:  ec.Timeout.Duration,
				Tables:   ec.Tables,
				Forms:    ec.Forms,
			}, logger)
		case constants.EngineTesseract:
			a, err = localTesseract(ec, logger)
			if err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: unknown engine %q", common.ErrInvalidInput, name)
		}
		g := engine.Guard(a,
			engine.WithTimeout(ec.Timeout.Duration),
			engine.WithRateLimit(ec.RatePerSecond, ec.Burst),
			engine.WithGuardLogger(logger),
		)
		if err := reg.Register(g); err != nil {
			return nil, err
		}
		logger.Info("engine registered", "engine", a.ID(), "timeout", g.Timeout().String(), "rate_per_second", ec.RatePerSecond)
	}
	if reg.Len() == 0 {
		return nil, fmt.Errorf("%w: no engines enabled", common.ErrInvalidInput)
	}
	return reg, nil
}

func localTesseract(ec common.EngineConfig, logger *slog.Logger) (engine.Adapter, error) {
	switch ec.Backend {
	case "", "cli":
		return tesseract.New(tesseract.Config{Tesseract: ec.Binary, TessdataDir: ec.TessdataDir}, logger), nil
	case "native":
		return nativeTesseract(ec, logger)
	}
	return nil, fmt.Errorf("%w: unknown tesseract backend %q", common.ErrInvalidInput, ec.Backend)
}

// NewPublisher returns the lifecycle-event sink: structured logs, plus Kafka
// when brokers are configured. The returned close func is never nil.
func NewPublisher(cfg common.EventsConfig, logger *slog.Logger) (events.Publisher, func() error, error) {
	logPub := events.NewLogPublisher(logger)
	brokers := events.SplitBrokers(cfg.KafkaBrokers)
	if len(brokers) == 0 {
		return logPub, func() error { return nil }, nil
	}
	kp, err := events.NewKafkaPublisher(events.KafkaConfig{Brokers: brokers, Topic: cfg.KafkaTopic}, logger)
	if err != nil {
		return nil, nil, err
	}
	return events.Multi{logPub, kp}, kp.Close, nil
}

// EnhanceOptions maps the enhance config section onto preprocessor options.
func EnhanceOptions(cfg common.EnhanceConfig) enhance.Options {
	return enhance.Options{
		MaxDimension:  cfg.MaxDimension,
		ClipPercent:   cfg.ClipPercent,
		SharpenAmount: cfg.SharpenAmount,
		EstimateSkew:  cfg.EstimateSkew,
	}
}

// Stack is the assembled extraction pipeline minus the queue.
type Stack struct {
	Store     repository.Store
	Source    storage.Source
	Registry  *engine.Registry
	Processor *pipeline.Processor
}

func (s *Stack) Close() {
	if s.Store != nil {
		s.Store.Close()
	}
}

// Build opens storage and the database, then wires engines, orchestrator,
// normalizer and the per-document processor.
func Build(ctx context.Context, cfg *common.Config, pub events.Publisher, logger *slog.Logger) (*Stack, error) {
	if logger == nil {
		logger = slog.Default()
	}
	reg, err := BuildEngines(cfg.Engines, logger)
	if err != nil {
		return nil, err
	}

	var normOpts []normalize.Option
	normOpts = append(normOpts, normalize.WithLogger(logger))
	if cfg.Normalizer.RepairTable != "" {
		normOpts = append(normOpts, normalize.WithRepairTable(cfg.Normalizer.RepairTable))
	}
	norm, err := normalize.New(normOpts...)
	if err != nil {
		return nil, fmt.Errorf("load normalizer tables: %w", err)
	}

	order := make([]constants.EngineID, 0, len(cfg.Orchestrator.DefaultOrder))
	for _, name := range cfg.Orchestrator.DefaultOrder {
		id := constants.NormalizeEngineID(name)
		if _, ok := reg.Get(id); !ok {
			logger.Warn("engine in default order is not enabled", "engine", id)
			continue
		}
		order = append(order, id)
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("%w: default engine order has no enabled engine", common.ErrInvalidInput)
	}
	orch := orchestrator.New(reg, orchestrator.Config{
		AcceptanceThreshold: cfg.Orchestrator.AcceptanceThreshold,
		ReviewThreshold:     cfg.Orchestrator.ReviewThreshold,
		DefaultOrder:        order,
	}, logger)

	src, err := OpenSource(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("open document storage: %w", err)
	}
	store, err := OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if pub == nil {
		pub = events.NewLogPublisher(logger)
	}
	proc := pipeline.NewProcessor(
		pipeline.Config{
			DefaultLocale: cfg.Normalizer.DefaultLocale,
			Enhance:       EnhanceOptions(cfg.Enhance),
		},
		src, orch, norm, store,
		pipeline.WithPublisher(pub),
		pipeline.WithLogger(logger),
	)
	return &Stack{Store: store, Source: src, Registry: reg, Processor: proc}, nil
}
