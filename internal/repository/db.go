package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

type Config struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// PGStore is the Postgres-backed Store.
type PGStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open creates a pgx pool and applies migrations.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*PGStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("connecting to database")
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, err
	}

	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.MinConns = cfg.MinConns
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "docextract"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprint(cfg.StatementTimeout.Milliseconds())
	}

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, err
	}

	// migrate drives database/sql; the wrapper borrows from the pool and is
	// closed once migrations finish
	drv, err := migratepgx.WithInstance(stdlib.OpenDBFromPool(pool), &migratepgx.Config{})
	if err == nil {
		err = runMigrations("postgres", drv)
	}
	if err != nil {
		pool.Close()
		logger.Error("database migration failed", "error", err)
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}

	logger.Info("successfully connected to database")
	return &PGStore{pool: pool, logger: logger}, nil
}

// Close closes the database connections gracefully
func (s *PGStore) Close() {
	s.logger.Info("closing database connections")
	s.pool.Close()
	s.logger.Info("database connections closed")
}

// Ping checks connectivity.
func (s *PGStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// HealthCheck pings with an optional timeout to catch DSN issues early.
func HealthCheck(ctx context.Context, s Store, timeout time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	logger.Debug("pinging database")
	if err := s.Ping(ctx); err != nil {
		logger.Error("database ping failed", "error", err)
		return fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	logger.Debug("database ping successful")
	return nil
}

func (s *PGStore) SaveItem(ctx context.Context, item entity.QueueItem) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode queue item: %w", err)
	}
	_, err = s.pool.Exec(ctx, upsertItemSQL,
		item.ID, item.DocumentRef, int(item.Priority), string(item.Status), item.Version,
		item.QueuedAt, time.Now().UTC(), payload,
	)
	if err != nil {
		s.logger.Error("queue_item save failed", "queue_id", item.ID, "error", err)
		return fmt.Errorf("%w: save queue item: %v", common.ErrDatabase, err)
	}
	return nil
}

func (s *PGStore) LoadActive(ctx context.Context) ([]entity.QueueItem, error) {
	rows, err := s.pool.Query(ctx, activeItemsSQL)
	if err != nil {
		return nil, fmt.Errorf("%w: load active items: %v", common.ErrDatabase, err)
	}
	payloads, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("%w: load active items: %v", common.ErrDatabase, err)
	}
	out := make([]entity.QueueItem, 0, len(payloads))
	for _, p := range payloads {
		it, err := decodeItem(p)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, nil
}

func (s *PGStore) GetItem(ctx context.Context, id uuid.UUID) (*entity.QueueItem, error) {
	var payload []byte
	if err := s.pool.QueryRow(ctx, itemByIDSQL, id).Scan(&payload); err != nil {
		return nil, s.notFound(err, "queue item", id.String())
	}
	it, err := decodeItem(payload)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (s *PGStore) SaveResult(ctx context.Context, res *entity.ExtractionResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode extraction result: %w", err)
	}
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertResultSQL,
			res.ID, res.QueueID, res.DocumentRef, string(res.Engine), res.OverallConfidence,
			res.NeedsManualReview, res.CreatedAt, payload,
		); err != nil {
			return err
		}
		resultID := res.ID
		return insertAttemptsPG(ctx, tx, res.QueueID, &resultID, res.DocumentRef, res.Attempts)
	})
	if err != nil {
		s.logger.Error("extraction_result save failed", "result_id", res.ID, "document_ref", res.DocumentRef, "error", err)
		return fmt.Errorf("%w: save result: %v", common.ErrDatabase, err)
	}
	s.logger.Info("extraction_result saved", "result_id", res.ID, "document_ref", res.DocumentRef, "engine", res.Engine)
	return nil
}

func (s *PGStore) SaveAttempts(ctx context.Context, queueID uuid.UUID, documentRef string, attempts []entity.EngineAttempt) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return insertAttemptsPG(ctx, tx, queueID, nil, documentRef, attempts)
	})
	if err != nil {
		return fmt.Errorf("%w: save attempts: %v", common.ErrDatabase, err)
	}
	return nil
}

func insertAttemptsPG(ctx context.Context, tx pgx.Tx, queueID uuid.UUID, resultID *uuid.UUID, ref string, attempts []entity.EngineAttempt) error {
	for _, a := range attempts {
		if _, err := tx.Exec(ctx, insertAttemptSQL,
			queueID, resultID, ref, string(a.Engine), a.Order, string(a.Status),
			a.Confidence, a.ErrorMessage, a.StartedAt, a.CompletedAt,
		); err != nil {
			return err
		}
	}
	return nil
}

func (s *PGStore) GetResult(ctx context.Context, id uuid.UUID) (*entity.ExtractionResult, error) {
	var payload []byte
	if err := s.pool.QueryRow(ctx, resultByIDSQL, id).Scan(&payload); err != nil {
		return nil, s.notFound(err, "extraction result", id.String())
	}
	return decodeResult(payload)
}

func (s *PGStore) GetLatestResult(ctx context.Context, documentRef string) (*entity.ExtractionResult, error) {
	var payload []byte
	if err := s.pool.QueryRow(ctx, latestResultSQL, documentRef).Scan(&payload); err != nil {
		return nil, s.notFound(err, "extraction result for", documentRef)
	}
	return decodeResult(payload)
}

func (s *PGStore) ListAttempts(ctx context.Context, queueID uuid.UUID) ([]entity.EngineAttempt, error) {
	rows, err := s.pool.Query(ctx, attemptsSQL, queueID)
	if err != nil {
		return nil, fmt.Errorf("%w: list attempts: %v", common.ErrDatabase, err)
	}
	recs, err := pgx.CollectRows(rows, pgx.RowToStructByName[attemptRow])
	if err != nil {
		return nil, fmt.Errorf("%w: list attempts: %v", common.ErrDatabase, err)
	}
	out := make([]entity.EngineAttempt, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.toEntity())
	}
	return out, nil
}

func (s *PGStore) notFound(err error, what, key string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", common.ErrNotFound, what, key)
	}
	s.logger.Error("query failed", "what", what, "key", key, "error", err)
	return fmt.Errorf("%w: %v", common.ErrDatabase, err)
}
