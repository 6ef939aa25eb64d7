// Package repository persists extraction results, engine attempts and queue
// item snapshots in Postgres (pgx) or SQLite (modernc).
package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

//go:embed migrations
var migrationsFS embed.FS

// ResultRepository stores immutable extraction results and the engine
// attempts behind them.
type ResultRepository interface {
	// SaveResult inserts the result and its attempts in one transaction.
	SaveResult(ctx context.Context, res *entity.ExtractionResult) error
	// SaveAttempts records attempts of a run that produced no result.
	SaveAttempts(ctx context.Context, queueID uuid.UUID, documentRef string, attempts []entity.EngineAttempt) error
	GetResult(ctx context.Context, id uuid.UUID) (*entity.ExtractionResult, error)
	GetLatestResult(ctx context.Context, documentRef string) (*entity.ExtractionResult, error)
	ListAttempts(ctx context.Context, queueID uuid.UUID) ([]entity.EngineAttempt, error)
}

// QueueRepository is the durable queue journal. SaveItem ignores snapshots
// whose version is not newer than the stored row.
type QueueRepository interface {
	SaveItem(ctx context.Context, item entity.QueueItem) error
	LoadActive(ctx context.Context) ([]entity.QueueItem, error)
	GetItem(ctx context.Context, id uuid.UUID) (*entity.QueueItem, error)
}

type Store interface {
	ResultRepository
	QueueRepository
	Ping(ctx context.Context) error
	Close()
}

const (
	upsertItemSQL = `
		INSERT INTO queue_items (id, document_ref, priority, status, version, queued_at, updated_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			document_ref = excluded.document_ref,
			priority     = excluded.priority,
			status       = excluded.status,
			version      = excluded.version,
			queued_at    = excluded.queued_at,
			updated_at   = excluded.updated_at,
			payload      = excluded.payload
		WHERE queue_items.version < excluded.version`

	activeItemsSQL = `
		SELECT payload FROM queue_items
		WHERE status IN ('QUEUED', 'PROCESSING')
		ORDER BY queued_at`

	itemByIDSQL = `SELECT payload FROM queue_items WHERE id = $1`

	insertResultSQL = `
		INSERT INTO extraction_results (id, queue_id, document_ref, engine, overall_confidence, needs_manual_review, created_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	insertAttemptSQL = `
		INSERT INTO engine_attempts (queue_id, result_id, document_ref, engine, attempt_order, status, confidence, error_message, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	resultByIDSQL = `SELECT payload FROM extraction_results WHERE id = $1`

	latestResultSQL = `
		SELECT payload FROM extraction_results
		WHERE document_ref = $1
		ORDER BY created_at DESC
		LIMIT 1`

	attemptsSQL = `
		SELECT engine, attempt_order, status, confidence, error_message, started_at, completed_at
		FROM engine_attempts
		WHERE queue_id = $1
		ORDER BY started_at, id`
)

type attemptRow struct {
	Engine       string    `db:"engine"`
	Order        int       `db:"attempt_order"`
	Status       string    `db:"status"`
	Confidence   *float64  `db:"confidence"`
	ErrorMessage string    `db:"error_message"`
	StartedAt    time.Time `db:"started_at"`
	CompletedAt  time.Time `db:"completed_at"`
}

func (r attemptRow) toEntity() entity.EngineAttempt {
	return entity.EngineAttempt{
		Engine:       constants.EngineID(r.Engine),
		Order:        r.Order,
		Confidence:   r.Confidence,
		Status:       constants.AttemptStatus(r.Status),
		ErrorMessage: r.ErrorMessage,
		StartedAt:    r.StartedAt.UTC(),
		CompletedAt:  r.CompletedAt.UTC(),
	}
}

func decodeItem(payload []byte) (entity.QueueItem, error) {
	var it entity.QueueItem
	if err := json.Unmarshal(payload, &it); err != nil {
		return entity.QueueItem{}, fmt.Errorf("decode queue item: %w", err)
	}
	return it, nil
}

func decodeResult(payload []byte) (*entity.ExtractionResult, error) {
	var res entity.ExtractionResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode extraction result: %w", err)
	}
	return &res, nil
}

// runMigrations applies the embedded migrations for dialect ("postgres" or
// "sqlite"). The driver, and the database handle behind it, is closed on return.
func runMigrations(dialect string, drv database.Driver) error {
	src, err := iofs.New(migrationsFS, "migrations/"+dialect)
	if err != nil {
		_ = drv.Close()
		return fmt.Errorf("open migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, dialect, drv)
	if err != nil {
		_ = src.Close()
		_ = drv.Close()
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
