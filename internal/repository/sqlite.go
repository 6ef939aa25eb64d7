package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

// SQLiteStore is the single-node Store used by the CLI and small deployments.
type SQLiteStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) the database file at path and applies
// migrations. Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn := path
	if path != ":memory:" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute database path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = abs
	}
	dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_time_format=sqlite"

	db, err := sqlx.ConnectContext(ctx, "sqlite", dsn)
	if err != nil {
		logger.Error("failed to connect to database", "path", path, "error", err)
		return nil, fmt.Errorf("%w: connect: %v", common.ErrDatabase, err)
	}
	// one writer keeps SQLITE_BUSY out of the queue journal path; it also
	// keeps a :memory: database alive on a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := migrateSQLite(ctx, db, dsn, path == ":memory:"); err != nil {
		_ = db.Close()
		logger.Error("database migration failed", "error", err)
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}

	logger.Info("sqlite store ready", "path", path)
	return &SQLiteStore{db: db, logger: logger}, nil
}

// migrateSQLite runs migrations on a dedicated handle, since the migrate
// driver closes its database when done. A :memory: database only exists on
// the store's own connection, so it is migrated in place without closing.
func migrateSQLite(ctx context.Context, db *sqlx.DB, dsn string, inMemory bool) error {
	if inMemory {
		src, err := migrationsFS.ReadFile("migrations/sqlite/0001_init.up.sql")
		if err != nil {
			return err
		}
		_, err = db.ExecContext(ctx, string(src))
		return err
	}
	mdb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return err
	}
	drv, err := migratesqlite.WithInstance(mdb, &migratesqlite.Config{})
	if err != nil {
		_ = mdb.Close()
		return err
	}
	return runMigrations("sqlite", drv)
}

func (s *SQLiteStore) Close() {
	if err := s.db.Close(); err != nil {
		s.logger.Error("failed to close sqlite database", "error", err)
	}
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) SaveItem(ctx context.Context, item entity.QueueItem) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode queue item: %w", err)
	}
	_, err = s.db.ExecContext(ctx, upsertItemSQL,
		item.ID.String(), item.DocumentRef, int(item.Priority), string(item.Status), item.Version,
		item.QueuedAt.UTC(), time.Now().UTC(), string(payload),
	)
	if err != nil {
		s.logger.Error("queue_item save failed", "queue_id", item.ID, "error", err)
		return fmt.Errorf("%w: save queue item: %v", common.ErrDatabase, err)
	}
	return nil
}

func (s *SQLiteStore) LoadActive(ctx context.Context) ([]entity.QueueItem, error) {
	var payloads []string
	if err := s.db.SelectContext(ctx, &payloads, activeItemsSQL); err != nil {
		return nil, fmt.Errorf("%w: load active items: %v", common.ErrDatabase, err)
	}
	out := make([]entity.QueueItem, 0, len(payloads))
	for _, p := range payloads {
		it, err := decodeItem([]byte(p))
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, nil
}

func (s *SQLiteStore) GetItem(ctx context.Context, id uuid.UUID) (*entity.QueueItem, error) {
	var payload string
	if err := s.db.GetContext(ctx, &payload, itemByIDSQL, id.String()); err != nil {
		return nil, s.notFound(err, "queue item", id.String())
	}
	it, err := decodeItem([]byte(payload))
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (s *SQLiteStore) SaveResult(ctx context.Context, res *entity.ExtractionResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode extraction result: %w", err)
	}
	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, insertResultSQL,
			res.ID.String(), res.QueueID.String(), res.DocumentRef, string(res.Engine), res.OverallConfidence,
			res.NeedsManualReview, res.CreatedAt.UTC(), string(payload),
		); err != nil {
			return err
		}
		resultID := res.ID.String()
		return insertAttemptsSQLite(ctx, tx, res.QueueID, &resultID, res.DocumentRef, res.Attempts)
	})
	if err != nil {
		s.logger.Error("extraction_result save failed", "result_id", res.ID, "document_ref", res.DocumentRef, "error", err)
		return fmt.Errorf("%w: save result: %v", common.ErrDatabase, err)
	}
	s.logger.Info("extraction_result saved", "result_id", res.ID, "document_ref", res.DocumentRef, "engine", res.Engine)
	return nil
}

func (s *SQLiteStore) SaveAttempts(ctx context.Context, queueID uuid.UUID, documentRef string, attempts []entity.EngineAttempt) error {
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		return insertAttemptsSQLite(ctx, tx, queueID, nil, documentRef, attempts)
	})
	if err != nil {
		return fmt.Errorf("%w: save attempts: %v", common.ErrDatabase, err)
	}
	return nil
}

func insertAttemptsSQLite(ctx context.Context, tx *sqlx.Tx, queueID uuid.UUID, resultID *string, ref string, attempts []entity.EngineAttempt) error {
	for _, a := range attempts {
		if _, err := tx.ExecContext(ctx, insertAttemptSQL,
			queueID.String(), resultID, ref, string(a.Engine), a.Order, string(a.Status),
			a.Confidence, a.ErrorMessage, a.StartedAt.UTC(), a.CompletedAt.UTC(),
		); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) GetResult(ctx context.Context, id uuid.UUID) (*entity.ExtractionResult, error) {
	var payload string
	if err := s.db.GetContext(ctx, &payload, resultByIDSQL, id.String()); err != nil {
		return nil, s.notFound(err, "extraction result", id.String())
	}
	return decodeResult([]byte(payload))
}

func (s *SQLiteStore) GetLatestResult(ctx context.Context, documentRef string) (*entity.ExtractionResult, error) {
	var payload string
	if err := s.db.GetContext(ctx, &payload, latestResultSQL, documentRef); err != nil {
		return nil, s.notFound(err, "extraction result for", documentRef)
	}
	return decodeResult([]byte(payload))
}

func (s *SQLiteStore) ListAttempts(ctx context.Context, queueID uuid.UUID) ([]entity.EngineAttempt, error) {
	var recs []attemptRow
	if err := s.db.SelectContext(ctx, &recs, attemptsSQL, queueID.String()); err != nil {
		return nil, fmt.Errorf("%w: list attempts: %v", common.ErrDatabase, err)
	}
	out := make([]entity.EngineAttempt, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.toEntity())
	}
	return out, nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) notFound(err error, what, key string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", common.ErrNotFound, what, key)
	}
	s.logger.Error("query failed", "what", what, "key", key, "error", err)
	return fmt.Errorf("%w: %v", common.ErrDatabase, err)
}
