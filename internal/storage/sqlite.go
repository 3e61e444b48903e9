package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/ruiji/internal/models"
	"go.uber.org/zap"
)

// SQLiteStore implements FeatureStore with one row per record. The vector and its metadata are
// written by a single INSERT, so there is never a pending half-record to skip.
type SQLiteStore struct {
	db     *sql.DB
	dims   int
	logger *zap.Logger
	now    func() time.Time
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string, dimensions int, opts ...Option) (*SQLiteStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", "file:"+dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	o := buildOptions(opts)
	return &SQLiteStore{db: db, dims: dimensions, logger: o.logger, now: o.now}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS features (
		id TEXT PRIMARY KEY,
		model TEXT NOT NULL,
		created_at TEXT NOT NULL,
		source_reference TEXT NOT NULL DEFAULT '',
		dimensions INTEGER NOT NULL,
		vector BLOB NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_features_created_at ON features(created_at);
	`
	_, err := db.Exec(schema)
	return err
}

// Dimensions returns the fixed vector length of the store.
func (s *SQLiteStore) Dimensions() int { return s.dims }

// Type returns the backend identifier.
func (s *SQLiteStore) Type() string { return "sqlite" }

// Put inserts a normalized copy of vector. The insert is detached from ctx cancellation.
func (s *SQLiteStore) Put(ctx context.Context, vector []float32, meta models.Metadata) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	unit, err := prepare(vector, s.dims)
	if err != nil {
		return "", err
	}
	id := newID()
	meta = stamp(meta, id, s.now)
	payload, err := EncodeVector(unit)
	if err != nil {
		return "", models.NewError(models.KindStoreWriteFailed, "put", id, err)
	}
	_, err = s.db.ExecContext(context.WithoutCancel(ctx),
		`INSERT INTO features (id, model, created_at, source_reference, dimensions, vector)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, meta.Model, meta.CreatedAt.Format(time.RFC3339Nano), meta.SourceReference, len(unit), payload,
	)
	if err != nil {
		return "", models.NewError(models.KindStoreWriteFailed, "put", id, err)
	}
	s.logger.Debug("feature stored", zap.String("id", id), zap.String("model", meta.Model))
	return id, nil
}

// Get returns the record for id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Record, error) {
	if !validID(id) {
		return nil, models.NewError(models.KindNotFound, "get", id, nil)
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, model, created_at, source_reference, dimensions, vector
		 FROM features WHERE id = ?`, id,
	)
	rec, err := s.scanRecord(ctx, "get", row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewError(models.KindNotFound, "get", id, nil)
	}
	return rec, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord decodes one row. Only unusable stored data is Corrupt; driver failures and
// cancellation are returned as they are.
func (s *SQLiteStore) scanRecord(ctx context.Context, op string, row rowScanner) (*models.Record, error) {
	var (
		meta      models.Metadata
		createdAt string
		dims      int
		payload   []byte
	)
	if err := row.Scan(&meta.ID, &meta.Model, &createdAt, &meta.SourceReference, &dims, &payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%s: scan row: %w", op, err)
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, models.NewError(models.KindCorrupt, op, meta.ID, fmt.Errorf("parse created_at: %w", err))
	}
	meta.CreatedAt = t
	if dims != s.dims {
		return nil, models.NewError(models.KindCorrupt, op, meta.ID,
			fmt.Errorf("vector dimension mismatch: got %d, expected %d", dims, s.dims))
	}
	vec, err := decodeChecked(op, meta.ID, payload, s.dims)
	if err != nil {
		return nil, err
	}
	return &models.Record{ID: meta.ID, Vector: vec, Metadata: meta}, nil
}

// List streams records through a cursor; rows are decoded one at a time.
func (s *SQLiteStore) List(ctx context.Context) iter.Seq2[*models.Record, error] {
	return func(yield func(*models.Record, error) bool) {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, model, created_at, source_reference, dimensions, vector FROM features`,
		)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				yield(nil, ctxErr)
				return
			}
			yield(nil, models.NewError(models.KindStoreWriteFailed, "list", "", err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			rec, err := s.scanRecord(ctx, "list", rows)
			if err != nil {
				if !models.IsRecordLevel(err) {
					yield(nil, err)
					return
				}
				if !yield(nil, err) {
					return
				}
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				yield(nil, ctxErr)
				return
			}
			yield(nil, models.NewError(models.KindStoreWriteFailed, "list", "", err))
		}
	}
}

// Delete removes the row for id.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM features WHERE id = ?`, id); err != nil {
		return models.NewError(models.KindStoreWriteFailed, "delete", id, err)
	}
	s.logger.Debug("feature deleted", zap.String("id", id))
	return nil
}

// Count returns the total number of records.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM features`).Scan(&count)
	return count, err
}

// Sweep is a no-op: a single-row insert leaves no partial artifacts.
func (s *SQLiteStore) Sweep(ctx context.Context, _ time.Duration) (int, error) {
	return 0, ctx.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
