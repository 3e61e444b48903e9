// Package storage provides durable persistence of embedding records: a unit-norm vector plus
// a metadata sidecar per id, with crash-consistent writes and streaming enumeration.
package storage

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/ruiji/internal/config"
	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/pkg/utils"
	"go.uber.org/zap"
)

// FeatureStore defines embedding record persistence operations.
//
// Records are immutable. No state is cached between calls; every Get and List re-reads
// durable storage.
type FeatureStore interface {
	// Put validates and normalizes vector, assigns a fresh id, and persists the record.
	Put(ctx context.Context, vector []float32, meta models.Metadata) (string, error)
	// Get returns the record for id, failing with NotFound or Corrupt.
	Get(ctx context.Context, id string) (*models.Record, error)
	// List streams every complete record. Corrupt records are yielded as record-level errors;
	// any other error ends the sequence.
	List(ctx context.Context) iter.Seq2[*models.Record, error]
	// Delete removes a record; deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error
	// Count returns the number of complete records.
	Count(ctx context.Context) (int64, error)
	// Sweep removes partial artifacts left by interrupted writes that are older than olderThan.
	Sweep(ctx context.Context, olderThan time.Duration) (int, error)

	Dimensions() int
	Type() string
	Close() error
}

// Option configures a store.
type Option func(*options)

type options struct {
	logger *zap.Logger
	now    func() time.Time
}

// WithLogger sets a logger for debug output (records written, deleted, swept).
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock overrides the clock used to stamp CreatedAt when the caller leaves it zero.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = utils.OrNop(o.logger)
	return o
}

// New creates the feature store selected by cfg.Backend ("files" by default, or "sqlite").
func New(cfg config.StorageConfig, opts ...Option) (FeatureStore, error) {
	switch cfg.Backend {
	case config.BackendFiles, "":
		return NewFileStore(cfg.FeaturesDir, cfg.Dimensions, opts...)
	case config.BackendSQLite:
		return NewSQLiteStore(cfg.DatabasePath, cfg.Dimensions, opts...)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: files, sqlite)", cfg.Backend)
	}
}

// validID reports whether id is a canonical UUID string. Anything else cannot name a record,
// which also keeps ids from escaping the storage root.
func validID(id string) bool {
	u, err := uuid.Parse(id)
	return err == nil && u.String() == id
}

var newID = uuid.NewString

// prepare validates vector against the store dimension and returns a unit-norm copy.
func prepare(vector []float32, dims int) ([]float32, error) {
	if len(vector) == 0 {
		return nil, models.NewError(models.KindInvalidArgument, "put", "", fmt.Errorf("empty vector"))
	}
	if len(vector) != dims {
		return nil, models.NewError(models.KindInvalidArgument, "put", "",
			fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vector), dims))
	}
	if !utils.IsFinite(vector) {
		return nil, models.NewError(models.KindInvalidArgument, "put", "", fmt.Errorf("vector has non-finite components"))
	}
	unit, norm := utils.Normalized(vector)
	if norm == 0 {
		return nil, models.NewError(models.KindDegenerateVector, "put", "", fmt.Errorf("zero-norm vector"))
	}
	return unit, nil
}

// stamp fills the fields of meta the store owns.
func stamp(meta models.Metadata, id string, now func() time.Time) models.Metadata {
	meta.ID = id
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now().UTC()
	}
	return meta
}

// decodeChecked decodes a payload and enforces the store dimension.
func decodeChecked(op, id string, payload []byte, dims int) ([]float32, error) {
	vec, err := DecodeVector(payload)
	if err != nil {
		return nil, models.NewError(models.KindCorrupt, op, id, err)
	}
	if len(vec) != dims {
		return nil, models.NewError(models.KindCorrupt, op, id,
			fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vec), dims))
	}
	return vec, nil
}
