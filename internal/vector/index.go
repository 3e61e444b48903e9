// Package vector ranks stored embeddings by cosine similarity to a query.
//
// Ranking is a brute-force scan over the feature store: every query reads every record, so cost
// is O(N·D). There is no index structure to build or keep in sync.
package vector

import (
	"context"
	"fmt"
	"math"

	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/storage"
	"github.com/hyperjump/ruiji/pkg/utils"
	"go.uber.org/zap"
)

// Index ranks the records of a FeatureStore against a query vector.
type Index struct {
	store  storage.FeatureStore
	logger *zap.Logger
}

// IndexOption configures an Index.
type IndexOption func(*Index)

// WithLogger sets a logger for skipped records and scan summaries.
func WithLogger(l *zap.Logger) IndexOption {
	return func(x *Index) { x.logger = l }
}

// NewIndex creates an index over store.
func NewIndex(store storage.FeatureStore, opts ...IndexOption) *Index {
	x := &Index{store: store}
	for _, opt := range opts {
		opt(x)
	}
	x.logger = utils.OrNop(x.logger)
	return x
}

// Type returns the index type identifier.
func (x *Index) Type() string { return "bruteforce" }

// Rank returns at most topK records ordered by similarity descending, ties broken by ascending id.
// The record named excludeID (if any) is never returned. Corrupt or vanished records are logged
// and skipped; failures that prevent scanning abort the query.
func (x *Index) Rank(ctx context.Context, query []float32, excludeID string, topK int) ([]*models.SearchResult, error) {
	if topK <= 0 {
		return nil, models.NewError(models.KindInvalidArgument, "rank", "", fmt.Errorf("top_k must be positive, got %d", topK))
	}
	if len(query) == 0 || len(query) != x.store.Dimensions() {
		return nil, models.NewError(models.KindInvalidArgument, "rank", "",
			fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), x.store.Dimensions()))
	}
	if !utils.IsFinite(query) {
		return nil, models.NewError(models.KindInvalidArgument, "rank", "", fmt.Errorf("query has non-finite components"))
	}
	q, norm := utils.Normalized(query)
	if norm == 0 {
		return nil, models.NewError(models.KindDegenerateVector, "rank", "", fmt.Errorf("zero-norm query"))
	}

	best := newTopK(topK)
	var scanned, skipped int
	for rec, err := range x.store.List(ctx) {
		if err != nil {
			if models.IsRecordLevel(err) {
				skipped++
				x.logger.Warn("skipping unreadable record", zap.Error(err))
				continue
			}
			return nil, err
		}
		if rec.ID == excludeID {
			continue
		}
		scanned++
		if len(rec.Vector) != len(q) {
			skipped++
			x.logger.Warn("skipping record with mismatched dimension",
				zap.String("id", rec.ID), zap.Int("got", len(rec.Vector)), zap.Int("want", len(q)))
			continue
		}
		score := utils.Dot(q, rec.Vector)
		if math.IsNaN(score) {
			skipped++
			x.logger.Warn("skipping record with non-finite score", zap.String("id", rec.ID))
			continue
		}
		best.offer(&models.SearchResult{ID: rec.ID, Similarity: score, Metadata: rec.Metadata})
	}
	x.logger.Debug("rank complete",
		zap.Int("scanned", scanned), zap.Int("skipped", skipped), zap.Int("returned", best.Len()))
	return best.sorted(), nil
}
