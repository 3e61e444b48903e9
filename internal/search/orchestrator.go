// Package search ties the embedding adapter, the feature store and the similarity index together:
// every image is embedded and persisted, and a similarity search ranks the corpus against it.
package search

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/hyperjump/ruiji/internal/config"
	"github.com/hyperjump/ruiji/internal/embedding"
	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/storage"
	"github.com/hyperjump/ruiji/internal/vector"
	"github.com/hyperjump/ruiji/internal/workpool"
	"github.com/hyperjump/ruiji/pkg/utils"
	"go.uber.org/zap"
)

// Orchestrator runs extract and search requests. Blocking work runs on the worker pool; callers
// wait on the result and may give up on cancellation. Writes that have started are never
// abandoned halfway.
type Orchestrator struct {
	store   storage.FeatureStore
	adapter embedding.Adapter
	index   *vector.Index
	pool    *workpool.Pool
	config  *config.SearchConfig
	logger  *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets a logger for request-level events.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator creates an orchestrator with the given dependencies.
func NewOrchestrator(
	store storage.FeatureStore,
	adapter embedding.Adapter,
	index *vector.Index,
	pool *workpool.Pool,
	cfg *config.SearchConfig,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		store:   store,
		adapter: adapter,
		index:   index,
		pool:    pool,
		config:  cfg,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = utils.OrNop(o.logger)
	return o
}

// ExtractAndStore embeds img with model and persists the embedding. An empty model selects the
// adapter's default. Adapter failures are reported as ExtractionFailed and nothing is stored.
func (o *Orchestrator) ExtractAndStore(ctx context.Context, img models.Image, model string) (string, error) {
	id, _, err := o.extractAndStore(ctx, img, model)
	return id, err
}

// ExtractFeatures is ExtractAndStore reporting the model id the adapter actually used.
func (o *Orchestrator) ExtractFeatures(ctx context.Context, img models.Image, model string) (*models.ExtractResponse, error) {
	id, emb, err := o.extractAndStore(ctx, img, model)
	if err != nil {
		return nil, err
	}
	return &models.ExtractResponse{Success: true, FeatureID: id, Model: emb.Model}, nil
}

func (o *Orchestrator) extractAndStore(ctx context.Context, img models.Image, model string) (string, *embedding.Embedding, error) {
	emb, err := workpool.Run(ctx, ctx, o.pool, func(jobCtx context.Context) (*embedding.Embedding, error) {
		return o.adapter.Embed(jobCtx, img.Data, model)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", nil, ctxErr
		}
		return "", nil, models.NewError(models.KindExtractionFailed, "extract", "", err)
	}
	if len(emb.Vector) != o.store.Dimensions() {
		return "", nil, models.NewError(models.KindExtractionFailed, "extract", "",
			fmt.Errorf("model %s produced %d dimensions, store expects %d", emb.Model, len(emb.Vector), o.store.Dimensions()))
	}

	meta := models.Metadata{Model: emb.Model}
	if img.Filename != "" {
		meta.SourceReference = filepath.Base(img.Filename)
	}
	id, err := workpool.Run(ctx, context.WithoutCancel(ctx), o.pool, func(jobCtx context.Context) (string, error) {
		return o.store.Put(jobCtx, emb.Vector, meta)
	})
	if err != nil {
		return "", nil, err
	}
	o.logger.Debug("features extracted",
		zap.String("id", id), zap.String("model", emb.Model), zap.String("source", meta.SourceReference))
	return id, emb, nil
}

// SearchSimilar embeds and stores img, then ranks the corpus against it, excluding the query's own
// record. topK <= 0 selects the configured default; larger values are capped at the configured
// maximum.
func (o *Orchestrator) SearchSimilar(ctx context.Context, img models.Image, model string, topK int) (*models.SearchResponse, error) {
	start := time.Now()
	topK = o.clampTopK(topK)

	id, emb, err := o.extractAndStore(ctx, img, model)
	if err != nil {
		return nil, err
	}
	results, err := workpool.Run(ctx, ctx, o.pool, func(jobCtx context.Context) ([]*models.SearchResult, error) {
		return o.index.Rank(jobCtx, emb.Vector, id, topK)
	})
	if err != nil {
		return nil, err
	}

	resp := &models.SearchResponse{
		Results:   results,
		Model:     emb.Model,
		QueryID:   id,
		QueryTime: time.Since(start).Milliseconds(),
	}
	o.logger.Debug("similarity search complete",
		zap.String("query_id", id), zap.Int("results", len(results)), zap.Int64("ms", resp.QueryTime))
	return resp, nil
}

func (o *Orchestrator) clampTopK(topK int) int {
	if topK <= 0 {
		topK = o.config.DefaultTopK
	}
	if o.config.MaxTopK > 0 && topK > o.config.MaxTopK {
		topK = o.config.MaxTopK
	}
	return topK
}

// Get returns the stored record for id.
func (o *Orchestrator) Get(ctx context.Context, id string) (*models.Record, error) {
	return workpool.Run(ctx, ctx, o.pool, func(jobCtx context.Context) (*models.Record, error) {
		return o.store.Get(jobCtx, id)
	})
}

// Delete removes the record for id. Deleting an unknown id succeeds.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	_, err := workpool.Run(ctx, context.WithoutCancel(ctx), o.pool, func(jobCtx context.Context) (struct{}, error) {
		return struct{}{}, o.store.Delete(jobCtx, id)
	})
	return err
}

// Count returns the number of stored records.
func (o *Orchestrator) Count(ctx context.Context) (int64, error) {
	return workpool.Run(ctx, ctx, o.pool, func(jobCtx context.Context) (int64, error) {
		return o.store.Count(jobCtx)
	})
}

// Models returns the models served by the adapter.
func (o *Orchestrator) Models() []embedding.ModelInfo {
	return o.adapter.Models()
}

// Store returns the underlying feature store.
func (o *Orchestrator) Store() storage.FeatureStore {
	return o.store
}
