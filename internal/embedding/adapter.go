// Package embedding turns images into embedding vectors. Adapters are injected into the search
// orchestrator, so the core never depends on a particular inference engine.
package embedding

import (
	"context"
	"fmt"

	"github.com/hyperjump/ruiji/internal/config"
	"github.com/hyperjump/ruiji/pkg/utils"
	"go.uber.org/zap"
)

// Embedding is the output of one adapter call. Model is the identifier actually used, which
// differs from the requested selector when the caller left it empty.
type Embedding struct {
	Vector []float32
	Model  string
}

// ModelInfo describes a model an adapter can serve.
type ModelInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Dimensions int    `json:"dimensions"`
	Default    bool   `json:"default"`
}

// Adapter produces embeddings for encoded images (jpeg, png or webp bytes).
type Adapter interface {
	Embed(ctx context.Context, image []byte, model string) (*Embedding, error)
	Models() []ModelInfo
	Dimensions() int
	Close() error
}

// resolveModel maps an empty selector to served and rejects anything else it does not serve.
func resolveModel(requested, served string) (string, error) {
	if requested == "" || requested == served {
		return served, nil
	}
	return "", fmt.Errorf("unsupported model %q (available: %s)", requested, served)
}

// NewAdapter builds the adapter selected by cfg. An ONNX model that cannot be loaded falls back to
// the mock adapter with a warning so the service stays usable. A positive cfg.CacheSize wraps the
// result in a CachingAdapter.
func NewAdapter(cfg config.EmbeddingConfig, dimensions int, logger *zap.Logger) (Adapter, error) {
	logger = utils.OrNop(logger)
	model := cfg.Model
	if model == "" {
		model = "clip"
	}

	var a Adapter
	switch cfg.Backend {
	case config.EmbeddingMock:
		a = NewMockAdapter(model, dimensions)
	case config.EmbeddingONNX, "":
		onnx, err := NewONNXAdapter(ONNXOptions{
			ModelPath:  cfg.ModelPath,
			InputName:  cfg.InputName,
			OutputName: cfg.OutputName,
			Model:      model,
			Dimensions: dimensions,
			ImageSize:  cfg.ImageSize,
		})
		if err != nil {
			logger.Warn("ONNX model unavailable, using mock embeddings",
				zap.String("model_path", cfg.ModelPath), zap.Error(err))
			a = NewMockAdapter(model, dimensions)
		} else {
			a = onnx
		}
	default:
		return nil, fmt.Errorf("unknown embedding backend: %s (supported: onnx, mock)", cfg.Backend)
	}

	if cfg.CacheSize > 0 {
		a = NewCachingAdapter(a, cfg.CacheSize)
	}
	return a, nil
}
