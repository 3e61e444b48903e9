package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"math"
)

// MockAdapter is a deterministic adapter for tests and for running without a model. The vector is
// derived from the SHA-256 of the image bytes, so identical images always embed identically and
// different images are almost surely far apart.
type MockAdapter struct {
	model      string
	dimensions int
}

// NewMockAdapter returns an adapter that serves model with the given dimensions.
func NewMockAdapter(model string, dimensions int) *MockAdapter {
	if dimensions <= 0 {
		dimensions = 512
	}
	return &MockAdapter{model: model, dimensions: dimensions}
}

// Embed returns the hash-derived embedding of image. The bytes are not decoded.
func (m *MockAdapter) Embed(ctx context.Context, image []byte, model string) (*Embedding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resolved, err := resolveModel(model, m.model)
	if err != nil {
		return nil, err
	}
	if len(image) == 0 {
		return nil, errors.New("empty image")
	}

	seed := sha256.Sum256(image)
	vec := make([]float32, m.dimensions)
	var block [sha256.Size]byte
	buf := make([]byte, len(seed)+4)
	copy(buf, seed[:])
	for i := range vec {
		// Each SHA-256 block yields 8 components.
		if i%8 == 0 {
			binary.LittleEndian.PutUint32(buf[len(seed):], uint32(i/8))
			block = sha256.Sum256(buf)
		}
		u := binary.LittleEndian.Uint32(block[(i%8)*4:])
		vec[i] = float32(float64(u)/math.MaxUint32*2 - 1)
	}
	return &Embedding{Vector: vec, Model: resolved}, nil
}

// Models returns the single model served.
func (m *MockAdapter) Models() []ModelInfo {
	return []ModelInfo{{ID: m.model, Name: "mock (content hash)", Dimensions: m.dimensions, Default: true}}
}

// Dimensions returns the embedding dimension.
func (m *MockAdapter) Dimensions() int {
	return m.dimensions
}

// Close is a no-op for MockAdapter.
func (m *MockAdapter) Close() error {
	return nil
}
