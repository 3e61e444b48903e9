//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"errors"
)

var errNoCGO = errors.New("ONNX adapter requires CGO; build with CGO_ENABLED=1 and onnxruntime")

// ONNXOptions configures an ONNXAdapter.
type ONNXOptions struct {
	ModelPath  string
	InputName  string
	OutputName string
	Model      string
	Dimensions int
	ImageSize  int
}

// ONNXAdapter stub type when built without CGO (see onnx.go for real implementation).
type ONNXAdapter struct{}

// NewONNXAdapter returns an error when built without CGO (ONNX not available).
func NewONNXAdapter(_ ONNXOptions) (*ONNXAdapter, error) {
	return nil, errNoCGO
}

func (a *ONNXAdapter) Embed(context.Context, []byte, string) (*Embedding, error) {
	return nil, errNoCGO
}

func (a *ONNXAdapter) Models() []ModelInfo { return nil }
func (a *ONNXAdapter) Dimensions() int     { return 0 }
func (a *ONNXAdapter) Close() error        { return nil }
