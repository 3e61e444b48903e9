//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXOptions configures an ONNXAdapter.
type ONNXOptions struct {
	ModelPath  string
	InputName  string
	OutputName string
	// Model is the identifier callers select this adapter with.
	Model      string
	Dimensions int
	ImageSize  int
}

// ONNXAdapter runs a CLIP vision tower with ONNX Runtime. It requires CGO and the onnxruntime
// shared library.
type ONNXAdapter struct {
	session    *ort.AdvancedSession
	model      string
	dimensions int
	imageSize  int
	// Pre-allocated tensors for Run(); we update input data and read output.
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	mu           sync.Mutex
}

// NewONNXAdapter loads the model. InitializeEnvironment is called if not already done.
func NewONNXAdapter(opts ONNXOptions) (*ONNXAdapter, error) {
	if opts.Dimensions <= 0 || opts.ImageSize <= 0 {
		return nil, fmt.Errorf("dimensions and image size must be positive")
	}
	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	size := int64(opts.ImageSize)
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s tensor: %w", opts.InputName, err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(opts.Dimensions)))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		opts.ModelPath,
		[]string{opts.InputName},
		[]string{opts.OutputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXAdapter{
		session:      session,
		model:        opts.Model,
		dimensions:   opts.Dimensions,
		imageSize:    opts.ImageSize,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Embed decodes and preprocesses image, then runs inference. The returned vector is the raw
// model output; normalization happens in the feature store.
func (a *ONNXAdapter) Embed(ctx context.Context, image []byte, model string) (*Embedding, error) {
	resolved, err := resolveModel(model, a.model)
	if err != nil {
		return nil, err
	}
	img, err := decodeImage(image)
	if err != nil {
		return nil, err
	}
	pixels := pixelValues(img, a.imageSize)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return nil, fmt.Errorf("adapter is closed")
	}

	copy(a.inputTensor.GetData(), pixels)
	if err := a.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	vec := make([]float32, a.dimensions)
	copy(vec, a.outputTensor.GetData())
	return &Embedding{Vector: vec, Model: resolved}, nil
}

// Models returns the single model served.
func (a *ONNXAdapter) Models() []ModelInfo {
	return []ModelInfo{{ID: a.model, Name: "openai/clip-vit-base-patch32 (onnx)", Dimensions: a.dimensions, Default: true}}
}

// Dimensions returns the embedding dimension.
func (a *ONNXAdapter) Dimensions() int {
	return a.dimensions
}

// Close destroys the session and tensors.
func (a *ONNXAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var err error
	if a.session != nil {
		err = a.session.Destroy()
		a.session = nil
	}
	if a.inputTensor != nil {
		_ = a.inputTensor.Destroy()
		a.inputTensor = nil
	}
	if a.outputTensor != nil {
		_ = a.outputTensor.Destroy()
		a.outputTensor = nil
	}
	return err
}
