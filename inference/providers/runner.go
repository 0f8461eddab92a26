// Package providers - Inference backends that execute the detection graph.
package providers

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/label-image/errdefs"
	"github.com/nvr-ai/label-image/models/model"
	"github.com/nvr-ai/label-image/models/model/preprocess"
	"github.com/nvr-ai/label-image/models/postprocess"
)

// Runner executes the model on one preprocessed image.
type Runner interface {
	// Run feeds the input, drives the graph through its passes and returns
	// the fetched boxes, class indices and scores.
	Run(ctx context.Context, input *preprocess.Result) (*postprocess.DetectionOutput, error)
	// Close releases the native session.
	Close() error
}

// Backend names an inference runtime.
type Backend string

const (
	// BackendTensorFlow runs a frozen TensorFlow GraphDef.
	BackendTensorFlow Backend = "tensorflow"
	// BackendONNX runs an ONNX model with ONNX Runtime.
	BackendONNX Backend = "onnx"
)

// BackendFromPath picks the runtime from the model file extension: ".onnx"
// selects ONNX Runtime, anything else is treated as a TensorFlow graph.
func BackendFromPath(path string) Backend {
	if strings.EqualFold(filepath.Ext(path), ".onnx") {
		return BackendONNX
	}
	return BackendTensorFlow
}

// Options configures NewRunner.
type Options struct {
	// Backend forces a runtime; empty derives it from the model path.
	Backend Backend
	// ExecutionProvider selects ONNX Runtime hardware acceleration.
	ExecutionProvider ExecutionProvider
	// Logger receives per-pass debug output.
	Logger logrus.FieldLogger
}

// NewRunner loads a model and prepares a session for it.
//
// Arguments:
//   - modelPath: The graph or ONNX file.
//   - profile: The model topology.
//   - opts: Backend selection and logging.
//
// Returns:
//   - Runner: The loaded model; Close it when done.
//   - error: errdefs.ErrNotFound if the model file is missing,
//     errdefs.ErrInvalidArgument for a bad profile or unknown backend.
func NewRunner(modelPath string, profile *model.Profile, opts Options) (Runner, error) {
	if profile == nil {
		return nil, errdefs.InvalidArgumentf("model profile is required")
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	backend := opts.Backend
	if backend == "" {
		backend = BackendFromPath(modelPath)
	}

	switch backend {
	case BackendTensorFlow:
		return NewTensorFlowRunner(modelPath, profile, opts.Logger)
	case BackendONNX:
		return NewONNXRunner(modelPath, profile, opts.ExecutionProvider, opts.Logger)
	default:
		return nil, errdefs.InvalidArgumentf("unknown backend %q", backend)
	}
}

func checkInput(input *preprocess.Result, profile *model.Profile) error {
	if input == nil {
		return errdefs.InvalidArgumentf("nil input")
	}
	want := profile.InputWidth * profile.InputHeight * profile.Channels
	if len(input.Data) != want {
		return errdefs.InvalidArgumentf("input has %d values, model expects %dx%dx%d",
			len(input.Data), profile.InputHeight, profile.InputWidth, profile.Channels)
	}
	return nil
}
