package providers

import (
	"context"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/nvr-ai/label-image/errdefs"
	"github.com/nvr-ai/label-image/models/model"
	"github.com/nvr-ai/label-image/models/model/preprocess"
	"github.com/nvr-ai/label-image/models/postprocess"
)

// ExecutionProvider selects ONNX Runtime hardware acceleration.
type ExecutionProvider string

const (
	// CPUExecutionProvider uses the default CPU kernels.
	CPUExecutionProvider ExecutionProvider = "cpu"
	// CUDAExecutionProvider uses NVIDIA CUDA for GPU acceleration.
	CUDAExecutionProvider ExecutionProvider = "cuda"
	// CoreMLExecutionProvider uses Apple CoreML for macOS acceleration.
	CoreMLExecutionProvider ExecutionProvider = "coreml"
	// OpenVINOExecutionProvider uses Intel OpenVINO.
	OpenVINOExecutionProvider ExecutionProvider = "openvino"
)

// ONNXRunner runs an ONNX export of the detection network. ONNX graphs have
// no input queues, so the profile's queue ops are ignored and the outputs are
// produced in a single run.
type ONNXRunner struct {
	profile model.Profile
	session *ort.AdvancedSession
	log     logrus.FieldLogger

	input   *ort.Tensor[float32]
	inputs  []ort.Value
	boxes   *ort.Tensor[float32]
	classes *ort.Tensor[int64]
	scores  *ort.Tensor[float32]
}

// NewONNXRunner creates an ONNX Runtime session with preallocated input and
// output tensors sized from the profile. Class indices are expected as int64,
// the type ArgMax exports to.
//
// Order of operations:
//  1. Library path check and environment setup.
//  2. Tensor allocation for the image, the zero placeholders and the outputs.
//  3. Session options and execution provider.
//  4. Session creation binding the tensors.
//
// Arguments:
//   - modelPath: The ONNX file.
//   - profile: The model topology.
//   - provider: The execution provider, empty for CPU.
//   - log: Logger for debug output.
//
// Returns:
//   - *ONNXRunner: The loaded model.
//   - error: errdefs.ErrNotFound for a missing model, or a runtime error.
func NewONNXRunner(modelPath string, profile *model.Profile, provider ExecutionProvider, log logrus.FieldLogger) (*ONNXRunner, error) {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return nil, errdefs.NotFoundf("onnx model %s", modelPath)
	}
	if err := initEnvironment(); err != nil {
		return nil, err
	}

	r := &ONNXRunner{
		profile: profile.Clone(),
		log:     log.WithField("backend", BackendONNX),
	}
	if err := r.allocate(); err != nil {
		r.Close()
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		r.Close()
		return nil, errors.Wrap(err, "create session options")
	}
	defer options.Destroy()
	options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended)
	if err := appendExecutionProvider(options, provider); err != nil {
		r.Close()
		return nil, err
	}

	inputNames := []string{r.profile.Inputs.Image}
	for _, ph := range r.profile.Inputs.Placeholders {
		inputNames = append(inputNames, ph.Name)
	}
	session, err := ort.NewAdvancedSession(
		modelPath,
		inputNames,
		r.profile.Outputs.Names(),
		r.inputs,
		[]ort.Value{r.boxes, r.classes, r.scores},
		options,
	)
	if err != nil {
		r.Close()
		return nil, errdefs.InvalidArgumentf("create onnx session for %s: %v", modelPath, err)
	}
	r.session = session

	if r.profile.Queue.Enabled() {
		r.log.Debug("queue ops are not used by the onnx backend")
	}
	r.log.WithFields(logrus.Fields{
		"model":    modelPath,
		"provider": provider,
		"anchors":  r.profile.NumAnchors,
	}).Debug("model loaded")
	return r, nil
}

func initEnvironment() error {
	if ort.IsInitialized() {
		return nil
	}
	libPath, err := GetSharedLibPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(libPath); os.IsNotExist(err) {
		return errdefs.NotFoundf("onnxruntime library %s (set %s)", libPath, SharedLibraryEnv)
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "initialize onnxruntime")
	}
	return nil
}

func (r *ONNXRunner) allocate() error {
	n := int64(r.profile.NumAnchors)
	var err error

	r.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(r.profile.InputHeight), int64(r.profile.InputWidth), int64(r.profile.Channels)))
	if err != nil {
		return errors.Wrap(err, "allocate input tensor")
	}
	r.inputs = append(r.inputs, r.input)

	for _, ph := range r.profile.Inputs.Placeholders {
		zeros, err := ort.NewEmptyTensor[float32](ort.NewShape(1, n, int64(ph.Channels)))
		if err != nil {
			return errors.Wrapf(err, "allocate placeholder %s", ph.Name)
		}
		r.inputs = append(r.inputs, zeros)
	}

	if r.boxes, err = ort.NewEmptyTensor[float32](ort.NewShape(1, n, 4)); err != nil {
		return errors.Wrap(err, "allocate boxes tensor")
	}
	if r.classes, err = ort.NewEmptyTensor[int64](ort.NewShape(1, n)); err != nil {
		return errors.Wrap(err, "allocate class tensor")
	}
	if r.scores, err = ort.NewEmptyTensor[float32](ort.NewShape(1, n)); err != nil {
		return errors.Wrap(err, "allocate scores tensor")
	}
	return nil
}

func appendExecutionProvider(options *ort.SessionOptions, provider ExecutionProvider) error {
	switch ExecutionProvider(strings.ToLower(string(provider))) {
	case "", CPUExecutionProvider:
		return nil
	case CUDAExecutionProvider:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return errors.Wrap(err, "create cuda options")
		}
		defer cuda.Destroy()
		if err := cuda.Update(map[string]string{"device_id": "0"}); err != nil {
			return errors.Wrap(err, "configure cuda")
		}
		return errors.Wrap(options.AppendExecutionProviderCUDA(cuda), "enable cuda")
	case CoreMLExecutionProvider:
		return errors.Wrap(options.AppendExecutionProviderCoreML(0), "enable coreml")
	case OpenVINOExecutionProvider:
		return errors.Wrap(options.AppendExecutionProviderOpenVINO(map[string]string{"device_type": "CPU"}), "enable openvino")
	default:
		return errdefs.InvalidArgumentf("unknown execution provider %q", provider)
	}
}

// Run copies the input into the bound tensor and runs the session once.
//
// Arguments:
//   - ctx: Checked before the run.
//   - input: The preprocessed image.
//
// Returns:
//   - *postprocess.DetectionOutput: Copies of the output tensors.
//   - error: errdefs.ErrInferenceFailure if the run fails.
func (r *ONNXRunner) Run(ctx context.Context, input *preprocess.Result) (*postprocess.DetectionOutput, error) {
	if err := checkInput(input, &r.profile); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "before run")
	}
	copy(r.input.GetData(), input.Data)

	if err := r.session.Run(); err != nil {
		return nil, errdefs.InferenceFailure(err, "run")
	}
	r.log.WithField("stage", "run").Debug("pass complete")

	return &postprocess.DetectionOutput{
		Boxes:        denseFromORT(r.boxes),
		ClassIndices: denseFromORT(r.classes),
		Scores:       denseFromORT(r.scores),
	}, nil
}

// Close releases the resources associated with the runner.
func (r *ONNXRunner) Close() error {
	for _, input := range r.inputs {
		input.Destroy()
	}
	r.inputs = nil
	if r.boxes != nil {
		r.boxes.Destroy()
	}
	if r.classes != nil {
		r.classes.Destroy()
	}
	if r.scores != nil {
		r.scores.Destroy()
	}
	r.boxes, r.classes, r.scores = nil, nil, nil

	if r.session != nil {
		err := r.session.Destroy()
		r.session = nil
		if err != nil {
			return errors.Wrap(err, "destroy onnx session")
		}
	}
	return nil
}
