package providers

import (
	"context"
	"os"

	tf "github.com/galeone/tensorflow/tensorflow/go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/label-image/errdefs"
	"github.com/nvr-ai/label-image/models/model"
	"github.com/nvr-ai/label-image/models/model/preprocess"
	"github.com/nvr-ai/label-image/models/postprocess"
)

// TensorFlowRunner runs a frozen GraphDef whose input goes through a FIFO
// queue and a batching queue before the outputs can be fetched.
type TensorFlowRunner struct {
	profile model.Profile
	graph   *tf.Graph
	session *tf.Session
	log     logrus.FieldLogger

	image        tf.Output
	placeholders map[tf.Output]*tf.Tensor
	enqueue      *tf.Operation
	batch        *tf.Operation
	fetches      []tf.Output
}

// NewTensorFlowRunner imports the graph and opens a session on it.
//
// Arguments:
//   - graphPath: Path of the serialized GraphDef.
//   - profile: The model topology; every named op must exist in the graph.
//   - log: Logger for per-pass debug output.
//
// Returns:
//   - *TensorFlowRunner: The loaded model.
//   - error: errdefs.ErrNotFound for a missing file, errdefs.ErrInvalidArgument
//     if the graph does not match the profile.
func NewTensorFlowRunner(graphPath string, profile *model.Profile, log logrus.FieldLogger) (*TensorFlowRunner, error) {
	data, err := os.ReadFile(graphPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.NotFoundf("graph %s", graphPath)
		}
		return nil, errors.Wrapf(err, "read graph %s", graphPath)
	}

	graph := tf.NewGraph()
	if err := graph.Import(data, ""); err != nil {
		return nil, errdefs.InvalidArgumentf("import graph %s: %v", graphPath, err)
	}

	r := &TensorFlowRunner{
		profile:      profile.Clone(),
		graph:        graph,
		log:          log.WithField("backend", BackendTensorFlow),
		placeholders: make(map[tf.Output]*tf.Tensor),
	}
	if err := r.bind(); err != nil {
		return nil, err
	}

	session, err := tf.NewSession(graph, &tf.SessionOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "create tensorflow session")
	}
	r.session = session

	r.log.WithFields(logrus.Fields{
		"graph":   graphPath,
		"anchors": profile.NumAnchors,
		"queued":  profile.Queue.Enabled(),
	}).Debug("graph loaded")
	return r, nil
}

func (r *TensorFlowRunner) operation(name string) (*tf.Operation, error) {
	op := r.graph.Operation(name)
	if op == nil {
		return nil, errdefs.InvalidArgumentf("graph has no operation %q", name)
	}
	return op, nil
}

// bind resolves every op the profile names and allocates the zero
// placeholder tensors once.
func (r *TensorFlowRunner) bind() error {
	img, err := r.operation(r.profile.Inputs.Image)
	if err != nil {
		return err
	}
	r.image = img.Output(0)

	for _, ph := range r.profile.Inputs.Placeholders {
		op, err := r.operation(ph.Name)
		if err != nil {
			return err
		}
		zeros, err := zeroTensor([]int64{1, int64(r.profile.NumAnchors), int64(ph.Channels)})
		if err != nil {
			return err
		}
		r.placeholders[op.Output(0)] = zeros
	}

	if r.profile.Queue.Enabled() {
		if r.enqueue, err = r.operation(r.profile.Queue.Enqueue); err != nil {
			return err
		}
		if r.batch, err = r.operation(r.profile.Queue.Batch); err != nil {
			return err
		}
	}

	for _, name := range r.profile.Outputs.Names() {
		op, err := r.operation(name)
		if err != nil {
			return err
		}
		r.fetches = append(r.fetches, op.Output(0))
	}
	return nil
}

// Run executes the three passes: enqueue the image with zero placeholders,
// trigger the batching enqueue, then fetch boxes, class indices and scores.
// A graph without queues is fed and fetched in a single pass.
//
// Arguments:
//   - ctx: Checked before each pass.
//   - input: The preprocessed image.
//
// Returns:
//   - *postprocess.DetectionOutput: The fetched tensors.
//   - error: errdefs.ErrInferenceFailure naming the failed pass.
func (r *TensorFlowRunner) Run(ctx context.Context, input *preprocess.Result) (*postprocess.DetectionOutput, error) {
	if err := checkInput(input, &r.profile); err != nil {
		return nil, err
	}
	image, err := float32Tensor(input.Shape, input.Data)
	if err != nil {
		return nil, err
	}

	feeds := make(map[tf.Output]*tf.Tensor, len(r.placeholders)+1)
	feeds[r.image] = image
	for out, zeros := range r.placeholders {
		feeds[out] = zeros
	}

	var fetched []*tf.Tensor
	if r.profile.Queue.Enabled() {
		if err := r.pass(ctx, "enqueue", feeds, nil, r.enqueue); err != nil {
			return nil, err
		}
		if err := r.pass(ctx, "batch", nil, nil, r.batch); err != nil {
			return nil, err
		}
		if fetched, err = r.fetch(ctx, nil); err != nil {
			return nil, err
		}
	} else if fetched, err = r.fetch(ctx, feeds); err != nil {
		return nil, err
	}

	return r.toOutput(fetched)
}

func (r *TensorFlowRunner) pass(ctx context.Context, stage string, feeds map[tf.Output]*tf.Tensor, fetches []tf.Output, target *tf.Operation) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(err, "before %s", stage)
	}
	if _, err := r.session.Run(feeds, fetches, []*tf.Operation{target}); err != nil {
		return errdefs.InferenceFailure(err, stage)
	}
	r.log.WithField("stage", stage).Debug("pass complete")
	return nil
}

func (r *TensorFlowRunner) fetch(ctx context.Context, feeds map[tf.Output]*tf.Tensor) ([]*tf.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "before fetch")
	}
	out, err := r.session.Run(feeds, r.fetches, nil)
	if err != nil {
		return nil, errdefs.InferenceFailure(err, "fetch")
	}
	if len(out) != 3 {
		return nil, errdefs.InferenceFailure(errors.Errorf("fetched %d tensors, want 3", len(out)), "fetch")
	}
	r.log.WithField("stage", "fetch").Debug("pass complete")
	return out, nil
}

func (r *TensorFlowRunner) toOutput(fetched []*tf.Tensor) (*postprocess.DetectionOutput, error) {
	boxes, err := denseFromTF(fetched[0])
	if err != nil {
		return nil, errdefs.InferenceFailure(err, r.profile.Outputs.Boxes)
	}
	classes, err := denseFromTF(fetched[1])
	if err != nil {
		return nil, errdefs.InferenceFailure(err, r.profile.Outputs.ClassIndices)
	}
	scores, err := denseFromTF(fetched[2])
	if err != nil {
		return nil, errdefs.InferenceFailure(err, r.profile.Outputs.Scores)
	}
	return &postprocess.DetectionOutput{Boxes: boxes, ClassIndices: classes, Scores: scores}, nil
}

// Close releases the session.
func (r *TensorFlowRunner) Close() error {
	if r.session == nil {
		return nil
	}
	err := r.session.Close()
	r.session = nil
	return errors.Wrap(err, "close tensorflow session")
}
