package preprocess

import (
	"bytes"
	"encoding/binary"
	"fmt"

	tf "github.com/galeone/tensorflow/tensorflow/go"
	"github.com/galeone/tensorflow/tensorflow/go/op"
	tg "github.com/galeone/tfgo"
	tfimage "github.com/galeone/tfgo/image"
	"github.com/pkg/errors"

	"github.com/nvr-ai/label-image/errdefs"
	"github.com/nvr-ai/label-image/models/model"
)

// GraphPreprocessor builds a small TensorFlow graph that reads the file,
// resizes it bilinearly, reorders channels and normalizes, then runs it once.
// The source must be a path; a decoded Mat is only used for its size.
type GraphPreprocessor struct {
	config Config
}

// NewGraph creates a TensorFlow graph backed preprocessor.
func NewGraph(cfg Config) *GraphPreprocessor {
	return &GraphPreprocessor{config: cfg}
}

// Preprocess performs all necessary preprocessing steps on the input image.
//
// Arguments:
//   - src: The image; Path is required.
//
// Returns:
//   - *Result: The normalized NHWC tensor and scale factors.
//   - error: errdefs.ErrInferenceFailure if the graph fails to run.
func (p *GraphPreprocessor) Preprocess(src Source) (res *Result, err error) {
	if src.Path == "" {
		return nil, errdefs.InvalidArgumentf("graph preprocessing needs an image path")
	}
	origW, origH, err := readOriginalSize(src)
	if err != nil {
		return nil, err
	}

	// tfgo panics when graph construction or execution fails.
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, errdefs.InferenceFailure(fmt.Errorf("%v", r), "preprocess graph")
		}
	}()

	h, w := int32(p.config.Height), int32(p.config.Width)
	root := tg.NewRoot()
	img := tfimage.Read(root, src.Path, 3)
	img = img.ResizeBilinear(tfimage.Size{Height: float32(h), Width: float32(w)})

	out := op.Reshape(root.SubScope("batch"), img.Value(), tg.Const(root, []int32{1, h, w, 3}))
	if p.config.ColorOrder == model.ColorOrderBGR {
		out = op.ReverseV2(root.SubScope("bgr"), out, tg.Const(root, []int32{3}))
	}
	out = op.Sub(root.SubScope("mean"), out, tg.Const(root, p.config.Mean))
	out = op.Div(root.SubScope("std"), out, tg.Const(root, p.config.Std))

	results := tg.Exec(root, []tf.Output{out}, nil, &tf.SessionOptions{})
	if len(results) != 1 {
		return nil, errdefs.InferenceFailure(errors.Errorf("got %d tensors", len(results)), "preprocess graph")
	}

	data, err := float32Contents(results[0], int(h)*int(w)*3)
	if err != nil {
		return nil, err
	}
	return newResult(p.config, data, origW, origH), nil
}

// float32Contents copies a float tensor's flat contents. TensorFlow tensors
// are serialized in host byte order, which is little endian on every
// platform the runtime ships for.
func float32Contents(t *tf.Tensor, want int) ([]float32, error) {
	if t.DataType() != tf.Float {
		return nil, errors.Errorf("expected float tensor, got %v", t.DataType())
	}
	var buf bytes.Buffer
	if _, err := t.WriteContentsTo(&buf); err != nil {
		return nil, errors.Wrap(err, "read tensor contents")
	}
	out := make([]float32, buf.Len()/4)
	if len(out) != want {
		return nil, errors.Errorf("tensor has %d values, want %d", len(out), want)
	}
	if err := binary.Read(&buf, binary.LittleEndian, out); err != nil {
		return nil, errors.Wrap(err, "decode tensor contents")
	}
	return out, nil
}
