// Package postprocess - Turning raw detection tensors into ranked, decoded boxes.
package postprocess

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/label-image/errdefs"
	"github.com/nvr-ai/label-image/images"
)

// DetectionOutput holds the three tensors fetched from the detection graph.
// All three share one anchor index domain of size N.
type DetectionOutput struct {
	// Boxes has shape [1, N, 4]; each row is (cx, cy, w, h) in model input pixels.
	Boxes *tensor.Dense
	// ClassIndices has shape [N] (some exports return [1]).
	ClassIndices *tensor.Dense
	// Scores has shape [N] or [1, N].
	Scores *tensor.Dense
}

// NumAnchors returns N, the number of anchors in the box tensor.
func (o *DetectionOutput) NumAnchors() int {
	if o == nil || o.Boxes == nil {
		return 0
	}
	shape := o.Boxes.Shape()
	if len(shape) != 3 {
		return 0
	}
	return shape[1]
}

// Validate checks that the three tensors agree on the anchor domain.
//
// Arguments:
//   - numAnchors: The anchor count the model profile expects, or 0 to accept any.
//
// Returns:
//   - error: errdefs.ErrInferenceFailure describing the first mismatch.
func (o *DetectionOutput) Validate(numAnchors int) error {
	if o == nil || o.Boxes == nil || o.ClassIndices == nil || o.Scores == nil {
		return errdefs.InferenceFailure(errors.New("missing output tensor"), "validate outputs")
	}
	shape := o.Boxes.Shape()
	if len(shape) != 3 || shape[0] != 1 || shape[2] != 4 {
		return errdefs.InferenceFailure(errors.Errorf("boxes shape %v, want [1 N 4]", shape), "validate outputs")
	}
	n := shape[1]
	if numAnchors > 0 && n != numAnchors {
		return errdefs.InferenceFailure(errors.Errorf("graph returned %d anchors, profile expects %d", n, numAnchors), "validate outputs")
	}
	if got := o.Scores.Shape().TotalSize(); got != n {
		return errdefs.InferenceFailure(errors.Errorf("%d scores for %d anchors", got, n), "validate outputs")
	}
	if got := o.ClassIndices.Shape().TotalSize(); got != n && got != 1 {
		return errdefs.InferenceFailure(errors.Errorf("%d class indices for %d anchors", got, n), "validate outputs")
	}
	return nil
}

// ClassAt returns the class index predicted for an anchor. When the graph
// returns a single class index it applies to every anchor.
func (o *DetectionOutput) ClassAt(anchor int) (int, error) {
	classes, err := Ints(o.ClassIndices)
	if err != nil {
		return 0, err
	}
	switch {
	case len(classes) == 1:
		return classes[0], nil
	case anchor < 0 || anchor >= len(classes):
		return 0, errdefs.InvalidArgumentf("anchor %d outside %d class indices", anchor, len(classes))
	default:
		return classes[anchor], nil
	}
}

// ScoredDetection pairs an anchor index with its score.
type ScoredDetection struct {
	Index int
	Score float32
}

// ScaleFactors are preprocessed dimensions divided by original dimensions.
type ScaleFactors struct {
	W, H float64
}

// Detection is one fully resolved result, ready to be drawn.
type Detection struct {
	// Anchor is the index into the output tensors.
	Anchor int
	// Score is the confidence of the detection.
	Score float32
	// Class is the predicted class index.
	Class int
	// Label is the class name, empty when no label file covers Class.
	Label string
	// Box is the rectangle in original image coordinates.
	Box images.Rect
}

// Float32s flattens a numeric tensor into float32 values.
func Float32s(t *tensor.Dense) ([]float32, error) {
	if t == nil {
		return nil, errdefs.InvalidArgumentf("nil tensor")
	}
	switch data := t.Data().(type) {
	case []float32:
		return data, nil
	case float32:
		return []float32{data}, nil
	case []float64:
		out := make([]float32, len(data))
		for i, v := range data {
			out[i] = float32(v)
		}
		return out, nil
	default:
		return nil, errdefs.InvalidArgumentf("expected float tensor, got %v", t.Dtype())
	}
}

// Ints flattens an integer (or integral float) tensor into ints.
func Ints(t *tensor.Dense) ([]int, error) {
	if t == nil {
		return nil, errdefs.InvalidArgumentf("nil tensor")
	}
	var out []int
	switch data := t.Data().(type) {
	case []int64:
		out = make([]int, len(data))
		for i, v := range data {
			out[i] = int(v)
		}
	case []int32:
		out = make([]int, len(data))
		for i, v := range data {
			out[i] = int(v)
		}
	case []int:
		out = append(out, data...)
	case int64:
		out = []int{int(data)}
	case int32:
		out = []int{int(data)}
	case []float32:
		out = make([]int, len(data))
		for i, v := range data {
			out[i] = int(v)
		}
	default:
		return nil, errdefs.InvalidArgumentf("expected integer tensor, got %v", t.Dtype())
	}
	return out, nil
}
