package postprocess

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/label-image/errdefs"
	"github.com/nvr-ai/label-image/images"
)

func indices(dets []ScoredDetection) []int {
	out := make([]int, len(dets))
	for i, d := range dets {
		out[i] = d.Index
	}
	return out
}

// TestSelectTopKScenario validates ranking of the reference five-anchor output.
//
// Arguments:
//   - t: Testing context for assertions and error reporting.
func TestSelectTopKScenario(t *testing.T) {
	scores := []float32{0.1, 0.9, 0.4, 0.9, 0.2}
	top, err := SelectTopK(scores, 3)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 3, 2}, indices(top), "ties keep the lower anchor first")
	assert.Equal(t, []float32{0.9, 0.9, 0.4}, []float32{top[0].Score, top[1].Score, top[2].Score})
	assert.Equal(t, []float32{0.1, 0.9, 0.4, 0.9, 0.2}, scores, "input must not be reordered")
}

func TestSelectTopKProperties(t *testing.T) {
	scores := []float32{0.3, 0.05, 0.77, 0.5, 0.5, 0.99, 0.0, 0.61}

	for k := 1; k <= len(scores); k++ {
		top, err := SelectTopK(scores, k)
		require.NoError(t, err)
		require.Len(t, top, k)

		for i := 1; i < len(top); i++ {
			assert.GreaterOrEqual(t, top[i-1].Score, top[i].Score, "scores must be non-increasing")
		}

		chosen := map[int]bool{}
		for _, d := range top {
			chosen[d.Index] = true
			assert.Equal(t, scores[d.Index], d.Score, "score must belong to its anchor")
		}
		last := top[len(top)-1].Score
		for i, s := range scores {
			if !chosen[i] {
				assert.LessOrEqual(t, s, last, "unselected anchor %d outranks the selection", i)
			}
		}
	}
}

func TestSelectTopKIdempotent(t *testing.T) {
	scores := []float32{0.2, 0.8, 0.8, 0.1}
	a, err := SelectTopK(scores, 3)
	require.NoError(t, err)
	b, err := SelectTopK(scores, 3)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSelectTopKAll(t *testing.T) {
	top, err := SelectTopK([]float32{0.2, 0.7, 0.5}, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 0}, indices(top))
}

func TestSelectTopKInvalid(t *testing.T) {
	tests := []struct {
		name   string
		scores []float32
		k      int
	}{
		{"k exceeds N", []float32{0.1, 0.2}, 3},
		{"zero k", []float32{0.1}, 0},
		{"negative k", []float32{0.1}, -1},
		{"empty", nil, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SelectTopK(tt.scores, tt.k)
			assert.True(t, errdefs.IsInvalidArgument(err), "got %v", err)
		})
	}
}

func TestSelectTopKNaNLast(t *testing.T) {
	top, err := SelectTopK([]float32{math32.NaN(), 0.1, math32.NaN(), 0.4}, 4)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 1, 0, 2}, indices(top))
}

func TestSelectTopKDense(t *testing.T) {
	scores := tensor.New(tensor.WithShape(1, 4), tensor.WithBacking([]float32{0.4, 0.1, 0.9, 0.3}))
	top, err := SelectTopKDense(scores, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 0}, indices(top))
}

func boxTensor(rows ...float32) *tensor.Dense {
	return tensor.New(tensor.WithShape(1, len(rows)/4, 4), tensor.WithBacking(rows))
}

// TestDecodeBox validates the center-to-corner conversion and rescaling.
//
// Arguments:
//   - t: Testing context for assertions and error reporting.
func TestDecodeBox(t *testing.T) {
	boxes := boxTensor(
		0, 0, 0, 0,
		100, 50, 40, 20,
		100.9, 50.7, 41.5, 21.2,
	)

	tests := []struct {
		name   string
		anchor int
		scale  ScaleFactors
		want   images.Rect
	}{
		{"unit scale", 1, ScaleFactors{W: 1, H: 1}, images.Rect{X1: 80, Y1: 40, X2: 120, Y2: 60}},
		{"half width", 1, ScaleFactors{W: 2, H: 1}, images.Rect{X1: 40, Y1: 40, X2: 60, Y2: 60}},
		{"upscaled original", 1, ScaleFactors{W: 0.5, H: 0.25}, images.Rect{X1: 160, Y1: 160, X2: 240, Y2: 240}},
		{"truncates before halving", 2, ScaleFactors{W: 1, H: 1}, images.Rect{X1: 80, Y1: 40, X2: 120, Y2: 60}},
		{"truncates after scaling", 1, ScaleFactors{W: 3, H: 3}, images.Rect{X1: 26, Y1: 13, X2: 40, Y2: 20}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeBox(boxes, tt.anchor, tt.scale)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeBoxInvalid(t *testing.T) {
	boxes := boxTensor(100, 50, 40, 20)

	_, err := DecodeBox(boxes, 1, ScaleFactors{W: 1, H: 1})
	assert.True(t, errdefs.IsInvalidArgument(err), "anchor past N")
	_, err = DecodeBox(boxes, -1, ScaleFactors{W: 1, H: 1})
	assert.True(t, errdefs.IsInvalidArgument(err), "negative anchor")
	_, err = DecodeBox(boxes, 0, ScaleFactors{W: 0, H: 1})
	assert.True(t, errdefs.IsInvalidArgument(err), "zero scale")
	_, err = DecodeBox(boxes, 0, ScaleFactors{W: 1, H: -2})
	assert.True(t, errdefs.IsInvalidArgument(err), "negative scale")

	flat := tensor.New(tensor.WithShape(4), tensor.WithBacking([]float32{1, 2, 3, 4}))
	_, err = DecodeBox(flat, 0, ScaleFactors{W: 1, H: 1})
	assert.True(t, errdefs.IsInvalidArgument(err), "wrong rank")
}

func TestDetectionOutputValidate(t *testing.T) {
	out := &DetectionOutput{
		Boxes:        boxTensor(1, 1, 1, 1, 2, 2, 2, 2),
		ClassIndices: tensor.New(tensor.WithShape(2), tensor.WithBacking([]int64{4, 7})),
		Scores:       tensor.New(tensor.WithShape(2), tensor.WithBacking([]float32{0.5, 0.6})),
	}
	require.NoError(t, out.Validate(2))
	require.NoError(t, out.Validate(0))
	assert.Equal(t, 2, out.NumAnchors())
	assert.True(t, errdefs.IsInferenceFailure(out.Validate(3)))

	class, err := out.ClassAt(1)
	require.NoError(t, err)
	assert.Equal(t, 7, class)

	out.ClassIndices = tensor.New(tensor.WithShape(1), tensor.WithBacking([]int32{5}))
	require.NoError(t, out.Validate(2), "a single class index is accepted")
	class, err = out.ClassAt(1)
	require.NoError(t, err)
	assert.Equal(t, 5, class)

	out.Scores = tensor.New(tensor.WithShape(3), tensor.WithBacking([]float32{1, 2, 3}))
	assert.True(t, errdefs.IsInferenceFailure(out.Validate(0)))

	assert.True(t, errdefs.IsInferenceFailure((*DetectionOutput)(nil).Validate(0)))
}

func TestSelfTest(t *testing.T) {
	dets, err := SelfTest()
	require.NoError(t, err)
	require.Len(t, dets, 3)
	assert.Equal(t, 1, dets[0].Anchor)
	assert.Equal(t, images.Rect{X1: 80, Y1: 40, X2: 120, Y2: 60}, dets[0].Box)
}
