package postprocess

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/label-image/images"
)

// SelfTest runs ranking and box decoding against a small synthetic output and
// reports the first disagreement with the known answer. It needs no model
// file or image.
func SelfTest() ([]Detection, error) {
	scores := []float32{0.1, 0.9, 0.4, 0.9, 0.2}
	boxes := tensor.New(
		tensor.WithShape(1, len(scores), 4),
		tensor.WithBacking([]float32{
			10, 10, 4, 4,
			100, 50, 40, 20,
			30, 30, 10, 10,
			200, 100, 41, 21,
			5, 5, 2, 2,
		}),
	)

	top, err := SelectTopK(scores, 3)
	if err != nil {
		return nil, errors.Wrap(err, "self test: rank")
	}
	wantOrder := []int{1, 3, 2}
	for i, d := range top {
		if d.Index != wantOrder[i] {
			return nil, errors.Errorf("self test: rank %d is anchor %d, want %d", i, d.Index, wantOrder[i])
		}
	}

	wantBoxes := map[int]images.Rect{
		1: {X1: 80, Y1: 40, X2: 120, Y2: 60},
		3: {X1: 180, Y1: 90, X2: 220, Y2: 110},
		2: {X1: 25, Y1: 25, X2: 35, Y2: 35},
	}
	dets := make([]Detection, 0, len(top))
	for _, d := range top {
		rect, err := DecodeBox(boxes, d.Index, ScaleFactors{W: 1, H: 1})
		if err != nil {
			return nil, errors.Wrap(err, "self test: decode")
		}
		if rect != wantBoxes[d.Index] {
			return nil, errors.Errorf("self test: anchor %d decoded to %v, want %v", d.Index, rect, wantBoxes[d.Index])
		}
		dets = append(dets, Detection{Anchor: d.Index, Score: d.Score, Box: rect})
	}
	return dets, nil
}
