package postprocess

import (
	"gorgonia.org/tensor"

	"github.com/nvr-ai/label-image/errdefs"
	"github.com/nvr-ai/label-image/images"
)

// DecodeBox converts the center-form box of one anchor into corner form in
// original image coordinates.
//
// The four values are truncated to integers first and half extents use
// integer division, so a width of 41 yields a half width of 20. The corners
// are then divided by the scale factors and truncated toward zero.
//
// Arguments:
//   - boxes: Tensor of shape [1, N, 4] holding (cx, cy, w, h).
//   - anchor: The anchor to decode, 0 <= anchor < N.
//   - scale: Preprocessed size divided by original size, per axis.
//
// Returns:
//   - images.Rect: The decoded rectangle.
//   - error: errdefs.ErrInvalidArgument for a bad anchor, shape or scale.
func DecodeBox(boxes *tensor.Dense, anchor int, scale ScaleFactors) (images.Rect, error) {
	if scale.W <= 0 || scale.H <= 0 {
		return images.Rect{}, errdefs.InvalidArgumentf("scale factors must be positive, got %+v", scale)
	}
	if boxes == nil {
		return images.Rect{}, errdefs.InvalidArgumentf("nil box tensor")
	}
	shape := boxes.Shape()
	if len(shape) != 3 || shape[0] != 1 || shape[2] != 4 {
		return images.Rect{}, errdefs.InvalidArgumentf("boxes shape %v, want [1 N 4]", shape)
	}
	if anchor < 0 || anchor >= shape[1] {
		return images.Rect{}, errdefs.InvalidArgumentf("anchor %d outside [0, %d)", anchor, shape[1])
	}

	flat, err := Float32s(boxes)
	if err != nil {
		return images.Rect{}, err
	}
	row := flat[anchor*4 : anchor*4+4]
	cx, cy, w, h := int(row[0]), int(row[1]), int(row[2]), int(row[3])

	return images.Rect{
		X1: int(float64(cx-w/2) / scale.W),
		Y1: int(float64(cy-h/2) / scale.H),
		X2: int(float64(cx+w/2) / scale.W),
		Y2: int(float64(cy+h/2) / scale.H),
	}, nil
}
