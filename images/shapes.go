package images

import (
	"fmt"
	"image"
)

// Rect is a lightweight bounding box in pixel coordinates.
type Rect struct {
	X1, Y1, X2, Y2 int
}

// Width returns X2 - X1.
func (r Rect) Width() int { return r.X2 - r.X1 }

// Height returns Y2 - Y1.
func (r Rect) Height() int { return r.Y2 - r.Y1 }

// Empty reports whether the rectangle covers no pixels.
func (r Rect) Empty() bool { return r.X2 <= r.X1 || r.Y2 <= r.Y1 }

// Clamp restricts the rectangle to the image area [0, width) x [0, height).
// Corners are clamped independently, so a box lying completely outside the
// image collapses onto its nearest edge.
//
// Arguments:
//   - width: The image width in pixels.
//   - height: The image height in pixels.
//
// Returns:
//   - Rect: The clamped rectangle.
func (r Rect) Clamp(width, height int) Rect {
	maxX := max(width-1, 0)
	maxY := max(height-1, 0)
	return Rect{
		X1: min(max(r.X1, 0), maxX),
		Y1: min(max(r.Y1, 0), maxY),
		X2: min(max(r.X2, 0), maxX),
		Y2: min(max(r.Y2, 0), maxY),
	}
}

// ToRectangle converts to the standard library rectangle gocv draws with.
func (r Rect) ToRectangle() image.Rectangle {
	return image.Rect(r.X1, r.Y1, r.X2, r.Y2)
}

// String formats the rectangle as "(x1,y1)-(x2,y2)".
func (r Rect) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", r.X1, r.Y1, r.X2, r.Y2)
}
