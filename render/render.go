// Package render - Drawing detections onto images.
package render

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/nvr-ai/label-image/errdefs"
	"github.com/nvr-ai/label-image/images"
)

// Style controls how a detection is drawn. Colors are given as RGBA and
// converted to OpenCV channel order by gocv.
type Style struct {
	BoxColor      color.RGBA
	TextColor     color.RGBA
	Thickness     int
	TextThickness int
	Font          gocv.HersheyFont
	FontScale     float64
}

// DefaultStyle draws a blue 2px box with the score in red complex Hershey text.
func DefaultStyle() Style {
	return Style{
		BoxColor:      color.RGBA{B: 255, A: 255},
		TextColor:     color.RGBA{R: 255, A: 255},
		Thickness:     2,
		TextThickness: 1,
		Font:          gocv.FontHersheyComplex,
		FontScale:     0.8,
	}
}

// Renderer draws detections with a fixed style.
type Renderer struct {
	style Style
}

// NewRenderer creates a renderer.
//
// Arguments:
//   - style: The drawing style, see DefaultStyle.
//
// Returns:
//   - *Renderer: The renderer.
func NewRenderer(style Style) *Renderer {
	return &Renderer{style: style}
}

// Style returns the renderer's drawing style.
func (r *Renderer) Style() Style { return r.style }

// FormatScore renders a score the way it is written next to a box.
func FormatScore(score float32) string {
	return fmt.Sprintf("%f", score)
}

// Draw clamps rect to the image, outlines it and writes text at its top-left
// corner.
//
// Arguments:
//   - dst: The image to draw on, modified in place.
//   - text: The caption, usually FormatScore of the detection.
//   - rect: The box in dst's coordinates.
//
// Returns:
//   - images.Rect: The clamped rectangle that was drawn.
//   - error: errdefs.ErrInvalidArgument if dst is nil or empty.
func (r *Renderer) Draw(dst *gocv.Mat, text string, rect images.Rect) (images.Rect, error) {
	if dst == nil || dst.Empty() {
		return images.Rect{}, errdefs.InvalidArgumentf("cannot draw on an empty image")
	}
	clamped := rect.Clamp(dst.Cols(), dst.Rows())

	gocv.Rectangle(dst, clamped.ToRectangle(), r.style.BoxColor, r.style.Thickness)
	if text != "" {
		gocv.PutText(dst, text, image.Pt(clamped.X1, clamped.Y1), r.style.Font, r.style.FontScale, r.style.TextColor, r.style.TextThickness)
	}
	return clamped, nil
}
