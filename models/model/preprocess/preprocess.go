// Package preprocess - Turning an image file into the model's input tensor.
//
// Every backend produces the same Result: the image resized to the model
// input size, reordered to the profile's channel order and normalized as
// (pixel - mean) / std, laid out NHWC with a batch of one.
package preprocess

import (
	"image"
	_ "image/jpeg" // register decoders for image.Decode
	_ "image/png"
	"os"

	_ "github.com/chai2010/webp"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/label-image/errdefs"
	"github.com/nvr-ai/label-image/models/model"
	"github.com/nvr-ai/label-image/models/postprocess"
)

// Kind selects a preprocessing backend.
type Kind string

const (
	// KindGoCV resizes and normalizes with OpenCV.
	KindGoCV Kind = "gocv"
	// KindNative decodes and resizes in pure Go and normalizes with a small
	// gorgonia graph.
	KindNative Kind = "native"
	// KindGraph decodes, resizes and normalizes inside a TensorFlow graph.
	KindGraph Kind = "graph"
)

// Kinds lists every backend name accepted by New.
func Kinds() []Kind {
	return []Kind{KindGoCV, KindNative, KindGraph}
}

// Config is the part of a model profile the preprocessors need.
type Config struct {
	// Width and Height are the model input size.
	Width, Height int
	// ColorOrder is the channel order written to the tensor.
	ColorOrder model.ColorOrder
	// Mean and Std are per channel, in ColorOrder.
	Mean, Std []float32
}

// ConfigFromProfile extracts the preprocessing configuration from a profile.
func ConfigFromProfile(p *model.Profile) Config {
	return Config{
		Width:      p.InputWidth,
		Height:     p.InputHeight,
		ColorOrder: p.ColorOrder,
		Mean:       append([]float32(nil), p.Mean...),
		Std:        append([]float32(nil), p.Std...),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return errdefs.InvalidArgumentf("invalid input size %dx%d", c.Width, c.Height)
	}
	if len(c.Mean) != 3 || len(c.Std) != 3 {
		return errdefs.InvalidArgumentf("mean and std need 3 values, got %d and %d", len(c.Mean), len(c.Std))
	}
	for i, s := range c.Std {
		if s == 0 {
			return errdefs.InvalidArgumentf("std[%d] must not be zero", i)
		}
	}
	return nil
}

// Source is the image to preprocess. Backends that can reuse an already
// decoded BGR Mat do so; otherwise the file at Path is read.
type Source struct {
	Path string
	Mat  *gocv.Mat
}

// Result contains the preprocessed tensor and the geometry needed to map
// boxes back onto the original image.
type Result struct {
	// Data is the normalized tensor, NHWC.
	Data []float32
	// Shape is [1, Height, Width, 3].
	Shape []int64
	// Width and Height are the model input size.
	Width, Height int
	// OriginalWidth and OriginalHeight are the source image size.
	OriginalWidth, OriginalHeight int
	// Scale is the input size divided by the original size.
	Scale postprocess.ScaleFactors
}

// Preprocessor converts a source image into a model input tensor.
type Preprocessor interface {
	Preprocess(src Source) (*Result, error)
}

// New creates the preprocessor for a backend.
//
// Arguments:
//   - kind: The backend, one of Kinds().
//   - cfg: The preprocessing configuration.
//
// Returns:
//   - Preprocessor: The backend.
//   - error: errdefs.ErrInvalidArgument for an unknown kind or bad config.
func New(kind Kind, cfg Config) (Preprocessor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch kind {
	case KindGoCV, "":
		return NewGoCV(cfg), nil
	case KindNative:
		return NewNative(cfg), nil
	case KindGraph:
		return NewGraph(cfg), nil
	default:
		return nil, errdefs.InvalidArgumentf("unknown preprocess backend %q (want one of %v)", kind, Kinds())
	}
}

func newResult(cfg Config, data []float32, origW, origH int) *Result {
	return &Result{
		Data:           data,
		Shape:          []int64{1, int64(cfg.Height), int64(cfg.Width), 3},
		Width:          cfg.Width,
		Height:         cfg.Height,
		OriginalWidth:  origW,
		OriginalHeight: origH,
		Scale: postprocess.ScaleFactors{
			W: float64(cfg.Width) / float64(origW),
			H: float64(cfg.Height) / float64(origH),
		},
	}
}

// Image reverses the normalization and returns the model input as an 8-bit
// BGR Mat, which is what the debug dump writes. The caller must Close it.
//
// Arguments:
//   - cfg: The configuration the result was produced with.
//
// Returns:
//   - gocv.Mat: The reconstructed input image.
//   - error: An error if the result does not match cfg.
func (r *Result) Image(cfg Config) (gocv.Mat, error) {
	if len(r.Data) != r.Width*r.Height*3 {
		return gocv.NewMat(), errdefs.InvalidArgumentf("tensor has %d values, want %d", len(r.Data), r.Width*r.Height*3)
	}
	if err := cfg.Validate(); err != nil {
		return gocv.NewMat(), err
	}

	buf := make([]byte, len(r.Data))
	for i := 0; i < len(r.Data); i += 3 {
		for c := 0; c < 3; c++ {
			v := r.Data[i+c]*cfg.Std[c] + cfg.Mean[c]
			dst := c
			if cfg.ColorOrder == model.ColorOrderRGB {
				dst = 2 - c
			}
			buf[i+dst] = uint8(min(max(v+0.5, 0), 255))
		}
	}
	return gocv.NewMatFromBytes(r.Height, r.Width, gocv.MatTypeCV8UC3, buf)
}

// readOriginalSize returns the dimensions of the source image without
// decoding pixel data when no Mat is supplied.
func readOriginalSize(src Source) (int, int, error) {
	if src.Mat != nil && !src.Mat.Empty() {
		return src.Mat.Cols(), src.Mat.Rows(), nil
	}
	f, err := openSource(src.Path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "read image header %s", src.Path)
	}
	return cfg.Width, cfg.Height, nil
}

func openSource(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.NotFoundf("image %s", path)
		}
		return nil, errors.Wrapf(err, "open image %s", path)
	}
	return f, nil
}
