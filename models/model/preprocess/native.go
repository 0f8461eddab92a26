package preprocess

import (
	"image"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/label-image/models/model"
)

// NativePreprocessor decodes and resizes without OpenCV. Normalization runs
// as a gorgonia expression graph broadcasting the per-channel mean and std
// over every pixel.
type NativePreprocessor struct {
	config Config
}

// NewNative creates a pure-Go preprocessor.
func NewNative(cfg Config) *NativePreprocessor {
	return &NativePreprocessor{config: cfg}
}

// Preprocess performs all necessary preprocessing steps on the input image.
//
// Arguments:
//   - src: The image; a supplied Mat is converted, otherwise Path is decoded.
//
// Returns:
//   - *Result: The normalized NHWC tensor and scale factors.
//   - error: An error if decoding or normalization fails.
func (p *NativePreprocessor) Preprocess(src Source) (*Result, error) {
	img, err := p.decode(src)
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	origW, origH := bounds.Dx(), bounds.Dy()

	resized := resize.Resize(uint(p.config.Width), uint(p.config.Height), img, resize.Bilinear)
	pixels := p.imageToTensor(resized)

	data, err := normalize(pixels, p.config.Width*p.config.Height, p.config.Mean, p.config.Std)
	if err != nil {
		return nil, err
	}
	return newResult(p.config, data, origW, origH), nil
}

func (p *NativePreprocessor) decode(src Source) (image.Image, error) {
	if src.Mat != nil && !src.Mat.Empty() {
		img, err := src.Mat.ToImage()
		if err != nil {
			return nil, errors.Wrap(err, "convert mat")
		}
		return img, nil
	}
	f, err := openSource(src.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decode image %s", src.Path)
	}
	return img, nil
}

// imageToTensor converts an image to HWC float32 values in the configured
// channel order.
func (p *NativePreprocessor) imageToTensor(img image.Image) []float32 {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	out := make([]float32, 0, width*height*3)

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			r8, g8, b8 := float32(uint8(r>>8)), float32(uint8(g>>8)), float32(uint8(b>>8))
			if p.config.ColorOrder == model.ColorOrderRGB {
				out = append(out, r8, g8, b8)
			} else {
				out = append(out, b8, g8, r8)
			}
		}
	}
	return out
}

// normalize computes (pixels - mean) / std per channel.
//
// Arguments:
//   - pixels: HWC values, len = n*3.
//   - n: Number of pixels.
//   - mean, std: Per-channel values.
//
// Returns:
//   - []float32: The normalized values in the same layout.
//   - error: An error if the graph fails to build or run.
func normalize(pixels []float32, n int, mean, std []float32) ([]float32, error) {
	g := G.NewGraph()

	x := G.NodeFromAny(g, tensor.New(tensor.WithShape(n, 3), tensor.WithBacking(pixels)), G.WithName("pixels"))
	m := G.NodeFromAny(g, tensor.New(tensor.WithShape(1, 3), tensor.WithBacking(append([]float32(nil), mean...))), G.WithName("mean"))
	s := G.NodeFromAny(g, tensor.New(tensor.WithShape(1, 3), tensor.WithBacking(append([]float32(nil), std...))), G.WithName("std"))

	centered, err := G.BroadcastSub(x, m, nil, []byte{0})
	if err != nil {
		return nil, errors.Wrap(err, "build mean subtraction")
	}
	scaled, err := G.BroadcastHadamardDiv(centered, s, nil, []byte{0})
	if err != nil {
		return nil, errors.Wrap(err, "build std division")
	}

	machine := G.NewTapeMachine(g)
	defer machine.Close()
	if err := machine.RunAll(); err != nil {
		return nil, errors.Wrap(err, "run normalization")
	}

	data, ok := scaled.Value().Data().([]float32)
	if !ok {
		return nil, errors.Errorf("normalization produced %T", scaled.Value().Data())
	}
	return append([]float32(nil), data...), nil
}
