package preprocess

import (
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/label-image/images"
	"github.com/nvr-ai/label-image/models/model"
)

// GoCVPreprocessor resizes with bilinear interpolation and normalizes with
// OpenCV matrix arithmetic.
type GoCVPreprocessor struct {
	config Config
}

// NewGoCV creates an OpenCV backed preprocessor.
func NewGoCV(cfg Config) *GoCVPreprocessor {
	return &GoCVPreprocessor{config: cfg}
}

// Preprocess performs all necessary preprocessing steps on the input image.
//
// Arguments:
//   - src: The image, either as a decoded BGR Mat or a file path.
//
// Returns:
//   - *Result: The normalized NHWC tensor and scale factors.
//   - error: An error if the image cannot be read.
func (p *GoCVPreprocessor) Preprocess(src Source) (*Result, error) {
	var mat gocv.Mat
	if src.Mat != nil && !src.Mat.Empty() {
		mat = *src.Mat
	} else {
		read, err := images.ReadMat(src.Path)
		if err != nil {
			return nil, err
		}
		defer read.Close()
		mat = read
	}
	origW, origH := mat.Cols(), mat.Rows()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(mat, &resized, image.Pt(p.config.Width, p.config.Height), 0, 0, gocv.InterpolationLinear)

	if p.config.ColorOrder == model.ColorOrderRGB {
		gocv.CvtColor(resized, &resized, gocv.ColorBGRToRGB)
	}

	floats := gocv.NewMat()
	defer floats.Close()
	resized.ConvertTo(&floats, gocv.MatTypeCV32FC3)

	mean := gocv.NewMatWithSizeFromScalar(scalar(p.config.Mean), p.config.Height, p.config.Width, gocv.MatTypeCV32FC3)
	defer mean.Close()
	std := gocv.NewMatWithSizeFromScalar(scalar(p.config.Std), p.config.Height, p.config.Width, gocv.MatTypeCV32FC3)
	defer std.Close()

	gocv.Subtract(floats, mean, &floats)
	gocv.Divide(floats, std, &floats)

	data, err := floats.DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrap(err, "read normalized tensor")
	}
	out := make([]float32, len(data))
	copy(out, data)

	return newResult(p.config, out, origW, origH), nil
}

func scalar(v []float32) gocv.Scalar {
	return gocv.NewScalar(float64(v[0]), float64(v[1]), float64(v[2]), 0)
}
