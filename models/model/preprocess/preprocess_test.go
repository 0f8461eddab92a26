package preprocess

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/label-image/errdefs"
	"github.com/nvr-ai/label-image/models/model"
)

var testColor = color.RGBA{R: 200, G: 100, B: 50, A: 255}

// createSolidPNG writes a single-color PNG, which stays single-color under
// any interpolating resize.
//
// Arguments:
//   - t: Testing interface for error reporting.
//   - width: The desired image width in pixels.
//   - height: The desired image height in pixels.
//
// Returns:
//   - string: Path of the written file.
func createSolidPNG(t testing.TB, width, height int) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, testColor)
		}
	}

	path := filepath.Join(t.TempDir(), "solid.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img), "PNG encoding should succeed")
	return path
}

func testConfig(order model.ColorOrder) Config {
	return Config{
		Width:      4,
		Height:     2,
		ColorOrder: order,
		Mean:       []float32{1, 2, 3},
		Std:        []float32{1, 1, 2},
	}
}

func assertEveryPixel(t *testing.T, data []float32, want [3]float32) {
	t.Helper()
	require.Len(t, data, 4*2*3)
	for i := 0; i < len(data); i += 3 {
		for c := 0; c < 3; c++ {
			require.InDelta(t, want[c], data[i+c], 1e-3, "pixel %d channel %d", i/3, c)
		}
	}
}

// TestPreprocessBackends validates that the OpenCV and pure-Go backends agree
// on layout, channel order and normalization.
//
// Arguments:
//   - t: Testing context for assertions and error reporting.
func TestPreprocessBackends(t *testing.T) {
	path := createSolidPNG(t, 8, 4)

	tests := []struct {
		name  string
		kind  Kind
		order model.ColorOrder
		want  [3]float32
	}{
		{"gocv bgr", KindGoCV, model.ColorOrderBGR, [3]float32{49, 98, 98.5}},
		{"native bgr", KindNative, model.ColorOrderBGR, [3]float32{49, 98, 98.5}},
		{"native rgb", KindNative, model.ColorOrderRGB, [3]float32{199, 98, 23.5}},
		{"gocv rgb", KindGoCV, model.ColorOrderRGB, [3]float32{199, 98, 23.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.kind, testConfig(tt.order))
			require.NoError(t, err)

			res, err := p.Preprocess(Source{Path: path})
			require.NoError(t, err)

			assert.Equal(t, []int64{1, 2, 4, 3}, res.Shape)
			assert.Equal(t, 8, res.OriginalWidth)
			assert.Equal(t, 4, res.OriginalHeight)
			assert.InDelta(t, 0.5, res.Scale.W, 1e-9)
			assert.InDelta(t, 0.5, res.Scale.H, 1e-9)
			assertEveryPixel(t, res.Data, tt.want)
		})
	}
}

func TestPreprocessFromMat(t *testing.T) {
	path := createSolidPNG(t, 8, 4)
	mat := gocv.IMRead(path, gocv.IMReadColor)
	require.False(t, mat.Empty())
	defer mat.Close()

	for _, kind := range []Kind{KindGoCV, KindNative} {
		p, err := New(kind, testConfig(model.ColorOrderBGR))
		require.NoError(t, err)
		res, err := p.Preprocess(Source{Mat: &mat})
		require.NoError(t, err, "backend %s", kind)
		assertEveryPixel(t, res.Data, [3]float32{49, 98, 98.5})
	}
}

func TestPreprocessMissingFile(t *testing.T) {
	for _, kind := range []Kind{KindGoCV, KindNative} {
		p, err := New(kind, testConfig(model.ColorOrderBGR))
		require.NoError(t, err)
		_, err = p.Preprocess(Source{Path: filepath.Join(t.TempDir(), "missing.png")})
		assert.True(t, errdefs.IsNotFound(err), "backend %s: %v", kind, err)
	}
}

func TestResultImage(t *testing.T) {
	path := createSolidPNG(t, 8, 4)
	for _, order := range []model.ColorOrder{model.ColorOrderBGR, model.ColorOrderRGB} {
		cfg := testConfig(order)
		p, err := New(KindNative, cfg)
		require.NoError(t, err)
		res, err := p.Preprocess(Source{Path: path})
		require.NoError(t, err)

		mat, err := res.Image(cfg)
		require.NoError(t, err)
		assert.Equal(t, 4, mat.Cols())
		assert.Equal(t, 2, mat.Rows())
		px := mat.GetVecbAt(1, 2)
		assert.Equal(t, []uint8{50, 100, 200}, []uint8(px), "dump is always BGR (%s)", order)
		mat.Close()
	}
}

func TestNew(t *testing.T) {
	_, err := New("vips", testConfig(model.ColorOrderBGR))
	assert.True(t, errdefs.IsInvalidArgument(err))

	bad := testConfig(model.ColorOrderBGR)
	bad.Std = []float32{1, 0, 1}
	_, err = New(KindGoCV, bad)
	assert.True(t, errdefs.IsInvalidArgument(err))

	p, err := New("", testConfig(model.ColorOrderBGR))
	require.NoError(t, err)
	assert.IsType(t, &GoCVPreprocessor{}, p, "gocv is the default backend")

	_, err = NewGraph(testConfig(model.ColorOrderBGR)).Preprocess(Source{})
	assert.True(t, errdefs.IsInvalidArgument(err))
}

func TestConfigFromProfile(t *testing.T) {
	prof := &model.Profile{
		InputWidth:  624,
		InputHeight: 384,
		ColorOrder:  model.ColorOrderBGR,
		Mean:        []float32{103.939, 116.779, 123.68},
		Std:         []float32{1, 1, 1},
	}
	cfg := ConfigFromProfile(prof)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 624, cfg.Width)
	assert.Equal(t, 384, cfg.Height)

	cfg.Mean[0] = 0
	assert.InDelta(t, 103.939, prof.Mean[0], 1e-4, "config must not alias the profile")
}
