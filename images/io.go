package images

import (
	"bufio"
	"os"

	"github.com/chai2010/webp"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/label-image/errdefs"
)

// ReadMat decodes an image file into a BGR gocv.Mat. WebP files are decoded
// with the pure WebP codec so they load even when OpenCV was built without
// WebP support. The caller owns the returned Mat and must Close it.
//
// Arguments:
//   - path: The image file path.
//
// Returns:
//   - gocv.Mat: The decoded 8-bit, 3-channel image.
//   - error: errdefs.ErrNotFound if the file is missing, or a decode error.
func ReadMat(path string) (gocv.Mat, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return gocv.NewMat(), errdefs.NotFoundf("image %s", path)
		}
		return gocv.NewMat(), errors.Wrapf(err, "stat image %s", path)
	}

	if FormatFromPath(path) == FormatWebP {
		f, err := os.Open(path)
		if err != nil {
			return gocv.NewMat(), errors.Wrapf(err, "open image %s", path)
		}
		defer f.Close()

		img, err := webp.Decode(bufio.NewReader(f))
		if err != nil {
			return gocv.NewMat(), errors.Wrapf(err, "decode webp %s", path)
		}
		mat, err := gocv.ImageToMatRGB(img)
		if err != nil {
			return gocv.NewMat(), errors.Wrapf(err, "convert webp %s", path)
		}
		return mat, nil
	}

	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		mat.Close()
		return gocv.NewMat(), errors.Errorf("failed to decode image %s", path)
	}
	return mat, nil
}

// WriteImage encodes a Mat to disk, choosing the codec from the extension.
// WebP output is written lossless; every other extension is handed to OpenCV.
//
// Arguments:
//   - path: The destination path.
//   - mat: The image to write.
//
// Returns:
//   - error: An error if the Mat is empty or encoding fails.
func WriteImage(path string, mat gocv.Mat) error {
	if mat.Empty() {
		return errdefs.InvalidArgumentf("refusing to write empty image to %s", path)
	}

	if FormatFromPath(path) != FormatWebP {
		if !gocv.IMWrite(path, mat) {
			return errors.Errorf("failed to write image %s", path)
		}
		return nil
	}

	img, err := mat.ToImage()
	if err != nil {
		return errors.Wrapf(err, "convert %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	w := bufio.NewWriter(f)
	if err := webp.Encode(w, img, &webp.Options{Lossless: true}); err != nil {
		f.Close()
		return errors.Wrapf(err, "encode webp %s", path)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return errors.Wrapf(err, "flush %s", path)
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}
