package images

import (
	"crypto/md5"
	"encoding/hex"

	"gocv.io/x/gocv"
)

// Checksum returns the hex MD5 of a Mat's pixel bytes, or "empty" for an
// empty Mat. Two Mats with equal pixels and layout hash the same, which is
// how the annotated output is identified in logs and tests.
func Checksum(mat gocv.Mat) string {
	if mat.Empty() {
		return "empty"
	}
	var data []byte
	if mat.IsContinuous() {
		data = mat.ToBytes()
	} else {
		clone := mat.Clone()
		defer clone.Close()
		data = clone.ToBytes()
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
