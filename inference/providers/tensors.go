package providers

import (
	"bytes"
	"encoding/binary"

	tf "github.com/galeone/tensorflow/tensorflow/go"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"
)

// float32Tensor builds a TensorFlow float tensor from flat values.
// TensorFlow reads tensor contents in host byte order, little endian on
// every supported platform.
func float32Tensor(shape []int64, data []float32) (*tf.Tensor, error) {
	var buf bytes.Buffer
	buf.Grow(len(data) * 4)
	if err := binary.Write(&buf, binary.LittleEndian, data); err != nil {
		return nil, errors.Wrap(err, "encode tensor")
	}
	t, err := tf.ReadTensor(tf.Float, shape, &buf)
	if err != nil {
		return nil, errors.Wrapf(err, "build tensor %v", shape)
	}
	return t, nil
}

// zeroTensor builds a float tensor of zeros.
func zeroTensor(shape []int64) (*tf.Tensor, error) {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	t, err := tf.ReadTensor(tf.Float, shape, bytes.NewReader(make([]byte, n*4)))
	if err != nil {
		return nil, errors.Wrapf(err, "build zero tensor %v", shape)
	}
	return t, nil
}

// denseFromTF copies a fetched TensorFlow tensor into a dense tensor.
func denseFromTF(t *tf.Tensor) (*tensor.Dense, error) {
	if t == nil {
		return nil, errors.New("nil tensor")
	}
	shape := make([]int, len(t.Shape()))
	n := 1
	for i, d := range t.Shape() {
		shape[i] = int(d)
		n *= int(d)
	}
	if len(shape) == 0 {
		shape = []int{1}
	}

	var buf bytes.Buffer
	if _, err := t.WriteContentsTo(&buf); err != nil {
		return nil, errors.Wrap(err, "read tensor contents")
	}

	var backing interface{}
	switch t.DataType() {
	case tf.Float:
		backing = make([]float32, n)
	case tf.Double:
		backing = make([]float64, n)
	case tf.Int64:
		backing = make([]int64, n)
	case tf.Int32:
		backing = make([]int32, n)
	default:
		return nil, errors.Errorf("unsupported tensor type %v", t.DataType())
	}
	if err := binary.Read(&buf, binary.LittleEndian, backing); err != nil {
		return nil, errors.Wrap(err, "decode tensor contents")
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing)), nil
}

// denseFromORT copies an ONNX Runtime tensor into a dense tensor.
func denseFromORT[T float32 | int64 | int32](t *ort.Tensor[T]) *tensor.Dense {
	dims := t.GetShape()
	shape := make([]int, len(dims))
	for i, d := range dims {
		shape[i] = int(d)
	}
	data := append([]T(nil), t.GetData()...)
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}
