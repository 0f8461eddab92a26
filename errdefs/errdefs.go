// Package errdefs - Error kinds shared by every stage of the detection pipeline.
//
// Errors are created with the helpers in this package so that callers can
// classify a failure with errors.Is regardless of how much context was added
// on the way up.
package errdefs

import (
	stderrors "errors"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when the graph, label or image file is missing.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is returned for out-of-range requests such as a top-k
	// larger than the number of scored anchors.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInferenceFailure is returned when any inference pass reports failure.
	ErrInferenceFailure = errors.New("inference failure")
)

// NotFoundf wraps ErrNotFound with a formatted message.
func NotFoundf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrNotFound, format, args...)
}

// InvalidArgumentf wraps ErrInvalidArgument with a formatted message.
func InvalidArgumentf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidArgument, format, args...)
}

// InferenceFailure marks err as an inference failure while keeping the
// underlying runtime error in the message.
//
// Arguments:
//   - err: The error reported by the inference runtime.
//   - stage: The pass that failed (e.g. "enqueue").
//
// Returns:
//   - error: nil when err is nil, otherwise an error matching ErrInferenceFailure.
func InferenceFailure(err error, stage string) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(ErrInferenceFailure, "%s: %v", stage, err)
}

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return stderrors.Is(err, ErrNotFound)
}

// IsInvalidArgument reports whether err is, or wraps, ErrInvalidArgument.
func IsInvalidArgument(err error) bool {
	return stderrors.Is(err, ErrInvalidArgument)
}

// IsInferenceFailure reports whether err is, or wraps, ErrInferenceFailure.
func IsInferenceFailure(err error) bool {
	return stderrors.Is(err, ErrInferenceFailure)
}
