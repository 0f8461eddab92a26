package errdefs

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestKindsSurviveWrapping(t *testing.T) {
	err := errors.Wrap(NotFoundf("graph file %q", "model.pb"), "load graph")
	assert.True(t, IsNotFound(err), "wrapped not-found error should still classify")
	assert.False(t, IsInvalidArgument(err), "not-found error must not classify as invalid argument")
	assert.Contains(t, err.Error(), "model.pb", "message should keep the file name")

	err = InvalidArgumentf("k=%d exceeds %d scores", 6, 5)
	assert.True(t, IsInvalidArgument(err))
	assert.Equal(t, "k=6 exceeds 5 scores: invalid argument", err.Error())
}

func TestInferenceFailure(t *testing.T) {
	assert.NoError(t, InferenceFailure(nil, "enqueue"), "nil runtime error should stay nil")

	err := InferenceFailure(errors.New("queue closed"), "batch")
	assert.True(t, IsInferenceFailure(err))
	assert.Contains(t, err.Error(), "batch: queue closed")
	assert.False(t, IsNotFound(err))
}
