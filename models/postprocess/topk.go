package postprocess

import (
	"sort"

	"github.com/chewxy/math32"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/label-image/errdefs"
)

// SelectTopK ranks anchors by score and returns the k best.
//
// Equal scores keep the lower anchor index first. NaN scores rank below every
// number. The input slice is not modified.
//
// Arguments:
//   - scores: One score per anchor.
//   - k: How many detections to keep, 1 <= k <= len(scores).
//
// Returns:
//   - []ScoredDetection: k entries in non-increasing score order.
//   - error: errdefs.ErrInvalidArgument if scores is empty or k is out of range.
//
// @example
//
//	top, _ := SelectTopK([]float32{0.1, 0.9, 0.4, 0.9, 0.2}, 3)
//	// top = [{1 0.9} {3 0.9} {2 0.4}]
func SelectTopK(scores []float32, k int) ([]ScoredDetection, error) {
	if len(scores) == 0 {
		return nil, errdefs.InvalidArgumentf("no scores to rank")
	}
	if k <= 0 || k > len(scores) {
		return nil, errdefs.InvalidArgumentf("k=%d outside [1, %d]", k, len(scores))
	}

	ranked := make([]ScoredDetection, len(scores))
	for i, s := range scores {
		ranked[i] = ScoredDetection{Index: i, Score: s}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i].Score, ranked[j].Score
		if math32.IsNaN(b) {
			return !math32.IsNaN(a)
		}
		return a > b
	})
	return ranked[:k:k], nil
}

// SelectTopKDense flattens a score tensor of any shape and ranks it.
func SelectTopKDense(scores *tensor.Dense, k int) ([]ScoredDetection, error) {
	flat, err := Float32s(scores)
	if err != nil {
		return nil, err
	}
	return SelectTopK(flat, k)
}
