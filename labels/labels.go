// Package labels - Reads class label files.
package labels

import (
	"bufio"
	"os"

	"github.com/pkg/errors"

	"github.com/nvr-ai/label-image/errdefs"
)

// Padding is the multiple the label list is padded to. Models exported with
// this convention index their class outputs against a padded table.
const Padding = 16

// List is a padded label table.
type List struct {
	// Labels holds one entry per line followed by empty padding entries.
	Labels []string
	// Found is the number of lines actually read from the file.
	Found int
}

// ReadFile loads a label file, one label per line, and pads the result with
// empty strings so its length is a multiple of Padding.
//
// Arguments:
// - path: Path of the label file.
//
// Returns:
// - *List: The padded labels and the number of labels found.
// - error: errdefs.ErrNotFound if the file does not exist.
func ReadFile(path string) (*List, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.NotFoundf("labels file %s", path)
		}
		return nil, errors.Wrapf(err, "open labels file %s", path)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read labels file %s", path)
	}

	return Pad(lines), nil
}

// Pad copies labels into a List padded to a multiple of Padding.
func Pad(labels []string) *List {
	size := len(labels)
	if rem := size % Padding; rem != 0 {
		size += Padding - rem
	}
	padded := make([]string, size)
	copy(padded, labels)
	return &List{Labels: padded, Found: len(labels)}
}

// Name returns the label for class index i, or "" when i is outside the
// labels actually read from the file.
func (l *List) Name(i int) string {
	if l == nil || i < 0 || i >= l.Found {
		return ""
	}
	return l.Labels[i]
}
