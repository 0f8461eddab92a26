package util

import (
	"os"
	"path/filepath"

	"github.com/nvr-ai/label-image/errdefs"
)

// ResolvePath joins path onto root unless path is already absolute.
//
// Arguments:
// - root: Directory prefix applied to relative paths. May be empty.
// - path: The file path given on the command line.
//
// Returns:
// - The resolved path, or "" when path is empty.
func ResolvePath(root, path string) string {
	if path == "" {
		return ""
	}
	if root == "" || filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(root, path)
}

// RequireFile checks that path names an existing regular file.
//
// Arguments:
// - kind: What the file is, used in the error message (e.g. "graph").
// - path: The path to check.
//
// Returns:
// - error: An errdefs.ErrNotFound error if the file is missing or is a directory.
func RequireFile(kind, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errdefs.NotFoundf("%s file %q", kind, path)
		}
		return err
	}
	if info.IsDir() {
		return errdefs.NotFoundf("%s file %q is a directory", kind, path)
	}
	return nil
}
