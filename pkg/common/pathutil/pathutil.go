package pathutil

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var ErrEmptyPath = errors.New("empty database path")

// ResolveDBPath validates the directory of an embedded database and returns
// its absolute form. Relative paths resolve against the working directory.
func ResolveDBPath(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", ErrEmptyPath
	}
	if err := ValidateFilePath(dir); err != nil {
		return "", err
	}

	abs, err := filepath.Abs(filepath.Clean(dir))
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	return abs, nil
}

// ValidateFilePath rejects paths that climb out of their starting point.
func ValidateFilePath(filePath string) error {
	cleanPath := filepath.Clean(filePath)
	for _, part := range strings.Split(filepath.ToSlash(cleanPath), "/") {
		if part == ".." {
			return fmt.Errorf("invalid file path %q: path traversal not allowed", filePath)
		}
	}
	return nil
}
