package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
)

// Category subdirectories a file can be sorted into after processing.
const (
	CategoryProcessed = "processed"
	CategoryFailed    = "failed"
)

// CategoryPath computes the destination for sorting a local file into a
// category subdirectory. Any existing category segment is stripped from the
// current directory first, so moving an already-failed file to "failed"
// never produces a nested failed/failed path.
func CategoryPath(path, category string) string {
	dir := filepath.Dir(path)
	if b := filepath.Base(dir); b == CategoryProcessed || b == CategoryFailed {
		dir = filepath.Dir(dir)
	}
	return filepath.Join(dir, category, filepath.Base(path))
}

// MoveToCategory relocates the file into the category subdirectory and
// returns the new path. Moving a file already in place is a no-op.
func MoveToCategory(path, category string) (string, error) {
	dest := CategoryPath(path, category)
	if dest == path {
		return path, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("failed to create %s directory: %w", category, err)
	}
	if err := os.Rename(path, dest); err != nil {
		return "", fmt.Errorf("failed to move %s to %s: %w", path, dest, err)
	}

	return dest, nil
}
