package remote

import (
	"context"
	"path"
	"time"
)

// Entry is one file in a remote directory listing.
type Entry struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Descriptor is a remote report file selected for download, annotated with
// the business date its filename pattern matched against.
type Descriptor struct {
	Name         string
	RemotePath   string
	Size         int64
	ModTime      time.Time
	BusinessDate time.Time
}

// Client defines the remote file operations the pipeline consumes.
type Client interface {
	// List returns all entries directly under dir.
	List(ctx context.Context, dir string) ([]Entry, error)

	// Download copies a remote file to localPath, creating parent
	// directories as needed.
	Download(ctx context.Context, remotePath, localPath string) error

	// Move relocates a remote file into a category subdirectory
	// (e.g. "processed" or "failed") next to its current location.
	Move(ctx context.Context, remotePath, category string) error

	Close() error
}

// CategoryPath returns where Move places remotePath for the category. A path
// already inside the category directory is its own destination, so repeated
// moves never nest.
func CategoryPath(remotePath, category string) string {
	dir := path.Dir(remotePath)
	if path.Base(dir) == category {
		return remotePath
	}
	return path.Join(dir, category, path.Base(remotePath))
}
