package post_archiver

import (
	"context"
	"io"
)

// StoredFile is where the storage sink put a file.
type StoredFile struct {
	Path string `json:"path"`
	Link string `json:"link"`
}

// Storage is the cloud storage sink that media is archived to.
type Storage interface {
	// IsConfigured returns false if there are no credentials, in which case media is not archived at all.
	IsConfigured() bool
	// Save uploads content under filename, returning its stored path and a shareable link. Content may be read more
	// than once.
	Save(ctx context.Context, content io.ReadSeeker, filename string) (StoredFile, error)
}
