package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes an archive object.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobWriter uploads archive files. PutMultipart is for payloads too large
// for a single request.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader lists and downloads archive files. Get returns ErrNotFound for
// a missing path.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}

// Archiver moves rows older than a cutoff from the database to object
// storage and returns how many it moved.
type Archiver interface {
	ArchiveTrades(ctx context.Context, before time.Time) (int64, error)
	ArchiveOutcomes(ctx context.Context, before time.Time) (int64, error)
}
