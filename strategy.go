package mongofiles

import (
	"context"
	"io"
	"time"
)

// StrategyKind names a storage strategy.
type StrategyKind string

const (
	// KindChunked stores content as GridFS chunks.
	KindChunked StrategyKind = "gridfs"
	// KindDocument stores content inline in a single document.
	KindDocument StrategyKind = "document"
)

// FileInfo describes a file being committed.
type FileInfo struct {
	ID          string
	Filename    string
	ContentType string
	// Size is the content length when known in advance, or -1.
	Size     int64
	Metadata map[string]string
}

// FileRecord is the stored view of a committed file.
type FileRecord struct {
	ID          string
	Filename    string
	ContentType string
	Length      int64
	UploadDate  time.Time
	Metadata    map[string]string
}

// Strategy persists and retrieves file content for one bucket.
type Strategy interface {
	// Kind reports which strategy this is.
	Kind() StrategyKind

	// Commit writes content under info.ID and returns the identifier once
	// the store has acknowledged the write.
	Commit(ctx context.Context, content io.Reader, info FileInfo) (string, error)

	// Find returns the record stored under id, or a NotFound error.
	Find(ctx context.Context, id string) (*FileRecord, error)

	// OpenDownloadStream returns a reader over the content stored under id.
	OpenDownloadStream(ctx context.Context, id string) (io.ReadCloser, error)

	// Delete removes the record stored under id.
	Delete(ctx context.Context, id string) error
}
