package storage

import (
	"context"
	"io"
)

// SourceStore holds uploaded book source files (pdf/epub/txt) between
// upload and ingestion. Keys are "bookID/filename".
type SourceStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}
