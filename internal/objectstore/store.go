// Package objectstore abstracts document storage for statement-of-account
// files.
package objectstore

import (
	"context"
	"io"
)

// Store reads and writes documents by key. Keys are opaque to callers beyond
// the conventions the SOA service establishes.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}
