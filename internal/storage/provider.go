// Package storage defines the blob storage abstraction used to persist the mirror snapshot.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned by GetObject when the path holds no object.
var ErrObjectNotFound = errors.New("object not found")

// BlobStore writes and reads whole objects.
type BlobStore interface {
	// PutObject replaces the object at path and returns its URI.
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	// GetObject opens the object at path. Callers close the reader.
	GetObject(ctx context.Context, path string) (io.ReadCloser, error)
}
