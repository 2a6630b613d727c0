package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when nothing is stored at the path.
var ErrNotFound = errors.New("object not found")

// ObjectStore is the gateway to the bucketed object store holding raw records and summaries.
// Paths are slash separated and start with the bucket name.
type ObjectStore interface {
	// Get returns the object at path, or ErrNotFound.
	Get(ctx context.Context, path string) ([]byte, error)

	// Put writes data at path, replacing whatever was there.
	Put(ctx context.Context, path string, data []byte) error

	// List returns every object path starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// HealthChecker is implemented by stores that can report connectivity.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
