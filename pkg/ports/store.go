package ports

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Store.Get when the key does not exist.
var ErrNotFound = errors.New("key not found")

// Store persists opaque values by key.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Store saves value under key, replacing any previous value.
	Store(ctx context.Context, key string, value []byte) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Keys lists the stored keys.
	Keys(ctx context.Context) ([]string, error)
}
