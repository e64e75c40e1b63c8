package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a key has never been written.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned by CompareAndSwap when the stored revision moved.
	ErrConflict = errors.New("revision conflict")
	// ErrMalformed is returned when a stored record cannot be decoded.
	ErrMalformed = errors.New("malformed record")
)

// Backend is a keyed blob store with optimistic concurrency. A revision is an
// opaque token identifying the stored bytes; the empty revision means the key
// does not exist.
type Backend interface {
	// Get returns the raw value and its revision, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, string, error)
	// CompareAndSwap stores value only if the current revision equals rev and
	// returns the new revision. rev == "" requires the key to be absent.
	CompareAndSwap(ctx context.Context, key, rev string, value []byte) (string, error)
	// Delete removes the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys lists every stored key.
	Keys(ctx context.Context) ([]string, error)
	Close() error
}
