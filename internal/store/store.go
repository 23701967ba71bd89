// Package store reads and writes pipeline objects in a remote bucket,
// with content digests attached as object metadata for change detection.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound reports an object that does not exist at the requested
// key. For many callers this is a normal outcome, not a failure.
var ErrNotFound = errors.New("object not found")

// StoreError reports a transport or authorization failure talking to
// the object store. These are retryable at the scheduler level.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Object is a fully materialized stored blob.
type Object struct {
	Data        []byte
	ContentType string
}

// Store is the gateway to the object bucket backing the sync pipeline.
type Store interface {
	// ExistsAndCurrent reports whether an object exists at key with a
	// digest metadata field equal to digest. An absent object is a
	// plain false, never an error.
	ExistsAndCurrent(ctx context.Context, key string, digest string) (bool, error)

	// Put uploads data under key with the given content type, attaching
	// the freshly computed digest of data as object metadata. It returns
	// the object's location URL and is safe to call repeatedly with
	// identical content.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)

	// Get downloads and fully materializes the object at key. It returns
	// an error wrapping ErrNotFound when the object is absent.
	Get(ctx context.Context, key string) (Object, error)

	// Delete removes the object at key.
	Delete(ctx context.Context, key string) error

	// PresignedURL returns a time-limited read URL for the object at
	// key, or "" when the object does not exist.
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)

	// URLFor returns the stable (unsigned) location URL for key without
	// any round-trip to the store.
	URLFor(key string) string
}
