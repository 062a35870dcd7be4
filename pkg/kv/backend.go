// Package kv is the string-keyed storage shim underneath the Root store.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrConflict is returned when a compare-and-swap update keeps losing races.
var ErrConflict = errors.New("kv: update conflict")

// maxUpdateAttempts bounds optimistic retry loops on every backend.
const maxUpdateAttempts = 16

// UpdateFunc receives the current value (exists=false when the key is absent or
// expired) and returns the replacement. Returning (nil, nil) leaves the key
// untouched; returning an error aborts the update and is passed back unchanged.
type UpdateFunc func(current []byte, exists bool) ([]byte, error)

// Backend is a key-value medium with a single-writer update primitive.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set writes value; ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// Update performs a read-modify-write that is atomic with respect to other
	// Update and Set calls on the same key. Written values carry no expiry.
	Update(ctx context.Context, key string, fn UpdateFunc) error
	Close() error
}
