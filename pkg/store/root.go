// Package store persists the Root aggregate document on a kv.Backend.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"carecircle/pkg/domain"
	"carecircle/pkg/kv"
)

// CurrentVersion tags the Root layout written by this code.
const CurrentVersion = "v3"

const (
	keyNamespace = "carecircle"
	RememberKey  = keyNamespace + ":remember"
)

// RootKey is the storage key of the Root document for version.
func RootKey(version string) string {
	return keyNamespace + ":root:" + version
}

// LegacyKeys are storage keys written by earlier releases.
var LegacyKeys = []string{
	keyNamespace,
	keyNamespace + ":root",
	RootKey("v1"),
	RootKey("v2"),
	keyNamespace + "-session",
}

// ErrNoChange tells UpdateRoot that fn made no modification and nothing
// should be written. UpdateRoot returns a nil error in that case.
var ErrNoChange = errors.New("store: no change")

// Archiver keeps a copy of a document about to be replaced.
type Archiver interface {
	Snapshot(ctx context.Context, version string, doc []byte) (string, error)
}

// RootStore reads and writes the Root document as one JSON value.
type RootStore struct {
	backend  kv.Backend
	key      string
	now      func() time.Time
	archiver Archiver
}

// Option configures a RootStore.
type Option func(*RootStore)

// WithClock injects the clock used for fixture timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *RootStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithArchiver enables snapshots before the document is replaced.
func WithArchiver(a Archiver) Option {
	return func(s *RootStore) { s.archiver = a }
}

// NewRootStore returns a store over backend.
func NewRootStore(backend kv.Backend, opts ...Option) *RootStore {
	s := &RootStore{
		backend: backend,
		key:     RootKey(CurrentVersion),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Backend exposes the underlying medium for callers sharing it.
func (s *RootStore) Backend() kv.Backend { return s.backend }

// Key returns the storage key of the Root document.
func (s *RootStore) Key() string { return s.key }

// GetRoot returns the stored document, fully shaped. Storage faults are logged
// and yield an empty document.
func (s *RootStore) GetRoot(ctx context.Context) domain.Root {
	root := kv.Get(ctx, s.backend, s.key, domain.NewRoot())
	root.Normalize()
	return root
}

// RawRoot returns the stored bytes as-is.
func (s *RootStore) RawRoot(ctx context.Context) ([]byte, bool, error) {
	return s.backend.Get(ctx, s.key)
}

// SetRoot overwrites the document unconditionally.
func (s *RootStore) SetRoot(ctx context.Context, root domain.Root) error {
	root.Normalize()
	data, err := json.Marshal(root)
	if err != nil {
		return fmt.Errorf("encode root: %w", err)
	}
	if err := s.backend.Set(ctx, s.key, data, 0); err != nil {
		return fmt.Errorf("write root: %w", err)
	}
	return nil
}

// UpdateRoot runs fn on the current document and writes the result atomically.
// fn may run more than once when writers collide, so it must only touch the
// document it is given. An error from fn aborts without writing; ErrNoChange
// aborts silently.
func (s *RootStore) UpdateRoot(ctx context.Context, fn func(*domain.Root) error) (domain.Root, error) {
	var result domain.Root
	err := s.backend.Update(ctx, s.key, func(current []byte, exists bool) ([]byte, error) {
		root := decodeRoot(current, exists, s.key)
		if err := fn(&root); err != nil {
			if errors.Is(err, ErrNoChange) {
				result = decodeRoot(current, exists, s.key)
				return nil, nil
			}
			return nil, err
		}
		root.Normalize()
		result = root
		return json.Marshal(root)
	})
	if err != nil {
		return domain.Root{}, err
	}
	return result, nil
}

func decodeRoot(raw []byte, exists bool, key string) domain.Root {
	root := domain.NewRoot()
	if exists {
		if err := json.Unmarshal(raw, &root); err != nil {
			slog.Warn("root document unreadable, starting empty", "key", key, "err", err)
			root = domain.NewRoot()
		}
	}
	root.Normalize()
	return root
}
