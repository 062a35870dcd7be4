// Package archive keeps point-in-time copies of the Root document in object
// storage before destructive operations replace it.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"time"
)

const keyPrefix = "snapshots"

// Archiver writes Root snapshots as JSON objects keyed
// snapshots/<version>/<timestamp>.json.
type Archiver struct {
	objects ObjectStore
	now     func() time.Time
}

// New returns an archiver over objects.
func New(objects ObjectStore) (*Archiver, error) {
	if objects == nil {
		return nil, errors.New("archive requires an object store")
	}
	return &Archiver{objects: objects, now: time.Now}, nil
}

// SnapshotKey is the object key for a snapshot taken at ts.
func SnapshotKey(version string, ts time.Time) string {
	if version == "" {
		version = "unversioned"
	}
	return path.Join(keyPrefix, version, ts.UTC().Format("20060102T150405.000000000Z")+".json")
}

// Snapshot uploads doc and returns its key.
func (a *Archiver) Snapshot(ctx context.Context, version string, doc []byte) (string, error) {
	key := SnapshotKey(version, a.now())
	if err := a.objects.Put(ctx, key, bytes.NewReader(doc), int64(len(doc)), "application/json"); err != nil {
		return "", fmt.Errorf("archive snapshot: %w", err)
	}
	return key, nil
}

// List returns snapshot keys for version, oldest first.
func (a *Archiver) List(ctx context.Context, version string) ([]string, error) {
	prefix := keyPrefix + "/"
	if version != "" {
		prefix = path.Join(keyPrefix, version) + "/"
	}
	keys, err := a.objects.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}
