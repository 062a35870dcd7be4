package archive

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

type memObjects struct {
	objects map[string][]byte
	types   map[string]string
	failPut error
}

func newMemObjects() *memObjects {
	return &memObjects{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memObjects) Put(_ context.Context, key string, r io.Reader, size int64, contentType string) error {
	if m.failPut != nil {
		return m.failPut
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return errors.New("size mismatch")
	}
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func (m *memObjects) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func TestSnapshotWritesVersionedKey(t *testing.T) {
	objects := newMemObjects()
	a, err := New(objects)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	a.now = func() time.Time { return time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC) }

	key, err := a.Snapshot(context.Background(), "v3", []byte(`{"users":{}}`))
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if key != "snapshots/v3/20260504T030201.000000000Z.json" {
		t.Fatalf("key = %q", key)
	}
	if string(objects.objects[key]) != `{"users":{}}` || objects.types[key] != "application/json" {
		t.Fatalf("stored object = %q (%s)", objects.objects[key], objects.types[key])
	}
}

func TestListIsSortedAndScopedToVersion(t *testing.T) {
	objects := newMemObjects()
	a, _ := New(objects)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, v := range []string{"v3", "v2", "v3"} {
		ts := base.Add(time.Duration(2-i) * time.Minute)
		a.now = func() time.Time { return ts }
		if _, err := a.Snapshot(ctx, v, []byte("{}")); err != nil {
			t.Fatalf("snapshot: %v", err)
		}
	}
	keys, err := a.List(ctx, "v3")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 2 || keys[0] > keys[1] {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestSnapshotPropagatesStoreErrors(t *testing.T) {
	objects := newMemObjects()
	objects.failPut = errors.New("bucket gone")
	a, _ := New(objects)
	if _, err := a.Snapshot(context.Background(), "v3", []byte("{}")); err == nil {
		t.Fatalf("expected error")
	}
}
