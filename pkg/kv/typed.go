package kv

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Get decodes the JSON value under key. Missing keys, backend faults and
// decode failures all yield fallback; faults are logged.
func Get[T any](ctx context.Context, b Backend, key string, fallback T) T {
	raw, ok, err := b.Get(ctx, key)
	if err != nil {
		slog.Warn("kv read failed", "key", key, "err", err)
		return fallback
	}
	if !ok {
		return fallback
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		slog.Warn("kv decode failed", "key", key, "err", err)
		return fallback
	}
	return out
}

// Set encodes v as JSON under key. Failures are logged and swallowed.
func Set[T any](ctx context.Context, b Backend, key string, v T, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		slog.Warn("kv encode failed", "key", key, "err", err)
		return
	}
	if err := b.Set(ctx, key, raw, ttl); err != nil {
		slog.Warn("kv write failed", "key", key, "err", err)
	}
}

// Update applies fn to the decoded value (fallback when absent or unreadable)
// and stores the result atomically. It returns the stored value, or fallback
// when the update could not be written.
func Update[T any](ctx context.Context, b Backend, key string, fn func(T) T, fallback T) T {
	var result T
	err := b.Update(ctx, key, func(current []byte, exists bool) ([]byte, error) {
		value := fallback
		if exists {
			var decoded T
			if err := json.Unmarshal(current, &decoded); err != nil {
				slog.Warn("kv decode failed", "key", key, "err", err)
			} else {
				value = decoded
			}
		}
		result = fn(value)
		return json.Marshal(result)
	})
	if err != nil {
		slog.Warn("kv update failed", "key", key, "err", err)
		return fallback
	}
	return result
}
