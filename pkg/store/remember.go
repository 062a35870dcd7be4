package store

import (
	"context"
	"log/slog"
	"time"

	"carecircle/pkg/domain"
	"carecircle/pkg/kv"
)

const (
	// RememberTTL is the lifetime of a remember-me record by default.
	RememberTTL = 24 * time.Hour
	// RememberLongTTL applies when the user ticked "remember me".
	RememberLongTTL = 365 * 24 * time.Hour
)

// RememberStore holds the login pointer that outlives the in-document session.
// It shares the backend with RootStore but is cleared independently.
type RememberStore struct {
	backend kv.Backend
	now     func() time.Time
}

// NewRememberStore returns a store over backend.
func NewRememberStore(backend kv.Backend, now func() time.Time) *RememberStore {
	if now == nil {
		now = time.Now
	}
	return &RememberStore{backend: backend, now: now}
}

// Save writes a record for userID/groupID. The long TTL applies when
// rememberMe is set.
func (s *RememberStore) Save(ctx context.Context, userID, groupID string, rememberMe bool) domain.RememberRecord {
	ttl := RememberTTL
	if rememberMe {
		ttl = RememberLongTTL
	}
	now := s.now().UTC()
	rec := domain.RememberRecord{
		UserID:    userID,
		GroupID:   groupID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	kv.Set(ctx, s.backend, RememberKey, rec, ttl)
	return rec
}

// Load returns the record when present and unexpired.
func (s *RememberStore) Load(ctx context.Context) (domain.RememberRecord, bool) {
	rec := kv.Get(ctx, s.backend, RememberKey, domain.RememberRecord{})
	if rec.UserID == "" || rec.Expired(s.now()) {
		return domain.RememberRecord{}, false
	}
	return rec, true
}

// Clear deletes the record. Failures are logged and swallowed.
func (s *RememberStore) Clear(ctx context.Context) {
	if err := s.backend.Delete(ctx, RememberKey); err != nil {
		slog.Warn("remember record delete failed", "err", err)
	}
}
