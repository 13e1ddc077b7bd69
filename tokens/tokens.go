// Package tokens owns per-platform OAuth credentials: loading them from the
// credential store, handing out currently valid access tokens, proactively
// refreshing them ahead of expiry, and notifying connectors when a
// credential is replaced or rejected.
package tokens

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/onnwee/chatmux/backend/message"
)

// Record is one platform's token pair. Readers always observe both fields
// from the same exchange; the manager replaces records atomically.
type Record struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scope        string
	Invalid      bool
}

// expiringSoon reports whether the access token is unusable within the
// buffer window.
func (r Record) expiringSoon(now time.Time, buffer time.Duration) bool {
	return !r.ExpiresAt.IsZero() && now.Add(buffer).After(r.ExpiresAt)
}

// Store is the externally supplied credential store adapter. Load returns
// (nil, nil) when no credential exists for the platform.
type Store interface {
	Load(ctx context.Context, platform message.Platform) (*Record, error)
	Save(ctx context.Context, platform message.Platform, rec Record) error
	Clear(ctx context.Context, platform message.Platform) error
}

// AuthError means no valid credential is available for a platform and the
// caller must not retry automatically; a new authorization is required.
type AuthError struct {
	Platform message.Platform
	Reason   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error for %s: %s", e.Platform, e.Reason)
}

// MemoryStore is an in-process Store used in tests and credential-less dev
// setups.
type MemoryStore struct {
	mu   sync.Mutex
	recs map[message.Platform]Record
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[message.Platform]Record)}
}

func (s *MemoryStore) Load(_ context.Context, p message.Platform) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[p]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryStore) Save(_ context.Context, p message.Platform, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[p] = rec
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, p message.Platform) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, p)
	return nil
}
