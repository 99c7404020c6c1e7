package auth

import (
	"context"
	"sync"
	"time"
)

// MemoryRevocationStore keeps revoked token digests in memory. It is safe for
// concurrent use and intended for development or single-instance deployments;
// a restart clears it, so revoked tokens become valid again until their
// natural expiry.
type MemoryRevocationStore struct {
	mu      sync.RWMutex
	revoked map[string]time.Time
}

// NewMemoryRevocationStore constructs an in-memory store implementation.
func NewMemoryRevocationStore() *MemoryRevocationStore {
	return &MemoryRevocationStore{revoked: make(map[string]time.Time)}
}

// Revoke records the digest until expiresAt.
func (s *MemoryRevocationStore) Revoke(_ context.Context, digest string, expiresAt time.Time) error {
	s.mu.Lock()
	s.revoked[digest] = expiresAt
	s.mu.Unlock()
	return nil
}

// IsRevoked reports whether the digest is currently revoked.
func (s *MemoryRevocationStore) IsRevoked(_ context.Context, digest string) (bool, error) {
	s.mu.RLock()
	expiresAt, ok := s.revoked[digest]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if time.Now().After(expiresAt) {
		s.mu.Lock()
		delete(s.revoked, digest)
		s.mu.Unlock()
		return false, nil
	}
	return true, nil
}

// PurgeExpired removes entries whose tokens have expired.
func (s *MemoryRevocationStore) PurgeExpired(_ context.Context, now time.Time) error {
	s.mu.Lock()
	for digest, expiresAt := range s.revoked {
		if now.After(expiresAt) {
			delete(s.revoked, digest)
		}
	}
	s.mu.Unlock()
	return nil
}

// Ping always reports success for the in-memory store.
func (s *MemoryRevocationStore) Ping(context.Context) error {
	return nil
}
