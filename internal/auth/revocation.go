package auth

import (
	"context"
	"time"
)

// RevocationStore defines the persistence contract for revoked token
// digests. Implementations receive SHA-256 digests, never raw tokens.
type RevocationStore interface {
	Revoke(ctx context.Context, digest string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, digest string) (bool, error)
	PurgeExpired(ctx context.Context, now time.Time) error
}
