package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// GuardOption configures a Guard instance.
type GuardOption func(*Guard)

// WithRevocationStore injects a custom RevocationStore implementation.
func WithRevocationStore(store RevocationStore) GuardOption {
	return func(g *Guard) {
		if store != nil {
			g.store = store
		}
	}
}

// Guard verifies bearer tokens against the issuer and a revocation store.
// Logout is modelled as revocation: the digest of a revoked token is held
// until the token would have expired on its own.
type Guard struct {
	issuer *Issuer
	store  RevocationStore
	clock  func() time.Time
}

// NewGuard constructs a Guard. Without an explicit store it falls back to the
// in-memory implementation, which does not survive restarts.
func NewGuard(issuer *Issuer, opts ...GuardOption) (*Guard, error) {
	if issuer == nil {
		return nil, errors.New("issuer required")
	}
	guard := &Guard{
		issuer: issuer,
		clock:  issuer.clock,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(guard)
		}
	}
	if guard.store == nil {
		guard.store = NewMemoryRevocationStore()
	}
	return guard, nil
}

// Verify checks a bearer token and returns its claims. The checks run in a
// fixed order: missing, then revoked, then signature/expiry.
func (g *Guard) Verify(ctx context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	digest, err := hashToken(token)
	if err != nil {
		return nil, ErrMissingToken
	}
	revoked, err := g.store.IsRevoked(ctx, digest)
	if err != nil {
		return nil, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return nil, ErrRevokedToken
	}
	return g.issuer.Parse(token)
}

// Revoke invalidates a verified token until its natural expiry. Revoking an
// already revoked token succeeds.
func (g *Guard) Revoke(ctx context.Context, token string) error {
	claims, err := g.Verify(ctx, token)
	if errors.Is(err, ErrRevokedToken) {
		return nil
	} else if err != nil {
		return err
	}
	digest, err := hashToken(token)
	if err != nil {
		return ErrMissingToken
	}
	expiresAt := g.clock().Add(DefaultTokenTTL)
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	if err := g.store.Revoke(ctx, digest, expiresAt); err != nil {
		return fmt.Errorf("record revocation: %w", err)
	}
	return nil
}

// PurgeExpired removes revocation entries whose tokens have expired anyway.
func (g *Guard) PurgeExpired(ctx context.Context) error {
	return g.store.PurgeExpired(ctx, g.clock())
}

// Ping verifies the revocation store is reachable when it exposes a ping
// method.
func (g *Guard) Ping(ctx context.Context) error {
	if g == nil || g.store == nil {
		return nil
	}
	if pinger, ok := g.store.(interface{ Ping(context.Context) error }); ok {
		return pinger.Ping(ctx)
	}
	return nil
}
