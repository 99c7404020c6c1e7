package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mediabin/internal/models"
)

func newTestIssuer(t *testing.T, opts ...IssuerOption) *Issuer {
	t.Helper()
	issuer, err := NewIssuer([]byte("test-secret"), opts...)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	return issuer
}

func newTestGuard(t *testing.T, opts ...GuardOption) (*Guard, *Issuer) {
	t.Helper()
	issuer := newTestIssuer(t)
	guard, err := NewGuard(issuer, opts...)
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}
	return guard, issuer
}

func testUser() models.User {
	return models.User{ID: "user-1", Username: "ada", Email: "ada@example.com"}
}

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	guard, issuer := newTestGuard(t)

	token, expiresAt, err := issuer.Issue(testUser())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if until := time.Until(expiresAt); until < 59*time.Minute || until > 61*time.Minute {
		t.Fatalf("expected roughly one hour of validity, got %s", until)
	}

	claims, err := guard.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Fatalf("expected subject user-1, got %q", claims.Subject)
	}
	if claims.Email != "ada@example.com" {
		t.Fatalf("expected email claim, got %q", claims.Email)
	}
}

func TestVerifyCheckOrder(t *testing.T) {
	guard, issuer := newTestGuard(t)
	ctx := context.Background()

	if _, err := guard.Verify(ctx, ""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}

	if _, err := guard.Verify(ctx, "not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}

	otherIssuer, err := NewIssuer([]byte("different-secret"))
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	forged, _, err := otherIssuer.Issue(testUser())
	if err != nil {
		t.Fatalf("Issue forged: %v", err)
	}
	if _, err := guard.Verify(ctx, forged); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong signature, got %v", err)
	}

	token, _, err := issuer.Issue(testUser())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := guard.Revoke(ctx, token); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	// Revocation is checked before signature validity.
	if _, err := guard.Verify(ctx, token); !errors.Is(err, ErrRevokedToken) {
		t.Fatalf("expected ErrRevokedToken, got %v", err)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	current := time.Now().UTC()
	issuer := newTestIssuer(t, WithIssuerClock(func() time.Time { return current }))
	guard, err := NewGuard(issuer)
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}

	token, _, err := issuer.Issue(testUser())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	current = current.Add(DefaultTokenTTL + time.Minute)
	if _, err := guard.Verify(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after expiry, got %v", err)
	}
}

func TestRevokeIsIdempotent(t *testing.T) {
	guard, issuer := newTestGuard(t)
	ctx := context.Background()

	token, _, err := issuer.Issue(testUser())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := guard.Revoke(ctx, token); err != nil {
		t.Fatalf("first Revoke: %v", err)
	}
	if err := guard.Revoke(ctx, token); err != nil {
		t.Fatalf("second Revoke should succeed, got %v", err)
	}
}

func TestRevokeConcurrent(t *testing.T) {
	guard, issuer := newTestGuard(t)
	ctx := context.Background()

	token, _, err := issuer.Issue(testUser())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = guard.Revoke(ctx, token)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Revoke %d: %v", i, err)
		}
	}
	for i := 0; i < 100; i++ {
		if _, err := guard.Verify(ctx, token); !errors.Is(err, ErrRevokedToken) {
			t.Fatalf("Verify %d after revocation: expected ErrRevokedToken, got %v", i, err)
		}
	}
}

func TestRevokeRejectsInvalidToken(t *testing.T) {
	guard, _ := newTestGuard(t)
	ctx := context.Background()

	if err := guard.Revoke(ctx, ""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
	if err := guard.Revoke(ctx, "not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestMemoryStorePurgeExpired(t *testing.T) {
	store := NewMemoryRevocationStore()
	ctx := context.Background()
	now := time.Now()

	if err := store.Revoke(ctx, "stale", now.Add(-time.Minute)); err != nil {
		t.Fatalf("Revoke stale: %v", err)
	}
	if err := store.Revoke(ctx, "fresh", now.Add(time.Hour)); err != nil {
		t.Fatalf("Revoke fresh: %v", err)
	}

	if err := store.PurgeExpired(ctx, now); err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}

	if revoked, _ := store.IsRevoked(ctx, "stale"); revoked {
		t.Fatalf("expected stale digest to be purged")
	}
	if revoked, _ := store.IsRevoked(ctx, "fresh"); !revoked {
		t.Fatalf("expected fresh digest to remain revoked")
	}
}
