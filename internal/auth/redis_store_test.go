package auth

import (
	"context"
	"testing"
	"time"

	"mediabin/internal/testsupport/redisstub"
)

func newStubbedRedisStore(t *testing.T, opts redisstub.Options) *RedisRevocationStore {
	t.Helper()
	stub, err := redisstub.Start(opts)
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() { _ = stub.Close() })

	store, err := NewRedisRevocationStore(RedisRevocationConfig{
		Addr:     stub.Addr(),
		Password: opts.Password,
	})
	if err != nil {
		t.Fatalf("NewRedisRevocationStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisRevocationStoreRoundTrip(t *testing.T) {
	store := newStubbedRedisStore(t, redisstub.Options{})
	ctx := context.Background()

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	digest := "aabbcc"
	if revoked, err := store.IsRevoked(ctx, digest); err != nil || revoked {
		t.Fatalf("expected digest to start unrevoked, got %v/%v", revoked, err)
	}

	if err := store.Revoke(ctx, digest, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if revoked, err := store.IsRevoked(ctx, digest); err != nil || !revoked {
		t.Fatalf("expected digest to be revoked, got %v/%v", revoked, err)
	}

	// Entries already past expiry are never written.
	if err := store.Revoke(ctx, "expired", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("Revoke expired: %v", err)
	}
	if revoked, err := store.IsRevoked(ctx, "expired"); err != nil || revoked {
		t.Fatalf("expected expired digest to stay unrevoked, got %v/%v", revoked, err)
	}
}

func TestRedisRevocationStoreWithPassword(t *testing.T) {
	store := newStubbedRedisStore(t, redisstub.Options{Password: "sekret"})

	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping with password: %v", err)
	}
}
