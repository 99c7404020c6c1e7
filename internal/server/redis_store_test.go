package server

import (
	"testing"
	"time"

	"mediabin/internal/testsupport/redisstub"
)

func TestRedisTokenStoreEnforcesWindow(t *testing.T) {
	stub, err := redisstub.Start(redisstub.Options{})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() { _ = stub.Close() })

	store := newRedisTokenStore(stub.Addr(), "", time.Second)
	t.Cleanup(func() { _ = store.Close() })

	const key = loginKeyPrefix + "203.0.113.7"
	for i := 0; i < 2; i++ {
		allowed, _, err := store.Allow(key, 2, time.Minute)
		if err != nil {
			t.Fatalf("Allow attempt %d: %v", i+1, err)
		}
		if !allowed {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
	}

	allowed, retryAfter, err := store.Allow(key, 2, time.Minute)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if allowed {
		t.Fatal("third attempt should be rejected")
	}
	if retryAfter <= 0 || retryAfter > time.Minute {
		t.Fatalf("unexpected retry-after %v", retryAfter)
	}
}

func TestRedisTokenStoreSeparatesKeys(t *testing.T) {
	stub, err := redisstub.Start(redisstub.Options{})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() { _ = stub.Close() })

	store := newRedisTokenStore(stub.Addr(), "", time.Second)
	t.Cleanup(func() { _ = store.Close() })

	if allowed, _, err := store.Allow(loginKeyPrefix+"a", 1, time.Minute); err != nil || !allowed {
		t.Fatalf("first client should pass (err %v)", err)
	}
	if allowed, _, _ := store.Allow(loginKeyPrefix+"a", 1, time.Minute); allowed {
		t.Fatal("first client should now be throttled")
	}
	if allowed, _, err := store.Allow(loginKeyPrefix+"b", 1, time.Minute); err != nil || !allowed {
		t.Fatalf("second client should be unaffected (err %v)", err)
	}
}

func TestRateLimiterUsesRedisStoreWhenConfigured(t *testing.T) {
	stub, err := redisstub.Start(redisstub.Options{})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() { _ = stub.Close() })

	rl, err := newRateLimiter(RateLimitConfig{
		LoginLimit:  1,
		LoginWindow: time.Minute,
		RedisAddr:   stub.Addr(),
	})
	if err != nil {
		t.Fatalf("newRateLimiter: %v", err)
	}

	if allowed, _, err := rl.AllowLogin("203.0.113.7"); err != nil || !allowed {
		t.Fatalf("first login should pass (err %v)", err)
	}
	allowed, retryAfter, err := rl.AllowLogin("203.0.113.7")
	if err != nil {
		t.Fatalf("AllowLogin: %v", err)
	}
	if allowed {
		t.Fatal("second login should be throttled")
	}
	if retryAfter <= 0 {
		t.Fatalf("expected positive retry-after, got %v", retryAfter)
	}
}
