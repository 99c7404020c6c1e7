package server

import (
	"fmt"
	"sync"
	"time"
)

// RateLimitConfig tunes the two throttles the server applies: a global token
// bucket over all requests and a per-client window on login attempts. When
// RedisAddr is set the login counters live in Redis so every replica sees the
// same attempt count; otherwise they are kept in process memory.
type RateLimitConfig struct {
	GlobalRPS   float64
	GlobalBurst int
	LoginLimit  int
	LoginWindow time.Duration

	TrustForwardedHeaders bool
	TrustedProxies        []string

	RedisAddr     string
	RedisPassword string
	RedisTimeout  time.Duration
}

const loginKeyPrefix = "mediabin:login:"

// tokenStore counts login attempts per key within a rolling window.
type tokenStore interface {
	Allow(key string, limit int, window time.Duration) (bool, time.Duration, error)
}

type rateLimiter struct {
	global *tokenBucket

	loginLimit  int
	loginWindow time.Duration
	store       tokenStore

	mu       sync.Mutex
	perIP    map[string]*loginCounter
	lastSeen map[string]time.Time
	now      func() time.Time
}

type loginCounter struct {
	count       int
	windowStart time.Time
}

func newRateLimiter(cfg RateLimitConfig) (*rateLimiter, error) {
	rl := &rateLimiter{
		loginLimit:  cfg.LoginLimit,
		loginWindow: cfg.LoginWindow,
		perIP:       make(map[string]*loginCounter),
		lastSeen:    make(map[string]time.Time),
		now:         time.Now,
	}
	if cfg.GlobalRPS > 0 {
		burst := cfg.GlobalBurst
		if burst <= 0 {
			burst = int(cfg.GlobalRPS)
		}
		if burst <= 0 {
			burst = 1
		}
		rl.global = newTokenBucket(cfg.GlobalRPS, burst)
	}
	if cfg.RedisAddr != "" {
		timeout := cfg.RedisTimeout
		if timeout <= 0 {
			timeout = time.Second
		}
		rl.store = newRedisTokenStore(cfg.RedisAddr, cfg.RedisPassword, timeout)
	}
	return rl, nil
}

// AllowRequest enforces the global throttle. It never blocks; requests over
// the limit are rejected immediately.
func (rl *rateLimiter) AllowRequest() bool {
	if rl == nil || rl.global == nil {
		return true
	}
	return rl.global.take()
}

// AllowLogin enforces the per-client login window. The returned duration is a
// Retry-After hint for rejected attempts. Store errors fail open so a Redis
// outage cannot lock every user out.
func (rl *rateLimiter) AllowLogin(clientIP string) (bool, time.Duration, error) {
	if rl == nil || rl.loginLimit <= 0 || rl.loginWindow <= 0 {
		return true, 0, nil
	}
	if rl.store != nil {
		allowed, retryAfter, err := rl.store.Allow(loginKeyPrefix+clientIP, rl.loginLimit, rl.loginWindow)
		if err != nil {
			return true, 0, err
		}
		return allowed, retryAfter, nil
	}
	return rl.allowLoginLocal(clientIP)
}

func (rl *rateLimiter) allowLoginLocal(clientIP string) (bool, time.Duration, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.evictStale(now)

	counter, ok := rl.perIP[clientIP]
	if !ok || now.Sub(counter.windowStart) >= rl.loginWindow {
		counter = &loginCounter{windowStart: now}
		rl.perIP[clientIP] = counter
	}
	rl.lastSeen[clientIP] = now

	counter.count++
	if counter.count > rl.loginLimit {
		retryAfter := rl.loginWindow - now.Sub(counter.windowStart)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return false, retryAfter, nil
	}
	return true, 0, nil
}

func (rl *rateLimiter) evictStale(now time.Time) {
	cutoff := now.Add(-2 * rl.loginWindow)
	for ip, seen := range rl.lastSeen {
		if seen.Before(cutoff) {
			delete(rl.lastSeen, ip)
			delete(rl.perIP, ip)
		}
	}
}

// tokenBucket is a classic leaky-bucket throttle refilled continuously at
// rate tokens per second up to capacity.
type tokenBucket struct {
	mu        sync.Mutex
	rate      float64
	capacity  float64
	tokens    float64
	lastCheck time.Time
	now       func() time.Time
}

func newTokenBucket(rate float64, capacity int) *tokenBucket {
	return &tokenBucket{
		rate:      rate,
		capacity:  float64(capacity),
		tokens:    float64(capacity),
		lastCheck: time.Now(),
		now:       time.Now,
	}
}

func (b *tokenBucket) take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	elapsed := now.Sub(b.lastCheck).Seconds()
	b.lastCheck = now
	b.tokens += elapsed * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func retryAfterSeconds(d time.Duration) string {
	seconds := int(d.Round(time.Second) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return fmt.Sprintf("%d", seconds)
}
