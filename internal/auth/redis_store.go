package auth

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisTLSConfig controls TLS behaviour for Redis connections.
type RedisTLSConfig struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
	InsecureSkipVerify bool
}

// RedisRevocationConfig configures the Redis-backed revocation store used by
// multi-instance deployments.
type RedisRevocationConfig struct {
	Addr         string
	Addrs        []string
	Username     string
	Password     string
	KeyPrefix    string
	MasterName   string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	TLS          RedisTLSConfig
}

// RedisRevocationStore persists revoked token digests in Redis with a TTL
// bounded by the token's natural expiry, so entries clean themselves up.
type RedisRevocationStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisRevocationStore initialises a store backed by Redis. The caller is
// responsible for ensuring the Redis instance is reachable.
func NewRedisRevocationStore(cfg RedisRevocationConfig) (*RedisRevocationStore, error) {
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis addr is required")
	}
	keyPrefix := strings.TrimSpace(cfg.KeyPrefix)
	if keyPrefix == "" {
		keyPrefix = "mediabin:revoked:"
	}
	tlsConfig, err := buildRedisTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		MasterName:   strings.TrimSpace(cfg.MasterName),
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		TLSConfig:    tlsConfig,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   2,
	})
	return &RedisRevocationStore{client: client, keyPrefix: keyPrefix}, nil
}

func (s *RedisRevocationStore) key(digest string) string {
	return s.keyPrefix + digest
}

// Revoke stores the digest with a TTL matching the remaining token lifetime.
func (s *RedisRevocationStore) Revoke(ctx context.Context, digest string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.key(digest), "1", ttl).Err(); err != nil {
		return fmt.Errorf("set revocation key: %w", err)
	}
	return nil
}

// IsRevoked reports whether the digest is present in Redis.
func (s *RedisRevocationStore) IsRevoked(ctx context.Context, digest string) (bool, error) {
	count, err := s.client.Exists(ctx, s.key(digest)).Result()
	if err != nil {
		return false, fmt.Errorf("check revocation key: %w", err)
	}
	return count > 0, nil
}

// PurgeExpired is a no-op: Redis expires revocation keys on its own.
func (s *RedisRevocationStore) PurgeExpired(context.Context, time.Time) error {
	return nil
}

// Ping verifies the Redis connection.
func (s *RedisRevocationStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying Redis client.
func (s *RedisRevocationStore) Close() error {
	return s.client.Close()
}

func buildRedisTLSConfig(cfg RedisTLSConfig) (*tls.Config, error) {
	if cfg.CAFile == "" && cfg.CertFile == "" && cfg.KeyFile == "" && cfg.ServerName == "" && !cfg.InsecureSkipVerify {
		return nil, nil
	}
	tlsConfig := &tls.Config{
		ServerName:         strings.TrimSpace(cfg.ServerName),
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read redis ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse redis ca file %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}
	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load redis client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

var _ RevocationStore = (*RedisRevocationStore)(nil)
