// Command server starts the MediaBin API HTTP service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"mediabin/internal/api"
	"mediabin/internal/auth"
	"mediabin/internal/observability/logging"
	"mediabin/internal/observability/metrics"
	"mediabin/internal/server"
	"mediabin/internal/storage"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	dataPath := flag.String("data", "", "path to JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	jwtSecret := flag.String("jwt-secret", "", "secret used to sign access tokens")
	tokenTTL := flag.Duration("token-ttl", 0, "lifetime of issued access tokens")
	revocationDriver := flag.String("revocation-store", "", "revocation store driver (memory or redis)")
	revocationRedisAddr := flag.String("revocation-redis-addr", "", "Redis address for the token revocation store")
	revocationRedisAddrs := flag.String("revocation-redis-addrs", "", "comma separated Redis addresses for the token revocation store")
	revocationRedisUsername := flag.String("revocation-redis-username", "", "Redis username for the token revocation store")
	revocationRedisPassword := flag.String("revocation-redis-password", "", "Redis password for the token revocation store")
	revocationRedisMaster := flag.String("revocation-redis-sentinel-master", "", "Redis sentinel master name for the token revocation store")
	revocationRedisPoolSize := flag.Int("revocation-redis-pool-size", 0, "maximum Redis connections for the token revocation store")
	revocationRedisTLSCA := flag.String("revocation-redis-tls-ca", "", "path to Redis TLS CA certificate for the token revocation store")
	revocationRedisTLSCert := flag.String("revocation-redis-tls-cert", "", "path to Redis TLS client certificate for the token revocation store")
	revocationRedisTLSKey := flag.String("revocation-redis-tls-key", "", "path to Redis TLS client key for the token revocation store")
	revocationRedisTLSServerName := flag.String("revocation-redis-tls-server-name", "", "override Redis TLS server name for the token revocation store")
	revocationRedisTLSSkipVerify := flag.Bool("revocation-redis-tls-skip-verify", false, "skip Redis TLS verification for the token revocation store")
	purgeInterval := flag.Duration("revocation-purge-interval", 0, "interval between sweeps of expired revocation entries")
	mode := flag.String("mode", "", "server runtime mode (development or production)")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	allowedOrigins := flag.String("cors-allowed-origins", "", "comma separated browser origins allowed to call the API")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	loginLimit := flag.Int("rate-login-limit", 0, "maximum login attempts per window for a single IP")
	loginWindow := flag.Duration("rate-login-window", 0, "window for counting login attempts")
	trustForwarded := flag.Bool("rate-trust-forwarded-headers", false, "trust proxy-provided client IP headers")
	trustedProxies := flag.String("rate-trusted-proxies", "", "comma separated CIDR blocks or IPs of trusted proxies")
	rateRedisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed login throttling")
	rateRedisPassword := flag.String("rate-redis-password", "", "Redis password for distributed login throttling")
	rateRedisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for Redis operations")
	flag.Parse()

	logger := logging.Init(logging.Config{Level: firstNonEmpty(*logLevel, os.Getenv("MEDIABIN_LOG_LEVEL"))})
	recorder := metrics.Default()

	serverMode := modeValue(*mode, os.Getenv("MEDIABIN_MODE"))
	listenAddr := resolveListenAddr(*addr, serverMode, os.Getenv("MEDIABIN_ADDR"))

	secret := firstNonEmpty(*jwtSecret, os.Getenv("MEDIABIN_JWT_SECRET"))
	if serverMode == "production" && strings.TrimSpace(os.Getenv("MEDIABIN_JWT_SECRET")) == "" {
		logger.Error("production mode requires MEDIABIN_JWT_SECRET to be set")
		os.Exit(1)
	}
	if secret == "" {
		secret = "mediabin-development-secret"
		logger.Warn("no JWT secret configured, using development default")
	}

	postgresDefaultDSN := resolvePostgresDSN(*postgresDSN)
	driver, err := resolveStorageDriver(*storageDriver, os.Getenv("MEDIABIN_STORAGE_DRIVER"), postgresDefaultDSN)
	if err != nil {
		logger.Error("failed to resolve storage driver", "error", err)
		os.Exit(1)
	}
	if serverMode == "production" {
		if err := validateProductionDatastore(driver, postgresDefaultDSN, os.Getenv("MEDIABIN_POSTGRES_DSN")); err != nil {
			logger.Error("production datastore validation failed", "error", err)
			os.Exit(1)
		}
	}

	var store storage.Repository
	switch driver {
	case "json":
		dataFile := resolveDataPath(*dataPath, os.Getenv("MEDIABIN_DATA"))
		store, err = storage.NewJSONRepository(dataFile)
	case "postgres":
		if postgresDefaultDSN == "" {
			logger.Error("postgres storage selected without DSN")
			os.Exit(1)
		}
		var pgOptions []storage.Option
		maxConns := resolveInt(*postgresMaxConns, "MEDIABIN_POSTGRES_MAX_CONNS")
		minConns := resolveInt(*postgresMinConns, "MEDIABIN_POSTGRES_MIN_CONNS")
		if maxConns > 0 || minConns > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolLimits(int32(maxConns), int32(minConns)))
		}
		maxLifetime := resolveDuration(*postgresMaxConnLifetime, "MEDIABIN_POSTGRES_MAX_CONN_LIFETIME", 0)
		maxIdle := resolveDuration(*postgresMaxConnIdle, "MEDIABIN_POSTGRES_MAX_CONN_IDLE", 0)
		healthInterval := resolveDuration(*postgresHealthInterval, "MEDIABIN_POSTGRES_HEALTH_INTERVAL", 0)
		if maxLifetime > 0 || maxIdle > 0 || healthInterval > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolDurations(maxLifetime, maxIdle, healthInterval))
		}
		if acquireTimeout := resolveDuration(*postgresAcquireTimeout, "MEDIABIN_POSTGRES_ACQUIRE_TIMEOUT", 0); acquireTimeout > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresAcquireTimeout(acquireTimeout))
		}
		if appName := firstNonEmpty(*postgresAppName, os.Getenv("MEDIABIN_POSTGRES_APP_NAME")); appName != "" {
			pgOptions = append(pgOptions, storage.WithPostgresApplicationName(appName))
		}
		store, err = storage.NewPostgresRepository(postgresDefaultDSN, pgOptions...)
	default:
		logger.Error("unsupported storage driver", "driver", driver)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}

	var issuerOpts []auth.IssuerOption
	if ttl := resolveDuration(*tokenTTL, "MEDIABIN_TOKEN_TTL", 0); ttl > 0 {
		issuerOpts = append(issuerOpts, auth.WithTokenTTL(ttl))
	}
	issuer, err := auth.NewIssuer([]byte(secret), issuerOpts...)
	if err != nil {
		logger.Error("failed to configure token issuer", "error", err)
		os.Exit(1)
	}

	revocationStore, revocationCloser, err := configureRevocationStore(revocationConfig{
		Driver:        firstNonEmpty(*revocationDriver, os.Getenv("MEDIABIN_REVOCATION_STORE")),
		Addr:          firstNonEmpty(*revocationRedisAddr, os.Getenv("MEDIABIN_REVOCATION_REDIS_ADDR")),
		Addrs:         splitAndTrim(firstNonEmpty(*revocationRedisAddrs, os.Getenv("MEDIABIN_REVOCATION_REDIS_ADDRS"))),
		Username:      firstNonEmpty(*revocationRedisUsername, os.Getenv("MEDIABIN_REVOCATION_REDIS_USERNAME")),
		Password:      firstNonEmpty(*revocationRedisPassword, os.Getenv("MEDIABIN_REVOCATION_REDIS_PASSWORD")),
		MasterName:    firstNonEmpty(*revocationRedisMaster, os.Getenv("MEDIABIN_REVOCATION_REDIS_SENTINEL_MASTER")),
		PoolSize:      resolveInt(*revocationRedisPoolSize, "MEDIABIN_REVOCATION_REDIS_POOL_SIZE"),
		TLSCA:         firstNonEmpty(*revocationRedisTLSCA, os.Getenv("MEDIABIN_REVOCATION_REDIS_TLS_CA")),
		TLSCert:       firstNonEmpty(*revocationRedisTLSCert, os.Getenv("MEDIABIN_REVOCATION_REDIS_TLS_CERT")),
		TLSKey:        firstNonEmpty(*revocationRedisTLSKey, os.Getenv("MEDIABIN_REVOCATION_REDIS_TLS_KEY")),
		TLSServerName: firstNonEmpty(*revocationRedisTLSServerName, os.Getenv("MEDIABIN_REVOCATION_REDIS_TLS_SERVER_NAME")),
		TLSSkipVerify: resolveBool(*revocationRedisTLSSkipVerify, "MEDIABIN_REVOCATION_REDIS_TLS_SKIP_VERIFY"),
	})
	if err != nil {
		logger.Error("failed to configure revocation store", "error", err)
		os.Exit(1)
	}

	guard, err := auth.NewGuard(issuer, auth.WithRevocationStore(revocationStore))
	if err != nil {
		logger.Error("failed to configure token guard", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(store, issuer, guard)
	handler.Logger = logging.WithComponent(logger, "api")
	handler.Metrics = recorder

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("MEDIABIN_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("MEDIABIN_TLS_KEY")),
		},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:             resolveFloat(*globalRPS, "MEDIABIN_RATE_GLOBAL_RPS"),
			GlobalBurst:           resolveInt(*globalBurst, "MEDIABIN_RATE_GLOBAL_BURST"),
			LoginLimit:            resolveInt(*loginLimit, "MEDIABIN_RATE_LOGIN_LIMIT"),
			LoginWindow:           resolveDuration(*loginWindow, "MEDIABIN_RATE_LOGIN_WINDOW", time.Minute),
			TrustForwardedHeaders: resolveBool(*trustForwarded, "MEDIABIN_RATE_TRUST_FORWARDED_HEADERS"),
			TrustedProxies:        splitAndTrim(firstNonEmpty(*trustedProxies, os.Getenv("MEDIABIN_RATE_TRUSTED_PROXIES"))),
			RedisAddr:             firstNonEmpty(*rateRedisAddr, os.Getenv("MEDIABIN_RATE_REDIS_ADDR")),
			RedisPassword:         firstNonEmpty(*rateRedisPassword, os.Getenv("MEDIABIN_RATE_REDIS_PASSWORD")),
			RedisTimeout:          resolveDuration(*rateRedisTimeout, "MEDIABIN_RATE_REDIS_TIMEOUT", 2*time.Second),
		},
		CORS: server.CORSConfig{
			AllowedOrigins: splitAndTrim(firstNonEmpty(*allowedOrigins, os.Getenv("MEDIABIN_CORS_ALLOWED_ORIGINS"))),
		},
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("MediaBin API listening", "addr", listenAddr, "mode", serverMode)
		return srv.Start()
	})
	group.Go(func() error {
		runRevocationPurger(groupCtx, logging.WithComponent(logger, "revocation-purger"), guard, resolveDuration(*purgeInterval, "MEDIABIN_REVOCATION_PURGE_INTERVAL", 15*time.Minute))
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("server error", "error", err)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if closer, ok := store.(interface{ Close(context.Context) error }); ok {
		if err := closer.Close(closeCtx); err != nil {
			logger.Warn("failed to close datastore", "error", err)
		}
	} else if closer, ok := store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("failed to close datastore", "error", err)
		}
	}
	if revocationCloser != nil {
		if err := revocationCloser(); err != nil {
			logger.Warn("failed to close revocation store", "error", err)
		}
	}

	logger.Info("server stopped")
}

type revocationConfig struct {
	Driver        string
	Addr          string
	Addrs         []string
	Username      string
	Password      string
	MasterName    string
	PoolSize      int
	TLSCA         string
	TLSCert       string
	TLSKey        string
	TLSServerName string
	TLSSkipVerify bool
}

func configureRevocationStore(cfg revocationConfig) (auth.RevocationStore, func() error, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		if cfg.Addr != "" || len(cfg.Addrs) > 0 {
			driver = "redis"
		} else {
			driver = "memory"
		}
	}
	switch driver {
	case "memory":
		return auth.NewMemoryRevocationStore(), nil, nil
	case "redis":
		store, err := auth.NewRedisRevocationStore(auth.RedisRevocationConfig{
			Addr:       cfg.Addr,
			Addrs:      cfg.Addrs,
			Username:   cfg.Username,
			Password:   cfg.Password,
			MasterName: cfg.MasterName,
			PoolSize:   cfg.PoolSize,
			TLS: auth.RedisTLSConfig{
				CAFile:             cfg.TLSCA,
				CertFile:           cfg.TLSCert,
				KeyFile:            cfg.TLSKey,
				ServerName:         cfg.TLSServerName,
				InsecureSkipVerify: cfg.TLSSkipVerify,
			},
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported revocation store driver %q", driver)
	}
}

func resolveListenAddr(flagValue, mode, envAddr string) string {
	listenAddr := strings.TrimSpace(flagValue)
	if listenAddr == "" {
		listenAddr = strings.TrimSpace(envAddr)
	}
	if listenAddr == "" {
		listenAddr = defaultListenForMode(mode)
	}
	return listenAddr
}

func modeValue(flagMode, envMode string) string {
	mode := strings.ToLower(strings.TrimSpace(flagMode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(envMode))
	}
	if mode == "" {
		mode = "development"
	}
	return mode
}

func defaultListenForMode(mode string) string {
	if mode == "production" {
		return ":80"
	}
	return ":8080"
}

func resolveStorageDriver(flagValue, envValue, postgresDSN string) (string, error) {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver, nil
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver, nil
	}
	if strings.TrimSpace(postgresDSN) != "" {
		return "postgres", nil
	}
	return "json", nil
}

func validateProductionDatastore(driver, resolvedPostgresDSN, envPostgresDSN string) error {
	if driver != "postgres" {
		return fmt.Errorf("production mode requires the postgres datastore driver, got %q", driver)
	}
	if strings.TrimSpace(envPostgresDSN) == "" && strings.TrimSpace(resolvedPostgresDSN) == "" {
		return fmt.Errorf("production mode requires MEDIABIN_POSTGRES_DSN to be set")
	}
	return nil
}

func resolveDataPath(flagValue, envValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := strings.TrimSpace(envValue); env != "" {
		return env
	}
	return "data/mediabin.json"
}

func resolvePostgresDSN(flagValue string) string {
	return strings.TrimSpace(firstNonEmpty(flagValue, os.Getenv("MEDIABIN_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	return fallback
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
