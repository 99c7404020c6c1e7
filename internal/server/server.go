package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"mediabin/internal/api"
	"mediabin/internal/auth"
	"mediabin/internal/observability/metrics"
)

// TLSConfig enables HTTPS when both file paths are set.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

func (cfg TLSConfig) enabled() bool {
	return cfg.CertFile != "" && cfg.KeyFile != ""
}

// Config assembles everything the HTTP server needs besides the handlers.
type Config struct {
	Addr      string
	TLS       TLSConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Security  SecurityConfig
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
}

type Server struct {
	httpServer *http.Server
	tlsConfig  TLSConfig
	logger     *slog.Logger
	limiter    *rateLimiter
}

// New wires the middleware chain around the API handler. Request IDs are
// assigned first so every later layer logs with one; auth runs last so
// throttles and CORS apply before any token work.
func New(handler *api.Handler, cfg Config) (*Server, error) {
	if handler == nil {
		return nil, errors.New("server: handler is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}

	policy, err := newCORSPolicy(cfg.CORS)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	resolver, err := newClientIPResolver(cfg.RateLimit.TrustForwardedHeaders, cfg.RateLimit.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	limiter, err := newRateLimiter(cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handler.Health)
	mux.Handle("/metrics", recorder.Handler())
	mux.HandleFunc("/register", handler.Register)
	mux.HandleFunc("/login", handler.Login)
	mux.HandleFunc("/logout", handler.Logout)
	mux.HandleFunc("/media", handler.Media)
	mux.HandleFunc("/media/latest", handler.MediaLatest)
	mux.HandleFunc("/media/search", handler.MediaSearch)
	mux.HandleFunc("/media/user/", handler.MediaByOwner)
	mux.HandleFunc("/media/", handler.MediaByID)

	var chain http.Handler = mux
	chain = authMiddleware(handler, logger, chain)
	chain = rateLimitMiddleware(limiter, resolver, logger, chain)
	chain = securityHeadersMiddleware(cfg.Security, chain)
	chain = corsMiddleware(policy, logger, chain)
	chain = metricsMiddleware(recorder, chain)
	chain = loggingMiddleware(logger, resolver, chain)
	chain = requestIDMiddleware(logger, chain)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           chain,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if cfg.TLS.enabled() {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return &Server{
		httpServer: httpServer,
		tlsConfig:  cfg.TLS,
		logger:     logger,
		limiter:    limiter,
	}, nil
}

// Start blocks until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	if s.tlsConfig.enabled() {
		s.logger.Info("https server listening", "addr", s.httpServer.Addr)
		err := s.httpServer.ListenAndServeTLS(s.tlsConfig.CertFile, s.tlsConfig.KeyFile)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// statusRecorder captures the status code a handler writes so the logging and
// metrics layers can report it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func loggingMiddleware(logger *slog.Logger, resolver *clientIPResolver, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		recorder := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(recorder, r)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		clientAddr := remoteIP(r)
		source := ipSourceRemoteAddr
		if resolver != nil {
			clientAddr, source = resolver.resolve(r)
		}
		loggerWithRequestContext(logger, r).Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", time.Since(started).Milliseconds(),
			"client_ip", clientAddr,
			"client_ip_source", string(source),
		)
	})
}

func metricsMiddleware(recorder *metrics.Recorder, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(wrapped, r)

		status := wrapped.status
		if status == 0 {
			status = http.StatusOK
		}
		recorder.ObserveRequest(r.Method, r.URL.Path, status, time.Since(started))
	})
}

// rateLimitMiddleware applies the global throttle to every request and the
// per-client window to login attempts.
func rateLimitMiddleware(limiter *rateLimiter, resolver *clientIPResolver, logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.AllowRequest() {
			api.WriteError(w, http.StatusTooManyRequests, errors.New("too many requests"))
			return
		}

		if r.Method == http.MethodPost && r.URL.Path == "/login" {
			clientAddr := remoteIP(r)
			if resolver != nil {
				clientAddr, _ = resolver.resolve(r)
			}
			allowed, retryAfter, err := limiter.AllowLogin(clientAddr)
			if err != nil {
				loggerWithRequestContext(logger, r).Warn("login throttle unavailable", "error", err)
			}
			if !allowed {
				w.Header().Set("Retry-After", retryAfterSeconds(retryAfter))
				api.WriteError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// authMiddleware verifies the bearer token on mutating media routes and hands
// the resolved user to the handler via context. Reads, account routes, and
// operational endpoints pass through; logout does its own token handling so a
// revoked token can still log out cleanly.
func authMiddleware(handler *api.Handler, logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requiresBearer(r) {
			next.ServeHTTP(w, r)
			return
		}

		user, err := handler.AuthenticateRequest(r)
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, auth.ErrRevokedToken) {
				status = http.StatusForbidden
			}
			loggerWithRequestContext(logger, r).Warn("rejected request",
				"method", r.Method,
				"path", r.URL.Path,
				"error", err,
			)
			api.WriteError(w, status, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(api.ContextWithUser(r.Context(), user)))
	})
}

func requiresBearer(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	switch r.URL.Path {
	case "/register", "/login", "/logout", "/healthz", "/metrics":
		return false
	}
	return r.URL.Path == "/media" || strings.HasPrefix(r.URL.Path, "/media/")
}
