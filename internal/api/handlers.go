package api

import (
	"log/slog"
	"net/http"
	"time"

	"mediabin/internal/auth"
	"mediabin/internal/models"
	"mediabin/internal/observability/metrics"
	"mediabin/internal/storage"
)

type Handler struct {
	Store   storage.Repository
	Issuer  *auth.Issuer
	Guard   *auth.Guard
	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

func NewHandler(store storage.Repository, issuer *auth.Issuer, guard *auth.Guard) *Handler {
	return &Handler{Store: store, Issuer: issuer, Guard: guard}
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *Handler) metrics() *metrics.Recorder {
	if h.Metrics != nil {
		return h.Metrics
	}
	return metrics.Default()
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	CreatedAt string `json:"createdAt"`
}

type loginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt string       `json:"expiresAt"`
	User      userResponse `json:"user"`
}

func newUserResponse(user models.User) userResponse {
	return userResponse{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		CreatedAt: user.CreatedAt.Format(time.RFC3339Nano),
	}
}

// Register creates an account. It never issues a token; clients log in
// separately.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}

	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	user, err := h.Store.CreateUser(storage.CreateUserParams{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.metrics().ObserveAuthEvent("register")
	h.logger().Info("user registered", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, newUserResponse(user))
}

// Login authenticates by email and password and returns a bearer token with
// its expiry. Unknown email and wrong password surface as distinct statuses.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	user, err := h.Store.AuthenticateUser(req.Email, req.Password)
	if err != nil {
		h.metrics().ObserveAuthEvent("login_failure")
		h.respondError(w, r, err)
		return
	}

	token, expiresAt, err := h.Issuer.Issue(user)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.metrics().ObserveAuthEvent("login")
	h.logger().Info("user logged in", "user_id", user.ID)
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339Nano),
		User:      newUserResponse(user),
	})
}

// Logout revokes the presented token. Revoking an already-revoked token is a
// success.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}

	if err := h.Guard.Revoke(r.Context(), ExtractToken(r)); err != nil {
		h.respondError(w, r, err)
		return
	}

	h.metrics().TokenRevoked()
	writeJSON(w, http.StatusOK, map[string]string{"msg": "logged out"})
}

// Health reports the status of the datastore and the revocation store.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}

	components, overall, status := h.componentHealth(r.Context())
	for _, component := range components {
		h.metrics().SetDependencyHealth(component.Component, component.Status)
	}
	writeJSON(w, status, map[string]interface{}{
		"status":     overall,
		"components": components,
	})
}
