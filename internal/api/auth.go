package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"mediabin/internal/auth"
	"mediabin/internal/models"
)

type contextKey string

const userContextKey contextKey = "authenticatedUser"

// ContextWithUser stores the authenticated user in the provided context.
func ContextWithUser(ctx context.Context, user models.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext retrieves the authenticated user from context if present.
func UserFromContext(ctx context.Context) (models.User, bool) {
	user, ok := ctx.Value(userContextKey).(models.User)
	return user, ok
}

// ExtractToken pulls the bearer token from the Authorization header.
func ExtractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// AuthenticateRequest verifies the bearer token on the request and resolves
// the account it names. The server middleware calls this for protected routes
// before the handler runs.
func (h *Handler) AuthenticateRequest(r *http.Request) (models.User, error) {
	claims, err := h.Guard.Verify(r.Context(), ExtractToken(r))
	if err != nil {
		return models.User{}, err
	}
	user, exists := h.Store.GetUser(claims.Subject)
	if !exists {
		// Token outlived the account it names.
		return models.User{}, fmt.Errorf("%w: subject %s no longer exists", auth.ErrInvalidToken, claims.Subject)
	}
	return user, nil
}

func (h *Handler) requireAuthenticatedUser(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	user, ok := UserFromContext(r.Context())
	if ok {
		return user, true
	}
	user, err := h.AuthenticateRequest(r)
	if err != nil {
		h.respondError(w, r, err)
		return models.User{}, false
	}
	return user, true
}

// authorizeOwner enforces the owner-only mutation policy: the acting user
// must be the media record's owner.
func (h *Handler) authorizeOwner(w http.ResponseWriter, actor models.User, media models.Media) bool {
	if media.OwnerID == actor.ID {
		return true
	}
	writeError(w, http.StatusForbidden, fmt.Errorf("media %s does not belong to the authenticated user", media.ID))
	return false
}
