package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var errTokenRequired = errors.New("token required")

// hashToken digests a bearer token before it touches a revocation store, so
// raw tokens are never persisted.
func hashToken(token string) (string, error) {
	if token == "" {
		return "", errTokenRequired
	}
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:]), nil
}
