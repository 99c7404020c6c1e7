package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"mediabin/internal/models"
)

// DefaultTokenTTL is the fixed validity window for issued tokens.
const DefaultTokenTTL = time.Hour

var (
	// ErrMissingToken reports a request that carried no bearer token.
	ErrMissingToken = errors.New("authentication token required")
	// ErrRevokedToken reports a token that was explicitly revoked before its
	// natural expiry.
	ErrRevokedToken = errors.New("token has been revoked")
	// ErrInvalidToken reports a token that failed signature or expiry checks.
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Claims are the statements embedded in every issued token. Subject carries
// the user ID.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

// WithTokenTTL overrides the token validity window.
func WithTokenTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithIssuerClock overrides the time source, primarily for tests.
func WithIssuerClock(clock func() time.Time) IssuerOption {
	return func(i *Issuer) {
		if clock != nil {
			i.clock = clock
		}
	}
}

// Issuer signs and parses HS256 tokens with a server-held secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
}

// NewIssuer constructs an Issuer. The secret must not be empty.
func NewIssuer(secret []byte, opts ...IssuerOption) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("token secret required")
	}
	issuer := &Issuer{
		secret: append([]byte(nil), secret...),
		ttl:    DefaultTokenTTL,
		clock:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(issuer)
		}
	}
	return issuer, nil
}

// Issue signs a token for the user and returns it with its expiry.
func (i *Issuer) Issue(user models.User) (string, time.Time, error) {
	if user.ID == "" {
		return "", time.Time{}, errors.New("user id required")
	}
	now := i.clock()
	expiresAt := now.Add(i.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email: user.Email,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse validates the signature and expiry of a token and returns its claims.
func (i *Issuer) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.clock))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
