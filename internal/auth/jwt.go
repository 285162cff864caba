// Package auth implements the bearer-token handshake used by the
// ClientGateway: signing and validating the JWTs clients present as
// "Authorization: Bearer <jwt>" during the WebSocket upgrade (spec §6).
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aethersystems/aether/internal/types"
)

// Sentinel errors surfaced to the gateway as response.error codes.
var (
	ErrAuthDisabled = errors.New("auth: no signing secret configured")
	ErrInvalidToken = errors.New("auth: invalid or expired token")
)

// DefaultTokenExpiry is used when NewService is given a non-positive
// expiry.
const DefaultTokenExpiry = 24 * time.Hour

// Claims is the token payload named in spec §6: {sub, username, role, exp}.
type Claims struct {
	Username string            `json:"username"`
	Role     types.SessionRole `json:"role"`
	jwt.RegisteredClaims
}

// Service signs and validates session tokens with a single HMAC secret.
type Service struct {
	secret []byte
	expiry time.Duration
}

// NewService builds a Service from a shared secret. An empty secret disables
// issuance and validation (ErrAuthDisabled on every call), matching the
// teacher's fail-closed posture when no JWT secret is configured.
func NewService(secret string, expiry time.Duration) *Service {
	if expiry <= 0 {
		expiry = DefaultTokenExpiry
	}
	return &Service{secret: []byte(secret), expiry: expiry}
}

// Enabled reports whether the service has a usable signing secret.
func (s *Service) Enabled() bool {
	return s != nil && len(s.secret) > 0
}

// Generate issues a signed token for uid/username/role.
func (s *Service) Generate(uid, username string, role types.SessionRole) (string, error) {
	if !s.Enabled() {
		return "", ErrAuthDisabled
	}
	if strings.TrimSpace(uid) == "" {
		return "", errors.New("auth: uid required")
	}
	now := time.Now()
	claims := Claims{
		Username: strings.TrimSpace(username),
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Identity is the authenticated principal recovered from a valid token.
type Identity struct {
	UID      string
	Username string
	Role     types.SessionRole
}

// Validate parses and verifies tokenString, returning the embedded identity.
func (s *Service) Validate(tokenString string) (Identity, error) {
	if !s.Enabled() {
		return Identity{}, ErrAuthDisabled
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UID: claims.Subject, Username: claims.Username, Role: claims.Role}, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <jwt>"
// header value.
func BearerToken(authorizationHeader string) (string, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(authorizationHeader, prefix) {
		return "", errors.New("auth: missing bearer prefix")
	}
	token := strings.TrimSpace(strings.TrimPrefix(authorizationHeader, prefix))
	if token == "" {
		return "", errors.New("auth: empty bearer token")
	}
	return token, nil
}
