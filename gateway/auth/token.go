// Package auth verifies caller identity for the privileged surfaces: signed
// ID tokens for administrators and long-lived API keys for tenants.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultIssuer is the issuer claim minted and required when the gateway
// config does not name one.
const DefaultIssuer = "vsdnetwork"

var (
	// ErrMissingToken is returned when no bearer credential is present.
	ErrMissingToken = errors.New("auth: missing bearer token")
	// ErrInvalidToken is returned when the credential fails verification.
	ErrInvalidToken = errors.New("auth: invalid or expired token")
)

// Identity is a verified caller.
type Identity struct {
	UID        string
	SuperAdmin bool
}

// TokenVerifier validates HS256-signed ID tokens.
type TokenVerifier struct {
	secret []byte
	issuer string
	leeway time.Duration
	nowFn  func() time.Time
}

// VerifierOption adjusts verifier behaviour beyond the signing secret.
type VerifierOption func(*TokenVerifier)

// WithIssuer overrides the issuer claim minted into and required of tokens.
// An empty issuer keeps DefaultIssuer.
func WithIssuer(issuer string) VerifierOption {
	return func(v *TokenVerifier) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			v.issuer = issuer
		}
	}
}

// WithLeeway tolerates the given clock skew when validating exp and nbf.
func WithLeeway(leeway time.Duration) VerifierOption {
	return func(v *TokenVerifier) {
		if leeway > 0 {
			v.leeway = leeway
		}
	}
}

// NewTokenVerifier builds a verifier around the shared signing secret.
func NewTokenVerifier(secret string, opts ...VerifierOption) (*TokenVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth: signing secret required")
	}
	v := &TokenVerifier{secret: []byte(secret), issuer: DefaultIssuer, nowFn: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// SetNow overrides the time source. It is intended for tests.
func (v *TokenVerifier) SetNow(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	v.nowFn = now
}

type idClaims struct {
	SuperAdmin bool `json:"superAdmin,omitempty"`
	jwt.RegisteredClaims
}

// Verify parses and validates the token string and returns the identity it
// certifies.
func (v *TokenVerifier) Verify(tokenString string) (*Identity, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, ErrMissingToken
	}
	claims := &idClaims{}
	parserOpts := []jwt.ParserOption{jwt.WithIssuer(v.issuer), jwt.WithTimeFunc(v.nowFn)}
	if v.leeway > 0 {
		parserOpts = append(parserOpts, jwt.WithLeeway(v.leeway))
	}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, parserOpts...)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	uid := strings.TrimSpace(claims.Subject)
	if uid == "" {
		return nil, ErrInvalidToken
	}
	return &Identity{UID: uid, SuperAdmin: claims.SuperAdmin}, nil
}

// Issue signs an ID token for the given identity. Used by the auth frontend
// and by tests.
func (v *TokenVerifier) Issue(uid string, superAdmin bool, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := v.nowFn().UTC()
	claims := idClaims{
		SuperAdmin: superAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// BearerToken extracts the credential from an Authorization header value.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingToken
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", ErrMissingToken
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}
