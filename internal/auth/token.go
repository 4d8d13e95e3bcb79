package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for unparseable, expired or foreign tokens.
var ErrInvalidToken = errors.New("invalid token")

// TokenManager issues and verifies signed session tokens.
type TokenManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager creates a manager with the provided secret, issuer, and lifetime.
func NewTokenManager(secret, issuer string, ttl time.Duration) *TokenManager {
	return &TokenManager{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

type sessionClaims struct {
	Kind       string `json:"kind"`
	Credential string `json:"cv,omitempty"`
	jwt.RegisteredClaims
}

// Generate issues a signed JWT for the principal.
func (t *TokenManager) Generate(p Principal) (string, error) {
	if !p.Kind.Valid() || p.Subject == "" {
		return "", fmt.Errorf("generate token: invalid principal %q/%q", p.Kind, p.Subject)
	}
	now := t.now()
	claims := sessionClaims{
		Kind:       string(p.Kind),
		Credential: p.Credential,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    t.issuer,
			Subject:   p.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Parse verifies a token string and returns the principal it carries.
func (t *TokenManager) Parse(raw string) (Principal, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	p := Principal{Kind: PrincipalKind(claims.Kind), Subject: claims.Subject, Credential: claims.Credential}
	if !p.Kind.Valid() || p.Subject == "" {
		return Principal{}, ErrInvalidToken
	}
	return p, nil
}
