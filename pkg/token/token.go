// Package token issues and verifies the signed, short-lived tokens that
// authorize a password reset. A token binds a user id to an expiry and a
// one-time nonce; it is never persisted.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrSigning means the token could not be produced (missing secret).
	ErrSigning = errors.New("token: signing failed")
	// ErrInvalidToken covers bad signatures and malformed payloads.
	ErrInvalidToken = errors.New("token: invalid token")
	// ErrTokenExpired means the token verified but its validity window passed.
	ErrTokenExpired = errors.New("token: token expired")
)

// Claims carried by a reset token.
type Claims struct {
	jwt.RegisteredClaims
	UserID uint `json:"userId"`
}

// Service signs and verifies reset tokens with an injected secret, so
// distinct instances (and rotated secrets) can coexist.
type Service struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// New builds a Service. ttl is the validity window of issued tokens.
func New(secret []byte, ttl time.Duration) *Service {
	return &Service{secret: secret, ttl: ttl, now: time.Now}
}

// TTL returns the validity window issued tokens carry.
func (s *Service) TTL() time.Duration { return s.ttl }

// Issue signs a token for userID expiring after the service TTL.
func (s *Service) Issue(userID uint) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrSigning
	}
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		UserID: userID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", ErrSigning
	}
	return signed, nil
}

// Decode verifies signature, structure and expiry and returns the claims.
// Expired tokens fail with ErrTokenExpired, everything else with
// ErrInvalidToken. Decode has no side effects.
func (s *Service) Decode(tok string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrInvalidKeyType
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !parsed.Valid || claims.UserID == 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
