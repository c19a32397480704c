package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const DefaultTokenTTL = 24 * time.Hour

// TokenIssuer signs session tokens with HS256.
type TokenIssuer struct {
	key      []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

func NewTokenIssuer(key []byte, issuer, audience string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{key: key, issuer: issuer, audience: audience, ttl: ttl, now: time.Now}
}

// Issue returns a signed token for the actor and its expiry.
func (i *TokenIssuer) Issue(a Actor) (string, time.Time, error) {
	if len(i.key) == 0 {
		return "", time.Time{}, errors.New("token signing key is not configured")
	}
	if a.ID == uuid.Nil {
		return "", time.Time{}, errors.New("token subject is empty")
	}

	now := i.now()
	exp := now.Add(i.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
		Role:  a.Role,
		Name:  a.Name,
		Email: a.Email,
	}
	if i.issuer != "" {
		claims.Issuer = i.issuer
	}
	if i.audience != "" {
		claims.Audience = jwt.ClaimStrings{i.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}
