// Package auth signs and verifies the gateway's bearer tokens. Two kinds
// exist: user tokens carrying a uid claim, and anonymous session tokens
// carrying a sid claim pinned to the anon plan.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("auth: invalid token")

type Claims struct {
	UserID     *uint64 `json:"uid,omitempty"`
	SessionKey string  `json:"sid,omitempty"`
	Plan       string  `json:"plan,omitempty"`
	jwt.RegisteredClaims
}

func SignUser(userID uint64, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: &userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// SignSession issues an anonymous token bound to one session key. The plan
// claim is informational; quota always resolves server-side.
func SignSession(sessionKey, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		SessionKey: sessionKey,
		Plan:       "anon",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func Parse(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
