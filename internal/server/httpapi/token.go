package httpapi

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/signaldesk/backend/internal/model"
)

type sessionClaims struct {
	jwt.RegisteredClaims
	Plan string `json:"plan"`
}

// issueToken creates a signed HS256 session token for the given account.
func issueToken(signKey []byte, username string, plan model.Plan, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(ttl)
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Plan: string(plan),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(signKey)
	return signed, exp, err
}

// parseToken verifies a session token and returns its subject and plan claim.
func parseToken(signKey []byte, token string) (username, plan string, err error) {
	var claims sessionClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return signKey, nil
	})
	if err != nil || !parsed.Valid {
		return "", "", errors.New("invalid token")
	}

	v := jwt.NewValidator(jwt.WithLeeway(30 * time.Second))
	if err := v.Validate(&claims); err != nil {
		return "", "", errors.New("token expired or not valid yet")
	}
	if claims.Subject == "" {
		return "", "", errors.New("bad subject")
	}
	return claims.Subject, claims.Plan, nil
}
