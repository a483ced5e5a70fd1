package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenInfo is what the client can read from a JWT without the server key.
type TokenInfo struct {
	Subject   string
	ExpiresAt time.Time // zero when the token carries no exp
}

// Expired reports whether the token's exp is before now.
func (i TokenInfo) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}

// Inspect decodes the claims of a JWT without verifying its signature. The
// result is informational only and must never be used to trust a token.
// ok is false for tokens that are not JWTs.
func Inspect(token string) (TokenInfo, bool) {
	if token == "" {
		return TokenInfo{}, false
	}

	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return TokenInfo{}, false
	}

	info := TokenInfo{Subject: claims.Subject}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}
	return info, true
}
