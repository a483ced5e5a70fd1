// Package auth holds the token pair used to authenticate against the
// Noblelift API and converts between the wire shapes the server has used
// over time and the single form persisted by the client.
package auth

import (
	"encoding/json"
	"strings"
)

// TokenPair holds the credentials obtained from login or refresh.
// The zero value means "no tokens". RefreshToken may be empty even when
// AccessToken is set.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// IsZero reports whether the pair holds no access token.
func (t TokenPair) IsZero() bool {
	return t.AccessToken == ""
}

// HasRefresh reports whether a refresh token is available.
func (t TokenPair) HasRefresh() bool {
	return t.RefreshToken != ""
}

// wireTokens covers every field naming the API has returned tokens under.
type wireTokens struct {
	AccessToken  *string `json:"accessToken"`
	AccessSnake  *string `json:"access_token"`
	Access       *string `json:"access"`
	RefreshToken *string `json:"refreshToken"`
	RefreshSnake *string `json:"refresh_token"`
	Refresh      *string `json:"refresh"`
}

// Normalize decodes a token payload in any known shape
// ({accessToken,refreshToken}, {access_token,refresh_token} or
// {access,refresh}) into a TokenPair. camelCase wins over snake_case, which
// wins over the short names. ok is false when the payload is not a JSON
// object or carries no non-empty access token.
func Normalize(raw []byte) (TokenPair, bool) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return TokenPair{}, false
	}

	var w wireTokens
	if err := json.Unmarshal(raw, &w); err != nil {
		return TokenPair{}, false
	}

	pair := TokenPair{
		AccessToken:  firstNonEmpty(w.AccessToken, w.AccessSnake, w.Access),
		RefreshToken: firstNonEmpty(w.RefreshToken, w.RefreshSnake, w.Refresh),
	}
	if pair.IsZero() {
		return TokenPair{}, false
	}
	return pair, true
}

// Serialize returns the persisted form of the pair:
// {"accessToken":"...","refreshToken":"..."}, refresh omitted when empty.
// A zero pair serializes to the empty string, meaning "absent".
func Serialize(t TokenPair) string {
	if t.IsZero() {
		return ""
	}
	b, err := json.Marshal(t)
	if err != nil {
		return ""
	}
	return string(b)
}

// Parse reads a value produced by Serialize. Malformed input yields
// ok=false so callers treat it as "no tokens".
func Parse(s string) (TokenPair, bool) {
	return Normalize([]byte(s))
}

func firstNonEmpty(values ...*string) string {
	for _, v := range values {
		if v != nil && *v != "" {
			return *v
		}
	}
	return ""
}
