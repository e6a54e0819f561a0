package vault

import (
	"time"

	"golang.org/x/oauth2"
)

// Token is a decrypted credential. A zero Expiry never expires.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// FromOAuth converts an oauth2 token response. scope is the granted scope
// string reported alongside it.
func FromOAuth(tok *oauth2.Token, scope string) Token {
	if tok == nil {
		return Token{}
	}
	return Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Scope:        scope,
		Expiry:       tok.Expiry,
	}
}

// Expires reports whether the token carries an expiry.
func (t Token) Expires() bool {
	return !t.Expiry.IsZero()
}

// NeedsRefresh reports whether less than margin remains before expiry.
func (t Token) NeedsRefresh(now time.Time, margin time.Duration) bool {
	return t.Expires() && t.Expiry.Sub(now) < margin
}
