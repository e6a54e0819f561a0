package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenPayload is the data minted into an access token.
type AccessTokenPayload struct {
	AccountID uuid.UUID
	UserID    uuid.UUID
	JTI       string
}

// AccessTokenClaims are the typed claims of a bearer token. AccountID scopes
// every request to one tenant.
type AccessTokenClaims struct {
	AccountID uuid.UUID `json:"account_id"`
	UserID    uuid.UUID `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}
