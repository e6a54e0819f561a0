package shopify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/oauth2"

	pkgerrors "github.com/flable/flable-backend/pkg/errors"
)

func (c *Client) oauthConfig(shop string) *oauth2.Config {
	base := c.baseURL(shop)
	return &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		RedirectURL:  c.redirectURL,
		Scopes:       c.scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   base + "/admin/oauth/authorize",
			TokenURL:  base + "/admin/oauth/access_token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// AuthorizeURL builds the store consent URL for state. Shopify expects the
// scope list comma separated.
func (c *Client) AuthorizeURL(shop, state string) string {
	return c.oauthConfig(shop).AuthCodeURL(state,
		oauth2.SetAuthURLParam("scope", strings.Join(c.scopes, ",")),
	)
}

// VerifyCallbackHMAC checks the hmac parameter of an OAuth callback. The
// message is every other parameter sorted by key and joined as k=v pairs.
func (c *Client) VerifyCallbackHMAC(params url.Values) bool {
	provided := params.Get("hmac")
	if provided == "" {
		return false
	}
	expected, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(c.clientSecret))
	mac.Write([]byte(callbackMessage(params)))
	return hmac.Equal(mac.Sum(nil), expected)
}

// SignCallback computes the hmac Shopify would attach to params.
func (c *Client) SignCallback(params url.Values) string {
	mac := hmac.New(sha256.New, []byte(c.clientSecret))
	mac.Write([]byte(callbackMessage(params)))
	return hex.EncodeToString(mac.Sum(nil))
}

func callbackMessage(params url.Values) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		if key == "hmac" || key == "signature" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+strings.Join(params[key], ","))
	}
	return strings.Join(pairs, "&")
}

// Exchange trades an authorization code for the shop's token.
func (c *Client) Exchange(ctx context.Context, shop, code string) (*oauth2.Token, error) {
	if strings.TrimSpace(code) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "authorization code is required")
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	tok, err := c.oauthConfig(shop).Exchange(ctx, code)
	if err != nil {
		return nil, mapOAuthError(ctx, err, "exchange")
	}
	return tok, nil
}

// Refresh obtains a new token using refreshToken.
func (c *Client) Refresh(ctx context.Context, shop, refreshToken string) (*oauth2.Token, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeAuth, "no refresh token available")
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	tok, err := c.oauthConfig(shop).TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, mapOAuthError(ctx, err, "refresh")
	}
	return tok, nil
}

// TokenScope returns the granted scope attached to a token response.
func TokenScope(tok *oauth2.Token) string {
	if tok == nil {
		return ""
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		return scope
	}
	return ""
}

func mapOAuthError(ctx context.Context, err error, op string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return mapContextError(ctxErr, "oauth "+op)
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		status := retrieveErr.Response.StatusCode
		code := pkgerrors.CodeAuth
		if retryableStatus(status) {
			code = pkgerrors.CodeTransientUpstream
		} else if status != http.StatusBadRequest && status != http.StatusUnauthorized && status != http.StatusForbidden {
			code = pkgerrors.CodeDependency
		}
		return pkgerrors.Wrap(code, err, fmt.Sprintf("shopify oauth %s failed", op)).
			WithDetails(map[string]any{"status": status})
	}
	return pkgerrors.Wrap(pkgerrors.CodeTransientUpstream, err, fmt.Sprintf("shopify oauth %s failed", op))
}
