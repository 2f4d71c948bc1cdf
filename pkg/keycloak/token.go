package keycloak

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-user-service/pkg/config"
	"golang.org/x/oauth2"
)

// TokenSet is the token endpoint response handed back to clients.
type TokenSet struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in,omitempty"`
	Scope            string `json:"scope,omitempty"`
	SessionState     string `json:"session_state,omitempty"`
}

// TokenClient performs user-facing grants against the application realm.
type TokenClient struct {
	settings
	oauth        oauth2.Config
	logoutURL    string
	clientID     string
	clientSecret string
}

// NewTokenClient builds a client for the realm's token and logout endpoints.
func NewTokenClient(cfg config.KeycloakConfig, opts ...Option) (*TokenClient, error) {
	if err := validateBase(cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("keycloak client id is required")
	}
	return &TokenClient{
		settings: newSettings(cfg, opts),
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  realmEndpoint(cfg, cfg.Realm, "protocol/openid-connect/token"),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		logoutURL:    realmEndpoint(cfg, cfg.Realm, "protocol/openid-connect/logout"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
	}, nil
}

// PasswordGrant exchanges user credentials for a token pair.
func (c *TokenClient) PasswordGrant(ctx context.Context, username, password string) (ts *TokenSet, err error) {
	const op = "password_grant"
	start := c.now()
	defer func() { c.observe(op, start, err) }()

	tok, err := c.oauth.PasswordCredentialsToken(c.clientContext(ctx), username, password)
	if err != nil {
		return nil, tokenError(op, err)
	}
	return tokenSetFrom(tok, c.now()), nil
}

// Refresh exchanges a refresh token for a new token pair.
func (c *TokenClient) Refresh(ctx context.Context, refreshToken string) (ts *TokenSet, err error) {
	const op = "refresh_grant"
	start := c.now()
	defer func() { c.observe(op, start, err) }()

	tok, err := c.oauth.TokenSource(c.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, tokenError(op, err)
	}
	return tokenSetFrom(tok, c.now()), nil
}

// Logout ends the session that owns refreshToken.
func (c *TokenClient) Logout(ctx context.Context, refreshToken string) (err error) {
	const op = "logout"
	start := c.now()
	defer func() { c.observe(op, start, err) }()

	form := url.Values{}
	form.Set("client_id", c.clientID)
	if c.clientSecret != "" {
		form.Set("client_secret", c.clientSecret)
	}
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.logoutURL, strings.NewReader(form.Encode()))
	if err != nil {
		return &Error{Op: op, Kind: ErrUnavailable, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Op: op, Kind: ErrUnavailable, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
	kind := kindForStatus(resp.StatusCode)
	if resp.StatusCode == http.StatusBadRequest {
		kind = ErrInvalidGrant
	}
	return &Error{Op: op, Status: resp.StatusCode, Kind: kind, Body: strings.TrimSpace(string(body))}
}

func (c *TokenClient) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// tokenError maps oauth2 failures onto the package's failure kinds.
func tokenError(op string, err error) error {
	var rerr *oauth2.RetrieveError
	if !errors.As(err, &rerr) {
		return &Error{Op: op, Kind: ErrUnavailable, Err: err}
	}
	status := 0
	if rerr.Response != nil {
		status = rerr.Response.StatusCode
	}
	var kind error
	switch {
	case rerr.ErrorCode == "invalid_grant":
		kind = ErrInvalidGrant
	case rerr.ErrorCode == "invalid_client", rerr.ErrorCode == "unauthorized_client":
		kind = ErrUnauthorized
	case status == http.StatusUnauthorized:
		kind = ErrInvalidGrant
	default:
		kind = kindForStatus(status)
	}
	body := string(rerr.Body)
	if len(body) > responseBodyReadLimit {
		body = body[:responseBodyReadLimit]
	}
	return &Error{Op: op, Status: status, Kind: kind, Body: strings.TrimSpace(body)}
}

func tokenSetFrom(tok *oauth2.Token, now time.Time) *TokenSet {
	ts := &TokenSet{
		AccessToken:      tok.AccessToken,
		RefreshToken:     tok.RefreshToken,
		TokenType:        tok.TokenType,
		ExpiresIn:        extraInt(tok, "expires_in"),
		RefreshExpiresIn: extraInt(tok, "refresh_expires_in"),
	}
	if ts.TokenType == "" {
		ts.TokenType = "Bearer"
	}
	if ts.ExpiresIn == 0 && !tok.Expiry.IsZero() {
		ts.ExpiresIn = int64(tok.Expiry.Sub(now).Round(time.Second) / time.Second)
	}
	ts.Scope, _ = tok.Extra("scope").(string)
	ts.SessionState, _ = tok.Extra("session_state").(string)
	return ts
}

func extraInt(tok *oauth2.Token, key string) int64 {
	switch v := tok.Extra(key).(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}
