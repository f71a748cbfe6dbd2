// Package twitchapi holds the small slice of the Twitch identity API the bot
// needs: the OAuth2 configuration for the bot account, token validation and
// expiry helpers.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/twitch"
)

// Provider is the oauth_tokens key for the bot's chat token.
const Provider = "twitch"

// DefaultIDBase is the Twitch identity host.
const DefaultIDBase = "https://id.twitch.tv"

// Endpoint returns the OAuth2 endpoint rooted at base, or the public Twitch
// endpoint when base is empty.
func Endpoint(base string) oauth2.Endpoint {
	if base == "" || base == DefaultIDBase {
		return twitch.Endpoint
	}
	base = strings.TrimRight(base, "/")
	return oauth2.Endpoint{
		AuthURL:   base + "/oauth2/authorize",
		TokenURL:  base + "/oauth2/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

// OAuthConfig builds the authorization-code configuration for the bot
// account. scopes may be space or comma separated.
func OAuthConfig(clientID, clientSecret, redirectURI, scopes, base string) (*oauth2.Config, error) {
	if clientID == "" || redirectURI == "" {
		return nil, errors.New("missing clientID or redirectURI")
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       strings.Fields(strings.ReplaceAll(scopes, ",", " ")),
		Endpoint:     Endpoint(base),
	}, nil
}

// Scope flattens the scope list Twitch returns alongside a token.
func Scope(tok *oauth2.Token) string {
	if tok == nil {
		return ""
	}
	switch v := tok.Extra("scope").(type) {
	case string:
		return v
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				parts = append(parts, str)
			}
		}
		return strings.Join(parts, " ")
	}
	return ""
}

// ComputeExpiry returns absolute expiry time from seconds, defaulting to +60m when unknown.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}

// Validation is the /oauth2/validate answer for a user token.
type Validation struct {
	ClientID  string   `json:"client_id"`
	Login     string   `json:"login"`
	UserID    string   `json:"user_id"`
	Scopes    []string `json:"scopes"`
	ExpiresIn int      `json:"expires_in"`
}

// ErrInvalidToken is returned by ValidateToken for a rejected token.
var ErrInvalidToken = errors.New("twitch: invalid access token")

// ValidateToken asks Twitch whether token is live and whose it is. A nil hc
// uses http.DefaultClient; an empty base uses DefaultIDBase.
func ValidateToken(ctx context.Context, hc *http.Client, base, token string) (*Validation, error) {
	token = strings.TrimPrefix(strings.TrimSpace(token), "oauth:")
	if token == "" {
		return nil, errors.New("missing token")
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	if base == "" {
		base = DefaultIDBase
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/oauth2/validate", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "OAuth "+token)
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrInvalidToken
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return nil, fmt.Errorf("twitch validate failed: %s: %s", resp.Status, string(b))
	}
	var v Validation
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return nil, err
	}
	return &v, nil
}
