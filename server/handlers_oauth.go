package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/onnwee/hatbot/db"
	"github.com/onnwee/hatbot/telemetry"
	"github.com/onnwee/hatbot/twitchapi"
)

// HandleTwitchOAuthStart initiates the Twitch OAuth flow by redirecting to Twitch.
func (h *Handlers) HandleTwitchOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.deps.OAuth == nil {
		http.Error(w, "oauth not configured (need TWITCH_CLIENT_ID, TWITCH_CLIENT_SECRET, TWITCH_REDIRECT_URI)", http.StatusServiceUnavailable)
		return
	}
	st := uuid.NewString()
	if !h.addOAuthState(st, time.Now().Add(oauthStateTTL)) {
		http.Error(w, "too many pending authorizations", http.StatusServiceUnavailable)
		return
	}
	http.Redirect(w, r, h.deps.OAuth.AuthCodeURL(st), http.StatusFound)
}

// HandleTwitchOAuthCallback exchanges the code and stores the bot token.
func (h *Handlers) HandleTwitchOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if h.deps.OAuth == nil || h.deps.Tokens == nil {
		http.Error(w, "oauth callback needs TWITCH_* oauth settings and DB_DSN", http.StatusServiceUnavailable)
		return
	}
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		http.Error(w, "authorization denied: "+e, http.StatusBadRequest)
		return
	}
	code, st := q.Get("code"), q.Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", http.StatusBadRequest)
		return
	}
	if !h.takeOAuthState(st) {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if h.deps.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, h.deps.HTTPClient)
	}
	tok, err := h.deps.OAuth.Exchange(ctx, code)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Warn("twitch code exchange failed", slog.Any("err", err))
		http.Error(w, "code exchange failed", http.StatusBadGateway)
		return
	}
	stored := db.Token{
		Provider:     twitchapi.Provider,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		Scope:        twitchapi.Scope(tok),
	}
	if stored.Expiry.IsZero() {
		stored.Expiry = twitchapi.ComputeExpiry(0)
	}
	if err := h.deps.Tokens.Upsert(r.Context(), stored); err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("store twitch token failed", slog.Any("err", err))
		http.Error(w, "failed to store token", http.StatusInternalServerError)
		return
	}
	if h.deps.OnToken != nil {
		h.deps.OnToken(stored)
	}
	telemetry.LoggerWithCorr(r.Context()).Info("twitch token stored", slog.String("scope", stored.Scope))
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"scope":      stored.Scope,
		"expires_at": stored.Expiry.UTC().Format(time.RFC3339),
	})
}
