// Package oauth keeps the bot's stored Twitch token fresh. A Refresher wakes
// on a jittered interval and, once the token's remaining lifetime drops
// inside the refresh window, trades the refresh token for a new pair and
// persists it.
package oauth

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/onnwee/hatbot/db"
	"github.com/onnwee/hatbot/twitchapi"
)

// TokenStore is the persistence the refresher needs. *db.TokenStore
// implements it.
type TokenStore interface {
	Get(ctx context.Context, provider string) (db.Token, bool, error)
	Upsert(ctx context.Context, t db.Token) error
}

// Refresher refreshes one provider's token.
type Refresher struct {
	Store    TokenStore
	Config   *oauth2.Config
	Provider string

	// Interval between checks (default 5m) and the remaining-lifetime
	// threshold that triggers a refresh (default 15m).
	Interval time.Duration
	Window   time.Duration

	// OnRefresh is called with every newly stored token.
	OnRefresh func(db.Token)

	// HTTPClient overrides the client used for the token request.
	HTTPClient *http.Client

	now func() time.Time
}

// NewTwitchRefresher returns a refresher for the bot's chat token.
func NewTwitchRefresher(store TokenStore, cfg *oauth2.Config, onRefresh func(db.Token)) *Refresher {
	return &Refresher{
		Store:     store,
		Config:    cfg,
		Provider:  twitchapi.Provider,
		Interval:  5 * time.Minute,
		Window:    15 * time.Minute,
		OnRefresh: onRefresh,
	}
}

func (r *Refresher) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}

// Check refreshes the token if it is inside the window. It reports whether a
// new token was stored.
func (r *Refresher) Check(ctx context.Context) (bool, error) {
	if r.Config == nil {
		return false, errors.New("oauth: refresher has no client config")
	}
	window := r.Window
	if window <= 0 {
		window = 15 * time.Minute
	}
	cur, ok, err := r.Store.Get(ctx, r.Provider)
	if err != nil {
		return false, err
	}
	if !ok || cur.RefreshToken == "" {
		return false, nil
	}
	if !cur.Expiry.IsZero() && cur.Expiry.Sub(r.clock()) > window {
		return false, nil
	}

	rctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if r.HTTPClient != nil {
		rctx = context.WithValue(rctx, oauth2.HTTPClient, r.HTTPClient)
	}
	fresh, err := r.Config.TokenSource(rctx, &oauth2.Token{RefreshToken: cur.RefreshToken}).Token()
	if err != nil {
		return false, err
	}

	next := db.Token{
		Provider:     r.Provider,
		AccessToken:  fresh.AccessToken,
		RefreshToken: fresh.RefreshToken,
		Expiry:       fresh.Expiry,
		Scope:        twitchapi.Scope(fresh),
	}
	if next.RefreshToken == "" {
		next.RefreshToken = cur.RefreshToken
	}
	if next.Scope == "" {
		next.Scope = cur.Scope
	}
	if next.Expiry.IsZero() {
		next.Expiry = twitchapi.ComputeExpiry(0)
	}
	if err := r.Store.Upsert(ctx, next); err != nil {
		return false, err
	}
	if r.OnRefresh != nil {
		r.OnRefresh(next)
	}
	return true, nil
}

// Start runs Check on a jittered schedule until ctx is done.
func (r *Refresher) Start(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	log := slog.Default().With(slog.String("component", "oauth_refresh"), slog.String("provider", r.Provider))
	go func() {
		// Randomize the first check so restarts don't line up.
		//nolint:gosec // G404: math/rand is sufficient for scheduling jitter
		first := time.Duration(rand.Int63n(int64(interval/2) + 1))
		select {
		case <-ctx.Done():
			return
		case <-time.After(first):
		}
		for {
			refreshed, err := r.Check(ctx)
			switch {
			case err != nil:
				log.Warn("token refresh failed", slog.Any("err", err))
			case refreshed:
				log.Info("token refreshed")
			}

			// ±20% jitter per iteration
			jitterRange := int64(interval/5) + 1
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter
			next := interval + time.Duration(rand.Int63n(jitterRange*2)-jitterRange)
			select {
			case <-ctx.Done():
				return
			case <-time.After(next):
			}
		}
	}()
}
