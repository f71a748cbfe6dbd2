package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/onnwee/hatbot/bot"
	"github.com/onnwee/hatbot/db"
	"github.com/onnwee/hatbot/rules"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000
	oauthStateTTL  = 10 * time.Minute
)

// TokenStore is the slice of *db.TokenStore the API uses.
type TokenStore interface {
	Ping(ctx context.Context) error
	Upsert(ctx context.Context, t db.Token) error
}

// ChatStatus reports chat connectivity. *chat.Client implements it.
type ChatStatus interface {
	Connected() bool
}

// Deps are the components the HTTP API exposes. Only Router is required;
// a nil Tokens disables the OAuth callback and the database readiness check,
// a nil OAuth disables both OAuth routes.
type Deps struct {
	Router    *bot.Router
	Providers []rules.ProviderConfig
	RulesPath string

	Tokens TokenStore
	Chat   ChatStatus
	OAuth  *oauth2.Config

	// OnToken receives a token stored through the OAuth callback.
	OnToken func(db.Token)
	// HTTPClient is used for the OAuth code exchange when set.
	HTTPClient *http.Client
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps Deps

	saveMu sync.Mutex

	stateStore map[string]time.Time
	stateMu    sync.Mutex
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{
		deps:       deps,
		stateStore: make(map[string]time.Time),
	}
}

// addOAuthState records state until expiry. It reports false when the store
// is full even after dropping expired entries.
func (h *Handlers) addOAuthState(state string, expiry time.Time) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	if len(h.stateStore)%100 == 0 {
		now := time.Now()
		for s, exp := range h.stateStore {
			if now.After(exp) {
				delete(h.stateStore, s)
			}
		}
	}
	if len(h.stateStore) >= maxOAuthStates {
		return false
	}
	h.stateStore[state] = expiry
	return true
}

// takeOAuthState consumes state, reporting whether it was live.
func (h *Handlers) takeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[state]
	delete(h.stateStore, state)
	return ok && time.Now().Before(exp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
