package oauth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/onnwee/hatbot/db"
	"github.com/onnwee/hatbot/testutil"
	"github.com/onnwee/hatbot/twitchapi"
)

type memStore struct {
	mu     sync.Mutex
	tokens map[string]db.Token
	getErr error
}

func (m *memStore) Get(_ context.Context, provider string) (db.Token, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return db.Token{}, false, m.getErr
	}
	t, ok := m.tokens[provider]
	return t, ok, nil
}

func (m *memStore) Upsert(_ context.Context, t db.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[t.Provider] = t
	return nil
}

func newRefresher(t *testing.T, store *memStore, mock *testutil.MockTwitchServer, now time.Time) (*Refresher, *[]db.Token) {
	t.Helper()
	cfg, err := twitchapi.OAuthConfig("client", "secret", "http://localhost/cb", "chat:read chat:edit", mock.URL)
	if err != nil {
		t.Fatal(err)
	}
	var notified []db.Token
	r := NewTwitchRefresher(store, cfg, func(tok db.Token) { notified = append(notified, tok) })
	r.HTTPClient = mock.Client()
	r.now = func() time.Time { return now }
	return r, &notified
}

func TestCheck(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		stored        *db.Token
		wantRefreshed bool
	}{
		{"no token", nil, false},
		{"no refresh token", &db.Token{Provider: "twitch", AccessToken: "a", Expiry: now.Add(time.Minute)}, false},
		{"outside window", &db.Token{Provider: "twitch", AccessToken: "a", RefreshToken: "r", Expiry: now.Add(time.Hour)}, false},
		{"inside window", &db.Token{Provider: "twitch", AccessToken: "a", RefreshToken: "r", Expiry: now.Add(5 * time.Minute), Scope: "old"}, true},
		{"already expired", &db.Token{Provider: "twitch", AccessToken: "a", RefreshToken: "r", Expiry: now.Add(-time.Hour)}, true},
		{"unknown expiry", &db.Token{Provider: "twitch", AccessToken: "a", RefreshToken: "r"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockTwitchServer(t)
			mock.MockOAuthTokenResponse("new-access", "new-refresh", 14400)
			store := &memStore{tokens: map[string]db.Token{}}
			if tt.stored != nil {
				store.tokens["twitch"] = *tt.stored
			}
			r, notified := newRefresher(t, store, mock, now)

			refreshed, err := r.Check(context.Background())
			if err != nil {
				t.Fatalf("Check() error = %v", err)
			}
			if refreshed != tt.wantRefreshed {
				t.Fatalf("Check() = %v, want %v", refreshed, tt.wantRefreshed)
			}
			if !tt.wantRefreshed {
				if mock.TokenRequests.Load() != 0 {
					t.Error("token endpoint called without need")
				}
				return
			}
			got := store.tokens["twitch"]
			if got.AccessToken != "new-access" || got.RefreshToken != "new-refresh" {
				t.Errorf("stored = %+v", got)
			}
			if got.Scope != "chat:read chat:edit" {
				t.Errorf("Scope = %q", got.Scope)
			}
			if len(*notified) != 1 || (*notified)[0].AccessToken != "new-access" {
				t.Errorf("OnRefresh calls = %+v", *notified)
			}
		})
	}
}

func TestCheckErrors(t *testing.T) {
	now := time.Now()

	t.Run("token endpoint rejects", func(t *testing.T) {
		mock := testutil.NewMockTwitchServer(t)
		mock.MockOAuthTokenError(400)
		store := &memStore{tokens: map[string]db.Token{"twitch": {Provider: "twitch", RefreshToken: "r", Expiry: now}}}
		r, notified := newRefresher(t, store, mock, now)
		var re *oauth2.RetrieveError
		if _, err := r.Check(context.Background()); !errors.As(err, &re) {
			t.Fatalf("Check() error = %v, want *oauth2.RetrieveError", err)
		}
		if store.tokens["twitch"].RefreshToken != "r" || len(*notified) != 0 {
			t.Error("failed refresh changed stored state")
		}
	})

	t.Run("store error", func(t *testing.T) {
		mock := testutil.NewMockTwitchServer(t)
		boom := errors.New("db down")
		r, _ := newRefresher(t, &memStore{getErr: boom}, mock, now)
		if _, err := r.Check(context.Background()); !errors.Is(err, boom) {
			t.Fatalf("Check() error = %v, want %v", err, boom)
		}
	})

	t.Run("no config", func(t *testing.T) {
		r := &Refresher{Store: &memStore{}}
		if _, err := r.Check(context.Background()); err == nil {
			t.Fatal("Check() without config succeeded")
		}
	})
}

func TestCheckKeepsRefreshTokenWhenNotRotated(t *testing.T) {
	now := time.Now()
	mock := testutil.NewMockTwitchServer(t)
	mock.MockOAuthTokenResponse("new-access", "", 0)
	store := &memStore{tokens: map[string]db.Token{"twitch": {Provider: "twitch", RefreshToken: "keep-me", Scope: "chat:read", Expiry: now}}}
	r, _ := newRefresher(t, store, mock, now)
	if _, err := r.Check(context.Background()); err != nil {
		t.Fatal(err)
	}
	got := store.tokens["twitch"]
	if got.RefreshToken != "keep-me" {
		t.Errorf("RefreshToken = %q, want keep-me", got.RefreshToken)
	}
	if got.Expiry.IsZero() {
		t.Error("Expiry left zero")
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	mock.MockOAuthTokenResponse("new-access", "new-refresh", 3600)
	store := &memStore{tokens: map[string]db.Token{"twitch": {Provider: "twitch", RefreshToken: "r", Expiry: time.Now()}}}
	r, _ := newRefresher(t, store, mock, time.Now())
	r.Interval = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	deadline := time.Now().Add(2 * time.Second)
	for mock.TokenRequests.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if mock.TokenRequests.Load() == 0 {
		t.Fatal("Start never refreshed")
	}
}

func TestCheckWithPostgresStore(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	const provider = "test_oauth_refresh"
	t.Cleanup(func() {
		_, _ = database.ExecContext(context.Background(), `DELETE FROM oauth_tokens WHERE provider=$1`, provider)
	})

	store, err := db.NewTokenStore(database, []byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Upsert(ctx, db.Token{Provider: provider, AccessToken: "a", RefreshToken: "r", Expiry: time.Now().Add(time.Minute)}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	mock := testutil.NewMockTwitchServer(t)
	mock.MockOAuthTokenResponse("pg-access", "pg-refresh", 3600)
	cfg, err := twitchapi.OAuthConfig("client", "secret", "http://localhost/cb", "chat:read", mock.URL)
	if err != nil {
		t.Fatal(err)
	}
	r := NewTwitchRefresher(store, cfg, nil)
	r.Provider = provider
	r.HTTPClient = mock.Client()

	refreshed, err := r.Check(ctx)
	if err != nil || !refreshed {
		t.Fatalf("Check() = %v, %v", refreshed, err)
	}
	got, ok, err := store.Get(ctx, provider)
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if got.AccessToken != "pg-access" || got.RefreshToken != "pg-refresh" {
		t.Errorf("stored token = %+v", got)
	}
}
