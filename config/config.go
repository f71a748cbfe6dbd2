// Package config loads environment variables into the typed Config used by
// the bot, applying defaults so it can run locally with only chat credentials
// and a rules file. Use ValidateChatReady before connecting to Twitch.
package config

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults.
const (
	DefaultRulesPath       = "bots.yaml"
	DefaultHTTPAddr        = ":8080"
	DefaultScopes          = "chat:read chat:edit"
	DefaultCooldownSweep   = time.Minute
	DefaultQueueSize       = 64
	DefaultExternalTimeout = 5 * time.Second
)

type Config struct {
	// Twitch
	TwitchBotUsername  string
	TwitchOAuthToken   string
	TwitchClientID     string
	TwitchClientSecret string
	TwitchRedirectURI  string
	TwitchScopes       string

	// Rules document
	RulesPath string

	// Database (optional; enables stored tokens and refresh)
	DBDsn         string
	EncryptionKey []byte

	// HTTP
	HTTPAddr string

	// Engine tuning
	CooldownSweep   time.Duration
	QueueSize       int
	ExternalTimeout time.Duration
}

// Load reads environment variables and applies defaults. Missing Twitch
// credentials are not an error here; malformed values are.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.TwitchBotUsername = strings.ToLower(strings.TrimSpace(os.Getenv("TWITCH_BOT_USERNAME")))
	cfg.TwitchOAuthToken = os.Getenv("TWITCH_OAUTH_TOKEN")
	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")
	cfg.TwitchRedirectURI = os.Getenv("TWITCH_REDIRECT_URI")
	cfg.TwitchScopes = os.Getenv("TWITCH_SCOPES")
	if cfg.TwitchScopes == "" {
		cfg.TwitchScopes = DefaultScopes
	}

	cfg.RulesPath = os.Getenv("RULES_PATH")
	if cfg.RulesPath == "" {
		cfg.RulesPath = DefaultRulesPath
	}

	cfg.DBDsn = os.Getenv("DB_DSN")
	if v := os.Getenv("ENCRYPTION_KEY"); v != "" {
		key, err := parseKey(v)
		if err != nil {
			return nil, err
		}
		cfg.EncryptionKey = key
	}

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = DefaultHTTPAddr
	}

	var err error
	if cfg.CooldownSweep, err = envDuration("COOLDOWN_SWEEP_INTERVAL", DefaultCooldownSweep); err != nil {
		return nil, err
	}
	if cfg.ExternalTimeout, err = envDuration("EXTERNAL_FETCH_TIMEOUT", DefaultExternalTimeout); err != nil {
		return nil, err
	}
	cfg.QueueSize = DefaultQueueSize
	if v := os.Getenv("DISPATCH_QUEUE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid DISPATCH_QUEUE_SIZE %q: want integer >= 0", v)
		}
		cfg.QueueSize = n
	}

	return cfg, nil
}

// ValidateChatReady checks the fields needed to connect to Twitch chat.
// A token may also come from the database, so hasStoredToken relaxes the
// TWITCH_OAUTH_TOKEN requirement.
func (c *Config) ValidateChatReady(hasStoredToken bool) error {
	if c.TwitchBotUsername == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_BOT_USERNAME")
	}
	if c.TwitchOAuthToken == "" && !hasStoredToken {
		return fmt.Errorf("missing twitch env: require TWITCH_OAUTH_TOKEN (or a stored token via DB_DSN)")
	}
	return nil
}

// OAuthReady reports whether the authorization-code flow can run.
func (c *Config) OAuthReady() bool {
	return c.TwitchClientID != "" && c.TwitchClientSecret != "" && c.TwitchRedirectURI != ""
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s %q: want a non-negative duration like 30s", key, v)
	}
	return d, nil
}

// parseKey accepts a 32-byte key as base64 (openssl rand -base64 32) or hex.
func parseKey(v string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(v); err == nil && len(b) == 32 {
		return b, nil
	}
	if b, err := hex.DecodeString(v); err == nil && len(b) == 32 {
		return b, nil
	}
	return nil, fmt.Errorf("invalid ENCRYPTION_KEY: want 32 bytes, base64 or hex encoded")
}
