package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/onnwee/hatbot/bot"
	"github.com/onnwee/hatbot/chat"
	"github.com/onnwee/hatbot/config"
	"github.com/onnwee/hatbot/db"
	"github.com/onnwee/hatbot/external"
	"github.com/onnwee/hatbot/oauth"
	"github.com/onnwee/hatbot/rules"
	"github.com/onnwee/hatbot/server"
	"github.com/onnwee/hatbot/telemetry"
	"github.com/onnwee/hatbot/twitchapi"
)

func newRunCmd(rulesPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to Twitch chat and answer messages (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context(), *rulesPath)
		},
	}
}

func newCheckCmd(rulesPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the rules document and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := rules.Load(*rulesPath)
			if err != nil {
				return err
			}
			if err := checkSources(*rulesPath, doc, external.NewClient(doc.Providers, nil, 0)); err != nil {
				return err
			}
			actions := 0
			for _, ch := range doc.Channels {
				actions += len(ch.Actions)
			}
			printf(cmd, "%s: ok (%d channels, %d actions, %d providers)\n", *rulesPath, len(doc.Channels), actions, len(doc.Providers))
			return nil
		},
	}
}

func newConvertCmd(rulesPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "convert <out>",
		Short: "Rewrite the rules document in the format implied by <out>'s extension",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := rules.Load(*rulesPath)
			if err != nil {
				return err
			}
			if err := rules.Save(args[0], doc); err != nil {
				return err
			}
			printf(cmd, "wrote %s (%s)\n", args[0], rules.FormatForPath(args[0]))
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	tok := &cobra.Command{
		Use:   "token",
		Short: "Manage the bot's stored Twitch token (requires DB_DSN)",
	}

	var (
		access, refresh string
		expiresIn       time.Duration
		skipValidate    bool
	)
	set := &cobra.Command{
		Use:   "set",
		Short: "Store a chat token obtained elsewhere",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			t := db.Token{Provider: twitchapi.Provider, AccessToken: access, RefreshToken: refresh}
			if expiresIn > 0 {
				t.Expiry = time.Now().Add(expiresIn)
			}
			if !skipValidate {
				v, err := twitchapi.ValidateToken(ctx, nil, "", access)
				if err != nil {
					return fmt.Errorf("validate token: %w", err)
				}
				slog.Info("token validated", slog.String("login", v.Login), slog.Any("scopes", v.Scopes))
				if t.Expiry.IsZero() {
					t.Expiry = twitchapi.ComputeExpiry(v.ExpiresIn)
				}
				t.Scope = strings.Join(v.Scopes, " ")
			}
			if t.Expiry.IsZero() {
				t.Expiry = twitchapi.ComputeExpiry(0)
			}
			return withTokenStore(ctx, func(store *db.TokenStore) error {
				if err := store.Upsert(ctx, t); err != nil {
					return err
				}
				printf(cmd, "stored %s token, expires %s\n", t.Provider, t.Expiry.UTC().Format(time.RFC3339))
				return nil
			})
		},
	}
	set.Flags().StringVar(&access, "access-token", "", "user access token (oauth: prefix optional)")
	set.Flags().StringVar(&refresh, "refresh-token", "", "refresh token, enables background refresh")
	set.Flags().DurationVar(&expiresIn, "expires-in", 0, "token lifetime; taken from Twitch when validating")
	set.Flags().BoolVar(&skipValidate, "skip-validate", false, "do not ask Twitch to validate the token")
	_ = set.MarkFlagRequired("access-token")

	var dryRun bool
	encrypt := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt stored plaintext tokens with ENCRYPTION_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withTokenStore(ctx, func(store *db.TokenStore) error {
				n, err := store.EncryptPlaintext(ctx, dryRun)
				if err != nil {
					return err
				}
				if dryRun {
					printf(cmd, "%d plaintext tokens would be encrypted\n", n)
				} else {
					printf(cmd, "encrypted %d tokens\n", n)
				}
				return nil
			})
		},
	}
	encrypt.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be encrypted without changing anything")

	tok.AddCommand(set, encrypt)
	return tok
}

func withTokenStore(ctx context.Context, fn func(*db.TokenStore) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DBDsn == "" {
		return errors.New("DB_DSN is required")
	}
	database, err := db.Connect(ctx, cfg.DBDsn)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()
	if err := db.Migrate(ctx, database); err != nil {
		return err
	}
	store, err := db.NewTokenStore(database, cfg.EncryptionKey)
	if err != nil {
		return err
	}
	return fn(store)
}

// checkSources reports the first external response whose source the fetcher
// does not know.
func checkSources(path string, doc *rules.Config, fetcher *external.Client) error {
	for _, ch := range doc.Channels {
		for i, a := range ch.Actions {
			if a.Response.Kind == rules.ResponseExternal && !fetcher.Has(a.Response.Source) {
				return &rules.ConfigError{Path: path, Err: fmt.Errorf("channel %s action %d: unknown external source %q", ch.Name, i, a.Response.Source)}
			}
		}
	}
	return nil
}

func runBot(parent context.Context, rulesPath string) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	cfg.RulesPath = rulesPath

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("hatbot", version)
	if err != nil {
		return fmt.Errorf("tracing initialization failed: %w", err)
	}
	defer shutdown()

	doc, err := rules.Load(cfg.RulesPath)
	if err != nil {
		return err
	}
	fetcher := external.NewClient(doc.Providers, nil, cfg.ExternalTimeout)
	if err := checkSources(cfg.RulesPath, doc, fetcher); err != nil {
		return err
	}

	// Stored token (optional)
	var (
		tokens *db.TokenStore
		stored *db.Token
	)
	if cfg.DBDsn != "" {
		database, err := db.Connect(ctx, cfg.DBDsn)
		if err != nil {
			return fmt.Errorf("failed to open db: %w", err)
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		slog.Info("running database migrations", slog.String("component", "db_migrate"))
		if err := db.Migrate(ctx, database); err != nil {
			return fmt.Errorf("failed to migrate db: %w", err)
		}
		if tokens, err = db.NewTokenStore(database, cfg.EncryptionKey); err != nil {
			return err
		}
		if t, ok, err := tokens.Get(ctx, twitchapi.Provider); err != nil {
			slog.Warn("stored twitch token unreadable", slog.Any("err", err))
		} else if ok {
			stored = &t
		}
	}
	if err := cfg.ValidateChatReady(stored != nil); err != nil {
		return err
	}

	token := cfg.TwitchOAuthToken
	if stored != nil && stored.AccessToken != "" {
		token = stored.AccessToken
	}
	client := chat.NewClient(cfg.TwitchBotUsername, token)
	onToken := func(t db.Token) {
		client.SetToken(t.AccessToken)
		slog.Info("chat token updated", slog.String("component", "oauth"), slog.Time("expires_at", t.Expiry))
	}

	router, err := bot.Build(doc, client,
		bot.WithFetcher(fetcher),
		bot.WithSweepInterval(cfg.CooldownSweep),
		bot.WithLogger(slog.Default()),
	)
	if err != nil {
		return err
	}

	var oc *oauth2.Config
	if cfg.OAuthReady() {
		if oc, err = twitchapi.OAuthConfig(cfg.TwitchClientID, cfg.TwitchClientSecret, cfg.TwitchRedirectURI, cfg.TwitchScopes, ""); err != nil {
			return err
		}
	}
	if tokens != nil && oc != nil {
		refresher := oauth.NewTwitchRefresher(tokens, oc, onToken)
		// refresh an expiring token before the first connect
		if _, err := refresher.Check(ctx); err != nil {
			slog.Warn("initial token refresh failed", slog.String("component", "oauth"), slog.Any("err", err))
		}
		refresher.Start(ctx)
	}

	deps := server.Deps{
		Router:    router,
		Providers: doc.Providers,
		RulesPath: cfg.RulesPath,
		Chat:      client,
		OAuth:     oc,
		OnToken:   onToken,
	}
	if tokens != nil {
		deps.Tokens = tokens
	}
	go func() {
		if err := server.Start(ctx, deps, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	slog.Info("starting bot", slog.Any("channels", router.Channels()), slog.Int("queue_size", cfg.QueueSize))
	err = chat.Run(ctx, client, router, chat.Options{QueueSize: cfg.QueueSize})
	slog.Info("shutting down")
	return err
}
