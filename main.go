// Command hatbot is a rule-driven Twitch chat bot. Each configured channel
// gets an engine that matches chat messages against ordered trigger/response
// actions, with a per-user cooldown.
//
// It:
//   - Loads configuration and initializes structured logging.
//   - Loads the rules document (JSON or YAML) and builds one engine per channel.
//   - Optionally connects to Postgres for the bot's OAuth token and keeps it
//     refreshed.
//   - Exposes an HTTP server with health checks, /status, /metrics and admin routes.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/onnwee/hatbot/config"
)

var version = "dev"

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	slog.SetDefault(newLogger(os.Stdout, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT")))

	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		slog.Error("hatbot failed", slog.Any("err", err))
		os.Exit(1)
	}
}

// newLogger builds the process logger. Defaults: level=info, format=text.
func newLogger(w io.Writer, level, format string) *slog.Logger {
	lvl := slog.LevelInfo
	unknown := false
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		unknown = true
	}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})
	}
	logger := slog.New(handler)
	if unknown {
		logger.Warn("unknown LOG_LEVEL, using info", slog.String("value", level))
	}
	return logger
}

func newRootCmd() *cobra.Command {
	var rulesPath string

	root := &cobra.Command{
		Use:           "hatbot",
		Short:         "Rule-driven Twitch chat bot",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context(), rulesPath)
		},
	}
	root.PersistentFlags().StringVarP(&rulesPath, "config", "c", defaultRulesPath(), "rules document (.json, .yaml or .yml)")

	root.AddCommand(
		newRunCmd(&rulesPath),
		newCheckCmd(&rulesPath),
		newConvertCmd(&rulesPath),
		newTokenCmd(),
	)
	return root
}

func defaultRulesPath() string {
	if p := os.Getenv("RULES_PATH"); p != "" {
		return p
	}
	return config.DefaultRulesPath
}

func printf(cmd *cobra.Command, format string, args ...any) {
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
