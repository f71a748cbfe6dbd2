// Package bot contains the per-channel rule engines and the router that
// dispatches inbound chat events to them.
//
// An Engine owns the actions and cooldown table for one channel. It never
// talks to the network itself: replies go out through an injected Sender and
// external lines come from an injected rules.LineFetcher, so engines can be
// driven directly in tests.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/hatbot/rules"
	"github.com/onnwee/hatbot/telemetry"
)

// Message is an inbound chat message.
type Message struct {
	Channel string
	User    string
	Text    string
	ID      string
	Time    time.Time
}

// JoinEvent reports a user joining a channel.
type JoinEvent struct {
	Channel string
	User    string
}

// PartEvent reports a user leaving a channel.
type PartEvent struct {
	Channel string
	User    string
}

// Sender is the outbound capability supplied by the chat transport.
// Implementations shared between engines must serialize their writes.
type Sender interface {
	Send(channel, text string) error
	Join(channel string) error
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithFetcher sets the source of external response lines.
func WithFetcher(f rules.LineFetcher) Option { return func(e *Engine) { e.fetcher = f } }

// WithSweepInterval enables periodic eviction of stale cooldown entries.
func WithSweepInterval(d time.Duration) Option { return func(e *Engine) { e.sweep = d } }

// WithLogger sets the base logger; the channel name is added to it.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

// Engine processes messages for a single channel.
type Engine struct {
	name     string
	cooldown time.Duration

	// handle serializes message processing so the cooldown check and the
	// cooldown write happen atomically and replies keep message order.
	handle sync.Mutex

	mu      sync.RWMutex
	actions []rules.Action

	cooldowns *CooldownTable
	sender    Sender
	fetcher   rules.LineFetcher
	now       func() time.Time
	sweep     time.Duration
	log       *slog.Logger
}

// NewEngine builds an engine from its channel config. Invalid actions (bad
// regex, unknown kinds) fail construction rather than individual messages.
func NewEngine(cfg rules.ChannelConfig, sender Sender, opts ...Option) (*Engine, error) {
	cfg.Actions = append([]rules.Action(nil), cfg.Actions...)
	if err := cfg.Build(); err != nil {
		return nil, &rules.ConfigError{Err: err}
	}
	e := &Engine{
		name:     cfg.Name,
		cooldown: cfg.Cooldown.Std(),
		actions:  cfg.Actions,
		sender:   sender,
		now:      time.Now,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With(slog.String("component", "engine"), slog.String("channel", e.name))
	for _, a := range e.actions {
		if err := e.checkSource(a); err != nil {
			return nil, &rules.ConfigError{Err: err}
		}
	}
	e.cooldowns = NewCooldownTable(e.cooldown, e.sweep)
	return e, nil
}

// Name returns the normalized channel name.
func (e *Engine) Name() string { return e.name }

// Cooldown returns the per-user window.
func (e *Engine) Cooldown() time.Duration { return e.cooldown }

// CooldownSize returns how many users are currently tracked.
func (e *Engine) CooldownSize() int { return e.cooldowns.Len() }

// Actions returns a copy of the action list in evaluation order.
func (e *Engine) Actions() []rules.Action {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]rules.Action(nil), e.actions...)
}

// AddAction appends a rule at the lowest priority. It rejects the rule the
// same way a config load would.
func (e *Engine) AddAction(a rules.Action) error {
	if err := a.Build(); err != nil {
		return err
	}
	if err := e.checkSource(a); err != nil {
		return &rules.ConfigError{Err: err}
	}
	e.mu.Lock()
	e.actions = append(e.actions, a)
	n := len(e.actions)
	e.mu.Unlock()
	e.log.Info("action added", slog.String("trigger", a.Trigger.String()), slog.String("response", a.Response.String()), slog.Int("actions", n))
	return nil
}

// sourceLister is implemented by fetchers that know their sources up front.
type sourceLister interface {
	Has(source string) bool
}

// checkSource rejects an external response the fetcher cannot serve. Fetchers
// that cannot list their sources accept everything.
func (e *Engine) checkSource(a rules.Action) error {
	if a.Response.Kind != rules.ResponseExternal {
		return nil
	}
	if l, ok := e.fetcher.(sourceLister); ok && !l.Has(a.Response.Source) {
		return fmt.Errorf("channel %s: unknown external source %q", e.name, a.Response.Source)
	}
	return nil
}

// Config returns the serializable form of the engine.
func (e *Engine) Config() rules.ChannelConfig {
	return rules.ChannelConfig{
		Name:     e.name,
		Cooldown: rules.Duration(e.cooldown),
		Actions:  e.Actions(),
	}
}

// HandleMessage runs the first matching action for msg unless its sender is
// still cooling down. A user in cooldown and a message matching nothing are
// both normal outcomes and return nil.
func (e *Engine) HandleMessage(ctx context.Context, msg Message) error {
	e.handle.Lock()
	defer e.handle.Unlock()

	telemetry.ObserveMessage(e.name)
	user := strings.ToLower(msg.User)
	now := e.now()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("channel", e.name), slog.String("user", user))

	if e.cooldowns.Cooling(user, now) {
		last, _ := e.cooldowns.Last(user)
		log.Debug("user in cooldown", slog.Duration("elapsed", now.Sub(last)), slog.Duration("window", e.cooldown))
		telemetry.ObserveCooldown(e.name)
		return nil
	}

	e.mu.RLock()
	actions := e.actions
	e.mu.RUnlock()

	for i := range actions {
		a := &actions[i]
		if !a.Trigger.Match(msg.Text) {
			continue
		}
		return e.respond(ctx, log, user, msg, a)
	}
	telemetry.ObserveNoMatch(e.name)
	return nil
}

func (e *Engine) respond(ctx context.Context, log *slog.Logger, user string, msg Message, a *rules.Action) error {
	ctx, span := telemetry.StartSpan(ctx, "hatbot/bot", "engine.respond",
		attribute.String("channel", e.name),
		attribute.String("trigger", string(a.Trigger.Kind)),
		attribute.String("response", string(a.Response.Kind)),
	)
	defer span.End()
	start := time.Now()

	text, err := a.Response.Produce(ctx, msg.Text, e.fetcher)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	if text == "" {
		log.Debug("matched action produced empty text; nothing sent", slog.String("trigger", a.Trigger.String()))
		telemetry.SetSpanSuccess(span)
		return nil
	}
	if err := e.sender.Send(e.name, text); err != nil {
		err = &SendError{Channel: e.name, Err: err}
		telemetry.RecordError(span, err)
		return err
	}
	e.cooldowns.Touch(user, e.now())
	telemetry.ObserveResponse(e.name, string(a.Response.Kind), time.Since(start))
	telemetry.SetSpanSuccess(span)
	log.Info("response sent", slog.String("trigger", a.Trigger.String()), slog.String("response", a.Response.String()))
	return nil
}

// HandleJoin is a hook for per-channel connection bookkeeping. It currently
// only logs.
func (e *Engine) HandleJoin(ctx context.Context, ev JoinEvent) error {
	telemetry.LoggerWithCorr(ctx).Debug("user joined", slog.String("channel", e.name), slog.String("user", ev.User))
	return nil
}

// JoinChannel asks the sender to join this engine's channel.
func (e *Engine) JoinChannel() error {
	if err := e.sender.Join(e.name); err != nil {
		return &JoinError{Channel: e.name, Err: err}
	}
	e.log.Info("join requested")
	return nil
}
