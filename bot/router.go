package bot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/onnwee/hatbot/rules"
	"github.com/onnwee/hatbot/telemetry"
)

// Router maps channel names to engines and forwards inbound events. The set
// of engines is fixed at construction, so lookups need no locking.
type Router struct {
	order   []string
	engines map[string]*Engine
}

// NewRouter indexes engines by name. Names must be unique.
func NewRouter(engines ...*Engine) (*Router, error) {
	r := &Router{engines: make(map[string]*Engine, len(engines))}
	for _, e := range engines {
		if _, dup := r.engines[e.Name()]; dup {
			return nil, &rules.ConfigError{Err: fmt.Errorf("duplicate channel %s", e.Name())}
		}
		r.engines[e.Name()] = e
		r.order = append(r.order, e.Name())
	}
	return r, nil
}

// Build creates one engine per channel in cfg, all sharing sender and opts.
func Build(cfg *rules.Config, sender Sender, opts ...Option) (*Router, error) {
	engines := make([]*Engine, 0, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		e, err := NewEngine(ch, sender, opts...)
		if err != nil {
			return nil, err
		}
		engines = append(engines, e)
	}
	return NewRouter(engines...)
}

// Engine returns the engine for a channel; decoration like "#" is ignored.
func (r *Router) Engine(channel string) (*Engine, bool) {
	e, ok := r.engines[rules.NormalizeChannel(channel)]
	return e, ok
}

// Serves reports whether channel has an engine.
func (r *Router) Serves(channel string) bool {
	_, ok := r.Engine(channel)
	return ok
}

// Channels lists channel names in configuration order.
func (r *Router) Channels() []string { return append([]string(nil), r.order...) }

// DispatchMessage forwards msg to its channel's engine. Messages for channels
// without an engine are dropped without error.
func (r *Router) DispatchMessage(ctx context.Context, msg Message) error {
	e, ok := r.Engine(msg.Channel)
	if !ok {
		telemetry.LoggerWithCorr(ctx).Debug("message for unmonitored channel", slog.String("channel", msg.Channel))
		return nil
	}
	return e.HandleMessage(ctx, msg)
}

// DispatchJoin forwards ev to its channel's engine.
func (r *Router) DispatchJoin(ctx context.Context, ev JoinEvent) error {
	e, ok := r.Engine(ev.Channel)
	if !ok {
		return nil
	}
	return e.HandleJoin(ctx, ev)
}

// DispatchPart is observed but not acted upon.
func (r *Router) DispatchPart(ctx context.Context, ev PartEvent) error {
	if _, ok := r.Engine(ev.Channel); ok {
		telemetry.LoggerWithCorr(ctx).Debug("user parted", slog.String("channel", rules.NormalizeChannel(ev.Channel)), slog.String("user", ev.User))
	}
	return nil
}

// JoinAll joins every channel in configuration order and stops at the first
// failure.
func (r *Router) JoinAll() error {
	for _, name := range r.order {
		if err := r.engines[name].JoinChannel(); err != nil {
			return err
		}
	}
	return nil
}

// Config snapshots every engine back into a rules document. providers are
// carried through unchanged since the router does not own them.
func (r *Router) Config(providers []rules.ProviderConfig) *rules.Config {
	cfg := &rules.Config{Channels: make([]rules.ChannelConfig, 0, len(r.order))}
	for _, name := range r.order {
		cfg.Channels = append(cfg.Channels, r.engines[name].Config())
	}
	if len(providers) > 0 {
		cfg.Providers = append([]rules.ProviderConfig(nil), providers...)
	}
	return cfg
}
