package chat

import (
	"context"
	"errors"
	"log/slog"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"github.com/google/uuid"

	"github.com/onnwee/hatbot/bot"
	"github.com/onnwee/hatbot/telemetry"
)

// Router is what Run needs from the bot side: event dispatch plus joining
// every configured channel.
type Router interface {
	Dispatcher
	JoinAll() error
}

// Options tunes Run.
type Options struct {
	// QueueSize > 0 enables per-channel lanes with that many slots each.
	QueueSize int
	Logger    *slog.Logger
}

// MessageFrom converts an IRC PRIVMSG into a bot message.
func MessageFrom(m twitch.PrivateMessage) bot.Message {
	return bot.Message{
		Channel: m.Channel,
		User:    m.User.Name,
		Text:    m.Message,
		ID:      m.ID,
		Time:    m.Time,
	}
}

// Run joins every channel, connects and dispatches events to r until ctx is
// done. Per-event errors are logged and counted; only a failed join or a
// connection error ends the run early.
func Run(ctx context.Context, c *Client, r Router, opts Options) error {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "chat"))

	report := func(ctx context.Context, channel string, err error) {
		if err == nil {
			return
		}
		class := bot.Classify(err)
		telemetry.ObserveDispatchError(channel, class.String())
		l := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "chat"), slog.String("channel", channel), slog.String("class", class.String()))
		if errors.Is(err, ErrQueueFull) {
			l.Warn("event dropped", slog.Any("err", err))
			return
		}
		l.Error("event handling failed", slog.Any("err", err))
	}

	var d Dispatcher = r
	drain := func() {}
	if opts.QueueSize > 0 {
		q := NewQueue(r, opts.QueueSize, report)
		d, drain = q, q.Close
	}

	c.irc.OnConnect(func() {
		c.setConnected(true)
		log.Info("connected to twitch chat", slog.String("user", c.username))
	})
	c.irc.OnPrivateMessage(func(m twitch.PrivateMessage) {
		if c.isSelf(m.User.Name) {
			return
		}
		msg := MessageFrom(m)
		mctx := telemetry.WithCorrelation(ctx, correlationID(m.ID))
		report(mctx, msg.Channel, d.DispatchMessage(mctx, msg))
	})
	c.irc.OnUserJoinMessage(func(m twitch.UserJoinMessage) {
		if c.isSelf(m.User) {
			return
		}
		jctx := telemetry.WithCorrelation(ctx, correlationID(""))
		report(jctx, m.Channel, d.DispatchJoin(jctx, bot.JoinEvent{Channel: m.Channel, User: m.User}))
	})
	c.irc.OnUserPartMessage(func(m twitch.UserPartMessage) {
		if c.isSelf(m.User) {
			return
		}
		pctx := telemetry.WithCorrelation(ctx, correlationID(""))
		report(pctx, m.Channel, d.DispatchPart(pctx, bot.PartEvent{Channel: m.Channel, User: m.User}))
	})

	if err := r.JoinAll(); err != nil {
		drain()
		return err
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			if err := c.irc.Disconnect(); err != nil {
				log.Debug("disconnect", slog.Any("err", err))
			}
		case <-done:
		}
	}()

	err := c.irc.Connect()
	close(done)
	// queued events were accepted while connected; let them finish first
	drain()
	c.setConnected(false)
	if errors.Is(err, twitch.ErrClientDisconnected) || ctx.Err() != nil {
		log.Info("twitch chat stopped")
		return nil
	}
	return err
}

// correlationID prefers the IRC message id so logs line up with Twitch.
func correlationID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}
