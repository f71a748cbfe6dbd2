package chat

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/hatbot/rules"
	"github.com/onnwee/hatbot/telemetry"
)

// ErrNotConnected is returned by Send before the IRC connection is up.
var ErrNotConnected = errors.New("chat: not connected")

// IRC is the subset of *twitch.Client the adapter drives.
type IRC interface {
	Say(channel, text string)
	Join(channels ...string)
	Connect() error
	Disconnect() error
	SetIRCToken(token string)
	OnConnect(callback func())
	OnPrivateMessage(callback func(message twitch.PrivateMessage))
	OnUserJoinMessage(callback func(message twitch.UserJoinMessage))
	OnUserPartMessage(callback func(message twitch.UserPartMessage))
}

// Client sends and joins on behalf of every channel engine. It implements
// bot.Sender.
type Client struct {
	irc      IRC
	username string

	mu        sync.Mutex // serializes writes shared by all engines
	connected atomic.Bool
}

// NewClient creates a Twitch IRC client for the bot account.
func NewClient(username, token string) *Client {
	return New(twitch.NewClient(strings.ToLower(username), ircToken(token)), username)
}

// New wraps an existing IRC implementation.
func New(irc IRC, username string) *Client {
	return &Client{irc: irc, username: strings.ToLower(username)}
}

// Username returns the bot's login.
func (c *Client) Username() string { return c.username }

// Connected reports whether the IRC connection is currently up.
func (c *Client) Connected() bool { return c.connected.Load() }

func (c *Client) setConnected(v bool) {
	c.connected.Store(v)
	telemetry.SetChatConnected(v)
}

// Send writes text to channel.
func (c *Client) Send(channel, text string) error {
	channel = rules.NormalizeChannel(channel)
	if channel == "" {
		return errors.New("chat: empty channel")
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("chat: empty message")
	}
	if !c.connected.Load() {
		return ErrNotConnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.irc.Say(channel, text)
	return nil
}

// Join requests membership in channel. Joins issued before Connect are sent
// once the connection opens.
func (c *Client) Join(channel string) error {
	channel = rules.NormalizeChannel(channel)
	if channel == "" {
		return fmt.Errorf("chat: empty channel")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.irc.Join(channel)
	return nil
}

// SetToken swaps the IRC password used on the next (re)connect.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.irc.SetIRCToken(ircToken(token))
}

func (c *Client) isSelf(user string) bool { return strings.EqualFold(user, c.username) }

func ircToken(token string) string {
	token = strings.TrimSpace(token)
	if token == "" || strings.HasPrefix(token, "oauth:") {
		return token
	}
	return "oauth:" + token
}
