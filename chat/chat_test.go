package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/hatbot/bot"
	"github.com/onnwee/hatbot/rules"
)

type fakeIRC struct {
	mu     sync.Mutex
	said   []string
	joined []string
	token  string

	onConnect func()
	onPriv    func(twitch.PrivateMessage)
	onJoin    func(twitch.UserJoinMessage)
	onPart    func(twitch.UserPartMessage)

	connected chan struct{}
	stop      chan struct{}
	stopOnce  sync.Once
}

func newFakeIRC() *fakeIRC {
	return &fakeIRC{connected: make(chan struct{}), stop: make(chan struct{})}
}

func (f *fakeIRC) Say(channel, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.said = append(f.said, channel+": "+text)
}

func (f *fakeIRC) Join(channels ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, channels...)
}

func (f *fakeIRC) Connect() error {
	f.onConnect()
	close(f.connected)
	<-f.stop
	return twitch.ErrClientDisconnected
}

func (f *fakeIRC) Disconnect() error {
	f.stopOnce.Do(func() { close(f.stop) })
	return nil
}

func (f *fakeIRC) SetIRCToken(token string) { f.token = token }
func (f *fakeIRC) OnConnect(cb func()) { f.onConnect = cb }
func (f *fakeIRC) OnPrivateMessage(cb func(twitch.PrivateMessage)) { f.onPriv = cb }
func (f *fakeIRC) OnUserJoinMessage(cb func(twitch.UserJoinMessage)) { f.onJoin = cb }
func (f *fakeIRC) OnUserPartMessage(cb func(twitch.UserPartMessage)) { f.onPart = cb }

func (f *fakeIRC) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.said...)
}

func TestClientSendRequiresConnection(t *testing.T) {
	irc := newFakeIRC()
	c := New(irc, "HatBot")
	if err := c.Send("chan", "hi"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Send() before connect error = %v, want ErrNotConnected", err)
	}
	c.setConnected(true)
	if err := c.Send("#Chan", "hi"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := c.Send("chan", "   "); err == nil {
		t.Error("Send() accepted empty text")
	}
	if err := c.Send("#", "hi"); err == nil {
		t.Error("Send() accepted empty channel")
	}
	if got := irc.sent(); len(got) != 1 || got[0] != "chan: hi" {
		t.Errorf("said = %v", got)
	}
}

func TestClientJoinAndToken(t *testing.T) {
	irc := newFakeIRC()
	c := New(irc, "hatbot")
	if err := c.Join(""); err == nil {
		t.Error("Join(\"\") succeeded")
	}
	if err := c.Join("#Hatfans"); err != nil {
		t.Fatal(err)
	}
	if len(irc.joined) != 1 || irc.joined[0] != "hatfans" {
		t.Errorf("joined = %v", irc.joined)
	}

	tests := map[string]string{
		"abc123":       "oauth:abc123",
		"oauth:abc123": "oauth:abc123",
		" abc ":        "oauth:abc",
	}
	for in, want := range tests {
		c.SetToken(in)
		if irc.token != want {
			t.Errorf("SetToken(%q) -> %q, want %q", in, irc.token, want)
		}
	}
}

func TestMessageFrom(t *testing.T) {
	now := time.Now()
	m := twitch.PrivateMessage{
		User:    twitch.User{Name: "alice", DisplayName: "Alice"},
		Channel: "hatfans",
		Message: "nice hats",
		ID:      "abc",
		Time:    now,
	}
	got := MessageFrom(m)
	want := bot.Message{Channel: "hatfans", User: "alice", Text: "nice hats", ID: "abc", Time: now}
	if got != want {
		t.Errorf("MessageFrom() = %+v, want %+v", got, want)
	}
}

type recordingRouter struct {
	mu      sync.Mutex
	msgs    []bot.Message
	joins   []bot.JoinEvent
	parts   []bot.PartEvent
	joinErr error
	joined  bool
}

func (r *recordingRouter) DispatchMessage(_ context.Context, m bot.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
	return nil
}

func (r *recordingRouter) DispatchJoin(_ context.Context, ev bot.JoinEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joins = append(r.joins, ev)
	return nil
}

func (r *recordingRouter) DispatchPart(_ context.Context, ev bot.PartEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parts = append(r.parts, ev)
	return nil
}

func (r *recordingRouter) JoinAll() error {
	r.joined = true
	return r.joinErr
}

func TestRunDispatchesAndSkipsSelf(t *testing.T) {
	irc := newFakeIRC()
	c := New(irc, "HatBot")
	r := &recordingRouter{}
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- Run(ctx, c, r, Options{}) }()

	select {
	case <-irc.connected:
	case <-time.After(2 * time.Second):
		t.Fatal("Run never connected")
	}
	if !r.joined {
		t.Error("JoinAll not called before connect")
	}
	if !c.Connected() {
		t.Error("Connected() = false after OnConnect")
	}

	irc.onPriv(twitch.PrivateMessage{User: twitch.User{Name: "alice"}, Channel: "hatfans", Message: "nice hats", ID: "1"})
	irc.onPriv(twitch.PrivateMessage{User: twitch.User{Name: "hatbot"}, Channel: "hatfans", Message: "adjust the hats", ID: "2"})
	irc.onJoin(twitch.UserJoinMessage{Channel: "hatfans", User: "bob"})
	irc.onJoin(twitch.UserJoinMessage{Channel: "hatfans", User: "hatbot"})
	irc.onPart(twitch.UserPartMessage{Channel: "hatfans", User: "bob"})

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Run() error = %v, want nil after cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if len(r.msgs) != 1 || r.msgs[0].User != "alice" {
		t.Errorf("messages = %+v, want only alice's", r.msgs)
	}
	if len(r.joins) != 1 || r.joins[0].User != "bob" {
		t.Errorf("joins = %+v", r.joins)
	}
	if len(r.parts) != 1 {
		t.Errorf("parts = %+v", r.parts)
	}
	if c.Connected() {
		t.Error("Connected() = true after Run returned")
	}
}

func TestRunJoinFailureIsFatal(t *testing.T) {
	irc := newFakeIRC()
	joinErr := &bot.JoinError{Channel: "x", Err: errors.New("closed")}
	err := Run(context.Background(), New(irc, "hatbot"), &recordingRouter{joinErr: joinErr}, Options{})
	if !errors.Is(err, joinErr) {
		t.Fatalf("Run() error = %v, want join error", err)
	}
	if !bot.IsFatal(err) {
		t.Error("join failure should classify as fatal")
	}
}

func TestRunEndToEndWithRouter(t *testing.T) {
	irc := newFakeIRC()
	c := New(irc, "hatbot")
	cfg := &rules.Config{Channels: []rules.ChannelConfig{{
		Name:     "hatfans",
		Cooldown: rules.Duration(time.Minute),
		Actions:  []rules.Action{{Trigger: rules.Contains("hats"), Response: rules.Static("adjust the hats")}},
	}}}
	router, err := bot.Build(cfg, c)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- Run(ctx, c, router, Options{QueueSize: 4}) }()
	<-irc.connected

	irc.onPriv(twitch.PrivateMessage{User: twitch.User{Name: "alice"}, Channel: "hatfans", Message: "nice hats"})
	irc.onPriv(twitch.PrivateMessage{User: twitch.User{Name: "alice"}, Channel: "hatfans", Message: "more hats"})

	cancel()
	if err := <-errc; err != nil {
		t.Fatal(err)
	}
	// Run closes the queue before returning, so every lane has drained.
	if got := irc.sent(); len(got) != 1 || got[0] != "hatfans: adjust the hats" {
		t.Errorf("said = %v", got)
	}
	if len(irc.joined) != 1 || irc.joined[0] != "hatfans" {
		t.Errorf("joined = %v", irc.joined)
	}
}
