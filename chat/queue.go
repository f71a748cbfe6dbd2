package chat

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/hatbot/bot"
	"github.com/onnwee/hatbot/rules"
	"github.com/onnwee/hatbot/telemetry"
)

// ErrQueueFull is returned when a channel's lane has no free slot; the event
// is dropped.
var ErrQueueFull = errors.New("chat: channel queue full")

// ErrQueueClosed is returned for events enqueued after Close.
var ErrQueueClosed = errors.New("chat: queue closed")

// Dispatcher receives inbound chat events. *bot.Router implements it.
type Dispatcher interface {
	DispatchMessage(ctx context.Context, msg bot.Message) error
	DispatchJoin(ctx context.Context, ev bot.JoinEvent) error
	DispatchPart(ctx context.Context, ev bot.PartEvent) error
}

// channelFilter is implemented by dispatchers that know which channels they
// handle. *bot.Router implements it.
type channelFilter interface {
	Serves(channel string) bool
}

type event struct {
	ctx  context.Context
	msg  *bot.Message
	join *bot.JoinEvent
	part *bot.PartEvent
}

// Queue decouples the IRC reader from event handling. Each channel gets one
// lane: a bounded buffer drained by its own goroutine, so events for a
// channel are handled in arrival order while channels proceed independently.
type Queue struct {
	next    Dispatcher
	size    int
	onError func(ctx context.Context, channel string, err error)

	mu     sync.Mutex
	lanes  map[string]chan event
	closed bool
	g      errgroup.Group
}

// NewQueue returns a queue with size slots per channel forwarding to next.
// onError receives every error returned by next; it may be nil. When next
// reports the channels it serves, events for other channels are dropped
// before a lane is created for them.
func NewQueue(next Dispatcher, size int, onError func(ctx context.Context, channel string, err error)) *Queue {
	if size < 1 {
		size = 1
	}
	if onError == nil {
		onError = func(context.Context, string, error) {}
	}
	return &Queue{next: next, size: size, onError: onError, lanes: make(map[string]chan event)}
}

// DispatchMessage enqueues msg on its channel's lane.
func (q *Queue) DispatchMessage(ctx context.Context, msg bot.Message) error {
	return q.enqueue(msg.Channel, event{ctx: ctx, msg: &msg})
}

// DispatchJoin enqueues ev on its channel's lane.
func (q *Queue) DispatchJoin(ctx context.Context, ev bot.JoinEvent) error {
	return q.enqueue(ev.Channel, event{ctx: ctx, join: &ev})
}

// DispatchPart enqueues ev on its channel's lane.
func (q *Queue) DispatchPart(ctx context.Context, ev bot.PartEvent) error {
	return q.enqueue(ev.Channel, event{ctx: ctx, part: &ev})
}

func (q *Queue) enqueue(channel string, ev event) error {
	channel = rules.NormalizeChannel(channel)
	if f, ok := q.next.(channelFilter); ok && !f.Serves(channel) {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	lane, ok := q.lanes[channel]
	if !ok {
		lane = make(chan event, q.size)
		q.lanes[channel] = lane
		q.g.Go(func() error {
			q.drain(channel, lane)
			return nil
		})
	}
	select {
	case lane <- ev:
		return nil
	default:
		telemetry.ObserveQueueDrop(channel)
		return ErrQueueFull
	}
}

func (q *Queue) drain(channel string, lane <-chan event) {
	for ev := range lane {
		var err error
		switch {
		case ev.msg != nil:
			err = q.next.DispatchMessage(ev.ctx, *ev.msg)
		case ev.join != nil:
			err = q.next.DispatchJoin(ev.ctx, *ev.join)
		case ev.part != nil:
			err = q.next.DispatchPart(ev.ctx, *ev.part)
		}
		if err != nil {
			q.onError(ev.ctx, channel, err)
		}
	}
}

// Close stops accepting events, lets every lane finish what it holds and
// waits for the lanes to exit.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		for _, lane := range q.lanes {
			close(lane)
		}
	}
	q.mu.Unlock()
	_ = q.g.Wait()
}
