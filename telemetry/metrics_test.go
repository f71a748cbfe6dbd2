package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveHelpersBeforeInit(t *testing.T) {
	// must not panic while collectors are still nil
	if MessagesReceived != nil {
		t.Skip("metrics already initialized by another test")
	}
	ObserveMessage("c")
	ObserveResponse("c", "static", time.Millisecond)
	ObserveCooldown("c")
	ObserveNoMatch("c")
	ObserveDispatchError("c", "message")
	ObserveExternalFetch("s", nil, time.Millisecond)
	ObserveQueueDrop("c")
	SetChatConnected(true)
}

func TestInitIdempotent(t *testing.T) {
	Init()
	first := MessagesReceived
	Init()
	if MessagesReceived != first {
		t.Error("Init() re-created collectors on second call")
	}
}

func TestCounters(t *testing.T) {
	Init()

	tests := []struct {
		name    string
		observe func()
		counter prometheus.Collector
	}{
		{"message", func() { ObserveMessage("hats") }, MessagesReceived.WithLabelValues("hats")},
		{"response", func() { ObserveResponse("hats", "static", 5*time.Millisecond) }, ResponsesSent.WithLabelValues("hats", "static")},
		{"cooldown", func() { ObserveCooldown("hats") }, CooldownSkipped.WithLabelValues("hats")},
		{"no match", func() { ObserveNoMatch("hats") }, NoMatch.WithLabelValues("hats")},
		{"dispatch error", func() { ObserveDispatchError("hats", "message") }, DispatchErrors.WithLabelValues("hats", "message")},
		{"external ok", func() { ObserveExternalFetch("dadjoke", nil, time.Millisecond) }, ExternalFetches.WithLabelValues("dadjoke", "ok")},
		{"external error", func() { ObserveExternalFetch("dadjoke", errors.New("x"), time.Millisecond) }, ExternalFetches.WithLabelValues("dadjoke", "error")},
		{"queue drop", func() { ObserveQueueDrop("hats") }, QueueDropped.WithLabelValues("hats")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(tt.counter)
			tt.observe()
			if got := testutil.ToFloat64(tt.counter); got != before+1 {
				t.Errorf("counter = %v, want %v", got, before+1)
			}
		})
	}
}

func TestSetChatConnected(t *testing.T) {
	Init()
	SetChatConnected(true)
	if got := testutil.ToFloat64(ChatConnected); got != 1 {
		t.Errorf("gauge = %v, want 1", got)
	}
	SetChatConnected(false)
	if got := testutil.ToFloat64(ChatConnected); got != 0 {
		t.Errorf("gauge = %v, want 0", got)
	}
}

func TestTimeFuncRecordsObservation(t *testing.T) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_duration_seconds",
		Help:    "Test duration",
		Buckets: prometheus.DefBuckets,
	})

	executed := false
	d := TimeFunc(h, func() {
		time.Sleep(10 * time.Millisecond)
		executed = true
	})
	if !executed {
		t.Error("TimeFunc did not execute provided function")
	}
	if d < 10*time.Millisecond {
		t.Errorf("TimeFunc() = %v, want >= 10ms", d)
	}
	if got := testutil.CollectAndCount(h); got != 1 {
		t.Errorf("histogram series = %d, want 1", got)
	}
	// nil observer is allowed
	TimeFunc(nil, func() {})
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	if got := GetCorrelation(ctx); got != "" {
		t.Errorf("GetCorrelation(empty) = %q, want empty", got)
	}
	ctx = WithCorrelation(ctx, "msg-123")
	if got := GetCorrelation(ctx); got != "msg-123" {
		t.Errorf("GetCorrelation() = %q, want msg-123", got)
	}
	if LoggerWithCorr(ctx) == nil {
		t.Error("LoggerWithCorr() returned nil")
	}
}
