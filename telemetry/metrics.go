// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	MessagesReceived *prometheus.CounterVec
	ResponsesSent    *prometheus.CounterVec
	CooldownSkipped  *prometheus.CounterVec
	NoMatch          *prometheus.CounterVec
	DispatchErrors   *prometheus.CounterVec
	ExternalFetches  *prometheus.CounterVec
	QueueDropped     *prometheus.CounterVec

	// Histograms (seconds)
	ResponseDuration      prometheus.Observer
	ExternalFetchDuration prometheus.Observer

	// Gauges
	ChatConnected prometheus.Gauge // 1=connected,0=disconnected
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{Name: "hatbot_messages_received_total", Help: "Chat messages handed to a channel engine"}, []string{"channel"})
		ResponsesSent = promauto.NewCounterVec(prometheus.CounterOpts{Name: "hatbot_responses_sent_total", Help: "Responses sent, by response kind"}, []string{"channel", "kind"})
		CooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{Name: "hatbot_cooldown_skipped_total", Help: "Messages ignored because the user was cooling down"}, []string{"channel"})
		NoMatch = promauto.NewCounterVec(prometheus.CounterOpts{Name: "hatbot_no_match_total", Help: "Messages that matched no action"}, []string{"channel"})
		DispatchErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "hatbot_dispatch_errors_total", Help: "Errors while handling an inbound event, by error class"}, []string{"channel", "class"})
		ExternalFetches = promauto.NewCounterVec(prometheus.CounterOpts{Name: "hatbot_external_fetches_total", Help: "External line fetches by source and result"}, []string{"source", "result"})
		QueueDropped = promauto.NewCounterVec(prometheus.CounterOpts{Name: "hatbot_queue_dropped_total", Help: "Events dropped because a channel queue was full"}, []string{"channel"})
		ResponseDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "hatbot_response_duration_seconds", Help: "Time from match to sent response", Buckets: prometheus.DefBuckets})
		ExternalFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "hatbot_external_fetch_duration_seconds", Help: "External line fetch duration seconds", Buckets: prometheus.DefBuckets})
		ChatConnected = promauto.NewGauge(prometheus.GaugeOpts{Name: "hatbot_chat_connected", Help: "Chat connection state connected=1 disconnected=0"})
	})
}

// The Observe helpers are no-ops until Init has run, so packages can be used
// (and tested) without a registry.

// ObserveMessage counts a message handed to an engine.
func ObserveMessage(channel string) {
	if MessagesReceived != nil {
		MessagesReceived.WithLabelValues(channel).Inc()
	}
}

// ObserveResponse counts a sent response and records how long it took.
func ObserveResponse(channel, kind string, d time.Duration) {
	if ResponsesSent != nil {
		ResponsesSent.WithLabelValues(channel, kind).Inc()
	}
	if ResponseDuration != nil {
		ResponseDuration.Observe(d.Seconds())
	}
}

// ObserveCooldown counts a message skipped for cooldown.
func ObserveCooldown(channel string) {
	if CooldownSkipped != nil {
		CooldownSkipped.WithLabelValues(channel).Inc()
	}
}

// ObserveNoMatch counts a message that matched nothing.
func ObserveNoMatch(channel string) {
	if NoMatch != nil {
		NoMatch.WithLabelValues(channel).Inc()
	}
}

// ObserveDispatchError counts a failed event by error class.
func ObserveDispatchError(channel, class string) {
	if DispatchErrors != nil {
		DispatchErrors.WithLabelValues(channel, class).Inc()
	}
}

// ObserveExternalFetch records one external fetch.
func ObserveExternalFetch(source string, err error, d time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	if ExternalFetches != nil {
		ExternalFetches.WithLabelValues(source, result).Inc()
	}
	if ExternalFetchDuration != nil {
		ExternalFetchDuration.Observe(d.Seconds())
	}
}

// ObserveQueueDrop counts an event dropped by a full channel queue.
func ObserveQueueDrop(channel string) {
	if QueueDropped != nil {
		QueueDropped.WithLabelValues(channel).Inc()
	}
}

// SetChatConnected sets gauge to 1 if connected else 0.
func SetChatConnected(connected bool) {
	if ChatConnected == nil {
		return
	}
	if connected {
		ChatConnected.Set(1)
	} else {
		ChatConnected.Set(0)
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context carrying the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
