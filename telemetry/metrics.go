// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counters
	EventsDispatched       = promauto.NewCounter(prometheus.CounterOpts{Name: "omni_events_dispatched_total", Help: "Webhook events dispatched to a handler"})
	EventsDropped          = promauto.NewCounter(prometheus.CounterOpts{Name: "omni_events_dropped_total", Help: "Webhook events with no registered handler"})
	HandlerFailures        = promauto.NewCounter(prometheus.CounterOpts{Name: "omni_handler_failures_total", Help: "Event handler errors and recovered panics"})
	ChatSends              = promauto.NewCounter(prometheus.CounterOpts{Name: "omni_chat_sends_total", Help: "Chat messages sent via the shared bot"})
	SendsRefused           = promauto.NewCounter(prometheus.CounterOpts{Name: "omni_sends_refused_total", Help: "Chat sends refused by eligibility policy"})
	AnnouncementsSent      = promauto.NewCounter(prometheus.CounterOpts{Name: "omni_announcements_sent_total", Help: "Discord-invite announcements sent"})
	AnnouncementsThrottled = promauto.NewCounter(prometheus.CounterOpts{Name: "omni_announcements_throttled_total", Help: "Announcements suppressed by the throttle window"})
	BotConnects            = promauto.NewCounter(prometheus.CounterOpts{Name: "omni_bot_connects_total", Help: "Shared bot connection attempts started"})
	EligibilityLookups     = promauto.NewCounter(prometheus.CounterOpts{Name: "omni_eligibility_lookups_total", Help: "Eligibility resolver calls (cache misses)"})

	// Gauges
	AnnounceLoopsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "omni_announce_loops", Help: "Currently running announcement loops"})
)

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
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
