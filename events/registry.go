package events

import (
	"context"
	"log/slog"
	"strings"

	"github.com/KainCH/omniasylum/telemetry"
)

// Handler processes one subscription type. Handle must tolerate malformed or
// partial event bodies; returned errors are logged by the registry, never
// propagated.
type Handler interface {
	SubscriptionType() string
	Handle(ctx context.Context, env Envelope) error
}

// Registry maps subscription-type strings (case-insensitive) to handlers.
// Register at startup, then Dispatch per inbound webhook.
type Registry struct {
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler keyed by its declared subscription type. Later
// registrations for the same type replace earlier ones.
func (r *Registry) Register(h Handler) {
	r.handlers[strings.ToLower(h.SubscriptionType())] = h
}

// Dispatch routes an envelope to its handler. Unknown subscription types are
// dropped without error; the provider's schema grows faster than we subscribe.
// Handler errors and panics are contained here so one tenant's malformed event
// never affects others sharing the dispatch path.
func (r *Registry) Dispatch(ctx context.Context, env Envelope) {
	h, ok := r.handlers[strings.ToLower(env.SubscriptionType)]
	if !ok {
		telemetry.EventsDropped.Inc()
		slog.Debug("no handler for subscription type", slog.String("type", env.SubscriptionType))
		return
	}
	telemetry.EventsDispatched.Inc()

	defer func() {
		if rec := recover(); rec != nil {
			telemetry.HandlerFailures.Inc()
			slog.Error("event handler panicked",
				slog.String("type", env.SubscriptionType),
				slog.String("tenant", env.TenantID()),
				slog.Any("panic", rec))
		}
	}()

	if err := h.Handle(ctx, env); err != nil {
		telemetry.HandlerFailures.Inc()
		telemetry.LoggerWithCorr(ctx).Error("event handler failed",
			slog.String("type", env.SubscriptionType),
			slog.String("tenant", env.TenantID()),
			slog.Any("err", err))
	}
}
