// Package reply implements the eligibility-gated chat send path shared by
// command replies and announcements. A cached per-tenant decision keeps the
// resolver off the hot path; a tenant with no approved bot path gets no message,
// never a send via an arbitrary token.
package reply

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/KainCH/omniasylum/db"
	"github.com/KainCH/omniasylum/monitor"
	"github.com/KainCH/omniasylum/telemetry"
)

// ErrRefused reports that policy forbids sending through the shared bot for
// this tenant. Not retryable until the cached decision changes; the refusal is
// already logged when it is returned.
var ErrRefused = errors.New("chat send refused by policy")

// ChatSender posts a message on the tenant's bound channel (fire and forget).
type ChatSender interface {
	Send(tenantID, message string)
}

// UserStore reads tenant credentials for eligibility resolution.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*db.User, error)
}

// Sender decides, per tenant, whether an outbound chat reply may go through the
// shared bot identity, and sends it when allowed.
type Sender struct {
	Cache    *monitor.Registry
	Resolver monitor.Resolver
	Users    UserStore
	Bot      ChatSender
}

func NewSender(cache *monitor.Registry, resolver monitor.Resolver, users UserStore, bot ChatSender) *Sender {
	return &Sender{Cache: cache, Resolver: resolver, Users: users, Bot: bot}
}

// Send delivers text to the tenant's channel if policy allows. The flow is
// cache-check → resolve-on-miss → cache-write → send. A refusal is silent in
// chat but returns ErrRefused so callers tracking outcomes record the truth.
func (s *Sender) Send(ctx context.Context, tenantID, text string) error {
	if state, ok := s.Cache.TryGetState(tenantID); ok {
		if state.Usable() {
			s.Bot.Send(tenantID, text)
			return nil
		}
		return s.refuse(tenantID, "cached decision forbids bot replies")
	}

	u, err := s.Users.GetUser(ctx, tenantID)
	if err != nil {
		slog.Warn("reply skipped: cannot load tenant", slog.String("tenant", tenantID), slog.Any("err", err))
		return err
	}
	if u == nil || u.AccessToken == "" {
		return s.refuse(tenantID, "no usable token")
	}

	telemetry.EligibilityLookups.Inc()
	state, err := s.Resolver.Resolve(ctx, tenantID, u.AccessToken)
	if err != nil {
		// Transient resolver failure: skip this reply, leave the cache empty so
		// the next attempt re-resolves.
		slog.Warn("reply skipped: eligibility resolution failed", slog.String("tenant", tenantID), slog.Any("err", err))
		return err
	}
	state.CheckedAt = time.Now()
	s.Cache.SetState(tenantID, state)

	if !state.Usable() {
		return s.refuse(tenantID, "bot does not moderate this channel")
	}
	s.Bot.Send(tenantID, text)
	return nil
}

func (s *Sender) refuse(tenantID, reason string) error {
	telemetry.SendsRefused.Inc()
	slog.Warn("chat reply refused", slog.String("tenant", tenantID), slog.String("reason", reason))
	return ErrRefused
}
