package announce

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/KainCH/omniasylum/db"
	"github.com/KainCH/omniasylum/reply"
	"github.com/KainCH/omniasylum/telemetry"
)

// Replier is the eligibility-gated chat send path.
type Replier interface {
	Send(ctx context.Context, tenantID, text string) error
}

// UserStore reads the tenant's configured invite message.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*db.User, error)
}

// InviteAnnouncer posts a tenant's Discord invite into their chat, at most once
// per throttle window. Suppression is intentional anti-spam behavior, not a
// failure: it is silent and not recorded.
type InviteAnnouncer struct {
	Users   UserStore
	Replier Replier
	Tracker *Tracker
	Window  time.Duration

	// now is stubbed in tests.
	now func() time.Time
}

func NewInviteAnnouncer(users UserStore, replier Replier, tracker *Tracker, window time.Duration) *InviteAnnouncer {
	return &InviteAnnouncer{Users: users, Replier: replier, Tracker: tracker, Window: window, now: time.Now}
}

// TrySend sends the tenant's invite announcement unless one went out within the
// throttle window. The attempt (success or failure) overwrites the tenant's
// tracker record.
func (a *InviteAnnouncer) TrySend(ctx context.Context, tenantID string) {
	if rec, ok := a.Tracker.GetLastNotification(tenantID); ok {
		if a.now().Sub(rec.SentAt) < a.Window {
			telemetry.AnnouncementsThrottled.Inc()
			return
		}
	}

	u, err := a.Users.GetUser(ctx, tenantID)
	if err != nil {
		slog.Warn("announcement skipped: cannot load tenant", slog.String("tenant", tenantID), slog.Any("err", err))
		return
	}
	if u == nil || u.DiscordInvite == "" {
		slog.Debug("announcement skipped: no invite configured", slog.String("tenant", tenantID))
		return
	}

	err = a.Replier.Send(ctx, tenantID, u.DiscordInvite)
	a.Tracker.RecordNotification(tenantID, err == nil)
	switch {
	case errors.Is(err, reply.ErrRefused):
		// The replier already logged the policy refusal.
	case err != nil:
		slog.Warn("announcement send failed", slog.String("tenant", tenantID), slog.Any("err", err))
	default:
		telemetry.AnnouncementsSent.Inc()
	}
}
