package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/KainCH/omniasylum/announce"
)

// StreamOnlineHandler processes stream.online: records the stream start on the
// tenant's counters, joins the tenant's chat channel, starts the announcement
// loop, notifies the overlay, and posts a best-effort Discord go-live message
// with stream metadata (falling back to channel metadata while the stream
// object isn't available yet).
type StreamOnlineHandler struct {
	Users    UserStore
	Counters CounterStore
	Overlay  OverlayNotifier
	Discord  DiscordNotifier
	Helix    Helix
	Channels ChannelManager
	Loops    LoopScheduler
	Tracker  *announce.Tracker
}

func (h *StreamOnlineHandler) SubscriptionType() string { return "stream.online" }

func (h *StreamOnlineHandler) Handle(ctx context.Context, env Envelope) error {
	var ev struct {
		BroadcasterUserID string    `json:"broadcaster_user_id"`
		StartedAt         time.Time `json:"started_at"`
	}
	if err := json.Unmarshal(env.Event, &ev); err != nil {
		return fmt.Errorf("decode stream online event: %w", err)
	}
	if ev.BroadcasterUserID == "" {
		return fmt.Errorf("stream online event without broadcaster id")
	}
	startedAt := ev.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	if err := h.Counters.SetStreamLive(ctx, ev.BroadcasterUserID, true, startedAt); err != nil {
		slog.Warn("stream start persist failed", slog.String("tenant", ev.BroadcasterUserID), slog.Any("err", err))
	}

	title, category, viewers := h.streamMetadata(ctx, ev.BroadcasterUserID)
	h.Overlay.Alert(ev.BroadcasterUserID, "stream_online", map[string]any{
		"title":    title,
		"category": category,
		"viewers":  viewers,
	})

	u, err := h.Users.GetUser(ctx, ev.BroadcasterUserID)
	if err != nil || u == nil {
		slog.Warn("stream online: cannot load tenant", slog.String("tenant", ev.BroadcasterUserID), slog.Any("err", err))
		return nil
	}
	if h.Channels != nil {
		if err := h.Channels.JoinChannel(ctx, u.ID); err != nil {
			slog.Warn("channel join failed", slog.String("tenant", u.ID), slog.Any("err", err))
		}
	}
	if u.AnnounceEnabled && h.Loops != nil {
		// The loop outlives this request; detach from the webhook context.
		h.Loops.Start(context.WithoutCancel(ctx), u.ID)
	}
	if u.DiscordNotify && h.Discord != nil && u.DiscordChannelID != "" {
		tenantID, channelID, login := u.ID, u.DiscordChannelID, u.Login
		bg := context.WithoutCancel(ctx)
		go func() {
			err := h.Discord.NotifyStreamLive(bg, channelID, login, title, category)
			h.Tracker.RecordNotification(tenantID, err == nil)
			if err != nil {
				slog.Warn("stream live discord notify failed", slog.String("tenant", tenantID), slog.Any("err", err))
			}
		}()
	}
	return nil
}

// streamMetadata fetches live stream metadata, falling back to channel metadata
// when the stream object isn't published yet. All failures degrade to empty
// values; the event is handled regardless.
func (h *StreamOnlineHandler) streamMetadata(ctx context.Context, tenantID string) (title, category string, viewers int) {
	s, err := h.Helix.GetStream(ctx, tenantID)
	if err == nil && s != nil {
		return s.Title, s.GameName, s.ViewerCount
	}
	if err != nil {
		slog.Debug("stream metadata fetch failed", slog.String("tenant", tenantID), slog.Any("err", err))
	}
	ci, err := h.Helix.GetChannelInfo(ctx, tenantID)
	if err != nil {
		slog.Debug("channel metadata fetch failed", slog.String("tenant", tenantID), slog.Any("err", err))
		return "", "", 0
	}
	return ci.Title, ci.GameName, 0
}

// StreamOfflineHandler processes stream.offline: clears the live flag, stops
// the tenant's announcement loop, and departs the chat channel.
type StreamOfflineHandler struct {
	Counters CounterStore
	Overlay  OverlayNotifier
	Channels ChannelManager
	Loops    LoopScheduler
}

func (h *StreamOfflineHandler) SubscriptionType() string { return "stream.offline" }

func (h *StreamOfflineHandler) Handle(ctx context.Context, env Envelope) error {
	var ev struct {
		BroadcasterUserID string `json:"broadcaster_user_id"`
	}
	if err := json.Unmarshal(env.Event, &ev); err != nil {
		return fmt.Errorf("decode stream offline event: %w", err)
	}
	if ev.BroadcasterUserID == "" {
		return fmt.Errorf("stream offline event without broadcaster id")
	}
	if err := h.Counters.SetStreamLive(ctx, ev.BroadcasterUserID, false, time.Time{}); err != nil {
		slog.Warn("stream stop persist failed", slog.String("tenant", ev.BroadcasterUserID), slog.Any("err", err))
	}
	if h.Loops != nil {
		h.Loops.Stop(ev.BroadcasterUserID)
	}
	if h.Channels != nil {
		h.Channels.LeaveChannel(ev.BroadcasterUserID)
	}
	h.Overlay.Alert(ev.BroadcasterUserID, "stream_offline", nil)
	return nil
}
