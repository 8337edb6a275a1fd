package events

import (
	"context"
	"encoding/json"
	"fmt"
)

// FollowHandler forwards channel.follow events to the overlay.
type FollowHandler struct {
	Overlay OverlayNotifier
}

func (h *FollowHandler) SubscriptionType() string { return "channel.follow" }

func (h *FollowHandler) Handle(ctx context.Context, env Envelope) error {
	var ev struct {
		BroadcasterUserID string `json:"broadcaster_user_id"`
		UserName          string `json:"user_name"`
	}
	if err := json.Unmarshal(env.Event, &ev); err != nil {
		return fmt.Errorf("decode follow event: %w", err)
	}
	if ev.BroadcasterUserID == "" {
		return fmt.Errorf("follow event without broadcaster id")
	}
	h.Overlay.Alert(ev.BroadcasterUserID, "follow", map[string]any{
		"user": displayOr(ev.UserName, "Someone"),
	})
	return nil
}

// SubscribeHandler forwards channel.subscribe events. Gifted subs are skipped
// here; the gift event carries them with the gifter's totals.
type SubscribeHandler struct {
	Overlay OverlayNotifier
}

func (h *SubscribeHandler) SubscriptionType() string { return "channel.subscribe" }

func (h *SubscribeHandler) Handle(ctx context.Context, env Envelope) error {
	var ev struct {
		BroadcasterUserID string `json:"broadcaster_user_id"`
		UserName          string `json:"user_name"`
		Tier              string `json:"tier"`
		IsGift            bool   `json:"is_gift"`
	}
	if err := json.Unmarshal(env.Event, &ev); err != nil {
		return fmt.Errorf("decode subscribe event: %w", err)
	}
	if ev.BroadcasterUserID == "" {
		return fmt.Errorf("subscribe event without broadcaster id")
	}
	if ev.IsGift {
		return nil
	}
	h.Overlay.Alert(ev.BroadcasterUserID, "subscribe", map[string]any{
		"user": displayOr(ev.UserName, "Someone"),
		"tier": tierLabel(ev.Tier),
	})
	return nil
}

// GiftHandler forwards channel.subscription.gift events.
type GiftHandler struct {
	Overlay OverlayNotifier
}

func (h *GiftHandler) SubscriptionType() string { return "channel.subscription.gift" }

func (h *GiftHandler) Handle(ctx context.Context, env Envelope) error {
	var ev struct {
		BroadcasterUserID string `json:"broadcaster_user_id"`
		UserName          string `json:"user_name"`
		Total             int    `json:"total"`
		Tier              string `json:"tier"`
		IsAnonymous       bool   `json:"is_anonymous"`
	}
	if err := json.Unmarshal(env.Event, &ev); err != nil {
		return fmt.Errorf("decode gift event: %w", err)
	}
	if ev.BroadcasterUserID == "" {
		return fmt.Errorf("gift event without broadcaster id")
	}
	gifter := displayOr(ev.UserName, "Someone")
	if ev.IsAnonymous {
		gifter = "Anonymous"
	}
	h.Overlay.Alert(ev.BroadcasterUserID, "gift", map[string]any{
		"user":  gifter,
		"total": ev.Total,
		"tier":  tierLabel(ev.Tier),
	})
	return nil
}

// ResubHandler forwards channel.subscription.message (resub) events.
type ResubHandler struct {
	Overlay OverlayNotifier
}

func (h *ResubHandler) SubscriptionType() string { return "channel.subscription.message" }

func (h *ResubHandler) Handle(ctx context.Context, env Envelope) error {
	var ev struct {
		BroadcasterUserID string `json:"broadcaster_user_id"`
		UserName          string `json:"user_name"`
		Tier              string `json:"tier"`
		CumulativeMonths  int    `json:"cumulative_months"`
		Message           struct {
			Text string `json:"text"`
		} `json:"message"`
	}
	if err := json.Unmarshal(env.Event, &ev); err != nil {
		return fmt.Errorf("decode resub event: %w", err)
	}
	if ev.BroadcasterUserID == "" {
		return fmt.Errorf("resub event without broadcaster id")
	}
	h.Overlay.Alert(ev.BroadcasterUserID, "resub", map[string]any{
		"user":    displayOr(ev.UserName, "Someone"),
		"tier":    tierLabel(ev.Tier),
		"months":  ev.CumulativeMonths,
		"message": ev.Message.Text,
	})
	return nil
}

// CheerHandler forwards channel.cheer events.
type CheerHandler struct {
	Overlay OverlayNotifier
}

func (h *CheerHandler) SubscriptionType() string { return "channel.cheer" }

func (h *CheerHandler) Handle(ctx context.Context, env Envelope) error {
	var ev struct {
		BroadcasterUserID string `json:"broadcaster_user_id"`
		UserName          string `json:"user_name"`
		Bits              int    `json:"bits"`
		IsAnonymous       bool   `json:"is_anonymous"`
	}
	if err := json.Unmarshal(env.Event, &ev); err != nil {
		return fmt.Errorf("decode cheer event: %w", err)
	}
	if ev.BroadcasterUserID == "" {
		return fmt.Errorf("cheer event without broadcaster id")
	}
	user := displayOr(ev.UserName, "Someone")
	if ev.IsAnonymous {
		user = "Anonymous"
	}
	h.Overlay.Alert(ev.BroadcasterUserID, "cheer", map[string]any{
		"user": user,
		"bits": ev.Bits,
	})
	return nil
}

// RaidHandler forwards channel.raid events to the raided tenant.
type RaidHandler struct {
	Overlay OverlayNotifier
}

func (h *RaidHandler) SubscriptionType() string { return "channel.raid" }

func (h *RaidHandler) Handle(ctx context.Context, env Envelope) error {
	var ev struct {
		ToBroadcasterUserID     string `json:"to_broadcaster_user_id"`
		FromBroadcasterUserName string `json:"from_broadcaster_user_name"`
		Viewers                 int    `json:"viewers"`
	}
	if err := json.Unmarshal(env.Event, &ev); err != nil {
		return fmt.Errorf("decode raid event: %w", err)
	}
	if ev.ToBroadcasterUserID == "" {
		return fmt.Errorf("raid event without target broadcaster id")
	}
	h.Overlay.Alert(ev.ToBroadcasterUserID, "raid", map[string]any{
		"from":    displayOr(ev.FromBroadcasterUserName, "Someone"),
		"viewers": ev.Viewers,
	})
	return nil
}

// ChannelUpdateHandler forwards channel.update (title/category changes).
type ChannelUpdateHandler struct {
	Overlay OverlayNotifier
}

func (h *ChannelUpdateHandler) SubscriptionType() string { return "channel.update" }

func (h *ChannelUpdateHandler) Handle(ctx context.Context, env Envelope) error {
	var ev struct {
		BroadcasterUserID string `json:"broadcaster_user_id"`
		Title             string `json:"title"`
		CategoryName      string `json:"category_name"`
	}
	if err := json.Unmarshal(env.Event, &ev); err != nil {
		return fmt.Errorf("decode channel update event: %w", err)
	}
	if ev.BroadcasterUserID == "" {
		return fmt.Errorf("channel update event without broadcaster id")
	}
	h.Overlay.Alert(ev.BroadcasterUserID, "channel_update", map[string]any{
		"title":    ev.Title,
		"category": ev.CategoryName,
	})
	return nil
}
