package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// ChatNotificationHandler processes channel.chat.notification, the generic
// notice envelope carrying resubs, gifts, raids and similar events when they
// arrive through chat. It switches on the embedded notice type; unknown notice
// types are expected as the provider's schema evolves and are ignored.
type ChatNotificationHandler struct {
	Overlay OverlayNotifier
}

func (h *ChatNotificationHandler) SubscriptionType() string { return "channel.chat.notification" }

func (h *ChatNotificationHandler) Handle(ctx context.Context, env Envelope) error {
	var ev struct {
		BroadcasterUserID string `json:"broadcaster_user_id"`
		ChatterUserName   string `json:"chatter_user_name"`
		ChatterIsAnon     bool   `json:"chatter_is_anonymous"`
		NoticeType        string `json:"notice_type"`
		Sub               *struct {
			SubTier string `json:"sub_tier"`
			IsPrime bool   `json:"is_prime"`
		} `json:"sub"`
		Resub *struct {
			SubTier          string `json:"sub_tier"`
			IsPrime          bool   `json:"is_prime"`
			CumulativeMonths int    `json:"cumulative_months"`
		} `json:"resub"`
		SubGift *struct {
			SubTier           string `json:"sub_tier"`
			RecipientUserName string `json:"recipient_user_name"`
		} `json:"sub_gift"`
		CommunitySubGift *struct {
			SubTier string `json:"sub_tier"`
			Total   int    `json:"total"`
		} `json:"community_sub_gift"`
		Raid *struct {
			UserName    string `json:"user_name"`
			ViewerCount int    `json:"viewer_count"`
		} `json:"raid"`
	}
	if err := json.Unmarshal(env.Event, &ev); err != nil {
		return fmt.Errorf("decode chat notification event: %w", err)
	}
	if ev.BroadcasterUserID == "" {
		return fmt.Errorf("chat notification without broadcaster id")
	}

	user := displayOr(ev.ChatterUserName, "Someone")
	if ev.ChatterIsAnon {
		user = "Anonymous"
	}

	switch ev.NoticeType {
	case "sub":
		tier := ""
		if ev.Sub != nil {
			tier = ev.Sub.SubTier
			if ev.Sub.IsPrime {
				tier = "Prime"
			}
		}
		h.Overlay.Alert(ev.BroadcasterUserID, "subscribe", map[string]any{
			"user": user,
			"tier": tierLabel(tier),
		})
	case "resub":
		tier := ""
		months := 0
		if ev.Resub != nil {
			tier = ev.Resub.SubTier
			if ev.Resub.IsPrime {
				tier = "Prime"
			}
			months = ev.Resub.CumulativeMonths
		}
		h.Overlay.Alert(ev.BroadcasterUserID, "resub", map[string]any{
			"user":   user,
			"tier":   tierLabel(tier),
			"months": months,
		})
	case "sub_gift":
		tier, recipient := "", ""
		if ev.SubGift != nil {
			tier = ev.SubGift.SubTier
			recipient = ev.SubGift.RecipientUserName
		}
		h.Overlay.Alert(ev.BroadcasterUserID, "gift", map[string]any{
			"user":      user,
			"recipient": displayOr(recipient, "Someone"),
			"tier":      tierLabel(tier),
			"total":     1,
		})
	case "community_sub_gift":
		tier, total := "", 0
		if ev.CommunitySubGift != nil {
			tier = ev.CommunitySubGift.SubTier
			total = ev.CommunitySubGift.Total
		}
		h.Overlay.Alert(ev.BroadcasterUserID, "gift", map[string]any{
			"user":  user,
			"tier":  tierLabel(tier),
			"total": total,
		})
	case "raid":
		from, viewers := "", 0
		if ev.Raid != nil {
			from = ev.Raid.UserName
			viewers = ev.Raid.ViewerCount
		}
		h.Overlay.Alert(ev.BroadcasterUserID, "raid", map[string]any{
			"from":    displayOr(from, "Someone"),
			"viewers": viewers,
		})
	default:
		slog.Debug("ignoring chat notice", slog.String("tenant", ev.BroadcasterUserID), slog.String("notice_type", ev.NoticeType))
	}
	return nil
}
