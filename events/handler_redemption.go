package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Reward actions recognized by the redemption handler. Unrecognized action
// strings are logged and ignored.
const (
	actionIncrement = "increment"
	actionDecrement = "decrement"
	actionJumpscare = "jumpscare"
)

// RedemptionHandler processes channel-point redemptions for managed rewards.
// Unmanaged reward ids are expected steady-state and produce no side effects.
type RedemptionHandler struct {
	Rewards  RewardStore
	Counters CounterStore
	Users    UserStore
	Overlay  OverlayNotifier
	Discord  DiscordNotifier
}

func (h *RedemptionHandler) SubscriptionType() string {
	return "channel.channel_points_custom_reward_redemption.add"
}

func (h *RedemptionHandler) Handle(ctx context.Context, env Envelope) error {
	var ev struct {
		BroadcasterUserID string `json:"broadcaster_user_id"`
		UserName          string `json:"user_name"`
		Reward            struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"reward"`
	}
	if err := json.Unmarshal(env.Event, &ev); err != nil {
		return fmt.Errorf("decode redemption event: %w", err)
	}
	if ev.BroadcasterUserID == "" {
		return fmt.Errorf("redemption event without broadcaster id")
	}

	reward, err := h.Rewards.GetReward(ctx, ev.BroadcasterUserID, ev.Reward.ID)
	if err != nil {
		return fmt.Errorf("reward lookup: %w", err)
	}
	if reward == nil {
		slog.Debug("ignoring unmanaged reward", slog.String("tenant", ev.BroadcasterUserID), slog.String("reward", ev.Reward.ID))
		return nil
	}

	redeemer := displayOr(ev.UserName, "Someone")
	switch reward.Action {
	case actionIncrement, actionDecrement:
		delta := int64(1)
		if reward.Action == actionDecrement {
			delta = -1
		}
		v, err := h.Counters.AdjustCounter(ctx, ev.BroadcasterUserID, reward.CounterName, delta)
		if err != nil {
			return fmt.Errorf("adjust counter %q: %w", reward.CounterName, err)
		}
		h.Overlay.Alert(ev.BroadcasterUserID, "counter", map[string]any{
			"name":  reward.CounterName,
			"value": v,
		})
	case actionJumpscare:
		h.Overlay.Alert(ev.BroadcasterUserID, "jumpscare", map[string]any{
			"user": redeemer,
		})
	default:
		slog.Warn("unrecognized reward action", slog.String("tenant", ev.BroadcasterUserID),
			slog.String("reward", reward.RewardID), slog.String("action", reward.Action))
		return nil
	}

	if reward.NotifyDiscord && h.Discord != nil {
		tenantID := ev.BroadcasterUserID
		rewardTitle := ev.Reward.Title
		bg := context.WithoutCancel(ctx)
		go func() {
			u, err := h.Users.GetUser(bg, tenantID)
			if err != nil || u == nil || u.DiscordChannelID == "" {
				slog.Debug("redemption discord notify skipped", slog.String("tenant", tenantID), slog.Any("err", err))
				return
			}
			if err := h.Discord.NotifyRedemption(bg, u.DiscordChannelID, redeemer, rewardTitle); err != nil {
				slog.Warn("redemption discord notify failed", slog.String("tenant", tenantID), slog.Any("err", err))
			}
		}()
	}
	return nil
}
