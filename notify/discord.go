// Package notify posts best-effort notifications to tenants' Discord channels.
// Failures are logged and swallowed; chat and counters never depend on Discord.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// Discord sends messages through a single bot session shared by all tenants.
// Only REST calls are used, so the gateway websocket is never opened.
type Discord struct {
	session *discordgo.Session
}

// NewDiscord creates the notifier. Returns (nil, nil) when no token is
// configured: Discord notifications are an optional feature.
func NewDiscord(token string) (*Discord, error) {
	if token == "" {
		slog.Info("discord notifications disabled: DISCORD_BOT_TOKEN not set")
		return nil, nil
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return &Discord{session: s}, nil
}

func (d *Discord) send(ctx context.Context, channelID, content string) error {
	if d == nil || d.session == nil {
		return errors.New("discord notifier not configured")
	}
	if channelID == "" {
		return errors.New("tenant has no discord channel configured")
	}
	_, err := d.session.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	return err
}

// NotifyStreamLive posts a go-live message to the tenant's Discord channel.
func (d *Discord) NotifyStreamLive(ctx context.Context, channelID, login, title, category string) error {
	msg := fmt.Sprintf("%s is live on https://twitch.tv/%s", login, login)
	if title != "" {
		msg += ": " + title
	}
	if category != "" {
		msg += " (" + category + ")"
	}
	return d.send(ctx, channelID, msg)
}

// NotifyRedemption posts a channel-point redemption notice.
func (d *Discord) NotifyRedemption(ctx context.Context, channelID, redeemer, rewardTitle string) error {
	return d.send(ctx, channelID, fmt.Sprintf("%s redeemed %s", redeemer, rewardTitle))
}
