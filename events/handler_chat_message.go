package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/KainCH/omniasylum/commands"
)

// ChatMessageHandler processes channel.chat.message events: command execution
// through the processor and the Discord-invite keyword trigger. Both behaviors
// run unconditionally per message; a message can be a command and contain the
// keyword at the same time.
type ChatMessageHandler struct {
	Prefix    string
	Keyword   string
	Commands  CommandProcessor
	Replier   ChatReplier
	Announcer Announcer
}

func (h *ChatMessageHandler) SubscriptionType() string { return "channel.chat.message" }

func (h *ChatMessageHandler) Handle(ctx context.Context, env Envelope) error {
	var ev struct {
		BroadcasterUserID string `json:"broadcaster_user_id"`
		ChatterUserID     string `json:"chatter_user_id"`
		ChatterUserName   string `json:"chatter_user_name"`
		Message           struct {
			Text string `json:"text"`
		} `json:"message"`
		Badges []struct {
			SetID string `json:"set_id"`
		} `json:"badges"`
	}
	if err := json.Unmarshal(env.Event, &ev); err != nil {
		return fmt.Errorf("decode chat message event: %w", err)
	}
	if ev.BroadcasterUserID == "" {
		return fmt.Errorf("chat message without broadcaster id")
	}

	isBroadcaster := ev.ChatterUserID != "" && ev.ChatterUserID == ev.BroadcasterUserID
	isModerator := isBroadcaster
	isSubscriber := false
	for _, b := range ev.Badges {
		switch b.SetID {
		case "moderator", "broadcaster":
			isModerator = true
		case "subscriber", "founder":
			isSubscriber = true
		}
	}

	text := ev.Message.Text
	if strings.HasPrefix(strings.TrimSpace(text), h.Prefix) {
		c := commands.Context{
			TenantID:      ev.BroadcasterUserID,
			UserID:        ev.ChatterUserID,
			UserName:      displayOr(ev.ChatterUserName, "Someone"),
			Text:          text,
			IsBroadcaster: isBroadcaster,
			IsModerator:   isModerator,
			IsSubscriber:  isSubscriber,
		}
		h.Commands.Handle(ctx, c, func(replyText string) {
			// The replier logs its own refusals and failures.
			_ = h.Replier.Send(ctx, ev.BroadcasterUserID, replyText)
		})
	}

	if h.Keyword != "" && strings.Contains(strings.ToLower(text), strings.ToLower(h.Keyword)) {
		h.Announcer.TrySend(ctx, ev.BroadcasterUserID)
	}
	return nil
}
