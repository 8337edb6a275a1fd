package events

import (
	"context"
	"time"

	"github.com/KainCH/omniasylum/commands"
	"github.com/KainCH/omniasylum/db"
	"github.com/KainCH/omniasylum/twitchapi"
)

// UserStore reads tenant rows from the credential repository.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*db.User, error)
}

// CounterStore mutates a tenant's named counters and stream state.
type CounterStore interface {
	AdjustCounter(ctx context.Context, userID, name string, delta int64) (int64, error)
	SetStreamLive(ctx context.Context, userID string, live bool, startedAt time.Time) error
}

// RewardStore looks up managed channel-point rewards.
type RewardStore interface {
	GetReward(ctx context.Context, userID, rewardID string) (*db.Reward, error)
}

// OverlayNotifier pushes alerts and counter updates to a tenant's overlay.
// Fire and forget; implementations log their own failures.
type OverlayNotifier interface {
	Alert(tenantID, kind string, data map[string]any)
}

// DiscordNotifier posts best-effort notifications to a tenant's Discord channel.
type DiscordNotifier interface {
	NotifyStreamLive(ctx context.Context, channelID, login, title, category string) error
	NotifyRedemption(ctx context.Context, channelID, redeemer, rewardTitle string) error
}

// ChatReplier sends a chat message to a tenant's channel through the
// eligibility-gated shared-bot path.
type ChatReplier interface {
	Send(ctx context.Context, tenantID, text string) error
}

// Announcer performs the throttled Discord-invite chat announcement.
type Announcer interface {
	TrySend(ctx context.Context, tenantID string)
}

// ChannelManager binds the shared bot to tenant channels.
type ChannelManager interface {
	JoinChannel(ctx context.Context, tenantID string) error
	LeaveChannel(tenantID string)
}

// LoopScheduler controls per-tenant announcement loops.
type LoopScheduler interface {
	Start(ctx context.Context, tenantID string)
	Stop(tenantID string)
}

// CommandProcessor executes chat commands on behalf of the chat message handler.
type CommandProcessor interface {
	Handle(ctx context.Context, c commands.Context, reply commands.ReplyFunc)
}

// Helix is the slice of the Twitch API used by the stream handlers.
type Helix interface {
	GetStream(ctx context.Context, broadcasterID string) (*twitchapi.Stream, error)
	GetChannelInfo(ctx context.Context, broadcasterID string) (*twitchapi.ChannelInfo, error)
}
