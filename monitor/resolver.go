package monitor

import (
	"context"
	"time"

	"github.com/KainCH/omniasylum/twitchapi"
)

// HelixResolver resolves eligibility by asking Helix whether the shared bot
// moderates the tenant's channel.
type HelixResolver struct {
	Helix *twitchapi.HelixClient
}

func (r *HelixResolver) Resolve(ctx context.Context, tenantID, accessToken string) (State, error) {
	el, err := r.Helix.ResolveBotEligibility(ctx, tenantID, accessToken)
	if err != nil {
		return State{}, err
	}
	return State{UseBot: el.UseBot, BotUserID: el.BotUserID, CheckedAt: time.Now()}, nil
}
