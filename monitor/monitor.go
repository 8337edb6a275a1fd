// Package monitor holds the process-local eligibility cache. It exists to keep
// expensive "who moderates this channel" lookups off the hot chat-message path:
// each tenant's decision is resolved once and reused for the process lifetime.
// Instances of the service do not share this cache; a miss simply re-derives.
package monitor

import (
	"context"
	"sync"
	"time"
)

// State is a cached eligibility decision for one tenant.
type State struct {
	UseBot    bool
	BotUserID string
	CheckedAt time.Time
}

// Usable reports whether the cached decision permits sending via the shared bot.
func (s State) Usable() bool { return s.UseBot && s.BotUserID != "" }

// Registry is a concurrent tenant-id → State cache with no eviction.
type Registry struct {
	states sync.Map // tenantID → State
}

func NewRegistry() *Registry { return &Registry{} }

// TryGetState returns the cached state for a tenant, if any.
func (r *Registry) TryGetState(tenantID string) (State, bool) {
	v, ok := r.states.Load(tenantID)
	if !ok {
		return State{}, false
	}
	return v.(State), true
}

// SetState records the latest decision for a tenant. Concurrent writers for the
// same tenant converge on the same resolved decision; last write wins.
func (r *Registry) SetState(tenantID string, s State) {
	r.states.Store(tenantID, s)
}

// Resolver computes a tenant's eligibility decision from their access token.
type Resolver interface {
	Resolve(ctx context.Context, tenantID, accessToken string) (State, error)
}
