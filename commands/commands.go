// Package commands implements the chat command processor: counter increment,
// decrement, reset, and stat reporting. Permission checks (moderator for
// mutation, broadcaster for reset) are enforced here, not by callers.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Context describes one command invocation: who sent it, where, and the text.
type Context struct {
	TenantID      string
	UserID        string
	UserName      string
	Text          string
	IsBroadcaster bool
	IsModerator   bool
	IsSubscriber  bool
}

// ReplyFunc delivers the command's chat reply. May silently drop the message
// when the tenant has no approved send path.
type ReplyFunc func(text string)

// CounterStore is the slice of the counter repository commands need.
type CounterStore interface {
	AdjustCounter(ctx context.Context, userID, name string, delta int64) (int64, error)
	GetCounter(ctx context.Context, userID, name string) (int64, bool, error)
	ResetCounter(ctx context.Context, userID, name string) error
}

// OverlayNotifier mirrors counter changes to the tenant's overlay.
type OverlayNotifier interface {
	Alert(tenantID, kind string, data map[string]any)
}

// Processor parses and executes prefixed chat commands:
//
//	<prefix><counter>+        increment (moderator)
//	<prefix><counter>-        decrement (moderator)
//	<prefix>reset <counter>   zero the counter (broadcaster)
//	<prefix><counter>         report current value (anyone)
type Processor struct {
	Prefix   string
	Counters CounterStore
	Overlay  OverlayNotifier
}

func NewProcessor(prefix string, counters CounterStore, overlay OverlayNotifier) *Processor {
	if prefix == "" {
		prefix = "!"
	}
	return &Processor{Prefix: prefix, Counters: counters, Overlay: overlay}
}

// Handle executes the command in c.Text, if it is one. Unknown commands and
// commands from users lacking permission produce no reply.
func (p *Processor) Handle(ctx context.Context, c Context, reply ReplyFunc) {
	body, ok := strings.CutPrefix(strings.TrimSpace(c.Text), p.Prefix)
	if !ok || body == "" {
		return
	}
	// Commands only consider the first line's first two words.
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return
	}
	word := strings.ToLower(fields[0])

	switch {
	case word == "reset" && len(fields) >= 2:
		p.reset(ctx, c, strings.ToLower(fields[1]), reply)
	case strings.HasSuffix(word, "+"):
		p.adjust(ctx, c, strings.TrimSuffix(word, "+"), 1, reply)
	case strings.HasSuffix(word, "-"):
		p.adjust(ctx, c, strings.TrimSuffix(word, "-"), -1, reply)
	default:
		p.report(ctx, c, word, reply)
	}
}

func (p *Processor) adjust(ctx context.Context, c Context, name string, delta int64, reply ReplyFunc) {
	if name == "" {
		return
	}
	if !c.IsModerator {
		slog.Debug("counter adjust denied", slog.String("tenant", c.TenantID), slog.String("user", c.UserID), slog.String("counter", name))
		return
	}
	v, err := p.Counters.AdjustCounter(ctx, c.TenantID, name, delta)
	if err != nil {
		slog.Warn("counter adjust failed", slog.String("tenant", c.TenantID), slog.String("counter", name), slog.Any("err", err))
		return
	}
	if p.Overlay != nil {
		p.Overlay.Alert(c.TenantID, "counter", map[string]any{"name": name, "value": v})
	}
	reply(fmt.Sprintf("%s is now %d", name, v))
}

func (p *Processor) reset(ctx context.Context, c Context, name string, reply ReplyFunc) {
	if !c.IsBroadcaster {
		slog.Debug("counter reset denied", slog.String("tenant", c.TenantID), slog.String("user", c.UserID), slog.String("counter", name))
		return
	}
	if err := p.Counters.ResetCounter(ctx, c.TenantID, name); err != nil {
		slog.Warn("counter reset failed", slog.String("tenant", c.TenantID), slog.String("counter", name), slog.Any("err", err))
		return
	}
	if p.Overlay != nil {
		p.Overlay.Alert(c.TenantID, "counter", map[string]any{"name": name, "value": int64(0)})
	}
	reply(fmt.Sprintf("%s reset to 0", name))
}

func (p *Processor) report(ctx context.Context, c Context, name string, reply ReplyFunc) {
	v, found, err := p.Counters.GetCounter(ctx, c.TenantID, name)
	if err != nil {
		slog.Warn("counter lookup failed", slog.String("tenant", c.TenantID), slog.String("counter", name), slog.Any("err", err))
		return
	}
	if !found {
		return
	}
	reply(fmt.Sprintf("%s: %d", name, v))
}
