package announce

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/KainCH/omniasylum/telemetry"
)

// Sender is what the scheduler drives on each tick.
type Sender interface {
	TrySend(ctx context.Context, tenantID string)
}

type loopHandle struct {
	cancel context.CancelFunc
}

// Scheduler runs one cancellable announcement loop per tenant. Each loop sends
// immediately (subject to the announcer's throttle), then repeatedly waits a
// uniformly-random duration in [Min, Max] and sends again until stopped.
type Scheduler struct {
	Announcer Sender
	Min, Max  time.Duration

	mu    sync.Mutex
	loops map[string]*loopHandle
}

func NewScheduler(announcer Sender, min, max time.Duration) *Scheduler {
	return &Scheduler{
		Announcer: announcer,
		Min:       min,
		Max:       max,
		loops:     make(map[string]*loopHandle),
	}
}

// Start launches the tenant's loop. Idempotent: a second Start while a loop is
// tracked is a no-op.
func (s *Scheduler) Start(ctx context.Context, tenantID string) {
	s.mu.Lock()
	if _, running := s.loops[tenantID]; running {
		s.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	h := &loopHandle{cancel: cancel}
	s.loops[tenantID] = h
	s.mu.Unlock()
	telemetry.AnnounceLoopsGauge.Inc()
	slog.Info("announcement loop started", slog.String("tenant", tenantID))

	go s.run(loopCtx, tenantID, h)
}

// Stop cancels and forgets the tenant's loop. Safe to call when nothing is
// running; any in-flight wait unblocks immediately.
func (s *Scheduler) Stop(tenantID string) {
	s.mu.Lock()
	h, ok := s.loops[tenantID]
	if ok {
		delete(s.loops, tenantID)
	}
	s.mu.Unlock()
	if ok {
		h.cancel()
		telemetry.AnnounceLoopsGauge.Dec()
		slog.Info("announcement loop stopped", slog.String("tenant", tenantID))
	}
}

// stopIf is the loop's own cleanup. It only untracks the tenant when the entry
// still belongs to this loop, so a Stop-then-Start race cannot kill the new loop.
func (s *Scheduler) stopIf(tenantID string, h *loopHandle) {
	s.mu.Lock()
	owned := s.loops[tenantID] == h
	if owned {
		delete(s.loops, tenantID)
	}
	s.mu.Unlock()
	h.cancel()
	if owned {
		telemetry.AnnounceLoopsGauge.Dec()
		slog.Info("announcement loop stopped", slog.String("tenant", tenantID))
	}
}

// Running reports whether a loop is currently tracked for the tenant.
func (s *Scheduler) Running(tenantID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.loops[tenantID]
	return ok
}

func (s *Scheduler) run(ctx context.Context, tenantID string, h *loopHandle) {
	// A loop must never die leaving the tenant tracked but not running.
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("announcement loop panicked", slog.String("tenant", tenantID), slog.Any("panic", rec))
		}
		s.stopIf(tenantID, h)
	}()

	s.Announcer.TrySend(ctx, tenantID)
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.nextInterval()):
		}
		if ctx.Err() != nil {
			return
		}
		s.Announcer.TrySend(ctx, tenantID)
	}
}

// nextInterval draws a uniformly-random wait in [Min, Max].
func (s *Scheduler) nextInterval() time.Duration {
	if s.Max <= s.Min {
		return s.Min
	}
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	return s.Min + time.Duration(rand.Int63n(int64(s.Max-s.Min)))
}
