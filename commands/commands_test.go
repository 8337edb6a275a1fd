package commands

import (
	"context"
	"testing"
)

type memCounters struct {
	values map[string]int64
}

func newMemCounters() *memCounters { return &memCounters{values: make(map[string]int64)} }

func (m *memCounters) key(userID, name string) string { return userID + "/" + name }

func (m *memCounters) AdjustCounter(ctx context.Context, userID, name string, delta int64) (int64, error) {
	v := m.values[m.key(userID, name)] + delta
	if v < 0 {
		v = 0
	}
	m.values[m.key(userID, name)] = v
	return v, nil
}

func (m *memCounters) GetCounter(ctx context.Context, userID, name string) (int64, bool, error) {
	v, ok := m.values[m.key(userID, name)]
	return v, ok, nil
}

func (m *memCounters) ResetCounter(ctx context.Context, userID, name string) error {
	m.values[m.key(userID, name)] = 0
	return nil
}

type alertRecorder struct {
	alerts []struct {
		tenant, kind string
		data         map[string]any
	}
}

func (a *alertRecorder) Alert(tenantID, kind string, data map[string]any) {
	a.alerts = append(a.alerts, struct {
		tenant, kind string
		data         map[string]any
	}{tenantID, kind, data})
}

func run(t *testing.T, p *Processor, c Context) []string {
	t.Helper()
	var replies []string
	p.Handle(context.Background(), c, func(text string) { replies = append(replies, text) })
	return replies
}

func TestHandleCommands(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		mod, bc     bool
		setup       map[string]int64
		wantReplies []string
		wantValue   int64
		counter     string
	}{
		{
			name: "moderator increments", text: "!deaths+", mod: true,
			wantReplies: []string{"deaths is now 1"}, counter: "deaths", wantValue: 1,
		},
		{
			name: "moderator decrements", text: "!deaths-", mod: true,
			setup:       map[string]int64{"t1/deaths": 3},
			wantReplies: []string{"deaths is now 2"}, counter: "deaths", wantValue: 2,
		},
		{
			name: "viewer cannot mutate", text: "!deaths+",
			wantReplies: nil, counter: "deaths", wantValue: 0,
		},
		{
			name: "broadcaster resets", text: "!reset deaths", bc: true, mod: true,
			setup:       map[string]int64{"t1/deaths": 9},
			wantReplies: []string{"deaths reset to 0"}, counter: "deaths", wantValue: 0,
		},
		{
			name: "moderator cannot reset", text: "!reset deaths", mod: true,
			setup:       map[string]int64{"t1/deaths": 9},
			wantReplies: nil, counter: "deaths", wantValue: 9,
		},
		{
			name: "anyone reports", text: "!deaths",
			setup:       map[string]int64{"t1/deaths": 4},
			wantReplies: []string{"deaths: 4"}, counter: "deaths", wantValue: 4,
		},
		{
			name: "unknown counter report is silent", text: "!nosuch",
			wantReplies: nil, counter: "nosuch", wantValue: 0,
		},
		{
			name: "commands are case-insensitive", text: "!DEATHS+", mod: true,
			wantReplies: []string{"deaths is now 1"}, counter: "deaths", wantValue: 1,
		},
		{
			name: "non-command text ignored", text: "hello chat",
			wantReplies: nil, counter: "deaths", wantValue: 0,
		},
		{
			name: "bare prefix ignored", text: "!",
			wantReplies: nil, counter: "deaths", wantValue: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counters := newMemCounters()
			for k, v := range tt.setup {
				counters.values[k] = v
			}
			p := NewProcessor("!", counters, &alertRecorder{})

			replies := run(t, p, Context{
				TenantID:      "t1",
				UserID:        "u1",
				Text:          tt.text,
				IsBroadcaster: tt.bc,
				IsModerator:   tt.mod,
			})

			if len(replies) != len(tt.wantReplies) {
				t.Fatalf("replies = %v, want %v", replies, tt.wantReplies)
			}
			for i := range replies {
				if replies[i] != tt.wantReplies[i] {
					t.Errorf("reply[%d] = %q, want %q", i, replies[i], tt.wantReplies[i])
				}
			}
			if got := counters.values["t1/"+tt.counter]; got != tt.wantValue {
				t.Errorf("counter %s = %d, want %d", tt.counter, got, tt.wantValue)
			}
		})
	}
}

func TestMutationNotifiesOverlay(t *testing.T) {
	counters := newMemCounters()
	overlay := &alertRecorder{}
	p := NewProcessor("!", counters, overlay)

	run(t, p, Context{TenantID: "t1", Text: "!deaths+", IsModerator: true})
	run(t, p, Context{TenantID: "t1", Text: "!reset deaths", IsBroadcaster: true})
	run(t, p, Context{TenantID: "t1", Text: "!deaths"})

	if len(overlay.alerts) != 2 {
		t.Fatalf("overlay alerts = %d, want 2 (mutations only)", len(overlay.alerts))
	}
	for _, a := range overlay.alerts {
		if a.kind != "counter" || a.tenant != "t1" {
			t.Errorf("alert = %+v", a)
		}
	}
}

func TestCustomPrefix(t *testing.T) {
	counters := newMemCounters()
	p := NewProcessor("~", counters, nil)

	if replies := run(t, p, Context{TenantID: "t1", Text: "~deaths+", IsModerator: true}); len(replies) != 1 {
		t.Errorf("custom prefix command not handled: %v", replies)
	}
	if replies := run(t, p, Context{TenantID: "t1", Text: "!deaths+", IsModerator: true}); len(replies) != 0 {
		t.Errorf("default prefix handled despite custom prefix: %v", replies)
	}
}
