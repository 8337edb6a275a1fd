package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/KainCH/omniasylum/announce"
	"github.com/KainCH/omniasylum/commands"
	"github.com/KainCH/omniasylum/db"
	"github.com/KainCH/omniasylum/twitchapi"
)

type overlayRecorder struct {
	mu     sync.Mutex
	alerts []struct {
		tenant, kind string
		data         map[string]any
	}
}

func (o *overlayRecorder) Alert(tenantID, kind string, data map[string]any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.alerts = append(o.alerts, struct {
		tenant, kind string
		data         map[string]any
	}{tenantID, kind, data})
}

func (o *overlayRecorder) last(t *testing.T) (string, string, map[string]any) {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.alerts) == 0 {
		t.Fatal("no overlay alerts recorded")
	}
	a := o.alerts[len(o.alerts)-1]
	return a.tenant, a.kind, a.data
}

func (o *overlayRecorder) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.alerts)
}

func env(t *testing.T, subType, body string) Envelope {
	t.Helper()
	return Envelope{SubscriptionType: subType, Event: json.RawMessage(body)}
}

func TestFollowHandlerDefaultsMissingName(t *testing.T) {
	overlay := &overlayRecorder{}
	h := &FollowHandler{Overlay: overlay}

	if err := h.Handle(context.Background(), env(t, "channel.follow", `{"broadcaster_user_id":"t1"}`)); err != nil {
		t.Fatal(err)
	}
	tenant, kind, data := overlay.last(t)
	if tenant != "t1" || kind != "follow" || data["user"] != "Someone" {
		t.Errorf("alert = %s %s %v", tenant, kind, data)
	}
}

func TestFollowHandlerRejectsMissingBroadcaster(t *testing.T) {
	h := &FollowHandler{Overlay: &overlayRecorder{}}
	if err := h.Handle(context.Background(), env(t, "channel.follow", `{"user_name":"x"}`)); err == nil {
		t.Fatal("expected error for event without broadcaster id")
	}
}

func TestSubscribeHandlerSkipsGifts(t *testing.T) {
	overlay := &overlayRecorder{}
	h := &SubscribeHandler{Overlay: overlay}

	if err := h.Handle(context.Background(), env(t, "channel.subscribe",
		`{"broadcaster_user_id":"t1","user_name":"bob","tier":"1000","is_gift":true}`)); err != nil {
		t.Fatal(err)
	}
	if overlay.count() != 0 {
		t.Error("gifted sub produced a subscribe alert")
	}

	if err := h.Handle(context.Background(), env(t, "channel.subscribe",
		`{"broadcaster_user_id":"t1","user_name":"bob","tier":"2000"}`)); err != nil {
		t.Fatal(err)
	}
	_, kind, data := overlay.last(t)
	if kind != "subscribe" || data["tier"] != "Tier 2" || data["user"] != "bob" {
		t.Errorf("alert = %s %v", kind, data)
	}
}

func TestGiftHandlerAnonymous(t *testing.T) {
	overlay := &overlayRecorder{}
	h := &GiftHandler{Overlay: overlay}

	if err := h.Handle(context.Background(), env(t, "channel.subscription.gift",
		`{"broadcaster_user_id":"t1","user_name":"bob","total":5,"tier":"1000","is_anonymous":true}`)); err != nil {
		t.Fatal(err)
	}
	_, _, data := overlay.last(t)
	if data["user"] != "Anonymous" || data["total"] != 5 || data["tier"] != "Tier 1" {
		t.Errorf("data = %v", data)
	}
}

func TestRaidHandlerKeysOnTargetBroadcaster(t *testing.T) {
	overlay := &overlayRecorder{}
	h := &RaidHandler{Overlay: overlay}

	if err := h.Handle(context.Background(), env(t, "channel.raid",
		`{"to_broadcaster_user_id":"t1","from_broadcaster_user_name":"raider","viewers":42}`)); err != nil {
		t.Fatal(err)
	}
	tenant, kind, data := overlay.last(t)
	if tenant != "t1" || kind != "raid" || data["from"] != "raider" || data["viewers"] != 42 {
		t.Errorf("alert = %s %s %v", tenant, kind, data)
	}
}

func TestChatNotificationNoticeTypes(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantKind string
		check    func(t *testing.T, data map[string]any)
	}{
		{
			name:     "resub with tier code",
			body:     `{"broadcaster_user_id":"t1","chatter_user_name":"bob","notice_type":"resub","resub":{"sub_tier":"3000","cumulative_months":12}}`,
			wantKind: "resub",
			check: func(t *testing.T, data map[string]any) {
				if data["tier"] != "Tier 3" || data["months"] != 12 || data["user"] != "bob" {
					t.Errorf("data = %v", data)
				}
			},
		},
		{
			name:     "prime sub",
			body:     `{"broadcaster_user_id":"t1","chatter_user_name":"bob","notice_type":"sub","sub":{"sub_tier":"1000","is_prime":true}}`,
			wantKind: "subscribe",
			check: func(t *testing.T, data map[string]any) {
				if data["tier"] != "Prime" {
					t.Errorf("tier = %v, want Prime", data["tier"])
				}
			},
		},
		{
			name:     "anonymous gift",
			body:     `{"broadcaster_user_id":"t1","chatter_is_anonymous":true,"notice_type":"sub_gift","sub_gift":{"sub_tier":"2000","recipient_user_name":"alice"}}`,
			wantKind: "gift",
			check: func(t *testing.T, data map[string]any) {
				if data["user"] != "Anonymous" || data["recipient"] != "alice" || data["tier"] != "Tier 2" {
					t.Errorf("data = %v", data)
				}
			},
		},
		{
			name:     "community gift",
			body:     `{"broadcaster_user_id":"t1","chatter_user_name":"bob","notice_type":"community_sub_gift","community_sub_gift":{"sub_tier":"1000","total":10}}`,
			wantKind: "gift",
			check: func(t *testing.T, data map[string]any) {
				if data["total"] != 10 {
					t.Errorf("total = %v", data["total"])
				}
			},
		},
		{
			name:     "raid notice",
			body:     `{"broadcaster_user_id":"t1","notice_type":"raid","raid":{"user_name":"raider","viewer_count":7}}`,
			wantKind: "raid",
			check: func(t *testing.T, data map[string]any) {
				if data["from"] != "raider" || data["viewers"] != 7 {
					t.Errorf("data = %v", data)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			overlay := &overlayRecorder{}
			h := &ChatNotificationHandler{Overlay: overlay}
			if err := h.Handle(context.Background(), env(t, "channel.chat.notification", tt.body)); err != nil {
				t.Fatal(err)
			}
			_, kind, data := overlay.last(t)
			if kind != tt.wantKind {
				t.Fatalf("kind = %q, want %q", kind, tt.wantKind)
			}
			tt.check(t, data)
		})
	}
}

func TestChatNotificationIgnoresUnknownNoticeType(t *testing.T) {
	overlay := &overlayRecorder{}
	h := &ChatNotificationHandler{Overlay: overlay}

	if err := h.Handle(context.Background(), env(t, "channel.chat.notification",
		`{"broadcaster_user_id":"t1","notice_type":"bits_badge_tier"}`)); err != nil {
		t.Fatal(err)
	}
	if overlay.count() != 0 {
		t.Error("unknown notice type produced an alert")
	}
}

type fakeProcessor struct {
	contexts []commands.Context
}

func (p *fakeProcessor) Handle(ctx context.Context, c commands.Context, reply commands.ReplyFunc) {
	p.contexts = append(p.contexts, c)
	reply("ack")
}

type fakeReplier struct {
	sent []string
}

func (r *fakeReplier) Send(ctx context.Context, tenantID, text string) error {
	r.sent = append(r.sent, text)
	return nil
}

type fakeAnnouncer struct {
	tries []string
}

func (a *fakeAnnouncer) TrySend(ctx context.Context, tenantID string) {
	a.tries = append(a.tries, tenantID)
}

func chatMessageHandler() (*ChatMessageHandler, *fakeProcessor, *fakeReplier, *fakeAnnouncer) {
	proc := &fakeProcessor{}
	replier := &fakeReplier{}
	announcer := &fakeAnnouncer{}
	h := &ChatMessageHandler{
		Prefix:    "!",
		Keyword:   "discord",
		Commands:  proc,
		Replier:   replier,
		Announcer: announcer,
	}
	return h, proc, replier, announcer
}

func TestChatMessageCommandPath(t *testing.T) {
	h, proc, replier, announcer := chatMessageHandler()

	body := `{
		"broadcaster_user_id":"t1",
		"chatter_user_id":"u9",
		"chatter_user_name":"bob",
		"message":{"text":"!deaths+"},
		"badges":[{"set_id":"moderator"}]
	}`
	if err := h.Handle(context.Background(), env(t, "channel.chat.message", body)); err != nil {
		t.Fatal(err)
	}

	if len(proc.contexts) != 1 {
		t.Fatalf("processor calls = %d", len(proc.contexts))
	}
	c := proc.contexts[0]
	if !c.IsModerator || c.IsBroadcaster || c.TenantID != "t1" || c.UserName != "bob" {
		t.Errorf("command context = %+v", c)
	}
	if len(replier.sent) != 1 || replier.sent[0] != "ack" {
		t.Errorf("replies = %v", replier.sent)
	}
	if len(announcer.tries) != 0 {
		t.Error("keyword path fired without keyword")
	}
}

func TestChatMessageBroadcasterIsModerator(t *testing.T) {
	h, proc, _, _ := chatMessageHandler()

	body := `{
		"broadcaster_user_id":"t1",
		"chatter_user_id":"t1",
		"message":{"text":"!reset deaths"},
		"badges":[]
	}`
	if err := h.Handle(context.Background(), env(t, "channel.chat.message", body)); err != nil {
		t.Fatal(err)
	}
	c := proc.contexts[0]
	if !c.IsBroadcaster || !c.IsModerator {
		t.Errorf("broadcaster roles = %+v", c)
	}
}

func TestChatMessageKeywordTriggersAnnouncement(t *testing.T) {
	h, proc, _, announcer := chatMessageHandler()

	body := `{
		"broadcaster_user_id":"t1",
		"chatter_user_id":"u9",
		"message":{"text":"where is the DISCORD link?"}
	}`
	if err := h.Handle(context.Background(), env(t, "channel.chat.message", body)); err != nil {
		t.Fatal(err)
	}
	if len(announcer.tries) != 1 || announcer.tries[0] != "t1" {
		t.Errorf("announcer tries = %v", announcer.tries)
	}
	if len(proc.contexts) != 0 {
		t.Error("command path fired without prefix")
	}
}

func TestChatMessageCommandAndKeywordBothFire(t *testing.T) {
	h, proc, _, announcer := chatMessageHandler()

	body := `{
		"broadcaster_user_id":"t1",
		"chatter_user_id":"u9",
		"message":{"text":"!discord"}
	}`
	if err := h.Handle(context.Background(), env(t, "channel.chat.message", body)); err != nil {
		t.Fatal(err)
	}
	if len(proc.contexts) != 1 || len(announcer.tries) != 1 {
		t.Errorf("command=%d keyword=%d; both paths must run", len(proc.contexts), len(announcer.tries))
	}
}

type fakeRewards struct {
	rewards map[string]*db.Reward
}

func (r *fakeRewards) GetReward(ctx context.Context, userID, rewardID string) (*db.Reward, error) {
	return r.rewards[userID+"/"+rewardID], nil
}

type fakeCounters struct {
	mu     sync.Mutex
	values map[string]int64
	live   map[string]bool
}

func newFakeCounters() *fakeCounters {
	return &fakeCounters{values: make(map[string]int64), live: make(map[string]bool)}
}

func (c *fakeCounters) AdjustCounter(ctx context.Context, userID, name string, delta int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.values[userID+"/"+name] + delta
	if v < 0 {
		v = 0
	}
	c.values[userID+"/"+name] = v
	return v, nil
}

func (c *fakeCounters) SetStreamLive(ctx context.Context, userID string, live bool, startedAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.live[userID] = live
	return nil
}

type fakeUserStore struct {
	users map[string]*db.User
}

func (s *fakeUserStore) GetUser(ctx context.Context, id string) (*db.User, error) {
	return s.users[id], nil
}

func TestRedemptionUnmanagedRewardIgnored(t *testing.T) {
	overlay := &overlayRecorder{}
	counters := newFakeCounters()
	h := &RedemptionHandler{
		Rewards:  &fakeRewards{rewards: map[string]*db.Reward{}},
		Counters: counters,
		Users:    &fakeUserStore{},
		Overlay:  overlay,
	}

	body := `{"broadcaster_user_id":"t1","user_name":"bob","reward":{"id":"r-unknown","title":"Mystery"}}`
	if err := h.Handle(context.Background(), env(t, "channel.channel_points_custom_reward_redemption.add", body)); err != nil {
		t.Fatalf("unmanaged reward must not error: %v", err)
	}
	if overlay.count() != 0 || len(counters.values) != 0 {
		t.Error("unmanaged reward produced side effects")
	}
}

func TestRedemptionIncrementAction(t *testing.T) {
	overlay := &overlayRecorder{}
	counters := newFakeCounters()
	h := &RedemptionHandler{
		Rewards: &fakeRewards{rewards: map[string]*db.Reward{
			"t1/r1": {RewardID: "r1", Action: "increment", CounterName: "deaths"},
		}},
		Counters: counters,
		Users:    &fakeUserStore{},
		Overlay:  overlay,
	}

	body := `{"broadcaster_user_id":"t1","user_name":"bob","reward":{"id":"r1","title":"Add Death"}}`
	if err := h.Handle(context.Background(), env(t, "channel.channel_points_custom_reward_redemption.add", body)); err != nil {
		t.Fatal(err)
	}
	if counters.values["t1/deaths"] != 1 {
		t.Errorf("counter = %d, want 1", counters.values["t1/deaths"])
	}
	_, kind, data := overlay.last(t)
	if kind != "counter" || data["name"] != "deaths" {
		t.Errorf("alert = %s %v", kind, data)
	}
}

func TestRedemptionJumpscareAction(t *testing.T) {
	overlay := &overlayRecorder{}
	h := &RedemptionHandler{
		Rewards: &fakeRewards{rewards: map[string]*db.Reward{
			"t1/r2": {RewardID: "r2", Action: "jumpscare"},
		}},
		Counters: newFakeCounters(),
		Users:    &fakeUserStore{},
		Overlay:  overlay,
	}

	body := `{"broadcaster_user_id":"t1","user_name":"bob","reward":{"id":"r2","title":"Scare"}}`
	if err := h.Handle(context.Background(), env(t, "channel.channel_points_custom_reward_redemption.add", body)); err != nil {
		t.Fatal(err)
	}
	_, kind, data := overlay.last(t)
	if kind != "jumpscare" || data["user"] != "bob" {
		t.Errorf("alert = %s %v", kind, data)
	}
}

func TestRedemptionUnknownActionIgnored(t *testing.T) {
	overlay := &overlayRecorder{}
	h := &RedemptionHandler{
		Rewards: &fakeRewards{rewards: map[string]*db.Reward{
			"t1/r3": {RewardID: "r3", Action: "explode"},
		}},
		Counters: newFakeCounters(),
		Users:    &fakeUserStore{},
		Overlay:  overlay,
	}

	body := `{"broadcaster_user_id":"t1","reward":{"id":"r3"}}`
	if err := h.Handle(context.Background(), env(t, "channel.channel_points_custom_reward_redemption.add", body)); err != nil {
		t.Fatalf("unknown action must be ignored, got %v", err)
	}
	if overlay.count() != 0 {
		t.Error("unknown action produced an alert")
	}
}

type fakeHelix struct {
	stream  *twitchapi.Stream
	channel *twitchapi.ChannelInfo
}

func (h *fakeHelix) GetStream(ctx context.Context, broadcasterID string) (*twitchapi.Stream, error) {
	return h.stream, nil
}

func (h *fakeHelix) GetChannelInfo(ctx context.Context, broadcasterID string) (*twitchapi.ChannelInfo, error) {
	return h.channel, nil
}

type fakeChannels struct {
	joined, left []string
}

func (c *fakeChannels) JoinChannel(ctx context.Context, tenantID string) error {
	c.joined = append(c.joined, tenantID)
	return nil
}

func (c *fakeChannels) LeaveChannel(tenantID string) { c.left = append(c.left, tenantID) }

type fakeLoops struct {
	started, stopped []string
}

func (l *fakeLoops) Start(ctx context.Context, tenantID string) { l.started = append(l.started, tenantID) }
func (l *fakeLoops) Stop(tenantID string)                       { l.stopped = append(l.stopped, tenantID) }

func TestStreamOnlineHandler(t *testing.T) {
	overlay := &overlayRecorder{}
	counters := newFakeCounters()
	channels := &fakeChannels{}
	loops := &fakeLoops{}
	h := &StreamOnlineHandler{
		Users:    &fakeUserStore{users: map[string]*db.User{"t1": {ID: "t1", Login: "chan", AnnounceEnabled: true}}},
		Counters: counters,
		Overlay:  overlay,
		Helix:    &fakeHelix{stream: &twitchapi.Stream{Title: "Speedrun", GameName: "Portal", ViewerCount: 12}},
		Channels: channels,
		Loops:    loops,
		Tracker:  announce.NewTracker(),
	}

	body := `{"broadcaster_user_id":"t1","started_at":"2026-08-30T12:00:00Z"}`
	if err := h.Handle(context.Background(), env(t, "stream.online", body)); err != nil {
		t.Fatal(err)
	}

	if !counters.live["t1"] {
		t.Error("stream not marked live")
	}
	_, kind, data := overlay.last(t)
	if kind != "stream_online" || data["title"] != "Speedrun" || data["category"] != "Portal" {
		t.Errorf("alert = %s %v", kind, data)
	}
	if len(channels.joined) != 1 || len(loops.started) != 1 {
		t.Errorf("joined=%v started=%v", channels.joined, loops.started)
	}
}

func TestStreamOnlineFallsBackToChannelInfo(t *testing.T) {
	overlay := &overlayRecorder{}
	h := &StreamOnlineHandler{
		Users:    &fakeUserStore{users: map[string]*db.User{"t1": {ID: "t1"}}},
		Counters: newFakeCounters(),
		Overlay:  overlay,
		Helix:    &fakeHelix{channel: &twitchapi.ChannelInfo{Title: "Offline Title", GameName: "Chess"}},
		Tracker:  announce.NewTracker(),
	}

	if err := h.Handle(context.Background(), env(t, "stream.online", `{"broadcaster_user_id":"t1"}`)); err != nil {
		t.Fatal(err)
	}
	_, _, data := overlay.last(t)
	if data["title"] != "Offline Title" || data["category"] != "Chess" || data["viewers"] != 0 {
		t.Errorf("data = %v", data)
	}
}

func TestStreamOnlineAnnounceDisabledSkipsLoop(t *testing.T) {
	loops := &fakeLoops{}
	h := &StreamOnlineHandler{
		Users:    &fakeUserStore{users: map[string]*db.User{"t1": {ID: "t1"}}},
		Counters: newFakeCounters(),
		Overlay:  &overlayRecorder{},
		Helix:    &fakeHelix{},
		Loops:    loops,
		Tracker:  announce.NewTracker(),
	}

	if err := h.Handle(context.Background(), env(t, "stream.online", `{"broadcaster_user_id":"t1"}`)); err != nil {
		t.Fatal(err)
	}
	if len(loops.started) != 0 {
		t.Error("announcement loop started for tenant with announcements disabled")
	}
}

func TestStreamOfflineHandler(t *testing.T) {
	overlay := &overlayRecorder{}
	counters := newFakeCounters()
	counters.live["t1"] = true
	channels := &fakeChannels{}
	loops := &fakeLoops{}
	h := &StreamOfflineHandler{Counters: counters, Overlay: overlay, Channels: channels, Loops: loops}

	if err := h.Handle(context.Background(), env(t, "stream.offline", `{"broadcaster_user_id":"t1"}`)); err != nil {
		t.Fatal(err)
	}
	if counters.live["t1"] {
		t.Error("stream still marked live")
	}
	_, kind, _ := overlay.last(t)
	if kind != "stream_offline" {
		t.Errorf("kind = %q", kind)
	}
	if len(loops.stopped) != 1 || len(channels.left) != 1 {
		t.Errorf("stopped=%v left=%v", loops.stopped, channels.left)
	}
}
