// Command omniasylum is the main entrypoint for the stream event service.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Wires the event handler registry, shared chat bot, eligibility cache,
//     announcement scheduler, Discord notifier, and overlay hub.
//   - Starts the tenant OAuth token refresher.
//   - Exposes an HTTP server with /webhook, /healthz, /readyz, /metrics, and
//     the overlay websocket.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"github.com/joho/godotenv"

	"github.com/KainCH/omniasylum/announce"
	"github.com/KainCH/omniasylum/bot"
	"github.com/KainCH/omniasylum/commands"
	"github.com/KainCH/omniasylum/config"
	"github.com/KainCH/omniasylum/db"
	"github.com/KainCH/omniasylum/events"
	"github.com/KainCH/omniasylum/monitor"
	"github.com/KainCH/omniasylum/notify"
	"github.com/KainCH/omniasylum/oauth"
	"github.com/KainCH/omniasylum/overlay"
	"github.com/KainCH/omniasylum/reply"
	"github.com/KainCH/omniasylum/server"
	"github.com/KainCH/omniasylum/telemetry"
	"github.com/KainCH/omniasylum/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("omniasylum", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.Migrate(context.Background(), database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := db.NewStore(database)

	appToken := &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret}
	helix := &twitchapi.HelixClient{
		AppTokenSource: appToken,
		ClientID:       cfg.TwitchClientID,
		BotLogin:       cfg.BotUsername,
	}

	if err := cfg.ValidateBotSeed(); err != nil {
		slog.Warn("shared bot seed incomplete; chat sends will be unavailable until credentials are stored", slog.Any("err", err))
	}
	botMgr := bot.NewManager(cfg.TwitchClientID, cfg.TwitchClientSecret, cfg.BotUsername, cfg.BotRefreshToken, store)

	eligibility := monitor.NewRegistry()
	resolver := &monitor.HelixResolver{Helix: helix}
	replier := reply.NewSender(eligibility, resolver, store, botMgr)

	tracker := announce.NewTracker()
	announcer := announce.NewInviteAnnouncer(store, replier, tracker, cfg.AnnounceThrottleWindow)
	scheduler := announce.NewScheduler(announcer, cfg.AnnounceMinInterval, cfg.AnnounceMaxInterval)

	hub := overlay.NewHub()
	processor := commands.NewProcessor(cfg.CommandPrefix, store, hub)

	var discord events.DiscordNotifier
	if dc, err := notify.NewDiscord(cfg.DiscordBotToken); err != nil {
		slog.Error("discord client init failed", slog.Any("err", err))
		os.Exit(1)
	} else if dc != nil {
		discord = dc
	} else {
		slog.Info("discord notifications disabled (no DISCORD_BOT_TOKEN)")
	}

	registry := events.NewRegistry()
	for _, h := range []events.Handler{
		&events.FollowHandler{Overlay: hub},
		&events.SubscribeHandler{Overlay: hub},
		&events.GiftHandler{Overlay: hub},
		&events.ResubHandler{Overlay: hub},
		&events.CheerHandler{Overlay: hub},
		&events.RaidHandler{Overlay: hub},
		&events.ChannelUpdateHandler{Overlay: hub},
		&events.ChatNotificationHandler{Overlay: hub},
		&events.ChatMessageHandler{
			Prefix:    cfg.CommandPrefix,
			Keyword:   cfg.DiscordKeyword,
			Commands:  processor,
			Replier:   replier,
			Announcer: announcer,
		},
		&events.RedemptionHandler{
			Rewards:  store,
			Counters: store,
			Users:    store,
			Overlay:  hub,
			Discord:  discord,
		},
		&events.StreamOnlineHandler{
			Users:    store,
			Counters: store,
			Overlay:  hub,
			Discord:  discord,
			Helix:    helix,
			Channels: botMgr,
			Loops:    scheduler,
			Tracker:  tracker,
		},
		&events.StreamOfflineHandler{
			Counters: store,
			Overlay:  hub,
			Channels: botMgr,
			Loops:    scheduler,
		},
	} {
		registry.Register(h)
	}

	// Inbound IRC messages take the same command and keyword path as webhook
	// chat events, with roles derived from IRC badges.
	botMgr.SetMessageHandler(func(tenantID string, msg twitch.PrivateMessage) {
		isBroadcaster := msg.User.ID == tenantID
		_, modBadge := msg.User.Badges["moderator"]
		_, bcBadge := msg.User.Badges["broadcaster"]
		_, subBadge := msg.User.Badges["subscriber"]
		_, founderBadge := msg.User.Badges["founder"]

		if strings.HasPrefix(strings.TrimSpace(msg.Message), cfg.CommandPrefix) {
			c := commands.Context{
				TenantID:      tenantID,
				UserID:        msg.User.ID,
				UserName:      msg.User.DisplayName,
				Text:          msg.Message,
				IsBroadcaster: isBroadcaster,
				IsModerator:   isBroadcaster || modBadge || bcBadge,
				IsSubscriber:  subBadge || founderBadge,
			}
			processor.Handle(ctx, c, func(text string) {
				_ = replier.Send(ctx, tenantID, text)
			})
		}
		if cfg.DiscordKeyword != "" && strings.Contains(strings.ToLower(msg.Message), strings.ToLower(cfg.DiscordKeyword)) {
			announcer.TrySend(ctx, tenantID)
		}
	})

	// Keep tenant user tokens fresh so eligibility lookups never run on a stale token.
	oauth.StartRefresher(ctx, store, 5*time.Minute, 15*time.Minute, oauth.TwitchRefreshFunc(cfg.TwitchClientID, cfg.TwitchClientSecret))

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	handlers := server.NewHandlers(database, registry, hub)
	go func() {
		if err := server.Start(ctx, handlers, addr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
}

// setupLogging configures the default slog logger from LOG_LEVEL and LOG_FORMAT.
// Defaults: level=info, format=text.
func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()))
}
