// Package bot owns the single shared Twitch IRC connection and multiplexes
// tenant channels onto it. Connect and token refresh serialize through one lock
// with a lock-free fast path for the common "already connected" case.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/KainCH/omniasylum/db"
	"github.com/KainCH/omniasylum/telemetry"
	"github.com/KainCH/omniasylum/twitchapi"
)

// tokenRefreshBuffer is how close to expiry the bot token may get before a
// connect attempt refreshes it first.
const tokenRefreshBuffer = 5 * time.Minute

// ErrUnavailable signals the shared bot connection cannot be established right
// now (missing credentials or connect failure). Callers skip the tenant's bot
// action; the next caller retries lazily.
var ErrUnavailable = errors.New("bot connection unavailable")

// Conn is the subset of the IRC client the manager drives. *twitch.Client
// satisfies it; tests inject fakes.
type Conn interface {
	Join(channels ...string)
	Depart(channel string)
	Say(channel, text string)
	Connect() error
	Disconnect() error
	OnConnect(func())
	OnPrivateMessage(func(message twitch.PrivateMessage))
}

// CredentialStore is the slice of the credential repository the manager needs.
type CredentialStore interface {
	GetUser(ctx context.Context, id string) (*db.User, error)
	GetBotCredentials(ctx context.Context) (*db.BotCredentials, error)
	SaveBotCredentials(ctx context.Context, bc *db.BotCredentials) error
}

// MessageHandler receives inbound chat messages already resolved to a tenant.
type MessageHandler func(tenantID string, msg twitch.PrivateMessage)

// Manager maintains exactly one outbound chat connection authenticated as the
// shared bot account and tracks tenant↔channel bindings bidirectionally.
type Manager struct {
	ClientID     string
	ClientSecret string
	// Seed credentials used only when the store holds no bot credentials yet.
	SeedUsername     string
	SeedRefreshToken string

	Creds CredentialStore

	// NewConn builds an IRC client for the given bot login and oauth token.
	// Defaults to go-twitch-irc.
	NewConn func(username, oauthToken string) Conn

	// RefreshToken exchanges a refresh token; defaults to twitchapi.RefreshToken.
	RefreshToken func(ctx context.Context, clientID, clientSecret, refreshToken string) (*twitchapi.RefreshResult, error)

	mu        sync.Mutex
	connected atomic.Bool
	conn      atomic.Value // Conn

	tenantChannel sync.Map // tenantID → channel login (lowercase)
	channelTenant sync.Map // channel login (lowercase) → tenantID

	msgMu     sync.RWMutex
	onMessage MessageHandler
}

func NewManager(clientID, clientSecret, seedUsername, seedRefreshToken string, creds CredentialStore) *Manager {
	return &Manager{
		ClientID:         clientID,
		ClientSecret:     clientSecret,
		SeedUsername:     seedUsername,
		SeedRefreshToken: seedRefreshToken,
		Creds:            creds,
		NewConn: func(username, oauthToken string) Conn {
			return twitch.NewClient(username, oauthToken)
		},
		RefreshToken: twitchapi.RefreshToken,
	}
}

// SetMessageHandler installs the handler inbound chat messages are routed to
// after channel→tenant resolution.
func (m *Manager) SetMessageHandler(h MessageHandler) {
	m.msgMu.Lock()
	m.onMessage = h
	m.msgMu.Unlock()
}

// EnsureConnected returns the live connection, establishing it if needed.
// The fast path is a single atomic load; the slow path serializes credential
// load, refresh, and connect behind one lock so concurrent tenants cannot
// trigger parallel connects or racing token refreshes.
func (m *Manager) EnsureConnected(ctx context.Context) (Conn, error) {
	if c := m.liveConn(); c != nil {
		return c, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c := m.liveConn(); c != nil {
		return c, nil
	}

	bc, err := m.loadCredentials(ctx)
	if err != nil {
		slog.Warn("cannot load bot credentials", slog.Any("err", err), slog.String("component", "bot"))
		return nil, ErrUnavailable
	}

	if bc.AccessToken == "" || time.Until(bc.ExpiresAt) < tokenRefreshBuffer {
		if err := m.refreshCredentials(ctx, bc); err != nil {
			slog.Warn("cannot refresh bot token", slog.Any("err", err), slog.String("component", "bot"))
			return nil, ErrUnavailable
		}
	}

	conn := m.NewConn(bc.Username, ircToken(bc.AccessToken))
	conn.OnConnect(func() {
		slog.Info("shared bot connected", slog.String("bot", bc.Username), slog.String("component", "bot"))
	})
	conn.OnPrivateMessage(m.routeMessage)

	m.conn.Store(conn)
	m.connected.Store(true)
	telemetry.BotConnects.Inc()

	// Connect blocks for the connection lifetime. Its error must be observed:
	// on exit the manager drops the connection so the next caller retries.
	go func() {
		if err := conn.Connect(); err != nil {
			slog.Error("bot connection closed", slog.Any("err", err), slog.String("component", "bot"))
		}
		m.dropConnection(conn)
	}()

	return conn, nil
}

// liveConn returns the current connection, or nil when disconnected. Both
// fields are atomics, so readers never race the reconnect path rewriting them.
func (m *Manager) liveConn() Conn {
	if !m.connected.Load() {
		return nil
	}
	c, _ := m.conn.Load().(Conn)
	return c
}

// dropConnection flips the manager to disconnected and clears every
// tenant↔channel binding: a fresh connection joins nothing, so stale bindings
// would leave tenants sending into channels the bot never rejoined. Tenants
// rebind through JoinChannel on their next stream event. A goroutine whose
// connection was already replaced leaves the new connection's state alone.
func (m *Manager) dropConnection(conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, _ := m.conn.Load().(Conn); c != conn {
		return
	}
	m.connected.Store(false)
	dropped := 0
	m.tenantChannel.Range(func(tenant, channel any) bool {
		m.tenantChannel.Delete(tenant)
		m.channelTenant.Delete(channel)
		dropped++
		return true
	})
	if dropped > 0 {
		slog.Warn("connection lost: cleared channel bindings",
			slog.Int("tenants", dropped), slog.String("component", "bot"))
	}
}

// loadCredentials returns stored bot credentials, seeding from configuration on
// first run when the store is empty.
func (m *Manager) loadCredentials(ctx context.Context) (*db.BotCredentials, error) {
	bc, err := m.Creds.GetBotCredentials(ctx)
	if err != nil {
		return nil, err
	}
	if bc != nil {
		return bc, nil
	}
	if m.SeedUsername == "" || m.SeedRefreshToken == "" {
		return nil, errors.New("no stored bot credentials and no seed configured")
	}
	return &db.BotCredentials{Username: m.SeedUsername, RefreshToken: m.SeedRefreshToken}, nil
}

func (m *Manager) refreshCredentials(ctx context.Context, bc *db.BotCredentials) error {
	if bc.RefreshToken == "" {
		return errors.New("bot refresh token missing")
	}
	res, err := m.RefreshToken(ctx, m.ClientID, m.ClientSecret, bc.RefreshToken)
	if err != nil {
		return err
	}
	bc.AccessToken = res.AccessToken
	if res.RefreshToken != "" {
		bc.RefreshToken = res.RefreshToken
	}
	bc.ExpiresAt = twitchapi.ComputeExpiry(res.ExpiresIn)
	if err := m.Creds.SaveBotCredentials(ctx, bc); err != nil {
		return fmt.Errorf("persist refreshed bot credentials: %w", err)
	}
	return nil
}

// JoinChannel connects if needed, joins the tenant's channel, and records the
// tenant↔channel binding in both maps.
func (m *Manager) JoinChannel(ctx context.Context, tenantID string) error {
	u, err := m.Creds.GetUser(ctx, tenantID)
	if err != nil {
		return err
	}
	if u == nil || u.Login == "" {
		slog.Warn("cannot join channel: unknown tenant", slog.String("tenant", tenantID), slog.String("component", "bot"))
		return ErrUnavailable
	}
	conn, err := m.EnsureConnected(ctx)
	if err != nil {
		return err
	}
	channel := strings.ToLower(u.Login)
	conn.Join(channel)
	m.tenantChannel.Store(tenantID, channel)
	m.channelTenant.Store(channel, tenantID)
	slog.Info("joined channel", slog.String("tenant", tenantID), slog.String("channel", channel), slog.String("component", "bot"))
	return nil
}

// LeaveChannel removes the tenant's binding and departs the channel when live.
func (m *Manager) LeaveChannel(tenantID string) {
	v, ok := m.tenantChannel.LoadAndDelete(tenantID)
	if !ok {
		return
	}
	channel := v.(string)
	m.channelTenant.Delete(channel)
	if conn := m.liveConn(); conn != nil {
		conn.Depart(channel)
	}
	slog.Info("left channel", slog.String("tenant", tenantID), slog.String("channel", channel), slog.String("component", "bot"))
}

// Send posts a message on the tenant's bound channel. Fire and forget: no-op when
// disconnected or unbound, failures inside the client are logged by the client.
func (m *Manager) Send(tenantID, message string) {
	conn := m.liveConn()
	if conn == nil {
		slog.Debug("send skipped: bot disconnected", slog.String("tenant", tenantID), slog.String("component", "bot"))
		return
	}
	v, ok := m.tenantChannel.Load(tenantID)
	if !ok {
		slog.Debug("send skipped: tenant has no channel binding", slog.String("tenant", tenantID), slog.String("component", "bot"))
		return
	}
	conn.Say(v.(string), message)
	telemetry.ChatSends.Inc()
}

// ChannelFor returns the channel bound to a tenant.
func (m *Manager) ChannelFor(tenantID string) (string, bool) {
	v, ok := m.tenantChannel.Load(tenantID)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// TenantFor resolves an inbound channel to its tenant.
func (m *Manager) TenantFor(channel string) (string, bool) {
	v, ok := m.channelTenant.Load(strings.ToLower(channel))
	if !ok {
		return "", false
	}
	return v.(string), true
}

// routeMessage resolves the channel→tenant binding for an inbound message and
// hands it to the installed handler. Messages on unbound channels are dropped.
func (m *Manager) routeMessage(msg twitch.PrivateMessage) {
	tenantID, ok := m.TenantFor(msg.Channel)
	if !ok {
		slog.Debug("dropping message on unbound channel", slog.String("channel", msg.Channel), slog.String("component", "bot"))
		return
	}
	m.msgMu.RLock()
	h := m.onMessage
	m.msgMu.RUnlock()
	if h != nil {
		h(tenantID, msg)
	}
}

// ircToken normalizes a raw access token into the oauth: form the IRC client expects.
func ircToken(access string) string {
	if strings.HasPrefix(access, "oauth:") {
		return access
	}
	return "oauth:" + access
}
