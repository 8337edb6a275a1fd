package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// User is one onboarded broadcaster (tenant) with their channel identity and
// per-tenant OAuth token.
type User struct {
	ID               string
	Login            string
	DisplayName      string
	AccessToken      string
	RefreshToken     string
	TokenExpiry      time.Time
	DiscordNotify    bool
	DiscordChannelID string
	DiscordInvite    string
	AnnounceEnabled  bool
	StreamLive       bool
	StreamStartedAt  time.Time
}

// BotCredentials is the singleton shared chat-bot account credential row.
type BotCredentials struct {
	Username     string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Reward is a managed channel-point reward mapping a redemption to an action.
type Reward struct {
	RewardID      string
	Action        string
	CounterName   string
	NotifyDiscord bool
}

// Store wraps a sql.DB with typed accessors. Token columns are encrypted at rest
// when ENCRYPTION_KEY is configured.
type Store struct {
	DB *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{DB: db} }

// GetUser loads a tenant by id. Returns (nil, nil) when the tenant is unknown.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT id, login, COALESCE(display_name,''), COALESCE(access_token,''), COALESCE(refresh_token,''),
		COALESCE(token_expires_at, 'epoch'::timestamptz), COALESCE(encryption_version,0), discord_notify, COALESCE(discord_channel_id,''),
		COALESCE(discord_invite,''), announce_enabled, stream_live, COALESCE(stream_started_at, 'epoch'::timestamptz)
		FROM users WHERE id=$1`, id)
	var u User
	var encVersion int
	err := row.Scan(&u.ID, &u.Login, &u.DisplayName, &u.AccessToken, &u.RefreshToken, &u.TokenExpiry, &encVersion,
		&u.DiscordNotify, &u.DiscordChannelID, &u.DiscordInvite, &u.AnnounceEnabled, &u.StreamLive, &u.StreamStartedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if u.AccessToken, err = decryptToken(u.AccessToken, encVersion); err != nil {
		return nil, err
	}
	if u.RefreshToken, err = decryptToken(u.RefreshToken, encVersion); err != nil {
		return nil, err
	}
	return &u, nil
}

// UpsertUser stores or updates a tenant row.
func (s *Store) UpsertUser(ctx context.Context, u *User) error {
	access, encVersion, err := encryptToken(u.AccessToken)
	if err != nil {
		return err
	}
	refresh, _, err := encryptToken(u.RefreshToken)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO users (id, login, display_name, access_token, refresh_token, token_expires_at, encryption_version,
			discord_notify, discord_channel_id, discord_invite, announce_enabled, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW())
		ON CONFLICT (id) DO UPDATE SET login=EXCLUDED.login, display_name=EXCLUDED.display_name,
			access_token=EXCLUDED.access_token, refresh_token=EXCLUDED.refresh_token,
			token_expires_at=EXCLUDED.token_expires_at, encryption_version=EXCLUDED.encryption_version,
			discord_notify=EXCLUDED.discord_notify, discord_channel_id=EXCLUDED.discord_channel_id,
			discord_invite=EXCLUDED.discord_invite, announce_enabled=EXCLUDED.announce_enabled, updated_at=NOW()`,
		u.ID, strings.ToLower(u.Login), u.DisplayName, access, refresh, u.TokenExpiry, encVersion,
		u.DiscordNotify, u.DiscordChannelID, u.DiscordInvite, u.AnnounceEnabled)
	return err
}

// UpdateUserToken persists a refreshed tenant token pair.
func (s *Store) UpdateUserToken(ctx context.Context, id, accessToken, refreshToken string, expiry time.Time) error {
	access, encVersion, err := encryptToken(accessToken)
	if err != nil {
		return err
	}
	refresh, _, err := encryptToken(refreshToken)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `UPDATE users SET access_token=$1, refresh_token=$2, token_expires_at=$3, encryption_version=$4, updated_at=NOW() WHERE id=$5`,
		access, refresh, expiry, encVersion, id)
	return err
}

// ListUsersWithExpiringTokens returns tenants whose token expires within the window
// and that have a refresh token on file.
func (s *Store) ListUsersWithExpiringTokens(ctx context.Context, window time.Duration) ([]*User, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, login, COALESCE(refresh_token,''), COALESCE(encryption_version,0)
		FROM users WHERE refresh_token IS NOT NULL AND refresh_token <> '' AND token_expires_at < $1`, time.Now().Add(window))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			return
		}
	}()
	var out []*User
	for rows.Next() {
		var u User
		var encVersion int
		if err := rows.Scan(&u.ID, &u.Login, &u.RefreshToken, &encVersion); err != nil {
			return nil, err
		}
		if u.RefreshToken, err = decryptToken(u.RefreshToken, encVersion); err != nil {
			return nil, err
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

// GetBotCredentials loads the shared bot credential row. Returns (nil, nil) when the
// store holds no bot credentials yet.
func (s *Store) GetBotCredentials(ctx context.Context) (*BotCredentials, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT username, COALESCE(access_token,''), COALESCE(refresh_token,''),
		COALESCE(expires_at, 'epoch'::timestamptz), COALESCE(encryption_version,0) FROM bot_credentials WHERE id=1`)
	var bc BotCredentials
	var encVersion int
	err := row.Scan(&bc.Username, &bc.AccessToken, &bc.RefreshToken, &bc.ExpiresAt, &encVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if bc.AccessToken, err = decryptToken(bc.AccessToken, encVersion); err != nil {
		return nil, err
	}
	if bc.RefreshToken, err = decryptToken(bc.RefreshToken, encVersion); err != nil {
		return nil, err
	}
	return &bc, nil
}

// SaveBotCredentials stores or replaces the singleton shared bot credential row.
func (s *Store) SaveBotCredentials(ctx context.Context, bc *BotCredentials) error {
	if bc.Username == "" {
		return fmt.Errorf("bot username empty")
	}
	access, encVersion, err := encryptToken(bc.AccessToken)
	if err != nil {
		return err
	}
	refresh, _, err := encryptToken(bc.RefreshToken)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO bot_credentials (id, username, access_token, refresh_token, expires_at, encryption_version, updated_at)
		VALUES (1,$1,$2,$3,$4,$5,NOW())
		ON CONFLICT (id) DO UPDATE SET username=EXCLUDED.username, access_token=EXCLUDED.access_token,
			refresh_token=EXCLUDED.refresh_token, expires_at=EXCLUDED.expires_at,
			encryption_version=EXCLUDED.encryption_version, updated_at=NOW()`,
		bc.Username, access, refresh, bc.ExpiresAt, encVersion)
	return err
}

// AdjustCounter adds delta to a named counter (creating it at zero first) and
// returns the new value.
func (s *Store) AdjustCounter(ctx context.Context, userID, name string, delta int64) (int64, error) {
	row := s.DB.QueryRowContext(ctx, `INSERT INTO counters (user_id, name, value, updated_at) VALUES ($1,$2,GREATEST($3,0),NOW())
		ON CONFLICT (user_id, name) DO UPDATE SET value=GREATEST(counters.value+$3,0), updated_at=NOW()
		RETURNING value`, userID, strings.ToLower(name), delta)
	var v int64
	if err := row.Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

// GetCounter returns a counter value; found=false when the counter does not exist.
func (s *Store) GetCounter(ctx context.Context, userID, name string) (int64, bool, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT value FROM counters WHERE user_id=$1 AND name=$2`, userID, strings.ToLower(name))
	var v int64
	err := row.Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// ResetCounter zeroes a counter.
func (s *Store) ResetCounter(ctx context.Context, userID, name string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO counters (user_id, name, value, updated_at) VALUES ($1,$2,0,NOW())
		ON CONFLICT (user_id, name) DO UPDATE SET value=0, updated_at=NOW()`, userID, strings.ToLower(name))
	return err
}

// SetStreamLive records stream start/stop on the tenant row. startedAt is only
// written on transition to live.
func (s *Store) SetStreamLive(ctx context.Context, userID string, live bool, startedAt time.Time) error {
	if live {
		_, err := s.DB.ExecContext(ctx, `UPDATE users SET stream_live=TRUE, stream_started_at=$1, updated_at=NOW() WHERE id=$2`, startedAt, userID)
		return err
	}
	_, err := s.DB.ExecContext(ctx, `UPDATE users SET stream_live=FALSE, updated_at=NOW() WHERE id=$1`, userID)
	return err
}

// GetReward looks up a managed channel-point reward. Returns (nil, nil) for
// unmanaged reward ids.
func (s *Store) GetReward(ctx context.Context, userID, rewardID string) (*Reward, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT reward_id, action, COALESCE(counter_name,''), notify_discord
		FROM channel_point_rewards WHERE user_id=$1 AND reward_id=$2`, userID, rewardID)
	var r Reward
	err := row.Scan(&r.RewardID, &r.Action, &r.CounterName, &r.NotifyDiscord)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
