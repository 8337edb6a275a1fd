// Package db provides database connection helpers, schema migration, and the stores
// backing tenant credentials, counters, and channel-point reward configuration.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/KainCH/omniasylum/crypto"
)

var (
	// encryptor is the global encryptor instance for OAuth token encryption
	encryptor     crypto.Encryptor
	encryptorOnce sync.Once
	encryptorErr  error
)

// initEncryptor initializes the global encryptor from ENCRYPTION_KEY environment variable.
// If ENCRYPTION_KEY is not set, encryption is disabled (tokens stored plaintext).
// This is called lazily on first use.
func initEncryptor() {
	encryptorOnce.Do(func() {
		key := os.Getenv("ENCRYPTION_KEY")
		if key == "" {
			slog.Warn("ENCRYPTION_KEY not set, OAuth tokens will be stored in plaintext (not recommended for production)", slog.String("component", "db_encryption"))
			return
		}

		enc, err := crypto.NewAESEncryptor(key)
		if err != nil {
			encryptorErr = fmt.Errorf("failed to initialize encryption: %w", err)
			slog.Error("encryption initialization failed", slog.Any("error", encryptorErr), slog.String("component", "db_encryption"))
			return
		}

		encryptor = enc
		slog.Info("OAuth token encryption enabled (AES-256-GCM)", slog.String("component", "db_encryption"))
	})
}

func getEncryptor() (crypto.Encryptor, error) {
	initEncryptor()
	if encryptorErr != nil {
		return nil, encryptorErr
	}
	return encryptor, nil
}

// Connect opens a Postgres connection using the provided DSN.
func Connect(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty database dsn")
	}
	return sql.Open("pgx", dsn)
}

// Migrate applies idempotent schema changes for all required tables and indices.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			login TEXT NOT NULL,
			display_name TEXT,
			access_token TEXT,
			refresh_token TEXT,
			token_expires_at TIMESTAMPTZ,
			encryption_version INTEGER DEFAULT 0,
			discord_notify BOOLEAN DEFAULT FALSE,
			discord_channel_id TEXT,
			discord_invite TEXT,
			announce_enabled BOOLEAN DEFAULT FALSE,
			stream_live BOOLEAN DEFAULT FALSE,
			stream_started_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS bot_credentials (
			id INTEGER PRIMARY KEY DEFAULT 1 CHECK (id = 1),
			username TEXT NOT NULL,
			access_token TEXT,
			refresh_token TEXT,
			expires_at TIMESTAMPTZ,
			encryption_version INTEGER DEFAULT 0,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS counters (
			user_id TEXT NOT NULL REFERENCES users(id),
			name TEXT NOT NULL,
			value BIGINT DEFAULT 0,
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (user_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS channel_point_rewards (
			user_id TEXT NOT NULL REFERENCES users(id),
			reward_id TEXT NOT NULL,
			action TEXT NOT NULL,
			counter_name TEXT,
			notify_discord BOOLEAN DEFAULT FALSE,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (user_id, reward_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_login ON users(LOWER(login))`,
		`CREATE INDEX IF NOT EXISTS idx_users_token_expiry ON users(token_expires_at)`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}

// encryptToken encrypts a token when encryption is enabled; returns the value to
// store and the encryption version written alongside it.
func encryptToken(tok string) (string, int, error) {
	enc, err := getEncryptor()
	if err != nil {
		return "", 0, err
	}
	if enc == nil || tok == "" {
		return tok, 0, nil
	}
	out, err := crypto.EncryptString(enc, tok)
	if err != nil {
		return "", 0, fmt.Errorf("encrypt token: %w", err)
	}
	return out, 1, nil
}

// decryptToken reverses encryptToken based on the stored encryption version.
func decryptToken(tok string, version int) (string, error) {
	if version == 0 || tok == "" {
		return tok, nil
	}
	enc, err := getEncryptor()
	if err != nil {
		return "", err
	}
	if enc == nil {
		return "", fmt.Errorf("token is encrypted but ENCRYPTION_KEY not configured")
	}
	out, err := crypto.DecryptString(enc, tok)
	if err != nil {
		return "", fmt.Errorf("decrypt token: %w", err)
	}
	return out, nil
}
