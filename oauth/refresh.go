// Package oauth keeps persisted tenant user tokens fresh. A background loop
// performs jittered checks and refreshes any token whose remaining lifetime
// falls within the configured window, so chat eligibility lookups always have
// a usable token on hand.
package oauth

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/KainCH/omniasylum/db"
)

// TokenStore is the subset of the persistence layer the refresher needs.
type TokenStore interface {
	ListUsersWithExpiringTokens(ctx context.Context, window time.Duration) ([]*db.User, error)
	UpdateUserToken(ctx context.Context, id, accessToken, refreshToken string, expiry time.Time) error
}

// RefreshFunc exchanges a refresh token for a fresh token set.
type RefreshFunc func(ctx context.Context, refreshToken string) (access, refresh string, expiry time.Time, err error)

// TwitchRefreshFunc returns a RefreshFunc backed by the Twitch OAuth endpoint.
func TwitchRefreshFunc(clientID, clientSecret string) RefreshFunc {
	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     endpoints.Twitch,
	}
	return func(ctx context.Context, refreshToken string) (string, string, time.Time, error) {
		tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
		if err != nil {
			return "", "", time.Time{}, err
		}
		return tok.AccessToken, tok.RefreshToken, tok.Expiry, nil
	}
}

// StartRefresher launches a goroutine that periodically scans for tenants
// whose tokens expire within window and refreshes them.
// interval: how often to wake up and check.
// window: refresh when remaining lifetime <= window.
func StartRefresher(ctx context.Context, store TokenStore, interval, window time.Duration, fn RefreshFunc) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval / 2)))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
			refreshDue(ctx, store, window, fn)
		}
	}()
}

func refreshDue(ctx context.Context, store TokenStore, window time.Duration, fn RefreshFunc) {
	users, err := store.ListUsersWithExpiringTokens(ctx, window)
	if err != nil {
		slog.Warn("expiring token scan failed", slog.Any("err", err))
		return
	}
	for _, u := range users {
		if u.RefreshToken == "" {
			continue
		}
		ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
		access, refresh, expiry, err := fn(ctx2, u.RefreshToken)
		cancel()
		if err != nil {
			slog.Warn("token refresh failed", slog.String("tenant", u.ID), slog.Any("err", err))
			continue
		}
		if refresh == "" {
			refresh = u.RefreshToken
		}
		if err := store.UpdateUserToken(ctx, u.ID, access, refresh, expiry); err != nil {
			slog.Warn("token persist failed", slog.String("tenant", u.ID), slog.Any("err", err))
			continue
		}
		slog.Info("token refreshed", slog.String("tenant", u.ID))
	}
}
