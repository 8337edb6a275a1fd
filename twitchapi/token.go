package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// expiryBuffer is how long before the recorded expiry a cached app token is
// considered stale. Refreshing early avoids racing the cutoff mid-request.
const expiryBuffer = time.Minute

// TokenSource caches a Twitch app access token obtained via the client
// credentials grant. App tokens authorize Helix lookups only; chat requires the
// shared bot's user token with chat:read/chat:edit scopes.
type TokenSource struct {
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// Get returns the cached token, fetching a fresh one when absent or near expiry.
func (ts *TokenSource) Get(ctx context.Context) (string, error) {
	ts.mu.RLock()
	tok, ok := ts.cached()
	ts.mu.RUnlock()
	if ok {
		return tok, nil
	}
	return ts.fetch(ctx)
}

// cached reports the current token if it is still comfortably valid.
// Callers must hold at least a read lock.
func (ts *TokenSource) cached() (string, bool) {
	if ts.token == "" || time.Until(ts.expiresAt) <= expiryBuffer {
		return "", false
	}
	return ts.token, true
}

func (ts *TokenSource) fetch(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	// Another goroutine may have fetched while we waited on the lock.
	if tok, ok := ts.cached(); ok {
		return tok, nil
	}
	if ts.ClientID == "" || ts.ClientSecret == "" {
		return "", errors.New("twitch app token: client id/secret not configured")
	}

	form := url.Values{
		"client_id":     {ts.ClientID},
		"client_secret": {ts.ClientSecret},
		"grant_type":    {"client_credentials"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://id.twitch.tv/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	hc := ts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("twitch app token: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var grant struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &grant); err != nil {
		return "", fmt.Errorf("twitch app token: decode: %w", err)
	}
	if grant.AccessToken == "" {
		return "", errors.New("twitch app token: empty access_token in response")
	}

	ts.token = grant.AccessToken
	ts.expiresAt = time.Now().Add(time.Duration(grant.ExpiresIn) * time.Second)
	return ts.token, nil
}
