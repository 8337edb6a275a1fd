// Package twitchapi contains minimal helpers to interact with Twitch Helix APIs:
// user id resolution, live-stream and channel metadata, and shared-bot moderator
// eligibility checks.
package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// HelixClient provides the Helix calls used by the event handlers and the
// eligibility resolver.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	// BotLogin is the shared bot account's login name, matched against channel
	// moderator lists when resolving eligibility.
	BotLogin   string
	HTTPClient *http.Client
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) get(ctx context.Context, url, bearer string, out any) error {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+bearer)
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("helix request failed: %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetUserID resolves a login name to its user ID using the app token.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return "", err
	}
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := hc.get(ctx, "https://api.twitch.tv/helix/users?login="+login, tok, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("user not found")
	}
	return body.Data[0].ID, nil
}

// Stream is live-stream metadata for a broadcaster.
type Stream struct {
	Title       string
	GameName    string
	ViewerCount int
	StartedAt   time.Time
}

// GetStream returns the broadcaster's live stream, or (nil, nil) when offline.
// Twitch may lag a few seconds after stream.online before the stream object
// appears; callers fall back to GetChannelInfo in that window.
func (hc *HelixClient) GetStream(ctx context.Context, broadcasterID string) (*Stream, error) {
	if broadcasterID == "" {
		return nil, fmt.Errorf("broadcasterID empty")
	}
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return nil, err
	}
	var body struct {
		Data []struct {
			Title       string    `json:"title"`
			GameName    string    `json:"game_name"`
			ViewerCount int       `json:"viewer_count"`
			StartedAt   time.Time `json:"started_at"`
		} `json:"data"`
	}
	if err := hc.get(ctx, "https://api.twitch.tv/helix/streams?user_id="+broadcasterID, tok, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, nil
	}
	d := body.Data[0]
	return &Stream{Title: d.Title, GameName: d.GameName, ViewerCount: d.ViewerCount, StartedAt: d.StartedAt}, nil
}

// ChannelInfo is the broadcaster's channel metadata, available even when offline.
type ChannelInfo struct {
	Title    string
	GameName string
}

// GetChannelInfo returns channel metadata for a broadcaster.
func (hc *HelixClient) GetChannelInfo(ctx context.Context, broadcasterID string) (*ChannelInfo, error) {
	if broadcasterID == "" {
		return nil, fmt.Errorf("broadcasterID empty")
	}
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return nil, err
	}
	var body struct {
		Data []struct {
			Title    string `json:"title"`
			GameName string `json:"game_name"`
		} `json:"data"`
	}
	if err := hc.get(ctx, "https://api.twitch.tv/helix/channels?broadcaster_id="+broadcasterID, tok, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, fmt.Errorf("channel not found")
	}
	return &ChannelInfo{Title: body.Data[0].Title, GameName: body.Data[0].GameName}, nil
}

// Eligibility is the decision of whether chat replies for a channel may go through
// the shared bot identity, and which bot user id to use.
type Eligibility struct {
	UseBot    bool
	BotUserID string
}

// ResolveBotEligibility checks whether the shared bot account moderates the
// broadcaster's channel. The moderator list endpoint requires the broadcaster's
// own user token, so accessToken here is the tenant's token, not the app token.
func (hc *HelixClient) ResolveBotEligibility(ctx context.Context, broadcasterID, accessToken string) (*Eligibility, error) {
	if broadcasterID == "" || accessToken == "" {
		return nil, fmt.Errorf("broadcasterID or accessToken empty")
	}
	botLogin := strings.ToLower(hc.BotLogin)
	after := ""
	for {
		url := "https://api.twitch.tv/helix/moderation/moderators?first=100&broadcaster_id=" + broadcasterID
		if after != "" {
			url += "&after=" + after
		}
		var body struct {
			Data []struct {
				UserID    string `json:"user_id"`
				UserLogin string `json:"user_login"`
			} `json:"data"`
			Pagination struct {
				Cursor string `json:"cursor"`
			} `json:"pagination"`
		}
		if err := hc.get(ctx, url, accessToken, &body); err != nil {
			return nil, err
		}
		for _, m := range body.Data {
			if strings.ToLower(m.UserLogin) == botLogin {
				return &Eligibility{UseBot: true, BotUserID: m.UserID}, nil
			}
		}
		if body.Pagination.Cursor == "" {
			return &Eligibility{}, nil
		}
		after = body.Pagination.Cursor
	}
}
