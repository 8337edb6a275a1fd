package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// rewriteTransport redirects requests to the test server regardless of the
// hardcoded API host in the client.
type rewriteTransport struct {
	Transport http.RoundTripper
	host      string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	if t.host != "" {
		host := t.host
		host = strings.TrimPrefix(host, "http://")
		host = strings.TrimPrefix(host, "https://")
		req.URL.Host = host
	}
	return t.Transport.RoundTrip(req)
}

func testClient(serverURL, botLogin string) *HelixClient {
	ts := &TokenSource{ClientID: "test-client-id", ClientSecret: "test-secret"}
	ts.token = "test-app-token"
	ts.expiresAt = time.Now().Add(1 * time.Hour)
	return &HelixClient{
		AppTokenSource: ts,
		ClientID:       "test-client-id",
		BotLogin:       botLogin,
		HTTPClient: &http.Client{
			Transport: &rewriteTransport{Transport: http.DefaultTransport, host: serverURL},
		},
	}
}

func TestGetStream(t *testing.T) {
	tests := []struct {
		name     string
		response interface{}
		wantNil  bool
		want     Stream
	}{
		{
			name: "live stream",
			response: map[string]interface{}{
				"data": []map[string]interface{}{
					{"title": "Speedrun", "game_name": "Portal", "viewer_count": 42},
				},
			},
			want: Stream{Title: "Speedrun", GameName: "Portal", ViewerCount: 42},
		},
		{
			name:     "offline returns nil without error",
			response: map[string]interface{}{"data": []map[string]interface{}{}},
			wantNil:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Client-Id") != "test-client-id" {
					t.Errorf("missing Client-Id header")
				}
				if r.URL.Query().Get("user_id") != "123" {
					t.Errorf("user_id = %s", r.URL.Query().Get("user_id"))
				}
				_ = json.NewEncoder(w).Encode(tt.response)
			}))
			defer server.Close()

			s, err := testClient(server.URL, "bot").GetStream(context.Background(), "123")
			if err != nil {
				t.Fatal(err)
			}
			if tt.wantNil {
				if s != nil {
					t.Fatalf("got %+v, want nil", s)
				}
				return
			}
			if s == nil || s.Title != tt.want.Title || s.GameName != tt.want.GameName || s.ViewerCount != tt.want.ViewerCount {
				t.Errorf("stream = %+v, want %+v", s, tt.want)
			}
		})
	}
}

func TestGetStreamEmptyBroadcaster(t *testing.T) {
	if _, err := testClient("http://unused", "bot").GetStream(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty broadcaster id")
	}
}

func TestGetChannelInfo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"title": "Chess Night", "game_name": "Chess"},
			},
		})
	}))
	defer server.Close()

	ci, err := testClient(server.URL, "bot").GetChannelInfo(context.Background(), "123")
	if err != nil {
		t.Fatal(err)
	}
	if ci.Title != "Chess Night" || ci.GameName != "Chess" {
		t.Errorf("channel info = %+v", ci)
	}
}

func TestResolveBotEligibility(t *testing.T) {
	tests := []struct {
		name    string
		mods    []map[string]string
		wantUse bool
		wantID  string
	}{
		{
			name: "bot moderates",
			mods: []map[string]string{
				{"user_id": "9", "user_login": "othermod"},
				{"user_id": "77", "user_login": "SharedBot"},
			},
			wantUse: true,
			wantID:  "77",
		},
		{
			name:    "bot absent",
			mods:    []map[string]string{{"user_id": "9", "user_login": "othermod"}},
			wantUse: false,
		},
		{
			name:    "empty moderator list",
			mods:    []map[string]string{},
			wantUse: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				// The moderator endpoint requires the tenant's user token.
				if r.Header.Get("Authorization") != "Bearer tenant-token" {
					t.Errorf("Authorization = %s, want tenant token", r.Header.Get("Authorization"))
				}
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"data":       tt.mods,
					"pagination": map[string]string{},
				})
			}))
			defer server.Close()

			el, err := testClient(server.URL, "sharedbot").ResolveBotEligibility(context.Background(), "123", "tenant-token")
			if err != nil {
				t.Fatal(err)
			}
			if el.UseBot != tt.wantUse || el.BotUserID != tt.wantID {
				t.Errorf("eligibility = %+v", el)
			}
		})
	}
}

func TestResolveBotEligibilityPaginates(t *testing.T) {
	pages := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages++
		if r.URL.Query().Get("after") == "" {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"data":       []map[string]string{{"user_id": "1", "user_login": "first"}},
				"pagination": map[string]string{"cursor": "page2"},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data":       []map[string]string{{"user_id": "77", "user_login": "sharedbot"}},
			"pagination": map[string]string{},
		})
	}))
	defer server.Close()

	el, err := testClient(server.URL, "sharedbot").ResolveBotEligibility(context.Background(), "123", "tenant-token")
	if err != nil {
		t.Fatal(err)
	}
	if !el.UseBot || el.BotUserID != "77" {
		t.Errorf("eligibility = %+v", el)
	}
	if pages != 2 {
		t.Errorf("pages fetched = %d, want 2", pages)
	}
}

func TestHelixErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	if _, err := testClient(server.URL, "bot").GetStream(context.Background(), "123"); err == nil {
		t.Fatal("expected error on 401")
	}
}
