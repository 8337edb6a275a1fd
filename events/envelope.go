// Package events routes provider webhook notifications to per-subscription-type
// handlers. The envelope carries an already-authenticated, already-parsed event
// body; handlers tolerate missing optional fields by substituting defaults.
package events

import (
	"encoding/json"
	"strings"
)

// Envelope is one inbound notification: the subscription type tag plus the raw
// event body. Transient; created per webhook call and discarded after handling.
type Envelope struct {
	SubscriptionType string
	Event            json.RawMessage
}

// TenantID extracts the broadcaster id from the event body, trying the common
// field names. Empty when the event carries no tenant identifier.
func (e Envelope) TenantID() string {
	var probe struct {
		BroadcasterUserID   string `json:"broadcaster_user_id"`
		ToBroadcasterUserID string `json:"to_broadcaster_user_id"`
	}
	if err := json.Unmarshal(e.Event, &probe); err != nil {
		return ""
	}
	if probe.BroadcasterUserID != "" {
		return probe.BroadcasterUserID
	}
	return probe.ToBroadcasterUserID
}

// displayOr returns name, or the fallback when the provider omitted it.
func displayOr(name, fallback string) string {
	if strings.TrimSpace(name) == "" {
		return fallback
	}
	return name
}

// tierLabel translates Twitch tier codes into readable labels. Unknown codes
// pass through unchanged.
func tierLabel(code string) string {
	switch code {
	case "1000":
		return "Tier 1"
	case "2000":
		return "Tier 2"
	case "3000":
		return "Tier 3"
	case "Prime":
		return "Prime"
	default:
		return code
	}
}
