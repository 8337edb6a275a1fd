package server

import (
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/KainCH/omniasylum/events"
	"github.com/KainCH/omniasylum/overlay"
)

// maxWebhookBody caps inbound webhook payloads. Event bodies are small; a
// megabyte leaves generous headroom.
const maxWebhookBody = 1 << 20

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	db       *sql.DB
	registry *events.Registry
	hub      *overlay.Hub
}

// NewHandlers creates the handler set.
func NewHandlers(db *sql.DB, registry *events.Registry, hub *overlay.Hub) *Handlers {
	return &Handlers{db: db, registry: registry, hub: hub}
}

// HandleWebhook ingests one event notification. The body carries the
// subscription type and the event payload; authentication is handled by the
// ingress in front of this service.
func (h *Handlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	var payload struct {
		Subscription struct {
			Type string `json:"type"`
		} `json:"subscription"`
		Event json.RawMessage `json:"event"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if payload.Subscription.Type == "" {
		http.Error(w, "missing subscription type", http.StatusBadRequest)
		return
	}

	h.registry.Dispatch(r.Context(), events.Envelope{
		SubscriptionType: payload.Subscription.Type,
		Event:            payload.Event,
	})
	w.WriteHeader(http.StatusNoContent)
}

// HandleOverlayWS upgrades /overlay/ws/{tenantID} to a websocket and hands it
// to the hub.
func (h *Handlers) HandleOverlayWS(w http.ResponseWriter, r *http.Request) {
	tenantID := strings.TrimPrefix(r.URL.Path, "/overlay/ws/")
	if tenantID == "" || strings.Contains(tenantID, "/") {
		http.Error(w, "missing tenant id", http.StatusNotFound)
		return
	}
	h.hub.ServeWS(w, r, tenantID)
}
