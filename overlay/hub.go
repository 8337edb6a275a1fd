// Package overlay pushes alert and counter events to connected overlay pages
// over websockets. Rendering is the overlay's problem; this side only delivers
// typed JSON events per tenant.
package overlay

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event is one overlay push: an alert (follow, subscribe, raid, jumpscare, ...)
// or a counter update.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
	At   time.Time      `json:"at"`
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub tracks overlay connections per tenant and broadcasts events to them.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]map[*client]struct{} // tenantID → connections
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Overlay pages are served from arbitrary origins (OBS browser sources).
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[string]map[*client]struct{}),
	}
}

// ServeWS upgrades the request and registers the connection under the tenant.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, tenantID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("overlay upgrade failed", slog.String("tenant", tenantID), slog.Any("err", err))
		return
	}
	c := &client{conn: conn}
	h.mu.Lock()
	if h.clients[tenantID] == nil {
		h.clients[tenantID] = make(map[*client]struct{})
	}
	h.clients[tenantID][c] = struct{}{}
	h.mu.Unlock()
	slog.Info("overlay connected", slog.String("tenant", tenantID))

	// Reader loop only watches for close; overlays never send data.
	go func() {
		defer h.drop(tenantID, c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Alert broadcasts an event to every overlay connection of the tenant.
// No connections is a no-op, not an error.
func (h *Hub) Alert(tenantID, kind string, data map[string]any) {
	payload, err := json.Marshal(Event{Type: kind, Data: data, At: time.Now().UTC()})
	if err != nil {
		slog.Error("overlay event marshal failed", slog.String("kind", kind), slog.Any("err", err))
		return
	}
	h.mu.RLock()
	conns := make([]*client, 0, len(h.clients[tenantID]))
	for c := range h.clients[tenantID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.write(payload); err != nil {
			slog.Debug("overlay write failed, dropping connection", slog.String("tenant", tenantID), slog.Any("err", err))
			h.drop(tenantID, c)
		}
	}
}

func (h *Hub) drop(tenantID string, c *client) {
	h.mu.Lock()
	if set, ok := h.clients[tenantID]; ok {
		if _, present := set[c]; present {
			delete(set, c)
			if len(set) == 0 {
				delete(h.clients, tenantID)
			}
		}
	}
	h.mu.Unlock()
	_ = c.conn.Close()
}
