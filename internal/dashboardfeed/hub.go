// Package dashboardfeed pushes live per-zone counts to the retail
// dashboard over a websocket connection, gated by the same JWT scheme the
// rest of the platform uses.
package dashboardfeed

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/technosupport/peoplecounter/internal/tokens"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ZoneSnapshot is one zone's counts broadcast to every connected client.
type ZoneSnapshot struct {
	ChannelID    int    `json:"channel_id"`
	ZoneID       string `json:"zone_id"`
	ZoneName     string `json:"zone_name"`
	Enter        int    `json:"enter"`
	Exit         int    `json:"exit"`
	Total        int    `json:"total"`
	Current      int    `json:"current"`
	GlobalEnter  int    `json:"global_enter"`
	GlobalExit   int    `json:"global_exit"`
	GlobalUnique int    `json:"global_unique"`
}

// Snapshot is the full payload pushed to every subscriber on each publish.
type Snapshot struct {
	Zones []ZoneSnapshot `json:"zones"`
}

type client struct {
	conn *websocket.Conn
	send chan Snapshot
}

// Hub fans out Snapshots to every connected dashboard client. One Hub
// serves every channel; the composition root publishes one Snapshot
// covering every channel on each tick.
type Hub struct {
	Tokens *tokens.Manager

	mu      sync.Mutex
	clients map[*client]bool
}

// NewHub builds a Hub that validates incoming connections with tm.
func NewHub(tm *tokens.Manager) *Hub {
	return &Hub{Tokens: tm, clients: map[*client]bool{}}
}

// ServeWS upgrades an authenticated HTTP request to a websocket
// connection and registers it for broadcast. The token is passed as a
// query parameter, matching the platform's existing websocket auth
// convention.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	if _, err := h.Tokens.ValidateToken(tokenStr); err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ERROR] dashboardfeed: ws upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan Snapshot, 16)}
	h.register(c)

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// readLoop discards inbound messages (the dashboard is read-only) and
// exists solely to detect disconnects.
func (h *Hub) readLoop(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	for snap := range c.send {
		if err := c.conn.WriteJSON(snap); err != nil {
			return
		}
	}
}

// Broadcast pushes a Snapshot to every currently connected client,
// dropping it for any client whose send buffer is full rather than
// blocking the publisher on a slow reader.
func (h *Hub) Broadcast(snap Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- snap:
		default:
		}
	}
}

// ClientCount reports the number of currently connected dashboard
// clients, for health/metrics reporting.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// MarshalSnapshot is a small helper exposed for callers (e.g. an HTTP
// polling fallback endpoint) that want the same JSON shape without going
// through the websocket hub.
func MarshalSnapshot(snap Snapshot) ([]byte, error) {
	return json.Marshal(snap)
}
