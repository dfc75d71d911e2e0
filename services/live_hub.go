package services

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/solbill/netmetering/backend/models"
)

// LiveHub pushes newly stored readings to connected dashboard clients so
// the billing table refreshes without polling.
type LiveHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

func NewLiveHub() *LiveHub {
	return &LiveHub{clients: make(map[*websocket.Conn]bool)}
}

func (h *LiveHub) Register(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = true
	count := len(h.clients)
	h.mu.Unlock()
	log.Printf("[LIVE] Client connected (%d total)", count)
}

func (h *LiveHub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	count := len(h.clients)
	h.mu.Unlock()
	conn.Close()
	log.Printf("[LIVE] Client disconnected (%d total)", count)
}

type liveEvent struct {
	Type    string         `json:"type"`
	Reading models.Reading `json:"reading"`
}

// BroadcastReading fans a stored reading out to every client. Clients
// that fail to receive are dropped.
func (h *LiveHub) BroadcastReading(r models.Reading) {
	payload, err := json.Marshal(liveEvent{Type: "reading", Reading: r})
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("WARNING: [LIVE] Dropping client: %v", err)
			delete(h.clients, conn)
			conn.Close()
		}
	}
}

func (h *LiveHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
