package handlers

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/solbill/netmetering/backend/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API already sits behind CORS; the websocket endpoint accepts
	// the same origins the REST surface does.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type LiveHandler struct {
	hub *services.LiveHub
}

func NewLiveHandler(hub *services.LiveHub) *LiveHandler {
	return &LiveHandler{hub: hub}
}

// Serve upgrades the connection and keeps it registered until the client
// goes away. The hub only pushes; inbound messages are drained and ignored.
func (h *LiveHandler) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ERROR: Websocket upgrade failed: %v", err)
		return
	}

	h.hub.Register(conn)

	go func() {
		defer h.hub.Unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
