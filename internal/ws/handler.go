package ws

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/esp32-bridge/bridge/internal/buffer"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The bridge runs on a trusted local network, any origin may connect.
		return true
	},
}

// Handler accepts inbound WebSocket connections on every path and manages
// the bidirectional relay pumps for each client.
type Handler struct {
	hub     *Hub
	history *buffer.LineBuffer // may be nil
}

// NewHandler creates a new WebSocket handler. history may be nil to disable
// replay on connect.
func NewHandler(hub *Hub, history *buffer.LineBuffer) *Handler {
	return &Handler{
		hub:     hub,
		history: history,
	}
}

// ServeHTTP upgrades the HTTP connection to WebSocket, replays buffered
// device events, registers the client and starts the read and write pumps.
// There is no path routing: every path upgrades.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := NewClient(h.hub, conn)

	// Queue the replay before registering so buffered events always precede
	// live broadcasts in the client's send queue.
	h.sendHistory(client)
	h.hub.Register(client)
	log.Printf("WebSocket client %s connected. Total clients: %d", client.ID(), h.hub.ClientCount())

	go h.writePump(client)
	go h.readPump(client)
}

// sendHistory replays buffered recent device events, each in its own text
// frame so clients parse them like live traffic.
func (h *Handler) sendHistory(client *Client) {
	if h.history == nil {
		return
	}

	for _, line := range h.history.Lines() {
		client.Send(line)
	}
}

// readPump pumps messages from the WebSocket connection into the hub.
// It also owns teardown: when the connection drops, gracefully or not, the
// client is unregistered before returning.
func (h *Handler) readPump(client *Client) {
	defer func() {
		h.hub.Unregister(client)
		client.Conn().Close()
		log.Printf("WebSocket client %s disconnected. Total clients: %d", client.ID(), h.hub.ClientCount())
	}()

	client.Conn().SetReadDeadline(time.Now().Add(pongWait))
	client.Conn().SetPongHandler(func(string) error {
		client.Conn().SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := client.Conn().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		h.hub.HandleMessage(client, message)
	}
}

// writePump pumps frames from the client's send queue to the WebSocket
// connection. A write failure closes the connection, which unregisters the
// client via readPump without affecting the other clients.
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn().Close()
	}()

	for {
		select {
		case message, ok := <-client.SendChan():
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the client
				client.Conn().WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// Each frame carries one JSON value so clients can parse
			// frame-by-frame.
			if err := client.Conn().WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			n := len(client.SendChan())
			for i := 0; i < n; i++ {
				queued := <-client.SendChan()
				client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.Conn().WriteMessage(websocket.TextMessage, queued); err != nil {
					return
				}
			}
		case <-ticker.C:
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn().WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
