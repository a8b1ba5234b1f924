package ws

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client represents one WebSocket client connection.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	id     string
	send   chan []byte
	mu     sync.Mutex
	closed bool
}

// NewClient creates a new WebSocket client.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		id:   uuid.NewString(),
		send: make(chan []byte, 256),
	}
}

// Send queues a frame to be sent to the client. It never blocks: if the
// client's buffer is full the client is closed, so one slow connection
// cannot stall a broadcast.
func (c *Client) Send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- data:
	default:
		// Buffer full, close the client
		c.closeLocked()
	}
}

// Close closes the client's send queue.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed returns true if the client is closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ID returns the client's identifier, used for log correlation.
func (c *Client) ID() string {
	return c.id
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// SendChan returns the send channel for the client.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}

// Hub tracks the set of currently connected WebSocket clients. Membership
// always reflects exactly the open connections: Unregister removes the
// client before any later broadcast enumerates the set.
type Hub struct {
	clients map[*Client]bool
	mu      sync.RWMutex

	onMessage func(client *Client, data []byte)
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
	}
}

// SetOnMessage sets the callback for inbound client messages.
func (h *Hub) SetOnMessage(callback func(client *Client, data []byte)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onMessage = callback
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
}

// Unregister removes a client from the hub and closes it. Removing a client
// that is already gone is a no-op.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	_, present := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if present {
		client.Close()
	}
}

// Snapshot returns the current members for iteration. Concurrent
// register/unregister after the snapshot is taken does not affect the
// returned slice.
func (h *Hub) Snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// Broadcast hands the same frame to every currently registered client.
// No I/O happens under the registry lock; per-client delivery is decoupled
// through each client's send queue.
func (h *Hub) Broadcast(data []byte) {
	for _, client := range h.Snapshot() {
		client.Send(data)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleMessage processes an inbound message from a client.
func (h *Hub) HandleMessage(client *Client, data []byte) {
	h.mu.RLock()
	callback := h.onMessage
	h.mu.RUnlock()

	if callback != nil {
		callback(client, data)
	}
}

// Close closes all client connections and empties the hub.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]bool)
	h.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
}
