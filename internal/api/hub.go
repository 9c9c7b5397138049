package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

const sendBuffer = 256

// Notification is the envelope pushed to websocket clients.
type Notification struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Hub fans bus-driven notifications out to the websocket clients of each
// room. Clients too slow to drain their send buffer are dropped.
type Hub struct {
	mu         sync.Mutex
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
}

type client struct {
	hub    *Hub
	roomID string
	userID string
	conn   *websocket.Conn
	send   chan []byte

	// teardown for the subscriptions owned by this connection
	cancels []func()
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

// Run owns the client set until ctx is canceled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			slog.Info("hub: client registered", "room", c.roomID, "user", c.userID)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			for _, cancel := range c.cancels {
				cancel()
			}
			slog.Info("hub: client unregistered", "room", c.roomID, "user", c.userID)
		}
	}
}

// BroadcastToRoom pushes a notification to every client of the room.
func (h *Hub) BroadcastToRoom(roomID, event string, data any) {
	raw, err := json.Marshal(Notification{Event: event, Data: data})
	if err != nil {
		slog.Error("hub: marshal notification failed", "event", event, "error", err)
		return
	}

	// the slow-consumer branch mutates the client set, so broadcasts take the
	// write lock; evictions stay serialized with unregister and closeAll
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		if c.roomID != roomID {
			continue
		}

		select {
		case c.send <- raw:
		default:
			// slow consumer, let the write pump die
			close(c.send)
			delete(h.clients, c)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) registerClient(conn *websocket.Conn, roomID, userID string, cancels ...func()) {
	c := &client{
		hub:     h,
		roomID:  roomID,
		userID:  userID,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		cancels: cancels,
	}

	h.register <- c

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	// the client only listens; reads just detect the close
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("hub: read failed", "room", c.roomID, "user", c.userID, "error", err)
			}
			return
		}
	}
}

func (c *client) writePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}

	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
