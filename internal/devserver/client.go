package devserver

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// client represents one connected socket on the dev bus.
type client struct {
	id       string
	userID   string
	conn     *websocket.Conn
	outbound chan []byte
	rooms    map[string]bool
	mu       sync.RWMutex // protects rooms and conn writes
}

func newClient(conn *websocket.Conn, userID string) *client {
	return &client{
		id:       uuid.New().String(),
		userID:   userID,
		conn:     conn,
		outbound: make(chan []byte, 256),
		rooms:    make(map[string]bool),
	}
}

func (c *client) joinRoom(chatID string) {
	c.mu.Lock()
	c.rooms[chatID] = true
	c.mu.Unlock()
}

func (c *client) leaveRoom(chatID string) {
	c.mu.Lock()
	delete(c.rooms, chatID)
	c.mu.Unlock()
}

func (c *client) inRoom(chatID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rooms[chatID]
}

// writeLoop drains outbound frames and keeps the socket pinged.
func (c *client) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.close()
			return
		case msg, ok := <-c.outbound:
			if !ok {
				c.close()
				return
			}
			c.mu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			_ = c.conn.WriteMessage(websocket.TextMessage, msg)
			c.mu.Unlock()
		case <-ticker.C:
			c.mu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			_ = c.conn.WriteMessage(websocket.PingMessage, []byte("ping"))
			c.mu.Unlock()
		}
	}
}

func (c *client) close() {
	c.mu.Lock()
	_ = c.conn.Close()
	c.mu.Unlock()
}

// send enqueues a frame without blocking; a full queue drops the
// frame, matching the bus's at-most-once delivery.
func (c *client) send(msg []byte) {
	select {
	case c.outbound <- msg:
	default:
	}
}
