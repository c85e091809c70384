package devserver

import (
	"context"
	"sync"
)

// roomRequest represents a room join/leave request
type roomRequest struct {
	client *client
	chatID string
	join   bool
}

// Hub manages connected sockets and chat-room membership for the dev
// bus. One hub per process; cross-node fan-out is out of scope.
type Hub struct {
	mu sync.RWMutex

	// clients maps client ID to client (for cleanup)
	clients map[string]*client

	// rooms maps chat ID to the set of sockets joined to it
	rooms map[string]map[*client]struct{}

	register   chan *client
	unregister chan *client
	membership chan roomRequest
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*client),
		rooms:      make(map[string]map[*client]struct{}),
		register:   make(chan *client, 256),
		unregister: make(chan *client, 256),
		membership: make(chan roomRequest, 512),
	}
}

// Run starts the hub's event loop
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		case req := <-h.membership:
			if req.join {
				h.joinRoom(req.client, req.chatID)
			} else {
				h.leaveRoom(req.client, req.chatID)
			}
		}
	}
}

func (h *Hub) Register(c *client) {
	h.register <- c
}

func (h *Hub) Unregister(c *client) {
	h.unregister <- c
}

func (h *Hub) Join(c *client, chatID string) {
	h.membership <- roomRequest{client: c, chatID: chatID, join: true}
}

func (h *Hub) Leave(c *client, chatID string) {
	h.membership <- roomRequest{client: c, chatID: chatID, join: false}
}

// BroadcastRoom sends a frame to every socket joined to a chat room,
// optionally excluding the originating client.
func (h *Hub) BroadcastRoom(chatID string, payload []byte, except *client) {
	h.mu.RLock()
	for c := range h.rooms[chatID] {
		if c == except {
			continue
		}
		c.send(payload)
	}
	h.mu.RUnlock()
}

// BroadcastToUser sends a frame to every socket of one user.
func (h *Hub) BroadcastToUser(userID string, payload []byte) {
	h.mu.RLock()
	for _, c := range h.clients {
		if c.userID == userID {
			c.send(payload)
		}
	}
	h.mu.RUnlock()
}

// ClientCount returns the number of connected sockets.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomSize returns the number of sockets joined to a chat room.
func (h *Hub) RoomSize(chatID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[chatID])
}

func (h *Hub) addClient(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for chatID := range c.rooms {
		if members, ok := h.rooms[chatID]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, chatID)
			}
		}
	}

	delete(h.clients, c.id)
	close(c.outbound)
}

func (h *Hub) joinRoom(c *client, chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.rooms[chatID]; !ok {
		h.rooms[chatID] = make(map[*client]struct{})
	}
	h.rooms[chatID][c] = struct{}{}
	c.joinRoom(chatID)
}

func (h *Hub) leaveRoom(c *client, chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.rooms[chatID]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, chatID)
		}
	}
	c.leaveRoom(chatID)
}
