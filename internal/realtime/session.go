// Package realtime implements the client side of the event bus: a
// websocket session with room membership, a handler registry, typing
// indicators and presence snapshots. Delivery is fire-and-forget;
// nothing here acknowledges or retries. History fetched over HTTP is
// the durable source of truth, the live stream only accelerates it.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	cipherchat_errors "cipherchat/pkg/errors"
	"cipherchat/pkg/logger"

	"github.com/gorilla/websocket"
)

// State of the session's connection lifecycle.
type State int

const (
	Disconnected State = iota
	Connecting
	Joined
)

// Handler receives the raw payload of one bus event.
type Handler func(payload json.RawMessage)

// Subscription identifies one registered handler so it can be removed
// symmetrically. Dropping a subscription without Off leaks the
// handler across chat navigations, which is how duplicate-message
// bugs happen.
type Subscription struct {
	event string
	id    uint64
}

type Session struct {
	url       string
	token     string
	subdomain string
	log       *logger.Logger

	mu       sync.RWMutex
	handlers map[string]map[uint64]Handler
	nextID   uint64
	state    State
	joined   map[string]struct{}

	conn   *websocket.Conn
	connMu sync.Mutex
	send   chan []byte

	dialer *websocket.Dialer
}

// NewSession builds a session for one bus endpoint. The subdomain
// scopes presence to the caller's institution.
func NewSession(url, token, subdomain string, log *logger.Logger) *Session {
	return &Session{
		url:       url,
		token:     token,
		subdomain: subdomain,
		log:       log,
		handlers:  make(map[string]map[uint64]Handler),
		joined:    make(map[string]struct{}),
		send:      make(chan []byte, 256),
		dialer:    websocket.DefaultDialer,
	}
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Run connects and keeps the session alive until ctx is cancelled,
// reconnecting with backoff on network loss. Room membership is not
// durable across reconnects, so joined rooms are re-issued after
// every successful dial.
func (s *Session) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			s.setState(Disconnected)
			return
		}
		s.setState(Connecting)

		conn, _, err := s.dialer.DialContext(ctx, s.url+"?token="+s.token+"&subdomain="+s.subdomain, nil)
		if err != nil {
			s.log.Warnf("realtime: dial failed: %v, retrying in %s", err, backoff)
			select {
			case <-ctx.Done():
				s.setState(Disconnected)
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		s.connMu.Lock()
		s.conn = conn
		s.connMu.Unlock()
		s.setState(Joined)
		s.rejoinRooms()

		connCtx, cancel := context.WithCancel(ctx)
		go s.writeLoop(connCtx, conn)
		s.readLoop(conn)
		cancel()
		s.setState(Disconnected)
	}
}

// readLoop dispatches inbound frames until the connection drops.
func (s *Session) readLoop(conn *websocket.Conn) {
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(10*time.Second))
	})
	for {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame struct {
			Event   string          `json:"event"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			s.log.Warnf("realtime: dropping malformed frame: %v", err)
			continue
		}
		s.Dispatch(frame.Event, frame.Payload)
	}
}

// writeLoop drains the send queue and keeps the connection pinged.
func (s *Session) writeLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return
		case msg := <-s.send:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

// On registers a handler for one event kind. Multiple handlers per
// event are allowed. The returned subscription must be passed to Off
// to detach exactly this handler.
func (s *Session) On(event string, h Handler) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	if s.handlers[event] == nil {
		s.handlers[event] = make(map[uint64]Handler)
	}
	s.handlers[event][s.nextID] = h
	return &Subscription{event: event, id: s.nextID}
}

// Off removes a previously registered handler. Detaching an already
// detached subscription is a no-op.
func (s *Session) Off(sub *Subscription) {
	if sub == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if hs, ok := s.handlers[sub.event]; ok {
		delete(hs, sub.id)
		if len(hs) == 0 {
			delete(s.handlers, sub.event)
		}
	}
}

// HandlerCount returns the number of handlers attached for an event.
func (s *Session) HandlerCount(event string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers[event])
}

// Dispatch invokes every handler registered for event. Exposed so the
// inbound loop and tests share one path.
func (s *Session) Dispatch(event string, payload json.RawMessage) {
	s.mu.RLock()
	hs := make([]Handler, 0, len(s.handlers[event]))
	for _, h := range s.handlers[event] {
		hs = append(hs, h)
	}
	s.mu.RUnlock()

	for _, h := range hs {
		h(payload)
	}
}

// Emit sends one event to the bus, fire-and-forget. When the session
// is disconnected or the outbound queue is full the event is dropped;
// there is no acknowledgement or retry at this layer.
func (s *Session) Emit(event string, payload interface{}) error {
	if s.State() == Disconnected {
		return cipherchat_errors.ErrNotConnected
	}
	frame, err := json.Marshal(struct {
		Event   string      `json:"event"`
		Payload interface{} `json:"payload"`
	}{Event: event, Payload: payload})
	if err != nil {
		return err
	}
	select {
	case s.send <- frame:
		return nil
	default:
		s.log.Warnf("realtime: outbound queue full, dropping %s", event)
		return nil
	}
}

// JoinRooms subscribes this session to the given chat rooms.
// Idempotent; the server stays the source of truth for authorization.
// Must be re-issued whenever the known chat set changes.
func (s *Session) JoinRooms(chatIDs []string) error {
	s.mu.Lock()
	for _, id := range chatIDs {
		s.joined[id] = struct{}{}
	}
	all := make([]string, 0, len(s.joined))
	for id := range s.joined {
		all = append(all, id)
	}
	s.mu.Unlock()
	return s.Emit(EventJoinChats, JoinChatsPayload{ChatIDs: all})
}

// rejoinRooms re-issues JOIN_CHATS after a reconnect.
func (s *Session) rejoinRooms() {
	s.mu.RLock()
	all := make([]string, 0, len(s.joined))
	for id := range s.joined {
		all = append(all, id)
	}
	s.mu.RUnlock()
	if len(all) > 0 {
		_ = s.Emit(EventJoinChats, JoinChatsPayload{ChatIDs: all})
	}
}

// RequestOnlineUsers pulls a presence snapshot. The response arrives
// as an ONLINE_USERS event on the registered handlers.
func (s *Session) RequestOnlineUsers(subdomain string) error {
	return s.Emit(EventGetOnlineUsers, GetOnlineUsersPayload{Subdomain: subdomain})
}
