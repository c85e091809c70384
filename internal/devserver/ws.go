package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"cipherchat/internal/domain"
	"cipherchat/internal/realtime"
	"cipherchat/internal/transport/httpdto"
	"cipherchat/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func encodeFrame(event string, payload interface{}) []byte {
	data, _ := json.Marshal(struct {
		Event   string      `json:"event"`
		Payload interface{} `json:"payload"`
	}{Event: event, Payload: payload})
	return data
}

// wsHandler upgrades authenticated sockets and routes bus events.
type wsHandler struct {
	auth     *Auth
	hub      *Hub
	store    *Store
	presence Presence
	log      *logger.Logger
}

func (h *wsHandler) Connect(c *gin.Context) {
	token := c.Query("token")
	claims, err := h.auth.ParseToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}
	subdomain := c.Query("subdomain")
	if subdomain == "" {
		subdomain = "default"
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	cl := newClient(conn, claims.UserID)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.hub.Register(cl)
	go cl.writeLoop(ctx)
	_ = h.presence.SetOnline(ctx, subdomain, claims.UserID)

	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(10*time.Second))
	})
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			h.log.Warnf("ws: malformed frame from %s: %v", claims.UserID, err)
			continue
		}
		h.route(ctx, cl, subdomain, f)
	}

	_ = h.presence.SetOffline(context.Background(), subdomain, claims.UserID)
	h.hub.Unregister(cl)
}

func (h *wsHandler) route(ctx context.Context, cl *client, subdomain string, f frame) {
	switch f.Event {
	case realtime.EventJoinChats:
		var p realtime.JoinChatsPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return
		}
		for _, chatID := range p.ChatIDs {
			chat, err := h.store.Chat(chatID)
			if err != nil {
				continue
			}
			// The server is the source of truth for authorization:
			// only members get the room.
			if _, ok := chat.Member(cl.userID); !ok {
				continue
			}
			h.hub.Join(cl, chatID)
		}

	case realtime.EventNewGroupMessage:
		var p struct {
			Messages []domain.EncryptedEnvelope `json:"messages"`
		}
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return
		}
		for _, env := range p.Messages {
			if env.From.UserID != cl.userID {
				// Spoofed sender, drop the envelope.
				continue
			}
			// Same membership rule as JOIN_CHATS: only members may
			// append envelopes into a chat.
			chat, err := h.store.Chat(env.ChatID)
			if err != nil {
				continue
			}
			if _, ok := chat.Member(cl.userID); !ok {
				continue
			}
			if env.ID == "" {
				env.ID = uuid.New().String()
			}
			if env.CreatedAt.IsZero() {
				env.CreatedAt = time.Now().UTC()
			}
			h.store.AppendEnvelope(env)
			h.hub.BroadcastToUser(env.To, encodeFrame(realtime.EventNewMessage, env))
			h.hub.BroadcastToUser(env.To, encodeFrame(realtime.EventNewMessageAlert, map[string]string{
				"chatId": env.ChatID,
				"from":   env.From.UserID,
			}))
		}

	case realtime.EventStartTyping, realtime.EventStopTyping:
		var p realtime.TypingPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return
		}
		if !cl.inRoom(p.ChatID) {
			return
		}
		h.hub.BroadcastRoom(p.ChatID, encodeFrame(f.Event, p), cl)

	case realtime.EventGetOnlineUsers:
		var p realtime.GetOnlineUsersPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return
		}
		if p.Subdomain == "" {
			p.Subdomain = subdomain
		}
		users, err := h.presence.OnlineUsers(ctx, p.Subdomain)
		if err != nil {
			h.log.Errorf("ws: presence snapshot failed: %v", err)
			return
		}
		cl.send(encodeFrame(realtime.EventOnlineUsers, realtime.OnlineUsersPayload{UserIDs: users}))

	default:
		h.log.Debugf("ws: ignoring event %q from %s", f.Event, cl.userID)
	}
}
