package realtime

import (
	"cipherchat/internal/domain"
)

// Bus event names. These are part of the wire contract and must match
// the backend exactly.
const (
	EventJoinChats       = "JOIN_CHATS"
	EventGetOnlineUsers  = "GET_ONLINE_USERS"
	EventOnlineUsers     = "ONLINE_USERS"
	EventNewMessage      = "NEW_MESSAGE"
	EventNewGroupMessage = "NEW_GROUP_MESSAGE"
	EventNewMessageAlert = "NEW_MESSAGE_ALERT"
	EventStartTyping     = "START_TYPING"
	EventStopTyping      = "STOP_TYPING"
	EventAlert           = "ALERT"
)

// GroupMessagePayload is the envelope batch sent on NEW_GROUP_MESSAGE:
// `{ messages: [{ to, from, encryptedMessage, chatId, institution }] }`.
type GroupMessagePayload struct {
	Messages []domain.EncryptedEnvelope `json:"messages"`
}

// TypingPayload is carried by START_TYPING and STOP_TYPING.
type TypingPayload struct {
	ChatID     string `json:"chatId"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
}

// OnlineUsersPayload is the point-in-time presence snapshot returned
// for each GET_ONLINE_USERS pull. There is no incremental diff stream.
type OnlineUsersPayload struct {
	UserIDs []string `json:"userIds"`
}

// GetOnlineUsersPayload is the presence snapshot request.
type GetOnlineUsersPayload struct {
	Subdomain string `json:"subdomain"`
}

// JoinChatsPayload carries the room ids a client wants delivery for.
type JoinChatsPayload struct {
	ChatIDs []string `json:"chatIds"`
}
