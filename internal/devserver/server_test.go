package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cipherchat/internal/domain"
	"cipherchat/internal/realtime"
	"cipherchat/internal/transport/httpdto"
	"cipherchat/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *Store) {
	t.Helper()

	auth := NewAuth("test-secret", time.Hour)
	store := NewStore()

	for _, name := range []string{"alice", "bob"} {
		hash, err := HashPassword(name + "-password")
		require.NoError(t, err)
		require.NoError(t, store.AddUser(&User{
			Identity:     domain.Identity{UserID: "user-" + name, DisplayName: name},
			PasswordHash: hash,
		}))
	}
	store.AddChat(domain.Chat{
		ID:      "chat-1",
		IsGroup: true,
		Members: []domain.Identity{
			{UserID: "user-alice", DisplayName: "alice"},
			{UserID: "user-bob", DisplayName: "bob"},
		},
		AllowMembersToSend: true,
		CreatorID:          "user-alice",
	})

	return New(auth, store, NewMemoryPresence(), logger.Nop()), store
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) httpdto.Response[T] {
	t.Helper()
	var resp httpdto.Response[T]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func loginAs(t *testing.T, h http.Handler, name string) string {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/auth/login", "", httpdto.LoginRequest{
		Identity: name,
		Password: name + "-password",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[httpdto.LoginResponse](t, rec)
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.Data.Token)
	return resp.Data.Token
}

func TestLogin(t *testing.T) {
	s, _ := newTestServer(t)

	token := loginAs(t, s.Handler(), "alice")
	assert.NotEmpty(t, token)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/auth/login", "", httpdto.LoginRequest{
		Identity: "alice",
		Password: "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, s.Handler(), http.MethodPost, "/auth/login", "", httpdto.LoginRequest{
		Identity: "nobody",
		Password: "whatever",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s.Handler(), http.MethodGet, "/chats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, s.Handler(), http.MethodGet, "/chats", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPublicKeyLifecycle(t *testing.T) {
	s, store := newTestServer(t)
	h := s.Handler()
	aliceToken := loginAs(t, h, "alice")
	bobToken := loginAs(t, h, "bob")

	// No key published yet.
	rec := doJSON(t, h, http.MethodGet, "/users/get-public-key?userId=user-alice", bobToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// A user may only publish their own key.
	rec = doJSON(t, h, http.MethodPost, "/users/updatePublicKey", bobToken, httpdto.UpdatePublicKeyRequest{
		UserID:    "user-alice",
		PublicKey: "spoofed",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/users/updatePublicKey", aliceToken, httpdto.UpdatePublicKeyRequest{
		UserID:    "user-alice",
		PublicKey: "alice-armored-key",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/users/get-public-key?userId=user-alice", bobToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[httpdto.PublicKeyResponse](t, rec)
	assert.Equal(t, "alice-armored-key", resp.Data.PublicKey)

	// Publishing propagates into chat member records.
	chat, err := store.Chat("chat-1")
	require.NoError(t, err)
	member, ok := chat.Member("user-alice")
	require.True(t, ok)
	assert.Equal(t, "alice-armored-key", member.PublicKey)
}

func TestListChatsIsMembershipScoped(t *testing.T) {
	s, store := newTestServer(t)
	store.AddChat(domain.Chat{
		ID:      "chat-bob-only",
		Members: []domain.Identity{{UserID: "user-bob", DisplayName: "bob"}},
	})

	h := s.Handler()
	token := loginAs(t, h, "alice")

	rec := doJSON(t, h, http.MethodGet, "/chats", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[httpdto.ChatListResponse](t, rec)
	require.Len(t, resp.Data.Chats, 1)
	assert.Equal(t, "chat-1", resp.Data.Chats[0].ID)
}

func TestGetMessagesAccessControl(t *testing.T) {
	s, store := newTestServer(t)
	store.AddChat(domain.Chat{
		ID:      "chat-bob-only",
		Members: []domain.Identity{{UserID: "user-bob", DisplayName: "bob"}},
	})

	h := s.Handler()
	token := loginAs(t, h, "alice")

	rec := doJSON(t, h, http.MethodGet, "/chats/chat-bob-only/messages", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/chats/does-not-exist/messages", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetMessagesPagination(t *testing.T) {
	s, store := newTestServer(t)
	h := s.Handler()
	token := loginAs(t, h, "alice")

	for i := 0; i < 120; i++ {
		store.AppendEnvelope(domain.EncryptedEnvelope{
			ID:               fmt.Sprintf("env-%03d", i),
			ChatID:           "chat-1",
			To:               "user-alice",
			From:             domain.Identity{UserID: "user-bob"},
			EncryptedMessage: fmt.Sprintf("ct-%03d", i),
			CreatedAt:        time.Now().UTC(),
		})
	}

	// Page 0 is the newest window, ascending within the page.
	rec := doJSON(t, h, http.MethodGet, "/chats/chat-1/messages?page=0", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page0 := decode[httpdto.MessagesPageResponse](t, rec)
	require.Len(t, page0.Data.Messages, 50)
	assert.Equal(t, "env-070", page0.Data.Messages[0].ID)
	assert.Equal(t, "env-119", page0.Data.Messages[49].ID)
	assert.True(t, page0.Data.HasMore)

	rec = doJSON(t, h, http.MethodGet, "/chats/chat-1/messages?page=1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page1 := decode[httpdto.MessagesPageResponse](t, rec)
	require.Len(t, page1.Data.Messages, 50)
	assert.Equal(t, "env-020", page1.Data.Messages[0].ID)
	assert.True(t, page1.Data.HasMore)

	rec = doJSON(t, h, http.MethodGet, "/chats/chat-1/messages?page=2", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page2 := decode[httpdto.MessagesPageResponse](t, rec)
	require.Len(t, page2.Data.Messages, 20)
	assert.Equal(t, "env-000", page2.Data.Messages[0].ID)
	assert.False(t, page2.Data.HasMore)

	rec = doJSON(t, h, http.MethodGet, "/chats/chat-1/messages?page=9", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	empty := decode[httpdto.MessagesPageResponse](t, rec)
	assert.Empty(t, empty.Data.Messages)
	assert.False(t, empty.Data.HasMore)
}

func TestMessagesPageFiltersByAddressee(t *testing.T) {
	_, store := newTestServer(t)

	// One authored message fans out to one envelope per member; each
	// member must only ever see their own copies (plus ones they sent).
	store.AppendEnvelope(domain.EncryptedEnvelope{ID: "to-alice", ChatID: "chat-1", To: "user-alice", From: domain.Identity{UserID: "user-bob"}})
	store.AppendEnvelope(domain.EncryptedEnvelope{ID: "to-bob", ChatID: "chat-1", To: "user-bob", From: domain.Identity{UserID: "user-bob"}})
	store.AppendEnvelope(domain.EncryptedEnvelope{ID: "to-carol", ChatID: "chat-1", To: "user-carol", From: domain.Identity{UserID: "user-bob"}})

	page, hasMore := store.MessagesPage("chat-1", "user-alice", 0)
	require.Len(t, page, 1)
	assert.Equal(t, "to-alice", page[0].ID)
	assert.False(t, hasMore)

	// The author sees every envelope they sent.
	page, _ = store.MessagesPage("chat-1", "user-bob", 0)
	assert.Len(t, page, 3)
}

func TestGroupMessageRouteEnforcesSenderAndMembership(t *testing.T) {
	store := NewStore()
	store.AddChat(domain.Chat{
		ID: "chat-1",
		Members: []domain.Identity{
			{UserID: "user-alice", DisplayName: "alice"},
			{UserID: "user-bob", DisplayName: "bob"},
		},
	})
	h := &wsHandler{
		auth:     NewAuth("test-secret", time.Hour),
		hub:      NewHub(),
		store:    store,
		presence: NewMemoryPresence(),
		log:      logger.Nop(),
	}

	emit := func(cl *client, env domain.EncryptedEnvelope) {
		payload, err := json.Marshal(realtime.GroupMessagePayload{Messages: []domain.EncryptedEnvelope{env}})
		require.NoError(t, err)
		h.route(context.Background(), cl, "default", frame{Event: realtime.EventNewGroupMessage, Payload: payload})
	}

	alice := newClient(nil, "user-alice")
	mallory := newClient(nil, "user-mallory")

	// A member with an honest sender field is persisted.
	emit(alice, domain.EncryptedEnvelope{ChatID: "chat-1", To: "user-bob", From: domain.Identity{UserID: "user-alice"}})
	page, _ := store.MessagesPage("chat-1", "user-bob", 0)
	require.Len(t, page, 1)

	// Spoofed sender: dropped.
	emit(alice, domain.EncryptedEnvelope{ChatID: "chat-1", To: "user-bob", From: domain.Identity{UserID: "user-bob"}})
	// Authenticated non-member: dropped even with an honest sender.
	emit(mallory, domain.EncryptedEnvelope{ChatID: "chat-1", To: "user-alice", From: domain.Identity{UserID: "user-mallory"}})
	// Unknown chat: dropped.
	emit(alice, domain.EncryptedEnvelope{ChatID: "chat-x", To: "user-bob", From: domain.Identity{UserID: "user-alice"}})

	page, _ = store.MessagesPage("chat-1", "user-bob", 0)
	assert.Len(t, page, 1)
	page, _ = store.MessagesPage("chat-1", "user-alice", 0)
	assert.Len(t, page, 1, "only the member's own envelope may remain")
	page, _ = store.MessagesPage("chat-x", "user-bob", 0)
	assert.Empty(t, page)
}

func TestTokenRoundTrip(t *testing.T) {
	auth := NewAuth("secret-a", time.Hour)

	token, err := auth.IssueToken("user-42")
	require.NoError(t, err)

	claims, err := auth.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", claims.UserID)

	_, err = auth.ParseToken("")
	assert.Error(t, err)

	other := NewAuth("secret-b", time.Hour)
	_, err = other.ParseToken(token)
	assert.Error(t, err, "token signed with a different secret must be rejected")
}
