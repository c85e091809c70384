// Package devserver is a reference implementation of the two black
// boxes the messaging core depends on: the metadata service (HTTP)
// and the realtime bus (websocket). It exists so the core can be run
// and integration-tested locally; it performs no trust verification
// of uploaded keys and stores everything in memory apart from the
// optional Redis presence set.
package devserver

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cipherchat/internal/transport/httpdto"
	"cipherchat/pkg/logger"

	"github.com/gin-gonic/gin"
)

type Server struct {
	auth     *Auth
	store    *Store
	hub      *Hub
	presence Presence
	log      *logger.Logger
	router   *gin.Engine
}

func New(auth *Auth, store *Store, presence Presence, log *logger.Logger) *Server {
	if presence == nil {
		presence = NewMemoryPresence()
	}
	s := &Server{
		auth:     auth,
		store:    store,
		hub:      NewHub(),
		presence: presence,
		log:      log,
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/auth/login", s.login)

	authed := r.Group("/", s.requireAuth)
	authed.POST("/users/updatePublicKey", s.updatePublicKey)
	authed.GET("/users/get-public-key", s.getPublicKey)
	authed.GET("/chats", s.listChats)
	authed.GET("/chats/:id/messages", s.getMessages)

	ws := &wsHandler{auth: auth, hub: s.hub, store: store, presence: presence, log: log}
	r.GET("/ws", ws.Connect)

	s.router = r
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ClientCount reports how many sockets are connected to the bus.
func (s *Server) ClientCount() int {
	return s.hub.ClientCount()
}

// RoomSize reports how many sockets have joined a chat room.
func (s *Server) RoomSize(chatID string) int {
	return s.hub.RoomSize(chatID)
}

// Run starts the hub loop and serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{Addr: addr, Handler: s.router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// RunHub starts only the hub loop. Used by httptest-based tests that
// serve the router themselves.
func (s *Server) RunHub(ctx context.Context) {
	go s.hub.Run(ctx)
}

func (s *Server) requireAuth(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	claims, err := s.auth.ParseToken(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}
	c.Set("user_id", claims.UserID)
	c.Next()
}

func (s *Server) login(c *gin.Context) {
	var req httpdto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_INPUT"))
		return
	}
	user, err := s.store.UserByName(req.Identity)
	if err != nil {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}
	if err := CheckPassword(user.PasswordHash, req.Password); err != nil {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}
	token, err := s.auth.IssueToken(user.Identity.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpdto.NewErrorResponse("token issue failed", "INTERNAL"))
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.LoginResponse{
		Token: token,
		User:  user.Identity,
	}))
}

func (s *Server) updatePublicKey(c *gin.Context) {
	var req httpdto.UpdatePublicKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_INPUT"))
		return
	}
	if req.UserID != c.GetString("user_id") {
		c.JSON(http.StatusForbidden, httpdto.NewErrorResponse("forbidden", "FORBIDDEN"))
		return
	}
	if err := s.store.SetPublicKey(req.UserID, req.PublicKey); err != nil {
		c.JSON(http.StatusNotFound, httpdto.NewErrorResponse("user not found", "NOT_FOUND"))
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.PublicKeyResponse{
		UserID:    req.UserID,
		PublicKey: req.PublicKey,
	}))
}

func (s *Server) getPublicKey(c *gin.Context) {
	userID := c.Query("userId")
	key, err := s.store.PublicKey(userID)
	if err != nil {
		c.JSON(http.StatusNotFound, httpdto.NewErrorResponse("no public key", "NOT_FOUND"))
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.PublicKeyResponse{
		UserID:    userID,
		PublicKey: key,
	}))
}

func (s *Server) listChats(c *gin.Context) {
	chats := s.store.ChatsForUser(c.GetString("user_id"))
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.ChatListResponse{Chats: chats}))
}

func (s *Server) getMessages(c *gin.Context) {
	chatID := c.Param("id")
	userID := c.GetString("user_id")

	chat, err := s.store.Chat(chatID)
	if err != nil {
		c.JSON(http.StatusNotFound, httpdto.NewErrorResponse("chat not found", "NOT_FOUND"))
		return
	}
	if _, ok := chat.Member(userID); !ok {
		c.JSON(http.StatusForbidden, httpdto.NewErrorResponse("forbidden", "FORBIDDEN"))
		return
	}

	page := 0
	if raw := c.Query("page"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			page = parsed
		}
	}
	messages, hasMore := s.store.MessagesPage(chatID, userID, page)
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.MessagesPageResponse{
		Messages: messages,
		Page:     page,
		HasMore:  hasMore,
	}))
}
