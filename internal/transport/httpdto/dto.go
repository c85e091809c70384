// Package httpdto defines the request/response shapes exchanged with
// the metadata service. The service itself is a black box; these are
// the contracts the messaging core consumes.
package httpdto

import (
	"cipherchat/internal/domain"
)

type Response[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

func NewSuccessResponse[T any](data T) Response[T] {
	return Response[T]{
		Success: true,
		Data:    data,
	}
}

func NewErrorResponse(err string, code string) Response[any] {
	return Response[any]{
		Success: false,
		Error:   err,
		Code:    code,
	}
}

// LoginRequest authenticates a device to the metadata service.
type LoginRequest struct {
	Identity string `json:"identity" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token string          `json:"token"`
	User  domain.Identity `json:"user"`
}

// UpdatePublicKeyRequest is used for POST /users/updatePublicKey. The
// public half of the device key is the durable identity artifact; the
// server stores it against the user record for peers to fetch.
type UpdatePublicKeyRequest struct {
	UserID    string `json:"userId" binding:"required"`
	PublicKey string `json:"publicKey" binding:"required"`
}

type PublicKeyResponse struct {
	UserID    string `json:"userId"`
	PublicKey string `json:"publicKey"`
}

type ChatListResponse struct {
	Chats []domain.Chat `json:"chats"`
}

// MessagesPageResponse is one page of stored envelopes, chronological
// ascending within the page.
type MessagesPageResponse struct {
	Messages []domain.EncryptedEnvelope `json:"messages"`
	Page     int                        `json:"page"`
	HasMore  bool                       `json:"hasMore"`
}
