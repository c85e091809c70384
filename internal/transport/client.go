// Package transport is the HTTP client for the metadata service:
// login, public-key publication and lookup, chat membership, and
// paginated message history. The service persists chat metadata and
// envelopes; this client only consumes its contract.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"cipherchat/internal/domain"
	"cipherchat/internal/transport/httpdto"
	cipherchat_errors "cipherchat/pkg/errors"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Token returns the bearer token obtained at login.
func (c *Client) Token() string {
	return c.token
}

// Login authenticates and stores the bearer token for later calls.
func (c *Client) Login(ctx context.Context, identity, password string) (domain.Identity, error) {
	var resp httpdto.Response[httpdto.LoginResponse]
	err := c.do(ctx, http.MethodPost, "/auth/login", httpdto.LoginRequest{
		Identity: identity,
		Password: password,
	}, &resp)
	if err != nil {
		return domain.Identity{}, err
	}
	c.token = resp.Data.Token
	return resp.Data.User, nil
}

// UpdatePublicKey publishes the public half of the device key.
func (c *Client) UpdatePublicKey(ctx context.Context, userID, publicKey string) error {
	var resp httpdto.Response[httpdto.PublicKeyResponse]
	return c.do(ctx, http.MethodPost, "/users/updatePublicKey", httpdto.UpdatePublicKeyRequest{
		UserID:    userID,
		PublicKey: publicKey,
	}, &resp)
}

// GetPublicKey fetches another user's current public key.
func (c *Client) GetPublicKey(ctx context.Context, userID string) (string, error) {
	var resp httpdto.Response[httpdto.PublicKeyResponse]
	path := "/users/get-public-key?userId=" + url.QueryEscape(userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", err
	}
	return resp.Data.PublicKey, nil
}

// ListChats returns the chats the authenticated user belongs to,
// member records included. Member public keys ride along so the
// fan-out never needs a per-member key fetch.
func (c *Client) ListChats(ctx context.Context) ([]domain.Chat, error) {
	var resp httpdto.Response[httpdto.ChatListResponse]
	if err := c.do(ctx, http.MethodGet, "/chats", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data.Chats, nil
}

// GetMessages fetches one page of stored envelopes for a chat. Page 0
// is the newest; higher pages reach further back as the user scrolls.
func (c *Client) GetMessages(ctx context.Context, chatID string, page int) ([]domain.EncryptedEnvelope, bool, error) {
	var resp httpdto.Response[httpdto.MessagesPageResponse]
	path := "/chats/" + url.PathEscape(chatID) + "/messages?page=" + strconv.Itoa(page)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, false, err
	}
	return resp.Data.Messages, resp.Data.HasMore, nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", cipherchat_errors.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return cipherchat_errors.ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return cipherchat_errors.ErrNotFound
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: status %d", cipherchat_errors.ErrServiceUnavailable, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
