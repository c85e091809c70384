// Package client wires the messaging core into a device client:
// key lifecycle at first login, the encrypted send path, the live
// receive path, chat switching, and history reconciliation.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"cipherchat/config"
	"cipherchat/internal/attachments"
	"cipherchat/internal/cryptoengine"
	"cipherchat/internal/domain"
	"cipherchat/internal/fanout"
	"cipherchat/internal/keystore"
	"cipherchat/internal/realtime"
	"cipherchat/internal/syncengine"
	"cipherchat/internal/transport"
	cipherchat_errors "cipherchat/pkg/errors"
	"cipherchat/pkg/logger"
)

// reconcileInterval is how often the newest history page is re-fetched
// to catch live events the socket dropped.
const reconcileInterval = 30 * time.Second

// keySource adapts the keystore slot to the interfaces the fan-out
// and sync engine consume.
type keySource struct {
	store *keystore.KeyStore
}

func (k keySource) PrivateKey() (string, bool, error) {
	return k.store.Get(keystore.PrivateKeySlot)
}

type Client struct {
	cfg       *config.Config
	log       *logger.Logger
	keys      *keystore.KeyStore
	transport *transport.Client
	uploader  *attachments.Uploader

	identity domain.Identity
	session  *realtime.Session
	engine   *syncengine.Engine
	composer *fanout.Composer
	typing   *realtime.TypingNotifier
	tracker  *realtime.TypingTracker

	mu         sync.Mutex
	chats      map[string]domain.Chat
	activeChat string
	generation uint64
	page       int
	draft      []domain.Attachment
	subs       []*realtime.Subscription
}

func New(cfg *config.Config, keys *keystore.KeyStore, log *logger.Logger) *Client {
	return &Client{
		cfg:       cfg,
		log:       log,
		keys:      keys,
		transport: transport.NewClient(cfg.ServerURL),
		chats:     make(map[string]domain.Chat),
	}
}

// SetUploader enables attachment uploads. Optional; text-only clients
// never need object storage.
func (c *Client) SetUploader(u *attachments.Uploader) {
	c.uploader = u
}

// Login authenticates against the metadata service and provisions the
// device key if this is the first login: generate once, store the
// private half locally, publish the public half. The key is never
// rotated afterwards.
func (c *Client) Login(ctx context.Context, identity, password string) error {
	user, err := c.transport.Login(ctx, identity, password)
	if err != nil {
		return err
	}
	c.identity = user

	if err := c.ensureKey(ctx); err != nil {
		return err
	}

	source := keySource{store: c.keys}
	c.session = realtime.NewSession(c.cfg.BusURL, c.transport.Token(), c.cfg.Institution, c.log)
	c.engine = syncengine.NewEngine(&syncengine.EnvelopeDecryptor{
		Keys:       source,
		Passphrase: c.cfg.KeyPassphrase,
	}, user.UserID, c.log)
	c.composer = fanout.NewComposer(source, c.cfg.KeyPassphrase, c.cfg.Institution, c.log)
	c.typing = realtime.NewTypingNotifier(c.session, user.UserID, user.DisplayName)
	c.tracker = realtime.NewTypingTracker()
	return nil
}

func (c *Client) ensureKey(ctx context.Context) error {
	armored, found, err := c.keys.Get(keystore.PrivateKeySlot)
	if err != nil {
		return err
	}
	if found {
		// Envelopes carry the sender identity with its public key so
		// receivers can verify signatures; keep it populated even when
		// the login response predates key publication.
		pub, err := cryptoengine.PublicKeyFromPrivate(armored)
		if err != nil {
			return err
		}
		c.identity.PublicKey = pub
		return nil
	}

	c.log.Infof("no device key found, generating one for %s", c.identity.UserID)
	pair, err := cryptoengine.GenerateKeyPair(c.identity.DisplayName, c.identity.UserID+"@cipherchat.local", c.cfg.KeyPassphrase)
	if err != nil {
		return err
	}
	if err := c.keys.Put(keystore.PrivateKeySlot, pair.PrivateKeyArmored); err != nil {
		return err
	}
	if err := c.transport.UpdatePublicKey(ctx, c.identity.UserID, pair.PublicKeyArmored); err != nil {
		// The public half never reached the server; peers cannot
		// encrypt to us. Drop the local half so the next login
		// retries provisioning from scratch.
		_ = c.keys.Delete(keystore.PrivateKeySlot)
		return fmt.Errorf("publishing public key: %w", err)
	}
	c.identity.PublicKey = pair.PublicKeyArmored
	return nil
}

// Identity returns the logged-in user.
func (c *Client) Identity() domain.Identity {
	return c.identity
}

// Start connects the realtime session, joins the user's chat rooms
// and begins the reconciliation ticker. Blocks until ctx is
// cancelled.
func (c *Client) Start(ctx context.Context) error {
	if c.session == nil {
		return cipherchat_errors.ErrUnauthorized
	}

	go c.session.Run(ctx)

	chats, err := c.transport.ListChats(ctx)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(chats))
	c.mu.Lock()
	for _, chat := range chats {
		c.chats[chat.ID] = chat
		ids = append(ids, chat.ID)
	}
	c.mu.Unlock()
	_ = c.session.JoinRooms(ids)

	go c.reconcileLoop(ctx)
	<-ctx.Done()
	return nil
}

// OpenChat switches the active chat. All per-chat state — message
// list, typing timers, attachment draft, event handlers — is cleared
// before anything from the new chat is processed; a stale draft or a
// late decrypt leaking into the next chat is a correctness bug, not a
// cosmetic one.
func (c *Client) OpenChat(ctx context.Context, chatID string) error {
	c.mu.Lock()
	if _, ok := c.chats[chatID]; !ok {
		c.mu.Unlock()
		return cipherchat_errors.ErrNotFound
	}

	// Detach the previous chat's handlers before touching anything
	// else; symmetric detach keeps listeners from stacking up across
	// navigations.
	for _, sub := range c.subs {
		c.session.Off(sub)
	}
	c.subs = nil
	c.activeChat = chatID
	c.page = 0
	c.draft = nil
	c.mu.Unlock()

	c.tracker.Reset()
	generation := c.engine.OpenChat(chatID)
	c.mu.Lock()
	c.generation = generation
	c.mu.Unlock()

	c.attachHandlers(generation)

	envelopes, _, err := c.transport.GetMessages(ctx, chatID, 0)
	if err != nil {
		return err
	}
	go c.engine.ApplyHistoryPage(ctx, generation, envelopes)
	return nil
}

func (c *Client) attachHandlers(generation uint64) {
	newMessage := c.session.On(realtime.EventNewMessage, func(payload json.RawMessage) {
		var env domain.EncryptedEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			c.log.Warnf("client: malformed NEW_MESSAGE payload: %v", err)
			return
		}
		c.engine.HandleLiveEnvelope(generation, env)
	})
	startTyping := c.session.On(realtime.EventStartTyping, func(payload json.RawMessage) {
		var p realtime.TypingPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return
		}
		if p.ChatID == c.ActiveChat() {
			c.tracker.HandleStart(p)
		}
	})
	stopTyping := c.session.On(realtime.EventStopTyping, func(payload json.RawMessage) {
		var p realtime.TypingPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return
		}
		c.tracker.HandleStop(p)
	})

	c.mu.Lock()
	c.subs = append(c.subs, newMessage, startTyping, stopTyping)
	c.mu.Unlock()
}

// ActiveChat returns the id of the open chat.
func (c *Client) ActiveChat() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeChat
}

// LoadOlder fetches the next (older) history page. The page cursor
// only advances on a successful fetch, so a transient transport error
// retries the same page instead of skipping it.
func (c *Client) LoadOlder(ctx context.Context) error {
	c.mu.Lock()
	chatID := c.activeChat
	generation := c.generation
	page := c.page + 1
	c.mu.Unlock()
	if chatID == "" {
		return cipherchat_errors.ErrInvalidInput
	}

	envelopes, _, err := c.transport.GetMessages(ctx, chatID, page)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.activeChat == chatID && c.generation == generation {
		c.page = page
	}
	c.mu.Unlock()
	go c.engine.ApplyHistoryPage(ctx, generation, envelopes)
	return nil
}

// AttachFile uploads a blob and adds it to the outgoing draft. The
// blob itself is not encrypted; only the caption text will be.
func (c *Client) AttachFile(ctx context.Context, fileName, contentType string, size int64, body io.Reader) error {
	if c.uploader == nil {
		return cipherchat_errors.ErrServiceUnavailable
	}
	att, err := c.uploader.Upload(ctx, fileName, contentType, size, body)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.draft = append(c.draft, att)
	c.mu.Unlock()
	return nil
}

// Keystroke reports typing activity in the active chat.
func (c *Client) Keystroke() {
	if chatID := c.ActiveChat(); chatID != "" {
		c.typing.Keystroke(chatID)
	}
}

// Send encrypts the message once per member of the active chat, emits
// the envelope batch on the bus, and appends an optimistic local echo.
// A partial fan-out does not abort the send; the returned result says
// how many envelopes were produced versus expected.
func (c *Client) Send(ctx context.Context, body string) (fanout.Result, error) {
	c.mu.Lock()
	chatID := c.activeChat
	generation := c.generation
	chat, ok := c.chats[chatID]
	draft := c.draft
	c.draft = nil
	c.mu.Unlock()
	if !ok {
		return fanout.Result{}, cipherchat_errors.ErrInvalidInput
	}
	if !chat.AllowMembersToSend && !chat.IsAdmin(c.identity.UserID) && chat.CreatorID != c.identity.UserID {
		return fanout.Result{}, cipherchat_errors.ErrForbidden
	}

	msg := domain.PlaintextMessage{ChatID: chatID, Body: body, Attachments: draft}
	result, err := c.composer.Compose(ctx, msg, chat, c.identity)
	if err != nil {
		return result, err
	}
	if partial := result.PartialError(); partial != nil {
		c.log.Warnf("send: %v", partial)
	}

	if len(result.Envelopes) > 0 {
		_ = c.session.Emit(realtime.EventNewGroupMessage, realtime.GroupMessagePayload{
			Messages: result.Envelopes,
		})
	}

	c.typing.Stop(chatID)

	// The echo carries the id of our self-addressed envelope so a
	// later reconcile of stored history dedupes instead of showing
	// the message twice.
	echo := domain.DecryptedMessage{
		ChatID:      chatID,
		Sender:      c.identity,
		Content:     body,
		Attachments: draft,
		CreatedAt:   time.Now().UTC(),
		Receiver:    c.identity.UserID,
	}
	for _, env := range result.Envelopes {
		if env.To == c.identity.UserID {
			echo.ID = env.ID
			echo.CreatedAt = env.CreatedAt
			break
		}
	}
	c.engine.AppendLocalEcho(generation, echo)
	return result, nil
}

// Messages returns the visible decrypted list for the active chat.
func (c *Client) Messages() []domain.DecryptedMessage {
	return c.engine.Messages()
}

// TypingUsers returns who is typing in the active chat.
func (c *Client) TypingUsers() []string {
	return c.tracker.TypingUsers()
}

// RequestOnlineUsers pulls a presence snapshot for the institution.
func (c *Client) RequestOnlineUsers() error {
	return c.session.RequestOnlineUsers(c.cfg.Institution)
}

// OnOnlineUsers registers a handler for presence snapshots.
func (c *Client) OnOnlineUsers(handler func(userIDs []string)) *realtime.Subscription {
	return c.session.On(realtime.EventOnlineUsers, func(payload json.RawMessage) {
		var p realtime.OnlineUsersPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return
		}
		handler(p.UserIDs)
	})
}

// reconcileLoop periodically re-fetches the newest page for the
// active chat. The socket is best-effort; history is the source of
// truth.
func (c *Client) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			generation := c.generation
			c.mu.Unlock()
			err := c.engine.Reconcile(ctx, generation, func(ctx context.Context, chatID string) ([]domain.EncryptedEnvelope, error) {
				envelopes, _, err := c.transport.GetMessages(ctx, chatID, 0)
				return envelopes, err
			})
			if err != nil {
				c.log.Warnf("reconcile: %v", err)
			}
		}
	}
}
