// Package syncengine merges paginated historical ciphertext with the
// live event stream into one ordered, deduplicated, decrypted message
// list per open chat. Every envelope is decrypted independently; one
// bad or slow envelope never blocks the rest. Switching chats bumps a
// generation counter that acts as the cancellation barrier: decrypts
// still in flight for the previous chat are discarded when they
// resolve against a stale generation.
package syncengine

import (
	"context"
	"sync"

	"cipherchat/internal/domain"
	"cipherchat/pkg/logger"
)

type Engine struct {
	decryptor     Decryptor
	currentUserID string
	log           *logger.Logger

	mu         sync.Mutex
	generation uint64
	activeChat string
	history    []domain.DecryptedMessage // older pages prepended, transport order within a page
	live       []domain.DecryptedMessage // arrival order
	seen       map[string]struct{}       // envelope ids already merged
}

func NewEngine(decryptor Decryptor, currentUserID string, log *logger.Logger) *Engine {
	return &Engine{
		decryptor:     decryptor,
		currentUserID: currentUserID,
		log:           log,
		seen:          make(map[string]struct{}),
	}
}

// OpenChat makes chatID the active chat and fully clears message
// state from the previous one. The returned generation must accompany
// every subsequent merge for this chat; results carrying an older
// generation are discarded, so a late decrypt from chat A can never
// appear in chat B's view.
func (e *Engine) OpenChat(chatID string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.generation++
	e.activeChat = chatID
	e.history = nil
	e.live = nil
	e.seen = make(map[string]struct{})
	return e.generation
}

// ActiveChat returns the currently open chat id.
func (e *Engine) ActiveChat() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeChat
}

// Generation returns the current generation counter.
func (e *Engine) Generation() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generation
}

// ApplyHistoryPage decrypts one page of historical envelopes and
// prepends the survivors to the visible history, preserving the
// transport's intra-page order. Pages are fetched newest-first as the
// user scrolls back, so each later page is older and goes in front.
// Envelopes are decrypted concurrently and independently; ones that
// fail to decrypt or verify are dropped and logged, never rendered as
// garbled content. Blocks until the page is merged or the context is
// cancelled, so callers typically run it in a goroutine per page.
func (e *Engine) ApplyHistoryPage(ctx context.Context, generation uint64, envelopes []domain.EncryptedEnvelope) {
	results := make([]*domain.DecryptedMessage, len(envelopes))
	var wg sync.WaitGroup
	for i, env := range envelopes {
		wg.Add(1)
		go func(i int, env domain.EncryptedEnvelope) {
			defer wg.Done()
			msg, err := e.decryptor.Decrypt(env)
			if err != nil {
				e.log.Warnf("sync: dropping history envelope %s: %v", env.ID, err)
				return
			}
			results[i] = &msg
		}(i, env)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return
	case <-done:
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if generation != e.generation {
		// The user has switched chats while this page was being
		// decrypted. Discard.
		return
	}
	page := make([]domain.DecryptedMessage, 0, len(results))
	for _, msg := range results {
		if msg == nil {
			continue
		}
		if _, dup := e.seen[msg.ID]; dup {
			continue
		}
		e.seen[msg.ID] = struct{}{}
		page = append(page, *msg)
	}
	e.history = append(page, e.history...)
}

// HandleLiveEnvelope processes one envelope from the event stream. It
// is accepted only when it addresses or originates from the current
// user and belongs to the active chat; anything else is ignored here
// (the unread-alert path lives outside this engine). Decryption runs
// inline on the caller's goroutine; the generation is re-checked
// after decrypting so a chat switch mid-decrypt discards the result.
func (e *Engine) HandleLiveEnvelope(generation uint64, env domain.EncryptedEnvelope) {
	e.mu.Lock()
	active := e.activeChat
	current := e.generation
	e.mu.Unlock()
	if generation != current || env.ChatID != active {
		return
	}
	if env.To != e.currentUserID && env.From.UserID != e.currentUserID {
		return
	}
	if env.From.UserID == e.currentUserID && env.To == e.currentUserID {
		// Our own self-addressed copy echoing back. The visible echo
		// was already appended optimistically at send time.
		return
	}

	msg, err := e.decryptor.Decrypt(env)
	if err != nil {
		e.log.Warnf("sync: dropping live envelope %s: %v", env.ID, err)
		return
	}
	e.appendLive(generation, msg)
}

// AppendLocalEcho appends the author's own just-sent message without
// decryption. The author never decrypts self-addressed ciphertext;
// their copy of the conversation comes from optimistic local state.
func (e *Engine) AppendLocalEcho(generation uint64, msg domain.DecryptedMessage) {
	e.appendLive(generation, msg)
}

func (e *Engine) appendLive(generation uint64, msg domain.DecryptedMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if generation != e.generation {
		return
	}
	if msg.ID != "" {
		if _, dup := e.seen[msg.ID]; dup {
			return
		}
		e.seen[msg.ID] = struct{}{}
	}
	e.live = append(e.live, msg)
}

// Messages returns the visible list: decrypted history followed by
// live arrivals. No cross-source re-sort by CreatedAt is performed;
// within history the transport's order is kept and live events stay
// in arrival order. A stable sort across both sources would be a
// behavior change and is deliberately not done here.
func (e *Engine) Messages() []domain.DecryptedMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.DecryptedMessage, 0, len(e.history)+len(e.live))
	out = append(out, e.history...)
	out = append(out, e.live...)
	return out
}

// HistoryFetcher returns the newest page of envelopes for a chat.
type HistoryFetcher func(ctx context.Context, chatID string) ([]domain.EncryptedEnvelope, error)

// Reconcile re-fetches the newest history page and merges anything
// the live stream missed. The socket is at-most-once; this is the
// reconciliation path that makes history the source of truth.
func (e *Engine) Reconcile(ctx context.Context, generation uint64, fetch HistoryFetcher) error {
	e.mu.Lock()
	chatID := e.activeChat
	current := e.generation
	e.mu.Unlock()
	if chatID == "" || generation != current {
		return nil
	}

	envelopes, err := fetch(ctx, chatID)
	if err != nil {
		return err
	}
	for _, env := range envelopes {
		e.mu.Lock()
		_, dup := e.seen[env.ID]
		stale := generation != e.generation
		e.mu.Unlock()
		if dup || stale {
			continue
		}
		msg, err := e.decryptor.Decrypt(env)
		if err != nil {
			e.log.Warnf("sync: reconcile dropping envelope %s: %v", env.ID, err)
			continue
		}
		e.appendLive(generation, msg)
	}
	return nil
}
