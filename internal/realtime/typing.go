package realtime

import (
	"sync"
	"time"
)

const (
	// Sender stops announcing after this much keyboard silence.
	typingDebounce = 2 * time.Second
	// Receivers clear a typing indicator on their own after this
	// long, so a lost STOP_TYPING cannot pin the indicator forever.
	typingStaleAfter = 5 * time.Second
)

// Emitter is the subset of Session the typing protocol needs.
type Emitter interface {
	Emit(event string, payload interface{}) error
}

// TypingNotifier is the sender side of the typing protocol: one
// START_TYPING on the first keystroke after idle, one STOP_TYPING
// after the debounce window or when the input is cleared.
type TypingNotifier struct {
	emitter    Emitter
	senderID   string
	senderName string
	debounce   time.Duration

	mu     sync.Mutex
	active bool
	chatID string
	timer  *time.Timer
}

func NewTypingNotifier(emitter Emitter, senderID, senderName string) *TypingNotifier {
	return &TypingNotifier{
		emitter:    emitter,
		senderID:   senderID,
		senderName: senderName,
		debounce:   typingDebounce,
	}
}

// Keystroke records typing activity in a chat. The first call after
// idle emits START_TYPING; every call pushes the stop timer out.
func (n *TypingNotifier) Keystroke(chatID string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	payload := TypingPayload{ChatID: chatID, SenderID: n.senderID, SenderName: n.senderName}
	if !n.active || n.chatID != chatID {
		if n.active {
			// Switched chats mid-typing: close out the old one.
			_ = n.emitter.Emit(EventStopTyping, TypingPayload{ChatID: n.chatID, SenderID: n.senderID, SenderName: n.senderName})
		}
		n.active = true
		n.chatID = chatID
		_ = n.emitter.Emit(EventStartTyping, payload)
	}

	if n.timer != nil {
		n.timer.Stop()
	}
	n.timer = time.AfterFunc(n.debounce, func() { n.Stop(chatID) })
}

// Stop emits STOP_TYPING immediately, e.g. when the input is cleared
// or a message is sent.
func (n *TypingNotifier) Stop(chatID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.active || n.chatID != chatID {
		return
	}
	n.active = false
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	_ = n.emitter.Emit(EventStopTyping, TypingPayload{ChatID: chatID, SenderID: n.senderID, SenderName: n.senderName})
}

// TypingTracker is the receiver side: it records who is typing in the
// active chat and clears each entry either on STOP_TYPING or after a
// staleness timeout, whichever comes first.
type TypingTracker struct {
	staleAfter time.Duration

	mu     sync.Mutex
	typing map[string]*typingEntry // senderID -> entry
}

type typingEntry struct {
	name  string
	timer *time.Timer
}

func NewTypingTracker() *TypingTracker {
	return &TypingTracker{
		staleAfter: typingStaleAfter,
		typing:     make(map[string]*typingEntry),
	}
}

// HandleStart records an incoming START_TYPING.
func (t *TypingTracker) HandleStart(p TypingPayload) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.typing[p.SenderID]; ok {
		entry.timer.Stop()
	}
	senderID := p.SenderID
	t.typing[senderID] = &typingEntry{
		name:  p.SenderName,
		timer: time.AfterFunc(t.staleAfter, func() { t.expire(senderID) }),
	}
}

// HandleStop records an incoming STOP_TYPING.
func (t *TypingTracker) HandleStop(p TypingPayload) {
	t.expire(p.SenderID)
}

func (t *TypingTracker) expire(senderID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.typing[senderID]; ok {
		entry.timer.Stop()
		delete(t.typing, senderID)
	}
}

// TypingUsers returns the display names currently typing.
func (t *TypingTracker) TypingUsers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.typing))
	for _, entry := range t.typing {
		names = append(names, entry.name)
	}
	return names
}

// Reset clears all typing state and timers. Called on chat switch so
// indicators never leak across conversations.
func (t *TypingTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, entry := range t.typing {
		entry.timer.Stop()
		delete(t.typing, id)
	}
}
