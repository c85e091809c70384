package devserver

import (
	"sort"
	"sync"

	"cipherchat/internal/domain"
	cipherchat_errors "cipherchat/pkg/errors"
)

// pageSize is the number of envelopes per history page.
const pageSize = 50

// User is a dev-server account record.
type User struct {
	Identity     domain.Identity
	PasswordHash string
}

// Store keeps users, chats, public keys and envelopes in memory. The
// real metadata service is a black box; this store only implements
// enough of its contract to run and test the messaging core.
type Store struct {
	mu        sync.RWMutex
	users     map[string]*User                     // userID -> user
	byName    map[string]string                    // identity (login name) -> userID
	chats     map[string]domain.Chat               // chatID -> chat
	envelopes map[string][]domain.EncryptedEnvelope // chatID -> envelopes, append order
}

func NewStore() *Store {
	return &Store{
		users:     make(map[string]*User),
		byName:    make(map[string]string),
		chats:     make(map[string]domain.Chat),
		envelopes: make(map[string][]domain.EncryptedEnvelope),
	}
}

func (s *Store) AddUser(u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byName[u.Identity.DisplayName]; exists {
		return cipherchat_errors.ErrAlreadyExists
	}
	s.users[u.Identity.UserID] = u
	s.byName[u.Identity.DisplayName] = u.Identity.UserID
	return nil
}

func (s *Store) UserByName(name string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[name]
	if !ok {
		return nil, cipherchat_errors.ErrNotFound
	}
	return s.users[id], nil
}

func (s *Store) User(userID string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, cipherchat_errors.ErrNotFound
	}
	return u, nil
}

// SetPublicKey stores the durable public half of a user's device key
// and propagates it into every chat member record for that user.
func (s *Store) SetPublicKey(userID, publicKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return cipherchat_errors.ErrNotFound
	}
	u.Identity.PublicKey = publicKey
	for id, chat := range s.chats {
		for i := range chat.Members {
			if chat.Members[i].UserID == userID {
				chat.Members[i].PublicKey = publicKey
			}
		}
		s.chats[id] = chat
	}
	return nil
}

func (s *Store) PublicKey(userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok || u.Identity.PublicKey == "" {
		return "", cipherchat_errors.ErrNotFound
	}
	return u.Identity.PublicKey, nil
}

func (s *Store) AddChat(chat domain.Chat) {
	s.mu.Lock()
	s.chats[chat.ID] = chat
	s.mu.Unlock()
}

func (s *Store) Chat(chatID string) (domain.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return domain.Chat{}, cipherchat_errors.ErrNotFound
	}
	return chat, nil
}

// ChatsForUser returns every chat the user is a member of.
func (s *Store) ChatsForUser(userID string) []domain.Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Chat
	for _, chat := range s.chats {
		if _, ok := chat.Member(userID); ok {
			out = append(out, chat)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AppendEnvelope persists one immutable envelope.
func (s *Store) AppendEnvelope(env domain.EncryptedEnvelope) {
	s.mu.Lock()
	s.envelopes[env.ChatID] = append(s.envelopes[env.ChatID], env)
	s.mu.Unlock()
}

// MessagesPage returns one page of a user's envelopes for a chat,
// chronological ascending within the page. Page 0 is the newest
// window; higher pages reach further back.
func (s *Store) MessagesPage(chatID, userID string, page int) ([]domain.EncryptedEnvelope, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var mine []domain.EncryptedEnvelope
	for _, env := range s.envelopes[chatID] {
		if env.To == userID || env.From.UserID == userID {
			mine = append(mine, env)
		}
	}

	end := len(mine) - page*pageSize
	if end <= 0 {
		return nil, false
	}
	start := end - pageSize
	if start < 0 {
		start = 0
	}
	out := make([]domain.EncryptedEnvelope, end-start)
	copy(out, mine[start:end])
	return out, start > 0
}
