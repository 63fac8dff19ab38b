package chat

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"medimart/internal/app/user"
	"medimart/internal/pkg/errs"
)

// MemoryStore is a process-local Store for development and tests.
// A single mutex serializes every operation, which makes find-or-create and
// append-with-pointer-update atomic.
type MemoryStore struct {
	mu sync.RWMutex

	users map[string]user.Identity

	// openDirectory accepts any non-empty user id, resolving unknown ones to bare identities.
	openDirectory bool

	conversations map[string]*Conversation
	byPair        map[string]string
	logs          map[string][]*Message
	messages      map[string]*Message

	now func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithOpenDirectory makes the store accept user ids it has never seen.
func WithOpenDirectory() MemoryOption {
	return func(s *MemoryStore) { s.openDirectory = true }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		users:         make(map[string]user.Identity),
		conversations: make(map[string]*Conversation),
		byPair:        make(map[string]string),
		logs:          make(map[string][]*Message),
		messages:      make(map[string]*Message),
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// PutUser adds or replaces a user in the directory.
func (s *MemoryStore) PutUser(identity user.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[identity.ID] = identity
}

// ConversationCount returns the number of stored conversations.
func (s *MemoryStore) ConversationCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.conversations)
}

func (s *MemoryStore) knownUser(id string) bool {
	if strings.TrimSpace(id) == "" {
		return false
	}
	if _, ok := s.users[id]; ok {
		return true
	}
	return s.openDirectory
}

func (s *MemoryStore) FindOrCreateConversation(_ context.Context, a, b string) (*Conversation, error) {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return nil, errs.NewError(errs.ErrInvalidID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.knownUser(a) || !s.knownUser(b) {
		return nil, errs.NewError(errs.ErrUserNotFound)
	}

	key := PairKey(a, b)
	if id, ok := s.byPair[key]; ok {
		conv := *s.conversations[id]
		return &conv, nil
	}

	now := s.now()
	conv := &Conversation{
		ID:           uuid.NewString(),
		Participants: SortedPair(a, b),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.conversations[conv.ID] = conv
	s.byPair[key] = conv.ID

	out := *conv
	return &out, nil
}

func (s *MemoryStore) GetConversation(_ context.Context, conversationID string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, errs.NewError(errs.ErrConversationNotFound)
	}

	out := *conv
	return &out, nil
}

func (s *MemoryStore) ListConversationsForUser(_ context.Context, userID string) ([]ConversationView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	convs := make([]*Conversation, 0)
	for _, conv := range s.conversations {
		if conv.Has(userID) {
			convs = append(convs, conv)
		}
	}

	sort.Slice(convs, func(i, j int) bool {
		if convs[i].UpdatedAt.Equal(convs[j].UpdatedAt) {
			return convs[i].ID < convs[j].ID
		}
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})

	views := make([]ConversationView, 0, len(convs))
	for _, conv := range convs {
		var last *Message
		if conv.LastMessageID != "" {
			last = s.messages[conv.LastMessageID]
		}
		views = append(views, NewConversationView(*conv, s.users, last))
	}

	return views, nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, conversationID, senderID, content string) (*Message, error) {
	content, err := NormalizeContent(content)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, errs.NewError(errs.ErrConversationNotFound)
	}

	now := s.now()
	// Keep the log strictly ordered even when the clock does not advance.
	if log := s.logs[conversationID]; len(log) > 0 {
		if prev := log[len(log)-1].CreatedAt; !now.After(prev) {
			now = prev.Add(time.Microsecond)
		}
	}

	msg := &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		ReadBy:         []string{},
		CreatedAt:      now,
	}

	s.logs[conversationID] = append(s.logs[conversationID], msg)
	s.messages[msg.ID] = msg

	conv.LastMessageID = msg.ID
	conv.UpdatedAt = now

	out := *msg
	return &out, nil
}

func (s *MemoryStore) ResolveMessage(_ context.Context, messageID string) (*ResolvedMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return nil, errs.NewError(errs.ErrMessageNotFound)
	}

	resolved := Resolve(copyMessage(msg), s.users)
	return &resolved, nil
}

func (s *MemoryStore) ListMessages(_ context.Context, conversationID string) ([]ResolvedMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return nil, errs.NewError(errs.ErrConversationNotFound)
	}

	log := s.logs[conversationID]
	out := make([]ResolvedMessage, 0, len(log))
	for _, msg := range log {
		out = append(out, Resolve(copyMessage(msg), s.users))
	}
	return out, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, conversationID, readerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return 0, errs.NewError(errs.ErrConversationNotFound)
	}

	updated := 0
	for _, msg := range s.logs[conversationID] {
		if msg.SenderID == readerID || slices.Contains(msg.ReadBy, readerID) {
			continue
		}
		msg.ReadBy = append(msg.ReadBy, readerID)
		updated++
	}
	return updated, nil
}

func (s *MemoryStore) LookupUsers(_ context.Context, ids []string) (map[string]user.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]user.Identity, len(ids))
	for _, id := range ids {
		if identity, ok := s.users[id]; ok {
			out[id] = identity
		}
	}
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close(context.Context) error { return nil }

func copyMessage(m *Message) Message {
	out := *m
	out.ReadBy = append([]string(nil), m.ReadBy...)
	return out
}
