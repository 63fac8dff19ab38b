package chat

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"medimart/internal/app/presence"
	"medimart/internal/app/user"
	"medimart/internal/pkg/errs"
	"medimart/internal/pkg/logx"
)

// Notifier pushes a stored message to a recipient's realtime connections.
// Implementations must not block on slow clients.
type Notifier interface {
	NotifyMessage(ctx context.Context, recipientID string, msg ResolvedMessage) error
}

// PresenceReader is the read side of the presence registry.
type PresenceReader interface {
	Lookup(userID string) (presence.Entry, bool)
	ListByRole(role user.Role) []string
}

// Service is the single entry point for sending and reading chat messages.
//
// Sending runs in two phases: persistence (find-or-create, append, resolve)
// and notification. Only a durably stored message is ever pushed, and a
// failed push never fails the send.
type Service struct {
	store    Store
	presence PresenceReader

	// local delivers to recipients present in this process's registry.
	local Notifier

	// remote, when set, forwards pushes for recipients not present locally (cross-process relay).
	remote Notifier

	logger zerolog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithRemoteNotifier installs a notifier used when the recipient is not connected to this process.
func WithRemoteNotifier(n Notifier) ServiceOption {
	return func(s *Service) { s.remote = n }
}

// NewService wires the store, the presence registry and the local notifier.
func NewService(store Store, presence PresenceReader, local Notifier, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		presence: presence,
		local:    local,
		logger:   logx.Component("chat"),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// SendMessage stores content as a message from senderID to recipientID and
// pushes it to the recipient when they are connected. Validation happens
// before any write, so a rejected send leaves no conversation behind.
func (s *Service) SendMessage(ctx context.Context, senderID, recipientID, content string) (*ResolvedMessage, error) {
	if err := validatePair(senderID, recipientID); err != nil {
		return nil, err
	}

	content, err := NormalizeContent(content)
	if err != nil {
		return nil, err
	}

	conv, err := s.store.FindOrCreateConversation(ctx, senderID, recipientID)
	if err != nil {
		return nil, err
	}

	msg, err := s.store.AppendMessage(ctx, conv.ID, senderID, content)
	if err != nil {
		return nil, err
	}

	resolved, err := s.store.ResolveMessage(ctx, msg.ID)
	if err != nil {
		// The message is already stored; push it with a bare sender identity.
		s.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("Failed to resolve stored message, using bare sender")
		fallback := Resolve(*msg, nil)
		resolved = &fallback
	}

	s.notify(ctx, recipientID, *resolved)

	return resolved, nil
}

// notify is the best-effort push phase. Errors are logged and dropped.
func (s *Service) notify(ctx context.Context, recipientID string, msg ResolvedMessage) {
	var (
		target Notifier
		route  string
	)

	if _, ok := s.presence.Lookup(recipientID); ok {
		target, route = s.local, "local"
	} else if s.remote != nil {
		target, route = s.remote, "remote"
	}

	if target == nil {
		s.logger.Debug().
			Str("recipient_id", recipientID).
			Str("message_id", msg.ID).
			Msg("Recipient offline, message stored for next fetch")
		return
	}

	if err := target.NotifyMessage(ctx, recipientID, msg); err != nil {
		s.logger.Warn().
			Err(err).
			Str("route", route).
			Str("recipient_id", recipientID).
			Str("message_id", msg.ID).
			Msg("Realtime push failed, message remains stored")
	}
}

// GetOrCreateConversation returns the conversation between userID and otherUserID,
// creating it when needed, with participants and last message resolved.
func (s *Service) GetOrCreateConversation(ctx context.Context, userID, otherUserID string) (*ConversationView, error) {
	if err := validatePair(userID, otherUserID); err != nil {
		return nil, err
	}

	conv, err := s.store.FindOrCreateConversation(ctx, userID, otherUserID)
	if err != nil {
		return nil, err
	}

	users, err := s.store.LookupUsers(ctx, conv.Participants[:])
	if err != nil {
		return nil, err
	}

	var last *Message
	if conv.LastMessageID != "" {
		resolved, err := s.store.ResolveMessage(ctx, conv.LastMessageID)
		if err != nil {
			return nil, err
		}
		last = &Message{
			ID:        resolved.ID,
			SenderID:  resolved.Sender.ID,
			Content:   resolved.Content,
			CreatedAt: resolved.CreatedAt,
		}
	}

	view := NewConversationView(*conv, users, last)
	return &view, nil
}

// ListConversations returns userID's conversations, most recent first.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]ConversationView, error) {
	return s.store.ListConversationsForUser(ctx, userID)
}

// ListMessages returns the chronological log of a conversation the caller participates in.
func (s *Service) ListMessages(ctx context.Context, userID, conversationID string) ([]ResolvedMessage, error) {
	if _, err := s.participantConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	return s.store.ListMessages(ctx, conversationID)
}

// MarkConversationRead records userID as a reader of every message they received in the conversation.
func (s *Service) MarkConversationRead(ctx context.Context, userID, conversationID string) (int, error) {
	if _, err := s.participantConversation(ctx, userID, conversationID); err != nil {
		return 0, err
	}

	return s.store.MarkRead(ctx, conversationID, userID)
}

// OnlineUsers lists users of the given role currently connected to this process.
func (s *Service) OnlineUsers(viewer user.Principal, role user.Role) ([]string, error) {
	if !role.Valid() {
		return nil, errs.NewError(errs.ErrInvalidRole)
	}

	if !CanViewPresence(viewer.Role, role) {
		return nil, errs.NewError(errs.ErrForbidden)
	}

	return s.presence.ListByRole(role), nil
}

// CanViewPresence decides whether a viewer with role viewer may list online users of role target.
// Care providers are public; patients are visible to staff; admins only to admins.
func CanViewPresence(viewer, target user.Role) bool {
	switch target {
	case user.RoleDoctor, user.RolePharmacist:
		return viewer.Valid()
	case user.RoleUser:
		switch viewer {
		case user.RoleDoctor, user.RolePharmacist, user.RoleAdmin:
			return true
		case user.RoleUser:
			return false
		default:
			return false
		}
	case user.RoleAdmin:
		return viewer == user.RoleAdmin
	default:
		return false
	}
}

func (s *Service) participantConversation(ctx context.Context, userID, conversationID string) (*Conversation, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, errs.NewError(errs.ErrInvalidID)
	}

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if !conv.Has(userID) {
		return nil, errs.NewError(errs.ErrNotParticipant)
	}

	return conv, nil
}

func validatePair(userID, otherUserID string) error {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(otherUserID) == "" {
		return errs.NewError(errs.ErrInvalidID)
	}

	if userID == otherUserID {
		return errs.NewError(errs.ErrSelfConversation)
	}

	return nil
}
