package chat

import (
	"context"

	"medimart/internal/app/user"
)

// Store is the persistence contract for conversations and messages.
//
// Implementations must guarantee at most one conversation per unordered user
// pair even under concurrent FindOrCreateConversation calls, and must keep the
// last-message pointer consistent with AppendMessage.
// Errors are *errs.CustomError values: ErrUserNotFound, ErrConversationNotFound,
// ErrMessageNotFound, ErrInvalidID, ErrMessageContentEmpty and ErrStorageUnavailable.
type Store interface {
	// FindOrCreateConversation returns the conversation between a and b, creating it if needed.
	FindOrCreateConversation(ctx context.Context, a, b string) (*Conversation, error)

	GetConversation(ctx context.Context, conversationID string) (*Conversation, error)

	// ListConversationsForUser returns the user's conversations, most recently updated first.
	ListConversationsForUser(ctx context.Context, userID string) ([]ConversationView, error)

	// AppendMessage stores a message and moves the conversation's last-message pointer to it.
	AppendMessage(ctx context.Context, conversationID, senderID, content string) (*Message, error)

	ResolveMessage(ctx context.Context, messageID string) (*ResolvedMessage, error)

	// ListMessages returns the conversation log in chronological order.
	ListMessages(ctx context.Context, conversationID string) ([]ResolvedMessage, error)

	// MarkRead adds readerID to the read set of every message in the conversation
	// that readerID did not send and has not read yet. It returns how many messages changed.
	MarkRead(ctx context.Context, conversationID, readerID string) (int, error)

	// LookupUsers resolves display identities. Unknown ids are absent from the result.
	LookupUsers(ctx context.Context, ids []string) (map[string]user.Identity, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
