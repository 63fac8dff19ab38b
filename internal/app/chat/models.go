/*
Package chat implements conversation storage contracts and the message delivery protocol.

A conversation pairs exactly two users. Messages are appended to a
conversation's log and the conversation keeps a pointer to the newest one.
Service composes persistence with a best-effort realtime push to the
recipient when the presence registry says they are connected.
*/
package chat

import (
	"strings"
	"time"
	"unicode/utf8"

	"medimart/internal/app/user"
	"medimart/internal/pkg/errs"
)

// MaxContentBytes bounds the size of a message body after trimming.
const MaxContentBytes = 5000

// Conversation is the durable record pairing two users.
type Conversation struct {
	ID string

	// Participants holds the two user ids in ascending order.
	Participants [2]string

	// LastMessageID is empty until the first message is appended.
	LastMessageID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Has reports whether userID is one of the participants.
func (c *Conversation) Has(userID string) bool {
	return c.Participants[0] == userID || c.Participants[1] == userID
}

// Message is one immutable entry of a conversation log.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	ReadBy         []string
	CreatedAt      time.Time
}

// ResolvedMessage is a message with its sender resolved to a display identity.
// It is the payload of REST responses and of the message-received event.
type ResolvedMessage struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	Sender         user.Identity `json:"sender"`
	Content        string        `json:"content"`
	ReadBy         []string      `json:"readBy"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// LastMessage is the summary of the newest message shown in conversation lists.
type LastMessage struct {
	ID        string        `json:"id"`
	Content   string        `json:"content"`
	Sender    user.Identity `json:"sender"`
	CreatedAt time.Time     `json:"createdAt"`
}

// ConversationView is a conversation with participants and last message resolved.
type ConversationView struct {
	ID           string          `json:"id"`
	Participants []user.Identity `json:"participants"`
	LastMessage  *LastMessage    `json:"lastMessage,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// SortedPair orders two user ids so that {a,b} and {b,a} map to the same pair.
func SortedPair(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}

// PairKey is the normalized key backing the one-conversation-per-pair unique index.
func PairKey(a, b string) string {
	p := SortedPair(a, b)
	return p[0] + ":" + p[1]
}

// NormalizeContent trims content and enforces the non-empty and size rules.
func NormalizeContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)

	if trimmed == "" {
		return "", errs.NewError(errs.ErrMessageContentEmpty)
	}

	if len(trimmed) > MaxContentBytes {
		return "", errs.NewError(errs.ErrMessageContentTooLong, MaxContentBytes)
	}

	if !utf8.ValidString(trimmed) {
		return "", errs.NewError(errs.ErrInvalidParams)
	}

	return trimmed, nil
}

// IdentityOf returns the identity for id from users, or a bare identity when the account is unknown.
func IdentityOf(users map[string]user.Identity, id string) user.Identity {
	if identity, ok := users[id]; ok {
		return identity
	}
	return user.Identity{ID: id}
}

// Resolve attaches the sender identity found in users to m.
func Resolve(m Message, users map[string]user.Identity) ResolvedMessage {
	readBy := m.ReadBy
	if readBy == nil {
		readBy = []string{}
	}

	return ResolvedMessage{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         IdentityOf(users, m.SenderID),
		Content:        m.Content,
		ReadBy:         readBy,
		CreatedAt:      m.CreatedAt,
	}
}

// NewConversationView assembles the client view of c. last may be nil.
func NewConversationView(c Conversation, users map[string]user.Identity, last *Message) ConversationView {
	view := ConversationView{
		ID: c.ID,
		Participants: []user.Identity{
			IdentityOf(users, c.Participants[0]),
			IdentityOf(users, c.Participants[1]),
		},
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}

	if last != nil {
		view.LastMessage = &LastMessage{
			ID:        last.ID,
			Content:   last.Content,
			Sender:    IdentityOf(users, last.SenderID),
			CreatedAt: last.CreatedAt,
		}
	}

	return view
}
