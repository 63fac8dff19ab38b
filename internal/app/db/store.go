package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"medimart/internal/app/chat"
	"medimart/internal/app/user"
	"medimart/internal/pkg/errs"
)

const (
	queryCountUsers = `SELECT count(*) FROM users WHERE id = ANY($1)`

	queryInsertConversation = `
INSERT INTO conversations (id, participant_a, participant_b)
VALUES ($1, $2, $3)
ON CONFLICT ON CONSTRAINT conversations_pair_key DO NOTHING
RETURNING id, participant_a, participant_b, last_message_id, created_at, updated_at`

	querySelectConversationByPair = `
SELECT id, participant_a, participant_b, last_message_id, created_at, updated_at
FROM conversations
WHERE participant_a = $1 AND participant_b = $2`

	querySelectConversation = `
SELECT id, participant_a, participant_b, last_message_id, created_at, updated_at
FROM conversations
WHERE id = $1`

	queryLockConversation = `SELECT id FROM conversations WHERE id = $1 FOR UPDATE`

	queryListConversations = `
SELECT c.id, c.participant_a, c.participant_b, c.last_message_id, c.created_at, c.updated_at,
       m.sender_id, m.content, m.created_at
FROM conversations c
LEFT JOIN messages m ON m.id = c.last_message_id
WHERE c.participant_a = $1 OR c.participant_b = $1
ORDER BY c.updated_at DESC, c.id`

	queryInsertMessage = `
INSERT INTO messages (id, conversation_id, sender_id, content)
VALUES ($1, $2, $3, $4)
RETURNING read_by, created_at`

	queryTouchConversation = `
UPDATE conversations SET last_message_id = $2, updated_at = $3
WHERE id = $1`

	querySelectMessage = `
SELECT id, conversation_id, sender_id, content, read_by, created_at
FROM messages
WHERE id = $1`

	queryListMessages = `
SELECT id, conversation_id, sender_id, content, read_by, created_at
FROM messages
WHERE conversation_id = $1
ORDER BY seq`

	queryMarkRead = `
UPDATE messages SET read_by = array_append(read_by, $2)
WHERE conversation_id = $1 AND sender_id <> $2 AND NOT ($2 = ANY(read_by))`

	querySelectUsers = `SELECT id, full_name, avatar FROM users WHERE id = ANY($1)`

	queryUpsertUser = `
INSERT INTO users (id, full_name, avatar, role)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE
SET full_name = EXCLUDED.full_name, avatar = EXCLUDED.avatar, role = EXCLUDED.role, updated_at = now()`
)

// ChatStore implements chat.Store on PostgreSQL.
//
// One conversation per pair is enforced by the conversations_pair_key unique
// constraint over the ordered participant columns. Appends lock the
// conversation row so the log order matches commit order.
type ChatStore struct {
	pool *pgxpool.Pool
}

var _ chat.Store = (*ChatStore)(nil)

// NewChatStore wraps an open pool. The store takes ownership of it and closes it in Close.
func NewChatStore(pool *pgxpool.Pool) *ChatStore {
	return &ChatStore{pool: pool}
}

// parseID validates a uuid identifier.
func parseID(id string) (uuid.UUID, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, errs.NewError(errs.ErrInvalidID)
	}
	return parsed, nil
}

func storageErr(err error) error {
	return errs.Wrap(errs.ErrStorageUnavailable, err)
}

// PutUser creates or updates a directory entry.
func (s *ChatStore) PutUser(ctx context.Context, identity user.Identity, role user.Role) error {
	id, err := parseID(identity.ID)
	if err != nil {
		return err
	}
	if !role.Valid() {
		return errs.NewError(errs.ErrInvalidRole)
	}

	if _, err := s.pool.Exec(ctx, queryUpsertUser, id, identity.FullName, identity.Avatar, role.String()); err != nil {
		return storageErr(err)
	}
	return nil
}

func (s *ChatStore) FindOrCreateConversation(ctx context.Context, a, b string) (*chat.Conversation, error) {
	idA, err := parseID(a)
	if err != nil {
		return nil, err
	}
	idB, err := parseID(b)
	if err != nil {
		return nil, err
	}
	if idA == idB {
		return nil, errs.NewError(errs.ErrSelfConversation)
	}

	var known int
	if err := s.pool.QueryRow(ctx, queryCountUsers, []uuid.UUID{idA, idB}).Scan(&known); err != nil {
		return nil, storageErr(err)
	}
	if known != 2 {
		return nil, errs.NewError(errs.ErrUserNotFound)
	}

	pair := chat.SortedPair(idA.String(), idB.String())
	first, second := uuid.MustParse(pair[0]), uuid.MustParse(pair[1])

	conv, err := scanConversation(s.pool.QueryRow(ctx, queryInsertConversation, uuid.New(), first, second))
	switch {
	case err == nil:
		return conv, nil
	case errors.Is(err, pgx.ErrNoRows), IsUniqueViolation(err):
		// Another request created the pair first.
	case IsForeignKeyViolation(err):
		return nil, errs.NewError(errs.ErrUserNotFound)
	default:
		return nil, storageErr(err)
	}

	conv, err = scanConversation(s.pool.QueryRow(ctx, querySelectConversationByPair, first, second))
	if err != nil {
		return nil, storageErr(err)
	}
	return conv, nil
}

func (s *ChatStore) GetConversation(ctx context.Context, conversationID string) (*chat.Conversation, error) {
	id, err := parseID(conversationID)
	if err != nil {
		return nil, err
	}

	conv, err := scanConversation(s.pool.QueryRow(ctx, querySelectConversation, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NewError(errs.ErrConversationNotFound)
	}
	if err != nil {
		return nil, storageErr(err)
	}
	return conv, nil
}

func (s *ChatStore) ListConversationsForUser(ctx context.Context, userID string) ([]chat.ConversationView, error) {
	id, err := parseID(userID)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, queryListConversations, id)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	type row struct {
		conv chat.Conversation
		last *chat.Message
	}

	var (
		collected []row
		userIDs   []string
	)
	for rows.Next() {
		var (
			r             row
			lastMessageID *string
			lastSender    *string
			lastContent   *string
			lastCreatedAt *time.Time
		)
		if err := rows.Scan(
			&r.conv.ID, &r.conv.Participants[0], &r.conv.Participants[1], &lastMessageID,
			&r.conv.CreatedAt, &r.conv.UpdatedAt,
			&lastSender, &lastContent, &lastCreatedAt,
		); err != nil {
			return nil, storageErr(err)
		}

		userIDs = append(userIDs, r.conv.Participants[0], r.conv.Participants[1])
		if lastMessageID != nil && lastSender != nil {
			r.conv.LastMessageID = *lastMessageID
			r.last = &chat.Message{
				ID:             *lastMessageID,
				ConversationID: r.conv.ID,
				SenderID:       *lastSender,
				Content:        *lastContent,
				CreatedAt:      *lastCreatedAt,
			}
		}
		collected = append(collected, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}

	users, err := s.LookupUsers(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	views := make([]chat.ConversationView, 0, len(collected))
	for _, r := range collected {
		views = append(views, chat.NewConversationView(r.conv, users, r.last))
	}
	return views, nil
}

func (s *ChatStore) AppendMessage(ctx context.Context, conversationID, senderID, content string) (*chat.Message, error) {
	content, err := chat.NormalizeContent(content)
	if err != nil {
		return nil, err
	}
	convID, err := parseID(conversationID)
	if err != nil {
		return nil, err
	}
	sender, err := parseID(senderID)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storageErr(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var locked string
	if err := tx.QueryRow(ctx, queryLockConversation, convID).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NewError(errs.ErrConversationNotFound)
		}
		return nil, storageErr(err)
	}

	msg := &chat.Message{
		ID:             uuid.NewString(),
		ConversationID: convID.String(),
		SenderID:       sender.String(),
		Content:        content,
	}

	err = tx.QueryRow(ctx, queryInsertMessage, uuid.MustParse(msg.ID), convID, sender, content).
		Scan(&msg.ReadBy, &msg.CreatedAt)
	switch {
	case err == nil:
	case IsForeignKeyViolation(err):
		return nil, errs.NewError(errs.ErrUserNotFound)
	case IsCheckViolation(err):
		return nil, errs.NewError(errs.ErrMessageContentEmpty)
	default:
		return nil, storageErr(err)
	}

	if _, err := tx.Exec(ctx, queryTouchConversation, convID, uuid.MustParse(msg.ID), msg.CreatedAt); err != nil {
		return nil, storageErr(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr(err)
	}

	if msg.ReadBy == nil {
		msg.ReadBy = []string{}
	}
	return msg, nil
}

func (s *ChatStore) ResolveMessage(ctx context.Context, messageID string) (*chat.ResolvedMessage, error) {
	id, err := parseID(messageID)
	if err != nil {
		return nil, err
	}

	msg, err := scanMessage(s.pool.QueryRow(ctx, querySelectMessage, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NewError(errs.ErrMessageNotFound)
	}
	if err != nil {
		return nil, storageErr(err)
	}

	users, err := s.LookupUsers(ctx, []string{msg.SenderID})
	if err != nil {
		return nil, err
	}

	resolved := chat.Resolve(*msg, users)
	return &resolved, nil
}

func (s *ChatStore) ListMessages(ctx context.Context, conversationID string) ([]chat.ResolvedMessage, error) {
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, queryListMessages, uuid.MustParse(conv.ID))
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	var messages []chat.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, storageErr(err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}

	users, err := s.LookupUsers(ctx, conv.Participants[:])
	if err != nil {
		return nil, err
	}

	out := make([]chat.ResolvedMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, chat.Resolve(msg, users))
	}
	return out, nil
}

func (s *ChatStore) MarkRead(ctx context.Context, conversationID, readerID string) (int, error) {
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	reader, err := parseID(readerID)
	if err != nil {
		return 0, err
	}

	tag, err := s.pool.Exec(ctx, queryMarkRead, uuid.MustParse(conv.ID), reader)
	if err != nil {
		return 0, storageErr(err)
	}
	return int(tag.RowsAffected()), nil
}

// LookupUsers skips ids that are not uuids; they cannot exist in the directory.
func (s *ChatStore) LookupUsers(ctx context.Context, ids []string) (map[string]user.Identity, error) {
	out := make(map[string]user.Identity, len(ids))

	parsed := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if u, err := uuid.Parse(id); err == nil {
			parsed = append(parsed, u)
		}
	}
	if len(parsed) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx, querySelectUsers, parsed)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	for rows.Next() {
		var identity user.Identity
		if err := rows.Scan(&identity.ID, &identity.FullName, &identity.Avatar); err != nil {
			return nil, storageErr(err)
		}
		out[identity.ID] = identity
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return out, nil
}

func (s *ChatStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return storageErr(err)
	}
	return nil
}

func (s *ChatStore) Close(context.Context) error {
	s.pool.Close()
	return nil
}

func scanConversation(row pgx.Row) (*chat.Conversation, error) {
	var (
		conv          chat.Conversation
		lastMessageID *string
	)
	if err := row.Scan(
		&conv.ID, &conv.Participants[0], &conv.Participants[1], &lastMessageID,
		&conv.CreatedAt, &conv.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if lastMessageID != nil {
		conv.LastMessageID = *lastMessageID
	}
	return &conv, nil
}

func scanMessage(row pgx.Row) (*chat.Message, error) {
	var msg chat.Message
	if err := row.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &msg.ReadBy, &msg.CreatedAt); err != nil {
		return nil, err
	}
	if msg.ReadBy == nil {
		msg.ReadBy = []string{}
	}
	return &msg, nil
}
