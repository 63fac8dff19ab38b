/*
Package docdb is the MongoDB driver of the chat store.

Documents live in the users, conversations and messages collections. A unique
index on conversations.pairKey backs the one-conversation-per-pair rule.
*/
package docdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"medimart/internal/app/chat"
	"medimart/internal/app/user"
	"medimart/internal/pkg/errs"
	"medimart/internal/pkg/logx"
)

const (
	collUsers         = "users"
	collConversations = "conversations"
	collMessages      = "messages"

	connectTimeout = 15 * time.Second

	pointerRetries = 3
	pointerBackoff = 50 * time.Millisecond
)

type userDoc struct {
	ID       primitive.ObjectID `bson:"_id"`
	FullName string             `bson:"fullName"`
	Avatar   string             `bson:"avatar,omitempty"`
	Role     string             `bson:"role"`
}

type conversationDoc struct {
	ID           primitive.ObjectID   `bson:"_id"`
	Participants []primitive.ObjectID `bson:"participants"`
	PairKey      string               `bson:"pairKey"`
	LastMessage  *primitive.ObjectID  `bson:"lastMessage,omitempty"`
	CreatedAt    time.Time            `bson:"createdAt"`
	UpdatedAt    time.Time            `bson:"updatedAt"`
}

type messageDoc struct {
	ID             primitive.ObjectID   `bson:"_id"`
	ConversationID primitive.ObjectID   `bson:"conversationId"`
	Sender         primitive.ObjectID   `bson:"sender"`
	Content        string               `bson:"content"`
	ReadBy         []primitive.ObjectID `bson:"readBy"`
	CreatedAt      time.Time            `bson:"createdAt"`
}

// ChatStore implements chat.Store on MongoDB.
type ChatStore struct {
	client        *mongo.Client
	users         *mongo.Collection
	conversations *mongo.Collection
	messages      *mongo.Collection
}

var _ chat.Store = (*ChatStore)(nil)

// Open connects to uri, selects database and makes sure the indexes exist.
func Open(ctx context.Context, uri, database string) (*ChatStore, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	db := client.Database(database)
	s := &ChatStore{
		client:        client,
		users:         db.Collection(collUsers),
		conversations: db.Collection(collConversations),
		messages:      db.Collection(collMessages),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	return s, nil
}

func (s *ChatStore) ensureIndexes(ctx context.Context) error {
	_, err := s.conversations.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "pairKey", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_pair_key"),
		},
		{
			Keys: bson.D{{Key: "participants", Value: 1}, {Key: "updatedAt", Value: -1}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create conversation indexes: %w", err)
	}

	_, err = s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "conversationId", Value: 1}, {Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create message indexes: %w", err)
	}

	logx.Info("MongoDB indexes ensured")
	return nil
}

func parseID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, errs.NewError(errs.ErrInvalidID)
	}
	return oid, nil
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

	doc := userDoc{ID: id, FullName: identity.FullName, Avatar: identity.Avatar, Role: role.String()}
	_, err = s.users.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
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

	known, err := s.users.CountDocuments(ctx, bson.M{"_id": bson.M{"$in": bson.A{idA, idB}}})
	if err != nil {
		return nil, storageErr(err)
	}
	if known != 2 {
		return nil, errs.NewError(errs.ErrUserNotFound)
	}

	key := chat.PairKey(idA.Hex(), idB.Hex())
	if conv, err := s.findByPair(ctx, key); err == nil {
		return conv, nil
	} else if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storageErr(err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	pair := chat.SortedPair(idA.Hex(), idB.Hex())
	first, _ := primitive.ObjectIDFromHex(pair[0])
	second, _ := primitive.ObjectIDFromHex(pair[1])

	doc := conversationDoc{
		ID:           primitive.NewObjectID(),
		Participants: []primitive.ObjectID{first, second},
		PairKey:      key,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if _, err := s.conversations.InsertOne(ctx, doc); err != nil {
		if !mongo.IsDuplicateKeyError(err) {
			return nil, storageErr(err)
		}
		// Lost the race; the winner's document is authoritative.
		conv, err := s.findByPair(ctx, key)
		if err != nil {
			return nil, storageErr(err)
		}
		return conv, nil
	}

	conv := toConversation(doc)
	return &conv, nil
}

func (s *ChatStore) findByPair(ctx context.Context, key string) (*chat.Conversation, error) {
	var doc conversationDoc
	if err := s.conversations.FindOne(ctx, bson.M{"pairKey": key}).Decode(&doc); err != nil {
		return nil, err
	}
	conv := toConversation(doc)
	return &conv, nil
}

func (s *ChatStore) GetConversation(ctx context.Context, conversationID string) (*chat.Conversation, error) {
	id, err := parseID(conversationID)
	if err != nil {
		return nil, err
	}

	var doc conversationDoc
	err = s.conversations.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.NewError(errs.ErrConversationNotFound)
	}
	if err != nil {
		return nil, storageErr(err)
	}

	conv := toConversation(doc)
	return &conv, nil
}

func (s *ChatStore) ListConversationsForUser(ctx context.Context, userID string) ([]chat.ConversationView, error) {
	id, err := parseID(userID)
	if err != nil {
		return nil, err
	}

	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}, {Key: "_id", Value: 1}})
	cursor, err := s.conversations.Find(ctx, bson.M{"participants": id}, opts)
	if err != nil {
		return nil, storageErr(err)
	}

	var docs []conversationDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, storageErr(err)
	}

	userIDs := make([]string, 0, len(docs)*2)
	lastIDs := make(bson.A, 0, len(docs))
	for _, doc := range docs {
		for _, p := range doc.Participants {
			userIDs = append(userIDs, p.Hex())
		}
		if doc.LastMessage != nil {
			lastIDs = append(lastIDs, *doc.LastMessage)
		}
	}

	lastMessages := make(map[primitive.ObjectID]messageDoc, len(lastIDs))
	if len(lastIDs) > 0 {
		cursor, err := s.messages.Find(ctx, bson.M{"_id": bson.M{"$in": lastIDs}})
		if err != nil {
			return nil, storageErr(err)
		}
		var msgs []messageDoc
		if err := cursor.All(ctx, &msgs); err != nil {
			return nil, storageErr(err)
		}
		for _, m := range msgs {
			lastMessages[m.ID] = m
			userIDs = append(userIDs, m.Sender.Hex())
		}
	}

	users, err := s.LookupUsers(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	views := make([]chat.ConversationView, 0, len(docs))
	for _, doc := range docs {
		var last *chat.Message
		if doc.LastMessage != nil {
			if m, ok := lastMessages[*doc.LastMessage]; ok {
				msg := toMessage(m)
				last = &msg
			}
		}
		views = append(views, chat.NewConversationView(toConversation(doc), users, last))
	}
	return views, nil
}

// AppendMessage inserts the message and then moves the conversation pointer.
// The pointer update only moves forward in time and is retried; if it keeps
// failing the message is removed again so no unreferenced write survives.
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

	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	doc := messageDoc{
		ID:             primitive.NewObjectID(),
		ConversationID: convID,
		Sender:         sender,
		Content:        content,
		ReadBy:         []primitive.ObjectID{},
		CreatedAt:      time.Now().UTC().Truncate(time.Millisecond),
	}

	if _, err := s.messages.InsertOne(ctx, doc); err != nil {
		return nil, storageErr(err)
	}

	if err := s.movePointer(ctx, doc); err != nil {
		if _, delErr := s.messages.DeleteOne(context.Background(), bson.M{"_id": doc.ID}); delErr != nil {
			logx.Error(delErr, "Failed to remove message after pointer update failure", "message_id", doc.ID.Hex())
		}
		return nil, storageErr(err)
	}

	msg := toMessage(doc)
	return &msg, nil
}

func (s *ChatStore) movePointer(ctx context.Context, doc messageDoc) error {
	filter := bson.M{"_id": doc.ConversationID, "updatedAt": bson.M{"$lte": doc.CreatedAt}}
	update := bson.M{"$set": bson.M{"lastMessage": doc.ID, "updatedAt": doc.CreatedAt}}

	var err error
	for attempt := 0; attempt < pointerRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pointerBackoff * time.Duration(attempt)):
			}
		}

		// A zero match means a newer message already owns the pointer.
		if _, err = s.conversations.UpdateOne(ctx, filter, update); err == nil {
			return nil
		}
		logx.Warn("Retrying last-message pointer update", "conversation_id", doc.ConversationID.Hex(), "attempt", attempt+1)
	}
	return err
}

func (s *ChatStore) ResolveMessage(ctx context.Context, messageID string) (*chat.ResolvedMessage, error) {
	id, err := parseID(messageID)
	if err != nil {
		return nil, err
	}

	var doc messageDoc
	err = s.messages.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.NewError(errs.ErrMessageNotFound)
	}
	if err != nil {
		return nil, storageErr(err)
	}

	users, err := s.LookupUsers(ctx, []string{doc.Sender.Hex()})
	if err != nil {
		return nil, err
	}

	resolved := chat.Resolve(toMessage(doc), users)
	return &resolved, nil
}

func (s *ChatStore) ListMessages(ctx context.Context, conversationID string) ([]chat.ResolvedMessage, error) {
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	convID, _ := primitive.ObjectIDFromHex(conv.ID)

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.messages.Find(ctx, bson.M{"conversationId": convID}, opts)
	if err != nil {
		return nil, storageErr(err)
	}

	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, storageErr(err)
	}

	users, err := s.LookupUsers(ctx, conv.Participants[:])
	if err != nil {
		return nil, err
	}

	out := make([]chat.ResolvedMessage, 0, len(docs))
	for _, doc := range docs {
		out = append(out, chat.Resolve(toMessage(doc), users))
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
	convID, _ := primitive.ObjectIDFromHex(conv.ID)

	res, err := s.messages.UpdateMany(ctx,
		bson.M{"conversationId": convID, "sender": bson.M{"$ne": reader}, "readBy": bson.M{"$ne": reader}},
		bson.M{"$addToSet": bson.M{"readBy": reader}},
	)
	if err != nil {
		return 0, storageErr(err)
	}
	return int(res.ModifiedCount), nil
}

func (s *ChatStore) LookupUsers(ctx context.Context, ids []string) (map[string]user.Identity, error) {
	out := make(map[string]user.Identity, len(ids))

	oids := make(bson.A, 0, len(ids))
	for _, id := range ids {
		if oid, err := primitive.ObjectIDFromHex(id); err == nil {
			oids = append(oids, oid)
		}
	}
	if len(oids) == 0 {
		return out, nil
	}

	cursor, err := s.users.Find(ctx, bson.M{"_id": bson.M{"$in": oids}})
	if err != nil {
		return nil, storageErr(err)
	}

	var docs []userDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, storageErr(err)
	}

	for _, doc := range docs {
		out[doc.ID.Hex()] = user.Identity{ID: doc.ID.Hex(), FullName: doc.FullName, Avatar: doc.Avatar}
	}
	return out, nil
}

func (s *ChatStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return storageErr(err)
	}
	return nil
}

func (s *ChatStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func toConversation(doc conversationDoc) chat.Conversation {
	conv := chat.Conversation{
		ID:        doc.ID.Hex(),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	if len(doc.Participants) == 2 {
		conv.Participants = chat.SortedPair(doc.Participants[0].Hex(), doc.Participants[1].Hex())
	}
	if doc.LastMessage != nil {
		conv.LastMessageID = doc.LastMessage.Hex()
	}
	return conv
}

func toMessage(doc messageDoc) chat.Message {
	readBy := make([]string, 0, len(doc.ReadBy))
	for _, id := range doc.ReadBy {
		readBy = append(readBy, id.Hex())
	}

	return chat.Message{
		ID:             doc.ID.Hex(),
		ConversationID: doc.ConversationID.Hex(),
		SenderID:       doc.Sender.Hex(),
		Content:        doc.Content,
		ReadBy:         readBy,
		CreatedAt:      doc.CreatedAt,
	}
}
