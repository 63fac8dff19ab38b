package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medimart/internal/app/presence"
	"medimart/internal/app/user"
	"medimart/internal/pkg/errs"
)

type recordedPush struct {
	recipientID string
	msg         ResolvedMessage
}

type recordingNotifier struct {
	mu     sync.Mutex
	pushes []recordedPush
	err    error
}

func (n *recordingNotifier) NotifyMessage(_ context.Context, recipientID string, msg ResolvedMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.pushes = append(n.pushes, recordedPush{recipientID: recipientID, msg: msg})
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.pushes)
}

type failingStore struct {
	*MemoryStore
	appendErr error
}

func (f *failingStore) AppendMessage(ctx context.Context, conversationID, senderID, content string) (*Message, error) {
	if f.appendErr != nil {
		return nil, f.appendErr
	}
	return f.MemoryStore.AppendMessage(ctx, conversationID, senderID, content)
}

type unresolvableStore struct {
	*MemoryStore
}

func (unresolvableStore) ResolveMessage(context.Context, string) (*ResolvedMessage, error) {
	return nil, errs.NewError(errs.ErrStorageUnavailable)
}

type serviceFixture struct {
	store    *MemoryStore
	registry *presence.Registry
	local    *recordingNotifier
	svc      *Service
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	store := newSeededStore(t)
	registry := presence.NewRegistry()
	local := &recordingNotifier{}

	return &serviceFixture{
		store:    store,
		registry: registry,
		local:    local,
		svc:      NewService(store, registry, local),
	}
}

func TestService_SendMessageToConnectedDoctor(t *testing.T) {
	f := newServiceFixture(t)
	f.registry.Register("d1", "conn-d1", user.RoleDoctor)

	msg, err := f.svc.SendMessage(context.Background(), "u1", "d1", "hello")
	require.NoError(t, err)

	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, "u1", msg.Sender.ID)
	assert.Equal(t, "Alice Patient", msg.Sender.FullName)

	conv, err := f.store.GetConversation(context.Background(), msg.ConversationID)
	require.NoError(t, err)
	assert.True(t, conv.Has("u1"))
	assert.True(t, conv.Has("d1"))
	assert.Equal(t, msg.ID, conv.LastMessageID)

	require.Equal(t, 1, f.local.count())
	assert.Equal(t, "d1", f.local.pushes[0].recipientID)
	assert.Equal(t, "hello", f.local.pushes[0].msg.Content)
	assert.Equal(t, msg.ID, f.local.pushes[0].msg.ID)
}

func TestService_SendMessageToOfflineDoctor(t *testing.T) {
	f := newServiceFixture(t)

	msg, err := f.svc.SendMessage(context.Background(), "u1", "d1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Content)

	assert.Equal(t, 0, f.local.count())

	log, err := f.svc.ListMessages(context.Background(), "d1", msg.ConversationID)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, msg.ID, log[0].ID)
}

func TestService_PushFailureDoesNotFailSend(t *testing.T) {
	f := newServiceFixture(t)
	f.registry.Register("d1", "conn-d1", user.RoleDoctor)
	f.local.err = errors.New("connection dropped")

	msg, err := f.svc.SendMessage(context.Background(), "u1", "d1", "still stored")
	require.NoError(t, err)
	assert.Equal(t, 1, f.local.count())

	log, err := f.store.ListMessages(context.Background(), msg.ConversationID)
	require.NoError(t, err)
	assert.Len(t, log, 1)
}

func TestService_ResolveFailureFallsBackToBareSender(t *testing.T) {
	store := unresolvableStore{MemoryStore: newSeededStore(t)}
	registry := presence.NewRegistry()
	registry.Register("d1", "conn-d1", user.RoleDoctor)
	local := &recordingNotifier{}
	svc := NewService(store, registry, local)

	msg, err := svc.SendMessage(context.Background(), "u1", "d1", " hello ")
	require.NoError(t, err)
	assert.Equal(t, user.Identity{ID: "u1"}, msg.Sender)
	assert.Equal(t, "hello", msg.Content)
	assert.NotNil(t, msg.ReadBy)

	require.Equal(t, 1, local.count())
	assert.Equal(t, msg.ID, local.pushes[0].msg.ID)

	log, err := store.MemoryStore.ListMessages(context.Background(), msg.ConversationID)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, "Alice Patient", log[0].Sender.FullName)
}

func TestService_RemoteNotifierUsedWhenNotLocal(t *testing.T) {
	f := newServiceFixture(t)
	remote := &recordingNotifier{}
	svc := NewService(f.store, f.registry, f.local, WithRemoteNotifier(remote))

	_, err := svc.SendMessage(context.Background(), "u1", "d1", "via relay")
	require.NoError(t, err)
	assert.Equal(t, 0, f.local.count())
	assert.Equal(t, 1, remote.count())

	f.registry.Register("d1", "conn-d1", user.RoleDoctor)
	_, err = svc.SendMessage(context.Background(), "u1", "d1", "direct")
	require.NoError(t, err)
	assert.Equal(t, 1, f.local.count())
	assert.Equal(t, 1, remote.count())
}

func TestService_SendMessageValidation(t *testing.T) {
	tests := []struct {
		name      string
		sender    string
		recipient string
		content   string
		code      int
	}{
		{name: "empty content", sender: "u1", recipient: "d1", content: "", code: errs.ErrMessageContentEmpty},
		{name: "whitespace content", sender: "u1", recipient: "d1", content: " \n\t", code: errs.ErrMessageContentEmpty},
		{name: "too long", sender: "u1", recipient: "d1", content: strings.Repeat("a", MaxContentBytes+1), code: errs.ErrMessageContentTooLong},
		{name: "self", sender: "u1", recipient: "u1", content: "hi", code: errs.ErrSelfConversation},
		{name: "missing recipient", sender: "u1", recipient: "", content: "hi", code: errs.ErrInvalidID},
		{name: "unknown recipient", sender: "u1", recipient: "ghost", content: "hi", code: errs.ErrUserNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t)
			f.registry.Register(tt.recipient, "conn", user.RoleDoctor)

			_, err := f.svc.SendMessage(context.Background(), tt.sender, tt.recipient, tt.content)
			require.Error(t, err)
			assert.True(t, errs.IsCode(err, tt.code), "got %v", err)

			assert.Equal(t, 0, f.store.ConversationCount(), "no conversation may be created")
			assert.Equal(t, 0, f.local.count())
		})
	}
}

func TestService_StoreFailureAbortsSendWithoutPush(t *testing.T) {
	store := &failingStore{
		MemoryStore: newSeededStore(t),
		appendErr:   errs.NewError(errs.ErrStorageUnavailable),
	}
	registry := presence.NewRegistry()
	registry.Register("d1", "conn-d1", user.RoleDoctor)
	local := &recordingNotifier{}

	svc := NewService(store, registry, local)

	_, err := svc.SendMessage(context.Background(), "u1", "d1", "lost")
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrStorageUnavailable))
	assert.Equal(t, 0, local.count())
}

func TestService_GetOrCreateConversationIsIdempotent(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	views := make([]*ConversationView, 2)
	for i, pair := range [][2]string{{"u1", "d1"}, {"d1", "u1"}} {
		wg.Add(1)
		go func(i int, a, b string) {
			defer wg.Done()
			view, err := f.svc.GetOrCreateConversation(ctx, a, b)
			if assert.NoError(t, err) {
				views[i] = view
			}
		}(i, pair[0], pair[1])
	}
	wg.Wait()

	require.NotNil(t, views[0])
	require.NotNil(t, views[1])
	assert.Equal(t, views[0].ID, views[1].ID)
	assert.Nil(t, views[0].LastMessage)
	assert.Len(t, views[0].Participants, 2)

	msg, err := f.svc.SendMessage(ctx, "d1", "u1", "welcome")
	require.NoError(t, err)

	again, err := f.svc.GetOrCreateConversation(ctx, "u1", "d1")
	require.NoError(t, err)
	assert.Equal(t, views[0].ID, again.ID)
	require.NotNil(t, again.LastMessage)
	assert.Equal(t, msg.ID, again.LastMessage.ID)
	assert.Equal(t, "Dr. Bob", again.LastMessage.Sender.FullName)
}

func TestService_ListConversationsReflectsLastMessage(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	var lastID string
	for _, content := range []string{"one", "two", "three"} {
		msg, err := f.svc.SendMessage(ctx, "u1", "d1", content)
		require.NoError(t, err)
		lastID = msg.ID
	}

	views, err := f.svc.ListConversations(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.NotNil(t, views[0].LastMessage)
	assert.Equal(t, lastID, views[0].LastMessage.ID)
	assert.Equal(t, "three", views[0].LastMessage.Content)
}

func TestService_ListMessagesRequiresParticipant(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	msg, err := f.svc.SendMessage(ctx, "u1", "d1", "private")
	require.NoError(t, err)

	_, err = f.svc.ListMessages(ctx, "p1", msg.ConversationID)
	assert.True(t, errs.IsCode(err, errs.ErrNotParticipant))

	_, err = f.svc.ListMessages(ctx, "u1", "missing")
	assert.True(t, errs.IsCode(err, errs.ErrConversationNotFound))

	_, err = f.svc.MarkConversationRead(ctx, "p1", msg.ConversationID)
	assert.True(t, errs.IsCode(err, errs.ErrNotParticipant))

	n, err := f.svc.MarkConversationRead(ctx, "d1", msg.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestService_OnlineUsers(t *testing.T) {
	f := newServiceFixture(t)
	f.registry.Register("d1", "c1", user.RoleDoctor)
	f.registry.Register("u1", "c2", user.RoleUser)

	patient := user.Principal{ID: "u2", Role: user.RoleUser}
	doctor := user.Principal{ID: "d2", Role: user.RoleDoctor}

	ids, err := f.svc.OnlineUsers(patient, user.RoleDoctor)
	require.NoError(t, err)
	assert.Equal(t, []string{"d1"}, ids)

	_, err = f.svc.OnlineUsers(patient, user.RoleUser)
	assert.True(t, errs.IsCode(err, errs.ErrForbidden))

	ids, err = f.svc.OnlineUsers(doctor, user.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, ids)

	_, err = f.svc.OnlineUsers(doctor, user.Role("nurse"))
	assert.True(t, errs.IsCode(err, errs.ErrInvalidRole))
}

func TestCanViewPresence(t *testing.T) {
	for _, viewer := range user.AllRoles {
		assert.True(t, CanViewPresence(viewer, user.RoleDoctor), viewer)
		assert.True(t, CanViewPresence(viewer, user.RolePharmacist), viewer)
		assert.Equal(t, viewer == user.RoleAdmin, CanViewPresence(viewer, user.RoleAdmin), viewer)
		assert.Equal(t, viewer != user.RoleUser, CanViewPresence(viewer, user.RoleUser), viewer)
	}
}
