package relay

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medimart/internal/app/chat"
	"medimart/internal/app/presence"
	"medimart/internal/app/user"
	"medimart/internal/pkg/errs"
)

// loopbackConn delivers every publish to the registered handlers synchronously.
type loopbackConn struct {
	mu       sync.Mutex
	handlers []nats.MsgHandler
	subjects []string
	fail     error
}

func (c *loopbackConn) Publish(subject string, data []byte) error {
	if c.fail != nil {
		return c.fail
	}

	c.mu.Lock()
	c.subjects = append(c.subjects, subject)
	handlers := append([]nats.MsgHandler(nil), c.handlers...)
	c.mu.Unlock()

	for _, h := range handlers {
		h(&nats.Msg{Subject: subject, Data: data})
	}
	return nil
}

func (c *loopbackConn) Subscribe(_ string, cb nats.MsgHandler) (*nats.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlers = append(c.handlers, cb)
	return nil, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *recordingNotifier) NotifyMessage(_ context.Context, recipientID string, msg chat.ResolvedMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.calls = append(n.calls, recipientID+"/"+msg.ID)
	return nil
}

func TestRelay_DeliversOnlyWhereRecipientIsPresent(t *testing.T) {
	bus := &loopbackConn{}

	senderRegistry := presence.NewRegistry()
	senderLocal := &recordingNotifier{}
	sender := New(bus, senderLocal, senderRegistry)
	require.NoError(t, sender.Start())

	holderRegistry := presence.NewRegistry()
	holderRegistry.Register("d1", "conn_1", user.RoleDoctor)
	holderLocal := &recordingNotifier{}
	holder := New(bus, holderLocal, holderRegistry)
	require.NoError(t, holder.Start())

	otherLocal := &recordingNotifier{}
	other := New(bus, otherLocal, presence.NewRegistry())
	require.NoError(t, other.Start())

	msg := chat.ResolvedMessage{ID: "m-1", Content: "hello", Sender: user.Identity{ID: "u1"}}
	require.NoError(t, sender.NotifyMessage(context.Background(), "d1", msg))

	assert.Equal(t, []string{"medimart.chat.deliver.d1"}, bus.subjects)
	assert.Equal(t, []string{"d1/m-1"}, holderLocal.calls)
	assert.Empty(t, otherLocal.calls)
	assert.Empty(t, senderLocal.calls, "a process ignores its own publishes")

	require.NoError(t, sender.Close())
}

func TestRelay_RejectsUnsafeSubjects(t *testing.T) {
	r := New(&loopbackConn{}, &recordingNotifier{}, presence.NewRegistry())

	for _, id := range []string{"", "a.b", "*", ">", "a b"} {
		err := r.NotifyMessage(context.Background(), id, chat.ResolvedMessage{})
		assert.True(t, errs.IsCode(err, errs.ErrInvalidID), "id %q", id)
	}
}

func TestRelay_PublishFailureIsReturned(t *testing.T) {
	r := New(&loopbackConn{fail: errors.New("nats: connection closed")}, &recordingNotifier{}, presence.NewRegistry())

	err := r.NotifyMessage(context.Background(), "d1", chat.ResolvedMessage{ID: "m-1"})
	assert.ErrorContains(t, err, "connection closed")
}

func TestRelay_IgnoresMalformedPayload(t *testing.T) {
	registry := presence.NewRegistry()
	registry.Register("d1", "conn_1", user.RoleDoctor)
	local := &recordingNotifier{}
	r := New(&loopbackConn{}, local, registry)

	r.handle(&nats.Msg{Subject: "medimart.chat.deliver.d1", Data: []byte("{not json")})
	assert.Empty(t, local.calls)
}
