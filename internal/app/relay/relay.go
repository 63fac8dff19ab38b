/*
Package relay forwards message pushes between server processes over NATS.

A process that cannot find the recipient in its own presence registry
publishes the resolved message on medimart.chat.deliver.<userId>. Every
process subscribes to medimart.chat.deliver.* and pushes to its local
connections only when the recipient is connected there. Nothing is
re-published, so a message crosses the bus at most once.
*/
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"medimart/internal/app/chat"
	"medimart/internal/app/presence"
	"medimart/internal/pkg/errs"
	"medimart/internal/pkg/logx"
	"medimart/internal/pkg/randx"
)

// SubjectPrefix is followed by the recipient user id.
const SubjectPrefix = "medimart.chat.deliver."

const deliverTimeout = 5 * time.Second

// Conn is the subset of *nats.Conn the relay uses.
type Conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// PresenceLookup reports whether a user is connected to this process.
type PresenceLookup interface {
	Lookup(userID string) (presence.Entry, bool)
}

type envelope struct {
	Origin      string               `json:"origin"`
	RecipientID string               `json:"recipientId"`
	Message     chat.ResolvedMessage `json:"message"`
}

// Relay is both a chat.Notifier for remote recipients and the subscriber
// that hands relayed messages to the local notifier.
type Relay struct {
	conn     Conn
	origin   string
	local    chat.Notifier
	presence PresenceLookup
	sub      *nats.Subscription
	logger   zerolog.Logger
}

var _ chat.Notifier = (*Relay)(nil)

// Connect dials NATS with reconnects enabled and connection events logged.
func Connect(url string) (*nats.Conn, error) {
	logger := logx.Component("relay")

	nc, err := nats.Connect(url,
		nats.Name("medimart-chat"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// New returns a relay bound to conn. local receives messages for users present in registry.
func New(conn Conn, local chat.Notifier, registry PresenceLookup) *Relay {
	origin := randx.ConnectionID()
	return &Relay{
		conn:     conn,
		origin:   origin,
		local:    local,
		presence: registry,
		logger:   logx.Component("relay").With().Str("origin", origin).Logger(),
	}
}

// Subject returns the delivery subject for userID.
func Subject(userID string) (string, error) {
	if userID == "" || strings.ContainsAny(userID, ".*> \t\r\n") {
		return "", errs.NewError(errs.ErrInvalidID)
	}
	return SubjectPrefix + userID, nil
}

// Start subscribes to the delivery wildcard.
func (r *Relay) Start() error {
	sub, err := r.conn.Subscribe(SubjectPrefix+"*", r.handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s*: %w", SubjectPrefix, err)
	}
	r.sub = sub
	r.logger.Info().Msg("Relay subscribed")
	return nil
}

// NotifyMessage publishes msg for a recipient connected to another process.
func (r *Relay) NotifyMessage(_ context.Context, recipientID string, msg chat.ResolvedMessage) error {
	subject, err := Subject(recipientID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(envelope{Origin: r.origin, RecipientID: recipientID, Message: msg})
	if err != nil {
		return fmt.Errorf("marshal relay envelope: %w", err)
	}

	if err := r.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (r *Relay) handle(m *nats.Msg) {
	var env envelope
	if err := json.Unmarshal(m.Data, &env); err != nil {
		r.logger.Warn().Err(err).Str("subject", m.Subject).Msg("Dropping malformed relay message")
		return
	}

	if env.Origin == r.origin {
		return
	}

	if env.RecipientID == "" {
		env.RecipientID = strings.TrimPrefix(m.Subject, SubjectPrefix)
	}

	if _, ok := r.presence.Lookup(env.RecipientID); !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()

	if err := r.local.NotifyMessage(ctx, env.RecipientID, env.Message); err != nil {
		r.logger.Warn().Err(err).
			Str("recipient_id", env.RecipientID).
			Str("message_id", env.Message.ID).
			Msg("Relayed push failed")
	}
}

// Close drops the subscription. The caller owns the NATS connection.
func (r *Relay) Close() error {
	if r.sub == nil {
		return nil
	}
	return r.sub.Unsubscribe()
}
