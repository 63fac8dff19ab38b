/*
Package realtime terminates authenticated websocket connections.

The Hub owns the per-user connection groups and is the only writer of the
presence registry. Connections register on handshake success, receive
presence-update broadcasts and message-received pushes, and may send chat
messages upstream with send_message frames.
*/
package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"medimart/internal/app/chat"
	"medimart/internal/app/user"
	"medimart/internal/pkg/randx"
)

// EventType names a frame exchanged over the websocket.
type EventType string

// Server -> client events.
const (
	EventPresenceUpdate  EventType = "presence-update"
	EventMessageReceived EventType = "message-received"
	EventMessageAck      EventType = "message-ack"
	EventError           EventType = "error"
)

// Client -> server frames.
const (
	FrameSendMessage EventType = "send_message"
)

// Event is the envelope of every server -> client frame.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEvent wraps payload in an envelope stamped with a fresh id and the current time in unix milliseconds.
func NewEvent(eventType EventType, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	return Event{
		ID:        randx.EventID(),
		Type:      eventType,
		Timestamp: time.Now().UnixMilli(),
		Payload:   raw,
	}, nil
}

// encodeEvent builds an event and returns its wire bytes.
func encodeEvent(eventType EventType, payload any) ([]byte, error) {
	event, err := NewEvent(eventType, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(event)
}

// PresencePayload lists the users of one role currently online.
type PresencePayload struct {
	Role    user.Role `json:"role"`
	UserIDs []string  `json:"userIds"`
}

// MessagePayload is the body of message-received: the stored message with its sender resolved.
type MessagePayload = chat.ResolvedMessage

// AckPayload confirms a send_message frame.
type AckPayload struct {
	TempID         string    `json:"tempId,omitempty"`
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ErrorPayload reports a failed inbound frame.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	TempID  string `json:"tempId,omitempty"`
}

// InboundFrame is a client -> server frame.
type InboundFrame struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	TempID  string          `json:"tempId,omitempty"`
}

// SendMessagePayload is the body of a send_message frame.
type SendMessagePayload struct {
	RecipientID string `json:"recipientId"`
	Content     string `json:"content"`
}
