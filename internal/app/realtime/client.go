package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"medimart/internal/app/chat"
	"medimart/internal/app/user"
	"medimart/internal/pkg/errs"
	"medimart/internal/pkg/limiter"
	"medimart/internal/pkg/logx"
	"medimart/internal/pkg/randx"
)

const (
	// timeout for a single websocket write.
	writeWait = 10 * time.Second

	// how long the server waits for a pong (or any frame) before declaring the peer dead.
	pongWait = 60 * time.Second

	// ping cadence; must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maximum size of an inbound frame.
	maxFrameSize = 8192

	// per-connection outbound queue length.
	sendQueueSize = 256

	// upper bound for handling one inbound send_message frame.
	inboundTimeout = 10 * time.Second

	// WsCloseCodeSessionKicked tells the client its connection was evicted by a newer one.
	WsCloseCodeSessionKicked = 4001
)

// MessageSender is the part of the chat service reachable from a connection.
type MessageSender interface {
	SendMessage(ctx context.Context, senderID, recipientID, content string) (*chat.ResolvedMessage, error)
}

// Client is one authenticated websocket connection. Its identity is fixed for its lifetime.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	principal   user.Principal
	connID      string
	connectedAt time.Time

	sender      MessageSender
	sendLimiter *limiter.KeyedLimiter

	// send is the outbound queue. Only the hub closes it.
	send chan []byte

	// closeCode is written by the hub before it closes send and read by WritePump afterwards.
	closeCode int

	logger zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithSendLimiter rate limits send_message frames per user.
func WithSendLimiter(l *limiter.KeyedLimiter) ClientOption {
	return func(c *Client) { c.sendLimiter = l }
}

// NewClient binds conn to principal. sender may be nil, in which case send_message frames are rejected.
func NewClient(hub *Hub, conn *websocket.Conn, principal user.Principal, sender MessageSender, opts ...ClientOption) *Client {
	connID := randx.ConnectionID()

	c := &Client{
		hub:         hub,
		conn:        conn,
		principal:   principal,
		connID:      connID,
		connectedAt: time.Now(),
		sender:      sender,
		send:        make(chan []byte, sendQueueSize),
		closeCode:   websocket.CloseNormalClosure,
		logger: logx.Component("ws").With().
			Str("client_id", principal.ID).
			Str("conn_id", connID).
			Logger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// ID returns the connection id recorded in the presence registry.
func (c *Client) ID() string {
	return c.connID
}

// Principal returns the identity bound at handshake time.
func (c *Client) Principal() user.Principal {
	return c.principal
}

func (c *Client) markKicked() {
	c.closeCode = WsCloseCodeSessionKicked
}

// Serve registers the client and runs its pumps until the connection ends.
// It blocks for the lifetime of the connection.
func (c *Client) Serve() {
	if err := c.hub.Register(c); err != nil {
		c.logger.Warn().Err(err).Msg("Hub refused connection.")
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait),
		)
		_ = c.conn.Close()
		return
	}

	go c.WritePump()
	c.ReadPump()
}

// ReadPump reads inbound frames and enforces the heartbeat deadline.
// When it returns the client is unregistered and the connection closed.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Connection close error in ReadPump")
		}
	}()

	c.conn.SetReadLimit(maxFrameSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Connection closed unexpectedly")
			}
			return
		}

		c.handleFrame(data)
	}
}

// WritePump drains the outbound queue and sends pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Connection close error in WritePump")
		}
	}()

	for {
		select {
		case data, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error().Err(err).Msg("Failed to set write deadline")
				return
			}

			if !ok {
				reason := ""
				if c.closeCode == WsCloseCodeSessionKicked {
					reason = errs.NewError(errs.ErrSessionKicked).Message
				}
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, reason))
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn().Err(err).Msg("Error writing frame")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug().Err(err).Msg("Error writing ping")
				return
			}
		}
	}
}

func (c *Client) handleFrame(data []byte) {
	var frame InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid JSON")
		c.sendError(errs.NewError(errs.ErrInvalidJSONFormat), "")
		return
	}

	switch frame.Type {
	case FrameSendMessage:
		c.handleSendMessage(frame.Payload, frame.TempID)
	default:
		c.logger.Warn().Str("frame_type", string(frame.Type)).Msg("Client sent unsupported frame type")
		c.sendError(errs.NewError(errs.ErrInvalidParams), frame.TempID)
	}
}

func (c *Client) handleSendMessage(payload json.RawMessage, tempID string) {
	if c.sender == nil {
		c.sendError(errs.NewError(errs.ErrFeatureDisabled), tempID)
		return
	}

	if c.sendLimiter != nil && !c.sendLimiter.Allow(c.principal.ID) {
		c.sendError(errs.NewError(errs.ErrRateLimitExceeded), tempID)
		return
	}

	var body SendMessagePayload
	if err := json.Unmarshal(payload, &body); err != nil {
		c.sendError(errs.NewError(errs.ErrInvalidParams), tempID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), inboundTimeout)
	defer cancel()

	msg, err := c.sender.SendMessage(ctx, c.principal.ID, body.RecipientID, body.Content)
	if err != nil {
		c.sendError(err, tempID)
		return
	}

	c.reply(ctx, EventMessageAck, AckPayload{
		TempID:         tempID,
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		CreatedAt:      msg.CreatedAt,
	})
}

// sendError reports err to this connection only. Internal details stay in the logs.
func (c *Client) sendError(err error, tempID string) {
	customErr := errs.From(err)

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	c.reply(ctx, EventError, ErrorPayload{
		Code:    customErr.Code,
		Message: customErr.Message,
		TempID:  tempID,
	})
}

func (c *Client) reply(ctx context.Context, eventType EventType, payload any) {
	data, err := encodeEvent(eventType, payload)
	if err != nil {
		c.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("Failed to build reply")
		return
	}

	if err := c.hub.sendTo(ctx, c, data); err != nil {
		c.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to queue reply")
	}
}
