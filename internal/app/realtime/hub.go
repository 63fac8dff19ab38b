package realtime

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"medimart/internal/app/chat"
	"medimart/internal/app/presence"
	"medimart/internal/app/user"
	"medimart/internal/pkg/logx"
)

const (
	// DefaultMaxConnectionsPerUser caps simultaneous connections of one user; the oldest is kicked beyond it.
	DefaultMaxConnectionsPerUser = 5

	deliverChannelBuffer = 1024
)

// ErrHubStopped is returned once the hub's Run loop has exited.
var ErrHubStopped = errors.New("realtime hub stopped")

// delivery addresses raw frame bytes either to every connection of a user or to one connection.
type delivery struct {
	userID string
	client *Client
	data   []byte
}

// Hub serializes connection lifecycle and fan-out in a single Run loop.
// groups is only touched by that loop; the presence registry is written only from it.
type Hub struct {
	registry *presence.Registry

	// groups maps a user id to that user's live connections.
	groups map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	deliver    chan delivery

	stopChan chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	presenceRoles   []user.Role
	maxConnsPerUser int

	logger zerolog.Logger
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithPresenceRoles sets the roles whose online lists are broadcast on every presence change.
func WithPresenceRoles(roles ...user.Role) HubOption {
	return func(h *Hub) { h.presenceRoles = roles }
}

// WithMaxConnectionsPerUser overrides DefaultMaxConnectionsPerUser. n <= 0 disables the cap.
func WithMaxConnectionsPerUser(n int) HubOption {
	return func(h *Hub) { h.maxConnsPerUser = n }
}

// NewHub creates a Hub writing to registry. Start it with go hub.Run().
func NewHub(registry *presence.Registry, opts ...HubOption) *Hub {
	h := &Hub{
		registry:        registry,
		groups:          make(map[string]map[*Client]struct{}),
		register:        make(chan *Client),
		unregister:      make(chan *Client),
		deliver:         make(chan delivery, deliverChannelBuffer),
		stopChan:        make(chan struct{}),
		done:            make(chan struct{}),
		presenceRoles:   []user.Role{user.RoleDoctor},
		maxConnsPerUser: DefaultMaxConnectionsPerUser,
		logger:          logx.Component("hub"),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Register attaches an authenticated client. It blocks until the Run loop accepts it.
func (h *Hub) Register(c *Client) error {
	select {
	case h.register <- c:
		return nil
	case <-h.stopChan:
		return ErrHubStopped
	}
}

// Unregister detaches c. Unknown or already detached clients are ignored.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stopChan:
	}
}

// NotifyMessage queues a message-received event for every connection of recipientID.
// It implements chat.Notifier. Delivery is at most once: frames for slow or vanished
// connections are dropped.
func (h *Hub) NotifyMessage(ctx context.Context, recipientID string, msg chat.ResolvedMessage) error {
	data, err := encodeEvent(EventMessageReceived, msg)
	if err != nil {
		return err
	}

	return h.enqueue(ctx, delivery{userID: recipientID, data: data})
}

// sendTo queues frame bytes for a single connection.
func (h *Hub) sendTo(ctx context.Context, c *Client, data []byte) error {
	return h.enqueue(ctx, delivery{client: c, data: data})
}

func (h *Hub) enqueue(ctx context.Context, d delivery) error {
	// deliver is buffered; check stop first so a stopped hub never accepts work.
	select {
	case <-h.stopChan:
		return ErrHubStopped
	default:
	}

	select {
	case h.deliver <- d:
		return nil
	case <-h.stopChan:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop terminates the Run loop, closes every connection's queue and waits for the loop to exit.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		h.logger.Info().Msg("Stopping realtime hub.")
		close(h.stopChan)
	})
	<-h.done
}

// Run is the hub event loop.
func (h *Hub) Run() {
	defer close(h.done)
	defer h.shutdown()

	h.logger.Info().
		Int("max_connections_per_user", h.maxConnsPerUser).
		Interface("presence_roles", h.presenceRoles).
		Msg("Realtime hub started.")

	for {
		select {
		case c := <-h.register:
			h.attach(c)

		case c := <-h.unregister:
			if h.detach(c) {
				h.logger.Info().
					Str("user_id", c.principal.ID).
					Str("conn_id", c.connID).
					Msg("Connection left.")
				h.broadcastPresence()
			}

		case d := <-h.deliver:
			h.route(d)

		case <-h.stopChan:
			return
		}
	}
}

func (h *Hub) attach(c *Client) {
	userID := c.principal.ID

	group, ok := h.groups[userID]
	if !ok {
		group = make(map[*Client]struct{})
		h.groups[userID] = group
	}
	group[c] = struct{}{}

	h.registry.Register(userID, c.connID, c.principal.Role)

	h.logger.Info().
		Str("user_id", userID).
		Str("role", c.principal.Role.String()).
		Str("conn_id", c.connID).
		Int("user_connections", len(group)).
		Int("online_users", h.registry.Len()).
		Msg("Connection joined.")

	if h.maxConnsPerUser > 0 && len(group) > h.maxConnsPerUser {
		if oldest := oldestExcept(group, c); oldest != nil {
			oldest.markKicked()
			h.detach(oldest)
		}
	}

	h.broadcastPresence()
}

// detach removes c from its group, closes its queue and keeps the registry entry
// pointing at a live connection. It reports whether c was attached.
func (h *Hub) detach(c *Client) bool {
	userID := c.principal.ID

	group, ok := h.groups[userID]
	if !ok {
		return false
	}
	if _, ok := group[c]; !ok {
		return false
	}

	delete(group, c)
	close(c.send)

	if len(group) == 0 {
		delete(h.groups, userID)
	}

	if h.registry.Release(userID, c.connID) {
		if next := newest(group); next != nil {
			h.registry.Register(userID, next.connID, next.principal.Role)
		}
	}

	return true
}

func (h *Hub) route(d delivery) {
	if d.client != nil {
		if _, ok := h.groups[d.client.principal.ID][d.client]; !ok {
			return
		}
		h.offer(d.client, d.data)
		return
	}

	group := h.groups[d.userID]
	if len(group) == 0 {
		h.logger.Debug().Str("user_id", d.userID).Msg("Recipient has no live connection, push dropped.")
		return
	}

	for c := range group {
		h.offer(c, d.data)
	}
}

// offer queues data without blocking. A full queue means a stuck client, which is dropped.
func (h *Hub) offer(c *Client, data []byte) {
	select {
	case c.send <- data:
	default:
		h.logger.Warn().
			Str("user_id", c.principal.ID).
			Str("conn_id", c.connID).
			Msg("Client send queue full, dropping connection.")
		if h.detach(c) {
			h.broadcastPresence()
		}
	}
}

// broadcastPresence sends one presence-update per configured role to every connection.
// Connections whose queue is full are dropped, and the shrunken online set is
// broadcast again until a pass drops nobody.
func (h *Hub) broadcastPresence() {
	for {
		stuck := h.pushPresence()
		if len(stuck) == 0 {
			return
		}

		dropped := false
		for c := range stuck {
			h.logger.Warn().Str("conn_id", c.connID).Msg("Client send queue full during presence broadcast, dropping.")
			if h.detach(c) {
				dropped = true
			}
		}
		if !dropped {
			return
		}
	}
}

// pushPresence offers the current presence frames to every connection and
// returns the ones that could not take them.
func (h *Hub) pushPresence() map[*Client]struct{} {
	stuck := make(map[*Client]struct{})

	for _, role := range h.presenceRoles {
		ids := h.registry.ListByRole(role)
		sort.Strings(ids)

		data, err := encodeEvent(EventPresenceUpdate, PresencePayload{Role: role, UserIDs: ids})
		if err != nil {
			h.logger.Error().Err(err).Msg("Failed to build presence-update.")
			continue
		}

		for _, group := range h.groups {
			for c := range group {
				if _, ok := stuck[c]; ok {
					continue
				}
				select {
				case c.send <- data:
				default:
					stuck[c] = struct{}{}
				}
			}
		}
	}

	return stuck
}

func (h *Hub) shutdown() {
	for userID, group := range h.groups {
		for c := range group {
			close(c.send)
			h.registry.Release(userID, c.connID)
		}
	}
	h.groups = make(map[string]map[*Client]struct{})

	h.logger.Info().Msg("Realtime hub stopped.")
}

func oldestExcept(group map[*Client]struct{}, keep *Client) *Client {
	var oldest *Client
	for c := range group {
		if c == keep {
			continue
		}
		if oldest == nil || c.connectedAt.Before(oldest.connectedAt) {
			oldest = c
		}
	}
	return oldest
}

func newest(group map[*Client]struct{}) *Client {
	var latest *Client
	for c := range group {
		if latest == nil || c.connectedAt.After(latest.connectedAt) {
			latest = c
		}
	}
	return latest
}
