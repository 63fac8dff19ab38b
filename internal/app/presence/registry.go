/*
Package presence tracks which users currently hold a live realtime connection.

The Registry is process-local and ephemeral: entries exist only while a
websocket connection is open and a restart clears everything. The realtime hub
is the only writer; the chat service and REST handlers only read.
*/
package presence

import (
	"sync"
	"time"

	"medimart/internal/app/user"
)

// Entry is the presence record of one user.
type Entry struct {
	ConnectionID string
	Role         user.Role
	Since        time.Time
}

// Registry maps user ids to their current connection. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

// Register inserts or overwrites the entry for userID. The last registration wins.
func (r *Registry) Register(userID, connectionID string, role user.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[userID] = Entry{
		ConnectionID: connectionID,
		Role:         role,
		Since:        r.now(),
	}
}

// Unregister removes userID. Removing an absent user is a no-op.
func (r *Registry) Unregister(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, userID)
}

// Release removes userID only if its entry still points at connectionID.
// It reports whether an entry was removed; a stale connection never evicts a newer one.
func (r *Registry) Release(userID, connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[userID]
	if !ok || entry.ConnectionID != connectionID {
		return false
	}

	delete(r.entries, userID)
	return true
}

// Lookup returns the entry for userID, if any.
func (r *Registry) Lookup(userID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[userID]
	return entry, ok
}

// ListByRole returns the ids of every registered user with the given role, in no particular order.
func (r *Registry) ListByRole(role user.Role) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0)
	for id, entry := range r.entries {
		if entry.Role == role {
			ids = append(ids, id)
		}
	}
	return ids
}

// Len returns the number of users currently present.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

// CountByRole returns how many present users hold each role. Every role has a key.
func (r *Registry) CountByRole() map[user.Role]int {
	counts := make(map[user.Role]int, len(user.AllRoles))
	for _, role := range user.AllRoles {
		counts[role] = 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, entry := range r.entries {
		counts[entry.Role]++
	}
	return counts
}
