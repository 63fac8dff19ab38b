/*
Package user contains the identity and role types shared by the chat, presence
and realtime packages.

Accounts themselves live in an external service; this package only models the
parts of a user the messaging subsystem needs: the id, the display identity
rendered next to messages, and the role used for presence filtering.
*/
package user

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role is the closed set of account roles.
type Role string

const (
	RoleUser       Role = "user"
	RoleDoctor     Role = "doctor"
	RolePharmacist Role = "pharmacist"
	RoleAdmin      Role = "admin"
)

// AllRoles lists every valid role in a stable order.
var AllRoles = []Role{RoleUser, RoleDoctor, RolePharmacist, RoleAdmin}

// ParseRole converts a raw string into a Role. Matching is case-insensitive.
func ParseRole(raw string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", raw)
	}
	return r, nil
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleDoctor, RolePharmacist, RoleAdmin:
		return true
	default:
		return false
	}
}

func (r Role) String() string {
	return string(r)
}

// UnmarshalJSON rejects roles outside the closed set.
func (r *Role) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	parsed, err := ParseRole(raw)
	if err != nil {
		return err
	}

	*r = parsed
	return nil
}

// Identity is the minimal display identity attached to participants and message senders.
type Identity struct {
	// ID is the account id in the shared user id space (REST and realtime).
	ID string `json:"id"`

	// FullName is the name rendered by clients.
	FullName string `json:"fullName"`

	// Avatar is an optional avatar URL.
	Avatar string `json:"avatar,omitempty"`
}

// Principal is the authenticated caller bound to a request or a realtime connection.
type Principal struct {
	ID   string
	Role Role
}
