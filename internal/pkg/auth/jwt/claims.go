package jwt

import (
	"github.com/golang-jwt/jwt"

	"medimart/internal/app/user"
)

// Payload is the claim set shared by the REST API and the realtime gateway.
// Tokens are issued by the account service; this server only verifies them.
type Payload struct {
	// StandardClaims carries exp, iat and iss; expiry is enforced during parsing.
	jwt.StandardClaims

	// ID is the account id in the shared user id space.
	ID string `json:"id"`

	// Email is informational and only used in logs.
	Email string `json:"email,omitempty"`

	// Role drives presence filtering and role-gated queries.
	Role user.Role `json:"role"`
}

// Principal returns the identity bound to the request or connection.
func (p *Payload) Principal() user.Principal {
	return user.Principal{ID: p.ID, Role: p.Role}
}
