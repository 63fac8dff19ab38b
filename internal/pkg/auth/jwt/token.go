package jwt

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
)

const (
	// DefaultExpiration is the lifetime used by GenerateToken callers that have no preference.
	DefaultExpiration = 24 * time.Hour

	// TokenIssuer identifies tokens minted by GenerateToken.
	TokenIssuer = "medimart-accounts"

	// QueryTokenParam is the query parameter browsers use to pass the token during a websocket handshake.
	QueryTokenParam = "token"
)

// ErrTokenMissing is returned by TokenFromRequest when no credential is present.
var ErrTokenMissing = errors.New("token not provided")

// GenerateToken signs payload with HS256. Used by tooling and tests; production tokens come from the account service.
func GenerateToken(payload *Payload, secretKey string, duration time.Duration) (string, error) {
	now := time.Now()

	payload.StandardClaims = jwt.StandardClaims{
		ExpiresAt: now.Add(duration).Unix(),
		IssuedAt:  now.Unix(),
		Issuer:    TokenIssuer,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, payload)
	return token.SignedString([]byte(secretKey))
}

// ParseToken verifies the signature and lifetime of tokenString and returns its claims.
// Tokens without an id or with a role outside the closed set are rejected.
func ParseToken(tokenString string, secretKey string) (*Payload, error) {
	claims := &Payload{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(secretKey), nil
	})
	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid or expired token")
	}

	if claims.ID == "" {
		return nil, errors.New("token has no subject id")
	}

	if !claims.Role.Valid() {
		return nil, fmt.Errorf("token has unknown role %q", claims.Role)
	}

	return claims, nil
}

// TokenFromRequest extracts a bearer token from the Authorization header,
// falling back to the token query parameter.
func TokenFromRequest(r *http.Request) (string, error) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", errors.New("malformed Authorization header")
		}
		return strings.TrimSpace(parts[1]), nil
	}

	if token := r.URL.Query().Get(QueryTokenParam); token != "" {
		return token, nil
	}

	return "", ErrTokenMissing
}
