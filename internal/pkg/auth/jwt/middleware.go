package jwt

import (
	"context"
	"errors"
	"net/http"

	"medimart/internal/pkg/errs"
	"medimart/internal/pkg/logx"
	"medimart/internal/pkg/resp"
)

type contextKey string

// ContextAuthPayloadKey stores the verified *Payload in the request context.
const ContextAuthPayloadKey contextKey = "auth_payload"

// Authenticate verifies the caller's token and rejects the request with 401
// when it is missing or invalid. On success the payload is stored in the context.
func Authenticate(secretKey string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			payload, customErr := Verify(r, secretKey)
			if customErr != nil {
				resp.RespondError(w, r, customErr)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPayload(r.Context(), payload)))
		})
	}
}

// Verify extracts and validates the token of r. It is shared by the REST
// middleware and the websocket handshake so both transports resolve identities the same way.
func Verify(r *http.Request, secretKey string) (*Payload, *errs.CustomError) {
	tokenString, err := TokenFromRequest(r)
	if err != nil {
		if errors.Is(err, ErrTokenMissing) {
			return nil, errs.NewError(errs.ErrUnauthorized)
		}
		return nil, errs.Wrap(errs.ErrTokenInvalid, err)
	}

	payload, err := ParseToken(tokenString, secretKey)
	if err != nil {
		logx.Warn("Rejected invalid or expired token", "error", err.Error(), "path", r.URL.Path)
		return nil, errs.Wrap(errs.ErrTokenInvalid, err)
	}

	return payload, nil
}

// WithPayload returns a copy of ctx carrying payload.
func WithPayload(ctx context.Context, payload *Payload) context.Context {
	return context.WithValue(ctx, ContextAuthPayloadKey, payload)
}

// GetPayloadFromContext returns the verified payload, or nil outside Authenticate.
func GetPayloadFromContext(r *http.Request) *Payload {
	payload, ok := r.Context().Value(ContextAuthPayloadKey).(*Payload)
	if !ok {
		return nil
	}
	return payload
}
