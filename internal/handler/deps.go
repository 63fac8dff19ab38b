package handler

import (
	"net/http"

	"medimart/internal/app/chat"
	"medimart/internal/app/presence"
	"medimart/internal/app/realtime"
	"medimart/internal/app/storage"
	"medimart/internal/app/user"
	"medimart/internal/configs"
	"medimart/internal/pkg/auth/jwt"
)

// AppDeps groups everything the HTTP layer needs.
type AppDeps struct {
	Config   *configs.AppConfig
	Chat     *chat.Service
	Store    chat.Store
	Hub      *realtime.Hub
	Registry *presence.Registry

	// StorageService is nil when S3 is not configured.
	StorageService storage.StorageService

	Limiters *Limiters
}

// principalFrom returns the caller verified by jwt.Authenticate.
func principalFrom(r *http.Request) (user.Principal, bool) {
	payload := jwt.GetPayloadFromContext(r)
	if payload == nil {
		return user.Principal{}, false
	}
	return payload.Principal(), true
}
