package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"medimart/internal/app/realtime"
	"medimart/internal/pkg/auth/jwt"
	"medimart/internal/pkg/errs"
	"medimart/internal/pkg/limiter"
	"medimart/internal/pkg/logx"
	"medimart/internal/pkg/resp"
)

// HandleWebSocket authenticates the handshake and hands the upgraded connection to the hub.
// Rejected handshakes get a plain HTTP error and never touch the presence registry.
func HandleWebSocket(
	deps *AppDeps,
	upgrader websocket.Upgrader,
	connectLimiter *limiter.KeyedLimiter,
	sendLimiter *limiter.KeyedLimiter,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := limiter.ClientIP(r)
		if !connectLimiter.Allow(ip) {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", logx.AnonymizeIP(ip))
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		payload, customErr := jwt.Verify(r, deps.Config.JWTSecret)
		if customErr != nil {
			logx.Info("WebSocket handshake rejected", "code", customErr.Code, "ip", logx.AnonymizeIP(ip))
			resp.RespondError(w, r, customErr)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		principal := payload.Principal()
		client := realtime.NewClient(deps.Hub, conn, principal, deps.Chat, realtime.WithSendLimiter(sendLimiter))

		logx.Info("WebSocket connection established", "user_id", principal.ID, "role", principal.Role.String(), "connection_id", client.ID())

		client.Serve()
	}
}
