/*
Package handler provides the HTTP handlers and routing setup for the MediMart chat server.

This file defines the main Router, applying middleware for logging, CORS and
rate limiting before delegating to the REST API, the health check and the
websocket gateway.
*/
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"medimart/internal/pkg/auth/jwt"
	"medimart/internal/pkg/limiter"
	"medimart/internal/pkg/logx"
)

const (
	ConnectRate  = 0.5
	ConnectBurst = 10
	CreateRate   = 0.2
	CreateBurst  = 5
	SendRate     = 5
	SendBurst    = 20
)

// Limiters holds the keyed rate limiters used by the router. Their cleanup
// goroutines run until Close.
type Limiters struct {
	Connect *limiter.KeyedLimiter
	Create  *limiter.KeyedLimiter
	Send    *limiter.KeyedLimiter
}

// NewLimiters creates the handshake (per IP), conversation create (per IP) and send (per user) limiters.
func NewLimiters() *Limiters {
	return &Limiters{
		Connect: limiter.New("ws_connect", rate.Limit(ConnectRate), ConnectBurst),
		Create:  limiter.New("conversation_create", rate.Limit(CreateRate), CreateBurst),
		Send:    limiter.New("message_send", rate.Limit(SendRate), SendBurst),
	}
}

// Close stops every limiter's cleanup goroutine.
func (l *Limiters) Close() {
	l.Connect.Close()
	l.Create.Close()
	l.Send.Close()
}

// Router sets up the main HTTP routing table for the application.
// deps.Limiters must be set; the caller owns and closes them.
func Router(deps *AppDeps) http.Handler {
	limits := deps.Limiters

	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	wsUpgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.IsDevelopment() {
				return true
			}

			origin := r.Header.Get("Origin")
			if origin == "" {
				// Native clients send no Origin header.
				return true
			}
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if deps.Config.IsDevelopment() {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", HandleHealth(deps))

	r.Route("/api", func(api chi.Router) {
		api.Use(jwt.Authenticate(deps.Config.JWTSecret))

		api.Route("/chat", func(chatRoutes chi.Router) {
			chatRoutes.Get("/conversations", HandleListConversations(deps))
			chatRoutes.With(limits.Create.PerIP).Post("/conversations", HandleCreateConversation(deps))
			chatRoutes.Get("/conversations/{id}/messages", HandleListMessages(deps))
			chatRoutes.Post("/conversations/{id}/read", HandleMarkConversationRead(deps))
			chatRoutes.Post("/messages", HandleSendMessage(deps, limits.Send))
		})

		api.Get("/presence/{role}", HandleOnlineUsers(deps))

		api.Post("/upload/avatar/presign", HandlePresignAvatarURL(deps))
	})

	r.Get("/ws", HandleWebSocket(deps, wsUpgrader, limits.Connect, limits.Send))

	return r
}
