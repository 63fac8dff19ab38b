package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"medimart/internal/pkg/errs"
	"medimart/internal/pkg/limiter"
	"medimart/internal/pkg/logx"
	"medimart/internal/pkg/req"
	"medimart/internal/pkg/resp"
)

// CreateConversationInput opens (or reopens) the conversation with another user.
type CreateConversationInput struct {
	RecipientID string `json:"recipientId"`
}

// SendMessageInput is the REST form of a chat message.
type SendMessageInput struct {
	RecipientID string `json:"recipientId"`
	Content     string `json:"content"`
}

// HandleListConversations lists the caller's conversations, most recent first.
func HandleListConversations(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := principalFrom(r)
		if !ok {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		views, err := deps.Chat.ListConversations(r.Context(), principal.ID)
		if err != nil {
			resp.RespondError(w, r, err)
			return
		}

		resp.RespondSuccess(w, r, views)
	}
}

// HandleCreateConversation returns the conversation between the caller and recipientId, creating it once.
func HandleCreateConversation(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := principalFrom(r)
		if !ok {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		var input CreateConversationInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		view, err := deps.Chat.GetOrCreateConversation(r.Context(), principal.ID, input.RecipientID)
		if err != nil {
			resp.RespondError(w, r, err)
			return
		}

		resp.RespondSuccess(w, r, view)
	}
}

// HandleListMessages returns a conversation's messages in chronological order. Participants only.
func HandleListMessages(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := principalFrom(r)
		if !ok {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		messages, err := deps.Chat.ListMessages(r.Context(), principal.ID, chi.URLParam(r, "id"))
		if err != nil {
			resp.RespondError(w, r, err)
			return
		}

		resp.RespondSuccess(w, r, messages)
	}
}

// HandleSendMessage stores a message and pushes it to the recipient when online.
func HandleSendMessage(deps *AppDeps, sendLimiter *limiter.KeyedLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := principalFrom(r)
		if !ok {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		if sendLimiter != nil && !sendLimiter.Allow(principal.ID) {
			logx.Warn("Message rejected: send rate exceeded", "user_id", principal.ID)
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		var input SendMessageInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		msg, err := deps.Chat.SendMessage(r.Context(), principal.ID, input.RecipientID, input.Content)
		if err != nil {
			resp.RespondError(w, r, err)
			return
		}

		resp.RespondCreated(w, r, msg)
	}
}

// HandleMarkConversationRead records that the caller has read the conversation.
func HandleMarkConversationRead(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := principalFrom(r)
		if !ok {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		updated, err := deps.Chat.MarkConversationRead(r.Context(), principal.ID, chi.URLParam(r, "id"))
		if err != nil {
			resp.RespondError(w, r, err)
			return
		}

		resp.RespondSuccess(w, r, map[string]int{"updated": updated})
	}
}
