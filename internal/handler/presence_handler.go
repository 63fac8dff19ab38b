package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"medimart/internal/app/user"
	"medimart/internal/pkg/errs"
	"medimart/internal/pkg/resp"
)

// OnlineUsersResponse mirrors the presence-update websocket payload.
type OnlineUsersResponse struct {
	Role    user.Role `json:"role"`
	UserIDs []string  `json:"userIds"`
}

// HandleOnlineUsers lists online users of a role, subject to the caller's role.
func HandleOnlineUsers(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := principalFrom(r)
		if !ok {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		role, err := user.ParseRole(chi.URLParam(r, "role"))
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidRole))
			return
		}

		ids, err := deps.Chat.OnlineUsers(principal, role)
		if err != nil {
			resp.RespondError(w, r, err)
			return
		}

		resp.RespondSuccess(w, r, OnlineUsersResponse{Role: role, UserIDs: ids})
	}
}
