package handler

import (
	"net/http"

	"medimart/internal/app/storage"
	"medimart/internal/pkg/errs"
	"medimart/internal/pkg/req"
	"medimart/internal/pkg/resp"
)

// HandlePresignAvatarURL issues a time-limited upload URL for the caller's avatar.
func HandlePresignAvatarURL(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := principalFrom(r)
		if !ok {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		if deps.StorageService == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrFeatureDisabled))
			return
		}

		var input storage.AvatarUploadRequest
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		upload, err := storage.PresignAvatar(r.Context(), deps.StorageService, principal.ID, input)
		if err != nil {
			resp.RespondError(w, r, err)
			return
		}

		resp.RespondSuccess(w, r, upload)
	}
}
