package handler

import (
	"context"
	"net/http"
	"time"

	"medimart/internal/pkg/logx"
	"medimart/internal/pkg/resp"
)

const healthTimeout = 2 * time.Second

// HandleHealth reports store reachability and the number of live presence entries.
func HandleHealth(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		data := map[string]any{
			"status":      "ok",
			"service":     "MediMart Chat Server",
			"storeDriver": deps.Config.StoreDriver,
			"online":      deps.Registry.Len(),
			"onlineRoles": deps.Registry.CountByRole(),
		}

		if err := deps.Store.Ping(ctx); err != nil {
			logx.Error(err, "Health check: store unreachable")
			data["status"] = "degraded"
			resp.RespondJSON(w, r, http.StatusServiceUnavailable, resp.JSONResponse{
				Code:    0,
				Message: "degraded",
				Data:    data,
			})
			return
		}

		resp.RespondSuccess(w, r, data)
	}
}
