// Package api implements the v1 HTTP API. Most endpoints serve precomputed
// responses straight from the cache store; /rows, /search and /filter query
// the catalog store live.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	actx "github.com/dataview-sh/dataview/app/context"
	"github.com/dataview-sh/dataview/catalog"
	"github.com/dataview-sh/dataview/db/types"
	"github.com/dataview-sh/dataview/store/cache"
	"github.com/dataview-sh/dataview/web/server/api/util"
	"github.com/dataview-sh/dataview/web/server/middleware"
	stypes "github.com/dataview-sh/dataview/web/server/types"
)

// Handler is the API endpoint handler.
type Handler struct {
	appCtx *actx.Context
	logger *slog.Logger
}

// SetupHandlers configures the web API handlers.
func SetupHandlers(appCtx *actx.Context, logger *slog.Logger) http.Handler {
	h := Handler{appCtx: appCtx, logger: logger}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthcheck", h.HealthcheckGet)
	mux.HandleFunc("GET /is-valid", h.IsValidGet)
	mux.HandleFunc("GET /splits", h.SplitsGet)
	mux.HandleFunc("GET /first-rows", h.FirstRowsGet)
	mux.HandleFunc("GET /rows", h.RowsGet)
	mux.HandleFunc("GET /search", h.SearchGet)
	mux.HandleFunc("GET /filter", h.FilterGet)
	mux.HandleFunc("GET /parquet", h.ParquetGet)
	mux.HandleFunc("GET /size", h.SizeGet)
	mux.HandleFunc("GET /statistics", h.StatisticsGet)
	mux.HandleFunc("GET /admin/metrics", h.AdminMetricsGet)

	return mux
}

// HealthcheckGet reports service liveness.
func (h *Handler) HealthcheckGet(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok\n"))
}

// checkDatasetAccess verifies that the dataset exists and that the client's
// role may read it. It returns a non-nil error response that the caller must
// write and return.
func (h *Handler) checkDatasetAccess(r *http.Request, dataset string) any {
	if dataset == "" {
		return stypes.NewBadRequestError("the 'dataset' parameter is required")
	}

	ds := catalog.Dataset{Name: dataset}
	err := ds.Load(r.Context(), h.appCtx.Stores.Catalog)
	var noResult types.NoResultError
	if errors.As(err, &noResult) {
		resp := stypes.NewNotFoundError("dataset '" + dataset + "' does not exist")
		resp.ErrorCode = "DatasetNotFoundError"
		return resp
	}
	if err != nil {
		return h.internalError(err)
	}

	target := "dataset:public"
	if ds.Gated {
		target = "dataset:gated"
	}
	role := middleware.RoleFromRequest(r)
	allowed, err := role.Can("read", target)
	if err != nil {
		return h.internalError(err)
	}
	if !allowed {
		if role.RoleID == middleware.RoleAnonymous {
			return stypes.NewUnauthorizedError("authentication is required to access this dataset")
		}
		resp := stypes.NewNotFoundError("this dataset is not accessible with the provided credentials")
		resp.ErrorCode = "ExternalAuthenticatedError"
		return resp
	}

	return nil
}

// serveCached writes the cached response of one kind for the given key,
// preserving its original HTTP status and error code.
func (h *Handler) serveCached(w http.ResponseWriter, r *http.Request, kind, dataset, config, split string) {
	if resp := h.checkDatasetAccess(r, dataset); resp != nil {
		_ = util.WriteJSON(w, resp)
		return
	}

	entry := cache.Entry{Kind: kind, Dataset: dataset, Config: config, Split: split}
	err := entry.Load(r.Context(), h.appCtx.Stores.Cache)
	var noResult types.NoResultError
	if errors.As(err, &noResult) {
		_ = util.WriteJSON(w, stypes.NewNotFoundError("the response has not been computed yet, retry later"))
		return
	}
	if err != nil {
		_ = util.WriteJSON(w, h.internalError(err))
		return
	}

	_ = util.WriteRawJSON(w, entry.HTTPStatus, entry.ErrorCode, entry.Content)
}

func (h *Handler) internalError(err error) *stypes.InternalError {
	h.logger.Error("request failed", "error", err.Error())
	return stypes.NewInternalError("an unexpected error occurred")
}
