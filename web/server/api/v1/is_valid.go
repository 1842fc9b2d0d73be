package api

import (
	"net/http"

	"github.com/dataview-sh/dataview/store/cache"
	"github.com/dataview-sh/dataview/web/server/api/util"
	"github.com/dataview-sh/dataview/worker"
)

// IsValidResponse reports which dataset viewer capabilities are backed by at
// least one successful cached response.
type IsValidResponse struct {
	Viewer     bool `json:"viewer"`
	Preview    bool `json:"preview"`
	Search     bool `json:"search"`
	Filter     bool `json:"filter"`
	Statistics bool `json:"statistics"`
}

// IsValidGet reports whether the dataset viewer works for the given dataset:
// the preview is backed by first rows, the viewer by size, search and filter
// by the split index, and statistics by computed statistics.
func (h *Handler) IsValidGet(w http.ResponseWriter, r *http.Request) {
	dataset := r.URL.Query().Get("dataset")
	if resp := h.checkDatasetAccess(r, dataset); resp != nil {
		_ = util.WriteJSON(w, resp)
		return
	}

	var resp IsValidResponse
	checks := []struct {
		kind string
		dst  *bool
	}{
		{worker.KindConfigSize, &resp.Viewer},
		{worker.KindSplitFirstRows, &resp.Preview},
		{worker.KindSplitIndex, &resp.Search},
		{worker.KindSplitIndex, &resp.Filter},
		{worker.KindSplitStatistics, &resp.Statistics},
	}
	for _, check := range checks {
		ok, err := cache.HasSuccess(r.Context(), h.appCtx.Stores.Cache, check.kind, dataset)
		if err != nil {
			_ = util.WriteJSON(w, h.internalError(err))
			return
		}
		*check.dst = ok
	}

	_ = util.WriteJSON(w, resp)
}
