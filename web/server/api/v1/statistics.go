package api

import (
	"net/http"

	"github.com/dataview-sh/dataview/web/server/api/util"
	stypes "github.com/dataview-sh/dataview/web/server/types"
	"github.com/dataview-sh/dataview/worker"
)

// StatisticsGet serves the cached descriptive statistics of one split.
func (h *Handler) StatisticsGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dataset, config, split := q.Get("dataset"), q.Get("config"), q.Get("split")
	if config == "" || split == "" {
		_ = util.WriteJSON(w, stypes.NewBadRequestError("the 'config' and 'split' parameters are required"))
		return
	}

	h.serveCached(w, r, worker.KindSplitStatistics, dataset, config, split)
}
