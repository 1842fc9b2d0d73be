package api

import (
	"net/http"

	"github.com/dataview-sh/dataview/web/server/api/util"
	stypes "github.com/dataview-sh/dataview/web/server/types"
	"github.com/dataview-sh/dataview/worker"
)

// FirstRowsGet serves the cached preview of the first rows of one split.
func (h *Handler) FirstRowsGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dataset, config, split := q.Get("dataset"), q.Get("config"), q.Get("split")
	if config == "" || split == "" {
		_ = util.WriteJSON(w, stypes.NewBadRequestError("the 'config' and 'split' parameters are required"))
		return
	}

	h.serveCached(w, r, worker.KindSplitFirstRows, dataset, config, split)
}
