package api

import (
	"net/http"

	"github.com/dataview-sh/dataview/worker"
)

// SizeGet serves the cached size of one config, or of the whole dataset if no
// config is given.
func (h *Handler) SizeGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dataset, config := q.Get("dataset"), q.Get("config")

	if config != "" {
		h.serveCached(w, r, worker.KindConfigSize, dataset, config, "")
		return
	}
	h.serveCached(w, r, worker.KindDatasetSize, dataset, "", "")
}
