package api

import (
	"net/http"

	"github.com/dataview-sh/dataview/worker"
)

// ParquetGet lists the parquet export files of one config, or of the whole
// dataset if no config is given.
func (h *Handler) ParquetGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dataset, config := q.Get("dataset"), q.Get("config")

	if config != "" {
		h.serveCached(w, r, worker.KindConfigParquet, dataset, config, "")
		return
	}
	h.serveCached(w, r, worker.KindDatasetParquet, dataset, "", "")
}
