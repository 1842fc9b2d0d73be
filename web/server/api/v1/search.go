package api

import (
	"net/http"

	"github.com/dataview-sh/dataview/web/server/api/util"
	stypes "github.com/dataview-sh/dataview/web/server/types"
)

// SearchGet serves one page of split rows whose text columns contain the query
// string, case-insensitively.
func (h *Handler) SearchGet(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		_ = util.WriteJSON(w, stypes.NewBadRequestError("the 'query' parameter is required"))
		return
	}

	split, columns, ok := h.loadSplitFromQuery(w, r)
	if !ok {
		return
	}
	offset, length, ok := parsePagination(w, r)
	if !ok {
		return
	}

	page, err := split.SearchPage(r.Context(), h.appCtx.Stores.Catalog, columns, query, offset, length)
	if err != nil {
		h.writePageError(w, err)
		return
	}

	_ = util.WriteJSON(w, newRowsResponse(split, columns, page))
}
