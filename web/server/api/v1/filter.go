package api

import (
	"net/http"

	"github.com/dataview-sh/dataview/web/server/api/util"
	stypes "github.com/dataview-sh/dataview/web/server/types"
)

// FilterGet serves one page of split rows matching a SQL-like where
// expression. The expression is validated against the split schema before
// execution.
func (h *Handler) FilterGet(w http.ResponseWriter, r *http.Request) {
	where := r.URL.Query().Get("where")
	if where == "" {
		_ = util.WriteJSON(w, stypes.NewBadRequestError("the 'where' parameter is required"))
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

	page, err := split.FilterPage(r.Context(), h.appCtx.Stores.Catalog, columns, where, offset, length)
	if err != nil {
		h.writePageError(w, err)
		return
	}

	_ = util.WriteJSON(w, newRowsResponse(split, columns, page))
}
