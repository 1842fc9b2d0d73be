package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/dataview-sh/dataview/catalog"
	"github.com/dataview-sh/dataview/db/types"
	"github.com/dataview-sh/dataview/web/server/api/util"
	stypes "github.com/dataview-sh/dataview/web/server/types"
	"github.com/dataview-sh/dataview/worker"
)

// RowsResponse is one page of split rows with the split schema.
type RowsResponse struct {
	Features       []catalog.Feature `json:"features"`
	Rows           []worker.RowItem  `json:"rows"`
	NumRowsTotal   int64             `json:"num_rows_total"`
	NumRowsPerPage int64             `json:"num_rows_per_page"`
	Partial        bool              `json:"partial"`
}

// RowsGet serves one page of split rows, queried live from the catalog store.
func (h *Handler) RowsGet(w http.ResponseWriter, r *http.Request) {
	split, columns, ok := h.loadSplitFromQuery(w, r)
	if !ok {
		return
	}
	offset, length, ok := parsePagination(w, r)
	if !ok {
		return
	}

	page, err := split.Page(r.Context(), h.appCtx.Stores.Catalog, columns, offset, length)
	if err != nil {
		h.writePageError(w, err)
		return
	}

	_ = util.WriteJSON(w, newRowsResponse(split, columns, page))
}

// loadSplitFromQuery resolves the dataset/config/split query parameters into a
// catalog split, enforcing dataset access. On failure it writes the error
// response and returns ok=false.
func (h *Handler) loadSplitFromQuery(
	w http.ResponseWriter, r *http.Request,
) (*catalog.Split, []*catalog.Column, bool) {
	q := r.URL.Query()
	dataset, config, split := q.Get("dataset"), q.Get("config"), q.Get("split")
	if config == "" || split == "" {
		_ = util.WriteJSON(w, stypes.NewBadRequestError("the 'config' and 'split' parameters are required"))
		return nil, nil, false
	}
	if resp := h.checkDatasetAccess(r, dataset); resp != nil {
		_ = util.WriteJSON(w, resp)
		return nil, nil, false
	}

	s, err := catalog.LoadSplit(r.Context(), h.appCtx.Stores.Catalog, dataset, config, split)
	var noResult types.NoResultError
	if errors.As(err, &noResult) {
		resp := stypes.NewNotFoundError("split '" + dataset + "/" + config + "/" + split + "' does not exist")
		resp.ErrorCode = "SplitNotFoundError"
		_ = util.WriteJSON(w, resp)
		return nil, nil, false
	}
	if err != nil {
		_ = util.WriteJSON(w, h.internalError(err))
		return nil, nil, false
	}

	columns, err := s.Columns(r.Context(), h.appCtx.Stores.Catalog)
	if err != nil {
		_ = util.WriteJSON(w, h.internalError(err))
		return nil, nil, false
	}

	return s, columns, true
}

func parsePagination(w http.ResponseWriter, r *http.Request) (offset, length int64, ok bool) {
	q := r.URL.Query()
	length = catalog.RowsPerPage

	var err error
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.ParseInt(v, 10, 64); err != nil || offset < 0 {
			_ = util.WriteJSON(w, stypes.NewBadRequestError("'offset' must be a non-negative integer"))
			return 0, 0, false
		}
	}
	if v := q.Get("length"); v != "" {
		if length, err = strconv.ParseInt(v, 10, 64); err != nil || length <= 0 {
			_ = util.WriteJSON(w, stypes.NewBadRequestError("'length' must be a positive integer"))
			return 0, 0, false
		}
	}

	return offset, length, true
}

func newRowsResponse(split *catalog.Split, columns []*catalog.Column, page *catalog.Page) *RowsResponse {
	rows := make([]worker.RowItem, len(page.Rows))
	for i, row := range page.Rows {
		rows[i] = worker.RowItem{RowIdx: row.Idx, Row: row.Cells, TruncatedCells: []string{}}
	}

	return &RowsResponse{
		Features:       catalog.Features(columns),
		Rows:           rows,
		NumRowsTotal:   page.NumRowsTotal,
		NumRowsPerPage: catalog.RowsPerPage,
		Partial:        split.Partial,
	}
}

func (h *Handler) writePageError(w http.ResponseWriter, err error) {
	var invalid types.InvalidInputError
	if errors.As(err, &invalid) {
		_ = util.WriteJSON(w, stypes.NewBadRequestError(invalid.Error()))
		return
	}
	_ = util.WriteJSON(w, h.internalError(err))
}
