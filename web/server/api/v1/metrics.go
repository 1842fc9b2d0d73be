package api

import (
	"net/http"

	"github.com/dataview-sh/dataview/store/metrics"
	"github.com/dataview-sh/dataview/web/server/api/util"
	"github.com/dataview-sh/dataview/web/server/middleware"
	stypes "github.com/dataview-sh/dataview/web/server/types"
)

// CacheMetricItem is one cache count snapshot.
type CacheMetricItem struct {
	Kind       string `json:"kind"`
	HTTPStatus int    `json:"http_status"`
	Count      int    `json:"count"`
}

// QueueMetricItem is one queue count snapshot.
type QueueMetricItem struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// MetricsResponse reports the latest cache and queue count snapshots.
type MetricsResponse struct {
	Cache []CacheMetricItem `json:"cache"`
	Queue []QueueMetricItem `json:"queue"`
}

// AdminMetricsGet reports the cache and queue counts from the metrics store.
// Admin only.
func (h *Handler) AdminMetricsGet(w http.ResponseWriter, r *http.Request) {
	role := middleware.RoleFromRequest(r)
	allowed, err := role.Can("read", "admin:metrics")
	if err != nil {
		_ = util.WriteJSON(w, h.internalError(err))
		return
	}
	if !allowed {
		_ = util.WriteJSON(w, stypes.NewUnauthorizedError("admin access is required"))
		return
	}

	cacheCounts, err := metrics.CacheCounts(r.Context(), h.appCtx.Stores.Metrics)
	if err != nil {
		_ = util.WriteJSON(w, h.internalError(err))
		return
	}
	queueCounts, err := metrics.QueueCounts(r.Context(), h.appCtx.Stores.Metrics)
	if err != nil {
		_ = util.WriteJSON(w, h.internalError(err))
		return
	}

	resp := MetricsResponse{Cache: []CacheMetricItem{}, Queue: []QueueMetricItem{}}
	for _, c := range cacheCounts {
		resp.Cache = append(resp.Cache, CacheMetricItem{Kind: c.Kind, HTTPStatus: c.HTTPStatus, Count: c.Count})
	}
	for _, c := range queueCounts {
		resp.Queue = append(resp.Queue, QueueMetricItem{Type: c.Type, Status: c.Status, Count: c.Count})
	}

	_ = util.WriteJSON(w, resp)
}
