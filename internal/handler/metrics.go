package handler

import (
	"net/http"

	"github.com/clicklens/clicklens/internal/metrics"
)

// MetricsHandler exposes metrics. A Prometheus exposition handler takes
// precedence; otherwise an in-memory snapshot is served as JSON.
type MetricsHandler struct {
	exposition  http.Handler
	snapshotter metrics.Snapshotter
}

// NewMetricsHandler creates a new MetricsHandler. Either argument may be nil.
func NewMetricsHandler(exposition http.Handler, snapshotter metrics.Snapshotter) *MetricsHandler {
	return &MetricsHandler{exposition: exposition, snapshotter: snapshotter}
}

// Metrics handles GET /metrics.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	switch {
	case h.exposition != nil:
		h.exposition.ServeHTTP(w, r)
	case h.snapshotter != nil:
		writeJSON(w, http.StatusOK, h.snapshotter.Snapshot())
	default:
		w.WriteHeader(http.StatusServiceUnavailable)
	}
}
