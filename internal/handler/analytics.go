package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clicklens/clicklens/internal/aggregate"
	"github.com/clicklens/clicklens/internal/handler/dto"
	"github.com/clicklens/clicklens/internal/model"
)

// Query limits.
const (
	defaultClickLimit = 50
	maxClickLimit     = 500
)

// RollupReader reads published rollups.
type RollupReader interface {
	GetRollup(ctx context.Context, q model.RollupQuery) (model.Rollup, error)
}

// ClickReader reads raw clicks.
type ClickReader interface {
	ListClicks(ctx context.Context, filter model.ClickFilter) ([]*model.ClickEvent, error)
}

// Refresher runs an aggregation pass.
type Refresher interface {
	Refresh(ctx context.Context) (aggregate.RunResult, error)
}

// AnalyticsHandler serves the read-only query surface over rollups and the
// raw click log, plus on-demand refresh.
type AnalyticsHandler struct {
	rollups   RollupReader
	clicks    ClickReader
	refresher Refresher
	logger    *slog.Logger
}

// NewAnalyticsHandler creates a new AnalyticsHandler. refresher may be nil
// when on-demand refresh is disabled.
func NewAnalyticsHandler(rollups RollupReader, clicks ClickReader, refresher Refresher, logger *slog.Logger) *AnalyticsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalyticsHandler{
		rollups:   rollups,
		clicks:    clicks,
		refresher: refresher,
		logger:    logger.With("component", "handler.analytics"),
	}
}

// GetRollup handles GET /api/v1/links/{id}/rollups/{name}.
func (h *AnalyticsHandler) GetRollup(w http.ResponseWriter, r *http.Request) {
	linkID := chi.URLParam(r, "id")
	if linkID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Link ID is required")
		return
	}

	name := model.RollupName(chi.URLParam(r, "name"))
	if !name.IsValid() {
		writeError(w, http.StatusNotFound, "UNKNOWN_ROLLUP", "Unknown rollup")
		return
	}

	from, to, err := parseDayRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_DATE", err.Error())
		return
	}

	q := model.RollupQuery{Name: name, LinkID: linkID, From: from, To: to}
	rollup, err := h.rollups.GetRollup(r.Context(), q)
	if err != nil {
		if errors.Is(err, model.ErrUnknownRollup) {
			writeError(w, http.StatusNotFound, "UNKNOWN_ROLLUP", "Unknown rollup")
			return
		}
		h.logger.Error("failed to get rollup", "link_id", linkID, "rollup", name, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to fetch rollup")
		return
	}

	writeJSON(w, http.StatusOK, dto.ToRollupResponse(linkID, q, rollup))
}

// ListClicks handles GET /api/v1/links/{id}/clicks.
func (h *AnalyticsHandler) ListClicks(w http.ResponseWriter, r *http.Request) {
	linkID := chi.URLParam(r, "id")
	if linkID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Link ID is required")
		return
	}

	from, to, err := parseDayRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_DATE", err.Error())
		return
	}

	limit := defaultClickLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = min(n, maxClickLimit)
	}

	filter := model.ClickFilter{LinkID: linkID, From: from, Limit: limit}
	if !to.IsZero() {
		// The day range is inclusive; the click filter's upper bound is not.
		filter.To = to.AddDate(0, 0, 1)
	}

	events, err := h.clicks.ListClicks(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list clicks", "link_id", linkID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to fetch clicks")
		return
	}
	if events == nil {
		events = []*model.ClickEvent{}
	}

	writeJSON(w, http.StatusOK, dto.ClickListResponse{
		LinkID: linkID,
		Count:  len(events),
		Data:   events,
	})
}

// Refresh handles POST /internal/rollups/refresh.
func (h *AnalyticsHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if h.refresher == nil {
		writeError(w, http.StatusServiceUnavailable, "AGGREGATION_DISABLED", "Aggregation is disabled")
		return
	}

	result, err := h.refresher.Refresh(r.Context())
	if err != nil {
		if errors.Is(err, aggregate.ErrRefreshInProgress) {
			writeError(w, http.StatusConflict, "REFRESH_IN_PROGRESS", "A refresh is already running")
			return
		}
		h.logger.Error("on-demand refresh failed", "error", err)
		writeError(w, http.StatusInternalServerError, "REFRESH_FAILED", "Rollup refresh failed")
		return
	}

	rows := make(map[string]int, len(result.Rows))
	for name, n := range result.Rows {
		rows[string(name)] = n
	}
	writeJSON(w, http.StatusOK, dto.RefreshResponse{
		StartedAt:     result.StartedAt,
		DurationMs:    float64(result.Duration.Microseconds()) / 1000,
		ClicksScanned: result.ClicksScanned,
		Rows:          rows,
	})
}

// parseDayRange reads optional from/to query params as UTC days.
func parseDayRange(r *http.Request) (time.Time, time.Time, error) {
	var from, to time.Time
	var err error

	if s := r.URL.Query().Get("from"); s != "" {
		if from, err = time.Parse(time.DateOnly, s); err != nil {
			return time.Time{}, time.Time{}, errors.New("from must be YYYY-MM-DD")
		}
	}
	if s := r.URL.Query().Get("to"); s != "" {
		if to, err = time.Parse(time.DateOnly, s); err != nil {
			return time.Time{}, time.Time{}, errors.New("to must be YYYY-MM-DD")
		}
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return time.Time{}, time.Time{}, errors.New("to must not be before from")
	}
	return from, to, nil
}
