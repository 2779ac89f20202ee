package dto

import (
	"time"

	"github.com/clicklens/clicklens/internal/model"
	"github.com/clicklens/clicklens/internal/referrer"
)

// RollupResponse is one rollup restricted to a link and day range.
type RollupResponse struct {
	LinkID     string         `json:"link_id"`
	Rollup     string         `json:"rollup"`
	From       string         `json:"from,omitempty"`
	To         string         `json:"to,omitempty"`
	Dimensions []string       `json:"dimensions"`
	Rows       []RollupRowDTO `json:"rows"`
	Totals     RollupTotals   `json:"totals"`
}

// RollupRowDTO is one rollup row with its values keyed by dimension name.
type RollupRowDTO struct {
	Day      string            `json:"day"`
	Values   map[string]string `json:"values"`
	Clicks   int64             `json:"clicks"`
	Sessions int64             `json:"sessions"`

	// ContentURL links by_video rows to the attributed content.
	ContentURL string `json:"content_url,omitempty"`
}

// RollupTotals sums the clicks of the returned rows. Sessions are not
// summed: a session can span several rows.
type RollupTotals struct {
	Clicks int64 `json:"clicks"`
}

// ClickListResponse lists raw recent clicks for a link.
type ClickListResponse struct {
	LinkID string              `json:"link_id"`
	Count  int                 `json:"count"`
	Data   []*model.ClickEvent `json:"data"`
}

// RefreshResponse reports an on-demand rollup refresh.
type RefreshResponse struct {
	StartedAt     time.Time      `json:"started_at"`
	DurationMs    float64        `json:"duration_ms"`
	ClicksScanned int            `json:"clicks_scanned"`
	Rows          map[string]int `json:"rows"`
}

// ToRollupResponse converts a rollup query result.
func ToRollupResponse(linkID string, q model.RollupQuery, r model.Rollup) *RollupResponse {
	resp := &RollupResponse{
		LinkID:     linkID,
		Rollup:     string(r.Name),
		Dimensions: r.Dimensions,
		Rows:       make([]RollupRowDTO, 0, len(r.Rows)),
	}
	if !q.From.IsZero() {
		resp.From = q.From.Format(time.DateOnly)
	}
	if !q.To.IsZero() {
		resp.To = q.To.Format(time.DateOnly)
	}

	for _, row := range r.Rows {
		values := make(map[string]string, len(r.Dimensions))
		for i, dim := range r.Dimensions {
			if i < len(row.Values) {
				values[dim] = row.Values[i]
			}
		}
		out := RollupRowDTO{
			Day:      row.Day.Format(time.DateOnly),
			Values:   values,
			Clicks:   row.Clicks,
			Sessions: row.Sessions,
		}
		if r.Name == model.RollupByVideo {
			out.ContentURL = referrer.ContentURL(model.Platform(values["platform"]), values["video_id"])
		}
		resp.Rows = append(resp.Rows, out)
		resp.Totals.Clicks += row.Clicks
	}
	return resp
}
