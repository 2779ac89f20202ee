package model

import (
	"errors"
	"time"
)

// RollupName identifies one aggregate view over the click log.
type RollupName string

const (
	RollupByVideo    RollupName = "by_video"
	RollupByHourDOW  RollupName = "by_hour_dow"
	RollupByCountry  RollupName = "by_country"
	RollupByCity     RollupName = "by_city"
	RollupByDevice   RollupName = "by_device"
	RollupByReferrer RollupName = "by_referrer"
	RollupByBrowser  RollupName = "by_browser"
)

// RollupNames lists every rollup the aggregation engine maintains.
var RollupNames = []RollupName{
	RollupByVideo,
	RollupByHourDOW,
	RollupByCountry,
	RollupByCity,
	RollupByDevice,
	RollupByReferrer,
	RollupByBrowser,
}

// ErrUnknownRollup is returned for a rollup name outside RollupNames.
var ErrUnknownRollup = errors.New("unknown rollup")

var rollupDimensions = map[RollupName][]string{
	RollupByVideo:    {"platform", "video_id"},
	RollupByHourDOW:  {"hour_of_day", "day_of_week"},
	RollupByCountry:  {"country_code", "country_name"},
	RollupByCity:     {"country_code", "city"},
	RollupByDevice:   {"device_type"},
	RollupByReferrer: {"referrer_type", "domain"},
	RollupByBrowser:  {"browser_name", "os_name"},
}

// Dimensions returns the ordered dimension names of the rollup, or nil for
// an unknown name.
func (n RollupName) Dimensions() []string {
	dims, ok := rollupDimensions[n]
	if !ok {
		return nil
	}
	out := make([]string, len(dims))
	copy(out, dims)
	return out
}

// IsValid checks if the rollup name is known.
func (n RollupName) IsValid() bool {
	for _, name := range RollupNames {
		if n == name {
			return true
		}
	}
	return false
}

// Rollup is a full projection of the click log for one grouping.
// It is rebuildable from the log at any time.
type Rollup struct {
	Name       RollupName  `json:"name"`
	Dimensions []string    `json:"dimensions"`
	Rows       []RollupRow `json:"rows"`
}

// RollupRow is one group within a rollup. Values align with the rollup's
// Dimensions. Day is the UTC calendar day of the grouped clicks, except in
// by_hour_dow where it is the day in the temporal feature zone.
type RollupRow struct {
	LinkID   string    `json:"link_id"`
	Day      time.Time `json:"day"`
	Values   []string  `json:"values"`
	Clicks   int64     `json:"clicks"`
	Sessions int64     `json:"sessions"`
}

// RollupQuery selects rows of one rollup for a link and UTC day range.
// Zero From or To leaves that side unbounded.
type RollupQuery struct {
	Name   RollupName
	LinkID string
	From   time.Time
	To     time.Time
}

// Matches reports whether row falls inside the query.
func (q RollupQuery) Matches(row RollupRow) bool {
	if q.LinkID != "" && row.LinkID != q.LinkID {
		return false
	}
	if !q.From.IsZero() && row.Day.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && row.Day.After(q.To) {
		return false
	}
	return true
}

// ClickFilter selects raw click events for a link.
type ClickFilter struct {
	LinkID string
	From   time.Time // inclusive
	To     time.Time // exclusive
	Limit  int
}

// DayOf truncates t to its UTC calendar day.
func DayOf(t time.Time) time.Time {
	return LocalDayOf(t, time.UTC)
}

// LocalDayOf returns the calendar date of t in loc, stored as midnight UTC
// so it compares and persists like DayOf. A nil loc means UTC.
func LocalDayOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, time.UTC)
}
