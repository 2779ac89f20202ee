// Package aggregate recomputes dashboard rollups from the click log.
//
// Every run reads a snapshot of the whole log and publishes each rollup as
// a full replacement, so rollups can be dropped and rebuilt at any time and
// repeated runs over an unchanged log publish identical rows.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/clicklens/clicklens/internal/metrics"
	"github.com/clicklens/clicklens/internal/model"
)

// ErrRefreshInProgress is returned when a refresh is requested while
// another one is still running.
var ErrRefreshInProgress = errors.New("rollup refresh already in progress")

// Run outcomes reported to metrics.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// ClickSource reads a consistent snapshot of the click log.
type ClickSource interface {
	ScanClicks(ctx context.Context, fn func(*model.ClickEvent) error) error
}

// RollupStore publishes a rollup by atomically replacing the previous one.
type RollupStore interface {
	ReplaceRollup(ctx context.Context, rollup model.Rollup) error
}

// RunResult summarises one refresh.
type RunResult struct {
	StartedAt     time.Time                `json:"started_at"`
	Duration      time.Duration            `json:"duration_ns"`
	ClicksScanned int                      `json:"clicks_scanned"`
	Rows          map[model.RollupName]int `json:"rows"`
}

// Engine computes and publishes rollups. At most one refresh runs at a
// time per Engine.
type Engine struct {
	source  ClickSource
	store   RollupStore
	logger  *slog.Logger
	metrics metrics.Recorder
	loc     *time.Location
	running atomic.Bool
}

// NewEngine creates an Engine.
func NewEngine(source ClickSource, store RollupStore, logger *slog.Logger, recorder metrics.Recorder) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Engine{
		source:  source,
		store:   store,
		logger:  logger.With("component", "aggregate.engine"),
		metrics: recorder,
		loc:     time.UTC,
	}
}

// SetLocation sets the zone the click temporal features were extracted in.
// by_hour_dow rows are keyed by the calendar day in that zone so each row's
// hours belong to a single day. Every other rollup keys by UTC day.
func (e *Engine) SetLocation(loc *time.Location) {
	if loc != nil {
		e.loc = loc
	}
}

// Running reports whether a refresh is in progress.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Refresh recomputes every rollup from the log and publishes them. A compute
// error aborts before anything is published. A publish error leaves that
// rollup's previous version in place; the others are still published and
// the run is reported as failed.
func (e *Engine) Refresh(ctx context.Context) (RunResult, error) {
	if !e.running.CompareAndSwap(false, true) {
		e.metrics.IncAggregationRun(StatusSkipped)
		return RunResult{}, ErrRefreshInProgress
	}
	defer e.running.Store(false)

	result := RunResult{StartedAt: time.Now().UTC(), Rows: make(map[model.RollupName]int)}
	finish := func(status string) {
		result.Duration = time.Since(result.StartedAt)
		e.metrics.IncAggregationRun(status)
		e.metrics.ObserveAggregationDuration(result.Duration)
	}

	rollups, scanned, err := e.Compute(ctx)
	result.ClicksScanned = scanned
	if err != nil {
		finish(StatusFailed)
		e.logger.Error("rollup compute failed", "clicks_scanned", scanned, "error", err)
		return result, fmt.Errorf("compute rollups: %w", err)
	}

	var errs []error
	for _, rollup := range rollups {
		if err := e.store.ReplaceRollup(ctx, rollup); err != nil {
			e.logger.Error("rollup publish failed", "rollup", rollup.Name, "error", err)
			errs = append(errs, fmt.Errorf("publish %s: %w", rollup.Name, err))
			continue
		}
		result.Rows[rollup.Name] = len(rollup.Rows)
	}

	if len(errs) > 0 {
		finish(StatusFailed)
		return result, errors.Join(errs...)
	}

	finish(StatusSuccess)
	e.logger.Info("rollups refreshed",
		"clicks_scanned", scanned,
		"duration_ms", float64(result.Duration.Microseconds())/1000,
	)
	return result, nil
}

// Compute builds every rollup from a snapshot of the log without
// publishing. Rows are sorted by link, day and dimension values.
func (e *Engine) Compute(ctx context.Context) ([]model.Rollup, int, error) {
	groups := make(map[model.RollupName]*accumulator, len(model.RollupNames))
	for _, name := range model.RollupNames {
		groups[name] = newAccumulator()
	}

	scanned := 0
	err := e.source.ScanClicks(ctx, func(event *model.ClickEvent) error {
		scanned++
		day := model.DayOf(event.OccurredAt)
		localDay := model.LocalDayOf(event.OccurredAt, e.loc)
		for _, name := range model.RollupNames {
			values, ok := dimensionValues(name, event)
			if !ok {
				continue
			}
			if name == model.RollupByHourDOW {
				groups[name].add(event.LinkID, localDay, values, event.SessionKey)
				continue
			}
			groups[name].add(event.LinkID, day, values, event.SessionKey)
		}
		return nil
	})
	if err != nil {
		return nil, scanned, err
	}

	rollups := make([]model.Rollup, 0, len(model.RollupNames))
	for _, name := range model.RollupNames {
		rollups = append(rollups, model.Rollup{
			Name:       name,
			Dimensions: name.Dimensions(),
			Rows:       groups[name].rows(),
		})
	}
	return rollups, scanned, nil
}

// dimensionValues returns the grouping values of event for a rollup, or
// false when the event does not belong in it.
func dimensionValues(name model.RollupName, event *model.ClickEvent) ([]string, bool) {
	switch name {
	case model.RollupByVideo:
		v := event.Video
		if v.Platform == "" || v.Platform == model.PlatformNone || v.VideoID == nil {
			return nil, false
		}
		return []string{string(v.Platform), *v.VideoID}, true
	case model.RollupByHourDOW:
		return []string{
			strconv.Itoa(event.Temporal.HourOfDay),
			strconv.Itoa(event.Temporal.DayOfWeek),
		}, true
	case model.RollupByCountry:
		if event.Geo == nil {
			return nil, false
		}
		return []string{event.Geo.CountryCode, event.Geo.CountryName}, true
	case model.RollupByCity:
		if event.Geo == nil || event.Geo.City == "" {
			return nil, false
		}
		return []string{event.Geo.CountryCode, event.Geo.City}, true
	case model.RollupByDevice:
		return []string{string(event.Device.Type)}, true
	case model.RollupByReferrer:
		return []string{string(event.Referrer.Type), event.Referrer.Domain}, true
	case model.RollupByBrowser:
		return []string{event.Device.BrowserName, event.Device.OSName}, true
	default:
		return nil, false
	}
}

type group struct {
	row      model.RollupRow
	sessions map[string]struct{}
}

type accumulator struct {
	groups map[string]*group
}

func newAccumulator() *accumulator {
	return &accumulator{groups: make(map[string]*group)}
}

func (a *accumulator) add(linkID string, day time.Time, values []string, sessionKey string) {
	key := groupKey(linkID, day, values)
	g, ok := a.groups[key]
	if !ok {
		g = &group{
			row: model.RollupRow{
				LinkID: linkID,
				Day:    day,
				Values: values,
			},
			sessions: make(map[string]struct{}),
		}
		a.groups[key] = g
	}
	g.row.Clicks++
	if sessionKey != "" {
		g.sessions[sessionKey] = struct{}{}
	}
}

func (a *accumulator) rows() []model.RollupRow {
	rows := make([]model.RollupRow, 0, len(a.groups))
	for _, g := range a.groups {
		row := g.row
		row.Sessions = int64(len(g.sessions))
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return lessRow(rows[i], rows[j])
	})
	return rows
}

func lessRow(a, b model.RollupRow) bool {
	if a.LinkID != b.LinkID {
		return a.LinkID < b.LinkID
	}
	if !a.Day.Equal(b.Day) {
		return a.Day.Before(b.Day)
	}
	for i := 0; i < len(a.Values) && i < len(b.Values); i++ {
		if a.Values[i] != b.Values[i] {
			return a.Values[i] < b.Values[i]
		}
	}
	return len(a.Values) < len(b.Values)
}

func groupKey(linkID string, day time.Time, values []string) string {
	var b strings.Builder
	b.WriteString(linkID)
	b.WriteByte(0)
	b.WriteString(day.Format(time.DateOnly))
	for _, v := range values {
		b.WriteByte(0)
		b.WriteString(v)
	}
	return b.String()
}
