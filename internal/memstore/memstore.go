// Package memstore is an in-process implementation of the link, click log
// and rollup stores. It backs STORE_DRIVER=memory and unit tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/clicklens/clicklens/internal/model"
)

type rollupSet map[model.RollupName]model.Rollup

// Store keeps everything in memory. Appends are serialized by a mutex;
// rollups are published by swapping an immutable map.
type Store struct {
	mu       sync.RWMutex
	links    map[string]*model.Link // by short code
	clicks   []*model.ClickEvent
	clickIDs map[string]struct{}
	sessions map[string]struct{}

	publishMu sync.Mutex
	rollups   atomic.Pointer[rollupSet]
}

// New creates an empty Store.
func New() *Store {
	s := &Store{
		links:    make(map[string]*model.Link),
		clickIDs: make(map[string]struct{}),
		sessions: make(map[string]struct{}),
	}
	empty := rollupSet{}
	s.rollups.Store(&empty)
	return s
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// CreateLink stores a link.
func (s *Store) CreateLink(ctx context.Context, link *model.Link) error {
	if link == nil || link.ShortCode == "" {
		return fmt.Errorf("link short code is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.links[link.ShortCode]; ok {
		return fmt.Errorf("%w: %q", model.ErrShortCodeExists, link.ShortCode)
	}
	stored := *link
	s.links[link.ShortCode] = &stored
	return nil
}

// GetLinkByShortCode returns the link for shortCode.
func (s *Store) GetLinkByShortCode(ctx context.Context, shortCode string) (*model.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	link, ok := s.links[shortCode]
	if !ok {
		return nil, model.ErrLinkNotFound
	}
	out := *link
	return &out, nil
}

// Append adds event to the click log and sets IsFirstClickInSession from
// the keys already present, under the same lock as the insert.
func (s *Store) Append(ctx context.Context, event *model.ClickEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.clickIDs[event.ID]; dup {
		return model.ErrDuplicateClick
	}

	_, seen := s.sessions[event.SessionKey]
	event.IsFirstClickInSession = !seen

	stored := *event
	if event.Geo != nil {
		geo := *event.Geo
		stored.Geo = &geo
	}
	s.clicks = append(s.clicks, &stored)
	s.clickIDs[event.ID] = struct{}{}
	s.sessions[event.SessionKey] = struct{}{}
	return nil
}

// SessionSeen reports whether any click with key was appended.
func (s *Store) SessionSeen(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.sessions[key]
	return ok, nil
}

// ListClicks returns clicks for a link, newest first.
func (s *Store) ListClicks(ctx context.Context, filter model.ClickFilter) ([]*model.ClickEvent, error) {
	s.mu.RLock()
	var out []*model.ClickEvent
	for _, c := range s.clicks {
		if filter.LinkID != "" && c.LinkID != filter.LinkID {
			continue
		}
		if !filter.From.IsZero() && c.OccurredAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !c.OccurredAt.Before(filter.To) {
			continue
		}
		out = append(out, c)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.After(out[j].OccurredAt)
		}
		return out[i].ID > out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}

	result := make([]*model.ClickEvent, len(out))
	for i, c := range out {
		cp := *c
		result[i] = &cp
	}
	return result, nil
}

// ScanClicks calls fn for every click in a snapshot taken at call time.
// Appends made during the scan are not visible to it and are not blocked
// by it.
func (s *Store) ScanClicks(ctx context.Context, fn func(*model.ClickEvent) error) error {
	s.mu.RLock()
	snapshot := make([]*model.ClickEvent, len(s.clicks))
	copy(snapshot, s.clicks)
	s.mu.RUnlock()

	for _, c := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		cp := *c
		if err := fn(&cp); err != nil {
			return err
		}
	}
	return nil
}

// CountClicks returns the number of appended clicks.
func (s *Store) CountClicks() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clicks)
}

// ReplaceRollup publishes rollup, replacing any previous version whole.
// Readers see either the old or the new version, never a mix.
func (s *Store) ReplaceRollup(ctx context.Context, rollup model.Rollup) error {
	if !rollup.Name.IsValid() {
		return fmt.Errorf("%w: %s", model.ErrUnknownRollup, rollup.Name)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	current := *s.rollups.Load()
	next := make(rollupSet, len(current)+1)
	for name, r := range current {
		next[name] = r
	}
	next[rollup.Name] = cloneRollup(rollup)
	s.rollups.Store(&next)
	return nil
}

// GetRollup returns the rows of a published rollup matching q. A rollup
// that was never published has no rows.
func (s *Store) GetRollup(ctx context.Context, q model.RollupQuery) (model.Rollup, error) {
	if !q.Name.IsValid() {
		return model.Rollup{}, fmt.Errorf("%w: %s", model.ErrUnknownRollup, q.Name)
	}

	out := model.Rollup{
		Name:       q.Name,
		Dimensions: q.Name.Dimensions(),
		Rows:       []model.RollupRow{},
	}

	published, ok := (*s.rollups.Load())[q.Name]
	if !ok {
		return out, nil
	}
	for _, row := range published.Rows {
		if q.Matches(row) {
			out.Rows = append(out.Rows, cloneRow(row))
		}
	}
	return out, nil
}

func cloneRollup(r model.Rollup) model.Rollup {
	out := model.Rollup{
		Name:       r.Name,
		Dimensions: append([]string(nil), r.Dimensions...),
		Rows:       make([]model.RollupRow, len(r.Rows)),
	}
	for i, row := range r.Rows {
		out.Rows[i] = cloneRow(row)
	}
	return out
}

func cloneRow(row model.RollupRow) model.RollupRow {
	row.Values = append([]string(nil), row.Values...)
	return row
}
