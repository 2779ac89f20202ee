//go:build integration

package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clicklens/clicklens/internal/model"
	"github.com/clicklens/clicklens/internal/testutil"
)

// ============================================================================
// Repository Integration Tests
// ============================================================================

func TestIntegrationLinkRepository_CreateAndGet(t *testing.T) {
	ctx, repo := newRepoTestEnv(t)

	shortCode := testutil.UniqueShortCode("create")
	link := testutil.NewTestLink(t, shortCode)
	if err := repo.CreateLink(ctx, link); err != nil {
		t.Fatalf("CreateLink failed: %v", err)
	}

	got, err := repo.GetLinkByShortCode(ctx, shortCode)
	if err != nil {
		t.Fatalf("GetLinkByShortCode failed: %v", err)
	}
	if got.ID != link.ID || got.Destination != link.Destination || got.RedirectType != link.RedirectType {
		t.Errorf("link mismatch: got %+v, want %+v", got, link)
	}
	if !got.CreatedAt.Equal(link.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, link.CreatedAt)
	}

	dup := testutil.NewTestLink(t, shortCode)
	if err := repo.CreateLink(ctx, dup); !errors.Is(err, ErrShortCodeExists) {
		t.Errorf("duplicate CreateLink error = %v, want ErrShortCodeExists", err)
	}

	if _, err := repo.GetLinkByShortCode(ctx, "missing-code"); !errors.Is(err, ErrLinkNotFound) {
		t.Errorf("GetLinkByShortCode(missing) error = %v, want ErrLinkNotFound", err)
	}
}

func TestIntegrationClickRepository_AppendAndList(t *testing.T) {
	ctx, repo := newRepoTestEnv(t)
	clicks := NewClickEventRepository(repo)

	base := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		event := testutil.NewTestClick(t, "link-list", base.Add(time.Duration(i)*time.Minute))
		event.SessionKey = "shared-session"
		if err := clicks.Append(ctx, event); err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
		if got, want := event.IsFirstClickInSession, i == 0; got != want {
			t.Errorf("click %d first = %v, want %v", i, got, want)
		}
		ids = append(ids, event.ID)
	}

	events, err := clicks.ListClicks(ctx, model.ClickFilter{LinkID: "link-list"})
	if err != nil {
		t.Fatalf("ListClicks failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("ListClicks returned %d events, want 3", len(events))
	}
	if events[0].ID != ids[2] || events[2].ID != ids[0] {
		t.Errorf("events not newest first: %s, %s", events[0].ID, events[2].ID)
	}
	if events[2].Geo == nil || events[2].Geo.CountryCode != "US" {
		t.Errorf("geo not round-tripped: %+v", events[2].Geo)
	}

	windowed, err := clicks.ListClicks(ctx, model.ClickFilter{
		LinkID: "link-list",
		From:   base.Add(time.Minute),
		To:     base.Add(2 * time.Minute),
	})
	if err != nil {
		t.Fatalf("ListClicks (window) failed: %v", err)
	}
	if len(windowed) != 1 || windowed[0].ID != ids[1] {
		t.Errorf("windowed = %d events, want only the middle click", len(windowed))
	}

	seen, err := clicks.SessionSeen(ctx, "shared-session")
	if err != nil || !seen {
		t.Errorf("SessionSeen = %v, %v; want true", seen, err)
	}
}

func TestIntegrationClickRepository_Duplicate(t *testing.T) {
	ctx, repo := newRepoTestEnv(t)
	clicks := NewClickEventRepository(repo)

	event := testutil.NewTestClick(t, "link-dup", time.Now().UTC())
	if err := clicks.Append(ctx, event); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	replay := *event
	if err := clicks.Append(ctx, &replay); !errors.Is(err, model.ErrDuplicateClick) {
		t.Fatalf("replayed Append error = %v, want ErrDuplicateClick", err)
	}

	events, _ := clicks.ListClicks(ctx, model.ClickFilter{LinkID: "link-dup"})
	if len(events) != 1 {
		t.Fatalf("got %d events after replay, want 1", len(events))
	}
}

func TestIntegrationClickRepository_ConcurrentFirstClick(t *testing.T) {
	ctx, repo := newRepoTestEnv(t)
	clicks := NewClickEventRepository(repo)

	const n = 20
	var firsts atomic.Int32
	var wg sync.WaitGroup
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			event := testutil.NewTestClick(t, "link-race", time.Now().UTC())
			event.SessionKey = "racing-session"
			if err := clicks.Append(ctx, event); err != nil {
				errs <- err
				return
			}
			if event.IsFirstClickInSession {
				firsts.Add(1)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("Append failed: %v", err)
	}
	if got := firsts.Load(); got != 1 {
		t.Fatalf("first clicks = %d, want exactly 1", got)
	}
}

func TestIntegrationClickRepository_ScanClicks(t *testing.T) {
	ctx, repo := newRepoTestEnv(t)
	clicks := NewClickEventRepository(repo)

	for i := 0; i < 4; i++ {
		if err := clicks.Append(ctx, testutil.NewTestClick(t, "link-scan", time.Now().UTC())); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	var scanned int
	err := clicks.ScanClicks(ctx, func(e *model.ClickEvent) error {
		scanned++
		return nil
	})
	if err != nil {
		t.Fatalf("ScanClicks failed: %v", err)
	}
	if scanned != 4 {
		t.Fatalf("scanned %d clicks, want 4", scanned)
	}

	stop := errors.New("stop")
	err = clicks.ScanClicks(ctx, func(e *model.ClickEvent) error { return stop })
	if !errors.Is(err, stop) {
		t.Fatalf("ScanClicks callback error = %v, want stop", err)
	}
}

func TestIntegrationRollupRepository_ReplaceAndGet(t *testing.T) {
	ctx, repo := newRepoTestEnv(t)
	rollups := NewRollupRepository(repo)

	day := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	first := model.Rollup{
		Name: model.RollupByCountry,
		Rows: []model.RollupRow{
			{LinkID: "a", Day: day, Values: []string{"DE", "Germany"}, Clicks: 3, Sessions: 2},
			{LinkID: "a", Day: day, Values: []string{"US", "United States"}, Clicks: 5, Sessions: 4},
			{LinkID: "b", Day: day.AddDate(0, 0, 1), Values: []string{"", "Unknown"}, Clicks: 1, Sessions: 1},
		},
	}
	if err := rollups.ReplaceRollup(ctx, first); err != nil {
		t.Fatalf("ReplaceRollup failed: %v", err)
	}

	got, err := rollups.GetRollup(ctx, model.RollupQuery{Name: model.RollupByCountry, LinkID: "a"})
	if err != nil {
		t.Fatalf("GetRollup failed: %v", err)
	}
	if len(got.Rows) != 2 || got.Rows[0].Values[0] != "DE" || got.Rows[1].Clicks != 5 {
		t.Fatalf("rows = %+v", got.Rows)
	}
	if len(got.Dimensions) != 2 || got.Dimensions[0] != "country_code" {
		t.Errorf("dimensions = %v", got.Dimensions)
	}

	unknown, _ := rollups.GetRollup(ctx, model.RollupQuery{Name: model.RollupByCountry, LinkID: "b"})
	if len(unknown.Rows) != 1 || unknown.Rows[0].Values[0] != "" || unknown.Rows[0].Values[1] != "Unknown" {
		t.Errorf("empty country code not preserved: %+v", unknown.Rows)
	}

	// A second publish replaces every row.
	second := model.Rollup{
		Name: model.RollupByCountry,
		Rows: []model.RollupRow{{LinkID: "a", Day: day, Values: []string{"FR", "France"}, Clicks: 1, Sessions: 1}},
	}
	if err := rollups.ReplaceRollup(ctx, second); err != nil {
		t.Fatalf("ReplaceRollup (second) failed: %v", err)
	}
	all, _ := rollups.GetRollup(ctx, model.RollupQuery{Name: model.RollupByCountry})
	if len(all.Rows) != 1 || all.Rows[0].Values[0] != "FR" {
		t.Fatalf("rows after replace = %+v", all.Rows)
	}

	if _, err := rollups.GetRollup(ctx, model.RollupQuery{Name: "by_moon_phase"}); !errors.Is(err, model.ErrUnknownRollup) {
		t.Errorf("GetRollup(unknown) error = %v", err)
	}
}

func TestIntegrationMigration_Idempotency(t *testing.T) {
	ctx, repo := newRepoTestEnv(t)

	// Applying the up migrations twice must not fail.
	if err := testutil.ResetSchema(ctx, repo.Pool()); err != nil {
		t.Fatalf("ResetSchema failed: %v", err)
	}
	for _, table := range []string{"links", "click_events", "rollup_rows"} {
		exists, err := tableExists(ctx, repo.Pool(), table)
		if err != nil {
			t.Fatalf("tableExists failed: %v", err)
		}
		if !exists {
			t.Errorf("Table %q should exist after migrations", table)
		}
	}
}

func tableExists(ctx context.Context, pool *pgxpool.Pool, tableName string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = $1
		)
	`
	var exists bool
	err := pool.QueryRow(ctx, query, tableName).Scan(&exists)
	return exists, err
}

func newRepoTestEnv(t *testing.T) (context.Context, *Repository) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}

	ctx := context.Background()
	dbURL := testutil.RequireEnv(t, "DATABASE_URL")

	repo, err := New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(repo.Close)

	unlock, err := testutil.AcquireDBLock(ctx, repo.Pool())
	if err != nil {
		t.Fatalf("acquire db lock: %v", err)
	}
	t.Cleanup(func() {
		_ = unlock()
	})

	if err := testutil.ResetSchema(ctx, repo.Pool()); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	return ctx, repo
}
