// Package testutil holds helpers shared by integration tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/clicklens/clicklens/internal/model"
)

// RequireEnv returns an environment variable or skips the test if missing.
func RequireEnv(t testing.TB, key string) string {
	t.Helper()
	value := os.Getenv(key)
	if value == "" {
		t.Skipf("%s not set", key)
	}
	return value
}

const advisoryLockID int64 = 420420

// AcquireDBLock grabs a global advisory lock to serialize DB tests.
func AcquireDBLock(ctx context.Context, pool *pgxpool.Pool) (func() error, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", advisoryLockID); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	unlock := func() error {
		defer conn.Release()
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockID); err != nil {
			return fmt.Errorf("release advisory lock: %w", err)
		}
		return nil
	}

	return unlock, nil
}

// ResetSchema drops and recreates every table, applying the down
// migrations newest first and the up migrations oldest first.
func ResetSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if err := applyMigration(ctx, pool, "000002_clicks.down.sql"); err != nil {
		return err
	}
	if err := applyMigration(ctx, pool, "000001_links.down.sql"); err != nil {
		return err
	}
	if err := applyMigration(ctx, pool, "000001_links.up.sql"); err != nil {
		return err
	}
	return applyMigration(ctx, pool, "000002_clicks.up.sql")
}

func applyMigration(ctx context.Context, pool *pgxpool.Pool, name string) error {
	root, err := ProjectRoot()
	if err != nil {
		return err
	}

	sql, err := os.ReadFile(filepath.Join(root, "migrations", name))
	if err != nil {
		return fmt.Errorf("read migration %s: %w", name, err)
	}
	if _, err := pool.Exec(ctx, string(sql)); err != nil {
		return fmt.Errorf("apply migration %s: %w", name, err)
	}
	return nil
}

// FlushRedis clears the current Redis database.
func FlushRedis(ctx context.Context, client *redis.Client) error {
	return client.FlushDB(ctx).Err()
}

// ProjectRoot returns the project root directory.
func ProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to resolve testutil path")
	}
	root := filepath.Clean(filepath.Join(filepath.Dir(filename), "..", ".."))
	return root, nil
}

// ============================================================================
// Test Data Factories
// ============================================================================

// NewTestLink creates a test link with sensible defaults.
func NewTestLink(t testing.TB, shortCode string) *model.Link {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &model.Link{
		ID:           UniqueID("link"),
		ShortCode:    shortCode,
		Destination:  "https://example.com/" + shortCode,
		RedirectType: model.RedirectTemporary,
		Enabled:      true,
		CreatedAt:    now,
	}
}

// NewTestClick creates a fully enriched click for linkID at occurredAt.
func NewTestClick(t testing.TB, linkID string, occurredAt time.Time) *model.ClickEvent {
	t.Helper()
	occurredAt = occurredAt.UTC().Truncate(time.Microsecond)
	return &model.ClickEvent{
		ID:         UniqueID("click"),
		LinkID:     linkID,
		OccurredAt: occurredAt,
		SourceIP:   "203.0.113.10",
		UserAgent:  "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Referer:    "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		Geo:        &model.Geo{CountryCode: "US", CountryName: "United States", City: "Austin", Provider: "ipapi.co"},
		Device: model.Device{
			Type:           model.DeviceDesktop,
			BrowserName:    "Chrome",
			BrowserVersion: "120.0.0.0",
			OSName:         "Linux",
			OSVersion:      model.UnknownValue,
		},
		Referrer: model.ReferrerClass{Type: model.ReferrerSocial, Domain: "youtube.com"},
		Video:    model.NoVideo(),
		Temporal: model.Temporal{
			HourOfDay: occurredAt.Hour(),
			Month:     int(occurredAt.Month()),
		},
		SessionKey:            UniqueID("session"),
		IsFirstClickInSession: true,
	}
}

// UniqueShortCode generates a unique short code for tests.
func UniqueShortCode(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

var idSeq atomic.Uint64

// UniqueID generates a unique ID for tests.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), idSeq.Add(1))
}
