package aggregate

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingRefresher struct {
	calls atomic.Int32
}

func (c *countingRefresher) Refresh(ctx context.Context) (RunResult, error) {
	c.calls.Add(1)
	return RunResult{}, nil
}

func TestScheduler_RunsOnStartAndStops(t *testing.T) {
	t.Parallel()

	r := &countingRefresher{}
	s, err := NewScheduler(r, "@every 1h", time.Second, discardLogger())
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	s.Start()

	deadline := time.Now().Add(2 * time.Second)
	for r.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if r.calls.Load() != 1 {
		t.Fatalf("refresh calls = %d, want 1", r.calls.Load())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func TestNewScheduler_InvalidSchedule(t *testing.T) {
	t.Parallel()

	if _, err := NewScheduler(&countingRefresher{}, "every now and then", time.Second, nil); err == nil {
		t.Fatal("NewScheduler() expected error for invalid schedule")
	}
}

func TestNewScheduler_DefaultSchedule(t *testing.T) {
	t.Parallel()

	s, err := NewScheduler(&countingRefresher{}, "", 0, nil)
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	if len(s.cron.Entries()) != 1 {
		t.Fatalf("entries = %d, want 1", len(s.cron.Entries()))
	}
}
