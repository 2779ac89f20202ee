package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule refreshes rollups every five minutes.
const DefaultSchedule = "@every 5m"

// Refresher runs one rollup refresh.
type Refresher interface {
	Refresh(ctx context.Context) (RunResult, error)
}

// Scheduler runs refreshes on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	engine  Refresher
	logger  *slog.Logger
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler. The schedule accepts standard five-field cron
// expressions and descriptors such as "@every 5m" or "@hourly". Each run
// is bounded by timeout.
func NewScheduler(engine Refresher, spec string, timeout time.Duration, logger *slog.Logger) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		engine:  engine,
		logger:  logger.With("component", "aggregate.scheduler"),
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}

	if _, err := s.cron.AddFunc(spec, s.runOnce); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid aggregation schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins the schedule and triggers one refresh immediately so
// rollups exist soon after boot.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runOnce()
	}()
	s.logger.Info("aggregation scheduler started", "entries", len(s.cron.Entries()))
}

// Shutdown stops scheduling, cancels a running refresh and waits for it.
// It implements server.ShutdownFunc for integration with graceful shutdown.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	stopped := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("aggregation scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("aggregation scheduler shutdown timed out")
		return ctx.Err()
	}
}

func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	_, err := s.engine.Refresh(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrRefreshInProgress):
		s.logger.Info("skipping scheduled refresh, previous run still active")
	case errors.Is(err, context.Canceled):
		s.logger.Info("scheduled refresh cancelled")
	default:
		// The previous rollups stay published; the next tick retries.
		s.logger.Error("scheduled refresh failed", "error", err)
	}
}
