// Package analytics captures clicks on short links, enriches them and
// appends them to the click log, either in-process or through a Redis
// stream consumed by a worker.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/clicklens/clicklens/internal/device"
	"github.com/clicklens/clicklens/internal/metrics"
	"github.com/clicklens/clicklens/internal/model"
	"github.com/clicklens/clicklens/internal/referrer"
	"github.com/clicklens/clicklens/internal/session"
	"github.com/clicklens/clicklens/internal/temporal"
)

// ErrDeadLettered is returned by Track when the click could not be appended
// but was handed to the dead-letter sink.
var ErrDeadLettered = errors.New("click event dead-lettered")

// Tracking outcomes reported to metrics.
const (
	StatusSuccess      = "success"
	StatusFailed       = "failed"
	StatusDeadLettered = "dead_lettered"
	StatusDuplicate    = "duplicate"
)

// GeoResolver maps a source IP to a location. It never fails.
type GeoResolver interface {
	Resolve(ctx context.Context, ip string) *model.Geo
}

// ClickWriter appends one click to the log. Implementations decide
// IsFirstClickInSession atomically with the insert and update the event
// before returning. A duplicate ID yields model.ErrDuplicateClick.
type ClickWriter interface {
	Append(ctx context.Context, event *model.ClickEvent) error
}

// DeadLetter keeps clicks that could not be appended for reconciliation.
type DeadLetter interface {
	DeadLetterEvent(ctx context.Context, event *model.ClickEvent, cause error) error
}

// TrackerConfig tunes persistence retries and the async budget.
type TrackerConfig struct {
	// AppendAttempts is the number of Append calls before giving up.
	AppendAttempts int
	// RetryBackoff is the first retry delay; it doubles on every attempt.
	RetryBackoff time.Duration
	// Budget bounds a TrackAsync call end to end.
	Budget time.Duration
}

// DefaultTrackerConfig returns production defaults.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		AppendAttempts: 3,
		RetryBackoff:   100 * time.Millisecond,
		Budget:         5 * time.Second,
	}
}

// Tracker composes the enrichment steps and persists one ClickEvent per Hit.
type Tracker struct {
	geo      GeoResolver
	sessions *session.Generator
	clock    *temporal.Extractor
	writer   ClickWriter
	dlq      DeadLetter
	logger   *slog.Logger
	metrics  metrics.Recorder
	cfg      TrackerConfig

	inflight sync.WaitGroup
}

// NewTracker creates a Tracker. geo and dlq may be nil: clicks then get an
// Unknown location, and failed appends are only logged.
func NewTracker(
	geo GeoResolver,
	sessions *session.Generator,
	clock *temporal.Extractor,
	writer ClickWriter,
	dlq DeadLetter,
	logger *slog.Logger,
	recorder metrics.Recorder,
	cfg TrackerConfig,
) *Tracker {
	if sessions == nil {
		sessions = session.NewGenerator(session.DefaultBucketWidth, nil)
	}
	if clock == nil {
		clock = temporal.NewExtractor(time.UTC)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	d := DefaultTrackerConfig()
	if cfg.AppendAttempts <= 0 {
		cfg.AppendAttempts = d.AppendAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = d.RetryBackoff
	}
	if cfg.Budget <= 0 {
		cfg.Budget = d.Budget
	}

	return &Tracker{
		geo:      geo,
		sessions: sessions,
		clock:    clock,
		writer:   writer,
		dlq:      dlq,
		logger:   logger.With("component", "analytics.tracker"),
		metrics:  recorder,
		cfg:      cfg,
	}
}

// Enrich derives every ClickEvent field from hit. It performs no writes and
// never fails; the only I/O is the geolocation lookup and the session
// history query.
func (t *Tracker) Enrich(ctx context.Context, hit Hit) *model.ClickEvent {
	occurredAt := hit.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	occurredAt = occurredAt.UTC()

	userAgent := Truncate(hit.UserAgent)
	referer := Truncate(hit.Referer)

	ref := referrer.Parse(referer)
	dev := device.Classify(userAgent)

	geo := model.UnknownGeo()
	if t.geo != nil {
		geo = t.geo.Resolve(ctx, hit.SourceIP)
	}

	identity, err := t.sessions.Identify(ctx, hit.SourceIP, userAgent, occurredAt)
	if err != nil {
		// The store re-derives the flag on append.
		t.logger.Warn("session history unavailable",
			"link_id", hit.LinkID,
			"error", err,
		)
		identity.IsFirst = true
	}

	return &model.ClickEvent{
		ID:                    eventID(hit.EventID, occurredAt),
		LinkID:                hit.LinkID,
		OccurredAt:            occurredAt,
		SourceIP:              hit.SourceIP,
		UserAgent:             userAgent,
		Referer:               referer,
		Geo:                   geo,
		Device:                dev,
		Referrer:              ref.Class,
		Video:                 ref.Video,
		Temporal:              t.clock.Extract(occurredAt, hit.LinkCreatedAt),
		SessionKey:            identity.Key,
		IsFirstClickInSession: identity.IsFirst,
	}
}

// Track enriches hit and appends the resulting event. Enrichment never
// fails; the returned error only reports persistence. When every append
// attempt fails the event goes to the dead-letter sink and the error wraps
// ErrDeadLettered.
func (t *Tracker) Track(ctx context.Context, hit Hit) (*model.ClickEvent, error) {
	start := time.Now()
	defer func() {
		t.metrics.ObserveTrackDuration(time.Since(start))
	}()

	event := t.Enrich(ctx, hit)

	err := t.appendWithRetry(ctx, event)
	switch {
	case err == nil:
		t.metrics.IncClickTracked(StatusSuccess)
		t.logger.Debug("click recorded",
			"click_id", event.ID,
			"link_id", event.LinkID,
			"session_key", event.SessionKey,
			"first_in_session", event.IsFirstClickInSession,
		)
		return event, nil
	case errors.Is(err, model.ErrDuplicateClick):
		t.metrics.IncClickTracked(StatusDuplicate)
		t.logger.Debug("click already recorded", "click_id", event.ID)
		return event, nil
	}

	t.logger.Error("failed to record click",
		"click_id", event.ID,
		"link_id", event.LinkID,
		"occurred_at", event.OccurredAt,
		"session_key", event.SessionKey,
		"error", err,
	)

	if t.dlq == nil {
		t.metrics.IncClickTracked(StatusFailed)
		return event, fmt.Errorf("append click: %w", err)
	}

	// The caller's context may already be spent by the retries.
	dlqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DeadLetterTimeout)
	defer cancel()
	if dlqErr := t.dlq.DeadLetterEvent(dlqCtx, event, err); dlqErr != nil {
		t.metrics.IncClickTracked(StatusFailed)
		t.logger.Error("failed to dead-letter click",
			"click_id", event.ID,
			"error", dlqErr,
		)
		return event, fmt.Errorf("append click: %w", errors.Join(err, dlqErr))
	}

	t.metrics.IncClickTracked(StatusDeadLettered)
	return event, fmt.Errorf("%w: %w", ErrDeadLettered, err)
}

// TrackAsync tracks hit in the background, bounded by the configured
// budget. The caller never waits for enrichment or persistence.
func (t *Tracker) TrackAsync(hit Hit) {
	t.inflight.Add(1)
	go func() {
		defer t.inflight.Done()

		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.Budget)
		defer cancel()

		_, _ = t.Track(ctx, hit)
	}()
}

// Shutdown waits for in-flight TrackAsync calls.
// It implements server.ShutdownFunc for integration with graceful shutdown.
func (t *Tracker) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		t.logger.Warn("tracker shutdown timed out with clicks in flight")
		return ctx.Err()
	}
}

// appendWithRetry attempts the append with exponential backoff.
func (t *Tracker) appendWithRetry(ctx context.Context, event *model.ClickEvent) error {
	if t.writer == nil {
		return errors.New("no click writer configured")
	}

	var lastErr error
	backoff := t.cfg.RetryBackoff

	for attempt := 1; attempt <= t.cfg.AppendAttempts; attempt++ {
		err := t.writer.Append(ctx, event)
		if err == nil || errors.Is(err, model.ErrDuplicateClick) {
			return err
		}
		lastErr = err

		if attempt == t.cfg.AppendAttempts {
			break
		}
		t.logger.Warn("click append failed, retrying",
			"attempt", attempt,
			"backoff_ms", backoff.Milliseconds(),
			"error", err,
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(lastErr, ctx.Err())
		case <-timer.C:
		}
		backoff *= 2
	}

	return lastErr
}

// eventID returns a ULID timestamped at the click time. With an idempotency
// key the entropy is derived from the key, so replays get the same ID.
func eventID(key string, occurredAt time.Time) string {
	ms := ulid.Timestamp(occurredAt)
	if key == "" {
		return ulid.MustNew(ms, ulid.DefaultEntropy()).String()
	}
	sum := blake2b.Sum256([]byte(key))
	var id ulid.ULID
	_ = id.SetTime(ms)
	_ = id.SetEntropy(sum[:10])
	return id.String()
}
