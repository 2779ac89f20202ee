package analytics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/clicklens/clicklens/internal/memstore"
	"github.com/clicklens/clicklens/internal/metrics"
	"github.com/clicklens/clicklens/internal/model"
	"github.com/clicklens/clicklens/internal/session"
	"github.com/clicklens/clicklens/internal/temporal"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

type staticGeo struct {
	calls atomic.Int32
	geo   *model.Geo
}

func (g *staticGeo) Resolve(ctx context.Context, ip string) *model.Geo {
	g.calls.Add(1)
	if g.geo == nil {
		return model.UnknownGeo()
	}
	out := *g.geo
	return &out
}

type flakyWriter struct {
	failures int32
	calls    atomic.Int32
	next     ClickWriter
}

func (w *flakyWriter) Append(ctx context.Context, event *model.ClickEvent) error {
	if w.calls.Add(1) <= w.failures {
		return errors.New("connection refused")
	}
	return w.next.Append(ctx, event)
}

type recordingDLQ struct {
	mu     sync.Mutex
	events []*model.ClickEvent
	err    error
}

func (d *recordingDLQ) DeadLetterEvent(ctx context.Context, event *model.ClickEvent, cause error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.events = append(d.events, event)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestTracker(store *memstore.Store, geo GeoResolver, writer ClickWriter, dlq DeadLetter, rec metrics.Recorder) *Tracker {
	if writer == nil {
		writer = store
	}
	return NewTracker(
		geo,
		session.NewGenerator(session.DefaultBucketWidth, store),
		temporal.NewExtractor(time.UTC),
		writer,
		dlq,
		discardLogger(),
		rec,
		TrackerConfig{AppendAttempts: 3, RetryBackoff: time.Millisecond, Budget: time.Second},
	)
}

func TestTracker_YouTubeClickFromLocalhost(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	tracker := newTestTracker(store, nil, nil, nil, nil)

	event, err := tracker.Track(context.Background(), Hit{
		LinkID:        "link-1",
		LinkCreatedAt: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		SourceIP:      "127.0.0.1",
		UserAgent:     chromeUA,
		Referer:       "https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=120&feature=share",
		OccurredAt:    time.Date(2026, 3, 15, 20, 30, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Track() error = %v", err)
	}

	v := event.Video
	if v.Platform != model.PlatformYouTube {
		t.Fatalf("platform = %q, want youtube", v.Platform)
	}
	if v.VideoID == nil || *v.VideoID != "dQw4w9WgXcQ" {
		t.Fatalf("video id = %v", v.VideoID)
	}
	if v.TimestampSeconds == nil || *v.TimestampSeconds != 120 {
		t.Fatalf("timestamp = %v", v.TimestampSeconds)
	}
	if v.SubFeature == nil || *v.SubFeature != "share" {
		t.Fatalf("sub feature = %v", v.SubFeature)
	}
	if v.PlaylistID != nil {
		t.Fatalf("playlist = %v, want nil", *v.PlaylistID)
	}

	if !event.Geo.IsUnknown() || event.Geo.CountryName != model.UnknownCountryName {
		t.Fatalf("geo = %+v, want Unknown/none", event.Geo)
	}
	if event.Referrer.Type != model.ReferrerSocial || event.Referrer.Domain != "youtube.com" {
		t.Fatalf("referrer = %+v", event.Referrer)
	}
	if event.Device.Type != model.DeviceDesktop || event.Device.BrowserName != "Chrome" {
		t.Fatalf("device = %+v", event.Device)
	}
	if event.Temporal.HourOfDay != 20 || event.Temporal.SecondsSinceLinkCreation != 35*3600+30*60 {
		t.Fatalf("temporal = %+v", event.Temporal)
	}
	if !event.IsFirstClickInSession {
		t.Fatal("first click should start a session")
	}
	if len(event.SessionKey) != session.KeyLength {
		t.Fatalf("session key length = %d", len(event.SessionKey))
	}
	if store.CountClicks() != 1 {
		t.Fatalf("stored clicks = %d, want 1", store.CountClicks())
	}
}

func TestTracker_SameVisitorFiveMinutesApart(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	tracker := newTestTracker(store, nil, nil, nil, nil)
	// Two minutes past a bucket boundary so both clicks share the bucket.
	start := time.Date(2026, 3, 15, 10, 2, 0, 0, time.UTC)

	hit := Hit{LinkID: "link-1", SourceIP: "198.51.100.7", UserAgent: chromeUA, OccurredAt: start}
	first, err := tracker.Track(context.Background(), hit)
	if err != nil {
		t.Fatalf("Track(first) error = %v", err)
	}

	hit.OccurredAt = start.Add(5 * time.Minute)
	second, err := tracker.Track(context.Background(), hit)
	if err != nil {
		t.Fatalf("Track(second) error = %v", err)
	}

	if !first.IsFirstClickInSession {
		t.Error("first click should be first in session")
	}
	if second.IsFirstClickInSession {
		t.Error("second click should not be first in session")
	}
	if first.SessionKey != second.SessionKey {
		t.Errorf("session keys differ: %s vs %s", first.SessionKey, second.SessionKey)
	}

	// Next bucket starts a new session.
	hit.OccurredAt = start.Add(session.DefaultBucketWidth)
	third, _ := tracker.Track(context.Background(), hit)
	if third.SessionKey == first.SessionKey || !third.IsFirstClickInSession {
		t.Errorf("click in next bucket = %s first=%v, want new session", third.SessionKey, third.IsFirstClickInSession)
	}
}

func TestTracker_UsesGeoResolver(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	geo := &staticGeo{geo: &model.Geo{CountryCode: "DE", CountryName: "Germany", City: "Berlin", Provider: "ipinfo.io"}}
	tracker := newTestTracker(store, geo, nil, nil, nil)

	event, err := tracker.Track(context.Background(), Hit{LinkID: "link-1", SourceIP: "8.8.8.8", OccurredAt: time.Now()})
	if err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	if geo.calls.Load() != 1 {
		t.Fatalf("geo calls = %d, want 1", geo.calls.Load())
	}
	if event.Geo.CountryCode != "DE" || event.Geo.Provider != "ipinfo.io" {
		t.Fatalf("geo = %+v", event.Geo)
	}
}

func TestTracker_EmptyInputsDegrade(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	tracker := newTestTracker(store, nil, nil, nil, nil)

	event, err := tracker.Track(context.Background(), Hit{LinkID: "link-1"})
	if err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	if event.Referrer.Type != model.ReferrerDirect {
		t.Errorf("referrer = %+v, want direct", event.Referrer)
	}
	if event.Video.Platform != model.PlatformNone || event.Video.VideoID != nil {
		t.Errorf("video = %+v, want none", event.Video)
	}
	if event.Device.Type != model.DeviceUnknown || event.Device.BrowserName != model.UnknownValue {
		t.Errorf("device = %+v, want unknown", event.Device)
	}
	if !event.Geo.IsUnknown() {
		t.Errorf("geo = %+v, want unknown", event.Geo)
	}
	if event.OccurredAt.IsZero() {
		t.Error("occurred_at should default to now")
	}
}

func TestTracker_MalformedHeaderBytesAreStored(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	tracker := newTestTracker(store, nil, nil, nil, nil)

	event, err := tracker.Track(context.Background(), Hit{
		LinkID:     "link-bytes",
		SourceIP:   "127.0.0.1",
		UserAgent:  "Mozilla/5.0 \xff\xfe",
		Referer:    "https://ex\x00ample.com/\xff",
		OccurredAt: time.Date(2026, 3, 15, 20, 30, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Track() error = %v", err)
	}

	for field, value := range map[string]string{"user_agent": event.UserAgent, "referer": event.Referer} {
		if !utf8.ValidString(value) {
			t.Errorf("%s = %q is not valid UTF-8", field, value)
		}
		if strings.ContainsRune(value, 0) {
			t.Errorf("%s = %q contains NUL", field, value)
		}
	}
	if event.Referrer.Domain != "example.com" {
		t.Errorf("referrer domain = %q, want example.com", event.Referrer.Domain)
	}
	if store.CountClicks() != 1 {
		t.Fatalf("stored clicks = %d, want 1", store.CountClicks())
	}
}

func TestTracker_RetriesAppend(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	writer := &flakyWriter{failures: 2, next: store}
	rec := metrics.NewInMemory()
	tracker := newTestTracker(store, nil, writer, nil, rec)

	if _, err := tracker.Track(context.Background(), Hit{LinkID: "link-1", OccurredAt: time.Now()}); err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	if writer.calls.Load() != 3 {
		t.Fatalf("append calls = %d, want 3", writer.calls.Load())
	}
	if store.CountClicks() != 1 {
		t.Fatalf("stored clicks = %d, want 1", store.CountClicks())
	}
	if rec.Snapshot().ClicksTracked[StatusSuccess] != 1 {
		t.Fatalf("clicks tracked = %v", rec.Snapshot().ClicksTracked)
	}
}

func TestTracker_PersistenceFailureIsDeadLettered(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	writer := &flakyWriter{failures: 100, next: store}
	dlq := &recordingDLQ{}
	rec := metrics.NewInMemory()
	tracker := newTestTracker(store, nil, writer, dlq, rec)

	event, err := tracker.Track(context.Background(), Hit{LinkID: "link-1", OccurredAt: time.Now()})
	if !errors.Is(err, ErrDeadLettered) {
		t.Fatalf("Track() error = %v, want ErrDeadLettered", err)
	}
	if writer.calls.Load() != 3 {
		t.Fatalf("append calls = %d, want 3", writer.calls.Load())
	}
	if len(dlq.events) != 1 || dlq.events[0].ID != event.ID {
		t.Fatalf("dead-lettered = %v", dlq.events)
	}
	if rec.Snapshot().ClicksTracked[StatusDeadLettered] != 1 {
		t.Fatalf("clicks tracked = %v", rec.Snapshot().ClicksTracked)
	}
}

func TestTracker_PersistenceAndDeadLetterFailure(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	writer := &flakyWriter{failures: 100, next: store}
	dlq := &recordingDLQ{err: errors.New("redis down")}
	rec := metrics.NewInMemory()
	tracker := newTestTracker(store, nil, writer, dlq, rec)

	_, err := tracker.Track(context.Background(), Hit{LinkID: "link-1", OccurredAt: time.Now()})
	if err == nil || errors.Is(err, ErrDeadLettered) {
		t.Fatalf("Track() error = %v, want plain failure", err)
	}
	if !strings.Contains(err.Error(), "redis down") {
		t.Fatalf("Track() error = %v, want dead-letter cause", err)
	}
	if rec.Snapshot().ClicksTracked[StatusFailed] != 1 {
		t.Fatalf("clicks tracked = %v", rec.Snapshot().ClicksTracked)
	}
}

func TestTracker_ReplayedHitIsRecordedOnce(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	rec := metrics.NewInMemory()
	tracker := newTestTracker(store, nil, nil, nil, rec)

	hit := Hit{EventID: "1700000000000-0", LinkID: "link-1", OccurredAt: time.UnixMilli(1700000000000)}
	first, err := tracker.Track(context.Background(), hit)
	if err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	second, err := tracker.Track(context.Background(), hit)
	if err != nil {
		t.Fatalf("Track(replay) error = %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("replayed hit got a new ID: %s vs %s", first.ID, second.ID)
	}
	if store.CountClicks() != 1 {
		t.Fatalf("stored clicks = %d, want 1", store.CountClicks())
	}
	if rec.Snapshot().ClicksTracked[StatusDuplicate] != 1 {
		t.Fatalf("clicks tracked = %v", rec.Snapshot().ClicksTracked)
	}
}

func TestTracker_TrackAsyncAndShutdown(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	tracker := newTestTracker(store, nil, nil, nil, nil)

	for i := 0; i < 10; i++ {
		tracker.TrackAsync(Hit{LinkID: "link-1", SourceIP: "203.0.113.1", OccurredAt: time.Now()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tracker.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if store.CountClicks() != 10 {
		t.Fatalf("stored clicks = %d, want 10", store.CountClicks())
	}
}

func TestEventID(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	if eventID("k", at) != eventID("k", at) {
		t.Error("keyed IDs should be deterministic")
	}
	if eventID("k1", at) == eventID("k2", at) {
		t.Error("different keys should give different IDs")
	}
	if eventID("", at) == eventID("", at) {
		t.Error("unkeyed IDs should be unique")
	}
	if len(eventID("", at)) != 26 {
		t.Errorf("ULID length = %d, want 26", len(eventID("", at)))
	}
	if eventID("", at) > eventID("", at.Add(time.Second)) {
		t.Error("IDs should sort by click time")
	}
}
