package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	RedirectCacheHits     uint64
	RedirectCacheMisses   uint64
	RedirectDurationCount uint64
	ClicksTracked         map[string]uint64
	TrackDurationCount    uint64
	GeoLookups            map[string]uint64 // keyed by "provider/outcome"
	GeoCacheHits          uint64
	GeoCacheMisses        uint64
	EventsPublished       map[string]uint64
	EventsProcessed       map[string]uint64
	QueueDepth            int64
	AggregationRuns       map[string]uint64
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	redirectCacheHits     atomic.Uint64
	redirectCacheMisses   atomic.Uint64
	redirectDurationCount atomic.Uint64
	trackDurationCount    atomic.Uint64
	geoCacheHits          atomic.Uint64
	geoCacheMisses        atomic.Uint64
	queueDepth            atomic.Int64

	mu              sync.Mutex
	clicksTracked   map[string]uint64
	geoLookups      map[string]uint64
	eventsPublished map[string]uint64
	eventsProcessed map[string]uint64
	aggregationRuns map[string]uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		clicksTracked:   make(map[string]uint64),
		geoLookups:      make(map[string]uint64),
		eventsPublished: make(map[string]uint64),
		eventsProcessed: make(map[string]uint64),
		aggregationRuns: make(map[string]uint64),
	}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Snapshot{
		RedirectCacheHits:     m.redirectCacheHits.Load(),
		RedirectCacheMisses:   m.redirectCacheMisses.Load(),
		RedirectDurationCount: m.redirectDurationCount.Load(),
		ClicksTracked:         copyCounts(m.clicksTracked),
		TrackDurationCount:    m.trackDurationCount.Load(),
		GeoLookups:            copyCounts(m.geoLookups),
		GeoCacheHits:          m.geoCacheHits.Load(),
		GeoCacheMisses:        m.geoCacheMisses.Load(),
		EventsPublished:       copyCounts(m.eventsPublished),
		EventsProcessed:       copyCounts(m.eventsProcessed),
		QueueDepth:            m.queueDepth.Load(),
		AggregationRuns:       copyCounts(m.aggregationRuns),
	}
}

func (m *InMemoryRecorder) inc(counts map[string]uint64, key string) {
	m.mu.Lock()
	counts[key]++
	m.mu.Unlock()
}

func copyCounts(src map[string]uint64) map[string]uint64 {
	dst := make(map[string]uint64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// IncRedirectCacheHit increments cache hit counter.
func (m *InMemoryRecorder) IncRedirectCacheHit() {
	m.redirectCacheHits.Add(1)
}

// IncRedirectCacheMiss increments cache miss counter.
func (m *InMemoryRecorder) IncRedirectCacheMiss() {
	m.redirectCacheMisses.Add(1)
}

// ObserveRedirectDuration records redirect duration.
func (m *InMemoryRecorder) ObserveRedirectDuration(duration time.Duration) {
	m.redirectDurationCount.Add(1)
}

// IncClickTracked counts a tracking outcome.
func (m *InMemoryRecorder) IncClickTracked(status string) {
	m.inc(m.clicksTracked, status)
}

// ObserveTrackDuration records a tracking duration.
func (m *InMemoryRecorder) ObserveTrackDuration(duration time.Duration) {
	m.trackDurationCount.Add(1)
}

// IncGeoLookup counts a provider call outcome.
func (m *InMemoryRecorder) IncGeoLookup(provider, outcome string) {
	m.inc(m.geoLookups, provider+"/"+outcome)
}

// IncGeoCacheHit increments the geolocation cache hit counter.
func (m *InMemoryRecorder) IncGeoCacheHit() {
	m.geoCacheHits.Add(1)
}

// IncGeoCacheMiss increments the geolocation cache miss counter.
func (m *InMemoryRecorder) IncGeoCacheMiss() {
	m.geoCacheMisses.Add(1)
}

// IncAnalyticsEventPublished counts a stream publish outcome.
func (m *InMemoryRecorder) IncAnalyticsEventPublished(status string) {
	m.inc(m.eventsPublished, status)
}

// IncAnalyticsEventProcessed counts a stream processing outcome.
func (m *InMemoryRecorder) IncAnalyticsEventProcessed(status string) {
	m.inc(m.eventsProcessed, status)
}

// ObserveAnalyticsBatchSize is not tracked in memory.
func (m *InMemoryRecorder) ObserveAnalyticsBatchSize(size int) {}

// ObserveAnalyticsBatchDuration is not tracked in memory.
func (m *InMemoryRecorder) ObserveAnalyticsBatchDuration(duration time.Duration) {}

// SetAnalyticsQueueDepth stores the latest queue depth.
func (m *InMemoryRecorder) SetAnalyticsQueueDepth(depth int64) {
	m.queueDepth.Store(depth)
}

// ObserveAnalyticsIngestLag is not tracked in memory.
func (m *InMemoryRecorder) ObserveAnalyticsIngestLag(lag time.Duration) {}

// IncAggregationRun counts an aggregation outcome.
func (m *InMemoryRecorder) IncAggregationRun(status string) {
	m.inc(m.aggregationRuns, status)
}

// ObserveAggregationDuration is not tracked in memory.
func (m *InMemoryRecorder) ObserveAggregationDuration(duration time.Duration) {}
