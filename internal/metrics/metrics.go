// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Redirect metrics
	IncRedirectCacheHit()
	IncRedirectCacheMiss()
	ObserveRedirectDuration(duration time.Duration)

	// Click ingestion metrics
	IncClickTracked(status string) // status: "success", "failed", "dead_lettered"
	ObserveTrackDuration(duration time.Duration)
	IncGeoLookup(provider, outcome string) // outcome: "success", "error", "rate_limited", "circuit_open", "skipped"
	IncGeoCacheHit()
	IncGeoCacheMiss()

	// Stream pipeline metrics
	IncAnalyticsEventPublished(status string) // status: "success" or "dropped"
	IncAnalyticsEventProcessed(status string) // status: "success", "failed", "dead_lettered"
	ObserveAnalyticsBatchSize(size int)
	ObserveAnalyticsBatchDuration(duration time.Duration)
	SetAnalyticsQueueDepth(depth int64)
	ObserveAnalyticsIngestLag(lag time.Duration)

	// Aggregation metrics
	IncAggregationRun(status string) // status: "success", "failed", "skipped"
	ObserveAggregationDuration(duration time.Duration)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
