package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncRedirectCacheHit is a no-op.
func (n *NoopRecorder) IncRedirectCacheHit() {}

// IncRedirectCacheMiss is a no-op.
func (n *NoopRecorder) IncRedirectCacheMiss() {}

// ObserveRedirectDuration is a no-op.
func (n *NoopRecorder) ObserveRedirectDuration(duration time.Duration) {}

// IncClickTracked is a no-op.
func (n *NoopRecorder) IncClickTracked(status string) {}

// ObserveTrackDuration is a no-op.
func (n *NoopRecorder) ObserveTrackDuration(duration time.Duration) {}

// IncGeoLookup is a no-op.
func (n *NoopRecorder) IncGeoLookup(provider, outcome string) {}

// IncGeoCacheHit is a no-op.
func (n *NoopRecorder) IncGeoCacheHit() {}

// IncGeoCacheMiss is a no-op.
func (n *NoopRecorder) IncGeoCacheMiss() {}

// IncAnalyticsEventPublished is a no-op.
func (n *NoopRecorder) IncAnalyticsEventPublished(status string) {}

// IncAnalyticsEventProcessed is a no-op.
func (n *NoopRecorder) IncAnalyticsEventProcessed(status string) {}

// ObserveAnalyticsBatchSize is a no-op.
func (n *NoopRecorder) ObserveAnalyticsBatchSize(size int) {}

// ObserveAnalyticsBatchDuration is a no-op.
func (n *NoopRecorder) ObserveAnalyticsBatchDuration(duration time.Duration) {}

// SetAnalyticsQueueDepth is a no-op.
func (n *NoopRecorder) SetAnalyticsQueueDepth(depth int64) {}

// ObserveAnalyticsIngestLag is a no-op.
func (n *NoopRecorder) ObserveAnalyticsIngestLag(lag time.Duration) {}

// IncAggregationRun is a no-op.
func (n *NoopRecorder) IncAggregationRun(status string) {}

// ObserveAggregationDuration is a no-op.
func (n *NoopRecorder) ObserveAggregationDuration(duration time.Duration) {}
