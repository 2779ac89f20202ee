package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clicklens"

// PrometheusRecorder exports metrics through a dedicated Prometheus registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	redirectCache    *prometheus.CounterVec
	redirectDuration prometheus.Histogram

	clicksTracked *prometheus.CounterVec
	trackDuration prometheus.Histogram
	geoLookups    *prometheus.CounterVec
	geoCache      *prometheus.CounterVec

	eventsPublished *prometheus.CounterVec
	eventsProcessed *prometheus.CounterVec
	batchSize       prometheus.Histogram
	batchDuration   prometheus.Histogram
	queueDepth      prometheus.Gauge
	ingestLag       prometheus.Histogram

	aggregationRuns     *prometheus.CounterVec
	aggregationDuration prometheus.Histogram
}

// NewPrometheus registers all collectors on a fresh registry.
func NewPrometheus() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &PrometheusRecorder{
		registry: reg,
		redirectCache: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redirect_cache_requests_total",
			Help:      "Redirect link cache lookups by result",
		}, []string{"result"}),
		redirectDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "redirect_duration_seconds",
			Help:      "Redirect handler latency in seconds",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		clicksTracked: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clicks_tracked_total",
			Help:      "Click tracking outcomes",
		}, []string{"status"}),
		trackDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "track_duration_seconds",
			Help:      "Time spent enriching and persisting a click",
			Buckets:   prometheus.DefBuckets,
		}),
		geoLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geo_lookups_total",
			Help:      "Geolocation provider calls by provider and outcome",
		}, []string{"provider", "outcome"}),
		geoCache: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geo_cache_requests_total",
			Help:      "Geolocation cache lookups by result",
		}, []string{"result"}),
		eventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analytics_events_published_total",
			Help:      "Click hits published to the stream",
		}, []string{"status"}),
		eventsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analytics_events_processed_total",
			Help:      "Click hits consumed from the stream",
		}, []string{"status"}),
		batchSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analytics_batch_size",
			Help:      "Messages per consumed batch",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250},
		}),
		batchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analytics_batch_duration_seconds",
			Help:      "Time spent processing a consumed batch",
			Buckets:   prometheus.DefBuckets,
		}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "analytics_queue_depth",
			Help:      "Pending messages in the consumer group",
		}),
		ingestLag: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analytics_ingest_lag_seconds",
			Help:      "Delay between click time and persistence",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60},
		}),
		aggregationRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregation_runs_total",
			Help:      "Rollup refresh runs by status",
		}, []string{"status"}),
		aggregationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "aggregation_duration_seconds",
			Help:      "Rollup refresh duration in seconds",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 120},
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *PrometheusRecorder) IncRedirectCacheHit() {
	p.redirectCache.WithLabelValues("hit").Inc()
}

func (p *PrometheusRecorder) IncRedirectCacheMiss() {
	p.redirectCache.WithLabelValues("miss").Inc()
}

func (p *PrometheusRecorder) ObserveRedirectDuration(duration time.Duration) {
	p.redirectDuration.Observe(duration.Seconds())
}

func (p *PrometheusRecorder) IncClickTracked(status string) {
	p.clicksTracked.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) ObserveTrackDuration(duration time.Duration) {
	p.trackDuration.Observe(duration.Seconds())
}

func (p *PrometheusRecorder) IncGeoLookup(provider, outcome string) {
	p.geoLookups.WithLabelValues(provider, outcome).Inc()
}

func (p *PrometheusRecorder) IncGeoCacheHit() {
	p.geoCache.WithLabelValues("hit").Inc()
}

func (p *PrometheusRecorder) IncGeoCacheMiss() {
	p.geoCache.WithLabelValues("miss").Inc()
}

func (p *PrometheusRecorder) IncAnalyticsEventPublished(status string) {
	p.eventsPublished.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) IncAnalyticsEventProcessed(status string) {
	p.eventsProcessed.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) ObserveAnalyticsBatchSize(size int) {
	p.batchSize.Observe(float64(size))
}

func (p *PrometheusRecorder) ObserveAnalyticsBatchDuration(duration time.Duration) {
	p.batchDuration.Observe(duration.Seconds())
}

func (p *PrometheusRecorder) SetAnalyticsQueueDepth(depth int64) {
	p.queueDepth.Set(float64(depth))
}

func (p *PrometheusRecorder) ObserveAnalyticsIngestLag(lag time.Duration) {
	p.ingestLag.Observe(lag.Seconds())
}

func (p *PrometheusRecorder) IncAggregationRun(status string) {
	p.aggregationRuns.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) ObserveAggregationDuration(duration time.Duration) {
	p.aggregationDuration.Observe(duration.Seconds())
}
