package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/clicklens/clicklens/internal/aggregate"
	"github.com/clicklens/clicklens/internal/analytics"
	"github.com/clicklens/clicklens/internal/cache"
	"github.com/clicklens/clicklens/internal/config"
	"github.com/clicklens/clicklens/internal/geo"
	"github.com/clicklens/clicklens/internal/handler"
	"github.com/clicklens/clicklens/internal/memstore"
	"github.com/clicklens/clicklens/internal/metrics"
	"github.com/clicklens/clicklens/internal/repository"
	"github.com/clicklens/clicklens/internal/server"
	"github.com/clicklens/clicklens/internal/service"
	"github.com/clicklens/clicklens/internal/session"
	"github.com/clicklens/clicklens/internal/temporal"
)

// app holds the wired pipeline for one process.
type app struct {
	links        *service.LinkService
	rollups      handler.RollupReader
	clicks       handler.ClickReader
	engine       *aggregate.Engine
	tracker      *analytics.Tracker
	clickTracker handler.ClickTracker
	publisher    *analytics.Publisher
	worker       *analytics.Worker
	scheduler    *aggregate.Scheduler
	pinger       handler.HealthChecker
	cache        *cache.Cache
	closers      []func()
}

// newApp connects the configured stores and builds the ingestion and
// aggregation pipeline.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, recorder metrics.Recorder) (*app, error) {
	a := &app{}

	var (
		linkStore   service.LinkStore
		linkCache   service.LinkCache
		writer      analytics.ClickWriter
		history     session.History
		source      aggregate.ClickSource
		rollupStore aggregate.RollupStore
		dlq         analytics.DeadLetter
	)

	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		store := memstore.New()
		linkStore, writer, history, source, rollupStore = store, store, store, store, store
		a.rollups, a.clicks, a.pinger = store, store, store
		logger.Warn("using in-memory store, clicks are lost on restart")

	case config.StoreDriverPostgres:
		repo, err := repository.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to database %s: %w", redactURL(cfg.DatabaseURL), err)
		}
		a.closers = append(a.closers, repo.Close)
		logger.Info("connected to database")

		clickRepo := repository.NewClickEventRepository(repo)
		rollupRepo := repository.NewRollupRepository(repo)
		linkStore, writer, history, source, rollupStore = repo, clickRepo, clickRepo, clickRepo, rollupRepo
		a.rollups, a.clicks, a.pinger = rollupRepo, clickRepo, repo

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	if cfg.UsesRedis() {
		cacheClient, err := cache.New(ctx, cfg.RedisURL)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("connect to Redis %s: %w", redactURL(cfg.RedisURL), err)
		}
		a.cache = cacheClient
		a.closers = append(a.closers, func() { _ = cacheClient.Close() })
		linkCache = cacheClient
		dlq = analytics.NewRedisDeadLetter(cacheClient.Client())
		logger.Info("connected to Redis")
	}

	resolver, err := newGeoResolver(cfg, logger, recorder)
	if err != nil {
		a.close()
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		a.close()
		return nil, err
	}

	a.links = service.NewLinkService(linkStore, linkCache, cfg.BaseURL, logger, recorder)
	a.tracker = analytics.NewTracker(
		resolver,
		session.NewGenerator(cfg.SessionBucketWidth, history),
		temporal.NewExtractor(loc),
		writer,
		dlq,
		logger,
		recorder,
		analytics.TrackerConfig{Budget: cfg.TrackBudget},
	)
	a.clickTracker = a.tracker

	if cfg.IngestMode == config.IngestModeStream {
		a.publisher = analytics.NewPublisher(a.cache.Client(), logger, recorder)
		a.clickTracker = a.publisher
		if cfg.AnalyticsWorkerEnabled {
			a.worker = analytics.NewWorker(a.cache.Client(), a.tracker, logger, analytics.NewConsumerID(), recorder)
			a.worker.SetBatchSize(cfg.WorkerBatchSize)
			a.worker.SetConcurrency(cfg.WorkerConcurrency)
			a.worker.SetClaimInterval(cfg.WorkerClaimInterval)
			a.worker.SetClaimIdle(cfg.WorkerClaimIdle)
		}
	}

	a.engine = aggregate.NewEngine(source, rollupStore, logger, recorder)
	a.engine.SetLocation(loc)
	if cfg.AggregationEnabled {
		a.scheduler, err = aggregate.NewScheduler(a.engine, cfg.AggregationSchedule, cfg.AggregationTimeout, logger)
		if err != nil {
			a.close()
			return nil, err
		}
	}

	return a, nil
}

// newGeoResolver builds the provider chain in configured order behind a
// bounded LRU cache.
func newGeoResolver(cfg *config.Config, logger *slog.Logger, recorder metrics.Recorder) (*geo.Resolver, error) {
	client := &http.Client{Timeout: cfg.GeoProviderTimeout}

	providers := make([]geo.Provider, 0, len(cfg.GeoProviders))
	for _, name := range cfg.GeoProviders {
		opts := geo.ProviderOptions{Client: client}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case geo.ProviderIPInfo:
			opts.Token = cfg.GeoIPInfoToken
		case geo.ProviderIPAPICom:
			opts.RequestsPerMinute = cfg.GeoIPAPIComRPM
		}
		p, err := geo.NewProvider(name, opts)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}

	geoCache, err := geo.NewLRUCache(cfg.GeoCacheSize)
	if err != nil {
		return nil, fmt.Errorf("geo cache: %w", err)
	}

	return geo.NewResolver(providers, geoCache, geo.Config{
		ProviderTimeout: cfg.GeoProviderTimeout,
		TotalBudget:     cfg.GeoTotalBudget,
		BreakerFailures: cfg.GeoBreakerFailures,
		BreakerCooldown: cfg.GeoBreakerCooldown,
	}, logger, recorder)
}

// redisPinger returns the Redis readiness check, or nil when Redis is not
// in use.
func (a *app) redisPinger() handler.HealthChecker {
	if a.cache == nil {
		return nil
	}
	return a.cache
}

// register attaches background services and shutdown hooks to srv. Hooks
// run last-registered first: producers drain before the stores close.
func (a *app) register(srv *server.Server) {
	srv.OnShutdown("stores", func(ctx context.Context) error {
		a.close()
		return nil
	})
	srv.OnShutdown("click tracker", a.tracker.Shutdown)

	if a.worker != nil {
		srv.Go("analytics worker", a.worker.Run)
		srv.OnShutdown("analytics worker", a.worker.Shutdown)
	}
	if a.publisher != nil {
		srv.OnShutdown("click publisher", a.publisher.Shutdown)
	}
	if a.scheduler != nil {
		srv.Go("aggregation scheduler", func(ctx context.Context) error {
			a.scheduler.Start()
			<-ctx.Done()
			return nil
		})
		srv.OnShutdown("aggregation scheduler", a.scheduler.Shutdown)
	}
}

// close releases store connections in reverse order of opening.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
