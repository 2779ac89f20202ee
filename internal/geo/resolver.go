package geo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"

	"github.com/clicklens/clicklens/internal/metrics"
	"github.com/clicklens/clicklens/internal/model"
)

// ErrNoProviders is returned by NewResolver when the chain is empty.
var ErrNoProviders = errors.New("no geolocation providers configured")

// Lookup outcomes reported to metrics.
const (
	OutcomeSuccess     = "success"
	OutcomeError       = "error"
	OutcomeRateLimited = "rate_limited"
	OutcomeCircuitOpen = "circuit_open"
	OutcomeSkipped     = "skipped"
)

// Config bounds the provider chain.
type Config struct {
	// ProviderTimeout bounds a single provider call.
	ProviderTimeout time.Duration
	// TotalBudget bounds the whole chain walk for one IP.
	TotalBudget time.Duration
	// BreakerFailures is the number of consecutive failures that opens a
	// provider's circuit.
	BreakerFailures uint32
	// BreakerCooldown is how long an open circuit rejects calls before a
	// single probe is let through.
	BreakerCooldown time.Duration
}

// DefaultConfig returns the defaults used when a field is zero.
func DefaultConfig() Config {
	return Config{
		ProviderTimeout: 2 * time.Second,
		TotalBudget:     3 * time.Second,
		BreakerFailures: 5,
		BreakerCooldown: time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = d.ProviderTimeout
	}
	if c.TotalBudget <= 0 {
		c.TotalBudget = d.TotalBudget
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = d.BreakerFailures
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = d.BreakerCooldown
	}
	return c
}

type guardedProvider struct {
	provider Provider
	breaker  *gobreaker.CircuitBreaker[Location]
}

// Resolver walks an ordered provider chain for public IPs and caches
// successful answers.
type Resolver struct {
	providers []guardedProvider
	cache     Cache
	group     singleflight.Group
	cfg       Config
	logger    *slog.Logger
	metrics   metrics.Recorder
}

// NewResolver creates a Resolver. Providers are tried in the given order.
func NewResolver(providers []Provider, cache Cache, cfg Config, logger *slog.Logger, recorder metrics.Recorder) (*Resolver, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	if cache == nil {
		return nil, errors.New("geo cache is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	cfg = cfg.withDefaults()

	r := &Resolver{
		cache:   cache,
		cfg:     cfg,
		logger:  logger.With("component", "geo.resolver"),
		metrics: recorder,
	}

	for _, p := range providers {
		name := p.Name()
		settings := gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     cfg.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.BreakerFailures
			},
			IsSuccessful: func(err error) bool {
				// Throttling and "no data" answers say nothing about provider health.
				return err == nil || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrEmptyResult)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				r.logger.Warn("geolocation provider circuit changed",
					"provider", name,
					"from", from.String(),
					"to", to.String(),
				)
			},
		}
		r.providers = append(r.providers, guardedProvider{
			provider: p,
			breaker:  gobreaker.NewCircuitBreaker[Location](settings),
		})
	}

	return r, nil
}

// Resolve returns the location for rawIP. It never fails: non-public or
// unparseable addresses and exhausted chains yield model.UnknownGeo.
// The caller waits at most until ctx is done or the total budget elapses.
func (r *Resolver) Resolve(ctx context.Context, rawIP string) *model.Geo {
	addr, ok := NormalizeIP(rawIP)
	if !ok || !IsPublic(addr) {
		r.metrics.IncGeoLookup(model.GeoProviderNone, OutcomeSkipped)
		return model.UnknownGeo()
	}
	ip := addr.String()

	if geo, ok := r.cache.Get(ip); ok {
		r.metrics.IncGeoCacheHit()
		return &geo
	}
	r.metrics.IncGeoCacheMiss()

	// The chain walk is detached from the caller so a shared lookup is not
	// cancelled by whichever request happened to start it.
	ch := r.group.DoChan(ip, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.TotalBudget)
		defer cancel()
		return r.lookup(lookupCtx, ip)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return model.UnknownGeo()
		}
		geo := res.Val.(model.Geo)
		return &geo
	case <-ctx.Done():
		r.logger.Debug("geolocation abandoned by caller", "ip", ip, "error", ctx.Err())
		return model.UnknownGeo()
	}
}

// lookup tries each provider in order and caches the first success.
func (r *Resolver) lookup(ctx context.Context, ip string) (model.Geo, error) {
	var errs []error

	for _, gp := range r.providers {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		name := gp.provider.Name()
		loc, err := gp.breaker.Execute(func() (Location, error) {
			callCtx, cancel := context.WithTimeout(ctx, r.cfg.ProviderTimeout)
			defer cancel()
			return gp.provider.Lookup(callCtx, ip)
		})
		if err != nil {
			r.metrics.IncGeoLookup(name, outcomeOf(err))
			r.logger.Debug("geolocation provider failed", "provider", name, "ip", ip, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}

		r.metrics.IncGeoLookup(name, OutcomeSuccess)
		geo := model.Geo{
			CountryCode: loc.CountryCode,
			CountryName: loc.CountryName,
			City:        loc.City,
			Provider:    name,
		}
		if geo.CountryName == "" {
			geo.CountryName = CountryName(geo.CountryCode)
		}
		r.cache.Add(ip, geo)
		return geo, nil
	}

	r.logger.Warn("all geolocation providers failed",
		"ip", ip,
		"error", errors.Join(errs...),
	)
	return model.Geo{}, ErrLookupFailed
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return OutcomeCircuitOpen
	case errors.Is(err, ErrRateLimited):
		return OutcomeRateLimited
	default:
		return OutcomeError
	}
}

// Providers returns the configured provider names in chain order.
func (r *Resolver) Providers() []string {
	names := make([]string, len(r.providers))
	for i, gp := range r.providers {
		names[i] = gp.provider.Name()
	}
	return names
}
