// Package main is the entrypoint for the ClickLens API server.
package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/clicklens/clicklens/internal/config"
	"github.com/clicklens/clicklens/internal/handler"
	"github.com/clicklens/clicklens/internal/metrics"
	"github.com/clicklens/clicklens/internal/middleware"
	"github.com/clicklens/clicklens/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg)

	recorder := metrics.NewPrometheus()
	a, err := newApp(ctx, cfg, logger, recorder)
	if err != nil {
		logger.Error("failed to initialize", "error", sanitizeError(err, cfg.DatabaseURL, cfg.RedisURL))
		os.Exit(1)
	}

	r := setupRouter(a, handler.NewMetricsHandler(recorder.Handler(), nil), cfg, logger)

	srv := server.New(
		r,
		cfg.AppPort,
		cfg.ReadTimeout,
		cfg.WriteTimeout,
		cfg.ShutdownTimeout,
		logger,
	)
	a.register(srv)

	logger.Info("starting server",
		"port", cfg.AppPort,
		"base_url", cfg.BaseURL,
		"env", cfg.AppEnv,
		"store_driver", cfg.StoreDriver,
		"ingest_mode", cfg.IngestMode,
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(a *app, metricsHandler *handler.MetricsHandler, cfg *config.Config, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger, "/healthz", "/readyz", "/metrics"))
	r.Use(middleware.Recoverer(logger))

	h := handler.New()
	health := handler.NewHealthHandler().
		With("store", a.pinger).
		With("redis", a.redisPinger())
	links := handler.NewLinkHandler(a.links, logger)
	queries := handler.NewAnalyticsHandler(a.rollups, a.clicks, a.engine, logger)
	redirect := handler.NewRedirectHandler(a.links, a.clickTracker, logger)

	r.Get("/", h.Index)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)
	r.Get("/metrics", metricsHandler.Metrics)

	api := func(r chi.Router) {
		r.Use(middleware.Security(cfg.IsDevelopment()))
		r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))
	}

	r.Route("/api/v1", func(r chi.Router) {
		api(r)
		r.Post("/links", links.Create)
		r.Get("/links/{id}/rollups/{name}", queries.GetRollup)
		r.Get("/links/{id}/clicks", queries.ListClicks)
	})

	r.Route("/internal", func(r chi.Router) {
		api(r)
		r.Post("/rollups/refresh", queries.Refresh)
	})

	r.Get("/{shortCode}", redirect.Redirect)

	// 404 and 405 handlers
	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.MethodNotAllowed)

	return r
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
