package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clicklens/clicklens/internal/analytics"
	"github.com/clicklens/clicklens/internal/geo"
	"github.com/clicklens/clicklens/internal/model"
	"github.com/clicklens/clicklens/internal/service"
)

// LinkResolver resolves short codes on the redirect path.
type LinkResolver interface {
	ResolveRedirect(ctx context.Context, shortCode string) (*model.Link, bool, error)
}

// ClickTracker records a hit without blocking the caller. Both the
// in-process analytics.Tracker and the stream analytics.Publisher satisfy it.
type ClickTracker interface {
	TrackAsync(hit analytics.Hit)
}

// RedirectHandler handles redirect requests.
type RedirectHandler struct {
	svc     LinkResolver
	tracker ClickTracker
	logger  *slog.Logger
}

// NewRedirectHandler creates a new RedirectHandler. tracker may be nil to
// disable click tracking.
func NewRedirectHandler(svc LinkResolver, tracker ClickTracker, logger *slog.Logger) *RedirectHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedirectHandler{
		svc:     svc,
		tracker: tracker,
		logger:  logger,
	}
}

// Redirect handles GET /{short_code} for URL redirection.
func (h *RedirectHandler) Redirect(w http.ResponseWriter, r *http.Request) {
	shortCode := chi.URLParam(r, "shortCode")
	if shortCode == "" {
		h.writeError(w, http.StatusNotFound, "LINK_NOT_FOUND", "Link not found")
		return
	}

	start := time.Now()

	link, cacheHit, err := h.svc.ResolveRedirect(r.Context(), shortCode)
	duration := time.Since(start)

	if err != nil {
		h.handleRedirectError(w, shortCode, err, duration)
		return
	}

	// Fire-and-forget: tracking never delays or fails the redirect.
	if h.tracker != nil {
		h.tracker.TrackAsync(analytics.Hit{
			LinkID:        link.ID,
			ShortCode:     shortCode,
			LinkCreatedAt: link.CreatedAt,
			SourceIP:      getClientIP(r),
			UserAgent:     analytics.Truncate(r.Header.Get("User-Agent")),
			Referer:       analytics.Truncate(r.Header.Get("Referer")),
			OccurredAt:    start.UTC(),
		})
	}

	h.logger.Info("redirect_success",
		"short_code", shortCode,
		"redirect_type", link.RedirectType,
		"cache_hit", cacheHit,
		"duration_ms", float64(duration.Microseconds())/1000,
	)

	// Set security headers
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("Cache-Control", "private, max-age=0")

	http.Redirect(w, r, link.Destination, int(link.RedirectType))
}

// handleRedirectError handles errors during redirect resolution.
func (h *RedirectHandler) handleRedirectError(w http.ResponseWriter, shortCode string, err error, duration time.Duration) {
	switch {
	case errors.Is(err, service.ErrLinkNotFound):
		h.logger.Info("redirect_not_found",
			"short_code", shortCode,
			"duration_ms", float64(duration.Microseconds())/1000,
		)
		h.writeError(w, http.StatusNotFound, "LINK_NOT_FOUND", "Link not found")

	case errors.Is(err, service.ErrLinkDisabled):
		h.logger.Info("redirect_disabled",
			"short_code", shortCode,
			"reason", "disabled",
			"duration_ms", float64(duration.Microseconds())/1000,
		)
		// Return 404 for disabled links (don't reveal existence)
		h.writeError(w, http.StatusNotFound, "LINK_NOT_FOUND", "Link not found")

	default:
		h.logger.Error("redirect_error",
			"short_code", shortCode,
			"error", err,
			"duration_ms", float64(duration.Microseconds())/1000,
		)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
	}
}

// writeError writes a JSON error response for redirect failures.
func (h *RedirectHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	// Set security headers even on errors
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "private, max-age=0")

	writeError(w, status, code, message)
}

// getClientIP extracts the client IP address from the request, without a
// port so the same visitor keeps the same session key across connections.
func getClientIP(r *http.Request) string {
	raw := r.RemoteAddr
	switch {
	case r.Header.Get("CF-Connecting-IP") != "":
		raw = r.Header.Get("CF-Connecting-IP")
	case r.Header.Get("X-Forwarded-For") != "":
		// NormalizeIP keeps the first hop of the chain.
		raw = r.Header.Get("X-Forwarded-For")
	case r.Header.Get("X-Real-IP") != "":
		raw = r.Header.Get("X-Real-IP")
	}

	if addr, ok := geo.NormalizeIP(raw); ok {
		return addr.String()
	}
	return strings.TrimSpace(raw)
}
