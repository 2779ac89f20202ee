package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/clicklens/clicklens/internal/handler/dto"
	"github.com/clicklens/clicklens/internal/service"
)

// LinkHandler handles HTTP requests for link operations.
type LinkHandler struct {
	svc    *service.LinkService
	logger *slog.Logger
}

// NewLinkHandler creates a new LinkHandler.
func NewLinkHandler(svc *service.LinkService, logger *slog.Logger) *LinkHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LinkHandler{
		svc:    svc,
		logger: logger,
	}
}

// Create handles POST /api/v1/links.
func (h *LinkHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	link, err := h.svc.CreateLink(r.Context(), service.CreateLinkInput{
		Destination:  req.Destination,
		Alias:        req.Alias,
		RedirectType: req.RedirectType,
	})
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.logger.Info("link_created",
		"link_id", link.ID,
		"short_code", link.ShortCode,
		"has_custom_alias", req.Alias != "",
	)

	writeJSON(w, http.StatusCreated, dto.ToLinkResponse(link, h.svc.BaseURL()))
}

// handleServiceError maps service errors to HTTP responses.
func (h *LinkHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidDestination):
		writeError(w, http.StatusBadRequest, "INVALID_DESTINATION", "Destination must be a valid http(s) URL")
	case errors.Is(err, service.ErrURLTooLong):
		writeError(w, http.StatusBadRequest, "URL_TOO_LONG", "Destination URL is too long")
	case errors.Is(err, service.ErrInvalidAlias):
		writeError(w, http.StatusBadRequest, "INVALID_ALIAS", "Alias must be 3-50 letters, digits or hyphens")
	case errors.Is(err, service.ErrInvalidRedirectType):
		writeError(w, http.StatusBadRequest, "INVALID_REDIRECT_TYPE", "Redirect type must be 301 or 302")
	case errors.Is(err, service.ErrAliasExists):
		writeError(w, http.StatusConflict, "ALIAS_EXISTS", "Alias already exists")
	default:
		h.logger.Error("link service error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
	}
}
