// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import (
	"time"

	"github.com/clicklens/clicklens/internal/model"
)

// CreateLinkRequest represents the request body for creating a link.
type CreateLinkRequest struct {
	Destination  string `json:"destination"`
	Alias        string `json:"alias,omitempty"`
	RedirectType int    `json:"redirect_type,omitempty"`
}

// LinkResponse represents a link in API responses.
type LinkResponse struct {
	ID           string    `json:"id"`
	ShortCode    string    `json:"short_code"`
	ShortURL     string    `json:"short_url"`
	Destination  string    `json:"destination"`
	RedirectType int       `json:"redirect_type"`
	Enabled      bool      `json:"enabled"`
	CreatedAt    time.Time `json:"created_at"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ToLinkResponse converts a Link model to LinkResponse DTO.
func ToLinkResponse(link *model.Link, baseURL string) *LinkResponse {
	return &LinkResponse{
		ID:           link.ID,
		ShortCode:    link.ShortCode,
		ShortURL:     baseURL + "/" + link.ShortCode,
		Destination:  link.Destination,
		RedirectType: int(link.RedirectType),
		Enabled:      link.Enabled,
		CreatedAt:    link.CreatedAt,
	}
}
