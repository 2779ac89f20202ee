// Package model defines domain entities for the application.
package model

import (
	"errors"
	"strconv"
	"time"
)

// Link store errors.
var (
	ErrLinkNotFound    = errors.New("link not found")
	ErrShortCodeExists = errors.New("short code already exists")
)

// RedirectType represents the HTTP redirect status code.
type RedirectType int

const (
	RedirectPermanent RedirectType = 301
	RedirectTemporary RedirectType = 302
)

// IsValid checks if the redirect type is valid.
func (r RedirectType) IsValid() bool {
	return r == RedirectPermanent || r == RedirectTemporary
}

// Link is a short link owned by the link-management side of the product.
// The click pipeline only reads ID and CreatedAt.
type Link struct {
	ID           string       `json:"id"`
	ShortCode    string       `json:"short_code"`
	Destination  string       `json:"destination"`
	RedirectType RedirectType `json:"redirect_type"`
	Enabled      bool         `json:"enabled"`
	CreatedAt    time.Time    `json:"created_at"`
}

// IsActive returns true if the link can be used for redirects.
func (l *Link) IsActive() bool {
	return l.Enabled
}

// CachedLink represents link data stored in Redis cache.
// Uses string types for Redis hash compatibility.
type CachedLink struct {
	ID           string `redis:"id"`
	Destination  string `redis:"destination"`
	RedirectType string `redis:"redirect_type"`
	Enabled      string `redis:"enabled"`    // "1" or "0"
	CreatedAt    string `redis:"created_at"` // Unix milliseconds
}

// ToLink converts CachedLink to Link domain model.
func (c *CachedLink) ToLink(shortCode string) *Link {
	link := &Link{
		ID:          c.ID,
		ShortCode:   shortCode,
		Destination: c.Destination,
		Enabled:     c.Enabled == "1",
	}

	if c.RedirectType == "301" {
		link.RedirectType = RedirectPermanent
	} else {
		link.RedirectType = RedirectTemporary
	}

	if c.CreatedAt != "" {
		if ms, err := strconv.ParseInt(c.CreatedAt, 10, 64); err == nil {
			link.CreatedAt = time.UnixMilli(ms).UTC()
		}
	}

	return link
}

// ToCachedLink converts Link domain model to CachedLink.
func (l *Link) ToCachedLink() *CachedLink {
	return &CachedLink{
		ID:           l.ID,
		Destination:  l.Destination,
		RedirectType: strconv.Itoa(int(l.RedirectType)),
		Enabled:      boolToString(l.Enabled),
		CreatedAt:    strconv.FormatInt(l.CreatedAt.UnixMilli(), 10),
	}
}

// boolToString converts boolean to "1" or "0".
func boolToString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
