// Package service provides business logic for the application.
package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/clicklens/clicklens/internal/cache"
	"github.com/clicklens/clicklens/internal/metrics"
	"github.com/clicklens/clicklens/internal/model"
)

// Service errors.
var (
	ErrInvalidDestination  = errors.New("invalid destination URL")
	ErrInvalidAlias        = errors.New("invalid alias format")
	ErrAliasExists         = errors.New("alias already exists")
	ErrLinkNotFound        = errors.New("link not found")
	ErrLinkDisabled        = errors.New("link is disabled")
	ErrInvalidRedirectType = errors.New("invalid redirect type")
	ErrURLTooLong          = errors.New("destination URL too long")
)

// Alias validation regex: 3-50 chars, alphanumeric + hyphen.
var aliasRegex = regexp.MustCompile(`^[a-zA-Z0-9-]{3,50}$`)

const (
	maxDestinationLength = 2048
	aliasLength          = 7
	aliasAlphabet        = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	maxAliasRetries      = 3
)

// LinkStore is the authoritative link storage.
type LinkStore interface {
	CreateLink(ctx context.Context, link *model.Link) error
	GetLinkByShortCode(ctx context.Context, shortCode string) (*model.Link, error)
}

// LinkCache sits in front of LinkStore on the redirect path.
type LinkCache interface {
	GetLink(ctx context.Context, shortCode string) (*model.Link, error)
	SetLink(ctx context.Context, link *model.Link) error
	IsNegativelyCached(ctx context.Context, shortCode string) (bool, error)
	SetNegativeCache(ctx context.Context, shortCode string) error
	DeleteLink(ctx context.Context, shortCode string) error
}

// LinkService handles link business logic.
type LinkService struct {
	store   LinkStore
	cache   LinkCache
	baseURL string
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewLinkService creates a new LinkService. cache may be nil, in which case
// every redirect reads the store.
func NewLinkService(store LinkStore, cache LinkCache, baseURL string, logger *slog.Logger, recorder metrics.Recorder) *LinkService {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &LinkService{
		store:   store,
		cache:   cache,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger.With("component", "service.link"),
		metrics: recorder,
	}
}

// CreateLinkInput defines input for creating a link.
type CreateLinkInput struct {
	Destination  string
	Alias        string
	RedirectType int
}

// CreateLink creates a new short link.
func (s *LinkService) CreateLink(ctx context.Context, input CreateLinkInput) (*model.Link, error) {
	if err := s.validateDestination(input.Destination); err != nil {
		return nil, err
	}

	redirectType := model.RedirectTemporary // Default 302
	if input.RedirectType != 0 {
		redirectType = model.RedirectType(input.RedirectType)
		if !redirectType.IsValid() {
			return nil, ErrInvalidRedirectType
		}
	}

	alias := input.Alias
	if alias != "" {
		if !aliasRegex.MatchString(alias) {
			return nil, ErrInvalidAlias
		}
	} else {
		var err error
		alias, err = s.generateUniqueAlias(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to generate alias: %w", err)
		}
	}

	now := time.Now().UTC()
	link := &model.Link{
		ID:           ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		ShortCode:    alias,
		Destination:  input.Destination,
		RedirectType: redirectType,
		Enabled:      true,
		CreatedAt:    now.Truncate(time.Millisecond),
	}

	if err := s.store.CreateLink(ctx, link); err != nil {
		if errors.Is(err, model.ErrShortCodeExists) {
			return nil, ErrAliasExists
		}
		return nil, fmt.Errorf("failed to create link: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.DeleteLink(ctx, alias); err != nil {
			s.logger.Warn("failed to clear link cache", "short_code", alias, "error", err)
		}
	}

	return link, nil
}

// ResolveRedirect resolves a short code to its link for redirect.
// This is the hot path - cache first, then the store.
func (s *LinkService) ResolveRedirect(ctx context.Context, shortCode string) (*model.Link, bool, error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveRedirectDuration(time.Since(start))
	}()

	if s.cache != nil {
		link, err := s.cache.GetLink(ctx, shortCode)
		if err == nil {
			s.metrics.IncRedirectCacheHit()
			validated, err := validateRedirectLink(link)
			return validated, true, err
		}

		if !errors.Is(err, cache.ErrCacheMiss) {
			// Redis error - fall through to the store
			s.logger.Warn("link cache unavailable", "short_code", shortCode, "error", err)
		} else {
			s.metrics.IncRedirectCacheMiss()
			if negative, _ := s.cache.IsNegativelyCached(ctx, shortCode); negative {
				return nil, false, ErrLinkNotFound
			}
		}
	}

	link, err := s.store.GetLinkByShortCode(ctx, shortCode)
	if err != nil {
		if errors.Is(err, model.ErrLinkNotFound) {
			if s.cache != nil {
				_ = s.cache.SetNegativeCache(ctx, shortCode)
			}
			return nil, false, ErrLinkNotFound
		}
		return nil, false, err
	}

	if s.cache != nil {
		if err := s.cache.SetLink(ctx, link); err != nil {
			s.logger.Warn("failed to backfill link cache", "short_code", shortCode, "error", err)
		}
	}

	validated, err := validateRedirectLink(link)
	return validated, false, err
}

// BaseURL returns the configured base URL.
func (s *LinkService) BaseURL() string {
	return s.baseURL
}

func validateRedirectLink(link *model.Link) (*model.Link, error) {
	if !link.IsActive() {
		return nil, ErrLinkDisabled
	}
	return link, nil
}

// validateDestination validates a destination URL.
func (s *LinkService) validateDestination(dest string) error {
	if dest == "" {
		return ErrInvalidDestination
	}

	if len(dest) > maxDestinationLength {
		return ErrURLTooLong
	}

	parsed, err := url.Parse(dest)
	if err != nil {
		return ErrInvalidDestination
	}

	// Only allow http and https schemes
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ErrInvalidDestination
	}

	if parsed.Host == "" {
		return ErrInvalidDestination
	}

	return nil
}

// generateUniqueAlias generates an alias that is not taken yet.
func (s *LinkService) generateUniqueAlias(ctx context.Context) (string, error) {
	for i := 0; i < maxAliasRetries; i++ {
		alias := generateRandomAlias()
		_, err := s.store.GetLinkByShortCode(ctx, alias)
		if errors.Is(err, model.ErrLinkNotFound) {
			return alias, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", errors.New("failed to generate unique alias after retries")
}

// generateRandomAlias generates a random alias using crypto/rand.
func generateRandomAlias() string {
	b := make([]byte, aliasLength)
	for i := range b {
		idx, err := cryptoRandInt(len(aliasAlphabet))
		if err != nil {
			idx = 0
		}
		b[i] = aliasAlphabet[idx]
	}
	return string(b)
}

// cryptoRandInt returns a cryptographically secure random integer in [0, max).
func cryptoRandInt(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}
