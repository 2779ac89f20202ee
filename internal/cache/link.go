package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clicklens/clicklens/internal/model"
)

// Cache key prefixes and TTLs.
const (
	linkKeyPrefix     = "link:"
	negCacheKeySuffix = ":neg"

	// DefaultLinkTTL is the TTL for cached link data.
	DefaultLinkTTL = 24 * time.Hour

	// NegativeCacheTTL is the TTL for negative cache entries.
	NegativeCacheTTL = 5 * time.Minute
)

// Common cache errors.
var (
	ErrCacheMiss = errors.New("cache miss")
)

// GetLink retrieves a link from cache by short code.
// Returns ErrCacheMiss if not found.
func (c *Cache) GetLink(ctx context.Context, shortCode string) (*model.Link, error) {
	key := linkKeyPrefix + shortCode

	result, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}

	cached, ok := cachedLinkFromHash(result)
	if !ok {
		return nil, ErrCacheMiss
	}

	return cached.ToLink(shortCode), nil
}

// SetLink stores a link in cache.
func (c *Cache) SetLink(ctx context.Context, link *model.Link) error {
	key := linkKeyPrefix + link.ShortCode
	cached := link.ToCachedLink()

	fields := map[string]any{
		"id":            cached.ID,
		"destination":   cached.Destination,
		"redirect_type": cached.RedirectType,
		"enabled":       cached.Enabled,
		"created_at":    cached.CreatedAt,
	}

	pipe := c.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, DefaultLinkTTL)
	// Remove negative cache if exists
	pipe.Del(ctx, key+negCacheKeySuffix)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache link: %w", err)
	}

	return nil
}

// DeleteLink removes a link from cache.
func (c *Cache) DeleteLink(ctx context.Context, shortCode string) error {
	key := linkKeyPrefix + shortCode

	pipe := c.client.Pipeline()
	pipe.Del(ctx, key)
	pipe.Del(ctx, key+negCacheKeySuffix)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete link from cache: %w", err)
	}

	return nil
}

// IsNegativelyCached checks if a short code is in negative cache.
func (c *Cache) IsNegativelyCached(ctx context.Context, shortCode string) (bool, error) {
	key := linkKeyPrefix + shortCode + negCacheKeySuffix

	exists, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check negative cache: %w", err)
	}

	return exists > 0, nil
}

// SetNegativeCache marks a short code as not found.
func (c *Cache) SetNegativeCache(ctx context.Context, shortCode string) error {
	key := linkKeyPrefix + shortCode + negCacheKeySuffix

	err := c.client.SetEx(ctx, key, "", NegativeCacheTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to set negative cache: %w", err)
	}

	return nil
}

// cachedLinkFromHash maps an HGETALL reply. Entries written before the id
// field existed are treated as misses so the store refills them.
func cachedLinkFromHash(fields map[string]string) (*model.CachedLink, bool) {
	if len(fields) == 0 || fields["id"] == "" || fields["destination"] == "" {
		return nil, false
	}
	return &model.CachedLink{
		ID:           fields["id"],
		Destination:  fields["destination"],
		RedirectType: fields["redirect_type"],
		Enabled:      fields["enabled"],
		CreatedAt:    fields["created_at"],
	}, true
}
