// Package session derives visitor session identity from (ip, user agent,
// time bucket) without any server-side session table.
package session

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
)

// DefaultBucketWidth is the session window used when none is configured.
const DefaultBucketWidth = 30 * time.Minute

// KeyLength is the length of a session key in hex characters.
const KeyLength = 32

// History answers whether a session key already appears in the click log.
type History interface {
	SessionSeen(ctx context.Context, key string) (bool, error)
}

// Identity is the session a click belongs to.
type Identity struct {
	Key         string
	BucketStart time.Time
	IsFirst     bool
}

// Generator computes session keys over fixed-width UTC buckets.
type Generator struct {
	width   time.Duration
	history History
}

// NewGenerator creates a Generator. A non-positive width falls back to
// DefaultBucketWidth.
func NewGenerator(width time.Duration, history History) *Generator {
	if width <= 0 {
		width = DefaultBucketWidth
	}
	return &Generator{width: width, history: history}
}

// Width returns the bucket width.
func (g *Generator) Width() time.Duration {
	return g.width
}

// Bucket returns the start of the bucket containing t.
func (g *Generator) Bucket(t time.Time) time.Time {
	return t.UTC().Truncate(g.width)
}

// Key returns the session key for (ip, userAgent) at time t. Fields are
// length-prefixed so that ("1.2.3.4", "5x") and ("1.2.3.45", "x") differ.
func (g *Generator) Key(ip, userAgent string, t time.Time) string {
	buf := make([]byte, 0, len(ip)+len(userAgent)+2*binary.MaxVarintLen64+8)
	buf = binary.AppendUvarint(buf, uint64(len(ip)))
	buf = append(buf, ip...)
	buf = binary.AppendUvarint(buf, uint64(len(userAgent)))
	buf = append(buf, userAgent...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(g.Bucket(t).Unix()))

	sum := blake2b.Sum256(buf)
	return hex.EncodeToString(sum[:KeyLength/2])
}

// Identify computes the session key and asks the click log whether any
// click with that key was already recorded.
func (g *Generator) Identify(ctx context.Context, ip, userAgent string, t time.Time) (Identity, error) {
	id := Identity{
		Key:         g.Key(ip, userAgent, t),
		BucketStart: g.Bucket(t),
	}
	if g.history == nil {
		id.IsFirst = true
		return id, nil
	}

	seen, err := g.history.SessionSeen(ctx, id.Key)
	if err != nil {
		return id, fmt.Errorf("session lookup: %w", err)
	}
	id.IsFirst = !seen
	return id, nil
}
