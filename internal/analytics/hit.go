package analytics

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MaxMetaLength bounds the user agent and referer stored with a click.
const MaxMetaLength = 500

// Hit is the raw request metadata captured by the redirect handler for one
// successful short-code resolution.
type Hit struct {
	// EventID is an optional idempotency key. Hits replayed from the stream
	// carry the stream entry ID so redelivery never records a click twice.
	EventID string

	LinkID        string
	ShortCode     string
	LinkCreatedAt time.Time
	SourceIP      string
	UserAgent     string
	Referer       string
	OccurredAt    time.Time
}

// HitPayload is the compact wire format of a Hit on the Redis stream.
type HitPayload struct {
	LinkID        string `json:"lid"`          // link_id
	ShortCode     string `json:"sc"`           // short_code
	LinkCreatedAt int64  `json:"lc"`           // link created_at, Unix milliseconds
	SourceIP      string `json:"ip"`           // client IP
	UserAgent     string `json:"ua,omitempty"` // user_agent (truncated)
	Referer       string `json:"r,omitempty"`  // referer (truncated)
	OccurredAt    int64  `json:"t"`            // Unix milliseconds
}

// NewHitPayload converts a Hit to its stream representation.
func NewHitPayload(hit Hit) HitPayload {
	p := HitPayload{
		LinkID:     hit.LinkID,
		ShortCode:  hit.ShortCode,
		SourceIP:   hit.SourceIP,
		UserAgent:  Truncate(hit.UserAgent),
		Referer:    Truncate(hit.Referer),
		OccurredAt: hit.OccurredAt.UnixMilli(),
	}
	if !hit.LinkCreatedAt.IsZero() {
		p.LinkCreatedAt = hit.LinkCreatedAt.UnixMilli()
	}
	return p
}

// Hit converts the payload back to a Hit. The stream entry ID becomes the
// idempotency key.
func (p HitPayload) Hit(eventID string) Hit {
	hit := Hit{
		EventID:    eventID,
		LinkID:     p.LinkID,
		ShortCode:  p.ShortCode,
		SourceIP:   p.SourceIP,
		UserAgent:  p.UserAgent,
		Referer:    p.Referer,
		OccurredAt: time.UnixMilli(p.OccurredAt).UTC(),
	}
	if p.LinkCreatedAt > 0 {
		hit.LinkCreatedAt = time.UnixMilli(p.LinkCreatedAt).UTC()
	}
	return hit
}

// Truncate makes s safe to store: invalid UTF-8 becomes U+FFFD, NUL bytes
// are dropped, surrounding whitespace is trimmed and the result is cut to
// MaxMetaLength bytes without splitting a UTF-8 sequence. Postgres rejects
// text columns holding either of the first two.
func Truncate(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.TrimSpace(s)
	if len(s) <= MaxMetaLength {
		return s
	}
	cut := MaxMetaLength
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
