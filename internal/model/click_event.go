// Package model defines domain entities for the application.
package model

import (
	"errors"
	"time"
)

// DeviceType is the coarse device class of a visitor.
type DeviceType string

const (
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
	DeviceDesktop DeviceType = "desktop"
	DeviceBot     DeviceType = "bot"
	DeviceUnknown DeviceType = "unknown"
)

// ReferrerType is the traffic source class of a click.
type ReferrerType string

const (
	ReferrerSocial ReferrerType = "social"
	ReferrerSearch ReferrerType = "search"
	ReferrerEmail  ReferrerType = "email"
	ReferrerDirect ReferrerType = "direct"
	ReferrerOther  ReferrerType = "other"
)

// Platform is a content platform that can carry video attribution.
type Platform string

const (
	PlatformYouTube   Platform = "youtube"
	PlatformTikTok    Platform = "tiktok"
	PlatformInstagram Platform = "instagram"
	PlatformTwitter   Platform = "twitter"
	PlatformLinkedIn  Platform = "linkedin"
	PlatformNone      Platform = "none"
)

// Unknown geo values. A click whose location cannot be determined still
// carries a Geo with these values.
const (
	UnknownCountryName = "Unknown"
	GeoProviderNone    = "none"
)

// ErrDuplicateClick is returned by click stores when an event with the same
// ID was already appended.
var ErrDuplicateClick = errors.New("click event already recorded")

// UnknownValue is used for device fields that could not be determined.
const UnknownValue = "unknown"

// ClickEvent is one recorded visit to a short link. Rows are append-only:
// every derived field is computed once at ingestion and never updated.
type ClickEvent struct {
	ID         string    `json:"id"` // ULID (time-sortable)
	LinkID     string    `json:"link_id"`
	OccurredAt time.Time `json:"occurred_at"`

	// Raw request metadata
	SourceIP  string `json:"source_ip"`
	UserAgent string `json:"user_agent,omitempty"` // truncated to 500 chars
	Referer   string `json:"referer,omitempty"`    // truncated to 500 chars

	// Enrichment
	Geo      *Geo             `json:"geo"`
	Device   Device           `json:"device"`
	Referrer ReferrerClass    `json:"referrer"`
	Video    VideoAttribution `json:"video"`
	Temporal Temporal         `json:"temporal"`

	// Session identity
	SessionKey            string `json:"session_key"`
	IsFirstClickInSession bool   `json:"is_first_click_in_session"`
}

// Geo is a coarse location. Provider is "none" when nothing answered.
type Geo struct {
	CountryCode string `json:"country_code,omitempty"` // ISO 3166-1 alpha-2
	CountryName string `json:"country_name"`
	City        string `json:"city,omitempty"`
	Provider    string `json:"provider"`
}

// UnknownGeo returns the value recorded when no location could be resolved.
func UnknownGeo() *Geo {
	return &Geo{CountryName: UnknownCountryName, Provider: GeoProviderNone}
}

// IsUnknown reports whether the location was not resolved.
func (g *Geo) IsUnknown() bool {
	return g == nil || g.Provider == GeoProviderNone
}

// Device describes the visitor's user agent.
type Device struct {
	Type           DeviceType `json:"type"`
	BrowserName    string     `json:"browser_name"`
	BrowserVersion string     `json:"browser_version,omitempty"`
	OSName         string     `json:"os_name"`
	OSVersion      string     `json:"os_version,omitempty"`
	Brand          string     `json:"brand,omitempty"`
}

// ReferrerClass is the classified traffic source.
type ReferrerClass struct {
	Type   ReferrerType `json:"type"`
	Domain string       `json:"domain,omitempty"`
}

// VideoAttribution identifies the piece of content that sent the click.
// When Platform is PlatformNone every other field is nil.
type VideoAttribution struct {
	Platform         Platform `json:"platform"`
	VideoID          *string  `json:"video_id,omitempty"`
	TimestampSeconds *int     `json:"timestamp_seconds,omitempty"`
	PlaylistID       *string  `json:"playlist_id,omitempty"`
	PlaylistIndex    *int     `json:"playlist_index,omitempty"`
	SubFeature       *string  `json:"sub_feature,omitempty"`
}

// NoVideo returns the attribution used for clicks without content context.
func NoVideo() VideoAttribution {
	return VideoAttribution{Platform: PlatformNone}
}

// Temporal holds time features computed in the reporting time zone.
type Temporal struct {
	HourOfDay                int    `json:"hour_of_day"` // 0-23
	DayOfWeek                int    `json:"day_of_week"` // 0-6, Monday = 0
	IsWeekend                bool   `json:"is_weekend"`
	WeekOfYear               int    `json:"week_of_year"` // ISO 8601
	Month                    int    `json:"month"`        // 1-12
	DayPart                  string `json:"day_part"`
	IsPeakHour               bool   `json:"is_peak_hour"`
	SecondsSinceLinkCreation int64  `json:"seconds_since_link_creation"`
}
