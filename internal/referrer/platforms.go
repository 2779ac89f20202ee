package referrer

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/clicklens/clicklens/internal/model"
)

var (
	tiktokVideoPattern   = regexp.MustCompile(`^/@[^/]+/video/(\d+)`)
	tiktokEmbedPattern   = regexp.MustCompile(`^/(?:v|embed|embed/v2)/(\d+)`)
	tiktokShortPattern   = regexp.MustCompile(`^/(?:t/)?([A-Za-z0-9]+)/?$`)
	instagramPostPattern = regexp.MustCompile(`/(?:reels?|p|tv)/([A-Za-z0-9_-]+)`)
	twitterStatusPattern = regexp.MustCompile(`/status(?:es)?/(\d+)`)
	linkedinURNPattern   = regexp.MustCompile(`urn:li:(?:activity|share|ugcPost):(\d+)`)
	linkedinPostPattern  = regexp.MustCompile(`^/posts/.*activity-(\d+)`)
)

// parseTikTok handles /@user/video/<id>, /v/<id> and the vm./vt. share links,
// whose short code stands in for the numeric id.
func parseTikTok(host string, u *url.URL) model.VideoAttribution {
	var attr model.VideoAttribution

	if m := tiktokVideoPattern.FindStringSubmatch(u.Path); m != nil {
		attr.VideoID = stringPtr(m[1])
		return attr
	}
	if m := tiktokEmbedPattern.FindStringSubmatch(u.Path); m != nil {
		attr.VideoID = stringPtr(m[1])
		return attr
	}

	short := host == "vm.tiktok.com" || host == "vt.tiktok.com"
	if short || strings.HasPrefix(u.Path, "/t/") {
		if m := tiktokShortPattern.FindStringSubmatch(u.Path); m != nil {
			attr.VideoID = stringPtr(m[1])
		}
	}
	return attr
}

func parseInstagram(_ string, u *url.URL) model.VideoAttribution {
	var attr model.VideoAttribution
	if m := instagramPostPattern.FindStringSubmatch(u.Path); m != nil {
		attr.VideoID = stringPtr(m[1])
	}
	return attr
}

// parseTwitter handles /<user>/status/<id> and /i/web/status/<id>. t.co
// links carry no status id.
func parseTwitter(_ string, u *url.URL) model.VideoAttribution {
	var attr model.VideoAttribution
	if m := twitterStatusPattern.FindStringSubmatch(u.Path); m != nil {
		attr.VideoID = stringPtr(m[1])
	}
	return attr
}

func parseLinkedIn(_ string, u *url.URL) model.VideoAttribution {
	var attr model.VideoAttribution
	if m := linkedinURNPattern.FindStringSubmatch(u.Path); m != nil {
		attr.VideoID = stringPtr(m[1])
		return attr
	}
	if m := linkedinPostPattern.FindStringSubmatch(u.Path); m != nil {
		attr.VideoID = stringPtr(m[1])
	}
	return attr
}

// ContentURL rebuilds a canonical URL for an attributed piece of content.
// It returns "" when the platform has no stable URL form for the id.
func ContentURL(platform model.Platform, id string) string {
	if id == "" {
		return ""
	}
	switch platform {
	case model.PlatformYouTube:
		return "https://www.youtube.com/watch?v=" + url.QueryEscape(id)
	case model.PlatformTikTok:
		if isDigits(id) {
			return "https://www.tiktok.com/embed/v2/" + id
		}
		return "https://vm.tiktok.com/" + id + "/"
	case model.PlatformInstagram:
		return "https://www.instagram.com/p/" + id + "/"
	case model.PlatformTwitter:
		return "https://x.com/i/status/" + id
	case model.PlatformLinkedIn:
		return "https://www.linkedin.com/feed/update/urn:li:activity:" + id + "/"
	default:
		return ""
	}
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
