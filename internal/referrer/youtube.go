package referrer

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/clicklens/clicklens/internal/model"
)

var (
	youtubeIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

	// 120, 120s, 2m, 1h30m45s, 1m30
	youtubeTimePattern = regexp.MustCompile(`^(?:(\d+)h)?(?:(\d+)m)?(?:(\d+)s?)?$`)
)

// youtubePathPrefixes carry the video id as the next path segment.
var youtubePathPrefixes = []string{"/embed/", "/shorts/", "/live/", "/v/", "/e/"}

func parseYouTube(host string, u *url.URL) model.VideoAttribution {
	var attr model.VideoAttribution
	query := u.Query()

	if id := youtubeVideoID(host, u.Path, query); id != "" {
		attr.VideoID = stringPtr(id)
	}

	if seconds, ok := parseYouTubeTime(query.Get("t")); ok {
		attr.TimestampSeconds = intPtr(seconds)
	} else if seconds, ok := parseYouTubeTime(query.Get("start")); ok {
		attr.TimestampSeconds = intPtr(seconds)
	} else if frag := fragmentParam(u.Fragment, "t"); frag != "" {
		if seconds, ok := parseYouTubeTime(frag); ok {
			attr.TimestampSeconds = intPtr(seconds)
		}
	}

	if list := strings.TrimSpace(query.Get("list")); list != "" {
		attr.PlaylistID = stringPtr(list)
	}
	if index, err := strconv.Atoi(query.Get("index")); err == nil && index >= 0 {
		attr.PlaylistIndex = intPtr(index)
	}

	if feature := strings.TrimSpace(query.Get("feature")); feature != "" {
		attr.SubFeature = stringPtr(feature)
	} else if app := strings.TrimSpace(query.Get("app")); app != "" {
		attr.SubFeature = stringPtr(app)
	}

	return attr
}

func youtubeVideoID(host, path string, query url.Values) string {
	var candidate string

	switch {
	case hasDomain(host, "youtu.be"):
		candidate = firstSegment(path)
	case query.Get("v") != "":
		candidate = query.Get("v")
	default:
		for _, prefix := range youtubePathPrefixes {
			if strings.HasPrefix(path, prefix) {
				candidate = firstSegment(strings.TrimPrefix(path, prefix[:len(prefix)-1]))
				break
			}
		}
	}

	candidate = strings.TrimSpace(candidate)
	if !youtubeIDPattern.MatchString(candidate) {
		return ""
	}
	return candidate
}

// maxYouTubeOffset bounds a t= or start= offset. Longer values are not real
// video positions.
const maxYouTubeOffset = 24 * 3600

// parseYouTubeTime converts a t= or start= value to seconds. Offsets past
// maxYouTubeOffset are rejected.
func parseYouTubeTime(value string) (int, bool) {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return 0, false
	}

	m := youtubeTimePattern.FindStringSubmatch(value)
	if m == nil {
		return 0, false
	}

	total := 0
	for i, unit := range []int{3600, 60, 1} {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil || n > maxYouTubeOffset/unit {
			return 0, false
		}
		total += n * unit
	}
	if total > maxYouTubeOffset {
		return 0, false
	}
	return total, true
}

// firstSegment returns the first non-empty segment of a URL path.
func firstSegment(path string) string {
	for _, segment := range strings.Split(path, "/") {
		if segment != "" {
			return segment
		}
	}
	return ""
}

// fragmentParam reads key from a "#a=1&t=30" style fragment.
func fragmentParam(fragment, key string) string {
	if fragment == "" {
		return ""
	}
	values, err := url.ParseQuery(fragment)
	if err != nil {
		return ""
	}
	return values.Get(key)
}
