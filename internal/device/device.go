// Package device classifies raw User-Agent strings into a device type,
// browser and operating system.
package device

import (
	"regexp"
	"strings"

	"github.com/mssola/useragent"

	"github.com/clicklens/clicklens/internal/model"
)

// botPattern matches crawler and tool signatures in the lower-cased agent.
// A bare "bot" only counts when it ends a product token, so handset names
// such as "CUBOT X30" stay phones.
var botPattern = regexp.MustCompile(`bot(?:[/;)_-]|$)|crawler|spider|scraper|slurp|fetcher|` +
	`facebookexternalhit|whatsapp/|telegrambot|preview|^curl/|^wget/|python-requests|python-urllib|` +
	`go-http-client|okhttp|httpie|postmanruntime|insomnia|headlesschrome|lighthouse`)

var (
	tabletSignatures = []string{"ipad", "tablet", "kindle", "silk/", "nook", "playbook"}

	mobileSignatures = []string{
		"mobi", "iphone", "ipod", "android", "blackberry", "bb10",
		"windows phone", "opera mini", "symbian", "webos",
	}

	desktopSignatures = []string{"windows nt", "macintosh", "x11", "linux", "cros", "ubuntu", "fedora"}
)

type family struct {
	name    string
	pattern *regexp.Regexp
}

// embeddedBrowsers are in-app and vendor browsers that the parser reports
// as the engine they wrap.
var embeddedBrowsers = []family{
	{"Instagram", regexp.MustCompile(`(?i)instagram ([\d.]+)`)},
	{"Facebook", regexp.MustCompile(`(?i)fb(?:av|_iab)/([\d.]+)`)},
	{"Samsung Internet", regexp.MustCompile(`(?i)samsungbrowser/([\d.]+)`)},
}

// browserNames maps parser browser names to stored names. Any other name is
// a product token the parser could not place, not a browser.
var browserNames = map[string]string{
	"Chrome":            "Chrome",
	"Chromium":          "Chromium",
	"Edge":              "Edge",
	"Firefox":           "Firefox",
	"Safari":            "Safari",
	"Opera":             "Opera",
	"Opera Mini":        "Opera Mini",
	"Opera Touch":       "Opera",
	"Internet Explorer": "Internet Explorer",
	"Android":           "Android Browser",
	"YaBrowser":         "Yandex Browser",
	"Vivaldi":           "Vivaldi",
	"DuckDuckGo":        "DuckDuckGo",
	"UCBrowser":         "UC Browser",
}

var versionPattern = regexp.MustCompile(`^\d+(?:\.\d+)*$`)

var brandSignatures = []struct {
	brand      string
	signatures []string
}{
	{"Apple", []string{"iphone", "ipad", "ipod", "macintosh"}},
	{"Samsung", []string{"samsung", "sm-", "galaxy"}},
	{"Google", []string{"pixel", "nexus", "cros"}},
	{"Huawei", []string{"huawei"}},
	{"Xiaomi", []string{"xiaomi", "redmi"}},
	{"OnePlus", []string{"oneplus"}},
	{"Motorola", []string{"motorola", "moto "}},
	{"Amazon", []string{"kindle", "silk/"}},
	{"Microsoft", []string{"windows phone", "xbox"}},
	{"Nokia", []string{"nokia"}},
}

// Classify derives a Device from a user agent. It never fails: an empty or
// unrecognised agent yields type unknown with "unknown" names.
//
// The type is decided in order: bot, tablet, mobile, desktop. Bots keep
// unknown browser and OS names since their product tokens are not browsers.
func Classify(userAgent string) model.Device {
	raw := strings.TrimSpace(userAgent)
	if raw == "" {
		return unknownDevice()
	}
	lower := strings.ToLower(raw)
	ua := useragent.New(raw)

	dev := unknownDevice()
	dev.Brand = brand(lower)
	dev.Type = deviceType(ua, lower)
	if dev.Type == model.DeviceBot {
		return dev
	}

	dev.BrowserName, dev.BrowserVersion = browser(ua, raw)
	dev.OSName, dev.OSVersion = operatingSystem(ua, lower)
	return dev
}

func unknownDevice() model.Device {
	return model.Device{
		Type:        model.DeviceUnknown,
		BrowserName: model.UnknownValue,
		OSName:      model.UnknownValue,
	}
}

func deviceType(ua *useragent.UserAgent, lower string) model.DeviceType {
	switch {
	case botPattern.MatchString(lower), ua.Bot():
		return model.DeviceBot
	case ua.Platform() == "iPad",
		containsAny(lower, tabletSignatures),
		strings.Contains(lower, "android") && !strings.Contains(lower, "mobi"):
		return model.DeviceTablet
	case ua.Mobile(), containsAny(lower, mobileSignatures):
		return model.DeviceMobile
	case containsAny(lower, desktopSignatures):
		return model.DeviceDesktop
	default:
		return model.DeviceUnknown
	}
}

func browser(ua *useragent.UserAgent, raw string) (string, string) {
	for _, b := range embeddedBrowsers {
		if m := b.pattern.FindStringSubmatch(raw); m != nil {
			return b.name, m[1]
		}
	}

	name, version := ua.Browser()
	stored, ok := browserNames[name]
	if !ok {
		return model.UnknownValue, ""
	}
	return stored, cleanVersion(version)
}

func operatingSystem(ua *useragent.UserAgent, lower string) (string, string) {
	info := ua.OSInfo()
	version := cleanVersion(info.Version)

	switch {
	case strings.HasPrefix(info.Name, "Windows Phone"), strings.Contains(lower, "windows phone"):
		return "Windows Phone", version
	case strings.HasPrefix(info.Name, "Windows"):
		return "Windows", version
	case ua.Platform() == "iPad", strings.Contains(lower, "ipad"):
		return "iPadOS", version
	case info.Name == "iPhone OS", strings.Contains(lower, "iphone"), strings.Contains(lower, "ipod"):
		return "iOS", version
	case strings.HasPrefix(info.Name, "Android"):
		return "Android", version
	case strings.Contains(lower, "android"):
		return "Android", ""
	case strings.Contains(lower, "cros"):
		return "Chrome OS", version
	case strings.Contains(info.Name, "Mac OS X"):
		return "macOS", version
	case strings.Contains(lower, "linux"), strings.Contains(lower, "x11"):
		return "Linux", ""
	default:
		return model.UnknownValue, ""
	}
}

// cleanVersion drops parser output that is not a dotted version, such as
// the architecture token that follows "Linux".
func cleanVersion(v string) string {
	if !versionPattern.MatchString(v) {
		return ""
	}
	return v
}

func brand(lower string) string {
	for _, b := range brandSignatures {
		if containsAny(lower, b.signatures) {
			return b.brand
		}
	}
	return ""
}

func containsAny(s string, substrings []string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
