// Package referrer classifies raw Referer headers into a traffic source and,
// for content platforms, the piece of content that sent the click.
package referrer

import (
	"net/url"
	"strings"

	"github.com/clicklens/clicklens/internal/model"
)

// Result is the outcome of parsing one referrer.
type Result struct {
	Class model.ReferrerClass
	Video model.VideoAttribution
}

// contentParser extracts a content identifier from a platform URL.
type contentParser func(host string, u *url.URL) model.VideoAttribution

type socialDomain struct {
	domain   string
	platform model.Platform
}

// socialDomains is matched by suffix, so subdomains such as vm.tiktok.com
// or music.youtube.com resolve to their platform.
var socialDomains = []socialDomain{
	{"youtube.com", model.PlatformYouTube},
	{"youtu.be", model.PlatformYouTube},
	{"youtube-nocookie.com", model.PlatformYouTube},
	{"tiktok.com", model.PlatformTikTok},
	{"instagram.com", model.PlatformInstagram},
	{"twitter.com", model.PlatformTwitter},
	{"x.com", model.PlatformTwitter},
	{"t.co", model.PlatformTwitter},
	{"linkedin.com", model.PlatformLinkedIn},
	{"lnkd.in", model.PlatformLinkedIn},
	{"facebook.com", model.PlatformNone},
	{"fb.com", model.PlatformNone},
	{"fb.me", model.PlatformNone},
	{"reddit.com", model.PlatformNone},
	{"pinterest.com", model.PlatformNone},
	{"threads.net", model.PlatformNone},
	{"snapchat.com", model.PlatformNone},
	{"discord.com", model.PlatformNone},
	{"t.me", model.PlatformNone},
	{"whatsapp.com", model.PlatformNone},
}

var contentParsers = map[model.Platform]contentParser{
	model.PlatformYouTube:   parseYouTube,
	model.PlatformTikTok:    parseTikTok,
	model.PlatformInstagram: parseInstagram,
	model.PlatformTwitter:   parseTwitter,
	model.PlatformLinkedIn:  parseLinkedIn,
}

// searchBrands match the brand's own host under any country suffix
// (google.com, google.co.uk) and its search. subdomain (search.yahoo.com,
// uk.search.yahoo.com). Other subdomains such as docs.google.com are not
// search traffic.
var searchBrands = []string{
	"google", "bing", "yahoo", "duckduckgo", "baidu", "yandex",
	"ecosia", "naver", "seznam", "qwant", "startpage",
}

var searchHosts = map[string]bool{
	"search.brave.com": true,
	"kagi.com":         true,
}

var emailHosts = map[string]bool{
	"mail.google.com":       true,
	"inbox.google.com":      true,
	"outlook.live.com":      true,
	"outlook.office.com":    true,
	"outlook.office365.com": true,
	"mail.yahoo.com":        true,
	"mail.proton.me":        true,
	"mail.aol.com":          true,
	"mail.zoho.com":         true,
	"app.fastmail.com":      true,
}

// appReferrers maps android-app:// package names to a source.
var appReferrers = map[string]Result{
	"com.google.android.gm":                   {Class: model.ReferrerClass{Type: model.ReferrerEmail}},
	"com.google.android.googlequicksearchbox": {Class: model.ReferrerClass{Type: model.ReferrerSearch}},
	"com.google.android.youtube":              {Class: model.ReferrerClass{Type: model.ReferrerSocial}, Video: model.VideoAttribution{Platform: model.PlatformYouTube}},
	"com.zhiliaoapp.musically":                {Class: model.ReferrerClass{Type: model.ReferrerSocial}, Video: model.VideoAttribution{Platform: model.PlatformTikTok}},
	"com.instagram.android":                   {Class: model.ReferrerClass{Type: model.ReferrerSocial}, Video: model.VideoAttribution{Platform: model.PlatformInstagram}},
	"com.twitter.android":                     {Class: model.ReferrerClass{Type: model.ReferrerSocial}, Video: model.VideoAttribution{Platform: model.PlatformTwitter}},
	"com.linkedin.android":                    {Class: model.ReferrerClass{Type: model.ReferrerSocial}, Video: model.VideoAttribution{Platform: model.PlatformLinkedIn}},
}

// Parse classifies a raw Referer header. It never fails: an empty referrer
// is direct traffic and anything unparseable is "other" with no attribution.
func Parse(raw string) Result {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Result{
			Class: model.ReferrerClass{Type: model.ReferrerDirect},
			Video: model.NoVideo(),
		}
	}

	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Hostname() == "" {
		return other("")
	}

	if strings.EqualFold(u.Scheme, "android-app") {
		return parseAppReferrer(strings.ToLower(u.Hostname()))
	}

	host := NormalizeHost(u.Hostname())

	if emailHosts[host] || strings.HasPrefix(host, "webmail.") || strings.HasPrefix(host, "mail.") {
		return classified(model.ReferrerEmail, host)
	}

	if platform, ok := matchSocial(host); ok {
		result := Result{
			Class: model.ReferrerClass{Type: model.ReferrerSocial, Domain: host},
			Video: model.NoVideo(),
		}
		if parser, ok := contentParsers[platform]; ok {
			result.Video = parser(host, u)
			result.Video.Platform = platform
		}
		return result
	}

	if isSearch(host) {
		return classified(model.ReferrerSearch, host)
	}

	return other(host)
}

// NormalizeHost lower-cases a host and strips www., m. and mobile. prefixes.
func NormalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, prefix := range []string{"www.", "m.", "mobile."} {
		if strings.HasPrefix(host, prefix) && strings.Count(host, ".") > 1 {
			return strings.TrimPrefix(host, prefix)
		}
	}
	return host
}

func matchSocial(host string) (model.Platform, bool) {
	for _, sd := range socialDomains {
		if hasDomain(host, sd.domain) {
			return sd.platform, true
		}
	}
	return model.PlatformNone, false
}

func isSearch(host string) bool {
	if searchHosts[host] {
		return true
	}
	if i := strings.Index(host, "search."); i == 0 || (i > 0 && host[i-1] == '.') {
		host = host[i+len("search."):]
	}
	for _, brand := range searchBrands {
		suffix, ok := strings.CutPrefix(host, brand+".")
		if ok && suffix != "" && strings.Count(suffix, ".") <= 1 {
			return true
		}
	}
	return false
}

func hasDomain(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func parseAppReferrer(pkg string) Result {
	result, ok := appReferrers[pkg]
	if !ok {
		return other(pkg)
	}
	result.Class.Domain = pkg
	if result.Video.Platform == "" {
		result.Video = model.NoVideo()
	}
	return result
}

func classified(t model.ReferrerType, host string) Result {
	return Result{
		Class: model.ReferrerClass{Type: t, Domain: host},
		Video: model.NoVideo(),
	}
}

func other(host string) Result {
	return classified(model.ReferrerOther, host)
}

func stringPtr(s string) *string {
	return &s
}

func intPtr(i int) *int {
	return &i
}
