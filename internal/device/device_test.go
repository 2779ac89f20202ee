package device

import (
	"testing"

	"github.com/clicklens/clicklens/internal/model"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		ua        string
		wantType  model.DeviceType
		browser   string
		version   string
		os        string
		osVersion string
	}{
		{
			name:      "chrome windows",
			ua:        "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.6099.109 Safari/537.36",
			wantType:  model.DeviceDesktop,
			browser:   "Chrome",
			version:   "120.0.6099.109",
			os:        "Windows",
			osVersion: "10",
		},
		{
			name:      "edge windows",
			ua:        "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.2210.91",
			wantType:  model.DeviceDesktop,
			browser:   "Edge",
			version:   "120.0.2210.91",
			os:        "Windows",
			osVersion: "10",
		},
		{
			name:      "safari mac",
			ua:        "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
			wantType:  model.DeviceDesktop,
			browser:   "Safari",
			version:   "17.1",
			os:        "macOS",
			osVersion: "10.15.7",
		},
		{
			name:     "firefox linux",
			ua:       "Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
			wantType: model.DeviceDesktop,
			browser:  "Firefox",
			version:  "121.0",
			os:       "Linux",
		},
		{
			name:      "safari iphone",
			ua:        "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
			wantType:  model.DeviceMobile,
			browser:   "Safari",
			version:   "17.0",
			os:        "iOS",
			osVersion: "17.0",
		},
		{
			name:      "chrome android phone",
			ua:        "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.6099.144 Mobile Safari/537.36",
			wantType:  model.DeviceMobile,
			browser:   "Chrome",
			version:   "120.0.6099.144",
			os:        "Android",
			osVersion: "14",
		},
		{
			name:      "samsung browser",
			ua:        "Mozilla/5.0 (Linux; Android 13; SM-S918B) AppleWebKit/537.36 (KHTML, like Gecko) SamsungBrowser/23.0 Chrome/115.0.0.0 Mobile Safari/537.36",
			wantType:  model.DeviceMobile,
			browser:   "Samsung Internet",
			version:   "23.0",
			os:        "Android",
			osVersion: "13",
		},
		{
			name:      "ipad",
			ua:        "Mozilla/5.0 (iPad; CPU OS 16_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.6 Mobile/15E148 Safari/604.1",
			wantType:  model.DeviceTablet,
			browser:   "Safari",
			version:   "16.6",
			os:        "iPadOS",
			osVersion: "16.6",
		},
		{
			name:      "android tablet",
			ua:        "Mozilla/5.0 (Linux; Android 12; SM-X700) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
			wantType:  model.DeviceTablet,
			browser:   "Chrome",
			version:   "119.0.0.0",
			os:        "Android",
			osVersion: "12",
		},
		{
			name:      "instagram in-app",
			ua:        "Mozilla/5.0 (iPhone; CPU iPhone OS 16_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Mobile/15E148 Instagram 290.0.0.13.76",
			wantType:  model.DeviceMobile,
			browser:   "Instagram",
			version:   "290.0.0.13.76",
			os:        "iOS",
			osVersion: "16.5",
		},
		{
			name:      "cubot handset is not a bot",
			ua:        "Mozilla/5.0 (Linux; Android 12; CUBOT X30) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Mobile Safari/537.36",
			wantType:  model.DeviceMobile,
			browser:   "Chrome",
			version:   "108.0.0.0",
			os:        "Android",
			osVersion: "12",
		},
		{
			name:     "googlebot",
			ua:       "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
			wantType: model.DeviceBot,
			browser:  "unknown",
			os:       "unknown",
		},
		{
			name:     "link preview",
			ua:       "facebookexternalhit/1.1 (+http://www.facebook.com/externalhit_uatext.php)",
			wantType: model.DeviceBot,
			browser:  "unknown",
			os:       "unknown",
		},
		{
			name:     "twitterbot",
			ua:       "Twitterbot/1.0",
			wantType: model.DeviceBot,
			browser:  "unknown",
			os:       "unknown",
		},
		{
			name:     "adsbot",
			ua:       "AdsBot-Google (+http://www.google.com/adsbot.html)",
			wantType: model.DeviceBot,
			browser:  "unknown",
			os:       "unknown",
		},
		{
			name:     "curl",
			ua:       "curl/8.4.0",
			wantType: model.DeviceBot,
			browser:  "unknown",
			os:       "unknown",
		},
		{
			name:     "garbage",
			ua:       "something-weird/1.0",
			wantType: model.DeviceUnknown,
			browser:  "unknown",
			os:       "unknown",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := Classify(tt.ua)
			if got.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", got.Type, tt.wantType)
			}
			if got.BrowserName != tt.browser {
				t.Errorf("BrowserName = %q, want %q", got.BrowserName, tt.browser)
			}
			if got.BrowserVersion != tt.version {
				t.Errorf("BrowserVersion = %q, want %q", got.BrowserVersion, tt.version)
			}
			if got.OSName != tt.os {
				t.Errorf("OSName = %q, want %q", got.OSName, tt.os)
			}
			if got.OSVersion != tt.osVersion {
				t.Errorf("OSVersion = %q, want %q", got.OSVersion, tt.osVersion)
			}
		})
	}
}

func TestClassify_Empty(t *testing.T) {
	t.Parallel()

	for _, ua := range []string{"", "   "} {
		got := Classify(ua)
		if got.Type != model.DeviceUnknown {
			t.Errorf("Classify(%q).Type = %q, want unknown", ua, got.Type)
		}
		if got.BrowserName != "unknown" || got.OSName != "unknown" {
			t.Errorf("Classify(%q) names = %q/%q, want unknown/unknown", ua, got.BrowserName, got.OSName)
		}
	}
}

func TestClassify_Brand(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)":     "Apple",
		"Mozilla/5.0 (Linux; Android 13; SM-S918B) Mobile Safari":    "Samsung",
		"Mozilla/5.0 (Linux; Android 14; Pixel 8) Mobile Safari":     "Google",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0.0.0": "",
	}
	for ua, want := range tests {
		if got := Classify(ua).Brand; got != want {
			t.Errorf("Classify(%q).Brand = %q, want %q", ua, got, want)
		}
	}
}
