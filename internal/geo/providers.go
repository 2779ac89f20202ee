package geo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

// Built-in provider names, usable in GEO_PROVIDERS.
const (
	ProviderIPAPICo  = "ipapi.co"
	ProviderIPAPICom = "ip-api.com"
	ProviderIPInfo   = "ipinfo.io"
)

const maxResponseBytes = 64 << 10

// ProviderOptions configures one HTTP provider.
type ProviderOptions struct {
	BaseURL           string
	Token             string
	RequestsPerMinute int
	Client            *http.Client
}

// HTTPProvider queries a JSON geolocation endpoint.
type HTTPProvider struct {
	name    string
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
	build   func(base, ip, token string) string
	decode  func(r io.Reader) (Location, error)
}

func newHTTPProvider(name, defaultBase string, opts ProviderOptions) *HTTPProvider {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = defaultBase
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	p := &HTTPProvider{
		name:    name,
		baseURL: base,
		token:   opts.Token,
		client:  client,
	}
	if opts.RequestsPerMinute > 0 {
		p.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), opts.RequestsPerMinute)
	}
	return p
}

// NewIPAPICo returns a provider for https://ipapi.co.
func NewIPAPICo(opts ProviderOptions) *HTTPProvider {
	p := newHTTPProvider(ProviderIPAPICo, "https://ipapi.co", opts)
	p.build = func(base, ip, _ string) string {
		return fmt.Sprintf("%s/%s/json/", base, url.PathEscape(ip))
	}
	p.decode = decodeIPAPICo
	return p
}

// NewIPAPICom returns a provider for ip-api.com. The free tier only serves
// plain HTTP and allows 45 requests per minute.
func NewIPAPICom(opts ProviderOptions) *HTTPProvider {
	if opts.RequestsPerMinute == 0 {
		opts.RequestsPerMinute = 45
	}
	p := newHTTPProvider(ProviderIPAPICom, "http://ip-api.com", opts)
	p.build = func(base, ip, _ string) string {
		return fmt.Sprintf("%s/json/%s?fields=status,message,country,countryCode,city", base, url.PathEscape(ip))
	}
	p.decode = decodeIPAPICom
	return p
}

// NewIPInfo returns a provider for ipinfo.io. The token is optional.
func NewIPInfo(opts ProviderOptions) *HTTPProvider {
	p := newHTTPProvider(ProviderIPInfo, "https://ipinfo.io", opts)
	p.build = func(base, ip, token string) string {
		u := fmt.Sprintf("%s/%s/json", base, url.PathEscape(ip))
		if token != "" {
			u += "?token=" + url.QueryEscape(token)
		}
		return u
	}
	p.decode = decodeIPInfo
	return p
}

// NewProvider builds a built-in provider by name.
func NewProvider(name string, opts ProviderOptions) (*HTTPProvider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case ProviderIPAPICo:
		return NewIPAPICo(opts), nil
	case ProviderIPAPICom:
		return NewIPAPICom(opts), nil
	case ProviderIPInfo:
		return NewIPInfo(opts), nil
	default:
		return nil, fmt.Errorf("unknown geolocation provider %q", name)
	}
}

// Name returns the provider name for logging and metrics.
func (p *HTTPProvider) Name() string {
	return p.name
}

// Lookup queries the provider for ip.
func (p *HTTPProvider) Lookup(ctx context.Context, ip string) (Location, error) {
	if p.limiter != nil && !p.limiter.Allow() {
		return Location{}, fmt.Errorf("%s: %w", p.name, ErrRateLimited)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.build(p.baseURL, ip, p.token), http.NoBody)
	if err != nil {
		return Location{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "clicklens-geo/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("query %s: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Location{}, fmt.Errorf("%s: %w", p.name, ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return Location{}, fmt.Errorf("%s returned status %d", p.name, resp.StatusCode)
	}

	loc, err := p.decode(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Location{}, fmt.Errorf("%s: %w", p.name, err)
	}
	if loc.Empty() {
		return Location{}, fmt.Errorf("%s: %w", p.name, ErrEmptyResult)
	}
	if loc.CountryName == "" {
		loc.CountryName = CountryName(loc.CountryCode)
	}
	return loc, nil
}

type ipapiCoResponse struct {
	CountryCode string `json:"country_code"`
	CountryName string `json:"country_name"`
	City        string `json:"city"`
	Error       bool   `json:"error"`
	Reason      string `json:"reason"`
	Reserved    bool   `json:"reserved"`
}

func decodeIPAPICo(r io.Reader) (Location, error) {
	var body ipapiCoResponse
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return Location{}, fmt.Errorf("decode response: %w", err)
	}
	if body.Error {
		if strings.EqualFold(body.Reason, "RateLimited") {
			return Location{}, ErrRateLimited
		}
		return Location{}, fmt.Errorf("api error: %s", body.Reason)
	}
	return Location{
		CountryCode: strings.ToUpper(body.CountryCode),
		CountryName: body.CountryName,
		City:        body.City,
	}, nil
}

type ipapiComResponse struct {
	Status      string `json:"status"` // "success" or "fail"
	Message     string `json:"message"`
	Country     string `json:"country"`
	CountryCode string `json:"countryCode"`
	City        string `json:"city"`
}

func decodeIPAPICom(r io.Reader) (Location, error) {
	var body ipapiComResponse
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return Location{}, fmt.Errorf("decode response: %w", err)
	}
	if body.Status != "success" {
		return Location{}, fmt.Errorf("api error: %s", body.Message)
	}
	return Location{
		CountryCode: strings.ToUpper(body.CountryCode),
		CountryName: body.Country,
		City:        body.City,
	}, nil
}

type ipinfoResponse struct {
	Country string `json:"country"`
	City    string `json:"city"`
	Bogon   bool   `json:"bogon"`
}

func decodeIPInfo(r io.Reader) (Location, error) {
	var body ipinfoResponse
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return Location{}, fmt.Errorf("decode response: %w", err)
	}
	if body.Bogon {
		return Location{}, ErrEmptyResult
	}
	return Location{
		CountryCode: strings.ToUpper(body.Country),
		City:        body.City,
	}, nil
}
