package geo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func newProviderServer(t *testing.T, status int, body string, gotPath *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gotPath != nil {
			*gotPath = r.URL.RequestURI()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPProviders_Lookup(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		newFn    func(ProviderOptions) *HTTPProvider
		token    string
		status   int
		body     string
		wantPath string
		want     Location
		wantErr  error
		anyErr   bool
	}{
		{
			name:     "ipapi.co success",
			newFn:    NewIPAPICo,
			status:   http.StatusOK,
			body:     `{"ip":"1.2.3.4","city":"Mountain View","country_code":"us","country_name":"United States"}`,
			wantPath: "/1.2.3.4/json/",
			want:     Location{CountryCode: "US", CountryName: "United States", City: "Mountain View"},
		},
		{
			name:    "ipapi.co rate limited body",
			newFn:   NewIPAPICo,
			status:  http.StatusOK,
			body:    `{"error":true,"reason":"RateLimited"}`,
			wantErr: ErrRateLimited,
		},
		{
			name:   "ipapi.co reserved",
			newFn:  NewIPAPICo,
			status: http.StatusOK,
			body:   `{"error":true,"reason":"Reserved IP Address","reserved":true}`,
			anyErr: true,
		},
		{
			name:     "ip-api.com success",
			newFn:    NewIPAPICom,
			status:   http.StatusOK,
			body:     `{"status":"success","country":"Germany","countryCode":"DE","city":"Frankfurt"}`,
			wantPath: "/json/1.2.3.4?fields=status,message,country,countryCode,city",
			want:     Location{CountryCode: "DE", CountryName: "Germany", City: "Frankfurt"},
		},
		{
			name:   "ip-api.com fail status",
			newFn:  NewIPAPICom,
			status: http.StatusOK,
			body:   `{"status":"fail","message":"private range"}`,
			anyErr: true,
		},
		{
			name:     "ipinfo.io code only",
			newFn:    NewIPInfo,
			token:    "secret",
			status:   http.StatusOK,
			body:     `{"ip":"1.2.3.4","city":"Tokyo","country":"JP"}`,
			wantPath: "/1.2.3.4/json?token=secret",
			want:     Location{CountryCode: "JP", CountryName: "Japan", City: "Tokyo"},
		},
		{
			name:    "ipinfo.io bogon",
			newFn:   NewIPInfo,
			status:  http.StatusOK,
			body:    `{"ip":"1.2.3.4","bogon":true}`,
			wantErr: ErrEmptyResult,
		},
		{
			name:    "empty body fields",
			newFn:   NewIPInfo,
			status:  http.StatusOK,
			body:    `{}`,
			wantErr: ErrEmptyResult,
		},
		{
			name:    "http 429",
			newFn:   NewIPAPICo,
			status:  http.StatusTooManyRequests,
			body:    `{}`,
			wantErr: ErrRateLimited,
		},
		{
			name:   "http 500",
			newFn:  NewIPAPICom,
			status: http.StatusInternalServerError,
			body:   `oops`,
			anyErr: true,
		},
		{
			name:   "malformed json",
			newFn:  NewIPAPICo,
			status: http.StatusOK,
			body:   `{"country_code":`,
			anyErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var gotPath string
			srv := newProviderServer(t, tt.status, tt.body, &gotPath)
			p := tt.newFn(ProviderOptions{BaseURL: srv.URL, Token: tt.token, RequestsPerMinute: 1000})

			got, err := p.Lookup(context.Background(), "1.2.3.4")

			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Lookup() error = %v, want %v", err, tt.wantErr)
				}
				return
			case tt.anyErr:
				if err == nil {
					t.Fatalf("Lookup() = %+v, want error", got)
				}
				return
			case err != nil:
				t.Fatalf("Lookup() error = %v", err)
			}

			if got != tt.want {
				t.Errorf("Lookup() = %+v, want %+v", got, tt.want)
			}
			if tt.wantPath != "" && gotPath != tt.wantPath {
				t.Errorf("request path = %q, want %q", gotPath, tt.wantPath)
			}
		})
	}
}

func TestHTTPProvider_LocalRateLimit(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"status":"success","country":"France","countryCode":"FR","city":"Paris"}`))
	}))
	t.Cleanup(srv.Close)

	p := NewIPAPICom(ProviderOptions{BaseURL: srv.URL, RequestsPerMinute: 1})

	if _, err := p.Lookup(context.Background(), "1.2.3.4"); err != nil {
		t.Fatalf("first Lookup() error = %v", err)
	}
	if _, err := p.Lookup(context.Background(), "1.2.3.4"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second Lookup() error = %v, want ErrRateLimited", err)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("server hits = %d, want 1", got)
	}
}

func TestNewProvider(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"ipapi.co", "IP-API.com", " ipinfo.io "} {
		p, err := NewProvider(name, ProviderOptions{})
		if err != nil {
			t.Fatalf("NewProvider(%q) error = %v", name, err)
		}
		if p.Name() == "" {
			t.Fatalf("NewProvider(%q) has empty name", name)
		}
	}

	if _, err := NewProvider("maxmind", ProviderOptions{}); err == nil {
		t.Fatal("NewProvider(maxmind) expected error")
	}
}
