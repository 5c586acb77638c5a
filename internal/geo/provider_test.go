package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestSummarize(t *testing.T) {
	tests := []struct {
		city, region, country, org string
		want                       string
	}{
		{"City", "Region", "Country", "OrgName", "City, Region, Country | OrgName"},
		{"", "", "Country", "OrgName", "Country | OrgName"},
		{"City", "", "Country", "", "City, Country"},
		{"", "", "", "OrgName", "OrgName"},
		{"", " ", "", "", ""},
	}
	for _, tt := range tests {
		if got := Summarize(tt.city, tt.region, tt.country, tt.org); got != tt.want {
			t.Errorf("Summarize(%q,%q,%q,%q) = %q, want %q", tt.city, tt.region, tt.country, tt.org, got, tt.want)
		}
	}
}

func TestHTTPProviderSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/1.2.3.4") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success","city":"City","regionName":"Region","country":"Country","org":"","isp":"OrgName"}`))
	}))
	defer srv.Close()

	got, err := NewHTTPProvider(srv.URL+"/json").Lookup(context.Background(), "1.2.3.4")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got != "City, Region, Country | OrgName" {
		t.Fatalf("Lookup() = %q", got)
	}
}

func TestHTTPProviderFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{name: "provider_fail", status: 200, body: `{"status":"fail","message":"private range"}`, want: "provider error: private range"},
		{name: "http_error", status: 503, body: `oops`, want: "http status 503"},
		{name: "bad_json", status: 200, body: `{`, want: "invalid response body"},
		{name: "empty", status: 200, body: `{"status":"success"}`, want: "no location data"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewHTTPProvider(srv.URL).Lookup(context.Background(), "10.0.0.1")
			if err == nil {
				t.Fatal("expected error")
			}
			if err.Error() != tt.want {
				t.Fatalf("error = %q, want %q", err.Error(), tt.want)
			}
		})
	}
}

func TestHTTPProviderTransportErrorOmitsIP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewHTTPProvider(url).Lookup(context.Background(), "203.0.113.9")
	if err == nil {
		t.Fatal("expected transport error")
	}
	if strings.Contains(err.Error(), "203.0.113.9") {
		t.Fatalf("error should not embed the ip: %q", err)
	}
}

func TestHTTPProviderSendsSingleRequest(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusServiceUnavailable} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if calls.Add(1) == 1 {
					w.WriteHeader(status)
					return
				}
				w.Write([]byte(`{"status":"success","country":"Country"}`))
			}))
			defer srv.Close()

			got, err := NewHTTPProvider(srv.URL).Lookup(context.Background(), "1.2.3.4")
			if err == nil {
				t.Fatalf("Lookup() = %q, want failure", got)
			}
			if calls.Load() != 1 {
				t.Fatalf("calls = %d, want 1", calls.Load())
			}
		})
	}
}
