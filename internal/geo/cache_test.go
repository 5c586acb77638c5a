package geo

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type fakeProvider struct {
	calls   int
	summary string
	err     error
}

func (f *fakeProvider) Lookup(ctx context.Context, ip string) (string, error) {
	f.calls++
	return f.summary, f.err
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestCache(t *testing.T, p Provider, clock *fakeClock, logs *bytes.Buffer) (*Cache, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "geo_cache.json")
	if logs == nil {
		logs = &bytes.Buffer{}
	}
	c := NewCache(path, p, Options{
		Enabled:           true,
		SuccessTTL:        24 * time.Hour,
		FailureTTL:        30 * time.Minute,
		LogSuppressWindow: 10 * time.Minute,
		Now:               clock.Now,
		Logger:            slog.New(slog.NewTextHandler(logs, nil)),
	})
	return c, path
}

func TestResolveCachesSuccess(t *testing.T) {
	p := &fakeProvider{summary: "City, Region, Country | OrgName"}
	clock := &fakeClock{now: time.Date(2026, 1, 18, 12, 0, 0, 0, time.UTC)}
	c, path := newTestCache(t, p, clock, nil)

	if got := c.Resolve(context.Background(), "1.2.3.4"); got != "City, Region, Country | OrgName" {
		t.Fatalf("Resolve() = %q", got)
	}
	if p.calls != 1 {
		t.Fatalf("expected 1 network call, got %d", p.calls)
	}

	clock.Advance(23 * time.Hour)
	if got := c.Resolve(context.Background(), "1.2.3.4"); got != "City, Region, Country | OrgName" {
		t.Fatalf("cached Resolve() = %q", got)
	}
	if p.calls != 1 {
		t.Fatalf("second lookup within TTL made %d calls, want 1", p.calls)
	}

	reloaded := NewCache(path, p, Options{Enabled: true, Now: clock.Now})
	entry, ok := reloaded.Entry("1.2.3.4")
	if !ok || entry.Summary == nil || *entry.Summary != "City, Region, Country | OrgName" {
		t.Fatalf("persisted entry = %+v, %v", entry, ok)
	}
	if entry.FailedAtUTC != nil || entry.FailureReason != nil {
		t.Fatalf("success entry should not carry failure fields: %+v", entry)
	}

	clock.Advance(2 * time.Hour)
	c.Resolve(context.Background(), "1.2.3.4")
	if p.calls != 2 {
		t.Fatalf("expired success should refresh, calls = %d", p.calls)
	}
}

func TestResolveNegativeCache(t *testing.T) {
	p := &fakeProvider{err: errors.New("http status 503")}
	clock := &fakeClock{now: time.Date(2026, 1, 18, 12, 0, 0, 0, time.UTC)}
	c, _ := newTestCache(t, p, clock, nil)

	if got := c.Resolve(context.Background(), "1.2.3.4"); got != "" {
		t.Fatalf("failed Resolve() = %q, want empty", got)
	}
	entry, _ := c.Entry("1.2.3.4")
	if entry.FailureReason == nil || *entry.FailureReason != "http status 503" || entry.Summary != nil {
		t.Fatalf("failure entry = %+v", entry)
	}

	clock.Advance(29 * time.Minute)
	c.Resolve(context.Background(), "1.2.3.4")
	if p.calls != 1 {
		t.Fatalf("retry within failure TTL made %d calls, want 1", p.calls)
	}

	clock.Advance(2 * time.Minute)
	p.err = nil
	p.summary = "Berlin, Germany"
	if got := c.Resolve(context.Background(), "1.2.3.4"); got != "Berlin, Germany" {
		t.Fatalf("Resolve() after failure TTL = %q", got)
	}
	if p.calls != 2 {
		t.Fatalf("expected retry after failure TTL, calls = %d", p.calls)
	}
	entry, _ = c.Entry("1.2.3.4")
	if entry.Summary == nil || entry.FailedAtUTC != nil || entry.FailureReason != nil {
		t.Fatalf("success should overwrite failure entry: %+v", entry)
	}
}

func TestRepeatedFailureReasonLoggedOnce(t *testing.T) {
	var logs bytes.Buffer
	p := &fakeProvider{err: errors.New("request timed out")}
	clock := &fakeClock{now: time.Date(2026, 1, 18, 12, 0, 0, 0, time.UTC)}
	c, _ := newTestCache(t, p, clock, &logs)

	for _, ip := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"} {
		c.Resolve(context.Background(), ip)
		clock.Advance(time.Minute)
	}
	if p.calls != 3 {
		t.Fatalf("expected 3 lookups for distinct IPs, got %d", p.calls)
	}
	if n := strings.Count(logs.String(), "geo lookup failed"); n != 1 {
		t.Fatalf("expected 1 failure log line, got %d:\n%s", n, logs.String())
	}

	p.err = errors.New("http status 429")
	c.Resolve(context.Background(), "4.4.4.4")
	if n := strings.Count(logs.String(), "geo lookup failed"); n != 2 {
		t.Fatalf("a different reason should be logged, got %d lines", n)
	}
}

func TestResolveDisabledOrEmpty(t *testing.T) {
	p := &fakeProvider{summary: "x"}
	c := NewCache("", p, Options{Enabled: false})
	if got := c.Resolve(context.Background(), "1.2.3.4"); got != "" {
		t.Fatalf("disabled Resolve() = %q", got)
	}

	clock := &fakeClock{now: time.Now()}
	enabled, _ := newTestCache(t, p, clock, nil)
	if got := enabled.Resolve(context.Background(), "  "); got != "" {
		t.Fatalf("empty ip Resolve() = %q", got)
	}
	if p.calls != 0 {
		t.Fatalf("expected no network calls, got %d", p.calls)
	}
}

func TestResolveOverHTTPMakesOneRequestPerAttempt(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		ttl     time.Duration
		failure bool
	}{
		{name: "success", status: http.StatusOK, body: `{"status":"success","city":"City","country":"Country","org":"OrgName"}`, want: "City, Country | OrgName", ttl: 24 * time.Hour},
		{name: "server_error", status: http.StatusServiceUnavailable, body: `busy`, ttl: 30 * time.Minute, failure: true},
		{name: "rate_limited", status: http.StatusTooManyRequests, body: `slow down`, ttl: 30 * time.Minute, failure: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			clock := &fakeClock{now: time.Date(2026, 1, 18, 12, 0, 0, 0, time.UTC)}
			c, _ := newTestCache(t, NewHTTPProvider(srv.URL), clock, nil)

			if got := c.Resolve(context.Background(), "1.2.3.4"); got != tt.want {
				t.Fatalf("Resolve() = %q, want %q", got, tt.want)
			}
			if hits.Load() != 1 {
				t.Fatalf("first lookup made %d requests, want 1", hits.Load())
			}
			entry, ok := c.Entry("1.2.3.4")
			if !ok || (entry.FailureReason != nil) != tt.failure {
				t.Fatalf("entry = %+v, failure recorded = %v", entry, tt.failure)
			}

			clock.Advance(tt.ttl - time.Minute)
			c.Resolve(context.Background(), "1.2.3.4")
			if hits.Load() != 1 {
				t.Fatalf("lookup within TTL made %d requests, want 1", hits.Load())
			}

			clock.Advance(2 * time.Minute)
			c.Resolve(context.Background(), "1.2.3.4")
			if hits.Load() != 2 {
				t.Fatalf("lookup after TTL made %d requests total, want 2", hits.Load())
			}
		})
	}
}
