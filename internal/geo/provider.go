package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/breeze-rmm/session-panel/internal/httputil"
)

// DefaultTimeout bounds a single provider request.
const DefaultTimeout = 6 * time.Second

// Provider resolves an IP to a human-readable location summary. Returned
// errors must not embed the IP so that identical outages read the same.
type Provider interface {
	Lookup(ctx context.Context, ip string) (string, error)
}

// HTTPProvider queries an ip-api.com compatible JSON endpoint.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
	retry   httputil.RetryConfig
}

func NewHTTPProvider(baseURL string) *HTTPProvider {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: DefaultTimeout},
		// One request per lookup; the cache's failure TTL gates the next.
		retry: httputil.RetryConfig{},
	}
}

type lookupResponse struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	City       string `json:"city"`
	RegionName string `json:"regionName"`
	Country    string `json:"country"`
	Org        string `json:"org"`
	ISP        string `json:"isp"`
}

func (p *HTTPProvider) Lookup(ctx context.Context, ip string) (string, error) {
	endpoint := p.baseURL + url.PathEscape(ip) + "?fields=status,message,city,regionName,country,org,isp"
	headers := http.Header{"Accept": []string{"application/json"}}

	resp, err := httputil.Do(ctx, p.client, http.MethodGet, endpoint, nil, headers, p.retry)
	if err != nil {
		var statusErr *httputil.RetryableStatusError
		if errors.As(err, &statusErr) {
			return "", statusErr
		}
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			if urlErr.Timeout() {
				return "", errors.New("request timed out")
			}
			return "", fmt.Errorf("request failed: %v", urlErr.Err)
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("request failed: %v", ctx.Err())
		}
		return "", errors.New("invalid request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("http status %d", resp.StatusCode)
	}

	var body lookupResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&body); err != nil {
		return "", errors.New("invalid response body")
	}
	if !strings.EqualFold(body.Status, "success") {
		msg := strings.TrimSpace(body.Message)
		if msg == "" {
			msg = "unknown"
		}
		return "", fmt.Errorf("provider error: %s", msg)
	}

	org := body.Org
	if strings.TrimSpace(org) == "" {
		org = body.ISP
	}
	summary := Summarize(body.City, body.RegionName, body.Country, org)
	if summary == "" {
		return "", errors.New("no location data")
	}
	return summary, nil
}

// Summarize builds "City, Region, Country | Org", leaving out empty parts
// and the separator when either side is missing.
func Summarize(city, region, country, org string) string {
	var parts []string
	for _, p := range []string{city, region, country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	loc := strings.Join(parts, ", ")
	org = strings.TrimSpace(org)

	switch {
	case loc != "" && org != "":
		return loc + " | " + org
	case loc != "":
		return loc
	default:
		return org
	}
}
