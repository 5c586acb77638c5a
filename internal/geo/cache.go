package geo

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/breeze-rmm/session-panel/internal/logging"
	"github.com/breeze-rmm/session-panel/internal/store"
)

const (
	DefaultSuccessTTL = 24 * time.Hour
	DefaultFailureTTL = 30 * time.Minute
)

// Entry is the persisted outcome of the last lookup for one IP. A success
// sets Summary and FetchedAtUTC; a failure sets FailedAtUTC and
// FailureReason.
type Entry struct {
	Summary       *string    `json:"summary"`
	FetchedAtUTC  *time.Time `json:"fetched_at_utc"`
	FailedAtUTC   *time.Time `json:"failed_at_utc"`
	FailureReason *string    `json:"failure_reason"`
}

type Options struct {
	Enabled           bool
	SuccessTTL        time.Duration
	FailureTTL        time.Duration
	LogSuppressWindow time.Duration
	Now               func() time.Time
	Logger            *slog.Logger
}

// Cache resolves IPs through a Provider, remembering both successes and
// failures on disk. It is owned by the tick loop and is not safe for
// concurrent use.
type Cache struct {
	path       string
	provider   Provider
	enabled    bool
	successTTL time.Duration
	failureTTL time.Duration
	now        func() time.Time
	log        *slog.Logger
	suppress   *logging.Suppressor
	entries    map[string]Entry
	lastErr    string
}

func NewCache(path string, provider Provider, opts Options) *Cache {
	c := &Cache{
		path:       path,
		provider:   provider,
		enabled:    opts.Enabled && provider != nil,
		successTTL: opts.SuccessTTL,
		failureTTL: opts.FailureTTL,
		now:        opts.Now,
		log:        opts.Logger,
		suppress:   logging.NewSuppressor(opts.LogSuppressWindow),
	}
	if c.successTTL <= 0 {
		c.successTTL = DefaultSuccessTTL
	}
	if c.failureTTL <= 0 {
		c.failureTTL = DefaultFailureTTL
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.log == nil {
		c.log = logging.L("geo")
	}
	c.entries = c.load()
	return c
}

// Entry returns the cached entry for ip.
func (c *Cache) Entry(ip string) (Entry, bool) {
	e, ok := c.entries[strings.TrimSpace(ip)]
	return e, ok
}

// LastFailure returns the reason of the most recent network lookup if it
// failed, or "" if it succeeded or none was made.
func (c *Cache) LastFailure() string {
	return c.lastErr
}

// Resolve returns the location summary for ip, or "" when geo lookup is
// disabled, ip is empty, or the lookup failed (now or within the failure
// TTL). It never returns an error; failures are cached and logged.
func (c *Cache) Resolve(ctx context.Context, ip string) string {
	ip = strings.TrimSpace(ip)
	if !c.enabled || ip == "" {
		return ""
	}

	now := c.now().UTC()
	if entry, ok := c.entries[ip]; ok {
		if entry.Summary != nil && entry.FetchedAtUTC != nil && now.Sub(*entry.FetchedAtUTC) <= c.successTTL {
			return *entry.Summary
		}
		if entry.FailedAtUTC != nil && now.Sub(*entry.FailedAtUTC) <= c.failureTTL {
			return ""
		}
	}

	summary, err := c.provider.Lookup(ctx, ip)
	if err != nil {
		reason := err.Error()
		c.lastErr = reason
		c.entries[ip] = Entry{FailedAtUTC: &now, FailureReason: &reason}
		c.persist()
		if c.suppress.Allow(reason, now) {
			c.log.Warn("geo lookup failed", "reason", reason, logging.KeyIP, ip)
		}
		return ""
	}

	c.lastErr = ""
	c.entries[ip] = Entry{Summary: &summary, FetchedAtUTC: &now}
	c.persist()
	c.log.Debug("geo lookup cached", logging.KeyIP, ip, "summary", summary)
	return summary
}

func (c *Cache) load() map[string]Entry {
	entries := make(map[string]Entry)
	if c.path == "" {
		return entries
	}
	if err := store.ReadJSON(c.path, &entries); err != nil {
		if !os.IsNotExist(err) {
			c.log.Warn("geo cache unreadable, starting empty", "path", c.path, "error", err)
		}
		return make(map[string]Entry)
	}
	if entries == nil {
		entries = make(map[string]Entry)
	}
	return entries
}

func (c *Cache) persist() {
	if c.path == "" {
		return
	}
	if err := store.WriteJSONAtomic(c.path, c.entries); err != nil {
		c.log.Warn("failed to persist geo cache", "path", c.path, "error", err)
	}
}
