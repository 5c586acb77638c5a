package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"unicode"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// ValidationResult separates errors that must stop start-up from values
// that were clamped or ignored.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// FatalError joins the fatal errors into one, or returns nil. The result
// still matches each joined error with errors.Is.
func (r ValidationResult) FatalError() error {
	if !r.HasFatals() {
		return nil
	}
	verbs := make([]string, len(r.Fatals))
	args := make([]any, len(r.Fatals))
	for i, err := range r.Fatals {
		verbs[i] = "%w"
		args[i] = err
	}
	return fmt.Errorf(strings.Join(verbs, "; "), args...)
}

// ValidateTiered checks the config. Out-of-range numbers are clamped to
// safe values and reported as warnings; missing credentials and malformed
// identifiers are fatal.
func (c *Config) ValidateTiered() ValidationResult {
	var result ValidationResult

	var missing []string
	if strings.TrimSpace(c.DiscordToken) == "" {
		missing = append(missing, "DISCORD_TOKEN")
	}
	if strings.TrimSpace(c.ChannelID) == "" {
		missing = append(missing, "CHANNEL_ID")
	}
	if len(missing) > 0 {
		result.Fatals = append(result.Fatals, fmt.Errorf("%w: %s", ErrMissingRequired, strings.Join(missing, ", ")))
	}

	for _, r := range c.DiscordToken {
		if unicode.IsControl(r) {
			result.Fatals = append(result.Fatals, fmt.Errorf("discord_token contains control characters"))
			break
		}
	}

	for name, id := range map[string]string{
		"channel_id":    c.ChannelID,
		"guild_id":      c.GuildID,
		"admin_role_id": c.AdminRoleID,
	} {
		if id == "" {
			continue
		}
		if _, err := strconv.ParseUint(id, 10, 64); err != nil {
			result.Fatals = append(result.Fatals, fmt.Errorf("%s %q is not a numeric snowflake", name, id))
		}
	}

	result.Warnings = append(result.Warnings, c.clamp()...)

	if len(c.MonitorUsers) == 0 {
		result.Warnings = append(result.Warnings, fmt.Errorf("monitor_users is empty, falling back to %q", DefaultMonitorUsers))
		c.MonitorUsersRaw = DefaultMonitorUsers
		c.MonitorUsers = ParseUsers(DefaultMonitorUsers)
	}

	if c.GeoLookupEnabled {
		u, err := url.Parse(c.GeoProviderURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			result.Warnings = append(result.Warnings, fmt.Errorf("geo_provider_url %q is not an http(s) URL, disabling geo lookup", c.GeoProviderURL))
			c.GeoLookupEnabled = false
		}
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		result.Warnings = append(result.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		result.Warnings = append(result.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	for _, err := range result.Warnings {
		slog.Warn("config validation", "error", err)
	}

	return result
}

func (c *Config) clamp() []error {
	var errs []error

	if c.PollSeconds < 5 {
		errs = append(errs, fmt.Errorf("poll_seconds %d is below minimum 5, clamping", c.PollSeconds))
		c.PollSeconds = 5
	} else if c.PollSeconds > 3600 {
		errs = append(errs, fmt.Errorf("poll_seconds %d exceeds maximum 3600, clamping", c.PollSeconds))
		c.PollSeconds = 3600
	}

	if c.SecurityPollSeconds < c.PollSeconds {
		errs = append(errs, fmt.Errorf("security_poll_seconds %d is below poll_seconds %d, clamping", c.SecurityPollSeconds, c.PollSeconds))
		c.SecurityPollSeconds = c.PollSeconds
	} else if c.SecurityPollSeconds > 86400 {
		errs = append(errs, fmt.Errorf("security_poll_seconds %d exceeds maximum 86400, clamping", c.SecurityPollSeconds))
		c.SecurityPollSeconds = 86400
	}

	if c.SecurityMaxEvents < 1 {
		errs = append(errs, fmt.Errorf("security_max_events %d is below minimum 1, clamping", c.SecurityMaxEvents))
		c.SecurityMaxEvents = 1
	} else if c.SecurityMaxEvents > 5000 {
		errs = append(errs, fmt.Errorf("security_max_events %d exceeds maximum 5000, clamping", c.SecurityMaxEvents))
		c.SecurityMaxEvents = 5000
	}

	if c.IdleThresholdMinutes < 0 {
		errs = append(errs, fmt.Errorf("idle_threshold_minutes %d is negative, clamping", c.IdleThresholdMinutes))
		c.IdleThresholdMinutes = 0
	}

	if c.DisconnectToleranceSeconds < 0 {
		errs = append(errs, fmt.Errorf("disconnect_tolerance_seconds %d is negative, using default", c.DisconnectToleranceSeconds))
		c.DisconnectToleranceSeconds = 0
	}

	if c.GeoSuccessTTLHours < 1 {
		errs = append(errs, fmt.Errorf("geo_success_ttl_hours %d is below minimum 1, clamping", c.GeoSuccessTTLHours))
		c.GeoSuccessTTLHours = 1
	}
	if c.GeoFailureTTLMinutes < 1 {
		errs = append(errs, fmt.Errorf("geo_failure_ttl_minutes %d is below minimum 1, clamping", c.GeoFailureTTLMinutes))
		c.GeoFailureTTLMinutes = 1
	}
	if c.GeoLogSuppressSeconds < 0 {
		errs = append(errs, fmt.Errorf("geo_log_suppress_seconds %d is negative, clamping", c.GeoLogSuppressSeconds))
		c.GeoLogSuppressSeconds = 0
	}

	return errs
}
