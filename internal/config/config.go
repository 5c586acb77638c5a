package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultMonitorUsers is used when MONITOR_USERS is unset.
const DefaultMonitorUsers = "16aa,cantina,16aa_public,16aa_testing"

// ErrMissingRequired is wrapped by Load when a required variable is unset.
var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DiscordToken string `mapstructure:"discord_token"`
	ChannelID    string `mapstructure:"channel_id"`
	GuildID      string `mapstructure:"guild_id"`
	AdminRoleID  string `mapstructure:"admin_role_id"`

	MonitorUsersRaw string `mapstructure:"monitor_users"`
	UserAliasesRaw  string `mapstructure:"user_aliases"`

	IdleThresholdMinutes       int `mapstructure:"idle_threshold_minutes"`
	PollSeconds                int `mapstructure:"poll_seconds"`
	SecurityPollSeconds        int `mapstructure:"security_poll_seconds"`
	SecurityMaxEvents          int `mapstructure:"security_max_events"`
	DisconnectToleranceSeconds int `mapstructure:"disconnect_tolerance_seconds"`

	TrackDisconnectsRaw string `mapstructure:"track_disconnects"`
	SlashCommandsRaw    string `mapstructure:"slash_commands"`
	GeoLookupEnabledRaw string `mapstructure:"geolookup_enabled"`
	JournalEnabledRaw   string `mapstructure:"journal_enabled"`

	GeoProviderURL        string `mapstructure:"geo_provider_url"`
	GeoSuccessTTLHours    int    `mapstructure:"geo_success_ttl_hours"`
	GeoFailureTTLMinutes  int    `mapstructure:"geo_failure_ttl_minutes"`
	GeoLogSuppressSeconds int    `mapstructure:"geo_log_suppress_seconds"`

	DataDir          string `mapstructure:"data_dir"`
	LogLevel         string `mapstructure:"log_level"`
	LogFormat        string `mapstructure:"log_format"`
	LogFile          string `mapstructure:"log_file"`
	StatusListenAddr string `mapstructure:"status_listen_addr"`

	// Derived by Load from the raw fields above.
	MonitorUsers     []string          `mapstructure:"-"`
	UserAliases      map[string]string `mapstructure:"-"`
	TrackDisconnects bool              `mapstructure:"-"`
	SlashCommands    bool              `mapstructure:"-"`
	GeoLookupEnabled bool              `mapstructure:"-"`
	JournalEnabled   bool              `mapstructure:"-"`
}

var defaults = map[string]any{
	"discord_token":                "",
	"channel_id":                   "",
	"guild_id":                     "",
	"admin_role_id":                "",
	"monitor_users":                DefaultMonitorUsers,
	"user_aliases":                 "",
	"idle_threshold_minutes":       10,
	"poll_seconds":                 15,
	"security_poll_seconds":        60,
	"security_max_events":          250,
	"disconnect_tolerance_seconds": 0,
	"track_disconnects":            "true",
	"slash_commands":               "true",
	"geolookup_enabled":            "true",
	"journal_enabled":              "true",
	"geo_provider_url":             "http://ip-api.com/json/",
	"geo_success_ttl_hours":        24,
	"geo_failure_ttl_minutes":      30,
	"geo_log_suppress_seconds":     600,
	"data_dir":                     "data",
	"log_level":                    "info",
	"log_format":                   "text",
	"log_file":                     "",
	"status_listen_addr":           "",
}

func Default() *Config {
	cfg := &Config{
		MonitorUsersRaw:       DefaultMonitorUsers,
		IdleThresholdMinutes:  10,
		PollSeconds:           15,
		SecurityPollSeconds:   60,
		SecurityMaxEvents:     250,
		TrackDisconnectsRaw:   "true",
		SlashCommandsRaw:      "true",
		GeoLookupEnabledRaw:   "true",
		JournalEnabledRaw:     "true",
		GeoProviderURL:        "http://ip-api.com/json/",
		GeoSuccessTTLHours:    24,
		GeoFailureTTLMinutes:  30,
		GeoLogSuppressSeconds: 600,
		DataDir:               "data",
		LogLevel:              "info",
		LogFormat:             "text",
	}
	cfg.derive()
	return cfg
}

// Load reads configuration from the environment, layered over an optional
// dotenv or YAML file. With an empty cfgFile, ./.env is used when present.
// Required variables are not checked here; see ValidateTiered.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if cfgFile == "" {
		if _, err := os.Stat(".env"); err == nil {
			cfgFile = ".env"
		}
	}
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if strings.HasSuffix(cfgFile, ".env") {
			v.SetConfigType("env")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	cfg.derive()
	return cfg, nil
}

func (c *Config) derive() {
	c.MonitorUsers = ParseUsers(c.MonitorUsersRaw)
	c.UserAliases = ParseAliases(c.UserAliasesRaw)
	c.TrackDisconnects = ParseBool(c.TrackDisconnectsRaw, true)
	c.SlashCommands = ParseBool(c.SlashCommandsRaw, true)
	c.GeoLookupEnabled = ParseBool(c.GeoLookupEnabledRaw, true)
	c.JournalEnabled = ParseBool(c.JournalEnabledRaw, true)
}

// PollInterval is the session poll cadence, i.e. the tick interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollSeconds) * time.Second
}

// SecurityPollInterval is the cadence of Security log refreshes.
func (c *Config) SecurityPollInterval() time.Duration {
	return time.Duration(c.SecurityPollSeconds) * time.Second
}

// DisconnectTolerance is how far before a pending disconnect a logoff
// event may be and still confirm it. Zero means 2 x max(poll intervals).
func (c *Config) DisconnectTolerance() time.Duration {
	if c.DisconnectToleranceSeconds > 0 {
		return time.Duration(c.DisconnectToleranceSeconds) * time.Second
	}
	return 2 * max(c.PollInterval(), c.SecurityPollInterval())
}

// ParseUsers splits a comma list into lower-cased, de-duplicated usernames,
// preserving order.
func ParseUsers(raw string) []string {
	var users []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		users = append(users, name)
	}
	return users
}

// ParseAliases parses "user=Alias" pairs. Malformed pairs are skipped.
func ParseAliases(raw string) map[string]string {
	aliases := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if key != "" && value != "" {
			aliases[key] = value
		}
	}
	return aliases
}

// ParseBool accepts 1/true/yes/y/on as true; anything else non-empty is
// false and the empty string yields def.
func ParseBool(raw string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}
