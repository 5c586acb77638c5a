package collectors

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// IdleInfo is the idle column as reported by the OS plus its value in
// minutes when it could be parsed. Minutes is nil for unparsable input.
type IdleInfo struct {
	Raw     string `json:"raw" yaml:"raw"`
	Minutes *int   `json:"minutes,omitempty" yaml:"minutes,omitempty"`
}

// SessionInfo is one interactive session from the session table.
type SessionInfo struct {
	Username     string   `json:"username" yaml:"username"`
	SessionName  string   `json:"sessionName,omitempty" yaml:"sessionName,omitempty"`
	SessionID    string   `json:"sessionId,omitempty" yaml:"sessionId,omitempty"`
	State        string   `json:"state" yaml:"state"`
	Idle         IdleInfo `json:"idle" yaml:"idle"`
	LogonTimeRaw string   `json:"logonTimeRaw,omitempty" yaml:"logonTimeRaw,omitempty"`
}

// RDPEvent is the latest logon or disconnect seen for a user in the
// Security log. Either field may be empty.
type RDPEvent struct {
	IP   string    `json:"ip,omitempty" yaml:"ip,omitempty"`
	Time time.Time `json:"time,omitempty" yaml:"time,omitempty"`
}

// SessionSource enumerates the interactive sessions on this host, keyed by
// lower-cased username.
type SessionSource interface {
	Sessions(ctx context.Context) (map[string]SessionInfo, error)
}

// SecurityEventSource reports the latest RDP logon and disconnect events
// per wanted username, scanning at most maxEvents records of each kind.
type SecurityEventSource interface {
	LatestLogons(ctx context.Context, usernames []string, maxEvents int) (map[string]RDPEvent, error)
	LatestDisconnects(ctx context.Context, usernames []string, maxEvents int) (map[string]RDPEvent, error)
}

var (
	idleDaysRegex  = regexp.MustCompile(`^(\d+)\+(\d+):(\d+)$`)
	idleHoursRegex = regexp.MustCompile(`^(\d+):(\d+)$`)
	idleMinsRegex  = regexp.MustCompile(`^\d+$`)
)

// ParseIdle parses quser idle values: "D+HH:MM", "HH:MM", plain minutes,
// and "."/"none"/"" meaning no idle time.
func ParseIdle(raw string) IdleInfo {
	return IdleInfo{Raw: raw, Minutes: parseIdleMinutes(raw)}
}

func parseIdleMinutes(raw string) *int {
	value := strings.TrimSpace(raw)
	switch strings.ToLower(value) {
	case "", ".", "none":
		return intPtr(0)
	}

	if m := idleDaysRegex.FindStringSubmatch(value); m != nil {
		days, _ := strconv.Atoi(m[1])
		hours, _ := strconv.Atoi(m[2])
		mins, _ := strconv.Atoi(m[3])
		return intPtr((days*24+hours)*60 + mins)
	}
	if m := idleHoursRegex.FindStringSubmatch(value); m != nil {
		hours, _ := strconv.Atoi(m[1])
		mins, _ := strconv.Atoi(m[2])
		return intPtr(hours*60 + mins)
	}
	if idleMinsRegex.MatchString(value) {
		mins, err := strconv.Atoi(value)
		if err != nil {
			return nil
		}
		return intPtr(mins)
	}
	return nil
}

func intPtr(v int) *int {
	return &v
}
