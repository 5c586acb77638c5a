//go:build !windows

package collectors

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/host"
)

// utmpSource lists logged-in users from utmp so the monitor can be
// exercised on development hosts without quser. Idle time is unknown.
type utmpSource struct {
	users func(ctx context.Context) ([]host.UserStat, error)
}

// NewSessionSource returns the session table reader for this platform.
func NewSessionSource() SessionSource {
	return &utmpSource{users: host.UsersWithContext}
}

// NewSecuritySource returns nil: there is no Security log to read here, so
// no logon or disconnect events are ever known.
func NewSecuritySource() SecurityEventSource {
	return nil
}

func (s *utmpSource) Sessions(ctx context.Context) (map[string]SessionInfo, error) {
	stats, err := s.users(ctx)
	if err != nil {
		return map[string]SessionInfo{}, fmt.Errorf("list users: %w", err)
	}

	sessions := make(map[string]SessionInfo, len(stats))
	for _, stat := range stats {
		name := strings.ToLower(strings.TrimSpace(stat.User))
		if name == "" {
			continue
		}
		info := SessionInfo{
			Username:    name,
			SessionName: stat.Terminal,
			State:       "Active",
			Idle:        IdleInfo{Raw: "?"},
		}
		if stat.Started > 0 {
			info.LogonTimeRaw = time.Unix(int64(stat.Started), 0).Format("1/2/2006 3:04 PM")
		}
		sessions[name] = info
	}
	return sessions, nil
}
