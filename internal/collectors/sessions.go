package collectors

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/breeze-rmm/session-panel/internal/logging"
)

var log = logging.L("collectors")

var columnSplit = regexp.MustCompile(`\s{2,}`)

// QuserSource reads the session table from quser.exe.
type QuserSource struct {
	run func(ctx context.Context) ([]byte, error)
}

func NewQuserSource() *QuserSource {
	return &QuserSource{
		run: func(ctx context.Context) ([]byte, error) {
			return runTool(ctx, "quser")
		},
	}
}

// Sessions returns the current session table. A missing tool or empty
// output yields an empty map; the error is informational only.
func (s *QuserSource) Sessions(ctx context.Context) (map[string]SessionInfo, error) {
	out, err := s.run(ctx)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && strings.Contains(string(exitErr.Stderr), "No User exists") {
			return map[string]SessionInfo{}, nil
		}
		return map[string]SessionInfo{}, fmt.Errorf("quser: %w", err)
	}
	return ParseQuser(string(out)), nil
}

// ParseQuser parses quser's fixed-width table. Columns are separated by two
// or more spaces; a disconnected session has no SESSIONNAME, so its second
// column is the numeric ID.
func ParseQuser(output string) map[string]SessionInfo {
	sessions := make(map[string]SessionInfo)

	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		line = strings.TrimRight(line, "\r ")
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) < 2 {
		return sessions
	}

	for _, line := range lines[1:] {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), ">"))
		parts := columnSplit.Split(line, -1)
		if len(parts) < 5 {
			continue
		}

		info := SessionInfo{Username: strings.ToLower(strings.TrimSpace(parts[0]))}
		if isDigits(parts[1]) {
			info.SessionID = parts[1]
			info.State = parts[2]
			info.Idle = ParseIdle(parts[3])
			info.LogonTimeRaw = strings.TrimSpace(strings.Join(parts[4:], " "))
		} else {
			info.SessionName = parts[1]
			info.SessionID = parts[2]
			info.State = parts[3]
			info.Idle = ParseIdle(parts[4])
			if len(parts) > 5 {
				info.LogonTimeRaw = strings.TrimSpace(strings.Join(parts[5:], " "))
			}
		}
		if info.Username == "" {
			continue
		}
		sessions[info.Username] = info
	}

	return sessions
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
