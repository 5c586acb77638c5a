package panel

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// EventTimeLayout is used for Security log timestamps, in local time.
const EventTimeLayout = "02/01/2006 15:04"

// FormatIdle renders idle minutes as "Xm", "Hh Mm" or "Dd Hh Mm".
func FormatIdle(minutes int) string {
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	hours, mins := minutes/60, minutes%60
	if hours < 24 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dd %dh %dm", hours/24, hours%24, mins)
}

// FormatDuration renders a whole-minute duration as "0m", "Xm", "Hh Mm"
// or "Dd Hh".
func FormatDuration(minutes int) string {
	if minutes < 1 {
		return "0m"
	}
	hours, mins := minutes/60, minutes%60
	switch {
	case hours == 0:
		return fmt.Sprintf("%dm", mins)
	case hours < 24:
		return fmt.Sprintf("%dh %dm", hours, mins)
	default:
		return fmt.Sprintf("%dd %dh", hours/24, hours%24)
	}
}

// FormatSince renders the time elapsed from t to now as "just now" or
// "<duration> ago". Future times count as now.
func FormatSince(t, now time.Time) string {
	minutes := elapsedMinutes(t, now)
	if minutes < 1 {
		return "just now"
	}
	return FormatDuration(minutes) + " ago"
}

func elapsedMinutes(t, now time.Time) int {
	d := now.Sub(t)
	if d < 0 {
		return 0
	}
	return int(d / time.Minute)
}

var clockRegex = regexp.MustCompile(`(?i)(\d{1,2}):(\d{2})(?::\d{2})?\s*([ap]\.?m\.?)?`)

// FormatLogonTime rewrites the first clock time in a quser LOGON TIME value
// to 24-hour "HH:MM", leaving the rest untouched:
// "1/18/2026 3:04 PM" becomes "1/18/2026 15:04".
func FormatLogonTime(raw string) string {
	loc := clockRegex.FindStringSubmatchIndex(raw)
	if loc == nil {
		return raw
	}
	hour, _ := strconv.Atoi(raw[loc[2]:loc[3]])
	minute, _ := strconv.Atoi(raw[loc[4]:loc[5]])

	if loc[6] >= 0 {
		switch strings.ToLower(strings.ReplaceAll(raw[loc[6]:loc[7]], ".", "")) {
		case "pm":
			if hour < 12 {
				hour += 12
			}
		case "am":
			if hour == 12 {
				hour = 0
			}
		}
	}
	return fmt.Sprintf("%s%02d:%02d%s", raw[:loc[0]], hour, minute, raw[loc[1]:])
}
