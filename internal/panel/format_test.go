package panel

import (
	"testing"
	"time"
)

func TestFormatIdle(t *testing.T) {
	tests := map[int]string{
		0:    "0m",
		45:   "45m",
		135:  "2h 15m",
		1590: "1d 2h 30m",
	}
	for in, want := range tests {
		if got := FormatIdle(in); got != want {
			t.Errorf("FormatIdle(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := map[int]string{
		0:    "0m",
		7:    "7m",
		60:   "1h 0m",
		125:  "2h 5m",
		1500: "1d 1h",
	}
	for in, want := range tests {
		if got := FormatDuration(in); got != want {
			t.Errorf("FormatDuration(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatSince(t *testing.T) {
	base := time.Date(2026, 1, 18, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		at   time.Time
		want string
	}{
		{base.Add(-59 * time.Second), "just now"},
		{base.Add(time.Minute), "just now"},
		{base.Add(-90 * time.Second), "1m ago"},
		{base.Add(-3 * time.Hour), "3h 0m ago"},
	}
	for _, tt := range tests {
		if got := FormatSince(tt.at, base); got != tt.want {
			t.Errorf("FormatSince(%v) = %q, want %q", tt.at, got, tt.want)
		}
	}
}

func TestFormatLogonTime(t *testing.T) {
	tests := map[string]string{
		"1/18/2026 3:04 PM":    "1/18/2026 15:04",
		"1/18/2026 12:30 AM":   "1/18/2026 00:30",
		"1/18/2026 12:30 p.m.": "1/18/2026 12:30",
		"18.01.2026 09:15":     "18.01.2026 09:15",
		"18/01/2026 9:15:42":   "18/01/2026 09:15",
		"no time here":         "no time here",
		"":                     "",
	}
	for in, want := range tests {
		if got := FormatLogonTime(in); got != want {
			t.Errorf("FormatLogonTime(%q) = %q, want %q", in, got, want)
		}
	}
}
