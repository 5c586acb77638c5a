package panel

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/breeze-rmm/session-panel/internal/monitor"
)

const (
	dotBusy = ":red_circle:"
	dotIdle = ":yellow_circle:"
	dotAway = ":green_circle:"
)

type Options struct {
	Hostname string
	// Aliases maps lower-cased usernames to display names.
	Aliases map[string]string
	// Location is used for event timestamps; nil means time.Local.
	Location *time.Location
}

// Renderer turns reconciled rows into a panel Document. Render is a pure
// function of its arguments and the options.
type Renderer struct {
	title   string
	aliases map[string]string
	loc     *time.Location
}

func NewRenderer(opts Options) *Renderer {
	hostname := opts.Hostname
	if hostname == "" {
		hostname = Hostname()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	return &Renderer{
		title:   fmt.Sprintf("RDP Session Monitor (%s)", hostname),
		aliases: opts.Aliases,
		loc:     loc,
	}
}

// Hostname returns this host's name, or "unknown".
func Hostname() string {
	if info, err := host.Info(); err == nil && info.Hostname != "" {
		return info.Hostname
	}
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return "unknown"
}

// Render builds the panel for rows as of now.
func (r *Renderer) Render(rows []monitor.Row, now time.Time) Document {
	doc := Document{
		Title:       r.title,
		Color:       Color,
		Footer:      "Last checked",
		Fields:      make([]Field, 0, len(rows)),
		LastChecked: now,
	}
	for _, row := range rows {
		doc.Fields = append(doc.Fields, Field{
			Name:  statusDot(row) + " " + r.displayName(row.Username),
			Value: r.fieldValue(row, now),
		})
	}
	return doc
}

func (r *Renderer) displayName(username string) string {
	if alias, ok := r.aliases[strings.ToLower(username)]; ok && alias != "" {
		return alias
	}
	return username
}

// statusDot is busy for an engaged active session, idle for an active one
// and away otherwise.
func statusDot(row monitor.Row) string {
	switch {
	case row.Active() && row.Engaged:
		return dotBusy
	case row.Active():
		return dotIdle
	default:
		return dotAway
	}
}

func stateLabel(state string) string {
	if strings.EqualFold(state, "disc") {
		return "Disconnected"
	}
	return state
}

func (r *Renderer) fieldValue(row monitor.Row, now time.Time) string {
	if row.Active() {
		return strings.Join(activeLines(row, now), "\n")
	}

	lines := []string{fmt.Sprintf("State: `%s`", stateLabel(row.State))}
	switch {
	case row.AwaitingConfirmation:
		lines = append(lines, "Last Connected: `...`")
	case row.LastDisconnect != nil:
		lines = append(lines, r.lastConnected(*row.LastDisconnect, now))
	case row.LastLogon != nil:
		lines = append(lines, r.lastConnected(*row.LastLogon, now))
	case row.LogonTimeRaw != "":
		lines = append(lines, fmt.Sprintf("Last Connected: `%s`", FormatLogonTime(row.LogonTimeRaw)))
	default:
		lines = append(lines, "Last Connected: `-`")
	}
	return strings.Join(lines, "\n")
}

func activeLines(row monitor.Row, now time.Time) []string {
	idle := row.Idle.Raw
	if row.Idle.Minutes != nil {
		idle = FormatIdle(*row.Idle.Minutes)
	}
	engaged := "No"
	if row.Engaged {
		engaged = "Yes"
	}
	state := fmt.Sprintf("State: `%s` | Engaged: `%s` | Idle: `%s`", stateLabel(row.State), engaged, idle)

	conn := "Connected: `(unknown)`"
	if row.LastIP != "" {
		conn = fmt.Sprintf("Connected: `%s`", row.LastIP)
		if row.Geo != "" {
			conn += fmt.Sprintf(" (%s)", row.Geo)
		}
	}
	if row.LastLogon != nil {
		conn += fmt.Sprintf(" | `%s`", FormatDuration(elapsedMinutes(*row.LastLogon, now)))
	}
	return []string{state, conn}
}

func (r *Renderer) lastConnected(t, now time.Time) string {
	return fmt.Sprintf("Last Connected: `%s (%s)`", t.In(r.loc).Format(EventTimeLayout), FormatSince(t, now))
}
