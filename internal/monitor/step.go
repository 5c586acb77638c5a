package monitor

import (
	"strings"
	"time"

	"github.com/breeze-rmm/session-panel/internal/collectors"
)

const (
	stateActive  = "active"
	stateMissing = "missing"

	// MissingLabel is the state shown for users absent from the session table.
	MissingLabel = "Missing"
)

// Params are the reconciliation settings that stay fixed across ticks.
type Params struct {
	// Users are the monitored usernames, lower-cased, in display order.
	Users                []string
	IdleThresholdMinutes int
	// Tolerance widens the window in which a disconnect event confirms a
	// pending disconnect: an event at or after since-Tolerance counts.
	Tolerance time.Duration
	// TrackDisconnects enables pending-disconnect tracking. Without it no
	// user is ever pending.
	TrackDisconnects bool
}

// SecuritySnapshot is one fetch of the Security log.
type SecuritySnapshot struct {
	Logons      map[string]collectors.RDPEvent `json:"logons"`
	Disconnects map[string]collectors.RDPEvent `json:"disconnects"`
	FetchedAt   time.Time                      `json:"fetchedAt"`
}

func (s SecuritySnapshot) clone() SecuritySnapshot {
	out := SecuritySnapshot{
		Logons:      make(map[string]collectors.RDPEvent, len(s.Logons)),
		Disconnects: make(map[string]collectors.RDPEvent, len(s.Disconnects)),
		FetchedAt:   s.FetchedAt,
	}
	for k, v := range s.Logons {
		out.Logons[k] = v
	}
	for k, v := range s.Disconnects {
		out.Disconnects[k] = v
	}
	return out
}

// Inputs is what a single tick observed.
type Inputs struct {
	Now      time.Time
	Sessions map[string]collectors.SessionInfo
	// Security is set only on ticks that refreshed the Security log; nil
	// means the snapshot held in State is reused.
	Security *SecuritySnapshot
}

// State is the reconciliation state carried from one tick to the next.
type State struct {
	// PrevStates holds the lower-cased state each user had on the last
	// tick, "missing" when absent. Users never seen are not present.
	PrevStates   map[string]string    `json:"prevStates"`
	PendingSince map[string]time.Time `json:"pendingSince"`
	Security     SecuritySnapshot     `json:"security"`
}

// NewState returns the cold-start state: no history, nothing pending.
func NewState() State {
	return State{
		PrevStates:   make(map[string]string),
		PendingSince: make(map[string]time.Time),
		Security:     SecuritySnapshot{}.clone(),
	}
}

func (s State) clone() State {
	out := State{
		PrevStates:   make(map[string]string, len(s.PrevStates)),
		PendingSince: make(map[string]time.Time, len(s.PendingSince)),
		Security:     s.Security.clone(),
	}
	for k, v := range s.PrevStates {
		out.PrevStates[k] = v
	}
	for k, v := range s.PendingSince {
		out.PendingSince[k] = v
	}
	return out
}

// Row is the reconciled view of one monitored user.
type Row struct {
	Username     string              `json:"username" yaml:"username"`
	State        string              `json:"state" yaml:"state"`
	Idle         collectors.IdleInfo `json:"idle" yaml:"idle"`
	Engaged      bool                `json:"engaged" yaml:"engaged"`
	SessionID    string              `json:"sessionId,omitempty" yaml:"sessionId,omitempty"`
	SessionName  string              `json:"sessionName,omitempty" yaml:"sessionName,omitempty"`
	LogonTimeRaw string              `json:"logonTimeRaw,omitempty" yaml:"logonTimeRaw,omitempty"`

	LastIP         string     `json:"lastIp,omitempty" yaml:"lastIp,omitempty"`
	LastLogon      *time.Time `json:"lastLogon,omitempty" yaml:"lastLogon,omitempty"`
	LastDisconnect *time.Time `json:"lastDisconnect,omitempty" yaml:"lastDisconnect,omitempty"`
	Geo            string     `json:"geo,omitempty" yaml:"geo,omitempty"`

	PendingSince *time.Time `json:"pendingSince,omitempty" yaml:"pendingSince,omitempty"`
	// AwaitingConfirmation is set while a disconnect is pending and no
	// known disconnect event falls inside the tolerance window.
	AwaitingConfirmation bool `json:"awaitingConfirmation" yaml:"awaitingConfirmation"`
}

// Active reports whether the session table lists the user as active.
func (r Row) Active() bool {
	return strings.EqualFold(r.State, stateActive)
}

// Missing reports whether the user was absent from the session table.
func (r Row) Missing() bool {
	return r.State == MissingLabel
}

// Step reconciles one tick. It does not modify prior and performs no I/O;
// geo enrichment is left to the caller.
func Step(p Params, in Inputs, prior State) ([]Row, State) {
	next := prior.clone()

	for _, user := range p.Users {
		current := stateMissing
		if info, ok := in.Sessions[user]; ok {
			current = strings.ToLower(strings.TrimSpace(info.State))
		}

		if p.TrackDisconnects {
			switch {
			case current == stateActive:
				delete(next.PendingSince, user)
			case next.PrevStates[user] == stateActive:
				next.PendingSince[user] = in.Now
			}
		}
		next.PrevStates[user] = current
	}

	if in.Security != nil {
		next.Security = in.Security.clone()
		for user, since := range next.PendingSince {
			if confirms(next.Security.Disconnects[user], since, p.Tolerance) {
				delete(next.PendingSince, user)
			}
		}
	}

	if !p.TrackDisconnects {
		clear(next.PendingSince)
	}

	rows := make([]Row, 0, len(p.Users))
	for _, user := range p.Users {
		rows = append(rows, buildRow(p, user, in.Sessions, next))
	}
	return rows, next
}

// confirms reports whether a disconnect event at or after since-tolerance
// exists.
func confirms(ev collectors.RDPEvent, since time.Time, tolerance time.Duration) bool {
	if ev.Time.IsZero() {
		return false
	}
	return !ev.Time.Before(since.Add(-tolerance))
}

func buildRow(p Params, user string, sessions map[string]collectors.SessionInfo, st State) Row {
	row := Row{Username: user}

	if info, ok := sessions[user]; ok {
		row.State = info.State
		row.Idle = info.Idle
		row.SessionID = info.SessionID
		row.SessionName = info.SessionName
		row.LogonTimeRaw = info.LogonTimeRaw
		row.Engaged = row.Active() && info.Idle.Minutes != nil && *info.Idle.Minutes <= p.IdleThresholdMinutes
	} else {
		row.State = MissingLabel
		row.Idle = collectors.IdleInfo{Raw: "(none)"}
	}

	if logon, ok := st.Security.Logons[user]; ok {
		row.LastIP = logon.IP
		row.LastLogon = timePtr(logon.Time)
	}
	disconnect := st.Security.Disconnects[user]
	row.LastDisconnect = timePtr(disconnect.Time)

	if since, ok := st.PendingSince[user]; ok {
		row.PendingSince = timePtr(since)
		row.AwaitingConfirmation = !confirms(disconnect, since, p.Tolerance)
	}
	return row
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
