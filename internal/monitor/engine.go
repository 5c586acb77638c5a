package monitor

import (
	"context"
	"time"

	"github.com/breeze-rmm/session-panel/internal/collectors"
	"github.com/breeze-rmm/session-panel/internal/health"
	"github.com/breeze-rmm/session-panel/internal/journal"
	"github.com/breeze-rmm/session-panel/internal/logging"
)

var log = logging.L("monitor")

// GeoResolver maps an IP to a location summary, "" when unknown.
type GeoResolver interface {
	Resolve(ctx context.Context, ip string) string
}

// Recorder receives session transitions, e.g. *journal.Journal.
type Recorder interface {
	Record(event, user string, details map[string]any)
}

// geoStatus is implemented by resolvers that can report their last failure.
type geoStatus interface {
	LastFailure() string
}

type Options struct {
	Params Params
	// SecurityInterval is the minimum time between Security log queries.
	SecurityInterval time.Duration
	MaxEvents        int

	Sessions collectors.SessionSource
	// Security may be nil, in which case no events are ever known.
	Security collectors.SecurityEventSource
	// Geo may be nil to disable enrichment.
	Geo    GeoResolver
	Health *health.Monitor
	// Journal may be nil.
	Journal Recorder
	Now     func() time.Time
}

// Engine drives Step with live sources. It is owned by a single goroutine.
type Engine struct {
	params           Params
	securityInterval time.Duration
	maxEvents        int

	sessions collectors.SessionSource
	security collectors.SecurityEventSource
	geo      GeoResolver
	health   *health.Monitor
	journal  Recorder
	now      func() time.Time

	state            State
	lastSecurityPoll time.Time
}

func NewEngine(opts Options) *Engine {
	e := &Engine{
		params:           opts.Params,
		securityInterval: opts.SecurityInterval,
		maxEvents:        opts.MaxEvents,
		sessions:         opts.Sessions,
		security:         opts.Security,
		geo:              opts.Geo,
		health:           opts.Health,
		journal:          opts.Journal,
		now:              opts.Now,
		state:            NewState(),
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.health == nil {
		e.health = health.NewMonitor()
	}
	if e.maxEvents <= 0 {
		e.maxEvents = 250
	}
	return e
}

// Params returns the reconciliation settings.
func (e *Engine) Params() Params {
	return e.params
}

// State returns a copy of the current reconciliation state.
func (e *Engine) State() State {
	return e.state.clone()
}

// Tick runs one reconciliation. forceSecurity refreshes the Security log
// even when the security interval has not elapsed. Source failures degrade
// to "no data" and are reported to the health monitor.
func (e *Engine) Tick(ctx context.Context, forceSecurity bool) []Row {
	now := e.now().UTC()
	ctx = logging.NewContext(ctx, log.With("forced", forceSecurity))

	in := Inputs{Now: now, Sessions: e.fetchSessions(ctx)}
	if forceSecurity || e.securityDue(now) {
		in.Security = e.fetchSecurity(ctx, now)
		e.lastSecurityPoll = now
	}

	rows, next := Step(e.params, in, e.state)
	e.logTransitions(e.state, next)
	e.state = next

	e.enrich(ctx, rows)
	return rows
}

func (e *Engine) securityDue(now time.Time) bool {
	if e.lastSecurityPoll.IsZero() {
		return true
	}
	return now.Sub(e.lastSecurityPoll) >= e.securityInterval
}

func (e *Engine) fetchSessions(ctx context.Context) map[string]collectors.SessionInfo {
	sessions, err := e.sessions.Sessions(ctx)
	if err != nil {
		logging.FromContext(ctx).Warn("session query failed", logging.KeyError, err.Error())
		e.health.Update(health.Sessions, health.Degraded, err.Error())
	} else {
		e.health.Update(health.Sessions, health.Healthy, "")
	}
	if sessions == nil {
		sessions = make(map[string]collectors.SessionInfo)
	}
	return sessions
}

// fetchSecurity queries logons and, when tracked, disconnects. A failed
// half keeps the previous snapshot's data; nil is returned only when
// nothing could be fetched.
func (e *Engine) fetchSecurity(ctx context.Context, now time.Time) *SecuritySnapshot {
	if e.security == nil {
		return nil
	}

	l := logging.FromContext(ctx)
	start := time.Now()
	prev := e.state.Security
	snap := SecuritySnapshot{FetchedAt: now, Logons: prev.Logons, Disconnects: prev.Disconnects}
	var failures []string

	logons, err := e.security.LatestLogons(ctx, e.params.Users, e.maxEvents)
	if err != nil {
		failures = append(failures, err.Error())
		l.Warn("security logon query failed", logging.KeyError, err.Error())
	} else {
		snap.Logons = logons
	}

	if e.params.TrackDisconnects {
		disconnects, err := e.security.LatestDisconnects(ctx, e.params.Users, e.maxEvents)
		if err != nil {
			failures = append(failures, err.Error())
			l.Warn("security disconnect query failed", logging.KeyError, err.Error())
		} else {
			snap.Disconnects = disconnects
		}
	}

	switch {
	case len(failures) == 0:
		e.health.Update(health.Security, health.Healthy, "")
	case len(failures) == 1 && e.params.TrackDisconnects:
		e.health.Update(health.Security, health.Degraded, failures[0])
	default:
		e.health.Update(health.Security, health.Unhealthy, failures[0])
		return nil
	}

	l.Debug("security log refreshed",
		"logons", len(snap.Logons),
		"disconnects", len(snap.Disconnects),
		logging.KeyDurationMs, time.Since(start).Milliseconds())
	return &snap
}

// enrich resolves geo summaries for active rows, the only rows that show one.
func (e *Engine) enrich(ctx context.Context, rows []Row) {
	if e.geo == nil {
		return
	}
	looked := false
	for i := range rows {
		if !rows[i].Active() || rows[i].LastIP == "" {
			continue
		}
		rows[i].Geo = e.geo.Resolve(ctx, rows[i].LastIP)
		looked = true
	}

	if gs, ok := e.geo.(geoStatus); ok && looked {
		if reason := gs.LastFailure(); reason != "" {
			e.health.Update(health.Geo, health.Degraded, reason)
		} else {
			e.health.Update(health.Geo, health.Healthy, "")
		}
	}
}

func (e *Engine) logTransitions(prev, next State) {
	for _, user := range e.params.Users {
		_, was := prev.PendingSince[user]
		_, is := next.PendingSince[user]
		l := logging.WithUser(log, user)
		switch {
		case !was && is:
			l.Info("session left active state, awaiting disconnect event", "state", next.PrevStates[user])
			e.record(journal.EventSessionPending, user, map[string]any{"state": next.PrevStates[user]})
		case was && !is && next.PrevStates[user] == stateActive:
			l.Info("session active again")
			e.record(journal.EventSessionResumed, user, nil)
		case was && !is:
			l.Info("disconnect confirmed by security log")
			e.record(journal.EventSessionConfirmed, user, map[string]any{"state": next.PrevStates[user]})
		}
	}
}

func (e *Engine) record(event, user string, details map[string]any) {
	if e.journal != nil {
		e.journal.Record(event, user, details)
	}
}
