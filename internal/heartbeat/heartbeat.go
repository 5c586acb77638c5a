package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/breeze-rmm/session-panel/internal/health"
	"github.com/breeze-rmm/session-panel/internal/logging"
	"github.com/breeze-rmm/session-panel/internal/monitor"
	"github.com/breeze-rmm/session-panel/internal/panel"
)

var log = logging.L("heartbeat")

// ErrStopped is returned by Refresh once the loop has stopped.
var ErrStopped = errors.New("heartbeat stopped")

const DefaultCleanupTimeout = 10 * time.Second

// Engine reconciles one tick.
type Engine interface {
	Tick(ctx context.Context, forceSecurity bool) []monitor.Row
}

// Renderer builds the panel document for a tick.
type Renderer interface {
	Render(rows []monitor.Row, now time.Time) panel.Document
}

// Publisher maintains the live panel message.
type Publisher interface {
	Ensure(ctx context.Context) error
	Publish(ctx context.Context, doc panel.Document) (bool, error)
	Shutdown(ctx context.Context, timeout time.Duration)
}

// Snapshot is the outcome of the most recent tick.
type Snapshot struct {
	Rows        []monitor.Row  `json:"rows"`
	Document    panel.Document `json:"document"`
	Fingerprint string         `json:"fingerprint"`
	TickedAt    time.Time      `json:"tickedAt"`
	Published   bool           `json:"published"`
	DurationMs  int64          `json:"durationMs"`
}

type Options struct {
	Interval       time.Duration
	CleanupTimeout time.Duration
	Engine         Engine
	Renderer       Renderer
	Publisher      Publisher
	Health         *health.Monitor
	Now            func() time.Time
}

type refreshRequest struct {
	ctx   context.Context
	reply chan refreshResult
}

type refreshResult struct {
	doc panel.Document
	err error
}

// Heartbeat runs reconciliation ticks on a fixed interval from a single
// goroutine. On-demand refreshes are queued onto the same goroutine so two
// ticks never run at once.
type Heartbeat struct {
	interval       time.Duration
	cleanupTimeout time.Duration
	engine         Engine
	renderer       Renderer
	publisher      Publisher
	health         *health.Monitor
	now            func() time.Time

	refreshCh chan refreshRequest
	stopChan  chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
	snapshot  atomic.Pointer[Snapshot]
}

func New(opts Options) *Heartbeat {
	h := &Heartbeat{
		interval:       opts.Interval,
		cleanupTimeout: opts.CleanupTimeout,
		engine:         opts.Engine,
		renderer:       opts.Renderer,
		publisher:      opts.Publisher,
		health:         opts.Health,
		now:            opts.Now,
		refreshCh:      make(chan refreshRequest),
		stopChan:       make(chan struct{}),
		done:           make(chan struct{}),
	}
	if h.interval <= 0 {
		h.interval = 15 * time.Second
	}
	if h.cleanupTimeout <= 0 {
		h.cleanupTimeout = DefaultCleanupTimeout
	}
	if h.health == nil {
		h.health = health.NewMonitor()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// Start ensures the panel message exists, runs an immediate tick and then
// ticks every interval until Stop. It blocks; on return the panel message
// has been removed on a best-effort basis. An error is returned only when
// the panel message cannot be set up.
func (h *Heartbeat) Start(ctx context.Context) error {
	defer close(h.done)

	if err := h.publisher.Ensure(ctx); err != nil {
		h.health.Update(health.Panel, health.Unhealthy, err.Error())
		return fmt.Errorf("set up panel message: %w", err)
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.tick(ctx, false)

	for {
		select {
		case <-ticker.C:
			h.tick(ctx, false)
		case req := <-h.refreshCh:
			log.Info("manual refresh requested")
			doc, err := h.tick(req.ctx, true)
			req.reply <- refreshResult{doc: doc, err: err}
		case <-h.stopChan:
			h.cleanup()
			return nil
		case <-ctx.Done():
			h.cleanup()
			return nil
		}
	}
}

// Stop ends the loop. It is safe to call more than once.
func (h *Heartbeat) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopChan)
	})
}

// Done is closed when Start has returned.
func (h *Heartbeat) Done() <-chan struct{} {
	return h.done
}

// Refresh runs a tick with a forced Security log refresh on the loop
// goroutine and returns the resulting panel.
func (h *Heartbeat) Refresh(ctx context.Context) (panel.Document, error) {
	req := refreshRequest{ctx: ctx, reply: make(chan refreshResult, 1)}
	select {
	case h.refreshCh <- req:
	case <-h.stopChan:
		return panel.Document{}, ErrStopped
	case <-h.done:
		return panel.Document{}, ErrStopped
	case <-ctx.Done():
		return panel.Document{}, ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res.doc, res.err
	case <-ctx.Done():
		return panel.Document{}, ctx.Err()
	}
}

// CurrentPanel returns the last rendered panel.
func (h *Heartbeat) CurrentPanel() (panel.Document, bool) {
	snap := h.snapshot.Load()
	if snap == nil {
		return panel.Document{}, false
	}
	return snap.Document, true
}

// Snapshot returns the outcome of the last tick.
func (h *Heartbeat) Snapshot() (Snapshot, bool) {
	snap := h.snapshot.Load()
	if snap == nil {
		return Snapshot{}, false
	}
	return *snap, true
}

func (h *Heartbeat) tick(ctx context.Context, force bool) (panel.Document, error) {
	start := h.now()
	rows := h.engine.Tick(ctx, force)
	doc := h.renderer.Render(rows, start)

	published, err := h.publisher.Publish(ctx, doc)
	if err != nil {
		log.Warn("panel update failed", logging.KeyError, err.Error())
		h.health.Update(health.Panel, health.Degraded, err.Error())
	} else {
		h.health.Update(health.Panel, health.Healthy, "")
	}

	snap := &Snapshot{
		Rows:        rows,
		Document:    doc,
		Fingerprint: doc.Fingerprint(),
		TickedAt:    start,
		Published:   published,
		DurationMs:  h.now().Sub(start).Milliseconds(),
	}
	h.snapshot.Store(snap)

	log.Debug("tick complete",
		"users", len(rows),
		"published", published,
		logging.KeyFingerprint, snap.Fingerprint,
		logging.KeyDurationMs, snap.DurationMs)
	return doc, err
}

func (h *Heartbeat) cleanup() {
	log.Info("removing panel message")
	h.publisher.Shutdown(context.Background(), h.cleanupTimeout)
}
