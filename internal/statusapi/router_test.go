package statusapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/breeze-rmm/session-panel/internal/health"
	"github.com/breeze-rmm/session-panel/internal/heartbeat"
	"github.com/breeze-rmm/session-panel/internal/monitor"
	"github.com/breeze-rmm/session-panel/internal/panel"
)

type fakeSource struct {
	snap heartbeat.Snapshot
	ok   bool
}

func (f *fakeSource) Snapshot() (heartbeat.Snapshot, bool) { return f.snap, f.ok }

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal %s: %v (%s)", path, err, w.Body.String())
	}
	return w, body
}

func TestHealthEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hm := health.NewMonitor()
	r := NewRouter(Deps{Health: hm, Panel: &fakeSource{}})

	w, body := get(t, r, "/health")
	if w.Code != http.StatusOK || body["status"] != "unknown" {
		t.Fatalf("empty health = %d %v", w.Code, body)
	}

	hm.Update(health.Sessions, health.Healthy, "")
	hm.Update(health.Security, health.Degraded, "wevtutil failed")
	w, body = get(t, r, "/health")
	if w.Code != http.StatusOK || body["status"] != "degraded" {
		t.Fatalf("degraded health = %d %v", w.Code, body)
	}
	if checks, _ := body["checks"].([]any); len(checks) != 2 {
		t.Fatalf("checks = %v", body["checks"])
	}

	hm.Update(health.Panel, health.Unhealthy, "forbidden")
	w, _ = get(t, r, "/health")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("unhealthy code = %d", w.Code)
	}
}

func TestPanelEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	src := &fakeSource{}
	r := NewRouter(Deps{Health: health.NewMonitor(), Panel: src})

	w, _ := get(t, r, "/panel")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("pre-tick code = %d", w.Code)
	}

	doc := panel.Document{Title: "RDP Session Monitor (rdp-01)", Fields: []panel.Field{{Name: "alice", Value: "State: `Active`"}}}
	src.ok = true
	src.snap = heartbeat.Snapshot{
		Rows:        []monitor.Row{{Username: "alice", State: "Active", Engaged: true, LastIP: "1.2.3.4"}},
		Document:    doc,
		Fingerprint: doc.Fingerprint(),
		TickedAt:    time.Date(2026, 1, 18, 15, 0, 0, 0, time.UTC),
		Published:   true,
	}

	w, body := get(t, r, "/panel")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	rows, _ := body["rows"].([]any)
	if len(rows) != 1 {
		t.Fatalf("rows = %v", body["rows"])
	}
	row := rows[0].(map[string]any)
	if row["username"] != "alice" || row["lastIp"] != "1.2.3.4" || row["engaged"] != true {
		t.Fatalf("row = %v", row)
	}
	if body["fingerprint"] != doc.Fingerprint() {
		t.Fatalf("fingerprint = %v", body["fingerprint"])
	}
}

func TestListenServesRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv, err := Listen("127.0.0.1:0", NewRouter(Deps{Health: health.NewMonitor(), Panel: &fakeSource{}}))
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Shutdown(context.Background())

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
