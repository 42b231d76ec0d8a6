package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/worldorder/internal/engine"
	"github.com/talgya/worldorder/internal/entropy"
	"github.com/talgya/worldorder/internal/llm"
	"github.com/talgya/worldorder/internal/persistence"
	"github.com/talgya/worldorder/internal/world"
)

const adminKey = "sekrit"

const testScenario = `
name: Two Kingdoms
seed: 7
countries:
  - id: north
    name: Northmark
    power: 60
    stability: 70
    technology: 50
    resources: 60
    population: 12
    tensions:
      south: -20
  - id: south
    name: Southreach
    power: 40
    stability: 65
    technology: 45
    resources: 55
    population: 9
`

type fixture struct {
	srv      *Server
	registry *engine.Registry
	hub      *Hub
	handler  http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := persistence.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	hub := NewHub(0)
	t.Cleanup(hub.Close)

	registry := engine.NewRegistry(engine.Deps{
		Store:       db,
		Adjudicator: llm.NewOracle(nil),
		Rand:        entropy.NewSeeded(3),
		Sinks:       []engine.Sink{hub},
		Interval:    time.Hour,
	})
	t.Cleanup(registry.Shutdown)

	srv := &Server{
		Registry: registry,
		Events:   db,
		Hub:      hub,
		AdminKey: adminKey,
	}
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, registry: registry, hub: hub, handler: srv.Handler()}
}

func (f *fixture) do(t *testing.T, method, path, body string, admin bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if admin {
		req.Header.Set("Authorization", "Bearer "+adminKey)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) createRun(t *testing.T) RunSummary {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/runs", testScenario, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sum RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	return sum
}

func TestAdminAuth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/runs", testScenario, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	f.srv.AdminKey = ""
	rec = f.do(t, http.MethodPost, "/api/v1/runs", testScenario, true)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Reads stay public.
	rec = f.do(t, http.MethodGet, "/api/v1/runs", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateAndQueryRun(t *testing.T) {
	f := newFixture(t)
	sum := f.createRun(t)

	assert.NotEmpty(t, sum.RunID)
	assert.Equal(t, "Two Kingdoms", sum.Name)
	assert.Equal(t, world.StatusRunning, sum.Status)
	assert.Equal(t, engine.PhaseIdle, sum.Phase)
	assert.Equal(t, 2, sum.Countries)

	rec := f.do(t, http.MethodGet, "/api/v1/runs", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, sum.RunID, list[0].RunID)

	rec = f.do(t, http.MethodGet, "/api/v1/runs/"+sum.RunID+"/state", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	var st world.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	require.Len(t, st.Countries, 2)
	assert.Equal(t, -20.0, st.Country("north").Tensions["south"])
}

func TestManualTick(t *testing.T) {
	f := newFixture(t)
	sum := f.createRun(t)

	rec := f.do(t, http.MethodPost, "/api/v1/runs/"+sum.RunID+"/tick", "", true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var rep engine.TickReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.False(t, rep.Skipped)
	assert.Positive(t, rep.Events)

	rec = f.do(t, http.MethodGet, "/api/v1/runs/"+sum.RunID, "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	var after RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &after))
	assert.Equal(t, 1, after.Tick)
	assert.Equal(t, 1, after.Year)

	rec = f.do(t, http.MethodGet, "/api/v1/runs/"+sum.RunID+"/events?limit=1", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	var events []world.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, world.EventTickSummary, events[0].Type)

	rec = f.do(t, http.MethodGet, "/api/v1/runs/"+sum.RunID+"/events?limit=zero", "", false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTickRateLimited(t *testing.T) {
	f := newFixture(t)
	f.srv.TickLimiter = NewRateLimiter(1, time.Hour)
	f.handler = f.srv.Handler()
	sum := f.createRun(t)

	rec := f.do(t, http.MethodPost, "/api/v1/runs/"+sum.RunID+"/tick", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/v1/runs/"+sum.RunID+"/tick", "", true)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestReport(t *testing.T) {
	f := newFixture(t)
	sum := f.createRun(t)
	_, err := f.registry.TickNow(context.Background(), sum.RunID)
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/v1/runs/"+sum.RunID+"/report?chronicle=1", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	var rep struct {
		RunID     string `json:"run_id"`
		Year      int    `json:"year"`
		Countries int    `json:"countries"`
		Chronicle string `json:"chronicle"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Equal(t, sum.RunID, rep.RunID)
	assert.Equal(t, 1, rep.Year)
	assert.Equal(t, 2, rep.Countries)
	assert.Contains(t, rep.Chronicle, "TWO KINGDOMS CHRONICLE")
}

func TestInvalidScenario(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/runs", "name: Empty\ncountries: []\n", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/runs", "{not yaml", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownRun(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/api/v1/runs/nope", "/api/v1/runs/nope/state", "/api/v1/runs/nope/events", "/api/v1/runs/nope/report"} {
		rec := f.do(t, http.MethodGet, path, "", false)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
	rec := f.do(t, http.MethodPost, "/api/v1/runs/nope/start", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodDelete, "/api/v1/runs/nope", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartPauseDelete(t *testing.T) {
	f := newFixture(t)
	sum := f.createRun(t)
	base := "/api/v1/runs/" + sum.RunID

	rec := f.do(t, http.MethodPost, base+"/start", "", true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, base+"/pause", "", true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var paused RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &paused))
	assert.Equal(t, world.StatusPaused, paused.Status)
	assert.Equal(t, engine.PhasePaused, paused.Phase)

	rec = f.do(t, http.MethodDelete, base, "", true)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodGet, base, "", false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamReceivesTickEvents(t *testing.T) {
	f := newFixture(t)
	sum := f.createRun(t)

	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/runs/" + sum.RunID + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.hub.Subscribers(sum.RunID) == 1 }, time.Second, 10*time.Millisecond)

	_, err = f.registry.TickNow(context.Background(), sum.RunID)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, sum.RunID, msg.RunID)
	assert.Equal(t, 0, msg.Event.Tick)
}

func TestHubIgnoresOtherRuns(t *testing.T) {
	h := NewHub(0)
	s := &subscriber{hub: h, runID: "a", send: make(chan []byte, 1)}
	require.True(t, h.register(s))

	h.Publish("b", world.Event{Type: world.EventWar})
	assert.Empty(t, s.send)

	h.Publish("a", world.Event{Type: world.EventWar})
	assert.Len(t, s.send, 1)

	// A full buffer drops the subscriber and closes its channel.
	h.Publish("a", world.Event{Type: world.EventWar})
	assert.Equal(t, 0, h.Subscribers("a"))
	<-s.send
	_, open := <-s.send
	assert.False(t, open)
}

func TestHubConnectionLimit(t *testing.T) {
	h := NewHub(1)
	require.True(t, h.register(&subscriber{hub: h, runID: "a", send: make(chan []byte, 1)}))
	assert.False(t, h.register(&subscriber{hub: h, runID: "a", send: make(chan []byte, 1)}))
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Stop()
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("1.2.3.4"))
	assert.False(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("5.6.7.8"))
	assert.Equal(t, 61, rl.RetryAfter("1.2.3.4"))

	now = now.Add(time.Minute)
	assert.True(t, rl.Allow("1.2.3.4"))

	now = now.Add(3 * time.Minute)
	rl.cleanup()
	assert.Equal(t, 0, rl.RetryAfter("5.6.7.8"))
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", clientIP(r))
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientIP(r))
}
