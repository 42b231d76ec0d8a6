package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/worldorder/internal/api"
	"github.com/talgya/worldorder/internal/engine"
	"github.com/talgya/worldorder/internal/entropy"
	"github.com/talgya/worldorder/internal/llm"
	"github.com/talgya/worldorder/internal/persistence"
	"github.com/talgya/worldorder/internal/world"
)

const scenarioYAML = `
name: Archipelago
seed: 11
countries:
  - id: isle
    name: Isle Royal
    power: 40
    stability: 60
  - id: reef
    name: Reef League
    power: 38
    stability: 62
`

func newServer(t *testing.T) (*httptest.Server, *api.Hub) {
	t.Helper()
	db, err := persistence.Open(filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	hub := api.NewHub(0)
	t.Cleanup(hub.Close)
	registry := engine.NewRegistry(engine.Deps{
		Store:       db,
		Adjudicator: llm.NewOracle(nil),
		Rand:        entropy.NewSeeded(5),
		Sinks:       []engine.Sink{hub},
		Interval:    time.Hour,
	})
	t.Cleanup(registry.Shutdown)

	srv := &api.Server{Registry: registry, Events: db, Hub: hub, AdminKey: "k"}
	t.Cleanup(srv.Close)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, hub
}

func TestClientLifecycle(t *testing.T) {
	ts, _ := newServer(t)
	ctx := context.Background()
	c := New(ts.URL+"/", "k")

	require.NoError(t, c.WaitReady(ctx))

	run, err := c.Create(ctx, []byte(scenarioYAML), false)
	require.NoError(t, err)
	assert.Equal(t, "Archipelago", run.Name)

	runs, err := c.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	rep, err := c.Tick(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Tick)
	assert.Positive(t, rep.Events)
	require.False(t, rep.Terminated, "fixture must not satisfy a termination rule: %s", rep.Reason)

	st, err := c.State(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Year)

	events, err := c.Events(ctx, run.RunID, 3)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(events), 3)

	r, err := c.Report(ctx, run.RunID, true)
	require.NoError(t, err)
	assert.Equal(t, run.RunID, r.RunID)
	assert.NotEmpty(t, r.Chronicle)

	paused, err := c.Pause(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, world.StatusPaused, paused.Status)

	require.NoError(t, c.Delete(ctx, run.RunID))
	_, err = c.Run(ctx, run.RunID)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestClientRequiresAdminKey(t *testing.T) {
	ts, _ := newServer(t)
	c := New(ts.URL, "")
	_, err := c.Create(context.Background(), []byte(scenarioYAML), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "admin key required")

	c.AdminKey = "wrong"
	_, err = c.Create(context.Background(), []byte(scenarioYAML), false)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestClientWatch(t *testing.T) {
	ts, hub := newServer(t)
	c := New(ts.URL, "k")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	run, err := c.Create(ctx, []byte(scenarioYAML), false)
	require.NoError(t, err)

	got := make(chan api.Message, 64)
	done := make(chan error, 1)
	go func() {
		done <- c.Watch(ctx, run.RunID, func(m api.Message) { got <- m })
	}()
	require.Eventually(t, func() bool { return hub.Subscribers(run.RunID) == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err = c.Tick(ctx, run.RunID)
	require.NoError(t, err)

	select {
	case m := <-got:
		assert.Equal(t, run.RunID, m.RunID)
	case <-ctx.Done():
		t.Fatal("no event streamed")
	}

	cancel()
	assert.NoError(t, <-done)
}
