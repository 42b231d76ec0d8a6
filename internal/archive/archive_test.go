package archive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/worldorder/internal/world"
)

func TestWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	for i := 0; i < 3; i++ {
		w.Publish("run-a", world.Event{Tick: i, Type: world.EventWar, Actors: []string{"a", "b"}})
	}
	w.Publish("run-b", world.Event{Tick: 0, Type: world.EventAlliance})

	require.NoError(t, w.Close())

	recs, err := Read(dir, "run-a")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, 2, recs[2].Event.Tick)
	assert.Equal(t, "run-a", recs[0].RunID)

	recs, err = Read(dir, "run-b")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, world.EventAlliance, recs[0].Event.Type)
}

func TestRotatesHourlyAndAppends(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	clock := time.Date(2030, 1, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return clock }

	require.NoError(t, w.Write("r", world.Event{Tick: 0}))
	clock = clock.Add(2 * time.Minute)
	require.NoError(t, w.Write("r", world.Event{Tick: 1}))
	require.NoError(t, w.CloseRun("r"))

	// Reopening the same hour appends a new frame to the existing file.
	require.NoError(t, w.Write("r", world.Event{Tick: 2}))
	require.NoError(t, w.Close())

	recs, err := Read(dir, "r")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for i, r := range recs {
		assert.Equal(t, i, r.Event.Tick)
	}
}

func TestReadMissingRun(t *testing.T) {
	recs, err := Read(t.TempDir(), "nope")
	require.NoError(t, err)
	assert.Empty(t, recs)
}
