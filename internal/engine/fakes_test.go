package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/talgya/worldorder/internal/world"
)

// memStore is an in-memory RunStore.
type memStore struct {
	mu       sync.Mutex
	states   map[string]world.State
	events   map[string][]world.Event
	factions map[string][]world.Faction

	loadFailures int // LoadState fails this many more times
	saveErr      error
	factionErr   error

	// When set, SaveState signals saving and then waits for release.
	saving  chan struct{}
	release chan struct{}
}

func newMemStore() *memStore {
	return &memStore{
		states:   make(map[string]world.State),
		events:   make(map[string][]world.Event),
		factions: make(map[string][]world.Faction),
	}
}

func (m *memStore) LoadState(_ context.Context, runID string) (world.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadFailures > 0 {
		m.loadFailures--
		return world.State{}, errors.New("disk on fire")
	}
	s, ok := m.states[runID]
	if !ok {
		return world.State{}, ErrRunNotFound
	}
	return s.Clone(), nil
}

func (m *memStore) SaveState(_ context.Context, s world.State) error {
	if m.release != nil {
		select {
		case m.saving <- struct{}{}:
		default:
		}
		<-m.release
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.states[s.RunID] = s.Clone()
	return nil
}

func (m *memStore) AppendEvent(_ context.Context, runID string, e world.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[runID] = append(m.events[runID], e)
	return nil
}

func (m *memStore) LoadFactions(_ context.Context, runID string) ([]world.Faction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.factionErr != nil {
		return nil, m.factionErr
	}
	return append([]world.Faction(nil), m.factions[runID]...), nil
}

func (m *memStore) CreateRun(_ context.Context, s world.State, factions []world.Faction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[s.RunID] = s.Clone()
	m.factions[s.RunID] = append([]world.Faction(nil), factions...)
	return nil
}

func (m *memStore) ListRuns(_ context.Context) ([]world.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []world.State
	for _, s := range m.states {
		out = append(out, s.Clone())
	}
	return out, nil
}

func (m *memStore) DeleteRun(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[runID]; !ok {
		return ErrRunNotFound
	}
	delete(m.states, runID)
	delete(m.events, runID)
	delete(m.factions, runID)
	return nil
}

func (m *memStore) state(runID string) world.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[runID].Clone()
}

func (m *memStore) eventLog(runID string) []world.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]world.Event(nil), m.events[runID]...)
}

// scriptedDecider returns a fixed decision per country, or an error.
type scriptedDecider struct {
	mu        sync.Mutex
	decisions map[string]world.Decision
	fail      map[string]bool
	asked     []string
}

func (d *scriptedDecider) CollectDecision(_ context.Context, f world.Faction, _ world.State) (world.Decision, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.asked = append(d.asked, f.CountryID)
	if d.fail[f.CountryID] {
		return world.Decision{}, errors.New("oracle unavailable")
	}
	if dec, ok := d.decisions[f.CountryID]; ok {
		return dec, nil
	}
	return world.Decision{Action: world.ActionInternal, SpecificAction: "reform"}, nil
}

// funcAdjudicator adapts a function to Adjudicator and records call order.
type funcAdjudicator struct {
	mu    sync.Mutex
	fn    func(world.Decision, world.State) (world.Resolution, error)
	calls []world.Decision
}

func (a *funcAdjudicator) Resolve(_ context.Context, d world.Decision, s world.State, _ world.Faction) (world.Resolution, error) {
	a.mu.Lock()
	a.calls = append(a.calls, d)
	a.mu.Unlock()
	if a.fn == nil {
		return world.Resolution{Success: true, SuccessLevel: "success"}, nil
	}
	return a.fn(d, s)
}

type fixedOverseer struct {
	analysis world.OverseerAnalysis
	err      error
}

func (o fixedOverseer) Analyze(context.Context, world.State) (world.OverseerAnalysis, error) {
	return o.analysis, o.err
}

type countingThinker struct{ calls int }

func (t *countingThinker) Commentary(_ context.Context, s world.State, _ []world.Event) (string, error) {
	t.calls++
	return "the world turns", nil
}

type countingStrategist struct{ ticks []int }

func (st *countingStrategist) StrategicAnalysis(_ context.Context, s world.State, _ []world.Conflict) (string, error) {
	st.ticks = append(st.ticks, s.Tick)
	return "hold the line", nil
}

type fakeTrigger struct {
	mu        sync.Mutex
	scheduled int
	cancelled int
	interval  time.Duration
}

func (f *fakeTrigger) Schedule(interval time.Duration, _ func(context.Context)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled++
	f.interval = interval
}

func (f *fakeTrigger) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled++
}

type recordSink struct {
	mu     sync.Mutex
	events []world.Event
}

func (r *recordSink) Publish(_ string, e world.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// closingSink records which runs it was asked to release.
type closingSink struct {
	recordSink
	closed []string
}

func (c *closingSink) CloseRun(runID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = append(c.closed, runID)
	return nil
}

// constSource always returns v.
type constSource float64

func (c constSource) Float() float64 { return float64(c) }

// noEvents never passes the environmental event roll.
const noEvents = constSource(0.99)
