package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/worldorder/internal/entropy"
	"github.com/talgya/worldorder/internal/world"
)

// Deps are shared by every run in a registry.
type Deps struct {
	Store       RunStore
	Decider     Decider
	Adjudicator Adjudicator
	Overseer    Overseer
	Thinker     Thinker
	Strategist  Strategist
	Rand        entropy.Source
	Sinks       []Sink

	MaxYears            int
	Interval            time.Duration
	ConcurrentDecisions bool
}

// Registry owns one orchestrator per run.
type Registry struct {
	deps Deps

	mu   sync.RWMutex
	runs map[string]*Orchestrator
}

// NewRegistry creates an empty registry.
func NewRegistry(deps Deps) *Registry {
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	return &Registry{deps: deps, runs: make(map[string]*Orchestrator)}
}

func (r *Registry) newOrchestrator(runID string) *Orchestrator {
	return NewOrchestrator(Config{
		RunID:               runID,
		Store:               r.deps.Store,
		Decider:             r.deps.Decider,
		Adjudicator:         r.deps.Adjudicator,
		Overseer:            r.deps.Overseer,
		Thinker:             r.deps.Thinker,
		Strategist:          r.deps.Strategist,
		Trigger:             NewRunner(),
		Rand:                r.deps.Rand,
		Sinks:               r.deps.Sinks,
		MaxYears:            r.deps.MaxYears,
		ConcurrentDecisions: r.deps.ConcurrentDecisions,
	})
}

// Create validates and persists a new run and registers it, not yet started.
func (r *Registry) Create(ctx context.Context, name string, countries []world.Country, factions []world.Faction) (world.State, error) {
	if err := validateRun(countries, factions); err != nil {
		return world.State{}, err
	}

	s := world.NewState(uuid.NewString(), name, countries)
	if err := r.deps.Store.CreateRun(ctx, s, factions); err != nil {
		return world.State{}, fmt.Errorf("create run: %w", err)
	}

	o := r.newOrchestrator(s.RunID)
	r.mu.Lock()
	r.runs[s.RunID] = o
	r.mu.Unlock()

	slog.Info("run created", "run", s.RunID, "name", name, "countries", len(countries))
	return s, nil
}

func validateRun(countries []world.Country, factions []world.Faction) error {
	if len(countries) == 0 {
		return fmt.Errorf("%w: a run needs at least one country", ErrConfiguration)
	}
	ids := make(map[string]bool, len(countries))
	for _, c := range countries {
		if c.ID == "" {
			return fmt.Errorf("%w: country %q has no id", ErrConfiguration, c.Name)
		}
		if ids[c.ID] {
			return fmt.Errorf("%w: duplicate country id %q", ErrConfiguration, c.ID)
		}
		ids[c.ID] = true
	}
	seen := make(map[string]bool, len(factions))
	for _, f := range factions {
		if !ids[f.CountryID] {
			return fmt.Errorf("%w: faction %q references unknown country %q", ErrConfiguration, f.Name, f.CountryID)
		}
		if seen[f.CountryID] {
			return fmt.Errorf("%w: country %q has more than one faction", ErrConfiguration, f.CountryID)
		}
		seen[f.CountryID] = true
	}
	return nil
}

// Restore registers every persisted run. Runs saved as RUNNING are not
// restarted; they wait for an explicit Start.
func (r *Registry) Restore(ctx context.Context) error {
	states, err := r.deps.Store.ListRuns(ctx)
	if err != nil {
		return fmt.Errorf("restore runs: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range states {
		if _, ok := r.runs[s.RunID]; ok {
			continue
		}
		o := r.newOrchestrator(s.RunID)
		o.setPhase(phaseFor(s.Status))
		r.runs[s.RunID] = o
	}
	slog.Info("runs restored", "count", len(states))
	return nil
}

// Lookup returns the orchestrator for runID.
func (r *Registry) Lookup(runID string) (*Orchestrator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return o, nil
}

// IDs returns the registered run IDs in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.runs))
	for id := range r.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// List returns the latest state of every persisted run.
func (r *Registry) List(ctx context.Context) ([]world.State, error) {
	return r.deps.Store.ListRuns(ctx)
}

// State returns the latest persisted state of a registered run.
func (r *Registry) State(ctx context.Context, runID string) (world.State, error) {
	if _, err := r.Lookup(runID); err != nil {
		return world.State{}, err
	}
	return r.deps.Store.LoadState(ctx, runID)
}

// Start begins periodic ticking for runID.
func (r *Registry) Start(ctx context.Context, runID string) error {
	o, err := r.Lookup(runID)
	if err != nil {
		return err
	}
	return o.Start(ctx, r.deps.Interval)
}

// Pause stops ticking for runID.
func (r *Registry) Pause(ctx context.Context, runID string) error {
	o, err := r.Lookup(runID)
	if err != nil {
		return err
	}
	return o.Pause(ctx)
}

// TickNow runs one tick for runID outside the schedule.
func (r *Registry) TickNow(ctx context.Context, runID string) (TickReport, error) {
	o, err := r.Lookup(runID)
	if err != nil {
		return TickReport{}, err
	}
	rep := o.ExecuteTick(ctx)
	return rep, rep.Err
}

// Remove stops and deletes a run.
func (r *Registry) Remove(ctx context.Context, runID string) error {
	o, err := r.Lookup(runID)
	if err != nil {
		return err
	}
	o.Halt()
	if err := r.deps.Store.DeleteRun(ctx, runID); err != nil {
		return fmt.Errorf("remove run %s: %w", runID, err)
	}
	r.mu.Lock()
	delete(r.runs, runID)
	r.mu.Unlock()
	for _, sink := range r.deps.Sinks {
		if c, ok := sink.(RunCloser); ok {
			if err := c.CloseRun(runID); err != nil {
				slog.Warn("sink close failed", "run", runID, "error", err)
			}
		}
	}
	slog.Info("run removed", "run", runID)
	return nil
}

// Shutdown stops every schedule, leaving persisted statuses as they are, and
// returns once no tick is running.
func (r *Registry) Shutdown() {
	r.mu.RLock()
	runs := make([]*Orchestrator, 0, len(r.runs))
	for _, o := range r.runs {
		runs = append(runs, o)
	}
	r.mu.RUnlock()
	for _, o := range runs {
		o.Halt()
	}
}
