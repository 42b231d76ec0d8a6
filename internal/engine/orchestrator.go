// Package engine drives a run forward one tick at a time: it sequences the
// tick phases, resolves faction decisions and decides when a run is over.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/talgya/worldorder/internal/entropy"
	"github.com/talgya/worldorder/internal/metrics"
	"github.com/talgya/worldorder/internal/report"
	"github.com/talgya/worldorder/internal/world"
)

// Phase is the orchestrator's own lifecycle state.
type Phase string

const (
	PhaseIdle      Phase = "IDLE"
	PhaseRunning   Phase = "RUNNING"
	PhasePaused    Phase = "PAUSED"
	PhaseCompleted Phase = "COMPLETED"
	PhaseFailed    Phase = "FAILED"
)

const (
	// Strategist analysis runs on ticks divisible by this.
	strategistEvery = 5
	// Recent events handed to the thinker.
	thinkerWindow = 10
	// Concurrent decision-collection calls when fan-out is enabled.
	decisionFanout = 4
)

// Config wires an Orchestrator to its collaborators. Thinker and Strategist
// may be nil; Trigger may be nil for manually driven runs.
type Config struct {
	RunID       string
	Store       Store
	Decider     Decider
	Adjudicator Adjudicator
	Overseer    Overseer
	Thinker     Thinker
	Strategist  Strategist
	Trigger     Trigger
	Rand        entropy.Source
	Sinks       []Sink
	MaxYears    int

	// ConcurrentDecisions issues decision collection in parallel; results are
	// still consumed in country order.
	ConcurrentDecisions bool
}

// TickReport summarises one ExecuteTick call.
type TickReport struct {
	RunID      string         `json:"run_id"`
	Tick       int            `json:"tick"`
	Skipped    bool           `json:"skipped,omitempty"`
	Events     int            `json:"events"`
	Metrics    world.Metrics  `json:"metrics"`
	Terminated bool           `json:"terminated"`
	Reason     metrics.Reason `json:"reason,omitempty"`
	Err        error          `json:"-"`
}

// Orchestrator runs the tick phases for a single run.
type Orchestrator struct {
	cfg      Config
	resolver *ActionResolver
	tracer   trace.Tracer

	// tickMu keeps state writes from Start/Pause/Complete out of a running tick.
	tickMu sync.Mutex

	mu    sync.Mutex
	phase Phase
}

// NewOrchestrator creates an orchestrator in the IDLE phase.
func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.Rand == nil {
		cfg.Rand = entropy.Crypto{}
	}
	if cfg.MaxYears <= 0 {
		cfg.MaxYears = metrics.DefaultMaxYears
	}
	return &Orchestrator{
		cfg:      cfg,
		resolver: NewActionResolver(cfg.Adjudicator),
		tracer:   otel.Tracer("github.com/talgya/worldorder/internal/engine"),
		phase:    PhaseIdle,
	}
}

// RunID returns the run this orchestrator drives.
func (o *Orchestrator) RunID() string { return o.cfg.RunID }

// Status returns the current phase.
func (o *Orchestrator) Status() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

func (o *Orchestrator) setPhase(p Phase) {
	o.mu.Lock()
	o.phase = p
	o.mu.Unlock()
}

// Start moves an idle or paused run to RUNNING and arranges periodic ticks,
// the first one immediately.
func (o *Orchestrator) Start(ctx context.Context, interval time.Duration) error {
	switch o.Status() {
	case PhaseCompleted, PhaseFailed:
		return ErrRunTerminated
	case PhaseRunning:
		return nil
	}

	o.tickMu.Lock()
	s, err := o.cfg.Store.LoadState(ctx, o.cfg.RunID)
	if err == nil && s.Status.Terminal() {
		err = ErrRunTerminated
	}
	if err == nil && s.Status == world.StatusPaused {
		s.Status, _ = s.Status.Transition(world.StatusRunning)
		err = o.cfg.Store.SaveState(ctx, s)
	}
	o.tickMu.Unlock()
	if err != nil {
		return fmt.Errorf("start run %s: %w", o.cfg.RunID, err)
	}

	o.setPhase(PhaseRunning)
	slog.Info("run started", "run", o.cfg.RunID, "interval", interval)
	if o.cfg.Trigger != nil {
		o.cfg.Trigger.Schedule(interval, func(ctx context.Context) { o.ExecuteTick(ctx) })
	}
	return nil
}

// Pause cancels the next scheduled tick. A tick already running completes
// and the run is then persisted PAUSED. Pausing twice is a no-op.
func (o *Orchestrator) Pause(ctx context.Context) error {
	o.stopScheduling()
	if p := o.Status(); p == PhaseCompleted || p == PhaseFailed {
		return nil
	}

	o.tickMu.Lock()
	defer o.tickMu.Unlock()
	s, err := o.cfg.Store.LoadState(ctx, o.cfg.RunID)
	if err != nil {
		return fmt.Errorf("pause run %s: %w", o.cfg.RunID, err)
	}
	if s.Status != world.StatusRunning {
		o.setPhase(phaseFor(s.Status))
		return nil
	}
	s.Status, _ = s.Status.Transition(world.StatusPaused)
	s.UpdatedAt = time.Now().UTC()
	if err := o.cfg.Store.SaveState(ctx, s); err != nil {
		return fmt.Errorf("pause run %s: %w", o.cfg.RunID, err)
	}
	o.setPhase(PhasePaused)
	slog.Info("run paused", "run", o.cfg.RunID, "tick", s.Tick)
	return nil
}

// Halt stops scheduling without touching the persisted status. Used on
// shutdown so a RUNNING run stays RUNNING on disk. It returns once any tick
// in progress has finished writing.
func (o *Orchestrator) Halt() {
	o.stopScheduling()
	o.tickMu.Lock()
	defer o.tickMu.Unlock()
	o.mu.Lock()
	if o.phase == PhaseRunning {
		o.phase = PhaseIdle
	}
	o.mu.Unlock()
}

func phaseFor(s world.Status) Phase {
	switch s {
	case world.StatusPaused:
		return PhasePaused
	case world.StatusCompleted:
		return PhaseCompleted
	case world.StatusFailed:
		return PhaseFailed
	}
	return PhaseIdle
}

// Complete ends the run with reason.
func (o *Orchestrator) Complete(ctx context.Context, reason metrics.Reason) error {
	o.tickMu.Lock()
	defer o.tickMu.Unlock()
	return o.complete(ctx, reason)
}

func (o *Orchestrator) complete(ctx context.Context, reason metrics.Reason) error {
	o.stopScheduling()
	o.setPhase(PhaseCompleted)

	s, err := o.cfg.Store.LoadState(ctx, o.cfg.RunID)
	if err != nil {
		return fmt.Errorf("complete run %s: %w", o.cfg.RunID, err)
	}
	if s.Status == world.StatusPaused {
		s.Status, _ = s.Status.Transition(world.StatusRunning)
	}
	next, err := s.Status.Transition(world.StatusCompleted)
	if err != nil {
		return fmt.Errorf("complete run %s: %w", o.cfg.RunID, err)
	}
	s.Status = next
	s.EndReason = string(reason)
	s.UpdatedAt = time.Now().UTC()
	if err := o.cfg.Store.SaveState(ctx, s); err != nil {
		return fmt.Errorf("complete run %s: %w", o.cfg.RunID, err)
	}

	r := report.Build(s, s.GlobalEvents, string(reason))
	slog.Info("run complete",
		"run", o.cfg.RunID,
		"reason", reason,
		"year", s.Year,
		"stability_index", s.Metrics.StabilityIndex,
		"survivors", len(r.Survivors),
		"dominant", r.DominantName(),
	)
	slog.Info(r.Summary())
	return nil
}

func (o *Orchestrator) stopScheduling() {
	if o.cfg.Trigger != nil {
		o.cfg.Trigger.Cancel()
	}
}

// ExecuteTick runs one full tick. Errors never escape: a structural failure
// marks the run FAILED, stops scheduling and is reported in TickReport.Err.
func (o *Orchestrator) ExecuteTick(ctx context.Context) (rep TickReport) {
	o.tickMu.Lock()
	defer o.tickMu.Unlock()

	ctx, span := o.tracer.Start(ctx, "engine.ExecuteTick",
		trace.WithAttributes(attribute.String("run.id", o.cfg.RunID)))
	defer span.End()

	defer func() {
		if p := recover(); p != nil {
			rep.Err = fmt.Errorf("%w: panic: %v", ErrTick, p)
		}
		if rep.Err != nil {
			span.RecordError(rep.Err)
			span.SetStatus(codes.Error, rep.Err.Error())
			o.fail(ctx, rep.Err)
		}
	}()

	rep, err := o.executeTick(ctx)
	if err != nil {
		if !errors.Is(err, ErrTick) {
			err = fmt.Errorf("%w: %w", ErrTick, err)
		}
		rep.Err = err
	}
	return rep
}

func (o *Orchestrator) executeTick(ctx context.Context) (TickReport, error) {
	rep := TickReport{RunID: o.cfg.RunID}

	// 1. Load.
	s, err := o.cfg.Store.LoadState(ctx, o.cfg.RunID)
	if err != nil {
		return rep, fmt.Errorf("load state: %w", err)
	}
	rep.Tick = s.Tick
	if s.Status != world.StatusRunning {
		o.stopScheduling()
		rep.Skipped = true
		return rep, nil
	}

	var committed []world.Event

	// 2. Environmental event.
	if e := metrics.GenerateRandomEvent(s, s.Tick, o.cfg.Rand); e != nil {
		s = world.AddEvent(s, *e)
		s = world.ApplyChanges(s, e.Impact)
		s = recordHistory(s, *e)
		committed = append(committed, *e)
		slog.Info("environmental event", "run", s.RunID, "tick", s.Tick, "type", e.Type, "country", e.Actors[0])
	}

	// 3. Decisions.
	factionList, err := o.cfg.Store.LoadFactions(ctx, o.cfg.RunID)
	if err != nil {
		return rep, fmt.Errorf("load factions: %w", err)
	}
	factions := make(map[string]world.Faction, len(factionList))
	for _, f := range factionList {
		factions[f.CountryID] = f
	}
	decisions := o.collectDecisions(ctx, s, factions)

	// 4. Resolve.
	_, span := o.tracer.Start(ctx, "engine.ResolveActions")
	outcome := o.resolver.ResolveActions(ctx, s, factions, decisions)
	span.SetAttributes(attribute.Int("decisions", len(decisions)), attribute.Int("events", len(outcome.Events)))
	span.End()

	// 5. Apply.
	s = outcome.State
	s = world.ApplyChanges(s, outcome.Deltas)
	s = world.ApplyTensionChanges(s, outcome.Tensions)
	for _, e := range outcome.Events {
		s = world.AddEvent(s, e)
		s = recordHistory(s, e)
		committed = append(committed, e)
	}

	// 6. Metrics.
	analysis := o.analyze(ctx, s)
	s.Metrics = metrics.Blend(analysis, metrics.CalculateStabilityIndex(s))

	// 7. Commentary.
	summary := world.TickSummary{StabilityIndex: s.Metrics.StabilityIndex}
	summary.Commentary = o.commentary(ctx, s)
	if s.Tick%strategistEvery == 0 {
		summary.Strategy = o.strategy(ctx, s)
	}
	summaryEvent := world.Event{
		Tick:        s.Tick,
		Year:        s.Year,
		Type:        world.EventTickSummary,
		Description: fmt.Sprintf("Year %d closes with stability index %d", s.Year, summary.StabilityIndex),
		Success:     true,
		Summary:     &summary,
	}
	s = world.AddEvent(s, summaryEvent)
	committed = append(committed, summaryEvent)

	// 8. Persist.
	s.UpdatedAt = time.Now().UTC()
	if err := o.cfg.Store.SaveState(ctx, s); err != nil {
		return rep, fmt.Errorf("save state: %w", err)
	}
	for _, e := range committed {
		if err := o.cfg.Store.AppendEvent(ctx, s.RunID, e); err != nil {
			return rep, fmt.Errorf("append event: %w", err)
		}
	}
	for _, sink := range o.cfg.Sinks {
		for _, e := range committed {
			sink.Publish(s.RunID, e)
		}
	}

	// 9. Advance.
	s.Tick++
	s.Year++
	if err := o.cfg.Store.SaveState(ctx, s); err != nil {
		return rep, fmt.Errorf("save advanced state: %w", err)
	}

	rep.Events = len(committed)
	rep.Metrics = s.Metrics
	slog.Info("tick complete",
		"run", s.RunID,
		"tick", rep.Tick,
		"year", s.Year,
		"decisions", len(decisions),
		"events", len(committed),
		"stability_index", s.Metrics.StabilityIndex,
		"conflict", s.Metrics.ConflictLevel,
	)

	// 10. Termination.
	if t := metrics.ShouldTerminate(s, o.cfg.MaxYears); t.Terminated {
		rep.Terminated = true
		rep.Reason = t.Reason
		if err := o.complete(ctx, t.Reason); err != nil {
			return rep, err
		}
	}
	return rep, nil
}

// collectDecisions gathers one decision per eligible country in country
// order. Collapsed countries sit the tick out; failures get the fallback.
func (o *Orchestrator) collectDecisions(ctx context.Context, s world.State, factions map[string]world.Faction) []world.Decision {
	ctx, span := o.tracer.Start(ctx, "engine.CollectDecisions")
	defer span.End()

	var eligible []world.Faction
	for _, c := range s.Countries {
		if c.Collapsed() {
			slog.Debug("country collapsed, skipping decision", "run", s.RunID, "country", c.ID)
			continue
		}
		f, ok := factions[c.ID]
		if !ok {
			slog.Warn("no faction for country",
				"run", s.RunID, "country", c.ID, "error", ErrDataIntegrity)
			continue
		}
		eligible = append(eligible, f)
	}

	decisions := make([]world.Decision, len(eligible))
	collect := func(i int) {
		decisions[i] = o.decide(ctx, eligible[i], s)
	}

	if o.cfg.ConcurrentDecisions {
		var g errgroup.Group
		g.SetLimit(decisionFanout)
		for i := range eligible {
			g.Go(func() error {
				collect(i)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := range eligible {
			collect(i)
		}
	}
	span.SetAttributes(attribute.Int("decisions", len(decisions)))
	return decisions
}

func (o *Orchestrator) decide(ctx context.Context, f world.Faction, s world.State) (d world.Decision) {
	defer func() {
		if p := recover(); p != nil {
			slog.Warn("decision collection panicked", "run", s.RunID, "country", f.CountryID, "panic", p)
			d = world.FallbackDecision(f.CountryID)
		}
	}()
	if o.cfg.Decider == nil {
		return world.FallbackDecision(f.CountryID)
	}
	d, err := o.cfg.Decider.CollectDecision(ctx, f, s)
	if err != nil {
		slog.Warn("decision collection failed, using fallback",
			"run", s.RunID, "country", f.CountryID, "error", fmt.Errorf("%w: %w", ErrOracle, err))
		return world.FallbackDecision(f.CountryID)
	}
	d.ActorID = f.CountryID
	return d
}

func (o *Orchestrator) analyze(ctx context.Context, s world.State) (a world.OverseerAnalysis) {
	degenerate := world.OverseerAnalysis{Explanation: "overseer analysis unavailable"}
	if o.cfg.Overseer == nil {
		return degenerate
	}
	defer func() {
		if p := recover(); p != nil {
			slog.Warn("overseer panicked", "run", s.RunID, "panic", p)
			a = degenerate
		}
	}()
	a, err := o.cfg.Overseer.Analyze(ctx, s)
	if err != nil {
		slog.Warn("overseer analysis failed", "run", s.RunID, "tick", s.Tick, "error", fmt.Errorf("%w: %w", ErrOracle, err))
		return degenerate
	}
	return a
}

func (o *Orchestrator) commentary(ctx context.Context, s world.State) (text string) {
	if o.cfg.Thinker == nil {
		return ""
	}
	defer func() {
		if p := recover(); p != nil {
			text = ""
		}
	}()
	recent := s.GlobalEvents
	if len(recent) > thinkerWindow {
		recent = recent[len(recent)-thinkerWindow:]
	}
	text, err := o.cfg.Thinker.Commentary(ctx, s, recent)
	if err != nil {
		slog.Debug("thinker commentary unavailable", "run", s.RunID, "error", err)
		return ""
	}
	return text
}

func (o *Orchestrator) strategy(ctx context.Context, s world.State) (text string) {
	if o.cfg.Strategist == nil {
		return ""
	}
	defer func() {
		if p := recover(); p != nil {
			text = ""
		}
	}()
	text, err := o.cfg.Strategist.StrategicAnalysis(ctx, s, world.ActiveConflicts(s))
	if err != nil {
		slog.Debug("strategist analysis unavailable", "run", s.RunID, "error", err)
		return ""
	}
	return text
}

// fail marks the run FAILED, best effort, and stops scheduling.
func (o *Orchestrator) fail(ctx context.Context, cause error) {
	o.stopScheduling()
	o.setPhase(PhaseFailed)
	slog.Error("tick failed", "run", o.cfg.RunID, "error", cause)

	ctx = context.WithoutCancel(ctx)
	s, err := o.cfg.Store.LoadState(ctx, o.cfg.RunID)
	if err != nil {
		slog.Error("could not load state to mark run failed", "run", o.cfg.RunID, "error", err)
		return
	}
	next, err := s.Status.Transition(world.StatusFailed)
	if err != nil {
		slog.Warn("run not marked failed", "run", o.cfg.RunID, "status", s.Status, "error", err)
		return
	}
	s.Status = next
	s.UpdatedAt = time.Now().UTC()
	if err := o.cfg.Store.SaveState(ctx, s); err != nil {
		slog.Error("could not persist failed status", "run", o.cfg.RunID, "error", err)
	}
}

// recordHistory appends a one-line account of e to each actor's history.
func recordHistory(s world.State, e world.Event) world.State {
	line := fmt.Sprintf("Year %d: %s", e.Year, e.Description)
	for _, id := range e.Actors {
		s = world.AddCountryHistory(s, id, line)
	}
	return s
}
