package engine

import (
	"context"
	"time"

	"github.com/talgya/worldorder/internal/world"
)

// Decider collects one faction's decision for the coming tick.
type Decider interface {
	CollectDecision(ctx context.Context, faction world.Faction, snapshot world.State) (world.Decision, error)
}

// Adjudicator resolves a single decision against the world.
type Adjudicator interface {
	Resolve(ctx context.Context, d world.Decision, snapshot world.State, actor world.Faction) (world.Resolution, error)
}

// Overseer produces the subjective half of the tick metrics.
type Overseer interface {
	Analyze(ctx context.Context, snapshot world.State) (world.OverseerAnalysis, error)
}

// Thinker comments on recent events. An empty string means no commentary.
type Thinker interface {
	Commentary(ctx context.Context, snapshot world.State, recent []world.Event) (string, error)
}

// Strategist analyses the active conflicts every few ticks.
type Strategist interface {
	StrategicAnalysis(ctx context.Context, snapshot world.State, conflicts []world.Conflict) (string, error)
}

// Store is the persistence the tick loop needs, keyed by run ID.
type Store interface {
	LoadState(ctx context.Context, runID string) (world.State, error)
	SaveState(ctx context.Context, s world.State) error
	AppendEvent(ctx context.Context, runID string, e world.Event) error
	LoadFactions(ctx context.Context, runID string) ([]world.Faction, error)
}

// RunStore adds the run lifecycle operations the registry uses.
type RunStore interface {
	Store
	CreateRun(ctx context.Context, s world.State, factions []world.Faction) error
	ListRuns(ctx context.Context) ([]world.State, error)
	DeleteRun(ctx context.Context, runID string) error
}

// Sink receives every event a tick commits, after it is persisted.
type Sink interface {
	Publish(runID string, e world.Event)
}

// RunCloser is implemented by sinks holding per-run resources, released when
// the run is removed.
type RunCloser interface {
	CloseRun(runID string) error
}

// Trigger arranges periodic calls to a tick function. Cancel stops future
// calls only; a call already in progress runs to completion.
type Trigger interface {
	Schedule(interval time.Duration, tick func(context.Context))
	Cancel()
}
