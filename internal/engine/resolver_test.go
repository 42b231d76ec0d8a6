package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/worldorder/internal/world"
)

func resolverState() world.State {
	return world.NewState("run", "test", []world.Country{
		{ID: "a", Name: "Avalon", Power: 50, Stability: 60},
		{ID: "b", Name: "Borea", Power: 40, Stability: 50},
		{ID: "c", Name: "Calder", Power: 30, Stability: 45, Allies: []string{"b"}},
		{ID: "d", Name: "Dunmar", Power: 20, Stability: 30, Allies: []string{"b"}},
	})
}

func factionsFor(s world.State) map[string]world.Faction {
	out := make(map[string]world.Faction)
	for _, c := range s.Countries {
		out[c.ID] = world.Faction{CountryID: c.ID, Name: c.Name}
	}
	return out
}

func TestPrioritizeActions(t *testing.T) {
	in := []world.Decision{
		{ActorID: "a", Action: world.ActionInternal},
		{ActorID: "b", Action: world.ActionMilitary},
		{ActorID: "c", Action: world.ActionDiplomacy},
	}
	out := PrioritizeActions(in)
	require.Len(t, out, 3)
	assert.Equal(t, world.ActionMilitary, out[0].Action)
	assert.Equal(t, world.ActionDiplomacy, out[1].Action)
	assert.Equal(t, world.ActionInternal, out[2].Action)

	// Input is untouched.
	assert.Equal(t, world.ActionInternal, in[0].Action)
}

func TestPrioritizeActionsStableAndUnknownLast(t *testing.T) {
	out := PrioritizeActions([]world.Decision{
		{ActorID: "x", Action: "PROPHECY"},
		{ActorID: "a", Action: world.ActionEspionage},
		{ActorID: "b", Action: world.ActionInternal},
		{ActorID: "c", Action: world.ActionEspionage},
	})
	var ids []string
	for _, d := range out {
		ids = append(ids, d.ActorID)
	}
	assert.Equal(t, []string{"a", "c", "b", "x"}, ids)
}

func TestMapActionToEventType(t *testing.T) {
	assert.Equal(t, world.EventWar, MapActionToEventType(world.ActionMilitary, "declare_war"))
	assert.Equal(t, world.EventAlliance, MapActionToEventType(world.ActionDiplomacy, "FORM_ALLIANCE"))
	assert.Equal(t, world.EventAllianceBroken, MapActionToEventType(world.ActionDiplomacy, "break_alliance"))
	assert.Equal(t, world.ActionEspionage, MapActionToEventType(world.ActionEspionage, "steal_blueprints"))
}

func TestResolveActionsSumsDeltasAndOverwritesTensions(t *testing.T) {
	s := resolverState()
	adj := &funcAdjudicator{fn: func(d world.Decision, _ world.State) (world.Resolution, error) {
		switch d.SpecificAction {
		case "sanctions":
			return world.Resolution{Success: true,
				Changes:     map[string]world.StatDelta{"b": {Stability: -5, Resources: -3}},
				NewTensions: map[string]float64{"b": -20, "c": -5}}, nil
		case "propaganda":
			return world.Resolution{Success: true,
				Changes:     map[string]world.StatDelta{"b": {Stability: -2}, "a": {Power: 1}},
				NewTensions: map[string]float64{"b": -10}}, nil
		}
		return world.Resolution{Success: true}, nil
	}}

	out := NewActionResolver(adj).ResolveActions(context.Background(), s, factionsFor(s), []world.Decision{
		{ActorID: "a", Action: world.ActionDiplomacy, SpecificAction: "sanctions", Target: "b"},
		{ActorID: "a", Action: world.ActionEspionage, SpecificAction: "propaganda", Target: "b"},
	})

	assert.Equal(t, world.StatDelta{Stability: -7, Resources: -3}, out.Deltas["b"])
	assert.Equal(t, world.StatDelta{Power: 1}, out.Deltas["a"])
	// The later decision replaces the actor's whole tension map.
	assert.Equal(t, map[string]float64{"b": -10}, out.Tensions["a"])
	require.Len(t, out.Events, 2)
	assert.Equal(t, "SANCTIONS", out.Events[0].Type)
	assert.Equal(t, []string{"a", "b"}, out.Events[0].Actors)
}

func TestResolveActionsFailureBecomesFailedAction(t *testing.T) {
	s := resolverState()
	adj := &funcAdjudicator{fn: func(d world.Decision, _ world.State) (world.Resolution, error) {
		if d.ActorID == "a" {
			return world.Resolution{}, errors.New("timeout")
		}
		return world.Resolution{Success: true, Changes: map[string]world.StatDelta{"b": {Power: 2}}}, nil
	}}

	out := NewActionResolver(adj).ResolveActions(context.Background(), s, factionsFor(s), []world.Decision{
		{ActorID: "a", Action: world.ActionMilitary, SpecificAction: "invade", Target: "b"},
		{ActorID: "b", Action: world.ActionInternal, SpecificAction: "reform"},
	})

	require.Len(t, out.Events, 2)
	assert.Equal(t, world.EventFailedAction, out.Events[0].Type)
	assert.False(t, out.Events[0].Success)
	assert.Empty(t, out.Events[0].Impact)
	assert.Equal(t, world.StatDelta{Power: 2}, out.Deltas["b"])
	assert.NotContains(t, out.Deltas, "a")
}

func TestResolveActionsPanicIsContained(t *testing.T) {
	s := resolverState()
	adj := &funcAdjudicator{fn: func(world.Decision, world.State) (world.Resolution, error) {
		panic("boom")
	}}
	out := NewActionResolver(adj).ResolveActions(context.Background(), s, factionsFor(s), []world.Decision{
		{ActorID: "a", Action: world.ActionInternal, SpecificAction: "stabilize"},
	})
	require.Len(t, out.Events, 1)
	assert.Equal(t, world.EventFailedAction, out.Events[0].Type)
}

func TestResolveActionsSkipsUnknownActor(t *testing.T) {
	s := resolverState()
	adj := &funcAdjudicator{}
	factions := factionsFor(s)
	delete(factions, "b")

	out := NewActionResolver(adj).ResolveActions(context.Background(), s, factions, []world.Decision{
		{ActorID: "b", Action: world.ActionInternal, SpecificAction: "reform"},
		{ActorID: "zz", Action: world.ActionInternal, SpecificAction: "reform"},
	})
	assert.Empty(t, out.Events)
	assert.Empty(t, adj.calls)
}

func TestAllianceFormRequiresSuccess(t *testing.T) {
	s := resolverState()
	success := false
	adj := &funcAdjudicator{fn: func(world.Decision, world.State) (world.Resolution, error) {
		return world.Resolution{Success: success}, nil
	}}
	r := NewActionResolver(adj)
	form := []world.Decision{{ActorID: "a", Action: world.ActionDiplomacy, SpecificAction: world.VerbFormAlliance, Target: "c"}}

	out := r.ResolveActions(context.Background(), s, factionsFor(s), form)
	assert.False(t, out.State.Country("a").AlliedWith("c"))

	success = true
	out = r.ResolveActions(context.Background(), s, factionsFor(s), form)
	assert.True(t, out.State.Country("a").AlliedWith("c"))
	assert.True(t, out.State.Country("c").AlliedWith("a"))
	// The input snapshot is not mutated.
	assert.False(t, s.Country("a").AlliedWith("c"))
}

func TestAllianceBreakIsUnconditional(t *testing.T) {
	s := resolverState()
	adj := &funcAdjudicator{fn: func(world.Decision, world.State) (world.Resolution, error) {
		return world.Resolution{Success: false}, nil
	}}
	out := NewActionResolver(adj).ResolveActions(context.Background(), s, factionsFor(s), []world.Decision{
		{ActorID: "c", Action: world.ActionDiplomacy, SpecificAction: world.VerbBreakAlliance, Target: "b"},
	})
	assert.False(t, out.State.Country("c").AlliedWith("b"))
	assert.False(t, out.State.Country("b").AlliedWith("c"))
	assert.Equal(t, world.EventAllianceBroken, out.Events[0].Type)
}

func TestSideEffectsVisibleToLaterResolutions(t *testing.T) {
	s := resolverState()
	var sawAlliance bool
	adj := &funcAdjudicator{fn: func(d world.Decision, snap world.State) (world.Resolution, error) {
		if d.ActorID == "b" {
			sawAlliance = snap.Country("a").AlliedWith("d")
		}
		return world.Resolution{Success: true}, nil
	}}
	NewActionResolver(adj).ResolveActions(context.Background(), s, factionsFor(s), []world.Decision{
		{ActorID: "a", Action: world.ActionDiplomacy, SpecificAction: world.VerbFormAlliance, Target: "d"},
		{ActorID: "b", Action: world.ActionInternal, SpecificAction: "reform"},
	})
	assert.True(t, sawAlliance)
}

func TestDeclareWarListsJoiningAllies(t *testing.T) {
	s := resolverState()
	s.Countries[1].Allies = []string{"c", "d"}
	adj := &funcAdjudicator{fn: func(world.Decision, world.State) (world.Resolution, error) {
		return world.Resolution{Success: true, Narrative: "Avalon marches on Borea."}, nil
	}}
	out := NewActionResolver(adj).ResolveActions(context.Background(), s, factionsFor(s), []world.Decision{
		{ActorID: "a", Action: world.ActionMilitary, SpecificAction: world.VerbDeclareWar, Target: "b"},
	})
	require.Len(t, out.Events, 1)
	assert.Equal(t, world.EventWar, out.Events[0].Type)
	// Calder (45) joins; Dunmar (30) is too unstable.
	assert.Contains(t, out.Events[0].Description, "Allies joining the defence: c.")
	assert.NotContains(t, out.Events[0].Description, "d.")
	// No mechanical change beyond the resolution itself.
	assert.Equal(t, s.Countries, out.State.Countries)
}
