package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/talgya/worldorder/internal/world"
)

// Allies above this stability answer a call to war.
const warJoinStability = 40

var actionRank = map[string]int{
	world.ActionMilitary:  1,
	world.ActionDiplomacy: 2,
	world.ActionEspionage: 3,
	world.ActionInternal:  4,
}

const unknownRank = 99

// eventTypes maps fine-grained verbs to coarse event tags.
var eventTypes = map[string]string{
	world.VerbDeclareWar:    world.EventWar,
	"invade":                world.EventWar,
	"military_strike":       "MILITARY_ACTION",
	"mobilize":              "MILITARY_BUILDUP",
	"arms_buildup":          "MILITARY_BUILDUP",
	world.VerbFormAlliance:  world.EventAlliance,
	world.VerbBreakAlliance: world.EventAllianceBroken,
	"trade_agreement":       "TRADE",
	"sanctions":             "SANCTIONS",
	"peace_treaty":          "PEACE",
	"spy":                   "ESPIONAGE",
	"sabotage":              "SABOTAGE",
	"propaganda":            "PROPAGANDA",
	"cyber_attack":          "SABOTAGE",
	world.VerbStabilize:     "INTERNAL_REFORM",
	"reform":                "INTERNAL_REFORM",
	"invest_technology":     "TECHNOLOGY",
	"develop_economy":       "ECONOMIC_GROWTH",
	"suppress_dissent":      "REPRESSION",
}

// MapActionToEventType returns the event tag for a decision, falling back to
// the coarse action category for unmapped verbs.
func MapActionToEventType(action, specificAction string) string {
	if t, ok := eventTypes[strings.ToLower(specificAction)]; ok {
		return t
	}
	return action
}

// PrioritizeActions orders decisions MILITARY, DIPLOMACY, ESPIONAGE, INTERNAL,
// then unknown categories. Ties keep collection order.
func PrioritizeActions(decisions []world.Decision) []world.Decision {
	out := append([]world.Decision(nil), decisions...)
	sort.SliceStable(out, func(i, j int) bool {
		return rank(out[i].Action) < rank(out[j].Action)
	})
	return out
}

func rank(action string) int {
	if r, ok := actionRank[action]; ok {
		return r
	}
	return unknownRank
}

// Outcome is the merged result of resolving a tick's decisions.
type Outcome struct {
	// State carries the alliance side effects applied while resolving.
	State    world.State
	Events   []world.Event
	Deltas   map[string]world.StatDelta
	Tensions map[string]map[string]float64
}

// ActionResolver resolves decisions one at a time through an Adjudicator.
type ActionResolver struct {
	adjudicator Adjudicator
}

// NewActionResolver creates a resolver backed by adj.
func NewActionResolver(adj Adjudicator) *ActionResolver {
	return &ActionResolver{adjudicator: adj}
}

// ResolveActions adjudicates decisions in priority order. Calls are
// sequential so each resolution sees the side effects of the previous one.
// Stat deltas are summed per country; tension deltas overwrite per actor.
func (r *ActionResolver) ResolveActions(ctx context.Context, s world.State, factions map[string]world.Faction, decisions []world.Decision) Outcome {
	out := Outcome{
		State:    s,
		Deltas:   make(map[string]world.StatDelta),
		Tensions: make(map[string]map[string]float64),
	}

	for _, d := range PrioritizeActions(decisions) {
		actor, ok := factions[d.ActorID]
		if !ok || out.State.Country(d.ActorID) == nil {
			slog.Warn("skipping decision",
				"run", s.RunID, "actor", d.ActorID,
				"error", fmt.Errorf("%w: no configuration for actor %q", ErrDataIntegrity, d.ActorID))
			continue
		}

		res, err := r.resolve(ctx, d, out.State, actor)
		if err != nil {
			slog.Warn("resolution failed", "run", s.RunID, "actor", d.ActorID, "action", d.SpecificAction, "error", err)
			out.Events = append(out.Events, failedActionEvent(out.State, d))
			continue
		}

		for id, delta := range res.Changes {
			out.Deltas[id] = out.Deltas[id].Add(delta)
		}
		if len(res.NewTensions) > 0 {
			t := make(map[string]float64, len(res.NewTensions))
			for target, v := range res.NewTensions {
				t[target] = v
			}
			out.Tensions[d.ActorID] = t
		}

		var joiners []string
		out.State, joiners = applySpecialAction(out.State, d, res)
		out.Events = append(out.Events, resolvedEvent(out.State, d, res, joiners))
	}
	return out
}

func (r *ActionResolver) resolve(ctx context.Context, d world.Decision, s world.State, actor world.Faction) (res world.Resolution, err error) {
	if r.adjudicator == nil {
		return res, fmt.Errorf("%w: no adjudicator configured", ErrResolution)
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: adjudicator panic: %v", ErrResolution, p)
		}
	}()
	res, err = r.adjudicator.Resolve(ctx, d, s, actor)
	if err != nil && !errors.Is(err, ErrResolution) {
		err = fmt.Errorf("%w: %w", ErrResolution, err)
	}
	return res, err
}

// applySpecialAction applies alliance side effects immediately. Forming an
// alliance requires success; breaking one does not. A war declaration changes
// nothing here and only reports which of the target's allies would join.
func applySpecialAction(s world.State, d world.Decision, res world.Resolution) (world.State, []string) {
	if d.Target == "" || d.Target == d.ActorID {
		return s, nil
	}
	switch strings.ToLower(d.SpecificAction) {
	case world.VerbFormAlliance:
		if res.Success {
			return world.UpdateAlliances(s, d.ActorID, d.Target, world.AllianceForm), nil
		}
	case world.VerbBreakAlliance:
		return world.UpdateAlliances(s, d.ActorID, d.Target, world.AllianceBreak), nil
	case world.VerbDeclareWar:
		target := s.Country(d.Target)
		if target == nil {
			return s, nil
		}
		var joiners []string
		for _, id := range target.Allies {
			if ally := s.Country(id); ally != nil && ally.Stability > warJoinStability && id != d.ActorID {
				joiners = append(joiners, id)
			}
		}
		if len(joiners) > 0 {
			slog.Info("allies join war", "run", s.RunID, "aggressor", d.ActorID, "defender", d.Target, "allies", joiners)
		}
		return s, joiners
	}
	return s, nil
}

func actors(d world.Decision) []string {
	if d.Target != "" && d.Target != d.ActorID {
		return []string{d.ActorID, d.Target}
	}
	return []string{d.ActorID}
}

func resolvedEvent(s world.State, d world.Decision, res world.Resolution, joiners []string) world.Event {
	desc := res.Narrative
	if desc == "" {
		desc = fmt.Sprintf("%s carries out %s", d.ActorID, d.SpecificAction)
	}
	if len(joiners) > 0 {
		desc += fmt.Sprintf(" Allies joining the defence: %s.", strings.Join(joiners, ", "))
	}
	impact := make(map[string]world.StatDelta, len(res.Changes))
	for id, delta := range res.Changes {
		impact[id] = delta
	}
	return world.Event{
		Tick:                   s.Tick,
		Year:                   s.Year,
		Type:                   MapActionToEventType(d.Action, d.SpecificAction),
		Actors:                 actors(d),
		Description:            desc,
		Impact:                 impact,
		UnintendedConsequences: res.UnintendedConsequences,
		Success:                res.Success,
		SuccessLevel:           res.SuccessLevel,
	}
}

func failedActionEvent(s world.State, d world.Decision) world.Event {
	return world.Event{
		Tick:        s.Tick,
		Year:        s.Year,
		Type:        world.EventFailedAction,
		Actors:      actors(d),
		Description: fmt.Sprintf("%s attempted %s but the outcome could not be determined", d.ActorID, d.SpecificAction),
		Impact:      map[string]world.StatDelta{},
		Success:     false,
	}
}
