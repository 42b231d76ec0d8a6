package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/talgya/worldorder/internal/world"
)

// Resolve adjudicates d. Offline it falls back to HeuristicResolution; with a
// model, any failure is returned so the engine records a failed action.
func (o *Oracle) Resolve(ctx context.Context, d world.Decision, s world.State, actor world.Faction) (world.Resolution, error) {
	if !o.Enabled() {
		return HeuristicResolution(d, s), nil
	}

	response, err := o.client.Complete(ctx, resolutionSystemPrompt, buildResolutionPrompt(d, s, actor), 700)
	if err != nil {
		return world.Resolution{}, fmt.Errorf("resolve %s/%s: %w", d.ActorID, d.SpecificAction, err)
	}

	var res world.Resolution
	if err := decodeValidated(response, resolutionSchema, &res); err != nil {
		return world.Resolution{}, fmt.Errorf("resolve %s/%s: %w", d.ActorID, d.SpecificAction, err)
	}
	// Drop references to countries that do not exist.
	for id := range res.Changes {
		if s.Country(id) == nil {
			delete(res.Changes, id)
		}
	}
	for id := range res.NewTensions {
		if s.Country(id) == nil || id == d.ActorID {
			delete(res.NewTensions, id)
		}
	}
	return res, nil
}

const resolutionSystemPrompt = `You adjudicate the actions of nations in a geopolitical simulation. Judge each action realistically given the relative strength, stability and relationships of the countries involved. Actions have costs as well as benefits, and bold moves can backfire.

Respond ONLY with a single JSON object:
- "success": true or false
- "success_level": one of "critical_success", "success", "partial", "failure", "critical_failure"
- "changes": an object keyed by country id, each value an object with any of "power", "stability", "technology", "resources", "population" (population in millions) giving the change, usually between -20 and +20
- "new_tensions": an object keyed by country id giving the change in the acting country's attitude toward that country, between -50 and +50
- "narrative": two or three sentences describing what happened
- "unintended_consequences": one sentence, or an empty string`

func buildResolutionPrompt(d world.Decision, s world.State, actor world.Faction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "It is year %d.\n\n", s.Year)

	b.WriteString("ACTING COUNTRY:\n")
	if c := s.Country(d.ActorID); c != nil {
		writeCountry(&b, *c)
	}
	if actor.Leader != "" {
		fmt.Fprintf(&b, "Led by %s.\n", actor.Leader)
	}
	b.WriteString("\n")

	if d.Target != "" {
		if t := s.Country(d.Target); t != nil {
			b.WriteString("TARGET COUNTRY:\n")
			writeCountry(&b, *t)
			b.WriteString("\n")
		}
	}

	fmt.Fprintf(&b, "ACTION: %s / %s\n", d.Action, d.SpecificAction)
	if d.Rationale != "" {
		fmt.Fprintf(&b, "Rationale: %s\n", d.Rationale)
	}
	if d.PublicStatement != "" {
		fmt.Fprintf(&b, "Public statement: %s\n", d.PublicStatement)
	}
	b.WriteString("\nWhat is the outcome? Respond with a single JSON object.")
	return b.String()
}

// HeuristicResolution resolves d without a model. Outcomes depend only on
// the decision and the actor/target power ratio, so runs are reproducible.
func HeuristicResolution(d world.Decision, s world.State) world.Resolution {
	actor := s.Country(d.ActorID)
	if actor == nil {
		return world.Resolution{Success: false, SuccessLevel: "failure", Narrative: "The acting country no longer exists."}
	}
	target := s.Country(d.Target)
	if d.Target == d.ActorID {
		target = nil
	}

	ratio := 1.0
	if target != nil && actor.Power+target.Power > 0 {
		ratio = actor.Power / (actor.Power + target.Power)
	}

	res := world.Resolution{
		Changes:     make(map[string]world.StatDelta),
		NewTensions: make(map[string]float64),
	}
	verb := strings.ToLower(d.SpecificAction)

	switch {
	case d.Action == world.ActionInternal || target == nil:
		res.Success = actor.Resources > 5
		switch verb {
		case "invest_technology":
			res.Changes[actor.ID] = world.StatDelta{Technology: 4, Resources: -3}
		case "develop_economy":
			res.Changes[actor.ID] = world.StatDelta{Resources: 5, Stability: 1}
		case "suppress_dissent":
			res.Changes[actor.ID] = world.StatDelta{Stability: 6, Power: -1, Population: -0.1}
		case "mobilize", "arms_buildup":
			res.Changes[actor.ID] = world.StatDelta{Power: 4, Resources: -4, Stability: -1}
		default:
			res.Changes[actor.ID] = world.StatDelta{Stability: 5, Resources: -3}
		}
		if !res.Success {
			res.Changes[actor.ID] = world.StatDelta{Stability: 1}
		}

	case d.Action == world.ActionMilitary:
		res.Success = ratio >= 0.5
		if verb == world.VerbDeclareWar {
			res.NewTensions[target.ID] = -40
		} else {
			res.NewTensions[target.ID] = -20
		}
		if res.Success {
			res.Changes[target.ID] = world.StatDelta{Stability: -10, Power: -5, Population: -0.2}
			res.Changes[actor.ID] = world.StatDelta{Power: 3, Resources: -5}
		} else {
			res.Changes[target.ID] = world.StatDelta{Stability: -3}
			res.Changes[actor.ID] = world.StatDelta{Power: -5, Stability: -5, Resources: -5}
		}

	case d.Action == world.ActionDiplomacy:
		hostile := actor.Tensions[target.ID] <= -50 || target.Tensions[actor.ID] <= -50
		switch verb {
		case world.VerbBreakAlliance, "sanctions":
			res.Success = true
			res.NewTensions[target.ID] = -15
			res.Changes[target.ID] = world.StatDelta{Resources: -5}
			res.Changes[actor.ID] = world.StatDelta{Resources: -2}
		case world.VerbFormAlliance:
			res.Success = !hostile
			if res.Success {
				res.NewTensions[target.ID] = 20
				res.Changes[actor.ID] = world.StatDelta{Stability: 3, Power: 2}
				res.Changes[target.ID] = world.StatDelta{Stability: 3, Power: 2}
			}
		default:
			res.Success = !hostile
			if res.Success {
				res.NewTensions[target.ID] = 10
				res.Changes[actor.ID] = world.StatDelta{Resources: 3, Stability: 2}
				res.Changes[target.ID] = world.StatDelta{Resources: 3, Stability: 2}
			} else {
				res.NewTensions[target.ID] = -5
			}
		}

	default: // espionage and anything unrecognised
		res.Success = ratio >= 0.4
		if res.Success {
			res.Changes[target.ID] = world.StatDelta{Stability: -5}
			res.Changes[actor.ID] = world.StatDelta{Technology: 3}
			res.NewTensions[target.ID] = -10
		} else {
			res.Changes[actor.ID] = world.StatDelta{Stability: -3}
			res.NewTensions[target.ID] = -20
		}
	}

	res.SuccessLevel = successLevel(res.Success, ratio)
	res.Narrative = heuristicNarrative(actor, target, verb, res.Success)
	return res
}

func successLevel(success bool, ratio float64) string {
	switch {
	case success && ratio >= 0.7:
		return "critical_success"
	case success:
		return "success"
	case ratio >= 0.4:
		return "partial"
	case ratio < 0.2:
		return "critical_failure"
	}
	return "failure"
}

func heuristicNarrative(actor, target *world.Country, verb string, success bool) string {
	what := strings.ReplaceAll(verb, "_", " ")
	if what == "" {
		what = "its plans"
	}
	outcome := "succeeds"
	if !success {
		outcome = "falters"
	}
	if target == nil {
		return fmt.Sprintf("%s pursues %s at home and %s.", actor.Name, what, outcome)
	}
	return fmt.Sprintf("%s pursues %s against %s and %s.", actor.Name, what, target.Name, outcome)
}
