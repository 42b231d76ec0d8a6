package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/talgya/worldorder/internal/world"
)

// Recent events included in faction prompts.
const promptEvents = 8

// Oracle implements the engine capabilities on top of a Client. A nil client
// gives offline behaviour: decisions and analysis fail so the engine's
// fallbacks apply, and resolutions use a deterministic heuristic.
type Oracle struct {
	client *Client
}

// NewOracle creates an oracle backed by client, which may be nil.
func NewOracle(client *Client) *Oracle {
	return &Oracle{client: client}
}

// Enabled reports whether the oracle reaches a model.
func (o *Oracle) Enabled() bool {
	return o != nil && o.client.Enabled()
}

// CollectDecision asks the model what faction does this tick.
func (o *Oracle) CollectDecision(ctx context.Context, faction world.Faction, s world.State) (world.Decision, error) {
	if !o.Enabled() {
		return world.Decision{}, ErrDisabled
	}

	response, err := o.client.Complete(ctx, buildDecisionSystemPrompt(faction, s), buildDecisionUserPrompt(faction, s), 500)
	if err != nil {
		return world.Decision{}, fmt.Errorf("decision for %s: %w", faction.CountryID, err)
	}
	return parseDecision(response, faction.CountryID, s)
}

func buildDecisionSystemPrompt(f world.Faction, s world.State) string {
	name := f.Name
	if name == "" {
		name = f.CountryID
	}
	if c := s.Country(f.CountryID); c != nil && f.Name == "" {
		name = c.Name
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You lead %s", name)
	if f.Leader != "" {
		fmt.Fprintf(&b, " as %s", f.Leader)
	}
	b.WriteString(" in a world of rival nations competing for power and survival.\n")
	if f.Persona != "" {
		fmt.Fprintf(&b, "Your character: %s\n", f.Persona)
	}
	if len(f.Goals) > 0 {
		fmt.Fprintf(&b, "Your goals: %s\n", strings.Join(f.Goals, "; "))
	}
	fmt.Fprintf(&b, "Your appetite for risk is %.1f on a scale of 0 (cautious) to 1 (reckless).\n\n", f.RiskTolerance)

	b.WriteString(`Choose ONE action for this year. Respond ONLY with a single JSON object:
- "action": one of "MILITARY", "DIPLOMACY", "INTERNAL", "ESPIONAGE"
- "specific_action": a short snake_case verb such as "declare_war", "mobilize", "form_alliance", "break_alliance", "trade_agreement", "sanctions", "peace_treaty", "spy", "sabotage", "propaganda", "stabilize", "reform", "invest_technology", "develop_economy"
- "target": the id of the country your action targets, or null for internal actions
- "rationale": one sentence explaining why
- "public_statement": what you announce to the world`)
	return b.String()
}

func buildDecisionUserPrompt(f world.Faction, s world.State) string {
	var b strings.Builder

	fmt.Fprintf(&b, "It is year %d.\n\n", s.Year)
	if self := s.Country(f.CountryID); self != nil {
		b.WriteString("YOUR COUNTRY:\n")
		writeCountry(&b, *self)
		b.WriteString("\n")
	}

	b.WriteString("OTHER COUNTRIES:\n")
	for _, c := range s.Countries {
		if c.ID == f.CountryID {
			continue
		}
		writeCountry(&b, c)
	}
	b.WriteString("\n")

	if events := recentEvents(s.GlobalEvents, promptEvents); len(events) > 0 {
		b.WriteString("RECENT EVENTS:\n")
		for _, e := range events {
			fmt.Fprintf(&b, "- Year %d: %s\n", e.Year, e.Description)
		}
		b.WriteString("\n")
	}

	b.WriteString("What do you do this year? Respond with a single JSON object.")
	return b.String()
}

func writeCountry(b *strings.Builder, c world.Country) {
	fmt.Fprintf(b, "- %s (id %s, %s): power %.0f, stability %.0f, technology %.0f, resources %.0f, population %.1fm",
		c.Name, c.ID, c.Ideology, c.Power, c.Stability, c.Technology, c.Resources, c.Population)
	if len(c.Allies) > 0 {
		fmt.Fprintf(b, ", allies %s", strings.Join(c.Allies, ","))
	}
	if len(c.Tensions) > 0 {
		ids := make([]string, 0, len(c.Tensions))
		for id := range c.Tensions {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		parts := make([]string, 0, len(ids))
		for _, id := range ids {
			parts = append(parts, fmt.Sprintf("%s %+.0f", id, c.Tensions[id]))
		}
		fmt.Fprintf(b, ", tensions %s", strings.Join(parts, " "))
	}
	if c.Collapsing {
		b.WriteString(" [collapsing]")
	}
	b.WriteString("\n")
}

func recentEvents(events []world.Event, n int) []world.Event {
	var out []world.Event
	for i := len(events) - 1; i >= 0 && len(out) < n; i-- {
		if events[i].Type == world.EventTickSummary {
			continue
		}
		out = append(out, events[i])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func parseDecision(response, actorID string, s world.State) (world.Decision, error) {
	var d world.Decision
	if err := decodeValidated(response, decisionSchema, &d); err != nil {
		return world.Decision{}, fmt.Errorf("parse decision: %w", err)
	}
	d.ActorID = actorID
	d.Fallback = false
	d.SpecificAction = strings.ToLower(strings.TrimSpace(d.SpecificAction))
	if d.Target != "" && (d.Target == actorID || s.Country(d.Target) == nil) {
		slog.Debug("dropping invalid decision target", "actor", actorID, "target", d.Target)
		d.Target = ""
	}
	return d, nil
}
