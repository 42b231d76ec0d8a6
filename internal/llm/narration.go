package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/talgya/worldorder/internal/report"
	"github.com/talgya/worldorder/internal/world"
)

// Commentary reflects on the latest events in a few sentences.
// Returns empty string on failure (non-fatal).
func (o *Oracle) Commentary(ctx context.Context, s world.State, recent []world.Event) (string, error) {
	if !o.Enabled() {
		return "", ErrDisabled
	}

	system := `You are a historian watching a world of rival nations unfold year by year. Reflect on the latest developments in 2-3 sentences: what they reveal about the balance of power and where things may be heading. Be vivid but concise. Do not mention that this is a simulation.`

	var b strings.Builder
	fmt.Fprintf(&b, "Year %d.\n", s.Year)
	for _, e := range recent {
		if e.Type == world.EventTickSummary {
			continue
		}
		fmt.Fprintf(&b, "- %s\n", e.Description)
	}

	text, err := o.client.Complete(ctx, system, b.String(), 200)
	if err != nil {
		return "", fmt.Errorf("commentary: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// StrategicAnalysis assesses the active conflicts.
func (o *Oracle) StrategicAnalysis(ctx context.Context, s world.State, conflicts []world.Conflict) (string, error) {
	if !o.Enabled() {
		return "", ErrDisabled
	}
	if len(conflicts) == 0 {
		return "", nil
	}

	system := `You are a military strategist briefing on the open conflicts between nations. For each conflict, judge who holds the advantage and what is likely to happen next. Keep it under 150 words.`

	var b strings.Builder
	fmt.Fprintf(&b, "Year %d. Open conflicts:\n", s.Year)
	for _, c := range conflicts {
		a, bb := s.Country(c.A), s.Country(c.B)
		if a == nil || bb == nil {
			continue
		}
		fmt.Fprintf(&b, "- %s (power %.0f, stability %.0f) vs %s (power %.0f, stability %.0f), tension %.0f\n",
			a.Name, a.Power, a.Stability, bb.Name, bb.Power, bb.Stability, c.Tension)
	}

	text, err := o.client.Complete(ctx, system, b.String(), 300)
	if err != nil {
		return "", fmt.Errorf("strategic analysis: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// Chronicle writes a broadsheet account of the run. Offline or on API
// failure it falls back to the plain-text chronicle.
func (o *Oracle) Chronicle(ctx context.Context, r report.Report, s world.State) string {
	fallback := report.Chronicle(r, s)
	if !o.Enabled() {
		return fallback
	}

	system := `You are the editor of "The World Order", a broadsheet covering the affairs of rival nations. Write an engaging edition from the dispatch you are given. Keep it concise (under 500 words). Do not mention that this is a simulation.`

	content, err := o.client.Complete(ctx, system, "Dispatch:\n\n"+fallback, 900)
	if err != nil {
		return fallback
	}
	return content
}
