package llm

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/talgya/worldorder/internal/world"
)

const overseerSystemPrompt = `You are an impartial analyst observing a simulated world of competing nations. Assess how orderly and stable the world is, what patterns are emerging, and what the current course is costing.

Respond ONLY with a single JSON object:
- "stability_index": your estimate from 0 (chaos) to 100 (perfect order)
- "explanation": two or three sentences
- "emerging_patterns": a list of short phrases
- "predictions": a list of short phrases
- "hidden_costs": a list of short phrases`

// overseerPayload accepts fractional indices from the model.
type overseerPayload struct {
	StabilityIndex   float64  `json:"stability_index"`
	Explanation      string   `json:"explanation"`
	EmergingPatterns []string `json:"emerging_patterns"`
	Predictions      []string `json:"predictions"`
	HiddenCosts      []string `json:"hidden_costs"`
}

// Analyze produces the subjective half of the tick metrics.
func (o *Oracle) Analyze(ctx context.Context, s world.State) (world.OverseerAnalysis, error) {
	if !o.Enabled() {
		return world.OverseerAnalysis{}, ErrDisabled
	}

	response, err := o.client.Complete(ctx, overseerSystemPrompt, buildOverseerPrompt(s), 700)
	if err != nil {
		return world.OverseerAnalysis{}, fmt.Errorf("overseer: %w", err)
	}

	var p overseerPayload
	if err := decodeValidated(response, overseerSchema, &p); err != nil {
		return world.OverseerAnalysis{}, fmt.Errorf("overseer: %w", err)
	}
	return world.OverseerAnalysis{
		StabilityIndex:   int(math.Round(p.StabilityIndex)),
		Explanation:      p.Explanation,
		EmergingPatterns: p.EmergingPatterns,
		Predictions:      p.Predictions,
		HiddenCosts:      p.HiddenCosts,
	}, nil
}

func buildOverseerPrompt(s world.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Year %d. %d countries.\n\n", s.Year, len(s.Countries))
	b.WriteString("COUNTRIES:\n")
	for _, c := range s.Countries {
		writeCountry(&b, c)
	}
	b.WriteString("\n")

	if conflicts := world.ActiveConflicts(s); len(conflicts) > 0 {
		b.WriteString("OPEN CONFLICTS:\n")
		for _, c := range conflicts {
			fmt.Fprintf(&b, "- %s vs %s (tension %.0f)\n", c.A, c.B, c.Tension)
		}
		b.WriteString("\n")
	}

	if events := recentEvents(s.GlobalEvents, promptEvents); len(events) > 0 {
		b.WriteString("RECENT EVENTS:\n")
		for _, e := range events {
			fmt.Fprintf(&b, "- Year %d [%s]: %s\n", e.Year, e.Type, e.Description)
		}
		b.WriteString("\n")
	}

	b.WriteString("Assess the state of the world. Respond with a single JSON object.")
	return b.String()
}
