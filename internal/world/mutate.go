// State transforms. Each function clones its input, so a caller holding the
// previous State never observes the change.
package world

import (
	"log/slog"
	"math"
)

// Collapse thresholds.
const (
	collapsingStability = 20
	collapsingPower     = 30
	hardCollapseStab    = 5
	hardCollapsePower   = 20

	// Share of an actor→target tension delta reflected back target→actor.
	reciprocalTension = 0.7
)

// AllianceOp selects the alliance mutation.
type AllianceOp int

const (
	AllianceForm AllianceOp = iota
	AllianceBreak
)

// ApplyChanges adds per-country deltas, clamps the bounded stats and
// recomputes the collapse flags. Unknown country IDs are skipped.
func ApplyChanges(s State, deltas map[string]StatDelta) State {
	out := s.Clone()
	for id, d := range deltas {
		c := out.Country(id)
		if c == nil {
			slog.Warn("stat delta for unknown country", "run", s.RunID, "country", id)
			continue
		}
		c.Power = clamp(c.Power+d.Power, StatMin, StatMax)
		c.Stability = clamp(c.Stability+d.Stability, StatMin, StatMax)
		c.Technology = clamp(c.Technology+d.Technology, StatMin, StatMax)
		c.Resources = clamp(c.Resources+d.Resources, StatMin, StatMax)
		c.Population = math.Max(0, c.Population+d.Population)

		// Hard-collapse ceiling only lowers power.
		if c.Stability < hardCollapseStab && c.Power > hardCollapsePower {
			c.Power = hardCollapsePower
		}
	}
	for i := range out.Countries {
		c := &out.Countries[i]
		c.Collapsing = c.Stability < collapsingStability && c.Power < collapsingPower
	}
	return out
}

// ApplyTensionChanges adjusts actor→target tension by delta and target→actor
// by 0.7·delta, clamping both to [-100,100].
func ApplyTensionChanges(s State, deltas map[string]map[string]float64) State {
	out := s.Clone()
	for actorID, targets := range deltas {
		actor := out.Country(actorID)
		if actor == nil {
			slog.Warn("tension delta for unknown actor", "run", s.RunID, "actor", actorID)
			continue
		}
		for targetID, delta := range targets {
			if targetID == actorID {
				continue
			}
			target := out.Country(targetID)
			if target == nil {
				slog.Warn("tension delta for unknown target", "run", s.RunID, "actor", actorID, "target", targetID)
				continue
			}
			actor.Tensions[targetID] = clamp(actor.Tensions[targetID]+delta, TensionMin, TensionMax)
			target.Tensions[actorID] = clamp(target.Tensions[actorID]+reciprocalTension*delta, TensionMin, TensionMax)
		}
	}
	return out
}

// AddEvent appends e to the global log, keeping the most recent MaxGlobalEvents.
func AddEvent(s State, e Event) State {
	out := s.Clone()
	out.GlobalEvents = append(out.GlobalEvents, e.clone())
	if len(out.GlobalEvents) > MaxGlobalEvents {
		out.GlobalEvents = out.GlobalEvents[len(out.GlobalEvents)-MaxGlobalEvents:]
	}
	return out
}

// AddCountryHistory appends a narrative line to a country's history,
// keeping the most recent MaxHistory entries.
func AddCountryHistory(s State, countryID, entry string) State {
	out := s.Clone()
	c := out.Country(countryID)
	if c == nil {
		return out
	}
	c.History = append(c.History, entry)
	if len(c.History) > MaxHistory {
		c.History = c.History[len(c.History)-MaxHistory:]
	}
	return out
}

// UpdateAlliances forms or breaks the symmetric alliance between a and b.
// Both operations are idempotent.
func UpdateAlliances(s State, a, b string, op AllianceOp) State {
	out := s.Clone()
	if a == b {
		return out
	}
	ca, cb := out.Country(a), out.Country(b)
	if ca == nil || cb == nil {
		slog.Warn("alliance update for unknown country", "run", s.RunID, "a", a, "b", b)
		return out
	}
	switch op {
	case AllianceForm:
		ca.Allies = addUnique(ca.Allies, b)
		cb.Allies = addUnique(cb.Allies, a)
	case AllianceBreak:
		ca.Allies = remove(ca.Allies, b)
		cb.Allies = remove(cb.Allies, a)
	}
	return out
}

func addUnique(set []string, id string) []string {
	for _, v := range set {
		if v == id {
			return set
		}
	}
	return append(set, id)
}

func remove(set []string, id string) []string {
	out := set[:0]
	for _, v := range set {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
