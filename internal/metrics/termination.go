package metrics

import "github.com/talgya/worldorder/internal/world"

// Reason names the condition that ended a run.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonTimeLimit     Reason = "TIME_LIMIT"
	ReasonHegemony      Reason = "HEGEMONY"
	ReasonTotalCollapse Reason = "TOTAL_COLLAPSE"
	ReasonPerfectOrder  Reason = "PERFECT_ORDER"
)

// DefaultMaxYears bounds a run when the caller supplies no limit.
const DefaultMaxYears = 1000

const (
	hegemonPower       = 50
	hegemonStability   = 30
	perfectOrderWindow = 20
	perfectOrderIndex  = 95
)

// Termination is the verdict of ShouldTerminate.
type Termination struct {
	Terminated bool   `json:"terminated"`
	Reason     Reason `json:"reason,omitempty"`
}

// ShouldTerminate checks, in priority order, the time limit, hegemony,
// total collapse and sustained perfect order. maxYears <= 0 means DefaultMaxYears.
func ShouldTerminate(s world.State, maxYears int) Termination {
	if maxYears <= 0 {
		maxYears = DefaultMaxYears
	}
	if s.Year >= maxYears {
		return Termination{Terminated: true, Reason: ReasonTimeLimit}
	}

	if len(s.Countries) > 1 {
		dominant := 0
		for _, c := range s.Countries {
			if c.Power > hegemonPower && c.Stability > hegemonStability {
				dominant++
			}
		}
		if dominant == 1 {
			return Termination{Terminated: true, Reason: ReasonHegemony}
		}
	}

	alive := false
	for _, c := range s.Countries {
		if c.Stability > survivalStability {
			alive = true
			break
		}
	}
	if !alive {
		return Termination{Terminated: true, Reason: ReasonTotalCollapse}
	}

	if sustainedPerfectOrder(s.GlobalEvents) {
		return Termination{Terminated: true, Reason: ReasonPerfectOrder}
	}

	return Termination{}
}

// sustainedPerfectOrder reports whether the latest 20 tick summaries all
// scored at least 95.
func sustainedPerfectOrder(events []world.Event) bool {
	seen := 0
	for i := len(events) - 1; i >= 0 && seen < perfectOrderWindow; i-- {
		e := events[i]
		if e.Type != world.EventTickSummary || e.Summary == nil {
			continue
		}
		if e.Summary.StabilityIndex < perfectOrderIndex {
			return false
		}
		seen++
	}
	return seen == perfectOrderWindow
}
