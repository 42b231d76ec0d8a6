// Package world defines the simulated geopolitical world and the pure transforms
// that mutate it. Every transform takes a State value and returns a new one;
// the tick orchestrator is the only writer and persists the result.
package world

import (
	"errors"
	"fmt"
	"time"
)

// Bounds shared by every mutation pass.
const (
	MaxGlobalEvents = 100
	MaxHistory      = 10

	StatMin    = 0.0
	StatMax    = 100.0
	TensionMin = -100.0
	TensionMax = 100.0
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusPaused    Status = "PAUSED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// ErrInvalidTransition is returned for status edges outside
// RUNNING→{PAUSED,COMPLETED,FAILED} and PAUSED→RUNNING.
var ErrInvalidTransition = errors.New("invalid status transition")

// Terminal reports whether no further ticks may run.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Transition validates and returns the next status.
func (s Status) Transition(to Status) (Status, error) {
	switch {
	case s == StatusRunning && (to == StatusPaused || to == StatusCompleted || to == StatusFailed):
		return to, nil
	case s == StatusPaused && to == StatusRunning:
		return to, nil
	}
	return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, to)
}

// Country is one competing faction's territory and vital statistics.
type Country struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Ideology   string             `json:"ideology"`
	Power      float64            `json:"power"`
	Stability  float64            `json:"stability"`
	Technology float64            `json:"technology"`
	Resources  float64            `json:"resources"`
	Population float64            `json:"population"` // millions, unbounded above
	Allies     []string           `json:"allies"`
	Tensions   map[string]float64 `json:"tensions"` // other country ID → -100..100
	History    []string           `json:"history"`

	// Collapsing is derived on every mutation pass (stability<20 and power<30).
	Collapsing bool `json:"collapsing"`
}

// Collapsed reports whether the country is too broken to act this tick.
func (c *Country) Collapsed() bool {
	return c.Stability < 10 && c.Power < 10
}

// AlliedWith reports whether id is in the country's alliance set.
func (c *Country) AlliedWith(id string) bool {
	for _, a := range c.Allies {
		if a == id {
			return true
		}
	}
	return false
}

// Metrics is the blended objective/subjective snapshot for a tick.
type Metrics struct {
	StabilityIndex       int `json:"stability_index"`
	IdeologicalDiversity int `json:"ideological_diversity"`
	ConflictLevel        int `json:"conflict_level"`
	SurvivalRate         int `json:"survival_rate"`
	AvgStability         int `json:"avg_stability"`
	PowerImbalance       int `json:"power_imbalance"`

	Explanation      string   `json:"explanation,omitempty"`
	EmergingPatterns []string `json:"emerging_patterns,omitempty"`
	Predictions      []string `json:"predictions,omitempty"`
	HiddenCosts      []string `json:"hidden_costs,omitempty"`
}

// State is the complete world for one run.
type State struct {
	RunID        string    `json:"run_id"`
	Name         string    `json:"name"`
	Tick         int       `json:"tick"`
	Year         int       `json:"year"`
	Countries    []Country `json:"countries"`
	GlobalEvents []Event   `json:"global_events"`
	Metrics      Metrics   `json:"metrics"`
	Status       Status    `json:"status"`
	EndReason    string    `json:"end_reason,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewState creates a fresh run at tick 0.
func NewState(runID, name string, countries []Country) State {
	s := State{
		RunID:     runID,
		Name:      name,
		Countries: countries,
		Status:    StatusRunning,
	}
	for i := range s.Countries {
		if s.Countries[i].Tensions == nil {
			s.Countries[i].Tensions = make(map[string]float64)
		}
	}
	return s
}

// Country returns the country with the given ID, or nil.
func (s *State) Country(id string) *Country {
	for i := range s.Countries {
		if s.Countries[i].ID == id {
			return &s.Countries[i]
		}
	}
	return nil
}

// Clone returns a deep copy sharing no mutable memory with s.
func (s State) Clone() State {
	out := s
	out.Countries = make([]Country, len(s.Countries))
	for i, c := range s.Countries {
		out.Countries[i] = c.clone()
	}
	out.GlobalEvents = make([]Event, len(s.GlobalEvents))
	for i, e := range s.GlobalEvents {
		out.GlobalEvents[i] = e.clone()
	}
	out.Metrics = s.Metrics.clone()
	return out
}

func (c Country) clone() Country {
	out := c
	out.Allies = append([]string(nil), c.Allies...)
	out.History = append([]string(nil), c.History...)
	out.Tensions = make(map[string]float64, len(c.Tensions))
	for k, v := range c.Tensions {
		out.Tensions[k] = v
	}
	return out
}

func (m Metrics) clone() Metrics {
	out := m
	out.EmergingPatterns = append([]string(nil), m.EmergingPatterns...)
	out.Predictions = append([]string(nil), m.Predictions...)
	out.HiddenCosts = append([]string(nil), m.HiddenCosts...)
	return out
}
