// Package report summarises a run from its final state and event log.
package report

import (
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/talgya/worldorder/internal/world"
)

const (
	// Countries above this stability count as survivors.
	survivorStability = 20
	// MaxMajorEvents bounds the major-event slice to the most recent entries.
	MaxMajorEvents = 10
)

// majorTypes are the event types worth retelling in a summary.
var majorTypes = map[string]bool{
	world.EventWar:             true,
	world.EventAlliance:        true,
	world.EventAllianceBroken:  true,
	world.EventNaturalDisaster: true,
	world.EventPopularUprising: true,
}

// CountryLine is the reporting view of one country.
type CountryLine struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Ideology   string  `json:"ideology"`
	Power      float64 `json:"power"`
	Stability  float64 `json:"stability"`
	Population float64 `json:"population"`
}

// Report is the end-of-run (or current) account of a run.
type Report struct {
	RunID       string        `json:"run_id"`
	Name        string        `json:"name"`
	Status      world.Status  `json:"status"`
	Reason      string        `json:"reason,omitempty"`
	Year        int           `json:"year"`
	Ticks       int           `json:"ticks"`
	Countries   int           `json:"countries"`
	Survivors   []CountryLine `json:"survivors"`
	Dominant    *CountryLine  `json:"dominant,omitempty"`
	MajorEvents []world.Event `json:"major_events"`
	Metrics     world.Metrics `json:"metrics"`
	Population  float64       `json:"population"`
	Chronicle   string        `json:"chronicle,omitempty"`
}

// Build computes the report for s. events is the run's event log in tick
// order; reason is the termination reason, empty for a run still going.
func Build(s world.State, events []world.Event, reason string) Report {
	r := Report{
		RunID:     s.RunID,
		Name:      s.Name,
		Status:    s.Status,
		Reason:    reason,
		Year:      s.Year,
		Ticks:     s.Tick,
		Countries: len(s.Countries),
		Metrics:   s.Metrics,
	}

	for _, c := range s.Countries {
		r.Population += c.Population
		if c.Stability <= survivorStability {
			continue
		}
		line := lineFor(c)
		r.Survivors = append(r.Survivors, line)
		if r.Dominant == nil || line.Power > r.Dominant.Power {
			d := line
			r.Dominant = &d
		}
	}

	r.MajorEvents = MajorEvents(events)
	return r
}

func lineFor(c world.Country) CountryLine {
	return CountryLine{
		ID:         c.ID,
		Name:       c.Name,
		Ideology:   c.Ideology,
		Power:      c.Power,
		Stability:  c.Stability,
		Population: c.Population,
	}
}

// MajorEvents returns the last MaxMajorEvents events of a major type.
func MajorEvents(events []world.Event) []world.Event {
	var out []world.Event
	for _, e := range events {
		if majorTypes[e.Type] {
			out = append(out, e)
		}
	}
	if len(out) > MaxMajorEvents {
		out = out[len(out)-MaxMajorEvents:]
	}
	return out
}

// DominantName returns the dominant power's name, or "none".
func (r Report) DominantName() string {
	if r.Dominant == nil {
		return "none"
	}
	return r.Dominant.Name
}

// Summary renders a short plain-text account of the report.
func (r Report) Summary() string {
	var b strings.Builder

	name := r.Name
	if name == "" {
		name = r.RunID
	}
	fmt.Fprintf(&b, "%s: ", name)
	if r.Reason != "" {
		fmt.Fprintf(&b, "ended in year %d (%s)", r.Year, r.Reason)
	} else {
		fmt.Fprintf(&b, "in its %s year", humanize.Ordinal(r.Year+1))
	}
	fmt.Fprintf(&b, " after %s ticks. ", humanize.Comma(int64(r.Ticks)))

	fmt.Fprintf(&b, "%d of %d countries survive, %s people in all. ",
		len(r.Survivors), r.Countries, humanize.Comma(people(r.Population)))
	if r.Dominant != nil {
		fmt.Fprintf(&b, "Dominant power: %s (power %.0f). ", r.Dominant.Name, r.Dominant.Power)
	} else {
		b.WriteString("No dominant power remains. ")
	}
	fmt.Fprintf(&b, "Stability index %d, conflict level %d.", r.Metrics.StabilityIndex, r.Metrics.ConflictLevel)
	return b.String()
}

// people converts a population in millions to a head count.
func people(millions float64) int64 {
	return int64(math.Round(millions * 1_000_000))
}
