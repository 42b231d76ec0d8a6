package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/talgya/worldorder/internal/world"
)

// Chronicle renders a plain-text broadsheet of the run so far. It is the
// fallback when no narrator is configured.
func Chronicle(r Report, s world.State) string {
	var b strings.Builder

	title := strings.ToUpper(r.Name)
	if title == "" {
		title = "THE WORLD ORDER"
	}
	fmt.Fprintf(&b, "%s CHRONICLE\n", title)
	fmt.Fprintf(&b, "%s\n", strings.Repeat("=", len(title)+10))
	fmt.Fprintf(&b, "Year %d, tick %d (%s)\n\n", r.Year, r.Ticks, r.Status)

	fmt.Fprintf(&b, "STATE OF THE WORLD\n")
	fmt.Fprintf(&b, "Stability index stands at %d with conflict level %d.\n", r.Metrics.StabilityIndex, r.Metrics.ConflictLevel)
	fmt.Fprintf(&b, "%d of %d countries hold together, %s people in all.\n", len(r.Survivors), r.Countries, humanize.Comma(people(r.Population)))
	if r.Metrics.Explanation != "" {
		fmt.Fprintf(&b, "%s\n", r.Metrics.Explanation)
	}
	b.WriteString("\n")

	if r.Dominant != nil {
		fmt.Fprintf(&b, "THE LEADING POWER\n")
		fmt.Fprintf(&b, "%s (%s) commands power %.0f at stability %.0f.\n\n",
			r.Dominant.Name, r.Dominant.Ideology, r.Dominant.Power, r.Dominant.Stability)
	}

	if len(r.MajorEvents) > 0 {
		fmt.Fprintf(&b, "MAJOR EVENTS\n")
		for _, e := range r.MajorEvents {
			fmt.Fprintf(&b, "- Year %d: %s\n", e.Year, e.Description)
		}
		b.WriteString("\n")
	}

	if conflicts := world.ActiveConflicts(s); len(conflicts) > 0 {
		fmt.Fprintf(&b, "OPEN HOSTILITIES\n")
		for i, c := range conflicts {
			if i >= 5 {
				fmt.Fprintf(&b, "...and %d more.\n", len(conflicts)-5)
				break
			}
			fmt.Fprintf(&b, "- %s and %s (tension %.0f)\n", nameOf(s, c.A), nameOf(s, c.B), c.Tension)
		}
		b.WriteString("\n")
	}

	countries := append([]world.Country(nil), s.Countries...)
	sort.SliceStable(countries, func(i, j int) bool { return countries[i].Power > countries[j].Power })
	if len(countries) > 0 {
		fmt.Fprintf(&b, "COUNTRIES OF NOTE\n")
		for i, c := range countries {
			if i >= 5 {
				break
			}
			state := "steady"
			if c.Collapsed() {
				state = "collapsed"
			} else if c.Collapsing {
				state = "collapsing"
			}
			fmt.Fprintf(&b, "- %s: power %.0f, stability %.0f, %s people (%s)\n",
				c.Name, c.Power, c.Stability, humanize.Comma(people(c.Population)), state)
		}
	}

	return b.String()
}

func nameOf(s world.State, id string) string {
	if c := s.Country(id); c != nil && c.Name != "" {
		return c.Name
	}
	return id
}
