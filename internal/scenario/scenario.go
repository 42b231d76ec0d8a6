// Package scenario turns YAML scenario files into the initial world state and
// faction configuration of a run.
package scenario

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/talgya/worldorder/internal/world"
)

// ErrInvalidScenario wraps every validation failure.
var ErrInvalidScenario = errors.New("invalid scenario")

// Scenario is the on-disk description of a run. Stats left out are seeded
// procedurally from Seed.
type Scenario struct {
	Name      string        `yaml:"name" json:"name"`
	Seed      int64         `yaml:"seed" json:"seed"`
	Generate  int           `yaml:"generate" json:"generate"` // extra procedural countries
	Countries []CountrySpec `yaml:"countries" json:"countries"`
}

// CountrySpec describes one country and, optionally, the faction leading it.
type CountrySpec struct {
	ID         string             `yaml:"id" json:"id"`
	Name       string             `yaml:"name" json:"name"`
	Ideology   string             `yaml:"ideology" json:"ideology"`
	Power      *float64           `yaml:"power" json:"power"`
	Stability  *float64           `yaml:"stability" json:"stability"`
	Technology *float64           `yaml:"technology" json:"technology"`
	Resources  *float64           `yaml:"resources" json:"resources"`
	Population *float64           `yaml:"population" json:"population"` // millions
	Allies     []string           `yaml:"allies" json:"allies"`
	Tensions   map[string]float64 `yaml:"tensions" json:"tensions"`
	Faction    *FactionSpec       `yaml:"faction" json:"faction"`
}

// FactionSpec is the leadership of a country.
type FactionSpec struct {
	Name          string   `yaml:"name" json:"name"`
	Leader        string   `yaml:"leader" json:"leader"`
	Persona       string   `yaml:"persona" json:"persona"`
	Goals         []string `yaml:"goals" json:"goals"`
	RiskTolerance *float64 `yaml:"risk_tolerance" json:"risk_tolerance"`
}

// Load reads and validates a scenario file.
func Load(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a scenario. JSON is accepted as YAML.
func Parse(data []byte) (Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return Scenario{}, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	if err := sc.Validate(); err != nil {
		return Scenario{}, err
	}
	return sc, nil
}

// Validate checks ids, references and ranges.
func (sc Scenario) Validate() error {
	if sc.Name == "" {
		return invalid("scenario has no name")
	}
	if sc.Generate < 0 || sc.Generate > maxGenerated {
		return invalid("generate must be between 0 and %d", maxGenerated)
	}
	if len(sc.Countries)+sc.Generate == 0 {
		return invalid("scenario has no countries")
	}

	ids := make(map[string]bool, len(sc.Countries))
	for _, c := range sc.Countries {
		if c.ID == "" {
			return invalid("country %q has no id", c.Name)
		}
		if ids[c.ID] {
			return invalid("duplicate country id %q", c.ID)
		}
		ids[c.ID] = true
	}

	for _, c := range sc.Countries {
		for name, v := range map[string]*float64{
			"power": c.Power, "stability": c.Stability,
			"technology": c.Technology, "resources": c.Resources,
		} {
			if v != nil && (*v < world.StatMin || *v > world.StatMax) {
				return invalid("country %s: %s %.1f out of range", c.ID, name, *v)
			}
		}
		if c.Population != nil && *c.Population < 0 {
			return invalid("country %s: negative population", c.ID)
		}
		for _, a := range c.Allies {
			if !ids[a] || a == c.ID {
				return invalid("country %s: unknown ally %q", c.ID, a)
			}
		}
		for t, v := range c.Tensions {
			if !ids[t] || t == c.ID {
				return invalid("country %s: tension toward unknown country %q", c.ID, t)
			}
			if v < world.TensionMin || v > world.TensionMax {
				return invalid("country %s: tension %.1f out of range", c.ID, v)
			}
		}
		if f := c.Faction; f != nil && f.RiskTolerance != nil && (*f.RiskTolerance < 0 || *f.RiskTolerance > 1) {
			return invalid("country %s: risk tolerance must be within [0, 1]", c.ID)
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidScenario, fmt.Sprintf(format, args...))
}
