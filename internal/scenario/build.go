package scenario

import (
	"github.com/talgya/worldorder/internal/world"
)

// Default risk appetite for factions the scenario leaves unspecified.
const defaultRiskTolerance = 0.5

// Build produces the initial countries and faction configuration. Alliances
// are made symmetric and every country gets a faction.
func Build(sc Scenario) ([]world.Country, []world.Faction) {
	f := newFields(sc.Seed)

	countries := make([]world.Country, 0, len(sc.Countries)+sc.Generate)
	factions := make([]world.Faction, 0, cap(countries))
	takenIDs := make(map[string]bool)
	takenNames := make(map[string]bool)

	for i, spec := range sc.Countries {
		c := world.Country{
			ID:         spec.ID,
			Name:       spec.Name,
			Ideology:   spec.Ideology,
			Power:      valueOr(spec.Power, f.stat(f.power, i)),
			Stability:  valueOr(spec.Stability, f.stat(f.stability, i)),
			Technology: valueOr(spec.Technology, f.stat(f.technology, i)),
			Resources:  valueOr(spec.Resources, f.stat(f.resources, i)),
			Population: valueOr(spec.Population, f.populationAt(i)),
			Tensions:   make(map[string]float64, len(spec.Tensions)),
		}
		if c.Name == "" {
			c.Name = c.ID
		}
		if c.Ideology == "" {
			c.Ideology = ideologies[f.rng.Intn(len(ideologies))]
		}
		for t, v := range spec.Tensions {
			c.Tensions[t] = v
		}
		countries = append(countries, c)
		factions = append(factions, factionFor(c, spec.Faction))
		takenIDs[c.ID] = true
		takenNames[c.Name] = true
	}

	for _, c := range f.generatedCountries(len(countries), sc.Generate, takenIDs, takenNames) {
		countries = append(countries, c)
		factions = append(factions, factionFor(c, nil))
	}

	s := world.NewState("", sc.Name, countries)
	for _, spec := range sc.Countries {
		for _, ally := range spec.Allies {
			s = world.UpdateAlliances(s, spec.ID, ally, world.AllianceForm)
		}
	}
	return s.Countries, factions
}

func factionFor(c world.Country, spec *FactionSpec) world.Faction {
	f := world.Faction{
		CountryID:     c.ID,
		Name:          c.Name + " Government",
		RiskTolerance: defaultRiskTolerance,
	}
	if spec == nil {
		return f
	}
	if spec.Name != "" {
		f.Name = spec.Name
	}
	f.Leader = spec.Leader
	f.Persona = spec.Persona
	f.Goals = append([]string(nil), spec.Goals...)
	if spec.RiskTolerance != nil {
		f.RiskTolerance = *spec.RiskTolerance
	}
	return f
}

func valueOr(v *float64, fallback float64) float64 {
	if v != nil {
		return *v
	}
	return fallback
}
