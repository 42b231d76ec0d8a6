package scenario

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const coldWar = `
name: Cold War
seed: 7
countries:
  - id: usa
    name: United States
    ideology: liberal democracy
    power: 85
    stability: 70
    technology: 90
    resources: 80
    population: 330
    allies: [uk]
    tensions:
      ussr: -60
    faction:
      leader: The President
      persona: confident, interventionist
      goals: [contain communism, keep alliances]
      risk_tolerance: 0.6
  - id: ussr
    name: Soviet Union
    ideology: socialist
    power: 80
    stability: 55
  - id: uk
    name: United Kingdom
`

func TestParseAndBuild(t *testing.T) {
	sc, err := Parse([]byte(coldWar))
	require.NoError(t, err)
	assert.Equal(t, "Cold War", sc.Name)

	countries, factions := Build(sc)
	require.Len(t, countries, 3)
	require.Len(t, factions, 3)

	usa := countries[0]
	assert.Equal(t, 85.0, usa.Power)
	assert.Equal(t, 330.0, usa.Population)
	assert.Equal(t, -60.0, usa.Tensions["ussr"])
	assert.Equal(t, []string{"uk"}, usa.Allies)
	// Alliances are symmetric.
	assert.Equal(t, []string{"usa"}, countries[2].Allies)

	assert.Equal(t, "The President", factions[0].Leader)
	assert.Equal(t, 0.6, factions[0].RiskTolerance)
	assert.Equal(t, "Soviet Union Government", factions[1].Name)
	assert.Equal(t, defaultRiskTolerance, factions[1].RiskTolerance)

	// Unspecified stats are seeded within range.
	uk := countries[2]
	for _, v := range []float64{uk.Power, uk.Stability, uk.Technology, uk.Resources} {
		assert.GreaterOrEqual(t, v, statFloor)
		assert.LessOrEqual(t, v, statFloor+statSpan)
	}
	assert.Greater(t, uk.Population, 0.0)
	assert.NotEmpty(t, uk.Ideology)
}

func TestBuildIsDeterministicForSeed(t *testing.T) {
	sc, err := Parse([]byte(coldWar))
	require.NoError(t, err)
	sc.Generate = 4

	a, _ := Build(sc)
	b, _ := Build(sc)
	assert.Equal(t, a, b)
	require.Len(t, a, 7)
	assert.Equal(t, "gen-1", a[3].ID)
	assert.NotNil(t, a[3].Tensions)
}

func TestParseAcceptsJSON(t *testing.T) {
	sc, err := Parse([]byte(`{"name":"Duel","countries":[{"id":"a"},{"id":"b","power":10}]}`))
	require.NoError(t, err)
	require.Len(t, sc.Countries, 2)
	require.NotNil(t, sc.Countries[1].Power)
	assert.Equal(t, 10.0, *sc.Countries[1].Power)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"no name":         `countries: [{id: a}]`,
		"no countries":    `name: empty`,
		"duplicate id":    "name: x\ncountries: [{id: a}, {id: a}]",
		"missing id":      "name: x\ncountries: [{name: Nowhere}]",
		"unknown ally":    "name: x\ncountries: [{id: a, allies: [b]}]",
		"self ally":       "name: x\ncountries: [{id: a, allies: [a]}]",
		"stat range":      "name: x\ncountries: [{id: a, power: 120}]",
		"tension range":   "name: x\ncountries: [{id: a, tensions: {b: -150}}, {id: b}]",
		"unknown tension": "name: x\ncountries: [{id: a, tensions: {z: -10}}]",
		"risk range":      "name: x\ncountries: [{id: a, faction: {risk_tolerance: 2}}]",
		"population":      "name: x\ncountries: [{id: a, population: -1}]",
		"too many":        "name: x\ngenerate: 500",
		"bad yaml":        "name: [unterminated",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.ErrorIs(t, err, ErrInvalidScenario)
		})
	}
}

func TestGenerateOnly(t *testing.T) {
	sc, err := Parse([]byte("name: Procedural\nseed: 99\ngenerate: 5"))
	require.NoError(t, err)
	countries, factions := Build(sc)
	require.Len(t, countries, 5)
	require.Len(t, factions, 5)
	names := map[string]bool{}
	for _, c := range countries {
		assert.False(t, names[c.Name], "duplicate name %s", c.Name)
		names[c.Name] = true
	}
	for _, f := range factions {
		assert.Equal(t, defaultRiskTolerance, f.RiskTolerance)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cold_war.yaml")
	require.NoError(t, os.WriteFile(path, []byte(coldWar), 0o644))
	sc, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, sc.Countries, 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
