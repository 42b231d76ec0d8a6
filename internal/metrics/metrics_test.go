package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/worldorder/internal/world"
)

// seq replays a fixed sequence of floats.
type seq struct {
	vals []float64
	i    int
}

func (s *seq) Float() float64 {
	v := s.vals[s.i%len(s.vals)]
	s.i++
	return v
}

func country(id, ideology string, power, stability float64) world.Country {
	return world.Country{ID: id, Name: id, Ideology: ideology, Power: power, Stability: stability, Tensions: map[string]float64{}}
}

func TestStabilityIndexEmpty(t *testing.T) {
	m := CalculateStabilityIndex(world.State{})
	assert.Equal(t, 0, m.StabilityIndex)
	assert.Equal(t, 0, m.IdeologicalDiversity)
	assert.Equal(t, 0, m.ConflictLevel)
	assert.Equal(t, 0, m.SurvivalRate)
	assert.Equal(t, 0, m.AvgStability)
	assert.Equal(t, 0, m.PowerImbalance)
	assert.Equal(t, ExplanationEmpty, m.Explanation)
}

func TestStabilityIndexComposite(t *testing.T) {
	a := country("a", "x", 60, 80)
	b := country("b", "x", 20, 10)
	a.Tensions["b"] = -40
	b.Tensions["a"] = -20
	b.Tensions["c"] = 30
	s := world.State{Countries: []world.Country{a, b}}

	m := CalculateStabilityIndex(s)
	// avgStability 45, survival 50, conflict 30, variance 400 → normalized 100.
	// 0.4*45 + 0.3*50 + 0.2*70 + 0.1*0 = 18 + 15 + 14 = 47
	assert.Equal(t, 47, m.StabilityIndex)
	assert.Equal(t, 45, m.AvgStability)
	assert.Equal(t, 50, m.SurvivalRate)
	assert.Equal(t, 30, m.ConflictLevel)
	assert.Equal(t, 100, m.PowerImbalance)
	assert.Equal(t, 50, m.IdeologicalDiversity)
}

func TestBlendObjectiveWins(t *testing.T) {
	sub := world.OverseerAnalysis{
		StabilityIndex:   99,
		Explanation:      "calm",
		EmergingPatterns: []string{"blocs"},
		Predictions:      []string{"war"},
		HiddenCosts:      []string{"debt"},
	}
	obj := world.Metrics{StabilityIndex: 41, ConflictLevel: 12}
	m := Blend(sub, obj)
	assert.Equal(t, 41, m.StabilityIndex)
	assert.Equal(t, 12, m.ConflictLevel)
	assert.Equal(t, "calm", m.Explanation)
	assert.Equal(t, []string{"blocs"}, m.EmergingPatterns)
	assert.Equal(t, []string{"war"}, m.Predictions)
	assert.Equal(t, []string{"debt"}, m.HiddenCosts)
}

func TestShouldTerminateHegemony(t *testing.T) {
	s := world.State{Year: 10, Countries: []world.Country{
		country("a", "x", 80, 90),
		country("b", "y", 40, 50),
		country("c", "z", 40, 50),
	}}
	assert.Equal(t, Termination{Terminated: true, Reason: ReasonHegemony}, ShouldTerminate(s, 1000))
}

func TestShouldTerminateTotalCollapse(t *testing.T) {
	s := world.State{Countries: []world.Country{
		country("a", "x", 40, 10),
		country("b", "y", 40, 10),
	}}
	assert.Equal(t, ReasonTotalCollapse, ShouldTerminate(s, 1000).Reason)
}

func TestShouldTerminateTimeLimitWinsOverCollapse(t *testing.T) {
	s := world.State{Year: 1000, Countries: []world.Country{
		country("a", "x", 40, 10),
		country("b", "y", 40, 10),
	}}
	assert.Equal(t, ReasonTimeLimit, ShouldTerminate(s, 1000).Reason)
}

func TestShouldTerminateSingleCountryIsNotHegemony(t *testing.T) {
	s := world.State{Countries: []world.Country{country("a", "x", 90, 90)}}
	assert.False(t, ShouldTerminate(s, 1000).Terminated)
}

func TestShouldTerminateDefaultMaxYears(t *testing.T) {
	s := world.State{Year: DefaultMaxYears, Countries: []world.Country{country("a", "x", 40, 40)}}
	assert.Equal(t, ReasonTimeLimit, ShouldTerminate(s, 0).Reason)
}

func summaries(n, index int) []world.Event {
	out := make([]world.Event, 0, n*2)
	for i := 0; i < n; i++ {
		out = append(out,
			world.Event{Tick: i, Type: world.EventWar},
			world.Event{Tick: i, Type: world.EventTickSummary, Summary: &world.TickSummary{StabilityIndex: index}},
		)
	}
	return out
}

func TestShouldTerminatePerfectOrder(t *testing.T) {
	calm := []world.Country{country("a", "x", 40, 90), country("b", "y", 40, 90)}

	s := world.State{Countries: calm, GlobalEvents: summaries(20, 96)}
	assert.Equal(t, ReasonPerfectOrder, ShouldTerminate(s, 1000).Reason)

	s.GlobalEvents = summaries(19, 100)
	assert.False(t, ShouldTerminate(s, 1000).Terminated)

	s.GlobalEvents = append(summaries(20, 99), world.Event{Type: world.EventTickSummary, Summary: &world.TickSummary{StabilityIndex: 94}})
	assert.False(t, ShouldTerminate(s, 1000).Terminated)
}

func TestGenerateRandomEventRollFails(t *testing.T) {
	s := world.State{Countries: []world.Country{country("a", "x", 40, 40)}}
	assert.Nil(t, GenerateRandomEvent(s, 3, &seq{vals: []float64{0.5}}))
}

func TestGenerateRandomEventUprisingNeedsUnstableTarget(t *testing.T) {
	s := world.State{Countries: []world.Country{
		country("a", "x", 40, 80),
		country("b", "y", 40, 70),
	}}
	// roll 0.05 passes, class index int(0.6*4)=2 → uprising.
	assert.Nil(t, GenerateRandomEvent(s, 3, &seq{vals: []float64{0.05, 0.6, 0.0}}))

	s.Countries[1].Stability = 30
	e := GenerateRandomEvent(s, 3, &seq{vals: []float64{0.05, 0.6, 0.0}})
	require.NotNil(t, e)
	assert.Equal(t, world.EventPopularUprising, e.Type)
	assert.Equal(t, []string{"b"}, e.Actors)
	require.Contains(t, e.Impact, "b")
	assert.Len(t, e.Impact, 1)
	assert.Equal(t, 3, e.Tick)
}

func TestGenerateRandomEventClasses(t *testing.T) {
	s := world.State{Countries: []world.Country{country("a", "x", 40, 40)}}
	want := []string{world.EventNaturalDisaster, world.EventTechBreakthrough, world.EventPopularUprising, world.EventResourceDiscovery}
	for i, kind := range want {
		e := GenerateRandomEvent(s, 1, &seq{vals: []float64{0.0, float64(i)/4 + 0.01, 0.0}})
		require.NotNil(t, e, kind)
		assert.Equal(t, kind, e.Type)
	}
}
