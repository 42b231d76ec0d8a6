// Package metrics computes world-order scores, decides when a run is over,
// and rolls the environmental events that perturb the world between decisions.
package metrics

import (
	"math"

	"github.com/talgya/worldorder/internal/world"
)

// Survival threshold shared by the survival rate and the collapse check.
const survivalStability = 20

// ExplanationEmpty tags the degenerate result for a world with no countries.
const ExplanationEmpty = "no countries: world is empty"

// CalculateStabilityIndex derives the objective metrics for s.
//
//	stabilityIndex = 0.4·avgStability + 0.3·survivalRate
//	               + 0.2·(100−conflictLevel) + 0.1·(100−normalizedPowerVariance)
func CalculateStabilityIndex(s world.State) world.Metrics {
	n := len(s.Countries)
	if n == 0 {
		return world.Metrics{Explanation: ExplanationEmpty}
	}

	var sumStab, sumPow float64
	var survivors int
	ideologies := make(map[string]struct{}, n)
	for _, c := range s.Countries {
		sumStab += c.Stability
		sumPow += c.Power
		if c.Stability > survivalStability {
			survivors++
		}
		ideologies[c.Ideology] = struct{}{}
	}
	avgStability := sumStab / float64(n)
	avgPower := sumPow / float64(n)

	var variance float64
	for _, c := range s.Countries {
		d := c.Power - avgPower
		variance += d * d
	}
	variance /= float64(n)
	normalizedVariance := math.Min(100, variance/400*100)

	conflict := conflictLevel(s)
	diversity := float64(len(ideologies)) / float64(n) * 100
	survival := float64(survivors) / float64(n) * 100

	index := 0.4*avgStability + 0.3*survival + 0.2*(100-conflict) + 0.1*(100-normalizedVariance)
	index = math.Max(0, math.Min(100, index))

	return world.Metrics{
		StabilityIndex:       round(index),
		IdeologicalDiversity: round(diversity),
		ConflictLevel:        round(conflict),
		SurvivalRate:         round(survival),
		AvgStability:         round(avgStability),
		PowerImbalance:       round(normalizedVariance),
	}
}

// conflictLevel is the mean magnitude of all negative tensions, 0 when none.
func conflictLevel(s world.State) float64 {
	var sum float64
	var count int
	for _, c := range s.Countries {
		for _, t := range c.Tensions {
			if t < 0 {
				sum += -t
				count++
			}
		}
	}
	if count == 0 {
		return 0
	}
	return math.Max(0, math.Min(100, sum/float64(count)))
}

// Blend merges the overseer's subjective analysis with objective metrics.
// Objective values win on every shared key.
func Blend(subjective world.OverseerAnalysis, objective world.Metrics) world.Metrics {
	out := objective
	if out.Explanation == "" {
		out.Explanation = subjective.Explanation
	}
	out.EmergingPatterns = subjective.EmergingPatterns
	out.Predictions = subjective.Predictions
	out.HiddenCosts = subjective.HiddenCosts
	return out
}

func round(v float64) int {
	return int(math.Round(v))
}
