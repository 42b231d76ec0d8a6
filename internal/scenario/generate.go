// Procedural seeding using layered simplex noise. Each stat samples its own
// noise field at the country's position, so neighbouring countries in the
// list get correlated but distinct profiles.
package scenario

import (
	"fmt"
	"math"
	"math/rand"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/worldorder/internal/world"
)

const maxGenerated = 50

// Seeded stats fall within [statFloor, statFloor+statSpan].
const (
	statFloor = 20.0
	statSpan  = 60.0
)

var ideologies = []string{
	"liberal democracy", "authoritarian", "theocracy", "socialist",
	"military junta", "monarchy", "technocracy", "nationalist",
}

// fields holds one noise generator per seeded quantity.
type fields struct {
	power, stability, technology, resources, population opensimplex.Noise
	rng                                                 *rand.Rand
}

func newFields(seed int64) fields {
	if seed == 0 {
		seed = rand.Int63()
	}
	return fields{
		power:      opensimplex.NewNormalized(seed),
		stability:  opensimplex.NewNormalized(seed + 1),
		technology: opensimplex.NewNormalized(seed + 2),
		resources:  opensimplex.NewNormalized(seed + 3),
		population: opensimplex.NewNormalized(seed + 4),
		rng:        rand.New(rand.NewSource(seed + 400)),
	}
}

// position maps a country index onto a loose spiral so noise samples are
// spread out.
func position(i int) (x, y float64) {
	angle := float64(i) * 2.399963 // golden angle
	r := math.Sqrt(float64(i)+1) * 3
	return r * math.Cos(angle), r * math.Sin(angle)
}

func (f fields) stat(n opensimplex.Noise, i int) float64 {
	x, y := position(i)
	return math.Round(statFloor + statSpan*octaveNoise(n, x, y, 3, 0.15, 0.5))
}

// populationAt returns millions, skewed toward small countries.
func (f fields) populationAt(i int) float64 {
	x, y := position(i)
	v := octaveNoise(f.population, x, y, 3, 0.15, 0.5)
	return math.Round((1+149*v*v)*10) / 10
}

// octaveNoise generates fractal noise by layering multiple frequencies.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}

// generateNames produces procedural country names by combining syllables.
func generateNames(rng *rand.Rand, count int, taken map[string]bool) []string {
	prefixes := []string{
		"Vel", "Ash", "Kor", "Mar", "Tal", "Ost", "Bren", "Cal",
		"Dor", "Ery", "Fal", "Gal", "Hel", "Ist", "Lor", "Nor",
		"Pra", "Quel", "Ros", "Sar", "Thal", "Ur", "Vor", "Zan",
	}
	suffixes := []string{
		"avia", "oria", "enia", "mark", "land", "stan", "heim", "gard",
		"onia", "ara", "eth", "ova", "idia", "uria", "ant", "os",
	}

	used := make(map[string]bool, len(taken))
	for n := range taken {
		used[n] = true
	}
	names := make([]string, 0, count)

	for len(names) < count {
		name := prefixes[rng.Intn(len(prefixes))] + suffixes[rng.Intn(len(suffixes))]
		if !used[name] {
			used[name] = true
			names = append(names, name)
		}
	}

	return names
}

// generatedCountries creates n procedural countries with ids gen-1..gen-n,
// skipping ids already taken.
func (f fields) generatedCountries(start, n int, takenIDs, takenNames map[string]bool) []world.Country {
	names := generateNames(f.rng, n, takenNames)
	out := make([]world.Country, 0, n)
	next := 1
	for k := 0; k < n; k++ {
		id := fmt.Sprintf("gen-%d", next)
		for takenIDs[id] {
			next++
			id = fmt.Sprintf("gen-%d", next)
		}
		next++
		i := start + k
		out = append(out, world.Country{
			ID:         id,
			Name:       names[k],
			Ideology:   ideologies[f.rng.Intn(len(ideologies))],
			Power:      f.stat(f.power, i),
			Stability:  f.stat(f.stability, i),
			Technology: f.stat(f.technology, i),
			Resources:  f.stat(f.resources, i),
			Population: f.populationAt(i),
			Tensions:   make(map[string]float64),
		})
	}
	return out
}
