package metrics

import (
	"fmt"

	"github.com/talgya/worldorder/internal/entropy"
	"github.com/talgya/worldorder/internal/world"
)

// EventChance is the per-tick probability of an environmental event.
const EventChance = 0.10

// Countries above this stability cannot rise up.
const uprisingStability = 60

type eventClass struct {
	kind   string
	impact world.StatDelta
	text   string
}

var eventClasses = [4]eventClass{
	{world.EventNaturalDisaster, world.StatDelta{Stability: -10, Resources: -15, Population: -0.5}, "A natural disaster strikes %s"},
	{world.EventTechBreakthrough, world.StatDelta{Technology: 15, Power: 5}, "Scientists in %s achieve a technological breakthrough"},
	{world.EventPopularUprising, world.StatDelta{Stability: -20, Power: -10}, "A popular uprising shakes %s"},
	{world.EventResourceDiscovery, world.StatDelta{Resources: 20, Power: 5}, "Vast new resource deposits are discovered in %s"},
}

// GenerateRandomEvent rolls for an environmental event at tick. It returns nil
// when the roll fails or when an uprising finds no country unstable enough.
func GenerateRandomEvent(s world.State, tick int, rng entropy.Source) *world.Event {
	if len(s.Countries) == 0 || rng.Float() >= EventChance {
		return nil
	}

	class := eventClasses[entropy.Intn(rng, len(eventClasses))]

	candidates := make([]*world.Country, 0, len(s.Countries))
	for i := range s.Countries {
		c := &s.Countries[i]
		if class.kind == world.EventPopularUprising && c.Stability >= uprisingStability {
			continue
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return nil
	}

	target := candidates[entropy.Intn(rng, len(candidates))]
	return &world.Event{
		Tick:        tick,
		Year:        s.Year,
		Type:        class.kind,
		Actors:      []string{target.ID},
		Description: fmt.Sprintf(class.text, target.Name),
		Impact:      map[string]world.StatDelta{target.ID: class.impact},
		Success:     true,
	}
}
