package world

import "sort"

// Tension at or below this marks a pair as in open conflict.
const conflictTension = -50

// Conflict is a hostile pair of countries.
type Conflict struct {
	A       string  `json:"a"`
	B       string  `json:"b"`
	Tension float64 `json:"tension"` // the more hostile of the two directions
}

// ActiveConflicts lists every unordered pair whose tension in either
// direction is at or below -50, most hostile first.
func ActiveConflicts(s State) []Conflict {
	seen := make(map[[2]string]int)
	var out []Conflict
	for _, c := range s.Countries {
		for other, t := range c.Tensions {
			if t > conflictTension || s.Country(other) == nil {
				continue
			}
			key := [2]string{c.ID, other}
			if other < c.ID {
				key = [2]string{other, c.ID}
			}
			if i, ok := seen[key]; ok {
				if t < out[i].Tension {
					out[i].Tension = t
				}
				continue
			}
			seen[key] = len(out)
			out = append(out, Conflict{A: key[0], B: key[1], Tension: t})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Tension != out[j].Tension {
			return out[i].Tension < out[j].Tension
		}
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}
