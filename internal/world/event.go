package world

// Event type tags.
const (
	EventTickSummary       = "TICK_SUMMARY"
	EventFailedAction      = "FAILED_ACTION"
	EventNaturalDisaster   = "NATURAL_DISASTER"
	EventTechBreakthrough  = "TECH_BREAKTHROUGH"
	EventPopularUprising   = "POPULAR_UPRISING"
	EventResourceDiscovery = "RESOURCE_DISCOVERY"
	EventWar               = "WAR"
	EventAlliance          = "ALLIANCE"
	EventAllianceBroken    = "ALLIANCE_BROKEN"
)

// StatDelta is a per-country change to the vital statistics.
type StatDelta struct {
	Power      float64 `json:"power,omitempty"`
	Stability  float64 `json:"stability,omitempty"`
	Technology float64 `json:"technology,omitempty"`
	Resources  float64 `json:"resources,omitempty"`
	Population float64 `json:"population,omitempty"`
}

// Add returns the per-stat sum of d and o.
func (d StatDelta) Add(o StatDelta) StatDelta {
	return StatDelta{
		Power:      d.Power + o.Power,
		Stability:  d.Stability + o.Stability,
		Technology: d.Technology + o.Technology,
		Resources:  d.Resources + o.Resources,
		Population: d.Population + o.Population,
	}
}

// Zero reports whether the delta changes nothing.
func (d StatDelta) Zero() bool {
	return d == StatDelta{}
}

// TickSummary is attached to the one TICK_SUMMARY event each completed tick emits.
type TickSummary struct {
	StabilityIndex int    `json:"stability_index"`
	Commentary     string `json:"commentary,omitempty"`
	Strategy       string `json:"strategy,omitempty"`
}

// Event is a notable occurrence recorded in the global log.
type Event struct {
	Tick                   int                  `json:"tick"`
	Year                   int                  `json:"year"`
	Type                   string               `json:"type"`
	Actors                 []string             `json:"actors"`
	Description            string               `json:"description"`
	Impact                 map[string]StatDelta `json:"impact"`
	UnintendedConsequences string               `json:"unintended_consequences,omitempty"`
	Success                bool                 `json:"success"`
	SuccessLevel           string               `json:"success_level,omitempty"`
	Summary                *TickSummary         `json:"summary,omitempty"`
}

func (e Event) clone() Event {
	out := e
	out.Actors = append([]string(nil), e.Actors...)
	if e.Impact != nil {
		out.Impact = make(map[string]StatDelta, len(e.Impact))
		for k, v := range e.Impact {
			out.Impact[k] = v
		}
	}
	if e.Summary != nil {
		s := *e.Summary
		out.Summary = &s
	}
	return out
}

// Action categories a decision may fall into.
const (
	ActionMilitary  = "MILITARY"
	ActionDiplomacy = "DIPLOMACY"
	ActionInternal  = "INTERNAL"
	ActionEspionage = "ESPIONAGE"
)

// Special fine-grained verbs with mechanical side effects.
const (
	VerbFormAlliance  = "form_alliance"
	VerbBreakAlliance = "break_alliance"
	VerbDeclareWar    = "declare_war"
	VerbStabilize     = "stabilize"
)

// Decision is one faction's chosen move for a tick.
type Decision struct {
	ActorID         string `json:"actor_id"`
	Action          string `json:"action"`
	SpecificAction  string `json:"specific_action"`
	Target          string `json:"target,omitempty"`
	Rationale       string `json:"rationale,omitempty"`
	PublicStatement string `json:"public_statement,omitempty"`
	Fallback        bool   `json:"fallback,omitempty"`
}

// FallbackDecision is substituted when a faction's decision cannot be collected.
func FallbackDecision(actorID string) Decision {
	return Decision{
		ActorID:        actorID,
		Action:         ActionInternal,
		SpecificAction: VerbStabilize,
		Rationale:      "decision unavailable; consolidating at home",
		Fallback:       true,
	}
}

// Resolution is the adjudicated outcome of one Decision.
type Resolution struct {
	Success                bool                 `json:"success"`
	SuccessLevel           string               `json:"success_level"`
	Changes                map[string]StatDelta `json:"changes"`
	NewTensions            map[string]float64   `json:"new_tensions"` // target ID → delta for the actor
	Narrative              string               `json:"narrative"`
	UnintendedConsequences string               `json:"unintended_consequences,omitempty"`
}

// OverseerAnalysis is the subjective half of a metrics snapshot.
type OverseerAnalysis struct {
	StabilityIndex   int      `json:"stability_index"`
	Explanation      string   `json:"explanation"`
	EmergingPatterns []string `json:"emerging_patterns"`
	Predictions      []string `json:"predictions"`
	HiddenCosts      []string `json:"hidden_costs"`
}

// Faction is the per-country configuration handed to the decision capability.
type Faction struct {
	CountryID     string   `json:"country_id" yaml:"country_id"`
	Name          string   `json:"name" yaml:"name"`
	Leader        string   `json:"leader" yaml:"leader"`
	Persona       string   `json:"persona" yaml:"persona"`
	Goals         []string `json:"goals" yaml:"goals"`
	RiskTolerance float64  `json:"risk_tolerance" yaml:"risk_tolerance"`
}
