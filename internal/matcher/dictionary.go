// Package matcher scans signal text against configured escalation phrase,
// target, and actor dictionaries.
package matcher

// Phrase is one weighted escalation phrase.
type Phrase struct {
	Text   string  `yaml:"text" json:"text"`
	Weight float64 `yaml:"weight" json:"weight"`
}

// Dictionary is the matching configuration. It is data, not logic: weight
// tuning never requires touching the matcher.
type Dictionary struct {
	Phrases        []Phrase            `yaml:"phrases" json:"phrases"`
	Targets        map[string][]string `yaml:"targets" json:"targets"`
	Actors         map[string][]string `yaml:"actors" json:"actors"`
	Deescalation   []string            `yaml:"deescalation" json:"deescalation"`
	StrikeVerbs    []string            `yaml:"strike_verbs" json:"strike_verbs"`
	PassiveMarkers []string            `yaml:"passive_markers" json:"passive_markers"`
	// ProximityChars bounds the distance between an actor and a target
	// mention for a direction to be inferred.
	ProximityChars int `yaml:"proximity_chars" json:"proximity_chars"`
	// Leadership detects statements by monitored leaders. No leaders
	// disables detection.
	Leadership Leadership `yaml:"leadership" json:"leadership"`
}

// Severity tiers for the default phrase table.
const (
	WeightCritical = 2.5
	WeightHigh     = 2.0
	WeightElevated = 1.5
	WeightModerate = 1.0
)

// DefaultDictionary returns the stock Middle East escalation dictionary.
func DefaultDictionary() Dictionary {
	var phrases []Phrase
	add := func(weight float64, texts ...string) {
		for _, t := range texts {
			phrases = append(phrases, Phrase{Text: t, Weight: weight})
		}
	}

	add(WeightCritical,
		"nuclear strike", "nuclear attack", "nuclear threat",
		"full-scale war", "declaration of war", "state of war",
		"mobilization order", "reserves called up", "troops deployed")
	add(WeightHigh,
		"imminent strike", "imminent attack", "preparing to strike",
		"military buildup", "forces gathering", "will strike",
		"vowed to attack", "threatened to strike",
		"military strike", "nuclear facility", "ballistic missile")
	add(WeightElevated,
		"strike", "attack", "airstrike", "bombing", "missile",
		"rocket", "retaliate", "retaliation", "response")
	add(WeightModerate,
		"threatens", "warned", "tensions", "escalation",
		"conflict", "crisis")

	return Dictionary{
		Phrases: phrases,
		Targets: map[string][]string{
			"hezbollah": {"hezbollah", "hizbollah", "hizballah", "lebanon", "lebanese", "nasrallah"},
			"iran":      {"iran", "iranian", "tehran", "irgc", "revolutionary guard", "khamenei"},
			"houthis":   {"houthi", "houthis", "yemen", "yemeni", "ansarallah", "ansar allah", "sanaa"},
		},
		Actors: map[string][]string{
			"israel": {"israel", "israeli", "israelis", "idf", "netanyahu", "tel aviv"},
			"us":     {"united states", "u.s.", "us military", "us forces", "us navy", "american", "pentagon", "washington", "centcom"},
		},
		Deescalation: []string{
			"ceasefire", "cease-fire", "truce", "peace talks", "peace agreement",
			"diplomatic solution", "negotiations", "de-escalation", "de-escalate",
			"tensions ease", "tensions cool", "tensions subside",
			"defused", "no plans to", "ruled out", "backs down",
			"restraint", "diplomatic efforts", "unlikely to strike",
		},
		StrikeVerbs: []string{
			"strike", "struck", "attack", "bomb", "hit", "target",
			"launch", "fire", "shell", "raid", "pound", "invade",
			"retaliate against", "threaten", "warn", "vow",
		},
		PassiveMarkers: []string{
			"struck by", "attacked by", "targeted by", "hit by", "bombed by",
			"threatened by", "warned by", "raided by", "shelled by",
			"under attack from", "under fire from",
		},
		ProximityChars: 120,
		Leadership:     DefaultLeadership(),
	}
}
