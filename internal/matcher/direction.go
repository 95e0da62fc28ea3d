package matcher

import (
	"sort"
	"strings"
)

// Direction is the inferred orientation of a threat between an actor and a
// target within one text.
type Direction int

const (
	// DirectionNone means no orientation could be inferred, or the text
	// supports both orientations.
	DirectionNone Direction = iota
	// DirectionActorToTarget means the actor threatens or strikes the target.
	DirectionActorToTarget
	// DirectionTargetToActor means the target threatens or strikes the actor.
	DirectionTargetToActor
)

func (d Direction) String() string {
	switch d {
	case DirectionActorToTarget:
		return "actor_to_target"
	case DirectionTargetToActor:
		return "target_to_actor"
	default:
		return "none"
	}
}

// Direction infers whether text describes actor acting on target or the
// reverse. A verb must sit between an actor mention and a target mention
// that are within ProximityChars of each other. Passive markers ("struck
// by") invert the order. Text supporting both orientations is ambiguous and
// yields DirectionNone.
func (m *Matcher) Direction(text, target, actor string) Direction {
	targetTerms, ok := m.targets[target]
	if !ok {
		return DirectionNone
	}
	actorTerms, ok := m.actors[actor]
	if !ok {
		return DirectionNone
	}

	lower := strings.ToLower(text)
	targets := scan(lower, targetTerms)
	actors := scan(lower, actorTerms)
	if len(targets) == 0 || len(actors) == 0 {
		return DirectionNone
	}

	passive := scan(lower, m.passive)
	var active []hit
	for _, v := range scan(lower, m.verbs) {
		if !inside(v, passive) {
			active = append(active, v)
		}
	}

	var forward, reverse bool
	for _, a := range actors {
		for _, t := range targets {
			if distance(a, t) > m.proximity() {
				continue
			}
			if a.start < t.start {
				// actor ... target
				if between(active, a, t) {
					forward = true
				}
				if between(passive, a, t) {
					reverse = true
				}
			} else {
				// target ... actor
				if between(active, t, a) {
					reverse = true
				}
				if between(passive, t, a) {
					forward = true
				}
			}
		}
	}

	switch {
	case forward && !reverse:
		return DirectionActorToTarget
	case reverse && !forward:
		return DirectionTargetToActor
	default:
		return DirectionNone
	}
}

// Classify returns the single counterpart actor whose direction against
// target is unambiguous. Actors are visited in name order; conflicting
// orientations across actors yield DirectionNone.
func (m *Matcher) Classify(text, target string) (string, Direction) {
	actors := make([]string, 0, len(m.actors))
	for a := range m.actors {
		actors = append(actors, a)
	}
	sort.Strings(actors)

	var (
		chosen string
		dir    = DirectionNone
	)
	for _, a := range actors {
		d := m.Direction(text, target, a)
		if d == DirectionNone {
			continue
		}
		if dir == DirectionNone {
			chosen, dir = a, d
			continue
		}
		if d != dir {
			return "", DirectionNone
		}
	}
	return chosen, dir
}

func (m *Matcher) proximity() int {
	if m.dict.ProximityChars > 0 {
		return m.dict.ProximityChars
	}
	return 120
}

func distance(a, b hit) int {
	if a.start < b.start {
		return b.start - a.end
	}
	return a.start - b.end
}

func between(hits []hit, left, right hit) bool {
	for _, h := range hits {
		if h.start >= left.end && h.end <= right.start {
			return true
		}
	}
	return false
}

func inside(h hit, spans []hit) bool {
	for _, s := range spans {
		if h.start >= s.start && h.end <= s.end {
			return true
		}
	}
	return false
}
