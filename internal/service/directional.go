package service

import (
	"sort"

	"github.com/lvonguyen/threatpulse/internal/cache"
	"github.com/lvonguyen/threatpulse/internal/matcher"
	"github.com/lvonguyen/threatpulse/internal/scoring"
	"github.com/lvonguyen/threatpulse/internal/signal"
)

// Counterpart actors of the threat matrix.
const (
	ActorIsrael = "israel"
	ActorUS     = "us"
)

// DirectionKey names a directional breakdown: "actor>target" for threats
// against the target, "target>actor" for threats from it.
func DirectionKey(target, actor string, d matcher.Direction) string {
	if d == matcher.DirectionTargetToActor {
		return target + ">" + actor
	}
	return actor + ">" + target
}

// directional scores every counterpart actor in both orientations, each
// over only the signals whose text reads in that orientation. Orientations
// without a single current signal are left out.
func (s *Service) directional(current, prior []signal.Signal, key cache.Key) map[string]scoring.Breakdown {
	m := s.engine.Matcher()
	actors := make([]string, 0, len(m.Dictionary().Actors))
	for a := range m.Dictionary().Actors {
		actors = append(actors, a)
	}
	sort.Strings(actors)

	out := make(map[string]scoring.Breakdown)
	for _, actor := range actors {
		for _, d := range []matcher.Direction{matcher.DirectionActorToTarget, matcher.DirectionTargetToActor} {
			cur := oriented(m, current, key.Target, actor, d)
			if len(cur) == 0 {
				continue
			}
			b, err := s.engine.ComputeScore(cur, key.Target, key.WindowDays, oriented(m, prior, key.Target, actor, d))
			if err != nil {
				continue
			}
			out[DirectionKey(key.Target, actor, d)] = b
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func oriented(m *matcher.Matcher, signals []signal.Signal, target, actor string, d matcher.Direction) []signal.Signal {
	var out []signal.Signal
	for _, s := range signals {
		if m.Direction(s.Text, target, actor) == d {
			out = append(out, s)
		}
	}
	return out
}
