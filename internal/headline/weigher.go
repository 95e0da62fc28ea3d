// Package headline ranks the signals behind a score into the evidence list
// shown to analysts.
package headline

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lvonguyen/threatpulse/internal/matcher"
	"github.com/lvonguyen/threatpulse/internal/scoring"
	"github.com/lvonguyen/threatpulse/internal/signal"
)

// ThreatType is the inferred direction of a headline.
type ThreatType string

const (
	// ThreatDirectional means a counterpart actor acts on the target.
	ThreatDirectional ThreatType = "directional"
	// ThreatReverse means the target acts on a counterpart actor.
	ThreatReverse ThreatType = "reverse"
	// ThreatNeutral covers ambiguous or undirected text.
	ThreatNeutral ThreatType = "neutral"
)

// WeightedHeadline is one ranked evidence item.
type WeightedHeadline struct {
	Title         string     `json:"title"`
	Source        string     `json:"source"`
	URL           string     `json:"url,omitempty"`
	PublishedAt   time.Time  `json:"published_at"`
	Weight        float64    `json:"weight"`
	ThreatType    ThreatType `json:"threat_type"`
	Actor         string     `json:"actor,omitempty"`
	MatchedPhrase string     `json:"matched_phrase,omitempty"`
	Rationale     string     `json:"rationale"`
	Engagement    float64    `json:"engagement,omitempty"`
	Leader        string     `json:"leader,omitempty"`
}

// Config tunes the weigher.
type Config struct {
	BaseMentionWeight   float64 `yaml:"base_mention_weight" json:"base_mention_weight"`
	EngagementThreshold float64 `yaml:"engagement_threshold" json:"engagement_threshold"`
	Limit               int     `yaml:"limit" json:"limit"`
	// LeadershipWeighting multiplies the weight of headlines quoting a
	// monitored leader by the statement's multiplier.
	LeadershipWeighting bool `yaml:"leadership_weighting" json:"leadership_weighting"`
}

// DefaultConfig returns the stock weigher settings.
func DefaultConfig() Config {
	return Config{
		BaseMentionWeight:   0.5,
		EngagementThreshold: 500,
		Limit:               15,
		LeadershipWeighting: true,
	}
}

// Context is the scoring context a headline is weighed in.
type Context struct {
	Target     string
	Now        time.Time
	WindowDays int
}

// Weigher assigns weights and threat types to signals.
type Weigher struct {
	engine *scoring.Engine
	config Config
}

// NewWeigher creates a weigher sharing the engine's credibility and decay
// tables.
func NewWeigher(engine *scoring.Engine, cfg Config) *Weigher {
	def := DefaultConfig()
	if cfg.BaseMentionWeight <= 0 {
		cfg.BaseMentionWeight = def.BaseMentionWeight
	}
	if cfg.EngagementThreshold <= 0 {
		cfg.EngagementThreshold = def.EngagementThreshold
	}
	if cfg.Limit <= 0 {
		cfg.Limit = def.Limit
	}
	return &Weigher{engine: engine, config: cfg}
}

// Weigh scores a single signal.
func (w *Weigher) Weigh(sig signal.Signal, ctx Context) WeightedHeadline {
	m := w.engine.Matcher()
	res := m.Match(sig.Text)

	age := sig.Age(ctx.Now).Hours()
	cred := w.engine.Credibility(sig)
	decay := w.engine.Decay(ctx.WindowDays, age)

	h := WeightedHeadline{
		Title:       headlineTitle(sig),
		Source:      sig.Source,
		URL:         sig.URL,
		PublishedAt: sig.Timestamp,
		ThreatType:  ThreatNeutral,
		Engagement:  sig.Engagement,
	}

	phraseWeight := w.config.BaseMentionWeight
	if hit, ok := res.Strongest(); ok {
		h.MatchedPhrase = hit.Phrase
		phraseWeight = hit.Weight
	}
	h.Weight = cred * decay * phraseWeight
	if l := res.Leadership; l != nil && w.config.LeadershipWeighting {
		h.Leader = l.Name
		h.Weight *= l.Multiplier
	}

	actor, dir := m.Classify(sig.Text, ctx.Target)
	switch dir {
	case matcher.DirectionActorToTarget:
		h.ThreatType, h.Actor = ThreatDirectional, actor
	case matcher.DirectionTargetToActor:
		h.ThreatType, h.Actor = ThreatReverse, actor
	}

	h.Rationale = w.rationale(h, res, ctx.Target, age)
	return h
}

func (w *Weigher) rationale(h WeightedHeadline, res matcher.Result, target string, age float64) string {
	var parts []string
	if h.MatchedPhrase != "" {
		parts = append(parts, fmt.Sprintf("escalation keyword %q", h.MatchedPhrase))
	} else {
		parts = append(parts, fmt.Sprintf("mentions %s (%dx)", target, res.MentionCount(target)))
	}

	switch h.ThreatType {
	case ThreatDirectional:
		parts = append(parts, fmt.Sprintf("%s against %s", h.Actor, target))
	case ThreatReverse:
		parts = append(parts, fmt.Sprintf("%s against %s", target, h.Actor))
	}

	if l := res.Leadership; l != nil && h.Leader != "" {
		parts = append(parts, fmt.Sprintf("%s statement (%s, %s threat) x%.2f", l.Name, l.Context, l.ThreatLevel, l.Multiplier))
	}
	if len(res.Deescalation) > 0 {
		parts = append(parts, "de-escalation language")
	}
	if h.Engagement >= w.config.EngagementThreshold {
		parts = append(parts, "high engagement")
	}

	return fmt.Sprintf("%s; %s, %.0fh old", strings.Join(parts, " + "), sourceLabel(h.Source), age)
}

// WeighAll weighs the signals relevant to ctx.Target, orders them by
// descending weight, and truncates to the configured limit.
func (w *Weigher) WeighAll(signals []signal.Signal, ctx Context) []WeightedHeadline {
	m := w.engine.Matcher()
	out := make([]WeightedHeadline, 0, len(signals))
	for _, s := range signals {
		if !scoring.Relevant(s, m.Match(s.Text), ctx.Target) {
			continue
		}
		out = append(out, w.Weigh(s, ctx))
	}
	Sort(out)
	if len(out) > w.config.Limit {
		out = out[:w.config.Limit]
	}
	return out
}

// Sort orders headlines by weight, then newest first, then title.
func Sort(hs []WeightedHeadline) {
	sort.SliceStable(hs, func(i, j int) bool {
		a, b := hs[i], hs[j]
		if a.Weight != b.Weight {
			return a.Weight > b.Weight
		}
		if !a.PublishedAt.Equal(b.PublishedAt) {
			return a.PublishedAt.After(b.PublishedAt)
		}
		return a.Title < b.Title
	})
}

func headlineTitle(s signal.Signal) string {
	if s.Title != "" {
		return s.Title
	}
	const max = 120
	if r := []rune(s.Text); len(r) > max {
		return strings.TrimSpace(string(r[:max])) + "..."
	}
	return s.Text
}

func sourceLabel(source string) string {
	if source == "" {
		return "unknown source"
	}
	return source
}
