// Package scoring turns a window of normalized signals into an explainable
// 0-99 escalation probability for one target.
package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/lvonguyen/threatpulse/internal/matcher"
	"github.com/lvonguyen/threatpulse/internal/signal"
)

// Momentum labels.
const (
	MomentumIncreasing = "increasing"
	MomentumStable     = "stable"
	MomentumDecreasing = "decreasing"
)

// MaxProbability is the ceiling of every reported probability.
const MaxProbability = 99

// Breakdown is the explainable score for one target and window. The final
// Probability is always derivable from the other fields via Recompute.
type Breakdown struct {
	Target     string `json:"target"`
	WindowDays int    `json:"window_days"`

	Probability     int     `json:"probability"`
	BaseProbability int     `json:"base_probability"`
	Volume          float64 `json:"volume"`
	Escalation      float64 `json:"escalation"`
	Mention         float64 `json:"mention"`
	MomentumFactor  float64 `json:"momentum_factor"`
	Momentum        string  `json:"momentum"`

	CoordinationBonus float64  `json:"coordination_bonus"`
	CoordinatedWith   []string `json:"coordinated_with,omitempty"`

	TimeDecayFactor   float64 `json:"time_decay_factor"`
	SignalCount       int     `json:"signal_count"`
	SourceCount       int     `json:"source_count"`
	PriorCount        int     `json:"prior_count"`
	Deescalations     int     `json:"deescalation_signals"`
	LeadershipSignals int     `json:"leadership_signals"`
	Timeline          string  `json:"timeline"`
	Confidence        string  `json:"confidence"`
}

// Recompute derives BaseProbability and Probability from the component
// fields, the momentum factor, and the coordination bonus.
func (b *Breakdown) Recompute() {
	raw := (b.Volume + b.Escalation + b.Mention) * b.MomentumFactor
	b.BaseProbability = clampProbability(raw)
	b.Probability = clampProbability(raw + b.CoordinationBonus)
	b.Timeline = Timeline(b.Probability, b.Momentum)
}

func clampProbability(v float64) int {
	p := int(math.Round(v))
	if p < 0 {
		return 0
	}
	if p > MaxProbability {
		return MaxProbability
	}
	return p
}

// Contribution is the weighted view of one signal.
type Contribution struct {
	Signal      signal.Signal  `json:"-"`
	Match       matcher.Result `json:"-"`
	AgeHours    float64        `json:"age_hours"`
	Credibility float64        `json:"credibility"`
	Decay       float64        `json:"decay"`
	Recency     float64        `json:"recency"`
}

// Weight is the volume weight of the signal.
func (c Contribution) Weight() float64 {
	return c.Credibility * c.Decay * c.Recency
}

// Engine computes breakdowns. It holds no per-request state and is safe for
// concurrent use.
type Engine struct {
	config  Config
	matcher *matcher.Matcher
	now     func() time.Time
}

// NewEngine validates cfg and builds an engine. A nil clock uses time.Now.
func NewEngine(cfg Config, clock func() time.Time) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		config:  cfg,
		matcher: matcher.New(cfg.Dictionary),
		now:     clock,
	}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

// Matcher returns the compiled dictionary matcher.
func (e *Engine) Matcher() *matcher.Matcher {
	return e.matcher
}

// Now returns the engine clock reading.
func (e *Engine) Now() time.Time {
	return e.now()
}

// Credibility returns the trust multiplier for a signal. Tier fragments are
// matched case-insensitively against the source name in configured order;
// unmatched sources fall back to the provider weight, then the default.
func (e *Engine) Credibility(s signal.Signal) float64 {
	source := strings.ToLower(s.Source)
	if source != "" {
		for _, tier := range e.config.Credibility {
			for _, frag := range tier.Sources {
				if frag != "" && strings.Contains(source, strings.ToLower(frag)) {
					return tier.Weight
				}
			}
		}
	}
	if w, ok := e.config.ProviderCredibility[s.Provider]; ok {
		return w
	}
	return e.config.DefaultCredibility
}

// Decay returns exp(-lambda*age) for the window's rate.
func (e *Engine) Decay(windowDays int, ageHours float64) float64 {
	if ageHours < 0 {
		ageHours = 0
	}
	return math.Exp(-e.lambda(windowDays) * ageHours)
}

func (e *Engine) lambda(windowDays int) float64 {
	if l, ok := e.config.DecayLambda[windowDays]; ok {
		return l
	}
	// Nearest configured window at or below the request.
	best, bestDays := 0.0, -1
	for d, l := range e.config.DecayLambda {
		if d <= windowDays && d > bestDays {
			best, bestDays = l, d
		}
	}
	if bestDays < 0 {
		return e.config.DecayLambda[Windows[0]]
	}
	return best
}

// Relevant reports whether the signal concerns target, either by tag or by
// a keyword mention.
func Relevant(s signal.Signal, m matcher.Result, target string) bool {
	return s.HasTag(target) || m.MentionCount(target) > 0
}

// Contribute weighs one signal as seen from ref.
func (e *Engine) Contribute(s signal.Signal, windowDays int, ref time.Time) Contribution {
	age := ref.Sub(s.Timestamp).Hours()
	if age < 0 {
		age = 0
	}
	recency := 1.0
	if age < e.config.RecencyWindow.Hours() {
		recency = e.config.RecencyMultiplier
	}
	return Contribution{
		Signal:      s,
		Match:       e.matcher.Match(s.Text),
		AgeHours:    age,
		Credibility: e.Credibility(s),
		Decay:       e.Decay(windowDays, age),
		Recency:     recency,
	}
}

// Partition splits signals into the current window ending at now and the
// equal-length prior window immediately before it. Older signals are dropped.
func Partition(signals []signal.Signal, windowDays int, now time.Time) (current, prior []signal.Signal) {
	window := time.Duration(windowDays) * 24 * time.Hour
	start := now.Add(-window)
	priorStart := start.Add(-window)
	for _, s := range signals {
		switch {
		case !s.Timestamp.Before(start):
			current = append(current, s)
		case !s.Timestamp.Before(priorStart):
			prior = append(prior, s)
		}
	}
	return current, prior
}

// ComputeScore scores target over the window ending now. Signals outside
// the current window are ignored; prior is the immediately preceding
// window of equal length and only feeds momentum.
func (e *Engine) ComputeScore(signals []signal.Signal, target string, windowDays int, prior []signal.Signal) (Breakdown, error) {
	if !ValidWindow(windowDays) {
		return Breakdown{}, &ConfigurationError{Field: "window_days", Reason: fmt.Sprintf("unsupported window %d", windowDays)}
	}
	if _, ok := e.config.Dictionary.Targets[target]; !ok {
		return Breakdown{}, &ConfigurationError{Field: "target", Reason: fmt.Sprintf("unknown target %q", target)}
	}

	now := e.now()
	window := time.Duration(windowDays) * 24 * time.Hour
	start := now.Add(-window)
	cfg := e.config

	b := Breakdown{
		Target:          target,
		WindowDays:      windowDays,
		MomentumFactor:  1.0,
		Momentum:        MomentumStable,
		TimeDecayFactor: 1.0,
	}

	var sumWeight, sumEscalation, sumMention, sumDecay float64
	sources := make(map[string]bool)
	for _, s := range signals {
		if s.Timestamp.Before(start) {
			continue
		}
		c := e.Contribute(s, windowDays, now)
		if !Relevant(s, c.Match, target) {
			continue
		}

		sumWeight += c.Weight()
		esc := c.Match.PhraseWeight - cfg.DeescalationPenalty*float64(len(c.Match.Deescalation))
		if l := c.Match.Leadership; l != nil {
			b.LeadershipSignals++
			if cfg.LeadershipEscalation {
				esc *= l.Multiplier
			}
		}
		sumEscalation += c.Credibility * c.Decay * esc
		sumMention += c.Credibility * c.Decay * float64(c.Match.MentionCount(target))
		sumDecay += c.Decay

		b.SignalCount++
		if len(c.Match.Deescalation) > 0 {
			b.Deescalations++
		}
		if s.Source != "" {
			sources[strings.ToLower(s.Source)] = true
		}
	}
	b.SourceCount = len(sources)

	b.Volume = math.Min(sumWeight*cfg.VolumeScale, cfg.VolumeCap)
	b.Escalation = math.Min(math.Max(sumEscalation, 0)*cfg.EscalationScale, cfg.EscalationCap)
	b.Mention = math.Min(sumMention, cfg.MentionCap)
	if b.SignalCount > 0 {
		b.TimeDecayFactor = sumDecay / float64(b.SignalCount)
	}

	priorWeight, priorCount := e.priorWeight(prior, target, windowDays, start)
	b.PriorCount = priorCount
	if b.SignalCount > 0 && priorWeight > 0 {
		ratio := sumWeight / priorWeight
		switch {
		case ratio > cfg.MomentumRising:
			b.Momentum = MomentumIncreasing
		case ratio < cfg.MomentumFalling:
			b.Momentum = MomentumDecreasing
		}
		b.MomentumFactor = math.Min(math.Max(ratio, cfg.MomentumMin), cfg.MomentumMax)
	}

	b.Confidence = Confidence(b.SignalCount, b.SourceCount)
	b.Recompute()
	return b, nil
}

// priorWeight sums the weights of relevant prior-window signals, with ages
// measured from the end of the prior window so both windows are weighed on
// the same footing. It also returns how many signals it counted.
func (e *Engine) priorWeight(prior []signal.Signal, target string, windowDays int, end time.Time) (float64, int) {
	begin := end.Add(-time.Duration(windowDays) * 24 * time.Hour)
	var sum float64
	var n int
	for _, s := range prior {
		if s.Timestamp.After(end) || s.Timestamp.Before(begin) {
			continue
		}
		c := e.Contribute(s, windowDays, end)
		if Relevant(s, c.Match, target) {
			sum += c.Weight()
			n++
		}
	}
	return sum, n
}

// ApplyCoordination adds the multi-front bonus to b. peers maps other
// targets to their base probabilities for the same window. The bonus only
// applies when b itself is elevated and at least one peer in the
// coordination group is elevated too.
func (e *Engine) ApplyCoordination(b Breakdown, peers map[string]int) Breakdown {
	co := e.config.Coordination
	b.CoordinationBonus = 0
	b.CoordinatedWith = nil

	if !inGroup(co.Group, b.Target) || b.BaseProbability < co.Threshold {
		b.Recompute()
		return b
	}

	var elevated []string
	for target, base := range peers {
		if target == b.Target || !inGroup(co.Group, target) {
			continue
		}
		if base >= co.Threshold {
			elevated = append(elevated, target)
		}
	}
	sort.Strings(elevated)

	if len(elevated) > 0 {
		b.CoordinationBonus = math.Min(co.BonusPerPeer*float64(len(elevated)), co.MaxBonus)
		b.CoordinatedWith = elevated
	}
	b.Recompute()
	return b
}

// CoordinationPeers returns the group members other than target.
func (e *Engine) CoordinationPeers(target string) []string {
	group := e.config.Coordination.Group
	if !inGroup(group, target) {
		return nil
	}
	peers := make([]string, 0, len(group)-1)
	for _, g := range group {
		if g != target {
			peers = append(peers, g)
		}
	}
	return peers
}

func inGroup(group []string, target string) bool {
	for _, g := range group {
		if g == target {
			return true
		}
	}
	return false
}
