package scoring

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/lvonguyen/threatpulse/internal/matcher"
	"github.com/lvonguyen/threatpulse/internal/signal"
)

// Windows are the supported lookback periods in days.
var Windows = []int{1, 2, 7, 30}

// ValidWindow reports whether days is a supported window.
func ValidWindow(days int) bool {
	for _, w := range Windows {
		if w == days {
			return true
		}
	}
	return false
}

// ErrInvalidConfig is wrapped by every ConfigurationError.
var ErrInvalidConfig = errors.New("invalid configuration")

// ConfigurationError reports one invalid configuration field.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrInvalidConfig
}

// CredibilityTier maps source name fragments to a trust multiplier.
type CredibilityTier struct {
	Name    string   `yaml:"name" json:"name"`
	Weight  float64  `yaml:"weight" json:"weight"`
	Sources []string `yaml:"sources" json:"sources"`
}

// CoordinationConfig controls the multi-front bonus.
type CoordinationConfig struct {
	Group        []string `yaml:"group" json:"group"`
	Threshold    int      `yaml:"threshold" json:"threshold"`
	BonusPerPeer float64  `yaml:"bonus_per_peer" json:"bonus_per_peer"`
	MaxBonus     float64  `yaml:"max_bonus" json:"max_bonus"`
}

// Config holds every scoring weight, cap, and table.
type Config struct {
	Dictionary matcher.Dictionary `yaml:"dictionary" json:"dictionary"`

	Credibility         []CredibilityTier               `yaml:"credibility" json:"credibility"`
	ProviderCredibility map[signal.ProviderType]float64 `yaml:"provider_credibility" json:"provider_credibility"`
	DefaultCredibility  float64                         `yaml:"default_credibility" json:"default_credibility"`

	// DecayLambda is the per-hour exponential decay rate keyed by window days.
	DecayLambda       map[int]float64 `yaml:"decay_lambda" json:"decay_lambda"`
	RecencyWindow     time.Duration   `yaml:"recency_window" json:"recency_window"`
	RecencyMultiplier float64         `yaml:"recency_multiplier" json:"recency_multiplier"`

	VolumeScale     float64 `yaml:"volume_scale" json:"volume_scale"`
	VolumeCap       float64 `yaml:"volume_cap" json:"volume_cap"`
	EscalationScale float64 `yaml:"escalation_scale" json:"escalation_scale"`
	EscalationCap   float64 `yaml:"escalation_cap" json:"escalation_cap"`
	MentionCap      float64 `yaml:"mention_cap" json:"mention_cap"`

	// DeescalationPenalty is subtracted from a signal's phrase weight per
	// de-escalation hit. Zero, the default, leaves escalation as the plain
	// phrase-weight sum.
	DeescalationPenalty float64 `yaml:"deescalation_penalty" json:"deescalation_penalty"`
	// LeadershipEscalation scales a signal's escalation contribution by its
	// leadership multiplier. Off by default.
	LeadershipEscalation bool `yaml:"leadership_escalation" json:"leadership_escalation"`

	MomentumMin     float64 `yaml:"momentum_min" json:"momentum_min"`
	MomentumMax     float64 `yaml:"momentum_max" json:"momentum_max"`
	MomentumRising  float64 `yaml:"momentum_rising" json:"momentum_rising"`
	MomentumFalling float64 `yaml:"momentum_falling" json:"momentum_falling"`

	Coordination CoordinationConfig `yaml:"coordination" json:"coordination"`
}

// halfLifeLambda converts a half-life in hours to a per-hour decay rate.
func halfLifeLambda(hours float64) float64 {
	return math.Ln2 / hours
}

// DefaultConfig returns the stock scoring configuration.
func DefaultConfig() Config {
	return Config{
		Dictionary: matcher.DefaultDictionary(),
		Credibility: []CredibilityTier{
			{Name: "premium", Weight: 1.0, Sources: []string{
				"The New York Times", "The Washington Post", "Reuters", "Associated Press",
				"AP News", "BBC News", "The Guardian", "Financial Times", "Wall Street Journal",
				"The Economist", "nytimes.com", "washingtonpost.com", "reuters.com",
				"apnews.com", "bbc.co.uk", "bbc.com", "theguardian.com", "ft.com", "wsj.com",
			}},
			{Name: "regional", Weight: 0.8, Sources: []string{
				"Iran Wire", "Al Jazeera", "Haaretz", "Times of Israel", "Al Arabiya",
				"The Jerusalem Post", "Middle East Eye", "HRANA", "iranwire.com",
				"aljazeera", "haaretz.com", "timesofisrael.com", "alarabiya", "jpost.com",
				"middleeasteye.net",
			}},
			{Name: "standard", Weight: 0.6, Sources: []string{
				"CNN", "MSNBC", "Fox News", "NBC News", "CBS News", "ABC News",
				"Bloomberg", "CNBC",
			}},
			{Name: "market", Weight: 0.5, Sources: []string{"Polymarket"}},
			{Name: "gdelt", Weight: 0.4, Sources: []string{"GDELT"}},
			{Name: "social", Weight: 0.3, Sources: []string{"Reddit", "r/"}},
		},
		ProviderCredibility: map[signal.ProviderType]float64{
			signal.ProviderGDELT:      0.4,
			signal.ProviderReddit:     0.3,
			signal.ProviderPolymarket: 0.5,
		},
		DefaultCredibility: 1.0,
		DecayLambda: map[int]float64{
			1:  halfLifeLambda(12),
			2:  halfLifeLambda(12),
			7:  halfLifeLambda(48),
			30: halfLifeLambda(72),
		},
		RecencyWindow:       24 * time.Hour,
		RecencyMultiplier:   1.5,
		VolumeScale:         2,
		VolumeCap:           40,
		EscalationScale:     3,
		EscalationCap:       40,
		MentionCap:          20,
		DeescalationPenalty: 0,
		MomentumMin:         0.8,
		MomentumMax:         1.3,
		MomentumRising:      1.5,
		MomentumFalling:     0.7,
		Coordination: CoordinationConfig{
			Group:        []string{"iran", "hezbollah", "houthis"},
			Threshold:    50,
			BonusPerPeer: 5,
			MaxBonus:     10,
		},
	}
}

// Validate checks the configuration and returns every problem found,
// joined. A nil return means the engine can run.
func (c Config) Validate() error {
	var errs []error
	bad := func(field, format string, args ...any) {
		errs = append(errs, &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	for i, p := range c.Dictionary.Phrases {
		if p.Text == "" {
			bad(fmt.Sprintf("dictionary.phrases[%d]", i), "empty phrase")
		}
		if p.Weight < 0 || math.IsNaN(p.Weight) {
			bad(fmt.Sprintf("dictionary.phrases[%d]", i), "negative weight %v for %q", p.Weight, p.Text)
		}
	}
	if len(c.Dictionary.Targets) == 0 {
		bad("dictionary.targets", "at least one target is required")
	}
	for target, words := range c.Dictionary.Targets {
		if len(words) == 0 {
			bad("dictionary.targets."+target, "no keywords")
		}
	}

	for i, l := range c.Dictionary.Leadership.Leaders {
		if l.Key == "" || len(l.Names) == 0 {
			bad(fmt.Sprintf("dictionary.leadership.leaders[%d]", i), "key and at least one name are required")
		}
		for ctx, w := range l.Weights {
			if w <= 0 {
				bad(fmt.Sprintf("dictionary.leadership.leaders[%d].weights.%s", i, ctx), "must be positive, got %v", w)
			}
		}
	}
	for level, m := range c.Dictionary.Leadership.ThreatMultipliers {
		if m <= 0 {
			bad("dictionary.leadership.threat_multipliers."+level, "must be positive, got %v", m)
		}
	}

	for _, tier := range c.Credibility {
		if tier.Weight < 0 {
			bad("credibility."+tier.Name, "negative weight %v", tier.Weight)
		}
	}
	for p, w := range c.ProviderCredibility {
		if w < 0 {
			bad("provider_credibility."+string(p), "negative weight %v", w)
		}
	}
	if c.DefaultCredibility < 0 {
		bad("default_credibility", "negative weight %v", c.DefaultCredibility)
	}

	for _, w := range Windows {
		lambda, ok := c.DecayLambda[w]
		if !ok {
			bad("decay_lambda", "missing rate for %d day window", w)
			continue
		}
		if lambda <= 0 || math.IsNaN(lambda) || math.IsInf(lambda, 0) {
			bad("decay_lambda", "rate for %d day window must be positive, got %v", w, lambda)
		}
	}

	if c.RecencyWindow < 0 {
		bad("recency_window", "must not be negative")
	}
	if c.RecencyMultiplier < 1 {
		bad("recency_multiplier", "must be >= 1, got %v", c.RecencyMultiplier)
	}
	for field, v := range map[string]float64{
		"volume_scale":     c.VolumeScale,
		"volume_cap":       c.VolumeCap,
		"escalation_scale": c.EscalationScale,
		"escalation_cap":   c.EscalationCap,
		"mention_cap":      c.MentionCap,
	} {
		if v <= 0 {
			bad(field, "must be positive, got %v", v)
		}
	}
	if c.DeescalationPenalty < 0 {
		bad("deescalation_penalty", "negative penalty %v", c.DeescalationPenalty)
	}

	if c.MomentumMin <= 0 || c.MomentumMin > 1 {
		bad("momentum_min", "must be in (0, 1], got %v", c.MomentumMin)
	}
	if c.MomentumMax < 1 {
		bad("momentum_max", "must be >= 1, got %v", c.MomentumMax)
	}
	if c.MomentumFalling > c.MomentumRising {
		bad("momentum_falling", "must not exceed momentum_rising")
	}

	co := c.Coordination
	if co.Threshold < 0 || co.Threshold > 99 {
		bad("coordination.threshold", "must be in [0, 99], got %d", co.Threshold)
	}
	if co.BonusPerPeer < 0 {
		bad("coordination.bonus_per_peer", "negative bonus %v", co.BonusPerPeer)
	}
	if co.MaxBonus < 0 || co.MaxBonus > 99 {
		bad("coordination.max_bonus", "must be in [0, 99], got %v", co.MaxBonus)
	}

	return errors.Join(errs...)
}
