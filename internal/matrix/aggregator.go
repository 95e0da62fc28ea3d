// Package matrix combines per-direction threat scores for one target into a
// single view with a discrete risk level.
package matrix

import (
	"math"
)

// Risk levels.
const (
	RiskLow      = "low"
	RiskModerate = "moderate"
	RiskHigh     = "high"
	RiskVeryHigh = "very_high"
	RiskUnknown  = "unknown"
)

// Direction names used in configuration.
const (
	IncomingIsrael   = "incoming_israel"
	IncomingUS       = "incoming_us"
	OutgoingVsIsrael = "vs_israel"
	OutgoingVsUS     = "vs_us"
)

// Config holds the combination weights.
type Config struct {
	IncomingWeight float64 `yaml:"incoming_weight" json:"incoming_weight"`
	OutgoingWeight float64 `yaml:"outgoing_weight" json:"outgoing_weight"`
	HighThreshold  int     `yaml:"high_threshold" json:"high_threshold"`
	DominantWeight float64 `yaml:"dominant_weight" json:"dominant_weight"`
	// Unsupported lists directions that are never reported per target,
	// e.g. houthis: [vs_us].
	Unsupported map[string][]string `yaml:"unsupported" json:"unsupported"`
}

// DefaultConfig returns the stock combination weights.
func DefaultConfig() Config {
	return Config{
		IncomingWeight: 0.6,
		OutgoingWeight: 0.4,
		HighThreshold:  50,
		DominantWeight: 0.7,
		Unsupported: map[string][]string{
			"houthis": {OutgoingVsUS},
		},
	}
}

// SubScores are the directional probabilities. Nil means unavailable.
type SubScores struct {
	IncomingIsrael   *int
	IncomingUS       *int
	OutgoingVsIsrael *int
	OutgoingVsUS     *int
}

// Incoming holds threats against the target.
type Incoming struct {
	Israel *int `json:"israel"`
	US     *int `json:"us"`
}

// Outgoing holds threats from the target.
type Outgoing struct {
	VsIsrael *int `json:"vs_israel"`
	VsUS     *int `json:"vs_us"`
}

// ThreatMatrix is the combined directional view for one target.
type ThreatMatrix struct {
	Target              string   `json:"target"`
	CombinedProbability *int     `json:"combined_probability"`
	Incoming            Incoming `json:"incoming_threats"`
	Outgoing            Outgoing `json:"outgoing_threats"`
	RiskLevel           string   `json:"risk_level"`
}

// Available reports whether any sub-score contributed.
func (m ThreatMatrix) Available() bool {
	return m.CombinedProbability != nil
}

// Aggregator combines sub-scores.
type Aggregator struct {
	config Config
}

// NewAggregator creates an aggregator. Zero-valued weights fall back to the
// defaults.
func NewAggregator(cfg Config) *Aggregator {
	def := DefaultConfig()
	if cfg.IncomingWeight <= 0 && cfg.OutgoingWeight <= 0 {
		cfg.IncomingWeight, cfg.OutgoingWeight = def.IncomingWeight, def.OutgoingWeight
	}
	if cfg.HighThreshold <= 0 {
		cfg.HighThreshold = def.HighThreshold
	}
	if cfg.DominantWeight <= 0 || cfg.DominantWeight > 1 {
		cfg.DominantWeight = def.DominantWeight
	}
	if cfg.Unsupported == nil {
		cfg.Unsupported = def.Unsupported
	}
	return &Aggregator{config: cfg}
}

// Supported reports whether direction is reported for target.
func (a *Aggregator) Supported(target, direction string) bool {
	for _, d := range a.config.Unsupported[target] {
		if d == direction {
			return false
		}
	}
	return true
}

// Aggregate builds the matrix for target. Missing sub-scores stay nil and
// are excluded from the combination rather than read as zero.
func (a *Aggregator) Aggregate(target string, s SubScores) ThreatMatrix {
	keep := func(direction string, v *int) *int {
		if v == nil || !a.Supported(target, direction) {
			return nil
		}
		c := *v
		return &c
	}

	m := ThreatMatrix{
		Target: target,
		Incoming: Incoming{
			Israel: keep(IncomingIsrael, s.IncomingIsrael),
			US:     keep(IncomingUS, s.IncomingUS),
		},
		Outgoing: Outgoing{
			VsIsrael: keep(OutgoingVsIsrael, s.OutgoingVsIsrael),
			VsUS:     keep(OutgoingVsUS, s.OutgoingVsUS),
		},
		RiskLevel: RiskUnknown,
	}

	in, inOK := maxOf(m.Incoming.Israel, m.Incoming.US)
	out, outOK := maxOf(m.Outgoing.VsIsrael, m.Outgoing.VsUS)

	var combined float64
	switch {
	case inOK && outOK:
		combined = a.combine(in, out)
	case inOK:
		combined = float64(in)
	case outOK:
		combined = float64(out)
	default:
		return m
	}

	p := int(math.Round(combined))
	m.CombinedProbability = &p
	m.RiskLevel = RiskLevel(p)
	return m
}

func (a *Aggregator) combine(in, out int) float64 {
	high := a.config.HighThreshold
	if in >= high && out >= high {
		hi, lo := in, out
		if out > in {
			hi, lo = out, in
		}
		return a.config.DominantWeight*float64(hi) + (1-a.config.DominantWeight)*float64(lo)
	}
	total := a.config.IncomingWeight + a.config.OutgoingWeight
	return (a.config.IncomingWeight*float64(in) + a.config.OutgoingWeight*float64(out)) / total
}

// RiskLevel maps a probability onto the fixed ladder.
func RiskLevel(p int) string {
	switch {
	case p < 25:
		return RiskLow
	case p < 50:
		return RiskModerate
	case p < 75:
		return RiskHigh
	default:
		return RiskVeryHigh
	}
}

func maxOf(vals ...*int) (int, bool) {
	best, ok := 0, false
	for _, v := range vals {
		if v == nil {
			continue
		}
		if !ok || *v > best {
			best, ok = *v, true
		}
	}
	return best, ok
}
