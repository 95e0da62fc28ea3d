package scoring

import (
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/lvonguyen/threatpulse/internal/signal"
)

var now = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultConfig(), func() time.Time { return now })
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return e
}

func article(text string, age time.Duration, tags ...string) signal.Signal {
	return signal.Signal{
		Timestamp:  now.Add(-age),
		Title:      text,
		Text:       text,
		Source:     "Reuters",
		Provider:   signal.ProviderNewsAPI,
		TargetTags: tags,
	}
}

func repeat(s signal.Signal, n int) []signal.Signal {
	out := make([]signal.Signal, n)
	for i := range out {
		out[i] = s
	}
	return out
}

// =============================================================================
// Score Bounds Tests
// =============================================================================

// TestComputeScore_Empty verifies no signals yields a zero score, not an error.
func TestComputeScore_Empty(t *testing.T) {
	e := newTestEngine(t)

	b, err := e.ComputeScore(nil, "iran", 7, nil)
	if err != nil {
		t.Fatalf("ComputeScore should succeed: %v", err)
	}

	if b.Probability != 0 || b.BaseProbability != 0 {
		t.Errorf("expected probability 0, got %d/%d", b.Probability, b.BaseProbability)
	}
	if b.Volume != 0 || b.Escalation != 0 || b.Mention != 0 {
		t.Errorf("expected zero components, got %+v", b)
	}
	if b.MomentumFactor != 1.0 {
		t.Errorf("expected momentum factor 1.0, got %v", b.MomentumFactor)
	}
	if b.Confidence != ConfidenceLow {
		t.Errorf("expected Low confidence, got %s", b.Confidence)
	}
	if b.Timeline != TimelineLow {
		t.Errorf("expected low priority timeline, got %s", b.Timeline)
	}
}

// TestComputeScore_Clamped verifies adversarial volumes never exceed 99.
func TestComputeScore_Clamped(t *testing.T) {
	e := newTestEngine(t)
	s := article("Iran nuclear strike imminent attack full-scale war declaration of war Tehran IRGC", time.Hour, "iran")

	b, err := e.ComputeScore(repeat(s, 5000), "iran", 1, nil)
	if err != nil {
		t.Fatalf("ComputeScore should succeed: %v", err)
	}

	if b.Probability != MaxProbability {
		t.Errorf("expected probability clamped to %d, got %d", MaxProbability, b.Probability)
	}
	if b.Volume != 40 || b.Escalation != 40 || b.Mention != 20 {
		t.Errorf("expected capped components, got v=%v e=%v m=%v", b.Volume, b.Escalation, b.Mention)
	}
}

// TestComputeScore_VolumeMonotonicThenFlat verifies doubling signals raises
// volume until the cap and leaves it flat afterwards.
func TestComputeScore_VolumeMonotonicThenFlat(t *testing.T) {
	e := newTestEngine(t)
	// 48h old in the 7 day window: decay 0.5, no recency boost.
	s := article("Hezbollah statement", 48*time.Hour, "hezbollah")

	prev := -1.0
	capped := false
	for n := 1; n <= 256; n *= 2 {
		b, err := e.ComputeScore(repeat(s, n), "hezbollah", 7, nil)
		if err != nil {
			t.Fatalf("ComputeScore failed: %v", err)
		}
		switch {
		case capped:
			if b.Volume != prev {
				t.Errorf("n=%d: volume changed after cap: %v -> %v", n, prev, b.Volume)
			}
		case b.Volume >= 40:
			capped = true
		default:
			if b.Volume <= prev {
				t.Errorf("n=%d: volume did not increase: %v -> %v", n, prev, b.Volume)
			}
		}
		prev = b.Volume
	}
	if !capped {
		t.Error("expected volume to reach the cap")
	}
}

// TestComputeScore_WindowFiltering verifies stale and irrelevant signals are
// ignored.
func TestComputeScore_WindowFiltering(t *testing.T) {
	e := newTestEngine(t)

	signals := []signal.Signal{
		article("Hezbollah rocket attack", 10*24*time.Hour, "hezbollah"),
		article("Houthis attack ship", time.Hour),
	}
	b, err := e.ComputeScore(signals, "hezbollah", 7, nil)
	if err != nil {
		t.Fatalf("ComputeScore failed: %v", err)
	}
	if b.SignalCount != 0 || b.Probability != 0 {
		t.Errorf("expected nothing scored, got %+v", b)
	}
}

// TestComputeScore_InvalidInput verifies unknown targets and windows are rejected.
func TestComputeScore_InvalidInput(t *testing.T) {
	e := newTestEngine(t)

	if _, err := e.ComputeScore(nil, "iran", 3, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for window 3, got %v", err)
	}
	if _, err := e.ComputeScore(nil, "narnia", 7, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for unknown target, got %v", err)
	}
}

// =============================================================================
// Decay Tests
// =============================================================================

// TestDecay_MonotonicInAge verifies a 23h signal outweighs a 25h one.
func TestDecay_MonotonicInAge(t *testing.T) {
	e := newTestEngine(t)

	young := e.Contribute(article("Iran missile test", 23*time.Hour, "iran"), 7, now)
	old := e.Contribute(article("Iran missile test", 25*time.Hour, "iran"), 7, now)

	if young.Decay <= old.Decay {
		t.Errorf("expected 23h decay %v > 25h decay %v", young.Decay, old.Decay)
	}
	if young.Weight() <= old.Weight() {
		t.Errorf("expected 23h weight %v > 25h weight %v", young.Weight(), old.Weight())
	}
	if young.Recency != 1.5 || old.Recency != 1.0 {
		t.Errorf("unexpected recency multipliers %v/%v", young.Recency, old.Recency)
	}
}

// TestDecay_HalfLife verifies the default rates halve weight per half-life.
func TestDecay_HalfLife(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		window   int
		halfLife float64
	}{
		{1, 12},
		{2, 12},
		{7, 48},
		{30, 72},
	}
	for _, tt := range tests {
		if got := e.Decay(tt.window, tt.halfLife); math.Abs(got-0.5) > 1e-12 {
			t.Errorf("window %d: decay at %vh = %v, want 0.5", tt.window, tt.halfLife, got)
		}
	}
}

// =============================================================================
// Momentum Tests
// =============================================================================

// TestComputeScore_ZeroPriorMomentum verifies an empty prior window is neutral.
func TestComputeScore_ZeroPriorMomentum(t *testing.T) {
	e := newTestEngine(t)

	b, err := e.ComputeScore([]signal.Signal{article("Iran warned", 2*time.Hour, "iran")}, "iran", 7, nil)
	if err != nil {
		t.Fatalf("ComputeScore failed: %v", err)
	}
	if b.MomentumFactor != 1.0 {
		t.Errorf("expected momentum factor exactly 1.0, got %v", b.MomentumFactor)
	}
	if b.Momentum != MomentumStable {
		t.Errorf("expected stable momentum, got %s", b.Momentum)
	}
}

// TestComputeScore_MomentumClipped verifies the ratio is labelled and clipped.
func TestComputeScore_MomentumClipped(t *testing.T) {
	e := newTestEngine(t)
	window := 7 * 24 * time.Hour

	current := repeat(article("Iran statement", 48*time.Hour, "iran"), 2)
	prior := []signal.Signal{article("Iran statement", window+48*time.Hour, "iran")}

	b, err := e.ComputeScore(current, "iran", 7, prior)
	if err != nil {
		t.Fatalf("ComputeScore failed: %v", err)
	}
	if b.Momentum != MomentumIncreasing {
		t.Errorf("expected increasing momentum, got %s", b.Momentum)
	}
	if b.MomentumFactor != 1.3 {
		t.Errorf("expected factor clipped to 1.3, got %v", b.MomentumFactor)
	}
	if b.PriorCount != 1 {
		t.Errorf("expected 1 prior signal, got %d", b.PriorCount)
	}

	b, err = e.ComputeScore(current[:1], "iran", 7, repeat(prior[0], 4))
	if err != nil {
		t.Fatalf("ComputeScore failed: %v", err)
	}
	if b.Momentum != MomentumDecreasing || b.MomentumFactor != 0.8 {
		t.Errorf("expected decreasing/0.8, got %s/%v", b.Momentum, b.MomentumFactor)
	}
}

// =============================================================================
// Scenario Tests
// =============================================================================

// TestComputeScore_HezbollahWeek scores a mixed week of Hezbollah coverage.
func TestComputeScore_HezbollahWeek(t *testing.T) {
	e := newTestEngine(t)

	missile := article("Hezbollah fires ballistic missile toward Haifa", 18*time.Hour, "hezbollah")
	strike := article("Military strike hits Hezbollah depot", 40*time.Hour, "hezbollah")
	signals := []signal.Signal{
		article("Hezbollah officials meet in Beirut", 5*time.Hour, "hezbollah"),
		article("Hezbollah cabinet talks continue", 30*time.Hour, "hezbollah"),
		article("Hezbollah holds rally", 60*time.Hour, "hezbollah"),
		missile,
		strike,
	}

	b, err := e.ComputeScore(signals, "hezbollah", 7, nil)
	if err != nil {
		t.Fatalf("ComputeScore failed: %v", err)
	}

	cm := e.Contribute(missile, 7, now)
	cs := e.Contribute(strike, 7, now)
	missileEsc := cm.Credibility * cm.Decay * cm.Match.PhraseWeight
	strikeEsc := cs.Credibility * cs.Decay * cs.Match.PhraseWeight
	if missileEsc <= strikeEsc {
		t.Errorf("expected 18h article to contribute more: %v vs %v", missileEsc, strikeEsc)
	}

	want := (missileEsc + strikeEsc) * 3
	if math.Abs(b.Escalation-want) > 1e-9 {
		t.Errorf("escalation = %v, want %v", b.Escalation, want)
	}
	if b.SignalCount != 5 {
		t.Errorf("expected 5 signals, got %d", b.SignalCount)
	}

	again, _ := e.ComputeScore(signals, "hezbollah", 7, nil)
	if !reflect.DeepEqual(again, b) {
		t.Errorf("expected reproducible result, got %+v then %+v", b, again)
	}
	if b.Probability <= 0 || b.Probability > MaxProbability {
		t.Errorf("unexpected probability %d", b.Probability)
	}
}

// TestComputeScore_DeescalationCountedNotPenalized verifies that with the
// default config a ceasefire mention is counted but leaves escalation at
// the capped phrase-weight sum.
func TestComputeScore_DeescalationCountedNotPenalized(t *testing.T) {
	e := newTestEngine(t)
	s := article("Iran missile attack ends in ceasefire", 2*time.Hour, "iran")

	b, err := e.ComputeScore([]signal.Signal{s}, "iran", 7, nil)
	if err != nil {
		t.Fatalf("ComputeScore failed: %v", err)
	}
	c := e.Contribute(s, 7, now)
	want := math.Min(c.Credibility*c.Decay*c.Match.PhraseWeight*3, 40)
	if math.Abs(b.Escalation-want) > 1e-9 {
		t.Errorf("escalation = %v, want %v", b.Escalation, want)
	}
	if b.Deescalations != 1 {
		t.Errorf("expected 1 de-escalation signal, got %d", b.Deescalations)
	}
}

// TestComputeScore_DeescalationPenalty verifies a configured penalty lowers
// escalation.
func TestComputeScore_DeescalationPenalty(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DeescalationPenalty = 1.0
	e, err := NewEngine(cfg, func() time.Time { return now })
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	hot, _ := e.ComputeScore([]signal.Signal{article("Iran missile attack", 2*time.Hour, "iran")}, "iran", 7, nil)
	calm, _ := e.ComputeScore([]signal.Signal{article("Iran missile attack ends in ceasefire", 2*time.Hour, "iran")}, "iran", 7, nil)

	if calm.Escalation >= hot.Escalation {
		t.Errorf("expected ceasefire to dampen escalation: %v vs %v", calm.Escalation, hot.Escalation)
	}
	if calm.Deescalations != 1 {
		t.Errorf("expected 1 de-escalation signal, got %d", calm.Deescalations)
	}
}

// TestComputeScore_LeadershipEscalation verifies leadership statements are
// counted, and only scale escalation when enabled.
func TestComputeScore_LeadershipEscalation(t *testing.T) {
	signals := []signal.Signal{article("Ayatollah Khamenei says Iran will strike Israel; missile units ready to launch at any target", 2*time.Hour, "iran")}

	plain, err := newTestEngine(t).ComputeScore(signals, "iran", 7, nil)
	if err != nil {
		t.Fatalf("ComputeScore failed: %v", err)
	}

	cfg := DefaultConfig()
	cfg.LeadershipEscalation = true
	e, err := NewEngine(cfg, func() time.Time { return now })
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	led, err := e.ComputeScore(signals, "iran", 7, nil)
	if err != nil {
		t.Fatalf("ComputeScore failed: %v", err)
	}

	if plain.LeadershipSignals != 1 || led.LeadershipSignals != 1 {
		t.Errorf("expected 1 leadership signal, got %d and %d", plain.LeadershipSignals, led.LeadershipSignals)
	}
	want := math.Min(plain.Escalation*3.25, 40)
	if math.Abs(led.Escalation-want) > 1e-9 {
		t.Errorf("escalation = %v, want %v", led.Escalation, want)
	}
}

// TestComputeScore_PriorCountRelevantOnly verifies the prior count applies
// the same relevance filter as the current count.
func TestComputeScore_PriorCountRelevantOnly(t *testing.T) {
	e := newTestEngine(t)
	current := []signal.Signal{article("Iran missile attack", 2*time.Hour, "iran")}
	prior := []signal.Signal{
		article("Iran test-fires missile", 8*24*time.Hour, "iran"),
		article("Oil prices close higher", 9*24*time.Hour),
		article("Football league results", 10*24*time.Hour),
	}

	b, err := e.ComputeScore(current, "iran", 7, prior)
	if err != nil {
		t.Fatalf("ComputeScore failed: %v", err)
	}
	if b.SignalCount != 1 {
		t.Errorf("expected 1 current signal, got %d", b.SignalCount)
	}
	if b.PriorCount != 1 {
		t.Errorf("expected 1 relevant prior signal, got %d", b.PriorCount)
	}
}

// =============================================================================
// Coordination Tests
// =============================================================================

func elevated(target string) Breakdown {
	b := Breakdown{Target: target, WindowDays: 7, Volume: 40, Escalation: 20, MomentumFactor: 1, Momentum: MomentumStable}
	b.Recompute()
	return b
}

// TestApplyCoordination verifies the bonus needs two elevated group members.
func TestApplyCoordination(t *testing.T) {
	e := newTestEngine(t)
	base := elevated("iran")

	alone := e.ApplyCoordination(base, map[string]int{"hezbollah": 40, "houthis": 30})
	if alone.CoordinationBonus != 0 || alone.Probability != 60 {
		t.Errorf("expected no bonus when alone, got %+v", alone)
	}

	one := e.ApplyCoordination(base, map[string]int{"hezbollah": 55, "houthis": 30})
	if one.CoordinationBonus != 5 || one.Probability != 65 || one.BaseProbability != 60 {
		t.Errorf("expected +5 with one elevated peer, got %+v", one)
	}
	if len(one.CoordinatedWith) != 1 || one.CoordinatedWith[0] != "hezbollah" {
		t.Errorf("unexpected peers %v", one.CoordinatedWith)
	}

	both := e.ApplyCoordination(base, map[string]int{"hezbollah": 55, "houthis": 80})
	if both.CoordinationBonus != 10 || both.Probability != 70 {
		t.Errorf("expected bounded +10, got %+v", both)
	}
}

// TestApplyCoordination_TargetNotElevated verifies a quiet target gets no bonus.
func TestApplyCoordination_TargetNotElevated(t *testing.T) {
	e := newTestEngine(t)
	b := Breakdown{Target: "houthis", Volume: 10, MomentumFactor: 1}
	b.Recompute()

	got := e.ApplyCoordination(b, map[string]int{"iran": 90, "hezbollah": 90})
	if got.CoordinationBonus != 0 || got.Probability != 10 {
		t.Errorf("expected no bonus, got %+v", got)
	}
}

// TestApplyCoordination_Clamped verifies the bonus cannot push past 99.
func TestApplyCoordination_Clamped(t *testing.T) {
	e := newTestEngine(t)
	b := Breakdown{Target: "iran", Volume: 40, Escalation: 40, Mention: 15, MomentumFactor: 1}
	b.Recompute()

	got := e.ApplyCoordination(b, map[string]int{"hezbollah": 90, "houthis": 90})
	if got.Probability != MaxProbability {
		t.Errorf("expected %d, got %d", MaxProbability, got.Probability)
	}
}

// =============================================================================
// Credibility Tests
// =============================================================================

func TestCredibility(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		source   string
		provider signal.ProviderType
		want     float64
	}{
		{"Reuters", signal.ProviderNewsAPI, 1.0},
		{"reuters.com", signal.ProviderGDELT, 1.0},
		{"Al Jazeera English", signal.ProviderNewsAPI, 0.8},
		{"aljazeera.com", signal.ProviderGDELT, 0.8},
		{"CNN", signal.ProviderNewsAPI, 0.6},
		{"Polymarket", signal.ProviderPolymarket, 0.5},
		{"unknown-site.example", signal.ProviderGDELT, 0.4},
		{"r/Iran", signal.ProviderReddit, 0.3},
		{"Some Local Paper", signal.ProviderNewsAPI, 1.0},
	}
	for _, tt := range tests {
		got := e.Credibility(signal.Signal{Source: tt.source, Provider: tt.provider})
		if got != tt.want {
			t.Errorf("Credibility(%q, %s) = %v, want %v", tt.source, tt.provider, got, tt.want)
		}
	}
}

// =============================================================================
// Configuration Tests
// =============================================================================

// TestConfig_ValidateFailsFast verifies bad weights are reported as
// ConfigurationErrors and block engine construction.
func TestConfig_ValidateFailsFast(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Credibility[0].Weight = -1
	cfg.MomentumMax = 0.5
	delete(cfg.DecayLambda, 30)

	err := cfg.Validate()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	var cerr *ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected a ConfigurationError, got %T", err)
	}

	if _, err := NewEngine(cfg, nil); err == nil {
		t.Error("NewEngine should reject invalid configuration")
	}
}

// TestConfig_ValidateLeadership verifies leadership weights must be positive.
func TestConfig_ValidateLeadership(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dictionary.Leadership.Leaders[0].Weights["operational"] = 0
	cfg.Dictionary.Leadership.ThreatMultipliers["explicit"] = -1

	err := cfg.Validate()
	for _, want := range []string{"dictionary.leadership.leaders[0].weights.operational", "dictionary.leadership.threat_multipliers.explicit"} {
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Errorf("expected error for %s, got %v", want, err)
		}
	}
}

func TestConfig_DefaultIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

// TestPartition verifies signals are split into current and prior windows.
func TestPartition(t *testing.T) {
	signals := []signal.Signal{
		article("a", time.Hour),
		article("b", 3*24*time.Hour),
		article("c", 9*24*time.Hour),
		article("d", 20*24*time.Hour),
	}

	current, prior := Partition(signals, 7, now)
	if len(current) != 2 || len(prior) != 1 {
		t.Errorf("expected 2 current and 1 prior, got %d/%d", len(current), len(prior))
	}
}
