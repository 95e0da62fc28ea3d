package protest

import (
	"reflect"
	"testing"
	"time"

	"github.com/lvonguyen/threatpulse/internal/signal"
)

var t0 = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func article(source, text string) signal.Signal {
	return signal.Signal{
		Timestamp: t0.Add(-2 * time.Hour),
		Title:     "Protest update",
		Text:      text,
		Source:    source,
		Provider:  signal.ProviderNewsAPI,
		Language:  "en",
	}
}

func hranaReport(title, text string) signal.Signal {
	return signal.Signal{
		Timestamp: t0.Add(-time.Hour),
		Title:     title,
		Text:      text,
		Source:    "HRANA",
		Provider:  signal.ProviderHRANA,
		URL:       "https://en-hrana.org/day-report",
		Language:  "en",
	}
}

var (
	zahedan = article("Reuters", "At least 45 protesters were killed in Zahedan.")
	clashes = article("IranWire", "Hospitals overwhelmed as hundreds wounded in Tehran clashes. Dozens detained.")
	rallies = article("AP", "Rallies continue in Shiraz.")
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func intValue(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

// =============================================================================
// Count Parsing Tests
// =============================================================================

// TestParseCount verifies digits and vague quantity words.
func TestParseCount(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"45", 45},
		{"1,200", 1200},
		{"hundreds", 100},
		{"several hundred", 200},
		{"over hundreds", 150},
		{"thousands", 1000},
		{"several thousand", 2000},
		{"5 thousand", 5000},
		{"dozen", 12},
		{"dozens", 12},
		{"several dozens", 24},
		{"many", 50},
		{"few", 0},
		{"", 0},
	}
	for _, tt := range tests {
		if got := ParseCount(tt.in); got != tt.want {
			t.Errorf("ParseCount(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

// =============================================================================
// Extraction Tests
// =============================================================================

// TestExtractCasualties verifies counts are read from the number preceding
// each keyword and the maximum per category is kept.
func TestExtractCasualties(t *testing.T) {
	more := article("Reuters", "More than 1,200 people were arrested overnight.")
	ex := ExtractCasualties([]signal.Signal{zahedan, more, clashes})

	want := map[Category]int{Deaths: 45, Injuries: 100, Arrests: 1200}
	for cat, n := range want {
		if got, ok := ex.Counts[cat]; !ok || got != n {
			t.Errorf("%s = %d (found %v), want %d", cat, got, ok, n)
		}
	}
	if len(ex.Sources) != 2 || ex.Sources[0] != "Reuters" || ex.Sources[1] != "IranWire" {
		t.Errorf("unexpected sources %v", ex.Sources)
	}
	if len(ex.Details) != 3 {
		t.Errorf("expected 3 new-maximum details, got %d: %+v", len(ex.Details), ex.Details)
	}
	if len(ex.Unquantified) != 0 {
		t.Errorf("expected no unquantified mentions, got %v", ex.Unquantified)
	}
}

// TestExtractCasualties_NumberAfterKeyword verifies a count written after
// the keyword is not taken and the mention is counted as unquantified.
func TestExtractCasualties_NumberAfterKeyword(t *testing.T) {
	ex := ExtractCasualties([]signal.Signal{
		article("AFP", "Security forces arrested 300 students."),
		article("AFP", "Several people were killed in Mashhad."),
	})
	if _, ok := ex.Counts[Arrests]; ok {
		t.Errorf("arrests should not be quantified, got %d", ex.Counts[Arrests])
	}
	if _, ok := ex.Counts[Deaths]; ok {
		t.Errorf("deaths should not be quantified, got %d", ex.Counts[Deaths])
	}
	if ex.Unquantified[Arrests] != 1 || ex.Unquantified[Deaths] != 1 {
		t.Errorf("unexpected unquantified %v", ex.Unquantified)
	}
}

// TestExtractCasualties_Farsi verifies Farsi keywords are matched.
func TestExtractCasualties_Farsi(t *testing.T) {
	s := article("IranWire", "50 نفر کشته شدند")
	s.Language = "fa"

	ex := ExtractCasualties([]signal.Signal{s})
	if ex.Counts[Deaths] != 50 {
		t.Errorf("expected 50 deaths, got %v", ex.Counts)
	}
}

// TestExtractCasualties_ThousandSuffix verifies "N thousand" multiplies.
func TestExtractCasualties_ThousandSuffix(t *testing.T) {
	ex := ExtractCasualties([]signal.Signal{article("BBC", "Some 5 thousand protesters detained since Friday.")})
	if ex.Counts[Arrests] != 5000 {
		t.Errorf("expected 5000 arrests, got %v", ex.Counts)
	}
}

// TestExtractHRANA verifies daily report totals are parsed.
func TestExtractHRANA(t *testing.T) {
	report := hranaReport("Day 12 of protests: HRANA update",
		"Day 12 of protests: HRANA update. Number of confirmed deaths: 1,234. Seriously injured: 560. "+
			"Total arrests: 18,900. Protests reported in 98 cities affected across 27 provinces.")

	stats := ExtractHRANA([]signal.Signal{report})
	if !stats.Verified() {
		t.Fatal("expected verified stats")
	}
	want := map[Category]int{Deaths: 1234, Injuries: 560, Arrests: 18900}
	for cat, n := range want {
		if stats.Counts[cat] != n {
			t.Errorf("%s = %d, want %d", cat, stats.Counts[cat], n)
		}
	}
	if stats.CitiesAffected != 98 || stats.ProvincesAffected != 27 {
		t.Errorf("cities/provinces = %d/%d, want 98/27", stats.CitiesAffected, stats.ProvincesAffected)
	}
	if stats.SourceURL != report.URL || !stats.UpdatedAt.Equal(report.Timestamp) {
		t.Errorf("source not recorded: %q %v", stats.SourceURL, stats.UpdatedAt)
	}
}

// TestExtractHRANA_OnlyDailyReports verifies HRANA articles without a day
// title and non-HRANA articles are ignored.
func TestExtractHRANA_OnlyDailyReports(t *testing.T) {
	feature := hranaReport("Interview with a released prisoner", "Confirmed deaths: 40.")
	other := article("Reuters", "Day 3: confirmed deaths: 40.")
	other.Title = "Day 3 of unrest"

	if stats := ExtractHRANA([]signal.Signal{feature, other}); stats.Verified() {
		t.Errorf("expected no verified stats, got %+v", stats)
	}
}

// =============================================================================
// Monitor Tests
// =============================================================================

// TestAssess_RegexOnly verifies the intensity formula and the default city
// count when HRANA data is missing.
func TestAssess_RegexOnly(t *testing.T) {
	clock := &fakeClock{now: t0}
	m := NewMonitor(DefaultConfig(), clock.Now, nil)

	r := m.Assess([]signal.Signal{zahedan, clashes}, 2)

	c := r.Casualties
	if c.Source != SourceRegex || c.HRANAVerified {
		t.Errorf("expected regex source, got %q", c.Source)
	}
	if intValue(c.Deaths) != 45 || intValue(c.Injuries) != 100 || intValue(c.Arrests) != 12 {
		t.Errorf("unexpected counts %v %v %v", intValue(c.Deaths), intValue(c.Injuries), intValue(c.Arrests))
	}
	if c.FallbackApplied || c.Fallback != "" {
		t.Errorf("no fallback expected, got %q", c.Fallback)
	}

	// 2/2*2 + 5*4 + 45*.5 + 100*.2 + 12*.1 = 65.7
	if r.Intensity != 65 || r.Stability != 34 {
		t.Errorf("intensity/stability = %d/%d, want 65/34", r.Intensity, r.Stability)
	}
	if r.CitiesAffected != 5 || !r.CitiesFallback {
		t.Errorf("expected default cities flagged, got %d %v", r.CitiesAffected, r.CitiesFallback)
	}
	if len(r.Cities) != 2 || r.Cities[0].Name != "Tehran" || r.Cities[1].Name != "Zahedan" {
		t.Errorf("unexpected cities %+v", r.Cities)
	}
	if r.TotalArticles != 2 || r.DaysAnalyzed != 2 || !r.GeneratedAt.Equal(t0) {
		t.Errorf("unexpected report metadata %+v", r)
	}
}

// TestAssess_HRANAMerge verifies HRANA totals take priority while free-text
// counts may raise them.
func TestAssess_HRANAMerge(t *testing.T) {
	m := NewMonitor(DefaultConfig(), (&fakeClock{now: t0}).Now, nil)
	report := hranaReport("Day 3: protest report", "Confirmed deaths: 10. Total arrests: 400. 2 cities affected.")

	r := m.Assess([]signal.Signal{report, zahedan}, 7)

	c := r.Casualties
	if c.Source != SourceHRANA || !c.HRANAVerified {
		t.Fatalf("expected hrana source, got %q", c.Source)
	}
	if intValue(c.Deaths) != 45 {
		t.Errorf("deaths should take the larger regex count, got %v", intValue(c.Deaths))
	}
	if intValue(c.Arrests) != 400 {
		t.Errorf("arrests should come from HRANA, got %v", intValue(c.Arrests))
	}
	if c.Injuries != nil {
		t.Errorf("injuries should be absent, got %v", intValue(c.Injuries))
	}
	if !c.FallbackApplied || c.Fallback != FallbackAbsent || c.FallbackFields[Injuries] != FallbackAbsent {
		t.Errorf("expected absent injuries fallback, got %q %v", c.Fallback, c.FallbackFields)
	}
	if len(c.VerifiedSources) == 0 || c.VerifiedSources[0] != "HRANA (verified)" {
		t.Errorf("unexpected verified sources %v", c.VerifiedSources)
	}
	if c.HRANAUpdated == nil || c.HRANASource != report.URL {
		t.Errorf("hrana provenance missing: %v %q", c.HRANAUpdated, c.HRANASource)
	}
	if r.CitiesAffected != 2 || r.CitiesFallback {
		t.Errorf("expected HRANA cities, got %d %v", r.CitiesAffected, r.CitiesFallback)
	}
}

// TestAssess_IntensityCapped verifies intensity never exceeds 100.
func TestAssess_IntensityCapped(t *testing.T) {
	m := NewMonitor(DefaultConfig(), (&fakeClock{now: t0}).Now, nil)
	report := hranaReport("Day 12", "Confirmed deaths: 1,234. 98 cities affected.")

	r := m.Assess([]signal.Signal{report}, 7)
	if r.Intensity != 100 || r.Stability != 0 {
		t.Errorf("intensity/stability = %d/%d, want 100/0", r.Intensity, r.Stability)
	}
}

// TestAssess_AbsentWithoutHistory verifies counts are null rather than zero
// when nothing is known, and the casualty terms are excluded.
func TestAssess_AbsentWithoutHistory(t *testing.T) {
	m := NewMonitor(DefaultConfig(), (&fakeClock{now: t0}).Now, nil)

	r := m.Assess([]signal.Signal{rallies}, 1)

	c := r.Casualties
	if c.Source != SourceUnavailable {
		t.Errorf("expected unavailable source, got %q", c.Source)
	}
	if c.Deaths != nil || c.Injuries != nil || c.Arrests != nil {
		t.Error("counts should be nil")
	}
	if !c.FallbackApplied || c.Fallback != FallbackAbsent || c.FallbackAge != "" {
		t.Errorf("unexpected fallback %q age %q", c.Fallback, c.FallbackAge)
	}
	for _, cat := range Categories {
		if c.FallbackFields[cat] != FallbackAbsent {
			t.Errorf("%s fallback = %q", cat, c.FallbackFields[cat])
		}
	}
	// 1/1*2 + 5*4
	if r.Intensity != 22 || r.Stability != 78 {
		t.Errorf("intensity/stability = %d/%d, want 22/78", r.Intensity, r.Stability)
	}
}

// TestAssess_NoSignals verifies an empty collection still yields a flagged
// report.
func TestAssess_NoSignals(t *testing.T) {
	m := NewMonitor(DefaultConfig(), (&fakeClock{now: t0}).Now, nil)

	r := m.Assess(nil, 7)
	if r.Casualties.Source != SourceUnavailable || !r.Casualties.FallbackApplied {
		t.Errorf("unexpected casualties %+v", r.Casualties)
	}
	if r.TotalArticles != 0 || r.Intensity != 20 || r.Stability != 80 {
		t.Errorf("unexpected report %+v", r)
	}
	if r.Cities == nil || len(r.Cities) != 0 {
		t.Errorf("cities should be an empty list, got %v", r.Cities)
	}
	if r.Casualties.VerifiedSources == nil {
		t.Error("verified sources should be an empty list")
	}
}

// TestAssess_LastKnownGood verifies a later assessment without numbers
// reuses the previous counts and reports their age.
func TestAssess_LastKnownGood(t *testing.T) {
	clock := &fakeClock{now: t0}
	m := NewMonitor(DefaultConfig(), clock.Now, nil)

	m.Assess([]signal.Signal{zahedan, clashes}, 2)

	clock.now = t0.Add(3 * time.Hour)
	r := m.Assess([]signal.Signal{rallies}, 1)

	c := r.Casualties
	if c.Source != SourceUnavailable {
		t.Errorf("expected unavailable source, got %q", c.Source)
	}
	if intValue(c.Deaths) != 45 || intValue(c.Injuries) != 100 || intValue(c.Arrests) != 12 {
		t.Errorf("expected last known counts, got %v %v %v", intValue(c.Deaths), intValue(c.Injuries), intValue(c.Arrests))
	}
	if c.Fallback != FallbackLastKnownGood || c.FallbackAge != "3h0m0s" {
		t.Errorf("unexpected fallback %q age %q", c.Fallback, c.FallbackAge)
	}
	// 1/1*2 + 5*4 + 45*.5 + 100*.2 + 12*.1 = 65.7
	if r.Intensity != 65 {
		t.Errorf("last known counts should enter intensity, got %d", r.Intensity)
	}
}

// TestAssess_PartialFallback verifies only categories without fresh counts
// fall back.
func TestAssess_PartialFallback(t *testing.T) {
	clock := &fakeClock{now: t0}
	m := NewMonitor(DefaultConfig(), clock.Now, nil)

	m.Assess([]signal.Signal{zahedan, clashes}, 2)

	clock.now = t0.Add(time.Hour)
	fresh := article("Reuters", "At least 60 protesters were killed in Zahedan.")
	c := m.Assess([]signal.Signal{fresh}, 1).Casualties

	if intValue(c.Deaths) != 60 {
		t.Errorf("deaths should be fresh, got %v", intValue(c.Deaths))
	}
	if _, ok := c.FallbackFields[Deaths]; ok {
		t.Error("deaths should not be marked as fallback")
	}
	if c.FallbackFields[Injuries] != FallbackLastKnownGood || c.FallbackFields[Arrests] != FallbackLastKnownGood {
		t.Errorf("unexpected fallback fields %v", c.FallbackFields)
	}
	if c.Fallback != FallbackLastKnownGood || c.Source != SourceRegex {
		t.Errorf("unexpected fallback %q source %q", c.Fallback, c.Source)
	}
}

// TestAssess_StaleLastKnownGood verifies counts older than the fallback age
// are not reused.
func TestAssess_StaleLastKnownGood(t *testing.T) {
	clock := &fakeClock{now: t0}
	m := NewMonitor(DefaultConfig(), clock.Now, nil)

	m.Assess([]signal.Signal{zahedan, clashes}, 2)

	clock.now = t0.Add(8 * 24 * time.Hour)
	c := m.Assess([]signal.Signal{rallies}, 1).Casualties
	if c.Deaths != nil || c.Fallback != FallbackAbsent {
		t.Errorf("stale counts should be absent, got %v %q", intValue(c.Deaths), c.Fallback)
	}
}

// TestAssess_ArticleBuckets verifies coverage is grouped by language and
// notable source and bounded per bucket.
func TestAssess_ArticleBuckets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ArticleLimit = 2
	m := NewMonitor(cfg, (&fakeClock{now: t0}).Now, nil)

	fa := rallies
	fa.Language = "fa"
	wire := rallies
	wire.Provider = signal.ProviderRSS
	wire.Source = "Iran Wire"
	reddit := rallies
	reddit.Provider = signal.ProviderReddit
	reddit.Source = "r/Iran"

	r := m.Assess([]signal.Signal{rallies, rallies, rallies, fa, wire, reddit, hranaReport("Weekly", "Rallies.")}, 1)

	if len(r.Articles["en"]) != 2 {
		t.Errorf("en bucket should be capped at 2, got %d", len(r.Articles["en"]))
	}
	if len(r.Articles["fa"]) != 1 || len(r.Articles["iranwire"]) != 1 || len(r.Articles["reddit"]) != 1 || len(r.Articles["hrana"]) != 1 {
		t.Errorf("unexpected buckets %v", r.Articles)
	}
}

// TestMentionedCities verifies ranking by mention count and the limit.
func TestMentionedCities(t *testing.T) {
	signals := []signal.Signal{
		article("A", "Crowds in Shiraz and Tabriz."),
		article("B", "Strikes spread to Tabriz."),
		article("C", "Tabriz and Isfahan bazaars closed."),
		article("D", "Shiraz students march."),
	}

	cities := MentionedCities(signals, 2)
	if len(cities) != 2 {
		t.Fatalf("expected 2 cities, got %v", cities)
	}
	if cities[0] != (CityMention{Name: "Tabriz", Mentions: 3}) || cities[1] != (CityMention{Name: "Shiraz", Mentions: 2}) {
		t.Errorf("unexpected ranking %+v", cities)
	}
}

// TestMentionedCities_WholeWords verifies a city name inside a longer one
// is not counted.
func TestMentionedCities_WholeWords(t *testing.T) {
	signals := []signal.Signal{
		article("A", "Clashes in Kermanshah overnight."),
		article("B", "Kermanshah and Sanandaj shops shut."),
		article("C", "Students in Kerman joined the strike."),
		article("D", "Tehran's bazaar closed."),
	}

	got := make(map[string]int)
	for _, c := range MentionedCities(signals, 0) {
		got[c.Name] = c.Mentions
	}
	want := map[string]int{"Kermanshah": 2, "Sanandaj": 1, "Kerman": 1, "Tehran": 1}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("city counts = %v, want %v", got, want)
	}
}
