package protest

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/threatpulse/internal/matcher"
	"github.com/lvonguyen/threatpulse/internal/signal"
)

// Casualty count provenance.
const (
	SourceHRANA       = "hrana_structured"
	SourceRegex       = "regex_extraction"
	SourceUnavailable = "unavailable"
)

// Fallback policies applied to a category with no fresh count.
const (
	FallbackLastKnownGood = "last_known_good"
	FallbackAbsent        = "absent"
)

// Config holds protest monitor settings.
type Config struct {
	// DefaultCities is the affected city count assumed without HRANA data.
	DefaultCities int `yaml:"default_cities"`
	CityLimit     int `yaml:"city_limit"`
	ArticleLimit  int `yaml:"article_limit"`
	// MaxFallbackAge bounds how old a last known good count may be. Zero
	// means no bound.
	MaxFallbackAge time.Duration `yaml:"max_fallback_age"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultCities:  5,
		CityLimit:      5,
		ArticleLimit:   20,
		MaxFallbackAge: 7 * 24 * time.Hour,
	}
}

// Casualties is the casualty section of a report. A nil count means no
// number is known.
type Casualties struct {
	Deaths   *int `json:"deaths"`
	Injuries *int `json:"injuries"`
	Arrests  *int `json:"arrests"`

	Source          string   `json:"source"`
	VerifiedSources []string `json:"verified_sources"`
	Details         []Detail `json:"details,omitempty"`
	// Unquantified counts articles that mention a category without a number.
	Unquantified map[Category]int `json:"unquantified,omitempty"`

	HRANAVerified bool       `json:"hrana_verified"`
	HRANASource   string     `json:"hrana_source,omitempty"`
	HRANAUpdated  *time.Time `json:"hrana_updated,omitempty"`

	FallbackApplied bool                `json:"fallback_applied"`
	Fallback        string              `json:"fallback,omitempty"`
	FallbackFields  map[Category]string `json:"fallback_fields,omitempty"`
	FallbackAge     string              `json:"fallback_age,omitempty"`
}

// Count returns the count for cat.
func (c Casualties) Count(cat Category) *int {
	switch cat {
	case Deaths:
		return c.Deaths
	case Injuries:
		return c.Injuries
	case Arrests:
		return c.Arrests
	}
	return nil
}

func (c *Casualties) set(cat Category, v *int) {
	switch cat {
	case Deaths:
		c.Deaths = v
	case Injuries:
		c.Injuries = v
	case Arrests:
		c.Arrests = v
	}
}

// CityMention is an Iranian city named in coverage.
type CityMention struct {
	Name     string `json:"name"`
	Mentions int    `json:"mentions"`
}

// Article is a compact reference to a covering article.
type Article struct {
	Title       string    `json:"title"`
	Source      string    `json:"source"`
	URL         string    `json:"url,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	Language    string    `json:"language,omitempty"`
}

// Report is a protest assessment.
type Report struct {
	GeneratedAt       time.Time            `json:"timestamp"`
	DaysAnalyzed      int                  `json:"days_analyzed"`
	TotalArticles     int                  `json:"total_articles"`
	Intensity         int                  `json:"intensity"`
	Stability         int                  `json:"stability"`
	Casualties        Casualties           `json:"casualties"`
	Cities            []CityMention        `json:"cities"`
	CitiesAffected    int                  `json:"num_cities_affected"`
	CitiesFallback    bool                 `json:"cities_fallback"`
	ProvincesAffected int                  `json:"provinces_affected,omitempty"`
	Articles          map[string][]Article `json:"articles"`
}

type knownCount struct {
	value  int
	seenAt time.Time
}

// Monitor assesses protest coverage. It remembers the last count it saw per
// category to fill gaps in later assessments.
type Monitor struct {
	config Config
	now    func() time.Time
	logger *zap.Logger

	mu        sync.Mutex
	lastKnown map[Category]knownCount
}

// NewMonitor creates a monitor. A nil clock uses time.Now.
func NewMonitor(cfg Config, now func() time.Time, logger *zap.Logger) *Monitor {
	def := DefaultConfig()
	if cfg.DefaultCities <= 0 {
		cfg.DefaultCities = def.DefaultCities
	}
	if cfg.CityLimit <= 0 {
		cfg.CityLimit = def.CityLimit
	}
	if cfg.ArticleLimit <= 0 {
		cfg.ArticleLimit = def.ArticleLimit
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		config:    cfg,
		now:       now,
		logger:    logger,
		lastKnown: make(map[Category]knownCount),
	}
}

// Assess builds a report from the protest signals collected over days.
//
// HRANA daily totals take priority; free-text extraction fills in and may
// raise them. A category with no count from either path falls back to the
// last known good value, or is reported absent. Absent counts never enter
// the intensity sum.
func (m *Monitor) Assess(signals []signal.Signal, days int) Report {
	if days <= 0 {
		days = 1
	}
	now := m.now()

	hrana := ExtractHRANA(signals)
	regex := ExtractCasualties(signals)

	cas := Casualties{
		VerifiedSources: regex.Sources,
		Details:         regex.Details,
		Unquantified:    regex.Unquantified,
	}
	if cas.VerifiedSources == nil {
		cas.VerifiedSources = []string{}
	}
	if len(cas.Unquantified) == 0 {
		cas.Unquantified = nil
	}

	fresh := make(map[Category]int)
	switch {
	case hrana.Verified():
		cas.Source = SourceHRANA
		cas.HRANAVerified = true
		cas.HRANASource = hrana.SourceURL
		if !hrana.UpdatedAt.IsZero() {
			updated := hrana.UpdatedAt
			cas.HRANAUpdated = &updated
		}
		cas.VerifiedSources = append([]string{"HRANA (verified)"}, cas.VerifiedSources...)
		for _, cat := range Categories {
			h, hok := hrana.Counts[cat]
			r, rok := regex.Counts[cat]
			if hok || rok {
				fresh[cat] = max(h, r)
			}
		}
	case len(regex.Counts) > 0:
		cas.Source = SourceRegex
		for cat, n := range regex.Counts {
			fresh[cat] = n
		}
	default:
		cas.Source = SourceUnavailable
	}

	m.applyCounts(&cas, fresh, now)

	citiesAffected := hrana.CitiesAffected
	citiesFallback := citiesAffected <= 0
	if citiesFallback {
		citiesAffected = m.config.DefaultCities
	}

	intensity := float64(len(signals))/float64(days)*2 + float64(citiesAffected)*4
	weights := map[Category]float64{Deaths: 0.5, Injuries: 0.2, Arrests: 0.1}
	for _, cat := range Categories {
		if n := cas.Count(cat); n != nil {
			intensity += float64(*n) * weights[cat]
		}
	}
	intensity = math.Min(intensity, 100)

	report := Report{
		GeneratedAt:       now,
		DaysAnalyzed:      days,
		TotalArticles:     len(signals),
		Intensity:         int(intensity),
		Stability:         int(100 - intensity),
		Casualties:        cas,
		Cities:            MentionedCities(signals, m.config.CityLimit),
		CitiesAffected:    citiesAffected,
		CitiesFallback:    citiesFallback,
		ProvincesAffected: hrana.ProvincesAffected,
		Articles:          m.bucketArticles(signals),
	}

	m.logger.Debug("Protest assessment complete",
		zap.Int("articles", report.TotalArticles),
		zap.String("casualty_source", cas.Source),
		zap.Bool("fallback_applied", cas.FallbackApplied),
		zap.Int("stability", report.Stability),
	)
	return report
}

// applyCounts fills cas from fresh counts, updating the last known good
// values, and applies the fallback policy to the rest.
func (m *Monitor) applyCounts(cas *Casualties, fresh map[Category]int, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		oldest    time.Duration
		usedKnown bool
	)
	for _, cat := range Categories {
		if n, ok := fresh[cat]; ok {
			v := n
			cas.set(cat, &v)
			m.lastKnown[cat] = knownCount{value: n, seenAt: now}
			continue
		}

		if cas.FallbackFields == nil {
			cas.FallbackFields = make(map[Category]string)
		}
		cas.FallbackApplied = true

		known, ok := m.lastKnown[cat]
		age := now.Sub(known.seenAt)
		if !ok || (m.config.MaxFallbackAge > 0 && age > m.config.MaxFallbackAge) {
			cas.FallbackFields[cat] = FallbackAbsent
			continue
		}
		v := known.value
		cas.set(cat, &v)
		cas.FallbackFields[cat] = FallbackLastKnownGood
		usedKnown = true
		if age > oldest {
			oldest = age
		}
	}

	if !cas.FallbackApplied {
		return
	}
	cas.Fallback = FallbackLastKnownGood
	for _, policy := range cas.FallbackFields {
		if policy == FallbackAbsent {
			cas.Fallback = FallbackAbsent
			break
		}
	}
	if usedKnown {
		cas.FallbackAge = oldest.Round(time.Second).String()
	}
}

var iranianCities = []string{
	"Tehran", "Mashhad", "Isfahan", "Karaj", "Shiraz", "Tabriz",
	"Qom", "Ahvaz", "Kermanshah", "Urmia", "Rasht", "Kerman",
	"Zahedan", "Hamadan", "Yazd", "Ardabil", "Bandar Abbas",
	"Arak", "Zanjan", "Sanandaj", "Qazvin", "Gorgan", "Sabzevar",
	"Amol", "Dezful", "Abadan", "Ilam", "Marvdasht", "Sirjan",
	"Rafsanjan", "Marivan", "Talesh", "Shahreza", "Neyriz",
	"Fasa", "Darab", "Kazerun", "Nourabad", "Pasargad", "Abadeh",
	"Kovar", "Borujerd", "Aligudarz", "Borazjan", "Birjand",
	"Khaf", "Neyshapur", "Dorud", "Nowshahr", "Saveh", "Jiroft",
	"Bam", "Yasuj", "Nahavand", "Semnan",
}

// MentionedCities counts the articles naming each major Iranian city and
// returns the top limit, most mentioned first.
func MentionedCities(signals []signal.Signal, limit int) []CityMention {
	counts := make(map[string]int)
	for _, s := range signals {
		text := s.Title + " " + s.Text
		for _, city := range iranianCities {
			if matcher.ContainsWord(text, city) {
				counts[city]++
			}
		}
	}

	cities := make([]CityMention, 0, len(counts))
	for _, city := range iranianCities {
		if n := counts[city]; n > 0 {
			cities = append(cities, CityMention{Name: city, Mentions: n})
		}
	}
	sort.SliceStable(cities, func(i, j int) bool {
		return cities[i].Mentions > cities[j].Mentions
	})
	if limit > 0 && len(cities) > limit {
		cities = cities[:limit]
	}
	return cities
}

// bucketArticles groups coverage by language and by notable source.
func (m *Monitor) bucketArticles(signals []signal.Signal) map[string][]Article {
	buckets := map[string][]Article{}
	add := func(key string, a Article) {
		if len(buckets[key]) < m.config.ArticleLimit {
			buckets[key] = append(buckets[key], a)
		}
	}

	for _, s := range signals {
		a := Article{
			Title:       s.Title,
			Source:      s.Source,
			URL:         s.URL,
			PublishedAt: s.Timestamp,
			Language:    s.Language,
		}
		switch s.Language {
		case "en", "fa", "ar", "he":
			add(s.Language, a)
		}
		switch {
		case s.Provider == signal.ProviderReddit:
			add("reddit", a)
		case s.Provider == signal.ProviderHRANA:
			add("hrana", a)
		case s.Provider == signal.ProviderRSS && strings.EqualFold(s.Source, "Iran Wire"):
			add("iranwire", a)
		}
	}
	return buckets
}
