package matcher

import "math"

// Statement contexts, from least to most consequential.
const (
	ContextDomestic      = "domestic"
	ContextInternational = "international"
	ContextOperational   = "operational"
)

// Threat levels of a leadership statement.
const (
	ThreatExplicit    = "explicit"
	ThreatConditional = "conditional"
	ThreatCapability  = "capability"
	ThreatNone        = "none"
)

// Leader is one monitored decision maker.
type Leader struct {
	Key          string `yaml:"key" json:"key"`
	Organization string `yaml:"organization" json:"organization"`
	// Names are matched before Titles; the first name is the display name.
	Names  []string `yaml:"names" json:"names"`
	Titles []string `yaml:"titles" json:"titles"`
	// Weights maps a statement context to its base multiplier.
	Weights map[string]float64 `yaml:"weights" json:"weights"`
}

// Leadership configures leadership-statement detection.
type Leadership struct {
	// Leaders are tried in order; the first one named wins.
	Leaders []Leader `yaml:"leaders" json:"leaders"`
	// Contexts lists indicator terms per statement context.
	Contexts map[string][]string `yaml:"contexts" json:"contexts"`
	// ContextMinHits is how many indicators a context needs to be chosen.
	ContextMinHits int `yaml:"context_min_hits" json:"context_min_hits"`
	// Adversaries name a counterpart; one mention makes an otherwise
	// unclassified statement international.
	Adversaries []string `yaml:"adversaries" json:"adversaries"`
	// Threats lists keyword terms per threat level.
	Threats map[string][]string `yaml:"threats" json:"threats"`
	// ThreatMultipliers scale the context weight per threat level.
	ThreatMultipliers map[string]float64 `yaml:"threat_multipliers" json:"threat_multipliers"`
}

// LeadershipMatch describes a detected leadership statement.
type LeadershipMatch struct {
	Leader       string  `json:"leader"`
	Name         string  `json:"name"`
	Organization string  `json:"organization"`
	Context      string  `json:"context"`
	ThreatLevel  string  `json:"threat_level"`
	Multiplier   float64 `json:"multiplier"`
}

// contextOrder is the classification priority.
var contextOrder = []string{ContextOperational, ContextInternational, ContextDomestic}

// threatOrder is the detection priority.
var threatOrder = []string{ThreatExplicit, ThreatConditional, ThreatCapability}

type leaderTerms struct {
	leader Leader
	names  []term
	titles []term
}

type leadershipTerms struct {
	config      Leadership
	leaders     []leaderTerms
	contexts    map[string][]term
	adversaries []term
	threats     map[string][]term
}

func compileLeadership(l Leadership) *leadershipTerms {
	if len(l.Leaders) == 0 {
		return nil
	}
	lt := &leadershipTerms{
		config:      l,
		contexts:    make(map[string][]term, len(l.Contexts)),
		adversaries: compile(l.Adversaries, ""),
		threats:     make(map[string][]term, len(l.Threats)),
	}
	for _, leader := range l.Leaders {
		lt.leaders = append(lt.leaders, leaderTerms{
			leader: leader,
			names:  compile(leader.Names, leader.Key),
			titles: compile(leader.Titles, leader.Key),
		})
	}
	for ctx, words := range l.Contexts {
		lt.contexts[ctx] = compile(words, "")
	}
	for level, words := range l.Threats {
		lt.threats[level] = compile(words, "")
	}
	return lt
}

// detect returns the leadership statement in lower, or nil.
func (lt *leadershipTerms) detect(lower string) *LeadershipMatch {
	if lt == nil {
		return nil
	}

	var found *Leader
	for i := range lt.leaders {
		l := &lt.leaders[i]
		if len(scan(lower, l.names)) > 0 || len(scan(lower, l.titles)) > 0 {
			found = &l.leader
			break
		}
	}
	if found == nil {
		return nil
	}

	match := &LeadershipMatch{
		Leader:       found.Key,
		Organization: found.Organization,
		Context:      lt.classify(lower),
		ThreatLevel:  lt.threatLevel(lower),
	}
	if len(found.Names) > 0 {
		match.Name = found.Names[0]
	}

	weight, ok := found.Weights[match.Context]
	if !ok {
		weight = 1.0
	}
	mult, ok := lt.config.ThreatMultipliers[match.ThreatLevel]
	if !ok {
		mult = 1.0
	}
	match.Multiplier = math.Round(weight*mult*100) / 100
	return match
}

// classify picks the first context in priority order with enough
// indicators. Failing that, naming an adversary makes the statement
// international; anything else is domestic.
func (lt *leadershipTerms) classify(lower string) string {
	need := lt.config.ContextMinHits
	if need <= 0 {
		need = 1
	}
	for _, ctx := range contextOrder {
		if distinct(scan(lower, lt.contexts[ctx])) >= need {
			return ctx
		}
	}
	if len(scan(lower, lt.adversaries)) > 0 {
		return ContextInternational
	}
	return ContextDomestic
}

func (lt *leadershipTerms) threatLevel(lower string) string {
	for _, level := range threatOrder {
		if len(scan(lower, lt.threats[level])) > 0 {
			return level
		}
	}
	return ThreatNone
}

// distinct counts the different terms among hits.
func distinct(hits []hit) int {
	seen := make(map[string]bool, len(hits))
	for _, h := range hits {
		seen[h.term.text] = true
	}
	return len(seen)
}

// DefaultLeadership returns the monitored Middle East leadership with
// per-context weights.
func DefaultLeadership() Leadership {
	return Leadership{
		Leaders: []Leader{
			{
				Key:          "naim_qassem",
				Organization: "hezbollah",
				Names:        []string{"Naim Qassem", "Naim Kassem", "نعيم قاسم", "Sheikh Naim Qassem", "Qassem"},
				Titles:       []string{"Hezbollah Secretary-General", "Hezbollah leader", "Hezbollah chief"},
				Weights:      map[string]float64{ContextDomestic: 1.3, ContextInternational: 1.8, ContextOperational: 2.2},
			},
			{
				Key:          "khamenei",
				Organization: "iran",
				Names:        []string{"Ali Khamenei", "Ayatollah Khamenei", "خامنه‌ای", "علی خامنه‌ای", "Supreme Leader Khamenei"},
				Titles:       []string{"Supreme Leader", "Ayatollah", "Iran's leader"},
				Weights:      map[string]float64{ContextDomestic: 1.2, ContextInternational: 2.0, ContextOperational: 2.5},
			},
			{
				Key:          "abdul_malik_houthi",
				Organization: "houthis",
				Names:        []string{"Abdul-Malik al-Houthi", "Abdulmalik al-Houthi", "عبدالملك الحوثي", "Abdul Malik Houthi"},
				Titles:       []string{"Houthi leader", "Ansar Allah leader"},
				Weights:      map[string]float64{ContextDomestic: 1.1, ContextInternational: 1.5, ContextOperational: 2.0},
			},
			{
				Key:          "netanyahu",
				Organization: "israel",
				Names:        []string{"Benjamin Netanyahu", "Netanyahu", "Bibi", "Prime Minister Netanyahu"},
				Titles:       []string{"PM Netanyahu", "Israeli PM"},
				Weights:      map[string]float64{ContextDomestic: 1.2, ContextInternational: 1.7, ContextOperational: 2.3},
			},
			{
				Key:          "gallant",
				Organization: "israel",
				Names:        []string{"Yoav Gallant", "Gallant", "Defense Minister Gallant"},
				Titles:       []string{"Israeli Defense Minister"},
				Weights:      map[string]float64{ContextDomestic: 1.1, ContextInternational: 1.6, ContextOperational: 2.4},
			},
			{
				Key:          "halevi",
				Organization: "israel",
				Names:        []string{"Herzi Halevi", "Halevi", "IDF Chief Halevi"},
				Titles:       []string{"IDF Chief of Staff", "IDF Commander"},
				Weights:      map[string]float64{ContextDomestic: 1.0, ContextInternational: 1.5, ContextOperational: 2.5},
			},
		},
		Contexts: map[string][]string{
			ContextDomestic: {
				"مقاومة", "شعب", "أمة", "شهداء",
				"resistance", "our people", "our nation", "brothers", "martyrs",
				"domestic", "lebanese people", "iranian people",
				"friday prayers", "sermon", "israeli public", "security cabinet",
			},
			ContextInternational: {
				"israel", "israeli", "إسرائيل", "zionist", "صهيوني",
				"america", "american", "أمريكا", "united states", "us forces",
				"washington", "tel aviv", "واشنطن", "تل أبيب",
				"hezbollah", "hamas", "iran", "tehran", "lebanon", "beirut",
				"will strike", "سنضرب", "will attack", "سنهاجم",
				"retaliate", "revenge", "انتقام",
			},
			ContextOperational: {
				"prepared to", "ready to", "مستعدون", "جاهزون",
				"target", "أهداف", "missile", "صواريخ", "صاروخ",
				"drone", "طائرة مسيرة", "military operation", "عملية عسكرية",
				"if they strike", "إذا ضربوا", "if attacked",
				"idf announces", "idf strikes", "idf operation",
			},
		},
		ContextMinHits: 2,
		Adversaries:    []string{"israel", "america", "united states", "hezbollah", "iran"},
		Threats: map[string][]string{
			ThreatExplicit: {
				"will strike", "will attack", "will retaliate", "will respond",
				"سنضرب", "سنهاجم", "سنرد", "سننتقم",
				"promised to strike", "vowed to attack", "pledged to respond",
			},
			ThreatConditional: {
				"if israel", "if america", "if they attack", "if violated",
				"إذا ضربت", "إذا هاجمت", "should israel", "were israel to",
			},
			ThreatCapability: {
				"our missiles", "our weapons", "our capabilities",
				"صواريخنا", "أسلحتنا", "قدراتنا",
				"can reach", "able to strike", "within range",
			},
		},
		ThreatMultipliers: map[string]float64{
			ThreatExplicit:    1.3,
			ThreatConditional: 1.15,
			ThreatCapability:  1.1,
			ThreatNone:        1.0,
		},
	}
}
