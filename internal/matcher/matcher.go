package matcher

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// inflections are the word endings accepted after a dictionary term, so
// "strike" also matches "strikes" and "attack" matches "attacked".
var inflections = []string{"s", "es", "ed", "d", "ing"}

// PhraseHit is one matched escalation phrase.
type PhraseHit struct {
	Phrase string  `json:"phrase"`
	Weight float64 `json:"weight"`
	Offset int     `json:"offset"`
}

// Result holds the matches found in one text.
type Result struct {
	Phrases      []PhraseHit    `json:"phrases,omitempty"`
	PhraseWeight float64        `json:"phrase_weight"`
	Mentions     map[string]int `json:"mentions,omitempty"`
	Actors       map[string]int `json:"actors,omitempty"`
	Deescalation []string       `json:"deescalation,omitempty"`
	// Leadership is set when the text quotes a monitored leader.
	Leadership *LeadershipMatch `json:"leadership,omitempty"`
}

// MentionCount returns the number of target term occurrences.
func (r Result) MentionCount(target string) int {
	return r.Mentions[target]
}

// Targets returns the targets mentioned in the text, sorted.
func (r Result) Targets() []string {
	targets := make([]string, 0, len(r.Mentions))
	for t, n := range r.Mentions {
		if n > 0 {
			targets = append(targets, t)
		}
	}
	sort.Strings(targets)
	return targets
}

// Strongest returns the highest weighted phrase hit. Ties go to the
// earliest occurrence.
func (r Result) Strongest() (PhraseHit, bool) {
	if len(r.Phrases) == 0 {
		return PhraseHit{}, false
	}
	best := r.Phrases[0]
	for _, h := range r.Phrases[1:] {
		if h.Weight > best.Weight || (h.Weight == best.Weight && h.Offset < best.Offset) {
			best = h
		}
	}
	return best, true
}

type term struct {
	text   string
	label  string
	weight float64
}

type hit struct {
	term  term
	start int
	end   int
}

// Matcher scans text against a Dictionary. It is safe for concurrent use.
type Matcher struct {
	dict         Dictionary
	phrases      []term
	targets      map[string][]term
	actors       map[string][]term
	deescalation []term
	verbs        []term
	passive      []term
	leadership   *leadershipTerms
}

// New compiles a dictionary into a matcher.
func New(dict Dictionary) *Matcher {
	m := &Matcher{
		dict:    dict,
		targets: make(map[string][]term, len(dict.Targets)),
		actors:  make(map[string][]term, len(dict.Actors)),
	}

	for _, p := range dict.Phrases {
		m.phrases = append(m.phrases, term{text: strings.ToLower(p.Text), label: p.Text, weight: p.Weight})
	}
	for target, words := range dict.Targets {
		m.targets[target] = compile(words, target)
	}
	for actor, words := range dict.Actors {
		m.actors[actor] = compile(words, actor)
	}
	m.deescalation = compile(dict.Deescalation, "")
	m.verbs = compile(dict.StrikeVerbs, "")
	m.passive = compile(dict.PassiveMarkers, "")
	m.leadership = compileLeadership(dict.Leadership)

	return m
}

func compile(words []string, label string) []term {
	terms := make([]term, 0, len(words))
	for _, w := range words {
		l := label
		if l == "" {
			l = w
		}
		terms = append(terms, term{text: strings.ToLower(w), label: l})
	}
	return terms
}

// Dictionary returns the dictionary the matcher was built from.
func (m *Matcher) Dictionary() Dictionary {
	return m.dict
}

// Match scans text and returns all dictionary matches.
func (m *Matcher) Match(text string) Result {
	lower := strings.ToLower(text)
	res := Result{
		Mentions: make(map[string]int),
		Actors:   make(map[string]int),
	}

	seen := make(map[string]bool)
	for _, h := range scan(lower, m.phrases) {
		if seen[h.term.label] {
			continue
		}
		seen[h.term.label] = true
		res.Phrases = append(res.Phrases, PhraseHit{Phrase: h.term.label, Weight: h.term.weight, Offset: h.start})
		res.PhraseWeight += h.term.weight
	}

	for target, terms := range m.targets {
		if n := len(scan(lower, terms)); n > 0 {
			res.Mentions[target] = n
		}
	}
	for actor, terms := range m.actors {
		if n := len(scan(lower, terms)); n > 0 {
			res.Actors[actor] = n
		}
	}

	dseen := make(map[string]bool)
	for _, h := range scan(lower, m.deescalation) {
		if !dseen[h.term.label] {
			dseen[h.term.label] = true
			res.Deescalation = append(res.Deescalation, h.term.label)
		}
	}
	res.Leadership = m.leadership.detect(lower)

	return res
}

// scan finds non-overlapping occurrences of terms in lower. Longer terms win
// overlaps; hits are returned in text order.
func scan(lower string, terms []term) []hit {
	var all []hit
	for _, t := range terms {
		if t.text == "" {
			continue
		}
		from := 0
		for {
			idx := strings.Index(lower[from:], t.text)
			if idx < 0 {
				break
			}
			start := from + idx
			if end, ok := wordAt(lower, start, start+len(t.text)); ok {
				all = append(all, hit{term: t, start: start, end: end})
			}
			from = start + len(t.text)
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		li, lj := all[i].end-all[i].start, all[j].end-all[j].start
		if li != lj {
			return li > lj
		}
		return all[i].start < all[j].start
	})

	var kept []hit
	for _, h := range all {
		overlaps := false
		for _, k := range kept {
			if h.start < k.end && k.start < h.end {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, h)
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].start < kept[j].start })
	return kept
}

// ContainsWord reports whether word occurs in text as a whole word,
// ignoring case. "Kerman" is found in "Kerman's bazaar" but not in
// "Kermanshah".
func ContainsWord(text, word string) bool {
	w := strings.ToLower(strings.TrimSpace(word))
	if w == "" {
		return false
	}
	lower := strings.ToLower(text)
	for from := 0; ; {
		idx := strings.Index(lower[from:], w)
		if idx < 0 {
			return false
		}
		start := from + idx
		if _, ok := wordAt(lower, start, start+len(w)); ok {
			return true
		}
		from = start + len(w)
	}
}

// wordAt checks word boundaries around lower[start:end]. An inflection
// suffix may follow the term; the returned end includes it.
func wordAt(lower string, start, end int) (int, bool) {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(lower[:start])
		if isWordRune(r) {
			return 0, false
		}
	}
	if end >= len(lower) {
		return end, true
	}
	r, _ := utf8.DecodeRuneInString(lower[end:])
	if !isWordRune(r) {
		return end, true
	}
	for _, suf := range inflections {
		if strings.HasPrefix(lower[end:], suf) {
			after := end + len(suf)
			if after >= len(lower) {
				return after, true
			}
			r, _ := utf8.DecodeRuneInString(lower[after:])
			if !isWordRune(r) {
				return after, true
			}
		}
	}
	return 0, false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
