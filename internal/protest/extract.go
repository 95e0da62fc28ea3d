// Package protest derives casualty counts and a regime stability score from
// protest coverage.
package protest

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lvonguyen/threatpulse/internal/signal"
)

// Category is a casualty kind.
type Category string

const (
	Deaths   Category = "deaths"
	Injuries Category = "injuries"
	Arrests  Category = "arrests"
)

// Categories lists every casualty kind in report order.
var Categories = []Category{Deaths, Injuries, Arrests}

// casualtyKeywords are checked in order; the first keyword present in a
// sentence is the one numbers are matched against.
var casualtyKeywords = map[Category][]string{
	Deaths: {
		"killed", "dead", "died", "death toll", "fatalities", "deaths",
		"shot dead", "gunned down", "killed by", "killed in",
		"people have died", "people have been killed", "protesters killed",
		"کشته", "مرگ", "قتل",
	},
	Injuries: {
		"injured", "wounded", "hurt", "injuries", "casualties",
		"hospitalized", "critical condition", "serious injuries",
		"overwhelmed by injured", "injured protesters", "gunshot wounds",
		"مجروح", "زخمی", "آسیب",
	},
	Arrests: {
		"arrested", "detained", "detention", "arrest", "arrests",
		"taken into custody", "custody", "apprehended", "rounded up",
		"imprisoned", "people have been arrested",
		"بازداشت", "دستگیر", "زندان",
	},
}

// countPrefixes capture the number written before a casualty keyword.
var countPrefixes = []string{
	`(\d+\s+thousand)\s*.{0,20}?`,
	`(\d+(?:,\d{3})*)\s+(?:people\s+)?.{0,20}?`,
	`(?:more than|over|at least)\s+(\d+(?:,\d{3})*)\s+(?:people\s+)?.{0,30}?`,
	`(\d+(?:,\d{3})*)\s+people\s+(?:have been|had been|have)\s+.{0,20}?`,
	`(?:\d+)\s*(?:to|-)\s*(\d+(?:,\d{3})*)\s+.{0,20}?`,
	`(?:roughly|approximately|around)\s+(\d+(?:,\d{3})*)\s+.{0,20}?`,
	`((?:several|over|more than)\s+(?:hundreds?|thousands?|dozens?)|hundreds?|thousands?|dozens?|many)\s+(?:people\s+)?.{0,20}?`,
}

var (
	sentenceSplit = regexp.MustCompile(`[.!?]\s+`)
	thousandCount = regexp.MustCompile(`(\d+)\s*thousand`)

	// keywordPatterns holds, per keyword, the count prefixes joined with it.
	keywordPatterns = compileKeywordPatterns()
)

func compileKeywordPatterns() map[string][]*regexp.Regexp {
	out := make(map[string][]*regexp.Regexp)
	for _, keywords := range casualtyKeywords {
		for _, kw := range keywords {
			if _, ok := out[kw]; ok {
				continue
			}
			res := make([]*regexp.Regexp, 0, len(countPrefixes))
			for _, prefix := range countPrefixes {
				res = append(res, regexp.MustCompile(prefix+regexp.QuoteMeta(kw)))
			}
			out[kw] = res
		}
	}
	return out
}

// ParseCount converts a captured count into a number. Digits may carry
// thousands separators; vague quantities map to fixed estimates. Unknown
// input yields 0.
func ParseCount(s string) int {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(strings.ReplaceAll(s, ",", "")); err == nil {
		return n
	}

	vague := strings.Contains(s, "several") || strings.Contains(s, "few") || strings.Contains(s, "many")
	over := strings.Contains(s, "over") || strings.Contains(s, "more than")

	switch {
	case strings.Contains(s, "hundred"):
		if vague {
			return 200
		}
		if over {
			return 150
		}
		return 100
	case strings.Contains(s, "thousand"):
		if m := thousandCount.FindStringSubmatch(s); m != nil {
			n, _ := strconv.Atoi(m[1])
			return n * 1000
		}
		if vague {
			return 2000
		}
		if over {
			return 1500
		}
		return 1000
	case strings.Contains(s, "dozen"):
		if strings.Contains(s, "several") {
			return 24
		}
		return 12
	case s == "many":
		return 50
	}
	return 0
}

// Detail records the article behind a new maximum count.
type Detail struct {
	Category Category `json:"type"`
	Count    int      `json:"count"`
	Source   string   `json:"source"`
	URL      string   `json:"url,omitempty"`
}

// Extraction is the result of free-text casualty extraction. A category is
// present in Counts only if some article gave a number for it.
type Extraction struct {
	Counts       map[Category]int
	Sources      []string
	Details      []Detail
	Unquantified map[Category]int
}

// ExtractCasualties scans every signal sentence by sentence for casualty
// keywords preceded by a count, keeping the largest count per category.
func ExtractCasualties(signals []signal.Signal) Extraction {
	ex := Extraction{
		Counts:       make(map[Category]int),
		Unquantified: make(map[Category]int),
	}
	seen := make(map[string]bool)

	for _, s := range signals {
		sentences := sentenceSplit.Split(strings.ToLower(s.Text), -1)

		for _, cat := range Categories {
			mentioned, quantified := false, false
			for _, sentence := range sentences {
				kw := firstKeyword(sentence, casualtyKeywords[cat])
				if kw == "" {
					continue
				}
				mentioned = true
				if !seen[s.Source] {
					seen[s.Source] = true
					ex.Sources = append(ex.Sources, s.Source)
				}

				n, ok := countBefore(sentence, kw)
				if !ok {
					continue
				}
				quantified = true
				if cur, found := ex.Counts[cat]; !found || n > cur {
					ex.Counts[cat] = n
					ex.Details = append(ex.Details, Detail{Category: cat, Count: n, Source: s.Source, URL: s.URL})
				}
			}
			if mentioned && !quantified {
				ex.Unquantified[cat]++
			}
		}
	}
	return ex
}

func firstKeyword(sentence string, keywords []string) string {
	for _, kw := range keywords {
		if strings.Contains(sentence, kw) {
			return kw
		}
	}
	return ""
}

// countBefore returns the first positive count that precedes kw.
func countBefore(sentence, kw string) (int, bool) {
	for _, re := range keywordPatterns[kw] {
		m := re.FindStringSubmatch(sentence)
		if m == nil {
			continue
		}
		if n := ParseCount(m[1]); n > 0 {
			return n, true
		}
		return 0, false
	}
	return 0, false
}

// HRANA daily reports publish running totals in a fixed phrasing.
var hranaPatterns = map[string][]*regexp.Regexp{
	"deaths": {
		regexp.MustCompile(`confirmed\s+deaths?\s*:?\s*(\d{1,3}(?:,\d{3})*)`),
		regexp.MustCompile(`number\s+of\s+confirmed\s+deaths?\s*:?\s*(\d{1,3}(?:,\d{3})*)`),
	},
	"injuries": {
		regexp.MustCompile(`seriously?\s+injured\s*:?\s*(\d{1,3}(?:,\d{3})*)`),
	},
	"arrests": {
		regexp.MustCompile(`total\s+arrests?\s*:?\s*(\d{1,3}(?:,\d{3})*)`),
	},
	"cities": {
		regexp.MustCompile(`(\d{1,3})\s+cities\s+(?:affected|involved)`),
	},
	"provinces": {
		regexp.MustCompile(`(\d{1,2})\s+provinces`),
	},
}

// HRANAStats are the structured totals found in HRANA daily reports.
type HRANAStats struct {
	Counts            map[Category]int
	CitiesAffected    int
	ProvincesAffected int
	SourceURL         string
	UpdatedAt         time.Time
}

// Verified reports whether any HRANA total was found.
func (h HRANAStats) Verified() bool {
	return len(h.Counts) > 0 || h.CitiesAffected > 0 || h.ProvincesAffected > 0
}

// ExtractHRANA parses running totals from HRANA daily report signals, the
// ones whose title names a protest day. The largest value per field wins.
func ExtractHRANA(signals []signal.Signal) HRANAStats {
	stats := HRANAStats{Counts: make(map[Category]int)}

	for _, s := range signals {
		if s.Provider != signal.ProviderHRANA || !strings.Contains(strings.ToLower(s.Title), "day ") {
			continue
		}
		text := strings.ToLower(s.Text)

		for field, patterns := range hranaPatterns {
			for _, re := range patterns {
				m := re.FindStringSubmatch(text)
				if m == nil {
					continue
				}
				n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
				if err != nil || n <= 0 {
					continue
				}
				if stats.raise(field, n) {
					stats.SourceURL = s.URL
					stats.UpdatedAt = s.Timestamp
				}
			}
		}
	}
	return stats
}

func (h *HRANAStats) raise(field string, n int) bool {
	switch field {
	case "cities":
		if n > h.CitiesAffected {
			h.CitiesAffected = n
			return true
		}
	case "provinces":
		if n > h.ProvincesAffected {
			h.ProvincesAffected = n
			return true
		}
	default:
		cat := Category(field)
		if cur, ok := h.Counts[cat]; !ok || n > cur {
			h.Counts[cat] = n
			return true
		}
	}
	return false
}
