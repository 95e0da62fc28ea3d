// Package signal defines the normalized unit of OSINT evidence and the
// normalizer that converts provider records into it.
package signal

import (
	"errors"
	"fmt"
	"time"
)

// ProviderType identifies the upstream a raw record came from.
type ProviderType string

const (
	ProviderNewsAPI    ProviderType = "newsapi"
	ProviderGDELT      ProviderType = "gdelt"
	ProviderReddit     ProviderType = "reddit"
	ProviderRSS        ProviderType = "rss"
	ProviderHRANA      ProviderType = "hrana"
	ProviderPolymarket ProviderType = "polymarket"
)

// Signal is one observed unit of evidence.
type Signal struct {
	Timestamp    time.Time    `json:"timestamp"`
	Text         string       `json:"text"`
	Title        string       `json:"title"`
	Source       string       `json:"source"`
	Provider     ProviderType `json:"provider"`
	URL          string       `json:"url,omitempty"`
	Language     string       `json:"language,omitempty"`
	TargetTags   []string     `json:"target_tags,omitempty"`
	OriginWindow int          `json:"origin_window"`
	Engagement   float64      `json:"engagement,omitempty"`
}

// HasTag reports whether the signal was explicitly tagged for target.
func (s Signal) HasTag(target string) bool {
	for _, t := range s.TargetTags {
		if t == target {
			return true
		}
	}
	return false
}

// Age returns how old the signal is at now. Never negative.
func (s Signal) Age(now time.Time) time.Duration {
	age := now.Sub(s.Timestamp)
	if age < 0 {
		return 0
	}
	return age
}

// RawRecord is an unprocessed provider record.
type RawRecord struct {
	Provider     ProviderType   `json:"provider"`
	Source       string         `json:"source,omitempty"`
	Data         map[string]any `json:"data"`
	CollectedAt  time.Time      `json:"collected_at"`
	OriginWindow int            `json:"origin_window"`
	TargetTags   []string       `json:"target_tags,omitempty"`
}

// ErrMalformedSignal is the sentinel wrapped by every MalformedSignalError.
var ErrMalformedSignal = errors.New("malformed signal")

// MalformedSignalError describes why a raw record was dropped.
type MalformedSignalError struct {
	Provider ProviderType
	Kind     string
	Reason   string
}

func (e *MalformedSignalError) Error() string {
	return fmt.Sprintf("%s record dropped: %s", e.Provider, e.Reason)
}

func (e *MalformedSignalError) Unwrap() error {
	return ErrMalformedSignal
}

// Drop kinds used as BatchStats reason keys.
const (
	KindUnsupported     = "unsupported_provider"
	KindMissingText     = "missing_text"
	KindMissingTime     = "missing_timestamp"
	KindBadTime         = "bad_timestamp"
	KindFutureTimestamp = "future_timestamp"
)

func malformed(p ProviderType, kind, format string, args ...any) error {
	return &MalformedSignalError{Provider: p, Kind: kind, Reason: fmt.Sprintf(format, args...)}
}
