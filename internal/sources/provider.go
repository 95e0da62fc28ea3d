// Package sources fetches raw OSINT records from upstream providers.
package sources

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lvonguyen/threatpulse/internal/signal"
)

var (
	// ErrSourceUnavailable marks a single upstream failure.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrAllSourcesFailed is returned when no provider produced records.
	ErrAllSourcesFailed = errors.New("all sources failed")
	// ErrMissingAPIKey is returned when a provider's key env var is empty.
	ErrMissingAPIKey = errors.New("api key not configured")
)

// SourceUnavailableError wraps the failure of one provider.
type SourceUnavailableError struct {
	Provider string
	Err      error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Provider, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error {
	return e.Err
}

// Is matches ErrSourceUnavailable.
func (e *SourceUnavailableError) Is(target error) bool {
	return target == ErrSourceUnavailable
}

// Query describes one collection burst.
type Query struct {
	Target         string
	Keywords       []string
	RedditKeywords []string
	Subreddits     []string
	Languages      []string
	Days           int
}

// Provider is the interface for upstream OSINT sources.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, q Query) ([]signal.RawRecord, error)
	RateLimit() RateLimitStatus
}

// RateLimitStatus represents upstream API rate limiting as last reported.
type RateLimitStatus struct {
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"reset_at"`
}

// ClientConfig holds common provider configuration.
type ClientConfig struct {
	APIKeyEnv         string        `yaml:"api_key_env"`
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	RetryCount        int           `yaml:"retry_count"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	UserAgent         string        `yaml:"user_agent"`
	MaxRecords        int           `yaml:"max_records"`
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:           15 * time.Second,
		RetryCount:        3,
		RequestsPerSecond: 1,
		Burst:             2,
		UserAgent:         "ThreatPulse/1.0 (OSINT monitoring tool)",
	}
}

func (c ClientConfig) withDefaults(baseURL string) ClientConfig {
	def := DefaultClientConfig()
	if c.BaseURL == "" {
		c.BaseURL = baseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.RetryCount < 0 {
		c.RetryCount = 0
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = def.RequestsPerSecond
	}
	if c.Burst <= 0 {
		c.Burst = def.Burst
	}
	if c.UserAgent == "" {
		c.UserAgent = def.UserAgent
	}
	return c
}

// TargetProfile holds per-target search terms.
type TargetProfile struct {
	Keywords       []string `yaml:"keywords" json:"keywords"`
	RedditKeywords []string `yaml:"reddit_keywords" json:"reddit_keywords"`
	Subreddits     []string `yaml:"subreddits" json:"subreddits"`
	Languages      []string `yaml:"languages" json:"languages"`
}

// Query builds the collection query for target over days.
func (p TargetProfile) Query(target string, days int) Query {
	return Query{
		Target:         target,
		Keywords:       p.Keywords,
		RedditKeywords: p.RedditKeywords,
		Subreddits:     p.Subreddits,
		Languages:      p.Languages,
		Days:           days,
	}
}

// DefaultTargets returns the stock target profiles.
func DefaultTargets() map[string]TargetProfile {
	return map[string]TargetProfile{
		"hezbollah": {
			Keywords:       []string{"hezbollah", "hizbollah", "hizballah", "lebanon", "lebanese", "nasrallah"},
			RedditKeywords: []string{"Hezbollah", "Lebanon", "Israel", "IDF", "Lebanese", "border", "missile", "strike"},
			Subreddits:     []string{"ForbiddenBromance", "Israel", "Lebanon"},
			Languages:      []string{"eng", "ara", "heb"},
		},
		"iran": {
			Keywords:       []string{"iran", "iranian", "tehran", "irgc", "revolutionary guard", "khamenei"},
			RedditKeywords: []string{"Iran", "Israel", "IRGC", "nuclear", "Tehran", "strike", "sanctions"},
			Subreddits:     []string{"Iran", "Israel", "geopolitics"},
			Languages:      []string{"eng", "ara", "heb", "fas"},
		},
		"houthis": {
			Keywords:       []string{"houthi", "houthis", "yemen", "yemeni", "ansarallah", "ansar allah", "sanaa"},
			RedditKeywords: []string{"Houthi", "Yemen", "Red Sea", "shipping", "missile", "drone", "Ansar Allah"},
			Subreddits:     []string{"Yemen", "Israel", "geopolitics"},
			Languages:      []string{"eng", "ara", "heb"},
		},
	}
}

// ProtestProfile returns the search terms for Iran protest monitoring.
func ProtestProfile() TargetProfile {
	return TargetProfile{
		Keywords:       []string{"iran", "persia", "protest", "protests", "demonstration"},
		RedditKeywords: []string{"Iran", "protest", "protests", "demonstration", "Tehran"},
		Subreddits:     []string{"Iran", "Israel", "geopolitics"},
		Languages:      []string{"eng", "ara", "fas", "heb"},
	}
}

func newRecord(p signal.ProviderType, source string, data map[string]any, q Query, collected time.Time, tags []string) signal.RawRecord {
	return signal.RawRecord{
		Provider:     p,
		Source:       source,
		Data:         data,
		CollectedAt:  collected,
		OriginWindow: q.Days,
		TargetTags:   tags,
	}
}

func targetTags(q Query) []string {
	if q.Target == "" {
		return nil
	}
	return []string{q.Target}
}
