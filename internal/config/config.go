// Package config provides configuration management for ThreatPulse.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lvonguyen/threatpulse/internal/headline"
	"github.com/lvonguyen/threatpulse/internal/matrix"
	"github.com/lvonguyen/threatpulse/internal/observability"
	"github.com/lvonguyen/threatpulse/internal/protest"
	"github.com/lvonguyen/threatpulse/internal/quota"
	"github.com/lvonguyen/threatpulse/internal/scoring"
	"github.com/lvonguyen/threatpulse/internal/signal"
	"github.com/lvonguyen/threatpulse/internal/sources"
)

// Config holds all ThreatPulse configuration.
type Config struct {
	Server     ServerConfig            `yaml:"server"`
	Redis      RedisConfig             `yaml:"redis"`
	Cache      CacheConfig             `yaml:"cache"`
	Quota      QuotaConfig             `yaml:"quota"`
	Sources    SourcesConfig           `yaml:"sources"`
	Normalizer signal.NormalizerConfig `yaml:"normalizer"`
	Scoring    scoring.Config          `yaml:"scoring"`
	Headline   headline.Config         `yaml:"headline"`
	Matrix     matrix.Config           `yaml:"matrix"`
	Protest    protest.Config          `yaml:"protest"`
	Logging    LoggingConfig           `yaml:"logging"`
	Tracing    TracingConfig           `yaml:"tracing"`
	Metrics    MetricsConfig           `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// RequestTimeout bounds one API request, upstream fetches included.
	RequestTimeout time.Duration   `yaml:"request_timeout"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig limits API requests per client.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	BurstSize         int  `yaml:"burst_size"`
	IncludeHeaders    bool `yaml:"include_headers"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
	PoolSize    int    `yaml:"pool_size"`
}

// Password returns the Redis password from the configured env var.
func (r RedisConfig) Password() string {
	if r.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(r.PasswordEnv)
}

// Cache backends.
const (
	BackendMemory  = "memory"
	BackendRedis   = "redis"
	BackendLayered = "layered"
)

// CacheConfig selects the result cache store.
type CacheConfig struct {
	Backend   string `yaml:"backend"` // memory, redis, layered
	KeyPrefix string `yaml:"key_prefix"`
}

// QuotaConfig holds the upstream fetch budget.
type QuotaConfig struct {
	quota.Config `yaml:",inline"`
	Backend      string `yaml:"backend"` // memory, redis
}

// ProviderConfig enables one upstream provider.
type ProviderConfig struct {
	Enabled              bool `yaml:"enabled"`
	sources.ClientConfig `yaml:",inline"`
}

// RSSConfig configures the feed reader.
type RSSConfig struct {
	ProviderConfig `yaml:",inline"`
	Feeds          []sources.Feed `yaml:"feeds"`
}

// PolymarketConfig configures market quotes.
type PolymarketConfig struct {
	ProviderConfig `yaml:",inline"`
	Markets        []sources.Market `yaml:"markets"`
}

// SourcesConfig holds upstream provider settings.
type SourcesConfig struct {
	NewsAPI    ProviderConfig   `yaml:"newsapi"`
	GDELT      ProviderConfig   `yaml:"gdelt"`
	Reddit     ProviderConfig   `yaml:"reddit"`
	RSS        RSSConfig        `yaml:"rss"`
	HRANA      ProviderConfig   `yaml:"hrana"`
	Polymarket PolymarketConfig `yaml:"polymarket"`

	// FetchTimeout bounds each provider within one collection burst.
	FetchTimeout time.Duration                    `yaml:"fetch_timeout"`
	Targets      map[string]sources.TargetProfile `yaml:"targets"`
	Protest      sources.TargetProfile            `yaml:"protest"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads configuration from a YAML file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	rss := sources.DefaultClientConfig()
	rss.MaxRecords = 15
	gdelt := sources.DefaultGDELTConfig()
	gdelt.RequestsPerSecond = 2
	gdelt.Burst = 4

	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    90 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RequestTimeout:  60 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 30,
				BurstSize:         10,
				IncludeHeaders:    true,
			},
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PasswordEnv: "REDIS_PASSWORD",
			DB:          0,
			PoolSize:    10,
		},
		Cache: CacheConfig{
			Backend: BackendMemory,
		},
		Quota: QuotaConfig{
			Config:  quota.DefaultConfig(),
			Backend: BackendMemory,
		},
		Sources: SourcesConfig{
			NewsAPI:      ProviderConfig{Enabled: true, ClientConfig: sources.DefaultNewsAPIConfig()},
			GDELT:        ProviderConfig{Enabled: true, ClientConfig: gdelt},
			Reddit:       ProviderConfig{Enabled: true, ClientConfig: sources.DefaultRedditConfig()},
			RSS:          RSSConfig{ProviderConfig: ProviderConfig{Enabled: true, ClientConfig: rss}, Feeds: sources.DefaultFeeds()},
			HRANA:        ProviderConfig{Enabled: true, ClientConfig: sources.DefaultHRANAConfig()},
			Polymarket:   PolymarketConfig{ProviderConfig: ProviderConfig{Enabled: true, ClientConfig: sources.DefaultClientConfig()}, Markets: sources.DefaultMarkets()},
			FetchTimeout: 30 * time.Second,
			Targets:      sources.DefaultTargets(),
			Protest:      sources.ProtestProfile(),
		},
		Normalizer: signal.DefaultNormalizerConfig(),
		Scoring:    scoring.DefaultConfig(),
		Headline:   headline.DefaultConfig(),
		Matrix:     matrix.DefaultConfig(),
		Protest:    protest.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			OTLPEndpoint: "localhost:4317",
			SamplingRate: 0.1,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// EnabledSources returns the names of enabled upstream providers.
func (c *Config) EnabledSources() []string {
	var names []string
	if c.Sources.NewsAPI.Enabled {
		names = append(names, "newsapi")
	}
	if c.Sources.GDELT.Enabled {
		names = append(names, "gdelt")
	}
	if c.Sources.Reddit.Enabled {
		names = append(names, "reddit")
	}
	if c.Sources.RSS.Enabled {
		names = append(names, "rss")
	}
	if c.Sources.HRANA.Enabled {
		names = append(names, "hrana")
	}
	if c.Sources.Polymarket.Enabled {
		names = append(names, "polymarket")
	}
	return names
}

// Targets returns the scoreable targets in name order.
func (c *Config) Targets() []string {
	targets := make([]string, 0, len(c.Scoring.Dictionary.Targets))
	for t := range c.Scoring.Dictionary.Targets {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	return targets
}

// Telemetry returns the observability settings for service version and
// environment.
func (c *Config) Telemetry(version, environment string) observability.Config {
	return observability.Config{
		ServiceName:    "threatpulse",
		ServiceVersion: version,
		Environment:    environment,
		LogLevel:       c.Logging.Level,
		LogFormat:      c.Logging.Format,
		TracingEnabled: c.Tracing.Enabled,
		OTLPEndpoint:   c.Tracing.OTLPEndpoint,
		SamplingRate:   c.Tracing.SamplingRate,
		MetricsEnabled: c.Metrics.Enabled,
	}
}

// Validate checks the whole configuration and returns every problem found,
// joined. Each problem is a *scoring.ConfigurationError.
func (c *Config) Validate() error {
	var errs []error
	bad := func(field, format string, args ...any) {
		errs = append(errs, &scoring.ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		bad("server.port", "must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RequestTimeout <= 0 {
		bad("server.request_timeout", "must be positive")
	}
	if rl := c.Server.RateLimit; rl.Enabled && (rl.RequestsPerMinute <= 0 || rl.BurstSize <= 0) {
		bad("server.rate_limit", "requests_per_minute and burst_size must be positive when enabled")
	}

	switch c.Cache.Backend {
	case BackendMemory:
	case BackendRedis, BackendLayered:
		if !c.Redis.Enabled {
			bad("cache.backend", "%s backend requires redis.enabled", c.Cache.Backend)
		}
	default:
		bad("cache.backend", "unknown backend %q", c.Cache.Backend)
	}
	switch c.Quota.Backend {
	case BackendMemory:
	case BackendRedis:
		if !c.Redis.Enabled {
			bad("quota.backend", "redis backend requires redis.enabled")
		}
	default:
		bad("quota.backend", "unknown backend %q", c.Quota.Backend)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		bad("redis.addr", "required when redis is enabled")
	}
	if c.Quota.Limit <= 0 {
		bad("quota.limit", "must be positive, got %d", c.Quota.Limit)
	}
	if c.Quota.Window <= 0 {
		bad("quota.window", "must be positive")
	}

	if len(c.EnabledSources()) == 0 {
		bad("sources", "at least one provider must be enabled")
	}
	for _, target := range c.Targets() {
		if _, ok := c.Sources.Targets[target]; !ok {
			bad("sources.targets."+target, "no search profile for scoring target")
		}
	}
	if c.Sources.NewsAPI.Enabled && c.Sources.NewsAPI.APIKeyEnv == "" {
		bad("sources.newsapi.api_key_env", "required when newsapi is enabled")
	}
	for i, f := range c.Sources.RSS.Feeds {
		if f.URL == "" {
			bad(fmt.Sprintf("sources.rss.feeds[%d].url", i), "required")
		}
	}

	if c.Normalizer.FutureSkew < 0 {
		bad("normalizer.future_skew", "must not be negative")
	}
	if c.Headline.Limit <= 0 {
		bad("headline.limit", "must be positive, got %d", c.Headline.Limit)
	}
	if c.Headline.BaseMentionWeight <= 0 {
		bad("headline.base_mention_weight", "must be positive, got %v", c.Headline.BaseMentionWeight)
	}
	if c.Headline.EngagementThreshold <= 0 {
		bad("headline.engagement_threshold", "must be positive, got %v", c.Headline.EngagementThreshold)
	}
	if c.Matrix.IncomingWeight < 0 || c.Matrix.OutgoingWeight < 0 || c.Matrix.IncomingWeight+c.Matrix.OutgoingWeight <= 0 {
		bad("matrix", "direction weights must be non-negative and not both zero")
	}
	if c.Matrix.DominantWeight <= 0 || c.Matrix.DominantWeight > 1 {
		bad("matrix.dominant_weight", "must be within (0, 1], got %v", c.Matrix.DominantWeight)
	}
	if c.Matrix.HighThreshold <= 0 || c.Matrix.HighThreshold > scoring.MaxProbability {
		bad("matrix.high_threshold", "must be between 1 and %d, got %d", scoring.MaxProbability, c.Matrix.HighThreshold)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		bad("logging.level", "unknown level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		bad("logging.format", "unknown format %q", c.Logging.Format)
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		bad("tracing.sampling_rate", "must be within [0, 1], got %v", c.Tracing.SamplingRate)
	}

	if err := c.Scoring.Validate(); err != nil {
		errs = append(errs, prefixed("scoring", err)...)
	}

	return errors.Join(errs...)
}

// prefixed qualifies the fields of joined configuration errors.
func prefixed(prefix string, err error) []error {
	var out []error
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			out = append(out, prefixed(prefix, e)...)
		}
		return out
	}
	var ce *scoring.ConfigurationError
	if errors.As(err, &ce) {
		return []error{&scoring.ConfigurationError{Field: prefix + "." + ce.Field, Reason: ce.Reason}}
	}
	return []error{fmt.Errorf("%s: %w", prefix, err)}
}
