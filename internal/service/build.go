package service

import (
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lvonguyen/threatpulse/internal/cache"
	"github.com/lvonguyen/threatpulse/internal/config"
	"github.com/lvonguyen/threatpulse/internal/headline"
	"github.com/lvonguyen/threatpulse/internal/matrix"
	"github.com/lvonguyen/threatpulse/internal/observability"
	"github.com/lvonguyen/threatpulse/internal/protest"
	"github.com/lvonguyen/threatpulse/internal/quota"
	"github.com/lvonguyen/threatpulse/internal/scoring"
	"github.com/lvonguyen/threatpulse/internal/signal"
	"github.com/lvonguyen/threatpulse/internal/sources"
)

// Build assembles a service from validated configuration. rdb may be nil
// unless a redis backend is configured.
func Build(cfg *config.Config, rdb redis.UniversalClient, logger *zap.Logger, tracer trace.Tracer, metrics *observability.Metrics) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	engine, err := scoring.NewEngine(cfg.Scoring, nil)
	if err != nil {
		return nil, fmt.Errorf("build scoring engine: %w", err)
	}

	store, err := BuildStore(cfg, rdb, logger)
	if err != nil {
		return nil, err
	}
	tracker, err := BuildTracker(cfg, rdb, logger)
	if err != nil {
		return nil, err
	}

	threatProviders, protestProviders := BuildProviders(cfg.Sources, logger)
	if len(threatProviders) == 0 {
		return nil, errors.New("no upstream provider could be initialized")
	}
	opts := []sources.CollectorOption{
		sources.WithObserver(metrics.ObserveFetch),
		sources.WithProviderTimeout(cfg.Sources.FetchTimeout),
	}

	logger.Info("Service assembled",
		zap.Strings("targets", cfg.Targets()),
		zap.Int("providers", len(threatProviders)),
		zap.Int("protest_providers", len(protestProviders)),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.String("quota_backend", cfg.Quota.Backend),
	)

	return New(Dependencies{
		Engine:           engine,
		Normalizer:       signal.NewNormalizer(cfg.Normalizer, logger.Named("normalizer")),
		Cache:            cache.New(store, nil, logger.Named("cache")),
		Quota:            tracker,
		Collector:        sources.NewCollector(threatProviders, logger.Named("collector"), opts...),
		ProtestCollector: sources.NewCollector(protestProviders, logger.Named("collector"), opts...),
		Weigher:          headline.NewWeigher(engine, cfg.Headline),
		Aggregator:       matrix.NewAggregator(cfg.Matrix),
		Monitor:          protest.NewMonitor(cfg.Protest, nil, logger.Named("protest")),
		Targets:          cfg.Sources.Targets,
		ProtestProfile:   cfg.Sources.Protest,
		Tracer:           tracer,
		Metrics:          metrics,
		Logger:           logger,
	})
}

// BuildStore returns the configured result cache store.
func BuildStore(cfg *config.Config, rdb redis.UniversalClient, logger *zap.Logger) (cache.Store, error) {
	switch cfg.Cache.Backend {
	case config.BackendMemory, "":
		return cache.NewMemoryStore(), nil
	case config.BackendRedis:
		if rdb == nil {
			return nil, errors.New("redis cache backend configured without a redis client")
		}
		return cache.NewRedisStore(rdb, cfg.Cache.KeyPrefix), nil
	case config.BackendLayered:
		if rdb == nil {
			return nil, errors.New("layered cache backend configured without a redis client")
		}
		return cache.NewLayeredStore(cache.NewMemoryStore(), cache.NewRedisStore(rdb, cfg.Cache.KeyPrefix), logger.Named("cache")), nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
}

// BuildTracker returns the configured quota tracker.
func BuildTracker(cfg *config.Config, rdb redis.UniversalClient, logger *zap.Logger) (quota.Tracker, error) {
	switch cfg.Quota.Backend {
	case config.BackendMemory, "":
		return quota.NewMemoryTracker(cfg.Quota.Config, nil), nil
	case config.BackendRedis:
		if rdb == nil {
			return nil, errors.New("redis quota backend configured without a redis client")
		}
		return quota.NewRedisTracker(rdb, cfg.Quota.Config, logger.Named("quota")), nil
	}
	return nil, fmt.Errorf("unknown quota backend %q", cfg.Quota.Backend)
}

// BuildProviders returns the enabled providers for threat scoring and for
// protest monitoring. Prediction markets carry no protest coverage. A
// provider that cannot start, such as NewsAPI without a key, is skipped
// with a warning.
func BuildProviders(cfg config.SourcesConfig, logger *zap.Logger) (threat, protests []sources.Provider) {
	add := func(p sources.Provider, forProtests bool) {
		threat = append(threat, p)
		if forProtests {
			protests = append(protests, p)
		}
	}

	if cfg.NewsAPI.Enabled {
		p, err := sources.NewNewsAPIProvider(cfg.NewsAPI.ClientConfig, logger.Named("newsapi"))
		if err != nil {
			logger.Warn("NewsAPI disabled", zap.Error(err))
		} else {
			add(p, true)
		}
	}
	if cfg.GDELT.Enabled {
		add(sources.NewGDELTProvider(cfg.GDELT.ClientConfig, logger.Named("gdelt")), true)
	}
	if cfg.Reddit.Enabled {
		add(sources.NewRedditProvider(cfg.Reddit.ClientConfig, logger.Named("reddit")), true)
	}
	if cfg.RSS.Enabled {
		add(sources.NewRSSProvider(cfg.RSS.ClientConfig, cfg.RSS.Feeds, logger.Named("rss")), true)
	}
	if cfg.HRANA.Enabled {
		add(sources.NewHRANAProvider(cfg.HRANA.ClientConfig, logger.Named("hrana")), true)
	}
	if cfg.Polymarket.Enabled {
		add(sources.NewPolymarketProvider(cfg.Polymarket.ClientConfig, cfg.Polymarket.Markets, logger.Named("polymarket")), false)
	}
	return threat, protests
}
