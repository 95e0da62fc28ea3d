// Package service orchestrates collection, normalization, scoring and
// caching behind the boundary queries.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lvonguyen/threatpulse/internal/cache"
	"github.com/lvonguyen/threatpulse/internal/headline"
	"github.com/lvonguyen/threatpulse/internal/matcher"
	"github.com/lvonguyen/threatpulse/internal/matrix"
	"github.com/lvonguyen/threatpulse/internal/observability"
	"github.com/lvonguyen/threatpulse/internal/protest"
	"github.com/lvonguyen/threatpulse/internal/quota"
	"github.com/lvonguyen/threatpulse/internal/scoring"
	"github.com/lvonguyen/threatpulse/internal/signal"
	"github.com/lvonguyen/threatpulse/internal/sources"
)

var (
	// ErrUnknownTarget is returned for a target with no dictionary entry.
	ErrUnknownTarget = errors.New("unknown target")
	// ErrInvalidWindow is returned for an unsupported window.
	ErrInvalidWindow = errors.New("invalid window")
)

// Response statuses.
const (
	StatusOK                 = "ok"
	StatusQuotaExceeded      = "quota_exceeded"
	StatusSourcesUnavailable = "sources_unavailable"
	StatusNoDirectionalData  = "no_directional_data"
)

// MatrixWindowDays is the window the threat matrix is read from.
const MatrixWindowDays = 7

// Collector gathers raw records for one query.
type Collector interface {
	Collect(ctx context.Context, q sources.Query) (sources.Result, error)
}

// Dependencies are the collaborators a Service is built from. Tracer,
// Metrics and Logger are optional.
type Dependencies struct {
	Engine           *scoring.Engine
	Normalizer       *signal.Normalizer
	Cache            *cache.ResultCache
	Quota            quota.Tracker
	Collector        Collector
	ProtestCollector Collector
	Weigher          *headline.Weigher
	Aggregator       *matrix.Aggregator
	Monitor          *protest.Monitor

	Targets        map[string]sources.TargetProfile
	ProtestProfile sources.TargetProfile

	Tracer  trace.Tracer
	Metrics *observability.Metrics
	Logger  *zap.Logger
}

// Service answers threat, matrix, protest and quota queries.
type Service struct {
	engine           *scoring.Engine
	normalizer       *signal.Normalizer
	cache            *cache.ResultCache
	quota            quota.Tracker
	collector        Collector
	protestCollector Collector
	weigher          *headline.Weigher
	aggregator       *matrix.Aggregator
	monitor          *protest.Monitor

	targets        map[string]sources.TargetProfile
	protestProfile sources.TargetProfile

	tracer  trace.Tracer
	metrics *observability.Metrics
	logger  *zap.Logger
}

// New creates a service.
func New(d Dependencies) (*Service, error) {
	switch {
	case d.Engine == nil:
		return nil, errors.New("service: engine is required")
	case d.Cache == nil:
		return nil, errors.New("service: cache is required")
	case d.Quota == nil:
		return nil, errors.New("service: quota tracker is required")
	case d.Collector == nil:
		return nil, errors.New("service: collector is required")
	}

	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Tracer == nil {
		d.Tracer = otel.Tracer("threatpulse/service")
	}
	if d.Normalizer == nil {
		d.Normalizer = signal.NewNormalizer(signal.DefaultNormalizerConfig(), d.Logger)
	}
	if d.ProtestCollector == nil {
		d.ProtestCollector = d.Collector
	}
	if d.Weigher == nil {
		d.Weigher = headline.NewWeigher(d.Engine, headline.DefaultConfig())
	}
	if d.Aggregator == nil {
		d.Aggregator = matrix.NewAggregator(matrix.DefaultConfig())
	}
	if d.Monitor == nil {
		d.Monitor = protest.NewMonitor(protest.DefaultConfig(), nil, d.Logger)
	}
	if d.Targets == nil {
		d.Targets = sources.DefaultTargets()
	}
	if len(d.ProtestProfile.Keywords) == 0 {
		d.ProtestProfile = sources.ProtestProfile()
	}

	return &Service{
		engine:           d.Engine,
		normalizer:       d.Normalizer,
		cache:            d.Cache,
		quota:            d.Quota,
		collector:        d.Collector,
		protestCollector: d.ProtestCollector,
		weigher:          d.Weigher,
		aggregator:       d.Aggregator,
		monitor:          d.Monitor,
		targets:          d.Targets,
		protestProfile:   d.ProtestProfile,
		tracer:           d.Tracer,
		metrics:          d.Metrics,
		logger:           d.Logger,
	}, nil
}

// Targets returns the scoreable targets in name order.
func (s *Service) Targets() []string {
	dict := s.engine.Config().Dictionary.Targets
	out := make([]string, 0, len(dict))
	for t := range dict {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// Threat
// =============================================================================

// ThreatRequest asks for the score of one target over one window.
type ThreatRequest struct {
	Target     string
	WindowDays int
	Refresh    bool
}

// ThreatResponse is the single-target score. Probability is nil whenever no
// score could be produced.
type ThreatResponse struct {
	Success    bool   `json:"success"`
	Status     string `json:"status"`
	Target     string `json:"target"`
	WindowDays int    `json:"window_days"`

	Probability *int                        `json:"probability,omitempty"`
	Timeline    string                      `json:"timeline,omitempty"`
	Confidence  string                      `json:"confidence,omitempty"`
	Momentum    string                      `json:"momentum,omitempty"`
	Headlines   []headline.WeightedHeadline `json:"recent_headlines"`

	Cached        bool       `json:"cached"`
	Stale         bool       `json:"stale"`
	QuotaExceeded bool       `json:"quota_exceeded,omitempty"`
	QuotaResetAt  *time.Time `json:"quota_reset_at,omitempty"`
	LastUpdated   *time.Time `json:"last_updated,omitempty"`
	ComputationID string     `json:"computation_id,omitempty"`

	Partial  bool            `json:"partial"`
	Failures []cache.Failure `json:"failures,omitempty"`
	Dropped  int             `json:"malformed_dropped"`

	Breakdown *scoring.Breakdown `json:"breakdown,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// Threat returns the cached score for the request, computing it on a miss
// or refresh. Quota and upstream failures fall back to the cached entry,
// flagged stale; without one the response reports success=false and
// carries no probability.
func (s *Service) Threat(ctx context.Context, req ThreatRequest) (*ThreatResponse, error) {
	ctx, span := s.tracer.Start(ctx, "service.Threat", trace.WithAttributes(
		attribute.String("target", req.Target),
		attribute.Int("window_days", req.WindowDays),
		attribute.Bool("refresh", req.Refresh),
	))
	defer span.End()

	resp, _, err := s.threat(ctx, req)
	if err != nil {
		observability.RecordSpanError(ctx, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("status", resp.Status),
		attribute.Bool("cached", resp.Cached),
	)
	return resp, nil
}

// threat resolves a request and also returns the entry the response was
// built from, nil when none.
func (s *Service) threat(ctx context.Context, req ThreatRequest) (*ThreatResponse, *cache.Entry, error) {
	if err := s.checkRequest(req.Target, req.WindowDays); err != nil {
		return nil, nil, err
	}

	key := cache.Key{Target: req.Target, WindowDays: req.WindowDays}
	entry, hit, err := s.cache.GetOrCompute(ctx, key, req.Refresh, s.computeThreat(key))
	s.metrics.ObserveCache(hit)
	if err == nil {
		entry = s.coordinate(ctx, entry)
		return threatResponse(entry, hit), entry, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, nil, ctxErr
	}

	switch {
	case errors.Is(err, quota.ErrQuotaExceeded):
		s.logger.Warn("Quota exhausted, serving cached score",
			zap.String("target", req.Target),
			zap.Int("window_days", req.WindowDays),
		)
		if prev, ok := s.cache.Peek(ctx, key); ok {
			prev = s.coordinate(ctx, prev)
			resp := staleResponse(prev, StatusQuotaExceeded)
			resp.QuotaExceeded = true
			return resp, prev, nil
		}
		resp := &ThreatResponse{
			Success:       false,
			Status:        StatusQuotaExceeded,
			Target:        req.Target,
			WindowDays:    req.WindowDays,
			Headlines:     []headline.WeightedHeadline{},
			QuotaExceeded: true,
			Error:         "upstream request quota exhausted and no cached score exists",
		}
		if st, err := s.quota.Status(ctx); err == nil {
			resetAt := st.ResetAt
			resp.QuotaResetAt = &resetAt
		}
		return resp, nil, nil

	case errors.Is(err, sources.ErrAllSourcesFailed):
		failures := failuresOf(err)
		s.logger.Error("All sources failed",
			zap.String("target", req.Target),
			zap.Int("window_days", req.WindowDays),
			zap.Error(err),
		)
		if prev, ok := s.cache.Peek(ctx, key); ok {
			prev = s.coordinate(ctx, prev)
			resp := staleResponse(prev, StatusSourcesUnavailable)
			resp.Partial = true
			resp.Failures = failures
			return resp, prev, nil
		}
		return &ThreatResponse{
			Success:    false,
			Status:     StatusSourcesUnavailable,
			Target:     req.Target,
			WindowDays: req.WindowDays,
			Headlines:  []headline.WeightedHeadline{},
			Partial:    true,
			Failures:   failures,
			Error:      "all upstream sources failed and no cached score exists",
		}, nil, nil
	}

	return nil, nil, err
}

func (s *Service) checkRequest(target string, windowDays int) error {
	if _, ok := s.engine.Config().Dictionary.Targets[target]; !ok {
		return fmt.Errorf("%w %q", ErrUnknownTarget, target)
	}
	if !scoring.ValidWindow(windowDays) {
		return fmt.Errorf("%w: %d days (want one of %v)", ErrInvalidWindow, windowDays, scoring.Windows)
	}
	return nil
}

// computeThreat builds the cache computation for key. It consumes one unit
// of quota and fetches twice the window so momentum has a prior window.
func (s *Service) computeThreat(key cache.Key) cache.ComputeFunc {
	return func(ctx context.Context) (*cache.Entry, error) {
		ctx, span := s.tracer.Start(ctx, "service.computeThreat", trace.WithAttributes(
			attribute.String("target", key.Target),
			attribute.Int("window_days", key.WindowDays),
		))
		defer span.End()

		if err := s.acquire(ctx); err != nil {
			return nil, err
		}

		profile, ok := s.targets[key.Target]
		if !ok {
			profile = sources.TargetProfile{Keywords: s.engine.Config().Dictionary.Targets[key.Target]}
		}
		signals, res, stats, err := s.gather(ctx, s.collector, profile.Query(key.Target, 2*key.WindowDays))
		if err != nil {
			observability.RecordSpanError(ctx, err)
			return nil, err
		}

		now := s.engine.Now()
		current, prior := scoring.Partition(signals, key.WindowDays, now)
		b, err := s.engine.ComputeScore(current, key.Target, key.WindowDays, prior)
		if err != nil {
			return nil, err
		}
		s.metrics.ObserveScore(key.Target, key.WindowDays, b.Probability)

		entry := &cache.Entry{
			Breakdown: b,
			Headlines: s.weigher.WeighAll(current, headline.Context{
				Target:     key.Target,
				Now:        now,
				WindowDays: key.WindowDays,
			}),
			Directional: s.directional(current, prior, key),
			Partial:     len(res.Failures) > 0,
			Failures:    toFailures(res.Failures),
			Dropped:     stats.Dropped,
		}

		span.SetAttributes(
			attribute.Int("probability", b.Probability),
			attribute.Int("signals", b.SignalCount),
		)
		s.logger.Info("Computed threat score",
			zap.String("target", key.Target),
			zap.Int("window_days", key.WindowDays),
			zap.Int("probability", b.Probability),
			zap.Int("signals", b.SignalCount),
			zap.Int("prior_signals", b.PriorCount),
			zap.Bool("partial", entry.Partial),
			zap.Int("dropped", stats.Dropped),
		)
		return entry, nil
	}
}

// coordinate returns a copy of e with the multi-front bonus applied from
// the peers' cached bases as they stand now. Entries store the uncoordinated
// breakdown, so whichever participant was computed first still picks up the
// bonus once a peer becomes elevated.
func (s *Service) coordinate(ctx context.Context, e *cache.Entry) *cache.Entry {
	c := *e
	c.Breakdown = s.engine.ApplyCoordination(e.Breakdown, s.peerBases(ctx, e.Key))
	return &c
}

// peerBases reads the cached base probabilities of the target's
// coordination peers for the same window. It never triggers a fetch.
func (s *Service) peerBases(ctx context.Context, key cache.Key) map[string]int {
	peers := s.engine.CoordinationPeers(key.Target)
	if len(peers) == 0 {
		return nil
	}
	bases := make(map[string]int, len(peers))
	for _, p := range peers {
		if e, ok := s.cache.Peek(ctx, cache.Key{Target: p, WindowDays: key.WindowDays}); ok {
			bases[p] = e.Breakdown.BaseProbability
		}
	}
	return bases
}

func (s *Service) acquire(ctx context.Context) error {
	st, err := s.quota.Acquire(ctx)
	s.metrics.ObserveQuota(st.RequestsRemaining, errors.Is(err, quota.ErrQuotaExceeded))
	if err != nil {
		return fmt.Errorf("acquire quota: %w", err)
	}
	return nil
}

// gather collects and normalizes one query. Malformed records are dropped
// and counted.
func (s *Service) gather(ctx context.Context, c Collector, q sources.Query) ([]signal.Signal, sources.Result, signal.BatchStats, error) {
	res, err := c.Collect(ctx, q)
	if err != nil {
		return nil, res, signal.BatchStats{}, err
	}
	for _, f := range res.Failures {
		s.logger.Warn("Source unavailable, continuing with remaining sources",
			zap.String("provider", f.Provider),
			zap.String("target", q.Target),
			zap.Error(f.Err),
		)
	}

	signals, stats := s.normalizer.NormalizeBatch(res.Records)
	s.metrics.ObserveDropped(stats.Reasons)
	return signals, res, stats, nil
}

func threatResponse(e *cache.Entry, cached bool) *ThreatResponse {
	b := e.Breakdown
	p := b.Probability
	updated := e.ComputedAt
	headlines := e.Headlines
	if headlines == nil {
		headlines = []headline.WeightedHeadline{}
	}
	return &ThreatResponse{
		Success:       true,
		Status:        StatusOK,
		Target:        e.Key.Target,
		WindowDays:    e.Key.WindowDays,
		Probability:   &p,
		Timeline:      b.Timeline,
		Confidence:    b.Confidence,
		Momentum:      b.Momentum,
		Headlines:     headlines,
		Cached:        cached,
		Stale:         e.Stale,
		LastUpdated:   &updated,
		ComputationID: e.ID,
		Partial:       e.Partial,
		Failures:      e.Failures,
		Dropped:       e.Dropped,
		Breakdown:     &b,
	}
}

func staleResponse(e *cache.Entry, status string) *ThreatResponse {
	resp := threatResponse(e, true)
	resp.Status = status
	resp.Stale = true
	return resp
}

func toFailures(errs []*sources.SourceUnavailableError) []cache.Failure {
	if len(errs) == 0 {
		return nil
	}
	out := make([]cache.Failure, 0, len(errs))
	for _, e := range errs {
		out = append(out, cache.Failure{Provider: e.Provider, Error: e.Err.Error()})
	}
	return out
}

// failuresOf walks a joined error tree for provider failures.
func failuresOf(err error) []cache.Failure {
	var out []*sources.SourceUnavailableError
	var walk func(error)
	walk = func(err error) {
		if err == nil {
			return
		}
		if su, ok := err.(*sources.SourceUnavailableError); ok {
			out = append(out, su)
			return
		}
		switch u := err.(type) {
		case interface{ Unwrap() []error }:
			for _, e := range u.Unwrap() {
				walk(e)
			}
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		}
	}
	walk(err)
	return toFailures(out)
}

// =============================================================================
// Matrix
// =============================================================================

// MatrixResponse is the directional view of one target.
type MatrixResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	matrix.ThreatMatrix
	WindowDays  int        `json:"window_days"`
	Cached      bool       `json:"cached"`
	Stale       bool       `json:"stale"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Matrix combines the target's directional sub-scores from its 7-day
// entry. Directions with no directional evidence, and directions configured
// as unsupported, are reported null.
func (s *Service) Matrix(ctx context.Context, target string) (*MatrixResponse, error) {
	ctx, span := s.tracer.Start(ctx, "service.Matrix", trace.WithAttributes(
		attribute.String("target", target),
	))
	defer span.End()

	tr, entry, err := s.threat(ctx, ThreatRequest{Target: target, WindowDays: MatrixWindowDays})
	if err != nil {
		observability.RecordSpanError(ctx, err)
		return nil, err
	}

	resp := &MatrixResponse{
		Status:      tr.Status,
		WindowDays:  MatrixWindowDays,
		Cached:      tr.Cached,
		Stale:       tr.Stale,
		LastUpdated: tr.LastUpdated,
		Error:       tr.Error,
	}
	if entry == nil {
		resp.ThreatMatrix = s.aggregator.Aggregate(target, matrix.SubScores{})
		return resp, nil
	}

	resp.ThreatMatrix = s.aggregator.Aggregate(target, SubScores(entry))
	resp.Success = resp.Available()
	if !resp.Success {
		resp.Status = StatusNoDirectionalData
		resp.Error = "no directional signals between the target and a counterpart actor"
	}
	span.SetAttributes(attribute.String("risk_level", resp.RiskLevel))
	return resp, nil
}

// SubScores maps an entry's directional breakdowns onto matrix sub-scores.
func SubScores(e *cache.Entry) matrix.SubScores {
	target := e.Key.Target
	pick := func(actor string, d matcher.Direction) *int {
		b, ok := e.Directional[DirectionKey(target, actor, d)]
		if !ok {
			return nil
		}
		p := b.Probability
		return &p
	}
	return matrix.SubScores{
		IncomingIsrael:   pick(ActorIsrael, matcher.DirectionActorToTarget),
		IncomingUS:       pick(ActorUS, matcher.DirectionActorToTarget),
		OutgoingVsIsrael: pick(ActorIsrael, matcher.DirectionTargetToActor),
		OutgoingVsUS:     pick(ActorUS, matcher.DirectionTargetToActor),
	}
}

// =============================================================================
// Protests
// =============================================================================

// ProtestResponse is a protest assessment.
type ProtestResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	*protest.Report
	Partial  bool            `json:"partial"`
	Failures []cache.Failure `json:"failures,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Protests collects protest coverage over days and assesses it. When every
// source fails the report is still built, from the monitor's fallback
// policy, and flagged.
func (s *Service) Protests(ctx context.Context, days int) (*ProtestResponse, error) {
	ctx, span := s.tracer.Start(ctx, "service.Protests", trace.WithAttributes(
		attribute.Int("days", days),
	))
	defer span.End()

	if !scoring.ValidWindow(days) {
		return nil, fmt.Errorf("%w: %d days (want one of %v)", ErrInvalidWindow, days, scoring.Windows)
	}

	if err := s.acquire(ctx); err != nil {
		if errors.Is(err, quota.ErrQuotaExceeded) {
			return &ProtestResponse{
				Status: StatusQuotaExceeded,
				Error:  "upstream request quota exhausted",
			}, nil
		}
		observability.RecordSpanError(ctx, err)
		return nil, err
	}

	q := s.protestProfile.Query("iran", days)
	signals, res, _, err := s.gather(ctx, s.protestCollector, q)
	resp := &ProtestResponse{Success: true, Status: StatusOK}
	switch {
	case err == nil:
		resp.Partial = len(res.Failures) > 0
		resp.Failures = toFailures(res.Failures)
	case errors.Is(err, sources.ErrAllSourcesFailed):
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.logger.Error("All protest sources failed", zap.Error(err))
		resp.Status = StatusSourcesUnavailable
		resp.Partial = true
		resp.Failures = failuresOf(err)
	default:
		observability.RecordSpanError(ctx, err)
		return nil, err
	}

	report := s.monitor.Assess(signals, days)
	resp.Report = &report
	span.SetAttributes(
		attribute.Int("articles", report.TotalArticles),
		attribute.Int("stability", report.Stability),
		attribute.String("casualty_source", report.Casualties.Source),
	)
	return resp, nil
}

// =============================================================================
// Quota
// =============================================================================

// QuotaResponse is the upstream budget.
type QuotaResponse struct {
	Success bool `json:"success"`
	quota.Status
}

// Quota reports the upstream budget without consuming it.
func (s *Service) Quota(ctx context.Context) (*QuotaResponse, error) {
	st, err := s.quota.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("quota status: %w", err)
	}
	s.metrics.ObserveQuota(st.RequestsRemaining, false)
	return &QuotaResponse{Success: true, Status: st}, nil
}
