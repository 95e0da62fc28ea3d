package sources

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lvonguyen/threatpulse/internal/signal"
)

// Observer is told about every provider fetch.
type Observer func(provider string, records int, elapsed time.Duration, err error)

// Result is the outcome of one collection burst.
type Result struct {
	Records  []signal.RawRecord
	Failures []*SourceUnavailableError
}

// Failed returns the names of providers that failed.
func (r Result) Failed() []string {
	names := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		names = append(names, f.Provider)
	}
	return names
}

// Collector fans a query out to every provider concurrently.
type Collector struct {
	providers []Provider
	timeout   time.Duration
	observer  Observer
	logger    *zap.Logger
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithObserver registers a fetch observer.
func WithObserver(o Observer) CollectorOption {
	return func(c *Collector) { c.observer = o }
}

// WithProviderTimeout bounds each provider fetch.
func WithProviderTimeout(d time.Duration) CollectorOption {
	return func(c *Collector) { c.timeout = d }
}

// NewCollector creates a collector over providers.
func NewCollector(providers []Provider, logger *zap.Logger, opts ...CollectorOption) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{providers: providers, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Providers returns the configured providers.
func (c *Collector) Providers() []Provider {
	return c.providers
}

// Collect fetches q from every provider. A failing provider is recorded in
// Result.Failures and does not cancel the others. ErrAllSourcesFailed is
// returned only when every provider failed.
func (c *Collector) Collect(ctx context.Context, q Query) (Result, error) {
	if len(c.providers) == 0 {
		return Result{}, ErrAllSourcesFailed
	}

	perProvider := make([][]signal.RawRecord, len(c.providers))
	failures := make([]*SourceUnavailableError, len(c.providers))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range c.providers {
		g.Go(func() error {
			fctx := gctx
			if c.timeout > 0 {
				var cancel context.CancelFunc
				fctx, cancel = context.WithTimeout(gctx, c.timeout)
				defer cancel()
			}

			start := time.Now()
			records, err := p.Fetch(fctx, q)
			elapsed := time.Since(start)
			if c.observer != nil {
				c.observer(p.Name(), len(records), elapsed, err)
			}

			if err != nil {
				// Only the caller's cancellation aborts the burst.
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.logger.Warn("Provider fetch failed",
					zap.String("provider", p.Name()),
					zap.String("target", q.Target),
					zap.Duration("elapsed", elapsed),
					zap.Error(err),
				)
				failures[i] = &SourceUnavailableError{Provider: p.Name(), Err: err}
				return nil
			}

			c.logger.Debug("Provider fetch complete",
				zap.String("provider", p.Name()),
				zap.String("target", q.Target),
				zap.Int("records", len(records)),
				zap.Duration("elapsed", elapsed),
			)
			perProvider[i] = records
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	// Provider order keeps the result deterministic.
	var res Result
	for i := range c.providers {
		if failures[i] != nil {
			res.Failures = append(res.Failures, failures[i])
			continue
		}
		res.Records = append(res.Records, perProvider[i]...)
	}

	if len(res.Failures) == len(c.providers) {
		errs := make([]error, 0, len(res.Failures))
		for _, f := range res.Failures {
			errs = append(errs, f)
		}
		return res, errors.Join(ErrAllSourcesFailed, errors.Join(errs...))
	}
	return res, nil
}
