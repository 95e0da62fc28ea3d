// Package cache holds the most recent computed result per (target, window)
// and guarantees at most one in-flight recomputation per key.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/lvonguyen/threatpulse/internal/headline"
	"github.com/lvonguyen/threatpulse/internal/scoring"
)

// Key identifies one cached result.
type Key struct {
	Target     string `json:"target"`
	WindowDays int    `json:"window_days"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d", k.Target, k.WindowDays)
}

// Failure records one upstream that could not be fetched.
type Failure struct {
	Provider string `json:"provider"`
	Error    string `json:"error"`
}

// Entry is one computed result.
type Entry struct {
	ID         string    `json:"id"`
	Key        Key       `json:"key"`
	ComputedAt time.Time `json:"computed_at"`
	Stale      bool      `json:"stale"`

	Breakdown scoring.Breakdown           `json:"breakdown"`
	Headlines []headline.WeightedHeadline `json:"headlines"`
	// Directional holds per-actor breakdowns keyed "actor>target" for
	// incoming threats and "target>actor" for outgoing ones.
	Directional map[string]scoring.Breakdown `json:"directional,omitempty"`

	Partial  bool      `json:"partial"`
	Failures []Failure `json:"failures,omitempty"`
	Dropped  int       `json:"dropped"`
}

// Clone returns a shallow copy safe for flag changes.
func (e *Entry) Clone() *Entry {
	c := *e
	return &c
}

// ComputeFunc produces a fresh entry. It runs detached from the caller's
// cancellation.
type ComputeFunc func(ctx context.Context) (*Entry, error)

// ResultCache coalesces recomputation per key in front of a Store.
type ResultCache struct {
	store  Store
	group  singleflight.Group
	now    func() time.Time
	logger *zap.Logger
}

// New creates a result cache. A nil clock uses time.Now; a nil logger
// discards output.
func New(store Store, clock func() time.Time, logger *zap.Logger) *ResultCache {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultCache{
		store:  store,
		now:    clock,
		logger: logger,
	}
}

type flightResult struct {
	entry    *Entry
	computed bool
}

// maxJoins bounds how often a refresh caller re-enters the flight after
// joining one that was satisfied from the store.
const maxJoins = 3

// GetOrCompute returns the stored entry for key, computing it on a miss or
// when refresh is set. The bool reports whether the stored entry was served.
// Concurrent callers for the same key share one computation; a caller whose
// ctx ends gets ctx.Err() while the computation still completes and
// populates the store.
func (c *ResultCache) GetOrCompute(ctx context.Context, key Key, refresh bool, compute ComputeFunc) (*Entry, bool, error) {
	k := key.String()

	if !refresh {
		if entry, ok := c.lookup(ctx, k); ok {
			return entry, true, nil
		}
	}

	for i := 0; i < maxJoins; i++ {
		ch := c.group.DoChan(k, func() (any, error) {
			return c.flight(context.WithoutCancel(ctx), key, refresh, compute)
		})

		var res singleflight.Result
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case res = <-ch:
		}
		if res.Err != nil {
			return nil, false, res.Err
		}

		fr := res.Val.(flightResult)
		if !fr.computed && refresh {
			// Joined a flight that was answered from the store.
			continue
		}
		return fr.entry, !fr.computed, nil
	}
	return nil, false, fmt.Errorf("refresh %s: could not start computation", k)
}

func (c *ResultCache) flight(ctx context.Context, key Key, refresh bool, compute ComputeFunc) (flightResult, error) {
	k := key.String()

	prev, hasPrev := c.lookup(ctx, k)
	if hasPrev && !refresh {
		// Filled while this caller was queued.
		return flightResult{entry: prev}, nil
	}

	entry, err := compute(ctx)
	if err != nil {
		return flightResult{}, err
	}
	if entry == nil {
		return flightResult{}, fmt.Errorf("compute %s: nil entry", k)
	}

	entry.ID = uuid.NewString()
	entry.Key = key
	entry.Stale = false
	entry.ComputedAt = c.now()
	// ComputedAt is strictly increasing per key.
	if hasPrev && !entry.ComputedAt.After(prev.ComputedAt) {
		entry.ComputedAt = prev.ComputedAt.Add(time.Nanosecond)
	}

	if err := c.store.Set(ctx, k, entry); err != nil {
		c.logger.Warn("Failed to store computed entry",
			zap.String("key", k),
			zap.Error(err),
		)
	}

	c.logger.Debug("Computed entry",
		zap.String("key", k),
		zap.String("id", entry.ID),
		zap.Bool("refresh", refresh),
	)
	return flightResult{entry: entry, computed: true}, nil
}

// Peek returns the stored entry without computing.
func (c *ResultCache) Peek(ctx context.Context, key Key) (*Entry, bool) {
	return c.lookup(ctx, key.String())
}

// Invalidate removes the stored entry for key.
func (c *ResultCache) Invalidate(ctx context.Context, key Key) error {
	return c.store.Delete(ctx, key.String())
}

func (c *ResultCache) lookup(ctx context.Context, k string) (*Entry, bool) {
	entry, found, err := c.store.Get(ctx, k)
	if err != nil {
		c.logger.Warn("Cache store read failed, treating as miss",
			zap.String("key", k),
			zap.Error(err),
		)
		return nil, false
	}
	return entry, found
}
