// Package quota tracks the shared upstream request budget.
package quota

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrQuotaExceeded is returned when the budget for the current window is spent.
var ErrQuotaExceeded = errors.New("quota exceeded")

// Config sets the budget.
type Config struct {
	Limit  int           `yaml:"limit" json:"limit"`
	Window time.Duration `yaml:"window" json:"window"`
}

// DefaultConfig returns 100 requests per 24 hours.
func DefaultConfig() Config {
	return Config{Limit: 100, Window: 24 * time.Hour}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Limit <= 0 {
		c.Limit = def.Limit
	}
	if c.Window <= 0 {
		c.Window = def.Window
	}
	return c
}

// Status is a snapshot of the budget.
type Status struct {
	RequestsUsed      int       `json:"requests_used"`
	RequestsRemaining int       `json:"requests_remaining"`
	Limit             int       `json:"limit"`
	ResetAt           time.Time `json:"reset_at"`
}

func newStatus(used, limit int, resetAt time.Time) Status {
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return Status{
		RequestsUsed:      used,
		RequestsRemaining: remaining,
		Limit:             limit,
		ResetAt:           resetAt,
	}
}

// Tracker consumes and reports the budget. A failed Acquire consumes nothing.
type Tracker interface {
	Acquire(ctx context.Context) (Status, error)
	Status(ctx context.Context) (Status, error)
}

// MemoryTracker is a fixed-window tracker for a single process.
type MemoryTracker struct {
	mu      sync.Mutex
	config  Config
	now     func() time.Time
	used    int
	resetAt time.Time
}

// NewMemoryTracker creates an in-process tracker. A nil clock uses time.Now.
func NewMemoryTracker(cfg Config, clock func() time.Time) *MemoryTracker {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryTracker{config: cfg.withDefaults(), now: clock}
}

// Acquire consumes one request.
func (t *MemoryTracker) Acquire(_ context.Context) (Status, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.roll(now)
	if t.used >= t.config.Limit {
		return newStatus(t.used, t.config.Limit, t.resetAt), ErrQuotaExceeded
	}
	if t.used == 0 {
		t.resetAt = now.Add(t.config.Window)
	}
	t.used++
	return newStatus(t.used, t.config.Limit, t.resetAt), nil
}

// Status reports the budget without consuming.
func (t *MemoryTracker) Status(_ context.Context) (Status, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.roll(now)
	resetAt := t.resetAt
	if t.used == 0 {
		resetAt = now.Add(t.config.Window)
	}
	return newStatus(t.used, t.config.Limit, resetAt), nil
}

func (t *MemoryTracker) roll(now time.Time) {
	if t.used > 0 && !now.Before(t.resetAt) {
		t.used = 0
		t.resetAt = time.Time{}
	}
}
