package api

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lvonguyen/threatpulse/internal/config"
)

// idleClientTTL is how long a client's bucket is kept after its last request.
const idleClientTTL = 10 * time.Minute

// RateLimiter provides per-client request limiting for the API. Each client
// gets a token bucket refilled at RequestsPerMinute.
type RateLimiter struct {
	config  config.RateLimitConfig
	logger  *zap.Logger
	clients *gocache.Cache
	now     func() time.Time
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed    bool
	Remaining  int
	Limit      int
	RetryAfter time.Duration
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg config.RateLimitConfig, logger *zap.Logger) *RateLimiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 30
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		config:  cfg,
		logger:  logger,
		clients: gocache.New(idleClientTTL, 2*idleClientTTL),
		now:     time.Now,
	}
}

func (rl *RateLimiter) limiter(clientID string) *rate.Limiter {
	if v, ok := rl.clients.Get(clientID); ok {
		lim := v.(*rate.Limiter)
		rl.clients.SetDefault(clientID, lim)
		return lim
	}
	lim := rate.NewLimiter(rate.Limit(float64(rl.config.RequestsPerMinute)/60), rl.config.BurstSize)
	if err := rl.clients.Add(clientID, lim, gocache.DefaultExpiration); err != nil {
		// Another request registered the client first.
		if v, ok := rl.clients.Get(clientID); ok {
			return v.(*rate.Limiter)
		}
	}
	return lim
}

// Check consumes one request for clientID.
func (rl *RateLimiter) Check(clientID string) RateLimitResult {
	now := rl.now()
	lim := rl.limiter(clientID)

	res := RateLimitResult{Limit: rl.config.BurstSize}
	r := lim.ReserveN(now, 1)
	if delay := r.DelayFrom(now); !r.OK() || delay > 0 {
		r.CancelAt(now)
		res.RetryAfter = delay
		return res
	}

	res.Allowed = true
	res.Remaining = int(math.Max(0, math.Floor(lim.TokensAt(now))))
	return res
}

// Middleware returns an HTTP middleware for rate limiting
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := clientIP(r)
		result := rl.Check(clientID)

		if rl.config.IncludeHeaders {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		}

		if !result.Allowed {
			retry := int(math.Ceil(result.RetryAfter.Seconds()))
			rl.logger.Debug("Client rate limited",
				zap.String("client", clientID),
				zap.Int("retry_after", retry),
			)
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			writeJSON(w, http.StatusTooManyRequests, errorBody{
				Error:      fmt.Sprintf("rate limit of %d requests per minute exceeded", rl.config.RequestsPerMinute),
				RetryAfter: retry,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP returns the host part of RemoteAddr, which the RealIP middleware
// has already resolved from forwarding headers.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
