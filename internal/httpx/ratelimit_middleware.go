package httpx

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimitConfig configures NewRateLimitMiddleware.
type RateLimitConfig struct {
	// RPS and Burst apply to each client separately.
	RPS   float64
	Burst int

	// Idle is how long an unseen client is remembered. Defaults to 5 minutes.
	Idle time.Duration

	// Logger receives one warning per rejected request. Nil disables it.
	Logger *zap.Logger

	// Rejected is incremented for every rejected request. May be nil.
	Rejected prometheus.Counter
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware limits requests per client host.
type RateLimitMiddleware struct {
	cfg     RateLimitConfig
	logger  *zap.Logger
	mu      sync.Mutex
	clients map[string]*client
}

// NewRateLimitMiddleware creates the limiter. Idle clients are swept until ctx is done.
func NewRateLimitMiddleware(ctx context.Context, cfg RateLimitConfig) *RateLimitMiddleware {
	if cfg.Idle <= 0 {
		cfg.Idle = 5 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	rl := &RateLimitMiddleware{
		cfg:     cfg,
		logger:  logger.Named("ratelimit"),
		clients: make(map[string]*client),
	}
	go rl.sweepLoop(ctx)
	return rl
}

func (rl *RateLimitMiddleware) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(rl.cfg.Idle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rl.sweep(now)
		}
	}
}

// sweep forgets clients not seen within the idle period before now.
func (rl *RateLimitMiddleware) sweep(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	var n int
	for key, c := range rl.clients {
		if now.Sub(c.lastSeen) > rl.cfg.Idle {
			delete(rl.clients, key)
			n++
		}
	}
	return n
}

func (rl *RateLimitMiddleware) limiter(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rate.Limit(rl.cfg.RPS), rl.cfg.Burst)}
		rl.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter
}

func (rl *RateLimitMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		key := clientKey(r)

		res := rl.limiter(key, now).ReserveN(now, 1)
		if res.OK() && res.DelayFrom(now) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := time.Second
		if res.OK() {
			retryAfter = res.DelayFrom(now)
			res.CancelAt(now)
		}

		if rl.cfg.Rejected != nil {
			rl.cfg.Rejected.Inc()
		}
		rl.logger.Warn("rate limit exceeded",
			zap.String("client", key),
			zap.String("path", r.URL.Path),
			zap.String("request_id", RequestIDFrom(r)),
		)

		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
		JSONError(w, r, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Too many requests", nil)
	})
}

// clientKey is the first X-Forwarded-For address, or the host part of RemoteAddr.
func clientKey(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
