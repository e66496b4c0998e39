// ratelimit.go — ограничение частоты запросов по IP клиента (token bucket).
package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apierrors "github.com/bigkaa/goartstore/file-service/internal/api/errors"
)

// limiterIdleTTL — время жизни лимитера клиента без запросов.
const limiterIdleTTL = 5 * time.Minute

type clientLimiter struct {
	limiter *rate.Limiter
	expires time.Time
}

// RateLimiter — набор token bucket лимитеров по IP.
type RateLimiter struct {
	limit  rate.Limit
	burst  int
	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

// NewRateLimiter создаёт лимитер: rps запросов в секунду с всплеском burst.
func NewRateLimiter(rps float64, burst int, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		limit:   rate.Limit(rps),
		burst:   max(burst, 1),
		now:     time.Now,
		logger:  logger.With(slog.String("component", "rate_limit")),
		clients: make(map[string]*clientLimiter),
	}
}

// Middleware возвращает middleware, отвечающий 429 при превышении лимита.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !rl.get(ip).AllowN(rl.now(), 1) {
				rl.logger.Debug("Превышен лимит запросов", slog.String("remote_ip", ip))
				w.Header().Set("Retry-After", "1")
				apierrors.RateLimited(w, "Превышен лимит запросов, повторите позже")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Len — число отслеживаемых клиентов.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

func (rl *RateLimiter) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for k, c := range rl.clients {
		if now.After(c.expires) {
			delete(rl.clients, k)
		}
	}

	if c, ok := rl.clients[key]; ok {
		c.expires = now.Add(limiterIdleTTL)
		return c.limiter
	}
	c := &clientLimiter{
		limiter: rate.NewLimiter(rl.limit, rl.burst),
		expires: now.Add(limiterIdleTTL),
	}
	rl.clients[key] = c
	return c.limiter
}

// clientIP — IP из RemoteAddr без порта.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
