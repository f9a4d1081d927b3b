package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/zhouzirui/claudio/backend/pkg/utils"
)

const limiterIdleTTL = 10 * time.Minute

// RateLimiter 按客户端 IP 限制触发补全请求的频率。
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu         sync.Mutex
	limiters   map[string]*rate.Limiter
	lastAccess map[string]time.Time
	lastSweep  time.Time
	now        func() time.Time
}

// NewRateLimiter 创建限流器。perMinute <= 0 时返回 nil，表示不限流。
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limit:      rate.Every(time.Minute / time.Duration(perMinute)),
		burst:      burst,
		limiters:   make(map[string]*rate.Limiter),
		lastAccess: make(map[string]time.Time),
		now:        time.Now,
	}
}

// Allow 判断 key 当前是否还有配额。
func (l *RateLimiter) Allow(key string) bool {
	return l.limiterFor(key).AllowN(l.now(), 1)
}

func (l *RateLimiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > limiterIdleTTL {
		for k, seen := range l.lastAccess {
			if now.Sub(seen) > limiterIdleTTL {
				delete(l.limiters, k)
				delete(l.lastAccess, k)
			}
		}
		l.lastSweep = now
	}

	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = limiter
	}
	l.lastAccess[key] = now
	return limiter
}

// Middleware 超出配额时返回 429。nil 限流器直接放行。
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientKey(r)) {
			w.Header().Set("Retry-After", "60")
			utils.RespondError(w, http.StatusTooManyRequests, "Too many requests. Please wait before trying again.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey 取 RemoteAddr 的主机部分；RealIP 中间件已按代理头改写 RemoteAddr。
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
