package middleware

import (
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/opscope/opscope/internal/pkg/apperrors"
	"golang.org/x/time/rate"
)

// SearchRateLimiter bounds expensive multi-day and full-text searches per
// client IP. Cheap endpoints are not limited; scan cost is the resource being
// protected here, not bandwidth.
type SearchRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func NewSearchRateLimiter(rps float64, burst int) *SearchRateLimiter {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &SearchRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (l *SearchRateLimiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.rps, l.burst)
		l.limiters[key] = limiter
	}
	return limiter
}

func (l *SearchRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.limiterFor(c.ClientIP()).Allow() {
			c.Error(apperrors.New(apperrors.ErrRateLimited, "search rate limit exceeded", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}
