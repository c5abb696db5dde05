package api

import (
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apperrors "github.com/Aidin1998/padcheck/pkg/errors"
)

const claimsKey = "padcheck.claims"

// ipLimiter keeps one token bucket per client IP. Idle buckets are
// dropped on a sweep.
type ipLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets map[string]*bucket
	swept   time.Time
}

type bucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

func newIPLimiter(perSecond float64, burst int) *ipLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &ipLimiter{limit: rate.Limit(perSecond), burst: burst, buckets: map[string]*bucket{}, swept: time.Now()}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.swept) > 10*time.Minute {
		for k, b := range l.buckets {
			if now.Sub(b.seen) > 10*time.Minute {
				delete(l.buckets, k)
			}
		}
		l.swept = now
	}
	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[ip] = b
	}
	b.seen = now
	return b.limiter.Allow()
}

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter != nil && !s.limiter.allow(c.ClientIP()) {
			s.problem(c, apperrors.NewRateLimitError("too many evaluation requests", c.Request.URL.Path))
			return
		}
		c.Next()
	}
}

// requireRole checks the bearer token and stores its claims.
func (s *Server) requireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			s.problem(c, apperrors.NewUnauthorizedError("bearer token required", c.Request.URL.Path))
			return
		}
		claims, err := s.deps.Verifier.Verify(strings.TrimSpace(token), role)
		if err != nil {
			s.logger.Warn("Rejected rules admin token", zap.String("path", c.Request.URL.Path), zap.Error(err))
			s.problem(c, apperrors.NewUnauthorizedError("token rejected", c.Request.URL.Path))
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}
