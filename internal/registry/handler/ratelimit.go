package handler

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/LightHostingFree/sslgen/internal/identity"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type keyedLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const (
	sweepEvery = 5 * time.Minute
	idleAfter  = 10 * time.Minute
)

// limiterSet hands out one token bucket per key. Entries idle for more than
// idleAfter are dropped by a sweep that runs inside allow at most once per
// sweepEvery, so a set owns no goroutine.
type limiterSet struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	limiters  map[string]*keyedLimiter
	lastSweep time.Time
	now       func() time.Time
}

func newLimiterSet(limit rate.Limit, burst int) *limiterSet {
	return &limiterSet{
		limit:     limit,
		burst:     burst,
		limiters:  make(map[string]*keyedLimiter),
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (s *limiterSet) allow(key string) bool {
	s.mu.Lock()
	now := s.now()
	if now.Sub(s.lastSweep) >= sweepEvery {
		s.sweep(now)
	}
	l, ok := s.limiters[key]
	if !ok {
		l = &keyedLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.limiters[key] = l
	}
	l.lastSeen = now
	s.mu.Unlock()
	return l.limiter.AllowN(now, 1)
}

// sweep must be called with s.mu held.
func (s *limiterSet) sweep(now time.Time) {
	s.lastSweep = now
	for key, l := range s.limiters {
		if now.Sub(l.lastSeen) > idleAfter {
			delete(s.limiters, key)
		}
	}
}

func tooMany(c *gin.Context, retryAfter string) {
	c.Header("Retry-After", retryAfter)
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
}

// RateLimiter returns a Gin middleware that enforces per-IP token-bucket
// rate limiting. rps is the steady-state requests per second; burst is the
// maximum burst size.
func RateLimiter(rps, burst int) gin.HandlerFunc {
	set := newLimiterSet(rate.Limit(rps), burst)
	return func(c *gin.Context) {
		if !set.allow(c.ClientIP()) {
			tooMany(c, "1")
			return
		}
		c.Next()
	}
}

// IssueLimiter limits issuance attempts per owner: burst attempts at once,
// then one per interval. Must run after identity.RequireOwner.
func IssueLimiter(interval time.Duration, burst int) gin.HandlerFunc {
	set := newLimiterSet(rate.Every(interval), burst)
	retryAfter := formatSeconds(interval)
	return func(c *gin.Context) {
		claims := identity.OwnerFromCtx(c)
		if claims == nil {
			c.Next()
			return
		}
		if !set.allow(claims.OwnerID()) {
			tooMany(c, retryAfter)
			return
		}
		c.Next()
	}
}

func formatSeconds(d time.Duration) string {
	s := int(d.Round(time.Second) / time.Second)
	if s < 1 {
		s = 1
	}
	return strconv.Itoa(s)
}
