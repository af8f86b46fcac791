package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/solarops/activity/pkg/errors"
	"github.com/solarops/activity/pkg/response"
)

// RateLimit limits requests per (user or client IP, route) within a fixed window. Counters
// live in process memory.
func RateLimit(maxRequests int, window time.Duration) gin.HandlerFunc {
	if maxRequests <= 0 || window <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	limiter := &windowLimiter{data: make(map[string]*windowCounter), now: time.Now}

	return func(c *gin.Context) {
		subject := c.ClientIP()
		if identity, ok := IdentityFrom(c); ok {
			subject = identity.UserID
		}

		count, windowEnd := limiter.increment(subject+"|"+c.FullPath(), window)
		remaining := maxRequests - count
		if remaining < 0 {
			remaining = 0
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(time.Until(windowEnd).Seconds())))

		if count > maxRequests {
			response.Error(c, errors.ErrRateLimited)
			c.Abort()
			return
		}
		c.Next()
	}
}

type windowCounter struct {
	count     int
	windowEnd time.Time
}

type windowLimiter struct {
	mu   sync.Mutex
	data map[string]*windowCounter
	now  func() time.Time
}

// increment bumps the counter for key and drops expired counters on the way.
func (l *windowLimiter) increment(key string, window time.Duration) (int, time.Time) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for k, v := range l.data {
		if now.After(v.windowEnd) {
			delete(l.data, k)
		}
	}

	counter, ok := l.data[key]
	if !ok {
		counter = &windowCounter{windowEnd: now.Add(window)}
		l.data[key] = counter
	}
	counter.count++
	return counter.count, counter.windowEnd
}
