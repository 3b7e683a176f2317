package middleware

import (
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nivelo/matrix-backend/internal/db"
)

// RateLimit caps requests per client IP inside a fixed window. The scope
// string keeps separate counters for separate route groups, so hammering the
// auth endpoints cannot starve the API ones.
func RateLimit(redis *db.RedisDB, scope string, limit int, window time.Duration) gin.HandlerFunc {
	fallback := newLocalCounter(window)

	return func(c *gin.Context) {
		key := fmt.Sprintf("%s:%s", scope, c.ClientIP())

		var count int64
		if redis != nil {
			n, err := redis.IncrWindow(c.Request.Context(), key, window)
			if err != nil {
				// Redis being down should degrade, not open the gate.
				log.Printf("⚠️ [RateLimit] Redis error, using local counter: %v", err)
				count = fallback.incr(key)
			} else {
				count = n
			}
		} else {
			count = fallback.incr(key)
		}

		if count > int64(limit) {
			c.Header("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// localCounter is the in-process fallback. Entries reset when their window
// lapses and the map is swept on each tick, so it stays bounded.
type localCounter struct {
	mu      sync.Mutex
	window  time.Duration
	buckets map[string]*localBucket
	swept   time.Time
}

type localBucket struct {
	count int64
	reset time.Time
}

func newLocalCounter(window time.Duration) *localCounter {
	return &localCounter{
		window:  window,
		buckets: make(map[string]*localBucket),
		swept:   time.Now(),
	}
}

func (l *localCounter) incr(key string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.swept) > l.window {
		for k, b := range l.buckets {
			if now.After(b.reset) {
				delete(l.buckets, k)
			}
		}
		l.swept = now
	}

	b, ok := l.buckets[key]
	if !ok || now.After(b.reset) {
		b = &localBucket{reset: now.Add(l.window)}
		l.buckets[key] = b
	}
	b.count++
	return b.count
}
