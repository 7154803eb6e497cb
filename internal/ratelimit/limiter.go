package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Bucket defines rate limit parameters.
type Bucket struct {
	MaxRequests int
	Window      time.Duration
}

// DefaultBuckets are the per-IP limits for each endpoint group.
var DefaultBuckets = map[string]Bucket{
	"predict": {MaxRequests: 120, Window: time.Minute},
	"analyze": {MaxRequests: 60, Window: time.Minute},
	"explain": {MaxRequests: 10, Window: time.Minute},
	"api":     {MaxRequests: 60, Window: time.Minute},
}

var fallbackBucket = Bucket{MaxRequests: 60, Window: time.Minute}

// Limiter is an in-memory sliding-window rate limiter per key.
type Limiter struct {
	mu      sync.Mutex
	hits    map[string][]time.Time
	buckets map[string]Bucket
	now     func() time.Time
}

// New creates a limiter over DefaultBuckets.
func New() *Limiter {
	return NewWithBuckets(DefaultBuckets)
}

// NewWithBuckets creates a limiter over a private copy of buckets.
func NewWithBuckets(buckets map[string]Bucket) *Limiter {
	b := make(map[string]Bucket, len(buckets))
	for k, v := range buckets {
		b[k] = v
	}
	return &Limiter{hits: make(map[string][]time.Time), buckets: b, now: time.Now}
}

// Allow reports whether a request identified by key fits in bucket, and
// records it if so.
func (l *Limiter) Allow(key string, bucket Bucket) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	pruned := prune(l.hits[key], now.Add(-bucket.Window))

	if len(pruned) >= bucket.MaxRequests {
		l.hits[key] = pruned
		return false
	}

	l.hits[key] = append(pruned, now)
	return true
}

func prune(times []time.Time, cutoff time.Time) []time.Time {
	pruned := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}
	return pruned
}

// Sweep drops keys with no hits inside the longest bucket window.
func (l *Limiter) Sweep() int {
	var longest time.Duration
	for _, b := range l.buckets {
		longest = max(longest, b.Window)
	}
	longest = max(longest, fallbackBucket.Window)

	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-longest)
	removed := 0
	for key, times := range l.hits {
		if len(prune(times, cutoff)) == 0 {
			delete(l.hits, key)
			removed++
		}
	}
	return removed
}

// CleanupLoop sweeps idle keys every minute until ctx is cancelled.
func (l *Limiter) CleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// Check writes a 429 response and returns true if the client IP is over
// the named bucket's limit.
func (l *Limiter) Check(w http.ResponseWriter, r *http.Request, bucketName string) bool {
	bucket, ok := l.buckets[bucketName]
	if !ok {
		bucket = fallbackBucket
	}

	if l.Allow(bucketName+":"+clientIP(r), bucket) {
		return false
	}

	retry := strconv.Itoa(int(bucket.Window.Seconds()))
	w.Header().Set("Retry-After", retry)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(`{"error":"Rate limited","retry_after_seconds":` + retry + `}`))
	return true
}

// Middleware applies the named bucket to every request through it.
func (l *Limiter) Middleware(bucketName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l.Check(w, r, bucketName) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP strips the port from RemoteAddr, which chi's RealIP middleware
// has already rewritten from proxy headers.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
