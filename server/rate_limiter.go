package server

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL     = 10 * time.Minute
	limiterMaxVisitors = 10000
)

// ipRateLimiter keeps one token bucket per source IP. Idle buckets are
// dropped while handling later requests, and at most maxVisitors buckets
// are kept: a new IP evicts the least recently seen one.
type ipRateLimiter struct {
	mu          sync.Mutex
	perMinute   int
	burst       int
	maxVisitors int
	now         func() time.Time
	visitors    map[string]*visitor
	lastPrune   time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newIPRateLimiter returns a limiter allowing perMinute requests per IP with
// the given burst; perMinute <= 0 disables limiting.
func newIPRateLimiter(perMinute, burst int, now func() time.Time) *ipRateLimiter {
	if now == nil {
		now = time.Now
	}
	return &ipRateLimiter{
		perMinute:   perMinute,
		burst:       burst,
		maxVisitors: limiterMaxVisitors,
		now:         now,
		visitors:    make(map[string]*visitor),
	}
}

func (l *ipRateLimiter) Allow(ip string) bool {
	if l == nil || l.perMinute <= 0 {
		return true
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastPrune) > limiterIdleTTL {
		for key, v := range l.visitors {
			if now.Sub(v.lastSeen) > limiterIdleTTL {
				delete(l.visitors, key)
			}
		}
		l.lastPrune = now
	}

	v, ok := l.visitors[ip]
	if !ok {
		if len(l.visitors) >= l.maxVisitors {
			l.evictOldest()
		}
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(float64(l.perMinute)/60), l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (l *ipRateLimiter) evictOldest() {
	var (
		oldestIP string
		oldest   time.Time
		found    bool
	)
	for ip, v := range l.visitors {
		if !found || v.lastSeen.Before(oldest) {
			oldestIP, oldest, found = ip, v.lastSeen, true
		}
	}
	if found {
		delete(l.visitors, oldestIP)
	}
}

// RetryAfterSeconds is how long one token takes to refill
func (l *ipRateLimiter) RetryAfterSeconds() int {
	if l == nil || l.perMinute <= 0 {
		return 0
	}
	return int(math.Ceil(60 / float64(l.perMinute)))
}

func (l *ipRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}
