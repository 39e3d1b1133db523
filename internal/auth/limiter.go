package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"simjur/internal/simjur"
)

// visitorTTL is how long an idle client keeps its bucket.
const visitorTTL = 10 * time.Minute

// LoginLimiter rate limits login attempts per client key (usually the IP).
type LoginLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	clock    simjur.Clock
	visitors map[string]*visitor
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLoginLimiter allows perSecond attempts with the given burst per key.
func NewLoginLimiter(perSecond float64, burst int, clock simjur.Clock) *LoginLimiter {
	return &LoginLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		clock:    clock,
		visitors: make(map[string]*visitor),
	}
}

// Allow reports whether key may attempt a login now.
func (l *LoginLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	for k, v := range l.visitors {
		if now.Sub(v.lastSeen) > visitorTTL {
			delete(l.visitors, k)
		}
	}

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}
