package respserver

import (
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/yndnr/seqmesh-go/pkg/cmap"
)

// ipLimiter is one client IP's token bucket.
type ipLimiter struct {
	lim      *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// limiterRegistry rate limits commands per client IP.
type limiterRegistry struct {
	limit    rate.Limit
	burst    int
	limiters *cmap.Map[string, *ipLimiter]
	now      func() time.Time
}

// newLimiterRegistry returns nil when perSecond <= 0, which disables
// limiting.
func newLimiterRegistry(perSecond, burst int) *limiterRegistry {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = perSecond
	}
	return &limiterRegistry{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: cmap.New[string, *ipLimiter](),
		now:      time.Now,
	}
}

// allow reports whether the client at addr may run one more command.
func (r *limiterRegistry) allow(addr net.Addr) bool {
	if r == nil {
		return true
	}

	ip := hostOf(addr)
	l, _ := r.limiters.GetOrSet(ip, &ipLimiter{lim: rate.NewLimiter(r.limit, r.burst)})
	now := r.now()
	l.lastSeen.Store(now.UnixNano())
	return l.lim.AllowN(now, 1)
}

// prune drops limiters idle for longer than idle and returns how many
// were dropped.
func (r *limiterRegistry) prune(idle time.Duration) int {
	if r == nil {
		return 0
	}

	cutoff := r.now().Add(-idle).UnixNano()
	return r.limiters.DeleteFunc(func(_ string, l *ipLimiter) bool {
		return l.lastSeen.Load() < cutoff
	})
}

func hostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
