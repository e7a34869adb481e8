package ingress

import (
	"context"
	"time"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"golang.org/x/time/rate"
)

// NewGlobalLimiter builds a process-wide limiter capping total inbound
// frames per second across every connection, independent of each
// connection's own per-socket limiter.
func NewGlobalLimiter(perSecond int) *limiter.Limiter {
	rt := limiter.Rate{Period: time.Second, Limit: int64(perSecond)}
	return limiter.New(memory.NewStore(), rt)
}

// globalAllow reports whether the process-wide budget has room for one
// more frame, keyed by a constant bucket name since the limit is
// process-global rather than per-client.
func globalAllow(ctx context.Context, l *limiter.Limiter) bool {
	res, err := l.Get(ctx, "global")
	if err != nil {
		return true // fail open: a limiter-store error must not stall trading
	}
	return res.Reached == false
}

// newConnLimiter builds the per-connection token bucket: one session's
// own burst allowance, independent of the global cap.
func newConnLimiter(perSecond int) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(perSecond), perSecond)
}
