package ratelimit

import (
	"context"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-fence/v1/metrics"
	"github.com/mirkobrombin/go-fence/v1/store"
)

// Prefix namespaces rate-limit keys in the store.
const Prefix = "rate_limit:"

// incrScript increments the counter and starts the window on the call that
// creates it, in one atomic step. An INCR followed by a separate EXPIRE
// could leave an immortal counter if the client died in between.
var incrScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
    redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Limiter is a fixed-window request counter per identifier. The window is
// approximate: a client straddling a boundary can issue up to twice the
// limit in a short span, which is the accepted tradeoff of counting against
// discrete windows instead of a sliding log.
type Limiter struct {
	handle *store.Handle
}

// New returns a Limiter using the provided store handle.
func New(h *store.Handle) *Limiter {
	return &Limiter{handle: h}
}

// CheckAndIncrement counts one request for identifier against a window of
// maxRequests per window duration. The call that finds no live window
// starts one at count 1. The returned count is the position of this call in
// the current window; allowed is count <= maxRequests.
//
// On store failure the error surfaces as-is; security-sensitive callers
// must treat it as a denial (fail closed) rather than a bypass. The
// middleware package does this.
func (l *Limiter) CheckAndIncrement(ctx context.Context, identifier string, maxRequests int64, window time.Duration) (int64, bool, error) {
	key := Prefix + identifier
	res, err := l.handle.Eval(ctx, incrScript, []string{key}, window.Milliseconds())
	if err != nil {
		return 0, false, err
	}
	count, _ := res.(int64)
	allowed := count <= maxRequests
	if allowed {
		metrics.RateLimitAllowed.Inc()
	} else {
		metrics.RateLimitDenied.Inc()
	}
	return count, allowed, nil
}

// Remaining reports how many requests identifier has left in the current
// window, without consuming one. Advisory only.
func (l *Limiter) Remaining(ctx context.Context, identifier string, maxRequests int64) (int64, error) {
	data, ok, err := l.handle.Get(ctx, Prefix+identifier)
	if err != nil {
		return 0, err
	}
	if !ok {
		return maxRequests, nil
	}
	count, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return maxRequests, nil
	}
	if count >= maxRequests {
		return 0, nil
	}
	return maxRequests - count, nil
}

// Reset clears the current window for identifier.
func (l *Limiter) Reset(ctx context.Context, identifier string) error {
	return l.handle.Delete(ctx, Prefix+identifier)
}
