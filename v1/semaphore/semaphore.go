package semaphore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	uuid "github.com/hashicorp/go-uuid"
	redis "github.com/redis/go-redis/v9"

	fenceerrors "github.com/mirkobrombin/go-fence/v1/errors"
	"github.com/mirkobrombin/go-fence/v1/metrics"
	"github.com/mirkobrombin/go-fence/v1/store"
)

// Prefix namespaces semaphore keys in the store.
const Prefix = "semaphore:"

// Defaults for acquisition, shared with the lock package by convention.
const (
	DefaultTTL        = 30 * time.Second
	DefaultMaxRetries = 10
	DefaultRetryDelay = 100 * time.Millisecond
)

// acquireScript checks the permit count and inserts the new token in one
// atomic step. Two concurrent acquirers can therefore never both observe
// count < max and overshoot the bound. The whole-set TTL is refreshed on
// every successful acquisition; see the package doc for the consequence.
var acquireScript = redis.NewScript(`
local current = redis.call("SCARD", KEYS[1])
if current < tonumber(ARGV[1]) then
    local added = redis.call("SADD", KEYS[1], ARGV[2])
    if added == 1 then
        redis.call("PEXPIRE", KEYS[1], ARGV[3])
        return current + 1
    end
end
return -1
`)

// Options configures acquisition behaviour for a Semaphore.
type Options struct {
	// TTL is the whole permit set's lifetime, refreshed on every
	// successful acquisition.
	TTL time.Duration
	// MaxRetries is how many additional attempts follow a contended first one.
	MaxRetries int
	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	return o
}

// Semaphore hands out bounded sets of interchangeable permits for named
// resources. Like the lock, all correctness lives in the store's per-key
// script serialization; the Semaphore keeps no local ownership state.
type Semaphore struct {
	handle *store.Handle
	opts   Options
}

// New returns a Semaphore using the provided store handle. Zero fields in
// opts fall back to the package defaults.
func New(h *store.Handle, opts Options) *Semaphore {
	return &Semaphore{handle: h, opts: opts.withDefaults()}
}

// Acquire obtains one of maxPermits permits for resource, retrying on
// contention per the Semaphore options. Store failures surface immediately;
// exhausting the retries returns an error wrapping
// errors.ErrContentionTimeout.
func (s *Semaphore) Acquire(ctx context.Context, resource string, maxPermits int64) (*Permit, error) {
	return s.AcquireWithOptions(ctx, resource, maxPermits, s.opts)
}

// AcquireWithOptions is Acquire with per-call options.
func (s *Semaphore) AcquireWithOptions(ctx context.Context, resource string, maxPermits int64, opts Options) (*Permit, error) {
	opts = opts.withDefaults()
	key := Prefix + resource

	for attempt := 0; ; attempt++ {
		p, err := s.tryOnce(ctx, key, maxPermits, opts.TTL)
		if err != nil {
			return nil, err
		}
		if p != nil {
			metrics.SemaphoreAcquired.Inc()
			slog.Debug("fence: semaphore permit acquired", "resource", resource, "token", p.token)
			return p, nil
		}
		metrics.SemaphoreContended.Inc()
		if attempt >= opts.MaxRetries {
			break
		}
		select {
		case <-time.After(opts.RetryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	slog.Warn("fence: semaphore acquisition retries exhausted", "resource", resource, "retries", opts.MaxRetries)
	return nil, fmt.Errorf("acquire semaphore %q: %w", resource, fenceerrors.ErrContentionTimeout)
}

// TryAcquire makes a single attempt and returns (nil, nil) when all permits
// are taken.
func (s *Semaphore) TryAcquire(ctx context.Context, resource string, maxPermits int64) (*Permit, error) {
	p, err := s.tryOnce(ctx, Prefix+resource, maxPermits, s.opts.TTL)
	if err != nil {
		return nil, err
	}
	if p != nil {
		metrics.SemaphoreAcquired.Inc()
	}
	return p, nil
}

func (s *Semaphore) tryOnce(ctx context.Context, key string, maxPermits int64, ttl time.Duration) (*Permit, error) {
	token, err := uuid.GenerateUUID()
	if err != nil {
		return nil, err
	}
	res, err := s.handle.Eval(ctx, acquireScript, []string{key}, maxPermits, token, ttl.Milliseconds())
	if err != nil {
		return nil, err
	}
	n, ok := res.(int64)
	if !ok || n < 0 {
		return nil, nil
	}
	return &Permit{handle: s.handle, key: key, token: token}, nil
}

// Count returns the number of permits currently held for resource. The
// snapshot is advisory only: it can be stale the instant this returns, so it
// must never gate an acquisition decision.
func (s *Semaphore) Count(ctx context.Context, resource string) (int64, error) {
	return s.handle.SCard(ctx, Prefix+resource)
}

// With acquires a permit, runs fn, and releases on every exit path,
// including a panic in fn.
func (s *Semaphore) With(ctx context.Context, resource string, maxPermits int64, fn func(ctx context.Context) error) error {
	p, err := s.Acquire(ctx, resource, maxPermits)
	if err != nil {
		return err
	}
	defer p.mustRelease(ctx)
	return fn(ctx)
}
