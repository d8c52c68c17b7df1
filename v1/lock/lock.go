package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	fenceerrors "github.com/mirkobrombin/go-fence/v1/errors"
	"github.com/mirkobrombin/go-fence/v1/metrics"
	"github.com/mirkobrombin/go-fence/v1/store"
)

// Prefix namespaces lock keys in the store.
const Prefix = "lock:"

// Defaults for acquisition. The TTL bounds how long a crashed holder can
// block others.
const (
	DefaultTTL        = 30 * time.Second
	DefaultMaxRetries = 10
	DefaultRetryDelay = 100 * time.Millisecond
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
    return 0
end
`)

// Options configures acquisition behaviour for a Locker.
type Options struct {
	// TTL is the lock lifetime set on every acquisition attempt.
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

// Locker hands out named mutual-exclusion locks backed by the store. The
// store's per-key serialization of SET NX and of the release/extend scripts
// is the only synchronization point; the Locker itself holds no local state
// about who owns what.
type Locker struct {
	handle *store.Handle
	opts   Options
}

// New returns a Locker using the provided store handle. Zero fields in opts
// fall back to the package defaults.
func New(h *store.Handle, opts Options) *Locker {
	return &Locker{handle: h, opts: opts.withDefaults()}
}

// Acquire obtains the lock for resource, retrying on contention per the
// Locker options. It returns a Guard on success. Store failures surface
// immediately and are never retried; exhausting the retries returns an error
// wrapping errors.ErrContentionTimeout.
func (l *Locker) Acquire(ctx context.Context, resource string) (*Guard, error) {
	return l.AcquireWithOptions(ctx, resource, l.opts)
}

// AcquireWithOptions is Acquire with per-call options.
func (l *Locker) AcquireWithOptions(ctx context.Context, resource string, opts Options) (*Guard, error) {
	opts = opts.withDefaults()
	key := Prefix + resource

	for attempt := 0; ; attempt++ {
		// A fresh token per attempt: tokens prove ownership, so they must
		// never be reused across acquisitions.
		token := uuid.NewString()
		ok, err := l.handle.SetNX(ctx, key, []byte(token), opts.TTL)
		if err != nil {
			return nil, err
		}
		if ok {
			metrics.LockAcquired.Inc()
			slog.Debug("fence: lock acquired", "resource", resource, "token", token)
			return &Guard{handle: l.handle, key: key, token: token}, nil
		}
		metrics.LockContended.Inc()
		if attempt >= opts.MaxRetries {
			break
		}
		select {
		case <-time.After(opts.RetryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	slog.Warn("fence: lock acquisition retries exhausted", "resource", resource, "retries", opts.MaxRetries)
	return nil, fmt.Errorf("acquire lock %q: %w", resource, fenceerrors.ErrContentionTimeout)
}

// TryAcquire makes a single attempt and returns (nil, nil) if the lock is
// held elsewhere.
func (l *Locker) TryAcquire(ctx context.Context, resource string) (*Guard, error) {
	key := Prefix + resource
	token := uuid.NewString()
	ok, err := l.handle.SetNX(ctx, key, []byte(token), l.opts.TTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	metrics.LockAcquired.Inc()
	return &Guard{handle: l.handle, key: key, token: token}, nil
}

// IsLocked reports whether the resource is currently held by anyone. The
// answer is advisory: it can change the instant this returns.
func (l *Locker) IsLocked(ctx context.Context, resource string) (bool, error) {
	return l.handle.Exists(ctx, Prefix+resource)
}

// With acquires the lock, runs fn, and releases on every exit path,
// including a panic in fn. This is the scoped form callers should prefer; a
// caller that manages a Guard by hand and crashes before releasing leaks the
// lock until its TTL expires.
func (l *Locker) With(ctx context.Context, resource string, fn func(ctx context.Context) error) error {
	g, err := l.Acquire(ctx, resource)
	if err != nil {
		return err
	}
	defer g.mustRelease(ctx)
	return fn(ctx)
}
