package store

import (
	"context"
	stdErrors "errors"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	fenceerrors "github.com/mirkobrombin/go-fence/v1/errors"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-fence/v1/store")

const defaultOpTimeout = 5 * time.Second

// Handle is the shared client to the coordination store. It wraps a pooled
// go-redis client, so a single Handle can be used concurrently from any
// number of goroutines without external locking; callers coordinate only on
// the named resources it mediates, never on the Handle itself.
type Handle struct {
	client       *redis.Client
	timeout      time.Duration
	traceEnabled bool
}

// Options configures the connection to the store.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Option configures a Handle.
type Option func(*Handle)

// WithTimeout sets the per-operation timeout for store calls.
func WithTimeout(d time.Duration) Option {
	return func(h *Handle) {
		h.timeout = d
	}
}

// WithTracing enables OpenTelemetry spans for store operations.
func WithTracing() Option {
	return func(h *Handle) {
		h.traceEnabled = true
	}
}

// New returns a Handle using the provided Redis client.
func New(client *redis.Client, opts ...Option) *Handle {
	h := &Handle{client: client, timeout: defaultOpTimeout}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Dial connects to the store and verifies the connection with a ping.
func Dial(ctx context.Context, o Options, opts ...Option) (*Handle, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     o.Addr,
		Password: o.Password,
		DB:       o.DB,
	})
	h := New(client, opts...)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, wrapErr(err)
	}
	return h, nil
}

// Client exposes the underlying Redis client for direct operations.
func (h *Handle) Client() *redis.Client {
	return h.client
}

// Close releases the underlying connection pool.
func (h *Handle) Close() error {
	return h.client.Close()
}

// Get retrieves the raw value for a key. The boolean return indicates
// whether the key was present.
func (h *Handle) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, done := h.op(ctx, "Store.Get", key)
	defer done()
	data, err := h.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapErr(err)
	}
	return data, true, nil
}

// SetEx stores a value under key with the given TTL. A non-positive TTL is
// rejected by the store, so every write here expires.
func (h *Handle) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, done := h.op(ctx, "Store.SetEx", key)
	defer done()
	if err := h.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return wrapErr(err)
	}
	return nil
}

// SetNX stores a value under key with the given TTL only if the key is
// absent, reporting whether the write happened.
func (h *Handle) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ctx, done := h.op(ctx, "Store.SetNX", key)
	defer done()
	ok, err := h.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, wrapErr(err)
	}
	return ok, nil
}

// Delete removes a key.
func (h *Handle) Delete(ctx context.Context, key string) error {
	ctx, done := h.op(ctx, "Store.Delete", key)
	defer done()
	if err := h.client.Del(ctx, key).Err(); err != nil {
		return wrapErr(err)
	}
	return nil
}

// Exists reports whether a key is present.
func (h *Handle) Exists(ctx context.Context, key string) (bool, error) {
	ctx, done := h.op(ctx, "Store.Exists", key)
	defer done()
	n, err := h.client.Exists(ctx, key).Result()
	if err != nil {
		return false, wrapErr(err)
	}
	return n > 0, nil
}

// Incr atomically increments the integer value at key and returns the new
// value, creating the key at 1 if absent.
func (h *Handle) Incr(ctx context.Context, key string) (int64, error) {
	ctx, done := h.op(ctx, "Store.Incr", key)
	defer done()
	n, err := h.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, wrapErr(err)
	}
	return n, nil
}

// Expire resets the TTL of a key. It returns false if the key does not exist.
func (h *Handle) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ctx, done := h.op(ctx, "Store.Expire", key)
	defer done()
	ok, err := h.client.PExpire(ctx, key, ttl).Result()
	if err != nil {
		return false, wrapErr(err)
	}
	return ok, nil
}

// Eval runs a server-side script, the store's atomic check-then-mutate
// primitive. The script is loaded once and invoked by hash afterwards.
func (h *Handle) Eval(ctx context.Context, script *redis.Script, keys []string, args ...any) (any, error) {
	ctx, done := h.op(ctx, "Store.Eval", keys[0])
	defer done()
	res, err := script.Run(ctx, h.client, keys, args...).Result()
	if err != nil && err != redis.Nil {
		return nil, wrapErr(err)
	}
	return res, nil
}

// SCard returns the cardinality of the set at key.
func (h *Handle) SCard(ctx context.Context, key string) (int64, error) {
	ctx, done := h.op(ctx, "Store.SCard", key)
	defer done()
	n, err := h.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, wrapErr(err)
	}
	return n, nil
}

// SRem removes a member from the set at key, reporting whether it was present.
func (h *Handle) SRem(ctx context.Context, key, member string) (bool, error) {
	ctx, done := h.op(ctx, "Store.SRem", key)
	defer done()
	n, err := h.client.SRem(ctx, key, member).Result()
	if err != nil {
		return false, wrapErr(err)
	}
	return n == 1, nil
}

// DeletePattern removes every key matching pattern using SCAN and UNLINK,
// returning the number of keys removed. Intended for administrative cleanup,
// not hot paths.
func (h *Handle) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	var removed int64
	iter := h.client.Scan(ctx, 0, pattern, 100).Iterator()
	batch := make([]string, 0, 100)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			n, err := h.client.Unlink(ctx, batch...).Result()
			if err != nil {
				return removed, wrapErr(err)
			}
			removed += n
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return removed, wrapErr(err)
	}
	if len(batch) > 0 {
		n, err := h.client.Unlink(ctx, batch...).Result()
		if err != nil {
			return removed, wrapErr(err)
		}
		removed += n
	}
	return removed, nil
}

// op applies the per-operation timeout and, when enabled, opens a span.
func (h *Handle) op(ctx context.Context, name, key string) (context.Context, func()) {
	cctx, cancel := context.WithTimeout(ctx, h.timeout)
	if !h.traceEnabled {
		return cctx, cancel
	}
	sctx, span := tracer.Start(cctx, name)
	span.SetAttributes(attribute.String("fence.key", key))
	return sctx, func() {
		span.End()
		cancel()
	}
}

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if stdErrors.Is(err, context.Canceled) || stdErrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return stdErrors.Join(fenceerrors.ErrStoreUnavailable, err)
}
