package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/mirkobrombin/go-fence/v1/store"
)

// DefaultTTL is applied when Set is called with a non-positive TTL. There is
// no un-expiring write.
const DefaultTTL = time.Hour

// Cache is a typed view over the store handle. Values are encoded with the
// configured Codec and always stored with a TTL.
//
// T represents the type of values stored in the cache.
type Cache[T any] struct {
	handle     *store.Handle
	codec      Codec
	defaultTTL time.Duration
}

// Option configures a Cache.
type Option[T any] func(*Cache[T])

// WithCodec sets the value codec. JSONCodec is the default.
func WithCodec[T any](c Codec) Option[T] {
	return func(ca *Cache[T]) {
		ca.codec = c
	}
}

// WithDefaultTTL sets the TTL used when Set receives a non-positive TTL.
func WithDefaultTTL[T any](d time.Duration) Option[T] {
	return func(ca *Cache[T]) {
		ca.defaultTTL = d
	}
}

// New returns a Cache over the provided store handle.
func New[T any](h *store.Handle, opts ...Option[T]) *Cache[T] {
	c := &Cache[T]{handle: h, codec: JSONCodec{}, defaultTTL: DefaultTTL}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get retrieves the value for the given key. The boolean return indicates
// whether a usable value was found: both an absent key and a stored payload
// that no longer decodes into T count as a miss, never an error, so callers
// tolerate stale or incompatible payloads transparently.
func (c *Cache[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	data, ok, err := c.handle.Get(ctx, key)
	if err != nil {
		return zero, false, err
	}
	if !ok {
		return zero, false, nil
	}
	var v T
	if err := c.codec.Unmarshal(data, &v); err != nil {
		return zero, false, nil
	}
	return v, true, nil
}

// Set stores the value for the given key. A non-positive ttl falls back to
// the cache default. A value that cannot be encoded is a hard error.
func (c *Cache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	data, err := c.codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("fence: encode %q: %w", key, err)
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	return c.handle.SetEx(ctx, key, data, ttl)
}

// Delete removes the key from the cache.
func (c *Cache[T]) Delete(ctx context.Context, key string) error {
	return c.handle.Delete(ctx, key)
}

// Exists reports whether the key is present.
func (c *Cache[T]) Exists(ctx context.Context, key string) (bool, error) {
	return c.handle.Exists(ctx, key)
}

// Incr atomically increments the counter at key and returns the new value.
func (c *Cache[T]) Incr(ctx context.Context, key string) (int64, error) {
	return c.handle.Incr(ctx, key)
}
