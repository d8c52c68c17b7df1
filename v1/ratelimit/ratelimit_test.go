package ratelimit

import (
	"context"
	stdErrors "errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	fenceerrors "github.com/mirkobrombin/go-fence/v1/errors"
	"github.com/mirkobrombin/go-fence/v1/store"
)

func newLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis, context.Context) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return New(store.New(client)), mr, context.Background()
}

func TestFixedWindowCounting(t *testing.T) {
	l, mr, ctx := newLimiter(t)
	const max = 5

	for want := int64(1); want <= max; want++ {
		count, allowed, err := l.CheckAndIncrement(ctx, "client", max, time.Minute)
		if err != nil {
			t.Fatalf("check %d: %v", want, err)
		}
		if count != want || !allowed {
			t.Fatalf("call %d: count %d allowed %v", want, count, allowed)
		}
	}

	count, allowed, err := l.CheckAndIncrement(ctx, "client", max, time.Minute)
	if err != nil {
		t.Fatalf("check over limit: %v", err)
	}
	if count != 6 || allowed {
		t.Fatalf("call 6: count %d allowed %v, want 6 false", count, allowed)
	}

	// A fresh window starts at 1.
	mr.FastForward(61 * time.Second)
	count, allowed, err = l.CheckAndIncrement(ctx, "client", max, time.Minute)
	if err != nil {
		t.Fatalf("check after window: %v", err)
	}
	if count != 1 || !allowed {
		t.Fatalf("first call of new window: count %d allowed %v", count, allowed)
	}
}

func TestIdentifiersAreIndependent(t *testing.T) {
	l, _, ctx := newLimiter(t)

	if _, _, err := l.CheckAndIncrement(ctx, "a", 1, time.Minute); err != nil {
		t.Fatalf("check a: %v", err)
	}
	count, allowed, err := l.CheckAndIncrement(ctx, "b", 1, time.Minute)
	if err != nil || count != 1 || !allowed {
		t.Fatalf("check b: count %d allowed %v err %v", count, allowed, err)
	}
}

func TestRemaining(t *testing.T) {
	l, _, ctx := newLimiter(t)
	const max = 5

	if n, err := l.Remaining(ctx, "client", max); err != nil || n != max {
		t.Fatalf("remaining before any call: %d err %v", n, err)
	}
	for i := 0; i < 3; i++ {
		if _, _, err := l.CheckAndIncrement(ctx, "client", max, time.Minute); err != nil {
			t.Fatalf("check: %v", err)
		}
	}
	if n, err := l.Remaining(ctx, "client", max); err != nil || n != 2 {
		t.Fatalf("remaining after 3 calls: %d err %v", n, err)
	}
	for i := 0; i < 4; i++ {
		_, _, _ = l.CheckAndIncrement(ctx, "client", max, time.Minute)
	}
	if n, err := l.Remaining(ctx, "client", max); err != nil || n != 0 {
		t.Fatalf("remaining past the limit should floor at 0: %d err %v", n, err)
	}
}

func TestReset(t *testing.T) {
	l, _, ctx := newLimiter(t)

	for i := 0; i < 3; i++ {
		_, _, _ = l.CheckAndIncrement(ctx, "client", 5, time.Minute)
	}
	if err := l.Reset(ctx, "client"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	count, _, err := l.CheckAndIncrement(ctx, "client", 5, time.Minute)
	if err != nil || count != 1 {
		t.Fatalf("count after reset: %d err %v", count, err)
	}
}

func TestStoreUnavailableSurfaces(t *testing.T) {
	l, mr, ctx := newLimiter(t)
	mr.Close()

	_, allowed, err := l.CheckAndIncrement(ctx, "client", 5, time.Minute)
	if !stdErrors.Is(err, fenceerrors.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if allowed {
		t.Fatal("a failed check must never report allowed")
	}
}
