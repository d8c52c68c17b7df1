package semaphore

import (
	"context"
	stdErrors "errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	fenceerrors "github.com/mirkobrombin/go-fence/v1/errors"
	"github.com/mirkobrombin/go-fence/v1/store"
)

func newSemaphore(t *testing.T, opts Options) (*Semaphore, *miniredis.Miniredis, context.Context) {
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
	return New(store.New(client), opts), mr, context.Background()
}

func TestBoundedConcurrency(t *testing.T) {
	s, _, ctx := newSemaphore(t, Options{})
	const k = 3

	permits := make([]*Permit, 0, k)
	for i := 0; i < k; i++ {
		p, err := s.Acquire(ctx, "res", k)
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		permits = append(permits, p)
	}
	if n, _ := s.Count(ctx, "res"); n != k {
		t.Fatalf("count: got %d want %d", n, k)
	}

	// The k+1-th acquisition must fail while all permits are taken.
	if p, err := s.TryAcquire(ctx, "res", k); err != nil || p != nil {
		t.Fatalf("expected contention, permit %v err %v", p, err)
	}

	// And succeed as soon as any one permit is released.
	if err := permits[1].Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	p, err := s.TryAcquire(ctx, "res", k)
	if err != nil || p == nil {
		t.Fatalf("expected acquisition after release, permit %v err %v", p, err)
	}

	for _, q := range []*Permit{permits[0], permits[2], p} {
		_ = q.Release(ctx)
	}
	if n, _ := s.Count(ctx, "res"); n != 0 {
		t.Fatalf("count after full release: got %d want 0", n)
	}
}

func TestBoundHoldsUnderConcurrentAcquirers(t *testing.T) {
	s, _, ctx := newSemaphore(t, Options{})
	const k, n = 4, 32

	results := make(chan *Permit, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			p, err := s.TryAcquire(ctx, "res", k)
			if err != nil {
				return err
			}
			results <- p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent tryacquire: %v", err)
	}
	close(results)

	won := 0
	for p := range results {
		if p != nil {
			won++
		}
	}
	if won != k {
		t.Fatalf("expected exactly %d permits issued, got %d", k, won)
	}
	if count, _ := s.Count(ctx, "res"); count != k {
		t.Fatalf("store count: got %d want %d", count, k)
	}
}

func TestAcquireRetriesUntilRelease(t *testing.T) {
	s, _, ctx := newSemaphore(t, Options{MaxRetries: 50, RetryDelay: 5 * time.Millisecond})

	p1, err := s.Acquire(ctx, "res", 1)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		p2, err := s.Acquire(ctx, "res", 1)
		if err == nil {
			_ = p2.Release(ctx)
		}
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := p1.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("blocked acquire: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked acquire never completed")
	}
}

func TestContentionTimeout(t *testing.T) {
	s, _, ctx := newSemaphore(t, Options{MaxRetries: 2, RetryDelay: 5 * time.Millisecond})

	p, err := s.Acquire(ctx, "res", 1)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer p.Release(ctx)

	_, err = s.Acquire(ctx, "res", 1)
	if !stdErrors.Is(err, fenceerrors.ErrContentionTimeout) {
		t.Fatalf("expected ErrContentionTimeout, got %v", err)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	s, _, ctx := newSemaphore(t, Options{})

	p, err := s.Acquire(ctx, "res", 2)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := p.Release(ctx); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if err := p.Release(ctx); err != nil {
		t.Fatalf("second release should be a no-op: %v", err)
	}
	if n, _ := s.Count(ctx, "res"); n != 0 {
		t.Fatalf("count: got %d want 0", n)
	}
}

func TestWholeSetExpiry(t *testing.T) {
	s, mr, ctx := newSemaphore(t, Options{TTL: time.Second})

	if _, err := s.Acquire(ctx, "res", 1); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	// The holder crashes without releasing: the set TTL is the recovery
	// mechanism for the idle resource.
	mr.FastForward(1100 * time.Millisecond)
	if n, _ := s.Count(ctx, "res"); n != 0 {
		t.Fatalf("expected expired set, count %d", n)
	}
	p, err := s.TryAcquire(ctx, "res", 1)
	if err != nil || p == nil {
		t.Fatalf("expected acquisition after expiry, permit %v err %v", p, err)
	}
}

func TestAcquireRefreshesSetTTL(t *testing.T) {
	s, mr, ctx := newSemaphore(t, Options{TTL: time.Second})

	stale, err := s.Acquire(ctx, "res", 2)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	mr.FastForward(600 * time.Millisecond)

	// A new acquisition refreshes the whole-set TTL, keeping the stale
	// permit alive past its original deadline. Documented behaviour, not a
	// per-permit expiry.
	if _, err := s.Acquire(ctx, "res", 2); err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	mr.FastForward(600 * time.Millisecond)

	if n, _ := s.Count(ctx, "res"); n != 2 {
		t.Fatalf("expected refreshed set to retain both tokens, count %d", n)
	}
	_ = stale.Release(ctx)
}

func TestStoreUnavailable(t *testing.T) {
	s, mr, ctx := newSemaphore(t, Options{MaxRetries: 5, RetryDelay: time.Second})
	mr.Close()

	start := time.Now()
	_, err := s.Acquire(ctx, "res", 1)
	if !stdErrors.Is(err, fenceerrors.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("store failure must not be retried")
	}
}

func TestWithReleasesOnEveryPath(t *testing.T) {
	s, _, ctx := newSemaphore(t, Options{})

	if err := s.With(ctx, "res", 1, func(ctx context.Context) error {
		n, _ := s.Count(ctx, "res")
		if n != 1 {
			t.Errorf("count inside With: got %d want 1", n)
		}
		return nil
	}); err != nil {
		t.Fatalf("with: %v", err)
	}

	func() {
		defer func() { _ = recover() }()
		_ = s.With(ctx, "res", 1, func(ctx context.Context) error {
			panic("boom")
		})
	}()

	if n, _ := s.Count(ctx, "res"); n != 0 {
		t.Fatalf("permit leaked, count %d", n)
	}
}
