package lock

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mirkobrombin/go-fence/v1/store"
)

// Guard is the ownership token for a held lock. It does not own the remote
// record, only the right to clear it once: release and extend are gated on
// the token stored at acquisition, so a Guard whose lock expired and was
// re-acquired by someone else can no longer touch the record.
type Guard struct {
	handle   *store.Handle
	key      string
	token    string
	released atomic.Bool
}

// Token returns the owner token, mainly for logging and tests.
func (g *Guard) Token() string {
	return g.token
}

// Release clears the lock if this Guard still owns it. It is idempotent;
// only the first call reaches the store. It returns nil when ownership was
// already lost to TTL expiry, since the caller's critical section is over
// either way.
func (g *Guard) Release(ctx context.Context) error {
	if !g.released.CompareAndSwap(false, true) {
		return nil
	}
	res, err := g.handle.Eval(ctx, releaseScript, []string{g.key}, g.token)
	if err != nil {
		return err
	}
	if n, ok := res.(int64); !ok || n != 1 {
		slog.Debug("fence: lock already expired at release", "key", g.key)
	}
	return nil
}

// Extend resets the lock TTL if this Guard still owns it. It returns false
// when ownership was already lost. Holders of long critical sections must
// call this periodically or accept that expiry silently ends exclusivity.
func (g *Guard) Extend(ctx context.Context, ttl time.Duration) (bool, error) {
	if g.released.Load() {
		return false, nil
	}
	res, err := g.handle.Eval(ctx, extendScript, []string{g.key}, g.token, ttl.Milliseconds())
	if err != nil {
		return false, err
	}
	n, ok := res.(int64)
	return ok && n == 1, nil
}

// mustRelease is the scoped-form cleanup: failures are logged and absorbed
// so a failed release never breaks the exiting caller.
func (g *Guard) mustRelease(ctx context.Context) {
	if err := g.Release(context.WithoutCancel(ctx)); err != nil {
		slog.Error("fence: lock release failed", "key", g.key, "error", err)
	}
}
