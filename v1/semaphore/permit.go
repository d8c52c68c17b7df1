package semaphore

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/mirkobrombin/go-fence/v1/store"
)

// Permit is the ownership token for one held semaphore slot. Releasing
// removes exactly this permit's token from the set, so a stale Permit can
// never free a slot someone else occupies.
type Permit struct {
	handle   *store.Handle
	key      string
	token    string
	released atomic.Bool
}

// Token returns the permit token, mainly for logging and tests.
func (p *Permit) Token() string {
	return p.token
}

// Release frees the permit. It is idempotent; only the first call reaches
// the store. A token already gone from the set (the whole set expired)
// returns nil, since the slot is free either way.
func (p *Permit) Release(ctx context.Context) error {
	if !p.released.CompareAndSwap(false, true) {
		return nil
	}
	removed, err := p.handle.SRem(ctx, p.key, p.token)
	if err != nil {
		return err
	}
	if !removed {
		slog.Debug("fence: permit already expired at release", "key", p.key)
	}
	return nil
}

func (p *Permit) mustRelease(ctx context.Context) {
	if err := p.Release(context.WithoutCancel(ctx)); err != nil {
		slog.Error("fence: permit release failed", "key", p.key, "error", err)
	}
}
