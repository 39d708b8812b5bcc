package dispatch

import (
	"context"
	"time"
)

// DefaultGrantBudget approximates the extra run time a suspended host
// usually allows a background task.
const DefaultGrantBudget = 3 * time.Minute

// Grant hands out scoped execution time for a suspendable operation. The
// returned context is cancelled when the grant expires; release must be
// called when the work completes. granted is false when no extra time is
// available, in which case the work proceeds on the parent context.
type Grant interface {
	Acquire(ctx context.Context) (scoped context.Context, release context.CancelFunc, granted bool)
}

// TimeoutGrant grants a fixed budget per acquisition.
type TimeoutGrant struct {
	Budget time.Duration
}

// Acquire implements Grant.
func (g TimeoutGrant) Acquire(ctx context.Context) (context.Context, context.CancelFunc, bool) {
	if g.Budget <= 0 {
		return ctx, func() {}, false
	}
	scoped, cancel := context.WithTimeout(ctx, g.Budget)
	return scoped, cancel, true
}
