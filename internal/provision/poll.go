package provision

import (
	"context"
	"errors"
	"time"
)

// errBudgetExceeded is the internal signal that a poll loop ran out of
// budget. Waiters translate it into a typed Error with loop-specific detail.
var errBudgetExceeded = errors.New("poll budget exceeded")

// sleepFunc suspends between polls. The default implementation honors
// context cancellation; tests substitute a counting no-op.
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// poller runs a check-sleep-repeat loop against remote state.
type poller struct {
	interval time.Duration
	budget   time.Duration // 0 means no hard budget
	sleep    sleepFunc
}

// run invokes fn until it reports done, returns an error, or the budget is
// exhausted. The budget check happens before each check, so a loop with
// budget 600s and interval 10s performs exactly 60 checks before giving up.
// fn receives the accumulated wait so it can act on soft ceilings.
func (p poller) run(ctx context.Context, fn func(ctx context.Context, elapsed time.Duration) (bool, error)) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	for elapsed := time.Duration(0); ; elapsed += p.interval {
		if p.budget > 0 && elapsed >= p.budget {
			return errBudgetExceeded
		}
		done, err := fn(ctx, elapsed)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if err := sleep(ctx, p.interval); err != nil {
			return err
		}
	}
}
