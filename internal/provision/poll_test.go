package provision

import (
	"context"
	"errors"
	"testing"
	"time"
)

// noSleep advances poll loops instantly in tests.
func noSleep(context.Context, time.Duration) error { return nil }

func TestPollerExactCheckCountOnBudget(t *testing.T) {
	// 600s budget at 10s interval is exactly 60 checks: the budget gate runs
	// before each check, never after.
	p := poller{interval: 10 * time.Second, budget: 600 * time.Second, sleep: noSleep}

	checks := 0
	err := p.run(context.Background(), func(context.Context, time.Duration) (bool, error) {
		checks++
		return false, nil
	})
	if !errors.Is(err, errBudgetExceeded) {
		t.Fatalf("run() error = %v, want errBudgetExceeded", err)
	}
	if checks != 60 {
		t.Errorf("checks = %d, want exactly 60", checks)
	}
}

func TestPollerStopsWhenDone(t *testing.T) {
	p := poller{interval: 10 * time.Second, budget: 600 * time.Second, sleep: noSleep}

	checks := 0
	err := p.run(context.Background(), func(context.Context, time.Duration) (bool, error) {
		checks++
		return checks == 3, nil
	})
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if checks != 3 {
		t.Errorf("checks = %d, want 3", checks)
	}
}

func TestPollerPropagatesCheckError(t *testing.T) {
	p := poller{interval: time.Second, budget: time.Minute, sleep: noSleep}

	boom := errors.New("boom")
	checks := 0
	err := p.run(context.Background(), func(context.Context, time.Duration) (bool, error) {
		checks++
		return false, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("run() error = %v, want boom", err)
	}
	if checks != 1 {
		t.Errorf("checks = %d, want 1 (no further polls after a terminal error)", checks)
	}
}

func TestPollerZeroBudgetIsUnlimited(t *testing.T) {
	p := poller{interval: time.Second, budget: 0, sleep: noSleep}

	checks := 0
	err := p.run(context.Background(), func(context.Context, time.Duration) (bool, error) {
		checks++
		return checks == 1000, nil
	})
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if checks != 1000 {
		t.Errorf("checks = %d, want 1000", checks)
	}
}

func TestPollerReportsElapsed(t *testing.T) {
	p := poller{interval: 10 * time.Second, budget: time.Minute, sleep: noSleep}

	var elapsed []time.Duration
	_ = p.run(context.Background(), func(_ context.Context, e time.Duration) (bool, error) {
		elapsed = append(elapsed, e)
		return false, nil
	})
	want := []time.Duration{0, 10 * time.Second, 20 * time.Second, 30 * time.Second, 40 * time.Second, 50 * time.Second}
	if len(elapsed) != len(want) {
		t.Fatalf("len(elapsed) = %d, want %d", len(elapsed), len(want))
	}
	for i := range want {
		if elapsed[i] != want[i] {
			t.Errorf("elapsed[%d] = %v, want %v", i, elapsed[i], want[i])
		}
	}
}

func TestPollerHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := poller{interval: time.Millisecond, budget: time.Minute}

	checks := 0
	err := p.run(ctx, func(context.Context, time.Duration) (bool, error) {
		checks++
		if checks == 2 {
			cancel()
		}
		return false, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("run() error = %v, want context.Canceled", err)
	}
}
