package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testRetrier(maxAttempts int) *retrier {
	return &retrier{
		maxAttempts: maxAttempts,
		base:        time.Millisecond,
		max:         5 * time.Millisecond,
		perCall:     time.Second,
		cooldown:    time.Second,
		gate:        &gate{},
		retryable: func(err error) bool {
			return !errors.Is(err, errTerminal)
		},
	}
}

var errTerminal = errors.New("terminal")

func TestRetrierSucceedsFirstAttempt(t *testing.T) {
	attempts, err := testRetrier(5).do(context.Background(), nil, func(ctx context.Context) error {
		return nil
	})
	if err != nil || attempts != 1 {
		t.Fatalf("attempts=%d err=%v, want 1 attempt and no error", attempts, err)
	}
}

func TestRetrierRetriesTransientErrors(t *testing.T) {
	calls := 0
	attempts, err := testRetrier(5).do(context.Background(), nil, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 || calls != 3 {
		t.Fatalf("attempts=%d calls=%d, want 3", attempts, calls)
	}
}

func TestRetrierStopsOnTerminalError(t *testing.T) {
	calls := 0
	attempts, err := testRetrier(5).do(context.Background(), nil, func(ctx context.Context) error {
		calls++
		return errTerminal
	})
	if !errors.Is(err, errTerminal) {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 1 || calls != 1 {
		t.Fatalf("attempts=%d calls=%d, want 1 (terminal errors are not retried)", attempts, calls)
	}
}

func TestRetrierExhaustsAttempts(t *testing.T) {
	calls := 0
	attempts, err := testRetrier(3).do(context.Background(), nil, func(ctx context.Context) error {
		calls++
		return errors.New("still broken")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if attempts != 3 || calls != 3 {
		t.Fatalf("attempts=%d calls=%d, want exactly 3", attempts, calls)
	}
}

func TestRetrierQuotaTripsGateAndRetries(t *testing.T) {
	r := testRetrier(5)
	r.cooldown = 50 * time.Millisecond
	r.quota = func(err error) bool {
		return err.Error() == "quota"
	}

	calls := 0
	start := time.Now()
	_, err := r.do(context.Background(), func(ctx context.Context) error {
		return r.gate.Wait(ctx)
	}, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("quota")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls=%d, want 2", calls)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("second attempt ran %v after the quota trip, cooldown is 50ms", elapsed)
	}
}

func TestRetrierStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := testRetrier(10).do(ctx, nil, func(callCtx context.Context) error {
		calls++
		cancel()
		return errors.New("flaky")
	})
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if calls != 1 {
		t.Fatalf("calls=%d, want 1 (no retries after cancellation)", calls)
	}
}

func TestGateOpenByDefault(t *testing.T) {
	g := &gate{}
	start := time.Now()
	if err := g.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Fatal("untripped gate should not block")
	}
}

func TestGateHoldsUntilDeadline(t *testing.T) {
	g := &gate{}
	g.Trip(50 * time.Millisecond)
	start := time.Now()
	if err := g.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("gate opened after %v, want ~50ms", elapsed)
	}
}

func TestGateKeepsLatestDeadline(t *testing.T) {
	g := &gate{}
	g.Trip(80 * time.Millisecond)
	g.Trip(10 * time.Millisecond) // must not shorten the earlier trip
	start := time.Now()
	if err := g.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 70*time.Millisecond {
		t.Fatalf("gate opened after %v, want ~80ms", elapsed)
	}
}

func TestGateWaitHonoursContext(t *testing.T) {
	g := &gate{}
	g.Trip(time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := g.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestAggregatorRecordsEachKeyOnce(t *testing.T) {
	agg := newAggregator(nil)
	agg.success("a", false, 1)
	agg.success("a", true, 2) // duplicate, must be ignored
	agg.fail("b", "InvalidInput", "bad", 1)
	agg.cancelled("b") // duplicate, must be ignored
	agg.cancelled("c")

	rep := agg.finalize()
	if rep.Succeeded != 1 || rep.RetriedSucceeded != 0 || rep.Failed != 1 || rep.Cancelled != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if rep.Total() != 3 {
		t.Fatalf("total = %d, want 3", rep.Total())
	}
}

func TestAggregatorKeepsFirstJobError(t *testing.T) {
	agg := newAggregator(nil)
	agg.jobError(errors.New("first"))
	agg.jobError(errors.New("second"))
	if rep := agg.finalize(); rep.Err != "first" {
		t.Fatalf("err = %q, want the first job error", rep.Err)
	}
}
