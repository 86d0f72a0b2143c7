package pipeline

import (
	"context"
	"sync"
	"time"
)

// gate is the pool-wide cooldown shared by every worker in one job. Tripping
// it holds back all new external calls until the deadline passes; quota
// exhaustion affects the whole pool, not one item. Each job owns its own
// gate so concurrent jobs keep independent budgets.
type gate struct {
	mu    sync.Mutex
	until time.Time
}

// Trip extends the cooldown to now+d unless a later deadline is already set.
func (g *gate) Trip(d time.Duration) {
	deadline := time.Now().Add(d)
	g.mu.Lock()
	if deadline.After(g.until) {
		g.until = deadline
	}
	g.mu.Unlock()
}

// Wait blocks until the gate is open or ctx is done.
func (g *gate) Wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		until := g.until
		g.mu.Unlock()

		d := time.Until(until)
		if d <= 0 {
			return nil
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
