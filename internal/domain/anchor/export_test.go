package anchor

import (
	"context"
	"time"
)

// SetClock replaces the workflow's clock and sleeper.
func (w *Workflow) SetClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) {
	w.now = now
	w.sleep = sleep
}

var ExponentialBackoff = exponentialBackoff
