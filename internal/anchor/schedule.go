package anchor

import (
	"context"
	"time"
)

// DefaultRetryDelays are the fallback reruns after the immediate pass,
// measured from the start of the cascade.
var DefaultRetryDelays = []time.Duration{500 * time.Millisecond, 1500 * time.Millisecond}

// Scheduler reruns an idempotent pass while the document settles. When
// Settled is set, each signal on it triggers a rerun until the channel
// closes or the context ends; otherwise the pass reruns at Delays.
type Scheduler struct {
	Delays  []time.Duration
	Settled <-chan struct{}
}

// Run executes pass immediately and then per the retry policy. It blocks
// until the cascade finishes or ctx is done.
func (s Scheduler) Run(ctx context.Context, pass func()) {
	if ctx.Err() != nil {
		return
	}
	pass()

	if s.Settled != nil {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-s.Settled:
				if !ok {
					return
				}
				pass()
			}
		}
	}

	started := time.Now()
	for _, delay := range s.Delays {
		wait := delay - time.Since(started)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			pass()
		}
	}
}
