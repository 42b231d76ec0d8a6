package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval is the wall-clock time between ticks.
const DefaultInterval = 30 * time.Second

// Runner is the periodic Trigger for a run. One tick fires as soon as the
// schedule starts, then one per interval, never overlapping.
type Runner struct {
	mu      sync.Mutex
	stop    chan struct{}
	running bool
	ticks   uint64
}

// NewRunner creates an idle runner.
func NewRunner() *Runner {
	return &Runner{}
}

// Schedule starts calling tick every interval. A schedule already in place is
// replaced.
func (r *Runner) Schedule(interval time.Duration, tick func(context.Context)) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	r.mu.Lock()
	if r.stop != nil {
		close(r.stop)
	}
	stop := make(chan struct{})
	r.stop = stop
	r.running = true
	r.mu.Unlock()

	go r.loop(interval, stop, tick)
}

// Cancel stops future ticks. It does not wait for a tick in progress.
func (r *Runner) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		close(r.stop)
		r.stop = nil
	}
	r.running = false
}

// Running reports whether ticks are scheduled.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Ticks returns how many ticks this runner has fired.
func (r *Runner) Ticks() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ticks
}

func (r *Runner) loop(interval time.Duration, stop <-chan struct{}, tick func(context.Context)) {
	slog.Info("tick runner started", "interval", interval)
	defer slog.Info("tick runner stopped")

	for {
		select {
		case <-stop:
			return
		default:
		}

		start := time.Now()
		r.step(tick)

		// Sleep for the remainder of the interval.
		wait := interval - time.Since(start)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (r *Runner) step(tick func(context.Context)) {
	r.mu.Lock()
	r.ticks++
	r.mu.Unlock()

	// The tick is detached from the runner so Cancel never aborts it midway.
	ctx := context.WithoutCancel(context.Background())
	defer func() {
		if p := recover(); p != nil {
			slog.Error("tick panicked", "error", fmt.Sprint(p))
		}
	}()
	tick(ctx)
}
