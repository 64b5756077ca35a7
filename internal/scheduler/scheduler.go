package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Task is one iteration of a periodic activity. The context is cancelled
// when the runner stops.
type Task func(ctx context.Context)

// Runner drives a small set of independent periodic loops. A failing or
// panicking iteration is logged and never cancels future iterations of its
// loop, and one loop never blocks another.
type Runner struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// NewRunner creates a stopped-state runner; loops start as they are added.
func NewRunner(logger zerolog.Logger) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// Every schedules task to run every interval. With initialDelay zero the
// first run happens immediately.
func (r *Runner) Every(name string, interval, initialDelay time.Duration, task Task) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		if initialDelay > 0 {
			select {
			case <-time.After(initialDelay):
			case <-r.ctx.Done():
				return
			}
		}
		r.runOnce(name, task)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.runOnce(name, task)
			case <-r.ctx.Done():
				r.logger.Debug().Str("loop", name).Msg("Scheduler loop stopped")
				return
			}
		}
	}()
	r.logger.Info().Str("loop", name).Dur("interval", interval).Msg("Scheduler loop started")
}

// Stop cancels all loops and waits for in-flight iterations to finish.
func (r *Runner) Stop() {
	r.cancel()
	r.wg.Wait()
}

func (r *Runner) runOnce(name string, task Task) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Str("loop", name).Interface("panic", rec).Msg("Scheduler task panicked")
		}
	}()
	task(r.ctx)
}
