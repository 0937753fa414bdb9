package periodic

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Task runs fn on every tick of interval until Stop is called or ctx
// given to Start is canceled. Errors from fn are logged and do not stop
// the loop, matching the teacher's reconcile/schedule cycle pattern.
type Task struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error
	logger   zerolog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Task. Call Start to begin running it.
func New(name string, interval time.Duration, fn func(ctx context.Context) error, logger zerolog.Logger) *Task {
	return &Task{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   logger.With().Str("task", name).Logger(),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the tick loop in its own goroutine. It returns
// immediately.
func (t *Task) Start(ctx context.Context) {
	t.wg.Add(1)
	go t.run(ctx)
}

// Stop signals the loop to exit and waits for it to do so.
func (t *Task) Stop() {
	close(t.stopCh)
	t.wg.Wait()
}

func (t *Task) run(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.logger.Info().Dur("interval", t.interval).Msg("periodic task started")

	for {
		select {
		case <-ticker.C:
			if err := t.fn(ctx); err != nil {
				t.logger.Error().Err(err).Msg("periodic task cycle failed")
			}
		case <-ctx.Done():
			t.logger.Info().Msg("periodic task stopped (context canceled)")
			return
		case <-t.stopCh:
			t.logger.Info().Msg("periodic task stopped")
			return
		}
	}
}
