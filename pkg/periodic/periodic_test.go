package periodic

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestTask_RunsOnEveryTick(t *testing.T) {
	var calls atomic.Int32
	task := New("test", 10*time.Millisecond, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	task.Start(ctx)
	time.Sleep(55 * time.Millisecond)
	task.Stop()

	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestTask_StopPreventsFurtherCalls(t *testing.T) {
	var calls atomic.Int32
	task := New("test", 10*time.Millisecond, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, zerolog.Nop())

	task.Start(context.Background())
	time.Sleep(25 * time.Millisecond)
	task.Stop()

	afterStop := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, afterStop, calls.Load())
}

func TestTask_ErrorDoesNotStopLoop(t *testing.T) {
	var calls atomic.Int32
	task := New("test", 10*time.Millisecond, func(ctx context.Context) error {
		calls.Add(1)
		return assert.AnError
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	task.Start(ctx)
	time.Sleep(35 * time.Millisecond)
	task.Stop()

	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestTask_ContextCancelStopsLoop(t *testing.T) {
	var calls atomic.Int32
	task := New("test", 10*time.Millisecond, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	task.Start(ctx)
	time.Sleep(15 * time.Millisecond)
	cancel()
	task.Stop()
}
