package runstate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_StartsRunning(t *testing.T) {
	c := New()
	assert.Equal(t, Running, c.State())
	assert.False(t, c.IsPreShutdown())
}

func TestPreShutdown_IsIdempotent(t *testing.T) {
	c := New()
	c.PreShutdown()
	c.PreShutdown()
	assert.Equal(t, PreShutdown, c.State())
	assert.True(t, c.IsPreShutdown())

	select {
	case <-c.WaitForPreShutdown():
	default:
		t.Fatal("expected WaitForPreShutdown channel to be closed")
	}
}

func TestShutdown_WaitsForStrongHandles(t *testing.T) {
	c := New()
	h := c.Acquire()

	shutdownDone := make(chan error, 1)
	go func() {
		shutdownDone <- c.Shutdown(context.Background())
	}()

	select {
	case <-shutdownDone:
		t.Fatal("Shutdown returned before the strong handle was released")
	case <-time.After(50 * time.Millisecond):
	}

	assert.True(t, c.IsPreShutdown())

	h.Release()

	select {
	case err := <-shutdownDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Shutdown did not return after the strong handle was released")
	}
}

func TestHandle_ReleaseIsIdempotent(t *testing.T) {
	c := New()
	h := c.Acquire()
	h.Release()
	assert.NotPanics(t, func() { h.Release() })

	require.NoError(t, c.Shutdown(context.Background()))
}

func TestShutdown_ReturnsContextErrorOnCancel(t *testing.T) {
	c := New()
	h := c.Acquire()
	defer h.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.Shutdown(ctx)
	require.Error(t, err)
}

func TestWaitForShutdown_ClosesOnShutdown(t *testing.T) {
	c := New()
	select {
	case <-c.WaitForShutdown():
		t.Fatal("WaitForShutdown channel closed before Shutdown was called")
	default:
	}

	require.NoError(t, c.Shutdown(context.Background()))

	select {
	case <-c.WaitForShutdown():
	default:
		t.Fatal("expected WaitForShutdown channel to be closed after Shutdown")
	}
}
