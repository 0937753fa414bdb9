package runstate

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/beegfs-io/mgmtd/pkg/mgmterr"
)

// State is one point in the one-way Running -> PreShutdown -> Shutdown
// lifecycle.
type State int32

const (
	Running State = iota
	PreShutdown
	Shutdown
)

func (s State) String() string {
	switch s {
	case PreShutdown:
		return "PreShutdown"
	case Shutdown:
		return "Shutdown"
	default:
		return "Running"
	}
}

// Controller is the process-wide handle. The zero value is not usable;
// construct with New.
type Controller struct {
	state atomic.Int32

	wg sync.WaitGroup

	preShutdownOnce sync.Once
	preShutdownCh   chan struct{}

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// New returns a Controller in the Running state.
func New() *Controller {
	return &Controller{
		preShutdownCh: make(chan struct{}),
		shutdownCh:    make(chan struct{}),
	}
}

// State reports the controller's current lifecycle state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// IsPreShutdown reports whether the controller has moved at least to
// PreShutdown. No legacy handler or structured RPC method consults it;
// mutating operations are accepted in every state.
func (c *Controller) IsPreShutdown() bool {
	return c.State() != Running
}

// PreShutdown moves the controller from Running to PreShutdown. It is
// idempotent: calling it again (or after Shutdown has already been
// requested) has no effect.
func (c *Controller) PreShutdown() {
	c.preShutdownOnce.Do(func() {
		c.state.CompareAndSwap(int32(Running), int32(PreShutdown))
		close(c.preShutdownCh)
	})
}

// WaitForPreShutdown returns a channel closed once PreShutdown has been
// called, for use in a select arm.
func (c *Controller) WaitForPreShutdown() <-chan struct{} {
	return c.preShutdownCh
}

// WaitForShutdown returns a channel closed once Shutdown has been called,
// for use in a select arm by tasks that cooperatively exit on shutdown.
func (c *Controller) WaitForShutdown() <-chan struct{} {
	return c.shutdownCh
}

// Handle is a strong handle: while held, Shutdown will not return. Release
// it exactly once.
type Handle struct {
	c        *Controller
	released atomic.Bool
}

// Acquire takes a strong handle. It always succeeds; callers that want to
// refuse acquiring new handles past PreShutdown should consult
// IsPreShutdown first.
func (c *Controller) Acquire() *Handle {
	c.wg.Add(1)
	return &Handle{c: c}
}

// Release returns the strong handle. Calling Release more than once on
// the same handle is a no-op.
func (h *Handle) Release() {
	if h.released.CompareAndSwap(false, true) {
		h.c.wg.Done()
	}
}

// Shutdown moves the controller to Shutdown (implicitly also reaching
// PreShutdown if it had not already) and waits for every outstanding
// strong handle to be released. It returns a mgmterr.Transport error
// wrapping ctx.Err() if ctx is canceled first; the wait for handles continues in the background regardless, so
// a canceled Shutdown does not leave handles leaked.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.PreShutdown()

	c.shutdownOnce.Do(func() {
		c.state.Store(int32(Shutdown))
		close(c.shutdownCh)
	})

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return mgmterr.New(mgmterr.Transport, ctx.Err())
	}
}
