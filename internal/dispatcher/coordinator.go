package dispatcher

import (
	"sync"
	"sync/atomic"
)

// State is a position in the shutdown state machine.
type State int32

// Shutdown states. Stopped is terminal.
const (
	StateRunning State = iota
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Stop reasons recorded by the dispatcher.
const (
	ReasonCanceled      = "canceled"
	ReasonLimit         = "completion_limit"
	ReasonOperator      = "operator"
	ReasonSitemapsEnded = "sitemaps_exhausted"
	ReasonStartupFailed = "startup_failed"
)

// Coordinator tracks Running → Stopping → Stopped. Every method is safe for
// concurrent use and repeated calls.
type Coordinator struct {
	state  atomic.Int32
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	reason string
}

// NewCoordinator returns a Coordinator in the running state.
func NewCoordinator() *Coordinator {
	return &Coordinator{done: make(chan struct{})}
}

// Stop moves a running coordinator to stopping and closes Done. It reports
// whether this call made the transition; later calls are no-ops.
func (c *Coordinator) Stop(reason string) bool {
	first := false
	c.once.Do(func() {
		first = true
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		c.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
		close(c.done)
	})
	return first
}

// Finish marks the pipeline stopped. It implies Stop.
func (c *Coordinator) Finish(reason string) {
	c.Stop(reason)
	c.state.Store(int32(StateStopped))
}

// Done is closed once a stop has been requested.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Stopping reports whether a stop has been requested.
func (c *Coordinator) Stopping() bool {
	return c.State() != StateRunning
}

// State returns the current state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Reason returns the reason given to the first Stop call.
func (c *Coordinator) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}
