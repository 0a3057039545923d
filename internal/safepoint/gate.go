// Package safepoint coordinates the optional concurrent auxiliary worker
// (string deduplication in the reference configuration) with collection
// pauses. The worker polls Yield at bounded intervals; Begin signals it to
// park at its next safe point and blocks until it acknowledges, End
// releases it. The handshake is cooperative, never preemptive.
package safepoint

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrTimeout indicates the worker failed to park within the safepoint
// timeout. This is a liveness bug in the worker and is fatal: callers
// must not attempt to continue the pause.
var ErrTimeout = errors.New("safepoint: worker failed to park in time")

// State of the gate.
type State int

const (
	// Idle: no pause pending. A disabled gate is permanently Idle.
	Idle State = iota
	// SynchronizingWorker: Begin has signaled the worker and is waiting
	// for acknowledgment.
	SynchronizingWorker
	// PausedWithWorkerParked: the worker acknowledged and is parked; the
	// collection pause may proceed.
	PausedWithWorkerParked
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case SynchronizingWorker:
		return "SynchronizingWorker"
	case PausedWithWorkerParked:
		return "PausedWithWorkerParked"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// DefaultTimeout bounds how long Begin waits for the worker to park.
const DefaultTimeout = 10 * time.Second

// Gate implements the synchronize/desynchronize handshake. A single
// auxiliary worker is supported, matching the reference design.
type Gate struct {
	enabled bool
	timeout time.Duration

	mu      sync.Mutex
	state   State
	suspend bool          // worker should park at next Yield
	ack     chan struct{} // worker parked, one per Begin cycle
	release chan struct{} // closed by End to resume the worker
}

// New returns a gate. A disabled gate is permanently Idle and Begin/End
// are immediate no-ops.
func New(enabled bool, timeout time.Duration) *Gate {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gate{enabled: enabled, timeout: timeout}
}

// Enabled reports whether the auxiliary worker feature is on.
func (g *Gate) Enabled() bool { return g.enabled }

// State returns the current gate state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Begin signals the worker to park and blocks until it acknowledges.
// Returns ErrTimeout if the worker does not park within the gate timeout;
// that condition is fatal to the runtime.
func (g *Gate) Begin() error {
	if !g.enabled {
		return nil
	}
	g.mu.Lock()
	if g.state != Idle {
		g.mu.Unlock()
		panic("safepoint: Begin while not Idle")
	}
	g.state = SynchronizingWorker
	g.suspend = true
	g.ack = make(chan struct{})
	g.release = make(chan struct{})
	ack := g.ack
	g.mu.Unlock()

	select {
	case <-ack:
		g.mu.Lock()
		g.state = PausedWithWorkerParked
		g.mu.Unlock()
		return nil
	case <-time.After(g.timeout):
		return ErrTimeout
	}
}

// End releases the parked worker and returns the gate to Idle.
func (g *Gate) End() {
	if !g.enabled {
		return
	}
	g.mu.Lock()
	if g.state != PausedWithWorkerParked {
		g.mu.Unlock()
		panic("safepoint: End without a parked worker")
	}
	g.suspend = false
	g.state = Idle
	release := g.release
	g.mu.Unlock()
	close(release)
}

// Yield is the worker's poll point. If a pause is pending the worker
// acknowledges and blocks here until End; otherwise it returns at once.
// Workers must call Yield at bounded intervals.
func (g *Gate) Yield() {
	if !g.enabled {
		return
	}
	g.mu.Lock()
	if !g.suspend {
		g.mu.Unlock()
		return
	}
	ack := g.ack
	release := g.release
	g.mu.Unlock()

	select {
	case ack <- struct{}{}:
	case <-release:
		// Pause ended before the acknowledgment was consumed.
		return
	}
	<-release
}
