package notification

import (
	"context"
	"sync"
)

type gateState int

const (
	gateUninitialized gateState = iota
	gateInitializing
	gateReady
	gateStopped
)

func (s gateState) String() string {
	switch s {
	case gateUninitialized:
		return "uninitialized"
	case gateInitializing:
		return "initializing"
	case gateReady:
		return "ready"
	case gateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// initGate runs an initialization function at most once successfully.
// A call while ready is a no-op, a call while initializing waits for the
// running attempt, and a failed attempt returns the gate to uninitialized.
type initGate struct {
	mu      sync.Mutex
	state   gateState
	done    chan struct{}
	lastErr error
	stopped error // returned once the gate is stopped
}

func newInitGate(stopped error) *initGate {
	return &initGate{stopped: stopped}
}

func (g *initGate) run(ctx context.Context, fn func(context.Context) error) error {
	g.mu.Lock()
	switch g.state {
	case gateReady:
		g.mu.Unlock()
		return nil
	case gateStopped:
		g.mu.Unlock()
		return g.stopped
	case gateInitializing:
		done := g.done
		g.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		g.mu.Lock()
		defer g.mu.Unlock()
		switch g.state {
		case gateReady:
			return nil
		case gateStopped:
			return g.stopped
		default:
			return g.lastErr
		}
	}

	g.state = gateInitializing
	done := make(chan struct{})
	g.done = done
	g.mu.Unlock()

	err := fn(ctx)

	g.mu.Lock()
	defer g.mu.Unlock()
	defer close(done)
	g.lastErr = err
	if g.state == gateStopped {
		// stopped while initializing
		return g.stopped
	}
	if err != nil {
		g.state = gateUninitialized
		return err
	}
	g.state = gateReady
	return nil
}

// stop moves the gate to stopped and reports whether it was ready before.
func (g *initGate) stop() (wasReady bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	wasReady = g.state == gateReady
	g.state = gateStopped
	return wasReady
}

func (g *initGate) current() gateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}
