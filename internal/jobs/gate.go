package jobs

import "errors"

// ErrGateBusy is returned when a mutating job is already in flight.
var ErrGateBusy = errors.New("another mutating job is already running")

// Gate is the process-wide advisory lock for mutating long-running jobs.
// Sync and bulk-send race at the storage layer if run concurrently, so the
// API layer takes the gate before starting either.
type Gate struct {
	ch chan struct{}
}

// NewGate creates a released gate.
func NewGate() *Gate {
	g := &Gate{ch: make(chan struct{}, 1)}
	g.ch <- struct{}{}
	return g
}

// TryAcquire takes the gate without blocking. Returns ErrGateBusy if held.
func (g *Gate) TryAcquire() error {
	select {
	case <-g.ch:
		return nil
	default:
		return ErrGateBusy
	}
}

// Release returns the gate. Must be called exactly once per successful
// TryAcquire.
func (g *Gate) Release() {
	select {
	case g.ch <- struct{}{}:
	default:
	}
}
