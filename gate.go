package gearbox

import (
	"context"
	"fmt"
	"sync"
)

// IngestGate lets the cold-resume path stop event processing across every
// shard and wait for the events already being handled.
type IngestGate struct {
	mu sync.Mutex

	paused bool
	closed bool

	// resumed is closed when a pause ends.
	resumed chan struct{}
	// drained is closed when inflight reaches zero during a pause.
	drained chan struct{}

	inflight int
}

func NewIngestGate() *IngestGate {
	return &IngestGate{}
}

// Enter blocks while the gate is paused. Every successful Enter must be
// followed by Leave.
func (g *IngestGate) Enter(ctx context.Context) error {
	for {
		g.mu.Lock()

		if g.closed {
			g.mu.Unlock()

			return ErrGateClosed
		}

		if !g.paused {
			g.inflight++
			g.mu.Unlock()

			return nil
		}

		resumed := g.resumed
		g.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-resumed:
		}
	}
}

func (g *IngestGate) Leave() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.inflight--

	if g.inflight == 0 && g.drained != nil {
		close(g.drained)
		g.drained = nil
	}
}

// Pause stops new events and waits for in-flight ones. If ctx ends first the
// gate is reopened and ErrQuiesceTimeout is returned.
func (g *IngestGate) Pause(ctx context.Context) error {
	g.mu.Lock()

	if g.closed {
		g.mu.Unlock()

		return ErrGateClosed
	}

	if !g.paused {
		g.paused = true
		g.resumed = make(chan struct{})
	}

	if g.inflight == 0 {
		g.mu.Unlock()

		return nil
	}

	if g.drained == nil {
		g.drained = make(chan struct{})
	}

	drained := g.drained
	g.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		g.Resume()

		return fmt.Errorf("%w: %w", ErrQuiesceTimeout, ctx.Err())
	}
}

// Resume reopens a paused gate.
func (g *IngestGate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.drained = nil

	if g.paused {
		g.paused = false
		close(g.resumed)
	}
}

// Close rejects every future Enter. Callers blocked in Enter return ErrGateClosed.
func (g *IngestGate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.closed = true
	g.drained = nil

	if g.paused {
		g.paused = false
		close(g.resumed)
	}
}

// Inflight returns the number of events currently being handled.
func (g *IngestGate) Inflight() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.inflight
}
