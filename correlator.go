package gearbox

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/WelcomerTeam/Gearbox/pkg/syncmap"
	"go.uber.org/atomic"
)

// RequestCorrelator matches replies on the push-only gateway stream back to
// the request that caused them, keyed by nonce.
type RequestCorrelator[T any] struct {
	clusterID string

	runID   string
	counter *atomic.Uint64

	pending syncmap.Map[string, chan T]
}

func NewRequestCorrelator[T any](clusterID string) *RequestCorrelator[T] {
	return &RequestCorrelator[T]{
		clusterID: clusterID,
		runID:     randomHex(6),
		counter:   atomic.NewUint64(0),
	}
}

// NextNonce returns a nonce unique to this process run. Gateway nonces are
// limited to 32 characters.
func (c *RequestCorrelator[T]) NextNonce() string {
	return c.runID + "-" + strconv.FormatUint(c.counter.Inc(), 36)
}

// Waiter is the handle returned by Register.
type Waiter[T any] struct {
	correlator *RequestCorrelator[T]
	reply      chan T
	Nonce      string
}

// Register inserts a pending entry for nonce.
func (c *RequestCorrelator[T]) Register(nonce string) (*Waiter[T], error) {
	reply := make(chan T, 1)

	if _, loaded := c.pending.LoadOrStore(nonce, reply); loaded {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateNonce, nonce)
	}

	c.updatePending()

	return &Waiter[T]{correlator: c, reply: reply, Nonce: nonce}, nil
}

// Resolve delivers payload to the waiter of nonce. It returns false when no
// entry exists, which happens for late or duplicate replies.
func (c *RequestCorrelator[T]) Resolve(nonce string, payload T) bool {
	reply, ok := c.pending.LoadAndDelete(nonce)
	if !ok {
		return false
	}

	c.updatePending()

	reply <- payload

	return true
}

// Cancel removes the entry for nonce. It returns false if the entry was
// already resolved or cancelled.
func (c *RequestCorrelator[T]) Cancel(nonce string) bool {
	if _, ok := c.pending.LoadAndDelete(nonce); !ok {
		return false
	}

	c.updatePending()

	return true
}

func (c *RequestCorrelator[T]) Pending() int {
	return c.pending.Count()
}

func (c *RequestCorrelator[T]) updatePending() {
	RequestMetrics.Pending.WithLabelValues(c.clusterID).Set(float64(c.pending.Count()))
}

// Wait blocks until the reply arrives, the timeout passes or ctx is done.
// Whichever of resolve and cancel removes the entry first decides the result.
func (w *Waiter[T]) Wait(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case payload := <-w.reply:
		return payload, nil
	case <-timer.C:
		if w.correlator.Cancel(w.Nonce) {
			RequestMetrics.Timeouts.WithLabelValues(w.correlator.clusterID).Inc()

			return zero, fmt.Errorf("%w: nonce %s", ErrChunkTimeout, w.Nonce)
		}
	case <-ctx.Done():
		if w.correlator.Cancel(w.Nonce) {
			return zero, ctx.Err()
		}
	}

	// Resolve won the race and has sent, or is about to send, on the buffered channel.
	return <-w.reply, nil
}
