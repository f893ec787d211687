// Package accumulator keeps a short rolling history of a counter.
package accumulator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Accumulator counts increments and moves the count into a sample every interval.
type Accumulator struct {
	mu      sync.RWMutex
	samples []Sample

	acc *atomic.Int64

	// Samples to keep before the oldest is discarded.
	storedSamples int

	// 60 samples with an interval of 1 second is a one minute history.
	interval time.Duration
}

// Sample is the count accumulated during one interval ending at StoredAt.
type Sample struct {
	StoredAt time.Time `json:"stored_at"`
	Value    int64     `json:"value"`
}

// NewAccumulator creates an accumulator. Run must be called to take samples.
func NewAccumulator(storedSamples int, interval time.Duration) *Accumulator {
	return &Accumulator{
		samples:       make([]Sample, 0, storedSamples),
		acc:           atomic.NewInt64(0),
		storedSamples: max(storedSamples, 1),
		interval:      interval,
	}
}

func (ac *Accumulator) Increment() {
	ac.acc.Inc()
}

func (ac *Accumulator) IncrementBy(n int64) {
	ac.acc.Add(n)
}

// Samples returns a copy of the stored samples, oldest first.
func (ac *Accumulator) Samples() []Sample {
	ac.mu.RLock()
	defer ac.mu.RUnlock()

	return append([]Sample(nil), ac.samples...)
}

// LastSamples returns up to n of the newest samples.
func (ac *Accumulator) LastSamples(n int) []Sample {
	ac.mu.RLock()
	defer ac.mu.RUnlock()

	index := max(len(ac.samples)-n, 0)

	return append([]Sample(nil), ac.samples[index:]...)
}

// Rate returns the average count per second over the stored samples.
func (ac *Accumulator) Rate() float64 {
	samples := ac.Samples()
	if len(samples) == 0 || ac.interval <= 0 {
		return 0
	}

	var sum int64
	for _, sample := range samples {
		sum += sample.Value
	}

	return float64(sum) / (float64(len(samples)) * ac.interval.Seconds())
}

// RunOnce stores the current count as a sample taken at t and resets it.
func (ac *Accumulator) RunOnce(t time.Time) {
	value := ac.acc.Swap(0)

	ac.mu.Lock()
	defer ac.mu.Unlock()

	ac.samples = append(ac.samples, Sample{StoredAt: t, Value: value})

	if len(ac.samples) > ac.storedSamples {
		ac.samples = append(ac.samples[:0], ac.samples[len(ac.samples)-ac.storedSamples:]...)
	}
}

// Run samples every interval until ctx is done.
func (ac *Accumulator) Run(ctx context.Context) {
	ticker := time.NewTicker(ac.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			ac.RunOnce(t.UTC())
		}
	}
}
