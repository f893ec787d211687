package gearbox

import (
	"context"
	"sync"
	"time"
)

// DedupeProvider reports whether key is new. A key seen within its ttl is a
// duplicate and Deduplicate returns false.
type DedupeProvider interface {
	Deduplicate(ctx context.Context, key string, ttl time.Duration) bool
	Release(ctx context.Context, key string)
}

// NoopDedupeProvider treats every key as new.
type NoopDedupeProvider struct{}

func (NoopDedupeProvider) Deduplicate(context.Context, string, time.Duration) bool {
	return true
}

func (NoopDedupeProvider) Release(context.Context, string) {}

// InMemoryDedupeProvider remembers keys until they expire. Expired keys are
// swept by Run.
type InMemoryDedupeProvider struct {
	mu   sync.Mutex
	keys map[string]time.Time

	now func() time.Time
}

func NewInMemoryDedupeProvider() *InMemoryDedupeProvider {
	return &InMemoryDedupeProvider{
		keys: make(map[string]time.Time),
		now:  time.Now,
	}
}

func (d *InMemoryDedupeProvider) Deduplicate(_ context.Context, key string, ttl time.Duration) bool {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if expiresAt, ok := d.keys[key]; ok && expiresAt.After(now) {
		return false
	}

	d.keys[key] = now.Add(ttl)

	return true
}

func (d *InMemoryDedupeProvider) Release(_ context.Context, key string) {
	d.mu.Lock()
	delete(d.keys, key)
	d.mu.Unlock()
}

func (d *InMemoryDedupeProvider) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.keys)
}

// Cleanup removes expired keys.
func (d *InMemoryDedupeProvider) Cleanup() {
	now := d.now()

	d.mu.Lock()
	for key, expiresAt := range d.keys {
		if !expiresAt.After(now) {
			delete(d.keys, key)
		}
	}
	d.mu.Unlock()
}

// Run sweeps expired keys every interval until ctx is done.
func (d *InMemoryDedupeProvider) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Cleanup()
		}
	}
}
