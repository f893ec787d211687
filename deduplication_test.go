package gearbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInMemoryDedupeProvider(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	provider := NewInMemoryDedupeProvider()
	provider.now = func() time.Time { return now }

	assert.True(t, provider.Deduplicate(ctx, "message:1", time.Minute))
	assert.False(t, provider.Deduplicate(ctx, "message:1", time.Minute))
	assert.True(t, provider.Deduplicate(ctx, "message:2", time.Minute))

	provider.Release(ctx, "message:2")
	assert.True(t, provider.Deduplicate(ctx, "message:2", time.Second))

	now = now.Add(2 * time.Second)
	provider.Cleanup()

	assert.Equal(t, 1, provider.Len())

	now = now.Add(time.Minute)
	assert.True(t, provider.Deduplicate(ctx, "message:1", time.Minute))
}

func TestNoopDedupeProvider(t *testing.T) {
	t.Parallel()

	provider := NoopDedupeProvider{}

	assert.True(t, provider.Deduplicate(context.Background(), "a", time.Minute))
	assert.True(t, provider.Deduplicate(context.Background(), "a", time.Minute))
}
