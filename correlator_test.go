package gearbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelatorResolve(t *testing.T) {
	t.Parallel()

	correlator := NewRequestCorrelator[string]("correlator-resolve")

	waiter, err := correlator.Register("abc")
	require.NoError(t, err)
	assert.Equal(t, 1, correlator.Pending())

	go func() {
		time.Sleep(5 * time.Millisecond)
		correlator.Resolve("abc", "chunk")
	}()

	payload, err := waiter.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "chunk", payload)
	assert.Equal(t, 0, correlator.Pending())
}

func TestCorrelatorTimeoutThenLateReply(t *testing.T) {
	t.Parallel()

	correlator := NewRequestCorrelator[string]("correlator-timeout")

	waiter, err := correlator.Register("abc")
	require.NoError(t, err)

	_, err = waiter.Wait(context.Background(), 10*time.Millisecond)
	require.ErrorIs(t, err, ErrChunkTimeout)

	assert.False(t, correlator.Resolve("abc", "late"))
	assert.Equal(t, 0, correlator.Pending())
}

func TestCorrelatorUnknownNonce(t *testing.T) {
	t.Parallel()

	correlator := NewRequestCorrelator[int]("correlator-unknown")

	assert.False(t, correlator.Resolve("missing", 1))
	assert.False(t, correlator.Cancel("missing"))
}

func TestCorrelatorDuplicateNonce(t *testing.T) {
	t.Parallel()

	correlator := NewRequestCorrelator[int]("correlator-duplicate")

	_, err := correlator.Register("abc")
	require.NoError(t, err)

	_, err = correlator.Register("abc")
	assert.ErrorIs(t, err, ErrDuplicateNonce)
}

func TestCorrelatorResolveOnce(t *testing.T) {
	t.Parallel()

	correlator := NewRequestCorrelator[int]("correlator-once")

	waiter, err := correlator.Register("abc")
	require.NoError(t, err)

	assert.True(t, correlator.Resolve("abc", 1))
	assert.False(t, correlator.Resolve("abc", 2))

	payload, err := waiter.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, payload)
}

func TestCorrelatorContextCancel(t *testing.T) {
	t.Parallel()

	correlator := NewRequestCorrelator[int]("correlator-cancel")

	waiter, err := correlator.Register("abc")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = waiter.Wait(ctx, time.Second)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, correlator.Pending())
}

func TestCorrelatorRaceHasOneWinner(t *testing.T) {
	t.Parallel()

	correlator := NewRequestCorrelator[int]("correlator-race")

	for range 200 {
		nonce := correlator.NextNonce()

		_, err := correlator.Register(nonce)
		require.NoError(t, err)

		var (
			wg        sync.WaitGroup
			resolved  bool
			cancelled bool
		)

		wg.Add(2)

		go func() {
			defer wg.Done()

			resolved = correlator.Resolve(nonce, 1)
		}()

		go func() {
			defer wg.Done()

			cancelled = correlator.Cancel(nonce)
		}()

		wg.Wait()

		assert.NotEqual(t, resolved, cancelled)
	}

	assert.Equal(t, 0, correlator.Pending())
}

func TestCorrelatorNonceUnique(t *testing.T) {
	t.Parallel()

	correlator := NewRequestCorrelator[int]("correlator-nonce")
	seen := make(map[string]bool)

	for range 1000 {
		nonce := correlator.NextNonce()
		assert.False(t, seen[nonce])
		assert.LessOrEqual(t, len(nonce), 32)

		seen[nonce] = true
	}
}
