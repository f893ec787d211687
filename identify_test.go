package gearbox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/WelcomerTeam/Gearbox/gearboxjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentifyViaBucketsSharesBucketsByConcurrency(t *testing.T) {
	t.Parallel()

	cluster, shard, _ := newRouterCluster(t, 220, func(c *Configuration) {
		c.ShardCount = 2
		c.ShardIDs = "0-1"
		c.MaxConcurrency = 2
	})
	other := NewShard(cluster, 1)

	provider := NewIdentifyViaBuckets(time.Hour)
	ctx := context.Background()

	require.NoError(t, provider.Identify(ctx, shard))
	require.NoError(t, provider.Identify(ctx, other), "shards in different buckets identify together")

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, provider.Identify(waitCtx, shard), context.DeadlineExceeded)
}

func TestIdentifyViaURL(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		paths    []string
		requests []identifyRequest
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var request identifyRequest
		_ = gearboxjson.UnmarshalReader(r.Body, &request)

		mu.Lock()
		paths = append(paths, r.URL.Path)
		requests = append(requests, request)
		attempt := len(requests)
		mu.Unlock()

		assert.Equal(t, "secret", r.Header.Get("Authorization"))

		if attempt == 1 {
			w.Header().Set("X-Retry-After-Ms", "10")
			w.WriteHeader(http.StatusTooManyRequests)

			return
		}

		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(server.Close)

	_, shard, _ := newRouterCluster(t, 221, nil)

	provider := NewIdentifyViaURL(server.URL+"/identify/{shard_id}/{shard_count}", map[string]string{"Authorization": "secret"})

	require.NoError(t, provider.Identify(context.Background(), shard))

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, requests, 2)
	assert.Equal(t, []string{"/identify/0/1", "/identify/0/1"}, paths)
	assert.Equal(t, int32(1), requests[0].ShardCount)
	assert.Len(t, requests[0].TokenHash, 64)
	assert.NotContains(t, requests[0].TokenHash, "token")
}

func TestIdentifyViaURLRejected(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(server.Close)

	_, shard, _ := newRouterCluster(t, 222, nil)

	err := NewIdentifyViaURL(server.URL, nil).Identify(context.Background(), shard)
	require.ErrorIs(t, err, ErrIdentifyRejected)
}
