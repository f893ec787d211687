package gearbox

import (
	"context"
	"fmt"
	"time"

	"github.com/WelcomerTeam/Gearbox/pkg/limiter"
	"github.com/WelcomerTeam/Gearbox/pkg/syncmap"
)

// IdentifyViaBuckets allows one identify per rate limit key at a time, where
// the key is shard_id % max_concurrency. It only coordinates shards within
// this process.
type IdentifyViaBuckets struct {
	buckets  syncmap.Map[int32, *limiter.DurationLimiter]
	interval time.Duration
}

func NewIdentifyViaBuckets(interval time.Duration) *IdentifyViaBuckets {
	if interval <= 0 {
		interval = IdentifyRateLimit
	}

	return &IdentifyViaBuckets{interval: interval}
}

func (i *IdentifyViaBuckets) Identify(ctx context.Context, shard *Shard) error {
	concurrency := max(shard.cluster.config.MaxConcurrency, 1)
	key := shard.ShardID % concurrency

	bucket, _ := i.buckets.LoadOrStore(key, limiter.NewDurationLimiter(1, i.interval))

	err := bucket.Wait(ctx)
	if err != nil {
		return fmt.Errorf("failed to wait for identify bucket %d: %w", key, err)
	}

	return nil
}
