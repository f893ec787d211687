package gearbox

import (
	"context"
	"time"
)

var (
	StandardIdentifyLimit = 5 * time.Second
	IdentifyRateLimit     = StandardIdentifyLimit + (time.Millisecond * 500)
)

// IdentifyProvider blocks until the shard is allowed to send IDENTIFY.
type IdentifyProvider interface {
	Identify(ctx context.Context, shard *Shard) error
}
