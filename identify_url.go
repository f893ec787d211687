package gearbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/WelcomerTeam/Gearbox/gearboxjson"
	"github.com/valyala/fasthttp"
)

// IdentifyViaURL asks an external service for permission to identify, so
// several processes sharing a token can respect one identify rate limit.
//
// The URL may contain {shard_id}, {shard_count}, {token_hash} and
// {max_concurrency}. A 200 or 204 grants the identify. A 429 is retried after
// X-Retry-After-Ms, or StandardIdentifyLimit when the header is missing.
// Any other status is an error.
type IdentifyViaURL struct {
	client  *fasthttp.Client
	url     string
	headers map[string]string
}

type identifyRequest struct {
	TokenHash      string `json:"token_hash"`
	ShardID        int32  `json:"shard_id"`
	ShardCount     int32  `json:"shard_count"`
	MaxConcurrency int32  `json:"max_concurrency"`
}

func NewIdentifyViaURL(url string, headers map[string]string) *IdentifyViaURL {
	return &IdentifyViaURL{
		client:  &fasthttp.Client{Name: "Gearbox " + Version},
		url:     url,
		headers: headers,
	}
}

func (i *IdentifyViaURL) Identify(ctx context.Context, shard *Shard) error {
	config := shard.cluster.config

	hash := sha256.Sum256([]byte(config.Token))

	payload := identifyRequest{
		TokenHash:      hex.EncodeToString(hash[:]),
		ShardID:        shard.ShardID,
		ShardCount:     config.ShardCount,
		MaxConcurrency: max(config.MaxConcurrency, 1),
	}

	body, err := gearboxjson.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal identify payload: %w", err)
	}

	identifyURL := strings.NewReplacer(
		"{shard_id}", strconv.Itoa(int(payload.ShardID)),
		"{shard_count}", strconv.Itoa(int(payload.ShardCount)),
		"{token_hash}", payload.TokenHash,
		"{max_concurrency}", strconv.Itoa(int(payload.MaxConcurrency)),
	).Replace(i.url)

	for {
		retryAfter, err := i.request(ctx, identifyURL, body)
		if err != nil {
			return err
		}

		if retryAfter == 0 {
			return nil
		}

		shard.logger.Debug("Identify not yet allowed", "retry_after", retryAfter)

		select {
		case <-time.After(retryAfter):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// request returns how long to wait before asking again, or zero once the
// identify is allowed.
func (i *IdentifyViaURL) request(ctx context.Context, identifyURL string, body []byte) (time.Duration, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(identifyURL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	for key, value := range i.headers {
		req.Header.Set(key, value)
	}

	timeout := StandardIdentifyLimit
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}

	err := i.client.DoTimeout(req, resp, timeout)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}

		// Unreachable coordinators are retried like a rate limit.
		return StandardIdentifyLimit, nil
	}

	switch resp.StatusCode() {
	case fasthttp.StatusOK, fasthttp.StatusNoContent:
		return 0, nil
	case fasthttp.StatusTooManyRequests:
		retryAfter, _ := strconv.Atoi(string(resp.Header.Peek("X-Retry-After-Ms")))
		if retryAfter > 0 {
			return time.Duration(retryAfter) * time.Millisecond, nil
		}

		return StandardIdentifyLimit, nil
	default:
		return 0, fmt.Errorf("%w: status %d", ErrIdentifyRejected, resp.StatusCode())
	}
}
