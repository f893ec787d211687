package gearbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/WelcomerTeam/Gearbox/discord"
)

// DispatchHandler applies one dispatch event. When forward is true the result
// is handed to the command pipeline.
type DispatchHandler func(ctx context.Context, shard *Shard, msg *discord.GatewayPayload, trace *Trace) (result DispatchResult, forward bool, err error)

func NewTrace() *Trace {
	t := make(Trace)

	return &t
}

// Trace records unix nano timestamps of an event as it moves through the process.
type Trace map[string]int64

func (t *Trace) Set(key string, value int64) *Trace {
	(*t)[key] = value

	return t
}

func (t *Trace) Mark(key string) *Trace {
	return t.Set(key, time.Now().UnixNano())
}

type DispatchResult struct {
	Message *discord.MessageCreate
}

var dispatchHandlers = make(map[string]DispatchHandler)

func registerDispatchHandler(eventType string, handler DispatchHandler) {
	dispatchHandlers[eventType] = handler
}

// EventRouter is the single entry point from a shard's event stream into the
// cache and the command pipeline.
type EventRouter struct {
	dispatchHandlers map[string]DispatchHandler
	eventBlacklist   map[string]struct{}

	pipeline CommandPipeline
}

func NewEventRouter(eventBlacklist []string, pipeline CommandPipeline) *EventRouter {
	blacklist := make(map[string]struct{}, len(eventBlacklist))
	for _, eventType := range eventBlacklist {
		blacklist[eventType] = struct{}{}
	}

	if pipeline == nil {
		pipeline = NoopPipeline{}
	}

	return &EventRouter{
		dispatchHandlers: dispatchHandlers,
		eventBlacklist:   blacklist,
		pipeline:         pipeline,
	}
}

// Dispatch applies the event and forwards it if the handler allows.
// Events without a handler are ignored.
func (r *EventRouter) Dispatch(ctx context.Context, shard *Shard, msg *discord.GatewayPayload, trace *Trace) error {
	if _, blacklisted := r.eventBlacklist[msg.Type]; blacklisted {
		return nil
	}

	handler, ok := r.dispatchHandlers[msg.Type]
	if !ok {
		return nil
	}

	RecordEvent(shard.cluster.identifier, msg.Type)

	result, forward, err := handler(ctx, shard, msg, trace)
	if err != nil {
		if errors.Is(err, ErrInvalidSession) {
			return err
		}

		return fmt.Errorf("failed to dispatch %s: %w", msg.Type, err)
	}

	if !forward || result.Message == nil {
		return nil
	}

	trace.Mark("forward")

	ctx = WithShardID(ctx, shard.ShardID)
	if result.Message.GuildID != nil {
		ctx = WithGuildID(ctx, *result.Message.GuildID)
	}

	err = r.pipeline.Forward(ctx, shard, result.Message, trace)
	if err != nil {
		return fmt.Errorf("failed to forward message: %w", err)
	}

	return nil
}
