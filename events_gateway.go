package gearbox

import (
	"context"
	"fmt"
	"time"

	"github.com/WelcomerTeam/Gearbox/discord"
)

const (
	// WebsocketReconnectCloseCode closes a connection while keeping the session resumable.
	WebsocketReconnectCloseCode = 4000
)

type GatewayHandler func(ctx context.Context, shard *Shard, msg *discord.GatewayPayload, trace *Trace) error

var gatewayEvents = make(map[discord.GatewayOp]GatewayHandler)

func RegisterGatewayEvent(eventType discord.GatewayOp, handler GatewayHandler) {
	gatewayEvents[eventType] = handler
}

func gatewayOpDispatch(ctx context.Context, shard *Shard, msg *discord.GatewayPayload, trace *Trace) error {
	shard.sequence.Store(msg.Sequence)
	shard.cluster.events.Increment()

	trace.Mark("dispatch")

	return shard.OnDispatch(ctx, msg, trace)
}

func gatewayOpHeartbeat(ctx context.Context, shard *Shard, _ *discord.GatewayPayload, _ *Trace) error {
	err := shard.SendEvent(ctx, discord.GatewayOpHeartbeat, shard.sequence.Load())
	if err != nil {
		err = shard.reconnect(ctx, WebsocketReconnectCloseCode)
		if err != nil {
			return fmt.Errorf("failed to reconnect due to heartbeat failure: %w", err)
		}
	}

	return nil
}

func gatewayOpReconnect(ctx context.Context, shard *Shard, _ *discord.GatewayPayload, _ *Trace) error {
	shard.logger.Debug("Shard has been requested to reconnect")

	err := shard.reconnect(ctx, WebsocketReconnectCloseCode)
	if err != nil {
		return fmt.Errorf("failed to reconnect due to reconnect event: %w", err)
	}

	return nil
}

// gatewayOpInvalidSession resumes when the gateway allows it. A session that
// cannot be resumed stops the shard.
func gatewayOpInvalidSession(ctx context.Context, shard *Shard, msg *discord.GatewayPayload, _ *Trace) error {
	var resumable bool

	err := unmarshalPayload(msg, &resumable)
	if err != nil {
		return fmt.Errorf("failed to unmarshal invalid session: %w", err)
	}

	shard.logger.Warn("Shard has received an invalid session", "resumable", resumable)

	if !resumable {
		shard.SetResumeInfo(ResumeInfo{ShardID: shard.ShardID})

		return ErrInvalidSession
	}

	err = shard.reconnect(ctx, WebsocketReconnectCloseCode)
	if err != nil {
		return fmt.Errorf("failed to reconnect due to invalid session: %w", err)
	}

	return nil
}

func gatewayOpHello(_ context.Context, shard *Shard, msg *discord.GatewayPayload, _ *Trace) error {
	var hello discord.Hello

	err := unmarshalPayload(msg, &hello)
	if err != nil {
		return fmt.Errorf("failed to unmarshal hello: %w", err)
	}

	if hello.HeartbeatInterval <= 0 {
		return ErrShardInvalidHeartbeatInterval
	}

	shard.heartbeatInterval.Store(time.Duration(hello.HeartbeatInterval) * time.Millisecond)

	return nil
}

func gatewayOpHeartbeatAck(_ context.Context, shard *Shard, _ *discord.GatewayPayload, _ *Trace) error {
	now := time.Now()
	shard.lastHeartbeatAck.Store(now)

	if lastHeartbeatSent := shard.lastHeartbeatSent.Load(); !lastHeartbeatSent.IsZero() {
		UpdateGatewayLatency(
			shard.cluster.identifier,
			shard.ShardID,
			now.Sub(lastHeartbeatSent).Seconds(),
		)
	}

	return nil
}

func init() {
	RegisterGatewayEvent(discord.GatewayOpDispatch, gatewayOpDispatch)
	RegisterGatewayEvent(discord.GatewayOpHeartbeat, gatewayOpHeartbeat)
	RegisterGatewayEvent(discord.GatewayOpReconnect, gatewayOpReconnect)
	RegisterGatewayEvent(discord.GatewayOpInvalidSession, gatewayOpInvalidSession)
	RegisterGatewayEvent(discord.GatewayOpHello, gatewayOpHello)
	RegisterGatewayEvent(discord.GatewayOpHeartbeatACK, gatewayOpHeartbeatAck)
}
