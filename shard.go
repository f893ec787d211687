package gearbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"runtime"
	"sync"
	"time"

	"github.com/WelcomerTeam/Gearbox/discord"
	"github.com/WelcomerTeam/Gearbox/gearboxjson"
	"github.com/WelcomerTeam/Gearbox/pkg/limiter"
	"github.com/coder/websocket"
	"github.com/klauspost/compress/zlib"
	"go.uber.org/atomic"
)

var (
	// Number of connect attempts a reconnect makes before giving up on a shard.
	ShardConnectRetries = int32(5)

	// Number of heartbeat intervals without an ACK before the connection is considered dead.
	ShardMaxHeartbeatFailures = int32(5)

	ShardReconnectBackoff    = time.Second
	ShardReconnectMaxBackoff = time.Minute

	GatewayLargeThreshold = int32(100)
)

// Shard is one gateway connection. Events are read and handled in order on
// the goroutine running Start.
type Shard struct {
	logger  *slog.Logger
	cluster *Cluster

	ShardID int32

	conn *atomic.Pointer[websocket.Conn]

	sequence         *atomic.Int32
	sessionID        *atomic.String
	resumeGatewayURL *atomic.String

	heartbeatInterval *atomic.Duration
	lastHeartbeatAck  *atomic.Time
	lastHeartbeatSent *atomic.Time

	heartbeatMu     sync.Mutex
	heartbeatCancel context.CancelFunc

	stopping *atomic.Bool

	websocketRatelimit *limiter.DurationLimiter

	ready chan struct{}
	done  chan struct{}

	exitErr *atomic.Error

	gatewayPayloadPool *sync.Pool
}

func NewShard(cluster *Cluster, shardID int32) *Shard {
	return &Shard{
		logger:  cluster.logger.With("shard_id", shardID),
		cluster: cluster,

		ShardID: shardID,

		conn: atomic.NewPointer[websocket.Conn](nil),

		sequence:         atomic.NewInt32(0),
		sessionID:        atomic.NewString(""),
		resumeGatewayURL: atomic.NewString(""),

		heartbeatInterval: atomic.NewDuration(0),
		lastHeartbeatAck:  atomic.NewTime(time.Time{}),
		lastHeartbeatSent: atomic.NewTime(time.Time{}),

		stopping: atomic.NewBool(false),

		// The gateway allows 120 commands a minute. Heartbeats are not
		// limited, so leave room for them.
		websocketRatelimit: limiter.NewDurationLimiter(110, time.Minute),

		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),

		exitErr: atomic.NewError(nil),

		gatewayPayloadPool: &sync.Pool{
			New: func() any {
				return &discord.GatewayPayload{}
			},
		},
	}
}

func (shard *Shard) setState(state ShardState) {
	err := shard.cluster.states.SetState(shard.ShardID, state)
	if err != nil {
		shard.logger.Error("Failed to set shard state", "error", err)

		return
	}

	shard.logger.Debug("Shard state updated", "state", state.String())
}

func (shard *Shard) State() ShardState {
	state, _ := shard.cluster.states.GetState(shard.ShardID)

	return state
}

// ResumeInfo returns the session this shard would resume.
func (shard *Shard) ResumeInfo() ResumeInfo {
	return ResumeInfo{
		ShardID:          shard.ShardID,
		ResumeGatewayURL: shard.resumeGatewayURL.Load(),
		SessionID:        shard.sessionID.Load(),
		Sequence:         shard.sequence.Load(),
	}
}

// SetResumeInfo seeds the session used by the next Connect.
func (shard *Shard) SetResumeInfo(info ResumeInfo) {
	shard.resumeGatewayURL.Store(info.ResumeGatewayURL)
	shard.sessionID.Store(info.SessionID)
	shard.sequence.Store(info.Sequence)
}

// Connect dials the gateway, waits for HELLO and then resumes the stored
// session or identifies.
func (shard *Shard) Connect(ctx context.Context) (err error) {
	shard.setState(ShardStateConnecting)

	// Empties the ready channel.
	select {
	case <-shard.ready:
	default:
	}

	shard.closeConn(websocket.StatusNormalClosure)

	info := shard.ResumeInfo()

	websocketURL := shard.cluster.config.GatewayURL
	if info.Resumable() && info.ResumeGatewayURL != "" {
		websocketURL = info.ResumeGatewayURL
	}

	websocketURL += "?v=10&encoding=json"

	shard.logger.Debug("Dialing websocket", "url", websocketURL)

	conn, _, err := websocket.Dial(ctx, websocketURL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial websocket: %w", err)
	}

	conn.SetReadLimit(-1)
	shard.conn.Store(conn)

	defer func() {
		if err != nil {
			shard.closeConn(websocket.StatusNormalClosure)
		}
	}()

	payload, err := shard.read(ctx, conn)
	if err != nil {
		return fmt.Errorf("failed to read initial payload: %w", err)
	}

	if payload.Op != discord.GatewayOpHello {
		op := payload.Op
		shard.gatewayPayloadPool.Put(payload)

		return fmt.Errorf("%w: expected hello, got op %d", ErrShardConnectFailed, op)
	}

	err = gatewayOpHello(ctx, shard, payload, nil)
	shard.gatewayPayloadPool.Put(payload)

	if err != nil {
		return err
	}

	now := time.Now()
	shard.lastHeartbeatAck.Store(now)
	shard.lastHeartbeatSent.Store(now)

	shard.startHeartbeat(ctx, conn)

	if info.Resumable() {
		shard.setState(ShardStateResuming)

		err = shard.resume(ctx, info)
		if err != nil {
			return fmt.Errorf("failed to resume: %w", err)
		}
	} else {
		shard.setState(ShardStateIdentifying)

		err = shard.identify(ctx)
		if err != nil {
			return fmt.Errorf("failed to identify: %w", err)
		}
	}

	if presenceErr := shard.UpdatePresence(ctx, &shard.cluster.config.StartupPresence); presenceErr != nil {
		shard.logger.Warn("Failed to send startup presence", "error", presenceErr)
	}

	shard.setState(ShardStateConnected)

	return nil
}

// Start handles events until the shard is stopped, ctx is done or the
// session can no longer be used.
func (shard *Shard) Start(ctx context.Context) (err error) {
	defer func() {
		shard.exitErr.Store(err)
		close(shard.done)
	}()

	for {
		err = shard.Listen(ctx)

		switch {
		case err == nil, errors.Is(err, ErrShardStopping), ctx.Err() != nil:
			return nil
		case errors.Is(err, ErrInvalidSession), errors.Is(err, ErrShardConnectFailed), !isRecoverable(err):
			shard.logger.Error("Shard stopped", "error", err)
			shard.stopHeartbeat()
			shard.closeConn(websocket.StatusNormalClosure)
			shard.setState(ShardStateDisconnected)

			return err
		}

		shard.logger.Warn("Shard connection lost", "error", err)

		err = shard.reconnect(ctx, WebsocketReconnectCloseCode)
		if err != nil {
			if errors.Is(err, ErrShardStopping) || ctx.Err() != nil {
				return nil
			}

			shard.setState(ShardStateDisconnected)

			return err
		}
	}
}

// Listen reads from the current connection until it fails. Op handlers may
// reconnect inline, so the connection is loaded again for every read.
func (shard *Shard) Listen(ctx context.Context) error {
	for {
		if shard.stopping.Load() {
			return ErrShardStopping
		}

		conn := shard.conn.Load()
		if conn == nil {
			return ErrShardNotConnected
		}

		msg, err := shard.read(ctx, conn)

		if shard.stopping.Load() {
			return ErrShardStopping
		}

		if ctx.Err() != nil {
			return nil
		}

		if err != nil {
			return err
		}

		trace := NewTrace().Mark("receive")

		err = shard.cluster.gate.Enter(ctx)
		if err != nil {
			shard.gatewayPayloadPool.Put(msg)

			if errors.Is(err, ErrGateClosed) {
				return ErrShardStopping
			}

			return nil
		}

		err = shard.OnEvent(ctx, msg, trace)

		shard.cluster.gate.Leave()
		shard.gatewayPayloadPool.Put(msg)

		if err != nil {
			if errors.Is(err, ErrInvalidSession) || errors.Is(err, ErrShardConnectFailed) {
				return err
			}

			shard.logger.Error("Failed to handle event", "error", err)
		}
	}
}

func IsStatusCodeRecoverable(code websocket.StatusCode) bool {
	return code != discord.CloseNotAuthenticated &&
		code != discord.CloseAuthenticationFailed &&
		code != discord.CloseAlreadyAuthenticated &&
		code != discord.CloseInvalidShard &&
		code != discord.CloseShardingRequired &&
		code != discord.CloseInvalidAPIVersion &&
		code != discord.CloseInvalidIntents &&
		code != discord.CloseDisallowedIntents
}

func isRecoverable(err error) bool {
	code := websocket.CloseStatus(err)
	if code == -1 {
		return true
	}

	return IsStatusCodeRecoverable(code)
}

func (shard *Shard) reconnect(ctx context.Context, code websocket.StatusCode) error {
	shard.setState(ShardStateReconnecting)

	shard.stopHeartbeat()
	shard.closeConn(code)

	return shard.ConnectWithRetry(ctx)
}

// ConnectWithRetry calls Connect with capped exponential backoff, giving up
// after ShardConnectRetries attempts or on a close code that cannot recover.
func (shard *Shard) ConnectWithRetry(ctx context.Context) error {
	wait := ShardReconnectBackoff

	for attempt := int32(1); ; attempt++ {
		if shard.stopping.Load() {
			return ErrShardStopping
		}

		err := shard.Connect(ctx)
		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !isRecoverable(err) || attempt >= ShardConnectRetries {
			return fmt.Errorf("%w: %w", ErrShardConnectFailed, err)
		}

		shard.logger.Warn("Failed to connect shard", "error", err, "attempt", attempt, "wait", wait)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}

		wait = min(wait*2, ShardReconnectMaxBackoff)
	}
}

// Stop closes the connection. Closing with WebsocketReconnectCloseCode keeps
// the session resumable.
func (shard *Shard) Stop(_ context.Context, code websocket.StatusCode) {
	shard.logger.Debug("Shard is stopping", "code", code)

	shard.stopping.Store(true)
	shard.stopHeartbeat()
	shard.closeConn(code)
	shard.setState(ShardStateDisconnected)
}

func (shard *Shard) closeConn(code websocket.StatusCode) {
	conn := shard.conn.Swap(nil)
	if conn == nil {
		return
	}

	_ = conn.Close(code, "")
}

// WaitForReady blocks until READY or RESUMED is handled.
func (shard *Shard) WaitForReady(ctx context.Context) error {
	select {
	case <-shard.ready:
		return nil
	case <-shard.done:
		if err := shard.exitErr.Load(); err != nil {
			return err
		}

		return ErrShardStopping
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (shard *Shard) markReady() {
	shard.setState(ShardStateReady)

	select {
	case shard.ready <- struct{}{}:
	default:
	}
}

func (shard *Shard) startHeartbeat(ctx context.Context, conn *websocket.Conn) {
	heartbeatCtx, cancel := context.WithCancel(ctx)

	shard.heartbeatMu.Lock()
	if shard.heartbeatCancel != nil {
		shard.heartbeatCancel()
	}

	shard.heartbeatCancel = cancel
	shard.heartbeatMu.Unlock()

	go shard.heartbeat(heartbeatCtx, conn)
}

func (shard *Shard) stopHeartbeat() {
	shard.heartbeatMu.Lock()
	defer shard.heartbeatMu.Unlock()

	if shard.heartbeatCancel != nil {
		shard.heartbeatCancel()
		shard.heartbeatCancel = nil
	}
}

// heartbeat closes conn once heartbeats fail, which makes Listen reconnect.
func (shard *Shard) heartbeat(ctx context.Context, conn *websocket.Conn) {
	interval := shard.heartbeatInterval.Load()

	// Jitter the first beat so shards do not heartbeat in lockstep.
	timer := time.NewTimer(time.Duration(rand.Int64N(int64(interval) + 1)))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		now := time.Now()

		if now.Sub(shard.lastHeartbeatAck.Load()) > interval*time.Duration(ShardMaxHeartbeatFailures) {
			shard.logger.Error("Heartbeat failed", "error", "timeout")
			shard.closeConnIfCurrent(conn)

			return
		}

		err := shard.sendOn(ctx, conn, discord.GatewayOpHeartbeat, shard.sequence.Load())
		shard.lastHeartbeatSent.Store(now)

		if err != nil {
			if ctx.Err() == nil {
				shard.logger.Error("Heartbeat failed", "error", err)
				shard.closeConnIfCurrent(conn)
			}

			return
		}

		timer.Reset(interval)
	}
}

func (shard *Shard) closeConnIfCurrent(conn *websocket.Conn) {
	if shard.conn.CompareAndSwap(conn, nil) {
		_ = conn.Close(WebsocketReconnectCloseCode, "heartbeat failed")
	}
}

func (shard *Shard) identify(ctx context.Context) error {
	config := shard.cluster.config

	shard.logger.Debug("Shard is identifying", "shard_count", config.ShardCount)

	err := shard.cluster.identifyProvider.Identify(ctx, shard)
	if err != nil {
		return fmt.Errorf("failed to wait for identify: %w", err)
	}

	return shard.SendEvent(ctx, discord.GatewayOpIdentify, discord.Identify{
		Properties: discord.IdentifyProperties{
			OS:      runtime.GOOS,
			Browser: "Gearbox " + Version,
			Device:  "Gearbox " + Version,
		},
		Presence:       &config.Presence,
		Token:          config.Token,
		Shard:          [2]int32{shard.ShardID, config.ShardCount},
		LargeThreshold: GatewayLargeThreshold,
		Intents:        config.Intents,
		Compress:       true,
	})
}

func (shard *Shard) resume(ctx context.Context, info ResumeInfo) error {
	shard.logger.Debug("Shard is resuming", "sequence", info.Sequence)

	return shard.SendEvent(ctx, discord.GatewayOpResume, discord.Resume{
		Token:     shard.cluster.config.Token,
		SessionID: info.SessionID,
		Sequence:  info.Sequence,
	})
}

// UpdatePresence sends a presence update command.
func (shard *Shard) UpdatePresence(ctx context.Context, presence *discord.UpdateStatus) error {
	return shard.SendEvent(ctx, discord.GatewayOpStatusUpdate, presence)
}

// RequestGuildMembers asks for every member of a guild. Replies are
// GUILD_MEMBERS_CHUNK events carrying nonce.
func (shard *Shard) RequestGuildMembers(ctx context.Context, guildID discord.Snowflake, nonce string) error {
	return shard.SendEvent(ctx, discord.GatewayOpRequestGuildMembers, discord.RequestGuildMembers{
		GuildID: guildID,
		Nonce:   nonce,
	})
}

func (shard *Shard) SendEvent(ctx context.Context, gatewayOp discord.GatewayOp, data any) error {
	conn := shard.conn.Load()
	if conn == nil {
		return ErrShardNotConnected
	}

	return shard.sendOn(ctx, conn, gatewayOp, data)
}

func (shard *Shard) sendOn(ctx context.Context, conn *websocket.Conn, gatewayOp discord.GatewayOp, data any) error {
	payload, err := gearboxjson.Marshal(discord.SentPayload{
		Op:   gatewayOp,
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	if gatewayOp != discord.GatewayOpHeartbeat {
		err = shard.websocketRatelimit.Wait(ctx)
		if err != nil {
			return fmt.Errorf("failed to wait for ratelimit: %w", err)
		}
	}

	err = conn.Write(ctx, websocket.MessageText, payload)
	if err != nil {
		return fmt.Errorf("failed to write payload: %w", err)
	}

	return nil
}

func (shard *Shard) read(ctx context.Context, conn *websocket.Conn) (*discord.GatewayPayload, error) {
	messageType, data, err := conn.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}

	if messageType == websocket.MessageBinary {
		data, err = inflate(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress payload: %w", err)
		}
	}

	gatewayPayload := shard.gatewayPayloadPool.Get().(*discord.GatewayPayload)
	*gatewayPayload = discord.GatewayPayload{}

	err = gearboxjson.Unmarshal(data, gatewayPayload)
	if err != nil {
		shard.gatewayPayloadPool.Put(gatewayPayload)

		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	return gatewayPayload, nil
}

func inflate(data []byte) ([]byte, error) {
	reader, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

func (shard *Shard) OnEvent(ctx context.Context, msg *discord.GatewayPayload, trace *Trace) error {
	if f, ok := gatewayEvents[msg.Op]; ok {
		return f(ctx, shard, msg, trace)
	}

	shard.logger.Debug("Received unknown gateway op", "op", msg.Op)

	return nil
}

func (shard *Shard) OnDispatch(ctx context.Context, msg *discord.GatewayPayload, trace *Trace) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if shard.cluster.panicHandler != nil {
				shard.cluster.panicHandler(shard.cluster, r)
			}

			err = nil
		}
	}()

	err = shard.cluster.router.Dispatch(ctx, shard, msg, trace)
	if err != nil {
		if errors.Is(err, ErrInvalidSession) {
			return err
		}

		shard.logger.Error("Failed to dispatch event", "type", msg.Type, "error", err)
	}

	return nil
}
