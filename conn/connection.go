package conn

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/AgustinSRG/rtmp-connection-core/wire"
)

// DefaultWindowAckSize and DefaultChunkSize are conventional values for the
// window acknowledgement size and the chunk size. The connection never
// sends them on its own: SetBandwidth writes the window size its caller
// passes (spec.md §4.7).
const (
	DefaultWindowAckSize = 2500000
	DefaultChunkSize     = 4096
)

// Connection is C7: the per-session facade composing protocol state,
// channel table, stream registry, RPC ledger, liveness monitor, dispatch
// pipeline, and video-pending counters over an injected Transport and
// Handler (spec.md §2, §6). It never implements Transport, Handler,
// Scheduler, WorkerPool, or Scope itself — those are external
// collaborators supplied at construction.
type Connection struct {
	id            string
	clientID      string
	remoteAddress string
	host          string
	path          string
	params        map[string]interface{}

	transport Transport
	handler   Handler
	scope     Scope
	log       Logger

	state    *protocolState
	channels *channelTable
	streams  *streamRegistry
	rpc      *rpcLedger
	liveness *livenessMonitor
	dispatch *dispatchState
	videoPending *videoPendingCounters

	limitType byte // wire.LimitHard/LimitSoft/LimitDynamic, advertised by setBandwidth

	// encoderLock and decoderLock serialise codec-touching critical
	// sections (spec.md §5). sync.Mutex starvation mode gives them FIFO
	// behaviour under sustained contention, which is as close to a fair
	// semaphore as the standard library offers without pulling in a
	// dedicated package none of the examples use.
	encoderLock sync.Mutex
	decoderLock sync.Mutex

	closed atomic.Bool

	writtenMessages atomic.Uint64
	droppedMessages atomic.Uint64
}

// Tuning overrides the liveness monitor's and dispatch pipeline's
// defaults for a single Connection (spec.md §3 LivenessState,
// DispatchState). A nil *Tuning passed to NewConnection keeps every
// built-in default (DefaultHandshakeTimeoutMs, DefaultKeepAliveIntervalMs,
// DefaultMaxInactivityMs, DefaultBytesReadInterval, and
// queueThresholdForAudioDrop/maxHandlingTimeoutMs left at 0/disabled).
// Fields left at their zero value behave exactly as spec.md documents for
// 0 (pingIntervalMs and queueThresholdForAudioDrop are both "0 disables").
type Tuning struct {
	MaxHandshakeTimeoutMs      uint64
	PingIntervalMs             uint64
	MaxInactivityMs            int64
	QueueThresholdForAudioDrop int64
	MaxHandlingTimeoutMs       int64
	BytesReadInterval          uint64
}

// NewConnection wires every internal component together over the given
// collaborators. sched and pool may be nil in tests that don't exercise
// liveness/dispatch. tuning may be nil to keep every built-in default.
func NewConnection(id string, remoteAddress string, transport Transport, handler Handler, scope Scope, sched Scheduler, pool WorkerPool, logger Logger, tuning *Tuning) *Connection {
	if logger == nil {
		logger = &noopLogger{}
	}
	c := &Connection{
		id:            id,
		remoteAddress: remoteAddress,
		transport:     transport,
		handler:       handler,
		scope:         scope,
		log:           logger,
		limitType:     wire.LimitDynamic,
	}
	c.state = newProtocolState()
	c.channels = newChannelTable(c)
	c.streams = newStreamRegistry(c, scope)
	c.rpc = newRPCLedger(c)
	c.liveness = newLivenessMonitor(c, sched)
	c.dispatch = newDispatchState(c, pool)
	c.videoPending = newVideoPendingCounters()
	if tuning != nil {
		c.liveness.maxHandshakeTimeoutMs = tuning.MaxHandshakeTimeoutMs
		c.liveness.pingIntervalMs = tuning.PingIntervalMs
		c.liveness.maxInactivityMs = tuning.MaxInactivityMs
		c.dispatch.queueThresholdForAudioDrop = tuning.QueueThresholdForAudioDrop
		c.dispatch.maxHandlingTimeoutMs = tuning.MaxHandlingTimeoutMs
		if tuning.BytesReadInterval > 0 {
			c.dispatch.bytesReadInterval = tuning.BytesReadInterval
		}
	}
	return c
}

func (c *Connection) logger() Logger { return c.log }

// ID returns the connection's session id.
func (c *Connection) ID() string { return c.id }

// ClientID returns the external Client id bound at connect time, or "" if
// none has been bound yet (spec.md S1).
func (c *Connection) ClientID() string { return c.clientID }

// RemoteAddress returns the peer address recorded at construction
// (spec.md S2).
func (c *Connection) RemoteAddress() string { return c.remoteAddress }

func (c *Connection) wireEncoding() wire.Encoding {
	if c.state.getEncoding() == encodingAMF3 {
		return wire.AMF3
	}
	return wire.AMF0
}

// open initialises internal structures and schedules the handshake-wait
// guard (spec.md §4.7).
func (c *Connection) Open() {
	c.state.setPhase(PhaseHandshake)
	c.liveness.start()
}

// connect binds the connection to scope, transitioning CONNECT ->
// CONNECTED on success. On rejection the handshake-wait guard is
// cancelled and a ClientRejected error is returned (spec.md §4.7).
func (c *Connection) Connect(scope Scope, clientID string) error {
	c.state.setPhase(PhaseConnect)
	if scope == nil {
		c.liveness.stop()
		c.state.setPhase(PhaseDisconnected)
		return &ClientRejected{Reason: "no scope available to bind connection"}
	}
	c.scope = scope
	c.streams.scope = scope
	c.clientID = clientID
	c.state.setPhase(PhaseConnected)
	c.liveness.armKeepAlive()
	return nil
}

// setup records connection metadata and switches to AMF3 when the peer
// advertised objectEncoding == 3 (spec.md §4.7).
func (c *Connection) Setup(host, path string, params map[string]interface{}) {
	c.host = host
	c.path = path
	c.params = params
	if params != nil {
		if enc, ok := params["objectEncoding"]; ok {
			if n, ok := enc.(float64); ok && n == 3 {
				c.state.setEncoding(encodingAMF3)
			}
		}
	}
}

// setBandwidth writes a ServerBW then a ClientBW on channel 2 using the
// connection's configured limit type (spec.md §4.7).
func (c *Connection) SetBandwidth(windowSize uint32) error {
	if err := c.Write(wire.BuildWindowAckSize(windowSize)); err != nil {
		return err
	}
	return c.Write(wire.BuildSetPeerBandwidth(windowSize, c.limitType))
}

// ping writes an explicit Ping on channel 2 (spec.md §4.7 ping(msg)).
func (c *Connection) Ping(eventType uint16, value1 uint32) error {
	return c.Write(wire.BuildPing(eventType, value1, false, 0))
}

// write serialises through the encoder lock and the Transport, tracking
// video-pending accounting and written/dropped counters around the call
// (spec.md §4.7 write/writingMessage/messageSent).
func (c *Connection) Write(p *wire.Packet) error {
	if c.closed.Load() || c.transport == nil {
		return ErrNotConnected
	}
	c.encoderLock.Lock()
	defer c.encoderLock.Unlock()

	c.writingMessage(p)
	if err := c.transport.Write(p); err != nil {
		c.messageDropped()
		return err
	}
	c.messageSent(p)
	return nil
}

// writeRaw bypasses packet framing for pre-encoded bytes (handshake
// bytes, for instance), still serialised by the encoder lock.
func (c *Connection) WriteRaw(b []byte) error {
	if c.closed.Load() || c.transport == nil {
		return ErrNotConnected
	}
	c.encoderLock.Lock()
	defer c.encoderLock.Unlock()
	return c.transport.WriteRaw(b)
}

func (c *Connection) writingMessage(p *wire.Packet) {
	if p.DataType == wire.TypeVideo {
		c.videoPending.increment(p.StreamID)
	}
}

func (c *Connection) messageSent(p *wire.Packet) {
	if p.DataType == wire.TypeVideo {
		c.videoPending.decrement(p.StreamID)
	}
	c.writtenMessages.Add(1)
}

func (c *Connection) messageDropped() {
	c.droppedMessages.Add(1)
}

// sendSharedObjectMessage builds and writes a shared-object message on
// channel 3, choosing the flex variant under AMF3. Failures are logged,
// never propagated (spec.md §4.7).
func (c *Connection) SendSharedObjectMessage(name string, version uint32, persistent bool, events []wire.SharedObjectEvent) {
	packet := wire.BuildSharedObjectMessage(name, version, persistent, c.wireEncoding(), events)
	if err := c.Write(packet); err != nil {
		c.log.Warning(fmt.Sprintf("failed to send shared object message %q: %v", name, err))
	}
}

// DispatchEventKind classifies an outbound application event passed to
// dispatchEvent (spec.md §4.7).
type DispatchEventKind int

const (
	EventClientInvoke DispatchEventKind = iota
	EventClientNotify
)

// DispatchEvent is an application-originated outbound call (spec.md §4.7
// dispatchEvent).
type DispatchEvent struct {
	Kind    DispatchEventKind
	Call    *Call
	Channel uint32 // defaults to wire.ChannelInvoke when zero
}

// dispatchEvent routes an outbound application event to invoke or notify;
// anything else is logged and ignored (spec.md §4.7).
func (c *Connection) DispatchEvent(event DispatchEvent) error {
	channel := event.Channel
	if channel == 0 {
		channel = wire.ChannelInvoke
	}
	switch event.Kind {
	case EventClientInvoke:
		return c.rpc.invoke(event.Call, channel)
	case EventClientNotify:
		return c.rpc.notify(event.Call, channel)
	default:
		c.log.Warning(fmt.Sprintf("dispatchEvent: unrecognised event kind %v, ignoring", event.Kind))
		return nil
	}
}

// MessageReceived is the inbound entry point fed by the transport reader
// (spec.md §4.6). It intercepts Ping responses for the liveness monitor,
// then routes everything through the dispatch pipeline.
func (c *Connection) MessageReceived(p *wire.Packet) {
	c.dispatch.messageReceived(len(p.Payload))

	if p.DataType == wire.TypeControl {
		if eventType, value1, value2, hasValue2 := wire.ParsePing(p.Payload); eventType == wire.ControlPingResponse && hasValue2 {
			c.liveness.pingReceived(value2)
			_ = value1
		}
	}

	c.dispatch.handleMessageReceived(p, c.handler)
}

// markInactive is invoked by the liveness monitor when the peer appears
// dead; it closes the connection with a descriptive reason.
func (c *Connection) MarkInactive(reason string) {
	c.log.Warning(fmt.Sprintf("%s: %s", c.id, reason))
	c.Close()
}

// rejectClient closes the connection because the peer violated protocol
// expectations (spec.md §7 ClientRejected).
func (c *Connection) RejectClient(reason string) {
	c.log.Warning(fmt.Sprintf("%s: rejecting client: %s", c.id, reason))
	c.Close()
}

// CloseStream tears down a single stream without closing the whole
// connection, the per-stream counterpart of Close's step 3 (spec.md §4.3
// unreserveStreamId), exposed for remote admin close-stream commands.
func (c *Connection) CloseStream(streamID uint32) {
	if c.scope != nil {
		if svc := c.scope.StreamService(); svc != nil {
			svc.DeleteStream(c, streamID)
		}
	}
	c.streams.unreserveStreamId(streamID)
}

// close is the idempotent C9 teardown (spec.md §4.8). Only the first
// caller executes the sequence; every other caller returns immediately.
func (c *Connection) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}

	// 1. Cancel handshake-wait and keep-alive tasks.
	c.liveness.stop()

	// 2. Phase transition.
	if c.state.getPhase() == PhaseDisconnected {
		c.log.Debug(fmt.Sprintf("%s: close() called twice", c.id))
		return
	}
	c.state.setPhase(PhaseDisconnecting)

	// Prior to/concurrently with (3): fail every surviving pending call.
	c.rpc.failAllPending()

	// 3. Delete every live stream via the scope's stream service.
	if c.scope != nil {
		if svc := c.scope.StreamService(); svc != nil {
			for _, id := range c.streams.liveStreamIDs() {
				svc.DeleteStream(c, id)
			}
		}
	}

	// 4. Base-class close: scope detach / client unregister is the
	// responsibility of the Scope implementation; the core has nothing
	// further of its own to detach here.

	// 5. Clear channels, streams, pending calls/deferred results (already
	// done above), pending-videos, and stream buffers.
	c.channels.clear()
	c.streams.clear()
	c.videoPending.clear()

	// 6. Drain decoder/encoder permits: taking and releasing both locks
	// waits for any in-flight writer or reader to leave its critical
	// section. New writes are already refused, since Write and WriteRaw
	// check the closed flag set at the top of Close.
	c.encoderLock.Lock()
	c.encoderLock.Unlock()
	c.decoderLock.Lock()
	c.decoderLock.Unlock()

	// 7. Finalise phase.
	c.state.setPhase(PhaseDisconnected)
}

// Snapshot is a diagnostic view of connection counters (spec.md S4).
type Snapshot struct {
	Phase           string
	UsedStreams     int
	WrittenMessages uint64
	DroppedMessages uint64
	DroppedAudio    uint64
	ReadMessages    uint64
}

// Snapshot returns a point-in-time diagnostic view of the connection.
func (c *Connection) Snapshot() Snapshot {
	return Snapshot{
		Phase:           c.state.getPhase().String(),
		UsedStreams:     c.streams.usedCount(),
		WrittenMessages: c.writtenMessages.Load(),
		DroppedMessages: c.droppedMessages.Load(),
		DroppedAudio:    c.dispatch.droppedCount(),
		ReadMessages:    c.dispatch.readMessages.Load(),
	}
}

func (c *Connection) String() string {
	return fmt.Sprintf("Connection{id=%s, remote=%s, phase=%s}", c.id, c.remoteAddress, c.state.getPhase())
}
