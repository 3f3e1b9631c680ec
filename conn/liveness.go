package conn

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/AgustinSRG/rtmp-connection-core/wire"
)

// Liveness defaults, expressed in milliseconds to match the Scheduler
// interface (spec.md §3 LivenessState).
const (
	DefaultHandshakeTimeoutMs  = 5_000
	DefaultKeepAliveIntervalMs = 5_000
	DefaultMaxInactivityMs     = 60_000
	CongestionPendingLimit     = 4
)

// livenessMonitor is C5 (spec.md §4.5): a handshake-wait scheduled task and
// a fixed-rate keep-alive task driven by the external Scheduler.
type livenessMonitor struct {
	conn      *Connection
	sched     Scheduler
	handshake CancelHandle
	keepAlive CancelHandle

	maxHandshakeTimeoutMs uint64
	pingIntervalMs        uint64
	maxInactivityMs       int64

	running atomic.Bool // guards a single tick() call at a time

	lastBytesRead      uint64
	lastBytesReadTime  int64 // unix millis
	lastPingSentMs     int64
	lastPongReceivedMs int64
	lastPingRttMs      int64
}

func newLivenessMonitor(c *Connection, sched Scheduler) *livenessMonitor {
	return &livenessMonitor{
		conn:                  c,
		sched:                 sched,
		maxHandshakeTimeoutMs: DefaultHandshakeTimeoutMs,
		pingIntervalMs:        DefaultKeepAliveIntervalMs,
		maxInactivityMs:       DefaultMaxInactivityMs,
	}
}

// start schedules the handshake-wait guard. Cancelled on successful
// connect (spec.md §4.5, §4.7).
func (m *livenessMonitor) start() {
	if m.sched == nil || m.maxHandshakeTimeoutMs == 0 {
		return
	}
	m.handshake = m.sched.ScheduleOnce(func() {
		if m.conn.state.getPhase() != PhaseConnected {
			m.conn.MarkInactive("handshake timed out")
		}
	}, m.maxHandshakeTimeoutMs)
}

// armKeepAlive starts the fixed-rate keep-alive task; a pingInterval of
// zero disables it entirely (spec.md §4.5). Safe to call once.
func (m *livenessMonitor) armKeepAlive() {
	if m.handshake != nil {
		m.handshake.Cancel()
		m.handshake = nil
	}
	if m.sched == nil || m.pingIntervalMs == 0 || m.keepAlive != nil {
		return
	}
	m.keepAlive = m.sched.ScheduleFixedRate(m.tick, m.pingIntervalMs)
}

// tick runs the keep-alive algorithm (spec.md §4.5 steps 1-6). Guarded by
// running so a stuck prior tick cannot overlap with the next.
func (m *livenessMonitor) tick() {
	if !m.running.CompareAndSwap(false, true) {
		return
	}
	defer m.running.Store(false)

	c := m.conn
	if c.state.getPhase() != PhaseConnected {
		return
	}
	if c.transport == nil || !c.transport.IsConnected() {
		c.MarkInactive("transport not connected")
		return
	}

	now := time.Now().UnixMilli()
	read := c.transport.ReadBytes()
	if read != m.lastBytesRead {
		m.lastBytesRead = read
		m.lastBytesReadTime = now
		if m.isIdle(now) {
			c.MarkInactive("peer stopped responding to keep-alive pings")
		}
		return
	}

	if m.lastPongReceivedMs > 0 &&
		m.lastPingSentMs-m.lastPongReceivedMs > m.maxInactivityMs &&
		now-m.lastBytesReadTime > m.maxInactivityMs {
		c.MarkInactive("no bytes read within the inactivity window")
		return
	}

	m.lastPingSentMs = now
	if m.lastPongReceivedMs == 0 {
		m.lastPongReceivedMs = now
	}
	_ = c.Write(wire.BuildPing(wire.ControlPingRequest, uint32(now), true, low32(now)))
}

// isIdle reports whether the last outstanding ping has gone unanswered
// past maxInactivityMs (spec.md §4.5 isIdle()).
func (m *livenessMonitor) isIdle(now int64) bool {
	return m.lastPongReceivedMs > 0 && m.lastPingSentMs-m.lastPongReceivedMs > m.maxInactivityMs
}

// pingReceived processes an inbound PingResponse's value2. A matching
// value2 records the round-trip time; a mismatch logs congestion when
// pendingMessages exceeds CongestionPendingLimit. lastPongReceivedMs is
// always advanced (spec.md §4.5 pingReceived()).
func (m *livenessMonitor) pingReceived(value2 uint32) {
	now := time.Now().UnixMilli()
	if value2 == low32(m.lastPingSentMs) {
		m.lastPingRttMs = int64(low32(now) - value2)
	} else if m.conn.transport != nil && m.conn.transport.PendingMessages() > CongestionPendingLimit {
		m.conn.logger().Warning(fmt.Sprintf("connection is congested: %d pending outbound messages", m.conn.transport.PendingMessages()))
	}
	m.lastPongReceivedMs = now
}

func (m *livenessMonitor) rtt() int64 {
	return m.lastPingRttMs
}

func (m *livenessMonitor) stop() {
	if m.handshake != nil {
		m.handshake.Cancel()
	}
	if m.keepAlive != nil {
		m.keepAlive.Cancel()
	}
}

// low32 mirrors the wire ping event's 32-bit millisecond truncation
// (spec.md §4.5, §6 glossary low32).
func low32(v int64) uint32 {
	return uint32(v)
}
