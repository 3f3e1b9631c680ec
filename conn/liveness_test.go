package conn

import (
	"testing"
	"time"

	"github.com/AgustinSRG/rtmp-connection-core/wire"
)

// spec.md §4.5: a PingResponse whose value2 matches the last ping sent
// (truncated to 32 bits) records a round-trip time.
func TestLivenessPingReceivedComputesRTT(t *testing.T) {
	c := newTestConnection(newFakeTransport(), nil, &fakeScope{}, &fakeScheduler{}, nil)

	sentAt := time.Now().UnixMilli()
	c.liveness.lastPingSentMs = sentAt

	c.liveness.pingReceived(low32(sentAt))

	if c.liveness.rtt() < 0 {
		t.Fatalf("rtt() = %d, want >= 0 after a matching ping response", c.liveness.rtt())
	}
	if c.liveness.lastPongReceivedMs == 0 {
		t.Fatal("lastPongReceivedMs should be set after any pingReceived call")
	}
}

// A mismatched value2 (not the last ping sent) must not update the RTT,
// though lastPongReceivedMs still advances (spec.md §4.5 pingReceived()).
func TestLivenessPingReceivedMismatchLeavesRTTUnchanged(t *testing.T) {
	c := newTestConnection(newFakeTransport(), nil, &fakeScope{}, &fakeScheduler{}, nil)

	c.liveness.lastPingSentMs = time.Now().UnixMilli()
	c.liveness.lastPingRttMs = 12345

	c.liveness.pingReceived(uint32(0xDEADBEEF))

	if c.liveness.rtt() != 12345 {
		t.Fatalf("rtt() = %d, want unchanged 12345 after a mismatched value2", c.liveness.rtt())
	}
}

// tick() transitions the connection to inactive when the transport
// reports disconnected (spec.md §4.5 step 2).
func TestLivenessTickMarksInactiveWhenTransportDown(t *testing.T) {
	transport := newFakeTransport()
	transport.connected = false
	c := newTestConnection(transport, nil, &fakeScope{}, &fakeScheduler{}, nil)
	c.state.setPhase(PhaseConnected)

	c.liveness.tick()

	if c.state.getPhase() != PhaseDisconnected {
		t.Fatalf("phase = %v, want DISCONNECTED after tick() on a dead transport", c.state.getPhase())
	}
}

// tick() is a no-op before the connection reaches CONNECTED.
func TestLivenessTickNoopBeforeConnected(t *testing.T) {
	transport := newFakeTransport()
	c := newTestConnection(transport, nil, &fakeScope{}, &fakeScheduler{}, nil)

	c.liveness.tick()

	if c.state.getPhase() == PhaseDisconnected {
		t.Fatal("tick() should not act before the connection is CONNECTED")
	}
}

// A ping response arriving through MessageReceived reaches the liveness
// monitor rather than the dispatch pipeline's worker pool.
func TestMessageReceivedRoutesPingResponseToLiveness(t *testing.T) {
	handler := &fakeHandler{}
	c := newTestConnection(newFakeTransport(), handler, &fakeScope{}, &fakeScheduler{}, &fakePool{})
	c.state.setPhase(PhaseConnected)
	c.liveness.lastPingSentMs = 42
	c.liveness.lastPongReceivedMs = 0

	p := wire.BuildPing(wire.ControlPingResponse, 42, true, 42)
	c.MessageReceived(p)

	if c.liveness.lastPongReceivedMs == 0 {
		t.Fatal("ping response should have been routed to the liveness monitor")
	}
	// Control packets are still handed to the handler synchronously.
	if handler.count() != 1 {
		t.Fatalf("handler.count() = %d, want 1", handler.count())
	}
}
