package conn

import (
	"testing"

	"github.com/AgustinSRG/rtmp-connection-core/wire"
)

// spec.md §4.8: Close is idempotent -- only the first call runs the
// teardown sequence, and the phase ends DISCONNECTED.
func TestCloseIsIdempotent(t *testing.T) {
	scope := &fakeScope{}
	c := newTestConnection(newFakeTransport(), nil, scope, &fakeScheduler{}, &fakePool{})
	c.state.setPhase(PhaseConnected)

	id := c.streams.reserveStreamId()
	c.streams.newStream(id, StreamKindBroadcast)

	c.Close()
	if c.state.getPhase() != PhaseDisconnected {
		t.Fatalf("phase after Close() = %v, want DISCONNECTED", c.state.getPhase())
	}
	if len(scope.deleted) != 1 || scope.deleted[0] != id {
		t.Fatalf("scope.deleted = %v, want [%d]", scope.deleted, id)
	}

	// Second call must not re-run step 3 (no further deletions).
	c.Close()
	if len(scope.deleted) != 1 {
		t.Fatalf("scope.deleted after second Close() = %v, want still [%d]", scope.deleted, id)
	}
}

// Close fails every pending RPC call with NOT_CONNECTED (spec.md §4.8,
// prior to/concurrently with step 3).
func TestCloseFailsPendingCalls(t *testing.T) {
	c := newTestConnection(newFakeTransport(), nil, &fakeScope{}, &fakeScheduler{}, &fakePool{})
	c.state.setPhase(PhaseConnected)

	var gotStatus string
	call := &Call{Method: "createStream", Async: true, Callback: func(pc *PendingCall, status string) {
		gotStatus = status
	}}
	if err := c.rpc.invoke(call, 3); err != nil {
		t.Fatalf("invoke() error: %v", err)
	}

	c.Close()

	if gotStatus != StatusNotConnected {
		t.Fatalf("pending call status = %q, want %q", gotStatus, StatusNotConnected)
	}
}

// Write after Close returns ErrNotConnected rather than touching the
// transport.
func TestWriteAfterCloseFails(t *testing.T) {
	transport := newFakeTransport()
	c := newTestConnection(transport, nil, &fakeScope{}, &fakeScheduler{}, &fakePool{})
	c.Close()

	if err := c.Write(&wire.Packet{ChannelID: 4}); err != ErrNotConnected {
		t.Fatalf("Write() after Close() error = %v, want ErrNotConnected", err)
	}
}

// Video packets increment the per-stream pending counter while the write
// is in flight and decrement it once the transport accepts it (spec.md §3
// VideoPending).
func TestWriteTracksVideoPending(t *testing.T) {
	transport := newFakeTransport()
	c := newTestConnection(transport, nil, &fakeScope{}, &fakeScheduler{}, &fakePool{})

	p := &wire.Packet{StreamID: 1, DataType: wire.TypeVideo}
	if err := c.Write(p); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if got := c.videoPending.get(1); got != 0 {
		t.Fatalf("videoPending.get(1) = %d, want 0 after a completed write", got)
	}
}
