package conn

import (
	"testing"

	"github.com/AgustinSRG/rtmp-connection-core/wire"
)

// spec.md §4.6: once currentQueueSize reaches the configured threshold,
// further audio frames are dropped rather than submitted.
func TestDispatchDropsAudioUnderBackpressure(t *testing.T) {
	handler := &fakeHandler{}
	pool := &fakePool{}
	c := newTestConnection(newFakeTransport(), handler, &fakeScope{}, &fakeScheduler{}, pool)
	c.dispatch.queueThresholdForAudioDrop = 1
	c.dispatch.currentQueueSize.Store(1)

	audio := &wire.Packet{DataType: wire.TypeAudio}
	c.dispatch.handleMessageReceived(audio, handler)

	if handler.count() != 0 {
		t.Fatalf("handler.count() = %d, want 0 (audio frame should have been dropped)", handler.count())
	}
	if got := c.dispatch.droppedCount(); got != 1 {
		t.Fatalf("droppedCount() = %d, want 1", got)
	}
}

// Below the threshold, audio frames still reach the worker pool.
func TestDispatchPassesAudioBelowThreshold(t *testing.T) {
	handler := &fakeHandler{}
	pool := &fakePool{}
	c := newTestConnection(newFakeTransport(), handler, &fakeScope{}, &fakeScheduler{}, pool)
	c.dispatch.queueThresholdForAudioDrop = 10
	c.dispatch.currentQueueSize.Store(1)

	audio := &wire.Packet{DataType: wire.TypeAudio}
	c.dispatch.handleMessageReceived(audio, handler)

	if handler.count() != 1 {
		t.Fatalf("handler.count() = %d, want 1", handler.count())
	}
}

// Control-type packets bypass the worker pool entirely, running inline
// even when the pool would otherwise reject (spec.md §4.6).
func TestDispatchControlTypesRunSynchronously(t *testing.T) {
	handler := &fakeHandler{}
	pool := &fakePool{rejectAll: true}
	c := newTestConnection(newFakeTransport(), handler, &fakeScope{}, &fakeScheduler{}, pool)

	ctrl := &wire.Packet{DataType: wire.TypeSetChunkSize}
	c.dispatch.handleMessageReceived(ctrl, handler)

	if handler.count() != 1 {
		t.Fatalf("handler.count() = %d, want 1 for a synchronously-handled control packet", handler.count())
	}
}

// A panicking handler is recovered and never reaches the caller.
func TestDispatchRecoversHandlerPanic(t *testing.T) {
	c := newTestConnection(newFakeTransport(), nil, &fakeScope{}, &fakeScheduler{}, &fakePool{})

	panicking := handlerFunc(func(conn *Connection, p *wire.Packet) {
		panic("boom")
	})

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("panic escaped handleMessageReceived: %v", r)
		}
	}()
	c.dispatch.handleMessageReceived(&wire.Packet{DataType: wire.TypeSetChunkSize}, panicking)
}

type handlerFunc func(c *Connection, p *wire.Packet)

func (f handlerFunc) MessageReceived(c *Connection, p *wire.Packet) { f(c, p) }
