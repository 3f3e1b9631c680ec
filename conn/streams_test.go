package conn

import (
	"testing"

	"github.com/AgustinSRG/rtmp-connection-core/wire"
)

// spec.md §8 property 1: successive reserveStreamId calls on a fresh
// registry yield 1, 2, 3, ...
func TestReserveStreamIdOrdering(t *testing.T) {
	c := newTestConnection(newFakeTransport(), nil, &fakeScope{}, nil, nil)
	for want := uint32(1); want <= 5; want++ {
		if got := c.streams.reserveStreamId(); got != want {
			t.Fatalf("reserveStreamId() = %d, want %d", got, want)
		}
	}
}

// spec.md §8 property 2: reserveStreamIdPreferring(n) returns n when free,
// and falls back to the smallest free id otherwise.
func TestReserveStreamIdPreferring(t *testing.T) {
	c := newTestConnection(newFakeTransport(), nil, &fakeScope{}, nil, nil)

	if got := c.streams.reserveStreamIdPreferring(5); got != 5 {
		t.Fatalf("preferring(5) = %d, want 5", got)
	}
	// 5 is now taken; preferring it again must fall back.
	if got := c.streams.reserveStreamIdPreferring(5); got == 5 {
		t.Fatalf("preferring(5) second call returned the already-reserved id")
	}
	if got := c.streams.reserveStreamIdPreferring(0); got == 0 {
		t.Fatalf("preferring(0) should behave like reserveStreamId, got 0")
	}
}

// spec.md §8 property 3: isValidStreamId is false for unreserved, and
// false once a stream is actually registered at that id.
func TestIsValidStreamId(t *testing.T) {
	c := newTestConnection(newFakeTransport(), nil, &fakeScope{}, nil, nil)

	if c.streams.isValidStreamId(1) {
		t.Fatal("id 1 should not be valid before reservation")
	}
	id := c.streams.reserveStreamId()
	if !c.streams.isValidStreamId(id) {
		t.Fatal("reserved id with no bound stream should be valid")
	}
	if c.streams.newStream(id, StreamKindBroadcast) == nil {
		t.Fatal("newStream should succeed for a valid reserved id")
	}
	if c.streams.isValidStreamId(id) {
		t.Fatal("id with a bound stream should no longer be valid")
	}
}

// spec.md §8 property 4: StreamChannels/StreamIDForChannel round-trip,
// and getStreamByChannelId resolves through that mapping.
func TestStreamChannelRoundTrip(t *testing.T) {
	c := newTestConnection(newFakeTransport(), nil, &fakeScope{}, nil, nil)
	id := c.streams.reserveStreamId()
	proto := c.streams.newStream(id, StreamKindBroadcast)
	if proto == nil {
		t.Fatal("expected a bound stream")
	}

	data, video, audio := wire.StreamChannels(id)
	for _, ch := range []uint32{data, video, audio} {
		if got := c.streams.getStreamByChannelId(ch); got == nil {
			t.Fatalf("getStreamByChannelId(%d) returned nil for stream %d", ch, id)
		}
	}
}

// unreserveStreamId both deletes the stream and frees the reservation so
// a later reserve call can reuse the id.
func TestUnreserveStreamIdFreesReservation(t *testing.T) {
	c := newTestConnection(newFakeTransport(), nil, &fakeScope{}, nil, nil)
	id := c.streams.reserveStreamId()
	c.streams.newStream(id, StreamKindBroadcast)

	c.streams.unreserveStreamId(id)
	if c.streams.isValidStreamId(id) {
		t.Fatal("id should not be valid once unreserved entirely")
	}
	if got := c.streams.reserveStreamId(); got != id {
		t.Fatalf("expected the freed id %d to be reused, got %d", id, got)
	}
}

// channelTable.nextAvailableChannelId starts at 4 and skips ids already
// in use (spec.md §4.2).
func TestNextAvailableChannelId(t *testing.T) {
	c := newTestConnection(newFakeTransport(), nil, &fakeScope{}, nil, nil)
	if got := c.channels.nextAvailableChannelId(); got != 4 {
		t.Fatalf("first available channel id = %d, want 4", got)
	}
	c.channels.getChannel(4)
	c.channels.getChannel(5)
	if got := c.channels.nextAvailableChannelId(); got != 6 {
		t.Fatalf("next available channel id after 4,5 in use = %d, want 6", got)
	}
}

// getChannel is get-or-insert: repeated calls with the same id return the
// same *Channel instance (spec.md §4.2).
func TestGetChannelIsIdempotent(t *testing.T) {
	c := newTestConnection(newFakeTransport(), nil, &fakeScope{}, nil, nil)
	a := c.channels.getChannel(10)
	b := c.channels.getChannel(10)
	if a != b {
		t.Fatal("getChannel(id) should return the same instance across calls")
	}
}
