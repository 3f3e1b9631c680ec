package conn

import (
	"sync"

	"github.com/google/uuid"

	"github.com/AgustinSRG/rtmp-connection-core/wire"
)

// IClientStream is a bound NetStream as the registry sees it: a
// StreamPrototype (obtained from the Scope via getBean) that has already
// been bound to a name/connection/streamId.
type IClientStream = StreamPrototype

// streamRegistry is C3 (spec.md §3/§4.3): a growable reservation bitset,
// a 0-based index -> stream map, and a 0-based index -> remembered buffer
// duration map. Stream ids are 1-based externally, 0-based internally
// (spec.md §3 invariant c).
type streamRegistry struct {
	mu               sync.Mutex
	reserved         []bool // index i == stream id i+1
	streams          map[int]IClientStream
	streamBuffers    map[int]uint64
	usedStreamCount  int
	scope            Scope
	conn             *Connection
}

func newStreamRegistry(c *Connection, scope Scope) *streamRegistry {
	return &streamRegistry{
		streams:       make(map[int]IClientStream),
		streamBuffers: make(map[int]uint64),
		scope:         scope,
		conn:          c,
	}
}

func (r *streamRegistry) ensureCapacity(index int) {
	for len(r.reserved) <= index {
		r.reserved = append(r.reserved, false)
	}
}

// reserveStreamId reserves and returns the smallest unreserved stream id
// (spec.md §4.3, §8 property 1: successive calls yield 1, 2, 3, ...).
func (r *streamRegistry) reserveStreamId() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reserveLocked()
}

func (r *streamRegistry) reserveLocked() uint32 {
	for i := 0; i < len(r.reserved); i++ {
		if !r.reserved[i] {
			r.reserved[i] = true
			return uint32(i + 1)
		}
	}
	r.reserved = append(r.reserved, true)
	return uint32(len(r.reserved))
}

// reserveStreamIdPreferring reserves n if free, otherwise falls back to the
// smallest free id (spec.md §4.3, §8 property 2).
func (r *streamRegistry) reserveStreamIdPreferring(n uint32) uint32 {
	if n == 0 {
		return r.reserveStreamId()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	index := int(n - 1)
	r.ensureCapacity(index)
	if !r.reserved[index] {
		r.reserved[index] = true
		return n
	}
	return r.reserveLocked()
}

// isValidStreamId reports n >= 1, currently reserved, and with no stream
// registered at n (spec.md §4.3, §8 property 3).
func (r *streamRegistry) isValidStreamId(n uint32) bool {
	if n < 1 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	index := int(n - 1)
	if index >= len(r.reserved) || !r.reserved[index] {
		return false
	}
	_, hasStream := r.streams[index]
	return !hasStream
}

// newStream obtains a prototype from the scope, applies a remembered
// buffer duration, binds it, and registers it at n (spec.md §4.3). Returns
// nil without error when n is not a valid stream id — the registry never
// raises for a missing/invalid target.
func (r *streamRegistry) newStream(n uint32, kind StreamKind) IClientStream {
	if !r.isValidStreamId(n) {
		return nil
	}
	if r.scope == nil {
		return nil
	}
	proto, err := r.scope.GetBean(kind)
	if err != nil || proto == nil {
		return nil
	}

	r.mu.Lock()
	index := int(n - 1)
	if ms, ok := r.streamBuffers[index]; ok {
		proto.SetBufferDuration(ms)
	}
	r.mu.Unlock()

	proto.Bind(uuid.NewString(), r.conn, n)

	r.mu.Lock()
	r.streams[index] = proto
	r.usedStreamCount++
	r.mu.Unlock()

	return proto
}

func (r *streamRegistry) newBroadcastStream(n uint32) IClientStream {
	return r.newStream(n, StreamKindBroadcast)
}

func (r *streamRegistry) newSingleItemSubscriberStream(n uint32) IClientStream {
	return r.newStream(n, StreamKindSingleItemSubscriber)
}

func (r *streamRegistry) newPlaylistSubscriberStream(n uint32) IClientStream {
	return r.newStream(n, StreamKindPlaylistSubscriber)
}

// deleteStreamById removes the stream, its pending-video counter, and its
// remembered buffer duration, without clearing the reservation (spec.md
// §4.3). The source's unregisterStream/deleteStreamById index mismatch
// (spec.md §9) is deliberately NOT replicated: every map here is keyed by
// n-1.
func (r *streamRegistry) deleteStreamById(n uint32) {
	if n < 1 {
		return
	}
	index := int(n - 1)
	r.mu.Lock()
	if _, ok := r.streams[index]; ok {
		delete(r.streams, index)
		r.usedStreamCount--
	}
	delete(r.streamBuffers, index)
	r.mu.Unlock()
	r.conn.videoPending.delete(n)
}

// unreserveStreamId deletes the stream (if any) then clears the
// reservation bit (spec.md §4.3).
func (r *streamRegistry) unreserveStreamId(n uint32) {
	if n < 1 {
		return
	}
	r.deleteStreamById(n)
	index := int(n - 1)
	r.mu.Lock()
	if index < len(r.reserved) {
		r.reserved[index] = false
	}
	r.mu.Unlock()
}

// rememberStreamBufferDuration stores ms for the next newStream call at n.
func (r *streamRegistry) rememberStreamBufferDuration(n uint32, ms uint64) {
	if n < 1 {
		return
	}
	r.mu.Lock()
	r.streamBuffers[int(n-1)] = ms
	r.mu.Unlock()
}

// getStreamByChannelId maps a channel id to the stream registered at the
// channel's stream id, or nil for channels below the stream range or with
// nothing registered (spec.md §4.3, §8 property 4).
func (r *streamRegistry) getStreamByChannelId(channelID uint32) IClientStream {
	streamID := wire.StreamIDForChannel(channelID)
	if streamID == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streams[int(streamID-1)]
}

// liveStreamIDs returns the 1-based ids of every currently registered
// stream, used by the close path to request deletion of each one
// (spec.md §4.8 step 3).
func (r *streamRegistry) liveStreamIDs() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]uint32, 0, len(r.streams))
	for index := range r.streams {
		ids = append(ids, uint32(index+1))
	}
	return ids
}

func (r *streamRegistry) usedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usedStreamCount
}

// clear drops every tracked stream, part of the close path (spec.md §4.8
// step 5). It does not touch the reservation bitset.
func (r *streamRegistry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams = make(map[int]IClientStream)
	r.streamBuffers = make(map[int]uint64)
	r.usedStreamCount = 0
}
