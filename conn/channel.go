package conn

import (
	"sort"
	"sync"

	"github.com/AgustinSRG/rtmp-connection-core/wire"
)

// Channel is a logical sub-stream of one connection, identified by a small
// integer (spec.md §3 Channel). Writes through a channel are serialised by
// the connection's encoder lock (spec.md §5), not by the Channel itself.
type Channel struct {
	conn *Connection
	id   uint32
}

// ID returns the channel id.
func (c *Channel) ID() uint32 { return c.id }

// Send writes p on this channel through the connection's Write, which
// serialises it under the encoder lock.
func (c *Channel) Send(p *wire.Packet) error {
	p.ChannelID = c.id
	return c.conn.Write(p)
}

// channelTable is C2: a concurrent map channel-id -> *Channel, with
// get-or-insert semantics so concurrent creation resolves to one instance
// (spec.md §4.2).
type channelTable struct {
	mu       sync.Mutex
	channels map[uint32]*Channel
	conn     *Connection
}

func newChannelTable(c *Connection) *channelTable {
	return &channelTable{channels: make(map[uint32]*Channel), conn: c}
}

// getChannel returns the channel for id, creating it on first call.
// Concurrent creators resolve to a single instance: creation happens under
// the table's mutex, so only the first caller builds a Channel (spec.md
// §4.2).
func (t *channelTable) getChannel(id uint32) *Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok := t.channels[id]; ok {
		return ch
	}
	ch := &Channel{conn: t.conn, id: id}
	t.channels[id] = ch
	return ch
}

// closeChannel removes a channel from the table.
func (t *channelTable) closeChannel(id uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.channels, id)
}

// isChannelUsed reports whether id currently has a Channel instance.
func (t *channelTable) isChannelUsed(id uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.channels[id]
	return ok
}

// nextAvailableChannelId returns the smallest id >= 4 not currently present
// (spec.md §4.2).
func (t *channelTable) nextAvailableChannelId() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	used := make([]uint32, 0, len(t.channels))
	for id := range t.channels {
		used = append(used, id)
	}
	sort.Slice(used, func(i, j int) bool { return used[i] < used[j] })
	next := uint32(4)
	i := 0
	for i < len(used) && used[i] < next {
		i++
	}
	for i < len(used) && used[i] == next {
		next++
		i++
	}
	return next
}

// clear drops every channel, part of the close path (spec.md §4.8 step 5).
func (t *channelTable) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channels = make(map[uint32]*Channel)
}
