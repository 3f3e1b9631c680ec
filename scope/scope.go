// Package scope is a concrete conn.Scope: a stream-prototype factory and a
// channel registry that tracks which connection currently publishes each
// named stream, repurposing the teacher's RTMPServer.channels/sessions
// bookkeeping (rtmp_server.go) for the core's getBean/DeleteStream
// contract.
//
// GOP caching and cross-connection media fan-out (rtmp_publisher.go
// StartIdlePlayers/StartPlayer) are not carried over: those are live
// relay behaviour, explicitly out of scope for the connection core
// (spec.md §1 Non-goals: "no broadcast fan-out"). What remains here is
// the bookkeeping shell a scope implementation needs to satisfy
// conn.Scope/conn.StreamService, not the relay itself.
package scope

import (
	"fmt"
	"sync"

	"github.com/AgustinSRG/rtmp-connection-core/conn"
)

// Prototype is the minimal conn.StreamPrototype this package hands out.
// Concrete media handling is left to the embedder; Prototype only tracks
// the bind/buffer-duration bookkeeping the registry contract requires.
type Prototype struct {
	mu       sync.Mutex
	kind     conn.StreamKind
	name     string
	conn     *conn.Connection
	streamID uint32
	bufferMs uint64
}

func (p *Prototype) SetBufferDuration(ms uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bufferMs = ms
}

func (p *Prototype) Bind(name string, c *conn.Connection, streamID uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.name = name
	p.conn = c
	p.streamID = streamID
}

// Name returns the bound stream's random identity (empty before Bind).
func (p *Prototype) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

// channel is the registration record for one named publish target,
// mirroring the teacher's RTMPChannel (rtmp_server.go) minus GOP/media
// fields that don't belong to the connection core's concerns.
type channel struct {
	name      string
	publisher *conn.Connection
	proto     *Prototype
	players   map[*conn.Connection]*Prototype
}

// Scope implements conn.Scope and conn.StreamService over an in-memory
// channel registry (spec.md §6 Scope/StreamService).
type Scope struct {
	mu       sync.Mutex
	channels map[string]*channel
}

// New returns an empty Scope.
func New() *Scope {
	return &Scope{channels: make(map[string]*channel)}
}

// GetBean returns a fresh Prototype for the requested kind. The registry
// doesn't yet know which named channel it will bind to — that happens
// when the embedder calls Publish/Subscribe after Bind assigns a name.
func (s *Scope) GetBean(kind conn.StreamKind) (conn.StreamPrototype, error) {
	return &Prototype{kind: kind}, nil
}

// StreamService returns s itself: the scope is its own deletion hook.
func (s *Scope) StreamService() conn.StreamService {
	return s
}

// Publish registers c as the publisher of the named channel. A channel
// already claimed by a different live connection is rejected, mirroring
// the teacher's one-publisher-per-channel invariant (rtmp_server.go
// isPublishing/SetPublisher).
func (s *Scope) Publish(name string, c *conn.Connection, proto *Prototype) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[name]
	if !ok {
		ch = &channel{name: name, players: make(map[*conn.Connection]*Prototype)}
		s.channels[name] = ch
	}
	if ch.publisher != nil && ch.publisher != c {
		return fmt.Errorf("scope: channel %q already has a publisher", name)
	}
	ch.publisher = c
	ch.proto = proto
	return nil
}

// Subscribe registers c as a player of the named channel, creating it if
// nobody has published to it yet (idle player, per rtmp_publisher.go
// StartIdlePlayers' "not publishing" branch).
func (s *Scope) Subscribe(name string, c *conn.Connection, proto *Prototype) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[name]
	if !ok {
		ch = &channel{name: name, players: make(map[*conn.Connection]*Prototype)}
		s.channels[name] = ch
	}
	ch.players[c] = proto
}

// DeleteStream implements conn.StreamService: drop every registration c
// holds, whether as publisher or player, across every channel (spec.md
// §4.8 step 3). streamID distinguishes which of a connection's streams is
// being torn down only when the embedder tracks more than one per
// connection; this registry is channel-name keyed, so it simply removes c
// wherever found.
func (s *Scope) DeleteStream(c *conn.Connection, streamID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, ch := range s.channels {
		if ch.publisher == c {
			ch.publisher = nil
			ch.proto = nil
		}
		delete(ch.players, c)
		if ch.publisher == nil && len(ch.players) == 0 {
			delete(s.channels, name)
		}
	}
}

// IsPublishing reports whether name currently has a live publisher
// (rtmp_server.go isPublishing).
func (s *Scope) IsPublishing(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[name]
	return ok && ch.publisher != nil
}
