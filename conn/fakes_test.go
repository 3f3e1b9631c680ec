package conn

import (
	"sync"

	"github.com/AgustinSRG/rtmp-connection-core/wire"
)

// fakeTransport is an in-memory conn.Transport, grounded on the same
// shape transport.TCPTransport exposes, for driving Connection in tests
// without a real socket.
type fakeTransport struct {
	mu        sync.Mutex
	written   []*wire.Packet
	rawWrites [][]byte
	readBytes uint64
	connected bool
	writeErr  error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{connected: true}
}

func (t *fakeTransport) Write(p *wire.Packet) error {
	if t.writeErr != nil {
		return t.writeErr
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.written = append(t.written, p)
	return nil
}

func (t *fakeTransport) WriteRaw(b []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rawWrites = append(t.rawWrites, b)
	return nil
}

func (t *fakeTransport) ReadBytes() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readBytes
}

func (t *fakeTransport) WrittenBytes() uint64 { return 0 }
func (t *fakeTransport) PendingMessages() int { return 0 }
func (t *fakeTransport) IsConnected() bool    { return t.connected }

func (t *fakeTransport) setReadBytes(n uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readBytes = n
}

// fakeHandler records every packet handed to it by the dispatch pipeline.
type fakeHandler struct {
	mu       sync.Mutex
	received []*wire.Packet
}

func (h *fakeHandler) MessageReceived(c *Connection, p *wire.Packet) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.received = append(h.received, p)
}

func (h *fakeHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.received)
}

// fakePrototype is a minimal StreamPrototype recording Bind calls.
type fakePrototype struct {
	name     string
	conn     *Connection
	streamID uint32
	bufferMs uint64
}

func (p *fakePrototype) SetBufferDuration(ms uint64) { p.bufferMs = ms }
func (p *fakePrototype) Bind(name string, c *Connection, streamID uint32) {
	p.name = name
	p.conn = c
	p.streamID = streamID
}

// fakeScope is a minimal Scope/StreamService for registry tests.
type fakeScope struct {
	mu       sync.Mutex
	deleted  []uint32
	failBean bool
}

func (s *fakeScope) GetBean(kind StreamKind) (StreamPrototype, error) {
	if s.failBean {
		return nil, ErrNotConnected
	}
	return &fakePrototype{}, nil
}

func (s *fakeScope) StreamService() StreamService { return s }

func (s *fakeScope) DeleteStream(c *Connection, streamID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, streamID)
}

// fakeCancelHandle/fakeScheduler let liveness tests control tick() calls
// directly rather than racing real timers.
type fakeCancelHandle struct{ cancelled bool }

func (h *fakeCancelHandle) Cancel() { h.cancelled = true }

type fakeScheduler struct {
	mu    sync.Mutex
	once  []func()
	fixed []func()
}

func (s *fakeScheduler) ScheduleOnce(task func(), delay uint64) CancelHandle {
	s.mu.Lock()
	s.once = append(s.once, task)
	s.mu.Unlock()
	return &fakeCancelHandle{}
}

func (s *fakeScheduler) ScheduleFixedRate(task func(), period uint64) CancelHandle {
	s.mu.Lock()
	s.fixed = append(s.fixed, task)
	s.mu.Unlock()
	return &fakeCancelHandle{}
}

// fakePool runs every submitted task synchronously and inline, so tests
// can assert on its effects without waiting on goroutines.
type fakePool struct {
	rejectAll bool
}

func (p *fakePool) Submit(task func() error, onDone func(TaskResult)) error {
	if p.rejectAll {
		return ErrTaskRejected
	}
	err := task()
	if onDone != nil {
		onDone(TaskResult{Err: err})
	}
	return nil
}

func newTestConnection(transport Transport, handler Handler, scope Scope, sched Scheduler, pool WorkerPool) *Connection {
	return NewConnection("test-id", "127.0.0.1:1234", transport, handler, scope, sched, pool, nil, nil)
}
