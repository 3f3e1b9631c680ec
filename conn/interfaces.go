package conn

import "github.com/AgustinSRG/rtmp-connection-core/wire"

// Logger is the minimal sink the core writes through. A nil Logger is not
// valid; NewConnection installs a no-op logger when none is supplied.
type Logger interface {
	Info(msg string)
	Warning(msg string)
	Error(err error)
	Debug(msg string)
}

// Transport is the capability set the core needs from whatever carries the
// bytes (TCP, TLS, tunnelled HTTP...). The codec and handshake themselves
// are out of scope for the core (spec.md §1); the core only ever calls
// these methods.
type Transport interface {
	Write(packet *wire.Packet) error
	WriteRaw(raw []byte) error
	ReadBytes() uint64
	WrittenBytes() uint64
	PendingMessages() int
	IsConnected() bool
}

// Handler is the synchronous user entry point for every inbound packet.
// It may panic; the dispatch pipeline recovers and logs (spec.md §6-§7).
type Handler interface {
	MessageReceived(c *Connection, packet *wire.Packet)
}

// CancelHandle is returned by the scheduler and cancels the associated task.
// Cancellation is best-effort (spec.md Design Notes, "ScheduledFuture").
type CancelHandle interface {
	Cancel()
}

// Scheduler runs the handshake-wait and keep-alive tasks on its own threads,
// independent of the transport reader (spec.md §6).
type Scheduler interface {
	ScheduleOnce(task func(), delay uint64) CancelHandle
	ScheduleFixedRate(task func(), period uint64) CancelHandle
}

// TaskResult is delivered to the callback passed to WorkerPool.Submit.
type TaskResult struct {
	Err error
}

// WorkerPool processes every inbound packet that isn't a control packet.
// Submit must not block indefinitely; a saturated pool should reject.
type WorkerPool interface {
	Submit(task func() error, onDone func(TaskResult)) error
}

// StreamPrototype is what the scope/application container hands back from
// getBean(name) before the registry binds name/connection/scope/streamId.
type StreamPrototype interface {
	SetBufferDuration(ms uint64)
	Bind(name string, c *Connection, streamID uint32)
}

// Scope is the application/scope container collaborator (spec.md §6):
// getBean to instantiate stream prototypes, getScopeService for the
// deletion hook used by the close path.
type Scope interface {
	GetBean(kind StreamKind) (StreamPrototype, error)
	StreamService() StreamService
}

// StreamKind selects which prototype newBroadcastStream/
// newSingleItemSubscriberStream/newPlaylistSubscriberStream ask for.
type StreamKind int

const (
	StreamKindBroadcast StreamKind = iota
	StreamKindSingleItemSubscriber
	StreamKindPlaylistSubscriber
)

// StreamService is the scope's deletion hook, consulted by the close path
// (spec.md §4.8 step 3).
type StreamService interface {
	DeleteStream(c *Connection, streamID uint32)
}

// Client supplies the externally assigned client id for this session
// (spec.md §6).
type Client interface {
	ID() string
}

type noopLogger struct{}

func (noopLogger) Info(string)    {}
func (noopLogger) Warning(string) {}
func (noopLogger) Error(error)    {}
func (noopLogger) Debug(string)   {}
