package conn

import "sync/atomic"

// Phase is the lifecycle phase of a connection (spec.md §3 ProtocolState).
// Monotone in the sense that once DISCONNECTED is reached no further
// transition is observed (close() refuses to run twice), but setPhase
// itself is advisory and never rejects an ordering (spec.md §4.1).
type Phase int32

const (
	PhaseUninit Phase = iota
	PhaseHandshake
	PhaseHandshakeOK
	PhaseConnect
	PhaseConnected
	PhaseDisconnecting
	PhaseDisconnected
)

func (p Phase) String() string {
	switch p {
	case PhaseUninit:
		return "UNINIT"
	case PhaseHandshake:
		return "HANDSHAKE"
	case PhaseHandshakeOK:
		return "HANDSHAKE_OK"
	case PhaseConnect:
		return "CONNECT"
	case PhaseConnected:
		return "CONNECTED"
	case PhaseDisconnecting:
		return "DISCONNECTING"
	case PhaseDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// protocolState holds C1: the current lifecycle phase and AMF encoding
// variant. Both fields are read far more often than written (liveness
// scheduler, dispatch pipeline, every outbound write), so they're plain
// atomics rather than a mutex.
type protocolState struct {
	phase    atomic.Int32
	encoding atomic.Int32
}

func newProtocolState() *protocolState {
	s := &protocolState{}
	s.phase.Store(int32(PhaseUninit))
	s.encoding.Store(int32(encodingAMF0))
	return s
}

func (s *protocolState) getPhase() Phase {
	return Phase(s.phase.Load())
}

func (s *protocolState) setPhase(p Phase) {
	s.phase.Store(int32(p))
}

// encodingKind mirrors wire.Encoding without importing wire here, keeping
// this file dependency-free; Connection translates at the boundary.
type encodingKind int32

const (
	encodingAMF0 encodingKind = iota
	encodingAMF3
)

func (s *protocolState) getEncoding() encodingKind {
	return encodingKind(s.encoding.Load())
}

func (s *protocolState) setEncoding(e encodingKind) {
	s.encoding.Store(int32(e))
}
