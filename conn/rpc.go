package conn

import (
	"sync"
	"sync/atomic"

	"github.com/AgustinSRG/rtmp-connection-core/wire"
)

// Call is an outbound RPC call: a command name, positional arguments, and
// (for Invoke) an optional callback invoked when a matching result arrives
// or when the connection closes with the call still pending (spec.md §3
// "Pending call").
type Call struct {
	Method   string
	Args     []interface{}
	Async    bool // true if a reply is expected and should be correlated
	Callback func(call *PendingCall, status string)
}

// PendingCall is the ledger's record of an outbound Invoke awaiting reply.
type PendingCall struct {
	TransactionID float64
	Call          *Call
}

// rpcLedger is C4 (spec.md §3/§4.4): a monotone transaction-id counter, a
// pendingCalls map, and a deferredResults set.
type rpcLedger struct {
	txid atomic.Int64

	mu              sync.Mutex
	pendingCalls    map[float64]*PendingCall
	deferredResults map[float64]struct{}

	conn *Connection
}

func newRPCLedger(c *Connection) *rpcLedger {
	return &rpcLedger{
		pendingCalls:    make(map[float64]*PendingCall),
		deferredResults: make(map[float64]struct{}),
		conn:            c,
	}
}

// nextTransactionId returns ++txid, starting at 1 (spec.md §3, §8
// property 10: strictly monotone and unique within a connection).
func (l *rpcLedger) nextTransactionId() float64 {
	return float64(l.txid.Add(1))
}

// invoke wraps call in an Invoke message, assigns a fresh transaction id,
// registers it in pendingCalls when the call is async-capable, and writes
// it to channel (default 3) before returning (spec.md §4.4).
func (l *rpcLedger) invoke(call *Call, channel uint32) error {
	txid := l.nextTransactionId()
	if call.Async {
		pc := &PendingCall{TransactionID: txid, Call: call}
		l.mu.Lock()
		l.pendingCalls[txid] = pc
		l.mu.Unlock()
	}

	enc := l.conn.wireEncoding()
	packet := wire.BuildInvoke(channel, 0, enc, call.Method, txid, call.Args...)
	return l.conn.Write(packet)
}

// notify sends call without transaction-id correlation (spec.md §4.4).
func (l *rpcLedger) notify(call *Call, channel uint32) error {
	enc := l.conn.wireEncoding()
	packet := wire.BuildNotify(channel, 0, enc, call.Method, call.Args...)
	return l.conn.Write(packet)
}

// status delegates to the channel's status helper (spec.md §4.4).
func (l *rpcLedger) status(level, code, description string, channel uint32) error {
	enc := l.conn.wireEncoding()
	packet := wire.BuildStatus(channel, 0, enc, level, code, description)
	return l.conn.Write(packet)
}

// getPendingCall is a non-destructive read.
func (l *rpcLedger) getPendingCall(id float64) (*PendingCall, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pc, ok := l.pendingCalls[id]
	return pc, ok
}

// retrievePendingCall is a destructive take.
func (l *rpcLedger) retrievePendingCall(id float64) (*PendingCall, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pc, ok := l.pendingCalls[id]
	if ok {
		delete(l.pendingCalls, id)
	}
	return pc, ok
}

func (l *rpcLedger) registerDeferredResult(id float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deferredResults[id] = struct{}{}
}

func (l *rpcLedger) unregisterDeferredResult(id float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.deferredResults, id)
}

// failAllPending marks every surviving pending call NOT_CONNECTED and
// invokes its callback exactly once, then clears pendingCalls and
// deferredResults (spec.md §4.4, §4.8 step (prior to/concurrently with 3),
// §8 properties 5-6).
func (l *rpcLedger) failAllPending() {
	l.mu.Lock()
	pending := l.pendingCalls
	l.pendingCalls = make(map[float64]*PendingCall)
	l.deferredResults = make(map[float64]struct{})
	l.mu.Unlock()

	for _, pc := range pending {
		if pc.Call != nil && pc.Call.Callback != nil {
			pc.Call.Callback(pc, StatusNotConnected)
		}
	}
}

// StatusNotConnected is the status stamped on pending calls during close
// (spec.md §7).
const StatusNotConnected = "NetConnection.Connect.Closed"
