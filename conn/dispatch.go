package conn

import (
	"fmt"
	"sync/atomic"

	"github.com/AgustinSRG/rtmp-connection-core/wire"
)

// DefaultBytesReadInterval is the default spacing between outbound
// BytesRead acknowledgements (spec.md §4.6, default 1 MiB).
const DefaultBytesReadInterval = 1 << 20

// dispatchState is C6 (spec.md §3 DispatchState, §4.6).
type dispatchState struct {
	conn *Connection
	pool WorkerPool

	packetSequence   atomic.Int64
	currentQueueSize atomic.Int64
	droppedMessages  atomic.Uint64

	queueThresholdForAudioDrop int64
	maxHandlingTimeoutMs       int64

	readMessages      atomic.Uint64
	nextBytesRead     atomic.Uint64
	bytesReadInterval uint64
}

func newDispatchState(c *Connection, pool WorkerPool) *dispatchState {
	return &dispatchState{
		conn:              c,
		pool:              pool,
		bytesReadInterval: DefaultBytesReadInterval,
	}
}

func isControlDataType(dataType uint32) bool {
	return wire.IsControlType(dataType)
}

// handleMessageReceived is the C6 entry point (spec.md §4.6). Control
// types are handled synchronously and never propagate a panic or error;
// everything else is admission-controlled and submitted to the worker
// pool.
func (d *dispatchState) handleMessageReceived(p *wire.Packet, handler Handler) {
	if isControlDataType(p.DataType) {
		d.invokeHandlerSync(p, handler)
		return
	}

	if d.queueThresholdForAudioDrop > 0 &&
		d.currentQueueSize.Load() >= d.queueThresholdForAudioDrop &&
		p.DataType == wire.TypeAudio {
		d.droppedMessages.Add(1)
		d.conn.logger().Warning(fmt.Sprintf("dropping audio frame under backpressure (queue size %d >= threshold %d)",
			d.currentQueueSize.Load(), d.queueThresholdForAudioDrop))
		return
	}

	d.packetSequence.Add(1)
	d.currentQueueSize.Add(1)

	if d.pool == nil {
		err := d.safeInvokeHandler(p, handler)
		d.currentQueueSize.Add(-1)
		if err != nil {
			d.conn.logger().Error(fmt.Errorf("dispatch task failed: %w", err))
		}
		return
	}

	submitErr := d.pool.Submit(func() error {
		return d.safeInvokeHandler(p, handler)
	}, func(res TaskResult) {
		d.currentQueueSize.Add(-1)
		if res.Err != nil {
			d.conn.logger().Error(fmt.Errorf("dispatch task failed: %w", res.Err))
		}
	})
	if submitErr != nil {
		d.currentQueueSize.Add(-1)
		d.conn.logger().Error(fmt.Errorf("worker pool rejected a packet: %w", submitErr))
	}
}

// invokeHandlerSync runs handler synchronously for control-type packets,
// recovering any panic into a logged HandlerFault (spec.md §4.6, §7).
func (d *dispatchState) invokeHandlerSync(p *wire.Packet, handler Handler) {
	defer func() {
		if r := recover(); r != nil {
			d.conn.logger().Error(&HandlerFault{Cause: r})
		}
	}()
	if handler != nil {
		handler.MessageReceived(d.conn, p)
	}
}

// safeInvokeHandler is the worker-pool task body: recovers a panic into an
// error rather than letting it kill the pool's goroutine (spec.md §7
// HandlerFault).
func (d *dispatchState) safeInvokeHandler(p *wire.Packet, handler Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerFault{Cause: r}
		}
	}()
	if handler != nil {
		handler.MessageReceived(d.conn, p)
	}
	return nil
}

// messageReceived accounts an inbound message and checks whether a
// BytesRead acknowledgement is due (spec.md §4.6). The byte counter used
// for the threshold is the transport's own running total, not a
// dispatch-local tally, since that is what a peer's getReadBytes() call
// reports.
func (d *dispatchState) messageReceived(payloadLen int) {
	d.readMessages.Add(1)
	d.updateBytesRead()
}

func (d *dispatchState) updateBytesRead() {
	if d.bytesReadInterval == 0 || d.conn.transport == nil {
		return
	}
	read := d.conn.transport.ReadBytes()
	next := d.nextBytesRead.Load()
	if read < next {
		return
	}
	if !d.nextBytesRead.CompareAndSwap(next, next+d.bytesReadInterval) {
		return
	}
	_ = d.conn.Write(wire.BuildBytesRead(uint32(read % (1 << 31))))
}

func (d *dispatchState) droppedCount() uint64 {
	return d.droppedMessages.Load()
}
