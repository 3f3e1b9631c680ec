// Package workerpool is a concrete conn.WorkerPool: a fixed set of worker
// goroutines draining a bounded job queue, with non-blocking submission
// (a saturated pool rejects rather than stalls the transport reader) and
// a per-task deadlock guard (spec.md §5).
//
// The teacher has no worker pool of its own — every session there runs
// its handler inline on the connection's own goroutine. This package is
// new code written in the teacher's plain, unadorned goroutine-and-channel
// style, paced with the same golang.org/x/time/rate token bucket the
// throttled-writer example in the retrieval pack uses for bounding
// throughput.
package workerpool

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/AgustinSRG/rtmp-connection-core/conn"
)

// ErrPoolSaturated is returned by Submit when the job queue is full.
var ErrPoolSaturated = errors.New("workerpool: queue saturated, task rejected")

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("workerpool: pool is closed")

type job struct {
	task   func() error
	onDone func(conn.TaskResult)
}

// Pool is a bounded worker pool.
type Pool struct {
	jobs chan job
	wg   sync.WaitGroup

	limiter *rate.Limiter // submission pacing; nil disables pacing

	taskTimeout time.Duration // 0 disables the deadlock guard

	closeOnce sync.Once
	closed    chan struct{}
}

// Options configures a Pool.
type Options struct {
	Workers int
	// QueueSize bounds how many submitted-but-not-yet-running tasks may
	// queue before Submit starts rejecting.
	QueueSize int
	// SubmitsPerSecond paces how many tasks may be accepted per second,
	// 0 disables pacing.
	SubmitsPerSecond float64
	// TaskTimeout bounds a single task's wall time before it is logged
	// and abandoned by the caller's onDone, matching maxHandlingTimeoutMs
	// (spec.md §5). 0 disables the guard.
	TaskTimeout time.Duration
}

// New builds a Pool and starts its workers.
func New(opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = opts.Workers * 16
	}

	p := &Pool{
		jobs:        make(chan job, opts.QueueSize),
		taskTimeout: opts.TaskTimeout,
		closed:      make(chan struct{}),
	}
	if opts.SubmitsPerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(opts.SubmitsPerSecond), opts.Workers*4)
	}

	for i := 0; i < opts.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.closed:
			return
		case j, ok := <-p.jobs:
			if !ok {
				return
			}
			p.run(j)
		}
	}
}

// run executes one job, applying the deadlock guard when configured. A
// task that exceeds TaskTimeout is abandoned: its goroutine keeps running
// to completion (Go offers no safe preemption), but onDone fires
// immediately with a timeout error so the caller's accounting (currentQueueSize
// in conn's dispatch pipeline) isn't blocked on a stuck task.
func (p *Pool) run(j job) {
	if p.taskTimeout <= 0 {
		j.onDone(conn.TaskResult{Err: j.task()})
		return
	}

	done := make(chan error, 1)
	go func() { done <- j.task() }()

	select {
	case err := <-done:
		j.onDone(conn.TaskResult{Err: err})
	case <-time.After(p.taskTimeout):
		j.onDone(conn.TaskResult{Err: context.DeadlineExceeded})
	}
}

// Submit enqueues task, never blocking: a saturated queue or pacing
// limiter rejects immediately (spec.md §5 "bounded and rejecting").
func (p *Pool) Submit(task func() error, onDone func(conn.TaskResult)) error {
	select {
	case <-p.closed:
		return ErrPoolClosed
	default:
	}

	if p.limiter != nil && !p.limiter.Allow() {
		return ErrPoolSaturated
	}

	select {
	case p.jobs <- job{task: task, onDone: onDone}:
		return nil
	default:
		return ErrPoolSaturated
	}
}

// Close stops accepting new work and waits for in-flight workers to drain
// their current job before returning.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
	})
	p.wg.Wait()
}
