// Package threadpool implements named worker pools categorized by
// workload, grounded on DariaDB's ThreadPool (utils/thread_pool.cpp):
// a fixed set of goroutines draining one task queue, plus an awaitable
// handle per posted task and a debug-mode kind check.
package threadpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/chronoflux/tsengine/errs"
)

// Kind names a pool by the workload it's meant for: COMMON for
// CPU-bound merges, DISK_IO (single-writer) for compaction.
type Kind string

const (
	Common Kind = "COMMON"
	DiskIO Kind = "DISK_IO"
)

// Debug enables the TKIND_CHECK assertion in MustRunOn. It is off by
// default; tests and development builds turn it on explicitly.
var Debug = false

type kindCtxKey struct{}

func withKind(ctx context.Context, k Kind) context.Context {
	return context.WithValue(ctx, kindCtxKey{}, k)
}

// MustRunOn panics if Debug is enabled and ctx was not produced by a
// pool of kind want. It is a no-op when Debug is false: a checked
// assertion, in the spirit of DariaDB's TKIND_CHECK, that a task is
// actually running in its declared pool.
func MustRunOn(ctx context.Context, want Kind) {
	if !Debug {
		return
	}

	got, _ := ctx.Value(kindCtxKey{}).(Kind)
	if got != want {
		panic(fmt.Sprintf("threadpool: task declared for %q but running on %q", want, got))
	}
}

// Handle is the awaitable result of one posted task. The caller may
// wait on it, poll Done, or ignore it entirely.
type Handle struct {
	done chan struct{}
	err  error
}

// Wait blocks until the task completes and returns its error, if any.
func (h *Handle) Wait() error {
	<-h.done

	return h.err
}

// Done returns a channel closed when the task completes.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Task is a unit of work posted to a Pool. ctx carries the pool's kind
// for MustRunOn; it is never cancelled, Pool.Stop included.
type Task func(ctx context.Context) error

// Pool runs a fixed number of goroutines draining a single task
// queue. stop() drains the queue before joining workers, matching the
// source's flush-then-join shutdown order.
type Pool struct {
	kind    Kind
	tasks   chan func()
	stopCh  chan struct{}
	wg      sync.WaitGroup
	stopped atomic.Bool
}

// New starts a pool of size goroutines for kind. queueDepth bounds the
// pending-task channel; a full queue makes Post block, which is the
// pool's natural backpressure.
func New(kind Kind, size, queueDepth int) *Pool {
	p := &Pool{
		kind:   kind,
		tasks:  make(chan func(), queueDepth),
		stopCh: make(chan struct{}),
	}

	for i := 0; i < size; i++ {
		p.wg.Add(1)

		go p.worker()
	}

	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case fn, ok := <-p.tasks:
			if !ok {
				return
			}

			fn()
		}
	}
}

// Post enqueues task and returns a Handle immediately. If the pool has
// already stopped, the handle resolves with errs.ErrAlreadyStopped
// without running task.
func (p *Pool) Post(task Task) *Handle {
	h := &Handle{done: make(chan struct{})}

	wrapped := func() {
		defer close(h.done)
		defer func() {
			if r := recover(); r != nil {
				h.err = errors.Errorf("threadpool: task panicked: %v", r)
			}
		}()

		h.err = task(withKind(context.Background(), p.kind))
	}

	// Checked on its own first: once both cases below are ready, select
	// picks one at random and could queue the task for workers that have
	// already exited.
	select {
	case <-p.stopCh:
		h.err = errs.ErrAlreadyStopped
		close(h.done)

		return h
	default:
	}

	select {
	case <-p.stopCh:
		h.err = errs.ErrAlreadyStopped
		close(h.done)
	case p.tasks <- wrapped:
	}

	return h
}

// Stop drains the queue, then signals workers to exit and joins them.
// Stop is idempotent.
func (p *Pool) Stop() {
	if !p.stopped.CompareAndSwap(false, true) {
		return
	}

	p.Flush()
	close(p.stopCh)
	p.wg.Wait()
}

// Flush blocks until the pending-task queue is empty. It does not wait
// for in-flight tasks started before the call; callers that need that
// guarantee should Wait() on the handles they care about. DariaDB uses
// condition-variable waits here; this spin-sleeps instead, matching the
// dropper's own flush().
func (p *Pool) Flush() {
	for len(p.tasks) > 0 {
		time.Sleep(time.Millisecond)
	}
}

// Kind returns the pool's declared workload kind.
func (p *Pool) Kind() Kind { return p.kind }
