// Package pool implements the fixed-size worker thread pool draining
// a priority queue of work items (spec.md §4.2). The queue is a
// nikand.dev/go/heap.Heap[workItem], the same generic binary heap
// compiler/back/back6.go uses for its job scheduling queue during
// codegen — here put to its more natural use, a real runtime
// priority queue.
package pool

import (
	"context"
	"runtime"
	"sync"
	"unsafe"

	"nikand.dev/go/heap"
	"tlog.app/go/tlog"

	"github.com/aresrt/ares/runtime/vsem"
)

type (
	// Func is a work item's entry point: the body function the
	// lowered IR compiled down to, invoked with its opaque argument.
	Func func(arg unsafe.Pointer)

	workItem struct {
		fn       Func
		arg      unsafe.Pointer
		priority int32
		seq      uint64
	}

	// Pool is a fixed set of worker goroutines draining a priority
	// queue of (fn, arg) work items. Higher priority drains first;
	// ties are broken by enqueue order (spec.md §4.2's ordering
	// guarantee).
	Pool struct {
		mu    sync.Mutex
		queue heap.Heap[workItem]
		seq   uint64

		avail *vsem.VSem

		n    int
		done chan struct{}
		wg   sync.WaitGroup
	}
)

func workLess(d []workItem, i, j int) bool {
	if d[i].priority != d[j].priority {
		return d[i].priority > d[j].priority
	}

	return d[i].seq < d[j].seq
}

// New starts a pool of n worker goroutines. n <= 0 uses
// runtime.GOMAXPROCS(0) as "hardware concurrency", matching spec.md's
// "default = hardware concurrency".
func New(ctx context.Context, n int) *Pool {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}

	p := &Pool{
		queue: heap.Heap[workItem]{Less: workLess},
		avail: vsem.New(0),
		n:     n,
		done:  make(chan struct{}),
	}

	tlog.SpanFromContext(ctx).Printw("pool: starting workers", "n", n)

	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	return p
}

// Push enqueues a work item. Higher priority drains first; among
// equal priorities, items are taken in the order they were pushed
// (spec.md §4.2's happens-before ordering guarantee).
func (p *Pool) Push(fn Func, arg unsafe.Pointer, priority int32) {
	p.mu.Lock()
	p.seq++
	item := workItem{fn: fn, arg: arg, priority: priority, seq: p.seq}
	p.queue.Push(item)
	p.mu.Unlock()

	p.avail.Release()
}

// Stop signals workers to drain the remaining queue and exit, then
// waits for them to finish. This implements Design Note 5 ("add
// graceful drain-and-exit for process teardown") in place of the
// source's infinite loop with no shutdown path.
func (p *Pool) Stop(ctx context.Context) {
	close(p.done)

	// Wake every worker that might be blocked in avail.Acquire so it
	// re-checks p.done instead of waiting for work that will never
	// come. A worker that is not currently blocked just consumes the
	// spare release on its next loop and finds nothing to do.
	for i := 0; i < p.n; i++ {
		p.avail.Release()
	}

	p.wg.Wait()

	tlog.SpanFromContext(ctx).Printw("pool: stopped")
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		p.avail.Acquire()

		item, ok := p.pop()
		if ok {
			p.run(ctx, id, item)
			continue
		}

		select {
		case <-p.done:
			return
		default:
			continue
		}
	}
}

func (p *Pool) pop() (workItem, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.queue.Len() == 0 {
		return workItem{}, false
	}

	return p.queue.Pop(), true
}

// run invokes a work item's function, recovering from any panic
// escaping it instead of letting it terminate the worker (Design
// Note: "should instead log and continue").
func (p *Pool) run(ctx context.Context, id int, item workItem) {
	defer func() {
		if r := recover(); r != nil {
			tlog.SpanFromContext(ctx).Printw("pool: worker panic recovered", "worker", id, "panic", r)
		}
	}()

	item.fn(item.arg)
}
