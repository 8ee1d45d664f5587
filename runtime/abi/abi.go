// Package abi is the stable C-ABI facade the lowered IR calls
// (spec.md §4.3, §6): create_synch, queue_func, finish_func,
// await_synch, alloc, task_queue, task_await_future,
// task_release_future. The lowered IR also calls a ninth symbol,
// release_task_args (ReleaseTaskArgs), to free a task's arg-struct.
// Each Go function below is the trampoline for
// one symbol; the real work happens against the process-wide
// *runtime2.Context these trampolines dispatch to (Design Note:
// "expose the ABI symbols as thin trampolines" over an explicit
// runtime context, replacing the source's `_threadPool` global).
//
// The eight symbol names and signatures are the binary compatibility
// surface with compiled IR (spec.md §6) and must not change shape
// even as the runtime context they dispatch to is refactored.
package abi

import (
	"context"
	"sync"
	"unsafe"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/aresrt/ares/runtime2"
)

var (
	curMu sync.RWMutex
	cur   *runtime2.Context
)

// SetContext installs the runtime context the facade trampolines
// dispatch to. A real embedder calls this once at process start,
// after runtime2.NewContext; tests call it per-case.
func SetContext(c *runtime2.Context) {
	curMu.Lock()
	cur = c
	curMu.Unlock()
}

func current() *runtime2.Context {
	curMu.RLock()
	defer curMu.RUnlock()

	if cur == nil {
		panic("runtime/abi: no context installed; call abi.SetContext first")
	}

	return cur
}

// CreateSynch is __ares_create_synch: allocate a VSem with initial
// count -(n-1), the N-party latch idiom backing a parallel-for's
// completion synch.
func CreateSynch(n int32) unsafe.Pointer {
	s := runtime2.NewSynch(-(int(n) - 1))

	tlog.V("abi").Printw("create_synch", "n", n)

	return unsafe.Pointer(s)
}

// QueueFunc is __ares_queue_func: build the per-iteration argument
// triple {synch, index, args} and push (fn, triple, priority) onto
// the pool.
func QueueFunc(synchPtr unsafe.Pointer, args unsafe.Pointer, fn func(unsafe.Pointer), index int32, priority int32) {
	s := (*runtime2.Synch)(synchPtr)
	if !s.Valid() {
		panic("runtime/abi: queue_func given an invalid synch handle")
	}

	triple := runtime2.NewFuncArg(s, index, args)

	current().Pool.Push(fn, unsafe.Pointer(triple), priority)
}

// FinishFunc is __ares_finish_func: release the synch handle, called
// from a parallel-for body's epilogue with the synch Arg(2) handed it
// (not the {synch, index, args} triple queue_func built for Arg(0) —
// the body only ever sees its own synch parameter, per the
// parforBodyParams convention in package hlir).
func FinishFunc(synchPtr unsafe.Pointer) {
	s := (*runtime2.Synch)(synchPtr)
	if !s.Valid() {
		panic("runtime/abi: finish_func given an invalid synch handle")
	}

	s.Sem.Release()
}

// AwaitSynch is __ares_await_synch: acquire the synch once (count
// goes from +1 to 0). There is no explicit free: the Synch is
// reclaimed by the garbage collector once no handle to it remains.
func AwaitSynch(synchPtr unsafe.Pointer) {
	s := (*runtime2.Synch)(synchPtr)
	if !s.Valid() {
		panic("runtime/abi: await_synch given an invalid synch handle")
	}

	s.Sem.Acquire()
}

// Alloc is __ares_alloc: plain heap allocation, lifetime managed by
// the caller. Unlike the source, failure is a real error instead of
// a null pointer the lowered IR never checks (Design Note: "surface
// allocation failure as a proper error kind").
func Alloc(ctx context.Context, bytes int64) (unsafe.Pointer, error) {
	ptr, err := current().Alloc(bytes)
	if err != nil {
		return nil, errors.Wrap(err, "alloc %d bytes", bytes)
	}

	return ptr, nil
}

// TaskQueue is __ares_task_queue: allocate a fresh future VSem, store
// it into args' future field (offset 0 of the task-args struct
// described in spec.md §3), and push (fn, args, PriorityTask).
func TaskQueue(fn func(unsafe.Pointer), args unsafe.Pointer) {
	s := runtime2.NewSynch(0)
	futureField := (*unsafe.Pointer)(args)
	*futureField = unsafe.Pointer(s)

	current().Pool.Push(fn, args, runtime2.PriorityTask)
}

// TaskAwaitFuture is __ares_task_await_future: acquire args' future.
// Freeing the arg-struct is ReleaseTaskArgs' job, called by the
// lowering pass's generated code right after this, once the return
// value has been read out of field 2 (Open Question 2's fix: free the
// arg-struct only after the caller has had the chance to read the
// return).
func TaskAwaitFuture(args unsafe.Pointer) {
	future := *(*unsafe.Pointer)(args)
	s := (*runtime2.Synch)(future)
	if !s.Valid() {
		panic("runtime/abi: task_await_future given an invalid future")
	}

	s.Sem.Acquire()
}

// ReleaseTaskArgs frees an arg-struct previously handed to alloc, to
// be called by the lowering pass's generated code once the return
// value has been read out of field 2 (spec.md §4.5 step 3), closing
// the leak Open Question 2 describes. Separated from
// TaskAwaitFuture so the lowered IR controls exactly when the read
// has completed.
func ReleaseTaskArgs(args unsafe.Pointer) {
	current().Free(args)
}

// TaskReleaseFuture is __ares_task_release_future: release args'
// future, called from the task wrapper's epilogue.
func TaskReleaseFuture(args unsafe.Pointer) {
	future := *(*unsafe.Pointer)(args)
	s := (*runtime2.Synch)(future)
	if !s.Valid() {
		panic("runtime/abi: task_release_future given an invalid future")
	}

	s.Sem.Release()
}
