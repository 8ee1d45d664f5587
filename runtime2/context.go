// Package runtime2 holds the process-wide runtime context the lowered
// IR ultimately drives through package runtime/abi: a thread pool
// plus the bookkeeping for synchs (parallel-for latches) and task
// futures. It replaces the original source's global
// `_threadPool`/`_communicator` pointers (Design Note: "Model as a
// process-wide runtime context with explicit init/teardown; expose
// the ABI symbols as thin trampolines") — runtime/abi's functions are
// the stable trampolines, this package is what they trampoline into.
package runtime2

import (
	"context"
	"sync"
	"unsafe"

	"tlog.app/go/tlog"

	"github.com/aresrt/ares/runtime/pool"
	"github.com/aresrt/ares/runtime/vsem"
)

const (
	// PriorityParallelFor and PriorityTask are the two priority
	// levels spec.md §4.3 assigns: "parallel-for bodies are queued
	// at priority 1; tasks at priority 0. Parallel-for iterations
	// therefore preempt freshly-queued tasks in scheduling order."
	PriorityParallelFor int32 = 1
	PriorityTask        int32 = 0
)

type (
	// Synch is the completion latch or future a VSem backs, tagged
	// with a magic header so runtime/abi can validate handles crossing
	// the opaque-pointer boundary before dereferencing them (Design
	// Note: "wrap the handles in tagged structures validated on
	// entry").
	Synch struct {
		magic uint32
		Sem   *vsem.VSem
	}

	// FuncArg is the per-iteration argument triple queue_func builds:
	// { synch, index, args } in spec.md §4.3's words.
	FuncArg struct {
		magic uint32
		Synch *Synch
		Index int32
		Args  unsafe.Pointer
	}

	// TaskArg is a tagged handle over a task arg-struct allocation:
	// Args points at the struct (future, depth, ret, arg0, arg1, ...)
	// described in spec.md §3 and Size is its length in bytes.
	// Nothing in runtime/abi creates or checks one; task arg-struct
	// pointers cross the facade untagged.
	TaskArg struct {
		magic uint32
		Args  unsafe.Pointer
		Size  int
	}

	// Context is the process-wide runtime: the pool and the registry
	// of live allocations Alloc hands out and Free drops.
	Context struct {
		Pool *pool.Pool

		mu      sync.Mutex
		allocs  map[unsafe.Pointer]int
		nextTag uint32
	}
)

const (
	magicSynch   uint32 = 0x53594e43 // "SYNC"
	magicFuncArg uint32 = 0x46415247 // "FARG"
	magicTaskArg uint32 = 0x5441524b // "TARK"
)

// NewContext starts a pool of n workers (n <= 0 uses hardware
// concurrency) and returns a fresh runtime context.
func NewContext(ctx context.Context, n int) *Context {
	tlog.SpanFromContext(ctx).Printw("runtime2: new context", "workers", n)

	return &Context{
		Pool:   pool.New(ctx, n),
		allocs: make(map[unsafe.Pointer]int),
	}
}

// Shutdown stops the pool, draining pending work first.
func (c *Context) Shutdown(ctx context.Context) {
	c.Pool.Stop(ctx)
}

// Alloc performs a tracked heap allocation on behalf of the lowered
// IR (the __ares_alloc facade symbol). Unlike the source's malloc,
// which returns null on failure and is never checked by the lowered
// IR, Go's allocator does not fail this way in practice — the error
// return exists so a caller that wants to model a bounded arena can
// surface one, per Design Note "surface allocation failure as a
// proper error kind".
func (c *Context) Alloc(bytes int64) (unsafe.Pointer, error) {
	// pointer-typed backing, so a pointer the lowered code stores into
	// the block (a task's future, say) stays visible to the GC
	word := int64(unsafe.Sizeof(uintptr(0)))
	buf := make([]unsafe.Pointer, (bytes+word-1)/word)
	ptr := unsafe.Pointer(&buf[0])

	c.mu.Lock()
	c.allocs[ptr] = int(bytes)
	c.mu.Unlock()

	return ptr, nil
}

// Free releases a tracked allocation. It is a no-op on pointers Alloc
// did not hand out, so double-free from a buggy lowering pass does
// not corrupt runtime bookkeeping.
func (c *Context) Free(ptr unsafe.Pointer) {
	c.mu.Lock()
	delete(c.allocs, ptr)
	c.mu.Unlock()
}

// NewSynch allocates a VSem-backed Synch with the given initial count.
func NewSynch(initial int) *Synch {
	return &Synch{magic: magicSynch, Sem: vsem.New(initial)}
}

// Valid reports whether s carries the expected tag, guarding against
// a stray or already-freed opaque pointer being handed back across
// the ABI boundary.
func (s *Synch) Valid() bool {
	return s != nil && s.magic == magicSynch
}

func NewFuncArg(synch *Synch, index int32, args unsafe.Pointer) *FuncArg {
	return &FuncArg{magic: magicFuncArg, Synch: synch, Index: index, Args: args}
}

func (a *FuncArg) Valid() bool {
	return a != nil && a.magic == magicFuncArg
}

func NewTaskArg(args unsafe.Pointer, size int) *TaskArg {
	return &TaskArg{magic: magicTaskArg, Args: args, Size: size}
}

func (a *TaskArg) Valid() bool {
	return a != nil && a.magic == magicTaskArg
}
