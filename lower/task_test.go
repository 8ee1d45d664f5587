package lower

import (
	"context"
	"testing"

	"github.com/aresrt/ares/compiler/exec"
	"github.com/aresrt/ares/compiler/ir"
	"github.com/aresrt/ares/compiler/tp"
	"github.com/aresrt/ares/hlir"
	"github.com/aresrt/ares/runtime/abi"
	"github.com/aresrt/ares/runtime2"
)

var i32 = tp.Int{Bits: 32, Signed: true}

// buildFib builds a plain recursive Fibonacci function: no task
// construct touches its own self-calls, since Task only rewrites call
// sites outside the wrapped function itself (spec.md §4.5 step 0).
func buildFib() *ir.Func {
	fib := ir.NewFunc("fib", []ir.Param{{Name: "n", Type: i32}}, []tp.Type{i32})

	eb := ir.NewBuilder(fib, fib.Entry)
	cond := eb.Cmp(ir.Expr(0), eb.Imm(2, i32), "lt")

	base := fib.NewBlock()
	rec := fib.NewBlock()
	eb.BranchIf(cond, base, rec)

	bb := ir.NewBuilder(fib, base)
	bb.Return(ir.Expr(0))

	rb := ir.NewBuilder(fib, rec)
	nMinus1 := rb.Sub(ir.Expr(0), rb.Imm(1, i32))
	nMinus2 := rb.Sub(ir.Expr(0), rb.Imm(2, i32))
	a := rb.Call(fib, []ir.Expr{nMinus1})
	b := rb.Call(fib, []ir.Expr{nMinus2})
	rb.Return(rb.Add(a, b))

	return fib
}

// TestTaskFibonacciViaTasks grounds spec.md §8's E2 scenario: a caller
// spawns two independent Fibonacci computations as tasks, awaits both,
// and combines them — the recursive calls fib makes to itself stay
// synchronous, only the caller's two call sites become task_queue/
// task_await_future pairs.
func TestTaskFibonacciViaTasks(t *testing.T) {
	pkg := &ir.Package{Path: "fib"}

	fib := buildFib()
	pkg.AddFunc(fib)

	caller := ir.NewFunc("main", nil, []tp.Type{i32})
	pkg.AddFunc(caller)

	cb := ir.NewBuilder(caller, caller.Entry)
	r1 := cb.Call(fib, []ir.Expr{cb.Imm(10, i32)})
	r2 := cb.Call(fib, []ir.Expr{cb.Imm(12, i32)})
	cb.Return(cb.Add(r1, r2))

	m := hlir.ModuleFor(pkg)
	c := m.NewTask(fib)

	if err := Task(pkg, c, TaskOptions{}); err != nil {
		t.Fatalf("Task: %v", err)
	}

	if c.Wrapper == nil {
		t.Fatal("Task did not set c.Wrapper")
	}

	foundQueue := 0
	for _, x := range caller.Exprs {
		if cr, ok := x.(ir.CallRuntime); ok && cr.Symbol == "task_queue" {
			foundQueue++
		}
	}

	if foundQueue != 2 {
		t.Fatalf("caller has %d task_queue call sites, want 2", foundQueue)
	}

	for _, x := range fib.Exprs {
		if _, ok := x.(ir.CallRuntime); ok {
			t.Fatal("fib's own body must not be touched by its own Task lowering")
		}
	}

	ctx := context.Background()
	rc := runtime2.NewContext(ctx, 0)
	defer rc.Shutdown(ctx)
	abi.SetContext(rc)

	in := exec.New(ctx)
	out := in.Run(caller, nil)

	want := int64(55 + 144) // fib(10) + fib(12)
	if got := exec.Int64(out[0]); got != want {
		t.Fatalf("main() = %d, want %d", got, want)
	}
}

// TestTaskUnusedResultLeaksByDefault preserves the Open Question
// decision that a task result nobody reads never triggers
// task_await_future/release_task_args.
func TestTaskUnusedResultLeaksByDefault(t *testing.T) {
	pkg := &ir.Package{Path: "leak"}

	fn := ir.NewFunc("noop", []ir.Param{{Name: "n", Type: i32}}, []tp.Type{i32})
	fb := ir.NewBuilder(fn, fn.Entry)
	fb.Return(ir.Expr(0))
	pkg.AddFunc(fn)

	caller := ir.NewFunc("main", nil, nil)
	pkg.AddFunc(caller)

	cb := ir.NewBuilder(caller, caller.Entry)
	cb.Call(fn, []ir.Expr{cb.Imm(1, i32)})
	cb.Return()

	m := hlir.ModuleFor(pkg)
	c := m.NewTask(fn)

	if err := Task(pkg, c, TaskOptions{}); err != nil {
		t.Fatalf("Task: %v", err)
	}

	for _, x := range caller.Exprs {
		if cr, ok := x.(ir.CallRuntime); ok && cr.Symbol == "task_await_future" {
			t.Fatal("an unused task result must not be awaited, per the preserved leak behavior")
		}
	}
}

// TestTaskDepthFieldUninitializedByDefault checks the Open Question 1
// decision: the wrapper leaves the depth field untouched unless
// WithDepthInit is passed.
func TestTaskDepthFieldUninitializedByDefault(t *testing.T) {
	pkg := &ir.Package{Path: "depth"}

	fn := ir.NewFunc("leaf", nil, nil)
	fb := ir.NewBuilder(fn, fn.Entry)
	fb.Return()
	pkg.AddFunc(fn)

	m := hlir.ModuleFor(pkg)
	c := m.NewTask(fn)

	if err := Task(pkg, c, TaskOptions{}); err != nil {
		t.Fatalf("Task: %v", err)
	}

	for _, x := range c.Wrapper.Exprs {
		if gep, ok := x.(ir.GEP); ok && gep.Field == 1 {
			t.Fatal("default TaskOptions must not touch the depth field (offset 1)")
		}
	}
}

func TestTaskDepthFieldInitializedWithOption(t *testing.T) {
	pkg := &ir.Package{Path: "depth2"}

	fn := ir.NewFunc("leaf", nil, nil)
	fb := ir.NewBuilder(fn, fn.Entry)
	fb.Return()
	pkg.AddFunc(fn)

	m := hlir.ModuleFor(pkg)
	c := m.NewTask(fn)

	if err := Task(pkg, c, WithDepthInit()); err != nil {
		t.Fatalf("Task: %v", err)
	}

	found := false
	for _, x := range c.Wrapper.Exprs {
		if gep, ok := x.(ir.GEP); ok && gep.Field == 1 {
			found = true
		}
	}

	if !found {
		t.Fatal("WithDepthInit must make the wrapper touch the depth field (offset 1)")
	}
}
