package lower

import (
	"context"
	"runtime"
	"testing"

	"github.com/aresrt/ares/compiler/exec"
	"github.com/aresrt/ares/compiler/ir"
	"github.com/aresrt/ares/compiler/tp"
	"github.com/aresrt/ares/hlir"
	"github.com/aresrt/ares/runtime/abi"
	"github.com/aresrt/ares/runtime2"
)

// buildReduceProgram wires a caller, a per-index body, and a combine
// function into a registered parallel-reduce construct over [start,
// end), ready for ParallelReduce to rewrite in place.
func buildReduceProgram(start, end int64, combine *ir.Func, bodyVal func(*ir.Builder, ir.Expr) ir.Expr) (pkg *ir.Package, caller *ir.Func, resultSlot ir.Expr, c *hlir.ParallelReduce) {
	pkg = &ir.Package{Path: "reduce"}
	m := hlir.ModuleFor(pkg)

	caller = ir.NewFunc("main", nil, nil)
	pkg.AddFunc(caller)
	pkg.AddFunc(combine)

	cb := ir.NewBuilder(caller, caller.Entry)
	resultSlot = cb.Alloca(i32)
	marker := cb.Marker("preduce")

	c = m.NewParallelReduce(start, end, i32, combine)
	c.CallerFunc = caller
	c.CallerBlock = caller.Entry
	c.Marker = marker
	c.ResultSlot = resultSlot
	pkg.AddFunc(c.Body)

	bb := ir.NewBuilder(c.Body, c.Body.Entry)
	argsIns := bb.Marker("args")
	i := ir.Expr(1)
	bb.Return(bodyVal(bb, i))
	c.ArgsInsertion = argsIns
	c.ReduceVar = i

	return pkg, caller, resultSlot, c
}

// buildSumCombine builds an associative, commutative add(a, b) = a + b.
func buildSumCombine() *ir.Func {
	fn := ir.NewFunc("add", []ir.Param{{Name: "a", Type: i32}, {Name: "b", Type: i32}}, []tp.Type{i32})
	fb := ir.NewBuilder(fn, fn.Entry)
	fb.Return(fb.Add(ir.Expr(0), ir.Expr(1)))

	return fn
}

// buildConcatCombine builds a non-commutative, non-associativity-
// hiding digit-concatenation operator: concat(a, b) = a*10 + b, the
// same value an actual string-concat combine would produce read as
// decimal digits. Swapping a and b changes the result, so the test
// using it shows the values are folded left to right. It is not
// associative either (concat(concat(1,2),3) = 123, concat(1,concat(2,3))
// = 33), so its result over a range depends on how the range is
// partitioned.
func buildConcatCombine() *ir.Func {
	fn := ir.NewFunc("concat", []ir.Param{{Name: "a", Type: i32}, {Name: "b", Type: i32}}, []tp.Type{i32})
	fb := ir.NewBuilder(fn, fn.Entry)
	ten := fb.Imm(10, i32)
	fb.Return(fb.Add(fb.Mul(ir.Expr(0), ten), ir.Expr(1)))

	return fn
}

func runReduce(t *testing.T, pkg *ir.Package, caller *ir.Func, resultSlot ir.Expr, c *hlir.ParallelReduce) int64 {
	t.Helper()

	if err := ParallelReduce(pkg, c); err != nil {
		t.Fatalf("ParallelReduce: %v", err)
	}

	// lowering split caller's block at the marker: the code that
	// follows the construct goes into the new last block.
	cb := ir.NewBuilder(caller, ir.BlockID(len(caller.Blocks)-1))
	cb.Return(cb.Load(resultSlot, i32))

	ctx := context.Background()
	rc := runtime2.NewContext(ctx, 0)
	defer rc.Shutdown(ctx)
	abi.SetContext(rc)

	in := exec.New(ctx)
	out := in.Run(caller, nil)

	return exec.Int64(out[0])
}

func TestParallelReduceSumIsOrderIndependent(t *testing.T) {
	combine := buildSumCombine()

	pkg, caller, resultSlot, c := buildReduceProgram(0, 10, combine, func(b *ir.Builder, i ir.Expr) ir.Expr {
		return i
	})

	got := runReduce(t, pkg, caller, resultSlot, c)

	want := int64(45) // 0+1+...+9
	if got != want {
		t.Fatalf("sum = %d, want %d", got, want)
	}
}

// TestParallelReduceConcatPreservesOrder pins GOMAXPROCS to 1 for the
// duration of the test. partitionCount (reduce.go) derives the
// partition count directly from runtime.GOMAXPROCS(0), so with more
// than one partition the binary combine tree regroups values across
// partition boundaries (it keeps them in left-to-right order), and
// since concat is not associative the value would then depend on the
// host's partition count. Pinning to one partition makes the
// single partition worker's sequential fold — which is always
// left-to-right — the only order in play, so the expected value is
// the same on every host.
func TestParallelReduceConcatPreservesOrder(t *testing.T) {
	defer runtime.GOMAXPROCS(runtime.GOMAXPROCS(1))

	combine := buildConcatCombine()

	pkg, caller, resultSlot, c := buildReduceProgram(0, 5, combine, func(b *ir.Builder, i ir.Expr) ir.Expr {
		return b.Add(i, b.Imm(1, i32)) // values 1,2,3,4,5
	})

	got := runReduce(t, pkg, caller, resultSlot, c)

	want := int64(12345)
	if got != want {
		t.Fatalf("concat = %d, want %d (single-partition fold must visit values left to right)", got, want)
	}
}

func TestParallelReduceEmptyRangeIsNoop(t *testing.T) {
	combine := buildSumCombine()

	pkg, caller, resultSlot, c := buildReduceProgram(5, 5, combine, func(b *ir.Builder, i ir.Expr) ir.Expr {
		return i
	})

	if err := ParallelReduce(pkg, c); err != nil {
		t.Fatalf("ParallelReduce: %v", err)
	}

	// lowering split caller's block at the marker: the code that
	// follows the construct goes into the new last block.
	cb := ir.NewBuilder(caller, ir.BlockID(len(caller.Blocks)-1))
	cb.Return(cb.Load(resultSlot, i32))

	ctx := context.Background()
	rc := runtime2.NewContext(ctx, 0)
	defer rc.Shutdown(ctx)
	abi.SetContext(rc)

	in := exec.New(ctx)
	in.Run(caller, nil) // must return without blocking on create_synch/await_synch
}
