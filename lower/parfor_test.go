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

// buildFillProgram builds a caller that allocates an n-slot buffer
// and a parallel-for body writing i*2 into buf[i], capturing only
// the buffer pointer (spec.md §8's E1 and E4: capture correctness).
func buildFillProgram(n int64) (pkg *ir.Package, caller *ir.Func, buf ir.Expr, c *hlir.ParallelFor) {
	pkg = &ir.Package{Path: "fill"}
	m := hlir.ModuleFor(pkg)

	caller = ir.NewFunc("main", nil, nil)
	pkg.AddFunc(caller)

	size := int(n)
	if size < 0 {
		size = 0
	}

	cb := ir.NewBuilder(caller, caller.Entry)
	buf = cb.Alloca(tp.Array{X: i32, Len: size})
	marker := cb.Marker("pfor")

	c = m.NewParallelFor(0, n)
	c.CallerFunc = caller
	c.CallerBlock = caller.Entry
	c.Marker = marker
	pkg.AddFunc(c.Body)

	bb := ir.NewBuilder(c.Body, c.Body.Entry)
	argsIns := bb.Marker("args")
	bufRef := bb.ExternRef(ir.ValueRef{Func: caller, Expr: buf})
	idx := ir.Expr(1)
	doubled := bb.Mul(idx, bb.Imm(2, i32))
	bb.Store(bb.GEPIndex(bufRef, idx, i32), doubled)
	c.ArgsInsertion = argsIns

	return pkg, caller, buf, c
}

func runFill(t *testing.T, n int64) []int32 {
	t.Helper()

	_, caller, buf, c := buildFillProgram(n)

	if err := ParallelFor(c); err != nil {
		t.Fatalf("ParallelFor: %v", err)
	}

	m := int64(n)
	if m < 0 {
		m = 0
	}

	// lowering split caller's block at the marker: the code that
	// follows the construct goes into the new last block.
	cb := ir.NewBuilder(caller, ir.BlockID(len(caller.Blocks)-1))
	readAll := make([]ir.Expr, m)
	for i := int64(0); i < m; i++ {
		readAll[i] = cb.Load(cb.GEPIndex(buf, cb.Imm(i, i32), i32), i32)
	}
	cb.Return(readAll...)

	ctx := context.Background()
	rc := runtime2.NewContext(ctx, 0)
	defer rc.Shutdown(ctx)
	abi.SetContext(rc)

	in := exec.New(ctx)
	out := in.Run(caller, nil)

	got := make([]int32, len(out))
	for i, w := range out {
		got[i] = int32(exec.Int64(w))
	}

	return got
}

func TestParallelForFillsBuffer(t *testing.T) {
	got := runFill(t, 6)

	want := []int32{0, 2, 4, 6, 8, 10}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	for i, w := range want {
		if got[i] != w {
			t.Fatalf("buf[%d] = %d, want %d", i, got[i], w)
		}
	}
}

func TestParallelForEmptyRangeIsNoop(t *testing.T) {
	pkg, caller, _, c := buildFillProgram(0)
	_ = pkg

	if err := ParallelFor(c); err != nil {
		t.Fatalf("ParallelFor: %v", err)
	}

	cb := ir.NewBuilder(caller, ir.BlockID(len(caller.Blocks)-1))
	cb.Return()

	ctx := context.Background()
	rc := runtime2.NewContext(ctx, 0)
	defer rc.Shutdown(ctx)
	abi.SetContext(rc)

	in := exec.New(ctx)
	in.Run(caller, nil) // must return without blocking on create_synch/await_synch
}

func TestParallelForDedupsCaptures(t *testing.T) {
	pkg := &ir.Package{Path: "dedup"}
	m := hlir.ModuleFor(pkg)

	caller := ir.NewFunc("main", nil, nil)
	pkg.AddFunc(caller)

	cb := ir.NewBuilder(caller, caller.Entry)
	buf := cb.Alloca(tp.Array{X: i32, Len: 4})
	marker := cb.Marker("pfor")

	c := m.NewParallelFor(0, 4)
	c.CallerFunc = caller
	c.CallerBlock = caller.Entry
	c.Marker = marker
	pkg.AddFunc(c.Body)

	bb := ir.NewBuilder(c.Body, c.Body.Entry)
	argsIns := bb.Marker("args")

	// reference the same captured value twice; the capture set must
	// still end up with exactly one entry (spec.md §4.4 step 1).
	ref1 := bb.ExternRef(ir.ValueRef{Func: caller, Expr: buf})
	ref2 := bb.ExternRef(ir.ValueRef{Func: caller, Expr: buf})
	idx := ir.Expr(1)
	bb.Store(bb.GEPIndex(ref1, idx, i32), idx)
	bb.Store(bb.GEPIndex(ref2, idx, i32), idx)
	c.ArgsInsertion = argsIns

	captures := discoverCaptures(c.Body)
	if len(captures) != 1 {
		t.Fatalf("discoverCaptures found %d entries, want 1", len(captures))
	}
}
