package lower

import (
	"runtime"

	"github.com/aresrt/ares/compiler/ir"
	"github.com/aresrt/ares/compiler/set"
	"github.com/aresrt/ares/compiler/tp"
	"github.com/aresrt/ares/hlir"
	"github.com/aresrt/ares/runtime2"
)

// partitionArgsType describes the per-partition work-item payload the
// parallel-reduce fan-out queues: a pointer back to the construct's
// captured-args struct, the partition's [start, end) sub-range, a
// pointer to the shared results array, and which slot of it this
// partition owns.
func partitionArgsType() tp.Struct {
	i32 := tp.Int{Bits: 32, Signed: true}
	ptr := tp.Ptr{X: tp.Untyped{}}

	return tp.NewStruct(
		tp.StructField{Name: "captured", Type: ptr},
		tp.StructField{Name: "start", Type: i32},
		tp.StructField{Name: "end", Type: i32},
		tp.StructField{Name: "results", Type: ptr},
		tp.StructField{Name: "slot", Type: i32},
	)
}

// ParallelReduce rewrites c in place: the caller side allocates a
// results slot per partition, queues one partition worker per
// partition, awaits them, then combines the partial results in a
// binary tree using c.Combine (spec.md §4.6). Worker count is decided
// at lowering time from this process's own runtime.GOMAXPROCS(0),
// capped to the number of loop iterations — the HLIR modeled here has
// no ABI symbol for reading hardware concurrency at the lowered
// program's own runtime, so partitioning is a lowering-time constant
// rather than one chosen when the compiled program actually runs.
func ParallelReduce(pkg *ir.Package, c *hlir.ParallelReduce) error {
	if c.CallerFunc == nil {
		panic("lower: parallel-reduce has no CallerFunc")
	}

	captures := discoverCaptures(c.Body)
	argsType := tp.NewCapturedArgsStruct(captureTypes(captures))

	cont := c.CallerFunc.SplitBlockAt(c.CallerBlock, c.Marker)

	bodyCont := c.Body.SplitBlockAt(c.Body.Entry, c.ArgsInsertion)
	unpackCaptures(c.Body, argsType, captures)
	ir.NewBuilder(c.Body, c.Body.Entry).Branch(bodyCont)

	n := c.End - c.Start
	if n <= 0 {
		ir.NewBuilder(c.CallerFunc, c.CallerBlock).Branch(cont)
		return nil
	}

	m := partitionCount(n)
	bounds := partitionBounds(c.Start, c.End, m)

	worker := buildPartitionWorker(c)
	pkg.AddFunc(worker)

	emitReduceCallSite(c, argsType, captures, worker, bounds, cont)

	return nil
}

func partitionCount(n int64) int {
	m := runtime.GOMAXPROCS(0)
	if int64(m) > n {
		m = int(n)
	}

	if m < 1 {
		m = 1
	}

	return m
}

type partition struct{ start, end int64 }

func partitionBounds(start, end int64, m int) []partition {
	n := end - start
	base := n / int64(m)
	rem := n % int64(m)

	out := make([]partition, m)
	pos := start

	for p := 0; p < m; p++ {
		size := base
		if int64(p) < rem {
			size++
		}

		out[p] = partition{start: pos, end: pos + size}
		pos += size
	}

	return out
}

// buildPartitionWorker synthesizes the function queue_func schedules
// once per partition: a real loop (Branch/BranchIf, no SSA phis —
// this is generated code, not user IR) over [start, end) calling
// c.Body for each index, folding results through c.Combine, and
// writing the partition's final value into results[slot] before
// releasing the shared synch through finish_func.
func buildPartitionWorker(c *hlir.ParallelReduce) *ir.Func {
	i32 := tp.Int{Bits: 32, Signed: true}
	ptr := tp.Ptr{X: tp.Untyped{}}
	pargsType := partitionArgsType()

	f := ir.NewFunc(c.Body.Name+"$partition", []ir.Param{
		{Name: "pargs", Type: ptr},
		{Name: "i", Type: i32},
		{Name: "synch", Type: ptr},
	}, nil)

	entry := ir.NewBuilder(f, f.Entry)

	pargs := entry.BitCast(ir.Expr(0), tp.Ptr{X: pargsType})
	captured := entry.Load(entry.GEPField(pargs, 0, ptr), ptr)
	start := entry.Load(entry.GEPField(pargs, 1, i32), i32)
	end := entry.Load(entry.GEPField(pargs, 2, i32), i32)
	results := entry.Load(entry.GEPField(pargs, 3, ptr), ptr)
	slot := entry.Load(entry.GEPField(pargs, 4, i32), i32)

	iSlot := entry.Alloca(i32)
	entry.Store(iSlot, start)

	accSlot := entry.Alloca(c.ReduceType)
	haveSlot := entry.Alloca(i32)
	entry.Store(haveSlot, entry.Imm(0, i32))

	loopHead := f.NewBlock()
	loopBody := f.NewBlock()
	seed := f.NewBlock()
	combine := f.NewBlock()
	afterCombine := f.NewBlock()
	loopExit := f.NewBlock()

	entry.Branch(loopHead)

	head := ir.NewBuilder(f, loopHead)
	i := head.Load(iSlot, i32)
	cond := head.Cmp(i, end, "lt")
	head.BranchIf(cond, loopBody, loopExit)

	body := ir.NewBuilder(f, loopBody)
	val := body.Call(c.Body, []ir.Expr{captured, i})
	have := body.Load(haveSlot, i32)
	haveCond := body.Cmp(have, body.Imm(0, i32), "eq")
	body.BranchIf(haveCond, seed, combine)

	seedB := ir.NewBuilder(f, seed)
	seedB.Store(accSlot, val)
	seedB.Store(haveSlot, seedB.Imm(1, i32))
	seedB.Branch(afterCombine)

	combB := ir.NewBuilder(f, combine)
	prevAcc := combB.Load(accSlot, c.ReduceType)
	combined := combB.Call(c.Combine, []ir.Expr{prevAcc, val})
	combB.Store(accSlot, combined)
	combB.Branch(afterCombine)

	afterB := ir.NewBuilder(f, afterCombine)
	nextI := afterB.Add(i, afterB.Imm(1, i32))
	afterB.Store(iSlot, nextI)
	afterB.Branch(loopHead)

	exitB := ir.NewBuilder(f, loopExit)
	finalAcc := exitB.Load(accSlot, c.ReduceType)
	slotPtr := exitB.GEPIndex(results, slot, c.ReduceType)
	exitB.Store(slotPtr, finalAcc)
	exitB.CallRuntime("finish_func", []ir.Expr{ir.Expr(2)}, tp.Void{})
	exitB.Return()

	return f
}

// emitReduceCallSite builds the caller-side sequence at the point the
// marker used to sit: the shared captured-args struct, the results
// array, a partition-args struct per partition, the queue loop, the
// await, and the combine tree, finishing with the result stored into
// c.ResultSlot before falling through to cont.
func emitReduceCallSite(c *hlir.ParallelReduce, argsType tp.Struct, captures []ir.ValueRef, worker *ir.Func, bounds []partition, cont ir.BlockID) {
	i32 := tp.Int{Bits: 32, Signed: true}
	ptr := tp.Ptr{X: tp.Untyped{}}
	pargsType := partitionArgsType()
	m := len(bounds)

	b := ir.NewBuilder(c.CallerFunc, c.CallerBlock)

	argsPtr := b.Alloca(argsType)
	storeCaptures(b, argsPtr, argsType, captures)
	argsUntyped := b.BitCast(argsPtr, ptr)

	resultsType := tp.Array{X: c.ReduceType, Len: m}
	resultsPtr := b.Alloca(resultsType)
	resultsUntyped := b.BitCast(resultsPtr, ptr)

	synch := b.CallRuntime("create_synch", []ir.Expr{b.Imm(int64(m), i32)}, ptr)

	workerRef := b.FuncRef(worker)
	priority := b.Imm(int64(runtime2.PriorityParallelFor), i32)

	for p, bound := range bounds {
		pargsPtr := b.Alloca(pargsType)
		b.Store(b.GEPField(pargsPtr, 0, ptr), argsUntyped)
		b.Store(b.GEPField(pargsPtr, 1, i32), b.Imm(bound.start, i32))
		b.Store(b.GEPField(pargsPtr, 2, i32), b.Imm(bound.end, i32))
		b.Store(b.GEPField(pargsPtr, 3, ptr), resultsUntyped)
		b.Store(b.GEPField(pargsPtr, 4, i32), b.Imm(int64(p), i32))

		index := b.Imm(int64(p), i32)
		b.CallRuntime("queue_func", []ir.Expr{synch, pargsPtr, workerRef, index, priority}, tp.Void{})
	}

	b.CallRuntime("await_synch", []ir.Expr{synch}, tp.Void{})

	// live tracks which result slots still hold an un-combined partial,
	// the same bitmap-liveness bookkeeping style the teacher's back-end
	// passes used for value liveness, here verifying the combine tree
	// below visits every partition's slot exactly once and leaves
	// exactly slot 0 standing.
	live := set.MakeBitmap(m)
	for p := 0; p < m; p++ {
		live.Set(p)
	}

	for step := 1; step < m; step *= 2 {
		for idx := 0; idx+step < m; idx += 2 * step {
			aPtr := b.GEPIndex(resultsPtr, b.Imm(int64(idx), i32), c.ReduceType)
			a := b.Load(aPtr, c.ReduceType)
			bPtr := b.GEPIndex(resultsPtr, b.Imm(int64(idx+step), i32), c.ReduceType)
			bv := b.Load(bPtr, c.ReduceType)

			combined := b.Call(c.Combine, []ir.Expr{a, bv})
			b.Store(aPtr, combined)

			live.Clear(idx + step)
		}
	}

	if live.Size() != 1 || !live.IsSet(0) {
		panic("lower: reduce combine tree did not collapse to a single slot")
	}

	finalPtr := b.GEPIndex(resultsPtr, b.Imm(0, i32), c.ReduceType)
	final := b.Load(finalPtr, c.ReduceType)
	b.Store(c.ResultSlot, final)

	b.Branch(cont)
}
