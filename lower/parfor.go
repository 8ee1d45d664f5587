package lower

import (
	"github.com/aresrt/ares/compiler/ir"
	"github.com/aresrt/ares/compiler/tp"
	"github.com/aresrt/ares/hlir"
	"github.com/aresrt/ares/runtime2"
)

// ParallelFor rewrites c in place into the caller-side queue/await
// sequence and the body-side unpack/finish sequence spec.md §4.4
// describes. It panics if c.CallerFunc was never set or if c.Marker or
// c.ArgsInsertion does not name an ir.Marker — the emitter must finish
// populating a construct before lowering runs. Every captured ir.ValueRef is assumed to be
// defined in c.CallerFunc itself; the HLIR emitter in this tree never
// captures a value from a function further up the call stack.
func ParallelFor(c *hlir.ParallelFor) error {
	if c.CallerFunc == nil {
		panic("lower: parallel-for has no CallerFunc")
	}

	if _, ok := c.CallerFunc.Exprs[c.Marker].(ir.Marker); !ok {
		panic("lower: parallel-for Marker does not name an ir.Marker")
	}

	if _, ok := c.Body.Exprs[c.ArgsInsertion].(ir.Marker); !ok {
		panic("lower: parallel-for ArgsInsertion does not name an ir.Marker")
	}

	captures := discoverCaptures(c.Body)
	argsType := tp.NewCapturedArgsStruct(captureTypes(captures))

	cont := c.CallerFunc.SplitBlockAt(c.CallerBlock, c.Marker)
	emitParforCallSite(c, argsType, captures, cont)

	bodyCont := c.Body.SplitBlockAt(c.Body.Entry, c.ArgsInsertion)
	unpackCaptures(c.Body, argsType, captures)
	emitBodyFinish(c.Body, bodyCont)

	return nil
}

// emitParforCallSite builds the caller-side sequence at the point the
// marker used to sit: allocate the captured-args struct, store each
// capture into it, create the completion synch, queue one call per
// loop iteration, await the synch, then fall through to cont. The
// loop bound is a compile-time range (spec.md's Start/End are fixed
// at emission time), so the "queue loop" of §4.4 step 5 unrolls here
// rather than becoming a runtime loop in the caller's own IR.
func emitParforCallSite(c *hlir.ParallelFor, argsType tp.Struct, captures []ir.ValueRef, cont ir.BlockID) {
	b := ir.NewBuilder(c.CallerFunc, c.CallerBlock)

	n := c.End - c.Start
	if n <= 0 {
		b.Branch(cont)
		return
	}

	argsPtr := b.Alloca(argsType)
	storeCaptures(b, argsPtr, argsType, captures)

	synch := b.CallRuntime("create_synch", []ir.Expr{
		b.Imm(n, tp.Int{Bits: 32, Signed: true}),
	}, tp.Ptr{X: tp.Untyped{}})

	fnRef := b.FuncRef(c.Body)
	priority := b.Imm(int64(runtime2.PriorityParallelFor), tp.Int{Bits: 32, Signed: true})

	for idx := c.Start; idx < c.End; idx++ {
		index := b.Imm(idx, tp.Int{Bits: 32, Signed: true})
		b.CallRuntime("queue_func", []ir.Expr{synch, argsPtr, fnRef, index, priority}, tp.Void{})
	}

	b.CallRuntime("await_synch", []ir.Expr{synch}, tp.Void{})
	b.Branch(cont)
}

// emitBodyFinish appends, to the block cont left the rest of the
// user's body in, the finish_func call and the body's (void) return.
// Body is assumed to be a single straight-line block beyond the
// prologue — the emitter in this tree never produces a parallel-for
// body with internal control flow.
func emitBodyFinish(body *ir.Func, cont ir.BlockID) {
	prologue := ir.NewBuilder(body, body.Entry)
	prologue.Branch(cont)

	b := ir.NewBuilder(body, cont)
	b.CallRuntime("finish_func", []ir.Expr{ir.Expr(2)}, tp.Void{})
	b.Return()
}
