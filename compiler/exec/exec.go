// Package exec is the tiny in-process execution backend this tree
// substitutes for the real compiled backend spec.md places out of
// scope (§1): it walks a lowered *ir.Func block by block and drives
// package runtime/abi exactly the way compiled machine code would,
// so cmd/ares's run subcommand and the lower package's tests can
// exercise a lowered parallel-for/task/reduce construct against the
// real thread pool instead of only inspecting the shape of the IR
// lowering produced.
//
// Every Expr's runtime value is one machine word, represented as
// unsafe.Pointer regardless of whether the IR type is an integer or
// an actual pointer: every struct field and array element in this
// tree's type system (compiler/tp) fits in one word, so GEP addresses
// a slot by index rather than by byte offset, and the interpreter
// never needs to distinguish "this word is secretly an int64" from
// "this word is a real pointer" until an arithmetic or comparison
// instruction asks for it. A real pointer word stays reachable to the
// garbage collector because it is always held in an []unsafe.Pointer-
// typed slice or field, never smuggled through a uintptr-typed one.
package exec

import (
	"context"
	"fmt"
	"unsafe"

	"github.com/aresrt/ares/compiler/ir"
	"github.com/aresrt/ares/compiler/tp"
	"github.com/aresrt/ares/runtime/abi"
	"github.com/aresrt/ares/runtime/pool"
	"github.com/aresrt/ares/runtime2"
)

// Interp runs one or more *ir.Func values against a single
// runtime/abi context. It holds no mutable state of its own, so the
// same Interp is safe to re-enter concurrently from worker goroutines
// the thread pool spins up while running a parallel-for or a task.
type Interp struct {
	ctx context.Context
}

func New(ctx context.Context) *Interp {
	return &Interp{ctx: ctx}
}

func wordFromInt(v int64) unsafe.Pointer { return unsafe.Pointer(uintptr(v)) }
func intFromWord(w unsafe.Pointer) int64 { return int64(uintptr(w)) }

func wordFromBool(b bool) unsafe.Pointer {
	if b {
		return wordFromInt(1)
	}

	return wordFromInt(0)
}

// ArgsFromInt64 converts a plain argument list into the machine-word
// form Run expects, for callers (cmd/ares, tests) driving an
// integer-only entry point.
func ArgsFromInt64(vs ...int64) []unsafe.Pointer {
	out := make([]unsafe.Pointer, len(vs))
	for i, v := range vs {
		out[i] = wordFromInt(v)
	}

	return out
}

// Int64 reinterprets a result word Run returned as a plain int64, for
// callers that know the corresponding IR type was integer-typed.
func Int64(w unsafe.Pointer) int64 { return intFromWord(w) }

// Run evaluates fn starting at its entry block and returns the words
// its Return instruction carries out. args must already be in the
// machine-word form every Expr's result takes (see ArgsFromInt64).
func (in *Interp) Run(fn *ir.Func, args []unsafe.Pointer) []unsafe.Pointer {
	regs := make([]unsafe.Pointer, len(fn.Exprs))
	block := fn.Entry

blocks:
	for {
		for _, x := range fn.Blocks[block].Code {
			switch instr := fn.Exprs[x].(type) {
			case ir.Arg:
				regs[x] = args[instr.Num]
			case ir.Imm:
				regs[x] = wordFromInt(instr.Value)
			case ir.ExternRef:
				panic("exec: unresolved ExternRef reached the interpreter; lowering must run first")
			case ir.Add:
				regs[x] = wordFromInt(intFromWord(regs[instr.L]) + intFromWord(regs[instr.R]))
			case ir.Sub:
				regs[x] = wordFromInt(intFromWord(regs[instr.L]) - intFromWord(regs[instr.R]))
			case ir.Mul:
				regs[x] = wordFromInt(intFromWord(regs[instr.L]) * intFromWord(regs[instr.R]))
			case ir.Cmp:
				regs[x] = wordFromBool(evalCmp(instr.Cond, intFromWord(regs[instr.L]), intFromWord(regs[instr.R])))
			case ir.Marker:
				// only meaningful to the lowering pass that consumed it
			case ir.Alloca:
				regs[x] = allocaWords(instr.Type)
			case ir.BitCast:
				regs[x] = regs[instr.Expr]
			case ir.GEP:
				regs[x] = evalGEP(fn, instr, regs)
			case ir.Load:
				regs[x] = *(*unsafe.Pointer)(regs[instr.Ptr])
			case ir.Store:
				*(*unsafe.Pointer)(regs[instr.Ptr]) = regs[instr.Value]
			case ir.FuncRef:
				// resolved lazily by name at the CallRuntime/Call site
				// that actually needs instr.Func; nothing dereferences
				// regs[x] for a FuncRef on its own.
			case ir.Call:
				callArgs := make([]unsafe.Pointer, len(instr.Args))
				for i, a := range instr.Args {
					callArgs[i] = regs[a]
				}

				out := in.Run(instr.Func, callArgs)
				if len(out) > 0 {
					regs[x] = out[0]
				}
			case ir.CallRuntime:
				regs[x] = in.callRuntime(fn, instr, regs)
			case ir.Branch:
				block = instr.Block
				continue blocks
			case ir.BranchIf:
				if intFromWord(regs[instr.Expr]) != 0 {
					block = instr.IfTrue
				} else {
					block = instr.IfFalse
				}

				continue blocks
			case ir.Return:
				out := make([]unsafe.Pointer, len(instr.Values))
				for i, v := range instr.Values {
					out[i] = regs[v]
				}

				return out
			case ir.Phi:
				panic("exec: Phi is never emitted by this tree's lowering passes")
			default:
				panic(fmt.Sprintf("exec: unhandled instruction %T", instr))
			}
		}

		panic("exec: block fell off the end without a terminator")
	}
}

func evalCmp(cond ir.Cond, l, r int64) bool {
	switch cond {
	case "eq":
		return l == r
	case "ne":
		return l != r
	case "lt":
		return l < r
	case "le":
		return l <= r
	case "gt":
		return l > r
	case "ge":
		return l >= r
	default:
		panic("exec: unknown cmp condition " + string(cond))
	}
}

func allocaWords(t tp.Type) unsafe.Pointer {
	n := tp.Slots(t)
	if n < 1 {
		// a zero-field captured-args struct (a construct with no
		// captures) still needs a distinct, non-dereferenced pointer
		// value to carry around and BitCast.
		n = 1
	}

	buf := make([]unsafe.Pointer, n)

	return unsafe.Pointer(&buf[0])
}

func slotAddr(base unsafe.Pointer, slot int) unsafe.Pointer {
	return unsafe.Pointer(uintptr(base) + uintptr(slot)*tp.WordSize)
}

// evalGEP resolves a field or index address. Field access requires
// fn's static type for the GEP's pointer operand to resolve to
// tp.Ptr{X: tp.Struct} — true of every GEPField call site in this
// tree, since each one is built directly off an Alloca, a BitCast, or
// a "alloc" CallRuntime that all name the struct type explicitly.
func evalGEP(fn *ir.Func, instr ir.GEP, regs []unsafe.Pointer) unsafe.Pointer {
	base := regs[instr.Ptr]

	if instr.Index != ir.Nowhere {
		idx := int(intFromWord(regs[instr.Index]))

		return slotAddr(base, idx)
	}

	ptrType, ok := fn.Type(instr.Ptr).(tp.Ptr)
	if !ok {
		panic("exec: GEP field access on a non-pointer base")
	}

	if _, ok := ptrType.X.(tp.Struct); !ok {
		panic("exec: GEP field access on a pointer not typed as a struct")
	}

	// instr.Field is already the field's position in declaration
	// order, matching the one-word-per-field layout allocaWords uses —
	// not structType.Fields[i].Offset, which is a byte offset from
	// compiler/tp's packed layout and unrelated to this interpreter's
	// word-addressed memory model.
	return slotAddr(base, instr.Field)
}

// callRuntime dispatches one of the eight stable facade symbols
// (spec.md §4.3), or release_task_args, against the real runtime/abi
// package. queue_func and
// task_queue need the *ir.Func a FuncRef names, not just its
// (meaningless, on its own) word value, so those two symbols reach
// into fn.Exprs directly rather than through the generically resolved
// regs slice.
func (in *Interp) callRuntime(fn *ir.Func, instr ir.CallRuntime, regs []unsafe.Pointer) unsafe.Pointer {
	a := instr.Args

	switch instr.Symbol {
	case "create_synch":
		n := int32(intFromWord(regs[a[0]]))

		return abi.CreateSynch(n)
	case "queue_func":
		synch := regs[a[0]]
		argsPtr := regs[a[1]]
		target := fn.Exprs[a[2]].(ir.FuncRef).Func
		index := int32(intFromWord(regs[a[3]]))
		priority := int32(intFromWord(regs[a[4]]))

		abi.QueueFunc(synch, argsPtr, in.parforPoolFunc(target), index, priority)

		return nil
	case "finish_func":
		abi.FinishFunc(regs[a[0]])

		return nil
	case "await_synch":
		abi.AwaitSynch(regs[a[0]])

		return nil
	case "alloc":
		n := intFromWord(regs[a[0]])

		ptr, err := abi.Alloc(in.ctx, n)
		if err != nil {
			panic(err)
		}

		return ptr
	case "task_queue":
		target := fn.Exprs[a[0]].(ir.FuncRef).Func
		argsPtr := regs[a[1]]

		abi.TaskQueue(in.taskPoolFunc(target), argsPtr)

		return nil
	case "task_await_future":
		abi.TaskAwaitFuture(regs[a[0]])

		return nil
	case "release_task_args":
		abi.ReleaseTaskArgs(regs[a[0]])

		return nil
	case "task_release_future":
		abi.TaskReleaseFuture(regs[a[0]])

		return nil
	default:
		panic("exec: unknown runtime symbol " + instr.Symbol)
	}
}

// parforPoolFunc adapts a parallel-for/parallel-reduce body or
// partition-worker function into the pool.Func shape queue_func's
// trampoline expects: the pool hands the work item a *runtime2.FuncArg
// triple, not body's own three arguments directly, so the adapter
// unpacks it before re-entering Run.
func (in *Interp) parforPoolFunc(body *ir.Func) pool.Func {
	return func(triple unsafe.Pointer) {
		t := (*runtime2.FuncArg)(triple)

		in.Run(body, []unsafe.Pointer{t.Args, wordFromInt(int64(t.Index)), unsafe.Pointer(t.Synch)})
	}
}

// taskPoolFunc adapts a task wrapper into pool.Func: task_queue's
// trampoline, unlike queue_func's, hands the work item the task-args
// pointer directly, so no unwrapping is needed.
func (in *Interp) taskPoolFunc(wrapper *ir.Func) pool.Func {
	return func(argsPtr unsafe.Pointer) {
		in.Run(wrapper, []unsafe.Pointer{argsPtr})
	}
}
