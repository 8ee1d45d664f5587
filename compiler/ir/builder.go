package ir

import (
	"github.com/aresrt/ares/compiler/tp"
)

// Builder inserts instructions into one Func, one block at a time,
// mirroring the role of an LLVM IRBuilder in the original source's
// HLIR lowering (HLIR.cpp calls CreateAlloca/CreateGEP/CreateLoad/
// CreateCall through exactly such a builder).
type Builder struct {
	Func  *Func
	Block BlockID
}

func NewBuilder(f *Func, b BlockID) *Builder {
	return &Builder{Func: f, Block: b}
}

func (b *Builder) emit(x any) Expr {
	id := b.Func.alloc(x)
	blk := b.Func.block(b.Block)
	blk.Code = append(blk.Code, id)

	return id
}

func (b *Builder) Imm(v int64, t tp.Type) Expr {
	return b.emit(Imm{Value: v, Type: t})
}

func (b *Builder) Alloca(t tp.Type) Expr {
	return b.emit(Alloca{Type: t})
}

func (b *Builder) BitCast(x Expr, t tp.Type) Expr {
	return b.emit(BitCast{Expr: x, Type: t})
}

func (b *Builder) GEPField(ptr Expr, field int, t tp.Type) Expr {
	return b.emit(GEP{Ptr: ptr, Field: field, Index: Nowhere, Type: t})
}

func (b *Builder) GEPIndex(ptr, index Expr, t tp.Type) Expr {
	return b.emit(GEP{Ptr: ptr, Field: -1, Index: index, Type: t})
}

func (b *Builder) Load(ptr Expr, t tp.Type) Expr {
	return b.emit(Load{Ptr: ptr, Type: t})
}

func (b *Builder) Store(ptr, val Expr) Expr {
	return b.emit(Store{Ptr: ptr, Value: val})
}

func (b *Builder) Add(l, r Expr) Expr { return b.emit(Add{L: l, R: r}) }
func (b *Builder) Sub(l, r Expr) Expr { return b.emit(Sub{L: l, R: r}) }
func (b *Builder) Mul(l, r Expr) Expr { return b.emit(Mul{L: l, R: r}) }
func (b *Builder) Cmp(l, r Expr, cond Cond) Expr {
	return b.emit(Cmp{L: l, R: r, Cond: cond})
}

func (b *Builder) Call(fn *Func, args []Expr) Expr {
	return b.emit(Call{Func: fn, Args: args})
}

func (b *Builder) CallRuntime(symbol string, args []Expr, t tp.Type) Expr {
	return b.emit(CallRuntime{Symbol: symbol, Args: args, Type: t})
}

func (b *Builder) Branch(to BlockID) Expr {
	return b.emit(Branch{Block: to})
}

func (b *Builder) BranchIf(cond Expr, ifTrue, ifFalse BlockID) Expr {
	return b.emit(BranchIf{Expr: cond, IfTrue: ifTrue, IfFalse: ifFalse})
}

func (b *Builder) Return(values ...Expr) Expr {
	return b.emit(Return{Values: values})
}

func (b *Builder) Marker(name string) Expr {
	return b.emit(Marker{Name: name})
}

func (b *Builder) ExternRef(ref ValueRef) Expr {
	return b.emit(ExternRef{Ref: ref})
}

func (b *Builder) FuncRef(fn *Func) Expr {
	return b.emit(FuncRef{Func: fn})
}

// NewBlock appends an empty block to the function and returns its id.
// It does not change the builder's current block.
func (f *Func) NewBlock() BlockID {
	id := BlockID(len(f.Blocks))
	f.Blocks = append(f.Blocks, Block{})

	return id
}

// IndexOf returns the position of x within block b's code, or -1.
func (f *Func) IndexOf(b BlockID, x Expr) int {
	for i, e := range f.Blocks[b].Code {
		if e == x {
			return i
		}
	}

	return -1
}

// BlockOf returns the block whose code list contains x, for callers
// (task call-site rewriting) that only have the Expr to start from.
func (f *Func) BlockOf(x Expr) (BlockID, bool) {
	for bi := range f.Blocks {
		if f.IndexOf(BlockID(bi), x) >= 0 {
			return BlockID(bi), true
		}
	}

	return 0, false
}

// SpliceAt replaces the single instruction at within block b with
// whatever build emits, preserving everything before and after it.
// at itself stays a dead entry in f.Exprs, the same way a spent
// ir.Marker is left behind rather than compacted out of existence.
func (f *Func) SpliceAt(b BlockID, at Expr, build func(*Builder)) {
	blk := &f.Blocks[b]

	j := f.IndexOf(b, at)
	if j < 0 {
		panic("ir: splice target not found in block")
	}

	before := append([]Expr{}, blk.Code[:j]...)
	after := append([]Expr{}, blk.Code[j+1:]...)

	blk.Code = before

	build(NewBuilder(f, b))

	blk.Code = append(f.Blocks[b].Code, after...)
}

// SplitBlockAt splits block b at marker: marker itself is dropped,
// everything before it stays in b, everything after it moves to a
// freshly created successor block, whose id is returned. This is the
// "the marker's basic block is split at the marker" step of §4.4.
func (f *Func) SplitBlockAt(b BlockID, marker Expr) BlockID {
	i := f.IndexOf(b, marker)
	if i < 0 {
		panic("ir: marker not found in block")
	}

	blk := &f.Blocks[b]

	after := Block{Code: append([]Expr{}, blk.Code[i+1:]...)}
	blk.Code = blk.Code[:i:i]

	id := BlockID(len(f.Blocks))
	f.Blocks = append(f.Blocks, after)

	return id
}

// InsertBefore inserts whatever build emits into block b immediately
// ahead of the existing instruction before, leaving before itself and
// everything else in place — unlike SpliceAt, which replaces the
// target instruction rather than just preceding it. Used to place
// task_await_future/release_task_args at the first real use of a
// task's result (spec.md §4.5 step 3), rather than right at the
// task_queue call site.
func (f *Func) InsertBefore(b BlockID, before Expr, build func(*Builder)) {
	blk := &f.Blocks[b]

	j := f.IndexOf(b, before)
	if j < 0 {
		panic("ir: insert-before target not found in block")
	}

	head := append([]Expr{}, blk.Code[:j]...)
	tail := append([]Expr{}, blk.Code[j:]...)

	blk.Code = head

	build(NewBuilder(f, b))

	blk.Code = append(f.Blocks[b].Code, tail...)
}
