// Package ir is the SSA-ish IR the lowering passes in package lower
// target. It plays the role spec.md assigns to an external "SSA IR
// provider": basic blocks, instructions, and a builder, without
// committing to any particular backend.
package ir

import (
	"github.com/aresrt/ares/compiler/tp"
)

type (
	// Expr identifies an instruction by its index into Func.Exprs.
	Expr int

	// BlockID identifies a basic block by its index into Func.Blocks.
	BlockID int

	// Cond is a comparison condition code, kept as a string the way
	// the teacher's ir package does (e.g. "eq", "lt", "ge").
	Cond string

	Param struct {
		Name string
		Type tp.Type
	}

	// Func is a single function in the IR: either a user function,
	// a parallel-for/parallel-reduce body, or a task wrapper.
	Func struct {
		Name string

		In  []Param
		Out []tp.Type

		Exprs  []any
		Blocks []Block

		Entry BlockID
	}

	// Block is a basic block: an ordered list of instructions,
	// referenced by index into the owning Func's Exprs.
	Block struct {
		Code []Expr
	}

	Package struct {
		Path string

		Funcs []*Func
	}
)

const Nowhere Expr = -1

// Iner returns an instruction's operands, for callers that need to
// walk the use-def graph (capture-set discovery in package lower).
type Iner interface {
	In() []Expr
}

func (f *Func) Instr(x Expr) any {
	return f.Exprs[x]
}

func (f *Func) alloc(x any) Expr {
	id := Expr(len(f.Exprs))
	f.Exprs = append(f.Exprs, x)

	return id
}

func (f *Func) block(id BlockID) *Block {
	return &f.Blocks[id]
}

// NewFunc creates an empty function with a single entry block and one
// Arg instruction per input parameter.
func NewFunc(name string, in []Param, out []tp.Type) *Func {
	f := &Func{
		Name: name,
		In:   in,
		Out:  out,
	}

	f.Blocks = append(f.Blocks, Block{})
	f.Entry = 0

	for i, p := range in {
		id := f.alloc(Arg{Num: i, Type: p.Type})
		f.block(f.Entry).Code = append(f.block(f.Entry).Code, id)
	}

	return f
}

func (p *Package) AddFunc(f *Func) {
	p.Funcs = append(p.Funcs, f)
}
