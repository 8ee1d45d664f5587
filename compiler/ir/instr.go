package ir

import (
	"github.com/aresrt/ares/compiler/tp"
)

type (
	// ValueRef names an instruction's result across function
	// boundaries: the function that defines it, plus the Expr
	// identifying it inside that function.
	ValueRef struct {
		Func *Func
		Expr Expr
	}

	// ExternRef is a placeholder instruction the emitter inserts into
	// a body function wherever the user's code reads a value defined
	// outside that body (§4.4's "external reference"). It has no
	// local operands: its defining instruction lives in another
	// function by construction, which is exactly what capture-set
	// discovery scans for.
	ExternRef struct {
		Ref ValueRef
	}

	Arg struct {
		Num  int
		Type tp.Type
	}

	Imm struct {
		Value int64
		Type  tp.Type
	}

	Add struct{ L, R Expr }
	Sub struct{ L, R Expr }
	Mul struct{ L, R Expr }
	Cmp struct {
		L, R Expr
		Cond Cond
	}

	Phi []PhiBranch

	PhiBranch struct {
		Block BlockID
		Expr  Expr
	}

	Branch struct {
		Block BlockID
	}

	BranchIf struct {
		Expr    Expr
		IfTrue  BlockID
		IfFalse BlockID
	}

	Return struct {
		Values []Expr
	}

	// Marker is a placeholder the emitter inserts to identify where
	// a lowering pass should splice in queue/await code (spec.md's
	// "Marker" in the glossary).
	Marker struct {
		Name string
	}

	// Alloca reserves stack space for a value of the given type.
	Alloca struct {
		Type tp.Type
	}

	// BitCast reinterprets a pointer-typed value as another type,
	// used to cast the opaque per-construct argument pointer to the
	// concrete captured-args/task-args struct pointer type.
	BitCast struct {
		Expr Expr
		Type tp.Type
	}

	// GEP computes the address of a struct field (when Field >= 0)
	// or an array element (when Index is set) relative to a pointer
	// operand, mirroring LLVM's getelementptr as used throughout
	// HLIR.cpp's body-prologue rewrite.
	GEP struct {
		Ptr   Expr
		Field int
		Index Expr
		Type  tp.Type
	}

	Load struct {
		Ptr  Expr
		Type tp.Type
	}

	Store struct {
		Ptr   Expr
		Value Expr
	}

	// Call is a direct call to a Func defined in the same package.
	Call struct {
		Func *Func
		Args []Expr
	}

	// CallRuntime calls one of the eight stable C-ABI facade symbols
	// (spec.md §4.3/§6), or release_task_args, by name. It is the boundary every lowering
	// pass crosses to reach package runtime/abi.
	CallRuntime struct {
		Symbol string
		Args   []Expr
		Type   tp.Type
	}

	// FuncRef materializes a function pointer constant for Func, the
	// operand queue_func and task_queue need to pass a body or wrapper
	// entry point as a runtime.pool.Func value. It has no local
	// operands, mirroring a function-pointer constant in LLVM IR.
	FuncRef struct {
		Func *Func
	}
)

func (x ExternRef) In() []Expr { return nil }
func (x Arg) In() []Expr       { return nil }
func (x Imm) In() []Expr       { return nil }
func (x Marker) In() []Expr    { return nil }
func (x Alloca) In() []Expr    { return nil }
func (x FuncRef) In() []Expr   { return nil }

func (x Add) In() []Expr { return []Expr{x.L, x.R} }
func (x Sub) In() []Expr { return []Expr{x.L, x.R} }
func (x Mul) In() []Expr { return []Expr{x.L, x.R} }
func (x Cmp) In() []Expr { return []Expr{x.L, x.R} }

func (x Phi) In() []Expr {
	l := make([]Expr, len(x))
	for i, b := range x {
		l[i] = b.Expr
	}

	return l
}

func (x BranchIf) In() []Expr { return []Expr{x.Expr} }
func (x Return) In() []Expr   { return x.Values }
func (x BitCast) In() []Expr  { return []Expr{x.Expr} }

func (x GEP) In() []Expr {
	if x.Index == Nowhere {
		return []Expr{x.Ptr}
	}

	return []Expr{x.Ptr, x.Index}
}

func (x Load) In() []Expr  { return []Expr{x.Ptr} }
func (x Store) In() []Expr { return []Expr{x.Ptr, x.Value} }

func (x Call) In() []Expr        { return x.Args }
func (x CallRuntime) In() []Expr { return x.Args }

// Type reports the value type an instruction produces, where that is
// knowable without a full type-check pass. Instructions with no
// result (Branch, BranchIf, Store, Return) are not valid here.
func (f *Func) Type(x Expr) tp.Type {
	switch i := f.Exprs[x].(type) {
	case Arg:
		return i.Type
	case Imm:
		return i.Type
	case Alloca:
		return tp.Ptr{X: i.Type}
	case BitCast:
		return i.Type
	case GEP:
		return tp.Ptr{X: i.Type}
	case Load:
		return i.Type
	case CallRuntime:
		return i.Type
	case FuncRef:
		return tp.Ptr{X: tp.Untyped{}}
	case ExternRef:
		return i.Ref.Func.Type(i.Ref.Expr)
	default:
		return tp.Int{Bits: 64, Signed: true}
	}
}
