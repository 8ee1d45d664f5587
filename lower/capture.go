// Package lower rewrites each HLIR construct into the IR sequence
// spec.md §4.4-§4.6 describe: argument-capture, queue, and await
// calls into package runtime/abi. This file holds the capture-set
// discovery and capture store/unpack helpers shared by parallel-for
// (§4.4 steps 1-4) and parallel-reduce lowering, plus replaceUses,
// which task lowering also uses — the "shared IR helpers" line item in
// spec.md §1's size budget.
package lower

import (
	"github.com/aresrt/ares/compiler/ir"
	"github.com/aresrt/ares/compiler/tp"
)

// discoverCaptures scans every instruction in body for an
// ir.ExternRef — the emitter's placeholder for a value defined
// outside body that body's code reads — and returns the referenced
// values in first-encounter order with duplicates removed (spec.md
// §4.4 step 1: "Deduplicate while preserving first-encounter order").
func discoverCaptures(body *ir.Func) []ir.ValueRef {
	seen := map[ir.ValueRef]bool{}
	var order []ir.ValueRef

	for _, x := range body.Exprs {
		ref, ok := x.(ir.ExternRef)
		if !ok {
			continue
		}

		if seen[ref.Ref] {
			continue
		}

		seen[ref.Ref] = true
		order = append(order, ref.Ref)
	}

	return order
}

// externRefExprs returns, for each value in captures, every local
// Expr in body whose instruction is the ExternRef naming that value —
// i.e. every use site the body prologue rewrite (§4.4 step 4) must
// redirect to the unpacked capture.
func externRefExprs(body *ir.Func, ref ir.ValueRef) []ir.Expr {
	var out []ir.Expr

	for i, x := range body.Exprs {
		er, ok := x.(ir.ExternRef)
		if ok && er.Ref == ref {
			out = append(out, ir.Expr(i))
		}
	}

	return out
}

func captureTypes(captures []ir.ValueRef) []tp.Type {
	types := make([]tp.Type, len(captures))
	for i, ref := range captures {
		types[i] = ref.Func.Type(ref.Expr)
	}

	return types
}

// storeCaptures appends, via b, one GEPField+Store per entry in
// captures into argsPtr's fields in order — the caller-side half of
// the capture marshaling both parallel-for and parallel-reduce lowering
// share (spec.md §4.4 steps 2-3).
func storeCaptures(b *ir.Builder, argsPtr ir.Expr, argsType tp.Struct, captures []ir.ValueRef) {
	for i, ref := range captures {
		field := b.GEPField(argsPtr, i, argsType.Fields[i].Type)
		b.Store(field, ref.Expr)
	}
}

// unpackCaptures builds the body-side unpack sequence at body's
// current insertion point: cast Arg(0) to *argsType, then for every
// captured value GEP+Load its field and rewrite every ir.ExternRef use
// site inside body to read the loaded value instead (§4.4 step 4).
func unpackCaptures(body *ir.Func, argsType tp.Struct, captures []ir.ValueRef) {
	b := ir.NewBuilder(body, body.Entry)

	castArgs := b.BitCast(ir.Expr(0), tp.Ptr{X: argsType})

	for i, ref := range captures {
		field := b.GEPField(castArgs, i, argsType.Fields[i].Type)
		loaded := b.Load(field, argsType.Fields[i].Type)

		for _, use := range externRefExprs(body, ref) {
			replaceUses(body, use, loaded)

			// replaceUses already swapped use for loaded in the block
			// code lists, so the interpreter never reaches use's slot.
			// The slot is still turned into a no-op alias of loaded so
			// that no ir.ExternRef is left anywhere in body.Exprs,
			// without renumbering every other Expr index.
			body.Exprs[use] = ir.BitCast{Expr: loaded, Type: argsType.Fields[i].Type}
		}
	}
}

// replaceUses rewrites every operand in body equal to old to new, in
// every instruction and every block's code list. This is the
// "Rewrite every use of v inside B to use v'" step of §4.4 step 4 —
// uses outside B are untouched by construction, since old only
// exists as a local Expr index inside body.
func replaceUses(body *ir.Func, old, new ir.Expr) {
	for i, x := range body.Exprs {
		body.Exprs[i] = replaceInInstr(x, old, new)
	}

	for bi := range body.Blocks {
		code := body.Blocks[bi].Code
		for i, e := range code {
			if e == old {
				code[i] = new
			}
		}
	}
}

func replaceInInstr(x any, old, new ir.Expr) any {
	repl := func(e ir.Expr) ir.Expr {
		if e == old {
			return new
		}

		return e
	}

	switch v := x.(type) {
	case ir.Add:
		v.L, v.R = repl(v.L), repl(v.R)
		return v
	case ir.Sub:
		v.L, v.R = repl(v.L), repl(v.R)
		return v
	case ir.Mul:
		v.L, v.R = repl(v.L), repl(v.R)
		return v
	case ir.Cmp:
		v.L, v.R = repl(v.L), repl(v.R)
		return v
	case ir.BranchIf:
		v.Expr = repl(v.Expr)
		return v
	case ir.Return:
		for i, e := range v.Values {
			v.Values[i] = repl(e)
		}
		return v
	case ir.BitCast:
		v.Expr = repl(v.Expr)
		return v
	case ir.GEP:
		v.Ptr = repl(v.Ptr)
		if v.Index != ir.Nowhere {
			v.Index = repl(v.Index)
		}
		return v
	case ir.Load:
		v.Ptr = repl(v.Ptr)
		return v
	case ir.Store:
		v.Ptr, v.Value = repl(v.Ptr), repl(v.Value)
		return v
	case ir.Call:
		for i, e := range v.Args {
			v.Args[i] = repl(e)
		}
		return v
	case ir.CallRuntime:
		for i, e := range v.Args {
			v.Args[i] = repl(e)
		}
		return v
	case ir.Phi:
		for i, b := range v {
			v[i].Expr = repl(b.Expr)
		}
		return v
	default:
		return x
	}
}
