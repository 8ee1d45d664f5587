// Package lower holds the passes that rewrite a compile-time-resolved
// HLIR construct (package hlir) into the SSA-ish call sequence
// package compiler/ir's caller and body functions end up with, plus
// the shared IR-editing helpers those passes lean on (capture-set
// discovery, use rewriting); block splitting and splicing live in
// package compiler/ir.
package lower

import (
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/aresrt/ares/compiler/ir"
	"github.com/aresrt/ares/hlir"
)

// Run lowers every construct registered against pkg's hlir.Module, in
// the order they were created. This is the package-split substitute
// for an HLIRModule::lowerToIR() method on hlir.Module itself: a
// method there would need to import package lower, which imports
// hlir for the construct types it dispatches on — putting the
// dispatch loop here instead keeps hlir a pure registry with no
// dependency on the passes that consume it.
func Run(pkg *ir.Package, opts TaskOptions) error {
	m := hlir.ModuleFor(pkg)

	for _, c := range m.Constructs() {
		tlog.V("lower").Printw("lowering construct", "name", c.Name())

		var err error

		switch v := c.(type) {
		case *hlir.ParallelFor:
			err = ParallelFor(v)
		case *hlir.ParallelReduce:
			err = ParallelReduce(pkg, v)
		case *hlir.Task:
			err = Task(pkg, v, opts)
		default:
			err = errors.New("lower: unknown construct kind %T", c)
		}

		if err != nil {
			return errors.Wrap(err, "lowering %s", c.Name())
		}
	}

	return nil
}
