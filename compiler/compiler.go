package compiler

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/aresrt/ares/compiler/ir"
	"github.com/aresrt/ares/lower"
)

// Lower runs every HLIR construct registered against pkg (via
// hlir.ModuleFor) through the lowering passes in package lower, in
// the order the constructs were created. It is the orchestration
// entry point a front-end would call once it finished emitting a
// package's functions and attaching parallel-for/parallel-reduce/task
// constructs to them — this tree has no front-end (parsing source
// text into that emitted form is out of scope here), so callers
// build pkg directly against the hlir/ir Go API, as cmd/ares's demo
// commands do.
func Lower(ctx context.Context, pkg *ir.Package, opts lower.TaskOptions) error {
	tlog.SpanFromContext(ctx).Printw("lowering package", "path", pkg.Path, "funcs", len(pkg.Funcs))

	if err := lower.Run(pkg, opts); err != nil {
		return errors.Wrap(err, "lower %s", pkg.Path)
	}

	return nil
}
