// Package hlir is the Emitter API spec.md §6 describes: the surface a
// compiler front-end (modeled here only as a test harness, since the
// real front-end is out of scope per spec.md §1) uses to attach
// parallel-for, parallel-reduce, and task constructs to an IR
// package before a lowering pass rewrites them away.
//
// Constructs are explicit per-kind structs (Design Note: "replace the
// [source's] string-keyed heterogeneous attribute map with explicit
// per-construct fields") rather than a generic node-tree bookkeeping
// container — the kind of container spec.md §1 places out of scope.
package hlir

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/aresrt/ares/compiler/ir"
	"github.com/aresrt/ares/compiler/tp"
)

type (
	// Construct is the common shape every HLIR construct satisfies:
	// enough for lower.Run to dispatch on kind without a type switch
	// spread across package hlir.
	Construct interface {
		Name() string
	}

	// ParallelFor is a bounded index range executed concurrently
	// (spec.md §4.4). Body is populated by the emitter up to Marker
	// (in the caller's block) and ArgsInsertion (in the body, before
	// capture unpacking); the lowering pass fills in the rest.
	ParallelFor struct {
		name string

		Body          *ir.Func
		CallerFunc    *ir.Func
		CallerBlock   ir.BlockID
		Marker        ir.Expr
		ArgsInsertion ir.Expr

		Start, End int64
	}

	// ParallelReduce folds over an index range (spec.md §4.6).
	// Combine is the associative operator the fan-out/combine tree
	// applies; it is supplied separately from Body because the
	// reduce lowering needs to call it directly between partial
	// results, not just inline it into one body copy.
	ParallelReduce struct {
		name string

		Body          *ir.Func
		CallerFunc    *ir.Func
		CallerBlock   ir.BlockID
		Marker        ir.Expr
		ArgsInsertion ir.Expr

		Start, End int64

		ReduceType tp.Type
		// ReduceVar is the Expr inside Body holding the per-iteration
		// partial value; Body's own closing ir.Return carries it out,
		// so lowering reaches it through the call return rather than
		// reading ReduceVar's index directly. Kept for callers that
		// want to know which body-local value it was, e.g. tests.
		ReduceVar ir.Expr
		Combine   *ir.Func
		// ResultSlot is a caller-allocated ir.Alloca of type
		// tp.Ptr{X: ReduceType}, set by the emitter before lowering
		// runs. The lowering pass stores the final combined value
		// there; code after Marker reads the reduction's result by
		// loading ResultSlot, the same way a parallel-for's captures
		// flow in through an explicit slot rather than an implicit
		// SSA def lowering has to conjure out of nowhere.
		ResultSlot ir.Expr
	}

	// Task wraps an asynchronous call to Fn via a synthesized wrapper
	// Wrapper (spec.md §4.5). The lowering pass finds every direct
	// call site Fn(a0, a1, ...) outside Wrapper and outside Fn itself
	// across the package and rewrites each into
	// task_queue/task_await_future. Calls Fn makes to itself stay
	// direct, synchronous calls.
	Task struct {
		name string

		Fn      *ir.Func
		Wrapper *ir.Func
	}

	// Module is the per-IR-package registry of constructs, mirroring
	// spec.md §6's "HLIRModule::getModule(ir_module) -> HLIRModule,
	// singleton per IR module". Lowering itself lives in package
	// lower to avoid an import cycle between the registry and the
	// passes that consume it.
	Module struct {
		Package *ir.Package

		mu         sync.Mutex
		constructs []Construct
		nextID     uint64
	}
)

func (c *ParallelFor) Name() string    { return c.name }
func (c *ParallelReduce) Name() string { return c.name }
func (c *Task) Name() string           { return c.name }

var (
	registryMu sync.Mutex
	registry   = map[*ir.Package]*Module{}
)

// ModuleFor returns the singleton Module for pkg, creating it on
// first use, matching spec.md §6's "mapping ir_module -> hlir_module
// ... protected by a lock".
func ModuleFor(pkg *ir.Package) *Module {
	registryMu.Lock()
	defer registryMu.Unlock()

	m, ok := registry[pkg]
	if !ok {
		m = &Module{Package: pkg}
		registry[pkg] = m
	}

	return m
}

func (m *Module) nextName(prefix string) string {
	id := atomic.AddUint64(&m.nextID, 1)

	return prefix + "$" + strconv.FormatUint(id, 10)
}

// parforBodyParams is the fixed three-parameter signature every
// parallel-for body function starts life with: Arg(0) is the
// opaque captured-args pointer the lowering pass's prologue will cast
// and unpack, Arg(1) is the loop index the lowering pass's call site
// supplies per iteration, Arg(2) is the completion synch the body's
// generated epilogue releases through finish_func. The emitter
// references Arg(1) directly for the loop variable and ir.ExternRef
// for anything captured from the enclosing scope — both resolve to a
// plain Expr before lowering ever runs, which is what lets
// lower/parfor.go insert the unpacking prologue at ArgsInsertion
// without having to patch up the body's signature after the fact.
var parforBodyParams = []ir.Param{
	{Name: "args", Type: tp.Ptr{X: tp.Untyped{}}},
	{Name: "i", Type: tp.Int{Bits: 32, Signed: true}},
	{Name: "synch", Type: tp.Ptr{X: tp.Untyped{}}},
}

// preduceBodyParams omits the synch parameter parforBodyParams carries:
// a parallel-reduce body is a pure per-iteration value producer called
// directly, in a loop, by the partition worker the lowering pass
// synthesizes (spec.md §4.6) — nothing queues it individually, so
// nothing inside it ever calls finish_func.
var preduceBodyParams = []ir.Param{
	{Name: "args", Type: tp.Ptr{X: tp.Untyped{}}},
	{Name: "i", Type: tp.Int{Bits: 32, Signed: true}},
}

// NewParallelFor creates and registers a parallel-for construct whose
// body function already has the three-parameter signature
// parforBodyParams describes; the caller (emitter) populates Marker, ArgsInsertion and
// the body beyond that before lowering runs.
func (m *Module) NewParallelFor(start, end int64) *ParallelFor {
	body := ir.NewFunc(m.nextName("pfor"), parforBodyParams, nil)

	c := &ParallelFor{
		name:  body.Name,
		Body:  body,
		Start: start,
		End:   end,
	}

	m.add(c)

	return c
}

// NewParallelReduce creates and registers a parallel-reduce construct.
func (m *Module) NewParallelReduce(start, end int64, reduceType tp.Type, combine *ir.Func) *ParallelReduce {
	body := ir.NewFunc(m.nextName("preduce"), preduceBodyParams, []tp.Type{reduceType})

	c := &ParallelReduce{
		name:       body.Name,
		Body:       body,
		Start:      start,
		End:        end,
		ReduceType: reduceType,
		Combine:    combine,
	}

	m.add(c)

	return c
}

// NewTask creates and registers a task construct wrapping fn.
func (m *Module) NewTask(fn *ir.Func) *Task {
	c := &Task{
		name: m.nextName("task"),
		Fn:   fn,
	}

	m.add(c)

	return c
}

func (m *Module) add(c Construct) {
	m.mu.Lock()
	m.constructs = append(m.constructs, c)
	m.mu.Unlock()
}

// Constructs returns every registered construct in creation order,
// the order spec.md §6 says lowering must run in.
func (m *Module) Constructs() []Construct {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Construct(nil), m.constructs...)
}
