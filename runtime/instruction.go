package runtime

// Callback is the closure type emitCall's produced Instruction.Run returns:
// when invoked at runtime with the enclosing
// Context, it executes a captured subgraph and returns its result. This is
// the mechanism for filter predicates, CASE branches, and subqueries to be
// re-evaluated per outer row.
type Callback func(rctx *Context) (interface{}, error)

// RunFunc is an Instruction's executable body: given the
// resolved outputs of Params (in order), it returns one of a sql.Value, a
// sql.RowIter, or a Callback.
type RunFunc func(rctx *Context, args []interface{}) (interface{}, error)

// Instruction is one node of the emitted dataflow graph:
// {params, run, note?, programs?}. params are the inputs the scheduler
// resolves (by executing them) before calling run.
type Instruction struct {
	Params []*Instruction
	Run    RunFunc
	// Note is an optional human-readable label, surfaced in plan/instruction
	// dumps the way plan.Node.String() labels the plan tree.
	Note string
	// Programs holds any sub-Schedulers this instruction packaged via
	// emitCall, kept for diagnostics/EXPLAIN-style introspection; execution
	// itself reaches them through the Callback returned by Run.
	Programs []*Scheduler

	// validate is set by the emitter when this instruction's emission
	// captured schema objects: checked once before Run is
	// invoked, failing with SCHEMA_CHANGED if a captured table/function no
	// longer matches by identity.
	validate SchemaValidator
}

// WithValidator attaches a schema-change guard to the instruction, wrapping
// it so that, before executing, it checks that captured tables/functions
// still exist and match by identity.
func (i *Instruction) WithValidator(v SchemaValidator) *Instruction {
	i.validate = v
	return i
}

// Scheduler executes one Instruction DAG: one per statement, plus one per
// emitCall-packaged subgraph. Scheduling is single-threaded cooperative:
// Execute recurses synchronously, and every suspension point is an ordinary
// blocking Go call checked against Context.Done().
type Scheduler struct {
	root *Instruction
}

// NewScheduler wraps root for execution. emitCall uses this to package a
// subgraph as a standalone Scheduler.
func NewScheduler(root *Instruction) *Scheduler {
	return &Scheduler{root: root}
}

// Run executes the scheduler's root instruction against rctx and returns
// its resolved output.
func (s *Scheduler) Run(rctx *Context) (interface{}, error) {
	return Execute(rctx, s.root)
}

// Execute resolves inst's Params (depth-first, left to right) and then
// invokes inst.Run with their resolved outputs. Resolving
// a Param instruction does not drain a returned sql.RowIter — streams are
// pull-based and lazy, so "resolving" a row-producing
// instruction just constructs its iterator.
func Execute(rctx *Context, inst *Instruction) (interface{}, error) {
	if err := rctx.CheckCancelled(); err != nil {
		return nil, err
	}
	if inst.validate != nil {
		if err := inst.validate(); err != nil {
			return nil, err
		}
	}
	args := make([]interface{}, len(inst.Params))
	for idx, p := range inst.Params {
		v, err := Execute(rctx, p)
		if err != nil {
			return nil, err
		}
		args[idx] = v
	}
	out, err := inst.Run(rctx, args)
	if err != nil {
		return nil, err
	}
	return out, nil
}
