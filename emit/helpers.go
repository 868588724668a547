package emit

import (
	"context"
	"io"

	"github.com/quereus/quereus/plan"
	"github.com/quereus/quereus/runtime"
	"github.com/quereus/quereus/sql"
)

// pipeRows wraps input with a row slot registered for producer: each row
// pulled from input is set into the slot before transform is called, so
// any scalar sub-instruction evaluated during transform (a Filter
// predicate, a Project expression) can resolve its ColumnReferences
// against producer's current row. transform returns the
// output row (if emit is true) or signals skip (emit false, used by
// Filter) and may itself run arbitrary scalar Instructions via
// runtime.Execute.
func pipeRows(rctx *runtime.Context, producer plan.RelationalNode, input sql.RowIter, transform func(row sql.Row) (out sql.Row, emit bool, err error)) sql.RowIter {
	slot := rctx.CreateRowSlot(producer)
	closed := false
	closeAll := func(ctx context.Context) error {
		if closed {
			return nil
		}
		closed = true
		rctx.CloseSlot(producer)
		return input.Close(ctx)
	}
	return &runtime.IterFunc{
		NextFn: func(ctx context.Context) (sql.Row, error) {
			for {
				row, err := input.Next(ctx)
				if err == io.EOF {
					closeAll(ctx)
					return nil, io.EOF
				}
				if err != nil {
					closeAll(ctx)
					return nil, err
				}
				slot.Set(row)
				out, emit, err := transform(row)
				if err != nil {
					closeAll(ctx)
					return nil, err
				}
				if emit {
					return out, nil
				}
			}
		},
		CloseFn: closeAll,
	}
}

// emitCall packages inner as a standalone Scheduler: the returned
// Callback, invoked at runtime, executes the
// subgraph against a fresh child context, which is how filter predicates,
// CASE branches, and subqueries re-evaluate per outer row while still
// seeing the outer row slots.
func emitCall(inner *runtime.Instruction) (*runtime.Scheduler, runtime.Callback) {
	sched := runtime.NewScheduler(inner)
	return sched, func(rctx *runtime.Context) (interface{}, error) {
		return sched.Run(rctx.Child())
	}
}

// evalScalar runs a scalar Instruction and type-asserts its result.
func evalScalar(rctx *runtime.Context, inst *runtime.Instruction) (sql.Value, error) {
	out, err := runtime.Execute(rctx, inst)
	if err != nil {
		return sql.Value{}, err
	}
	v, ok := out.(sql.Value)
	if !ok {
		return sql.Value{}, io.ErrUnexpectedEOF // unreachable: emitters only ever return sql.Value from scalar Run funcs
	}
	return v, nil
}

// asRowIter type-asserts the resolved output of a relational Instruction.
func asRowIter(out interface{}) (sql.RowIter, error) {
	it, ok := out.(sql.RowIter)
	if !ok {
		return nil, io.ErrUnexpectedEOF // unreachable: relational emitters only ever return sql.RowIter
	}
	return it, nil
}

// execRelational runs inst and type-asserts its result as a row stream, the
// shape every relational emitter's Run produces.
func execRelational(rctx *runtime.Context, inst *runtime.Instruction) (sql.RowIter, error) {
	out, err := runtime.Execute(rctx, inst)
	if err != nil {
		return nil, err
	}
	return asRowIter(out)
}

// rowKey encodes row into a comparable string, used to key grouping and
// de-duplication (Aggregate, Distinct). Values are tagged with their type so
// distinct Types that stringify the same never collide.
func rowKey(row sql.Row) string {
	var b []byte
	for _, v := range row {
		b = append(b, byte(v.Type()))
		if v.IsNull() {
			b = append(b, 0)
			continue
		}
		b = append(b, v.Text()...)
		b = append(b, 0)
	}
	return string(b)
}
