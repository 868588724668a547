package emit

import (
	"io"

	"github.com/quereus/quereus/plan"
	"github.com/quereus/quereus/qerr"
	"github.com/quereus/quereus/runtime"
	"github.com/quereus/quereus/sql"
)

// windowState accumulates per-partition state for one WindowFunctionCall
// instance, keyed by the evaluated PartitionBy tuple.
type windowState struct {
	counters map[string]int64
	flat     int64
}

func partitionKey(vals []sql.Value) string {
	var b []byte
	for _, v := range vals {
		b = append(b, v.Text()...)
		b = append(b, 0)
	}
	return string(b)
}

func emitWindowFunctionCall(node plan.Node, ectx *Context) (*runtime.Instruction, error) {
	n := node.(*plan.WindowFunctionCall)
	var partitionInsts []*runtime.Instruction
	for _, p := range n.PartitionBy {
		inst, err := ectx.Emit(p)
		if err != nil {
			return nil, err
		}
		partitionInsts = append(partitionInsts, inst)
	}
	funcName := n.FuncName
	return &runtime.Instruction{
		Params: partitionInsts,
		Note:   funcName + "() OVER (...)",
		Run: func(rctx *runtime.Context, args []interface{}) (interface{}, error) {
			state := rctx.ExecState(n, func() interface{} {
				return &windowState{counters: make(map[string]int64)}
			}).(*windowState)
			switch funcName {
			case "row_number", "rank":
				if len(args) == 0 {
					state.flat++
					return sql.IntValue(state.flat), nil
				}
				vals := make([]sql.Value, len(args))
				for i, a := range args {
					vals[i] = a.(sql.Value)
				}
				key := partitionKey(vals)
				state.counters[key]++
				return sql.IntValue(state.counters[key]), nil
			default:
				return sql.Value{}, qerr.New(qerr.UNSUPPORTED, "window function %q not implemented", funcName)
			}
		},
	}, nil
}

func emitCase(node plan.Node, ectx *Context) (*runtime.Instruction, error) {
	n := node.(*plan.Case)
	var operandInst *runtime.Instruction
	var err error
	if n.Operand != nil {
		operandInst, err = ectx.Emit(n.Operand)
		if err != nil {
			return nil, err
		}
	}
	type branch struct {
		when, then *runtime.Instruction
	}
	branches := make([]branch, len(n.Branches))
	for i, b := range n.Branches {
		whenInst, err := ectx.Emit(b.When)
		if err != nil {
			return nil, err
		}
		thenInst, err := ectx.Emit(b.Then)
		if err != nil {
			return nil, err
		}
		branches[i] = branch{when: whenInst, then: thenInst}
	}
	var elseInst *runtime.Instruction
	if n.Else != nil {
		elseInst, err = ectx.Emit(n.Else)
		if err != nil {
			return nil, err
		}
	}
	return &runtime.Instruction{
		Note: "CASE...END",
		Run: func(rctx *runtime.Context, args []interface{}) (interface{}, error) {
			var operand sql.Value
			hasOperand := operandInst != nil
			if hasOperand {
				v, err := runtime.Execute(rctx, operandInst)
				if err != nil {
					return nil, err
				}
				operand = v.(sql.Value)
			}
			for _, b := range branches {
				whenV, err := runtime.Execute(rctx, b.when)
				if err != nil {
					return nil, err
				}
				wv := whenV.(sql.Value)
				matched := false
				if hasOperand {
					eq, isNull := sql.Equal(operand, wv)
					matched = !isNull && eq.Bool()
				} else {
					matched = !wv.IsNull() && wv.Bool()
				}
				if matched {
					thenV, err := runtime.Execute(rctx, b.then)
					if err != nil {
						return nil, err
					}
					return thenV, nil
				}
			}
			if elseInst != nil {
				return runtime.Execute(rctx, elseInst)
			}
			return sql.NullValue, nil
		},
	}, nil
}

func emitCast(node plan.Node, ectx *Context) (*runtime.Instruction, error) {
	n := node.(*plan.Cast)
	operand, err := ectx.Emit(n.Operand)
	if err != nil {
		return nil, err
	}
	target := n.TargetType
	return &runtime.Instruction{
		Params: []*runtime.Instruction{operand},
		Note:   "CAST(" + target.String() + ")",
		Run: func(rctx *runtime.Context, args []interface{}) (interface{}, error) {
			v := args[0].(sql.Value)
			return v.ConvertTo(target)
		},
	}, nil
}

func emitCollate(node plan.Node, ectx *Context) (*runtime.Instruction, error) {
	n := node.(*plan.Collate)
	operand, err := ectx.Emit(n.Operand)
	if err != nil {
		return nil, err
	}
	return &runtime.Instruction{
		Params: []*runtime.Instruction{operand},
		Note:   "COLLATE(" + n.Collation.String() + ")",
		Run: func(rctx *runtime.Context, args []interface{}) (interface{}, error) {
			return args[0], nil
		},
	}, nil
}

func emitParameter(node plan.Node, ectx *Context) (*runtime.Instruction, error) {
	n := node.(*plan.Parameter)
	slot := n.Slot
	name := n.Name
	return &runtime.Instruction{
		Note: "Parameter(" + n.String() + ")",
		Run: func(rctx *runtime.Context, args []interface{}) (interface{}, error) {
			idx := slot
			if idx < 0 || idx >= len(rctx.Params) {
				return nil, qerr.New(qerr.MISUSE, "no bound value for parameter %q (slot %d)", name, idx)
			}
			return rctx.Params[idx], nil
		},
	}, nil
}

// emitInSubquery tests whether Operand appears in Subquery's first column.
// The subquery side is wrapped via emitCall so it runs in
// its own sub-scheduler against a child Context.
func emitInSubquery(node plan.Node, ectx *Context) (*runtime.Instruction, error) {
	n := node.(*plan.InSubquery)
	operand, err := ectx.Emit(n.Operand)
	if err != nil {
		return nil, err
	}
	subInst, err := ectx.Emit(n.Subquery)
	if err != nil {
		return nil, err
	}
	sched, call := emitCall(subInst)
	negated := n.Negated
	return &runtime.Instruction{
		Params:   []*runtime.Instruction{operand},
		Note:     "InSubquery",
		Programs: []*runtime.Scheduler{sched},
		Run: func(rctx *runtime.Context, args []interface{}) (interface{}, error) {
			operandVal := args[0].(sql.Value)
			out, err := call(rctx)
			if err != nil {
				return nil, err
			}
			it, ok := out.(sql.RowIter)
			if !ok {
				return nil, qerr.Internalf("InSubquery subquery did not produce a row stream")
			}
			defer it.Close(rctx)
			found := false
			sawNull := false
			for {
				row, err := it.Next(rctx)
				if err == io.EOF {
					break
				}
				if err != nil {
					return nil, err
				}
				if len(row) == 0 {
					continue
				}
				if row[0].IsNull() {
					sawNull = true
					continue
				}
				eq, isNull := sql.Equal(operandVal, row[0])
				if !isNull && eq.Bool() {
					found = true
					break
				}
			}
			switch {
			case found:
				return sql.BoolValue(!negated), nil
			case sawNull:
				return sql.NullValue, nil
			default:
				return sql.BoolValue(negated), nil
			}
		},
	}, nil
}

// emitExistsSubquery tests whether Subquery produces at least one row.
func emitExistsSubquery(node plan.Node, ectx *Context) (*runtime.Instruction, error) {
	n := node.(*plan.ExistsSubquery)
	subInst, err := ectx.Emit(n.Subquery)
	if err != nil {
		return nil, err
	}
	sched, call := emitCall(subInst)
	negated := n.Negated
	return &runtime.Instruction{
		Note:     "ExistsSubquery",
		Programs: []*runtime.Scheduler{sched},
		Run: func(rctx *runtime.Context, args []interface{}) (interface{}, error) {
			out, err := call(rctx)
			if err != nil {
				return nil, err
			}
			it, ok := out.(sql.RowIter)
			if !ok {
				return nil, qerr.Internalf("ExistsSubquery subquery did not produce a row stream")
			}
			defer it.Close(rctx)
			_, err = it.Next(rctx)
			exists := err == nil
			if err != nil && err != io.EOF {
				return nil, err
			}
			return sql.BoolValue(exists != negated), nil
		},
	}, nil
}
