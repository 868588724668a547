package emit

import (
	"strings"

	"github.com/quereus/quereus/plan"
	"github.com/quereus/quereus/qerr"
	"github.com/quereus/quereus/runtime"
	"github.com/quereus/quereus/sql"
)

func init() {
	register(&plan.Literal{}, emitLiteral)
	register(&plan.ColumnReference{}, emitColumnReference)
	register(&plan.BinaryOp{}, emitBinaryOp)
	register(&plan.UnaryOp{}, emitUnaryOp)
	register(&plan.ScalarFunctionCall{}, emitScalarFunctionCall)
	register(&plan.WindowFunctionCall{}, emitWindowFunctionCall)
	register(&plan.Case{}, emitCase)
	register(&plan.Cast{}, emitCast)
	register(&plan.Collate{}, emitCollate)
	register(&plan.Parameter{}, emitParameter)
	register(&plan.InSubquery{}, emitInSubquery)
	register(&plan.ExistsSubquery{}, emitExistsSubquery)
}

func emitLiteral(node plan.Node, ectx *Context) (*runtime.Instruction, error) {
	n := node.(*plan.Literal)
	return &runtime.Instruction{
		Note: "Literal(" + n.Value.String() + ")",
		Run: func(rctx *runtime.Context, args []interface{}) (interface{}, error) {
			return n.Value, nil
		},
	}, nil
}

// emitColumnReference looks up the producing node's row slot at evaluation
// time and indexes into the current row.
func emitColumnReference(node plan.Node, ectx *Context) (*runtime.Instruction, error) {
	n := node.(*plan.ColumnReference)
	attrID := n.Attr.ID
	name := n.Attr.Name
	return &runtime.Instruction{
		Note: "ColumnReference(" + name + ")",
		Run: func(rctx *runtime.Context, args []interface{}) (interface{}, error) {
			v, ok := rctx.AttrValue(attrID)
			if !ok {
				return nil, qerr.Internalf("no open row slot covers column %q", name)
			}
			return v, nil
		},
	}, nil
}

func emitBinaryOp(node plan.Node, ectx *Context) (*runtime.Instruction, error) {
	n := node.(*plan.BinaryOp)
	left, err := ectx.Emit(n.Left)
	if err != nil {
		return nil, err
	}
	right, err := ectx.Emit(n.Right)
	if err != nil {
		return nil, err
	}
	op := n.Op
	return &runtime.Instruction{
		Params: []*runtime.Instruction{left, right},
		Note:   "BinaryOp(" + op + ")",
		Run: func(rctx *runtime.Context, args []interface{}) (interface{}, error) {
			l, r := args[0].(sql.Value), args[1].(sql.Value)
			return evalBinary(op, l, r)
		},
	}, nil
}

func evalBinary(op string, l, r sql.Value) (sql.Value, error) {
	if sql.IsComparisonOp(op) {
		switch op {
		case "=":
			v, isNull := sql.Equal(l, r)
			if isNull {
				return sql.NullValue, nil
			}
			return v, nil
		case "!=", "<>":
			v, isNull := sql.Equal(l, r)
			if isNull {
				return sql.NullValue, nil
			}
			return sql.BoolValue(!v.Bool()), nil
		default:
			if l.IsNull() || r.IsNull() {
				return sql.NullValue, nil
			}
			c := sql.Compare(l, r, sql.CollationBinary)
			switch op {
			case "<":
				return sql.BoolValue(c < 0), nil
			case "<=":
				return sql.BoolValue(c <= 0), nil
			case ">":
				return sql.BoolValue(c > 0), nil
			case ">=":
				return sql.BoolValue(c >= 0), nil
			}
		}
	}
	switch strings.ToUpper(op) {
	case "AND":
		if (!l.IsNull() && !l.Bool()) || (!r.IsNull() && !r.Bool()) {
			return sql.BoolValue(false), nil
		}
		if l.IsNull() || r.IsNull() {
			return sql.NullValue, nil
		}
		return sql.BoolValue(true), nil
	case "OR":
		if (!l.IsNull() && l.Bool()) || (!r.IsNull() && r.Bool()) {
			return sql.BoolValue(true), nil
		}
		if l.IsNull() || r.IsNull() {
			return sql.NullValue, nil
		}
		return sql.BoolValue(false), nil
	case "||":
		if l.IsNull() || r.IsNull() {
			return sql.NullValue, nil
		}
		return sql.TextValue(l.Text() + r.Text()), nil
	}
	if l.IsNull() || r.IsNull() {
		return sql.NullValue, nil
	}
	resultType := sql.ResultType(op, l.Type(), r.Type())
	switch op {
	case "+":
		if resultType == sql.REAL {
			return sql.RealValue(l.Float() + r.Float()), nil
		}
		return sql.IntValue(l.Int() + r.Int()), nil
	case "-":
		if resultType == sql.REAL {
			return sql.RealValue(l.Float() - r.Float()), nil
		}
		return sql.IntValue(l.Int() - r.Int()), nil
	case "*":
		if resultType == sql.REAL {
			return sql.RealValue(l.Float() * r.Float()), nil
		}
		return sql.IntValue(l.Int() * r.Int()), nil
	case "/":
		if r.Float() == 0 {
			return sql.Value{}, qerr.New(qerr.RANGE, "division by zero")
		}
		if resultType == sql.REAL {
			return sql.RealValue(l.Float() / r.Float()), nil
		}
		return sql.IntValue(l.Int() / r.Int()), nil
	case "%":
		if r.Int() == 0 {
			return sql.Value{}, qerr.New(qerr.RANGE, "modulo by zero")
		}
		return sql.IntValue(l.Int() % r.Int()), nil
	default:
		return sql.Value{}, qerr.New(qerr.UNSUPPORTED, "unsupported binary operator %q", op)
	}
}

func emitUnaryOp(node plan.Node, ectx *Context) (*runtime.Instruction, error) {
	n := node.(*plan.UnaryOp)
	operand, err := ectx.Emit(n.Operand)
	if err != nil {
		return nil, err
	}
	op := n.Op
	return &runtime.Instruction{
		Params: []*runtime.Instruction{operand},
		Note:   "UnaryOp(" + op + ")",
		Run: func(rctx *runtime.Context, args []interface{}) (interface{}, error) {
			v := args[0].(sql.Value)
			switch strings.ToUpper(op) {
			case "NOT":
				if v.IsNull() {
					return sql.NullValue, nil
				}
				return sql.BoolValue(!v.Bool()), nil
			case "-":
				if v.IsNull() {
					return sql.NullValue, nil
				}
				if v.Type() == sql.REAL {
					return sql.RealValue(-v.Float()), nil
				}
				return sql.IntValue(-v.Int()), nil
			default:
				return sql.Value{}, qerr.New(qerr.UNSUPPORTED, "unsupported unary operator %q", op)
			}
		},
	}, nil
}

func emitScalarFunctionCall(node plan.Node, ectx *Context) (*runtime.Instruction, error) {
	n := node.(*plan.ScalarFunctionCall)
	args := make([]*runtime.Instruction, len(n.Args))
	for i, a := range n.Args {
		inst, err := ectx.Emit(a)
		if err != nil {
			return nil, err
		}
		args[i] = inst
	}
	schema := n.Schema
	return &runtime.Instruction{
		Params: args,
		Note:   "ScalarFunctionCall(" + schema.Name + ")",
		Run: func(rctx *runtime.Context, argv []interface{}) (interface{}, error) {
			vals := make([]sql.Value, len(argv))
			for i, a := range argv {
				vals[i] = a.(sql.Value)
			}
			if schema.Eval == nil {
				return sql.Value{}, qerr.New(qerr.UNSUPPORTED, "function %q has no evaluator", schema.Name)
			}
			return schema.Eval(vals)
		},
	}, nil
}
