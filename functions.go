package quereus

import (
	"strings"

	"github.com/quereus/quereus/qerr"
	"github.com/quereus/quereus/sql"
)

// registerBuiltins populates a fresh catalog with the scalar functions
// every Database carries.
func registerBuiltins(c *sql.Catalog) {
	firstArgType := func(argTypes []sql.Type) sql.Type {
		if len(argTypes) > 0 {
			return argTypes[0]
		}
		return sql.NULL
	}

	c.RegisterFunction(&sql.FunctionSchema{
		Name: "upper", NumArgs: 1,
		ReturnType: func([]sql.Type) sql.Type { return sql.TEXT },
		Eval: func(args []sql.Value) (sql.Value, error) {
			if args[0].IsNull() {
				return sql.NullValue, nil
			}
			return sql.TextValue(strings.ToUpper(args[0].Text())), nil
		},
	})
	c.RegisterFunction(&sql.FunctionSchema{
		Name: "lower", NumArgs: 1,
		ReturnType: func([]sql.Type) sql.Type { return sql.TEXT },
		Eval: func(args []sql.Value) (sql.Value, error) {
			if args[0].IsNull() {
				return sql.NullValue, nil
			}
			return sql.TextValue(strings.ToLower(args[0].Text())), nil
		},
	})
	c.RegisterFunction(&sql.FunctionSchema{
		Name: "length", NumArgs: 1,
		ReturnType: func([]sql.Type) sql.Type { return sql.INTEGER },
		Eval: func(args []sql.Value) (sql.Value, error) {
			if args[0].IsNull() {
				return sql.NullValue, nil
			}
			return sql.IntValue(int64(len([]rune(args[0].Text())))), nil
		},
	})
	c.RegisterFunction(&sql.FunctionSchema{
		Name: "abs", NumArgs: 1,
		ReturnType: firstArgType,
		Eval: func(args []sql.Value) (sql.Value, error) {
			v := args[0]
			switch v.Type() {
			case sql.NULL:
				return sql.NullValue, nil
			case sql.REAL:
				f := v.Float()
				if f < 0 {
					f = -f
				}
				return sql.RealValue(f), nil
			default:
				i := v.Int()
				if i < 0 {
					i = -i
				}
				return sql.IntValue(i), nil
			}
		},
	})
	c.RegisterFunction(&sql.FunctionSchema{
		Name: "coalesce", NumArgs: -1,
		ReturnType: firstArgType,
		Eval: func(args []sql.Value) (sql.Value, error) {
			for _, a := range args {
				if !a.IsNull() {
					return a, nil
				}
			}
			return sql.NullValue, nil
		},
	})
	c.RegisterFunction(&sql.FunctionSchema{
		Name: "ifnull", NumArgs: 2,
		ReturnType: firstArgType,
		Eval: func(args []sql.Value) (sql.Value, error) {
			if !args[0].IsNull() {
				return args[0], nil
			}
			return args[1], nil
		},
	})
	c.RegisterFunction(&sql.FunctionSchema{
		Name: "nullif", NumArgs: 2,
		ReturnType: firstArgType,
		Eval: func(args []sql.Value) (sql.Value, error) {
			if args[0].IsNull() || args[1].IsNull() {
				return args[0], nil
			}
			if sql.Compare(args[0], args[1], sql.CollationBinary) == 0 {
				return sql.NullValue, nil
			}
			return args[0], nil
		},
	})
	c.RegisterFunction(&sql.FunctionSchema{
		Name: "typeof", NumArgs: 1,
		ReturnType: func([]sql.Type) sql.Type { return sql.TEXT },
		Eval: func(args []sql.Value) (sql.Value, error) {
			return sql.TextValue(strings.ToLower(args[0].Type().String())), nil
		},
	})
	c.RegisterFunction(&sql.FunctionSchema{
		Name: "substr", NumArgs: -1,
		ReturnType: func([]sql.Type) sql.Type { return sql.TEXT },
		Eval: func(args []sql.Value) (sql.Value, error) {
			if len(args) < 2 || len(args) > 3 {
				return sql.Value{}, qerr.New(qerr.MISUSE, "substr expects 2 or 3 arguments")
			}
			if args[0].IsNull() || args[1].IsNull() {
				return sql.NullValue, nil
			}
			runes := []rune(args[0].Text())
			// SQL substr is 1-based; a non-positive start clamps to the
			// beginning rather than erroring.
			start := int(args[1].Int()) - 1
			if start < 0 {
				start = 0
			}
			if start >= len(runes) {
				return sql.TextValue(""), nil
			}
			end := len(runes)
			if len(args) == 3 {
				if args[2].IsNull() {
					return sql.NullValue, nil
				}
				n := int(args[2].Int())
				if n < 0 {
					n = 0
				}
				if start+n < end {
					end = start + n
				}
			}
			return sql.TextValue(string(runes[start:end])), nil
		},
	})
}
