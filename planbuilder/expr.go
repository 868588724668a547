package planbuilder

import (
	"strconv"
	"strings"

	"github.com/quereus/quereus/ast"
	"github.com/quereus/quereus/plan"
	"github.com/quereus/quereus/qerr"
	"github.com/quereus/quereus/sql"
)

// aggregateFuncNames are recognized as aggregates by collectAggregates
// rather than dispatched as plain scalar functions.
var aggregateFuncNames = map[string]bool{
	"count": true, "sum": true, "avg": true, "min": true, "max": true,
	"total": true, "group_concat": true,
}

// buildExpr compiles one ast.Expr into a plan.ScalarNode, resolving column
// references against scope and routing already-extracted aggregate calls
// (recorded in ctx.aggSubst) to the Aggregate node's output attribute
// instead of re-evaluating them.
func (b *Builder) buildExpr(ctx *buildCtx, e ast.Expr, scope *plan.Scope) (plan.ScalarNode, error) {
	if attr, ok := ctx.aggSubst[e]; ok {
		return plan.NewColumnReference(scope, attr), nil
	}
	switch v := e.(type) {
	case *ast.Literal:
		val, err := buildLiteralValue(v)
		if err != nil {
			return nil, err
		}
		return plan.NewLiteral(val), nil

	case *ast.ColumnRef:
		res := scope.Lookup(v.Table, v.Name)
		switch res.Kind {
		case plan.ResolvedAttribute:
			return plan.NewColumnReference(scope, res.Attribute), nil
		case plan.ResolvedAmbiguous:
			return nil, qerr.Ambiguousf("column reference %q is ambiguous", v.Name).WithLoc(qerr.Loc{Line: v.Loc.Line, Col: v.Loc.Col})
		default:
			return nil, qerr.NotFoundf("column %q not found", v.Name).WithLoc(qerr.Loc{Line: v.Loc.Line, Col: v.Loc.Col})
		}

	case *ast.BinaryExpr:
		left, err := b.buildExpr(ctx, v.Left, scope)
		if err != nil {
			return nil, err
		}
		right, err := b.buildExpr(ctx, v.Right, scope)
		if err != nil {
			return nil, err
		}
		return plan.NewBinaryOp(v.Op, left, right), nil

	case *ast.UnaryExpr:
		operand, err := b.buildExpr(ctx, v.Operand, scope)
		if err != nil {
			return nil, err
		}
		return plan.NewUnaryOp(v.Op, operand), nil

	case *ast.FuncCall:
		return b.buildFuncCall(ctx, v, scope)

	case *ast.CaseExpr:
		return b.buildCase(ctx, v, scope)

	case *ast.CastExpr:
		operand, err := b.buildExpr(ctx, v.Operand, scope)
		if err != nil {
			return nil, err
		}
		target, err := parseTypeName(v.TypeName)
		if err != nil {
			return nil, err
		}
		return plan.NewCast(operand, target), nil

	case *ast.CollateExpr:
		operand, err := b.buildExpr(ctx, v.Operand, scope)
		if err != nil {
			return nil, err
		}
		return plan.NewCollate(operand, parseCollation(v.Collation)), nil

	case *ast.ParamExpr:
		return b.buildParam(v), nil

	case *ast.InExpr:
		operand, err := b.buildExpr(ctx, v.Operand, scope)
		if err != nil {
			return nil, err
		}
		if v.Query != nil {
			sub, err := b.buildSelectCtx(ctx, v.Query, scope)
			if err != nil {
				return nil, err
			}
			return plan.NewInSubquery(operand, sub, v.Negated), nil
		}
		rows := make([][]plan.ScalarNode, len(v.List))
		for i, item := range v.List {
			val, err := b.buildExpr(ctx, item, scope)
			if err != nil {
				return nil, err
			}
			rows[i] = []plan.ScalarNode{val}
		}
		values, err := plan.NewValues(scope, rows, []string{"value"})
		if err != nil {
			return nil, err
		}
		return plan.NewInSubquery(operand, values, v.Negated), nil

	case *ast.ExistsExpr:
		sub, err := b.buildSelectCtx(ctx, v.Query, scope)
		if err != nil {
			return nil, err
		}
		return plan.NewExistsSubquery(sub, v.Negated), nil

	default:
		return nil, qerr.New(qerr.SYNTAX, "unsupported expression type %T", e)
	}
}

func (b *Builder) buildFuncCall(ctx *buildCtx, v *ast.FuncCall, scope *plan.Scope) (plan.ScalarNode, error) {
	name := strings.ToLower(v.Name)
	if v.Window != nil {
		var arg plan.ScalarNode
		if len(v.Args) == 1 {
			a, err := b.buildExpr(ctx, v.Args[0], scope)
			if err != nil {
				return nil, err
			}
			arg = a
		}
		partitionBy := make([]plan.ScalarNode, len(v.Window.PartitionBy))
		for i, p := range v.Window.PartitionBy {
			pb, err := b.buildExpr(ctx, p, scope)
			if err != nil {
				return nil, err
			}
			partitionBy[i] = pb
		}
		orderBy := make([]plan.SortKey, len(v.Window.OrderBy))
		for i, o := range v.Window.OrderBy {
			oe, err := b.buildExpr(ctx, o.Expr, scope)
			if err != nil {
				return nil, err
			}
			orderBy[i] = plan.SortKey{Expr: oe, Desc: o.Desc}
		}
		return plan.NewWindowFunctionCall(name, arg, partitionBy, orderBy), nil
	}
	schema, ok := b.catalog.Function(name)
	if !ok {
		return nil, qerr.NotFoundf("function %q not registered", v.Name)
	}
	args := make([]plan.ScalarNode, len(v.Args))
	for i, a := range v.Args {
		ae, err := b.buildExpr(ctx, a, scope)
		if err != nil {
			return nil, err
		}
		args[i] = ae
	}
	return plan.NewScalarFunctionCall(schema, args), nil
}

func (b *Builder) buildCase(ctx *buildCtx, v *ast.CaseExpr, scope *plan.Scope) (plan.ScalarNode, error) {
	var operand plan.ScalarNode
	if v.Operand != nil {
		op, err := b.buildExpr(ctx, v.Operand, scope)
		if err != nil {
			return nil, err
		}
		operand = op
	}
	branches := make([]plan.CaseBranch, len(v.Whens))
	for i, w := range v.Whens {
		when, err := b.buildExpr(ctx, w.When, scope)
		if err != nil {
			return nil, err
		}
		then, err := b.buildExpr(ctx, w.Then, scope)
		if err != nil {
			return nil, err
		}
		branches[i] = plan.CaseBranch{When: when, Then: then}
	}
	var elseExpr plan.ScalarNode
	if v.Else != nil {
		e, err := b.buildExpr(ctx, v.Else, scope)
		if err != nil {
			return nil, err
		}
		elseExpr = e
	}
	return plan.NewCase(operand, branches, elseExpr), nil
}

// buildParam assigns a parameter its scope slot: anonymous
// "?" parameters are numbered left to right from 1; named parameters key on
// their already-trimmed text.
func (b *Builder) buildParam(v *ast.ParamExpr) *plan.Parameter {
	key := v.Name
	if key == "" {
		b.positionalCount++
		key = strconv.Itoa(b.positionalCount)
	}
	hint := b.hints[key]
	slot := b.paramScope.BindParameter(key, hint)
	return plan.NewParameter(slot, v.Name, hint)
}

func parseCollation(name string) sql.Collation {
	if strings.EqualFold(name, "NOCASE") {
		return sql.CollationNoCase
	}
	return sql.CollationBinary
}

func buildLiteralValue(l *ast.Literal) (sql.Value, error) {
	switch l.Kind {
	case "null":
		return sql.NullValue, nil
	case "int":
		i, err := strconv.ParseInt(l.Text, 10, 64)
		if err != nil {
			return sql.Value{}, qerr.New(qerr.SYNTAX, "invalid integer literal %q", l.Text)
		}
		return sql.IntValue(i), nil
	case "float":
		f, err := strconv.ParseFloat(l.Text, 64)
		if err != nil {
			return sql.Value{}, qerr.New(qerr.SYNTAX, "invalid float literal %q", l.Text)
		}
		return sql.RealValue(f), nil
	case "string":
		return sql.TextValue(l.Text), nil
	case "blob":
		return sql.BlobValue([]byte(l.Text)), nil
	case "bool":
		return sql.BoolValue(strings.EqualFold(l.Text, "true")), nil
	default:
		return sql.Value{}, qerr.New(qerr.SYNTAX, "unknown literal kind %q", l.Kind)
	}
}
