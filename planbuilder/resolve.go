package planbuilder

import (
	"strings"

	"github.com/quereus/quereus/ast"
	"github.com/quereus/quereus/plan"
	"github.com/quereus/quereus/qerr"
)

// buildCtx carries per-statement state that must be shared across nested
// builder calls but must not leak into a Builder's longer-lived state: the
// CTE name table and the aggregate
// substitution map buildSelectCtx fills from the calls collectAggregates
// finds.
type buildCtx struct {
	ctes     map[string]plan.RelationalNode
	aggSubst map[ast.Expr]*plan.Attribute
}

func newBuildCtx() *buildCtx {
	return &buildCtx{ctes: map[string]plan.RelationalNode{}, aggSubst: map[ast.Expr]*plan.Attribute{}}
}

// buildTableExpr resolves one FROM-clause source, returning the relational
// node it builds plus the Scope subsequent clauses (WHERE/ON/SELECT list)
// should resolve column references against.
func (b *Builder) buildTableExpr(ctx *buildCtx, te ast.TableExpr, scope *plan.Scope) (plan.RelationalNode, *plan.Scope, error) {
	switch t := te.(type) {
	case *ast.TableName:
		alias := t.Alias
		if alias == "" {
			alias = t.Name
		}
		if t.Schema == "" {
			if cte, ok := ctx.ctes[strings.ToLower(t.Name)]; ok {
				newScope := plan.NewRelationScope(scope, alias, cte.RelAttributes())
				return cte, newScope, nil
			}
		}
		schemaName := b.schemaOrDefault(t.Schema)
		schema, module, err := b.catalog.Table(schemaName, t.Name)
		if err != nil {
			return nil, nil, err
		}
		tr := plan.NewTableReference(scope, schemaName, t.Name, alias, schema)
		retrieve := plan.NewRetrieve(tr, module)
		newScope := plan.NewRelationScope(scope, alias, tr.RelAttributes())
		return retrieve, newScope, nil

	case *ast.JoinExpr:
		leftNode, leftScope, err := b.buildTableExpr(ctx, t.Left, scope)
		if err != nil {
			return nil, nil, err
		}
		rightNode, rightScope, err := b.buildTableExpr(ctx, t.Right, leftScope)
		if err != nil {
			return nil, nil, err
		}
		kind := mapJoinKind(t.Kind)
		var cond plan.ScalarNode
		if t.On != nil {
			cond, err = b.buildExpr(ctx, t.On, rightScope)
			if err != nil {
				return nil, nil, err
			}
		} else if kind != plan.CrossJoin {
			return nil, nil, qerr.New(qerr.SYNTAX, "join requires an ON condition")
		}
		joinNode := plan.NewJoin(leftNode, rightNode, kind, cond)
		return joinNode, rightScope, nil

	case *ast.SubqueryExpr:
		sub, err := b.buildSelectCtx(ctx, t.Query, scope)
		if err != nil {
			return nil, nil, err
		}
		newScope := plan.NewRelationScope(scope, t.Alias, sub.RelAttributes())
		return sub, newScope, nil

	default:
		return nil, nil, qerr.New(qerr.SYNTAX, "unsupported FROM clause element %T", te)
	}
}

func mapJoinKind(k string) plan.JoinType {
	switch strings.ToUpper(k) {
	case "LEFT":
		return plan.LeftJoin
	case "CROSS":
		return plan.CrossJoin
	default:
		return plan.InnerJoin
	}
}

// deriveName picks a projection column name for an unaliased select item,
// naming computed columns after the function/column they came from.
func deriveName(e ast.Expr) string {
	switch v := e.(type) {
	case *ast.ColumnRef:
		return v.Name
	case *ast.FuncCall:
		return v.Name
	default:
		return "column"
	}
}
