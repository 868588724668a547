package planbuilder

import (
	"strings"

	"github.com/quereus/quereus/ast"
	"github.com/quereus/quereus/plan"
)

// buildSelect is the entry point for a top-level or subquery SELECT,
// opening a fresh aggregate/CTE bookkeeping context.
func (b *Builder) buildSelect(s *ast.SelectStmt, scope *plan.Scope) (plan.RelationalNode, error) {
	return b.buildSelectCtx(newBuildCtx(), s, scope)
}

// buildSelectCtx shares the caller's CTE name table so nested CTE
// references stay consistent across the whole statement; each SELECT
// starts its own aggregate substitution map.
func (b *Builder) buildSelectCtx(outer *buildCtx, s *ast.SelectStmt, scope *plan.Scope) (plan.RelationalNode, error) {
	ctx := &buildCtx{ctes: outer.ctes, aggSubst: map[ast.Expr]*plan.Attribute{}}

	for _, c := range s.With {
		cteBody, err := b.buildSelectCtx(ctx, c.Query, scope)
		if err != nil {
			return nil, err
		}
		cteNode := plan.NewCTE(c.Name, cteBody, c.Recursive, c.Materialized)
		ctx.ctes[strings.ToLower(c.Name)] = cteNode
	}

	var fromNode plan.RelationalNode
	var fromScope *plan.Scope
	if s.From == nil {
		fromNode = plan.SingleRow
		fromScope = scope
	} else {
		n, sc, err := b.buildTableExpr(ctx, s.From, scope)
		if err != nil {
			return nil, err
		}
		fromNode, fromScope = n, sc
	}

	if s.Where != nil {
		pred, err := b.buildExpr(ctx, s.Where, fromScope)
		if err != nil {
			return nil, err
		}
		fromNode = plan.NewFilter(fromNode, pred)
	}

	var aggCalls []*ast.FuncCall
	for _, item := range s.Columns {
		if item.Expr != nil {
			collectAggregates(item.Expr, &aggCalls)
		}
	}
	if s.Having != nil {
		collectAggregates(s.Having, &aggCalls)
	}
	for _, o := range s.OrderBy {
		collectAggregates(o.Expr, &aggCalls)
	}

	workingNode := fromNode
	workingScope := fromScope
	useAgg := len(s.GroupBy) > 0 || len(aggCalls) > 0
	if useAgg {
		groupScalars := make([]plan.ScalarNode, len(s.GroupBy))
		groupNames := make([]string, len(s.GroupBy))
		for i, g := range s.GroupBy {
			ge, err := b.buildExpr(ctx, g, fromScope)
			if err != nil {
				return nil, err
			}
			groupScalars[i] = ge
			groupNames[i] = deriveName(g)
		}
		funcs := make([]plan.AggregateFunc, len(aggCalls))
		funcNames := make([]string, len(aggCalls))
		for i, call := range aggCalls {
			fn := plan.AggregateFunc{FuncName: strings.ToLower(call.Name), Distinct: call.Distinct}
			if !call.Star && len(call.Args) == 1 {
				ae, err := b.buildExpr(ctx, call.Args[0], fromScope)
				if err != nil {
					return nil, err
				}
				fn.Arg = ae
			}
			funcs[i] = fn
			funcNames[i] = call.Name
		}
		agg := plan.NewAggregate(fromNode, groupScalars, groupNames, funcs, funcNames)
		attrs := agg.RelAttributes()
		for i, call := range aggCalls {
			ctx.aggSubst[call] = attrs[len(groupScalars)+i]
		}
		workingNode = agg
		workingScope = plan.NewRelationScope(fromScope, "", attrs)
	}

	if s.Having != nil {
		havingPred, err := b.buildExpr(ctx, s.Having, workingScope)
		if err != nil {
			return nil, err
		}
		workingNode = plan.NewFilter(workingNode, havingPred)
	}

	var projExprs []plan.ScalarNode
	var names []string
	for _, item := range s.Columns {
		if item.Star {
			for _, a := range workingNode.RelAttributes() {
				projExprs = append(projExprs, plan.NewColumnReference(workingScope, a))
				names = append(names, a.Name)
			}
			continue
		}
		expr, err := b.buildExpr(ctx, item.Expr, workingScope)
		if err != nil {
			return nil, err
		}
		name := item.Alias
		if name == "" {
			name = deriveName(item.Expr)
		}
		projExprs = append(projExprs, expr)
		names = append(names, name)
	}

	proj, err := plan.NewProject(workingNode, projExprs, names)
	if err != nil {
		return nil, err
	}
	var result plan.RelationalNode = proj

	if s.Distinct {
		result = plan.NewDistinct(result)
	}

	if len(s.OrderBy) > 0 {
		orderScope := plan.NewRelationScope(workingScope, "", proj.RelAttributes())
		keys := make([]plan.SortKey, len(s.OrderBy))
		for i, o := range s.OrderBy {
			oe, err := b.buildExpr(ctx, o.Expr, orderScope)
			if err != nil {
				return nil, err
			}
			keys[i] = plan.SortKey{Expr: oe, Desc: o.Desc}
		}
		result = plan.NewSort(result, keys)
	}

	if s.Limit != nil || s.Offset != nil {
		var limitExpr, offsetExpr plan.ScalarNode
		if s.Limit != nil {
			limitExpr, err = b.buildExpr(ctx, s.Limit, workingScope)
			if err != nil {
				return nil, err
			}
		}
		if s.Offset != nil {
			offsetExpr, err = b.buildExpr(ctx, s.Offset, workingScope)
			if err != nil {
				return nil, err
			}
		}
		result = plan.NewLimitOffset(result, limitExpr, offsetExpr)
	}

	return result, nil
}

// collectAggregates finds every aggregate function call reachable within e
// without descending into an already-found aggregate's own arguments (SQL
// forbids nested aggregates) or into subquery bodies, which build their own
// aggregate context.
func collectAggregates(e ast.Expr, out *[]*ast.FuncCall) {
	switch v := e.(type) {
	case *ast.BinaryExpr:
		collectAggregates(v.Left, out)
		collectAggregates(v.Right, out)
	case *ast.UnaryExpr:
		collectAggregates(v.Operand, out)
	case *ast.FuncCall:
		if v.Window == nil && aggregateFuncNames[strings.ToLower(v.Name)] {
			*out = append(*out, v)
			return
		}
		for _, a := range v.Args {
			collectAggregates(a, out)
		}
	case *ast.CaseExpr:
		if v.Operand != nil {
			collectAggregates(v.Operand, out)
		}
		for _, w := range v.Whens {
			collectAggregates(w.When, out)
			collectAggregates(w.Then, out)
		}
		if v.Else != nil {
			collectAggregates(v.Else, out)
		}
	case *ast.CastExpr:
		collectAggregates(v.Operand, out)
	case *ast.CollateExpr:
		collectAggregates(v.Operand, out)
	case *ast.InExpr:
		collectAggregates(v.Operand, out)
		for _, item := range v.List {
			collectAggregates(item, out)
		}
	}
}
