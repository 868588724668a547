package planbuilder

import (
	"github.com/quereus/quereus/ast"
	"github.com/quereus/quereus/plan"
	"github.com/quereus/quereus/qerr"
	"github.com/quereus/quereus/sql"
)

// buildInsert builds an InsertProducer over either a VALUES list or a
// SELECT source, followed by a ConstraintCheck (when the target declares
// row constraints or NOT NULL columns) and a terminal UpdateExecutor.
func (b *Builder) buildInsert(s *ast.InsertStmt, scope *plan.Scope) (plan.Node, error) {
	schemaName := b.schemaOrDefault(s.Schema)
	schema, _, err := b.catalog.Table(schemaName, s.Table)
	if err != nil {
		return nil, err
	}
	if schema.ReadOnly {
		return nil, qerr.New(qerr.READONLY, "table %s is read-only", s.Table)
	}
	target := plan.NewTableReference(scope, schemaName, s.Table, s.Table, schema)

	var source plan.RelationalNode
	ctx := newBuildCtx()
	if s.Query != nil {
		src, err := b.buildSelectCtx(ctx, s.Query, scope)
		if err != nil {
			return nil, err
		}
		source = src
	} else {
		rows := make([][]plan.ScalarNode, len(s.ValuesRows))
		for i, row := range s.ValuesRows {
			built := make([]plan.ScalarNode, len(row))
			for j, e := range row {
				ve, err := b.buildExpr(ctx, e, scope)
				if err != nil {
					return nil, err
				}
				built[j] = ve
			}
			rows[i] = built
		}
		values, err := plan.NewValues(scope, rows, s.Columns)
		if err != nil {
			return nil, err
		}
		source = values
	}

	columnMap := make([]int, len(source.RelAttributes()))
	if len(s.Columns) > 0 {
		for i, name := range s.Columns {
			idx := schema.ColumnIndex(name)
			if idx < 0 {
				return nil, qerr.NotFoundf("column %q not found on table %s", name, s.Table)
			}
			columnMap[i] = idx
		}
	} else {
		for i := range columnMap {
			columnMap[i] = i
		}
	}

	var node plan.RelationalNode = plan.NewInsertProducer(target, source, columnMap)
	if needsConstraintCheck(schema) {
		node = plan.NewConstraintCheck(node, schema.RowConstraints)
	}
	return plan.NewUpdateExecutor(node, target, plan.ExecInsert), nil
}

// needsConstraintCheck reports whether mutations against schema must pass
// through a ConstraintCheck node: declared row constraints, or any NOT NULL
// column the check enforces.
func needsConstraintCheck(schema *sql.TableSchema) bool {
	if len(schema.RowConstraints) > 0 {
		return true
	}
	for _, c := range schema.Columns {
		if !c.Nullable {
			return true
		}
	}
	return false
}

// buildUpdate builds a Retrieve+Filter source over the target table, an
// UpdateProducer applying the SET clauses, and a terminal UpdateExecutor.
// The __oldRowKeyValues sidecar required for UPDATE/DELETE
// is attached by the emitter at runtime, not the builder.
func (b *Builder) buildUpdate(s *ast.UpdateStmt, scope *plan.Scope) (plan.Node, error) {
	schemaName := b.schemaOrDefault(s.Schema)
	schema, module, err := b.catalog.Table(schemaName, s.Table)
	if err != nil {
		return nil, err
	}
	if schema.ReadOnly {
		return nil, qerr.New(qerr.READONLY, "table %s is read-only", s.Table)
	}
	target := plan.NewTableReference(scope, schemaName, s.Table, s.Table, schema)
	var source plan.RelationalNode = plan.NewRetrieve(target, module)
	rowScope := plan.NewRelationScope(scope, s.Table, target.RelAttributes())

	if s.Where != nil {
		ctx := newBuildCtx()
		pred, err := b.buildExpr(ctx, s.Where, rowScope)
		if err != nil {
			return nil, err
		}
		source = plan.NewFilter(source, pred)
	}

	setExprs := make(map[int]plan.ScalarNode, len(s.Set))
	ctx := newBuildCtx()
	for _, sc := range s.Set {
		idx := schema.ColumnIndex(sc.Column)
		if idx < 0 {
			return nil, qerr.NotFoundf("column %q not found on table %s", sc.Column, s.Table)
		}
		ve, err := b.buildExpr(ctx, sc.Value, rowScope)
		if err != nil {
			return nil, err
		}
		setExprs[idx] = ve
	}

	var node plan.RelationalNode = plan.NewUpdateProducer(target, source, setExprs)
	if needsConstraintCheck(schema) {
		node = plan.NewConstraintCheck(node, schema.RowConstraints)
	}
	return plan.NewUpdateExecutor(node, target, plan.ExecUpdate), nil
}

// buildDelete builds a Retrieve+Filter source over the target table, a
// DeleteProducer, and a terminal UpdateExecutor.
func (b *Builder) buildDelete(s *ast.DeleteStmt, scope *plan.Scope) (plan.Node, error) {
	schemaName := b.schemaOrDefault(s.Schema)
	schema, module, err := b.catalog.Table(schemaName, s.Table)
	if err != nil {
		return nil, err
	}
	if schema.ReadOnly {
		return nil, qerr.New(qerr.READONLY, "table %s is read-only", s.Table)
	}
	target := plan.NewTableReference(scope, schemaName, s.Table, s.Table, schema)
	var source plan.RelationalNode = plan.NewRetrieve(target, module)
	rowScope := plan.NewRelationScope(scope, s.Table, target.RelAttributes())

	if s.Where != nil {
		ctx := newBuildCtx()
		pred, err := b.buildExpr(ctx, s.Where, rowScope)
		if err != nil {
			return nil, err
		}
		source = plan.NewFilter(source, pred)
	}

	node := plan.NewDeleteProducer(target, source)
	return plan.NewUpdateExecutor(node, target, plan.ExecDelete), nil
}
