// Package planbuilder implements the plan builder: it turns an ast.Stmt
// into a plan.Node, resolving names against a Scope chain and
// numbering/binding parameters.
package planbuilder

import (
	"github.com/quereus/quereus/ast"
	"github.com/quereus/quereus/plan"
	"github.com/quereus/quereus/qerr"
	"github.com/quereus/quereus/sql"
)

// ParamHints lets a caller attach expected types to parameters ahead of
// build time.
type ParamHints map[string]sql.Type

// Builder holds the state needed across one statement's build: the schema
// catalog, the current default schema name, and the parameter scope being
// populated.
type Builder struct {
	catalog         *sql.Catalog
	defaultSchema   string
	globalScope     *plan.Scope
	paramScope      *plan.Scope
	hints           ParamHints
	positionalCount int
}

// New creates a Builder bound to catalog. defaultSchema resolves unqualified
// table references.
func New(catalog *sql.Catalog, defaultSchema string, hints ParamHints) *Builder {
	global := plan.NewGlobalScope(catalog)
	params := plan.NewParameterScope(global)
	return &Builder{catalog: catalog, defaultSchema: defaultSchema, globalScope: global, paramScope: params, hints: hints}
}

// Build turns a full program into a plan.Batch.
func (b *Builder) Build(prog *ast.Program) (*plan.Batch, error) {
	stmts := make([]plan.Node, 0, len(prog.Statements))
	for _, s := range prog.Statements {
		n, err := b.buildStmt(s, b.paramScope)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, n)
	}
	return plan.NewBatch(b.paramScope, stmts), nil
}

// BuildOne builds a single statement. Database builds block-shaped
// programs by calling it once per statement.
func (b *Builder) BuildOne(stmt ast.Stmt) (plan.Node, error) {
	return b.buildStmt(stmt, b.paramScope)
}

// ParamScope exposes the populated parameter scope after a build, so the
// caller can validate argument counts.
func (b *Builder) ParamScope() *plan.Scope { return b.paramScope }

func (b *Builder) buildStmt(stmt ast.Stmt, scope *plan.Scope) (plan.Node, error) {
	switch s := stmt.(type) {
	case *ast.SelectStmt:
		return b.buildSelect(s, scope)
	case *ast.InsertStmt:
		return b.buildInsert(s, scope)
	case *ast.UpdateStmt:
		return b.buildUpdate(s, scope)
	case *ast.DeleteStmt:
		return b.buildDelete(s, scope)
	case *ast.CreateTableStmt:
		return b.buildCreateTable(s)
	case *ast.DropTableStmt:
		return &plan.DropTable{SchemaName: b.schemaOrDefault(s.Schema), TableName: s.Table, IfExists: s.IfExists}, nil
	case *ast.CreateViewStmt:
		return b.buildCreateView(s)
	case *ast.DropViewStmt:
		return &plan.DropView{SchemaName: b.schemaOrDefault(s.Schema), ViewName: s.Name, IfExists: s.IfExists}, nil
	case *ast.BeginStmt:
		return &plan.TransactionControl{Op: plan.TxBegin}, nil
	case *ast.CommitStmt:
		return &plan.TransactionControl{Op: plan.TxCommit}, nil
	case *ast.RollbackStmt:
		if s.Savepoint != "" {
			return &plan.TransactionControl{Op: plan.TxRollbackToSavepoint, SavepointName: s.Savepoint}, nil
		}
		return &plan.TransactionControl{Op: plan.TxRollback}, nil
	case *ast.SavepointStmt:
		return &plan.TransactionControl{Op: plan.TxSavepoint, SavepointName: s.Name}, nil
	case *ast.ReleaseStmt:
		return &plan.TransactionControl{Op: plan.TxReleaseSavepoint, SavepointName: s.Name}, nil
	case *ast.SetOptionStmt:
		return b.buildSetOption(s, scope)
	case *ast.ExplainStmt:
		inner, err := b.buildStmt(s.Stmt, scope)
		if err != nil {
			return nil, err
		}
		return inner, nil
	default:
		return nil, qerr.New(qerr.SYNTAX, "unsupported statement type %T", stmt)
	}
}

func (b *Builder) schemaOrDefault(s string) string {
	if s == "" {
		return b.defaultSchema
	}
	return s
}

func (b *Builder) buildSetOption(s *ast.SetOptionStmt, scope *plan.Scope) (plan.Node, error) {
	val, err := b.buildExpr(newBuildCtx(), s.Value, scope)
	if err != nil {
		return nil, err
	}
	lit, ok := val.(*plan.Literal)
	if !ok {
		return nil, qerr.New(qerr.MISUSE, "SET option value must be a literal")
	}
	return &plan.SetOption{Name: s.Name, Value: lit.Value}, nil
}

func (b *Builder) buildCreateTable(s *ast.CreateTableStmt) (plan.Node, error) {
	cols := make([]sql.Column, len(s.Columns))
	var keys [][]int
	for i, c := range s.Columns {
		t, err := parseTypeName(c.TypeName)
		if err != nil {
			return nil, err
		}
		cols[i] = sql.Column{Name: c.Name, Type: t, Nullable: !c.NotNull}
		if c.PrimaryKey {
			keys = append(keys, []int{i})
			cols[i].Nullable = false
		}
	}
	return &plan.CreateTable{
		SchemaName:  b.schemaOrDefault(s.Schema),
		TableName:   s.Table,
		Columns:     cols,
		Keys:        keys,
		ModuleName:  s.Module,
		ModuleArgs:  s.ModuleArgs,
		IfNotExists: s.IfNotExists,
	}, nil
}

func (b *Builder) buildCreateView(s *ast.CreateViewStmt) (plan.Node, error) {
	return &plan.CreateView{SchemaName: b.schemaOrDefault(s.Schema), ViewName: s.Name, Query: s.QueryText}, nil
}

func parseTypeName(name string) (sql.Type, error) {
	switch name {
	case "INTEGER", "INT", "BIGINT":
		return sql.INTEGER, nil
	case "REAL", "FLOAT", "DOUBLE":
		return sql.REAL, nil
	case "TEXT", "VARCHAR", "CHAR":
		return sql.TEXT, nil
	case "BLOB":
		return sql.BLOB, nil
	case "BOOLEAN", "BOOL":
		return sql.BOOLEAN, nil
	default:
		return 0, qerr.New(qerr.SYNTAX, "unknown type name %q", name)
	}
}
