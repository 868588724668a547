// Package quereus is an embeddable SQL engine organized around a
// three-stage pipeline: a parser (external, see the ast package contract)
// produces an AST; the planbuilder package turns it into a plan tree; the
// emit package lowers the plan into an instruction graph the runtime
// package executes. Tables are exclusively virtual tables bound through
// the sql.Module contract, with engine-side isolation supplied by the
// overlay package where a module brings none of its own.
package quereus

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/quereus/quereus/ast"
	"github.com/quereus/quereus/emit"
	"github.com/quereus/quereus/plan"
	"github.com/quereus/quereus/planbuilder"
	"github.com/quereus/quereus/qerr"
	"github.com/quereus/quereus/runtime"
	"github.com/quereus/quereus/sql"
	"github.com/quereus/quereus/txn"
	"github.com/quereus/quereus/vtab"
)

// Parser is the boundary to the (out-of-scope) SQL lexer/parser: it turns
// query text into the AST shape package ast defines. Hosts supply one when
// constructing a Database; every text-accepting entry point routes through
// it.
type Parser func(query string) (*ast.Program, error)

// Config carries the collaborators a Database needs at construction.
type Config struct {
	// Parser translates SQL text into an ast.Program. Required for the
	// text-accepting entry points (Exec/Eval/Prepare/Explain).
	Parser Parser
	// DefaultSchema resolves unqualified table names; "main" when empty.
	DefaultSchema string
	// Log, when nil, falls back to the process-wide standard logger.
	Log *logrus.Entry
}

// Database is one engine handle: a schema catalog, a pooled
// set of virtual-table connections, one transaction coordinator, and the
// post-commit change-event bus. Statements on one handle must not be
// issued concurrently.
type Database struct {
	catalog       *sql.Catalog
	pool          *vtab.Pool
	coord         *txn.Coordinator
	bus           *sql.DataChangeBus
	options       *optionRegistry
	parser        Parser
	defaultSchema string
	log           *logrus.Entry

	mu       sync.Mutex
	prepared map[string]*Statement
	closed   bool
}

// New constructs an empty Database. Modules and functions are registered
// afterwards via RegisterModule/RegisterFunction.
func New(cfg Config) *Database {
	schema := cfg.DefaultSchema
	if schema == "" {
		schema = "main"
	}
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	catalog := sql.NewCatalog()
	registerBuiltins(catalog)
	bus := sql.NewDataChangeBus()
	db := &Database{
		catalog:       catalog,
		pool:          vtab.NewPool(catalog),
		coord:         txn.New(bus),
		bus:           bus,
		options:       newOptionRegistry(),
		parser:        cfg.Parser,
		defaultSchema: schema,
		log:           log,
		prepared:      make(map[string]*Statement),
	}
	// DDL invalidates the prepared-statement cache wholesale; re-preparing
	// re-plans against the new catalog instead of failing SCHEMA_CHANGED
	// forever. In-flight Statement handles still carry their snapshot and
	// fail loudly.
	catalog.OnSchemaChange(func(sql.SchemaChangeEvent) {
		db.mu.Lock()
		db.prepared = make(map[string]*Statement)
		db.mu.Unlock()
	})
	return db
}

// Catalog exposes the schema manager, mainly for module implementations and
// tests; DDL statements are the supported mutation path.
func (db *Database) Catalog() *sql.Catalog { return db.catalog }

// RegisterModule registers a virtual-table module under name.
// The first registered module backs CREATE TABLE statements with no USING
// clause.
func (db *Database) RegisterModule(name string, m sql.Module) {
	db.catalog.RegisterModule(name, m)
}

// RegisterFunction registers a scalar/aggregate function.
func (db *Database) RegisterFunction(fn *sql.FunctionSchema) {
	db.catalog.RegisterFunction(fn)
}

// OnDataChange subscribes to post-commit change events,
// returning an unsubscribe function.
func (db *Database) OnDataChange(fn func(sql.DataChangeEvent)) func() {
	return db.bus.OnDataChange(fn)
}

// SetOption writes a pragma-style option; unknown keys are a silent no-op.
func (db *Database) SetOption(name string, value interface{}) error {
	v, err := sql.ValueOf(value)
	if err != nil {
		return err
	}
	return db.options.SetOption(name, v)
}

// GetOption reads an option back; unknown keys error with NOT_FOUND.
func (db *Database) GetOption(name string) (sql.Value, error) {
	return db.options.GetOption(name)
}

// Begin opens an explicit transaction. DML outside one runs
// under an implicit autocommit transaction instead.
func (db *Database) Begin(ctx context.Context) error { return db.coord.Begin(ctx) }

// Commit commits the open transaction across every participating table.
func (db *Database) Commit(ctx context.Context) error { return db.coord.Commit(ctx) }

// Rollback discards the open transaction.
func (db *Database) Rollback(ctx context.Context) error { return db.coord.Rollback(ctx) }

// InTransaction reports whether an explicit or lazily started transaction
// is open.
func (db *Database) InTransaction() bool { return db.coord.IsInTransaction() }

// Close tears down every pooled vtab connection. Open transactions are
// rolled back first so no module is left holding a write lock.
func (db *Database) Close(ctx context.Context) error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()
	if db.coord.IsInTransaction() {
		if err := db.coord.Rollback(ctx); err != nil {
			db.log.WithError(err).Warn("rollback during close failed")
		}
	}
	return db.pool.Close(ctx)
}

func (db *Database) parse(query string) (*ast.Program, error) {
	if db.parser == nil {
		return nil, qerr.New(qerr.MISUSE, "no SQL parser configured on this Database")
	}
	prog, err := db.parser(query)
	if err != nil {
		return nil, err
	}
	if prog == nil || len(prog.Statements) == 0 {
		return nil, qerr.New(qerr.SYNTAX, "empty statement")
	}
	return prog, nil
}

// Exec executes a statement program for its side effects, draining any
// result rows.
func (db *Database) Exec(ctx context.Context, query string, params ...interface{}) error {
	prog, err := db.parse(query)
	if err != nil {
		return err
	}
	return db.ExecProgram(ctx, prog, params...)
}

// ExecProgram is Exec for a pre-parsed program, the entry point for hosts
// that run their own parser.
func (db *Database) ExecProgram(ctx context.Context, prog *ast.Program, params ...interface{}) error {
	stmt, err := db.prepareProgram(prog, batchShape)
	if err != nil {
		return err
	}
	return stmt.Bind(params...).Run(ctx)
}

// Eval executes a statement program and streams its result rows.
// Multi-statement programs yield the last non-sink statement's rows.
func (db *Database) Eval(ctx context.Context, query string, params ...interface{}) (sql.RowIter, error) {
	prog, err := db.parse(query)
	if err != nil {
		return nil, err
	}
	return db.EvalProgram(ctx, prog, params...)
}

// EvalProgram is Eval for a pre-parsed program.
func (db *Database) EvalProgram(ctx context.Context, prog *ast.Program, params ...interface{}) (sql.RowIter, error) {
	stmt, err := db.prepareProgram(prog, blockShape)
	if err != nil {
		return nil, err
	}
	return stmt.Bind(params...).Iterate(ctx)
}

// Prepare parses, builds, and emits query once for reuse.
// Prepared statements are cached by raw SQL text; a SCHEMA_CHANGED failure
// at run time surfaces to the caller rather than silently re-planning.
func (db *Database) Prepare(query string) (*Statement, error) {
	db.mu.Lock()
	if s, ok := db.prepared[query]; ok {
		db.mu.Unlock()
		return s, nil
	}
	db.mu.Unlock()
	prog, err := db.parse(query)
	if err != nil {
		return nil, err
	}
	stmt, err := db.prepareProgram(prog, blockShape)
	if err != nil {
		return nil, err
	}
	stmt.text = query
	db.mu.Lock()
	db.prepared[query] = stmt
	db.mu.Unlock()
	return stmt, nil
}

// PrepareProgram is Prepare for a pre-parsed program. Unlike Prepare, the
// result is not cached: the caller owns the program's identity.
func (db *Database) PrepareProgram(prog *ast.Program) (*Statement, error) {
	return db.prepareProgram(prog, blockShape)
}

// BuildProgram builds a pre-parsed program into a plan tree without
// emitting or executing it, the program-level analog of Explain.
func (db *Database) BuildProgram(prog *ast.Program) (plan.Node, error) {
	node, _, err := db.buildProgram(prog, blockShape)
	return node, err
}

// programShape selects how a multi-statement program is planned: Batch
// (side effects only) or Block (last non-sink statement's
// rows are the value).
type programShape int

const (
	batchShape programShape = iota
	blockShape
)

func (db *Database) buildProgram(prog *ast.Program, shape programShape) (plan.Node, *planbuilder.Builder, error) {
	builder := planbuilder.New(db.catalog, db.defaultSchema, nil)
	if shape == batchShape {
		batch, err := builder.Build(prog)
		if err != nil {
			return nil, nil, err
		}
		return batch, builder, nil
	}
	stmts := make([]plan.Node, 0, len(prog.Statements))
	for _, s := range prog.Statements {
		n, err := builder.BuildOne(s)
		if err != nil {
			return nil, nil, err
		}
		stmts = append(stmts, n)
	}
	if len(stmts) == 1 {
		return stmts[0], builder, nil
	}
	return plan.NewBlock(builder.ParamScope(), stmts), builder, nil
}

func (db *Database) prepareProgram(prog *ast.Program, shape programShape) (*Statement, error) {
	node, builder, err := db.buildProgram(prog, shape)
	if err != nil {
		return nil, err
	}
	inst, err := emit.EmitStatement(node, db.catalog)
	if err != nil {
		return nil, err
	}
	return &Statement{
		db:         db,
		plan:       node,
		inst:       inst,
		paramNames: builder.ParamScope().ParameterNames(),
	}, nil
}

// Statement is a reusable plan + emission. Bind returns a
// shallow copy carrying the bound arguments, so one prepared Statement can
// be bound differently across uses.
type Statement struct {
	db         *Database
	plan       plan.Node
	inst       *runtime.Instruction
	paramNames []string
	text       string

	bound []sql.Value
	err   error
}

// Plan exposes the statement's plan tree, used by Explain and tests.
func (s *Statement) Plan() plan.Node { return s.plan }

// SQL returns the text this statement was prepared from, empty for
// statements built from a pre-parsed program.
func (s *Statement) SQL() string { return s.text }

// NumParams reports how many parameter slots the statement binds.
func (s *Statement) NumParams() int { return len(s.paramNames) }

// Columns returns the result column names, empty for statements with no
// relational output.
func (s *Statement) Columns() []string {
	rel, ok := s.plan.(plan.RelationalNode)
	if !ok {
		return nil
	}
	attrs := rel.RelAttributes()
	out := make([]string, len(attrs))
	for i, a := range attrs {
		out[i] = a.Name
	}
	return out
}

// Bind attaches arguments: a single map argument binds by
// name (leading ":"/"@"/"$" sigils stripped); anything else binds
// positionally, 1-based in SQL, left-to-right here.
func (s *Statement) Bind(params ...interface{}) *Statement {
	out := &Statement{db: s.db, plan: s.plan, inst: s.inst, paramNames: s.paramNames, text: s.text}
	if len(params) == 1 {
		if named, ok := params[0].(map[string]interface{}); ok {
			out.bound, out.err = s.bindNamed(named)
			return out
		}
	}
	out.bound, out.err = s.bindPositional(params)
	return out
}

func (s *Statement) bindPositional(params []interface{}) ([]sql.Value, error) {
	if len(params) < len(s.paramNames) {
		return nil, qerr.New(qerr.MISUSE, "statement expects %d parameters, got %d", len(s.paramNames), len(params))
	}
	out := make([]sql.Value, len(params))
	for i, p := range params {
		v, err := sql.ValueOf(p)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func trimSigil(name string) string {
	if len(name) > 0 {
		switch name[0] {
		case ':', '@', '$':
			return name[1:]
		}
	}
	return name
}

func (s *Statement) bindNamed(params map[string]interface{}) ([]sql.Value, error) {
	trimmed := make(map[string]sql.Value, len(params))
	for k, v := range params {
		sv, err := sql.ValueOf(v)
		if err != nil {
			return nil, err
		}
		trimmed[trimSigil(k)] = sv
	}
	out := make([]sql.Value, len(s.paramNames))
	for i, name := range s.paramNames {
		v, ok := trimmed[name]
		if !ok {
			return nil, qerr.New(qerr.MISUSE, "no value bound for parameter %q", name)
		}
		out[i] = v
	}
	return out, nil
}

func (s *Statement) newRuntimeContext(ctx context.Context) *runtime.Context {
	rctx := runtime.NewContext(ctx, s.db.catalog, s.db.coord, s.db.pool, s.bound, s.db.log)
	rctx.Options = s.db.options
	return rctx
}

// Run executes the statement, draining any result rows.
func (s *Statement) Run(ctx context.Context) error {
	if s.err != nil {
		return s.err
	}
	rctx := s.newRuntimeContext(ctx)
	out, err := runtime.Execute(rctx, s.inst)
	if err != nil {
		return s.failAutocommit(ctx, err)
	}
	if it, ok := out.(sql.RowIter); ok {
		if _, err := runtime.Drain(rctx, it); err != nil {
			return s.failAutocommit(ctx, err)
		}
	}
	return s.finishAutocommit(ctx)
}

// finishAutocommit commits a transaction the statement started lazily.
// Explicit transactions stay open for the host to COMMIT or ROLLBACK.
func (s *Statement) finishAutocommit(ctx context.Context) error {
	if s.db.coord.IsImplicit() {
		return s.db.coord.Commit(ctx)
	}
	return nil
}

// failAutocommit rolls back an implicitly started transaction so the error
// doesn't leave the handle stuck mid-transaction. Explicit transactions are
// deliberately left open: the host decides.
func (s *Statement) failAutocommit(ctx context.Context, cause error) error {
	if s.db.coord.IsImplicit() {
		if rbErr := s.db.coord.Rollback(ctx); rbErr != nil {
			s.db.log.WithError(rbErr).Warn("autocommit rollback failed")
		}
	}
	return cause
}

// All executes the statement and materializes every result row.
func (s *Statement) All(ctx context.Context) ([]sql.Row, error) {
	it, err := s.Iterate(ctx)
	if err != nil {
		return nil, err
	}
	return runtime.Drain(ctx, it)
}

// Iterate executes the statement and streams its result rows.
// A statement with no relational output yields an empty stream.
func (s *Statement) Iterate(ctx context.Context) (sql.RowIter, error) {
	if s.err != nil {
		return nil, s.err
	}
	rctx := s.newRuntimeContext(ctx)
	out, err := runtime.Execute(rctx, s.inst)
	if err != nil {
		return nil, s.failAutocommit(ctx, err)
	}
	it, ok := out.(sql.RowIter)
	if !ok {
		it = &runtime.SliceIter{}
	}
	// An implicitly started transaction must not outlive the statement, so
	// its rows are materialized before the autocommit. An
	// explicit transaction streams lazily.
	if s.db.coord.IsImplicit() {
		rows, err := runtime.Drain(rctx, it)
		if err != nil {
			return nil, s.failAutocommit(ctx, err)
		}
		if err := s.db.coord.Commit(ctx); err != nil {
			return nil, err
		}
		return &runtime.SliceIter{Rows: rows}, nil
	}
	return it, nil
}
