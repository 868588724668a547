package quereus_test

import (
	"context"
	"io"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	quereus "github.com/quereus/quereus"
	"github.com/quereus/quereus/ast"
	"github.com/quereus/quereus/qerr"
	"github.com/quereus/quereus/sql"
	"github.com/quereus/quereus/vtab/memkv"
)

// valueCmp lets go-cmp compare sql.Value without reaching into its
// unexported representation.
var valueCmp = cmp.Comparer(func(a, b sql.Value) bool {
	if a.IsNull() || b.IsNull() {
		return a.IsNull() && b.IsNull()
	}
	return a.Type() == b.Type() && sql.Compare(a, b, sql.CollationBinary) == 0
})

func requireRows(t *testing.T, want, got []sql.Row) {
	t.Helper()
	if diff := cmp.Diff(want, got, valueCmp); diff != "" {
		t.Fatalf("row mismatch (-want +got):\n%s", diff)
	}
}

// ---- AST construction helpers (a parser is out of scope; tests build the
// AST the parser contract describes directly) ----

func intLit(n int64) *ast.Literal { return &ast.Literal{Kind: "int", Text: strconv.FormatInt(n, 10)} }
func strLit(s string) *ast.Literal { return &ast.Literal{Kind: "string", Text: s} }
func col(name string) *ast.ColumnRef { return &ast.ColumnRef{Name: name} }
func prog(stmts ...ast.Stmt) *ast.Program { return &ast.Program{Statements: stmts} }

func createT() *ast.CreateTableStmt {
	return &ast.CreateTableStmt{
		Table: "t",
		Columns: []ast.ColumnDef{
			{Name: "id", TypeName: "INTEGER", PrimaryKey: true},
			{Name: "name", TypeName: "TEXT"},
		},
	}
}

func insertT(rows ...[2]interface{}) *ast.InsertStmt {
	valueRows := make([][]ast.Expr, len(rows))
	for i, r := range rows {
		valueRows[i] = []ast.Expr{intLit(int64(r[0].(int))), strLit(r[1].(string))}
	}
	return &ast.InsertStmt{Table: "t", ValuesRows: valueRows}
}

func selectAllOrdered() *ast.SelectStmt {
	return &ast.SelectStmt{
		Columns: []ast.SelectItem{{Expr: col("id")}, {Expr: col("name")}},
		From:    &ast.TableName{Name: "t"},
		OrderBy: []ast.OrderItem{{Expr: col("id")}},
	}
}

func selectNameWhereID(id int64) *ast.SelectStmt {
	return &ast.SelectStmt{
		Columns: []ast.SelectItem{{Expr: col("name")}},
		From:    &ast.TableName{Name: "t"},
		Where:   &ast.BinaryExpr{Op: "=", Left: col("id"), Right: intLit(id)},
	}
}

func countAll() *ast.SelectStmt {
	return &ast.SelectStmt{
		Columns: []ast.SelectItem{{Expr: &ast.FuncCall{Name: "count", Star: true}}},
		From:    &ast.TableName{Name: "t"},
	}
}

func newTestDB(t *testing.T) *quereus.Database {
	t.Helper()
	db := quereus.New(quereus.Config{})
	db.RegisterModule("memkv", memkv.New())
	t.Cleanup(func() { db.Close(context.Background()) })
	return db
}

func row(vals ...interface{}) sql.Row {
	out := make(sql.Row, len(vals))
	for i, v := range vals {
		sv, err := sql.ValueOf(v)
		if err != nil {
			panic(err)
		}
		out[i] = sv
	}
	return out
}

func TestEmptySelect(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.ExecProgram(ctx, prog(createT())))

	got, err := allRows(ctx, db, selectAllOrdered())
	require.NoError(t, err)
	require.Empty(t, got)
}

func allRows(ctx context.Context, db *quereus.Database, stmts ...ast.Stmt) ([]sql.Row, error) {
	it, err := db.EvalProgram(ctx, prog(stmts...))
	if err != nil {
		return nil, err
	}
	defer it.Close(ctx)
	var out []sql.Row
	for {
		r, err := it.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
}

func TestInsertThenOrderedSelect(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.ExecProgram(ctx, prog(createT())))
	require.NoError(t, db.ExecProgram(ctx, prog(insertT(
		[2]interface{}{1, "a"}, [2]interface{}{2, "b"}, [2]interface{}{3, "c"},
	))))

	got, err := allRows(ctx, db, selectAllOrdered())
	require.NoError(t, err)
	requireRows(t, []sql.Row{row(1, "a"), row(2, "b"), row(3, "c")}, got)
}

// TestInsertOrderInvariance checks the round-trip invariant: any insert
// permutation yields the same PK-ordered scan.
func TestInsertOrderInvariance(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.ExecProgram(ctx, prog(createT())))
	require.NoError(t, db.ExecProgram(ctx, prog(insertT(
		[2]interface{}{3, "c"}, [2]interface{}{1, "a"}, [2]interface{}{2, "b"},
	))))

	got, err := allRows(ctx, db, selectAllOrdered())
	require.NoError(t, err)
	requireRows(t, []sql.Row{row(1, "a"), row(2, "b"), row(3, "c")}, got)
}

func TestReadYourWritesAndRollback(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.ExecProgram(ctx, prog(createT())))

	require.NoError(t, db.ExecProgram(ctx, prog(&ast.BeginStmt{})))
	require.NoError(t, db.ExecProgram(ctx, prog(insertT([2]interface{}{4, "d"}))))

	got, err := allRows(ctx, db, selectNameWhereID(4))
	require.NoError(t, err)
	requireRows(t, []sql.Row{row("d")}, got)

	require.NoError(t, db.ExecProgram(ctx, prog(&ast.RollbackStmt{})))

	got, err = allRows(ctx, db, selectNameWhereID(4))
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestUpdateViaPrimaryKey(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.ExecProgram(ctx, prog(createT())))
	require.NoError(t, db.ExecProgram(ctx, prog(insertT([2]interface{}{1, "a"}))))

	update := &ast.UpdateStmt{
		Table: "t",
		Set:   []ast.SetClause{{Column: "name", Value: strLit("A")}},
		Where: &ast.BinaryExpr{Op: "=", Left: col("id"), Right: intLit(1)},
	}
	require.NoError(t, db.ExecProgram(ctx, prog(update)))

	got, err := allRows(ctx, db, selectNameWhereID(1))
	require.NoError(t, err)
	requireRows(t, []sql.Row{row("A")}, got)
}

// TestUpdateRewritingPrimaryKey: the executor addresses the original row
// by its pre-update key values, so rewriting the key moves the row rather
// than duplicating it.
func TestUpdateRewritingPrimaryKey(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.ExecProgram(ctx, prog(createT())))
	require.NoError(t, db.ExecProgram(ctx, prog(insertT([2]interface{}{1, "a"}))))

	update := &ast.UpdateStmt{
		Table: "t",
		Set:   []ast.SetClause{{Column: "id", Value: intLit(5)}},
		Where: &ast.BinaryExpr{Op: "=", Left: col("id"), Right: intLit(1)},
	}
	require.NoError(t, db.ExecProgram(ctx, prog(update)))

	got, err := allRows(ctx, db, selectAllOrdered())
	require.NoError(t, err)
	requireRows(t, []sql.Row{row(5, "a")}, got)
}

func TestDeleteRemovesRow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.ExecProgram(ctx, prog(createT())))
	require.NoError(t, db.ExecProgram(ctx, prog(insertT([2]interface{}{1, "a"}, [2]interface{}{2, "b"}))))

	del := &ast.DeleteStmt{Table: "t", Where: &ast.BinaryExpr{Op: "=", Left: col("id"), Right: intLit(1)}}
	require.NoError(t, db.ExecProgram(ctx, prog(del)))

	got, err := allRows(ctx, db, selectAllOrdered())
	require.NoError(t, err)
	requireRows(t, []sql.Row{row(2, "b")}, got)
}

// TestSavepointRollback is spec scenario 5: BEGIN; INSERT (1,'x');
// SAVEPOINT s1; INSERT (2,'y'); ROLLBACK TO s1; COMMIT leaves one row.
func TestSavepointRollback(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.ExecProgram(ctx, prog(createT())))

	require.NoError(t, db.ExecProgram(ctx, prog(&ast.BeginStmt{})))
	require.NoError(t, db.ExecProgram(ctx, prog(insertT([2]interface{}{1, "x"}))))
	require.NoError(t, db.ExecProgram(ctx, prog(&ast.SavepointStmt{Name: "s1"})))
	require.NoError(t, db.ExecProgram(ctx, prog(insertT([2]interface{}{2, "y"}))))
	require.NoError(t, db.ExecProgram(ctx, prog(&ast.RollbackStmt{Savepoint: "s1"})))
	require.NoError(t, db.ExecProgram(ctx, prog(&ast.CommitStmt{})))

	got, err := allRows(ctx, db, countAll())
	require.NoError(t, err)
	requireRows(t, []sql.Row{row(1)}, got)
}

// TestSavepointNestingEquivalence is the §8 invariant: BEGIN; SP a; mutate;
// SP b; mutate; ROLLBACK TO a; COMMIT reads back as BEGIN; COMMIT.
func TestSavepointNestingEquivalence(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.ExecProgram(ctx, prog(createT())))

	require.NoError(t, db.ExecProgram(ctx, prog(&ast.BeginStmt{})))
	require.NoError(t, db.ExecProgram(ctx, prog(&ast.SavepointStmt{Name: "a"})))
	require.NoError(t, db.ExecProgram(ctx, prog(insertT([2]interface{}{1, "x"}))))
	require.NoError(t, db.ExecProgram(ctx, prog(&ast.SavepointStmt{Name: "b"})))
	require.NoError(t, db.ExecProgram(ctx, prog(insertT([2]interface{}{2, "y"}))))
	require.NoError(t, db.ExecProgram(ctx, prog(&ast.RollbackStmt{Savepoint: "a"})))
	require.NoError(t, db.ExecProgram(ctx, prog(&ast.CommitStmt{})))

	got, err := allRows(ctx, db, selectAllOrdered())
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestCountWithoutGroupBy(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.ExecProgram(ctx, prog(createT())))

	// n = 0 still yields exactly one row containing 0, never zero rows.
	got, err := allRows(ctx, db, countAll())
	require.NoError(t, err)
	requireRows(t, []sql.Row{row(0)}, got)

	require.NoError(t, db.ExecProgram(ctx, prog(insertT(
		[2]interface{}{1, "a"}, [2]interface{}{2, "b"}, [2]interface{}{3, "c"},
	))))
	got, err = allRows(ctx, db, countAll())
	require.NoError(t, err)
	requireRows(t, []sql.Row{row(3)}, got)
}

// TestNotNullConstraintRejectsBeforeMutation: the constraint check fires
// before any table mutation, the failed autocommit transaction is rolled
// back, and the handle stays usable.
func TestNotNullConstraintRejectsBeforeMutation(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	create := &ast.CreateTableStmt{
		Table: "t",
		Columns: []ast.ColumnDef{
			{Name: "id", TypeName: "INTEGER", PrimaryKey: true},
			{Name: "name", TypeName: "TEXT", NotNull: true},
		},
	}
	require.NoError(t, db.ExecProgram(ctx, prog(create)))

	bad := &ast.InsertStmt{Table: "t", ValuesRows: [][]ast.Expr{
		{intLit(1), &ast.Literal{Kind: "null"}},
	}}
	err := db.ExecProgram(ctx, prog(bad))
	require.Error(t, err)
	require.True(t, qerr.Is(err, qerr.CONSTRAINT), "got %v", err)
	require.False(t, db.InTransaction(), "failed autocommit rolled back")

	require.NoError(t, db.ExecProgram(ctx, prog(insertT([2]interface{}{1, "ok"}))))
	got, err := allRows(ctx, db, countAll())
	require.NoError(t, err)
	requireRows(t, []sql.Row{row(1)}, got)
}

func TestParameterBindingPositionalAndNamed(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.ExecProgram(ctx, prog(createT())))
	require.NoError(t, db.ExecProgram(ctx, prog(insertT([2]interface{}{7, "seven"}))))

	sel := &ast.SelectStmt{
		Columns: []ast.SelectItem{{Expr: col("name")}},
		From:    &ast.TableName{Name: "t"},
		Where:   &ast.BinaryExpr{Op: "=", Left: col("id"), Right: &ast.ParamExpr{}},
	}
	it, err := db.EvalProgram(ctx, prog(sel), 7)
	require.NoError(t, err)
	r, err := it.Next(ctx)
	require.NoError(t, err)
	requireRows(t, []sql.Row{row("seven")}, []sql.Row{r})
	require.NoError(t, it.Close(ctx))

	named := &ast.SelectStmt{
		Columns: []ast.SelectItem{{Expr: col("name")}},
		From:    &ast.TableName{Name: "t"},
		Where:   &ast.BinaryExpr{Op: "=", Left: col("id"), Right: &ast.ParamExpr{Name: "id"}},
	}
	it, err = db.EvalProgram(ctx, prog(named), map[string]interface{}{":id": 7})
	require.NoError(t, err)
	r, err = it.Next(ctx)
	require.NoError(t, err)
	requireRows(t, []sql.Row{row("seven")}, []sql.Row{r})
	require.NoError(t, it.Close(ctx))
}

// TestSchemaChangeDetection is the §8 invariant: dropping a referenced
// table between emit and execute yields SCHEMA_CHANGED, never a stale read.
func TestSchemaChangeDetection(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.ExecProgram(ctx, prog(createT())))

	builderStmt, err := db.PrepareProgram(prog(selectAllOrdered()))
	require.NoError(t, err)

	require.NoError(t, db.ExecProgram(ctx, prog(&ast.DropTableStmt{Table: "t"})))

	_, err = builderStmt.Bind().All(ctx)
	require.Error(t, err)
	require.True(t, qerr.Is(err, qerr.SCHEMA_CHANGED), "got %v", err)
}

func TestDataChangeEventsPostCommitOnly(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.ExecProgram(ctx, prog(createT())))

	var events []sql.DataChangeEvent
	unsub := db.OnDataChange(func(e sql.DataChangeEvent) { events = append(events, e) })
	defer unsub()

	require.NoError(t, db.ExecProgram(ctx, prog(&ast.BeginStmt{})))
	require.NoError(t, db.ExecProgram(ctx, prog(insertT([2]interface{}{1, "a"}))))
	require.Empty(t, events, "no events before commit")

	require.NoError(t, db.ExecProgram(ctx, prog(&ast.CommitStmt{})))
	require.Len(t, events, 1)
	require.Equal(t, sql.OpChangeInsert, events[0].Op)
	require.Equal(t, "t", events[0].TableName)

	// Rolled-back mutations never surface.
	events = nil
	require.NoError(t, db.ExecProgram(ctx, prog(&ast.BeginStmt{})))
	require.NoError(t, db.ExecProgram(ctx, prog(insertT([2]interface{}{2, "b"}))))
	require.NoError(t, db.ExecProgram(ctx, prog(&ast.RollbackStmt{})))
	require.Empty(t, events)
}

func TestOptionsUnknownKeySemantics(t *testing.T) {
	db := newTestDB(t)

	// Writes to any key are accepted silently.
	require.NoError(t, db.SetOption("cache_size", 100))
	v, err := db.GetOption("cache_size")
	require.NoError(t, err)
	require.Equal(t, int64(100), v.Int())

	// Reads of never-written keys error with NOT_FOUND.
	_, err = db.GetOption("no_such_pragma")
	require.True(t, qerr.Is(err, qerr.NOT_FOUND))
}

func TestExplainShowsRetrieveBoundary(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.ExecProgram(ctx, prog(createT())))

	node, err := db.BuildProgram(prog(selectAllOrdered()))
	require.NoError(t, err)
	out := quereus.FormatPlan(node)
	require.Contains(t, out, "Retrieve")
	require.Contains(t, out, "Sort")
	require.Contains(t, out, "Project")
}

func TestLimitOffsetPrefixMonotonicity(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.ExecProgram(ctx, prog(createT())))
	require.NoError(t, db.ExecProgram(ctx, prog(insertT(
		[2]interface{}{1, "a"}, [2]interface{}{2, "b"}, [2]interface{}{3, "c"}, [2]interface{}{4, "d"},
	))))

	limited := func(n int64) []sql.Row {
		s := selectAllOrdered()
		s.Limit = intLit(n)
		s.Offset = intLit(1)
		rows, err := allRows(ctx, db, s)
		require.NoError(t, err)
		return rows
	}
	two := limited(2)
	three := limited(3)
	require.Len(t, two, 2)
	require.Len(t, three, 3)
	requireRows(t, two, three[:2])
}
