package boltkv

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quereus/quereus/sql"
)

func openTestModule(t *testing.T) *Module {
	t.Helper()
	dir := t.TempDir()
	m, err := Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func testSchema() *sql.TableSchema {
	return &sql.TableSchema{
		Columns: []sql.Column{
			{Name: "id", Type: sql.INTEGER},
			{Name: "name", Type: sql.TEXT},
		},
		Keys: [][]int{{0}},
	}
}

func scanAll(t *testing.T, tbl *Table) []sql.Row {
	t.Helper()
	ctx := context.Background()
	it, err := tbl.Query(ctx, sql.FilterInfo{})
	require.NoError(t, err)
	var out []sql.Row
	for {
		row, err := it.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		out = append(out, row)
	}
	require.NoError(t, it.Close(ctx))
	return out
}

// TestBoltkv_InsertThenScanYieldsPKOrder:
// rows inserted in any order are read back in PK order on an unfiltered
// scan.
func TestBoltkv_InsertThenScanYieldsPKOrder(t *testing.T) {
	m := openTestModule(t)
	schema := testSchema()
	_, err := m.Create(context.Background(), nil, "main", "t", nil)
	require.NoError(t, err)
	tbl, err := m.Connect(context.Background(), schema, "boltkv", "main", "t", nil)
	require.NoError(t, err)
	table := tbl.(*Table)

	ctx := context.Background()
	for _, id := range []int64{3, 1, 2} {
		_, err := table.Update(ctx, sql.OpInsert, sql.Row{sql.IntValue(id), sql.TextValue("row")}, nil)
		require.NoError(t, err)
	}

	rows := scanAll(t, table)
	require.Len(t, rows, 3)
	require.Equal(t, int64(1), rows[0][0].Int())
	require.Equal(t, int64(2), rows[1][0].Int())
	require.Equal(t, int64(3), rows[2][0].Int())
}

// TestBoltkv_UpdateViaPK: an update addressed by key replaces the row.
func TestBoltkv_UpdateViaPK(t *testing.T) {
	m := openTestModule(t)
	schema := testSchema()
	_, err := m.Create(context.Background(), nil, "main", "t", nil)
	require.NoError(t, err)
	tbl, err := m.Connect(context.Background(), schema, "boltkv", "main", "t", nil)
	require.NoError(t, err)
	table := tbl.(*Table)
	ctx := context.Background()

	_, err = table.Update(ctx, sql.OpInsert, sql.Row{sql.IntValue(1), sql.TextValue("a")}, nil)
	require.NoError(t, err)

	_, err = table.Update(ctx, sql.OpUpdate, sql.Row{sql.IntValue(1), sql.TextValue("A")}, sql.Row{sql.IntValue(1)})
	require.NoError(t, err)

	rows := scanAll(t, table)
	require.Len(t, rows, 1)
	require.Equal(t, "A", rows[0][1].Text())
}

// TestBoltkv_DeleteRemovesRow exercises the delete-then-scan
// invariant.
func TestBoltkv_DeleteRemovesRow(t *testing.T) {
	m := openTestModule(t)
	schema := testSchema()
	_, err := m.Create(context.Background(), nil, "main", "t", nil)
	require.NoError(t, err)
	tbl, err := m.Connect(context.Background(), schema, "boltkv", "main", "t", nil)
	require.NoError(t, err)
	table := tbl.(*Table)
	ctx := context.Background()

	_, err = table.Update(ctx, sql.OpInsert, sql.Row{sql.IntValue(1), sql.TextValue("a")}, nil)
	require.NoError(t, err)
	_, err = table.Update(ctx, sql.OpDelete, nil, sql.Row{sql.IntValue(1)})
	require.NoError(t, err)

	require.Empty(t, scanAll(t, table))
}

// TestBoltkv_TransactionRollbackUndoesAllWrites exercises the
// rollback-isolation scenario over boltkv's savepoint undo log.
func TestBoltkv_TransactionRollbackUndoesAllWrites(t *testing.T) {
	m := openTestModule(t)
	schema := testSchema()
	_, err := m.Create(context.Background(), nil, "main", "t", nil)
	require.NoError(t, err)
	tbl, err := m.Connect(context.Background(), schema, "boltkv", "main", "t", nil)
	require.NoError(t, err)
	table := tbl.(*Table)
	ctx := context.Background()

	require.NoError(t, table.Begin(ctx))
	_, err = table.Update(ctx, sql.OpInsert, sql.Row{sql.IntValue(1), sql.TextValue("a")}, nil)
	require.NoError(t, err)
	require.Len(t, scanAll(t, table), 1) // read-your-writes within the open transaction
	require.NoError(t, table.Rollback(ctx))

	require.Empty(t, scanAll(t, table))
}

// TestBoltkv_SavepointRollback exercises savepoint rollback end-to-end
// against the reference module: BEGIN; INSERT 1; SAVEPOINT; INSERT 2;
// ROLLBACK TO savepoint; COMMIT leaves only row 1.
func TestBoltkv_SavepointRollback(t *testing.T) {
	m := openTestModule(t)
	schema := testSchema()
	_, err := m.Create(context.Background(), nil, "main", "t", nil)
	require.NoError(t, err)
	tbl, err := m.Connect(context.Background(), schema, "boltkv", "main", "t", nil)
	require.NoError(t, err)
	table := tbl.(*Table)
	ctx := context.Background()

	require.NoError(t, table.Begin(ctx))
	_, err = table.Update(ctx, sql.OpInsert, sql.Row{sql.IntValue(1), sql.TextValue("x")}, nil)
	require.NoError(t, err)
	require.NoError(t, table.CreateSavepoint(ctx, 0))
	_, err = table.Update(ctx, sql.OpInsert, sql.Row{sql.IntValue(2), sql.TextValue("y")}, nil)
	require.NoError(t, err)
	require.NoError(t, table.RollbackToSavepoint(ctx, 0))
	require.NoError(t, table.Commit(ctx))

	rows := scanAll(t, table)
	require.Len(t, rows, 1)
	require.Equal(t, int64(1), rows[0][0].Int())
}

