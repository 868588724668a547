package vtab

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quereus/quereus/sql"
)

// fakeBase is a minimal non-transactional Table: a map applied to
// immediately, scanned back in PK order by the caller's expectations being
// a single integer PK at column 0.
type fakeBase struct {
	rows map[int64]sql.Row
}

func newFakeBase() *fakeBase { return &fakeBase{rows: map[int64]sql.Row{}} }

func (f *fakeBase) Schema() *sql.TableSchema { return testSchema() }

func (f *fakeBase) BestIndex(ctx context.Context, info sql.BestIndexInfo) (sql.BestIndexResult, error) {
	return sql.BestIndexResult{ConstraintUsage: make([]bool, len(info.Constraints))}, nil
}

func (f *fakeBase) Query(ctx context.Context, filter sql.FilterInfo) (sql.RowIter, error) {
	var keys []int64
	for k := range f.rows {
		keys = append(keys, k)
	}
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			if keys[j] < keys[i] {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}
	rows := make([]sql.Row, len(keys))
	for i, k := range keys {
		rows[i] = f.rows[k]
	}
	return &fakeIter{rows: rows}, nil
}

func (f *fakeBase) Update(ctx context.Context, op sql.UpdateOp, newRow sql.Row, keyValues sql.Row) (int64, error) {
	switch op {
	case sql.OpInsert:
		f.rows[newRow[0].Int()] = newRow.Copy()
	case sql.OpUpdate:
		delete(f.rows, keyValues[0].Int())
		f.rows[newRow[0].Int()] = newRow.Copy()
	case sql.OpDelete:
		delete(f.rows, keyValues[0].Int())
	}
	return 0, nil
}

func (f *fakeBase) SupportsPushdown(subtree interface{}) *sql.RemoteQuerySupport { return nil }
func (f *fakeBase) ExecutePlan(ctx context.Context, subtree interface{}, pushCtx interface{}) (sql.RowIter, error) {
	return nil, io.EOF
}
func (f *fakeBase) Disconnect(ctx context.Context) error { return nil }

type fakeIter struct {
	rows []sql.Row
	idx  int
}

func (f *fakeIter) Next(ctx context.Context) (sql.Row, error) {
	if f.idx >= len(f.rows) {
		return nil, io.EOF
	}
	r := f.rows[f.idx]
	f.idx++
	return r, nil
}

func (f *fakeIter) Close(ctx context.Context) error { return nil }

func testSchema() *sql.TableSchema {
	return &sql.TableSchema{
		Name: "t",
		Columns: []sql.Column{
			{Name: "id", Type: sql.INTEGER},
			{Name: "name", Type: sql.TEXT, Nullable: true},
		},
		Keys: [][]int{{0}},
	}
}

func scan(t *testing.T, ot *OverlayTable) []sql.Row {
	t.Helper()
	ctx := context.Background()
	it, err := ot.Query(ctx, sql.FilterInfo{})
	require.NoError(t, err)
	defer it.Close(ctx)
	var out []sql.Row
	for {
		r, err := it.Next(ctx)
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, r)
	}
}

func trow(id int64, name string) sql.Row {
	return sql.Row{sql.IntValue(id), sql.TextValue(name)}
}

func TestOverlayTable_AutocommitPassesThrough(t *testing.T) {
	base := newFakeBase()
	ot := NewOverlayTable(base, testSchema())
	ctx := context.Background()

	_, err := ot.Update(ctx, sql.OpInsert, trow(1, "a"), nil)
	require.NoError(t, err)
	require.Len(t, base.rows, 1, "autocommit writes hit the base immediately")
}

func TestOverlayTable_ReadYourWritesInsideTransaction(t *testing.T) {
	base := newFakeBase()
	ot := NewOverlayTable(base, testSchema())
	ctx := context.Background()

	require.NoError(t, ot.Begin(ctx))
	_, err := ot.Update(ctx, sql.OpInsert, trow(1, "a"), nil)
	require.NoError(t, err)

	require.Empty(t, base.rows, "buffered, not yet committed")
	rows := scan(t, ot)
	require.Len(t, rows, 1)
	require.Equal(t, "a", rows[0][1].Text())
}

func TestOverlayTable_DeleteSuppressesBaseRow(t *testing.T) {
	base := newFakeBase()
	base.rows[1] = trow(1, "a")
	base.rows[2] = trow(2, "b")
	ot := NewOverlayTable(base, testSchema())
	ctx := context.Background()

	require.NoError(t, ot.Begin(ctx))
	_, err := ot.Update(ctx, sql.OpDelete, nil, sql.Row{sql.IntValue(1)})
	require.NoError(t, err)

	rows := scan(t, ot)
	require.Len(t, rows, 1)
	require.Equal(t, int64(2), rows[0][0].Int())
}

func TestOverlayTable_UpdateYieldsNewValueExactlyOnce(t *testing.T) {
	base := newFakeBase()
	base.rows[1] = trow(1, "a")
	ot := NewOverlayTable(base, testSchema())
	ctx := context.Background()

	require.NoError(t, ot.Begin(ctx))
	_, err := ot.Update(ctx, sql.OpUpdate, trow(1, "A"), sql.Row{sql.IntValue(1)})
	require.NoError(t, err)

	rows := scan(t, ot)
	require.Len(t, rows, 1)
	require.Equal(t, "A", rows[0][1].Text())
}

func TestOverlayTable_MergePreservesPKOrder(t *testing.T) {
	base := newFakeBase()
	base.rows[1] = trow(1, "a")
	base.rows[3] = trow(3, "c")
	ot := NewOverlayTable(base, testSchema())
	ctx := context.Background()

	require.NoError(t, ot.Begin(ctx))
	_, err := ot.Update(ctx, sql.OpInsert, trow(2, "b"), nil)
	require.NoError(t, err)
	_, err = ot.Update(ctx, sql.OpInsert, trow(4, "d"), nil)
	require.NoError(t, err)

	rows := scan(t, ot)
	require.Len(t, rows, 4)
	for i, want := range []int64{1, 2, 3, 4} {
		require.Equal(t, want, rows[i][0].Int())
	}
}

func TestOverlayTable_CommitFlushesInPKOrder(t *testing.T) {
	base := newFakeBase()
	ot := NewOverlayTable(base, testSchema())
	ctx := context.Background()

	require.NoError(t, ot.Begin(ctx))
	for _, id := range []int64{3, 1, 2} {
		_, err := ot.Update(ctx, sql.OpInsert, trow(id, "x"), nil)
		require.NoError(t, err)
	}
	require.NoError(t, ot.Commit(ctx))
	require.Len(t, base.rows, 3)

	rows := scan(t, ot)
	require.Len(t, rows, 3, "overlay empty after commit, base authoritative")
}

func TestOverlayTable_RollbackDiscardsOverlay(t *testing.T) {
	base := newFakeBase()
	base.rows[1] = trow(1, "a")
	ot := NewOverlayTable(base, testSchema())
	ctx := context.Background()

	require.NoError(t, ot.Begin(ctx))
	_, err := ot.Update(ctx, sql.OpInsert, trow(2, "b"), nil)
	require.NoError(t, err)
	require.NoError(t, ot.Rollback(ctx))

	rows := scan(t, ot)
	require.Len(t, rows, 1)
	require.Len(t, base.rows, 1)
}

func TestOverlayTable_SavepointRollbackKeepsEarlierWrites(t *testing.T) {
	base := newFakeBase()
	ot := NewOverlayTable(base, testSchema())
	ctx := context.Background()

	require.NoError(t, ot.Begin(ctx))
	_, err := ot.Update(ctx, sql.OpInsert, trow(1, "x"), nil)
	require.NoError(t, err)
	require.NoError(t, ot.CreateSavepoint(ctx, 0))
	_, err = ot.Update(ctx, sql.OpInsert, trow(2, "y"), nil)
	require.NoError(t, err)
	require.NoError(t, ot.RollbackToSavepoint(ctx, 0))

	rows := scan(t, ot)
	require.Len(t, rows, 1)
	require.Equal(t, int64(1), rows[0][0].Int())

	// The savepoint stays usable after a rollback.
	_, err = ot.Update(ctx, sql.OpInsert, trow(3, "z"), nil)
	require.NoError(t, err)
	require.NoError(t, ot.RollbackToSavepoint(ctx, 0))
	rows = scan(t, ot)
	require.Len(t, rows, 1)

	require.NoError(t, ot.Commit(ctx))
	require.Len(t, base.rows, 1)
}
