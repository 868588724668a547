package overlay

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quereus/quereus/sql"
)

func pk(id int64) sql.Row { return sql.Row{sql.IntValue(id)} }

func TestOverlay_ReadYourWrites(t *testing.T) {
	o := New(sql.CollationBinary)
	o.Begin()
	o.Put(pk(1), pk(1), sql.Row{sql.IntValue(1), sql.TextValue("a")})
	entries := o.Entries()
	require.Len(t, entries, 1)
	require.False(t, entries[0].Tombstone)
	require.Equal(t, "a", entries[0].Row[1].Text())
}

func TestOverlay_DeleteThenScanSuppressesRow(t *testing.T) {
	o := New(sql.CollationBinary)
	o.Begin()
	o.Put(pk(1), pk(1), sql.Row{sql.IntValue(1), sql.TextValue("a")})
	o.Delete(pk(1), pk(1))
	entries := o.Entries()
	require.Len(t, entries, 1)
	require.True(t, entries[0].Tombstone)
}

func TestOverlay_UpdateThenScanYieldsNewValueOnce(t *testing.T) {
	o := New(sql.CollationBinary)
	o.Begin()
	o.Put(pk(1), pk(1), sql.Row{sql.IntValue(1), sql.TextValue("a")})
	o.Put(pk(1), pk(1), sql.Row{sql.IntValue(1), sql.TextValue("b")})
	entries := o.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, "b", entries[0].Row[1].Text())
}

func TestOverlay_EndClearsBetweenTransactions(t *testing.T) {
	o := New(sql.CollationBinary)
	o.Begin()
	o.Put(pk(1), pk(1), sql.Row{sql.IntValue(1)})
	o.End()
	require.False(t, o.Active())
	require.Empty(t, o.Entries())
}

// TestOverlay_SavepointRollbackIsolation exercises the savepoint-
// nesting scenario: BEGIN; SP a; mutate; SP b; mutate; ROLLBACK TO a; COMMIT
// must read back as if only the pre-savepoint-a writes happened.
func TestOverlay_SavepointRollbackIsolation(t *testing.T) {
	o := New(sql.CollationBinary)
	o.Begin()
	o.Put(pk(1), pk(1), sql.Row{sql.IntValue(1), sql.TextValue("x")})
	depthA := o.SavepointDepth()
	o.CreateSavepoint()
	o.Put(pk(2), pk(2), sql.Row{sql.IntValue(2), sql.TextValue("y")})
	o.CreateSavepoint()
	o.Put(pk(3), pk(3), sql.Row{sql.IntValue(3), sql.TextValue("z")})

	o.RollbackToSavepoint(depthA)

	entries := o.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, int64(1), entries[0].PK[0].Int())
}

func TestOverlay_ReleaseSavepointMergesIntoParent(t *testing.T) {
	o := New(sql.CollationBinary)
	o.Begin()
	base := o.SavepointDepth()
	o.CreateSavepoint()
	o.Put(pk(1), pk(1), sql.Row{sql.IntValue(1)})
	o.ReleaseSavepoint(base)
	require.Equal(t, base, o.SavepointDepth())
	require.Len(t, o.Entries(), 1)
}

func TestCompareSortKey_OrdersLexicographicallyWithPKTiebreak(t *testing.T) {
	a := sql.Row{sql.IntValue(1), sql.IntValue(5)}
	b := sql.Row{sql.IntValue(1), sql.IntValue(6)}
	require.True(t, CompareSortKey(a, b, sql.CollationBinary) < 0)
	require.True(t, CompareSortKey(b, a, sql.CollationBinary) > 0)
	require.Equal(t, 0, CompareSortKey(a, a, sql.CollationBinary))
}
