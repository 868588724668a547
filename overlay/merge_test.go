package overlay

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quereus/quereus/sql"
)

// sliceSource adapts a plain []sql.Row to BaseSource for merge tests.
type sliceSource struct {
	rows []sql.Row
	idx  int
}

func (s *sliceSource) Next(ctx context.Context) (sql.Row, error) {
	if s.idx >= len(s.rows) {
		return nil, io.EOF
	}
	r := s.rows[s.idx]
	s.idx++
	return r, nil
}

func (s *sliceSource) Close(ctx context.Context) error { return nil }

// pkKey treats column 0 as the primary key, matching the row's natural
// sort order.
func pkKey(row sql.Row) (sql.Row, sql.Row) {
	return sql.Row{row[0]}, sql.Row{row[0]}
}

func drain(t *testing.T, it sql.RowIter) []sql.Row {
	t.Helper()
	var out []sql.Row
	for {
		row, err := it.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		out = append(out, row)
	}
	require.NoError(t, it.Close(context.Background()))
	return out
}

func intRows(ids ...int64) []sql.Row {
	out := make([]sql.Row, len(ids))
	for i, id := range ids {
		out[i] = sql.Row{sql.IntValue(id), sql.TextValue("base")}
	}
	return out
}

func TestMerge_BaseOnly(t *testing.T) {
	base := &sliceSource{rows: intRows(1, 2, 3)}
	out := drain(t, Merge(base, pkKey, nil, sql.CollationBinary))
	require.Len(t, out, 3)
	for i, row := range out {
		require.Equal(t, int64(i+1), row[0].Int())
	}
}

func TestMerge_OverlayInsertInterleaved(t *testing.T) {
	base := &sliceSource{rows: intRows(1, 3, 5)}
	overlay := []*MergeEntry{
		{Row: sql.Row{sql.IntValue(2), sql.TextValue("new")}, PK: sql.Row{sql.IntValue(2)}, SortKey: sql.Row{sql.IntValue(2)}},
		{Row: sql.Row{sql.IntValue(4), sql.TextValue("new")}, PK: sql.Row{sql.IntValue(4)}, SortKey: sql.Row{sql.IntValue(4)}},
	}
	out := drain(t, Merge(base, pkKey, overlay, sql.CollationBinary))
	var ids []int64
	for _, r := range out {
		ids = append(ids, r[0].Int())
	}
	require.Equal(t, []int64{1, 2, 3, 4, 5}, ids)
	// overlay row at PK 2 must win over any would-be base row there.
	require.Equal(t, "new", out[1][1].Text())
}

func TestMerge_OverlayUpdateWinsOnPKMatch(t *testing.T) {
	base := &sliceSource{rows: intRows(1, 2, 3)}
	overlay := []*MergeEntry{
		{Row: sql.Row{sql.IntValue(2), sql.TextValue("updated")}, PK: sql.Row{sql.IntValue(2)}, SortKey: sql.Row{sql.IntValue(2)}},
	}
	out := drain(t, Merge(base, pkKey, overlay, sql.CollationBinary))
	require.Len(t, out, 3)
	require.Equal(t, "updated", out[1][1].Text())
}

func TestMerge_TombstoneSuppressesBaseRow(t *testing.T) {
	base := &sliceSource{rows: intRows(1, 2, 3)}
	overlay := []*MergeEntry{
		{Tombstone: true, PK: sql.Row{sql.IntValue(2)}, SortKey: sql.Row{sql.IntValue(2)}},
	}
	out := drain(t, Merge(base, pkKey, overlay, sql.CollationBinary))
	var ids []int64
	for _, r := range out {
		ids = append(ids, r[0].Int())
	}
	require.Equal(t, []int64{1, 3}, ids)
}

func TestMerge_TrailingOverlayAfterBaseExhausted(t *testing.T) {
	base := &sliceSource{rows: intRows(1)}
	overlay := []*MergeEntry{
		{Row: sql.Row{sql.IntValue(2), sql.TextValue("new")}, PK: sql.Row{sql.IntValue(2)}, SortKey: sql.Row{sql.IntValue(2)}},
		{Tombstone: true, PK: sql.Row{sql.IntValue(3)}, SortKey: sql.Row{sql.IntValue(3)}},
	}
	out := drain(t, Merge(base, pkKey, overlay, sql.CollationBinary))
	require.Len(t, out, 2)
	require.Equal(t, int64(1), out[0][0].Int())
	require.Equal(t, int64(2), out[1][0].Int())
}

func TestMerge_NoDuplicatePKAndSorted(t *testing.T) {
	base := &sliceSource{rows: intRows(1, 2, 4, 5)}
	overlay := []*MergeEntry{
		{Row: sql.Row{sql.IntValue(2), sql.TextValue("new")}, PK: sql.Row{sql.IntValue(2)}, SortKey: sql.Row{sql.IntValue(2)}},
		{Row: sql.Row{sql.IntValue(3), sql.TextValue("new")}, PK: sql.Row{sql.IntValue(3)}, SortKey: sql.Row{sql.IntValue(3)}},
	}
	out := drain(t, Merge(base, pkKey, overlay, sql.CollationBinary))
	seen := map[int64]bool{}
	var prev int64 = -1
	for _, r := range out {
		id := r[0].Int()
		require.False(t, seen[id], "duplicate PK %d in merge output", id)
		seen[id] = true
		require.True(t, id >= prev)
		prev = id
	}
	require.Len(t, out, 5)
}
