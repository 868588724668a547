package sql

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRow_CopyDoesNotAliasBackingArray(t *testing.T) {
	original := Row{IntValue(1), TextValue("a")}
	copied := original.Copy()
	copied[0] = IntValue(99)
	require.Equal(t, int64(1), original[0].Int())
	require.Equal(t, int64(99), copied[0].Int())
}

func TestExpandedRow_OldRowKeyValuesSurviveUntilExecutor(t *testing.T) {
	newRow := Row{IntValue(1), TextValue("A")}
	er := NewExpandedRow(newRow).WithOldRowKeyValues(Row{IntValue(1)})
	require.Equal(t, Row{IntValue(1)}, er.OldRowKeyValues)
	require.Equal(t, newRow, er.Row)
}

func TestExpandedRow_UpdateRowDataCarriesBothImages(t *testing.T) {
	oldRow := Row{IntValue(1), TextValue("a")}
	newRow := Row{IntValue(1), TextValue("A")}
	er := NewExpandedRow(newRow).WithUpdateRowData(oldRow, newRow)
	require.Equal(t, oldRow, er.UpdateRowData.OldRow)
	require.Equal(t, newRow, er.UpdateRowData.NewRow)
}
