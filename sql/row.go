package sql

// Row is an ordered sequence of Values indexed 0..n-1.
type Row []Value

// Copy returns a shallow copy of the row, used whenever a row crosses an
// overlay/slot boundary and must not alias a mutable backing array.
func (r Row) Copy() Row {
	out := make(Row, len(r))
	copy(out, r)
	return out
}

// ExpandedRow carries sidecar metadata alongside the positional columns of
// Row, never as additional columns: __oldRowKeyValues for UPDATE and
// __updateRowData for constraint checks.
type ExpandedRow struct {
	Row
	// OldRowKeyValues holds the primary-key Values of the row being updated
	// or deleted, captured before any rewrite and carried into the executor.
	OldRowKeyValues Row
	// UpdateRowData holds both the pre- and post-image when a
	// ConstraintCheck needs to compare them (e.g. CHECK constraints that
	// reference OLD/NEW).
	UpdateRowData *UpdateRowData
}

// UpdateRowData is the {oldRow, newRow} pair sidecar for constraint checks.
type UpdateRowData struct {
	OldRow Row
	NewRow Row
}

// NewExpandedRow wraps row with no sidecar metadata.
func NewExpandedRow(row Row) *ExpandedRow {
	return &ExpandedRow{Row: row}
}

// WithOldRowKeyValues attaches the primary-key values of the row being
// replaced, for UPDATE/DELETE.
func (e *ExpandedRow) WithOldRowKeyValues(keys Row) *ExpandedRow {
	e.OldRowKeyValues = keys
	return e
}

// WithUpdateRowData attaches the old/new pair for constraint evaluation.
func (e *ExpandedRow) WithUpdateRowData(oldRow, newRow Row) *ExpandedRow {
	e.UpdateRowData = &UpdateRowData{OldRow: oldRow, NewRow: newRow}
	return e
}
