package driver

import (
	"context"
	"database/sql/driver"
	"io"

	"github.com/quereus/quereus/sql"
)

// Rows adapts a sql.RowIter to driver.Rows, converting each engine Value
// to its native Go representation per column type.
type Rows struct {
	ctx  context.Context
	iter sql.RowIter
	cols []string
}

var _ driver.Rows = (*Rows)(nil)

// Columns returns the names of the columns.
func (r *Rows) Columns() []string { return r.cols }

// Close closes the underlying row stream.
func (r *Rows) Close() error { return r.iter.Close(r.ctx) }

// Next populates dest with the next row of data.
func (r *Rows) Next(dest []driver.Value) error {
	row, err := r.iter.Next(r.ctx)
	if err == io.EOF {
		return io.EOF
	}
	if err != nil {
		return err
	}
	for i := range dest {
		if i >= len(row) {
			dest[i] = nil
			continue
		}
		dest[i] = convertValue(row[i])
	}
	return nil
}

func convertValue(v sql.Value) driver.Value {
	switch v.Type() {
	case sql.NULL:
		return nil
	case sql.INTEGER, sql.BOOLEAN:
		return v.Int()
	case sql.REAL:
		return v.Float()
	case sql.TEXT:
		return v.Text()
	case sql.BLOB:
		return v.Bytes()
	default:
		return nil
	}
}
