package boltkv

import (
	"gopkg.in/vmihailenco/msgpack.v2"

	"github.com/quereus/quereus/qerr"
	"github.com/quereus/quereus/sql"
)

// wireValue is the msgpack-serializable shape of sql.Value, whose own
// fields are private. Only one of I/F/S/B is meaningful per T.
type wireValue struct {
	T int8
	I int64
	F float64
	S string
	B []byte
}

func toWire(v sql.Value) wireValue {
	w := wireValue{T: int8(v.Type())}
	switch v.Type() {
	case sql.INTEGER, sql.BOOLEAN:
		w.I = v.Int()
	case sql.REAL:
		w.F = v.Float()
	case sql.TEXT:
		w.S = v.Text()
	case sql.BLOB:
		w.B = v.Bytes()
	}
	return w
}

func fromWire(w wireValue) sql.Value {
	switch sql.Type(w.T) {
	case sql.INTEGER:
		return sql.IntValue(w.I)
	case sql.BOOLEAN:
		return sql.BoolValue(w.I != 0)
	case sql.REAL:
		return sql.RealValue(w.F)
	case sql.TEXT:
		return sql.TextValue(w.S)
	case sql.BLOB:
		return sql.BlobValue(w.B)
	default:
		return sql.NullValue
	}
}

func encodeRow(row sql.Row) ([]byte, error) {
	wire := make([]wireValue, len(row))
	for i, v := range row {
		wire[i] = toWire(v)
	}
	data, err := msgpack.Marshal(wire)
	if err != nil {
		return nil, qerr.Wrap(qerr.INTERNAL, err, "encoding row")
	}
	return data, nil
}

func decodeRow(data []byte) (sql.Row, error) {
	var wire []wireValue
	if err := msgpack.Unmarshal(data, &wire); err != nil {
		return nil, qerr.Wrap(qerr.INTERNAL, err, "decoding row")
	}
	row := make(sql.Row, len(wire))
	for i, w := range wire {
		row[i] = fromWire(w)
	}
	return row, nil
}
