package boltkv

import (
	"encoding/binary"
	"math"

	"github.com/quereus/quereus/sql"
)

// encodeKey produces an order-preserving byte encoding of a primary-key
// tuple, so bolt's natural lexicographic bucket order matches SQL row
// order. Each column is encoded
// by a fixed-width, sign-corrected representation for numeric types and a
// zero-terminated byte string for TEXT/BLOB.
func encodeKey(values sql.Row) []byte {
	var out []byte
	for _, v := range values {
		out = append(out, encodeKeyColumn(v)...)
	}
	return out
}

func encodeKeyColumn(v sql.Value) []byte {
	switch v.Type() {
	case sql.NULL:
		return []byte{0xFF}
	case sql.INTEGER, sql.BOOLEAN:
		buf := make([]byte, 9)
		buf[0] = 0x01
		binary.BigEndian.PutUint64(buf[1:], uint64(v.Int())^(1<<63))
		return buf
	case sql.REAL:
		buf := make([]byte, 9)
		buf[0] = 0x02
		bits := math.Float64bits(v.Float())
		if v.Float() >= 0 {
			bits |= 1 << 63
		} else {
			bits = ^bits
		}
		binary.BigEndian.PutUint64(buf[1:], bits)
		return buf
	default:
		// TEXT/BLOB: tag + escaped bytes + terminator. 0x00 bytes within the
		// value are escaped as 0x00 0x01 so the 0x00 0x00 terminator stays
		// unambiguous.
		raw := v.Bytes()
		out := make([]byte, 0, len(raw)+2)
		out = append(out, 0x03)
		for _, b := range raw {
			if b == 0x00 {
				out = append(out, 0x00, 0x01)
			} else {
				out = append(out, b)
			}
		}
		out = append(out, 0x00, 0x00)
		return out
	}
}
