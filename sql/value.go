// Package sql defines the value/row model, the schema catalog
// (C2), and the virtual-table interfaces.
package sql

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"github.com/quereus/quereus/qerr"
)

// Type is the scalar type tag of a Value.
type Type int

const (
	NULL Type = iota
	INTEGER
	REAL
	TEXT
	BLOB
	BOOLEAN
)

func (t Type) String() string {
	switch t {
	case NULL:
		return "NULL"
	case INTEGER:
		return "INTEGER"
	case REAL:
		return "REAL"
	case TEXT:
		return "TEXT"
	case BLOB:
		return "BLOB"
	case BOOLEAN:
		return "BOOLEAN"
	default:
		return "UNKNOWN"
	}
}

// Value is the tagged union of SQL scalar types. Boolean is
// carried distinctly for display purposes but compares/orders as 0/1.
type Value struct {
	typ Type
	i   int64
	f   float64
	s   string
	b   []byte
}

// NullValue is the singleton-shaped null, analogous to plan.SingleRow being
// the FROM-less singleton relation: every NULL Value is interchangeable.
var NullValue = Value{typ: NULL}

func IntValue(v int64) Value    { return Value{typ: INTEGER, i: v} }
func RealValue(v float64) Value { return Value{typ: REAL, f: v} }
func TextValue(v string) Value  { return Value{typ: TEXT, s: v} }
func BlobValue(v []byte) Value  { return Value{typ: BLOB, b: v} }
func BoolValue(v bool) Value {
	if v {
		return Value{typ: BOOLEAN, i: 1}
	}
	return Value{typ: BOOLEAN, i: 0}
}

func (v Value) Type() Type  { return v.typ }
func (v Value) IsNull() bool { return v.typ == NULL }

func (v Value) Int() int64 {
	switch v.typ {
	case INTEGER, BOOLEAN:
		return v.i
	case REAL:
		return int64(v.f)
	default:
		return 0
	}
}

func (v Value) Float() float64 {
	switch v.typ {
	case REAL:
		return v.f
	case INTEGER, BOOLEAN:
		return float64(v.i)
	default:
		return 0
	}
}

func (v Value) Bool() bool {
	switch v.typ {
	case BOOLEAN, INTEGER:
		return v.i != 0
	case REAL:
		return v.f != 0
	case TEXT:
		return v.s != ""
	default:
		return false
	}
}

func (v Value) Text() string {
	switch v.typ {
	case TEXT:
		return v.s
	case NULL:
		return ""
	case INTEGER, BOOLEAN:
		return fmt.Sprintf("%d", v.i)
	case REAL:
		return fmt.Sprintf("%v", v.f)
	case BLOB:
		return string(v.b)
	default:
		return ""
	}
}

func (v Value) Bytes() []byte {
	if v.typ == BLOB {
		return v.b
	}
	return []byte(v.Text())
}

func (v Value) String() string {
	if v.IsNull() {
		return "NULL"
	}
	return v.Text()
}

// ConvertTo applies the affinity/cast rules, using github.com/spf13/cast
// for best-effort numeric/text coercion.
func (v Value) ConvertTo(t Type) (Value, error) {
	if v.IsNull() {
		return NullValue, nil
	}
	switch t {
	case INTEGER:
		i, err := cast.ToInt64E(v.asAny())
		if err != nil {
			return Value{}, qerr.New(qerr.MISMATCH, "cannot convert %s to INTEGER: %v", v, err)
		}
		return IntValue(i), nil
	case REAL:
		f, err := cast.ToFloat64E(v.asAny())
		if err != nil {
			return Value{}, qerr.New(qerr.MISMATCH, "cannot convert %s to REAL: %v", v, err)
		}
		return RealValue(f), nil
	case TEXT:
		return TextValue(v.Text()), nil
	case BLOB:
		return BlobValue(v.Bytes()), nil
	case BOOLEAN:
		return BoolValue(v.Bool()), nil
	default:
		return Value{}, qerr.New(qerr.MISMATCH, "unknown target type %v", t)
	}
}

func (v Value) asAny() interface{} {
	switch v.typ {
	case INTEGER, BOOLEAN:
		return v.i
	case REAL:
		return v.f
	case TEXT:
		return v.s
	case BLOB:
		return v.b
	default:
		return nil
	}
}

// ValueOf converts a native Go value into a Value, used at the parameter
// binding boundary: Database callers and the database/sql
// driver hand over plain Go scalars.
func ValueOf(v interface{}) (Value, error) {
	switch x := v.(type) {
	case nil:
		return NullValue, nil
	case Value:
		return x, nil
	case bool:
		return BoolValue(x), nil
	case int:
		return IntValue(int64(x)), nil
	case int32:
		return IntValue(int64(x)), nil
	case int64:
		return IntValue(x), nil
	case uint:
		return IntValue(int64(x)), nil
	case uint64:
		return IntValue(int64(x)), nil
	case float32:
		return RealValue(float64(x)), nil
	case float64:
		return RealValue(x), nil
	case string:
		return TextValue(x), nil
	case []byte:
		return BlobValue(x), nil
	default:
		i, err := cast.ToInt64E(v)
		if err == nil {
			return IntValue(i), nil
		}
		return Value{}, qerr.New(qerr.MISMATCH, "cannot bind value of type %T", v)
	}
}

// ResultType computes the type a binary arithmetic/concat operator should
// produce from its operand types, per the affinity propagation rules:
// INTEGER + REAL -> REAL; concatenation -> TEXT.
func ResultType(op string, l, r Type) Type {
	if op == "||" {
		return TEXT
	}
	switch {
	case l == TEXT || r == TEXT:
		return TEXT
	case l == REAL || r == REAL:
		return REAL
	default:
		return INTEGER
	}
}

// IsComparisonOp reports whether op always yields INTEGER {0,1,NULL}.
func IsComparisonOp(op string) bool {
	switch op {
	case "=", "!=", "<>", "<", "<=", ">", ">=":
		return true
	default:
		return false
	}
}

// Collation orders TEXT values. Binary is the default.
type Collation int

const (
	CollationBinary Collation = iota
	CollationNoCase
)

func (c Collation) String() string {
	if c == CollationNoCase {
		return "NOCASE"
	}
	return "BINARY"
}

// Compare orders two Values using SQL total-order rules: NULL sorts before
// any non-null value; otherwise compares within/between numeric and text
// domains. Used by Sort, index scans, and the merge iterator's
// compareSortKey.
func Compare(a, b Value, coll Collation) int {
	if a.IsNull() && b.IsNull() {
		return 0
	}
	if a.IsNull() {
		return -1
	}
	if b.IsNull() {
		return 1
	}
	if isNumeric(a.typ) && isNumeric(b.typ) {
		af, bf := a.Float(), b.Float()
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, bs := a.Text(), b.Text()
	if coll == CollationNoCase {
		as, bs = strings.ToLower(as), strings.ToLower(bs)
	}
	return strings.Compare(as, bs)
}

func isNumeric(t Type) bool { return t == INTEGER || t == REAL || t == BOOLEAN }

// Equal implements SQL equality semantics for WHERE-clause predicates:
// NULL is never equal to anything, including itself.
func Equal(a, b Value) (Value, bool /* isNull */) {
	if a.IsNull() || b.IsNull() {
		return NullValue, true
	}
	return BoolValue(Compare(a, b, CollationBinary) == 0), false
}

// IsOperator implements the IS operator: unlike =, NULL IS NULL is true
// and is never itself NULL.
func IsOperator(a, b Value) Value {
	if a.IsNull() && b.IsNull() {
		return BoolValue(true)
	}
	if a.IsNull() != b.IsNull() {
		return BoolValue(false)
	}
	return BoolValue(Compare(a, b, CollationBinary) == 0)
}
