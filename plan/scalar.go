package plan

import (
	"fmt"

	"github.com/quereus/quereus/sql"
)

// Literal is a constant scalar value.
type Literal struct {
	base
	NoChildren
	Value sql.Value
}

func NewLiteral(v sql.Value) *Literal {
	return &Literal{Value: v}
}

func (l *Literal) ScalarType() (sql.Type, bool) { return l.Value.Type(), l.Value.IsNull() }
func (l *Literal) String() string               { return l.Value.String() }

// ColumnReference resolves to an attribute produced by some RelationalNode.
// Scalar nodes referencing a column must only be evaluated
// in a runtime context with a registered row slot for Attr.Producer.
type ColumnReference struct {
	base
	NoChildren
	Attr *Attribute
}

func NewColumnReference(scope *Scope, attr *Attribute) *ColumnReference {
	return &ColumnReference{base: base{scope: scope}, Attr: attr}
}

func (c *ColumnReference) ScalarType() (sql.Type, bool) { return c.Attr.Type, c.Attr.Nullable }
func (c *ColumnReference) String() string               { return c.Attr.Name }

// BinaryOp applies a binary operator to Left and Right.
// Affinity propagation (INTEGER+REAL->REAL, concatenation->TEXT,
// comparisons->INTEGER{0,1,NULL}) lives in sql.ResultType/IsComparisonOp.
type BinaryOp struct {
	base
	Op          string
	Left, Right ScalarNode
}

func NewBinaryOp(op string, left, right ScalarNode) *BinaryOp {
	return &BinaryOp{Op: op, Left: left, Right: right}
}

func (b *BinaryOp) Children() []Node { return []Node{b.Left, b.Right} }
func (b *BinaryOp) ScalarType() (sql.Type, bool) {
	lt, ln := b.Left.ScalarType()
	rt, rn := b.Right.ScalarType()
	if sql.IsComparisonOp(b.Op) {
		return sql.INTEGER, ln || rn
	}
	return sql.ResultType(b.Op, lt, rt), ln || rn
}
func (b *BinaryOp) String() string { return fmt.Sprintf("(%s %s %s)", b.Left, b.Op, b.Right) }

// UnaryOp applies a unary operator (e.g. NOT, -) to Operand.
type UnaryOp struct {
	base
	Op      string
	Operand ScalarNode
}

func NewUnaryOp(op string, operand ScalarNode) *UnaryOp { return &UnaryOp{Op: op, Operand: operand} }

func (u *UnaryOp) Children() []Node { return []Node{u.Operand} }
func (u *UnaryOp) ScalarType() (sql.Type, bool) {
	t, n := u.Operand.ScalarType()
	if u.Op == "NOT" {
		return sql.INTEGER, n
	}
	return t, n
}
func (u *UnaryOp) String() string { return fmt.Sprintf("(%s %s)", u.Op, u.Operand) }

// ScalarFunctionCall invokes a registered scalar function by name.
type ScalarFunctionCall struct {
	base
	Schema *sql.FunctionSchema
	Args   []ScalarNode
}

func NewScalarFunctionCall(schema *sql.FunctionSchema, args []ScalarNode) *ScalarFunctionCall {
	return &ScalarFunctionCall{Schema: schema, Args: args}
}

func (f *ScalarFunctionCall) Children() []Node {
	out := make([]Node, len(f.Args))
	for i, a := range f.Args {
		out[i] = a
	}
	return out
}
func (f *ScalarFunctionCall) ScalarType() (sql.Type, bool) {
	argTypes := make([]sql.Type, len(f.Args))
	argNullable := make([]bool, len(f.Args))
	for i, a := range f.Args {
		t, n := a.ScalarType()
		argTypes[i] = t
		argNullable[i] = n
	}
	nullable := inferCallNullability(f.Schema.Name, argNullable)
	if f.Schema.ReturnType != nil {
		return f.Schema.ReturnType(argTypes), nullable
	}
	return sql.TEXT, nullable
}
func (f *ScalarFunctionCall) String() string { return f.Schema.Name + "(...)" }

// WindowFunctionCall computes a value across a window partition. The
// emitter keeps accumulator state in a map keyed by PartitionBy's
// evaluated tuple, so rows of one partition need not arrive contiguously
// and no Sort is required beneath it; a flat counter is used only when
// PartitionBy is empty.
type WindowFunctionCall struct {
	base
	FuncName    string
	Arg         ScalarNode // nil for row_number()
	PartitionBy []ScalarNode
	OrderBy     []SortKey
}

func NewWindowFunctionCall(name string, arg ScalarNode, partitionBy []ScalarNode, orderBy []SortKey) *WindowFunctionCall {
	return &WindowFunctionCall{FuncName: name, Arg: arg, PartitionBy: partitionBy, OrderBy: orderBy}
}

func (w *WindowFunctionCall) Children() []Node {
	var out []Node
	if w.Arg != nil {
		out = append(out, w.Arg)
	}
	for _, p := range w.PartitionBy {
		out = append(out, p)
	}
	for _, k := range w.OrderBy {
		out = append(out, k.Expr)
	}
	return out
}
func (w *WindowFunctionCall) ScalarType() (sql.Type, bool) { return sql.INTEGER, false }
func (w *WindowFunctionCall) String() string               { return w.FuncName + "() OVER (...)" }

// CaseBranch is one WHEN/THEN pair of a Case expression.
type CaseBranch struct {
	When ScalarNode
	Then ScalarNode
}

// Case implements CASE WHEN...THEN...ELSE. Its nullability departs from
// any-null-implies-null: a Case is only null if every branch
// (including Else) could be null, not merely because some WHEN is null.
type Case struct {
	base
	Operand  ScalarNode // nil for searched CASE
	Branches []CaseBranch
	Else     ScalarNode // nil means implicit NULL
}

func NewCase(operand ScalarNode, branches []CaseBranch, elseExpr ScalarNode) *Case {
	return &Case{Operand: operand, Branches: branches, Else: elseExpr}
}

func (c *Case) Children() []Node {
	var out []Node
	if c.Operand != nil {
		out = append(out, c.Operand)
	}
	for _, b := range c.Branches {
		out = append(out, b.When, b.Then)
	}
	if c.Else != nil {
		out = append(out, c.Else)
	}
	return out
}
func (c *Case) ScalarType() (sql.Type, bool) {
	var t sql.Type
	nullable := true
	for i, b := range c.Branches {
		bt, bn := b.Then.ScalarType()
		if i == 0 {
			t = bt
		} else {
			t = sql.ResultType("", t, bt)
		}
		nullable = nullable && bn
	}
	if c.Else != nil {
		_, en := c.Else.ScalarType()
		nullable = nullable && en
	}
	return t, nullable
}
func (c *Case) String() string { return "CASE...END" }

// Cast converts Operand to TargetType, raising MISMATCH at runtime on
// failure.
type Cast struct {
	base
	Operand    ScalarNode
	TargetType sql.Type
}

func NewCast(operand ScalarNode, target sql.Type) *Cast { return &Cast{Operand: operand, TargetType: target} }

func (c *Cast) Children() []Node { return []Node{c.Operand} }
func (c *Cast) ScalarType() (sql.Type, bool) {
	_, n := c.Operand.ScalarType()
	return c.TargetType, n
}
func (c *Cast) String() string { return fmt.Sprintf("CAST(%s AS %s)", c.Operand, c.TargetType) }

// Collate overrides the collation used to compare/order Operand.
type Collate struct {
	base
	Operand   ScalarNode
	Collation sql.Collation
}

func NewCollate(operand ScalarNode, collation sql.Collation) *Collate {
	return &Collate{Operand: operand, Collation: collation}
}

func (c *Collate) Children() []Node                 { return []Node{c.Operand} }
func (c *Collate) ScalarType() (sql.Type, bool)      { return c.Operand.ScalarType() }
func (c *Collate) String() string                    { return fmt.Sprintf("%s COLLATE %s", c.Operand, c.Collation) }

// Parameter references a bound query parameter by its resolved slot:
// anonymous "?" numbered left-to-right from 1, named
// parameters keyed by their trimmed name.
type Parameter struct {
	base
	NoChildren
	Slot     int
	Name     string
	HintType sql.Type
}

func NewParameter(slot int, name string, hint sql.Type) *Parameter {
	return &Parameter{Slot: slot, Name: name, HintType: hint}
}

func (p *Parameter) ScalarType() (sql.Type, bool) { return p.HintType, true }
func (p *Parameter) String() string {
	if p.Name != "" {
		return ":" + p.Name
	}
	return "?"
}

// InSubquery tests whether Operand appears in the rows produced by
// Subquery's first column.
type InSubquery struct {
	base
	Operand  ScalarNode
	Subquery RelationalNode
	Negated  bool
}

func NewInSubquery(operand ScalarNode, subquery RelationalNode, negated bool) *InSubquery {
	return &InSubquery{Operand: operand, Subquery: subquery, Negated: negated}
}

func (i *InSubquery) Children() []Node            { return []Node{i.Operand, i.Subquery} }
func (i *InSubquery) ScalarType() (sql.Type, bool) { return sql.INTEGER, true }
func (i *InSubquery) String() string               { return fmt.Sprintf("%s IN (...)", i.Operand) }

// ExistsSubquery tests whether Subquery produces at least one row.
type ExistsSubquery struct {
	base
	Subquery RelationalNode
	Negated  bool
}

func NewExistsSubquery(subquery RelationalNode, negated bool) *ExistsSubquery {
	return &ExistsSubquery{Subquery: subquery, Negated: negated}
}

func (e *ExistsSubquery) Children() []Node            { return []Node{e.Subquery} }
func (e *ExistsSubquery) ScalarType() (sql.Type, bool) { return sql.INTEGER, false }
func (e *ExistsSubquery) String() string               { return "EXISTS(...)" }
