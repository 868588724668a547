package plan

import (
	"fmt"
	"strings"

	"github.com/quereus/quereus/sql"
)

// SingleRow is the global singleton FROM-less SELECT source: yields exactly
// one row of width 0. Modeled as a process-init constant.
type singleRow struct {
	base
	NoChildren
}

var singleRowScope = NewGlobalScope(nil)

// SingleRow is the shared singleton instance; every FROM-less SELECT in
// every statement references the same value.
var SingleRow RelationalNode = &singleRow{base: base{scope: singleRowScope, cost: 0}}

func (*singleRow) RelAttributes() []*Attribute        { return nil }
func (*singleRow) RelType() *RelationType             { return &RelationType{} }
func (*singleRow) EstimatedRows() (int64, bool)       { return 1, true }
func (*singleRow) String() string                     { return "SingleRow" }

// Values is a literal row-set source, e.g. the VALUES clause of an INSERT
// or a bare `VALUES (1),(2)` statement.
type Values struct {
	base
	Rows       [][]ScalarNode
	attributes []*Attribute
	relType    *RelationType
}

func NewValues(scope *Scope, rows [][]ScalarNode, columnNames []string) (*Values, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("plan: VALUES requires at least one row")
	}
	width := len(rows[0])
	cols := make([]sql.Column, width)
	attrs := make([]*Attribute, width)
	v := &Values{base: base{scope: scope, cost: float64(len(rows))}, Rows: rows}
	for i := 0; i < width; i++ {
		t, nullable := rows[0][i].ScalarType()
		for _, r := range rows {
			if len(r) != width {
				return nil, fmt.Errorf("plan: VALUES rows have mismatched width")
			}
			rt, rn := r[i].ScalarType()
			t = sql.ResultType("", t, rt)
			nullable = nullable || rn
		}
		name := fmt.Sprintf("column%d", i+1)
		if columnNames != nil && i < len(columnNames) && columnNames[i] != "" {
			name = columnNames[i]
		}
		cols[i] = sql.Column{Name: name, Type: t, Nullable: nullable}
		attrs[i] = NewAttribute(name, t, nullable, v)
	}
	v.attributes = attrs
	v.relType = &RelationType{Columns: cols}
	return v, nil
}

func (v *Values) Children() []Node {
	out := make([]Node, 0, len(v.Rows)*len(v.Rows[0]))
	for _, row := range v.Rows {
		for _, s := range row {
			out = append(out, s)
		}
	}
	return out
}
func (v *Values) RelAttributes() []*Attribute  { return v.attributes }
func (v *Values) RelType() *RelationType       { return v.relType }
func (v *Values) EstimatedRows() (int64, bool) { return int64(len(v.Rows)), true }
func (v *Values) String() string               { return fmt.Sprintf("Values(%d rows)", len(v.Rows)) }

// TableReference names a base table at the scope resolution level, prior
// to wrapping.
type TableReference struct {
	base
	NoChildren
	SchemaName string
	TableName  string
	Alias      string
	Schema     *sql.TableSchema
	attributes []*Attribute
}

func NewTableReference(scope *Scope, schemaName, tableName, alias string, schema *sql.TableSchema) *TableReference {
	t := &TableReference{base: base{scope: scope}, SchemaName: schemaName, TableName: tableName, Alias: alias, Schema: schema}
	attrs := make([]*Attribute, len(schema.Columns))
	for i, c := range schema.Columns {
		attrs[i] = NewAttribute(c.Name, c.Type, c.Nullable, t)
	}
	t.attributes = attrs
	return t
}

func (t *TableReference) RelAttributes() []*Attribute { return t.attributes }
func (t *TableReference) RelType() *RelationType {
	return &RelationType{Columns: t.Schema.Columns, Keys: t.Schema.Keys, IsReadOnly: t.Schema.ReadOnly, RowConstraints: t.Schema.RowConstraints}
}
func (t *TableReference) EstimatedRows() (int64, bool) { return 0, false }
func (t *TableReference) String() string {
	if t.Alias != "" && t.Alias != t.TableName {
		return fmt.Sprintf("TableReference(%s.%s AS %s)", t.SchemaName, t.TableName, t.Alias)
	}
	return fmt.Sprintf("TableReference(%s.%s)", t.SchemaName, t.TableName)
}

// Retrieve is the boundary marker between vtab-internal execution and
// engine execution. Every base TableReference is
// immediately wrapped in one; the optimizer may later collapse nodes above
// it into the module's executePlan payload when Table.SupportsPushdown
// accepts the enclosing subtree.
type Retrieve struct {
	base
	Source *TableReference
	Module sql.Module
	Filter sql.FilterInfo
	// Pushdown, when non-nil, carries the accepted module context and the
	// original subtree as a fallback descriptor.
	Pushdown    *sql.RemoteQuerySupport
	PushedPlan  RelationalNode
}

func NewRetrieve(source *TableReference, module sql.Module) *Retrieve {
	return &Retrieve{base: base{scope: source.scope}, Source: source, Module: module}
}

func (r *Retrieve) Children() []Node             { return []Node{r.Source} }
func (r *Retrieve) RelAttributes() []*Attribute  { return r.Source.RelAttributes() }
func (r *Retrieve) RelType() *RelationType       { return r.Source.RelType() }
func (r *Retrieve) EstimatedRows() (int64, bool) { return r.Source.EstimatedRows() }
func (r *Retrieve) String() string               { return fmt.Sprintf("Retrieve(%s)", r.Source.String()) }

// Project computes a new attribute list from an input relation; output
// expressions may rewrite attribute identity.
type Project struct {
	base
	Input       RelationalNode
	Projections []ScalarNode
	Names       []string
	attributes  []*Attribute
	relType     *RelationType
}

func NewProject(input RelationalNode, projections []ScalarNode, names []string) (*Project, error) {
	if len(projections) != len(names) {
		return nil, fmt.Errorf("plan: Project names/projections length mismatch")
	}
	p := &Project{base: base{scope: input.Scope(), cost: input.EstimatedCost()}, Input: input, Projections: projections, Names: names}
	cols := make([]sql.Column, len(projections))
	attrs := make([]*Attribute, len(projections))
	for i, expr := range projections {
		t, nullable := expr.ScalarType()
		cols[i] = sql.Column{Name: names[i], Type: t, Nullable: nullable}
		// Projection idempotence: a bare column reference
		// passes its producing attribute through unchanged rather than
		// minting a new ID, so re-projecting the same column set is a
		// structural no-op.
		if cr, ok := expr.(*ColumnReference); ok {
			attrs[i] = cr.Attr
		} else {
			attrs[i] = NewAttribute(names[i], t, nullable, p)
		}
	}
	p.attributes = attrs
	p.relType = &RelationType{Columns: cols}
	return p, nil
}

func (p *Project) Children() []Node {
	out := make([]Node, 0, len(p.Projections)+1)
	out = append(out, p.Input)
	for _, e := range p.Projections {
		out = append(out, e)
	}
	return out
}
func (p *Project) RelAttributes() []*Attribute  { return p.attributes }
func (p *Project) RelType() *RelationType       { return p.relType }
func (p *Project) EstimatedRows() (int64, bool) { return p.Input.EstimatedRows() }
func (p *Project) String() string               { return fmt.Sprintf("Project(%s)", strings.Join(p.Names, ", ")) }

// Filter applies a scalar predicate row by row.
type Filter struct {
	base
	Input     RelationalNode
	Predicate ScalarNode
}

func NewFilter(input RelationalNode, predicate ScalarNode) *Filter {
	return &Filter{base: base{scope: input.Scope(), cost: input.EstimatedCost() * 1.1}, Input: input, Predicate: predicate}
}

func (f *Filter) Children() []Node             { return []Node{f.Input, f.Predicate} }
func (f *Filter) RelAttributes() []*Attribute  { return f.Input.RelAttributes() }
func (f *Filter) RelType() *RelationType       { return f.Input.RelType() }
func (f *Filter) EstimatedRows() (int64, bool) { return 0, false }
func (f *Filter) String() string               { return "Filter(" + f.Predicate.String() + ")" }

// AggregateFunc is one aggregate expression computed by Aggregate, e.g.
// count(*), sum(x).
type AggregateFunc struct {
	FuncName string
	Arg      ScalarNode // nil for count(*)
	Distinct bool
}

// Aggregate groups Input by GroupBy and computes Funcs per group. With no
// GroupBy terms it returns exactly one row.
type Aggregate struct {
	base
	Input      RelationalNode
	GroupBy    []ScalarNode
	Funcs      []AggregateFunc
	FuncNames  []string
	attributes []*Attribute
	relType    *RelationType
}

func NewAggregate(input RelationalNode, groupBy []ScalarNode, groupNames []string, funcs []AggregateFunc, funcNames []string) *Aggregate {
	a := &Aggregate{base: base{scope: input.Scope(), cost: input.EstimatedCost()}, Input: input, GroupBy: groupBy, Funcs: funcs, FuncNames: funcNames}
	cols := make([]sql.Column, 0, len(groupBy)+len(funcs))
	attrs := make([]*Attribute, 0, len(groupBy)+len(funcs))
	for i, g := range groupBy {
		t, nullable := g.ScalarType()
		name := groupNames[i]
		cols = append(cols, sql.Column{Name: name, Type: t, Nullable: nullable})
		attrs = append(attrs, NewAttribute(name, t, nullable, a))
	}
	for i, fn := range funcs {
		t := sql.INTEGER
		nullable := len(a.GroupBy) > 0
		if fn.Arg != nil {
			t, _ = fn.Arg.ScalarType()
		}
		cols = append(cols, sql.Column{Name: funcNames[i], Type: t, Nullable: nullable})
		attrs = append(attrs, NewAttribute(funcNames[i], t, nullable, a))
	}
	a.attributes = attrs
	// A GROUP BY's grouping columns form a key of the aggregate's output.
	var keys [][]int
	if len(groupBy) > 0 {
		k := make([]int, len(groupBy))
		for i := range groupBy {
			k[i] = i
		}
		keys = [][]int{k}
	}
	a.relType = &RelationType{Columns: cols, Keys: keys}
	return a
}

func (a *Aggregate) Children() []Node {
	out := []Node{a.Input}
	for _, g := range a.GroupBy {
		out = append(out, g)
	}
	for _, f := range a.Funcs {
		if f.Arg != nil {
			out = append(out, f.Arg)
		}
	}
	return out
}
func (a *Aggregate) RelAttributes() []*Attribute { return a.attributes }
func (a *Aggregate) RelType() *RelationType      { return a.relType }
func (a *Aggregate) EstimatedRows() (int64, bool) {
	if len(a.GroupBy) == 0 {
		return 1, true
	}
	return 0, false
}
func (a *Aggregate) String() string { return fmt.Sprintf("Aggregate(%d funcs)", len(a.Funcs)) }

// SortKey is one ORDER BY term.
type SortKey struct {
	Expr ScalarNode
	Desc bool
}

// Sort reorders Input, an explicit row-order node.
type Sort struct {
	base
	Input RelationalNode
	Keys  []SortKey
}

func NewSort(input RelationalNode, keys []SortKey) *Sort {
	return &Sort{base: base{scope: input.Scope(), cost: input.EstimatedCost() * 1.5}, Input: input, Keys: keys}
}

func (s *Sort) Children() []Node {
	out := []Node{s.Input}
	for _, k := range s.Keys {
		out = append(out, k.Expr)
	}
	return out
}
func (s *Sort) RelAttributes() []*Attribute  { return s.Input.RelAttributes() }
func (s *Sort) RelType() *RelationType       { return s.Input.RelType() }
func (s *Sort) EstimatedRows() (int64, bool) { return s.Input.EstimatedRows() }
func (s *Sort) String() string               { return fmt.Sprintf("Sort(%d keys)", len(s.Keys)) }

// LimitOffset bounds Input to at most Limit rows after skipping Offset.
type LimitOffset struct {
	base
	Input  RelationalNode
	Limit  ScalarNode // nil means unlimited
	Offset ScalarNode // nil means 0
}

func NewLimitOffset(input RelationalNode, limit, offset ScalarNode) *LimitOffset {
	return &LimitOffset{base: base{scope: input.Scope(), cost: input.EstimatedCost()}, Input: input, Limit: limit, Offset: offset}
}

func (l *LimitOffset) Children() []Node {
	out := []Node{l.Input}
	if l.Limit != nil {
		out = append(out, l.Limit)
	}
	if l.Offset != nil {
		out = append(out, l.Offset)
	}
	return out
}
func (l *LimitOffset) RelAttributes() []*Attribute { return l.Input.RelAttributes() }
func (l *LimitOffset) RelType() *RelationType      { return l.Input.RelType() }
func (l *LimitOffset) EstimatedRows() (int64, bool) {
	rows, ok := l.Input.EstimatedRows()
	if !ok {
		return 0, false
	}
	if lit, ok2 := l.Limit.(*Literal); ok2 && l.Limit != nil {
		if lit.Value.Int() < rows {
			return lit.Value.Int(), true
		}
	}
	return rows, true
}
func (l *LimitOffset) String() string { return "LimitOffset" }

// Distinct removes duplicate rows, keyed on all produced columns.
type Distinct struct {
	base
	Input RelationalNode
}

func NewDistinct(input RelationalNode) *Distinct {
	return &Distinct{base: base{scope: input.Scope(), cost: input.EstimatedCost() * 1.2}, Input: input}
}

func (d *Distinct) Children() []Node             { return []Node{d.Input} }
func (d *Distinct) RelAttributes() []*Attribute  { return d.Input.RelAttributes() }
func (d *Distinct) RelType() *RelationType       { return d.Input.RelType() }
func (d *Distinct) EstimatedRows() (int64, bool) { return 0, false }
func (d *Distinct) String() string               { return "Distinct" }

// JoinType enumerates the supported join kinds.
type JoinType int

const (
	InnerJoin JoinType = iota
	LeftJoin
	CrossJoin
)

func (j JoinType) String() string {
	switch j {
	case LeftJoin:
		return "LEFT"
	case CrossJoin:
		return "CROSS"
	default:
		return "INNER"
	}
}

// Join combines Left and Right rows matching Condition. Left
// joins pad unmatched left rows with NULLs, a case that overrides the
// "any-null implies null" nullability rule for right-side columns.
type Join struct {
	base
	Left, Right RelationalNode
	Kind        JoinType
	Condition   ScalarNode // nil for CrossJoin
	attributes  []*Attribute
	relType     *RelationType
}

func NewJoin(left, right RelationalNode, kind JoinType, condition ScalarNode) *Join {
	j := &Join{base: base{scope: left.Scope(), cost: left.EstimatedCost() * right.EstimatedCost()}, Left: left, Right: right, Kind: kind, Condition: condition}
	la, ra := left.RelAttributes(), right.RelAttributes()
	attrs := make([]*Attribute, 0, len(la)+len(ra))
	attrs = append(attrs, la...)
	attrs = append(attrs, ra...)
	j.attributes = attrs
	lt, rt := left.RelType(), right.RelType()
	cols := make([]sql.Column, 0, len(lt.Columns)+len(rt.Columns))
	cols = append(cols, lt.Columns...)
	for _, c := range rt.Columns {
		if kind == LeftJoin {
			c.Nullable = true // outer-join padding overrides any-null propagation
		}
		cols = append(cols, c)
	}
	j.relType = &RelationType{Columns: cols}
	return j
}

func (j *Join) Children() []Node {
	out := []Node{j.Left, j.Right}
	if j.Condition != nil {
		out = append(out, j.Condition)
	}
	return out
}
func (j *Join) RelAttributes() []*Attribute { return j.attributes }
func (j *Join) RelType() *RelationType      { return j.relType }
func (j *Join) EstimatedRows() (int64, bool) {
	lr, lok := j.Left.EstimatedRows()
	rr, rok := j.Right.EstimatedRows()
	if lok && rok {
		return lr * rr, true
	}
	return 0, false
}
func (j *Join) String() string { return fmt.Sprintf("%sJoin", j.Kind) }

// CTE is a named, possibly-recursive common table expression. Non-recursive
// CTEs hinting materialized=true are drained into a buffer when a reference
// runs; each reference is emitted separately and fills its own buffer, so
// the query is not shared across references. Recursive CTEs always stream.
type CTE struct {
	base
	Name            string
	Query           RelationalNode
	Recursive       bool
	Materialized    bool
}

func NewCTE(name string, query RelationalNode, recursive, materialized bool) *CTE {
	return &CTE{base: base{scope: query.Scope(), cost: query.EstimatedCost()}, Name: name, Query: query, Recursive: recursive, Materialized: materialized && !recursive}
}

func (c *CTE) Children() []Node             { return []Node{c.Query} }
func (c *CTE) RelAttributes() []*Attribute  { return c.Query.RelAttributes() }
func (c *CTE) RelType() *RelationType       { return c.Query.RelType() }
func (c *CTE) EstimatedRows() (int64, bool) { return c.Query.EstimatedRows() }
func (c *CTE) String() string               { return fmt.Sprintf("CTE(%s)", c.Name) }

// RemoteQuery wraps a subtree a vtab module accepted for push-down via
// supports(): it carries the module context returned by the
// vtab and the original subtree as a fallback descriptor.
type RemoteQuery struct {
	base
	Fallback RelationalNode
	Module   sql.Table
	PushCtx  interface{}
	Table    *TableReference
}

func NewRemoteQuery(fallback RelationalNode, module sql.Table, pushCtx interface{}, table *TableReference) *RemoteQuery {
	return &RemoteQuery{base: base{scope: fallback.Scope(), cost: fallback.EstimatedCost() * 0.5}, Fallback: fallback, Module: module, PushCtx: pushCtx, Table: table}
}

func (r *RemoteQuery) Children() []Node             { return []Node{r.Fallback} }
func (r *RemoteQuery) RelAttributes() []*Attribute  { return r.Fallback.RelAttributes() }
func (r *RemoteQuery) RelType() *RelationType       { return r.Fallback.RelType() }
func (r *RemoteQuery) EstimatedRows() (int64, bool) { return r.Fallback.EstimatedRows() }
func (r *RemoteQuery) String() string               { return "RemoteQuery(" + r.Fallback.String() + ")" }

// InsertProducer describes rows to be inserted into Target from Source.
type InsertProducer struct {
	base
	Target *TableReference
	Source RelationalNode
	// ColumnMap maps each Source column index to the Target column index
	// it populates (unlisted target columns are set to NULL).
	ColumnMap []int
}

func NewInsertProducer(target *TableReference, source RelationalNode, columnMap []int) *InsertProducer {
	return &InsertProducer{base: base{scope: source.Scope(), cost: source.EstimatedCost()}, Target: target, Source: source, ColumnMap: columnMap}
}

func (p *InsertProducer) Children() []Node             { return []Node{p.Target, p.Source} }
func (p *InsertProducer) RelAttributes() []*Attribute  { return p.Source.RelAttributes() }
func (p *InsertProducer) RelType() *RelationType       { return p.Target.RelType() }
func (p *InsertProducer) EstimatedRows() (int64, bool) { return p.Source.EstimatedRows() }
func (p *InsertProducer) String() string               { return "InsertProducer(" + p.Target.TableName + ")" }

// UpdateProducer rewrites matched Source rows' columns per SetExprs,
// retaining __oldRowKeyValues via
// the ExpandedRow sidecar the emitter attaches at runtime.
type UpdateProducer struct {
	base
	Target    *TableReference
	Source    RelationalNode
	SetExprs  map[int]ScalarNode // target column index -> new value expr
}

func NewUpdateProducer(target *TableReference, source RelationalNode, setExprs map[int]ScalarNode) *UpdateProducer {
	return &UpdateProducer{base: base{scope: source.Scope(), cost: source.EstimatedCost()}, Target: target, Source: source, SetExprs: setExprs}
}

func (p *UpdateProducer) Children() []Node             { return []Node{p.Target, p.Source} }
func (p *UpdateProducer) RelAttributes() []*Attribute  { return p.Source.RelAttributes() }
func (p *UpdateProducer) RelType() *RelationType       { return p.Target.RelType() }
func (p *UpdateProducer) EstimatedRows() (int64, bool) { return p.Source.EstimatedRows() }
func (p *UpdateProducer) String() string               { return "UpdateProducer(" + p.Target.TableName + ")" }

// DeleteProducer marks matched Source rows for deletion.
type DeleteProducer struct {
	base
	Target *TableReference
	Source RelationalNode
}

func NewDeleteProducer(target *TableReference, source RelationalNode) *DeleteProducer {
	return &DeleteProducer{base: base{scope: source.Scope(), cost: source.EstimatedCost()}, Target: target, Source: source}
}

func (p *DeleteProducer) Children() []Node             { return []Node{p.Target, p.Source} }
func (p *DeleteProducer) RelAttributes() []*Attribute  { return p.Source.RelAttributes() }
func (p *DeleteProducer) RelType() *RelationType       { return p.Target.RelType() }
func (p *DeleteProducer) EstimatedRows() (int64, bool) { return p.Source.EstimatedRows() }
func (p *DeleteProducer) String() string               { return "DeleteProducer(" + p.Target.TableName + ")" }

// ConstraintCheck checks Input rows prior to mutation against the target's
// NOT NULL columns: it reports CONSTRAINT errors by raising, not by
// filtering. Constraints is carried for display only; CHECK, uniqueness
// and foreign-key constraints are not evaluated here.
type ConstraintCheck struct {
	base
	Input       RelationalNode
	Constraints []sql.RowConstraint
}

func NewConstraintCheck(input RelationalNode, constraints []sql.RowConstraint) *ConstraintCheck {
	return &ConstraintCheck{base: base{scope: input.Scope(), cost: input.EstimatedCost()}, Input: input, Constraints: constraints}
}

func (c *ConstraintCheck) Children() []Node             { return []Node{c.Input} }
func (c *ConstraintCheck) RelAttributes() []*Attribute  { return c.Input.RelAttributes() }
func (c *ConstraintCheck) RelType() *RelationType       { return c.Input.RelType() }
func (c *ConstraintCheck) EstimatedRows() (int64, bool) { return c.Input.EstimatedRows() }
func (c *ConstraintCheck) String() string               { return fmt.Sprintf("ConstraintCheck(%d)", len(c.Constraints)) }

// ExecutorOp enumerates the mutation kind an UpdateExecutor performs.
type ExecutorOp int

const (
	ExecInsert ExecutorOp = iota
	ExecUpdate
	ExecDelete
)

// UpdateExecutor is the terminal relational node of a DML statement: it
// drains Input (already shaped by Insert/Update/DeleteProducer and
// ConstraintCheck) and issues the corresponding Table.Update calls.
type UpdateExecutor struct {
	base
	Input  RelationalNode
	Target *TableReference
	Op     ExecutorOp
}

func NewUpdateExecutor(input RelationalNode, target *TableReference, op ExecutorOp) *UpdateExecutor {
	return &UpdateExecutor{base: base{scope: input.Scope(), cost: input.EstimatedCost()}, Input: input, Target: target, Op: op}
}

func (u *UpdateExecutor) Children() []Node { return []Node{u.Input} }
func (u *UpdateExecutor) RelAttributes() []*Attribute {
	return []*Attribute{NewAttribute("rows_affected", sql.INTEGER, false, u)}
}
func (u *UpdateExecutor) RelType() *RelationType {
	return &RelationType{Columns: []sql.Column{{Name: "rows_affected", Type: sql.INTEGER}}}
}
func (u *UpdateExecutor) EstimatedRows() (int64, bool) { return 1, true }
func (u *UpdateExecutor) String() string               { return fmt.Sprintf("UpdateExecutor(%v)", u.Op) }

// Block is a nestable sequence of statements whose value is the last
// non-sink statement's output, or NULL if none.
type Block struct {
	base
	Statements []Node
	// Value, if non-nil, is the last non-sink RelationalNode among
	// Statements.
	Value RelationalNode
}

func NewBlock(scope *Scope, statements []Node) *Block {
	b := &Block{base: base{scope: scope}, Statements: statements}
	for i := len(statements) - 1; i >= 0; i-- {
		if rn, ok := statements[i].(RelationalNode); ok {
			b.Value = rn
			break
		}
	}
	return b
}

func (b *Block) Children() []Node { return b.Statements }
func (b *Block) RelAttributes() []*Attribute {
	if b.Value != nil {
		return b.Value.RelAttributes()
	}
	return nil
}
func (b *Block) RelType() *RelationType {
	if b.Value != nil {
		return b.Value.RelType()
	}
	return &RelationType{}
}
func (b *Block) EstimatedRows() (int64, bool) {
	if b.Value != nil {
		return b.Value.EstimatedRows()
	}
	return 0, true
}
func (b *Block) String() string { return fmt.Sprintf("Block(%d statements)", len(b.Statements)) }

// Batch wraps a full multi-statement program at top level.
type Batch struct {
	base
	Statements []Node
}

func NewBatch(scope *Scope, statements []Node) *Batch {
	return &Batch{base: base{scope: scope}, Statements: statements}
}

func (b *Batch) Children() []Node { return b.Statements }
func (b *Batch) String() string   { return fmt.Sprintf("Batch(%d statements)", len(b.Statements)) }
