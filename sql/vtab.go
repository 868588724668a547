package sql

import "context"

// Module is the pluggable virtual-table module interface. Quereus never
// has a built-in storage engine: every table is backed by a Module.
type Module interface {
	// Create performs DDL-time table creation. Optional: modules that only
	// bind to pre-existing storage (e.g. a remote engine) may no-op.
	Create(ctx context.Context, db *Catalog, schemaName, tableName string, args []string) (*TableSchema, error)
	// Connect performs the runtime binding, returning a handle good for
	// the lifetime of the database handle. Connections are pooled per
	// table.
	Connect(ctx context.Context, aux interface{}, moduleName, schemaName, tableName string, options map[string]string) (Table, error)
	// Destroy drops the table's underlying storage.
	Destroy(ctx context.Context, schemaName, tableName string) error
}

// BestIndexInfo communicates to xBestIndex the predicates and ordering a
// caller would like satisfied.
type BestIndexInfo struct {
	// Constraints lists column/operator/value predicates the optimizer
	// would like pushed into the scan.
	Constraints []IndexConstraint
	// OrderBy lists the requested output ordering, if any.
	OrderBy []OrderTerm
}

// IndexConstraint is one WHERE-clause predicate candidate for push-down.
type IndexConstraint struct {
	ColumnIndex int
	Op          string // "=", "<", "<=", ">", ">=", "IN"
	Usable      bool
}

// OrderTerm is one ORDER BY term candidate for push-down.
type OrderTerm struct {
	ColumnIndex int
	Desc        bool
}

// BestIndexResult is what xBestIndex communicates back: which constraints
// it will consume, the cost estimate, and whether its output already
// satisfies the requested ordering.
type BestIndexResult struct {
	// ConstraintUsage indicates, per input Constraints entry, whether the
	// module will apply that predicate itself (true) or whether the engine
	// must re-check it after the scan (false).
	ConstraintUsage []bool
	EstimatedCost   float64
	EstimatedRows   int64
	// OrderSatisfied is true when the module's output already satisfies
	// BestIndexInfo.OrderBy, letting the planner drop a Sort node.
	OrderSatisfied bool
	// IndexName identifies which index (if any) the module chose, echoed
	// back in FilterInfo so Table.Query knows how to interpret it.
	IndexName string
}

// FilterInfo is passed to Table.Query: the concrete bound values for
// whichever constraints xBestIndex accepted, plus the chosen index name.
type FilterInfo struct {
	IndexName string
	Bounds    []FilterBound
	Limit     int64 // 0 means unlimited
}

// FilterBound binds one constraint from BestIndexInfo.Constraints to an
// actual runtime Value.
type FilterBound struct {
	ColumnIndex int
	Op          string
	Value       Value
}

// RemoteQuerySupport is returned by a Module's optional push-down test
// (see plan.RemoteQuery).
type RemoteQuerySupport struct {
	// Ctx is opaque module context threaded through to ExecutePlan.
	Ctx interface{}
}

// Table is the per-table runtime handle returned by Module.Connect.
type Table interface {
	Schema() *TableSchema
	// BestIndex is xBestIndex: given candidate constraints/ordering, the
	// module reports which it can satisfy and at what estimated cost.
	// Called by the plan builder/optimizer while deciding
	// whether a Filter/Sort above a Retrieve can be pushed into the scan.
	BestIndex(ctx context.Context, info BestIndexInfo) (BestIndexResult, error)
	// Query returns a streaming row source honoring FilterInfo.
	Query(ctx context.Context, filter FilterInfo) (RowIter, error)
	// Update performs one mutation. op is one of OpInsert/OpUpdate/OpDelete.
	// newRow is nil for OpDelete. keyValues identifies the row for
	// OpUpdate/OpDelete.
	Update(ctx context.Context, op UpdateOp, newRow Row, keyValues Row) (rowid int64, err error)
	// SupportsPushdown optionally tests whether the module can execute a
	// pushed-down subtree itself. Returning nil
	// means "no".
	SupportsPushdown(subtree interface{}) *RemoteQuerySupport
	// ExecutePlan runs a subtree the module accepted via SupportsPushdown.
	// Only called when SupportsPushdown
	// returned non-nil for the same subtree.
	ExecutePlan(ctx context.Context, subtree interface{}, pushCtx interface{}) (RowIter, error)
	Disconnect(ctx context.Context) error
}

// UpdateOp enumerates the three mutation kinds xUpdate handles.
type UpdateOp int

const (
	OpInsert UpdateOp = iota
	OpUpdate
	OpDelete
)

// Connection is the transactional handle a virtual table returns: a unique
// ID plus the six transaction methods shared with the transaction
// coordinator. Not every Table need implement it —
// read-only modules may be connectionless — so it is looked up via an
// optional interface assertion from Table.
type Connection interface {
	ID() string
	TableName() string
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	CreateSavepoint(ctx context.Context, index int) error
	ReleaseSavepoint(ctx context.Context, index int) error
	RollbackToSavepoint(ctx context.Context, index int) error
	Disconnect(ctx context.Context) error
}

// RowIter is the pull-based row stream contract: Next yields the next row
// or io.EOF, Close is idempotent, and errors surface at Next.
type RowIter interface {
	// Next returns the next row, or (nil, io.EOF) at end of stream.
	Next(ctx context.Context) (Row, error)
	Close(ctx context.Context) error
}
