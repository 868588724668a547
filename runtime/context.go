// Package runtime implements the scheduler/runtime: a single-threaded
// cooperative executor for the instruction DAG the emitter produces,
// streaming row iterables and tracking per-node row slots and the
// captured-schema validation that guards stale emissions.
package runtime

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/quereus/quereus/plan"
	"github.com/quereus/quereus/qerr"
	"github.com/quereus/quereus/sql"
	"github.com/quereus/quereus/vtab"
)

// RowSlot is the runtime mapping from a relational node to a callable that
// returns its current row. A consumer node
// calls CreateRowSlot before iterating its source, Set on each produced
// row, and Close when done.
type RowSlot struct {
	row  sql.Row
	desc RowDescriptor
	// seq orders writes across slots: when two live slots both carry an
	// attribute (a pass-through pipeline stage above the attribute's
	// producer), a ColumnReference reads the most recently written one.
	seq   uint64
	table *slotTable
}

// Set records the current row for this slot, called once per produced row
// by the node that owns the slot.
func (s *RowSlot) Set(row sql.Row) {
	s.row = row
	s.table.writeSeq++
	s.seq = s.table.writeSeq
}

// Get returns the slot's current row.
func (s *RowSlot) Get() sql.Row { return s.row }

// RowDescriptor maps an attribute ID to the zero-based column index within
// a slot's row. Composite descriptors for joins are built by
// concatenating the left side's descriptor with the right side's, offset
// by the left side's arity.
type RowDescriptor map[plan.AttributeID]int

// NewRowDescriptor builds a descriptor from a relational node's produced
// attributes, in column order.
func NewRowDescriptor(attrs []*plan.Attribute) RowDescriptor {
	d := make(RowDescriptor, len(attrs))
	for i, a := range attrs {
		d[a.ID] = i
	}
	return d
}

// Concat returns a new descriptor covering left's columns unchanged and
// right's columns offset by leftWidth, used when emitting a Join.
func (d RowDescriptor) Concat(right RowDescriptor, leftWidth int) RowDescriptor {
	out := make(RowDescriptor, len(d)+len(right))
	for id, idx := range d {
		out[id] = idx
	}
	for id, idx := range right {
		out[id] = idx + leftWidth
	}
	return out
}

// SchemaValidator is consulted once per instruction invocation for any
// emission that captured schema objects: it reports
// SCHEMA_CHANGED if a captured table/function no longer matches by
// identity in the schema manager.
type SchemaValidator func() error

// Context is the per-execution context threaded through one statement's
// instruction graph: row slots, captured schema
// validators, the bound parameters, and the transaction/catalog handles an
// instruction needs to reach a virtual table.
//
// Named Context (not RuntimeContext) to read idiomatically as
// runtime.Context at call sites.
type Context struct {
	context.Context

	Catalog *sql.Catalog
	Params  []sql.Value

	// Coordinator is an interface satisfied by *txn.Coordinator; kept as an
	// interface here (rather than importing package txn directly) to avoid
	// a runtime<->txn import cycle, since txn.Coordinator has no need to
	// import runtime.
	Coordinator TransactionHandle

	// Tables is the connection pool backing every Retrieve/producer
	// instruction's access to a virtual table.
	Tables *vtab.Pool

	// Options, when non-nil, is the Database-level option registry SetOption
	// instructions write through.
	Options OptionStore

	Log *logrus.Entry

	slots *slotTable
}

// slotTable is the shared row-slot arena for one statement execution:
// slots register under their
// producer's node identity and under every attribute ID their descriptor
// covers, so ColumnReference instructions resolve by attribute ID alone.
// Shared between a Context and its Child contexts so correlated subqueries
// see the outer rows.
type slotTable struct {
	byNode   map[plan.RelationalNode]*RowSlot
	byAttr   map[plan.AttributeID][]*RowSlot
	writeSeq uint64
	scratch  map[interface{}]interface{}
}

func newSlotTable() *slotTable {
	return &slotTable{byNode: make(map[plan.RelationalNode]*RowSlot), byAttr: make(map[plan.AttributeID][]*RowSlot)}
}

// TransactionHandle is the view of txn.Coordinator the runtime needs:
// lazy-start, connection enlistment, the change-event recorder, and the
// explicit transaction-control operations TransactionControl instructions
// issue. Kept as an interface here (rather than
// importing package txn directly) to avoid a runtime<->txn import cycle.
type TransactionHandle interface {
	IsInTransaction() bool
	Join(ctx context.Context, conn sql.Connection) error
	EnsureTransaction(ctx context.Context) error
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	CreateSavepoint(ctx context.Context, name string) (int, error)
	ReleaseSavepoint(ctx context.Context, name string) error
	RollbackToSavepoint(ctx context.Context, name string) error
	Record(evt sql.DataChangeEvent)
}

// OptionStore is the view of the Database option registry a SetOption
// instruction writes through. Unknown-key behavior is the
// store's decision, not the instruction's.
type OptionStore interface {
	SetOption(name string, value sql.Value) error
	GetOption(name string) (sql.Value, error)
}

// NewContext constructs a fresh per-statement execution context.
func NewContext(ctx context.Context, catalog *sql.Catalog, coord TransactionHandle, tables *vtab.Pool, params []sql.Value, log *logrus.Entry) *Context {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Context{Context: ctx, Catalog: catalog, Params: params, Coordinator: coord, Tables: tables, Log: log, slots: newSlotTable()}
}

// Child returns a fresh Context sharing catalog/coordinator/tables/log and
// the parent's row slots, used by emitCall's sub-scheduler. The
// outer slots remain reachable because RelationalNode identity is global
// within one statement's plan tree, not copied: Child shares the same
// underlying slot map so a correlated subquery's ColumnReference into an
// outer row still resolves.
func (c *Context) Child() *Context {
	return &Context{Context: c.Context, Catalog: c.Catalog, Params: c.Params, Coordinator: c.Coordinator, Tables: c.Tables, Options: c.Options, Log: c.Log, slots: c.slots}
}

// CreateRowSlot registers a new row slot for producer.
// The slot's RowDescriptor is derived from producer's attributes, and the
// slot is indexed under each attribute ID so scalar instructions resolve
// pass-through attributes through whichever pipeline stage most recently
// set a row carrying them. Panics (an internal invariant violation) if a
// slot for the same producer is already open, since the row-slot
// map has at most one live entry per relational node identity at a time.
func (c *Context) CreateRowSlot(producer plan.RelationalNode) *RowSlot {
	if _, exists := c.slots.byNode[producer]; exists {
		panic(qerr.Internalf("row slot already open for %s", producer.String()))
	}
	s := &RowSlot{table: c.slots}
	if producer != nil {
		s.desc = NewRowDescriptor(producer.RelAttributes())
	}
	c.slots.byNode[producer] = s
	for id := range s.desc {
		c.slots.byAttr[id] = append(c.slots.byAttr[id], s)
	}
	return s
}

// Slot looks up the row slot registered for producer. Returns nil if none
// is open.
func (c *Context) Slot(producer plan.RelationalNode) *RowSlot {
	return c.slots.byNode[producer]
}

// AttrValue resolves an attribute ID against the open row slots: among
// the live slots whose descriptor
// covers id, the one most recently written wins. The boolean is false when
// no slot covering id has a row set, the invariant violation a
// ColumnReference reports as INTERNAL.
func (c *Context) AttrValue(id plan.AttributeID) (sql.Value, bool) {
	var best *RowSlot
	for _, s := range c.slots.byAttr[id] {
		if s.row == nil {
			continue
		}
		if best == nil || s.seq > best.seq {
			best = s
		}
	}
	if best == nil {
		return sql.Value{}, false
	}
	idx := best.desc[id]
	if idx >= len(best.row) {
		return sql.Value{}, false
	}
	return best.row[idx], true
}

// CloseSlot removes producer's entry and its attribute index registrations,
// once the consumer is done with its source.
func (c *Context) CloseSlot(producer plan.RelationalNode) {
	s, ok := c.slots.byNode[producer]
	if !ok {
		return
	}
	delete(c.slots.byNode, producer)
	for id := range s.desc {
		regs := c.slots.byAttr[id]
		for i, r := range regs {
			if r == s {
				c.slots.byAttr[id] = append(regs[:i:i], regs[i+1:]...)
				break
			}
		}
		if len(c.slots.byAttr[id]) == 0 {
			delete(c.slots.byAttr, id)
		}
	}
}

// ExecState returns per-execution instruction state for key, creating it
// with mk on first use. Instructions that accumulate state across
// invocations within one statement execution (window-function counters)
// keep it here rather than in emit-time closures, so a prepared statement's
// re-execution starts fresh.
func (c *Context) ExecState(key interface{}, mk func() interface{}) interface{} {
	if c.slots.scratch == nil {
		c.slots.scratch = make(map[interface{}]interface{})
	}
	v, ok := c.slots.scratch[key]
	if !ok {
		v = mk()
		c.slots.scratch[key] = v
	}
	return v
}

// Cancelled reports whether the context's abort signal has fired.
// Checked at every iterator
// boundary and before each vtab call.
func (c *Context) Cancelled() bool {
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}

// CheckCancelled returns a CANCELLED qerr.Error if the context has been
// cancelled, nil otherwise. Callers check this at iterator boundaries.
func (c *Context) CheckCancelled() error {
	if c.Cancelled() {
		return qerr.New(qerr.CANCELLED, "execution cancelled")
	}
	return nil
}
