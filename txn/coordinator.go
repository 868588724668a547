// Package txn implements the transaction coordinator:
// shared BEGIN/COMMIT/ROLLBACK and nested SAVEPOINTs spanning every virtual
// table connection participating in one logical SQL transaction.
package txn

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/quereus/quereus/qerr"
	"github.com/quereus/quereus/sql"
)

// Coordinator owns the set of virtual-table connections participating in
// the current transaction and publishes to the shared change-event bus
// strictly after a successful commit.
type Coordinator struct {
	conns      []sql.Connection
	seen       map[string]bool
	inTxn      bool
	implicit   bool // true when the open transaction was lazily started
	savepoints []string // names, index = depth

	bus     *sql.DataChangeBus
	pending []sql.DataChangeEvent
}

// New returns a Coordinator publishing to bus. bus is process-scoped
// and typically shared by every
// Coordinator created against the same Catalog.
func New(bus *sql.DataChangeBus) *Coordinator {
	return &Coordinator{seen: make(map[string]bool), bus: bus}
}

// IsInTransaction reports whether BEGIN has been issued (explicitly or
// lazily) and COMMIT/ROLLBACK has not yet closed it.
func (c *Coordinator) IsInTransaction() bool { return c.inTxn }

// Join registers conn as a participant in the current transaction, calling
// its Begin if a transaction is already open. It is idempotent per connection ID.
func (c *Coordinator) Join(ctx context.Context, conn sql.Connection) error {
	if c.seen[conn.ID()] {
		return nil
	}
	c.seen[conn.ID()] = true
	c.conns = append(c.conns, conn)
	if c.inTxn {
		if err := conn.Begin(ctx); err != nil {
			return qerr.WrapVtab(conn.TableName(), err)
		}
		for i := range c.savepoints {
			if err := conn.CreateSavepoint(ctx, i); err != nil {
				return qerr.WrapVtab(conn.TableName(), err)
			}
		}
	}
	return nil
}

// EnsureTransaction implements the lazy start: DDL and DML
// instructions call this before touching a table; if no transaction is
// open, an implicit BEGIN is issued.
func (c *Coordinator) EnsureTransaction(ctx context.Context) error {
	if c.inTxn {
		return nil
	}
	if err := c.Begin(ctx); err != nil {
		return err
	}
	c.implicit = true
	return nil
}

// IsImplicit reports whether the open transaction was started lazily by
// EnsureTransaction rather than an explicit BEGIN. The statement layer
// commits implicit transactions when the statement finishes (autocommit).
func (c *Coordinator) IsImplicit() bool { return c.inTxn && c.implicit }

// Begin opens a transaction on every currently joined connection.
func (c *Coordinator) Begin(ctx context.Context) error {
	if c.inTxn {
		return qerr.New(qerr.MISUSE, "transaction already in progress")
	}
	for _, conn := range c.conns {
		if err := conn.Begin(ctx); err != nil {
			return qerr.WrapVtab(conn.TableName(), err)
		}
	}
	c.inTxn = true
	return nil
}

// Commit flushes every joined connection in turn. A
// failure in any table aborts the whole commit and triggers rollback; all
// per-table failures are aggregated via go-multierror before the rollback
// error (if any) is appended.
func (c *Coordinator) Commit(ctx context.Context) error {
	if !c.inTxn {
		return nil
	}
	var result *multierror.Error
	for _, conn := range c.conns {
		if err := conn.Commit(ctx); err != nil {
			result = multierror.Append(result, qerr.WrapVtab(conn.TableName(), err))
		}
	}
	if result != nil {
		if rbErr := c.Rollback(ctx); rbErr != nil {
			result = multierror.Append(result, rbErr)
		}
		return qerr.Wrap(qerr.INTERNAL, result, "commit failed across %d table(s)", len(c.conns))
	}
	c.reset()
	c.flushPending()
	return nil
}

// Rollback discards every joined connection's overlay without touching the
// underlying store; no change events are emitted.
func (c *Coordinator) Rollback(ctx context.Context) error {
	if !c.inTxn {
		c.reset()
		return nil
	}
	var result *multierror.Error
	for _, conn := range c.conns {
		if err := conn.Rollback(ctx); err != nil {
			result = multierror.Append(result, qerr.WrapVtab(conn.TableName(), err))
		}
	}
	c.reset()
	c.pending = nil
	if result != nil {
		return qerr.Wrap(qerr.INTERNAL, result, "rollback failed across %d table(s)", len(c.conns))
	}
	return nil
}

func (c *Coordinator) reset() {
	c.inTxn = false
	c.implicit = false
	c.savepoints = nil
	c.conns = nil
	c.seen = make(map[string]bool)
}

// CreateSavepoint pushes a new named savepoint across every joined
// connection. Returns the
// savepoint's depth, used by ReleaseSavepoint/RollbackToSavepoint.
func (c *Coordinator) CreateSavepoint(ctx context.Context, name string) (int, error) {
	if !c.inTxn {
		return 0, qerr.New(qerr.MISUSE, "SAVEPOINT outside a transaction")
	}
	depth := len(c.savepoints)
	for _, conn := range c.conns {
		if err := conn.CreateSavepoint(ctx, depth); err != nil {
			return 0, qerr.WrapVtab(conn.TableName(), err)
		}
	}
	c.savepoints = append(c.savepoints, name)
	return depth, nil
}

func (c *Coordinator) depthOf(name string) (int, error) {
	for i := len(c.savepoints) - 1; i >= 0; i-- {
		if c.savepoints[i] == name {
			return i, nil
		}
	}
	return 0, qerr.New(qerr.NOT_FOUND, "no such savepoint: %s", name)
}

// ReleaseSavepoint releases name across every joined connection.
func (c *Coordinator) ReleaseSavepoint(ctx context.Context, name string) error {
	depth, err := c.depthOf(name)
	if err != nil {
		return err
	}
	for _, conn := range c.conns {
		if err := conn.ReleaseSavepoint(ctx, depth); err != nil {
			return qerr.WrapVtab(conn.TableName(), err)
		}
	}
	c.savepoints = c.savepoints[:depth]
	return nil
}

// RollbackToSavepoint rolls every joined connection back to name, then
// trims the coordinator's own savepoint stack down to (and including) it,
// leaving it re-usable for a second rollback.
func (c *Coordinator) RollbackToSavepoint(ctx context.Context, name string) error {
	depth, err := c.depthOf(name)
	if err != nil {
		return err
	}
	for _, conn := range c.conns {
		if err := conn.RollbackToSavepoint(ctx, depth); err != nil {
			return qerr.WrapVtab(conn.TableName(), err)
		}
	}
	c.savepoints = c.savepoints[:depth+1]
	return nil
}

// ---- change-event bus ----

// Record queues a data-change event to be broadcast once the enclosing
// transaction commits. Called by the runtime's UpdateExecutor instruction as each
// mutation is applied.
func (c *Coordinator) Record(evt sql.DataChangeEvent) {
	c.pending = append(c.pending, evt)
}

func (c *Coordinator) flushPending() {
	events := c.pending
	c.pending = nil
	if c.bus == nil {
		return
	}
	for _, evt := range events {
		c.bus.Publish(evt)
	}
}

// String aids debugging/logging.
func (c *Coordinator) String() string {
	return fmt.Sprintf("Coordinator(inTxn=%v, conns=%d, savepoints=%d)", c.inTxn, len(c.conns), len(c.savepoints))
}
