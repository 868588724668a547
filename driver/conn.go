package driver

import (
	"context"
	"database/sql/driver"

	quereus "github.com/quereus/quereus"
)

// Conn is a connection to a database. It is not used concurrently by
// multiple goroutines; database/sql guarantees that, and the engine
// requires it.
type Conn struct {
	db     *quereus.Database
	closed bool
}

var (
	_ driver.Conn               = (*Conn)(nil)
	_ driver.ConnPrepareContext = (*Conn)(nil)
	_ driver.ConnBeginTx        = (*Conn)(nil)
	_ driver.ExecerContext      = (*Conn)(nil)
	_ driver.QueryerContext     = (*Conn)(nil)
)

// Prepare returns a prepared statement, bound to this connection.
func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

// PrepareContext returns a prepared statement, bound to this connection.
func (c *Conn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	stmt, err := c.db.Prepare(query)
	if err != nil {
		return nil, err
	}
	return &Stmt{stmt: stmt}, nil
}

// Close marks the connection done. The shared engine handle stays open for
// other connections; the host closes it.
func (c *Conn) Close() error {
	c.closed = true
	return nil
}

// Begin starts and returns a new transaction.
func (c *Conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// BeginTx starts and returns a new transaction. Isolation levels beyond
// the engine's single read-your-writes overlay model are not supported.
func (c *Conn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if opts.ReadOnly {
		return nil, unsupported("read-only transactions")
	}
	if err := c.db.Begin(ctx); err != nil {
		return nil, err
	}
	return &Tx{db: c.db}, nil
}

// ExecContext executes a query that doesn't return rows.
func (c *Conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	stmt, err := c.db.Prepare(query)
	if err != nil {
		return nil, err
	}
	return (&Stmt{stmt: stmt}).execContext(ctx, args)
}

// QueryContext executes a query that may return rows.
func (c *Conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	stmt, err := c.db.Prepare(query)
	if err != nil {
		return nil, err
	}
	return (&Stmt{stmt: stmt}).queryContext(ctx, args)
}

// Tx is an in-progress database transaction.
type Tx struct {
	db *quereus.Database
}

func (t *Tx) Commit() error   { return t.db.Commit(context.Background()) }
func (t *Tx) Rollback() error { return t.db.Rollback(context.Background()) }
