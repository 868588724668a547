package driver

import (
	"context"
	"database/sql/driver"

	quereus "github.com/quereus/quereus"
)

// Stmt is a prepared statement, bound to a Conn.
type Stmt struct {
	stmt *quereus.Statement
}

var (
	_ driver.Stmt             = (*Stmt)(nil)
	_ driver.StmtExecContext  = (*Stmt)(nil)
	_ driver.StmtQueryContext = (*Stmt)(nil)
)

// Close does nothing: prepared statements are cached by the engine handle
// and stay valid until a schema change invalidates them at run time.
func (s *Stmt) Close() error { return nil }

// NumInput returns the number of placeholder parameters.
func (s *Stmt) NumInput() int { return s.stmt.NumParams() }

func bindArgs(args []driver.NamedValue) []interface{} {
	named := false
	for _, a := range args {
		if a.Name != "" {
			named = true
			break
		}
	}
	if named {
		m := make(map[string]interface{}, len(args))
		for _, a := range args {
			m[a.Name] = a.Value
		}
		return []interface{}{m}
	}
	out := make([]interface{}, len(args))
	for _, a := range args {
		out[a.Ordinal-1] = a.Value
	}
	return out
}

func valuesToNamed(args []driver.Value) []driver.NamedValue {
	out := make([]driver.NamedValue, len(args))
	for i, v := range args {
		out[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return out
}

// Exec executes a query that doesn't return rows.
func (s *Stmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.execContext(context.Background(), valuesToNamed(args))
}

// ExecContext executes a query that doesn't return rows.
func (s *Stmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	return s.execContext(ctx, args)
}

func (s *Stmt) execContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	rows, err := s.stmt.Bind(bindArgs(args)...).All(ctx)
	if err != nil {
		return nil, err
	}
	// DML executors yield a single affected-row-count row; anything else
	// reports zero.
	var affected int64
	if len(rows) == 1 && len(rows[0]) == 1 && !rows[0][0].IsNull() {
		affected = rows[0][0].Int()
	}
	return result{affected: affected}, nil
}

// Query executes a query that may return rows.
func (s *Stmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.queryContext(context.Background(), valuesToNamed(args))
}

// QueryContext executes a query that may return rows.
func (s *Stmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	return s.queryContext(ctx, args)
}

func (s *Stmt) queryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	it, err := s.stmt.Bind(bindArgs(args)...).Iterate(ctx)
	if err != nil {
		return nil, err
	}
	return &Rows{ctx: ctx, iter: it, cols: s.stmt.Columns()}, nil
}

// result implements driver.Result. The engine has no rowid concept of its
// own; modules may report one through xUpdate but it is not surfaced here.
type result struct {
	affected int64
}

func (r result) LastInsertId() (int64, error) { return 0, unsupported("LastInsertId") }
func (r result) RowsAffected() (int64, error) { return r.affected, nil }
