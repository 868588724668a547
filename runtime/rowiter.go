package runtime

import (
	"context"
	"io"

	"github.com/quereus/quereus/sql"
)

// IterFunc adapts a plain next-function into a sql.RowIter, the common
// shape every emitted relational instruction returns: a closure that
// produces the next row or io.EOF, plus a close function for whatever
// resource (an open child iterator, a row slot) needs releasing.
type IterFunc struct {
	NextFn  func(ctx context.Context) (sql.Row, error)
	CloseFn func(ctx context.Context) error
}

func (f *IterFunc) Next(ctx context.Context) (sql.Row, error) { return f.NextFn(ctx) }
func (f *IterFunc) Close(ctx context.Context) error {
	if f.CloseFn == nil {
		return nil
	}
	return f.CloseFn(ctx)
}

// CheckedIter wraps inner so that every Next call checks the runtime
// context's abort signal first, surfacing a CANCELLED error and leaving
// inner for the caller
// to Close via scoped release.
func CheckedIter(rctx *Context, inner sql.RowIter) sql.RowIter {
	return &IterFunc{
		NextFn: func(ctx context.Context) (sql.Row, error) {
			if err := rctx.CheckCancelled(); err != nil {
				return nil, err
			}
			return inner.Next(ctx)
		},
		CloseFn: inner.Close,
	}
}

// Drain exhausts it, collecting its rows, and closes it — used by ConstraintCheck
// and similar nodes that must observe every row but produce no output of
// their own besides pass-through, plus by callers that need a fully
// materialized slice (CTE materialization, IN-subquery probes).
func Drain(ctx context.Context, it sql.RowIter) ([]sql.Row, error) {
	defer it.Close(ctx)
	var out []sql.Row
	for {
		row, err := it.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
}

// SliceIter adapts a pre-materialized []sql.Row into a sql.RowIter, used
// for CTE materialization and
// Values.
type SliceIter struct {
	Rows []sql.Row
	idx  int
}

func (s *SliceIter) Next(ctx context.Context) (sql.Row, error) {
	if s.idx >= len(s.Rows) {
		return nil, io.EOF
	}
	row := s.Rows[s.idx]
	s.idx++
	return row, nil
}

func (s *SliceIter) Close(ctx context.Context) error { return nil }
