package overlay

import (
	"context"
	"io"

	"github.com/quereus/quereus/qerr"
	"github.com/quereus/quereus/sql"
)

// BaseSource is the base scan side of a merge: rows in sort-key order, plus
// a way to compute each row's sort key and PK.
type BaseSource interface {
	Next(ctx context.Context) (sql.Row, error)
	Close(ctx context.Context) error
}

// KeyFunc extracts the sort key and PK tuple from a base row, matching how
// the overlay entries covering the same scan were keyed (primary-key order
// for a primary scan; [indexKeyParts…, pkParts…] for a secondary-index
// scan).
type KeyFunc func(row sql.Row) (sortKey, pk sql.Row)

// mergeIter implements the k-way (here: 2-way) merge of a base
// scan and an overlay's entries in sort-key order, overlay-wins on PK match.
// It satisfies sql.RowIter so it can be returned directly from a vtab's
// Query method or consumed by the runtime like any other row stream.
type mergeIter struct {
	base    BaseSource
	keyFn   KeyFunc
	overlay []*MergeEntry
	oIdx    int
	coll    sql.Collation

	bRow         sql.Row
	bSortKey     sql.Row
	bPK          sql.Row
	bValid       bool
	baseExhausted bool
	closed       bool
}

// Merge returns a sql.RowIter that unifies base (in sort-key order) with
// overlay (already sorted by Overlay.Entries):
// base wins when its sort key sorts first, overlay wins on a tie (PK
// match) or when the overlay entry sorts first, and tombstoned overlay
// entries are suppressed rather than yielded.
func Merge(base BaseSource, keyFn KeyFunc, overlayEntries []*MergeEntry, coll sql.Collation) sql.RowIter {
	return &mergeIter{base: base, keyFn: keyFn, overlay: overlayEntries, coll: coll}
}

func (m *mergeIter) advanceBase(ctx context.Context) error {
	if m.baseExhausted {
		m.bValid = false
		return nil
	}
	row, err := m.base.Next(ctx)
	if err == io.EOF {
		m.baseExhausted = true
		m.bValid = false
		return nil
	}
	if err != nil {
		return err
	}
	m.bRow = row
	m.bSortKey, m.bPK = m.keyFn(row)
	m.bValid = true
	return nil
}

func (m *mergeIter) Next(ctx context.Context) (sql.Row, error) {
	if m.closed {
		return nil, io.EOF
	}
	if !m.bValid && !m.baseExhausted {
		if err := m.advanceBase(ctx); err != nil {
			return nil, err
		}
	}
	for {
		oDone := m.oIdx >= len(m.overlay)
		if !m.bValid && oDone {
			return nil, io.EOF
		}
		if !m.bValid {
			// Base exhausted: drain remaining overlay, skipping tombstones.
			e := m.overlay[m.oIdx]
			m.oIdx++
			if e.Tombstone {
				continue
			}
			return e.Row, nil
		}
		if oDone {
			// Overlay exhausted: drain remaining base rows.
			row := m.bRow
			if err := m.advanceBase(ctx); err != nil {
				return nil, err
			}
			return row, nil
		}
		o := m.overlay[m.oIdx]
		c := CompareSortKey(m.bSortKey, o.SortKey, m.coll)
		switch {
		case c < 0:
			// base < overlay: yield base, advance base (step 3).
			row := m.bRow
			if err := m.advanceBase(ctx); err != nil {
				return nil, err
			}
			return row, nil
		case c > 0:
			// base > overlay: yield overlay (unless tombstone), advance
			// overlay (step 3).
			m.oIdx++
			if o.Tombstone {
				continue
			}
			return o.Row, nil
		default:
			// Equal sort key: overlay wins on PK match (step 3). Advance
			// both; base's row at this PK is suppressed whether or not the
			// overlay entry is a tombstone.
			m.oIdx++
			if err := m.advanceBase(ctx); err != nil {
				return nil, err
			}
			if o.Tombstone {
				continue
			}
			return o.Row, nil
		}
	}
}

func (m *mergeIter) Close(ctx context.Context) error {
	if m.closed {
		return nil
	}
	m.closed = true
	if err := m.base.Close(ctx); err != nil {
		return qerr.Wrap(qerr.INTERNAL, err, "closing merge iterator base source")
	}
	return nil
}
