package vtab

import (
	"context"
	"io"

	uuid "github.com/satori/go.uuid"

	"github.com/quereus/quereus/overlay"
	"github.com/quereus/quereus/qerr"
	"github.com/quereus/quereus/sql"
)

// OverlayTable adapts a non-transactional base Table into a fully
// transactional sql.Connection by buffering every in-transaction mutation
// in an overlay and merging it over the base scan at read time. This is
// the engine-side isolation layer for modules whose
// backing store has no native transaction support: boltkv brings its own
// transactions and skips this wrapper; memkv relies on it entirely.
//
// The base Table's Update contract under this wrapper is upsert-by-PK for
// OpInsert and delete-by-key for OpDelete; a commit flush never issues
// OpUpdate against the base, since an overlay entry carries only the final
// row image. In autocommit mode every op, OpUpdate included, passes
// straight through to the base.
type OverlayTable struct {
	base   sql.Table
	schema *sql.TableSchema
	ov     *overlay.Overlay
	id     string
}

var (
	_ sql.Table      = (*OverlayTable)(nil)
	_ sql.Connection = (*OverlayTable)(nil)
)

// NewOverlayTable wraps base. Text sort-key columns are ordered with the
// schema's first PK column collation; binary when unspecified.
func NewOverlayTable(base sql.Table, schema *sql.TableSchema) *OverlayTable {
	coll := sql.CollationBinary
	if pk := schema.PrimaryKey(); len(pk) > 0 {
		coll = schema.Columns[pk[0]].Collation
	}
	return &OverlayTable{base: base, schema: schema, ov: overlay.New(coll)}
}

func (t *OverlayTable) Schema() *sql.TableSchema { return t.schema }
func (t *OverlayTable) TableName() string        { return t.schema.Name }

func (t *OverlayTable) ID() string {
	if t.id == "" {
		t.id = uuid.NewV4().String()
	}
	return t.id
}

func (t *OverlayTable) BestIndex(ctx context.Context, info sql.BestIndexInfo) (sql.BestIndexResult, error) {
	return t.base.BestIndex(ctx, info)
}

func (t *OverlayTable) pkOf(row sql.Row) sql.Row {
	pk := t.schema.PrimaryKey()
	out := make(sql.Row, len(pk))
	for i, idx := range pk {
		if idx < len(row) {
			out[i] = row[idx]
		}
	}
	return out
}

// Query merges the base scan with the overlay's current entries in
// primary-key order. Outside a transaction
// it is a straight pass-through.
func (t *OverlayTable) Query(ctx context.Context, filter sql.FilterInfo) (sql.RowIter, error) {
	if !t.ov.Active() {
		return t.base.Query(ctx, filter)
	}
	// The overlay holds rows the base has never seen, so any limit must be
	// applied after the merge, and any pushed bounds must prune the overlay
	// side as well as the base side.
	baseFilter := filter
	baseFilter.Limit = 0
	baseIt, err := t.base.Query(ctx, baseFilter)
	if err != nil {
		return nil, err
	}
	entries := t.ov.Entries()
	if len(filter.Bounds) > 0 {
		entries = pruneEntries(entries, filter.Bounds)
	}
	merged := overlay.Merge(baseIt, func(row sql.Row) (sortKey, pk sql.Row) {
		k := t.pkOf(row)
		return k, k
	}, entries, sql.CollationBinary)
	if filter.Limit > 0 {
		merged = limitIter(merged, filter.Limit)
	}
	return merged, nil
}

// pruneEntries drops overlay entries that cannot satisfy the pushed
// equality bounds, so a bounded base scan merged with the overlay never
// surfaces rows outside the requested range. Non-equality bounds are left
// for the engine's Filter node to re-check.
func pruneEntries(entries []*overlay.MergeEntry, bounds []sql.FilterBound) []*overlay.MergeEntry {
	out := entries[:0:0]
	for _, e := range entries {
		keep := true
		for _, b := range bounds {
			if b.Op != "=" {
				continue
			}
			// A tombstone carries no row image; compare against its PK when
			// the bound column is a key column, else keep it conservatively.
			row := e.Row
			if e.Tombstone {
				row = e.PK
				if b.ColumnIndex >= len(row) {
					continue
				}
			}
			if b.ColumnIndex < len(row) && sql.Compare(row[b.ColumnIndex], b.Value, sql.CollationBinary) != 0 {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, e)
		}
	}
	return out
}

func limitIter(inner sql.RowIter, limit int64) sql.RowIter {
	return &limitedIter{inner: inner, limit: limit}
}

type limitedIter struct {
	inner   sql.RowIter
	limit   int64
	emitted int64
}

func (l *limitedIter) Next(ctx context.Context) (sql.Row, error) {
	if l.emitted >= l.limit {
		return nil, io.EOF
	}
	row, err := l.inner.Next(ctx)
	if err != nil {
		return nil, err
	}
	l.emitted++
	return row, nil
}

func (l *limitedIter) Close(ctx context.Context) error { return l.inner.Close(ctx) }

// Update buffers the mutation in the overlay while a transaction is open,
// passing straight through to the
// base store in autocommit mode.
func (t *OverlayTable) Update(ctx context.Context, op sql.UpdateOp, newRow sql.Row, keyValues sql.Row) (int64, error) {
	if !t.ov.Active() {
		return t.base.Update(ctx, op, newRow, keyValues)
	}
	switch op {
	case sql.OpInsert:
		pk := t.pkOf(newRow)
		t.ov.Put(pk, pk, newRow.Copy())
	case sql.OpUpdate:
		newPK := t.pkOf(newRow)
		// A primary-key rewrite tombstones the old identity first, so a scan
		// sees exactly one surviving row.
		if overlay.ComparePK(keyValues, newPK, sql.CollationBinary) != 0 {
			t.ov.Delete(keyValues, keyValues)
		}
		t.ov.Put(newPK, newPK, newRow.Copy())
	case sql.OpDelete:
		t.ov.Delete(keyValues.Copy(), keyValues.Copy())
	default:
		return 0, qerr.Internalf("unknown update op %v", op)
	}
	return 0, nil
}

func (t *OverlayTable) SupportsPushdown(subtree interface{}) *sql.RemoteQuerySupport {
	// Push-down would bypass the overlay merge; only delegate when no
	// transaction is buffering rows the base store cannot see.
	if t.ov.Active() {
		return nil
	}
	return t.base.SupportsPushdown(subtree)
}

func (t *OverlayTable) ExecutePlan(ctx context.Context, subtree interface{}, pushCtx interface{}) (sql.RowIter, error) {
	return t.base.ExecutePlan(ctx, subtree, pushCtx)
}

func (t *OverlayTable) Disconnect(ctx context.Context) error {
	t.ov.End()
	return t.base.Disconnect(ctx)
}

// ---- sql.Connection ----

func (t *OverlayTable) Begin(ctx context.Context) error {
	if t.ov.Active() {
		return qerr.New(qerr.MISUSE, "overlay transaction already open on %s", t.schema.Name)
	}
	t.ov.Begin()
	return nil
}

// Commit flushes the overlay's effective entries to the base store in PK
// order, then empties the overlay.
func (t *OverlayTable) Commit(ctx context.Context) error {
	if !t.ov.Active() {
		return nil
	}
	for _, e := range t.ov.Entries() {
		var err error
		if e.Tombstone {
			_, err = t.base.Update(ctx, sql.OpDelete, nil, e.PK)
		} else {
			_, err = t.base.Update(ctx, sql.OpInsert, e.Row, nil)
		}
		if err != nil {
			return qerr.Wrap(qerr.Code(err), err, "flushing overlay for %s", t.schema.Name)
		}
	}
	t.ov.End()
	return nil
}

func (t *OverlayTable) Rollback(ctx context.Context) error {
	t.ov.End()
	return nil
}

func (t *OverlayTable) CreateSavepoint(ctx context.Context, index int) error {
	if !t.ov.Active() {
		return qerr.New(qerr.MISUSE, "savepoint created outside a transaction on %s", t.schema.Name)
	}
	t.ov.CreateSavepoint()
	return nil
}

// ReleaseSavepoint folds savepoint index's layer (and anything above it)
// into the parent level: the writes survive, the rollback point does not.
func (t *OverlayTable) ReleaseSavepoint(ctx context.Context, index int) error {
	t.ov.ReleaseSavepoint(index)
	return nil
}

// RollbackToSavepoint discards savepoint index's layer and every layer
// above it, then re-opens an empty layer in its place so the coordinator's
// still-registered savepoint stays usable for a second rollback.
func (t *OverlayTable) RollbackToSavepoint(ctx context.Context, index int) error {
	t.ov.RollbackToSavepoint(index)
	t.ov.CreateSavepoint()
	return nil
}
