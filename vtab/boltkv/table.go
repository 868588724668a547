package boltkv

import (
	"context"
	"io"

	"github.com/boltdb/bolt"
	uuid "github.com/satori/go.uuid"

	"github.com/quereus/quereus/qerr"
	"github.com/quereus/quereus/sql"
)

// undoOp records the bucket state a mutation overwrote, so a later
// RollbackToSavepoint can restore it without discarding the whole
// transaction.
type undoOp struct {
	key    []byte
	hadOld bool
	old    []byte
}

// Table is the per-table runtime handle returned by Module.Connect.
// It also implements sql.Connection directly: boltkv is
// simple enough that one object serves both roles, as the vtab contract's
// doc comment allows.
type Table struct {
	mod    *Module
	schema *sql.TableSchema
	bucket []byte
	id     string

	tx         *bolt.Tx
	savepoints [][]undoOp // savepoints[0] is the base level opened by Begin
}

func (t *Table) Schema() *sql.TableSchema { return t.schema }
func (t *Table) TableName() string        { return string(t.bucket) }

func (t *Table) ID() string {
	if t.id == "" {
		t.id = uuid.NewV4().String()
	}
	return t.id
}

// BestIndex reports that boltkv can satisfy an equality constraint on the
// primary key's leading column directly off the bucket's natural key
// order, and nothing else; range constraints are left to the engine.
func (t *Table) BestIndex(ctx context.Context, info sql.BestIndexInfo) (sql.BestIndexResult, error) {
	pk := t.schema.PrimaryKey()
	res := sql.BestIndexResult{
		ConstraintUsage: make([]bool, len(info.Constraints)),
		EstimatedCost:   1000,
		EstimatedRows:   1000,
	}
	if len(pk) == 0 {
		return res, nil
	}
	leading := pk[0]
	for i, c := range info.Constraints {
		if c.Usable && c.ColumnIndex == leading && c.Op == "=" {
			res.ConstraintUsage[i] = true
			res.IndexName = "primary"
			res.EstimatedCost = 10
			res.EstimatedRows = 1
		}
	}
	if len(info.OrderBy) == 1 && info.OrderBy[0].ColumnIndex == leading && !info.OrderBy[0].Desc {
		res.OrderSatisfied = true
	}
	return res, nil
}

// Query implements sql.Table.Query: a full bucket
// scan, optionally seeked to an equality bound on the primary key. Inside an
// open transaction it reads through the same *bolt.Tx mutations are applied
// to, so a statement sees its own prior writes.
func (t *Table) Query(ctx context.Context, filter sql.FilterInfo) (sql.RowIter, error) {
	if t.tx != nil {
		return t.queryTx(t.tx, false, filter)
	}
	tx, err := t.mod.db.Begin(false)
	if err != nil {
		return nil, qerr.Wrap(qerr.INTERNAL, err, "beginning boltkv read transaction")
	}
	return t.queryTx(tx, true, filter)
}

func (t *Table) queryTx(tx *bolt.Tx, ownsTx bool, filter sql.FilterInfo) (sql.RowIter, error) {
	bucket := tx.Bucket(t.bucket)
	if bucket == nil {
		if ownsTx {
			tx.Rollback()
		}
		return &cursorIter{done: true}, nil
	}
	c := bucket.Cursor()

	var seekKey []byte
	for _, b := range filter.Bounds {
		if filter.IndexName == "primary" && b.Op == "=" {
			seekKey = encodeKey(sql.Row{b.Value})
		}
	}

	it := &cursorIter{limit: filter.Limit}
	if ownsTx {
		it.tx = tx
	}
	if seekKey != nil {
		it.k, it.v = c.Seek(seekKey)
		// Seek lands on the next key when seekKey is absent.
		if len(it.k) < len(seekKey) || string(it.k[:len(seekKey)]) != string(seekKey) {
			it.k = nil
		}
		it.exactSeek = true
	} else {
		it.k, it.v = c.First()
	}
	it.cursor = c
	return it, nil
}

// Update implements sql.Table.Update. Outside a
// transaction it autocommits a single bolt transaction per call; inside one
// it writes through the open transaction and records an undo entry against
// the current savepoint level.
func (t *Table) Update(ctx context.Context, op sql.UpdateOp, newRow sql.Row, keyValues sql.Row) (int64, error) {
	pk := t.schema.PrimaryKey()
	if t.tx != nil {
		if err := t.applyMutation(t.tx, op, newRow, keyValues, pk); err != nil {
			return 0, qerr.Wrap(qerr.INTERNAL, err, "applying boltkv mutation to %s", string(t.bucket))
		}
		return 0, nil
	}
	err := t.mod.db.Update(func(tx *bolt.Tx) error {
		return t.applyMutation(tx, op, newRow, keyValues, pk)
	})
	if err != nil {
		return 0, qerr.Wrap(qerr.INTERNAL, err, "applying boltkv mutation to %s", string(t.bucket))
	}
	return 0, nil
}

func (t *Table) applyMutation(tx *bolt.Tx, op sql.UpdateOp, newRow sql.Row, keyValues sql.Row, pk []int) error {
	bucket, err := tx.CreateBucketIfNotExists(t.bucket)
	if err != nil {
		return err
	}
	switch op {
	case sql.OpInsert:
		key := encodeKey(primaryKeyValues(newRow, pk))
		data, err := encodeRow(newRow)
		if err != nil {
			return err
		}
		t.recordUndo(bucket, key)
		return bucket.Put(key, data)
	case sql.OpUpdate:
		oldKey := encodeKey(keyValues)
		newKey := encodeKey(primaryKeyValues(newRow, pk))
		data, err := encodeRow(newRow)
		if err != nil {
			return err
		}
		if string(oldKey) != string(newKey) {
			t.recordUndo(bucket, oldKey)
			if err := bucket.Delete(oldKey); err != nil {
				return err
			}
		}
		t.recordUndo(bucket, newKey)
		return bucket.Put(newKey, data)
	case sql.OpDelete:
		key := encodeKey(keyValues)
		t.recordUndo(bucket, key)
		return bucket.Delete(key)
	}
	return nil
}

func (t *Table) recordUndo(bucket *bolt.Bucket, key []byte) {
	if len(t.savepoints) == 0 {
		return
	}
	old := bucket.Get(key)
	entry := undoOp{key: append([]byte(nil), key...)}
	if old != nil {
		entry.hadOld = true
		entry.old = append([]byte(nil), old...)
	}
	top := len(t.savepoints) - 1
	t.savepoints[top] = append(t.savepoints[top], entry)
}

func primaryKeyValues(row sql.Row, pk []int) sql.Row {
	out := make(sql.Row, len(pk))
	for i, idx := range pk {
		out[i] = row[idx]
	}
	return out
}

// SupportsPushdown: boltkv has no richer execution surface than scan+seek,
// already expressed via BestIndex, so it never accepts whole-subtree
// push-down.
func (t *Table) SupportsPushdown(subtree interface{}) *sql.RemoteQuerySupport { return nil }

func (t *Table) ExecutePlan(ctx context.Context, subtree interface{}, pushCtx interface{}) (sql.RowIter, error) {
	return nil, qerr.New(qerr.UNSUPPORTED, "boltkv does not support plan push-down")
}

// ---- sql.Connection ----

func (t *Table) Begin(ctx context.Context) error {
	if t.tx != nil {
		return qerr.New(qerr.MISUSE, "boltkv connection already has an open transaction")
	}
	tx, err := t.mod.db.Begin(true)
	if err != nil {
		return qerr.Wrap(qerr.INTERNAL, err, "beginning boltkv write transaction")
	}
	t.tx = tx
	t.savepoints = [][]undoOp{{}}
	return nil
}

func (t *Table) Commit(ctx context.Context) error {
	if t.tx == nil {
		return nil
	}
	err := t.tx.Commit()
	t.tx = nil
	t.savepoints = nil
	if err != nil {
		return qerr.Wrap(qerr.INTERNAL, err, "committing boltkv transaction")
	}
	return nil
}

func (t *Table) Rollback(ctx context.Context) error {
	if t.tx == nil {
		return nil
	}
	err := t.tx.Rollback()
	t.tx = nil
	t.savepoints = nil
	if err != nil {
		return qerr.Wrap(qerr.INTERNAL, err, "rolling back boltkv transaction")
	}
	return nil
}

// CreateSavepoint opens a new undo-log level.
func (t *Table) CreateSavepoint(ctx context.Context, index int) error {
	if t.tx == nil {
		return qerr.New(qerr.MISUSE, "boltkv: savepoint created outside a transaction")
	}
	t.savepoints = append(t.savepoints, nil)
	return nil
}

// ReleaseSavepoint folds the top undo level into its parent, keeping its
// writes but giving up the ability to roll back past them individually.
func (t *Table) ReleaseSavepoint(ctx context.Context, index int) error {
	if len(t.savepoints) < 2 {
		return qerr.New(qerr.MISUSE, "boltkv: no savepoint to release")
	}
	top := len(t.savepoints) - 1
	t.savepoints[top-1] = append(t.savepoints[top-1], t.savepoints[top]...)
	t.savepoints = t.savepoints[:top]
	return nil
}

// RollbackToSavepoint replays the undo log for every level above index's
// target depth, in reverse order, restoring prior key values within the
// still-open transaction.
func (t *Table) RollbackToSavepoint(ctx context.Context, index int) error {
	if t.tx == nil {
		return qerr.New(qerr.MISUSE, "boltkv: rollback to savepoint outside a transaction")
	}
	bucket, err := t.tx.CreateBucketIfNotExists(t.bucket)
	if err != nil {
		return qerr.Wrap(qerr.INTERNAL, err, "rolling back to savepoint")
	}
	undo := func(ops []undoOp) error {
		for i := len(ops) - 1; i >= 0; i-- {
			op := ops[i]
			if op.hadOld {
				if err := bucket.Put(op.key, op.old); err != nil {
					return err
				}
			} else if err := bucket.Delete(op.key); err != nil {
				return err
			}
		}
		return nil
	}
	// Level index+1 is the one CreateSavepoint(index) opened; rolling back
	// to it undoes its own accumulated writes too, but the savepoint itself
	// stays live for a possible second rollback.
	target := index + 1
	for len(t.savepoints)-1 > target {
		top := len(t.savepoints) - 1
		if err := undo(t.savepoints[top]); err != nil {
			return err
		}
		t.savepoints = t.savepoints[:top]
	}
	if target < len(t.savepoints) {
		if err := undo(t.savepoints[target]); err != nil {
			return err
		}
		t.savepoints[target] = nil
	}
	return nil
}

func (t *Table) Disconnect(ctx context.Context) error {
	if t.tx != nil {
		return t.Rollback(ctx)
	}
	return nil
}

// cursorIter adapts a bolt cursor to sql.RowIter.
type cursorIter struct {
	tx        *bolt.Tx
	cursor    *bolt.Cursor
	k, v      []byte
	exactSeek bool
	emitted   int64
	limit     int64
	done      bool
}

func (c *cursorIter) Next(ctx context.Context) (sql.Row, error) {
	if c.done || c.k == nil {
		return nil, io.EOF
	}
	if c.limit > 0 && c.emitted >= c.limit {
		return nil, io.EOF
	}
	row, err := decodeRow(c.v)
	if err != nil {
		return nil, err
	}
	c.emitted++
	if c.exactSeek {
		c.k = nil // a primary-key equality seek yields at most one row
	} else {
		c.k, c.v = c.cursor.Next()
	}
	return row, nil
}

func (c *cursorIter) Close(ctx context.Context) error {
	if c.done {
		return nil
	}
	c.done = true
	if c.tx != nil {
		return c.tx.Rollback()
	}
	return nil
}
