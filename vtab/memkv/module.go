// Package memkv is an in-memory virtual-table module with no native
// transaction support of its own: every connection is wrapped in the
// engine's vtab.OverlayTable, so transactions, savepoints, and
// read-your-writes all flow through the isolation overlay and merge
// iterator. boltkv is the reference module for stores that bring their own
// transactions; memkv is the reference for stores that don't.
package memkv

import (
	"context"
	"io"
	"sort"
	"sync"

	"github.com/quereus/quereus/overlay"
	"github.com/quereus/quereus/qerr"
	"github.com/quereus/quereus/sql"
	"github.com/quereus/quereus/vtab"
)

// Module is the memkv vtab module. One Module instance holds
// every table bound to it.
type Module struct {
	mu     sync.Mutex
	stores map[string]*store
}

// New returns an empty memkv module.
func New() *Module {
	return &Module{stores: make(map[string]*store)}
}

var _ sql.Module = (*Module)(nil)

// store holds one table's committed rows, keyed by the encoded primary key.
type store struct {
	mu   sync.Mutex
	rows map[string]sql.Row
	pk   []int
}

func encodePK(key sql.Row) string {
	var b []byte
	for _, v := range key {
		b = append(b, byte(v.Type()))
		b = append(b, v.Text()...)
		b = append(b, 0)
	}
	return string(b)
}

func tableKey(schemaName, tableName string) string { return schemaName + "." + tableName }

// Create implements sql.Module.Create: it reserves
// the in-memory store. Shape comes entirely from the caller's declared
// column list, so no schema is returned.
func (m *Module) Create(ctx context.Context, db *sql.Catalog, schemaName, tableName string, args []string) (*sql.TableSchema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := tableKey(schemaName, tableName)
	if _, exists := m.stores[k]; !exists {
		m.stores[k] = &store{rows: make(map[string]sql.Row)}
	}
	return nil, nil
}

// Connect implements sql.Module.Connect, wrapping
// the raw store in the engine's overlay isolation layer.
func (m *Module) Connect(ctx context.Context, aux interface{}, moduleName, schemaName, tableName string, options map[string]string) (sql.Table, error) {
	schema, ok := aux.(*sql.TableSchema)
	if !ok || schema == nil {
		return nil, qerr.New(qerr.MISUSE, "memkv.Connect requires the table's TableSchema as aux")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := tableKey(schemaName, tableName)
	s, exists := m.stores[k]
	if !exists {
		s = &store{rows: make(map[string]sql.Row)}
		m.stores[k] = s
	}
	s.pk = schema.PrimaryKey()
	base := &baseTable{store: s, schema: schema}
	return vtab.NewOverlayTable(base, schema), nil
}

// Destroy implements sql.Module.Destroy.
func (m *Module) Destroy(ctx context.Context, schemaName, tableName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stores, tableKey(schemaName, tableName))
	return nil
}

// baseTable is the raw, non-transactional view of one store: Query reads
// committed rows in PK order, Update applies immediately. OverlayTable
// supplies everything transactional on top.
type baseTable struct {
	store  *store
	schema *sql.TableSchema
}

var _ sql.Table = (*baseTable)(nil)

func (t *baseTable) Schema() *sql.TableSchema { return t.schema }

func (t *baseTable) pkOf(row sql.Row) sql.Row {
	out := make(sql.Row, len(t.store.pk))
	for i, idx := range t.store.pk {
		if idx < len(row) {
			out[i] = row[idx]
		}
	}
	return out
}

// BestIndex mirrors boltkv's: a usable equality constraint on the leading
// PK column becomes a direct lookup, and PK-ascending output order is free.
func (t *baseTable) BestIndex(ctx context.Context, info sql.BestIndexInfo) (sql.BestIndexResult, error) {
	res := sql.BestIndexResult{
		ConstraintUsage: make([]bool, len(info.Constraints)),
		EstimatedCost:   float64(len(t.store.rows) + 1),
		EstimatedRows:   int64(len(t.store.rows)),
	}
	if len(t.store.pk) == 0 {
		return res, nil
	}
	leading := t.store.pk[0]
	for i, c := range info.Constraints {
		if c.Usable && c.ColumnIndex == leading && c.Op == "=" {
			res.ConstraintUsage[i] = true
			res.IndexName = "primary"
			res.EstimatedCost = 1
			res.EstimatedRows = 1
		}
	}
	if len(info.OrderBy) == 1 && info.OrderBy[0].ColumnIndex == leading && !info.OrderBy[0].Desc {
		res.OrderSatisfied = true
	}
	return res, nil
}

// Query snapshots the committed rows in PK order.
func (t *baseTable) Query(ctx context.Context, filter sql.FilterInfo) (sql.RowIter, error) {
	t.store.mu.Lock()
	rows := make([]sql.Row, 0, len(t.store.rows))
	for _, r := range t.store.rows {
		rows = append(rows, r)
	}
	t.store.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool {
		return overlay.ComparePK(t.pkOf(rows[i]), t.pkOf(rows[j]), sql.CollationBinary) < 0
	})

	if filter.IndexName == "primary" {
		for _, b := range filter.Bounds {
			if b.Op == "=" && len(t.store.pk) > 0 && b.ColumnIndex == t.store.pk[0] {
				var match []sql.Row
				for _, r := range rows {
					if sql.Compare(r[b.ColumnIndex], b.Value, sql.CollationBinary) == 0 {
						match = append(match, r)
					}
				}
				rows = match
			}
		}
	}
	if filter.Limit > 0 && int64(len(rows)) > filter.Limit {
		rows = rows[:filter.Limit]
	}
	return &sliceIter{rows: rows}, nil
}

// Update applies one mutation directly to the committed store. Under the
// overlay wrapper OpInsert doubles as the commit-time upsert.
func (t *baseTable) Update(ctx context.Context, op sql.UpdateOp, newRow sql.Row, keyValues sql.Row) (int64, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	switch op {
	case sql.OpInsert:
		t.store.rows[encodePK(t.pkOf(newRow))] = newRow.Copy()
	case sql.OpUpdate:
		oldKey := encodePK(keyValues)
		newKey := encodePK(t.pkOf(newRow))
		if oldKey != newKey {
			delete(t.store.rows, oldKey)
		}
		t.store.rows[newKey] = newRow.Copy()
	case sql.OpDelete:
		delete(t.store.rows, encodePK(keyValues))
	default:
		return 0, qerr.Internalf("unknown update op %v", op)
	}
	return 0, nil
}

func (t *baseTable) SupportsPushdown(subtree interface{}) *sql.RemoteQuerySupport { return nil }

func (t *baseTable) ExecutePlan(ctx context.Context, subtree interface{}, pushCtx interface{}) (sql.RowIter, error) {
	return nil, qerr.New(qerr.UNSUPPORTED, "memkv does not support plan push-down")
}

func (t *baseTable) Disconnect(ctx context.Context) error { return nil }

type sliceIter struct {
	rows []sql.Row
	idx  int
}

func (s *sliceIter) Next(ctx context.Context) (sql.Row, error) {
	if s.idx >= len(s.rows) {
		return nil, io.EOF
	}
	row := s.rows[s.idx]
	s.idx++
	return row, nil
}

func (s *sliceIter) Close(ctx context.Context) error { return nil }
