// Package vtab holds the virtual-table contract's supporting
// infrastructure: the connection pool that binds schema.table names to
// live Table handles for the lifetime of a database handle, and the
// overlay adapter that supplies transactions to modules that have none.
package vtab

import (
	"context"
	"sync"

	"github.com/quereus/quereus/qerr"
	"github.com/quereus/quereus/sql"
)

// Pool owns one Table connection per schema.table, connecting lazily on
// first reference and disconnecting everything on Close.
type Pool struct {
	catalog *sql.Catalog

	mu    sync.Mutex
	conns map[string]sql.Table
}

// NewPool returns a connection pool backed by catalog.
func NewPool(catalog *sql.Catalog) *Pool {
	return &Pool{catalog: catalog, conns: make(map[string]sql.Table)}
}

func key(schemaName, tableName string) string { return schemaName + "." + tableName }

// Connect returns the pooled Table for schemaName.tableName, connecting it
// via its registered Module on first reference.
func (p *Pool) Connect(ctx context.Context, schemaName, tableName string) (sql.Table, error) {
	k := key(schemaName, tableName)
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.conns[k]; ok {
		return t, nil
	}
	schema, mod, err := p.catalog.Table(schemaName, tableName)
	if err != nil {
		return nil, err
	}
	// The resolved TableSchema travels as the Connect aux:
	// every module in this tree stores rows positionally against the
	// catalog's declared column list, so the schema is the one piece of
	// context all of them need.
	t, err := mod.Connect(ctx, schema, schema.Module, schemaName, tableName, nil)
	if err != nil {
		return nil, qerr.WrapVtab(tableName, err)
	}
	p.conns[k] = t
	return t, nil
}

// Evict disconnects and forgets the pooled connection for
// schemaName.tableName, if any. Called when the table is dropped so a
// later CREATE of the same name binds fresh.
func (p *Pool) Evict(ctx context.Context, schemaName, tableName string) error {
	k := key(schemaName, tableName)
	p.mu.Lock()
	t, ok := p.conns[k]
	delete(p.conns, k)
	p.mu.Unlock()
	if !ok {
		return nil
	}
	if err := t.Disconnect(ctx); err != nil {
		return qerr.WrapVtab(k, err)
	}
	return nil
}

// Close disconnects every pooled Table, aggregating the first error
// encountered but attempting every disconnect regardless.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var first error
	for k, t := range p.conns {
		if err := t.Disconnect(ctx); err != nil && first == nil {
			first = qerr.WrapVtab(k, err)
		}
	}
	p.conns = make(map[string]sql.Table)
	return first
}
