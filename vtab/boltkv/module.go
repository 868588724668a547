// Package boltkv is the reference virtual-table module: every table is one
// bucket in a shared github.com/boltdb/bolt database file, rows are
// msgpack-encoded (gopkg.in/vmihailenco/msgpack.v2), and keys are an
// order-preserving encoding of the table's primary key (see keycodec.go).
package boltkv

import (
	"context"
	"fmt"

	"github.com/boltdb/bolt"

	"github.com/quereus/quereus/qerr"
	"github.com/quereus/quereus/sql"
)

// Module is the boltkv vtab module. One Module instance is
// shared by every table bound to it; it owns the single *bolt.DB handle.
type Module struct {
	db *bolt.DB
}

// Open opens (creating if absent) the bolt database file at path.
func Open(path string) (*Module, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, qerr.Wrap(qerr.INTERNAL, err, "opening boltkv store %s", path)
	}
	return &Module{db: db}, nil
}

func bucketName(schemaName, tableName string) []byte {
	return []byte(schemaName + "." + tableName)
}

// Create implements sql.Module.Create: it declares the bucket and records
// the table's declared schema. args is not read: the caller's CREATE TABLE
// column list and keys are authoritative for shape.
func (m *Module) Create(ctx context.Context, db *sql.Catalog, schemaName, tableName string, args []string) (*sql.TableSchema, error) {
	err := m.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName(schemaName, tableName))
		return err
	})
	if err != nil {
		return nil, qerr.Wrap(qerr.INTERNAL, err, "creating boltkv bucket for %s.%s", schemaName, tableName)
	}
	// The engine's CreateTable plan node already carries the full column
	// list and keys; boltkv has no independent schema to
	// contribute beyond the bucket's existence, so it returns nil and lets
	// the caller keep its own TableSchema. Non-nil is reserved for modules
	// that infer schema from pre-existing storage.
	return nil, nil
}

// Connect implements sql.Module.Connect.
func (m *Module) Connect(ctx context.Context, aux interface{}, moduleName, schemaName, tableName string, options map[string]string) (sql.Table, error) {
	schema, ok := aux.(*sql.TableSchema)
	if !ok || schema == nil {
		return nil, qerr.New(qerr.MISUSE, "boltkv.Connect requires the table's TableSchema as aux")
	}
	return &Table{mod: m, schema: schema, bucket: bucketName(schemaName, tableName)}, nil
}

// Destroy implements sql.Module.Destroy.
func (m *Module) Destroy(ctx context.Context, schemaName, tableName string) error {
	err := m.db.Update(func(tx *bolt.Tx) error {
		return tx.DeleteBucket(bucketName(schemaName, tableName))
	})
	if err != nil {
		return qerr.Wrap(qerr.INTERNAL, err, "dropping boltkv bucket for %s.%s", schemaName, tableName)
	}
	return nil
}

// Close releases the underlying bolt.DB handle, used by Database.close.
func (m *Module) Close() error {
	if err := m.db.Close(); err != nil {
		return fmt.Errorf("boltkv: closing store: %w", err)
	}
	return nil
}
