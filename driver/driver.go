// Package driver exposes a quereus.Database through the stdlib
// database/sql interface: the DSN names a database resolved through a
// host-supplied Provider, and each sql.Conn maps onto the
// single-statement-at-a-time discipline the engine requires.
package driver

import (
	"database/sql/driver"
	"sync"

	quereus "github.com/quereus/quereus"
	"github.com/quereus/quereus/qerr"
)

// Provider resolves DSNs to engine handles. A host typically keys handles
// by file path or a logical name.
type Provider interface {
	Resolve(name string) (*quereus.Database, error)
}

// ProviderFunc adapts a plain function to Provider.
type ProviderFunc func(name string) (*quereus.Database, error)

func (f ProviderFunc) Resolve(name string) (*quereus.Database, error) { return f(name) }

// Driver exposes the engine as a stdlib SQL driver.
type Driver struct {
	provider Provider

	mu  sync.Mutex
	dbs map[string]*quereus.Database
}

// New returns a driver using the specified provider.
func New(provider Provider) *Driver {
	return &Driver{
		provider: provider,
		dbs:      map[string]*quereus.Database{},
	}
}

// Open returns a new connection to the database. database/sql pools these;
// all of them share one underlying engine handle per DSN, matching the
// engine's one-coordinator-per-handle model.
func (d *Driver) Open(name string) (driver.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	db, ok := d.dbs[name]
	if !ok {
		var err error
		db, err = d.provider.Resolve(name)
		if err != nil {
			return nil, err
		}
		d.dbs[name] = db
	}
	return &Conn{db: db}, nil
}

// unsupported returns a qerr UNSUPPORTED error naming the driver operation
// op, so callers can inspect the qerr.StatusCode.
func unsupported(op string) error {
	return qerr.New(qerr.UNSUPPORTED, "driver: %s not supported", op)
}
