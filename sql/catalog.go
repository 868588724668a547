package sql

import (
	"sync"

	"github.com/mitchellh/hashstructure"

	"github.com/quereus/quereus/qerr"
)

// Catalog is the schema manager: the single named registry
// of tables, modules, functions, and views for one Database. It is mutable
// by DDL and is the object every Retrieve/TableReference node captures a
// snapshot of for later SCHEMA_CHANGED validation.
type Catalog struct {
	mu      sync.RWMutex
	tables  map[string]*catalogEntry
	modules map[string]Module
	funcs   map[string]*FunctionSchema
	views   map[string]*ViewSchema

	// defaultModule backs CREATE TABLE statements with no USING clause.
	// The first registered module becomes the default unless
	// SetDefaultModule overrides it.
	defaultModule string

	// version increments on every DDL mutation; it is included in the
	// structural hash captured by emitted instructions.
	version uint64

	listeners []func(SchemaChangeEvent)
}

// catalogEntry pairs a TableSchema with the live Module it is bound to, so
// lookups return both the shape and the module needed to Connect.
type catalogEntry struct {
	schema *TableSchema
	module Module
}

// SchemaChangeEvent is broadcast whenever DDL mutates the catalog. This is
// distinct from the post-commit data-change bus (txn
// package); this one fires synchronously from CREATE/DROP/ALTER.
type SchemaChangeEvent struct {
	SchemaName string
	TableName  string
	Op         string // "create", "drop", "alter"
}

func NewCatalog() *Catalog {
	return &Catalog{
		tables:  make(map[string]*catalogEntry),
		modules: make(map[string]Module),
		funcs:   make(map[string]*FunctionSchema),
		views:   make(map[string]*ViewSchema),
	}
}

func key(schema, name string) string { return schema + "." + name }

// RegisterModule registers a virtual-table module by name, used later by
// CREATE TABLE ... USING <module>.
func (c *Catalog) RegisterModule(name string, m Module) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modules[name] = m
	if c.defaultModule == "" {
		c.defaultModule = name
	}
}

// SetDefaultModule names the module CREATE TABLE binds to when no USING
// clause is given.
func (c *Catalog) SetDefaultModule(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaultModule = name
}

// DefaultModule returns the default module name, empty if none registered.
func (c *Catalog) DefaultModule() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaultModule
}

func (c *Catalog) Module(name string) (Module, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.modules[name]
	return m, ok
}

// RegisterFunction registers a scalar/aggregate/window function schema.
func (c *Catalog) RegisterFunction(fn *FunctionSchema) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.funcs[fn.Name] = fn
}

func (c *Catalog) Function(name string) (*FunctionSchema, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.funcs[name]
	return f, ok
}

// CreateTable registers a new table bound to module moduleName, bumping the
// catalog version and broadcasting a SchemaChangeEvent.
func (c *Catalog) CreateTable(schemaName, tableName string, schema *TableSchema, moduleName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.modules[moduleName]
	if !ok {
		return qerr.NotFoundf("module %q not registered", moduleName)
	}
	k := key(schemaName, tableName)
	if _, exists := c.tables[k]; exists {
		return qerr.New(qerr.CONSTRAINT, "table %s already exists", k)
	}
	schema.SchemaName = schemaName
	schema.Name = tableName
	schema.Module = moduleName
	c.tables[k] = &catalogEntry{schema: schema, module: m}
	c.version++
	c.notify(SchemaChangeEvent{SchemaName: schemaName, TableName: tableName, Op: "create"})
	return nil
}

// DropTable removes a table from the catalog.
func (c *Catalog) DropTable(schemaName, tableName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key(schemaName, tableName)
	if _, ok := c.tables[k]; !ok {
		return qerr.NotFoundf("table %s not found", k)
	}
	delete(c.tables, k)
	c.version++
	c.notify(SchemaChangeEvent{SchemaName: schemaName, TableName: tableName, Op: "drop"})
	return nil
}

// Table resolves a table by name to its TableSchema and the Module that
// backs it.
func (c *Catalog) Table(schemaName, tableName string) (*TableSchema, Module, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.tables[key(schemaName, tableName)]
	if !ok {
		return nil, nil, qerr.NotFoundf("table %s.%s not found", schemaName, tableName)
	}
	return e.schema, e.module, nil
}

// RegisterView stores a view definition.
func (c *Catalog) RegisterView(v *ViewSchema) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.views[key(v.SchemaName, v.Name)] = v
	c.version++
}

func (c *Catalog) DropView(schemaName, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key(schemaName, name)
	if _, ok := c.views[k]; !ok {
		return qerr.NotFoundf("view %s not found", k)
	}
	delete(c.views, k)
	c.version++
	return nil
}

func (c *Catalog) View(schemaName, name string) (*ViewSchema, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.views[key(schemaName, name)]
	return v, ok
}

// OnSchemaChange subscribes to DDL events. Returns an unsubscribe function.
func (c *Catalog) OnSchemaChange(fn func(SchemaChangeEvent)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := len(c.listeners)
	c.listeners = append(c.listeners, fn)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.listeners[idx] = nil
	}
}

func (c *Catalog) notify(evt SchemaChangeEvent) {
	for _, l := range c.listeners {
		if l != nil {
			l(evt)
		}
	}
}

// Version returns the current catalog version, used by plan.SingleRow-style
// process-wide identity checks as a cheap pre-check before the structural
// hash comparison below.
func (c *Catalog) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Snapshot captures the identity and a structural hash of the named tables,
// used by the emitter to detect SCHEMA_CHANGED between emission and
// execution.
type Snapshot struct {
	catalogVersion uint64
	hashes         map[string]uint64
}

func (c *Catalog) Snapshot(tables ...string) (*Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := &Snapshot{catalogVersion: c.version, hashes: make(map[string]uint64, len(tables))}
	for _, t := range tables {
		e, ok := c.tables[t]
		if !ok {
			return nil, qerr.NotFoundf("table %s not found while capturing schema snapshot", t)
		}
		h, err := hashstructure.Hash(e.schema, nil)
		if err != nil {
			return nil, qerr.Wrap(qerr.INTERNAL, err, "hashing schema for %s", t)
		}
		s.hashes[t] = h
	}
	return s, nil
}

// Validate reports SCHEMA_CHANGED if any captured table has been dropped or
// altered since the snapshot was taken.
func (c *Catalog) Validate(s *Snapshot) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.version == s.catalogVersion {
		return nil // fast path: nothing changed at all
	}
	for t, wantHash := range s.hashes {
		e, ok := c.tables[t]
		if !ok {
			return qerr.New(qerr.SCHEMA_CHANGED, "table %s no longer exists", t)
		}
		h, err := hashstructure.Hash(e.schema, nil)
		if err != nil {
			return qerr.Wrap(qerr.INTERNAL, err, "hashing schema for %s", t)
		}
		if h != wantHash {
			return qerr.New(qerr.SCHEMA_CHANGED, "table %s was altered", t)
		}
	}
	return nil
}
