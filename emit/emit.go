// Package emit implements the emitter: it lowers a plan.Node tree into a
// runtime.Instruction graph via a process-wide registry of per-node-kind
// emitter functions, wrapping the top-level instruction with a
// schema-change validator when the emission captured catalog objects.
package emit

import (
	"reflect"

	"github.com/quereus/quereus/plan"
	"github.com/quereus/quereus/qerr"
	"github.com/quereus/quereus/runtime"
	"github.com/quereus/quereus/sql"
)

// Func is one plan-node-kind emitter: it lowers node into an Instruction,
// recursing into ectx.Emit for its children. Emitters are
// pure with respect to the plan and may capture schema objects into ectx
// for runtime validation.
type Func func(node plan.Node, ectx *Context) (*runtime.Instruction, error)

// registry maps each concrete plan node type to its emitter function,
// populated once at package init.
var registry = map[reflect.Type]Func{}

// register is called from each emitter file's init(), one entry per plan
// node kind, matching the closed variant set in package plan.
func register(sample plan.Node, fn Func) {
	registry[reflect.TypeOf(sample)] = fn
}

// Context carries the objects an emission needs: the catalog for schema
// snapshots, and the accumulating set of captured table/function names
// used to build the SCHEMA_CHANGED validator wrapped around the top-level
// instruction.
type Context struct {
	Catalog  *sql.Catalog
	captured []string
}

// NewContext returns a fresh emission context for one statement.
func NewContext(catalog *sql.Catalog) *Context {
	return &Context{Catalog: catalog}
}

// CaptureTable records schemaName.tableName as an identity this emission
// depends on, later checked by the SCHEMA_CHANGED validator.
func (c *Context) CaptureTable(schemaName, tableName string) {
	c.captured = append(c.captured, schemaName+"."+tableName)
}

// Emit dispatches node to its registered emitter function, looked up by
// concrete Go type.
func (c *Context) Emit(node plan.Node) (*runtime.Instruction, error) {
	fn, ok := registry[reflect.TypeOf(node)]
	if !ok {
		return nil, qerr.New(qerr.INTERNAL, "no emitter registered for plan node type %T", node)
	}
	return fn(node, c)
}

// EmitStatement emits the top-level instruction for one statement and
// wraps it with a schema-change validator covering every table this
// emission captured. Call this once per prepared statement
// execution, not per sub-instruction.
func EmitStatement(node plan.Node, catalog *sql.Catalog) (*runtime.Instruction, error) {
	ectx := NewContext(catalog)
	inst, err := ectx.Emit(node)
	if err != nil {
		return nil, err
	}
	if len(ectx.captured) == 0 {
		return inst, nil
	}
	snap, err := catalog.Snapshot(ectx.captured...)
	if err != nil {
		return nil, err
	}
	return inst.WithValidator(func() error { return catalog.Validate(snap) }), nil
}
