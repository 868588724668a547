// Package plan defines the Quereus plan IR: a closed sum type of
// relational, scalar, and void/sink nodes, all sharing a scope and an
// estimated cost.
package plan

import "github.com/quereus/quereus/sql"

// Node is the root interface every plan node kind implements.
// Avoid open class hierarchies: the variant set is closed, so
// Node is a sum type expressed as a Go interface with exactly the
// implementations in this package.
type Node interface {
	// Children returns structural children.
	Children() []Node
	// Scope is the variable-resolution chain visible to this node.
	Scope() *Scope
	// EstimatedCost is a heuristic cost estimate used by the optimizer.
	EstimatedCost() float64
	// String yields a stable one-line summary for logging/plan printing.
	String() string
}

// RelationalNode produces rows.
type RelationalNode interface {
	Node
	// RelAttributes returns the attributes this node produces, in column
	// order.
	RelAttributes() []*Attribute
	// RelType returns this node's declared RelationType.
	RelType() *RelationType
	// EstimatedRows returns a row-count estimate and whether one is known.
	EstimatedRows() (int64, bool)
}

// ScalarNode produces one Value per invocation in some row context.
type ScalarNode interface {
	Node
	// ScalarType returns the type this expression evaluates to and whether
	// it may produce NULL.
	ScalarType() (sql.Type, bool)
}

// VoidNode produces no relational output: DDL, transaction ops, sinks.
type VoidNode interface {
	Node
}

// base is embedded by every concrete node to share scope/cost bookkeeping.
type base struct {
	scope *Scope
	cost  float64
}

func (b base) Scope() *Scope          { return b.scope }
func (b base) EstimatedCost() float64 { return b.cost }

// NoChildren is embedded by leaf nodes (SingleRow, Literal, Parameter, …).
type NoChildren struct{}

func (NoChildren) Children() []Node { return nil }
