package plan

import "github.com/quereus/quereus/sql"

// Attribute is the identity of one produced column within a plan tree:
// a process-unique AttributeID, a name, a scalar type, a
// nullability flag, and a back-reference to its producing node.
type Attribute struct {
	ID       AttributeID
	Name     string
	Type     sql.Type
	Nullable bool
	// Producer is the RelationalNode that produces this attribute. Stored
	// as an interface rather than walked structurally, per the
	// "Cyclic references" design note: resolution is attribute-ID
	// indirection, not a pointer graph consumers must traverse.
	Producer RelationalNode
}

// NewAttribute issues a fresh attribute ID and returns the Attribute,
// mirroring every relational constructor's obligation to mint new IDs for
// columns it produces.
func NewAttribute(name string, typ sql.Type, nullable bool, producer RelationalNode) *Attribute {
	return &Attribute{ID: NewAttributeID(), Name: name, Type: typ, Nullable: nullable, Producer: producer}
}

// RelationType is the shape a RelationalNode produces:
// {columns, keys, isReadOnly, rowConstraints}. Keys are sets of column
// indices guaranteed unique.
type RelationType struct {
	Columns        []sql.Column
	Keys           [][]int
	IsReadOnly     bool
	RowConstraints []sql.RowConstraint
}

// HasKeys reports whether any key is declared at all.
func (t *RelationType) HasKeys() bool { return len(t.Keys) > 0 }
