package plan

import "github.com/quereus/quereus/sql"

// ScopeKind distinguishes the three links in the resolution chain:
// GlobalScope(schemaManager) -> ParameterScope(types) ->
// RelationScope(...).
type ScopeKind int

const (
	GlobalScopeKind ScopeKind = iota
	ParameterScopeKind
	RelationScopeKind
)

// ResolutionKind tags what a Scope.Lookup call found.
type ResolutionKind int

const (
	ResolvedNone ResolutionKind = iota
	ResolvedAttribute
	ResolvedParameter
	ResolvedAmbiguous
)

// Resolution is the result of a name lookup: an attribute reference, a
// parameter slot, or Ambiguous.
type Resolution struct {
	Kind      ResolutionKind
	Attribute *Attribute
	ParamSlot int
}

// Scope is one link in the chain: GlobalScope(schemaManager) ->
// ParameterScope(types) -> RelationScope(…). Name lookup
// walks outward (child to parent) until it finds a match or exhausts the
// chain.
type Scope struct {
	kind   ScopeKind
	parent *Scope

	// Global
	catalog *sql.Catalog

	// Parameter
	paramTypes map[string]sql.Type
	paramOrder []string

	// Relation
	relationName string
	attributes   []*Attribute
}

// NewGlobalScope is the root of every scope chain, carrying the schema
// manager.
func NewGlobalScope(catalog *sql.Catalog) *Scope {
	return &Scope{kind: GlobalScopeKind, catalog: catalog}
}

// NewParameterScope links a parameter-type chain onto parent, populated by
// the plan builder's parameter-binding pass.
func NewParameterScope(parent *Scope) *Scope {
	return &Scope{kind: ParameterScopeKind, parent: parent, paramTypes: map[string]sql.Type{}}
}

// BindParameter records a parameter name (already normalized: positional
// numbers as "1", "2", …, or a trimmed named parameter) and its hint type,
// assigning it the next ordinal slot.
func (s *Scope) BindParameter(name string, hint sql.Type) int {
	if s.kind != ParameterScopeKind {
		panic("BindParameter called on non-parameter scope")
	}
	if _, ok := s.paramTypes[name]; !ok {
		s.paramOrder = append(s.paramOrder, name)
	}
	s.paramTypes[name] = hint
	for i, n := range s.paramOrder {
		if n == name {
			return i
		}
	}
	return -1
}

// ParameterNames returns the bound parameter names in slot order, used by
// the Database binding layer to map named arguments onto positional slots.
func (s *Scope) ParameterNames() []string {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.kind == ParameterScopeKind {
			out := make([]string, len(cur.paramOrder))
			copy(out, cur.paramOrder)
			return out
		}
	}
	return nil
}

// NewRelationScope links one relational node's attributes onto parent,
// used while building Project/Filter/Join etc. so nested scalar
// expressions can resolve column references.
func NewRelationScope(parent *Scope, relationName string, attrs []*Attribute) *Scope {
	return &Scope{kind: RelationScopeKind, parent: parent, relationName: relationName, attributes: attrs}
}

// Catalog walks to the root GlobalScope and returns its catalog.
func (s *Scope) Catalog() *sql.Catalog {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.kind == GlobalScopeKind {
			return cur.catalog
		}
	}
	return nil
}

// Lookup resolves name by walking outward: RelationScope links first (most
// local), then ParameterScope, then GlobalScope. qualifier, if
// non-empty, restricts matches to a relation/table alias.
func (s *Scope) Lookup(qualifier, name string) Resolution {
	var found *Attribute
	ambiguous := false
	for cur := s; cur != nil; cur = cur.parent {
		switch cur.kind {
		case RelationScopeKind:
			if qualifier != "" && cur.relationName != "" && qualifier != cur.relationName {
				continue
			}
			for _, a := range cur.attributes {
				if a.Name == name {
					if found != nil && found.ID != a.ID {
						ambiguous = true
					}
					found = a
				}
			}
			if found != nil {
				if ambiguous {
					return Resolution{Kind: ResolvedAmbiguous}
				}
				return Resolution{Kind: ResolvedAttribute, Attribute: found}
			}
		case ParameterScopeKind:
			if qualifier == "" {
				if _, ok := cur.paramTypes[name]; ok {
					for i, n := range cur.paramOrder {
						if n == name {
							return Resolution{Kind: ResolvedParameter, ParamSlot: i}
						}
					}
				}
			}
		}
	}
	return Resolution{Kind: ResolvedNone}
}
