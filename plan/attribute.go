package plan

import "sync/atomic"

// AttributeID is a process-unique, monotonically issued identity for a
// column position within a plan tree. Attribute IDs are the
// sole basis for column-reference resolution; names are advisory.
type AttributeID int64

var nextAttributeID int64

// NewAttributeID issues the next process-wide attribute ID.
func NewAttributeID() AttributeID {
	return AttributeID(atomic.AddInt64(&nextAttributeID, 1))
}
