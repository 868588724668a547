// Package overlay implements the isolation overlay and merge iterator: a
// per-connection in-memory mutation buffer that gives a virtual-table
// module read-your-writes and snapshot-style isolation without requiring
// the module's backing store to have any native transaction support of its
// own.
package overlay

import (
	"sort"

	"github.com/quereus/quereus/sql"
)

// MergeEntry is one overlay slot keyed by primary key: either a
// row to substitute for the base row at the same primary key (Tombstone
// false) or a marker that the base row at PK is deleted (Tombstone true).
type MergeEntry struct {
	Row       sql.Row
	Tombstone bool
	PK        sql.Row
	SortKey   sql.Row
}

// layer is one level of the savepoint stack: an unordered map from the
// string-encoded PK to the entry most recently written at that key within
// this layer. Entries sorts by sort key when reading.
type layer struct {
	byPK map[string]*MergeEntry
}

func newLayer() *layer { return &layer{byPK: make(map[string]*MergeEntry)} }

// Overlay is the per-connection, per-in-progress-transaction mutation
// buffer. It is empty between transactions. Layers model
// nested SAVEPOINTs: layer 0 is the base transaction level; CreateSavepoint
// pushes a new layer on top.
type Overlay struct {
	layers []*layer
	coll   sql.Collation
}

// New returns an empty overlay using coll to order text sort-key columns.
func New(coll sql.Collation) *Overlay {
	return &Overlay{coll: coll}
}

// Begin opens the base transaction layer. Calling Begin on an overlay that
// already has layers is a no-op: the caller (the transaction coordinator)
// is responsible for not double-beginning.
func (o *Overlay) Begin() {
	if len(o.layers) == 0 {
		o.layers = []*layer{newLayer()}
	}
}

// Active reports whether a transaction is open on this overlay.
func (o *Overlay) Active() bool { return len(o.layers) > 0 }

// End discards all layers, returning the overlay to its empty
// between-transactions state.
func (o *Overlay) End() { o.layers = nil }

// CreateSavepoint pushes a new, empty layer.
func (o *Overlay) CreateSavepoint() {
	o.layers = append(o.layers, newLayer())
}

// ReleaseSavepoint merges every layer above depth, top first, into layer
// depth: depth keeps their writes, but loses the ability to roll back
// past them individually. depth is the zero-based layer index the
// coordinator wants released down to; afterwards it is the top layer.
func (o *Overlay) ReleaseSavepoint(depth int) {
	for len(o.layers)-1 > depth {
		top := o.layers[len(o.layers)-1]
		parent := o.layers[len(o.layers)-2]
		for pk, e := range top.byPK {
			parent.byPK[pk] = e
		}
		o.layers = o.layers[:len(o.layers)-1]
	}
}

// RollbackToSavepoint discards every layer above depth.
func (o *Overlay) RollbackToSavepoint(depth int) {
	if depth+1 < len(o.layers) {
		o.layers = o.layers[:depth+1]
	}
}

// SavepointDepth returns the index of the current top layer. Recorded just
// before CreateSavepoint, it is the depth to pass to a later
// RollbackToSavepoint/ReleaseSavepoint for that savepoint.
func (o *Overlay) SavepointDepth() int { return len(o.layers) - 1 }

func encodePK(pk sql.Row) string {
	var b []byte
	for _, v := range pk {
		b = append(b, v.Text()...)
		b = append(b, 0)
	}
	return string(b)
}

// Put records an upsert (INSERT or UPDATE) at pk with sortKey ordering,
// read back by subsequent scans within the same transaction.
func (o *Overlay) Put(pk, sortKey, row sql.Row) {
	o.set(pk, &MergeEntry{Row: row, PK: pk, SortKey: sortKey})
}

// Delete records a tombstone at pk.
func (o *Overlay) Delete(pk, sortKey sql.Row) {
	o.set(pk, &MergeEntry{Tombstone: true, PK: pk, SortKey: sortKey})
}

func (o *Overlay) set(pk sql.Row, e *MergeEntry) {
	if len(o.layers) == 0 {
		o.Begin()
	}
	o.layers[len(o.layers)-1].byPK[encodePK(pk)] = e
}

// Entries returns the overlay's current effective entries (top layer wins
// per PK, falling down through older layers for PKs the top layer never
// touched), sorted by SortKey ascending. This is the overlay stream fed to
// Merge.
func (o *Overlay) Entries() []*MergeEntry {
	effective := make(map[string]*MergeEntry)
	for _, l := range o.layers {
		for pk, e := range l.byPK {
			effective[pk] = e
		}
	}
	out := make([]*MergeEntry, 0, len(effective))
	for _, e := range effective {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return CompareSortKey(out[i].SortKey, out[j].SortKey, o.coll) < 0
	})
	return out
}

// CompareSortKey orders two sort-key tuples lexicographically, ties broken
// implicitly since the tuple's trailing components are the PK parts for
// secondary-index sort keys.
func CompareSortKey(a, b sql.Row, coll sql.Collation) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := sql.Compare(a[i], b[i], coll); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// ComparePK breaks CompareSortKey ties: used when two
// streams produce equal sort keys via different representations (e.g. a
// secondary-index sort key must still resolve to a single PK winner).
func ComparePK(a, b sql.Row, coll sql.Collation) int {
	return CompareSortKey(a, b, coll)
}
