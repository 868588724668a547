package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quereus/quereus/plan"
	"github.com/quereus/quereus/sql"
)

func newTestContext() *Context {
	return NewContext(context.Background(), sql.NewCatalog(), nil, nil, nil, nil)
}

func TestContext_CreateSlotSetGetRoundTrip(t *testing.T) {
	rc := newTestContext()
	slot := rc.CreateRowSlot(plan.SingleRow)
	require.Nil(t, slot.Get())

	row := sql.Row{sql.IntValue(1)}
	slot.Set(row)
	require.Equal(t, row, rc.Slot(plan.SingleRow).Get())
}

func TestContext_SlotLookupMissReturnsNil(t *testing.T) {
	rc := newTestContext()
	require.Nil(t, rc.Slot(plan.SingleRow))
}

func TestContext_CloseSlotRemovesEntry(t *testing.T) {
	rc := newTestContext()
	rc.CreateRowSlot(plan.SingleRow)
	require.NotNil(t, rc.Slot(plan.SingleRow))

	rc.CloseSlot(plan.SingleRow)
	require.Nil(t, rc.Slot(plan.SingleRow))
}

func TestContext_CreateRowSlotTwiceWithoutCloseIsInternalPanic(t *testing.T) {
	rc := newTestContext()
	rc.CreateRowSlot(plan.SingleRow)

	require.Panics(t, func() {
		rc.CreateRowSlot(plan.SingleRow)
	})
}

func TestContext_CreateRowSlotAfterCloseIsAllowed(t *testing.T) {
	rc := newTestContext()
	rc.CreateRowSlot(plan.SingleRow)
	rc.CloseSlot(plan.SingleRow)

	require.NotPanics(t, func() {
		rc.CreateRowSlot(plan.SingleRow)
	})
}

func TestContext_ChildSharesSlotMapWithParent(t *testing.T) {
	rc := newTestContext()
	rc.CreateRowSlot(plan.SingleRow)
	row := sql.Row{sql.IntValue(7)}
	rc.Slot(plan.SingleRow).Set(row)

	child := rc.Child()
	require.Equal(t, row, child.Slot(plan.SingleRow).Get())

	child.CreateRowSlot(nil)
	require.NotNil(t, rc.Slot(nil))
}

func TestContext_CancelledFalseByDefault(t *testing.T) {
	rc := newTestContext()
	require.False(t, rc.Cancelled())
	require.NoError(t, rc.CheckCancelled())
}

func TestContext_CheckCancelledReturnsCancelledErrorAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rc := NewContext(ctx, sql.NewCatalog(), nil, nil, nil, nil)
	cancel()

	require.True(t, rc.Cancelled())
	err := rc.CheckCancelled()
	require.Error(t, err)
}

func TestContext_CheckCancelledAfterDeadlineExceeded(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	time.Sleep(5 * time.Millisecond)

	rc := NewContext(ctx, sql.NewCatalog(), nil, nil, nil, nil)
	require.Error(t, rc.CheckCancelled())
}

// fakeRel is a minimal RelationalNode carrying a fixed attribute list, for
// exercising the attribute-ID slot arena without building a full plan.
type fakeRel struct {
	attrs []*plan.Attribute
}

func (f *fakeRel) Children() []plan.Node              { return nil }
func (f *fakeRel) Scope() *plan.Scope                 { return nil }
func (f *fakeRel) EstimatedCost() float64             { return 0 }
func (f *fakeRel) String() string                     { return "fakeRel" }
func (f *fakeRel) RelAttributes() []*plan.Attribute   { return f.attrs }
func (f *fakeRel) RelType() *plan.RelationType        { return &plan.RelationType{} }
func (f *fakeRel) EstimatedRows() (int64, bool)       { return 0, false }

func TestAttrValue_ResolvesThroughRegisteredSlot(t *testing.T) {
	rc := newTestContext()
	rel := &fakeRel{attrs: []*plan.Attribute{{ID: 100, Name: "a"}, {ID: 101, Name: "b"}}}
	slot := rc.CreateRowSlot(rel)
	slot.Set(sql.Row{sql.IntValue(1), sql.TextValue("x")})

	v, ok := rc.AttrValue(101)
	require.True(t, ok)
	require.Equal(t, "x", v.Text())
}

func TestAttrValue_MissingAttributeReturnsFalse(t *testing.T) {
	rc := newTestContext()
	_, ok := rc.AttrValue(999)
	require.False(t, ok)
}

// TestAttrValue_LastWriterWinsAcrossLayouts: a downstream stage carrying a
// pass-through attribute at a different column index wins once it writes,
// the way a reordered projection repositions a column.
func TestAttrValue_LastWriterWinsAcrossLayouts(t *testing.T) {
	rc := newTestContext()
	shared := &plan.Attribute{ID: 200, Name: "id"}
	upstream := &fakeRel{attrs: []*plan.Attribute{shared, {ID: 201, Name: "name"}}}
	downstream := &fakeRel{attrs: []*plan.Attribute{{ID: 202, Name: "name"}, shared}}

	up := rc.CreateRowSlot(upstream)
	down := rc.CreateRowSlot(downstream)

	up.Set(sql.Row{sql.IntValue(7), sql.TextValue("n")})
	v, ok := rc.AttrValue(200)
	require.True(t, ok)
	require.Equal(t, int64(7), v.Int())

	down.Set(sql.Row{sql.TextValue("n"), sql.IntValue(7)})
	v, ok = rc.AttrValue(200)
	require.True(t, ok)
	require.Equal(t, int64(7), v.Int(), "resolved via downstream layout at index 1")

	rc.CloseSlot(downstream)
	v, ok = rc.AttrValue(200)
	require.True(t, ok, "upstream registration survives downstream close")
	require.Equal(t, int64(7), v.Int())
}

func TestExecState_CreatesOncePerExecution(t *testing.T) {
	rc := newTestContext()
	calls := 0
	mk := func() interface{} { calls++; return &calls }
	first := rc.ExecState("k", mk)
	second := rc.ExecState("k", mk)
	require.True(t, first == second)
	require.Equal(t, 1, calls)

	// A child context shares the same execution, a fresh context does not.
	require.True(t, first == rc.Child().ExecState("k", mk))
	other := newTestContext()
	other.ExecState("k", mk)
	require.Equal(t, 2, calls)
}

func TestNewRowDescriptor_MapsAttributeIDToColumnIndex(t *testing.T) {
	attrs := []*plan.Attribute{
		{ID: 10, Name: "a"},
		{ID: 20, Name: "b"},
	}
	d := NewRowDescriptor(attrs)
	require.Equal(t, 0, d[plan.AttributeID(10)])
	require.Equal(t, 1, d[plan.AttributeID(20)])
}

func TestRowDescriptor_ConcatOffsetsRightSideByLeftWidth(t *testing.T) {
	left := NewRowDescriptor([]*plan.Attribute{{ID: 1, Name: "l"}})
	right := NewRowDescriptor([]*plan.Attribute{{ID: 2, Name: "r1"}, {ID: 3, Name: "r2"}})

	joined := left.Concat(right, 1)
	require.Equal(t, 0, joined[plan.AttributeID(1)])
	require.Equal(t, 1, joined[plan.AttributeID(2)])
	require.Equal(t, 2, joined[plan.AttributeID(3)])
	require.Len(t, joined, 3)
}
