package plan

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quereus/quereus/sql"
)

func intLiteral(v int64) *Literal { return NewLiteral(sql.IntValue(v)) }

func TestSingleRow_YieldsOneRowOfWidthZero(t *testing.T) {
	rows, ok := SingleRow.EstimatedRows()
	require.True(t, ok)
	require.Equal(t, int64(1), rows)
	require.Empty(t, SingleRow.RelAttributes())
}

func TestNewValues_MintsDistinctAttributeIDsPerColumn(t *testing.T) {
	scope := NewGlobalScope(nil)
	rows := [][]ScalarNode{{intLiteral(1), intLiteral(2)}}
	v, err := NewValues(scope, rows, []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, v.RelAttributes(), 2)
	require.NotEqual(t, v.RelAttributes()[0].ID, v.RelAttributes()[1].ID)
}

func TestNewValues_EmptyRowsIsError(t *testing.T) {
	_, err := NewValues(NewGlobalScope(nil), nil, nil)
	require.Error(t, err)
}

func newTableRef(t *testing.T, pkCol int) *TableReference {
	schema := &sql.TableSchema{
		Name: "t",
		Columns: []sql.Column{
			{Name: "id", Type: sql.INTEGER},
			{Name: "name", Type: sql.TEXT, Nullable: true},
		},
		Keys: [][]int{{pkCol}},
	}
	return NewTableReference(NewGlobalScope(nil), "main", "t", "t", schema)
}

func TestProject_BareColumnReferencePassesAttributeIdentityThrough(t *testing.T) {
	tr := newTableRef(t, 0)
	idAttr := tr.RelAttributes()[0]
	cr := NewColumnReference(tr.Scope(), idAttr)

	p, err := NewProject(tr, []ScalarNode{cr}, []string{"id"})
	require.NoError(t, err)
	require.Equal(t, idAttr.ID, p.RelAttributes()[0].ID)
}

func TestProject_ComputedExpressionMintsNewAttribute(t *testing.T) {
	tr := newTableRef(t, 0)
	idAttr := tr.RelAttributes()[0]
	cr := NewColumnReference(tr.Scope(), idAttr)
	expr := NewBinaryOp("+", cr, intLiteral(1))

	p, err := NewProject(tr, []ScalarNode{expr}, []string{"id_plus_one"})
	require.NoError(t, err)
	require.NotEqual(t, idAttr.ID, p.RelAttributes()[0].ID)
}

func TestProject_NamesProjectionsLengthMismatchIsError(t *testing.T) {
	tr := newTableRef(t, 0)
	_, err := NewProject(tr, []ScalarNode{intLiteral(1), intLiteral(2)}, []string{"only_one"})
	require.Error(t, err)
}

func TestJoin_LeftJoinMakesRightColumnsNullable(t *testing.T) {
	left := newTableRef(t, 0)
	right := newTableRef(t, 0)
	j := NewJoin(left, right, LeftJoin, nil)

	rightCols := j.RelType().Columns[len(left.RelAttributes()):]
	for _, c := range rightCols {
		require.True(t, c.Nullable)
	}
}

func TestJoin_ConcatenatesLeftAndRightAttributesInOrder(t *testing.T) {
	left := newTableRef(t, 0)
	right := newTableRef(t, 0)
	j := NewJoin(left, right, InnerJoin, nil)

	require.Len(t, j.RelAttributes(), len(left.RelAttributes())+len(right.RelAttributes()))
	require.Equal(t, left.RelAttributes()[0].ID, j.RelAttributes()[0].ID)
}

func TestJoin_EstimatedRowsIsProductWhenBothKnown(t *testing.T) {
	scope := NewGlobalScope(nil)
	left, err := NewValues(scope, [][]ScalarNode{{intLiteral(1)}, {intLiteral(2)}}, []string{"a"})
	require.NoError(t, err)
	right, err := NewValues(scope, [][]ScalarNode{{intLiteral(1)}, {intLiteral(2)}, {intLiteral(3)}}, []string{"b"})
	require.NoError(t, err)

	j := NewJoin(left, right, CrossJoin, nil)
	rows, ok := j.EstimatedRows()
	require.True(t, ok)
	require.Equal(t, int64(6), rows)
}

func TestLimitOffset_EstimateClampsToLiteralLimit(t *testing.T) {
	scope := NewGlobalScope(nil)
	v, err := NewValues(scope, [][]ScalarNode{{intLiteral(1)}, {intLiteral(2)}, {intLiteral(3)}}, []string{"a"})
	require.NoError(t, err)

	lo := NewLimitOffset(v, intLiteral(2), nil)
	rows, ok := lo.EstimatedRows()
	require.True(t, ok)
	require.Equal(t, int64(2), rows)
}

func TestAggregate_NoGroupByYieldsExactlyOneEstimatedRow(t *testing.T) {
	tr := newTableRef(t, 0)
	agg := NewAggregate(tr, nil, nil, []AggregateFunc{{FuncName: "count"}}, []string{"n"})
	rows, ok := agg.EstimatedRows()
	require.True(t, ok)
	require.Equal(t, int64(1), rows)
}

func TestAggregate_GroupByColumnsFormDeclaredKey(t *testing.T) {
	tr := newTableRef(t, 0)
	idAttr := tr.RelAttributes()[0]
	cr := NewColumnReference(tr.Scope(), idAttr)
	agg := NewAggregate(tr, []ScalarNode{cr}, []string{"id"}, nil, nil)
	require.Equal(t, [][]int{{0}}, agg.RelType().Keys)
}

func TestRetrieve_WrapsTableReferenceAndDelegatesAttributes(t *testing.T) {
	tr := newTableRef(t, 0)
	r := NewRetrieve(tr, nil)
	require.Equal(t, tr.RelAttributes(), r.RelAttributes())
	require.Len(t, r.Children(), 1)
}

func TestWalkScalar_VisitsEveryDescendant(t *testing.T) {
	tr := newTableRef(t, 0)
	cr := NewColumnReference(tr.Scope(), tr.RelAttributes()[0])
	expr := NewBinaryOp("+", cr, intLiteral(1))

	var visited []Node
	WalkScalar(expr, func(n Node) bool {
		visited = append(visited, n)
		return true
	})
	require.Len(t, visited, 3)
}

func TestCollectColumnRefs_FindsNestedColumnReference(t *testing.T) {
	tr := newTableRef(t, 0)
	cr := NewColumnReference(tr.Scope(), tr.RelAttributes()[0])
	expr := NewUnaryOp("NOT", NewBinaryOp("=", cr, intLiteral(1)))

	refs := CollectColumnRefs(expr)
	require.Len(t, refs, 1)
	require.Equal(t, tr.RelAttributes()[0].ID, refs[0].Attr.ID)
}

func TestInferCallNullability_CoalesceRequiresEveryArgNullable(t *testing.T) {
	require.False(t, inferCallNullability("coalesce", []bool{true, false}))
	require.True(t, inferCallNullability("coalesce", []bool{true, true}))
}

func TestInferCallNullability_OrdinaryFuncIsNullableIfAnyArgIs(t *testing.T) {
	require.True(t, inferCallNullability("upper", []bool{false, true}))
	require.False(t, inferCallNullability("upper", []bool{false, false}))
}
