package planbuilder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quereus/quereus/ast"
	"github.com/quereus/quereus/plan"
	"github.com/quereus/quereus/qerr"
	"github.com/quereus/quereus/sql"
)

type nopModule struct{}

func (nopModule) Create(ctx context.Context, db *sql.Catalog, schemaName, tableName string, args []string) (*sql.TableSchema, error) {
	return nil, nil
}
func (nopModule) Connect(ctx context.Context, aux interface{}, moduleName, schemaName, tableName string, options map[string]string) (sql.Table, error) {
	return nil, nil
}
func (nopModule) Destroy(ctx context.Context, schemaName, tableName string) error { return nil }

func newTestCatalog(t *testing.T) *sql.Catalog {
	t.Helper()
	c := sql.NewCatalog()
	c.RegisterModule("mod", nopModule{})
	require.NoError(t, c.CreateTable("main", "t", &sql.TableSchema{
		Columns: []sql.Column{
			{Name: "id", Type: sql.INTEGER},
			{Name: "name", Type: sql.TEXT, Nullable: true},
		},
		Keys: [][]int{{0}},
	}, "mod"))
	require.NoError(t, c.CreateTable("main", "u", &sql.TableSchema{
		Columns: []sql.Column{
			{Name: "id", Type: sql.INTEGER},
			{Name: "label", Type: sql.TEXT, Nullable: true},
		},
		Keys: [][]int{{0}},
	}, "mod"))
	return c
}

func selectStar() *ast.SelectStmt {
	return &ast.SelectStmt{
		Columns: []ast.SelectItem{{Star: true}},
		From:    &ast.TableName{Name: "t"},
	}
}

func walk(n plan.Node, visit func(plan.Node)) {
	visit(n)
	for _, c := range n.Children() {
		walk(c, visit)
	}
}

// TestBuild_WrapRetrieveRule checks the Wrap-Retrieve rule: every base
// TableReference is immediately wrapped in a Retrieve node.
func TestBuild_WrapRetrieveRule(t *testing.T) {
	b := New(newTestCatalog(t), "main", nil)
	node, err := b.BuildOne(selectStar())
	require.NoError(t, err)

	var tableRefs, retrieves int
	var wrapped bool
	walk(node, func(n plan.Node) {
		switch v := n.(type) {
		case *plan.Retrieve:
			retrieves++
			_, wrapped = v.Children()[0].(*plan.TableReference)
		case *plan.TableReference:
			tableRefs++
		}
	})
	require.Equal(t, 1, tableRefs)
	require.Equal(t, 1, retrieves)
	require.True(t, wrapped, "Retrieve wraps the TableReference directly")
}

// TestBuild_AttributeIDsUniqueWithinTree checks the §8 plan-determinism
// invariant: every attribute ID maps to exactly one attribute object.
func TestBuild_AttributeIDsUniqueWithinTree(t *testing.T) {
	b := New(newTestCatalog(t), "main", nil)
	sel := selectStar()
	sel.Where = &ast.BinaryExpr{Op: ">", Left: &ast.ColumnRef{Name: "id"}, Right: &ast.Literal{Kind: "int", Text: "0"}}
	node, err := b.BuildOne(sel)
	require.NoError(t, err)

	byID := map[plan.AttributeID]*plan.Attribute{}
	walk(node, func(n plan.Node) {
		rel, ok := n.(plan.RelationalNode)
		if !ok {
			return
		}
		for _, a := range rel.RelAttributes() {
			if prev, seen := byID[a.ID]; seen {
				require.True(t, prev == a, "attribute ID %d bound to two distinct attributes", a.ID)
			}
			byID[a.ID] = a
		}
	})
	require.NotEmpty(t, byID)
}

// TestBuild_DeterministicStructure: building the same AST twice yields
// trees with identical String renderings node for node.
func TestBuild_DeterministicStructure(t *testing.T) {
	shape := func() []string {
		b := New(newTestCatalog(t), "main", nil)
		node, err := b.BuildOne(selectStar())
		require.NoError(t, err)
		var out []string
		walk(node, func(n plan.Node) { out = append(out, n.String()) })
		return out
	}
	require.Equal(t, shape(), shape())
}

func TestBuild_FromlessSelectUsesSingleRow(t *testing.T) {
	b := New(newTestCatalog(t), "main", nil)
	node, err := b.BuildOne(&ast.SelectStmt{
		Columns: []ast.SelectItem{{Expr: &ast.Literal{Kind: "int", Text: "1"}}},
	})
	require.NoError(t, err)

	var sawSingleRow bool
	walk(node, func(n plan.Node) {
		if n == plan.SingleRow {
			sawSingleRow = true
		}
	})
	require.True(t, sawSingleRow)
}

func TestBuild_UnknownTableIsNotFound(t *testing.T) {
	b := New(newTestCatalog(t), "main", nil)
	_, err := b.BuildOne(&ast.SelectStmt{
		Columns: []ast.SelectItem{{Star: true}},
		From:    &ast.TableName{Name: "missing"},
	})
	require.True(t, qerr.Is(err, qerr.NOT_FOUND), "got %v", err)
}

func TestBuild_UnknownColumnIsNotFound(t *testing.T) {
	b := New(newTestCatalog(t), "main", nil)
	sel := selectStar()
	sel.Where = &ast.BinaryExpr{Op: "=", Left: &ast.ColumnRef{Name: "nope"}, Right: &ast.Literal{Kind: "int", Text: "1"}}
	_, err := b.BuildOne(sel)
	require.True(t, qerr.Is(err, qerr.NOT_FOUND), "got %v", err)
}

// TestBuild_AmbiguousColumnInDerivedTable: a derived table exposing two
// columns with the same name makes an unqualified reference ambiguous.
func TestBuild_AmbiguousColumnInDerivedTable(t *testing.T) {
	b := New(newTestCatalog(t), "main", nil)
	sel := &ast.SelectStmt{
		Columns: []ast.SelectItem{{Expr: &ast.ColumnRef{Name: "id"}}},
		From: &ast.SubqueryExpr{
			Alias: "sub",
			Query: &ast.SelectStmt{
				Columns: []ast.SelectItem{
					{Expr: &ast.ColumnRef{Name: "id"}},
					{Expr: &ast.BinaryExpr{Op: "+", Left: &ast.ColumnRef{Name: "id"}, Right: &ast.Literal{Kind: "int", Text: "0"}}, Alias: "id"},
				},
				From: &ast.TableName{Name: "t"},
			},
		},
	}
	_, err := b.BuildOne(sel)
	require.True(t, qerr.Is(err, qerr.AMBIGUOUS), "got %v", err)
}

// TestBuild_PositionalParameterNumbering: anonymous ?
// parameters number left to right from 1.
func TestBuild_PositionalParameterNumbering(t *testing.T) {
	b := New(newTestCatalog(t), "main", nil)
	sel := selectStar()
	sel.Where = &ast.BinaryExpr{
		Op:   "AND",
		Left: &ast.BinaryExpr{Op: "=", Left: &ast.ColumnRef{Name: "id"}, Right: &ast.ParamExpr{}},
		Right: &ast.BinaryExpr{Op: "=", Left: &ast.ColumnRef{Name: "name"}, Right: &ast.ParamExpr{}},
	}
	_, err := b.BuildOne(sel)
	require.NoError(t, err)
	require.Equal(t, []string{"1", "2"}, b.ParamScope().ParameterNames())
}

func TestBuild_NamedParameterSharesSlot(t *testing.T) {
	b := New(newTestCatalog(t), "main", nil)
	sel := selectStar()
	sel.Where = &ast.BinaryExpr{
		Op:   "OR",
		Left: &ast.BinaryExpr{Op: "=", Left: &ast.ColumnRef{Name: "id"}, Right: &ast.ParamExpr{Name: "v"}},
		Right: &ast.BinaryExpr{Op: "=", Left: &ast.ColumnRef{Name: "name"}, Right: &ast.ParamExpr{Name: "v"}},
	}
	_, err := b.BuildOne(sel)
	require.NoError(t, err)
	require.Equal(t, []string{"v"}, b.ParamScope().ParameterNames())
}
