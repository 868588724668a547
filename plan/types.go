package plan

// coalesceLikeFuncs names the functions that are
// exceptions to "any-null implies null": COALESCE and IFNULL are nullable
// only when *every* argument could be null, not merely one.
var coalesceLikeFuncs = map[string]bool{
	"coalesce": true,
	"ifnull":   true,
}

// inferCallNullability applies the any-null-implies-null rule, with the
// COALESCE/IFNULL exception.
func inferCallNullability(funcName string, argNullable []bool) bool {
	if coalesceLikeFuncs[funcName] {
		for _, n := range argNullable {
			if !n {
				return false
			}
		}
		return true
	}
	for _, n := range argNullable {
		if n {
			return true
		}
	}
	return false
}

// WalkScalar calls visit on node and every descendant scalar/relational
// node reachable through its Children(), depth-first. Used by the emitter
// and optimizer passes that need to find all ColumnReference/subquery
// nodes within an expression tree.
func WalkScalar(n Node, visit func(Node) bool) {
	if !visit(n) {
		return
	}
	for _, c := range n.Children() {
		WalkScalar(c, visit)
	}
}

// CollectColumnRefs returns every ColumnReference reachable within expr.
func CollectColumnRefs(expr ScalarNode) []*ColumnReference {
	var out []*ColumnReference
	WalkScalar(expr, func(n Node) bool {
		if cr, ok := n.(*ColumnReference); ok {
			out = append(out, cr)
		}
		_, isScalar := n.(ScalarNode)
		_, isRelational := n.(RelationalNode)
		return isScalar || !isRelational
	})
	return out
}
