package quereus

import (
	"strings"

	"github.com/quereus/quereus/plan"
)

// Explain builds query's plan and renders the tree without emitting or
// executing anything, for diagnostics and for tests asserting plan shape
// (e.g. that a Retrieve boundary sits where push-down expects it).
func (db *Database) Explain(query string) (string, error) {
	prog, err := db.parse(query)
	if err != nil {
		return "", err
	}
	node, _, err := db.buildProgram(prog, blockShape)
	if err != nil {
		return "", err
	}
	return FormatPlan(node), nil
}

// FormatPlan renders a plan tree one node per line, children indented under
// their parent, using each node's stable one-line String summary.
func FormatPlan(root plan.Node) string {
	var b strings.Builder
	formatNode(&b, root, 0)
	return b.String()
}

func formatNode(b *strings.Builder, n plan.Node, depth int) {
	for i := 0; i < depth; i++ {
		b.WriteString("  ")
	}
	b.WriteString(n.String())
	b.WriteByte('\n')
	for _, c := range n.Children() {
		formatNode(b, c, depth+1)
	}
}
