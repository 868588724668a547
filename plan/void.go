package plan

import (
	"fmt"

	"github.com/quereus/quereus/sql"
)

// CreateTable is DDL: binds a new table to a named module.
type CreateTable struct {
	base
	NoChildren
	SchemaName string
	TableName  string
	Columns    []sql.Column
	Keys       [][]int
	ModuleName string
	ModuleArgs []string
	IfNotExists bool
}

func (c *CreateTable) String() string { return fmt.Sprintf("CreateTable(%s)", c.TableName) }

// DropTable is DDL: removes a table from the catalog.
type DropTable struct {
	base
	NoChildren
	SchemaName string
	TableName  string
	IfExists   bool
}

func (d *DropTable) String() string { return fmt.Sprintf("DropTable(%s)", d.TableName) }

// CreateView registers a named view.
type CreateView struct {
	base
	NoChildren
	SchemaName string
	ViewName   string
	Query      string
}

func (c *CreateView) String() string { return fmt.Sprintf("CreateView(%s)", c.ViewName) }

// DropView is DDL: removes a view.
type DropView struct {
	base
	NoChildren
	SchemaName string
	ViewName   string
	IfExists   bool
}

func (d *DropView) String() string { return fmt.Sprintf("DropView(%s)", d.ViewName) }

// Analyze is a VoidNode requesting the catalog/module refresh any cardinality
// estimates it maintains.
type Analyze struct {
	base
	NoChildren
	SchemaName string
	TableName  string
}

func (a *Analyze) String() string { return fmt.Sprintf("Analyze(%s)", a.TableName) }

// TxOp enumerates the transaction control operations.
type TxOp int

const (
	TxBegin TxOp = iota
	TxCommit
	TxRollback
	TxSavepoint
	TxReleaseSavepoint
	TxRollbackToSavepoint
)

func (t TxOp) String() string {
	switch t {
	case TxBegin:
		return "BEGIN"
	case TxCommit:
		return "COMMIT"
	case TxRollback:
		return "ROLLBACK"
	case TxSavepoint:
		return "SAVEPOINT"
	case TxReleaseSavepoint:
		return "RELEASE SAVEPOINT"
	case TxRollbackToSavepoint:
		return "ROLLBACK TO SAVEPOINT"
	default:
		return "TX?"
	}
}

// TransactionControl is the VoidNode for BEGIN/COMMIT/ROLLBACK/SAVEPOINT
// statements.
type TransactionControl struct {
	base
	NoChildren
	Op           TxOp
	SavepointName string
}

func (t *TransactionControl) String() string {
	if t.SavepointName != "" {
		return fmt.Sprintf("%s(%s)", t.Op, t.SavepointName)
	}
	return t.Op.String()
}

// SetOption is the VoidNode for Database.setOption.
type SetOption struct {
	base
	NoChildren
	Name  string
	Value sql.Value
}

func (s *SetOption) String() string { return fmt.Sprintf("SetOption(%s)", s.Name) }
