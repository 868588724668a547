package emit

import (
	"github.com/quereus/quereus/plan"
	"github.com/quereus/quereus/qerr"
	"github.com/quereus/quereus/runtime"
	"github.com/quereus/quereus/sql"
)

func init() {
	register(&plan.CreateTable{}, emitCreateTable)
	register(&plan.DropTable{}, emitDropTable)
	register(&plan.CreateView{}, emitCreateView)
	register(&plan.DropView{}, emitDropView)
	register(&plan.Analyze{}, emitAnalyze)
	register(&plan.TransactionControl{}, emitTransactionControl)
	register(&plan.SetOption{}, emitSetOption)
}

// emitCreateTable resolves the target module at execute time (DDL is not
// schema-captured: it is the thing that changes the schema), calls its
// Create hook, and registers the declared shape with the catalog. A module
// that returns its own TableSchema from Create (one that infers shape from
// pre-existing storage) wins over the declared column list.
func emitCreateTable(node plan.Node, ectx *Context) (*runtime.Instruction, error) {
	n := node.(*plan.CreateTable)
	return &runtime.Instruction{
		Note: node.String(),
		Run: func(rctx *runtime.Context, args []interface{}) (interface{}, error) {
			moduleName := n.ModuleName
			if moduleName == "" {
				moduleName = rctx.Catalog.DefaultModule()
			}
			mod, ok := rctx.Catalog.Module(moduleName)
			if !ok {
				return nil, qerr.NotFoundf("module %q not registered", moduleName)
			}
			if n.IfNotExists {
				if _, _, err := rctx.Catalog.Table(n.SchemaName, n.TableName); err == nil {
					return nil, nil
				}
			}
			schema := &sql.TableSchema{
				Columns: n.Columns,
				Keys:    n.Keys,
			}
			inferred, err := mod.Create(rctx, rctx.Catalog, n.SchemaName, n.TableName, n.ModuleArgs)
			if err != nil {
				return nil, qerr.WrapVtab(n.TableName, err)
			}
			if inferred != nil {
				schema = inferred
			}
			if err := rctx.Catalog.CreateTable(n.SchemaName, n.TableName, schema, moduleName); err != nil {
				return nil, err
			}
			rctx.Log.WithField("table", n.TableName).Debug("created table")
			return nil, nil
		},
	}, nil
}

// emitDropTable removes the catalog entry, evicts any pooled connection,
// and asks the module to destroy its storage.
func emitDropTable(node plan.Node, ectx *Context) (*runtime.Instruction, error) {
	n := node.(*plan.DropTable)
	return &runtime.Instruction{
		Note: node.String(),
		Run: func(rctx *runtime.Context, args []interface{}) (interface{}, error) {
			_, mod, err := rctx.Catalog.Table(n.SchemaName, n.TableName)
			if err != nil {
				if n.IfExists && qerr.Is(err, qerr.NOT_FOUND) {
					return nil, nil
				}
				return nil, err
			}
			if err := rctx.Tables.Evict(rctx, n.SchemaName, n.TableName); err != nil {
				return nil, err
			}
			if err := mod.Destroy(rctx, n.SchemaName, n.TableName); err != nil {
				return nil, qerr.WrapVtab(n.TableName, err)
			}
			if err := rctx.Catalog.DropTable(n.SchemaName, n.TableName); err != nil {
				return nil, err
			}
			rctx.Log.WithField("table", n.TableName).Debug("dropped table")
			return nil, nil
		},
	}, nil
}

func emitCreateView(node plan.Node, ectx *Context) (*runtime.Instruction, error) {
	n := node.(*plan.CreateView)
	return &runtime.Instruction{
		Note: node.String(),
		Run: func(rctx *runtime.Context, args []interface{}) (interface{}, error) {
			rctx.Catalog.RegisterView(&sql.ViewSchema{SchemaName: n.SchemaName, Name: n.ViewName, Query: n.Query})
			return nil, nil
		},
	}, nil
}

func emitDropView(node plan.Node, ectx *Context) (*runtime.Instruction, error) {
	n := node.(*plan.DropView)
	return &runtime.Instruction{
		Note: node.String(),
		Run: func(rctx *runtime.Context, args []interface{}) (interface{}, error) {
			err := rctx.Catalog.DropView(n.SchemaName, n.ViewName)
			if err != nil && n.IfExists && qerr.Is(err, qerr.NOT_FOUND) {
				return nil, nil
			}
			return nil, err
		},
	}, nil
}

// emitAnalyze verifies the table still resolves and otherwise does nothing:
// cardinality estimates live inside the modules (xBestIndex reports them),
// and no module in this tree maintains refreshable statistics.
func emitAnalyze(node plan.Node, ectx *Context) (*runtime.Instruction, error) {
	n := node.(*plan.Analyze)
	return &runtime.Instruction{
		Note: node.String(),
		Run: func(rctx *runtime.Context, args []interface{}) (interface{}, error) {
			_, _, err := rctx.Catalog.Table(n.SchemaName, n.TableName)
			return nil, err
		},
	}, nil
}

// emitTransactionControl routes BEGIN/COMMIT/ROLLBACK/SAVEPOINT statements
// to the coordinator. Savepoint depth bookkeeping is the
// coordinator's; this instruction only names the savepoint.
func emitTransactionControl(node plan.Node, ectx *Context) (*runtime.Instruction, error) {
	n := node.(*plan.TransactionControl)
	return &runtime.Instruction{
		Note: node.String(),
		Run: func(rctx *runtime.Context, args []interface{}) (interface{}, error) {
			coord := rctx.Coordinator
			switch n.Op {
			case plan.TxBegin:
				return nil, coord.Begin(rctx)
			case plan.TxCommit:
				return nil, coord.Commit(rctx)
			case plan.TxRollback:
				return nil, coord.Rollback(rctx)
			case plan.TxSavepoint:
				if err := coord.EnsureTransaction(rctx); err != nil {
					return nil, err
				}
				_, err := coord.CreateSavepoint(rctx, n.SavepointName)
				return nil, err
			case plan.TxReleaseSavepoint:
				return nil, coord.ReleaseSavepoint(rctx, n.SavepointName)
			case plan.TxRollbackToSavepoint:
				return nil, coord.RollbackToSavepoint(rctx, n.SavepointName)
			default:
				return nil, qerr.Internalf("unknown transaction op %v", n.Op)
			}
		},
	}, nil
}

func emitSetOption(node plan.Node, ectx *Context) (*runtime.Instruction, error) {
	n := node.(*plan.SetOption)
	return &runtime.Instruction{
		Note: node.String(),
		Run: func(rctx *runtime.Context, args []interface{}) (interface{}, error) {
			if rctx.Options == nil {
				return nil, nil
			}
			return nil, rctx.Options.SetOption(n.Name, n.Value)
		},
	}, nil
}
