package emit

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/quereus/quereus/plan"
	"github.com/quereus/quereus/qerr"
	"github.com/quereus/quereus/runtime"
	"github.com/quereus/quereus/sql"
)

func init() {
	register(plan.SingleRow, emitSingleRow)
	register(&plan.Values{}, emitValues)
	register(&plan.Retrieve{}, emitRetrieve)
	register(&plan.Project{}, emitProject)
	register(&plan.Filter{}, emitFilter)
	register(&plan.Aggregate{}, emitAggregate)
	register(&plan.Sort{}, emitSort)
	register(&plan.LimitOffset{}, emitLimitOffset)
	register(&plan.Distinct{}, emitDistinct)
	register(&plan.Join{}, emitJoin)
	register(&plan.CTE{}, emitCTE)
	register(&plan.RemoteQuery{}, emitRemoteQuery)
	register(&plan.InsertProducer{}, emitInsertProducer)
	register(&plan.UpdateProducer{}, emitUpdateProducer)
	register(&plan.DeleteProducer{}, emitDeleteProducer)
	register(&plan.ConstraintCheck{}, emitConstraintCheck)
	register(&plan.UpdateExecutor{}, emitUpdateExecutor)
	register(&plan.Block{}, emitBlock)
	register(&plan.Batch{}, emitBatch)
}

func emitSingleRow(node plan.Node, ectx *Context) (*runtime.Instruction, error) {
	return &runtime.Instruction{
		Note: "SingleRow",
		Run: func(rctx *runtime.Context, args []interface{}) (interface{}, error) {
			return &runtime.SliceIter{Rows: []sql.Row{{}}}, nil
		},
	}, nil
}

func emitValues(node plan.Node, ectx *Context) (*runtime.Instruction, error) {
	n := node.(*plan.Values)
	rowInsts := make([][]*runtime.Instruction, len(n.Rows))
	for i, row := range n.Rows {
		insts := make([]*runtime.Instruction, len(row))
		for j, expr := range row {
			inst, err := ectx.Emit(expr)
			if err != nil {
				return nil, err
			}
			insts[j] = inst
		}
		rowInsts[i] = insts
	}
	return &runtime.Instruction{
		Note: "Values",
		Run: func(rctx *runtime.Context, args []interface{}) (interface{}, error) {
			rows := make([]sql.Row, len(rowInsts))
			for i, insts := range rowInsts {
				row := make(sql.Row, len(insts))
				for j, inst := range insts {
					v, err := evalScalar(rctx, inst)
					if err != nil {
						return nil, err
					}
					row[j] = v
				}
				rows[i] = row
			}
			return &runtime.SliceIter{Rows: rows}, nil
		},
	}, nil
}

// emitRetrieve binds to the module, enlisting the resulting connection with
// the transaction coordinator only when a transaction is already open. The row
// stream it returns is whatever isolation the module itself provides —
// boltkv uses bolt's own transactions; a module with no native isolation
// is expected to merge its own overlay internally.
func emitRetrieve(node plan.Node, ectx *Context) (*runtime.Instruction, error) {
	n := node.(*plan.Retrieve)
	ectx.CaptureTable(n.Source.SchemaName, n.Source.TableName)
	return &runtime.Instruction{
		Note: n.String(),
		Run: func(rctx *runtime.Context, args []interface{}) (interface{}, error) {
			table, err := rctx.Tables.Connect(rctx, n.Source.SchemaName, n.Source.TableName)
			if err != nil {
				return nil, err
			}
			if rctx.Coordinator.IsInTransaction() {
				if conn, ok := table.(sql.Connection); ok {
					if err := rctx.Coordinator.Join(rctx, conn); err != nil {
						return nil, err
					}
				}
			}
			// Pipeline push-down happens at this boundary: a module that
			// accepts the subtree via
			// supports() executes it itself; everyone else gets a plain scan.
			// A pre-collapsed Retrieve carries its acceptance in n.Pushdown.
			pushed := n.Pushdown
			var subtree interface{} = n
			if n.PushedPlan != nil {
				subtree = n.PushedPlan
			}
			if pushed == nil {
				pushed = table.SupportsPushdown(subtree)
			}
			if pushed != nil {
				it, err := table.ExecutePlan(rctx, subtree, pushed.Ctx)
				if err != nil {
					return nil, qerr.WrapVtab(n.Source.TableName, err)
				}
				return runtime.CheckedIter(rctx, it), nil
			}
			it, err := table.Query(rctx, n.Filter)
			if err != nil {
				return nil, qerr.WrapVtab(n.Source.TableName, err)
			}
			return runtime.CheckedIter(rctx, it), nil
		},
	}, nil
}

func emitProject(node plan.Node, ectx *Context) (*runtime.Instruction, error) {
	n := node.(*plan.Project)
	inputInst, err := ectx.Emit(n.Input)
	if err != nil {
		return nil, err
	}
	projInsts := make([]*runtime.Instruction, len(n.Projections))
	for i, p := range n.Projections {
		inst, err := ectx.Emit(p)
		if err != nil {
			return nil, err
		}
		projInsts[i] = inst
	}
	input := n.Input
	return &runtime.Instruction{
		Note: node.String(),
		Run: func(rctx *runtime.Context, args []interface{}) (interface{}, error) {
			it, err := execRelational(rctx, inputInst)
			if err != nil {
				return nil, err
			}
			return pipeRows(rctx, input, it, func(row sql.Row) (sql.Row, bool, error) {
				out := make(sql.Row, len(projInsts))
				for i, inst := range projInsts {
					v, err := evalScalar(rctx, inst)
					if err != nil {
						return nil, false, err
					}
					out[i] = v
				}
				return out, true, nil
			}), nil
		},
	}, nil
}

func emitFilter(node plan.Node, ectx *Context) (*runtime.Instruction, error) {
	n := node.(*plan.Filter)
	inputInst, err := ectx.Emit(n.Input)
	if err != nil {
		return nil, err
	}
	predInst, err := ectx.Emit(n.Predicate)
	if err != nil {
		return nil, err
	}
	input := n.Input
	return &runtime.Instruction{
		Note: node.String(),
		Run: func(rctx *runtime.Context, args []interface{}) (interface{}, error) {
			it, err := execRelational(rctx, inputInst)
			if err != nil {
				return nil, err
			}
			return pipeRows(rctx, input, it, func(row sql.Row) (sql.Row, bool, error) {
				v, err := evalScalar(rctx, predInst)
				if err != nil {
					return nil, false, err
				}
				return row, !v.IsNull() && v.Bool(), nil
			}), nil
		},
	}, nil
}

func emitDistinct(node plan.Node, ectx *Context) (*runtime.Instruction, error) {
	n := node.(*plan.Distinct)
	inputInst, err := ectx.Emit(n.Input)
	if err != nil {
		return nil, err
	}
	input := n.Input
	return &runtime.Instruction{
		Note: "Distinct",
		Run: func(rctx *runtime.Context, args []interface{}) (interface{}, error) {
			it, err := execRelational(rctx, inputInst)
			if err != nil {
				return nil, err
			}
			seen := make(map[string]bool)
			return pipeRows(rctx, input, it, func(row sql.Row) (sql.Row, bool, error) {
				k := rowKey(row)
				if seen[k] {
					return nil, false, nil
				}
				seen[k] = true
				return row, true, nil
			}), nil
		},
	}, nil
}

func emitLimitOffset(node plan.Node, ectx *Context) (*runtime.Instruction, error) {
	n := node.(*plan.LimitOffset)
	inputInst, err := ectx.Emit(n.Input)
	if err != nil {
		return nil, err
	}
	var limitInst, offsetInst *runtime.Instruction
	if n.Limit != nil {
		if limitInst, err = ectx.Emit(n.Limit); err != nil {
			return nil, err
		}
	}
	if n.Offset != nil {
		if offsetInst, err = ectx.Emit(n.Offset); err != nil {
			return nil, err
		}
	}
	return &runtime.Instruction{
		Note: "LimitOffset",
		Run: func(rctx *runtime.Context, args []interface{}) (interface{}, error) {
			it, err := execRelational(rctx, inputInst)
			if err != nil {
				return nil, err
			}
			limit := int64(-1)
			if limitInst != nil {
				v, err := evalScalar(rctx, limitInst)
				if err != nil {
					return nil, err
				}
				limit = v.Int()
			}
			offset := int64(0)
			if offsetInst != nil {
				v, err := evalScalar(rctx, offsetInst)
				if err != nil {
					return nil, err
				}
				offset = v.Int()
			}
			var skipped, emitted int64
			return &runtime.IterFunc{
				NextFn: func(ctx context.Context) (sql.Row, error) {
					for skipped < offset {
						if _, err := it.Next(ctx); err != nil {
							return nil, err
						}
						skipped++
					}
					if limit >= 0 && emitted >= limit {
						return nil, io.EOF
					}
					row, err := it.Next(ctx)
					if err != nil {
						return nil, err
					}
					emitted++
					return row, nil
				},
				CloseFn: it.Close,
			}, nil
		},
	}, nil
}

func emitSort(node plan.Node, ectx *Context) (*runtime.Instruction, error) {
	n := node.(*plan.Sort)
	inputInst, err := ectx.Emit(n.Input)
	if err != nil {
		return nil, err
	}
	keyInsts := make([]*runtime.Instruction, len(n.Keys))
	for i, k := range n.Keys {
		inst, err := ectx.Emit(k.Expr)
		if err != nil {
			return nil, err
		}
		keyInsts[i] = inst
	}
	input := n.Input
	keys := n.Keys
	return &runtime.Instruction{
		Note: "Sort",
		Run: func(rctx *runtime.Context, args []interface{}) (interface{}, error) {
			it, err := execRelational(rctx, inputInst)
			if err != nil {
				return nil, err
			}
			slot := rctx.CreateRowSlot(input)
			type keyedRow struct {
				row  sql.Row
				keys []sql.Value
			}
			var items []keyedRow
			for {
				row, err := it.Next(rctx)
				if err == io.EOF {
					break
				}
				if err != nil {
					rctx.CloseSlot(input)
					it.Close(rctx)
					return nil, err
				}
				slot.Set(row)
				ks := make([]sql.Value, len(keyInsts))
				for i, inst := range keyInsts {
					v, err := evalScalar(rctx, inst)
					if err != nil {
						rctx.CloseSlot(input)
						it.Close(rctx)
						return nil, err
					}
					ks[i] = v
				}
				items = append(items, keyedRow{row: row, keys: ks})
			}
			rctx.CloseSlot(input)
			it.Close(rctx)
			sort.SliceStable(items, func(i, j int) bool {
				for k := range keys {
					c := sql.Compare(items[i].keys[k], items[j].keys[k], sql.CollationBinary)
					if keys[k].Desc {
						c = -c
					}
					if c != 0 {
						return c < 0
					}
				}
				return false
			})
			rows := make([]sql.Row, len(items))
			for i, it := range items {
				rows[i] = it.row
			}
			return &runtime.SliceIter{Rows: rows}, nil
		},
	}, nil
}

// aggAcc accumulates one AggregateFunc's running value across a group.
type aggAcc struct {
	kind     string
	count    int64
	sumInt   int64
	sumReal  float64
	isReal   bool
	min, max sql.Value
	hasMinMax bool
	seen     map[string]bool // for Distinct
}

func newAggAcc(fn plan.AggregateFunc) *aggAcc {
	a := &aggAcc{kind: strings.ToLower(fn.FuncName)}
	if fn.Distinct {
		a.seen = make(map[string]bool)
	}
	return a
}

func (a *aggAcc) add(v sql.Value, hasArg bool) error {
	if a.kind == "count" {
		if hasArg && v.IsNull() {
			return nil
		}
		if a.seen != nil {
			k := rowKey(sql.Row{v})
			if a.seen[k] {
				return nil
			}
			a.seen[k] = true
		}
		a.count++
		return nil
	}
	if v.IsNull() {
		return nil
	}
	if a.seen != nil {
		k := rowKey(sql.Row{v})
		if a.seen[k] {
			return nil
		}
		a.seen[k] = true
	}
	switch a.kind {
	case "sum", "avg":
		a.count++
		if v.Type() == sql.REAL {
			a.isReal = true
		}
		a.sumInt += v.Int()
		a.sumReal += v.Float()
	case "min":
		if !a.hasMinMax || sql.Compare(v, a.min, sql.CollationBinary) < 0 {
			a.min = v
			a.hasMinMax = true
		}
	case "max":
		if !a.hasMinMax || sql.Compare(v, a.max, sql.CollationBinary) > 0 {
			a.max = v
			a.hasMinMax = true
		}
	default:
		return qerr.New(qerr.UNSUPPORTED, "aggregate function %q not implemented", a.kind)
	}
	return nil
}

func (a *aggAcc) result() sql.Value {
	switch a.kind {
	case "count":
		return sql.IntValue(a.count)
	case "sum":
		if a.isReal {
			return sql.RealValue(a.sumReal)
		}
		return sql.IntValue(a.sumInt)
	case "avg":
		if a.count == 0 {
			return sql.NullValue
		}
		return sql.RealValue(a.sumReal / float64(a.count))
	case "min":
		if !a.hasMinMax {
			return sql.NullValue
		}
		return a.min
	case "max":
		if !a.hasMinMax {
			return sql.NullValue
		}
		return a.max
	default:
		return sql.NullValue
	}
}

func emitAggregate(node plan.Node, ectx *Context) (*runtime.Instruction, error) {
	n := node.(*plan.Aggregate)
	inputInst, err := ectx.Emit(n.Input)
	if err != nil {
		return nil, err
	}
	groupInsts := make([]*runtime.Instruction, len(n.GroupBy))
	for i, g := range n.GroupBy {
		inst, err := ectx.Emit(g)
		if err != nil {
			return nil, err
		}
		groupInsts[i] = inst
	}
	argInsts := make([]*runtime.Instruction, len(n.Funcs))
	for i, fn := range n.Funcs {
		if fn.Arg == nil {
			continue
		}
		inst, err := ectx.Emit(fn.Arg)
		if err != nil {
			return nil, err
		}
		argInsts[i] = inst
	}
	input := n.Input
	funcs := n.Funcs
	return &runtime.Instruction{
		Note: node.String(),
		Run: func(rctx *runtime.Context, args []interface{}) (interface{}, error) {
			it, err := execRelational(rctx, inputInst)
			if err != nil {
				return nil, err
			}
			slot := rctx.CreateRowSlot(input)
			type group struct {
				keyVals []sql.Value
				accs    []*aggAcc
			}
			groups := make(map[string]*group)
			var order []string
			rowCount := 0
			for {
				row, err := it.Next(rctx)
				if err == io.EOF {
					break
				}
				if err != nil {
					rctx.CloseSlot(input)
					it.Close(rctx)
					return nil, err
				}
				rowCount++
				slot.Set(row)
				keyVals := make([]sql.Value, len(groupInsts))
				for i, inst := range groupInsts {
					v, err := evalScalar(rctx, inst)
					if err != nil {
						rctx.CloseSlot(input)
						it.Close(rctx)
						return nil, err
					}
					keyVals[i] = v
				}
				k := rowKey(keyVals)
				g, ok := groups[k]
				if !ok {
					g = &group{keyVals: keyVals, accs: make([]*aggAcc, len(funcs))}
					for i, fn := range funcs {
						g.accs[i] = newAggAcc(fn)
					}
					groups[k] = g
					order = append(order, k)
				}
				for i, fn := range funcs {
					var v sql.Value
					hasArg := fn.Arg != nil
					if hasArg {
						v, err = evalScalar(rctx, argInsts[i])
						if err != nil {
							rctx.CloseSlot(input)
							it.Close(rctx)
							return nil, err
						}
					}
					if err := g.accs[i].add(v, hasArg); err != nil {
						rctx.CloseSlot(input)
						it.Close(rctx)
						return nil, err
					}
				}
			}
			rctx.CloseSlot(input)
			it.Close(rctx)
			// no GROUP BY: exactly one row, even over zero input rows.
			if len(n.GroupBy) == 0 && rowCount == 0 {
				accs := make([]*aggAcc, len(funcs))
				for i, fn := range funcs {
					accs[i] = newAggAcc(fn)
				}
				order = []string{""}
				groups[""] = &group{accs: accs}
			}
			rows := make([]sql.Row, 0, len(order))
			for _, k := range order {
				g := groups[k]
				row := make(sql.Row, 0, len(g.keyVals)+len(funcs))
				row = append(row, g.keyVals...)
				for _, acc := range g.accs {
					row = append(row, acc.result())
				}
				rows = append(rows, row)
			}
			return &runtime.SliceIter{Rows: rows}, nil
		},
	}, nil
}

func emitJoin(node plan.Node, ectx *Context) (*runtime.Instruction, error) {
	n := node.(*plan.Join)
	leftInst, err := ectx.Emit(n.Left)
	if err != nil {
		return nil, err
	}
	rightInst, err := ectx.Emit(n.Right)
	if err != nil {
		return nil, err
	}
	var condInst *runtime.Instruction
	if n.Condition != nil {
		if condInst, err = ectx.Emit(n.Condition); err != nil {
			return nil, err
		}
	}
	left, right, kind := n.Left, n.Right, n.Kind
	rightWidth := len(right.RelAttributes())
	return &runtime.Instruction{
		Note: node.String(),
		Run: func(rctx *runtime.Context, args []interface{}) (interface{}, error) {
			leftIt, err := execRelational(rctx, leftInst)
			if err != nil {
				return nil, err
			}
			rightOut, err := execRelational(rctx, rightInst)
			if err != nil {
				leftIt.Close(rctx)
				return nil, err
			}
			rightRows, err := runtime.Drain(rctx, rightOut)
			if err != nil {
				leftIt.Close(rctx)
				return nil, err
			}
			leftSlot := rctx.CreateRowSlot(left)
			rightSlot := rctx.CreateRowSlot(right)

			var leftRow sql.Row
			var haveLeft bool
			var rightIdx int
			var leftMatched bool
			closed := false
			closeAll := func(ctx context.Context) error {
				if closed {
					return nil
				}
				closed = true
				rctx.CloseSlot(left)
				rctx.CloseSlot(right)
				return leftIt.Close(ctx)
			}
			nullRight := make(sql.Row, rightWidth)
			for i := range nullRight {
				nullRight[i] = sql.NullValue
			}
			return &runtime.IterFunc{
				NextFn: func(ctx context.Context) (sql.Row, error) {
					for {
						if !haveLeft {
							row, err := leftIt.Next(ctx)
							if err == io.EOF {
								closeAll(ctx)
								return nil, io.EOF
							}
							if err != nil {
								closeAll(ctx)
								return nil, err
							}
							leftRow = row
							leftSlot.Set(row)
							haveLeft = true
							rightIdx = 0
							leftMatched = false
						}
						for rightIdx < len(rightRows) {
							rrow := rightRows[rightIdx]
							rightIdx++
							rightSlot.Set(rrow)
							matched := true
							if condInst != nil {
								v, err := evalScalar(rctx, condInst)
								if err != nil {
									closeAll(ctx)
									return nil, err
								}
								matched = !v.IsNull() && v.Bool()
							}
							if matched {
								leftMatched = true
								out := make(sql.Row, 0, len(leftRow)+len(rrow))
								out = append(out, leftRow...)
								out = append(out, rrow...)
								return out, nil
							}
						}
						if !leftMatched && kind == plan.LeftJoin {
							leftMatched = true
							out := make(sql.Row, 0, len(leftRow)+rightWidth)
							out = append(out, leftRow...)
							out = append(out, nullRight...)
							return out, nil
						}
						haveLeft = false
					}
				},
				CloseFn: closeAll,
			}, nil
		},
	}, nil
}

// emitCTE materializes non-recursive CTEs hinted materialized (draining the
// inner query once per emitted reference) and streams everything else
// straight through. Recursive CTE evaluation (seed + working-table fixpoint
// iteration) is out of scope for this emitter: plan.NewCTE forces
// Materialized false whenever Recursive is true, so a recursive CTE always
// takes the streaming path here and relies on its Query subtree already
// encoding one non-recursive pass; full fixpoint iteration is unimplemented.
func emitCTE(node plan.Node, ectx *Context) (*runtime.Instruction, error) {
	n := node.(*plan.CTE)
	queryInst, err := ectx.Emit(n.Query)
	if err != nil {
		return nil, err
	}
	materialized := n.Materialized
	return &runtime.Instruction{
		Note: node.String(),
		Run: func(rctx *runtime.Context, args []interface{}) (interface{}, error) {
			it, err := execRelational(rctx, queryInst)
			if err != nil {
				return nil, err
			}
			if !materialized {
				return it, nil
			}
			rows, err := runtime.Drain(rctx, it)
			if err != nil {
				return nil, err
			}
			return &runtime.SliceIter{Rows: rows}, nil
		},
	}, nil
}

func emitRemoteQuery(node plan.Node, ectx *Context) (*runtime.Instruction, error) {
	n := node.(*plan.RemoteQuery)
	if n.Table != nil {
		ectx.CaptureTable(n.Table.SchemaName, n.Table.TableName)
	}
	return &runtime.Instruction{
		Note: node.String(),
		Run: func(rctx *runtime.Context, args []interface{}) (interface{}, error) {
			it, err := n.Module.ExecutePlan(rctx, n.Fallback, n.PushCtx)
			if err != nil {
				return nil, qerr.Wrap(qerr.INTERNAL, err, "remote query execution failed")
			}
			return runtime.CheckedIter(rctx, it), nil
		},
	}, nil
}

func emitInsertProducer(node plan.Node, ectx *Context) (*runtime.Instruction, error) {
	n := node.(*plan.InsertProducer)
	sourceInst, err := ectx.Emit(n.Source)
	if err != nil {
		return nil, err
	}
	ectx.CaptureTable(n.Target.SchemaName, n.Target.TableName)
	targetWidth := len(n.Target.Schema.Columns)
	columnMap := n.ColumnMap
	source := n.Source
	return &runtime.Instruction{
		Note: node.String(),
		Run: func(rctx *runtime.Context, args []interface{}) (interface{}, error) {
			it, err := execRelational(rctx, sourceInst)
			if err != nil {
				return nil, err
			}
			return pipeRows(rctx, source, it, func(row sql.Row) (sql.Row, bool, error) {
				out := make(sql.Row, targetWidth)
				for i := range out {
					out[i] = sql.NullValue
				}
				for srcIdx, tgtIdx := range columnMap {
					if srcIdx < len(row) && tgtIdx < len(out) {
						out[tgtIdx] = row[srcIdx]
					}
				}
				return out, true, nil
			}), nil
		},
	}, nil
}

// updateSidecar is the out-of-band channel carrying each rewritten row's
// ExpandedRow metadata — __oldRowKeyValues captured before the rewrite
// — from the UpdateProducer to the
// UpdateExecutor, in row order. Keyed in ExecState by the shared target
// TableReference, never encoded as positional columns.
type updateSidecar struct {
	pending []*sql.ExpandedRow
}

// emitUpdateProducer rewrites each Source row's SetExprs columns, capturing
// the pre-rewrite primary-key values into the update sidecar so the
// executor still addresses the original row even when a SET clause touches
// a key column.
func emitUpdateProducer(node plan.Node, ectx *Context) (*runtime.Instruction, error) {
	n := node.(*plan.UpdateProducer)
	sourceInst, err := ectx.Emit(n.Source)
	if err != nil {
		return nil, err
	}
	ectx.CaptureTable(n.Target.SchemaName, n.Target.TableName)
	setInsts := make(map[int]*runtime.Instruction, len(n.SetExprs))
	for idx, expr := range n.SetExprs {
		inst, err := ectx.Emit(expr)
		if err != nil {
			return nil, err
		}
		setInsts[idx] = inst
	}
	source := n.Source
	target := n.Target
	return &runtime.Instruction{
		Note: node.String(),
		Run: func(rctx *runtime.Context, args []interface{}) (interface{}, error) {
			it, err := execRelational(rctx, sourceInst)
			if err != nil {
				return nil, err
			}
			sidecar := rctx.ExecState(target, func() interface{} { return &updateSidecar{} }).(*updateSidecar)
			return pipeRows(rctx, source, it, func(row sql.Row) (sql.Row, bool, error) {
				oldKey := extractKey(target.Schema, row)
				out := row.Copy()
				for idx, inst := range setInsts {
					v, err := evalScalar(rctx, inst)
					if err != nil {
						return nil, false, err
					}
					if idx < len(out) {
						out[idx] = v
					}
				}
				sidecar.pending = append(sidecar.pending, sql.NewExpandedRow(out).
					WithOldRowKeyValues(oldKey).
					WithUpdateRowData(row, out))
				return out, true, nil
			}), nil
		},
	}, nil
}

func emitDeleteProducer(node plan.Node, ectx *Context) (*runtime.Instruction, error) {
	n := node.(*plan.DeleteProducer)
	sourceInst, err := ectx.Emit(n.Source)
	if err != nil {
		return nil, err
	}
	ectx.CaptureTable(n.Target.SchemaName, n.Target.TableName)
	return &runtime.Instruction{
		Note: node.String(),
		Run: func(rctx *runtime.Context, args []interface{}) (interface{}, error) {
			return execRelational(rctx, sourceInst)
		},
	}, nil
}

// emitConstraintCheck enforces the NOT NULL constraints carried on the
// target schema's columns. sql.RowConstraint (CHECK/uniqueness/foreign key)
// carries only a Name, with no predicate to evaluate here: those constraint
// kinds are expected to be enforced by the backing Module itself, not by
// this engine-side
// pass, which can only check what the relation type actually states.
func emitConstraintCheck(node plan.Node, ectx *Context) (*runtime.Instruction, error) {
	n := node.(*plan.ConstraintCheck)
	inputInst, err := ectx.Emit(n.Input)
	if err != nil {
		return nil, err
	}
	input := n.Input
	cols := n.Input.RelType().Columns
	return &runtime.Instruction{
		Note: node.String(),
		Run: func(rctx *runtime.Context, args []interface{}) (interface{}, error) {
			it, err := execRelational(rctx, inputInst)
			if err != nil {
				return nil, err
			}
			return pipeRows(rctx, input, it, func(row sql.Row) (sql.Row, bool, error) {
				for i, c := range cols {
					if i < len(row) && !c.Nullable && row[i].IsNull() {
						return nil, false, qerr.New(qerr.CONSTRAINT, "NOT NULL constraint failed: %s", c.Name)
					}
				}
				return row, true, nil
			}), nil
		},
	}, nil
}

// emitUpdateExecutor drains Input, issuing one Table.Update call per row and
// recording a DataChangeEvent with the coordinator for each. DDL/DML
// always ensures a transaction is open before touching
// the table.
func emitUpdateExecutor(node plan.Node, ectx *Context) (*runtime.Instruction, error) {
	n := node.(*plan.UpdateExecutor)
	inputInst, err := ectx.Emit(n.Input)
	if err != nil {
		return nil, err
	}
	ectx.CaptureTable(n.Target.SchemaName, n.Target.TableName)
	target := n.Target
	op := n.Op
	return &runtime.Instruction{
		Note: node.String(),
		Run: func(rctx *runtime.Context, args []interface{}) (interface{}, error) {
			if err := rctx.Coordinator.EnsureTransaction(rctx); err != nil {
				return nil, err
			}
			table, err := rctx.Tables.Connect(rctx, target.SchemaName, target.TableName)
			if err != nil {
				return nil, err
			}
			if conn, ok := table.(sql.Connection); ok {
				if err := rctx.Coordinator.Join(rctx, conn); err != nil {
					return nil, err
				}
			}
			it, err := execRelational(rctx, inputInst)
			if err != nil {
				return nil, err
			}
			rows, err := runtime.Drain(rctx, it)
			if err != nil {
				return nil, err
			}
			var sidecar *updateSidecar
			if op == plan.ExecUpdate {
				sidecar = rctx.ExecState(target, func() interface{} { return &updateSidecar{} }).(*updateSidecar)
			}
			var affected int64
			for i, row := range rows {
				var vop sql.UpdateOp
				var newRow, key sql.Row
				var evt sql.DataChangeOp
				switch op {
				case plan.ExecInsert:
					vop, newRow, key, evt = sql.OpInsert, row, nil, sql.OpChangeInsert
				case plan.ExecUpdate:
					key = extractKey(target.Schema, row)
					if sidecar != nil && i < len(sidecar.pending) {
						key = sidecar.pending[i].OldRowKeyValues
					}
					vop, newRow, evt = sql.OpUpdate, row, sql.OpChangeUpdate
				case plan.ExecDelete:
					vop, newRow, key, evt = sql.OpDelete, nil, extractKey(target.Schema, row), sql.OpChangeDelete
				default:
					return nil, qerr.New(qerr.INTERNAL, "unknown executor op %v", op)
				}
				if _, err := table.Update(rctx, vop, newRow, key); err != nil {
					return nil, qerr.WrapVtab(target.TableName, err)
				}
				affected++
				oldRow := key
				if sidecar != nil && i < len(sidecar.pending) && sidecar.pending[i].UpdateRowData != nil {
					oldRow = sidecar.pending[i].UpdateRowData.OldRow
				}
				rctx.Coordinator.Record(sql.DataChangeEvent{
					Op:         evt,
					SchemaName: target.SchemaName,
					TableName:  target.TableName,
					NewRow:     newRow,
					OldRow:     oldRow,
				})
			}
			return &runtime.SliceIter{Rows: []sql.Row{{sql.IntValue(affected)}}}, nil
		},
	}, nil
}

func extractKey(schema *sql.TableSchema, row sql.Row) sql.Row {
	pk := schema.PrimaryKey()
	key := make(sql.Row, len(pk))
	for i, idx := range pk {
		if idx >= 0 && idx < len(row) {
			key[i] = row[idx]
		}
	}
	return key
}

// emitBlock executes every non-Value statement for its side effects
// (draining any row stream it produces, since mutation only happens as a
// UpdateExecutor's iterator is pulled) and streams the Value statement's
// rows back, or zero rows if the block has none.
func emitBlock(node plan.Node, ectx *Context) (*runtime.Instruction, error) {
	n := node.(*plan.Block)
	insts := make([]*runtime.Instruction, len(n.Statements))
	valueIdx := -1
	for i, stmt := range n.Statements {
		inst, err := ectx.Emit(stmt)
		if err != nil {
			return nil, err
		}
		insts[i] = inst
		if n.Value != nil && stmt == n.Value {
			valueIdx = i
		}
	}
	return &runtime.Instruction{
		Note: node.String(),
		Run: func(rctx *runtime.Context, args []interface{}) (interface{}, error) {
			var result interface{} = &runtime.SliceIter{}
			for i, inst := range insts {
				out, err := runtime.Execute(rctx, inst)
				if err != nil {
					return nil, err
				}
				if i == valueIdx {
					result = out
					continue
				}
				if it, ok := out.(sql.RowIter); ok {
					if _, err := runtime.Drain(rctx, it); err != nil {
						return nil, err
					}
				}
			}
			return result, nil
		},
	}, nil
}

// emitBatch runs a top-level multi-statement program in order, draining
// every row stream a statement produces to force its side effects.
// It returns no row stream of its own.
func emitBatch(node plan.Node, ectx *Context) (*runtime.Instruction, error) {
	n := node.(*plan.Batch)
	insts := make([]*runtime.Instruction, len(n.Statements))
	for i, stmt := range n.Statements {
		inst, err := ectx.Emit(stmt)
		if err != nil {
			return nil, err
		}
		insts[i] = inst
	}
	return &runtime.Instruction{
		Note: fmt.Sprintf("Batch(%d)", len(insts)),
		Run: func(rctx *runtime.Context, args []interface{}) (interface{}, error) {
			for _, inst := range insts {
				out, err := runtime.Execute(rctx, inst)
				if err != nil {
					return nil, err
				}
				if it, ok := out.(sql.RowIter); ok {
					if _, err := runtime.Drain(rctx, it); err != nil {
						return nil, err
					}
				}
			}
			return nil, nil
		},
	}, nil
}
