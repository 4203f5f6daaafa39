package command

import (
	"context"
	"strings"

	"github.com/Aman-CERP/kvsearch/internal/aggregate"
	kverrors "github.com/Aman-CERP/kvsearch/internal/errors"
	"github.com/Aman-CERP/kvsearch/internal/expr"
	"github.com/Aman-CERP/kvsearch/internal/search"
)

// aggregateCommand is the parsed FT.AGGREGATE pipeline.
type aggregateCommand struct {
	params   *search.Parameters
	table    *aggregate.FieldTable
	loads    []search.ReturnAttr // loaded fields with their table slots
	loadIdxs []int
	pipeline *aggregate.Pipeline
	keyIdx   int
}

// ftAggregate implements FT.AGGREGATE: the search front-end followed by
// the ordered stage pipeline.
func (d *Dispatcher) ftAggregate(ctx context.Context, args []string) (Reply, error) {
	if len(args) < 2 {
		return nil, kverrors.InvalidArgument("FT.AGGREGATE requires an index and a query")
	}
	cmd, err := d.parseAggregate(args)
	if err != nil {
		return nil, err
	}

	// Sorting and grouping need the complete result set at the
	// coordinator; per-shard trimming is disabled for aggregates.
	cmd.params.RequireComplete = true

	var res *search.Result
	if d.Cluster != nil && !cmd.params.LocalOnly {
		res, err = d.clusterSearch(ctx, cmd.params)
	} else {
		res, err = search.Local(cmd.params)
	}
	if err != nil {
		return nil, err
	}

	records := d.loadRecords(cmd, res)
	out, err := cmd.pipeline.Run(records, cmd.params.Token)
	if err != nil {
		if kverrors.IsKind(err, kverrors.KindTimeout) && cmd.params.EnablePartialResults {
			// Partial pipeline output is acceptable under the policy.
		} else {
			return nil, err
		}
	}

	reply := []Reply{int64(len(out))}
	names := cmd.table.Names()
	for _, rec := range out {
		var row []Reply
		for i, name := range names {
			v := rec.AttrValue(i)
			if v.IsNil() {
				continue
			}
			row = append(row, name, v.AsString())
		}
		reply = append(reply, row)
	}
	return reply, nil
}

// loadRecords materializes one pipeline record per neighbor, filling the
// loaded fields from indexed data or the keyspace.
func (d *Dispatcher) loadRecords(cmd *aggregateCommand, res *search.Result) []*aggregate.Record {
	p := cmd.params
	records := make([]*aggregate.Record, 0, len(res.Neighbors))
	for i := range res.Neighbors {
		n := &res.Neighbors[i]
		rec := &aggregate.Record{}
		rec.Set(cmd.table.Len()-1, expr.Nil("unset")) // size the vector
		rec.Set(cmd.keyIdx, expr.String(n.Key.Str()))

		var fetched map[string]string
		for j, ra := range cmd.loads {
			idx := cmd.loadIdxs[j]
			if a, ok := p.Schema.AttributeByIdentifier(ra.Identifier); ok {
				if v, ok := search.IndexedValue(a, n.Key); ok {
					rec.Set(idx, expr.String(v))
					continue
				}
			}
			if fetched == nil && d.Keyspace != nil {
				fetched, _ = d.Keyspace.FetchRecord(p.Schema.DB, n.Key.Str(), nil)
			}
			if v, ok := fetched[ra.Identifier]; ok {
				rec.Set(idx, expr.String(v))
			} else {
				rec.Set(idx, expr.Nil("missing field"))
			}
		}
		records = append(records, rec)
	}
	return records
}

// parseAggregate parses `index query [LOAD ...] (stage ...)*`.
func (d *Dispatcher) parseAggregate(args []string) (*aggregateCommand, error) {
	p, err := d.buildSearchParameters(args[:2])
	if err != nil {
		return nil, err
	}
	it := newArgIter(args[2:])

	table := aggregate.NewFieldTable()
	cmd := &aggregateCommand{
		params:   p,
		table:    table,
		pipeline: &aggregate.Pipeline{},
		keyIdx:   table.Declare("__key"),
	}

	declareLoad := func(field string) {
		alias := strings.TrimPrefix(field, "@")
		identifier := alias
		if a, ok := p.Schema.Attribute(alias); ok {
			identifier = a.Identifier
		}
		cmd.loads = append(cmd.loads, search.ReturnAttr{Identifier: identifier, Alias: alias})
		cmd.loadIdxs = append(cmd.loadIdxs, table.Declare(alias))
	}

	for !it.done() {
		switch {
		case it.matchKeyword("LOAD"):
			v, err := it.next()
			if err != nil {
				return nil, err
			}
			if v == "*" {
				for _, a := range p.Schema.Attributes() {
					declareLoad(a.Alias)
				}
				continue
			}
			n, err := newArgIter([]string{v}).nextInt("LOAD count")
			if err != nil {
				return nil, err
			}
			for i := 0; i < n; i++ {
				f, err := it.next()
				if err != nil {
					return nil, err
				}
				declareLoad(f)
			}
		case it.matchKeyword("LIMIT"):
			offset, err := it.nextInt("LIMIT offset")
			if err != nil {
				return nil, err
			}
			count, err := it.nextInt("LIMIT count")
			if err != nil {
				return nil, err
			}
			cmd.pipeline.Stages = append(cmd.pipeline.Stages, &aggregate.LimitStage{Offset: offset, Count: count})
		case it.matchKeyword("APPLY"):
			src, err := it.next()
			if err != nil {
				return nil, err
			}
			if !it.matchKeyword("AS") {
				return nil, kverrors.InvalidArgument("APPLY requires AS")
			}
			name, err := it.next()
			if err != nil {
				return nil, err
			}
			e, err := aggregate.CompileExpr(table, src)
			if err != nil {
				return nil, err
			}
			// The output slot is assigned at parse time so later stages
			// can reference it.
			idx := table.Declare(name)
			cmd.pipeline.Stages = append(cmd.pipeline.Stages, &aggregate.ApplyStage{Expr: e, FieldIdx: idx})
		case it.matchKeyword("FILTER"):
			src, err := it.next()
			if err != nil {
				return nil, err
			}
			e, err := aggregate.CompileExpr(table, src)
			if err != nil {
				return nil, err
			}
			cmd.pipeline.Stages = append(cmd.pipeline.Stages, &aggregate.FilterStage{Expr: e})
		case it.matchKeyword("SORTBY"):
			nargs, err := it.nextInt("SORTBY count")
			if err != nil {
				return nil, err
			}
			var keys []aggregate.SortKey
			for i := 0; i < nargs; {
				f, err := it.next()
				if err != nil {
					return nil, err
				}
				i++
				name := strings.TrimPrefix(f, "@")
				idx, ok := table.Lookup(name)
				if !ok {
					return nil, kverrors.NotFound("SORTBY field `%s` not loaded", name)
				}
				key := aggregate.SortKey{FieldIdx: idx}
				if i < nargs {
					if it.matchKeyword("DESC") {
						key.Desc = true
						i++
					} else if it.matchKeyword("ASC") {
						i++
					}
				}
				keys = append(keys, key)
			}
			st := &aggregate.SortByStage{Keys: keys}
			if it.matchKeyword("MAX") {
				m, err := it.nextInt("MAX")
				if err != nil {
					return nil, err
				}
				st.Max = m
			}
			cmd.pipeline.Stages = append(cmd.pipeline.Stages, st)
		case it.matchKeyword("GROUPBY"):
			nkeys, err := it.nextInt("GROUPBY count")
			if err != nil {
				return nil, err
			}
			var keyIdxs []int
			for i := 0; i < nkeys; i++ {
				f, err := it.next()
				if err != nil {
					return nil, err
				}
				name := strings.TrimPrefix(f, "@")
				idx, ok := table.Lookup(name)
				if !ok {
					return nil, kverrors.NotFound("GROUPBY field `%s` not loaded", name)
				}
				keyIdxs = append(keyIdxs, idx)
			}
			var reducers []aggregate.ReducerSpec
			for it.matchKeyword("REDUCE") {
				fn, err := it.next()
				if err != nil {
					return nil, err
				}
				nargs, err := it.nextInt("REDUCE arg count")
				if err != nil {
					return nil, err
				}
				var arg expr.Expression
				for i := 0; i < nargs; i++ {
					src, err := it.next()
					if err != nil {
						return nil, err
					}
					if i == 0 {
						arg, err = aggregate.CompileExpr(table, src)
						if err != nil {
							return nil, err
						}
					}
				}
				name := strings.ToUpper(fn)
				outName := strings.ToLower(fn)
				if it.matchKeyword("AS") {
					outName, err = it.next()
					if err != nil {
						return nil, err
					}
				}
				spec, err := aggregate.NewReducerSpec(name, arg, table.Declare(outName))
				if err != nil {
					return nil, err
				}
				reducers = append(reducers, spec)
			}
			cmd.pipeline.Stages = append(cmd.pipeline.Stages, &aggregate.GroupByStage{
				Table:    table,
				KeyIdxs:  keyIdxs,
				Reducers: reducers,
			})
		default:
			v, _ := it.next()
			return nil, kverrors.InvalidArgument("unknown FT.AGGREGATE stage `%s`", v)
		}
	}
	return cmd, nil
}
