package command

import (
	"context"
	"math/rand"
	"sort"
	"strconv"

	"github.com/Aman-CERP/kvsearch/internal/async"
	"github.com/Aman-CERP/kvsearch/internal/cluster"
	kverrors "github.com/Aman-CERP/kvsearch/internal/errors"
	"github.com/Aman-CERP/kvsearch/internal/fanout"
	"github.com/Aman-CERP/kvsearch/internal/index"
	"github.com/Aman-CERP/kvsearch/internal/query"
	"github.com/Aman-CERP/kvsearch/internal/search"
)

// ftSearch implements FT.SEARCH.
func (d *Dispatcher) ftSearch(ctx context.Context, args []string) (Reply, error) {
	p, err := d.buildSearchParameters(args)
	if err != nil {
		return nil, err
	}

	res, err := d.runQuery(ctx, p)
	if err != nil {
		d.Log.Warn("search failed", "query_id", p.QueryID, "index", p.IndexName, "err", err)
		return nil, err
	}
	d.Log.Debug("search completed", "query_id", p.QueryID, "index", p.IndexName,
		"total", res.TotalCount, "partial", res.Partial)
	return d.buildSearchReply(p, res)
}

// runQuery moves the query off the command thread onto the reader pool
// (when one is wired) and routes it locally or through the fanout.
func (d *Dispatcher) runQuery(ctx context.Context, p *search.Parameters) (*search.Result, error) {
	run := func() (*search.Result, error) {
		if d.Cluster != nil && !p.LocalOnly {
			return d.clusterSearch(ctx, p)
		}
		return search.Local(p)
	}
	if d.Pools == nil {
		return run()
	}
	var res *search.Result
	var err error
	if werr := d.Pools.Reader.SubmitWait(ctx, async.High, func() {
		res, err = run()
	}); werr != nil {
		return nil, kverrors.Wrap(kverrors.KindTimeout, werr, "query dispatch interrupted")
	}
	return res, err
}

// clusterSearch fans the query out to one target per shard and merges.
func (d *Dispatcher) clusterSearch(ctx context.Context, p *search.Parameters) (*search.Result, error) {
	snapshot := d.Cluster.Get()
	if !snapshot.IsConsistent && p.EnableConsistency {
		return nil, kverrors.FailedPrecondition("cluster state is inconsistent")
	}
	p.InCluster = true
	targets := snapshot.Targets(cluster.TargetPrimary, rand.New(rand.NewSource(int64(snapshot.ClusterFingerprint))))
	op := &fanout.Operation{
		Targets:   targets,
		Transport: d.Transport,
		Local:     search.Local,
		Params:    p,
	}
	return op.Run(ctx)
}

// buildSearchReply renders the client-visible array:
// [total, key, (sortkey)?, (fields)?, ...].
func (d *Dispatcher) buildSearchReply(p *search.Parameters, res *search.Result) (Reply, error) {
	rng := search.ComputeRange(res, p)
	out := []Reply{int64(res.TotalCount)}

	for i := rng.Start; i < rng.End; i++ {
		n := &res.Neighbors[i]

		// Re-validate prefilter results against post-fetch mutations: a
		// changed sequence number means the record moved under the index
		// snapshot, so the predicate re-runs on the fetched record.
		record, ok := d.fetchRecord(p, n)
		if !ok {
			continue
		}
		if p.Schema != nil && n.SeqNo != 0 && p.Schema.KeySeq(n.Key) != n.SeqNo {
			if !d.revalidate(p, record) {
				continue
			}
		}

		out = append(out, n.Key.Str())
		if p.WithSortKeys && p.SortBy != nil {
			if sk, ok := search.SortKeyFor(p.Schema, p.SortBy.Alias, n.Key); ok {
				out = append(out, "#"+sk)
			} else {
				out = append(out, nil)
			}
		}
		if p.NoContent {
			continue
		}
		out = append(out, d.neighborFields(p, n, record))
	}
	return out, nil
}

// fetchRecord resolves the attribute map for one neighbor: pre-resolved
// index contents when available, otherwise a keyspace fetch of the
// referenced identifiers.
func (d *Dispatcher) fetchRecord(p *search.Parameters, n *index.Neighbor) (map[string]string, bool) {
	if n.Attributes != nil {
		rec := make(map[string]string, len(n.Attributes))
		for _, a := range n.Attributes {
			rec[a.Identifier] = a.Value
		}
		return rec, true
	}
	if p.NoContent && len(p.Parse.Identifiers) == 0 {
		return map[string]string{}, true
	}
	var idents []string
	if len(p.ReturnAttrs) > 0 {
		for _, ra := range p.ReturnAttrs {
			idents = append(idents, ra.Identifier)
		}
		for ident := range p.Parse.Identifiers {
			idents = append(idents, ident)
		}
	}
	if d.Keyspace == nil {
		return map[string]string{}, true
	}
	rec, ok := d.Keyspace.FetchRecord(p.Schema.DB, n.Key.Str(), idents)
	if !ok {
		// The key vanished after indexing; drop the neighbor.
		return nil, false
	}
	return rec, true
}

// revalidate re-runs the predicate inline on the fetched record.
func (d *Dispatcher) revalidate(p *search.Parameters, record map[string]string) bool {
	if p.Parse == nil || p.Parse.Root == nil {
		return true
	}
	tokenize := func(s string) []string { return []string{s} }
	if t := p.Schema.Text(); t != nil {
		tokenize = t.TokenWords
	}
	ev := &query.RecordEvaluator{Record: record, Tokenize: tokenize}
	return query.Evaluate(p.Parse.Root, ev)
}

// neighborFields renders the per-key field array. Vector queries lead
// with the score alias.
func (d *Dispatcher) neighborFields(p *search.Parameters, n *index.Neighbor, record map[string]string) Reply {
	var fields []Reply
	if p.IsVector() {
		fields = append(fields, p.ScoreAlias,
			strconv.FormatFloat(float64(n.Distance), 'g', -1, 32))
	}
	if len(p.ReturnAttrs) > 0 {
		for _, ra := range p.ReturnAttrs {
			if v, ok := record[ra.Identifier]; ok {
				fields = append(fields, ra.Alias, v)
			}
		}
		return fields
	}
	idents := make([]string, 0, len(record))
	for ident := range record {
		idents = append(idents, ident)
	}
	sort.Strings(idents)
	for _, ident := range idents {
		fields = append(fields, ident, record[ident])
	}
	return fields
}
