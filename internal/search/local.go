package search

import (
	"sort"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	kverrors "github.com/Aman-CERP/kvsearch/internal/errors"
	"github.com/Aman-CERP/kvsearch/internal/fetcher"
	"github.com/Aman-CERP/kvsearch/internal/index"
	"github.com/Aman-CERP/kvsearch/internal/intern"
	"github.com/Aman-CERP/kvsearch/internal/query"
	"github.com/Aman-CERP/kvsearch/internal/schema"
	"github.com/Aman-CERP/kvsearch/internal/telemetry"
)

// Local runs a query against this node's indexes under the schema's read
// guard and produces a trimmed Result. Cancellation yields a partial
// result when the query allows it, a TIMEOUT error otherwise.
func Local(p *Parameters) (*Result, error) {
	s := p.Schema
	s.RLock()
	defer s.RUnlock()
	telemetry.QueriesStarted.Add(1)

	if !p.IsVector() {
		return localNonVector(p, s)
	}
	return localVector(p, s)
}

func localNonVector(p *Parameters, s *schema.Schema) (*Result, error) {
	var neighbors []index.Neighbor
	cancelled := false

	appendKey := func(key intern.String) {
		neighbors = append(neighbors, index.Neighbor{
			Key:   key,
			SeqNo: s.KeySeq(key),
		})
	}

	if p.Parse.Root == nil {
		// Match-all: every indexed key exactly once, no filtering.
		for _, key := range s.TrackedKeys() {
			if p.Token.IsCancelled() {
				cancelled = true
				break
			}
			appendKey(key)
		}
	} else {
		build, err := fetcher.Build(s, p.Parse)
		if err != nil {
			return nil, err
		}
		var seen mapset.Set[intern.String]
		if build.NeedsDedup {
			seen = mapset.NewThreadUnsafeSet[intern.String]()
		}
	stream:
		for _, f := range build.Fetchers {
			for it := f.Begin(); !it.Done(); it.Next() {
				if p.Token.IsCancelled() {
					cancelled = true
					break stream
				}
				key := it.Key()
				if seen != nil && !seen.Add(key) {
					continue
				}
				if build.Unsolved && !fetcher.MatchesKey(s, key, p.Parse.Root) {
					continue
				}
				appendKey(key)
			}
		}
	}

	if cancelled && !p.EnablePartialResults {
		return nil, kverrors.Timeout("search timed out")
	}
	sortNeighbors(p, s, neighbors)
	r := NewResult(p, neighbors)
	r.Partial = cancelled
	return r, nil
}

func localVector(p *Parameters, s *schema.Schema) (*Result, error) {
	attr, ok := s.Attribute(p.VectorAlias)
	if !ok || attr.Vector == nil {
		return nil, kverrors.NotFound("vector field `%s` not found", p.VectorAlias)
	}
	vec := attr.Vector

	var neighbors []index.Neighbor
	cancelled := false

	if p.Parse.Root == nil {
		neighbors = vec.Search(p.VectorQuery, p.K, p.Token, nil, p.Ef)
		cancelled = p.Token.IsCancelled()
	} else {
		build, err := fetcher.Build(s, p.Parse)
		if err != nil {
			return nil, err
		}
		if fetcher.UsePreFiltering(build.Size, vec) {
			h := index.NewNeighborHeap(p.K)
			seen := map[intern.String]struct{}{}
		prefilter:
			for _, f := range build.Fetchers {
				for it := f.Begin(); !it.Done(); it.Next() {
					if p.Token.IsCancelled() {
						cancelled = true
						break prefilter
					}
					key := it.Key()
					if !fetcher.MatchesKey(s, key, p.Parse.Root) {
						continue
					}
					vec.AddPrefilteredKey(p.VectorQuery, p.K, key, h, seen)
				}
			}
			neighbors = h.Drain()
		} else {
			// Inline path: the filter functor borrows the predicate tree
			// for the duration of the kernel walk.
			filter := func(key intern.String) bool {
				return fetcher.MatchesKey(s, key, p.Parse.Root)
			}
			neighbors = vec.Search(p.VectorQuery, p.K, p.Token, filter, p.Ef)
			cancelled = p.Token.IsCancelled()
		}
	}

	if cancelled && !p.EnablePartialResults {
		return nil, kverrors.Timeout("search timed out")
	}
	for i := range neighbors {
		neighbors[i].SeqNo = s.KeySeq(neighbors[i].Key)
	}
	populateAttributes(p, s, neighbors)
	r := NewResult(p, neighbors)
	r.Partial = cancelled
	return r, nil
}

// populateAttributes fills attribute contents from indexed data when
// every requested return attribute is directly available from a typed
// index; otherwise neighbors stay bare and the caller fetches records.
func populateAttributes(p *Parameters, s *schema.Schema, neighbors []index.Neighbor) {
	if p.NoContent || len(p.ReturnAttrs) == 0 {
		return
	}
	attrs := make([]*schema.Attribute, 0, len(p.ReturnAttrs))
	for _, ra := range p.ReturnAttrs {
		a, ok := s.AttributeByIdentifier(ra.Identifier)
		if !ok || (a.Kind != query.AttrNumeric && a.Kind != query.AttrTag) {
			return
		}
		attrs = append(attrs, a)
	}
	for i := range neighbors {
		contents := make([]index.AttrContent, 0, len(attrs))
		for _, a := range attrs {
			if v, ok := IndexedValue(a, neighbors[i].Key); ok {
				contents = append(contents, index.AttrContent{Identifier: a.Identifier, Value: v})
			}
		}
		neighbors[i].Attributes = contents
	}
}

// IndexedValue reads an attribute's value for a key straight from its
// typed index when the index retains it (numeric values and raw tags).
func IndexedValue(a *schema.Attribute, key intern.String) (string, bool) {
	switch a.Kind {
	case query.AttrNumeric:
		if v, ok := a.Numeric.KeyValue(key); ok {
			return strconv.FormatFloat(v, 'g', -1, 64), true
		}
	case query.AttrTag:
		if tags, ok := a.Tag.KeyTags(key); ok {
			return strings.Join(tags, string(a.Tag.Separator())), true
		}
	}
	return "", false
}

// SortKeyFor extracts the sortkey string for WITHSORTKEYS replies.
func SortKeyFor(s *schema.Schema, alias string, key intern.String) (string, bool) {
	a, ok := s.Attribute(alias)
	if !ok {
		return "", false
	}
	return IndexedValue(a, key)
}

// sortNeighbors orders non-vector results: by the SORTBY attribute when
// present, else deterministically by key descending (matching the
// distance/key comparator with all distances zero).
func sortNeighbors(p *Parameters, s *schema.Schema, neighbors []index.Neighbor) {
	if p.SortBy != nil {
		a, ok := s.Attribute(p.SortBy.Alias)
		if ok {
			sortBySortKey(neighbors, a, p.SortBy.Desc)
			return
		}
	}
	h := index.NewNeighborHeap(0)
	for _, n := range neighbors {
		h.Push(n)
	}
	copy(neighbors, h.Drain())
}

func sortBySortKey(neighbors []index.Neighbor, a *schema.Attribute, desc bool) {
	type keyed struct {
		n   index.Neighbor
		v   string
		num float64
		ok  bool
	}
	items := make([]keyed, len(neighbors))
	for i, n := range neighbors {
		v, ok := IndexedValue(a, n.Key)
		num := 0.0
		if ok && a.Kind == query.AttrNumeric {
			num, _ = a.Numeric.KeyValue(n.Key)
		}
		items[i] = keyed{n: n, v: v, num: num, ok: ok}
	}
	sort.SliceStable(items, func(i, j int) bool {
		x, y := items[i], items[j]
		var less bool
		if a.Kind == query.AttrNumeric && x.num != y.num {
			less = x.num < y.num
		} else if x.v != y.v {
			less = x.v < y.v
		} else {
			return intern.Less(y.n.Key, x.n.Key)
		}
		if desc {
			return !less
		}
		return less
	})
	for i := range items {
		neighbors[i] = items[i].n
	}
}
