// Package fetcher converts a parsed predicate tree into entries-fetchers
// over the typed indexes, decides the vector execution plan, and hosts the
// prefilter-side predicate evaluator.
package fetcher

import (
	kverrors "github.com/Aman-CERP/kvsearch/internal/errors"
	"github.com/Aman-CERP/kvsearch/internal/index"
	"github.com/Aman-CERP/kvsearch/internal/intern"
	"github.com/Aman-CERP/kvsearch/internal/query"
	"github.com/Aman-CERP/kvsearch/internal/schema"
	"github.com/Aman-CERP/kvsearch/internal/textiter"
)

// BuildResult carries the fetcher queue for a predicate tree. The union
// of the fetchers approximates the candidate set; Size is its estimated
// cardinality, summed over OR branches and the smallest branch of an AND.
type BuildResult struct {
	Fetchers []index.EntriesFetcher
	Size     int
	// NeedsDedup: an OR or tag source can emit the same key twice.
	NeedsDedup bool
	// Unsolved: the AND pipeline dropped branches, so candidates are a
	// superset and every key must re-run the full predicate.
	Unsolved bool
}

type builder struct {
	schema   *schema.Schema
	verbatim bool
	// Negation turns an AND into an OR and back, so these record the
	// fetcher shapes actually built, which the parsed operator bits miss.
	droppedBranches bool
	concatenated    bool
}

// Build walks the predicate tree and produces the fetcher queue.
func Build(s *schema.Schema, res *query.ParseResults) (*BuildResult, error) {
	b := &builder{schema: s, verbatim: res.Options.Verbatim}
	var fetchers []index.EntriesFetcher
	size, err := b.build(res.Root, false, &fetchers)
	if err != nil {
		return nil, err
	}
	return &BuildResult{
		Fetchers:   fetchers,
		Size:       size,
		NeedsDedup: res.Ops.NeedsDedup() || b.concatenated,
		Unsolved:   res.Ops.UnsolvedByFetchers() || b.droppedBranches,
	}, nil
}

func (b *builder) build(p query.Predicate, negate bool, out *[]index.EntriesFetcher) (int, error) {
	switch node := p.(type) {
	case *query.NegatePredicate:
		return b.build(node.Inner, !negate, out)

	case *query.NumericPredicate:
		a, ok := b.schema.AttributeByIdentifier(node.Field.Identifier)
		if !ok || a.Numeric == nil {
			return 0, kverrors.Internal("numeric attribute `%s` vanished", node.Field.Alias)
		}
		f := a.Numeric.Search(node.Start, node.End, node.IncStart, node.IncEnd, negate)
		*out = append(*out, f)
		return f.Size(), nil

	case *query.TagPredicate:
		a, ok := b.schema.AttributeByIdentifier(node.Field.Identifier)
		if !ok || a.Tag == nil {
			return 0, kverrors.Internal("tag attribute `%s` vanished", node.Field.Alias)
		}
		f := a.Tag.Search(node, negate)
		*out = append(*out, f)
		return f.Size(), nil

	case *query.AndPredicate:
		if negate {
			// ¬(A ∧ B) = ¬A ∨ ¬B.
			return b.buildOr(node.Lhs, node.Rhs, true, out)
		}
		return b.buildAnd(node.Lhs, node.Rhs, out)

	case *query.OrPredicate:
		if negate {
			return b.buildAnd(&query.NegatePredicate{Inner: node.Lhs}, &query.NegatePredicate{Inner: node.Rhs}, out)
		}
		return b.buildOr(node.Lhs, node.Rhs, false, out)

	case query.TextPredicate:
		return b.buildText(node, negate, out)
	}
	return 0, kverrors.Internal("unknown predicate node")
}

// flattenAnd collects the left-leaning AND chain into its children.
func flattenAnd(p query.Predicate, out *[]query.Predicate) {
	if and, ok := p.(*query.AndPredicate); ok {
		flattenAnd(and.Lhs, out)
		flattenAnd(and.Rhs, out)
		return
	}
	*out = append(*out, p)
}

func flattenOr(p query.Predicate, out *[]query.Predicate) {
	if or, ok := p.(*query.OrPredicate); ok {
		flattenOr(or.Lhs, out)
		flattenOr(or.Rhs, out)
		return
	}
	*out = append(*out, p)
}

func allText(children []query.Predicate) ([]query.TextPredicate, bool) {
	texts := make([]query.TextPredicate, 0, len(children))
	for _, c := range children {
		t, ok := c.(query.TextPredicate)
		if !ok {
			return nil, false
		}
		texts = append(texts, t)
	}
	return texts, true
}

// buildAnd first attempts a single text iterator spanning all children;
// otherwise it recurses per child and keeps only the minimum-size branch,
// leaving the full predicate to the prefilter evaluator.
func (b *builder) buildAnd(lhs, rhs query.Predicate, out *[]index.EntriesFetcher) (int, error) {
	var children []query.Predicate
	flattenAnd(lhs, &children)
	flattenAnd(rhs, &children)

	if texts, ok := allText(children); ok && b.schema.Text() != nil {
		its := make([]textiter.Iterator, 0, len(texts))
		size := -1
		for _, t := range texts {
			it := b.schema.Text().BuildIterator(t, b.verbatim, false)
			if it == nil {
				// One child matches nothing; the AND is empty.
				*out = append(*out, index.NewSliceFetcher(nil))
				return 0, nil
			}
			its = append(its, it)
			if s := b.schema.Text().EstimateSize(t, b.verbatim); size < 0 || s < size {
				size = s
			}
		}
		f := newIteratorFetcher(textiter.NewProximityIterator(its, -1, false, false), size)
		*out = append(*out, f)
		return size, nil
	}

	// Mixed children: evaluate each alternative's fetchers separately and
	// keep the smallest candidate set. Dropped branches are re-verified by
	// the prefilter evaluator.
	b.droppedBranches = true
	best := -1
	var bestFetchers []index.EntriesFetcher
	for _, c := range children {
		var fs []index.EntriesFetcher
		size, err := b.build(c, false, &fs)
		if err != nil {
			return 0, err
		}
		if best < 0 || size < best {
			best = size
			bestFetchers = fs
		}
	}
	*out = append(*out, bestFetchers...)
	if best < 0 {
		best = 0
	}
	return best, nil
}

// buildOr attempts a single OR iterator across all-text children, else
// concatenates per-child fetcher queues; the size is the sum.
func (b *builder) buildOr(lhs, rhs query.Predicate, negateChildren bool, out *[]index.EntriesFetcher) (int, error) {
	var children []query.Predicate
	flattenOr(lhs, &children)
	flattenOr(rhs, &children)

	if !negateChildren && b.schema.Text() != nil {
		if texts, ok := allText(children); ok {
			its := make([]textiter.Iterator, 0, len(texts))
			size := 0
			for _, t := range texts {
				it := b.schema.Text().BuildIterator(t, b.verbatim, false)
				if it == nil {
					continue
				}
				its = append(its, it)
				size += b.schema.Text().EstimateSize(t, b.verbatim)
			}
			if len(its) == 0 {
				*out = append(*out, index.NewSliceFetcher(nil))
				return 0, nil
			}
			f := newIteratorFetcher(textiter.NewOrProximityIterator(its), size)
			*out = append(*out, f)
			return size, nil
		}
	}

	b.concatenated = true
	total := 0
	for _, c := range children {
		size, err := b.build(c, negateChildren, out)
		if err != nil {
			return 0, err
		}
		total += size
	}
	return total, nil
}

func (b *builder) buildText(p query.TextPredicate, negate bool, out *[]index.EntriesFetcher) (int, error) {
	text := b.schema.Text()
	if text == nil {
		*out = append(*out, index.NewSliceFetcher(nil))
		return 0, nil
	}
	if negate {
		// Complement: all tracked keys minus the matching ones.
		matching := map[intern.String]struct{}{}
		if it := text.BuildIterator(p, b.verbatim, false); it != nil {
			for !it.DoneKeys() {
				matching[it.CurrentKey()] = struct{}{}
				it.NextKey()
			}
		}
		var keys []intern.String
		for _, k := range b.schema.TrackedKeys() {
			if _, hit := matching[k]; !hit {
				keys = append(keys, k)
			}
		}
		f := index.NewSliceFetcher(keys)
		*out = append(*out, f)
		return f.Size(), nil
	}
	it := text.BuildIterator(p, b.verbatim, false)
	if it == nil {
		*out = append(*out, index.NewSliceFetcher(nil))
		return 0, nil
	}
	size := text.EstimateSize(p, b.verbatim)
	*out = append(*out, newIteratorFetcher(it, size))
	return size, nil
}

// iteratorFetcher adapts a text iterator's key cursor to the fetcher
// surface.
type iteratorFetcher struct {
	it   textiter.Iterator
	size int
}

func newIteratorFetcher(it textiter.Iterator, size int) *iteratorFetcher {
	return &iteratorFetcher{it: it, size: size}
}

func (f *iteratorFetcher) Size() int { return f.size }

func (f *iteratorFetcher) Begin() index.EntriesIterator {
	return &textEntries{it: f.it}
}

type textEntries struct {
	it textiter.Iterator
}

func (t *textEntries) Done() bool         { return t.it.DoneKeys() }
func (t *textEntries) Key() intern.String { return t.it.CurrentKey() }
func (t *textEntries) Next()              { t.it.NextKey() }
