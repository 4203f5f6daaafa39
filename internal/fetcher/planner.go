package fetcher

import (
	"github.com/Aman-CERP/kvsearch/internal/config"
	"github.com/Aman-CERP/kvsearch/internal/index"
	"github.com/Aman-CERP/kvsearch/internal/intern"
	"github.com/Aman-CERP/kvsearch/internal/query"
	"github.com/Aman-CERP/kvsearch/internal/schema"
)

// UsePreFiltering decides between the prefilter path (evaluate the
// predicate first, exact-score the survivors) and the inline path (walk
// the vector graph with a filter functor).
func UsePreFiltering(estimatedKeys int, vec index.Vector) bool {
	switch vec.Kind() {
	case index.KindVectorFlat:
		// A flat scan costs O(N log k) either way; scanning only the n
		// prefiltered candidates always wins.
		return true
	case index.KindVectorHNSW:
		n := vec.Size()
		return float64(estimatedKeys) <= config.PrefilterThresholdRatio.Get()*float64(n)
	default:
		panic("unsupported indexer type for vector planning")
	}
}

// keyEvaluator evaluates predicates against the per-key index data, the
// prefilter-side mode that never fetches the record.
type keyEvaluator struct {
	text *index.Text
	key  intern.String
}

func (e *keyEvaluator) EvaluateNumeric(p *query.NumericPredicate) bool {
	v, ok := p.Field.Numeric.KeyValue(e.key)
	return ok && p.Matches(v)
}

func (e *keyEvaluator) EvaluateTag(p *query.TagPredicate) bool {
	tags, ok := p.Field.Tag.KeyTags(e.key)
	return ok && p.MatchesTags(tags)
}

func (e *keyEvaluator) EvaluateText(p query.TextPredicate) bool {
	return e.text != nil && e.text.MatchesTextKey(e.key, p)
}

// MatchesKey re-executes the full predicate for one candidate key against
// the index side.
func MatchesKey(s *schema.Schema, key intern.String, root query.Predicate) bool {
	return query.Evaluate(root, &keyEvaluator{text: s.Text(), key: key})
}
