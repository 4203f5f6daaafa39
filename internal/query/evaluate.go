package query

import (
	"strconv"
	"strings"
)

// Evaluator dispatches leaf evaluation; the tree walk over And/Or/Negate
// is shared by both modes.
type Evaluator interface {
	EvaluateNumeric(p *NumericPredicate) bool
	EvaluateTag(p *TagPredicate) bool
	EvaluateText(p TextPredicate) bool
}

// Evaluate runs the predicate tree against an evaluator. A nil predicate
// (the match-all special form) matches everything.
func Evaluate(p Predicate, ev Evaluator) bool {
	switch n := p.(type) {
	case nil:
		return true
	case *AndPredicate:
		return Evaluate(n.Lhs, ev) && Evaluate(n.Rhs, ev)
	case *OrPredicate:
		return Evaluate(n.Lhs, ev) || Evaluate(n.Rhs, ev)
	case *NegatePredicate:
		return !Evaluate(n.Inner, ev)
	case *NumericPredicate:
		return ev.EvaluateNumeric(n)
	case *TagPredicate:
		return ev.EvaluateTag(n)
	case TextPredicate:
		return ev.EvaluateText(n)
	}
	return false
}

// RecordEvaluator evaluates inline against a fetched record: a map from
// attribute identifier to its raw value. Used when re-validating a
// neighbor whose key mutated after the index snapshot.
type RecordEvaluator struct {
	Record map[string]string
	// Tokenize splits a text value the same way ingestion does.
	Tokenize func(string) []string
}

func (e *RecordEvaluator) EvaluateNumeric(p *NumericPredicate) bool {
	raw, ok := e.Record[p.Field.Identifier]
	if !ok {
		return false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return false
	}
	return p.Matches(v)
}

func (e *RecordEvaluator) EvaluateTag(p *TagPredicate) bool {
	raw, ok := e.Record[p.Field.Identifier]
	if !ok {
		return false
	}
	sep := p.Field.Tag.Separator()
	var tags []string
	for _, t := range strings.Split(raw, string(sep)) {
		tags = append(tags, strings.TrimSpace(t))
	}
	return p.MatchesTags(tags)
}

func (e *RecordEvaluator) EvaluateText(p TextPredicate) bool {
	// Inline evaluation ignores field masks: the record map already
	// carries only the identifiers the filter references.
	for _, raw := range e.Record {
		if p.MatchesTokens(e.Tokenize(raw)) {
			return true
		}
	}
	return false
}

// Inline token matching for each text leaf.

func (p *TermPredicate) MatchesTokens(tokens []string) bool {
	for _, t := range tokens {
		if t == p.Word {
			return true
		}
	}
	return false
}

func (p *PrefixPredicate) MatchesTokens(tokens []string) bool {
	for _, t := range tokens {
		if strings.HasPrefix(t, p.Word) {
			return true
		}
	}
	return false
}

func (p *SuffixPredicate) MatchesTokens(tokens []string) bool {
	for _, t := range tokens {
		if strings.HasSuffix(t, p.Word) {
			return true
		}
	}
	return false
}

func (p *InfixPredicate) MatchesTokens(tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(t, p.Word) {
			return true
		}
	}
	return false
}

func (p *FuzzyPredicate) MatchesTokens(tokens []string) bool {
	for _, t := range tokens {
		if LevenshteinWithin(t, p.Word, p.Distance) {
			return true
		}
	}
	return false
}

// MatchesTokens for a proximity node slides a window across the children's
// occurrence lists, mirroring the positional iterator's validation.
func (p *ProximityPredicate) MatchesTokens(tokens []string) bool {
	occ := make([][]int, len(p.Terms))
	for i, term := range p.Terms {
		for pos, tok := range tokens {
			if term.MatchesTokens([]string{tok}) {
				occ[i] = append(occ[i], pos)
			}
		}
		if len(occ[i]) == 0 {
			return false
		}
	}
	idx := make([]int, len(occ))
	for {
		lo, hi := occ[0][idx[0]], occ[0][idx[0]]
		ordered := true
		prev := occ[0][idx[0]]
		for i := 1; i < len(occ); i++ {
			v := occ[i][idx[i]]
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
			if v <= prev {
				ordered = false
			}
			prev = v
		}
		windowOK := p.Slop < 0 || hi-lo <= p.Slop+len(p.Terms)-1
		if windowOK && (!p.InOrder || ordered) {
			return true
		}
		// Advance the child at the minimal position.
		minChild := 0
		for i := 1; i < len(occ); i++ {
			if occ[i][idx[i]] < occ[minChild][idx[minChild]] {
				minChild = i
			}
		}
		idx[minChild]++
		if idx[minChild] >= len(occ[minChild]) {
			return false
		}
	}
}

// LevenshteinWithin reports whether the edit distance between a and b is
// at most d, with an early-out banded computation (d is tiny, <= 3).
func LevenshteinWithin(a, b string, d int) bool {
	if len(a) < len(b) {
		a, b = b, a
	}
	if len(a)-len(b) > d {
		return false
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		rowMin := cur[0]
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, min(cur[j-1]+1, prev[j-1]+cost))
			if cur[j] < rowMin {
				rowMin = cur[j]
			}
		}
		if rowMin > d {
			return false
		}
		prev, cur = cur, prev
	}
	return prev[len(b)] <= d
}
