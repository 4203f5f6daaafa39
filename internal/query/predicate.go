// Package query holds the typed predicate tree produced by the filter
// parser and the two-mode predicate evaluation: inline against a fetched
// record, and prefilter against the per-key index data.
package query

import (
	"strings"

	"github.com/Aman-CERP/kvsearch/internal/intern"
	"github.com/Aman-CERP/kvsearch/internal/postings"
)

// AttrKind is the type of a schema attribute.
type AttrKind int

const (
	AttrNumeric AttrKind = iota
	AttrTag
	AttrText
	AttrVector
)

// NumericView is the read-only per-key view a numeric index exposes to
// predicate evaluation.
type NumericView interface {
	// KeyValue returns the indexed value for key.
	KeyValue(key intern.String) (float64, bool)
	// EstimateRange approximates the number of keys inside the range.
	EstimateRange(start, end float64, incStart, incEnd bool) int
}

// TagView is the read-only per-key view of a tag index.
type TagView interface {
	KeyTags(key intern.String) ([]string, bool)
	CaseSensitive() bool
	Separator() byte
}

// Field is the resolved schema attribute a predicate references.
type Field struct {
	Alias      string
	Identifier string
	Kind       AttrKind

	// Exactly one of the following is populated, per Kind.
	Numeric NumericView
	Tag     TagView
	// TextMask is the single-field bit for text attributes.
	TextMask postings.FieldMask
}

// FieldResolver validates field references at parse time.
type FieldResolver interface {
	// Field resolves an alias, or false when unknown.
	Field(alias string) (*Field, bool)
	// TextFields lists the schema's text attributes; empty when none.
	TextFields() []*Field
}

// Ops is the query-operations bitmask accumulated during parsing.
type Ops uint32

const (
	OpHasAnd Ops = 1 << iota
	OpHasOr
	OpHasText
	OpHasTextTerm
	OpHasTextPrefix
	OpHasTextSuffix
	OpHasTextInfix
	OpHasTextFuzzy
	OpHasTextProximity
	OpHasNumeric
	OpHasTag
)

// NeedsDedup reports whether the fetcher union can emit duplicate keys:
// OR branches can overlap and tag fetchers repeat a key per matching tag.
func (o Ops) NeedsDedup() bool {
	return o&(OpHasOr|OpHasTag) != 0
}

// UnsolvedByFetchers reports whether the emitted candidate stream is a
// superset that the prefilter evaluator must re-verify: the AND pipeline
// keeps only the minimum-size branch for numeric/tag leaves.
func (o Ops) UnsolvedByFetchers() bool {
	return o&OpHasAnd != 0 && o&(OpHasNumeric|OpHasTag) != 0
}

// Predicate is one node of the filter tree.
type Predicate interface {
	isPredicate()
}

// AndPredicate is the left-leaning composition of juxtaposed atoms.
type AndPredicate struct {
	Lhs, Rhs Predicate
}

// OrPredicate composes '|' alternatives.
type OrPredicate struct {
	Lhs, Rhs Predicate
}

// NegatePredicate inverts its inner predicate.
type NegatePredicate struct {
	Inner Predicate
}

// NumericPredicate matches keys whose indexed value lies inside the range.
type NumericPredicate struct {
	Field    *Field
	Start    float64
	End      float64
	IncStart bool
	IncEnd   bool
}

// Matches applies the range inclusivity rules to one value.
func (p *NumericPredicate) Matches(v float64) bool {
	if v < p.Start || (v == p.Start && !p.IncStart) {
		return false
	}
	if v > p.End || (v == p.End && !p.IncEnd) {
		return false
	}
	return true
}

// TagPattern is one parsed member of a tag set. Prefix patterns came from
// a trailing '*' and must be at least two characters long.
type TagPattern struct {
	Value  string
	Prefix bool
}

// TagPredicate matches keys carrying at least one of the parsed tags.
// An empty tag set matches nothing (short prefixes drop silently).
type TagPredicate struct {
	Field *Field
	Raw   string
	Tags  []TagPattern
}

// MatchesTags tests the pattern set against a key's indexed tag values,
// honoring the index's case sensitivity.
func (p *TagPredicate) MatchesTags(tags []string) bool {
	cs := p.Field.Tag.CaseSensitive()
	for _, t := range tags {
		cand := t
		if !cs {
			cand = strings.ToLower(cand)
		}
		for _, pat := range p.Tags {
			v := pat.Value
			if !cs {
				v = strings.ToLower(v)
			}
			if pat.Prefix {
				if strings.HasPrefix(cand, v) {
					return true
				}
			} else if cand == v {
				return true
			}
		}
	}
	return false
}

// TextPredicate is the common surface of text leaves and proximity nodes.
type TextPredicate interface {
	Predicate
	// Mask is the field restriction; AllFields when no @field scoped it.
	Mask() postings.FieldMask
	// MatchesTokens evaluates inline against a tokenized record field.
	MatchesTokens(tokens []string) bool
}

type textBase struct {
	// Field is nil for an unscoped atom.
	Field     *Field
	FieldMask postings.FieldMask
}

func (t textBase) Mask() postings.FieldMask { return t.FieldMask }

// TermPredicate matches an exact word.
type TermPredicate struct {
	textBase
	Word string
}

// PrefixPredicate matches words starting with Word.
type PrefixPredicate struct {
	textBase
	Word string
}

// SuffixPredicate matches words ending with Word.
type SuffixPredicate struct {
	textBase
	Word string
}

// InfixPredicate matches words containing Word.
type InfixPredicate struct {
	textBase
	Word string
}

// FuzzyPredicate matches words within Levenshtein Distance of Word.
type FuzzyPredicate struct {
	textBase
	Word     string
	Distance int
}

// ProximityPredicate requires all children within a positional window.
// Slop < 0 leaves the window unbounded.
type ProximityPredicate struct {
	Terms   []TextPredicate
	Slop    int
	InOrder bool
}

func (p *ProximityPredicate) Mask() postings.FieldMask {
	var m postings.FieldMask
	for _, t := range p.Terms {
		m |= t.Mask()
	}
	return m
}

func (*AndPredicate) isPredicate()       {}
func (*OrPredicate) isPredicate()        {}
func (*NegatePredicate) isPredicate()    {}
func (*NumericPredicate) isPredicate()   {}
func (*TagPredicate) isPredicate()       {}
func (*TermPredicate) isPredicate()      {}
func (*PrefixPredicate) isPredicate()    {}
func (*SuffixPredicate) isPredicate()    {}
func (*InfixPredicate) isPredicate()     {}
func (*FuzzyPredicate) isPredicate()     {}
func (*ProximityPredicate) isPredicate() {}

// fieldMaskFor returns the field's text bit, or the union of every text
// field's bit for an unscoped atom.
func fieldMaskFor(f *Field, resolver FieldResolver) postings.FieldMask {
	if f != nil {
		return f.TextMask
	}
	var m postings.FieldMask
	for _, tf := range resolver.TextFields() {
		m |= tf.TextMask
	}
	return m
}
