package index

import (
	"strings"

	"github.com/blevesearch/go-porterstemmer"

	"github.com/Aman-CERP/kvsearch/internal/config"
	kverrors "github.com/Aman-CERP/kvsearch/internal/errors"
	"github.com/Aman-CERP/kvsearch/internal/intern"
	"github.com/Aman-CERP/kvsearch/internal/postings"
	"github.com/Aman-CERP/kvsearch/internal/query"
	"github.com/Aman-CERP/kvsearch/internal/radix"
	"github.com/Aman-CERP/kvsearch/internal/textiter"
)

// suffixRef points a reversed word back at its forward form.
type suffixRef struct {
	word string
}

// Text is the schema-wide text index shared by every text attribute: a
// radix word store of positional postings, a reversed-word tree for suffix
// matching, and the stem-equivalence map filled at ingestion.
type Text struct {
	tree   *radix.Tree[postings.List]
	suffix *radix.Tree[suffixRef]
	// stems maps a stem to every indexed word sharing it.
	stems map[string]map[string]struct{}
	// byKey records each key's indexed words for removal.
	byKey map[intern.String]map[string]struct{}

	noStem      bool
	minStemSize int
	stopwords   map[string]struct{}
}

// TextOptions configures the text index at schema creation.
type TextOptions struct {
	NoStem      bool
	MinStemSize int
	// Stopwords overrides the default stopword list; nil keeps defaults.
	Stopwords []string
}

// defaultStopwords is the stock English stopword list.
var defaultStopwords = []string{
	"a", "is", "the", "an", "and", "are", "as", "at", "be", "but", "by",
	"for", "if", "in", "into", "it", "no", "not", "of", "on", "or", "such",
	"that", "their", "then", "there", "these", "they", "this", "to", "was",
	"will", "with",
}

// NewText creates an empty text index.
func NewText(opts TextOptions) *Text {
	words := opts.Stopwords
	if words == nil {
		words = defaultStopwords
	}
	stop := make(map[string]struct{}, len(words))
	for _, w := range words {
		stop[strings.ToLower(w)] = struct{}{}
	}
	minStem := opts.MinStemSize
	if minStem == 0 {
		minStem = 4
	}
	return &Text{
		tree:        radix.NewTree[postings.List](),
		suffix:      radix.NewTree[suffixRef](),
		stems:       map[string]map[string]struct{}{},
		byKey:       map[intern.String]map[string]struct{}{},
		noStem:      opts.NoStem,
		minStemSize: minStem,
		stopwords:   stop,
	}
}

func (t *Text) Kind() Kind { return KindText }

func (t *Text) Size() int { return len(t.byKey) }

// UniqueWordCount exposes the word store cardinality for FT.INFO.
func (t *Text) UniqueWordCount() int64 { return t.tree.TotalWordCount() }

// Token is one indexable word with its position in the source text.
type Token struct {
	Word string
	Pos  uint32
}

// Tokenize lowercases and splits on non-alphanumeric bytes. Stopwords
// consume a position but are not returned.
func (t *Text) Tokenize(text string) []Token {
	var out []Token
	pos := uint32(0)
	start := -1
	flush := func(s string) {
		word := strings.ToLower(s)
		pos++
		if _, stop := t.stopwords[word]; !stop {
			out = append(out, Token{Word: word, Pos: pos})
		}
	}
	for i := 0; i < len(text); i++ {
		c := text[i]
		alnum := c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c >= 0x80
		if alnum {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			flush(text[start:i])
			start = -1
		}
	}
	if start >= 0 {
		flush(text[start:])
	}
	return out
}

// TokenWords adapts Tokenize for inline record evaluation.
func (t *Text) TokenWords(text string) []string {
	toks := t.Tokenize(text)
	words := make([]string, len(toks))
	for i, tok := range toks {
		words[i] = tok.Word
	}
	return words
}

func reverseString(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}

// AddField indexes one attribute value of a key under the field's bit.
func (t *Text) AddField(key intern.String, field postings.FieldMask, text string) {
	words, ok := t.byKey[key]
	if !ok {
		words = map[string]struct{}{}
		t.byKey[key] = words
	}
	for _, tok := range t.Tokenize(text) {
		t.addWord(key, field, tok.Word, tok.Pos)
		words[tok.Word] = struct{}{}
	}
}

func (t *Text) addWord(key intern.String, field postings.FieldMask, word string, pos uint32) {
	created := false
	newKey := false
	t.tree.Mutate(word, func(old *postings.List) *postings.List {
		if old == nil {
			created = true
			old = postings.NewList()
		}
		_, had := old.Find(key)
		newKey = !had
		old.Add(key, field, pos)
		return old
	}, radix.CountNone)
	if newKey {
		// Track per-word key counts for size estimation.
		t.tree.Mutate(word, func(old *postings.List) *postings.List { return old }, radix.CountAdd)
	}
	if created {
		t.suffix.Mutate(reverseString(word), func(*suffixRef) *suffixRef {
			return &suffixRef{word: word}
		}, radix.CountNone)
		if stem := t.stemOf(word); stem != "" {
			set, ok := t.stems[stem]
			if !ok {
				set = map[string]struct{}{}
				t.stems[stem] = set
			}
			set[word] = struct{}{}
		}
	}
}

// stemOf returns the stem when stemming applies to the word, else "".
func (t *Text) stemOf(word string) string {
	if t.noStem || len(word) < t.minStemSize {
		return ""
	}
	stem := porterstemmer.StemString(word)
	if stem == word {
		return word
	}
	return stem
}

// RemoveKey drops every posting of the key.
func (t *Text) RemoveKey(key intern.String) {
	words, ok := t.byKey[key]
	if !ok {
		return
	}
	for word := range words {
		removedWord := false
		t.tree.Mutate(word, func(old *postings.List) *postings.List {
			if old == nil {
				return nil
			}
			if old.Remove(key) {
				removedWord = true
				return nil
			}
			return old
		}, radix.CountSub)
		if removedWord {
			t.suffix.Mutate(reverseString(word), func(*suffixRef) *suffixRef { return nil }, radix.CountNone)
			if stem := t.stemOf(word); stem != "" {
				if set, ok := t.stems[stem]; ok {
					delete(set, word)
					if len(set) == 0 {
						delete(t.stems, stem)
					}
				}
			}
		}
	}
	delete(t.byKey, key)
}

// TrackedKeys returns all indexed keys, used for negated text fetchers.
func (t *Text) TrackedKeys() []intern.String {
	keys := make([]intern.String, 0, len(t.byKey))
	for k := range t.byKey {
		keys = append(keys, k)
	}
	return keys
}

// termLists resolves a query word to its posting lists: the word itself
// plus, unless verbatim, every indexed word sharing its stem. A stem
// sibling recorded in the equivalence map but missing from the word store
// is an ingestion bug.
func (t *Text) termLists(word string, verbatim bool) []*postings.List {
	var lists []*postings.List
	seen := map[string]struct{}{}
	add := func(w string, mustExist bool) {
		if _, dup := seen[w]; dup {
			return
		}
		seen[w] = struct{}{}
		if l := t.tree.Lookup(w); l != nil {
			lists = append(lists, l)
		} else if mustExist {
			panic(kverrors.Internal("stem variant %q missing from word index", w))
		}
	}
	add(word, false)
	if !verbatim {
		if stem := t.stemOf(word); stem != "" {
			for variant := range t.stems[stem] {
				add(variant, true)
			}
		}
	}
	return lists
}

// expandWords enumerates the indexed words matching a non-term text leaf,
// capped by max-term-expansions.
func (t *Text) expandWords(p query.TextPredicate) []string {
	limit := int(config.MaxTermExpansions.Get())
	var words []string
	switch leaf := p.(type) {
	case *query.PrefixPredicate:
		for it := t.tree.WordIterator(leaf.Word); !it.Done() && len(words) < limit; it.Next() {
			words = append(words, string(it.Word()))
		}
	case *query.SuffixPredicate:
		for it := t.suffix.WordIterator(reverseString(leaf.Word)); !it.Done() && len(words) < limit; it.Next() {
			words = append(words, it.Target().word)
		}
	case *query.InfixPredicate:
		for it := t.tree.WordIterator(""); !it.Done() && len(words) < limit; it.Next() {
			if strings.Contains(string(it.Word()), leaf.Word) {
				words = append(words, string(it.Word()))
			}
		}
	case *query.FuzzyPredicate:
		words = t.fuzzyExpand(leaf.Word, leaf.Distance, limit)
	}
	return words
}

// fuzzyExpand walks the word store's edges with a banded Levenshtein DP,
// pruning any subtree whose row minimum exceeds the distance budget.
func (t *Text) fuzzyExpand(word string, maxDist, limit int) []string {
	n := len(word)
	row0 := make([]int, n+1)
	for i := range row0 {
		row0[i] = i
	}
	var out []string
	var visit func(it *radix.PathIterator[postings.List], row []int)
	visit = func(it *radix.PathIterator[postings.List], row []int) {
		for ; !it.Done() && len(out) < limit; it.NextChild() {
			edge := it.ChildEdge()
			r := row
			alive := true
			for _, b := range edge {
				next := make([]int, n+1)
				next[0] = r[0] + 1
				rowMin := next[0]
				for j := 1; j <= n; j++ {
					cost := 1
					if word[j-1] == b {
						cost = 0
					}
					next[j] = min(r[j]+1, min(next[j-1]+1, r[j-1]+cost))
					if next[j] < rowMin {
						rowMin = next[j]
					}
				}
				r = next
				if rowMin > maxDist {
					alive = false
					break
				}
			}
			if !alive {
				continue
			}
			if it.ChildIsWord() && r[n] <= maxDist {
				w := make([]byte, 0, len(it.Path())+len(edge))
				w = append(w, it.Path()...)
				w = append(w, edge...)
				out = append(out, string(w))
			}
			if it.CanDescend() {
				visit(it.DescendNew(), r)
			}
		}
	}
	visit(t.tree.PathIterator(""), row0)
	return out
}

// predicateLists resolves any text leaf to posting lists.
func (t *Text) predicateLists(p query.TextPredicate, verbatim bool) []*postings.List {
	if term, ok := p.(*query.TermPredicate); ok {
		return t.termLists(term.Word, verbatim)
	}
	var lists []*postings.List
	for _, w := range t.expandWords(p) {
		if l := t.tree.Lookup(w); l != nil {
			lists = append(lists, l)
		}
	}
	return lists
}

// BuildIterator converts a text predicate into its iterator. Returns nil
// when nothing in the word store can match.
func (t *Text) BuildIterator(p query.TextPredicate, verbatim, needPositions bool) textiter.Iterator {
	switch node := p.(type) {
	case *query.ProximityPredicate:
		children := make([]textiter.Iterator, 0, len(node.Terms))
		for _, term := range node.Terms {
			child := t.BuildIterator(term, verbatim, true)
			if child == nil {
				return nil
			}
			children = append(children, child)
		}
		return textiter.NewProximityIterator(children, node.Slop, node.InOrder, needPositions)
	default:
		lists := t.predicateLists(p, verbatim)
		if len(lists) == 0 {
			return nil
		}
		return textiter.NewTermIterator(lists, p.Mask())
	}
}

// EstimateSize sums posting sizes over the expansion, the fetcher's size
// heuristic for text leaves.
func (t *Text) EstimateSize(p query.TextPredicate, verbatim bool) int {
	switch node := p.(type) {
	case *query.ProximityPredicate:
		// An AND is bounded by its smallest child.
		best := -1
		for _, term := range node.Terms {
			s := t.EstimateSize(term, verbatim)
			if best < 0 || s < best {
				best = s
			}
		}
		if best < 0 {
			return 0
		}
		return best
	default:
		total := 0
		for _, l := range t.predicateLists(p, verbatim) {
			total += l.Size()
		}
		return total
	}
}

// MatchesTextKey evaluates a text predicate against one key using the
// word store's positional data, the prefilter-side text evaluation.
func (t *Text) MatchesTextKey(key intern.String, p query.TextPredicate) bool {
	it := t.BuildIterator(p, false, false)
	if it == nil {
		return false
	}
	return it.SeekForwardKey(key)
}
