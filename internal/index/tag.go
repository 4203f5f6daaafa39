package index

import (
	"strings"

	"github.com/Aman-CERP/kvsearch/internal/intern"
	"github.com/Aman-CERP/kvsearch/internal/query"
	"github.com/Aman-CERP/kvsearch/internal/radix"
)

// tagKeys is the radix-tree target for one tag value.
type tagKeys struct {
	keys map[intern.String]struct{}
}

// Tag indexes one tag attribute. Tag values live in a radix tree keyed by
// the (case-normalized) tag so prefix patterns iterate directly; raw
// per-key tag lists are kept for inline re-evaluation.
type Tag struct {
	tree          *radix.Tree[tagKeys]
	byKey         map[intern.String][]string
	separator     byte
	caseSensitive bool
}

// NewTag creates an empty tag index.
func NewTag(separator byte, caseSensitive bool) *Tag {
	return &Tag{
		tree:          radix.NewTree[tagKeys](),
		byKey:         map[intern.String][]string{},
		separator:     separator,
		caseSensitive: caseSensitive,
	}
}

func (t *Tag) Kind() Kind { return KindTag }

func (t *Tag) Size() int { return len(t.byKey) }

// Separator implements query.TagView.
func (t *Tag) Separator() byte { return t.separator }

// CaseSensitive implements query.TagView.
func (t *Tag) CaseSensitive() bool { return t.caseSensitive }

// KeyTags implements query.TagView, returning the raw tag values.
func (t *Tag) KeyTags(key intern.String) ([]string, bool) {
	tags, ok := t.byKey[key]
	return tags, ok
}

func (t *Tag) normalize(tag string) string {
	if t.caseSensitive {
		return tag
	}
	return strings.ToLower(tag)
}

// AddKey indexes the raw attribute value, splitting it on the schema
// separator.
func (t *Tag) AddKey(key intern.String, raw string) {
	t.RemoveKey(key)
	var tags []string
	for _, part := range strings.Split(raw, string(t.separator)) {
		tag := strings.TrimSpace(part)
		if tag == "" {
			continue
		}
		tags = append(tags, tag)
		t.tree.Mutate(t.normalize(tag), func(old *tagKeys) *tagKeys {
			if old == nil {
				old = &tagKeys{keys: map[intern.String]struct{}{}}
			}
			old.keys[key] = struct{}{}
			return old
		}, radix.CountAdd)
	}
	t.byKey[key] = tags
}

// RemoveKey drops the key and its tags.
func (t *Tag) RemoveKey(key intern.String) {
	tags, ok := t.byKey[key]
	if !ok {
		return
	}
	for _, tag := range tags {
		t.tree.Mutate(t.normalize(tag), func(old *tagKeys) *tagKeys {
			if old == nil {
				return nil
			}
			delete(old.keys, key)
			if len(old.keys) == 0 {
				return nil
			}
			return old
		}, radix.CountSub)
	}
	delete(t.byKey, key)
}

// Search materializes the candidate keys for a parsed tag set. The same
// key may appear once per matching tag; the fetcher pipeline deduplicates
// when the has_tag bit is set.
func (t *Tag) Search(pred *query.TagPredicate, negate bool) EntriesFetcher {
	var keys []intern.String
	matched := map[intern.String]struct{}{}
	collect := func(tk *tagKeys) {
		for k := range tk.keys {
			keys = append(keys, k)
			matched[k] = struct{}{}
		}
	}
	for _, pat := range pred.Tags {
		v := t.normalize(pat.Value)
		if pat.Prefix {
			for it := t.tree.WordIterator(v); !it.Done(); it.Next() {
				collect(it.Target())
			}
			continue
		}
		if tk := t.tree.Lookup(v); tk != nil {
			collect(tk)
		}
	}
	if !negate {
		return NewSliceFetcher(keys)
	}
	var complement []intern.String
	for k := range t.byKey {
		if _, ok := matched[k]; !ok {
			complement = append(complement, k)
		}
	}
	return NewSliceFetcher(complement)
}
