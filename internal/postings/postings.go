// Package postings stores, for one word of a text index, the key-sorted
// list of (key, field mask, sorted positions). Lists are shared between
// the word store and any live iterators; mutation happens only under the
// schema write guard, through the radix tree's mutate closure.
package postings

import (
	"slices"
	"sort"

	"github.com/Aman-CERP/kvsearch/internal/intern"
)

// FieldMask selects which text fields a posting or position belongs to.
type FieldMask = uint64

// AllFields is the mask matching every text field.
const AllFields FieldMask = ^FieldMask(0)

// Position is one occurrence of the word inside a key, tagged with the
// fields it occurred in.
type Position struct {
	Pos    uint32
	Fields FieldMask
}

// Entry is the per-key posting.
type Entry struct {
	Key intern.String
	// Fields is the union of all position masks.
	Fields FieldMask
	// Positions is sorted ascending by Pos.
	Positions []Position
}

// List is the posting list for one word, sorted by key bytes.
type List struct {
	entries []Entry
}

// NewList creates an empty posting list.
func NewList() *List { return &List{} }

// Size returns the number of keys carrying the word.
func (l *List) Size() int { return len(l.entries) }

func (l *List) search(key intern.String) (int, bool) {
	i := sort.Search(len(l.entries), func(i int) bool {
		return intern.Compare(l.entries[i].Key, key) >= 0
	})
	return i, i < len(l.entries) && l.entries[i].Key == key
}

// Find returns the entry for key when present.
func (l *List) Find(key intern.String) (*Entry, bool) {
	i, ok := l.search(key)
	if !ok {
		return nil, false
	}
	return &l.entries[i], true
}

// Add merges an occurrence of the word at pos within the field into the
// list, keeping key and position order.
func (l *List) Add(key intern.String, field FieldMask, pos uint32) {
	i, ok := l.search(key)
	if !ok {
		l.entries = slices.Insert(l.entries, i, Entry{Key: key})
	}
	e := &l.entries[i]
	e.Fields |= field
	j := sort.Search(len(e.Positions), func(j int) bool { return e.Positions[j].Pos >= pos })
	if j < len(e.Positions) && e.Positions[j].Pos == pos {
		e.Positions[j].Fields |= field
		return
	}
	e.Positions = slices.Insert(e.Positions, j, Position{Pos: pos, Fields: field})
}

// Remove drops the key's posting entirely. Reports whether the list is
// now empty, which lets the word-store mutate closure delete the word.
func (l *List) Remove(key intern.String) bool {
	i, ok := l.search(key)
	if ok {
		l.entries = slices.Delete(l.entries, i, i+1)
	}
	return len(l.entries) == 0
}

// Iterator walks the entries in key order with seek support.
type Iterator struct {
	list *List
	idx  int
}

// Iterator returns a cursor positioned at the first entry.
func (l *List) Iterator() Iterator { return Iterator{list: l} }

// Done reports exhaustion.
func (it *Iterator) Done() bool { return it.idx >= len(it.list.entries) }

// Entry returns the current posting.
func (it *Iterator) Entry() *Entry { return &it.list.entries[it.idx] }

// Key returns the current key.
func (it *Iterator) Key() intern.String { return it.list.entries[it.idx].Key }

// Next advances one entry.
func (it *Iterator) Next() { it.idx++ }

// SeekKey positions at the first entry with key >= target. Returns true
// iff the landing key equals target.
func (it *Iterator) SeekKey(target intern.String) bool {
	for it.idx < len(it.list.entries) {
		cmp := intern.Compare(it.list.entries[it.idx].Key, target)
		if cmp >= 0 {
			return cmp == 0
		}
		// Binary re-search is cheaper once the gap is large; the common
		// case in intersections is a short hop.
		it.idx++
	}
	return false
}
