// Package index implements the typed secondary indexes (numeric, tag,
// text, vector) and the entries-fetcher surface the query pipeline
// consumes. Indexes are mutated only under the schema write guard and read
// under its read guard.
package index

import (
	"github.com/Aman-CERP/kvsearch/internal/intern"
)

// Kind discriminates the typed index variants.
type Kind int

const (
	KindNumeric Kind = iota
	KindTag
	KindText
	KindVectorFlat
	KindVectorHNSW
)

// Index is the capability set shared by all typed indexes.
type Index interface {
	Kind() Kind
	// Size is the number of tracked keys.
	Size() int
}

// EntriesFetcher enumerates candidate keys for one predicate subtree. Size
// is an upper-bound estimate of the matching cardinality; the iterator
// yields interned keys in a source-defined total order and consumers treat
// the sequence as a multiset.
type EntriesFetcher interface {
	Size() int
	Begin() EntriesIterator
}

// EntriesIterator walks one fetcher's candidates.
type EntriesIterator interface {
	Done() bool
	Key() intern.String
	Next()
}

// sliceFetcher serves a materialized key list.
type sliceFetcher struct {
	keys []intern.String
}

// NewSliceFetcher wraps an already-materialized candidate list.
func NewSliceFetcher(keys []intern.String) EntriesFetcher {
	return &sliceFetcher{keys: keys}
}

func (f *sliceFetcher) Size() int { return len(f.keys) }

func (f *sliceFetcher) Begin() EntriesIterator {
	return &sliceIterator{keys: f.keys}
}

type sliceIterator struct {
	keys []intern.String
	idx  int
}

func (it *sliceIterator) Done() bool         { return it.idx >= len(it.keys) }
func (it *sliceIterator) Key() intern.String { return it.keys[it.idx] }
func (it *sliceIterator) Next()              { it.idx++ }
