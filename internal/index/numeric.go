package index

import (
	"math"

	"github.com/google/btree"

	"github.com/Aman-CERP/kvsearch/internal/intern"
)

// numericEntry orders the tree by (value, key).
type numericEntry struct {
	value float64
	key   intern.String
}

func numericLess(a, b numericEntry) bool {
	if a.value != b.value {
		return a.value < b.value
	}
	return intern.Less(a.key, b.key)
}

// Numeric indexes one numeric attribute: an ordered (value, key) tree for
// range scans plus a per-key value map for prefilter evaluation.
type Numeric struct {
	tree  *btree.BTreeG[numericEntry]
	byKey map[intern.String]float64
}

// NewNumeric creates an empty numeric index.
func NewNumeric() *Numeric {
	return &Numeric{
		tree:  btree.NewG(16, numericLess),
		byKey: map[intern.String]float64{},
	}
}

func (n *Numeric) Kind() Kind { return KindNumeric }

func (n *Numeric) Size() int { return len(n.byKey) }

// AddKey indexes (or re-indexes) the value for key.
func (n *Numeric) AddKey(key intern.String, value float64) {
	if old, ok := n.byKey[key]; ok {
		n.tree.Delete(numericEntry{value: old, key: key})
	}
	n.byKey[key] = value
	n.tree.ReplaceOrInsert(numericEntry{value: value, key: key})
}

// RemoveKey drops the key from the index.
func (n *Numeric) RemoveKey(key intern.String) {
	if old, ok := n.byKey[key]; ok {
		n.tree.Delete(numericEntry{value: old, key: key})
		delete(n.byKey, key)
	}
}

// KeyValue implements query.NumericView.
func (n *Numeric) KeyValue(key intern.String) (float64, bool) {
	v, ok := n.byKey[key]
	return v, ok
}

// EstimateRange implements query.NumericView by walking the range.
func (n *Numeric) EstimateRange(start, end float64, incStart, incEnd bool) int {
	count := 0
	n.ascendRange(start, end, incStart, incEnd, func(numericEntry) bool {
		count++
		return true
	})
	return count
}

func (n *Numeric) ascendRange(start, end float64, incStart, incEnd bool, fn func(numericEntry) bool) {
	pivot := numericEntry{value: start, key: intern.String{}}
	if !incStart {
		pivot = numericEntry{value: math.Nextafter(start, math.Inf(1)), key: intern.String{}}
	}
	n.tree.AscendGreaterOrEqual(pivot, func(e numericEntry) bool {
		if e.value > end || (e.value == end && !incEnd) {
			return false
		}
		return fn(e)
	})
}

// Search materializes the keys inside (or, negated, outside) the range
// into a fetcher. The fetcher's size is exact for numeric leaves.
func (n *Numeric) Search(start, end float64, incStart, incEnd, negate bool) EntriesFetcher {
	var keys []intern.String
	if !negate {
		n.ascendRange(start, end, incStart, incEnd, func(e numericEntry) bool {
			keys = append(keys, e.key)
			return true
		})
		return NewSliceFetcher(keys)
	}
	inRange := map[intern.String]struct{}{}
	n.ascendRange(start, end, incStart, incEnd, func(e numericEntry) bool {
		inRange[e.key] = struct{}{}
		return true
	})
	n.tree.Ascend(func(e numericEntry) bool {
		if _, ok := inRange[e.key]; !ok {
			keys = append(keys, e.key)
		}
		return true
	})
	return NewSliceFetcher(keys)
}
