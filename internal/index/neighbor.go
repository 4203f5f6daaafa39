package index

import (
	"container/heap"

	"github.com/Aman-CERP/kvsearch/internal/intern"
)

// AttrContent is one pre-resolved return attribute carried on a neighbor
// when the indexed data can serve it without a record fetch.
type AttrContent struct {
	Identifier string
	Value      string
}

// Neighbor is one search hit. Distance is 0 for non-vector queries. SeqNo
// is the schema's per-key mutation counter captured when the neighbor was
// produced; it is the re-validation token for prefilter results.
type Neighbor struct {
	Key      intern.String
	Distance float32
	SeqNo    uint64
	// Attributes is nil when the caller must fetch the record.
	Attributes []AttrContent
}

// Worse orders neighbors for eviction: a neighbor is worse when its
// distance is larger, or equal-distance with a smaller key. The resulting
// drain order matches the reply order (distance ASC, key DESC).
func (n *Neighbor) Worse(o *Neighbor) bool {
	if n.Distance != o.Distance {
		return n.Distance > o.Distance
	}
	return intern.Less(n.Key, o.Key)
}

// NeighborHeap is a bounded max-heap of the best k neighbors seen so far.
// The root is the worst retained neighbor; pushing beyond capacity evicts
// it.
type NeighborHeap struct {
	items neighborItems
	cap   int
}

type neighborItems []Neighbor

func (h neighborItems) Len() int { return len(h) }
func (h neighborItems) Less(i, j int) bool { return h[i].Worse(&h[j]) }
func (h neighborItems) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *neighborItems) Push(x any) { *h = append(*h, x.(Neighbor)) }
func (h *neighborItems) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// NewNeighborHeap creates a heap retaining at most capacity neighbors;
// capacity <= 0 means unbounded.
func NewNeighborHeap(capacity int) *NeighborHeap {
	return &NeighborHeap{cap: capacity}
}

// Len returns the number of retained neighbors.
func (h *NeighborHeap) Len() int { return len(h.items) }

// WorstDistance returns the root's distance; callers must check Len first.
func (h *NeighborHeap) WorstDistance() float32 { return h.items[0].Distance }

// Push inserts a neighbor, evicting the worst when over capacity. Returns
// false when the neighbor was rejected (worse than the current worst of a
// full heap).
func (h *NeighborHeap) Push(n Neighbor) bool {
	if h.cap > 0 && len(h.items) >= h.cap {
		if !h.items[0].Worse(&n) {
			return false
		}
		h.items[0] = n
		heap.Fix(&h.items, 0)
		return true
	}
	heap.Push(&h.items, n)
	return true
}

// Drain empties the heap into a slice ordered best-first: distance
// ascending, ties by key descending.
func (h *NeighborHeap) Drain() []Neighbor {
	out := make([]Neighbor, len(h.items))
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&h.items).(Neighbor)
	}
	return out
}
