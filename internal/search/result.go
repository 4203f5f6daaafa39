package search

import (
	"github.com/Aman-CERP/kvsearch/internal/config"
	"github.com/Aman-CERP/kvsearch/internal/index"
)

// Result is the outcome of a local search or a fanout aggregation.
type Result struct {
	TotalCount int
	Neighbors  []index.Neighbor
	// IsLimitedWithBuffer records that the tail was truncated to
	// end_index * buffer_multiplier.
	IsLimitedWithBuffer bool
	// IsOffsetted records that the front offset was already applied, so
	// reply serialization must not apply it again.
	IsOffsetted bool
	// Partial marks a result truncated by cancellation with partial
	// results enabled.
	Partial bool
}

// NewResult builds a result from the produced neighbors, applying the
// trim rules: when the command does not require complete results, the
// front offset is applied in standalone mode only (the cluster
// coordinator applies it after merging), and the tail is truncated to
// end_index * buffer_multiplier.
func NewResult(p *Parameters, neighbors []index.Neighbor) *Result {
	r := &Result{TotalCount: len(neighbors), Neighbors: neighbors}
	if p.RequireComplete {
		return r
	}
	if !p.InCluster && p.LimitOffset > 0 {
		drop := min(p.LimitOffset, len(r.Neighbors))
		r.Neighbors = r.Neighbors[drop:]
		r.IsOffsetted = true
	}
	limit := int(float64(p.EndIndex()) * config.ResultBufferMultiplier.Get())
	if len(r.Neighbors) > limit {
		r.Neighbors = r.Neighbors[:limit]
		r.IsLimitedWithBuffer = true
	}
	return r
}

// SerializationRange is the half-open neighbor window the reply emits.
type SerializationRange struct {
	Start, End int
}

// shouldReturnNoResults: a vector query whose offset consumed all of k, or
// any query with LIMIT count 0 (count-only form).
func shouldReturnNoResults(p *Parameters) bool {
	if p.IsVector() && p.LimitOffset >= p.K {
		return true
	}
	return p.LimitCount == 0
}

// ComputeRange applies the reply windowing rules to a result.
func ComputeRange(r *Result, p *Parameters) SerializationRange {
	if shouldReturnNoResults(p) {
		return SerializationRange{}
	}
	start := 0
	if !r.IsOffsetted {
		start = min(len(r.Neighbors), p.LimitOffset)
	}
	count := len(r.Neighbors) - start
	if p.LimitCount < count {
		count = p.LimitCount
	}
	if p.IsVector() && p.K < count {
		count = p.K
	}
	return SerializationRange{Start: start, End: start + count}
}
