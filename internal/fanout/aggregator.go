// Package fanout implements scatter-gather query distribution: per-shard
// request shaping, the shared result aggregator with bounded top-K
// merging, consistency gating, error classification and whole-round
// retries.
package fanout

import (
	"sync"
	"sync/atomic"

	"github.com/Aman-CERP/kvsearch/internal/cancel"
	"github.com/Aman-CERP/kvsearch/internal/config"
	"github.com/Aman-CERP/kvsearch/internal/index"
	"github.com/Aman-CERP/kvsearch/internal/intern"
	"github.com/Aman-CERP/kvsearch/internal/search"
	"github.com/Aman-CERP/kvsearch/internal/telemetry"
)

// ErrorClass buckets per-target failures for logging and retry policy.
type ErrorClass int

const (
	ErrClassIndexName ErrorClass = iota
	ErrClassCommunication
	ErrClassInconsistentState
)

// Aggregator is the shared state all target callbacks fold into. The heap
// is guarded by one mutex; cancellation flags are atomics. The local
// target's Parameters are retained here because local neighbors reference
// strings that object keeps alive; both drop together when the reply has
// been serialized.
type Aggregator struct {
	mu    sync.Mutex
	heap  *index.NeighborHeap
	total int

	consistencyFailed atomic.Bool
	outstanding       atomic.Int64

	indexNameErrors         []string
	communicationErrors     []string
	inconsistentStateErrors []string

	params *search.Parameters
	token  cancel.Token

	sawPartial bool
}

// NewAggregator creates the shared state for one fanout round. Vector
// queries bound the heap at k; non-vector heaps are unbounded because the
// coordinator applies LIMIT after the merge.
func NewAggregator(p *search.Parameters) *Aggregator {
	capacity := 0
	if p.IsVector() {
		capacity = p.K
	}
	return &Aggregator{
		heap:   index.NewNeighborHeap(capacity),
		params: p,
		token:  p.Token,
	}
}

// BeginRound arms the outstanding-request counter for one round.
func (a *Aggregator) BeginRound(targets int) {
	a.outstanding.Store(int64(targets))
}

// Outstanding reports the requests still in flight this round.
func (a *Aggregator) Outstanding() int64 { return a.outstanding.Load() }

// FoldResponse merges one target's partial result.
func (a *Aggregator) FoldResponse(total int, neighbors []index.Neighbor, partial bool) {
	a.outstanding.Add(-1)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.total += total
	if partial {
		a.sawPartial = true
	}
	for i := range neighbors {
		if a.token.IsCancelled() {
			return
		}
		a.heap.Push(neighbors[i])
	}
}

// FoldError classifies a per-target failure. Errors are absorbed into
// per-kind node lists; they surface to the client only when partial
// results are off or retries are exhausted.
func (a *Aggregator) FoldError(nodeID string, class ErrorClass, resourceExhausted bool) {
	a.outstanding.Add(-1)
	a.mu.Lock()
	switch class {
	case ErrClassIndexName:
		a.indexNameErrors = append(a.indexNameErrors, nodeID)
	case ErrClassCommunication:
		a.communicationErrors = append(a.communicationErrors, nodeID)
	case ErrClassInconsistentState:
		a.inconsistentStateErrors = append(a.inconsistentStateErrors, nodeID)
		a.consistencyFailed.Store(true)
		telemetry.ConsistencyFailures.Add(1)
	}
	a.mu.Unlock()

	if resourceExhausted {
		// The shard is out of resources; retrying would make it worse.
		a.token.Cancel()
		return
	}
	if class == ErrClassInconsistentState && a.params.EnableConsistency {
		a.token.Cancel()
		return
	}
	if class == ErrClassIndexName && !a.params.EnablePartialResults {
		// The index is missing on a shard and partial results are not
		// acceptable; communication errors stay retryable.
		a.token.Cancel()
	}
}

// ErrorNodes returns the classified node lists.
func (a *Aggregator) ErrorNodes(class ErrorClass) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch class {
	case ErrClassIndexName:
		return a.indexNameErrors
	case ErrClassCommunication:
		return a.communicationErrors
	default:
		return a.inconsistentStateErrors
	}
}

// Failed reports whether any target failed this round.
func (a *Aggregator) Failed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.indexNameErrors)+len(a.communicationErrors)+len(a.inconsistentStateErrors) > 0
}

// ConsistencyFailed reports a slot-fingerprint mismatch seen this round.
func (a *Aggregator) ConsistencyFailed() bool { return a.consistencyFailed.Load() }

// Finish drains the heap into the final merged Result. The coordinator's
// offset is applied by reply serialization (IsOffsetted stays false).
func (a *Aggregator) Finish() *search.Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := &search.Result{
		TotalCount: a.total,
		Neighbors:  a.heap.Drain(),
		Partial:    a.sawPartial,
	}
	return r
}

// Reset clears merged state ahead of a whole-round retry.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	capacity := 0
	if a.params.IsVector() {
		capacity = a.params.K
	}
	a.heap = index.NewNeighborHeap(capacity)
	a.total = 0
	a.indexNameErrors = nil
	a.communicationErrors = nil
	a.inconsistentStateErrors = nil
	a.sawPartial = false
}

// PerShardLimit narrows the per-target LIMIT for non-vector queries that
// tolerate partial results: fair_share + ((100-U)/100)*skew_gap, where U
// is the operator's data-uniformity dial. Vector queries always request k
// (the worst case puts all of top-k on one shard), as do queries that
// require complete results or very small result windows.
func PerShardLimit(p *search.Parameters, numTargets int) int {
	if p.IsVector() {
		return p.K
	}
	want := p.EndIndex()
	if p.RequireComplete || numTargets <= 1 || want <= numTargets {
		return want
	}
	fairShare := (want + numTargets - 1) / numTargets
	skewGap := want - fairShare
	u := int(config.FanoutDataUniformity.Get())
	return fairShare + (100-u)*skewGap/100
}

// WireNeighbor is the cross-shard serialization of a neighbor.
type WireNeighbor struct {
	Key      string  `json:"key"`
	Distance float32 `json:"distance"`
}

// ToWire flattens neighbors for transport.
func ToWire(neighbors []index.Neighbor) []WireNeighbor {
	out := make([]WireNeighbor, len(neighbors))
	for i, n := range neighbors {
		out[i] = WireNeighbor{Key: n.Key.Str(), Distance: n.Distance}
	}
	return out
}

// FromWire re-interns received neighbors.
func FromWire(wire []WireNeighbor) []index.Neighbor {
	out := make([]index.Neighbor, len(wire))
	for i, w := range wire {
		out[i] = index.Neighbor{Key: intern.Make(w.Key), Distance: w.Distance}
	}
	return out
}
