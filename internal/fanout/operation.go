package fanout

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/kvsearch/internal/cluster"
	"github.com/Aman-CERP/kvsearch/internal/config"
	kverrors "github.com/Aman-CERP/kvsearch/internal/errors"
	"github.com/Aman-CERP/kvsearch/internal/search"
	"github.com/Aman-CERP/kvsearch/internal/telemetry"
)

// Request is the shard-bound form of a query.
type Request struct {
	IndexName string `json:"index"`
	Query     string `json:"query"`

	TimeoutMs int64 `json:"timeout_ms"`
	Dialect   int   `json:"dialect"`

	K           int       `json:"k,omitempty"`
	Ef          int       `json:"ef,omitempty"`
	VectorAlias string    `json:"vector_alias,omitempty"`
	VectorQuery []float32 `json:"vector_query,omitempty"`

	Limit           int  `json:"limit"`
	RequireComplete bool `json:"require_complete"`
	PartialResults  bool `json:"partial_results"`

	// SlotFingerprint gates consistency: the receiver fails with
	// failed-precondition when it disagrees and consistency is on.
	SlotFingerprint   uint64 `json:"slot_fingerprint"`
	EnableConsistency bool   `json:"enable_consistency"`

	Params map[string]string `json:"params,omitempty"`
}

// Response is the shard's partial result.
type Response struct {
	TotalCount int            `json:"total_count"`
	Neighbors  []WireNeighbor `json:"neighbors"`
	Partial    bool           `json:"partial,omitempty"`
	// ErrorClass is set instead of neighbors on failure:
	// index-name-error, inconsistent-state-error, resource-exhausted.
	ErrorClass string `json:"error_class,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Transport sends one shard request; implementations classify IO errors
// as communication failures.
type Transport interface {
	Search(ctx context.Context, target *cluster.NodeInfo, req *Request) (*Response, error)
}

// LocalSearch runs the coordinator's own shard through the regular local
// path, routing completion into the aggregator instead of a client.
type LocalSearch func(p *search.Parameters) (*search.Result, error)

// Operation drives one scatter-gather query. Components embedding it may
// override the retry hooks.
type Operation struct {
	Targets   []*cluster.NodeInfo
	Transport Transport
	Local     LocalSearch
	Params    *search.Parameters

	// Retries counts completed retry rounds.
	Retries int

	agg *Aggregator
}

// ShouldRetry decides whether a failed round re-issues to all targets: by
// default only while the deadline is still in the future and no
// consistency failure latched.
func (o *Operation) ShouldRetry() bool {
	if o.agg.ConsistencyFailed() && o.Params.EnableConsistency {
		return false
	}
	return !o.Params.Token.IsCancelled()
}

// ResetForRetry clears merged state before re-issuing.
func (o *Operation) ResetForRetry() {
	o.agg.Reset()
	o.Retries++
	telemetry.FanoutRetries.Add(1)
}

// Run distributes the query and merges partial results into one Result.
func (o *Operation) Run(ctx context.Context) (*search.Result, error) {
	o.agg = NewAggregator(o.Params)
	limit := PerShardLimit(o.Params, len(o.Targets))

	bo := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(20*time.Millisecond),
		backoff.WithMaxElapsedTime(time.Duration(o.Params.TimeoutMs)*time.Millisecond),
	), ctx)

	round := func() error {
		o.runRound(ctx, limit)
		if o.agg.ConsistencyFailed() && o.Params.EnableConsistency {
			return backoff.Permanent(kverrors.FailedPrecondition("cluster state inconsistent during query"))
		}
		// A round with no failures completes, as does any round when
		// partial results are allowed.
		if !o.agg.Failed() || o.Params.EnablePartialResults {
			return nil
		}
		if !o.ShouldRetry() {
			return backoff.Permanent(kverrors.New(kverrors.KindTransport, "fanout round failed"))
		}
		o.ResetForRetry()
		return kverrors.New(kverrors.KindTransport, "fanout round failed, retrying")
	}
	if err := backoff.Retry(round, bo); err != nil {
		if kverrors.IsKind(err, kverrors.KindFailedPrecondition) {
			return nil, err
		}
		if o.Params.Token.IsCancelled() && !o.Params.EnablePartialResults {
			return nil, kverrors.Timeout("search timed out")
		}
		return nil, err
	}

	if o.Params.Token.IsCancelled() && !o.Params.EnablePartialResults {
		return nil, kverrors.Timeout("search timed out")
	}
	res := o.agg.Finish()
	if res.Partial {
		telemetry.PartialResults.Add(1)
	}
	return res, nil
}

// runRound issues the request to every target concurrently. The local
// target reuses the local search path directly.
func (o *Operation) runRound(ctx context.Context, limit int) {
	o.agg.BeginRound(len(o.Targets))
	g, ctx := errgroup.WithContext(ctx)
	if threshold := int(config.AsyncFanoutThreshold.Get()); len(o.Targets) > threshold {
		// Wide fanouts queue their RPCs instead of spawning one goroutine
		// per shard at once.
		g.SetLimit(threshold)
	}
	for _, target := range o.Targets {
		g.Go(func() error {
			telemetry.FanoutRequests.Add(1)
			if o.Params.Token.IsCancelled() {
				o.agg.outstanding.Add(-1)
				return nil
			}
			if target.IsLocal {
				o.runLocal()
				return nil
			}
			o.runRemote(ctx, target, limit)
			return nil
		})
	}
	_ = g.Wait()
}

func (o *Operation) runLocal() {
	local := *o.Params
	local.InCluster = true
	res, err := o.Local(&local)
	if err != nil {
		class := ErrClassCommunication
		switch kverrors.KindOf(err) {
		case kverrors.KindNotFound:
			class = ErrClassIndexName
		case kverrors.KindFailedPrecondition:
			class = ErrClassInconsistentState
		}
		o.agg.FoldError("local", class, kverrors.IsKind(err, kverrors.KindResourceExhausted))
		return
	}
	o.agg.FoldResponse(res.TotalCount, res.Neighbors, res.Partial)
}

func (o *Operation) runRemote(ctx context.Context, target *cluster.NodeInfo, limit int) {
	fingerprint := uint64(0)
	if target.Shard != nil {
		fingerprint = target.Shard.SlotsFingerprint
	}
	req := &Request{
		IndexName:         o.Params.IndexName,
		Query:             o.Params.QueryString,
		TimeoutMs:         o.Params.TimeoutMs,
		Dialect:           o.Params.Dialect,
		K:                 o.Params.K,
		Ef:                o.Params.Ef,
		VectorAlias:       o.Params.VectorAlias,
		VectorQuery:       o.Params.VectorQuery,
		Limit:             limit,
		RequireComplete:   o.Params.RequireComplete,
		PartialResults:    o.Params.EnablePartialResults,
		SlotFingerprint:   fingerprint,
		EnableConsistency: o.Params.EnableConsistency,
		Params:            o.Params.Params,
	}
	resp, err := o.Transport.Search(ctx, target, req)
	if err != nil {
		o.agg.FoldError(target.NodeID, ErrClassCommunication, false)
		return
	}
	switch resp.ErrorClass {
	case "":
		o.agg.FoldResponse(resp.TotalCount, FromWire(resp.Neighbors), resp.Partial)
	case "index-name-error":
		o.agg.FoldError(target.NodeID, ErrClassIndexName, false)
	case "inconsistent-state-error":
		o.agg.FoldError(target.NodeID, ErrClassInconsistentState, false)
	case "resource-exhausted":
		o.agg.FoldError(target.NodeID, ErrClassCommunication, true)
	default:
		o.agg.FoldError(target.NodeID, ErrClassCommunication, false)
	}
}
