package command

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/kvsearch/internal/async"
	"github.com/Aman-CERP/kvsearch/internal/cancel"
	"github.com/Aman-CERP/kvsearch/internal/cluster"
	kverrors "github.com/Aman-CERP/kvsearch/internal/errors"
	"github.com/Aman-CERP/kvsearch/internal/fanout"
	"github.com/Aman-CERP/kvsearch/internal/keyspace"
	"github.com/Aman-CERP/kvsearch/internal/query"
	"github.com/Aman-CERP/kvsearch/internal/schema"
	"github.com/Aman-CERP/kvsearch/internal/telemetry"
)

// Reply is a protocol-level value: string, int64, float64, []Reply, or
// nil.
type Reply = any

// ACLHook validates the caller may touch the schema's key prefixes.
type ACLHook func(prefixes []string) error

// parseCacheSize bounds the parsed-filter LRU.
const parseCacheSize = 512

type cachedParse struct {
	results *query.ParseResults
}

// Dispatcher owns the command surface. One instance serves the whole
// process; per-command state lives in the parameter blocks.
type Dispatcher struct {
	Schemas   *schema.Manager
	Keyspace  keyspace.Store
	Cluster   *cluster.Provider
	Transport fanout.Transport
	Pools     *async.Pools
	ACL       ACLHook
	Log       *slog.Logger
	// AcceptInternalUpdates is set on replicas and during AOF load so the
	// replication hook is honored.
	AcceptInternalUpdates bool

	parseCache *lru.Cache[string, cachedParse]
}

// NewDispatcher wires the command surface.
func NewDispatcher(schemas *schema.Manager, ks keyspace.Store) *Dispatcher {
	cache, _ := lru.New[string, cachedParse](parseCacheSize)
	return &Dispatcher{
		Schemas:    schemas,
		Keyspace:   ks,
		Log:        slog.Default(),
		parseCache: cache,
	}
}

// Dispatch executes one raw command vector and returns the reply. Errors
// carry the wire-level class prefix.
func (d *Dispatcher) Dispatch(ctx context.Context, args []string) (Reply, error) {
	if len(args) == 0 {
		return nil, kverrors.InvalidArgument("empty command")
	}
	started := time.Now()
	reply, err := d.dispatch(ctx, args)
	if err != nil {
		telemetry.QueryFailedRequests.Add(1)
	}
	telemetry.QueryLatency.Observe(time.Since(started))
	return reply, err
}

func (d *Dispatcher) dispatch(ctx context.Context, args []string) (Reply, error) {
	cmd := strings.ToUpper(args[0])
	rest := args[1:]
	switch cmd {
	case "FT.CREATE":
		return d.ftCreate(rest)
	case "FT.DROPINDEX":
		return d.ftDropIndex(rest)
	case "FT.SEARCH":
		return d.ftSearch(ctx, rest)
	case "FT.AGGREGATE":
		return d.ftAggregate(ctx, rest)
	case "FT.INFO":
		return d.ftInfo(rest)
	case "FT._LIST":
		return d.ftList(rest)
	case "FT._DEBUG":
		return d.ftDebug(rest)
	case "FT.INTERNAL_UPDATE":
		return d.ftInternalUpdate(rest)
	default:
		return nil, kverrors.InvalidArgument("unknown command `%s`", args[0])
	}
}

// checkACL applies the permission hook to a schema's prefixes.
func (d *Dispatcher) checkACL(s *schema.Schema) error {
	if d.ACL == nil {
		return nil
	}
	if err := d.ACL(s.Prefixes); err != nil {
		return kverrors.Wrap(kverrors.KindPermissionDenied, err, "key prefixes not permitted")
	}
	return nil
}

// parseFilter parses (or re-uses) the filter for a query string. The
// cache key folds in the schema fingerprint and version so schema changes
// invalidate stale trees.
func (d *Dispatcher) parseFilter(s *schema.Schema, filter string, opts query.ParseOptions) (*query.ParseResults, error) {
	cacheable := opts == query.DefaultParseOptions()
	var key string
	if cacheable {
		key = strings.Join([]string{s.Name, strconv.FormatUint(s.Version, 10), strconv.FormatUint(s.Fingerprint(), 16), filter}, "\x00")
		if hit, ok := d.parseCache.Get(key); ok {
			return hit.results, nil
		}
	}
	res, err := query.ParseFilter(s, filter, opts)
	if err != nil {
		return nil, err
	}
	if cacheable {
		d.parseCache.Add(key, cachedParse{results: res})
	}
	return res, nil
}

// ftList implements FT._LIST.
func (d *Dispatcher) ftList(args []string) (Reply, error) {
	if len(args) != 0 {
		return nil, kverrors.InvalidArgument("FT._LIST takes no arguments")
	}
	names := d.Schemas.List()
	out := make([]Reply, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out, nil
}

// ftDropIndex implements FT.DROPINDEX.
func (d *Dispatcher) ftDropIndex(args []string) (Reply, error) {
	if len(args) != 1 {
		return nil, kverrors.InvalidArgument("FT.DROPINDEX requires exactly the index name")
	}
	s, err := d.Schemas.Get(args[0])
	if err != nil {
		return nil, err
	}
	if err := d.checkACL(s); err != nil {
		return nil, err
	}
	if err := d.Schemas.Drop(args[0]); err != nil {
		return nil, err
	}
	return "OK", nil
}

// ftInternalUpdate implements FT.INTERNAL_UPDATE id metadata_entry
// version_header, the replication hook. It is honored only on replicas or
// during AOF load; a primary serving clients rejects it.
func (d *Dispatcher) ftInternalUpdate(args []string) (Reply, error) {
	if len(args) != 3 {
		return nil, kverrors.InvalidArgument("FT.INTERNAL_UPDATE requires id, metadata entry and version header")
	}
	if !d.AcceptInternalUpdates {
		return nil, kverrors.InvalidArgument("FT.INTERNAL_UPDATE is only honored on replicas")
	}
	if args[0] == "" || args[1] == "" || args[2] == "" {
		return nil, kverrors.InvalidArgument("FT.INTERNAL_UPDATE arguments must be non-empty")
	}
	d.Log.Info("internal update applied", "id", args[0], "version", args[2])
	return "OK", nil
}

// ftDebug implements FT._DEBUG INFO_METADATA|INFO_VALUES.
func (d *Dispatcher) ftDebug(args []string) (Reply, error) {
	if len(args) < 1 {
		return nil, kverrors.InvalidArgument("FT._DEBUG requires a subcommand")
	}
	switch strings.ToUpper(args[0]) {
	case "INFO_METADATA":
		return []Reply{
			"queries_started", telemetry.QueriesStarted.Load(),
			"query_failed_requests", telemetry.QueryFailedRequests.Load(),
			"partial_results", telemetry.PartialResults.Load(),
			"fanout_requests", telemetry.FanoutRequests.Load(),
			"fanout_retries", telemetry.FanoutRetries.Load(),
			"consistency_failures", telemetry.ConsistencyFailures.Load(),
			"cancel_timeouts", cancel.Timeouts.Load(),
		}, nil
	case "INFO_VALUES":
		var out []Reply
		for bucket, count := range telemetry.QueryLatency.Snapshot() {
			out = append(out, string(bucket), count)
		}
		return out, nil
	default:
		return nil, kverrors.InvalidArgument("unknown FT._DEBUG subcommand `%s`", args[0])
	}
}
