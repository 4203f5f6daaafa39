package fanout

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Aman-CERP/kvsearch/internal/cancel"
	"github.com/Aman-CERP/kvsearch/internal/config"
	kverrors "github.com/Aman-CERP/kvsearch/internal/errors"
	"github.com/Aman-CERP/kvsearch/internal/query"
	"github.com/Aman-CERP/kvsearch/internal/schema"
	"github.com/Aman-CERP/kvsearch/internal/search"
)

// Server answers shard-side fanout requests: it validates the caller's
// slot fingerprint, runs the local search and returns the partial result.
type Server struct {
	Schemas *schema.Manager
	// LocalFingerprint returns this node's current slot fingerprint; nil
	// disables the consistency gate.
	LocalFingerprint func() uint64
	Log              *slog.Logger
}

// Handler mounts the internal search endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /internal/search", s.handleSearch)
	return mux
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp := s.Execute(&req)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// Execute runs one shard request locally.
func (s *Server) Execute(req *Request) *Response {
	if req.EnableConsistency && s.LocalFingerprint != nil {
		if local := s.LocalFingerprint(); local != req.SlotFingerprint {
			return &Response{
				ErrorClass: "inconsistent-state-error",
				Error:      "slot fingerprint mismatch",
			}
		}
	}
	sch, err := s.Schemas.Get(req.IndexName)
	if err != nil {
		return &Response{ErrorClass: "index-name-error", Error: err.Error()}
	}

	parsed, err := query.ParseFilter(sch, req.Query, query.DefaultParseOptions())
	if err != nil {
		return &Response{ErrorClass: "index-name-error", Error: err.Error()}
	}

	timeout := req.TimeoutMs
	if timeout <= 0 {
		timeout = config.DefaultTimeoutMs.Get()
	}
	params := &search.Parameters{
		Schema:               sch,
		IndexName:            req.IndexName,
		QueryString:          req.Query,
		Parse:                parsed,
		TimeoutMs:            timeout,
		EnablePartialResults: req.PartialResults,
		EnableConsistency:    req.EnableConsistency,
		Dialect:              req.Dialect,
		VectorAlias:          req.VectorAlias,
		VectorQuery:          req.VectorQuery,
		K:                    req.K,
		Ef:                   req.Ef,
		LimitOffset:          0,
		LimitCount:           req.Limit,
		RequireComplete:      req.RequireComplete,
		Params:               req.Params,
		Token:                cancel.WithTimeout(timeout),
		InCluster:            true,
	}

	res, err := search.Local(params)
	if err != nil {
		class := "index-name-error"
		switch kverrors.KindOf(err) {
		case kverrors.KindResourceExhausted, kverrors.KindOutOfMemory:
			class = "resource-exhausted"
		case kverrors.KindFailedPrecondition:
			class = "inconsistent-state-error"
		}
		if s.Log != nil {
			s.Log.Warn("shard search failed", "index", req.IndexName, "err", err)
		}
		return &Response{ErrorClass: class, Error: err.Error()}
	}
	return &Response{
		TotalCount: res.TotalCount,
		Neighbors:  ToWire(res.Neighbors),
		Partial:    res.Partial,
	}
}
