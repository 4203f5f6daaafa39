// Package search orchestrates local query execution: it drives the
// fetcher pipeline and the vector kernels under the schema read guard and
// shapes the per-query result with the limit/trim rules.
package search

import (
	"github.com/Aman-CERP/kvsearch/internal/cancel"
	"github.com/Aman-CERP/kvsearch/internal/query"
	"github.com/Aman-CERP/kvsearch/internal/schema"
)

// ReturnAttr is one RETURN projection entry.
type ReturnAttr struct {
	Identifier string
	Alias      string
}

// SortBy is the optional FT.SEARCH sort directive.
type SortBy struct {
	Alias string
	Desc  bool
}

// Parameters is the per-query control block. It is created on the command
// thread at parse time, moved to a worker, and dropped only after the
// reply is serialized: neighbors reference strings it keeps alive.
type Parameters struct {
	// QueryID tags log lines and telemetry for one query's lifetime.
	QueryID string

	Schema    *schema.Schema
	IndexName string

	QueryString string
	Parse       *query.ParseResults
	// ParseOpts carries SLOP/INORDER/VERBATIM until the filter is parsed.
	ParseOpts query.ParseOptions

	TimeoutMs            int64
	EnablePartialResults bool
	EnableConsistency    bool
	Dialect              int

	// Vector query state; VectorQuery nil for non-vector queries.
	VectorAlias string
	VectorQuery []float32
	ScoreAlias  string
	K           int
	Ef          int

	LimitOffset int
	LimitCount  int

	NoContent    bool
	ReturnAttrs  []ReturnAttr
	SortBy       *SortBy
	WithSortKeys bool

	// Params carries DIALECT>=2 $name substitutions with use counts for
	// unused-parameter detection.
	Params    map[string]string
	ParamUses map[string]int

	Token cancel.Token

	// Cluster-mode controls.
	LocalOnly       bool
	SlotFingerprint uint64
	InCluster       bool
	// RequireComplete disables per-shard trimming (sorting, aggregates).
	RequireComplete bool
}

// IsVector reports whether the query carries a KNN clause.
func (p *Parameters) IsVector() bool { return p.VectorQuery != nil }

// EndIndex is the last reply rank the client can see.
func (p *Parameters) EndIndex() int { return p.LimitOffset + p.LimitCount }

// UseParam records a $name substitution for unused-parameter detection.
func (p *Parameters) UseParam(name string) (string, bool) {
	v, ok := p.Params[name]
	if ok {
		if p.ParamUses == nil {
			p.ParamUses = map[string]int{}
		}
		p.ParamUses[name]++
	}
	return v, ok
}
