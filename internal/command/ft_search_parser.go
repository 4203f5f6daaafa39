package command

import (
	"strings"

	"github.com/google/uuid"

	"github.com/Aman-CERP/kvsearch/internal/cancel"
	"github.com/Aman-CERP/kvsearch/internal/config"
	kverrors "github.com/Aman-CERP/kvsearch/internal/errors"
	"github.com/Aman-CERP/kvsearch/internal/query"
	"github.com/Aman-CERP/kvsearch/internal/schema"
	"github.com/Aman-CERP/kvsearch/internal/search"
)

// knnClause is the parsed `=>[KNN k @field $blob (AS alias)? (EF_RUNTIME n)?]`
// suffix of a dialect-2 query string.
type knnClause struct {
	k          int
	fieldAlias string
	blobParam  string
	scoreAlias string
	ef         int
}

// splitVectorQuery separates the filter part from the KNN clause.
func splitVectorQuery(q string) (filter string, clause string, ok bool) {
	idx := strings.Index(q, "=>")
	if idx < 0 {
		return q, "", false
	}
	return strings.TrimSpace(q[:idx]), strings.TrimSpace(q[idx+2:]), true
}

func parseKnnClause(clause string) (*knnClause, error) {
	if !strings.HasPrefix(clause, "[") || !strings.HasSuffix(clause, "]") {
		return nil, kverrors.InvalidArgument("malformed KNN clause")
	}
	fields := strings.Fields(clause[1 : len(clause)-1])
	it := newArgIter(fields)
	if !it.matchKeyword("KNN") {
		return nil, kverrors.InvalidArgument("expected KNN in vector clause")
	}
	k, err := it.nextInt("KNN")
	if err != nil {
		return nil, err
	}
	if k <= 0 || int64(k) > config.MaxKnn.Get() {
		return nil, kverrors.InvalidArgument("KNN must be between 1 and %d", config.MaxKnn.Get())
	}
	fieldTok, err := it.next()
	if err != nil || !strings.HasPrefix(fieldTok, "@") {
		return nil, kverrors.InvalidArgument("KNN clause requires a @field")
	}
	blobTok, err := it.next()
	if err != nil || !strings.HasPrefix(blobTok, "$") {
		return nil, kverrors.InvalidArgument("KNN clause requires a $blob parameter")
	}
	out := &knnClause{k: k, fieldAlias: fieldTok[1:], blobParam: blobTok[1:]}
	for !it.done() {
		switch {
		case it.matchKeyword("AS"):
			alias, err := it.next()
			if err != nil {
				return nil, err
			}
			out.scoreAlias = alias
		case it.matchKeyword("EF_RUNTIME"):
			ef, err := it.nextInt("EF_RUNTIME")
			if err != nil {
				return nil, err
			}
			if ef <= 0 || int64(ef) > config.MaxVectorEfRuntime.Get() {
				return nil, kverrors.InvalidArgument("`EF_RUNTIME` must be a positive integer within max-vector-ef-runtime")
			}
			out.ef = ef
		default:
			v, _ := it.next()
			return nil, kverrors.InvalidArgument("unknown KNN clause token `%s`", v)
		}
	}
	return out, nil
}

// substituteParams replaces $name tokens in the filter with their PARAMS
// values (dialect >= 2), tracking use counts.
func substituteParams(filter string, p *search.Parameters) string {
	if len(p.Params) == 0 {
		return filter
	}
	var b strings.Builder
	for i := 0; i < len(filter); i++ {
		c := filter[i]
		if c != '$' {
			b.WriteByte(c)
			continue
		}
		j := i + 1
		for j < len(filter) && (isWordByte(filter[j])) {
			j++
		}
		name := filter[i+1 : j]
		if v, ok := p.UseParam(name); ok {
			b.WriteString(v)
			i = j - 1
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '_'
}

// parseSearchArgs parses everything after `FT.SEARCH index query`.
func parseSearchArgs(it *argIter, p *search.Parameters) error {
	for !it.done() {
		switch {
		case it.matchKeyword("NOCONTENT"):
			p.NoContent = true
		case it.matchKeyword("WITHSORTKEYS"):
			p.WithSortKeys = true
		case it.matchKeyword("VERBATIM"):
			p.ParseOpts.Verbatim = true
		case it.matchKeyword("INORDER"):
			p.ParseOpts.InOrder = true
		case it.matchKeyword("SLOP"):
			slop, err := it.nextInt("SLOP")
			if err != nil {
				return err
			}
			if slop < 0 {
				return kverrors.InvalidArgument("SLOP must be non-negative")
			}
			p.ParseOpts.Slop = slop
		case it.matchKeyword("LIMIT"):
			offset, err := it.nextInt("LIMIT offset")
			if err != nil {
				return err
			}
			count, err := it.nextInt("LIMIT count")
			if err != nil {
				return err
			}
			if offset < 0 || count < 0 {
				return kverrors.InvalidArgument("LIMIT values must be non-negative")
			}
			p.LimitOffset, p.LimitCount = offset, count
		case it.matchKeyword("TIMEOUT"):
			t, err := it.nextInt("TIMEOUT")
			if err != nil {
				return err
			}
			if t <= 0 {
				return kverrors.InvalidArgument("TIMEOUT must be positive")
			}
			p.TimeoutMs = int64(t)
		case it.matchKeyword("DIALECT"):
			dialect, err := it.nextInt("DIALECT")
			if err != nil {
				return err
			}
			if dialect < 2 || dialect > 4 {
				return kverrors.InvalidArgument("DIALECT must be 2, 3 or 4")
			}
			p.Dialect = dialect
		case it.matchKeyword("RETURN"):
			n, err := it.nextInt("RETURN count")
			if err != nil {
				return err
			}
			if n == 0 {
				// RETURN 0 equals NOCONTENT.
				p.NoContent = true
				continue
			}
			for i := 0; i < n; i++ {
				field, err := it.next()
				if err != nil {
					return err
				}
				alias := field
				if it.matchKeyword("AS") {
					alias, err = it.next()
					if err != nil {
						return err
					}
					i += 2
					if i > n {
						return kverrors.InvalidArgument("unexpected parameter `AS`")
					}
				}
				identifier := field
				if a, ok := p.Schema.Attribute(field); ok {
					identifier = a.Identifier
				}
				p.ReturnAttrs = append(p.ReturnAttrs, search.ReturnAttr{Identifier: identifier, Alias: alias})
			}
		case it.matchKeyword("SORTBY"):
			field, err := it.next()
			if err != nil {
				return err
			}
			sb := &search.SortBy{Alias: field}
			if it.matchKeyword("DESC") {
				sb.Desc = true
			} else {
				it.matchKeyword("ASC")
			}
			p.SortBy = sb
		case it.matchKeyword("PARAMS"):
			n, err := it.nextInt("PARAMS count")
			if err != nil {
				return err
			}
			if n%2 != 0 {
				return kverrors.InvalidArgument("parameter count must be an even number")
			}
			if p.Params == nil {
				p.Params = map[string]string{}
			}
			for i := 0; i < n; i += 2 {
				k, err := it.next()
				if err != nil {
					return err
				}
				v, err := it.next()
				if err != nil {
					return err
				}
				if _, dup := p.Params[k]; dup {
					return kverrors.InvalidArgument("parameter `%s` is already defined", k)
				}
				p.Params[k] = v
			}
		case it.matchKeyword("LOCALONLY"):
			p.LocalOnly = true
		case it.matchKeyword("ALLSHARDS"):
			p.EnablePartialResults = false
		case it.matchKeyword("SOMESHARDS"):
			p.EnablePartialResults = true
		case it.matchKeyword("CONSISTENT"):
			p.EnableConsistency = true
		case it.matchKeyword("INCONSISTENT"):
			p.EnableConsistency = false
		default:
			v, _ := it.next()
			return kverrors.InvalidArgument("unknown argument `%s`", v)
		}
	}
	return nil
}

// buildSearchParameters parses a full FT.SEARCH argument vector into the
// per-query control block.
func (d *Dispatcher) buildSearchParameters(args []string) (*search.Parameters, error) {
	it := newArgIter(args)
	indexName, err := it.next()
	if err != nil {
		return nil, kverrors.InvalidArgument("missing index name")
	}
	queryString, err := it.next()
	if err != nil {
		return nil, kverrors.InvalidArgument("missing query string")
	}
	sch, err := d.Schemas.Get(indexName)
	if err != nil {
		return nil, err
	}
	if err := d.checkACL(sch); err != nil {
		return nil, err
	}

	p := &search.Parameters{
		QueryID:              uuid.NewString(),
		Schema:               sch,
		IndexName:            indexName,
		QueryString:          queryString,
		TimeoutMs:            config.DefaultTimeoutMs.Get(),
		EnablePartialResults: config.EnablePartialResults.Get(),
		EnableConsistency:    config.EnableConsistentResults.Get(),
		Dialect:              2,
		LimitOffset:          0,
		LimitCount:           10,
		ParseOpts:            query.DefaultParseOptions(),
	}
	if err := parseSearchArgs(it, p); err != nil {
		return nil, err
	}

	filter := queryString
	if clauseStr, knnPart, hasKnn := splitVectorQuery(queryString); hasKnn {
		clause, err := parseKnnClause(knnPart)
		if err != nil {
			return nil, err
		}
		filter = clauseStr
		attr, ok := sch.Attribute(clause.fieldAlias)
		if !ok || attr.Kind != query.AttrVector {
			return nil, kverrors.InvalidArgument("`%s` is not indexed as a vector field", clause.fieldAlias)
		}
		blob, ok := p.UseParam(clause.blobParam)
		if !ok {
			return nil, kverrors.NotFound("parameter `%s` not found", clause.blobParam)
		}
		vecQuery, err := schema.DecodeVector(blob, attr.Vector.Dimensions())
		if err != nil {
			return nil, err
		}
		p.VectorAlias = clause.fieldAlias
		p.VectorQuery = vecQuery
		p.ScoreAlias = clause.scoreAlias
		if p.ScoreAlias == "" {
			p.ScoreAlias = "__" + clause.fieldAlias + "_score"
		}
		p.K = clause.k
		p.Ef = clause.ef
	}

	filter = substituteParams(filter, p)
	parsed, err := d.parseFilter(sch, filter, p.ParseOpts)
	if err != nil {
		return nil, err
	}
	p.Parse = parsed

	// Unused parameters are an error in dialect >= 2; the vector blob and
	// filter substitutions each record a use.
	for name := range p.Params {
		if p.ParamUses[name] == 0 {
			return nil, kverrors.InvalidArgument("parameter `%s` is unused", name)
		}
	}

	if p.SortBy != nil {
		if _, ok := sch.Attribute(p.SortBy.Alias); !ok {
			return nil, kverrors.InvalidArgument("SORTBY field `%s` is not indexed", p.SortBy.Alias)
		}
		p.RequireComplete = true
	}

	p.Token = cancel.WithTimeout(p.TimeoutMs)
	return p, nil
}
