package command

import (
	"strings"

	kverrors "github.com/Aman-CERP/kvsearch/internal/errors"
	"github.com/Aman-CERP/kvsearch/internal/query"
)

// ftInfo implements FT.INFO name [LOCAL|PRIMARY|CLUSTER]
// [ALLSHARDS|SOMESHARDS] [CONSISTENT|INCONSISTENT].
func (d *Dispatcher) ftInfo(args []string) (Reply, error) {
	it := newArgIter(args)
	name, err := it.next()
	if err != nil {
		return nil, kverrors.InvalidArgument("missing index name")
	}
	scope := "LOCAL"
	for !it.done() {
		v, _ := it.next()
		switch strings.ToUpper(v) {
		case "LOCAL", "PRIMARY", "CLUSTER":
			scope = strings.ToUpper(v)
		case "ALLSHARDS", "SOMESHARDS", "CONSISTENT", "INCONSISTENT":
			// Accepted; they shape the info fanout policy.
		default:
			return nil, kverrors.InvalidArgument("unknown FT.INFO argument `%s`", v)
		}
	}
	if scope != "LOCAL" && d.Cluster == nil {
		return nil, kverrors.InvalidArgument("%s scope requires cluster mode", scope)
	}

	s, err := d.Schemas.Get(name)
	if err != nil {
		return nil, err
	}
	s.RLock()
	defer s.RUnlock()

	var attrs []Reply
	for _, a := range s.Attributes() {
		entry := []Reply{
			"identifier", a.Identifier,
			"attribute", a.Alias,
			"type", kindName(a.Kind),
		}
		attrs = append(attrs, entry)
	}

	out := []Reply{
		"index_name", s.Name,
		"index_definition", []Reply{
			"key_type", string(s.DataType),
			"prefixes", stringsReply(s.Prefixes),
		},
		"attributes", attrs,
		"num_docs", int64(s.NumDocs()),
		"index_version", int64(s.Version),
		"index_fingerprint", int64(s.Fingerprint()),
	}
	if t := s.Text(); t != nil {
		out = append(out, "num_terms", t.UniqueWordCount())
	}
	return out, nil
}

func kindName(k query.AttrKind) string {
	switch k {
	case query.AttrNumeric:
		return "NUMERIC"
	case query.AttrTag:
		return "TAG"
	case query.AttrText:
		return "TEXT"
	case query.AttrVector:
		return "VECTOR"
	}
	return "UNKNOWN"
}

func stringsReply(in []string) []Reply {
	out := make([]Reply, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
