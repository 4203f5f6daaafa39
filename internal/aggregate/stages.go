package aggregate

import (
	"container/heap"
	"sort"
	"strings"

	"github.com/Aman-CERP/kvsearch/internal/cancel"
	kverrors "github.com/Aman-CERP/kvsearch/internal/errors"
	"github.com/Aman-CERP/kvsearch/internal/expr"
)

// Stage transforms the record set; stages execute strictly in command
// order.
type Stage interface {
	Apply(records []*Record, tok cancel.Token) ([]*Record, error)
}

// Pipeline runs the ordered stages.
type Pipeline struct {
	Stages []Stage
}

// Run executes the stages, polling the token between them.
func (p *Pipeline) Run(records []*Record, tok cancel.Token) ([]*Record, error) {
	var err error
	for _, st := range p.Stages {
		if tok.IsCancelled() {
			return records, kverrors.Timeout("aggregation timed out")
		}
		records, err = st.Apply(records, tok)
		if err != nil {
			return nil, err
		}
	}
	return records, nil
}

// LimitStage pops offset records from the front and truncates to count.
type LimitStage struct {
	Offset, Count int
}

func (s *LimitStage) Apply(records []*Record, _ cancel.Token) ([]*Record, error) {
	drop := min(s.Offset, len(records))
	records = records[drop:]
	if len(records) > s.Count {
		records = records[:s.Count]
	}
	return records, nil
}

// ApplyStage evaluates an expression per record into a target field.
type ApplyStage struct {
	Expr     expr.Expression
	FieldIdx int
}

func (s *ApplyStage) Apply(records []*Record, tok cancel.Token) ([]*Record, error) {
	for _, r := range records {
		if tok.IsCancelled() {
			return records, kverrors.Timeout("aggregation timed out")
		}
		r.Set(s.FieldIdx, s.Expr.Evaluate(r))
	}
	return records, nil
}

// FilterStage keeps records whose expression evaluates true (non-nil,
// non-zero, non-empty).
type FilterStage struct {
	Expr expr.Expression
}

func (s *FilterStage) Apply(records []*Record, tok cancel.Token) ([]*Record, error) {
	out := records[:0]
	for _, r := range records {
		if tok.IsCancelled() {
			return records, kverrors.Timeout("aggregation timed out")
		}
		if s.Expr.Evaluate(r).IsTrue() {
			out = append(out, r)
		}
	}
	return out, nil
}

// SortKey is one SORTBY component.
type SortKey struct {
	FieldIdx int
	Desc     bool
}

// SortByStage sorts lexicographically over the keys; Max > 0 keeps only
// the best Max records through a bounded heap.
type SortByStage struct {
	Keys []SortKey
	Max  int
}

func (s *SortByStage) less(a, b *Record) bool {
	for _, k := range s.Keys {
		av := a.AttrValue(k.FieldIdx)
		bv := b.AttrValue(k.FieldIdx)
		switch expr.Compare(av, bv) {
		case expr.Less:
			return !k.Desc
		case expr.Greater:
			return k.Desc
		case expr.Unordered:
			// Nil orders above every non-Nil value: last when ascending,
			// first when descending.
			if av.IsNil() != bv.IsNil() {
				return bv.IsNil() != k.Desc
			}
		}
	}
	return false
}

type recordHeap struct {
	items []*Record
	// worse reports a should be evicted before b.
	worse func(a, b *Record) bool
}

func (h *recordHeap) Len() int { return len(h.items) }
func (h *recordHeap) Less(i, j int) bool { return h.worse(h.items[i], h.items[j]) }
func (h *recordHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *recordHeap) Push(x any) { h.items = append(h.items, x.(*Record)) }
func (h *recordHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

func (s *SortByStage) Apply(records []*Record, tok cancel.Token) ([]*Record, error) {
	if s.Max > 0 && s.Max < len(records) {
		// Bounded heap of record pointers; the root is the worst retained
		// record and ownership releases back on eviction.
		h := &recordHeap{worse: func(a, b *Record) bool { return s.less(b, a) }}
		for _, r := range records {
			if tok.IsCancelled() {
				return records, kverrors.Timeout("aggregation timed out")
			}
			if h.Len() < s.Max {
				heap.Push(h, r)
				continue
			}
			if s.less(r, h.items[0]) {
				h.items[0] = r
				heap.Fix(h, 0)
			}
		}
		out := make([]*Record, h.Len())
		for i := len(out) - 1; i >= 0; i-- {
			out[i] = heap.Pop(h).(*Record)
		}
		return out, nil
	}
	sort.SliceStable(records, func(i, j int) bool { return s.less(records[i], records[j]) })
	return records, nil
}

// GroupByStage groups records by the tuple of key fields and streams each
// group through fresh reducer instances, producing one record per group.
type GroupByStage struct {
	Table    *FieldTable
	KeyIdxs  []int
	Reducers []ReducerSpec
}

func (s *GroupByStage) Apply(records []*Record, tok cancel.Token) ([]*Record, error) {
	type group struct {
		keys     []expr.Value
		reducers []Reducer
	}
	groups := map[string]*group{}
	var order []string

	for _, r := range records {
		if tok.IsCancelled() {
			return records, kverrors.Timeout("aggregation timed out")
		}
		var kb strings.Builder
		keys := make([]expr.Value, len(s.KeyIdxs))
		for i, idx := range s.KeyIdxs {
			keys[i] = r.AttrValue(idx)
			kb.WriteString(keys[i].AsString())
			kb.WriteByte(0)
		}
		gk := kb.String()
		g, ok := groups[gk]
		if !ok {
			g = &group{keys: keys, reducers: make([]Reducer, len(s.Reducers))}
			for i, spec := range s.Reducers {
				g.reducers[i] = spec.New()
			}
			groups[gk] = g
			order = append(order, gk)
		}
		for _, red := range g.reducers {
			red.Step(r)
		}
	}

	out := make([]*Record, 0, len(groups))
	for _, gk := range order {
		g := groups[gk]
		rec := &Record{Fields: make([]expr.Value, s.Table.Len())}
		for i := range rec.Fields {
			rec.Fields[i] = expr.Nil("unset")
		}
		for i, idx := range s.KeyIdxs {
			rec.Set(idx, g.keys[i])
		}
		for i, spec := range s.Reducers {
			rec.Set(spec.OutIdx, g.reducers[i].Finish())
		}
		out = append(out, rec)
	}
	return out, nil
}
