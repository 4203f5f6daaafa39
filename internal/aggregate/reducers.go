package aggregate

import (
	"math"

	kverrors "github.com/Aman-CERP/kvsearch/internal/errors"
	"github.com/Aman-CERP/kvsearch/internal/expr"
)

// Reducer streams a group's records and produces one output value. A
// fresh instance is created per group.
type Reducer interface {
	Step(r *Record)
	Finish() expr.Value
}

// ReducerSpec is the parsed REDUCE clause: a constructor plus the output
// field index assigned at parse time.
type ReducerSpec struct {
	Name   string
	New    func() Reducer
	OutIdx int
}

// NewReducerSpec resolves a reducer by name. arg is the compiled argument
// expression, nil for COUNT.
func NewReducerSpec(name string, arg expr.Expression, outIdx int) (ReducerSpec, error) {
	var ctor func() Reducer
	switch name {
	case "COUNT":
		ctor = func() Reducer { return &countReducer{} }
	case "COUNT_DISTINCT":
		ctor = func() Reducer { return &countDistinctReducer{arg: arg, seen: map[string]struct{}{}} }
	case "SUM":
		ctor = func() Reducer { return &sumReducer{arg: arg} }
	case "MIN":
		ctor = func() Reducer { return &minMaxReducer{arg: arg, wantMax: false} }
	case "MAX":
		ctor = func() Reducer { return &minMaxReducer{arg: arg, wantMax: true} }
	case "AVG":
		ctor = func() Reducer { return &avgReducer{arg: arg} }
	case "STDDEV":
		ctor = func() Reducer { return &stddevReducer{arg: arg} }
	default:
		return ReducerSpec{}, kverrors.InvalidArgument("unknown reducer `%s`", name)
	}
	return ReducerSpec{Name: name, New: ctor, OutIdx: outIdx}, nil
}

type countReducer struct {
	n int64
}

func (c *countReducer) Step(*Record)       { c.n++ }
func (c *countReducer) Finish() expr.Value { return expr.Double(float64(c.n)) }

type countDistinctReducer struct {
	arg  expr.Expression
	seen map[string]struct{}
}

func (c *countDistinctReducer) Step(r *Record) {
	v := c.arg.Evaluate(r)
	if v.IsNil() {
		return
	}
	c.seen[v.AsString()] = struct{}{}
}

func (c *countDistinctReducer) Finish() expr.Value {
	return expr.Double(float64(len(c.seen)))
}

// sumReducer accumulates convertible doubles, silently skipping the rest.
type sumReducer struct {
	arg expr.Expression
	sum float64
}

func (s *sumReducer) Step(r *Record) {
	if d, ok := s.arg.Evaluate(r).AsDouble(); ok {
		s.sum += d
	}
}

func (s *sumReducer) Finish() expr.Value { return expr.Double(s.sum) }

// minMaxReducer ignores Nils; with no samples it yields Nil.
type minMaxReducer struct {
	arg     expr.Expression
	wantMax bool
	best    expr.Value
	any     bool
}

func (m *minMaxReducer) Step(r *Record) {
	v := m.arg.Evaluate(r)
	if v.IsNil() {
		return
	}
	if !m.any {
		m.best, m.any = v, true
		return
	}
	cmp := expr.Compare(v, m.best)
	if m.wantMax && cmp == expr.Greater || !m.wantMax && cmp == expr.Less {
		m.best = v
	}
}

func (m *minMaxReducer) Finish() expr.Value {
	if !m.any {
		return expr.Nil("no samples")
	}
	return m.best
}

// avgReducer returns 0 (not Nil) for zero samples.
type avgReducer struct {
	arg   expr.Expression
	sum   float64
	count int64
}

func (a *avgReducer) Step(r *Record) {
	if d, ok := a.arg.Evaluate(r).AsDouble(); ok {
		a.sum += d
		a.count++
	}
}

func (a *avgReducer) Finish() expr.Value {
	if a.count == 0 {
		return expr.Double(0)
	}
	return expr.Double(a.sum / float64(a.count))
}

// stddevReducer computes the sample standard deviation via Welford's
// online update; zero samples return 0.
type stddevReducer struct {
	arg   expr.Expression
	count int64
	mean  float64
	m2    float64
}

func (s *stddevReducer) Step(r *Record) {
	d, ok := s.arg.Evaluate(r).AsDouble()
	if !ok {
		return
	}
	s.count++
	delta := d - s.mean
	s.mean += delta / float64(s.count)
	s.m2 += delta * (d - s.mean)
}

func (s *stddevReducer) Finish() expr.Value {
	if s.count < 2 {
		return expr.Double(0)
	}
	return expr.Double(math.Sqrt(s.m2 / float64(s.count-1)))
}
