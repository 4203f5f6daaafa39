// Package aggregate implements the FT.AGGREGATE pipeline: an ordered
// sequence of LIMIT / APPLY / FILTER / SORTBY / GROUPBY stages evaluated
// over an in-memory record set.
package aggregate

import (
	kverrors "github.com/Aman-CERP/kvsearch/internal/errors"
	"github.com/Aman-CERP/kvsearch/internal/expr"
)

// Record is one pipeline row: a vector of values addressed by field index.
// It keeps no separate list of named extras; every field, APPLY and REDUCE
// outputs included, is addressed through its FieldTable index.
type Record struct {
	Fields []expr.Value
}

// AttrValue implements expr.AttrSource; references are field indexes
// assigned at parse time so evaluation never does a string lookup.
func (r *Record) AttrValue(ref expr.AttributeRef) expr.Value {
	idx, ok := ref.(int)
	if !ok || idx < 0 || idx >= len(r.Fields) {
		return expr.Nil("unknown attribute reference")
	}
	return r.Fields[idx]
}

// Set grows the field vector as needed and stores v at idx.
func (r *Record) Set(idx int, v expr.Value) {
	for len(r.Fields) <= idx {
		r.Fields = append(r.Fields, expr.Nil("unset"))
	}
	r.Fields[idx] = v
}

// FieldTable assigns stable integer indexes to field names during command
// parsing; the compiled expressions share it across all records of the
// run.
type FieldTable struct {
	names  []string
	byName map[string]int
}

// NewFieldTable creates an empty table.
func NewFieldTable() *FieldTable {
	return &FieldTable{byName: map[string]int{}}
}

// Declare assigns (or returns) the index for a name.
func (t *FieldTable) Declare(name string) int {
	if idx, ok := t.byName[name]; ok {
		return idx
	}
	idx := len(t.names)
	t.names = append(t.names, name)
	t.byName[name] = idx
	return idx
}

// Lookup resolves a declared name.
func (t *FieldTable) Lookup(name string) (int, bool) {
	idx, ok := t.byName[name]
	return idx, ok
}

// Names returns the declared names in index order.
func (t *FieldTable) Names() []string { return t.names }

// Len is the number of declared fields.
func (t *FieldTable) Len() int { return len(t.names) }

// CompileCtx resolves @name references against the field table.
type CompileCtx struct {
	Table *FieldTable
}

// MakeReference implements expr.CompileContext.
func (c *CompileCtx) MakeReference(name string) (expr.AttributeRef, bool) {
	idx, ok := c.Table.Lookup(name)
	if !ok {
		return nil, false
	}
	return idx, true
}

// CompileExpr compiles an aggregate expression against the table.
func CompileExpr(t *FieldTable, src string) (expr.Expression, error) {
	e, err := expr.Compile(&CompileCtx{Table: t}, src)
	if err != nil {
		return nil, kverrors.Wrap(kverrors.KindOf(err), err, "compiling `%s`", src)
	}
	return e, nil
}
