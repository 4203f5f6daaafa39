// Package expr implements the dynamically-typed value and the compiled
// expression language used by aggregate pipelines (APPLY / FILTER / SORTBY
// / GROUPBY). An expression is compiled once per command and evaluated
// against every record of the run.
package expr

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	KindNil Kind = iota
	KindBool
	KindDouble
	KindString
)

// Value is a tagged union over {Nil(reason), Bool, Double, String}.
// The zero value is Nil.
type Value struct {
	kind      Kind
	nilReason string
	b         bool
	d         float64
	s         string
}

// Nil creates a nil value carrying a diagnostic reason.
func Nil(reason string) Value {
	return Value{kind: KindNil, nilReason: reason}
}

// Bool creates a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Double creates a numeric value. NaN normalizes to Nil so that NaN never
// flows through comparisons or arithmetic.
func Double(d float64) Value {
	if math.IsNaN(d) {
		return Nil("computation was not a number")
	}
	return Value{kind: KindDouble, d: d}
}

// String creates a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsNil reports whether v is nil.
func (v Value) IsNil() bool { return v.kind == KindNil }

// NilReason returns the diagnostic reason for a nil value.
func (v Value) NilReason() string { return v.nilReason }

// AsBool converts to boolean. Doubles convert by != 0; strings convert
// through their numeric value when they parse.
func (v Value) AsBool() (bool, bool) {
	switch v.kind {
	case KindBool:
		return v.b, true
	case KindDouble:
		return v.d != 0, true
	case KindString:
		if d, ok := v.AsDouble(); ok {
			return d != 0, true
		}
	}
	return false, false
}

// AsDouble converts to a double. Bools convert to 0/1; strings must parse
// completely and must not be NaN.
func (v Value) AsDouble() (float64, bool) {
	switch v.kind {
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	case KindDouble:
		return v.d, true
	case KindString:
		d, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
		if err != nil || math.IsNaN(d) {
			return 0, false
		}
		return d, true
	}
	return 0, false
}

// AsInteger converts through AsDouble with truncation.
func (v Value) AsInteger() (int64, bool) {
	d, ok := v.AsDouble()
	if !ok {
		return 0, false
	}
	return int64(d), true
}

// AsString renders the value as a string. Bools render as "1"/"0"; nils
// render empty.
func (v Value) AsString() string {
	switch v.kind {
	case KindBool:
		if v.b {
			return "1"
		}
		return "0"
	case KindDouble:
		return strconv.FormatFloat(v.d, 'g', -1, 64)
	case KindString:
		return v.s
	}
	return ""
}

// IsTrue implements the truthiness used by FILTER stages: non-nil and
// non-zero and non-empty string.
func (v Value) IsTrue() bool {
	switch v.kind {
	case KindBool:
		return v.b
	case KindDouble:
		return v.d != 0
	case KindString:
		return v.s != ""
	}
	return false
}

// String implements fmt.Stringer for diagnostics.
func (v Value) String() string {
	switch v.kind {
	case KindNil:
		return fmt.Sprintf("Nil(%s)", v.nilReason)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindDouble:
		return strconv.FormatFloat(v.d, 'g', -1, 64)
	default:
		return "'" + v.s + "'"
	}
}

// Ordering is the result of comparing two values.
type Ordering int

const (
	Less Ordering = iota
	Equal
	Greater
	Unordered
)

const signBit = uint64(1) << 63

// compareDoubles orders doubles through their bit patterns so that ±0
// collapse and ±∞ order with finite values. NaN cannot occur here, the
// Double constructor normalizes it away.
func compareDoubles(l, r float64) Ordering {
	lu := math.Float64bits(l)
	ru := math.Float64bits(r)
	if lu == signBit {
		lu = 0
	}
	if ru == signBit {
		ru = 0
	}
	li, ri := int64(lu), int64(ru)
	if (li ^ ri) < 0 {
		if li < 0 {
			return Less
		}
		return Greater
	}
	if li < 0 {
		lu, ru = -lu, -ru
	}
	switch {
	case lu == ru:
		return Equal
	case lu < ru:
		return Less
	default:
		return Greater
	}
}

func compareStrings(l, r string) Ordering {
	switch strings.Compare(l, r) {
	case -1:
		return Less
	case 0:
		return Equal
	default:
		return Greater
	}
}

// Compare implements the total order over values. Nil compares equal only
// to Nil and is otherwise unordered. Mixed double/string coerces to double
// when both sides parse, falling back to byte-wise string compare.
func Compare(l, r Value) Ordering {
	if l.IsNil() || r.IsNil() {
		if l.IsNil() && r.IsNil() {
			return Equal
		}
		return Unordered
	}
	if l.kind == KindDouble && r.kind == KindDouble {
		return compareDoubles(l.d, r.d)
	}
	if l.kind == KindString && r.kind == KindString {
		return compareStrings(l.s, r.s)
	}
	ld, lok := l.AsDouble()
	rd, rok := r.AsDouble()
	if lok && rok {
		return compareDoubles(ld, rd)
	}
	return compareStrings(l.AsString(), r.AsString())
}

// LessThan is a convenience for sorting; an Unordered pair (Nil against a
// non-Nil value) reports false in both directions.
func LessThan(l, r Value) bool {
	return Compare(l, r) == Less
}
