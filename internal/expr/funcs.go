package expr

import (
	"math"
	"strings"
)

// Dyadic arithmetic promotes both operands to double and yields Nil when
// either side cannot convert. Division follows IEEE semantics: x/0 is ±∞,
// 0/0 is NaN which the Double constructor turns into Nil.

func funcAdd(l, r Value) Value {
	lv, lok := l.AsDouble()
	rv, rok := r.AsDouble()
	if !lok || !rok {
		return Nil("add requires numeric operands")
	}
	return Double(lv + rv)
}

func funcSub(l, r Value) Value {
	lv, lok := l.AsDouble()
	rv, rok := r.AsDouble()
	if !lok || !rok {
		return Nil("subtract requires numeric operands")
	}
	return Double(lv - rv)
}

func funcMul(l, r Value) Value {
	lv, lok := l.AsDouble()
	rv, rok := r.AsDouble()
	if !lok || !rok {
		return Nil("multiply requires numeric operands")
	}
	return Double(lv * rv)
}

func funcDiv(l, r Value) Value {
	lv, lok := l.AsDouble()
	rv, rok := r.AsDouble()
	if !lok || !rok {
		return Nil("divide requires numeric operands")
	}
	return Double(lv / rv)
}

func funcLt(l, r Value) Value { return Bool(Compare(l, r) == Less) }
func funcLe(l, r Value) Value {
	o := Compare(l, r)
	return Bool(o == Less || o == Equal)
}
func funcEq(l, r Value) Value { return Bool(Compare(l, r) == Equal) }
func funcNe(l, r Value) Value { return Bool(Compare(l, r) != Equal) }
func funcGt(l, r Value) Value { return Bool(Compare(l, r) == Greater) }
func funcGe(l, r Value) Value {
	o := Compare(l, r)
	return Bool(o == Greater || o == Equal)
}

func funcLor(l, r Value) Value {
	lv, lok := l.AsBool()
	rv, rok := r.AsBool()
	if !lok || !rok {
		return Nil("|| requires booleans")
	}
	return Bool(lv || rv)
}

func funcLand(l, r Value) Value {
	lv, lok := l.AsBool()
	rv, rok := r.AsBool()
	if !lok || !rok {
		return Nil("&& requires booleans")
	}
	return Bool(lv && rv)
}

func funcExists(o Value) Value { return Bool(!o.IsNil()) }

func monadicMath(name string, f func(float64) float64) func(Value) Value {
	return func(o Value) Value {
		d, ok := o.AsDouble()
		if !ok {
			return Nil(name + " couldn't convert to a double")
		}
		return Double(f(d))
	}
}

var (
	funcAbs   = monadicMath("abs", math.Abs)
	funcCeil  = monadicMath("ceil", math.Ceil)
	funcFloor = monadicMath("floor", math.Floor)
	funcExp   = monadicMath("exp", math.Exp)
	funcLog   = monadicMath("log", math.Log)
	funcLog2  = monadicMath("log2", math.Log2)
	funcSqrt  = monadicMath("sqrt", math.Sqrt)
)

func funcStrlen(o Value) Value {
	return Double(float64(len(o.AsString())))
}

func funcStartswith(l, r Value) Value {
	return Bool(strings.HasPrefix(l.AsString(), r.AsString()))
}

// funcContains counts non-overlapping occurrences of r in l. An empty
// needle matches between every byte, len+1 times.
func funcContains(l, r Value) Value {
	ls, rs := l.AsString(), r.AsString()
	if rs == "" {
		return Double(float64(len(ls) + 1))
	}
	return Double(float64(strings.Count(ls, rs)))
}

func funcSubstr(l, m, r Value) Value {
	ls := l.AsString()
	md, mok := m.AsDouble()
	rd, rok := r.AsDouble()
	if !mok || !rok {
		return Nil("substr requires numbers for offset and length")
	}
	offset := int(md)
	if offset < 0 {
		offset += len(ls)
	}
	length := int(rd)
	if length < 0 {
		length = len(ls)
	}
	if offset < 0 || offset > len(ls) || offset+length > len(ls) {
		return Nil("substr position or length out of range")
	}
	return String(ls[offset : offset+length])
}

func funcLower(o Value) Value { return String(strings.ToLower(o.AsString())) }
func funcUpper(o Value) Value { return String(strings.ToUpper(o.AsString())) }
