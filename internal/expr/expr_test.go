package expr

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testCtx resolves @attribute names against a flat map at evaluation time.
type testCtx struct {
	attrs map[string]Value
}

func (c *testCtx) MakeReference(name string) (AttributeRef, bool) {
	if _, ok := c.attrs[name]; !ok {
		return nil, false
	}
	return name, true
}

func (c *testCtx) AttrValue(ref AttributeRef) Value {
	v, ok := c.attrs[ref.(string)]
	if !ok {
		return Nil("missing attribute")
	}
	return v
}

func eval(t *testing.T, src string, attrs map[string]Value) Value {
	t.Helper()
	ctx := &testCtx{attrs: attrs}
	e, err := Compile(ctx, src)
	require.NoError(t, err, "compiling %q", src)
	return e.Evaluate(ctx)
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		src  string
		want float64
	}{
		{"1 + 2", 3},
		{"2 * 3 + 4", 10},
		{"2 + 3 * 4", 14},
		{"(2 + 3) * 4", 20},
		{"10 - 4 - 3", 3}, // left associative
		{"7 / 2", 3.5},
		{"-2 * 3", -6},
	}
	for _, tc := range tests {
		v := eval(t, tc.src, nil)
		d, ok := v.AsDouble()
		require.True(t, ok, "%s => %v", tc.src, v)
		assert.Equal(t, tc.want, d, tc.src)
	}
}

func TestDivisionByZero(t *testing.T) {
	// x/0 follows IEEE and yields infinity, never Nil.
	v := eval(t, "1 / 0", nil)
	d, ok := v.AsDouble()
	require.True(t, ok)
	assert.True(t, math.IsInf(d, 1))

	// 0/0 is NaN which normalizes to Nil.
	assert.True(t, eval(t, "0 / 0", nil).IsNil())
}

func TestComparisonAndLogic(t *testing.T) {
	attrs := map[string]Value{"price": Double(15), "name": String("widget")}

	assert.True(t, eval(t, "@price > 10", attrs).IsTrue())
	assert.False(t, eval(t, "@price > 20", attrs).IsTrue())
	assert.True(t, eval(t, "@price > 10 && @price < 20", attrs).IsTrue())
	assert.True(t, eval(t, "@price < 10 || @name == 'widget'", attrs).IsTrue())
	assert.True(t, eval(t, "@price != 14", attrs).IsTrue())
}

func TestMixedCoercion(t *testing.T) {
	// Mixed double/string coerces to double when both sides parse.
	assert.Equal(t, Equal, Compare(Double(5), String("5")))
	assert.Equal(t, Less, Compare(Double(5), String("6")))
	// Falls back to string compare when parsing fails.
	assert.Equal(t, Greater, Compare(String("b"), String("a")))
	assert.Equal(t, Unordered, Compare(Nil("x"), Double(1)))
	assert.Equal(t, Equal, Compare(Nil("a"), Nil("b")))
}

func TestNegativeZero(t *testing.T) {
	assert.Equal(t, Equal, Compare(Double(math.Copysign(0, -1)), Double(0)))
}

func TestInfinityOrdering(t *testing.T) {
	inf := math.Inf(1)
	assert.Equal(t, Less, Compare(Double(-inf), Double(-1e308)))
	assert.Equal(t, Greater, Compare(Double(inf), Double(1e308)))
	assert.Equal(t, Less, Compare(Double(1), Double(inf)))
}

func TestStringFunctions(t *testing.T) {
	attrs := map[string]Value{"s": String("Hello World")}

	assert.Equal(t, "hello world", eval(t, "lower(@s)", attrs).AsString())
	assert.Equal(t, "HELLO WORLD", eval(t, "upper(@s)", attrs).AsString())

	d, _ := eval(t, "strlen(@s)", attrs).AsDouble()
	assert.Equal(t, 11.0, d)

	assert.True(t, eval(t, "startswith(@s, 'Hello')", attrs).IsTrue())
	assert.False(t, eval(t, "startswith(@s, 'World')", attrs).IsTrue())

	cnt, _ := eval(t, "contains(@s, 'o')", attrs).AsDouble()
	assert.Equal(t, 2.0, cnt)

	assert.Equal(t, "World", eval(t, "substr(@s, 6, 5)", attrs).AsString())
	assert.Equal(t, "World", eval(t, "substr(@s, -5, 5)", attrs).AsString())
	assert.True(t, eval(t, "substr(@s, 100, 1)", attrs).IsNil())
}

func TestExists(t *testing.T) {
	attrs := map[string]Value{"a": Double(1), "b": Nil("unset")}
	assert.True(t, eval(t, "exists(@a)", attrs).IsTrue())
	assert.False(t, eval(t, "exists(@b)", attrs).IsTrue())
}

func TestDateFunctions(t *testing.T) {
	// 2021-03-14 15:09:26 UTC, a Sunday.
	ts := map[string]Value{"t": Double(1615734566)}

	checks := map[string]float64{
		"year(@t)":        2021,
		"monthofyear(@t)": 2, // zero-based
		"dayofmonth(@t)":  14,
		"dayofweek(@t)":   0, // Sunday
	}
	for src, want := range checks {
		d, ok := eval(t, src, ts).AsDouble()
		require.True(t, ok, src)
		assert.Equal(t, want, d, src)
	}

	// Truncations stay within the same day/hour.
	hourTrunc, _ := eval(t, "hour(@t)", ts).AsDouble()
	assert.Equal(t, 1615734000.0, hourTrunc)
	dayTrunc, _ := eval(t, "day(@t)", ts).AsDouble()
	assert.Equal(t, 1615680000.0, dayTrunc)
}

func TestTimefmtRoundTrip(t *testing.T) {
	ts := map[string]Value{"t": Double(1615734566)}
	formatted := eval(t, "timefmt(@t)", ts).AsString()
	assert.Equal(t, "2021-03-14T15:09:26UTC", formatted)

	back := eval(t, "parsetime('2021-03-14T15:09:26UTC')", nil)
	d, ok := back.AsDouble()
	require.True(t, ok)
	assert.Equal(t, 1615734566.0, d)
}

func TestCompileErrors(t *testing.T) {
	ctx := &testCtx{attrs: map[string]Value{"a": Double(1)}}

	_, err := Compile(ctx, "@nope + 1")
	assert.Error(t, err)

	_, err = Compile(ctx, "1 +")
	assert.Error(t, err)

	_, err = Compile(ctx, "substr(@a)")
	assert.Error(t, err, "arity check")

	_, err = Compile(ctx, "nosuchfunc(1)")
	assert.Error(t, err)

	_, err = Compile(ctx, "1 2")
	assert.Error(t, err, "extra characters")

	_, err = Compile(ctx, "(1 + 2")
	assert.Error(t, err)
}

func TestNaNNormalizesToNil(t *testing.T) {
	assert.True(t, Double(math.NaN()).IsNil())
}
