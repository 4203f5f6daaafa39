package expr

import (
	"strconv"
	"strings"

	kverrors "github.com/Aman-CERP/kvsearch/internal/errors"
)

// AttrSource supplies attribute values at evaluation time. Aggregate
// records implement it with an integer-indexed field vector; other callers
// may resolve dynamically.
type AttrSource interface {
	AttrValue(ref AttributeRef) Value
}

// AttributeRef is an opaque compiled reference to an attribute, typically
// an index into the record's field vector so evaluation never does a
// per-record string lookup.
type AttributeRef interface{}

// CompileContext resolves attribute names at compile time.
type CompileContext interface {
	// MakeReference resolves an attribute name to a reference, or false
	// when the attribute is unknown.
	MakeReference(name string) (AttributeRef, bool)
}

// Expression is a compiled AST node. A compiled expression is immutable
// and shareable across records of the same run.
type Expression interface {
	Evaluate(attrs AttrSource) Value
}

type constant struct {
	v Value
}

func (c *constant) Evaluate(AttrSource) Value { return c.v }

type attribute struct {
	name string
	ref  AttributeRef
}

func (a *attribute) Evaluate(attrs AttrSource) Value { return attrs.AttrValue(a.ref) }

type dyadic struct {
	left, right Expression
	fn          func(Value, Value) Value
}

func (d *dyadic) Evaluate(attrs AttrSource) Value {
	return d.fn(d.left.Evaluate(attrs), d.right.Evaluate(attrs))
}

type call struct {
	name string
	args []Expression
	fn   func(args []Value) Value
}

func (c *call) Evaluate(attrs AttrSource) Value {
	vals := make([]Value, len(c.args))
	for i, a := range c.args {
		vals[i] = a.Evaluate(attrs)
	}
	return c.fn(vals)
}

type tableEntry struct {
	minArgc, maxArgc int
	fn               func(args []Value) Value
}

func monadic(f func(Value) Value) tableEntry {
	return tableEntry{1, 1, func(a []Value) Value { return f(a[0]) }}
}

func dyadicFn(f func(Value, Value) Value) tableEntry {
	return tableEntry{2, 2, func(a []Value) Value { return f(a[0], a[1]) }}
}

var functionTable = map[string]tableEntry{
	"exists": monadic(funcExists),

	"abs":   monadic(funcAbs),
	"ceil":  monadic(funcCeil),
	"exp":   monadic(funcExp),
	"floor": monadic(funcFloor),
	"log":   monadic(funcLog),
	"log2":  monadic(funcLog2),
	"sqrt":  monadic(funcSqrt),

	"lower":      monadic(funcLower),
	"upper":      monadic(funcUpper),
	"strlen":     monadic(funcStrlen),
	"startswith": dyadicFn(funcStartswith),
	"contains":   dyadicFn(funcContains),
	"substr":     tableEntry{3, 3, func(a []Value) Value { return funcSubstr(a[0], a[1], a[2]) }},

	"dayofweek":   monadic(funcDayOfWeek),
	"dayofmonth":  monadic(funcDayOfMonth),
	"dayofyear":   monadic(funcDayOfYear),
	"monthofyear": monadic(funcMonthOfYear),
	"year":        monadic(funcYear),
	"minute":      monadic(funcMinute),
	"hour":        monadic(funcHour),
	"day":         monadic(funcDay),
	"month":       monadic(funcMonth),

	"timefmt": tableEntry{1, 2, func(a []Value) Value {
		fmt := String(defaultTimeFormat)
		if len(a) > 1 {
			fmt = a[1]
		}
		return funcTimefmt(a[0], fmt)
	}},
	"parsetime": tableEntry{1, 2, func(a []Value) Value {
		fmt := String(defaultTimeFormat)
		if len(a) > 1 {
			fmt = a[1]
		}
		return funcParsetime(a[0], fmt)
	}},
}

// compiler is a recursive-descent parser with precedence
// || < && < comparison < (+ -) < (* /) < primary.
type compiler struct {
	input string
	pos   int
	ctx   CompileContext
}

// Compile parses s into an immutable expression tree. Attribute names are
// resolved through ctx; unknown names fail with NOT-FOUND, malformed input
// with ERR.
func Compile(ctx CompileContext, s string) (Expression, error) {
	c := &compiler{input: s, ctx: ctx}
	e, err := c.parseOr()
	if err != nil {
		return nil, err
	}
	c.skipSpace()
	if e == nil {
		return nil, kverrors.InvalidArgumentAt(c.pos+1, "empty expression")
	}
	if c.pos < len(c.input) {
		return nil, kverrors.InvalidArgumentAt(c.pos+1, "extra characters")
	}
	return e, nil
}

func (c *compiler) skipSpace() {
	for c.pos < len(c.input) && (c.input[c.pos] == ' ' || c.input[c.pos] == '\t' ||
		c.input[c.pos] == '\n' || c.input[c.pos] == '\r') {
		c.pos++
	}
}

func (c *compiler) peek() byte {
	if c.pos >= len(c.input) {
		return 0
	}
	return c.input[c.pos]
}

// popWord consumes w if it is next, preferring the longest operator at the
// call site (callers order candidates accordingly).
func (c *compiler) popWord(w string) bool {
	if strings.HasPrefix(c.input[c.pos:], w) {
		c.pos += len(w)
		return true
	}
	return false
}

type dyadicOp struct {
	word string
	fn   func(Value, Value) Value
}

// parseBinary parses a left-associative chain at one precedence level.
func (c *compiler) parseBinary(next func() (Expression, error), ops []dyadicOp) (Expression, error) {
	left, err := next()
	if err != nil || left == nil {
		return left, err
	}
	for {
		c.skipSpace()
		var matched *dyadicOp
		for i := range ops {
			if c.popWord(ops[i].word) {
				matched = &ops[i]
				break
			}
		}
		if matched == nil {
			return left, nil
		}
		right, err := next()
		if err != nil {
			return nil, err
		}
		if right == nil {
			return nil, kverrors.InvalidArgumentAt(c.pos+1, "invalid or missing expression after %s", matched.word)
		}
		left = &dyadic{left: left, right: right, fn: matched.fn}
	}
}

func (c *compiler) parseOr() (Expression, error) {
	return c.parseBinary(c.parseAnd, []dyadicOp{{"||", funcLor}})
}

func (c *compiler) parseAnd() (Expression, error) {
	return c.parseBinary(c.parseCmp, []dyadicOp{{"&&", funcLand}})
}

func (c *compiler) parseCmp() (Expression, error) {
	// Two-byte operators first so "<=" never lexes as "<" "=".
	return c.parseBinary(c.parseAdd, []dyadicOp{
		{"<=", funcLe}, {">=", funcGe}, {"==", funcEq}, {"!=", funcNe},
		{"<", funcLt}, {">", funcGt},
	})
}

func (c *compiler) parseAdd() (Expression, error) {
	return c.parseBinary(c.parseMul, []dyadicOp{{"+", funcAdd}, {"-", funcSub}})
}

func (c *compiler) parseMul() (Expression, error) {
	return c.parseBinary(c.parsePrimary, []dyadicOp{{"*", funcMul}, {"/", funcDiv}})
}

func isIdentByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '_'
}

func (c *compiler) parsePrimary() (Expression, error) {
	c.skipSpace()
	switch b := c.peek(); {
	case b == '(':
		c.pos++
		e, err := c.parseOr()
		if err != nil {
			return nil, err
		}
		c.skipSpace()
		if !c.popWord(")") {
			return nil, kverrors.InvalidArgumentAt(c.pos+1, "expected ')'")
		}
		return e, nil
	case b == '+' || b == '-' || b == '.' || b >= '0' && b <= '9':
		return c.parseNumber()
	case b == '@':
		return c.parseAttribute()
	case b == '\'' || b == '"':
		return c.parseQuoted()
	case b == 0:
		return nil, nil
	default:
		return c.parseCall()
	}
}

func (c *compiler) parseNumber() (Expression, error) {
	start := c.pos
	if c.peek() == '+' || c.peek() == '-' {
		c.pos++
	}
	for c.pos < len(c.input) && (c.input[c.pos] >= '0' && c.input[c.pos] <= '9' || c.input[c.pos] == '.') {
		c.pos++
	}
	if c.pos < len(c.input) && (c.input[c.pos] == 'e' || c.input[c.pos] == 'E') {
		mark := c.pos
		c.pos++
		if c.peek() == '+' || c.peek() == '-' {
			c.pos++
		}
		digits := false
		for c.pos < len(c.input) && c.input[c.pos] >= '0' && c.input[c.pos] <= '9' {
			c.pos++
			digits = true
		}
		if !digits {
			c.pos = mark
		}
	}
	d, err := strconv.ParseFloat(c.input[start:c.pos], 64)
	if err != nil {
		return nil, kverrors.InvalidArgumentAt(start+1, "malformed number")
	}
	return &constant{v: Double(d)}, nil
}

func (c *compiler) parseAttribute() (Expression, error) {
	c.pos++ // '@'
	start := c.pos
	for c.pos < len(c.input) && isIdentByte(c.input[c.pos]) {
		c.pos++
	}
	name := c.input[start:c.pos]
	ref, ok := c.ctx.MakeReference(name)
	if !ok {
		return nil, kverrors.NotFound("attribute `%s` unknown near position %d", name, start)
	}
	return &attribute{name: name, ref: ref}, nil
}

func (c *compiler) parseQuoted() (Expression, error) {
	quote := c.input[c.pos]
	c.pos++
	var b strings.Builder
	for {
		if c.pos >= len(c.input) {
			return nil, kverrors.InvalidArgument("missing trailing quote")
		}
		ch := c.input[c.pos]
		if ch == quote {
			c.pos++
			return &constant{v: String(b.String())}, nil
		}
		if ch == '\\' && c.pos+1 < len(c.input) {
			c.pos++
			ch = c.input[c.pos]
		}
		b.WriteByte(ch)
		c.pos++
	}
}

func (c *compiler) parseCall() (Expression, error) {
	start := c.pos
	for c.pos < len(c.input) && isIdentByte(c.input[c.pos]) {
		c.pos++
	}
	name := c.input[start:c.pos]
	c.skipSpace()
	if name == "" || !c.popWord("(") {
		c.pos = start
		return nil, nil
	}
	var args []Expression
	for {
		c.skipSpace()
		if c.popWord(")") {
			entry, ok := functionTable[name]
			if !ok {
				return nil, kverrors.NotFound("function %s is unknown", name)
			}
			if len(args) < entry.minArgc || len(args) > entry.maxArgc {
				return nil, kverrors.InvalidArgument("function %s expects between %d and %d arguments, got %d",
					name, entry.minArgc, entry.maxArgc, len(args))
			}
			return &call{name: name, args: args, fn: entry.fn}, nil
		}
		if len(args) > 0 && !c.popWord(",") {
			return nil, kverrors.InvalidArgumentAt(c.pos+1, "expected ',' or ')'")
		}
		arg, err := c.parseOr()
		if err != nil {
			return nil, err
		}
		if arg == nil {
			return nil, kverrors.InvalidArgumentAt(c.pos+1, "expected expression argument")
		}
		args = append(args, arg)
	}
}
