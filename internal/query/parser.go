package query

import (
	"math"
	"strconv"
	"strings"

	"github.com/Aman-CERP/kvsearch/internal/config"
	kverrors "github.com/Aman-CERP/kvsearch/internal/errors"
)

// ParseOptions carries the query-level text matching modifiers.
type ParseOptions struct {
	// Verbatim disables stem-variant expansion at fetch time.
	Verbatim bool
	// InOrder forces left-to-right matching for proximity groups.
	InOrder bool
	// Slop is the proximity window; -1 means unset (phrases default to 0).
	Slop int
}

// DefaultParseOptions leaves everything unset.
func DefaultParseOptions() ParseOptions { return ParseOptions{Slop: -1} }

// ParseResults is the outcome of filter parsing. A nil Root is the
// match-all special form: callers skip filtering entirely.
type ParseResults struct {
	Root        Predicate
	Identifiers map[string]struct{}
	Ops         Ops
	Options     ParseOptions
}

type parser struct {
	resolver  FieldResolver
	expr      string
	pos       int
	nodeCount int64
	idents    map[string]struct{}
	ops       Ops
	opts      ParseOptions
}

// ParseFilter parses the FT.SEARCH filter expression into a predicate
// tree, validating every field reference against the schema.
func ParseFilter(resolver FieldResolver, expression string, opts ParseOptions) (*ParseResults, error) {
	p := &parser{
		resolver: resolver,
		expr:     expression,
		idents:   map[string]struct{}{},
		opts:     opts,
	}
	matchAll, err := p.isMatchAllExpression()
	if err != nil {
		return nil, err
	}
	if matchAll {
		return &ParseResults{Identifiers: map[string]struct{}{}, Options: opts}, nil
	}
	p.pos = 0
	root, err := p.parseExpression(0)
	if err != nil {
		return nil, err
	}
	if !p.isEnd() {
		return nil, p.unexpectedChar()
	}
	if root == nil {
		return nil, kverrors.InvalidArgument("empty filter expression")
	}
	return &ParseResults{Root: root, Identifiers: p.idents, Ops: p.ops, Options: opts}, nil
}

func (p *parser) isEnd() bool { return p.pos >= len(p.expr) }

func (p *parser) peek() byte { return p.expr[p.pos] }

func (p *parser) skipWhitespace() {
	for !p.isEnd() && isSpace(p.peek()) {
		p.pos++
	}
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func (p *parser) match(expected byte) bool {
	p.skipWhitespace()
	if !p.isEnd() && p.peek() == expected {
		p.pos++
		return true
	}
	return false
}

func (p *parser) matchNoSkip(expected byte) bool {
	if !p.isEnd() && p.peek() == expected {
		p.pos++
		return true
	}
	return false
}

func (p *parser) matchInsensitive(expected string) bool {
	if len(p.expr)-p.pos < len(expected) {
		return false
	}
	if !strings.EqualFold(p.expr[p.pos:p.pos+len(expected)], expected) {
		return false
	}
	p.pos += len(expected)
	return true
}

func (p *parser) unexpectedChar() error {
	if p.isEnd() {
		return kverrors.InvalidArgumentAt(len(p.expr), "unexpected end of expression")
	}
	return kverrors.InvalidArgumentAt(p.pos+1, "unexpected character `%c`", p.peek())
}

// isMatchAllExpression recognizes `*` with at most one balanced pair of
// parentheses around it.
func (p *parser) isMatchAllExpression() (bool, error) {
	p.pos = 0
	openBracket, closeBracket, foundAsterisk := false, false, false
	for !p.isEnd() {
		p.skipWhitespace()
		if p.isEnd() {
			break
		}
		switch {
		case p.match('*'):
			if foundAsterisk || closeBracket {
				p.pos--
				return false, p.unexpectedChar()
			}
			foundAsterisk = true
		case p.match('('):
			if foundAsterisk || closeBracket {
				p.pos--
				return false, p.unexpectedChar()
			}
			if openBracket {
				return false, nil
			}
			openBracket = true
		case p.match(')'):
			if !closeBracket && foundAsterisk && openBracket {
				closeBracket = true
			} else {
				p.pos--
				return false, p.unexpectedChar()
			}
		default:
			if !foundAsterisk {
				return false, nil
			}
			return false, p.unexpectedChar()
		}
	}
	if !foundAsterisk {
		return false, nil
	}
	if openBracket != closeBracket {
		return false, kverrors.InvalidArgument("missing `)`")
	}
	return true, nil
}

func (p *parser) bumpNodeCount() error {
	p.nodeCount++
	if p.nodeCount > config.QueryStringTermsCount.Get() {
		return kverrors.InvalidArgument("query string is too complex")
	}
	return nil
}

// parseFieldName consumes `@alias:` and returns the alias.
func (p *parser) parseFieldName() (string, error) {
	p.skipWhitespace()
	if !p.matchNoSkip('@') {
		return "", p.unexpectedChar()
	}
	start := p.pos
	for !p.isEnd() && p.peek() != ':' && !isSpace(p.peek()) {
		p.pos++
	}
	name := p.expr[start:p.pos]
	p.skipWhitespace()
	if p.isEnd() || p.peek() != ':' {
		return "", kverrors.InvalidArgumentAt(p.pos+1, "expected `:` after field name `%s`", name)
	}
	p.pos++
	if name == "" {
		return "", kverrors.InvalidArgumentAt(start, "empty field name")
	}
	return name, nil
}

// parseNumber accepts signed decimals and the inf spellings.
func (p *parser) parseNumber() (float64, error) {
	p.skipWhitespace()
	if p.matchInsensitive("-inf") {
		return math.Inf(-1), nil
	}
	if p.matchInsensitive("+inf") || p.matchInsensitive("inf") {
		return math.Inf(1), nil
	}
	start := p.pos
	if !p.isEnd() && (p.peek() == '-' || p.peek() == '+') {
		p.pos++
	}
	for !p.isEnd() && (p.peek() >= '0' && p.peek() <= '9' || p.peek() == '.' || p.peek() == 'e' ||
		p.peek() == 'E') {
		p.pos++
		if (p.expr[p.pos-1] == 'e' || p.expr[p.pos-1] == 'E') && !p.isEnd() &&
			(p.peek() == '-' || p.peek() == '+') {
			p.pos++
		}
	}
	v, err := strconv.ParseFloat(p.expr[start:p.pos], 64)
	if err != nil || math.IsNaN(v) {
		return 0, kverrors.InvalidArgumentAt(start+1, "invalid number")
	}
	return v, nil
}

func (p *parser) resolveField(alias string, kind AttrKind, kindName string) (*Field, error) {
	f, ok := p.resolver.Field(alias)
	if !ok {
		return nil, kverrors.InvalidArgument("unknown field `%s`", alias)
	}
	if f.Kind != kind {
		return nil, kverrors.InvalidArgument("`%s` is not indexed as a %s field", alias, kindName)
	}
	p.idents[f.Identifier] = struct{}{}
	return f, nil
}

// parseNumericPredicate parses `(? num (' '|',') (? num ]` after the
// opening '[' was consumed.
func (p *parser) parseNumericPredicate(alias string) (*NumericPredicate, error) {
	f, err := p.resolveField(alias, AttrNumeric, "numeric")
	if err != nil {
		return nil, err
	}
	incStart := !p.match('(')
	start, err := p.parseNumber()
	if err != nil {
		return nil, err
	}
	if !p.matchNoSkip(' ') && !p.match(',') {
		return nil, kverrors.InvalidArgumentAt(p.pos+1, "expected separator in numeric range")
	}
	incEnd := !p.match('(')
	end, err := p.parseNumber()
	if err != nil {
		return nil, err
	}
	if !p.match(']') {
		return nil, kverrors.InvalidArgumentAt(p.pos+1, "expected `]` closing numeric range")
	}
	if start > end || (start == end && (!incStart || !incEnd)) {
		return nil, kverrors.InvalidArgument("numeric range is empty: start must not exceed end")
	}
	p.ops |= OpHasNumeric
	return &NumericPredicate{Field: f, Start: start, End: end, IncStart: incStart, IncEnd: incEnd}, nil
}

// parseTagPredicate parses the tag list after the opening '{'.
func (p *parser) parseTagPredicate(alias string) (*TagPredicate, error) {
	f, err := p.resolveField(alias, AttrTag, "tag")
	if err != nil {
		return nil, err
	}
	p.skipWhitespace()
	stop := strings.IndexByte(p.expr[p.pos:], '}')
	if stop < 0 {
		return nil, kverrors.InvalidArgumentAt(p.pos+1, "unclosed `}`")
	}
	raw := p.expr[p.pos : p.pos+stop]
	p.pos += stop + 1
	p.ops |= OpHasTag
	return &TagPredicate{Field: f, Raw: raw, Tags: parseSearchTags(raw)}, nil
}

// parseSearchTags splits the tag list on unescaped '|'. `\|` and `\\`
// escape to literal bytes; escaping applies only to query parsing, never
// to indexed values. A trailing '*' makes a prefix pattern requiring at
// least two characters; shorter prefixes silently drop.
func parseSearchTags(raw string) []TagPattern {
	var parts []string
	var cur strings.Builder
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c == '\\' && i+1 < len(raw) {
			cur.WriteByte(raw[i+1])
			i++
			continue
		}
		if c == '|' {
			parts = append(parts, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteByte(c)
	}
	parts = append(parts, cur.String())

	var tags []TagPattern
	for _, part := range parts {
		t := strings.TrimSpace(part)
		if t == "" {
			continue
		}
		if strings.HasSuffix(t, "*") {
			stem := t[:len(t)-1]
			if len(stem) < 2 {
				continue
			}
			tags = append(tags, TagPattern{Value: stem, Prefix: true})
			continue
		}
		tags = append(tags, TagPattern{Value: t})
	}
	return tags
}

// Text token classification.

type wildcardKind int

const (
	wildcardNone wildcardKind = iota
	wildcardPrefix
	wildcardSuffix
	wildcardInfix
)

func detectWildcard(tok string) wildcardKind {
	starts := strings.HasPrefix(tok, "*")
	ends := strings.HasSuffix(tok, "*")
	switch {
	case starts && ends:
		return wildcardInfix
	case starts:
		return wildcardSuffix // "*x" matches words ending in x
	case ends:
		return wildcardPrefix // "x*"
	default:
		return wildcardNone
	}
}

func stripWildcardMarkers(tok string) string {
	tok = strings.TrimPrefix(tok, "*")
	tok = strings.TrimSuffix(tok, "*")
	return tok
}

// fuzzyDistance returns the leading '%' run length when the token has
// equal leading and trailing runs of 1..3, else 0.
func fuzzyDistance(tok string) int {
	if len(tok) < 3 {
		return 0
	}
	lead := 0
	for lead < len(tok) && tok[lead] == '%' {
		lead++
	}
	tail := 0
	for tail < len(tok) && tok[len(tok)-1-tail] == '%' {
		tail++
	}
	if lead == 0 || lead != tail || lead > 3 || lead+tail >= len(tok) {
		return 0
	}
	return lead
}

// buildTextPredicate classifies one token into a text leaf. A nil field
// scopes the atom to every text attribute.
func (p *parser) buildTextPredicate(field *Field, rawToken string) (TextPredicate, error) {
	tok := strings.TrimSpace(rawToken)
	base := textBase{Field: field, FieldMask: fieldMaskFor(field, p.resolver)}
	if field == nil {
		for _, tf := range p.resolver.TextFields() {
			p.idents[tf.Identifier] = struct{}{}
		}
	}

	if kind := detectWildcard(tok); kind != wildcardNone {
		stem := strings.ToLower(stripWildcardMarkers(tok))
		if stem == "" {
			return nil, kverrors.InvalidArgument("wildcard token must contain at least one character besides `*`")
		}
		p.ops |= OpHasText
		switch kind {
		case wildcardPrefix:
			p.ops |= OpHasTextPrefix
			return &PrefixPredicate{textBase: base, Word: stem}, nil
		case wildcardSuffix:
			p.ops |= OpHasTextSuffix
			return &SuffixPredicate{textBase: base, Word: stem}, nil
		default:
			p.ops |= OpHasTextInfix
			return &InfixPredicate{textBase: base, Word: stem}, nil
		}
	}

	if d := fuzzyDistance(tok); d > 0 {
		core := strings.ToLower(tok[d : len(tok)-d])
		p.ops |= OpHasText | OpHasTextFuzzy
		return &FuzzyPredicate{textBase: base, Word: core, Distance: d}, nil
	}

	if tok == "" {
		return nil, kverrors.InvalidArgumentAt(p.pos+1, "empty text token")
	}
	p.ops |= OpHasText | OpHasTextTerm
	return &TermPredicate{textBase: base, Word: strings.ToLower(tok)}, nil
}

// parseTextAtom reads one quoted phrase or bare token and returns its
// term predicates.
func (p *parser) parseTextAtom(field *Field) ([]TextPredicate, error) {
	p.skipWhitespace()
	var terms []TextPredicate

	if p.matchNoSkip('"') {
		var cur strings.Builder
		flush := func() error {
			if cur.Len() == 0 {
				return nil
			}
			t, err := p.buildTextPredicate(field, cur.String())
			if err != nil {
				return err
			}
			terms = append(terms, t)
			cur.Reset()
			return nil
		}
		for !p.isEnd() {
			c := p.peek()
			if c == '"' {
				p.pos++
				break
			}
			if isSpace(c) {
				if err := flush(); err != nil {
					return nil, err
				}
				p.pos++
				continue
			}
			if c == '\\' && p.pos+1 < len(p.expr) && p.expr[p.pos+1] == '"' {
				cur.WriteByte('"')
				p.pos += 2
				continue
			}
			cur.WriteByte(c)
			p.pos++
		}
		if err := flush(); err != nil {
			return nil, err
		}
		if len(terms) == 0 {
			return nil, kverrors.InvalidArgument("empty quoted string")
		}
		return terms, nil
	}

	start := p.pos
	for !p.isEnd() {
		c := p.peek()
		if isSpace(c) || c == ')' || c == '(' || c == '|' || c == '{' || c == '[' || c == '@' {
			break
		}
		p.pos++
	}
	tok := p.expr[start:p.pos]
	if tok == "" {
		return nil, p.unexpectedChar()
	}
	t, err := p.buildTextPredicate(field, tok)
	if err != nil {
		return nil, err
	}
	return []TextPredicate{t}, nil
}

// parseTextGroup consumes consecutive text atoms (with optional mid-group
// @field re-scoping; a mid-group numeric or tag atom joins by AND). The
// group realizes as a proximity predicate with slop 0 and in-order
// matching unless the query-level SLOP/INORDER options override it.
func (p *parser) parseTextGroup(initialField *Field) (Predicate, error) {
	var allTerms []TextPredicate
	var extras []Predicate
	currentField := initialField

	if !p.isEnd() && p.peek() == '@' {
		alias, err := p.parseFieldName()
		if err != nil {
			return nil, err
		}
		f, err := p.resolveField(alias, AttrText, "text")
		if err != nil {
			return nil, err
		}
		currentField = f
	}

	first, err := p.parseTextAtom(currentField)
	if err != nil {
		return nil, err
	}
	allTerms = append(allTerms, first...)

	for !p.isEnd() {
		p.skipWhitespace()
		if p.isEnd() {
			break
		}
		c := p.peek()
		if c == '|' || c == ')' || c == '(' || c == '-' {
			break
		}
		if c == '@' {
			alias, err := p.parseFieldName()
			if err != nil {
				return nil, err
			}
			p.skipWhitespace()
			if !p.isEnd() && p.peek() == '[' {
				p.pos++
				num, err := p.parseNumericPredicate(alias)
				if err != nil {
					return nil, err
				}
				if err := p.bumpNodeCount(); err != nil {
					return nil, err
				}
				extras = append(extras, num)
				continue
			}
			if !p.isEnd() && p.peek() == '{' {
				p.pos++
				tag, err := p.parseTagPredicate(alias)
				if err != nil {
					return nil, err
				}
				if err := p.bumpNodeCount(); err != nil {
					return nil, err
				}
				extras = append(extras, tag)
				continue
			}
			f, err := p.resolveField(alias, AttrText, "text")
			if err != nil {
				return nil, err
			}
			currentField = f
		}
		terms, err := p.parseTextAtom(currentField)
		if err != nil {
			return nil, err
		}
		allTerms = append(allTerms, terms...)
	}

	var node Predicate
	switch {
	case len(allTerms) == 1:
		node = allTerms[0]
	case len(allTerms) > 1:
		slop := 0
		if p.opts.Slop >= 0 {
			slop = p.opts.Slop
		}
		p.ops |= OpHasTextProximity
		node = &ProximityPredicate{Terms: allTerms, Slop: slop, InOrder: true}
	}

	for _, extra := range extras {
		if node == nil {
			node = extra
			continue
		}
		p.ops |= OpHasAnd
		node = &AndPredicate{Lhs: node, Rhs: extra}
	}
	return node, nil
}

// parseExpression implements inorder-left-associative AND by
// juxtaposition, '|' OR, '-' negation and parenthesized groups.
func (p *parser) parseExpression(level int) (Predicate, error) {
	level++
	if int64(level) > config.QueryStringDepth.Get() {
		return nil, kverrors.InvalidArgument("query string is too complex")
	}

	var andAccum Predicate
	var orGroups []Predicate
	var lastTextField *Field

	for !p.isEnd() {
		p.skipWhitespace()
		if p.isEnd() || p.peek() == ')' {
			break
		}

		if p.peek() == '|' {
			p.pos++
			if andAccum == nil {
				return nil, kverrors.InvalidArgumentAt(p.pos, "empty left side of OR `|`")
			}
			orGroups = append(orGroups, andAccum)
			andAccum = nil
			continue
		}

		negations := 0
		for p.match('-') {
			negations++
		}
		var node Predicate
		var err error

		if p.match('(') {
			node, err = p.parseExpression(level)
			if err != nil {
				return nil, err
			}
			if !p.match(')') {
				return nil, kverrors.InvalidArgumentAt(p.pos+1, "expected `)` after expression")
			}
			if err := p.bumpNodeCount(); err != nil {
				return nil, err
			}
		} else {
			var fieldAlias string
			hasField := false
			if !p.isEnd() && p.peek() == '@' {
				fieldAlias, err = p.parseFieldName()
				if err != nil {
					return nil, err
				}
				hasField = true
			}
			p.skipWhitespace()

			switch {
			case !p.isEnd() && p.peek() == '[':
				p.pos++
				if !hasField {
					return nil, kverrors.InvalidArgument("numeric predicate must have explicit field")
				}
				node, err = p.parseNumericPredicate(fieldAlias)
				if err != nil {
					return nil, err
				}
				if err := p.bumpNodeCount(); err != nil {
					return nil, err
				}
			case !p.isEnd() && p.peek() == '{':
				p.pos++
				if !hasField {
					return nil, kverrors.InvalidArgument("tag predicate must have explicit field")
				}
				node, err = p.parseTagPredicate(fieldAlias)
				if err != nil {
					return nil, err
				}
				if err := p.bumpNodeCount(); err != nil {
					return nil, err
				}
			default:
				textField := lastTextField
				if hasField {
					textField, err = p.resolveField(fieldAlias, AttrText, "text")
					if err != nil {
						return nil, err
					}
				}
				lastTextField = textField
				if err := p.bumpNodeCount(); err != nil {
					return nil, err
				}
				node, err = p.parseTextGroup(textField)
				if err != nil {
					return nil, err
				}
			}
		}

		for i := 0; i < negations; i++ {
			node = &NegatePredicate{Inner: node}
		}
		if andAccum == nil {
			andAccum = node
		} else {
			p.ops |= OpHasAnd
			andAccum = &AndPredicate{Lhs: andAccum, Rhs: node}
		}
	}

	if len(orGroups) > 0 {
		if andAccum != nil {
			orGroups = append(orGroups, andAccum)
		}
		var accum Predicate
		for _, part := range orGroups {
			if err := p.bumpNodeCount(); err != nil {
				return nil, err
			}
			if accum == nil {
				accum = part
			} else {
				p.ops |= OpHasOr
				accum = &OrPredicate{Lhs: accum, Rhs: part}
			}
		}
		return accum, nil
	}
	return andAccum, nil
}
