package request

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseFilter parses the filter expression grammar shared by REST $filter
// parameters and database policy strings:
//
//	title eq 'dune' and (pages gt 100 or pages eq null)
//	@item.ownerId eq 42
//	contains(title, 'war') and not startswith(title, 'the')
//	status in ('active', 'archived')
//
// Comparison operators are eq, ne, gt, ge, lt, le, like, notlike, in.
// `eq null` and `ne null` become null checks. String literals single-quote
// with '' as the escape. Field references are bare names or @item.name;
// @claims references must be substituted away before parsing.
func ParseFilter(input string) (Filter, error) {
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}
	toks, err := lexFilter(input)
	if err != nil {
		return nil, err
	}
	p := &filterParser{toks: toks}
	f, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokenEOF {
		return nil, fmt.Errorf("filter: unexpected %q at position %d", tok.text, tok.pos)
	}
	return f, nil
}

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenString
	tokenNumber
	tokenLParen
	tokenRParen
	tokenComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func isIdentStart(c byte) bool {
	return c == '@' || c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c == '.' || (c >= '0' && c <= '9')
}

func lexFilter(input string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c == '(':
			toks = append(toks, token{tokenLParen, "(", i})
			i++

		case c == ')':
			toks = append(toks, token{tokenRParen, ")", i})
			i++

		case c == ',':
			toks = append(toks, token{tokenComma, ",", i})
			i++

		case c == '\'':
			start := i
			i++
			var sb strings.Builder
			closed := false
			for i < len(input) {
				if input[i] == '\'' {
					// Doubled quote is a literal quote.
					if i+1 < len(input) && input[i+1] == '\'' {
						sb.WriteByte('\'')
						i += 2
						continue
					}
					closed = true
					i++
					break
				}
				sb.WriteByte(input[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("filter: unterminated string at position %d", start)
			}
			toks = append(toks, token{tokenString, sb.String(), start})

		case c == '-' || (c >= '0' && c <= '9'):
			start := i
			i++
			for i < len(input) && (input[i] == '.' || (input[i] >= '0' && input[i] <= '9')) {
				i++
			}
			toks = append(toks, token{tokenNumber, input[start:i], start})

		case isIdentStart(c):
			start := i
			i++
			for i < len(input) && isIdentPart(input[i]) {
				i++
			}
			toks = append(toks, token{tokenIdent, input[start:i], start})

		default:
			return nil, fmt.Errorf("filter: unexpected character %q at position %d", string(c), i)
		}
	}
	toks = append(toks, token{tokenEOF, "", len(input)})
	return toks, nil
}

type filterParser struct {
	toks []token
	pos  int
}

func (p *filterParser) peek() token { return p.toks[p.pos] }

func (p *filterParser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokenEOF {
		p.pos++
	}
	return t
}

// matchKeyword consumes the next token when it is the given bare keyword.
func (p *filterParser) matchKeyword(kw string) bool {
	t := p.peek()
	if t.kind == tokenIdent && strings.EqualFold(t.text, kw) {
		p.pos++
		return true
	}
	return false
}

func (p *filterParser) parseOr() (Filter, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	items := []Filter{left}
	for p.matchKeyword("or") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		items = append(items, right)
	}
	if len(items) == 1 {
		return items[0], nil
	}
	return OrFilter{Items: items}, nil
}

func (p *filterParser) parseAnd() (Filter, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	items := []Filter{left}
	for p.matchKeyword("and") {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		items = append(items, right)
	}
	if len(items) == 1 {
		return items[0], nil
	}
	return AndFilter{Items: items}, nil
}

func (p *filterParser) parseUnary() (Filter, error) {
	if p.matchKeyword("not") {
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return NotFilter{Item: inner}, nil
	}
	if p.peek().kind == tokenLParen {
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if tok := p.next(); tok.kind != tokenRParen {
			return nil, fmt.Errorf("filter: expected ) at position %d", tok.pos)
		}
		return inner, nil
	}
	return p.parseComparison()
}

// stringFuncs maps the function-call forms to their operators.
var stringFuncs = map[string]Op{
	"contains":   OpContains,
	"startswith": OpStartsWith,
	"endswith":   OpEndsWith,
}

func (p *filterParser) parseComparison() (Filter, error) {
	tok := p.next()
	if tok.kind != tokenIdent {
		return nil, fmt.Errorf("filter: expected field reference at position %d", tok.pos)
	}

	if op, isFunc := stringFuncs[strings.ToLower(tok.text)]; isFunc && p.peek().kind == tokenLParen {
		return p.parseStringFunc(op)
	}

	field, err := fieldRef(tok)
	if err != nil {
		return nil, err
	}

	opTok := p.next()
	if opTok.kind != tokenIdent {
		return nil, fmt.Errorf("filter: expected operator after %q at position %d", tok.text, opTok.pos)
	}

	var op Op
	switch strings.ToLower(opTok.text) {
	case "eq":
		op = OpEq
	case "ne":
		op = OpNeq
	case "gt":
		op = OpGt
	case "ge":
		op = OpGte
	case "lt":
		op = OpLt
	case "le":
		op = OpLte
	case "like":
		op = OpLike
	case "notlike":
		op = OpNotLike
	case "in":
		return p.parseIn(field)
	default:
		return nil, fmt.Errorf("filter: unknown operator %q at position %d", opTok.text, opTok.pos)
	}

	value, isNull, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}
	if isNull {
		switch op {
		case OpEq:
			return FieldFilter{Field: field, Op: OpIsNull}, nil
		case OpNeq:
			return FieldFilter{Field: field, Op: OpIsNotNull}, nil
		default:
			return nil, fmt.Errorf("filter: null only combines with eq and ne")
		}
	}
	return FieldFilter{Field: field, Op: op, Value: value}, nil
}

func (p *filterParser) parseStringFunc(op Op) (Filter, error) {
	p.next() // consume (
	fieldTok := p.next()
	if fieldTok.kind != tokenIdent {
		return nil, fmt.Errorf("filter: expected field reference at position %d", fieldTok.pos)
	}
	field, err := fieldRef(fieldTok)
	if err != nil {
		return nil, err
	}
	if tok := p.next(); tok.kind != tokenComma {
		return nil, fmt.Errorf("filter: expected , at position %d", tok.pos)
	}
	valTok := p.next()
	if valTok.kind != tokenString {
		return nil, fmt.Errorf("filter: %s takes a string literal, got %q at position %d", op, valTok.text, valTok.pos)
	}
	if tok := p.next(); tok.kind != tokenRParen {
		return nil, fmt.Errorf("filter: expected ) at position %d", tok.pos)
	}
	return FieldFilter{Field: field, Op: op, Value: valTok.text}, nil
}

func (p *filterParser) parseIn(field string) (Filter, error) {
	if tok := p.next(); tok.kind != tokenLParen {
		return nil, fmt.Errorf("filter: expected ( after in at position %d", tok.pos)
	}
	var values []any
	for {
		value, isNull, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		if isNull {
			return nil, fmt.Errorf("filter: null is not allowed inside in()")
		}
		values = append(values, value)
		tok := p.next()
		if tok.kind == tokenRParen {
			break
		}
		if tok.kind != tokenComma {
			return nil, fmt.Errorf("filter: expected , or ) at position %d", tok.pos)
		}
	}
	return FieldFilter{Field: field, Op: OpIn, Value: values}, nil
}

// parseLiteral reads a string, number, boolean, or null literal.
func (p *filterParser) parseLiteral() (value any, isNull bool, err error) {
	tok := p.next()
	switch tok.kind {
	case tokenString:
		return tok.text, false, nil

	case tokenNumber:
		if strings.Contains(tok.text, ".") {
			f, err := strconv.ParseFloat(tok.text, 64)
			if err != nil {
				return nil, false, fmt.Errorf("filter: bad number %q at position %d", tok.text, tok.pos)
			}
			return f, false, nil
		}
		n, err := strconv.ParseInt(tok.text, 10, 64)
		if err != nil {
			return nil, false, fmt.Errorf("filter: bad number %q at position %d", tok.text, tok.pos)
		}
		return n, false, nil

	case tokenIdent:
		switch strings.ToLower(tok.text) {
		case "true":
			return true, false, nil
		case "false":
			return false, false, nil
		case "null":
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("filter: expected a literal, got %q at position %d", tok.text, tok.pos)

	default:
		return nil, false, fmt.Errorf("filter: expected a literal at position %d", tok.pos)
	}
}

// fieldRef resolves a field token: bare names pass through, @item.name is
// stripped to name. Anything else dotted is rejected, including @claims
// references, which must be substituted before parsing.
func fieldRef(tok token) (string, error) {
	name := tok.text
	if strings.HasPrefix(name, "@item.") {
		name = strings.TrimPrefix(name, "@item.")
		if name == "" || strings.Contains(name, ".") {
			return "", fmt.Errorf("filter: bad field reference %q at position %d", tok.text, tok.pos)
		}
		return name, nil
	}
	if strings.HasPrefix(name, "@claims.") {
		return "", fmt.Errorf("filter: unresolved claim reference %q", tok.text)
	}
	if strings.HasPrefix(name, "@") || strings.Contains(name, ".") {
		return "", fmt.Errorf("filter: bad field reference %q at position %d", tok.text, tok.pos)
	}
	return name, nil
}
