package resolver

import (
	"fmt"
	"strconv"
	"strings"
)

// Segment is a single path access, a key or an index.
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

// FilterCall is a pipe filter invocation with its literal arguments.
type FilterCall struct {
	Name string
	Args []any
}

// Expression is the parsed content of a `{{...}}` token.
type Expression struct {
	Path    []Segment
	Filters []FilterCall
}

// Parse parses a template expression: `path | filter(args) | filter ...`.
func Parse(src string) (*Expression, error) {
	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens}
	expr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}

	return expr, nil
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokenKind) (token, error) {
	t := p.next()
	if t.kind != kind {
		return t, fmt.Errorf("expected %s at %d, got %s", kind, t.pos, t.kind)
	}
	return t, nil
}

func (p *parser) parseExpression() (*Expression, error) {
	path, err := p.parsePath()
	if err != nil {
		return nil, err
	}
	expr := &Expression{Path: path}

	for p.peek().kind == tokPipe {
		p.next()
		f, err := p.parseFilter()
		if err != nil {
			return nil, err
		}
		expr.Filters = append(expr.Filters, f)
	}

	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %s at %d", t.kind, t.pos)
	}

	return expr, nil
}

func (p *parser) parsePath() ([]Segment, error) {
	first, err := p.expect(tokIdent)
	if err != nil {
		return nil, err
	}
	path := []Segment{{Key: first.text}}

	for {
		switch p.peek().kind {
		case tokDot:
			p.next()
			t := p.next()
			switch t.kind {
			case tokIdent:
				path = append(path, Segment{Key: t.text})
			case tokNumber:
				// `a.0.1` is lexed as `a`, `.`, `0.1`.
				for _, part := range strings.Split(t.text, ".") {
					i, err := strconv.Atoi(part)
					if err != nil {
						return nil, fmt.Errorf("invalid index %q at %d", t.text, t.pos)
					}
					path = append(path, Segment{Index: i, IsIndex: true, Key: part})
				}
			default:
				return nil, fmt.Errorf("expected identifier after '.' at %d, got %s", t.pos, t.kind)
			}
		case tokLBracket:
			p.next()
			seg, err := p.parseBracket()
			if err != nil {
				return nil, err
			}
			path = append(path, seg)
		default:
			return path, nil
		}
	}
}

func (p *parser) parseBracket() (Segment, error) {
	var seg Segment
	negative := false
	if p.peek().kind == tokMinus {
		p.next()
		negative = true
	}

	t := p.next()
	switch {
	case t.kind == tokNumber:
		i, err := strconv.Atoi(t.text)
		if err != nil {
			return seg, fmt.Errorf("invalid index %q at %d", t.text, t.pos)
		}
		if negative {
			i = -i
		}
		seg = Segment{Index: i, IsIndex: true, Key: strconv.Itoa(i)}
	case t.kind == tokString && !negative:
		seg = Segment{Key: t.text}
	default:
		return seg, fmt.Errorf("expected index at %d, got %s", t.pos, t.kind)
	}

	if _, err := p.expect(tokRBracket); err != nil {
		return seg, err
	}
	return seg, nil
}

func (p *parser) parseFilter() (FilterCall, error) {
	name, err := p.expect(tokIdent)
	if err != nil {
		return FilterCall{}, err
	}
	f := FilterCall{Name: name.text}

	if p.peek().kind != tokLParen {
		return f, nil
	}
	p.next()

	if p.peek().kind == tokRParen {
		p.next()
		return f, nil
	}

	for {
		arg, err := p.parseLiteral()
		if err != nil {
			return f, err
		}
		f.Args = append(f.Args, arg)

		t := p.next()
		switch t.kind {
		case tokComma:
			continue
		case tokRParen:
			return f, nil
		default:
			return f, fmt.Errorf("expected ',' or ')' at %d, got %s", t.pos, t.kind)
		}
	}
}

func (p *parser) parseLiteral() (any, error) {
	negative := false
	if p.peek().kind == tokMinus {
		p.next()
		negative = true
	}

	t := p.next()
	switch {
	case t.kind == tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at %d", t.text, t.pos)
		}
		if negative {
			f = -f
		}
		return f, nil
	case negative:
		return nil, fmt.Errorf("expected number after '-' at %d", t.pos)
	case t.kind == tokString:
		return t.text, nil
	case t.kind == tokIdent && t.text == "true":
		return true, nil
	case t.kind == tokIdent && t.text == "false":
		return false, nil
	case t.kind == tokIdent && (t.text == "null" || t.text == "undefined"):
		return nil, nil
	}

	return nil, fmt.Errorf("expected literal argument at %d, got %s", t.pos, t.kind)
}
