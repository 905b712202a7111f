package formula

import (
	"fmt"
	"strings"
)

type parser struct {
	toks  []token
	pos   int
	depth int
	refs  map[string]struct{}
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(op string) error {
	t := p.next()
	if !t.is(op) {
		return fmt.Errorf("%w: expected %q at %d, got %q", ErrSyntax, op, t.pos, t.text)
	}
	return nil
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxDepth {
		return fmt.Errorf("%w: nesting deeper than %d", ErrTooComplex, maxDepth)
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

// expr := additive [cmp additive]
func (p *parser) parseExpr() (node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	l, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	if t.kind == tokOp {
		switch t.text {
		case "<", "<=", ">", ">=", "==", "!=":
			p.next()
			r, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			return binaryNode{op: t.text, l: l, r: r}, nil
		}
	}
	return l, nil
}

func (p *parser) parseAdditive() (node, error) {
	l, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if !t.is("+") && !t.is("-") {
			return l, nil
		}
		p.next()
		r, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		l = binaryNode{op: t.text, l: l, r: r}
	}
}

func (p *parser) parseTerm() (node, error) {
	l, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if !t.is("*") && !t.is("/") && !t.is("%") {
			return l, nil
		}
		p.next()
		r, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		l = binaryNode{op: t.text, l: l, r: r}
	}
}

func (p *parser) parseUnary() (node, error) {
	t := p.peek()
	if t.is("-") || t.is("+") {
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: t.text, x: x}, nil
	}
	return p.parsePower()
}

// power binds tighter than unary minus on its left and is right-associative:
// -2**2 == -4, 2**3**2 == 512.
func (p *parser) parsePower() (node, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if !p.peek().is("**") {
		return base, nil
	}
	p.next()
	exp, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return binaryNode{op: "**", l: base, r: exp}, nil
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return numberNode(t.num), nil
	case tokString:
		return nil, fmt.Errorf("%w: string %q outside of a context index at %d", ErrSyntax, t.text, t.pos)
	case tokIdent:
		return p.parseName(t)
	case tokOp:
		if t.is("(") {
			x, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			return x, nil
		}
	}
	if t.kind == tokEOF {
		return nil, fmt.Errorf("%w: unexpected end of formula", ErrSyntax)
	}
	return nil, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, t.text, t.pos)
}

func (p *parser) parseName(first token) (node, error) {
	if first.text == "context" && p.peek().is("[") {
		return p.parseIndexLookup()
	}

	names := []string{first.text}
	for p.peek().is(".") && p.toks[p.pos+1].kind == tokIdent {
		p.next()
		names = append(names, p.next().text)
	}

	if p.peek().is("(") {
		return p.parseCall(names, first.pos)
	}

	switch len(names) {
	case 1:
		name := names[0]
		switch name {
		case varTimeDiff, varSymbolSeed:
			return varNode(name), nil
		}
		if v, ok := constants[name]; ok {
			return numberNode(v), nil
		}
		if numericFields[name] {
			return lookupNode{field: name}, nil
		}
	case 2:
		if names[0] == "math" {
			if v, ok := constants[names[1]]; ok {
				return numberNode(v), nil
			}
			break
		}
		return p.lookup(names[0], names[1], first.pos)
	case 3:
		if names[0] == "context" {
			return p.lookup(names[1], names[2], first.pos)
		}
	}
	return nil, fmt.Errorf("%w: %s at %d", ErrUnknownIdentifier, strings.Join(names, "."), first.pos)
}

// context['SYM']['field']
func (p *parser) parseIndexLookup() (node, error) {
	var keys [2]string
	for i := range keys {
		if err := p.expect("["); err != nil {
			return nil, err
		}
		t := p.next()
		if t.kind != tokString {
			return nil, fmt.Errorf("%w: context index must be a string literal at %d", ErrSyntax, t.pos)
		}
		keys[i] = t.text
		if err := p.expect("]"); err != nil {
			return nil, err
		}
	}
	return p.lookup(keys[0], keys[1], p.peek().pos)
}

func (p *parser) lookup(symbol, field string, pos int) (node, error) {
	if !numericFields[field] {
		return nil, fmt.Errorf("%w: field %q of %s at %d", ErrUnknownIdentifier, field, symbol, pos)
	}
	p.refs[symbol] = struct{}{}
	return lookupNode{symbol: symbol, field: field}, nil
}

func (p *parser) parseCall(names []string, pos int) (node, error) {
	if len(names) == 2 && names[0] == "math" {
		names = names[1:]
	}
	if len(names) != 1 {
		return nil, fmt.Errorf("%w: %s at %d", ErrUnknownFunction, strings.Join(names, "."), pos)
	}
	name := names[0]

	if err := p.expect("("); err != nil {
		return nil, err
	}
	var args []node
	if !p.peek().is(")") {
		for {
			a, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			args = append(args, a)
			if !p.peek().is(",") {
				break
			}
			p.next()
		}
	}
	if err := p.expect(")"); err != nil {
		return nil, err
	}

	if name == "if" {
		if len(args) != 3 {
			return nil, fmt.Errorf("%w: if takes 3, got %d", ErrArity, len(args))
		}
		return condNode{cond: args[0], then: args[1], els: args[2]}, nil
	}

	fn, ok := builtins[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s at %d", ErrUnknownFunction, name, pos)
	}
	if len(args) < fn.minArgs || (fn.maxArgs >= 0 && len(args) > fn.maxArgs) {
		return nil, fmt.Errorf("%w: %s got %d", ErrArity, name, len(args))
	}
	return callNode{name: name, fn: fn, args: args}, nil
}
