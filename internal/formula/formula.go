// Package formula evaluates user-declared field formulas in a closed namespace.
//
// A formula is parsed once into an AST. Evaluation can only read the numeric
// context handed to it (every symbol's bid/ask edge and quantity), the
// time_diff and symbol_seed variables, a few constants and a fixed function
// set. There is no other reachable state.
package formula

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	ErrSyntax            = errors.New("syntax error")
	ErrTooComplex        = errors.New("formula too complex")
	ErrUnknownIdentifier = errors.New("unknown identifier")
	ErrUnknownFunction   = errors.New("unknown function")
	ErrArity             = errors.New("wrong number of arguments")
	ErrUnknownSymbol     = errors.New("unknown symbol")
	ErrDivisionByZero    = errors.New("division by zero")
	ErrNotFinite         = errors.New("result is not finite")
)

const (
	maxSourceLen = 4096
	maxDepth     = 64
)

// numericFields are the only names a context lookup may select.
var numericFields = map[string]bool{
	"bid_edge": true,
	"ask_edge": true,
	"bid_q":    true,
	"ask_q":    true,
}

// Program is a parsed formula.
type Program struct {
	src  string
	root node
	refs []string
}

// Parse compiles src into a Program.
func Parse(src string) (*Program, error) {
	if len(src) > maxSourceLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooComplex, len(src))
	}
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, refs: make(map[string]struct{})}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, t.text, t.pos)
	}

	refs := make([]string, 0, len(p.refs))
	for s := range p.refs {
		refs = append(refs, s)
	}
	sort.Strings(refs)
	return &Program{src: src, root: root, refs: refs}, nil
}

// MustParse is Parse for formulas known to be valid; it panics otherwise.
func MustParse(src string) *Program {
	p, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return p
}

// Source returns the formula text as declared.
func (p *Program) Source() string { return p.src }

// References returns the symbol ids the formula reads explicitly, sorted.
// Bare field names (the evaluating symbol's own fields) are not included.
func (p *Program) References() []string {
	out := make([]string, len(p.refs))
	copy(out, p.refs)
	return out
}

// Eval runs the formula against env. It never panics.
func (p *Program) Eval(env Env) (v float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = 0, fmt.Errorf("formula panic: %v", r)
		}
	}()
	v, err = p.root.eval(&env)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrNotFinite
	}
	return v, nil
}
