package formula

import (
	"fmt"
	"math"
)

// Env is the read-only namespace a formula is evaluated in.
type Env struct {
	// Values maps symbol id to numeric field name to current value.
	Values map[string]map[string]float64
	// Self is the symbol the formula belongs to; bare field names resolve against it.
	Self       string
	TimeDiff   float64
	SymbolSeed float64
}

type node interface {
	eval(env *Env) (float64, error)
}

type numberNode float64

func (n numberNode) eval(*Env) (float64, error) { return float64(n), nil }

type varNode string

const (
	varTimeDiff   = "time_diff"
	varSymbolSeed = "symbol_seed"
)

func (n varNode) eval(env *Env) (float64, error) {
	switch string(n) {
	case varTimeDiff:
		return env.TimeDiff, nil
	case varSymbolSeed:
		return env.SymbolSeed, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownIdentifier, string(n))
}

// lookupNode reads one field of one symbol from the context. An empty symbol
// means the evaluating symbol itself.
type lookupNode struct {
	symbol string
	field  string
}

func (n lookupNode) eval(env *Env) (float64, error) {
	sym := n.symbol
	if sym == "" {
		sym = env.Self
	}
	fields, ok := env.Values[sym]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSymbol, sym)
	}
	v, ok := fields[n.field]
	if !ok {
		return 0, fmt.Errorf("%w: %s.%s", ErrUnknownIdentifier, sym, n.field)
	}
	return v, nil
}

type unaryNode struct {
	op string
	x  node
}

func (n unaryNode) eval(env *Env) (float64, error) {
	v, err := n.x.eval(env)
	if err != nil {
		return 0, err
	}
	if n.op == "-" {
		return -v, nil
	}
	return v, nil
}

type binaryNode struct {
	op   string
	l, r node
}

func (n binaryNode) eval(env *Env) (float64, error) {
	a, err := n.l.eval(env)
	if err != nil {
		return 0, err
	}
	b, err := n.r.eval(env)
	if err != nil {
		return 0, err
	}
	switch n.op {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/":
		if b == 0 {
			return 0, ErrDivisionByZero
		}
		return a / b, nil
	case "%":
		if b == 0 {
			return 0, ErrDivisionByZero
		}
		// floored modulo: the result takes the sign of the divisor
		m := math.Mod(a, b)
		if m != 0 && (m < 0) != (b < 0) {
			m += b
		}
		return m, nil
	case "**":
		return math.Pow(a, b), nil
	case "<":
		return boolToFloat(a < b), nil
	case "<=":
		return boolToFloat(a <= b), nil
	case ">":
		return boolToFloat(a > b), nil
	case ">=":
		return boolToFloat(a >= b), nil
	case "==":
		return boolToFloat(a == b), nil
	case "!=":
		return boolToFloat(a != b), nil
	}
	return 0, fmt.Errorf("%w: operator %s", ErrSyntax, n.op)
}

type callNode struct {
	name string
	fn   builtin
	args []node
}

func (n callNode) eval(env *Env) (float64, error) {
	vals := make([]float64, len(n.args))
	for i, a := range n.args {
		v, err := a.eval(env)
		if err != nil {
			return 0, err
		}
		vals[i] = v
	}
	return n.fn.call(vals)
}

// condNode is if(cond, then, else); only the selected branch is evaluated.
type condNode struct {
	cond, then, els node
}

func (n condNode) eval(env *Env) (float64, error) {
	c, err := n.cond.eval(env)
	if err != nil {
		return 0, err
	}
	if c != 0 {
		return n.then.eval(env)
	}
	return n.els.eval(env)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
