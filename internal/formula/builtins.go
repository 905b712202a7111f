package formula

import "math"

type builtin struct {
	minArgs int
	maxArgs int // -1 for variadic
	call    func(args []float64) (float64, error)
}

func unary(f func(float64) float64) builtin {
	return builtin{minArgs: 1, maxArgs: 1, call: func(a []float64) (float64, error) {
		return f(a[0]), nil
	}}
}

// builtins is the complete set of callable functions.
var builtins = map[string]builtin{
	"abs":   unary(math.Abs),
	"floor": unary(math.Floor),
	"ceil":  unary(math.Ceil),
	"sqrt":  unary(math.Sqrt),
	"exp":   unary(math.Exp),
	"sin":   unary(math.Sin),
	"cos":   unary(math.Cos),
	"tan":   unary(math.Tan),
	"min": {minArgs: 1, maxArgs: -1, call: func(a []float64) (float64, error) {
		m := a[0]
		for _, v := range a[1:] {
			m = math.Min(m, v)
		}
		return m, nil
	}},
	"max": {minArgs: 1, maxArgs: -1, call: func(a []float64) (float64, error) {
		m := a[0]
		for _, v := range a[1:] {
			m = math.Max(m, v)
		}
		return m, nil
	}},
	"round": {minArgs: 1, maxArgs: 2, call: func(a []float64) (float64, error) {
		if len(a) == 1 {
			return math.RoundToEven(a[0]), nil
		}
		scale := math.Pow(10, math.Trunc(a[1]))
		return math.RoundToEven(a[0]*scale) / scale, nil
	}},
	"log": {minArgs: 1, maxArgs: 2, call: func(a []float64) (float64, error) {
		if len(a) == 1 {
			return math.Log(a[0]), nil
		}
		d := math.Log(a[1])
		if d == 0 {
			return 0, ErrDivisionByZero
		}
		return math.Log(a[0]) / d, nil
	}},
	"pow": {minArgs: 2, maxArgs: 2, call: func(a []float64) (float64, error) {
		return math.Pow(a[0], a[1]), nil
	}},
	"clamp": {minArgs: 3, maxArgs: 3, call: func(a []float64) (float64, error) {
		return math.Max(a[1], math.Min(a[2], a[0])), nil
	}},
}

var constants = map[string]float64{
	"pi": math.Pi,
	"e":  math.E,
}
