package calc

import (
	"math"

	"github.com/shopspring/decimal"
)

// Rand is the randomness the default model draws from. *rand.Rand from
// math/rand/v2 satisfies it.
type Rand interface {
	Float64() float64
}

const (
	minQty = 1
	maxQty = 100

	meanLevel     = 100.0
	meanReversion = 0.01
	edgeStep      = 0.1
	qtyStep       = 1.0
	fallbackSpan  = 1.0
)

func uniform(r Rand, lo, hi float64) float64 {
	return lo + (hi-lo)*r.Float64()
}

// RoundEdge rounds an edge to 2 decimals, half to even.
func RoundEdge(v float64) float64 {
	return decimal.NewFromFloat(v).RoundBank(2).InexactFloat64()
}

// RoundQty rounds a quantity to an integer (half to even) and clamps it to [1, 100].
func RoundQty(v float64) float64 {
	q := decimal.NewFromFloat(v).RoundBank(0).InexactFloat64()
	return math.Max(minQty, math.Min(maxQty, q))
}

// walkEdge is a random walk with linear mean reversion toward 100.
func walkEdge(current float64, r Rand) float64 {
	next := current + uniform(r, -edgeStep, edgeStep) + (meanLevel-current)*meanReversion
	return RoundEdge(next)
}

// walkQty is a bounded random walk.
func walkQty(current float64, r Rand) float64 {
	next := current + uniform(r, -qtyStep, qtyStep)
	return RoundQty(math.Max(minQty, math.Min(maxQty, next)))
}

// fallbackEdge is used when an edge formula fails.
func fallbackEdge(r Rand) float64 {
	return RoundEdge(meanLevel + uniform(r, -fallbackSpan, fallbackSpan))
}

// fallbackQty is used when a quantity formula fails.
func fallbackQty(r Rand) float64 {
	return RoundQty(uniform(r, minQty, maxQty))
}

// SymbolSeed is the deterministic per-symbol seed: the sum of its character codes.
func SymbolSeed(symbol string) int {
	seed := 0
	for _, c := range symbol {
		seed += int(c)
	}
	return seed
}
