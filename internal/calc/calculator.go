// Package calc holds the per-symbol valuation state: current field values,
// the per-user override store, declared formulas and the dependency graph
// between symbols.
package calc

import (
	"maps"
	"math"
	"strconv"
	"time"

	"edge_grid/internal/domain"
	"edge_grid/internal/formula"
)

// InitialValues seeds a new calculator before its first tick.
type InitialValues struct {
	Edge float64
	Qty  float64
}

// EvalContext is everything a computation may read besides the calculator itself.
type EvalContext struct {
	// TimeDiff is the elapsed wall-clock seconds since the previous tick started.
	TimeDiff float64
	// Values is the numeric context keyed by symbol id then field name. The
	// calculator writes its freshly computed values back into it.
	Values map[string]map[string]float64
	Rand   Rand
}

// Calculator owns one symbol's six fields, their overrides and formulas.
// It is not safe for concurrent use; the grid service serializes access.
type Calculator struct {
	symbol      string
	description *string
	seed        int

	numeric   map[domain.Field]float64
	toggles   map[domain.Field]domain.Toggle
	overrides map[domain.Field]map[string]domain.Override
	formulas  map[domain.Field]*formula.Program
}

// New creates a calculator with no formulas and no overrides.
func New(symbol string, description *string, init InitialValues) *Calculator {
	c := &Calculator{
		symbol:      symbol,
		description: description,
		seed:        SymbolSeed(symbol),
		numeric: map[domain.Field]float64{
			domain.BidEdge: init.Edge,
			domain.AskEdge: init.Edge,
			domain.BidQ:    init.Qty,
			domain.AskQ:    init.Qty,
		},
		toggles: map[domain.Field]domain.Toggle{
			domain.Maker: domain.ToggleOff,
			domain.Taker: domain.ToggleOff,
		},
		overrides: make(map[domain.Field]map[string]domain.Override, len(domain.AllFields)),
		formulas:  make(map[domain.Field]*formula.Program),
	}
	for _, f := range domain.AllFields {
		c.overrides[f] = make(map[string]domain.Override)
	}
	return c
}

func (c *Calculator) Symbol() string       { return c.symbol }
func (c *Calculator) Description() *string { return c.description }
func (c *Calculator) Seed() int            { return c.seed }

// Value returns the current value of f: a float64 for numeric fields, a
// domain.Toggle for maker/taker.
func (c *Calculator) Value(f domain.Field) any {
	if f.IsToggle() {
		return c.toggles[f]
	}
	return c.numeric[f]
}

// NumericValues returns the four numeric fields keyed by field name.
func (c *Calculator) NumericValues() map[string]float64 {
	out := make(map[string]float64, len(domain.NumericFields))
	for _, f := range domain.NumericFields {
		out[string(f)] = c.numeric[f]
	}
	return out
}

// HasOverride reports whether f is currently user-controlled.
func (c *Calculator) HasOverride(f domain.Field) bool {
	return len(c.overrides[f]) > 0
}

// Overrides returns a copy of the override map for f.
func (c *Calculator) Overrides(f domain.Field) map[string]domain.Override {
	return maps.Clone(c.overrides[f])
}

// Cells returns a deep copy of every field's value and overrides.
func (c *Calculator) Cells() domain.SymbolCells {
	cells := make(domain.SymbolCells, len(domain.AllFields))
	for _, f := range domain.AllFields {
		cells[f] = domain.CellState{Value: c.Value(f), Overrides: c.Overrides(f)}
	}
	return cells
}

// SetFormula declares (or with nil, clears) the formula for a numeric field.
func (c *Calculator) SetFormula(f domain.Field, p *formula.Program) error {
	if !f.IsNumeric() {
		return domain.ErrFormulaField
	}
	if p == nil {
		delete(c.formulas, f)
		return nil
	}
	c.formulas[f] = p
	return nil
}

// Formula returns the declared formula for f, or nil.
func (c *Calculator) Formula(f domain.Field) *formula.Program {
	return c.formulas[f]
}

// Formulas returns the declared formula sources by field.
func (c *Calculator) Formulas() map[domain.Field]string {
	out := make(map[domain.Field]string, len(c.formulas))
	for f, p := range c.formulas {
		out[f] = p.Source()
	}
	return out
}

// Compute returns a fresh engine value for the numeric field f without storing it.
// A failing formula yields the degraded fallback value together with a
// *domain.FormulaError for the caller to record; the value is always usable.
func (c *Calculator) Compute(f domain.Field, ec EvalContext) (float64, error) {
	p := c.formulas[f]
	if p == nil {
		if f.IsEdge() {
			return walkEdge(c.numeric[f], ec.Rand), nil
		}
		return walkQty(c.numeric[f], ec.Rand), nil
	}

	values := ec.Values
	if values == nil {
		values = map[string]map[string]float64{c.symbol: c.NumericValues()}
	}
	v, err := p.Eval(formula.Env{
		Values:     values,
		Self:       c.symbol,
		TimeDiff:   ec.TimeDiff,
		SymbolSeed: float64(c.seed),
	})
	if err != nil {
		ferr := &domain.FormulaError{Symbol: c.symbol, Field: f, Err: err}
		if f.IsEdge() {
			return fallbackEdge(ec.Rand), ferr
		}
		return fallbackQty(ec.Rand), ferr
	}
	if f.IsEdge() {
		return RoundEdge(v), nil
	}
	return RoundQty(v), nil
}

// Update recomputes every engine-controlled numeric field in field order and
// writes the results into both the calculator and ec.Values. Fields with a
// standing override are left alone. Formula failures are returned for
// reporting only; every field still receives a value.
func (c *Calculator) Update(ec EvalContext) []error {
	var errs []error
	for _, f := range domain.NumericFields {
		if c.HasOverride(f) {
			continue
		}
		v, err := c.Compute(f, ec)
		if err != nil {
			errs = append(errs, err)
		}
		c.store(f, v, ec.Values)
	}
	return errs
}

func (c *Calculator) store(f domain.Field, v float64, values map[string]map[string]float64) {
	c.numeric[f] = v
	if values == nil {
		return
	}
	row, ok := values[c.symbol]
	if !ok {
		row = make(map[string]float64, len(domain.NumericFields))
		values[c.symbol] = row
	}
	row[string(f)] = v
}

// SetOverride applies one user's raw value to f.
//
// An empty raw value, or one that does not parse for the field type, removes
// the user's entry. When that removal leaves the field without overrides, a
// numeric field is immediately recomputed from its formula or the default
// model. Removing one of several overrides leaves the current value as is.
// A valid value is recorded with timestamp now and becomes the current value.
//
// The returned error is a formula failure from the recompute path, if any.
func (c *Calculator) SetOverride(f domain.Field, userID, raw string, now time.Time, ec EvalContext) error {
	if raw != "" {
		if v, ok := c.parse(f, raw); ok {
			c.overrides[f][userID] = domain.Override{Value: v, Timestamp: now}
			if f.IsToggle() {
				c.toggles[f] = v.(domain.Toggle)
			} else {
				c.numeric[f] = v.(float64)
			}
			return nil
		}
	}
	return c.removeOverride(f, userID, ec)
}

func (c *Calculator) removeOverride(f domain.Field, userID string, ec EvalContext) error {
	if _, ok := c.overrides[f][userID]; !ok {
		return nil
	}
	delete(c.overrides[f], userID)
	if len(c.overrides[f]) > 0 || !f.IsNumeric() {
		return nil
	}
	v, err := c.Compute(f, ec)
	c.store(f, v, ec.Values)
	return err
}

// parse converts raw for the field type. Quantities from overrides are not clamped.
func (c *Calculator) parse(f domain.Field, raw string) (any, bool) {
	if f.IsToggle() {
		t, err := domain.ParseToggle(raw)
		if err != nil {
			return nil, false
		}
		return t, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, false
	}
	return v, true
}
