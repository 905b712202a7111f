package domain

import "errors"

var (
	// ErrDuplicateSymbol is returned when adding a symbol whose id already exists.
	ErrDuplicateSymbol = errors.New("symbol already exists")

	// ErrUnknownSymbolOrField is returned when a cell update targets a missing symbol or field.
	ErrUnknownSymbolOrField = errors.New("cell not found")

	// ErrSymbolNotFound is returned by symbol lookups for an unknown id.
	ErrSymbolNotFound = errors.New("symbol not found")

	// ErrInvalidSymbol is returned for an empty or malformed symbol id.
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrUnknownField is returned when a field name is not one of the six cells.
	ErrUnknownField = errors.New("unknown field")

	// ErrInvalidToggle is returned when a toggle value is neither ON nor OFF.
	ErrInvalidToggle = errors.New("invalid toggle value")

	// ErrFormulaField is returned when a formula targets a non-numeric field.
	ErrFormulaField = errors.New("formulas are only allowed on numeric fields")
)

// FormulaError carries a formula evaluation failure. It never reaches callers of
// the engine; the calculator degrades to its fallback value instead.
type FormulaError struct {
	Symbol string
	Field  Field
	Err    error
}

func (e *FormulaError) Error() string {
	return "formula " + e.Symbol + "." + string(e.Field) + ": " + e.Err.Error()
}

func (e *FormulaError) Unwrap() error {
	return e.Err
}

// IsFormulaFailure reports whether err is a formula evaluation failure.
func IsFormulaFailure(err error) bool {
	var fe *FormulaError
	return errors.As(err, &fe)
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
