package domain

import "time"

// Override is one user's value for a field. Value is a float64 for numeric
// fields and a Toggle for maker/taker.
type Override struct {
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// CellState is the current value of a field plus its standing overrides.
type CellState struct {
	Value     any                 `json:"value"`
	Overrides map[string]Override `json:"overrides"`
}

// SymbolCells maps every field of one symbol to its state.
type SymbolCells map[Field]CellState

// CellData maps symbol id to its cells.
type CellData map[string]SymbolCells

// Snapshot is the full read model served by GET /cells.
type Snapshot struct {
	CellData     CellData            `json:"cell_data"`
	ColumnOrders map[string][]string `json:"column_orders"`
	SymbolOrders map[string][]string `json:"symbol_orders"`
}

// SymbolInfo is one entry of the symbol list. Description is null when absent.
type SymbolInfo struct {
	Symbol      string  `json:"symbol"`
	Description *string `json:"description"`
}

// SymbolDetail extends SymbolInfo with the valuation wiring of a symbol.
type SymbolDetail struct {
	SymbolInfo
	Formulas     map[Field]string `json:"formulas"`
	Dependencies []string         `json:"dependencies"`
	Dependents   []string         `json:"dependents"`
}

// MasterState holds the two process-wide toggles.
type MasterState struct {
	Maker Toggle `json:"master_maker"`
	Taker Toggle `json:"master_taker"`
}
