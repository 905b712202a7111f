package server

import "encoding/json"

// StatusResponse is the generic acknowledgement body.
type StatusResponse struct {
	Status  string `json:"status"`
	Symbol  string `json:"symbol,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// NewSymbolRequest is the body of POST /symbols.
type NewSymbolRequest struct {
	Symbol      string  `json:"symbol"`
	Description *string `json:"description"`
}

// CellUpdateRequest is the body of POST /cells/{symbol}/{cell_id}. A null or
// absent value withdraws the user's override.
type CellUpdateRequest struct {
	UserID string          `json:"user_id"`
	Value  json.RawMessage `json:"value"`
}

// OrderRequest is the body of POST /column-order and /symbol-order, and the
// response of a per-user GET.
type OrderRequest struct {
	UserID string   `json:"user_id"`
	Order  []string `json:"order"`
}

// MasterStateRequest sets either or both master toggles.
type MasterStateRequest struct {
	MasterMaker *string `json:"master_maker"`
	MasterTaker *string `json:"master_taker"`
}

// FormulaRequest is the body of PUT /symbols/{symbol}/formulas/{field}.
// An empty formula clears the declaration.
type FormulaRequest struct {
	Formula string `json:"formula"`
}

// DependencyRequest is the body of POST /symbols/{symbol}/dependencies.
type DependencyRequest struct {
	DependsOn string `json:"depends_on"`
}

// DependencyResponse reports whether an edge was added or removed.
type DependencyResponse struct {
	Status  string `json:"status"`
	Changed bool   `json:"changed"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Symbols  int    `json:"symbols"`
	Sessions int    `json:"sessions"`
}
