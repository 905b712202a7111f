package domain

import (
	"time"
)

// SymbolRecord is the persisted definition of a symbol: identity, formulas and
// dependency edges. Field values and overrides are never stored.
//
// DependsOn holds every outgoing edge. FormulaDeps is the subset that exists
// only because a formula references it; those edges go away with the formula.
type SymbolRecord struct {
	Symbol      string            `gorm:"primaryKey" json:"symbol"`
	Description *string           `json:"description"`
	Formulas    map[string]string `gorm:"serializer:json" json:"formulas"`
	DependsOn   []string          `gorm:"serializer:json" json:"depends_on"`
	FormulaDeps []string          `gorm:"serializer:json" json:"formula_deps,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Ordering preference kinds.
const (
	OrderColumns = "column"
	OrderSymbols = "symbol"
)

// OrderPreference is one user's column or row ordering (opaque string sequence).
type OrderPreference struct {
	Kind      string    `gorm:"primaryKey" json:"kind"`
	UserID    string    `gorm:"primaryKey" json:"user_id"`
	Order     []string  `gorm:"serializer:json" json:"order"`
	UpdatedAt time.Time `json:"updated_at"`
}
