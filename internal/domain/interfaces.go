package domain

// Catalog persists symbol definitions and ordering preferences across restarts.
// The grid writes to it from a single goroutine, never under its state lock.
type Catalog interface {
	SaveSymbol(rec *SymbolRecord) error
	LoadSymbols() ([]SymbolRecord, error)
	SaveOrder(pref *OrderPreference) error
	LoadOrders(kind string) (map[string][]string, error)
}
