package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"edge_grid/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Storage is the sqlite-backed symbol catalog.
type Storage struct {
	db *gorm.DB
}

var _ domain.Catalog = (*Storage)(nil)

// NewStorage opens (or creates) the SQLite catalog at dbPath.
func NewStorage(dbPath string) (*Storage, error) {
	// Ensure directory exists
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return newStorage(db)
}

func newStorage(db *gorm.DB) (*Storage, error) {
	// Auto Migration
	if err := db.AutoMigrate(&domain.SymbolRecord{}, &domain.OrderPreference{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close releases the underlying connection.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Symbol Operations
// ======================================================================================

// SaveSymbol creates or replaces a symbol definition. The original creation
// time is kept so LoadSymbols preserves creation order.
func (s *Storage) SaveSymbol(rec *domain.SymbolRecord) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{"description", "formulas", "depends_on", "formula_deps", "updated_at"}),
	}).Create(rec).Error
}

// LoadSymbols returns every stored symbol, oldest first.
func (s *Storage) LoadSymbols() ([]domain.SymbolRecord, error) {
	var recs []domain.SymbolRecord
	err := s.db.Order("created_at, symbol").Find(&recs).Error
	return recs, err
}

// ======================================================================================
// Ordering Operations
// ======================================================================================

// SaveOrder creates or replaces one user's ordering of the given kind.
func (s *Storage) SaveOrder(pref *domain.OrderPreference) error {
	return s.db.Save(pref).Error
}

// LoadOrders loads every user's ordering of the given kind keyed by user id.
func (s *Storage) LoadOrders(kind string) (map[string][]string, error) {
	var prefs []domain.OrderPreference
	if err := s.db.Where("kind = ?", kind).Find(&prefs).Error; err != nil {
		return nil, err
	}

	result := make(map[string][]string, len(prefs))
	for _, p := range prefs {
		result[p.UserID] = p.Order
	}
	return result, nil
}
