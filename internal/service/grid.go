// Package service holds GridService, the single owner of the valuation state.
// Every mutation and every snapshot read happens under one mutex, and
// broadcasts are queued before the lock is released, so observers see
// mutations in the order they were applied and never a half-computed tick.
// Catalog writes are handed to a background writer and never happen under
// that mutex.
package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math/rand/v2"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"edge_grid/internal/calc"
	"edge_grid/internal/domain"
	"edge_grid/internal/formula"
	"edge_grid/internal/hub"
	"edge_grid/internal/infra"
)

const maxSymbolLen = 32

// Broadcaster fans messages out to connected sessions. Implementations must
// not block; GridService calls them with its lock held.
type Broadcaster interface {
	Register(s hub.Session, initial any) error
	Unregister(id string) bool
	Broadcast(msg any) error
}

// Options configures a GridService. Zero values fall back to defaults.
type Options struct {
	Initial calc.InitialValues
	Rand    calc.Rand
	Now     func() time.Time
	Catalog domain.Catalog
	Logger  *slog.Logger
	Metrics *infra.Metrics
}

// GridService manages every symbol calculator, the dependency graph, the
// ordering preferences and the master toggles.
type GridService struct {
	mu sync.Mutex

	calcs   map[string]*calc.Calculator
	symbols []string // insertion order
	graph   *calc.Graph
	implied map[string]map[string]struct{} // edges that exist only for a formula reference

	columnOrders map[string][]string
	symbolOrders map[string][]string
	master       domain.MasterState
	lastTick     time.Time

	init    calc.InitialValues
	rng     calc.Rand
	now     func() time.Time
	bus     Broadcaster
	catalog domain.Catalog
	writer  *catalogWriter
	logger  *slog.Logger
	metrics *infra.Metrics
}

// NewGridService creates an empty grid publishing through bus.
func NewGridService(bus Broadcaster, opts Options) *GridService {
	s := &GridService{
		calcs:        make(map[string]*calc.Calculator),
		graph:        calc.NewGraph(),
		implied:      make(map[string]map[string]struct{}),
		columnOrders: make(map[string][]string),
		symbolOrders: make(map[string][]string),
		master:       domain.MasterState{Maker: domain.ToggleOff, Taker: domain.ToggleOff},
		init:         opts.Initial,
		rng:          opts.Rand,
		now:          opts.Now,
		bus:          bus,
		catalog:      opts.Catalog,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = infra.GlobalMetrics
	}
	if s.catalog != nil {
		s.writer = newCatalogWriter(s.catalog, s.logger, s.metrics)
	}
	s.lastTick = s.now()
	return s
}

// Flush blocks until every catalog write queued so far has been attempted.
func (s *GridService) Flush() {
	if s.writer != nil {
		s.writer.flush()
	}
}

// Close drains pending catalog writes. Call it before closing the catalog.
func (s *GridService) Close() {
	if s.writer != nil {
		s.writer.close()
	}
}

// Load installs symbol definitions without broadcasting or persisting them.
// Existing symbols keep their values; their formulas and edges are merged.
// Every definition is applied even if some fail; the failures are joined.
func (s *GridService) Load(recs []domain.SymbolRecord) error {
	return s.load(recs, false)
}

// Restore reloads symbols and ordering preferences from the catalog, if any.
// A catalogued symbol's formulas and outgoing edges replace whatever Load
// installed for it, so cleared formulas and removed edges stay removed.
func (s *GridService) Restore() error {
	if s.catalog == nil {
		return nil
	}
	recs, err := s.catalog.LoadSymbols()
	if err != nil {
		return fmt.Errorf("load symbols: %w", err)
	}
	columns, err := s.catalog.LoadOrders(domain.OrderColumns)
	if err != nil {
		return fmt.Errorf("load column orders: %w", err)
	}
	rows, err := s.catalog.LoadOrders(domain.OrderSymbols)
	if err != nil {
		return fmt.Errorf("load symbol orders: %w", err)
	}

	s.mu.Lock()
	maps.Copy(s.columnOrders, columns)
	maps.Copy(s.symbolOrders, rows)
	s.mu.Unlock()

	s.logger.Info("catalog restored", slog.Int("symbols", len(recs)), slog.Int("column_orders", len(columns)), slog.Int("symbol_orders", len(rows)))
	return s.load(recs, true)
}

func (s *GridService) load(recs []domain.SymbolRecord, replace bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, rec := range recs {
		if !validSymbol(rec.Symbol) {
			errs = append(errs, fmt.Errorf("%w: %q", domain.ErrInvalidSymbol, rec.Symbol))
			continue
		}
		c, ok := s.calcs[rec.Symbol]
		if !ok {
			c = s.addLocked(rec.Symbol, rec.Description)
		}
		if replace {
			s.resetDefinitionLocked(c)
		}

		// explicit edges first, so a formula naming the same symbol does not
		// mark the edge as formula-only
		for _, dep := range rec.DependsOn {
			if dep != rec.Symbol {
				s.graph.AddEdge(rec.Symbol, dep)
			}
		}
		for name, src := range rec.Formulas {
			f, err := domain.ParseField(name)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", rec.Symbol, err))
				continue
			}
			if err := s.installFormulaLocked(c, f, src); err != nil {
				errs = append(errs, fmt.Errorf("%s.%s: %w", rec.Symbol, f, err))
			}
		}

		if replace {
			// edges are exactly what was stored; only the formula-only
			// marks need restoring
			for _, dep := range rec.FormulaDeps {
				if s.graph.HasEdge(rec.Symbol, dep) {
					s.markImpliedLocked(rec.Symbol, dep)
				}
			}
			continue
		}
		s.syncFormulaEdgesLocked(c)
	}
	return errors.Join(errs...)
}

// resetDefinitionLocked drops a symbol's formulas and outgoing edges.
func (s *GridService) resetDefinitionLocked(c *calc.Calculator) {
	for _, f := range domain.NumericFields {
		c.SetFormula(f, nil)
	}
	for _, dep := range s.graph.Dependencies(c.Symbol()) {
		s.graph.RemoveEdge(c.Symbol(), dep)
	}
	delete(s.implied, c.Symbol())
}

// AddSymbol creates a symbol with no formulas and announces it.
func (s *GridService) AddSymbol(symbol string, description *string) error {
	symbol = strings.TrimSpace(symbol)
	if !validSymbol(symbol) {
		return fmt.Errorf("%w: %q", domain.ErrInvalidSymbol, symbol)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.calcs[symbol]; exists {
		return domain.ErrDuplicateSymbol
	}
	c := s.addLocked(symbol, description)
	s.persistSymbolLocked(c)
	s.logger.Info("symbol added", slog.String("symbol", symbol))
	s.broadcastLocked(domain.SymbolAddedMessage{
		Type:        domain.MsgSymbolAdded,
		Symbol:      symbol,
		Description: description,
	})
	return nil
}

func (s *GridService) addLocked(symbol string, description *string) *calc.Calculator {
	c := calc.New(symbol, description, s.init)
	s.calcs[symbol] = c
	s.symbols = append(s.symbols, symbol)
	return c
}

// Symbols lists every symbol in creation order.
func (s *GridService) Symbols() []domain.SymbolInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.SymbolInfo, 0, len(s.symbols))
	for _, id := range s.symbols {
		out = append(out, domain.SymbolInfo{Symbol: id, Description: s.calcs[id].Description()})
	}
	return out
}

// Symbol returns a symbol's formulas and dependency edges.
func (s *GridService) Symbol(symbol string) (domain.SymbolDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.calcs[symbol]
	if !ok {
		return domain.SymbolDetail{}, domain.ErrSymbolNotFound
	}
	return domain.SymbolDetail{
		SymbolInfo:   domain.SymbolInfo{Symbol: symbol, Description: c.Description()},
		Formulas:     c.Formulas(),
		Dependencies: s.graph.Dependencies(symbol),
		Dependents:   s.graph.Dependents(symbol),
	}, nil
}

// UpdateCell applies one user's override to a cell and broadcasts the new
// cell data. An empty or malformed raw value withdraws the user's override.
// Unknown targets return ErrUnknownSymbolOrField and broadcast nothing.
func (s *GridService) UpdateCell(symbol, cellID, raw, userID string) error {
	f, err := domain.ParseField(cellID)
	if err != nil {
		return domain.ErrUnknownSymbolOrField
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.calcs[symbol]
	if !ok {
		return domain.ErrUnknownSymbolOrField
	}
	now := s.now()
	if err := c.SetOverride(f, userID, raw, now, s.evalContextLocked(now)); err != nil {
		s.recordFailuresLocked([]error{err})
	}
	s.metrics.RecordOverride()
	s.broadcastLocked(domain.CellUpdateMessage{Type: domain.MsgCellUpdate, CellData: s.cellDataLocked()})
	return nil
}

// Snapshot returns all cell data and ordering preferences.
func (s *GridService) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return domain.Snapshot{
		CellData:     s.cellDataLocked(),
		ColumnOrders: cloneOrders(s.columnOrders),
		SymbolOrders: cloneOrders(s.symbolOrders),
	}
}

// SetColumnOrder stores a user's column ordering and broadcasts it.
func (s *GridService) SetColumnOrder(userID string, order []string) {
	s.setOrder(domain.OrderColumns, userID, order)
}

// SetSymbolOrder stores a user's row ordering and broadcasts it.
func (s *GridService) SetSymbolOrder(userID string, order []string) {
	s.setOrder(domain.OrderSymbols, userID, order)
}

func (s *GridService) setOrder(kind, userID string, order []string) {
	if order == nil {
		order = []string{}
	}
	order = slices.Clone(order)

	s.mu.Lock()
	defer s.mu.Unlock()

	msgType := domain.MsgColumnOrderUpdate
	orders := s.columnOrders
	if kind == domain.OrderSymbols {
		msgType = domain.MsgSymbolOrderUpdate
		orders = s.symbolOrders
	}
	orders[userID] = order

	if s.writer != nil {
		s.writer.saveOrder(&domain.OrderPreference{Kind: kind, UserID: userID, Order: slices.Clone(order)})
	}
	s.broadcastLocked(domain.OrderUpdateMessage{Type: msgType, UserID: userID, Order: order})
}

// ColumnOrders returns every user's column ordering.
func (s *GridService) ColumnOrders() map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneOrders(s.columnOrders)
}

// SymbolOrders returns every user's row ordering.
func (s *GridService) SymbolOrders() map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneOrders(s.symbolOrders)
}

// MasterState returns the process-wide toggles.
func (s *GridService) MasterState() domain.MasterState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.master
}

// SetMasterState changes the provided toggles only and broadcasts the result.
func (s *GridService) SetMasterState(maker, taker *domain.Toggle) domain.MasterState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if maker != nil {
		s.master.Maker = *maker
	}
	if taker != nil {
		s.master.Taker = *taker
	}
	s.broadcastLocked(domain.MasterStateMessage{Type: domain.MsgMasterStateUpdate, MasterState: s.master})
	return s.master
}

// SetFormula declares the formula for a numeric field. An empty source clears
// it. Symbols the formula references become dependencies of symbol.
func (s *GridService) SetFormula(symbol string, f domain.Field, src string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.calcs[symbol]
	if !ok {
		return domain.ErrSymbolNotFound
	}
	if err := s.setFormulaLocked(c, f, src); err != nil {
		return err
	}
	s.persistSymbolLocked(c)
	return nil
}

func (s *GridService) setFormulaLocked(c *calc.Calculator, f domain.Field, src string) error {
	if err := s.installFormulaLocked(c, f, src); err != nil {
		return err
	}
	s.syncFormulaEdgesLocked(c)
	return nil
}

// installFormulaLocked parses and sets (or clears) a formula without touching
// the dependency graph.
func (s *GridService) installFormulaLocked(c *calc.Calculator, f domain.Field, src string) error {
	if !f.IsNumeric() {
		return domain.ErrFormulaField
	}
	if strings.TrimSpace(src) == "" {
		return c.SetFormula(f, nil)
	}
	p, err := formula.Parse(src)
	if err != nil {
		return err
	}
	return c.SetFormula(f, p)
}

// syncFormulaEdgesLocked adds an edge for every symbol c's formulas reference
// and removes formula-only edges that no formula references any more.
// Edges added explicitly are never removed here.
func (s *GridService) syncFormulaEdgesLocked(c *calc.Calculator) {
	id := c.Symbol()
	refs := make(map[string]struct{})
	for _, f := range domain.NumericFields {
		p := c.Formula(f)
		if p == nil {
			continue
		}
		for _, ref := range p.References() {
			if ref != id {
				refs[ref] = struct{}{}
			}
		}
	}

	for ref := range refs {
		if s.graph.AddEdge(id, ref) {
			s.markImpliedLocked(id, ref)
		}
	}
	for dep := range s.implied[id] {
		if _, ok := refs[dep]; !ok {
			s.graph.RemoveEdge(id, dep)
			s.unmarkImpliedLocked(id, dep)
		}
	}
}

func (s *GridService) markImpliedLocked(from, to string) {
	set, ok := s.implied[from]
	if !ok {
		set = make(map[string]struct{})
		s.implied[from] = set
	}
	set[to] = struct{}{}
}

// unmarkImpliedLocked reports whether the edge was formula-only.
func (s *GridService) unmarkImpliedLocked(from, to string) bool {
	set := s.implied[from]
	if _, ok := set[to]; !ok {
		return false
	}
	delete(set, to)
	if len(set) == 0 {
		delete(s.implied, from)
	}
	return true
}

// AddDependency records that symbol depends on other. It reports whether the
// edge is new.
func (s *GridService) AddDependency(symbol, other string) (bool, error) {
	if symbol == other {
		return false, fmt.Errorf("%w: %s cannot depend on itself", domain.ErrInvalidSymbol, symbol)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.calcs[symbol]
	if !ok {
		return false, domain.ErrSymbolNotFound
	}
	if _, ok := s.calcs[other]; !ok {
		return false, domain.ErrSymbolNotFound
	}
	added := s.graph.AddEdge(symbol, other)
	// an edge a formula already implied becomes explicit and outlives it
	promoted := s.unmarkImpliedLocked(symbol, other)
	if added || promoted {
		s.persistSymbolLocked(c)
	}
	return added, nil
}

// RemoveDependency drops the edge if present and reports whether it existed.
func (s *GridService) RemoveDependency(symbol, other string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.calcs[symbol]
	if !ok {
		return false, domain.ErrSymbolNotFound
	}
	removed := s.graph.RemoveEdge(symbol, other)
	s.unmarkImpliedLocked(symbol, other)
	if removed {
		s.persistSymbolLocked(c)
	}
	return removed, nil
}

// Tick recomputes every engine-controlled numeric field, dependencies first,
// and broadcasts the resulting cell data.
func (s *GridService) Tick(now time.Time) {
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ec := s.evalContextLocked(now)
	var failures []error
	for _, id := range s.graph.Order(s.symbols) {
		failures = append(failures, s.calcs[id].Update(ec)...)
	}
	s.lastTick = now
	s.recordFailuresLocked(failures)
	s.metrics.RecordTick(time.Since(start).Nanoseconds())

	s.broadcastLocked(domain.CellUpdateMessage{Type: domain.MsgCellUpdate, CellData: s.cellDataLocked()})
}

// Connect registers a session and sends it the initial snapshot atomically
// with respect to every other mutation.
func (s *GridService) Connect(sess hub.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.bus.Register(sess, domain.InitialDataMessage{
		Type:         domain.MsgInitialData,
		CellData:     s.cellDataLocked(),
		ColumnOrders: cloneOrders(s.columnOrders),
		SymbolOrders: cloneOrders(s.symbolOrders),
		MasterMaker:  s.master.Maker,
		MasterTaker:  s.master.Taker,
	})
}

// Disconnect deregisters a session; it is a no-op for unknown ids.
func (s *GridService) Disconnect(id string) bool {
	return s.bus.Unregister(id)
}

// DumpState writes the entire grid state to a file (for post-mortem).
func (s *GridService) DumpState(filename string) error {
	s.mu.Lock()
	data := struct {
		LastTick time.Time           `json:"last_tick"`
		Master   domain.MasterState  `json:"master_state"`
		Snapshot domain.Snapshot     `json:"snapshot"`
		Graph    map[string][]string `json:"dependencies"`
	}{
		LastTick: s.lastTick,
		Master:   s.master,
		Snapshot: domain.Snapshot{
			CellData:     s.cellDataLocked(),
			ColumnOrders: cloneOrders(s.columnOrders),
			SymbolOrders: cloneOrders(s.symbolOrders),
		},
		Graph: make(map[string][]string, len(s.symbols)),
	}
	for _, id := range s.symbols {
		if deps := s.graph.Dependencies(id); len(deps) > 0 {
			data.Graph[id] = deps
		}
	}
	s.mu.Unlock()

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return os.WriteFile(filename, b, 0644)
}

func (s *GridService) evalContextLocked(now time.Time) calc.EvalContext {
	values := make(map[string]map[string]float64, len(s.symbols))
	for _, id := range s.symbols {
		values[id] = s.calcs[id].NumericValues()
	}
	return calc.EvalContext{
		TimeDiff: now.Sub(s.lastTick).Seconds(),
		Values:   values,
		Rand:     s.rng,
	}
}

func (s *GridService) cellDataLocked() domain.CellData {
	data := make(domain.CellData, len(s.symbols))
	for _, id := range s.symbols {
		data[id] = s.calcs[id].Cells()
	}
	return data
}

func (s *GridService) broadcastLocked(msg any) {
	if err := s.bus.Broadcast(msg); err != nil {
		s.logger.Error("broadcast failed", slog.Any("error", err))
	}
}

func (s *GridService) recordFailuresLocked(errs []error) {
	s.metrics.RecordFormulaFailure(len(errs))
	for _, err := range errs {
		var fe *domain.FormulaError
		if errors.As(err, &fe) {
			s.logger.Debug("formula failed, using fallback",
				slog.String("symbol", fe.Symbol),
				slog.String("field", string(fe.Field)),
				slog.Any("error", fe.Err))
		}
	}
}

// persistSymbolLocked queues the symbol's current definition for the catalog.
func (s *GridService) persistSymbolLocked(c *calc.Calculator) {
	if s.writer == nil {
		return
	}
	formulas := make(map[string]string)
	for f, src := range c.Formulas() {
		formulas[string(f)] = src
	}
	var formulaDeps []string
	for dep := range s.implied[c.Symbol()] {
		formulaDeps = append(formulaDeps, dep)
	}
	slices.Sort(formulaDeps)

	s.writer.saveSymbol(&domain.SymbolRecord{
		Symbol:      c.Symbol(),
		Description: c.Description(),
		Formulas:    formulas,
		DependsOn:   s.graph.Dependencies(c.Symbol()),
		FormulaDeps: formulaDeps,
	})
}

func cloneOrders(m map[string][]string) map[string][]string {
	out := make(map[string][]string, len(m))
	for k, v := range m {
		out[k] = slices.Clone(v)
	}
	return out
}

// validSymbol accepts 1-32 characters of letters, digits, '_' and '-'.
func validSymbol(symbol string) bool {
	if symbol == "" || len(symbol) > maxSymbolLen {
		return false
	}
	for _, r := range symbol {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}
