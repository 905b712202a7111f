// Package server exposes the grid over HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"edge_grid/internal/domain"
	"edge_grid/internal/formula"
	"edge_grid/internal/hub"
	"edge_grid/internal/infra"
	"edge_grid/internal/service"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// Options configures the HTTP and WebSocket adapters.
type Options struct {
	AllowedOrigins []string
	SendBuffer     int
	ReadLimit      int64
	Logger         *slog.Logger
	Metrics        *infra.Metrics
}

// Server handles REST API and WebSocket connections
type Server struct {
	grid    *service.GridService
	hub     *hub.Hub
	router  *mux.Router
	opts    Options
	logger  *slog.Logger
	metrics *infra.Metrics

	srvMu      sync.Mutex
	httpServer *http.Server
}

// NewServer creates a new API server
func NewServer(grid *service.GridService, h *hub.Hub, opts Options) *Server {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 64 * 1024
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	s := &Server{
		grid:    grid,
		hub:     h,
		router:  mux.NewRouter(),
		opts:    opts,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = infra.GlobalMetrics
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Grid endpoints
	s.router.HandleFunc("/cells", s.handleGetCells).Methods("GET")
	s.router.HandleFunc("/cells/{symbol}/{cell_id}", s.handleUpdateCell).Methods("POST")

	// Symbol endpoints
	s.router.HandleFunc("/symbols", s.handleGetSymbols).Methods("GET")
	s.router.HandleFunc("/symbols", s.handleAddSymbol).Methods("POST")
	s.router.HandleFunc("/symbols/{symbol}", s.handleGetSymbol).Methods("GET")
	s.router.HandleFunc("/symbols/{symbol}/formulas/{field}", s.handleSetFormula).Methods("PUT")
	s.router.HandleFunc("/symbols/{symbol}/dependencies", s.handleAddDependency).Methods("POST")
	s.router.HandleFunc("/symbols/{symbol}/dependencies/{other}", s.handleRemoveDependency).Methods("DELETE")

	// Ordering preferences
	s.router.HandleFunc("/column-order", s.handleGetColumnOrder).Methods("GET")
	s.router.HandleFunc("/column-order", s.handleSetColumnOrder).Methods("POST")
	s.router.HandleFunc("/symbol-order", s.handleGetSymbolOrder).Methods("GET")
	s.router.HandleFunc("/symbol-order", s.handleSetSymbolOrder).Methods("POST")

	// Master toggles
	s.router.HandleFunc("/master-state", s.handleGetMasterState).Methods("GET")
	s.router.HandleFunc("/master-state", s.handleSetMasterState).Methods("POST")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
}

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(s.router)
}

// Start serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.srvMu.Lock()
	s.httpServer = srv
	s.srvMu.Unlock()

	s.logger.Info("server starting", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for handlers to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.srvMu.Lock()
	srv := s.httpServer
	s.srvMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetCells(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.grid.Snapshot())
}

func (s *Server) handleUpdateCell(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req CellUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.grid.UpdateCell(vars["symbol"], vars["cell_id"], domain.CellValue(req.Value), req.UserID); err != nil {
		respondJSON(w, StatusResponse{Status: "error", Message: "Cell not found"})
		return
	}
	respondJSON(w, StatusResponse{Status: "success"})
}

func (s *Server) handleGetSymbols(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.grid.Symbols())
}

func (s *Server) handleAddSymbol(w http.ResponseWriter, r *http.Request) {
	var req NewSymbolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.grid.AddSymbol(req.Symbol, req.Description); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, StatusResponse{Status: "success", Symbol: req.Symbol})
}

func (s *Server) handleGetSymbol(w http.ResponseWriter, r *http.Request) {
	detail, err := s.grid.Symbol(mux.Vars(r)["symbol"])
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, detail)
}

func (s *Server) handleSetFormula(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	field, err := domain.ParseField(vars["field"])
	if err != nil {
		respondDomainError(w, err)
		return
	}
	var req FormulaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.grid.SetFormula(vars["symbol"], field, req.Formula); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, StatusResponse{Status: "success", Symbol: vars["symbol"]})
}

func (s *Server) handleAddDependency(w http.ResponseWriter, r *http.Request) {
	var req DependencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	added, err := s.grid.AddDependency(mux.Vars(r)["symbol"], req.DependsOn)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, DependencyResponse{Status: "success", Changed: added})
}

func (s *Server) handleRemoveDependency(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	removed, err := s.grid.RemoveDependency(vars["symbol"], vars["other"])
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, DependencyResponse{Status: "success", Changed: removed})
}

func (s *Server) handleGetColumnOrder(w http.ResponseWriter, r *http.Request) {
	respondOrders(w, r, s.grid.ColumnOrders())
}

func (s *Server) handleSetColumnOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.grid.SetColumnOrder(req.UserID, req.Order)
	respondJSON(w, StatusResponse{Status: "success"})
}

func (s *Server) handleGetSymbolOrder(w http.ResponseWriter, r *http.Request) {
	respondOrders(w, r, s.grid.SymbolOrders())
}

func (s *Server) handleSetSymbolOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.grid.SetSymbolOrder(req.UserID, req.Order)
	respondJSON(w, StatusResponse{Status: "success"})
}

func (s *Server) handleGetMasterState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.grid.MasterState())
}

func (s *Server) handleSetMasterState(w http.ResponseWriter, r *http.Request) {
	var req MasterStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	maker, taker, err := parseMasterState(req.MasterMaker, req.MasterTaker)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	s.grid.SetMasterState(maker, taker)
	respondJSON(w, StatusResponse{Status: "success"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, HealthResponse{
		Status:   "ok",
		Symbols:  len(s.grid.Symbols()),
		Sessions: s.hub.Count(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.metrics.Snapshot())
}

// parseMasterState validates the provided toggles; nil means "leave as is".
func parseMasterState(maker, taker *string) (*domain.Toggle, *domain.Toggle, error) {
	parse := func(v *string) (*domain.Toggle, error) {
		if v == nil {
			return nil, nil
		}
		t, err := domain.ParseToggle(*v)
		if err != nil {
			return nil, err
		}
		return &t, nil
	}

	m, err := parse(maker)
	if err != nil {
		return nil, nil, err
	}
	t, err := parse(taker)
	if err != nil {
		return nil, nil, err
	}
	return m, t, nil
}

func respondOrders(w http.ResponseWriter, r *http.Request, orders map[string][]string) {
	userID, ok := r.URL.Query()["user_id"]
	if !ok || len(userID) == 0 {
		respondJSON(w, orders)
		return
	}
	order := orders[userID[0]]
	if order == nil {
		order = []string{}
	}
	respondJSON(w, OrderRequest{UserID: userID[0], Order: order})
}

// respondDomainError maps the error taxonomy onto HTTP status codes.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrDuplicateSymbol):
		respondError(w, http.StatusBadRequest, "Symbol already exists")
	case errors.Is(err, domain.ErrSymbolNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidSymbol),
		errors.Is(err, domain.ErrUnknownField),
		errors.Is(err, domain.ErrInvalidToggle),
		errors.Is(err, domain.ErrFormulaField),
		isFormulaParseError(err):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func isFormulaParseError(err error) bool {
	for _, target := range []error{
		formula.ErrSyntax,
		formula.ErrTooComplex,
		formula.ErrUnknownIdentifier,
		formula.ErrUnknownFunction,
		formula.ErrArity,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Detail: detail})
}
