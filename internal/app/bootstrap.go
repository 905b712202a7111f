package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"edge_grid/internal/calc"
	"edge_grid/internal/domain"
	"edge_grid/internal/engine"
	"edge_grid/internal/hub"
	"edge_grid/internal/infra"
	"edge_grid/internal/infra/storage"
	"edge_grid/internal/server"
	"edge_grid/internal/service"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	ConfigPath string

	Config   *infra.Config
	Logger   *slog.Logger
	Metrics  *infra.Metrics
	Storage  *storage.Storage
	Hub      *hub.Hub
	Grid     *service.GridService
	Valuator *engine.Valuator
	Server   *server.Server
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap(configPath string) *Bootstrap {
	return &Bootstrap{ConfigPath: configPath}
}

// Initialize performs core system initialization (config, logger, catalog, grid)
func (b *Bootstrap) Initialize() error {
	slog.Info("🚀 Bootstrapping edge grid...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(b.ConfigPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	b.Logger = infra.NewLogger(cfg)
	slog.SetDefault(b.Logger)
	b.Metrics = infra.GlobalMetrics

	// 3. Initialize Storage (optional)
	var catalog domain.Catalog
	if cfg.Storage.Enabled {
		store, err := storage.NewStorage(cfg.Storage.Path)
		if err != nil {
			return err
		}
		b.Storage = store
		catalog = store
		b.Logger.Info("✅ Catalog initialized", slog.String("path", cfg.Storage.Path))
	}

	// 4. Grid and broadcaster
	b.Hub = hub.New(b.Logger, b.Metrics)
	b.Grid = service.NewGridService(b.Hub, service.Options{
		Initial: calc.InitialValues{Edge: cfg.Engine.InitialEdge, Qty: cfg.Engine.InitialQty},
		Catalog: catalog,
		Logger:  b.Logger,
		Metrics: b.Metrics,
	})
	if err := b.Grid.Load(cfg.SeedRecords()); err != nil {
		return fmt.Errorf("load seed symbols: %w", err)
	}
	if err := b.Grid.Restore(); err != nil {
		// A damaged catalog should not keep the seeds from serving.
		b.Logger.Warn("catalog restore incomplete", slog.Any("error", err))
	}
	b.Logger.Info("✅ Grid ready", slog.Int("symbols", len(b.Grid.Symbols())))

	// 5. Engine and transport
	b.Valuator = engine.NewValuator(b.Grid, cfg.TickInterval(), b.Logger)
	b.Valuator.SetDumpFile(cfg.Engine.DumpFile)
	b.Server = server.NewServer(b.Grid, b.Hub, server.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		SendBuffer:     cfg.Server.SendBuffer,
		ReadLimit:      cfg.Server.ReadLimit,
		Logger:         b.Logger,
		Metrics:        b.Metrics,
	})

	return nil
}

// Run starts the tick loop and the server and blocks until ctx is done or the
// server fails.
func (b *Bootstrap) Run(ctx context.Context) error {
	go b.Valuator.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- b.Server.Start(b.Config.Server.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.Server.Shutdown(shutdownCtx)
}

// Close writes out pending catalog updates and releases the catalog.
func (b *Bootstrap) Close() {
	if b.Grid != nil {
		b.Grid.Close()
	}
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			b.Logger.Warn("failed to close catalog", slog.Any("error", err))
		}
	}
}
