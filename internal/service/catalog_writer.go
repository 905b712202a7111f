package service

import (
	"log/slog"
	"sync"

	"edge_grid/internal/domain"
	"edge_grid/internal/infra"
)

// catalogWriter applies catalog writes on its own goroutine so a slow disk
// never holds the grid lock. Writes are keyed (one key per symbol or per
// user ordering); a newer write replaces a queued one with the same key, so
// only the latest definition reaches the catalog.
type catalogWriter struct {
	catalog domain.Catalog
	logger  *slog.Logger
	metrics *infra.Metrics

	mu      sync.Mutex
	idle    *sync.Cond
	keys    []string
	pending map[string]func() error
	busy    bool
	closed  bool

	wake    chan struct{}
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func newCatalogWriter(catalog domain.Catalog, logger *slog.Logger, metrics *infra.Metrics) *catalogWriter {
	w := &catalogWriter{
		catalog: catalog,
		logger:  logger,
		metrics: metrics,
		pending: make(map[string]func() error),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	w.idle = sync.NewCond(&w.mu)
	go w.run()
	return w
}

func (w *catalogWriter) saveSymbol(rec *domain.SymbolRecord) {
	w.enqueue("symbol:"+rec.Symbol, func() error {
		if err := w.catalog.SaveSymbol(rec); err != nil {
			w.logger.Warn("failed to persist symbol", slog.String("symbol", rec.Symbol), slog.Any("error", err))
			return err
		}
		return nil
	})
}

func (w *catalogWriter) saveOrder(pref *domain.OrderPreference) {
	w.enqueue("order:"+pref.Kind+":"+pref.UserID, func() error {
		if err := w.catalog.SaveOrder(pref); err != nil {
			w.logger.Warn("failed to persist order", slog.String("kind", pref.Kind), slog.String("user_id", pref.UserID), slog.Any("error", err))
			return err
		}
		return nil
	})
}

func (w *catalogWriter) enqueue(key string, write func() error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		if err := write(); err != nil {
			w.metrics.RecordPersistError()
		}
		return
	}
	if _, queued := w.pending[key]; !queued {
		w.keys = append(w.keys, key)
	}
	w.pending[key] = write
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *catalogWriter) run() {
	defer close(w.stopped)
	for {
		select {
		case <-w.wake:
			w.drain()
		case <-w.stop:
			w.drain()
			return
		}
	}
}

func (w *catalogWriter) drain() {
	for {
		w.mu.Lock()
		if len(w.keys) == 0 {
			w.busy = false
			w.idle.Broadcast()
			w.mu.Unlock()
			return
		}
		key := w.keys[0]
		w.keys = w.keys[1:]
		write := w.pending[key]
		delete(w.pending, key)
		w.busy = true
		w.mu.Unlock()

		if err := write(); err != nil {
			w.metrics.RecordPersistError()
		}
	}
}

// flush blocks until every queued write has been attempted.
func (w *catalogWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for len(w.keys) > 0 || w.busy {
		w.idle.Wait()
	}
}

// close writes whatever is still queued and stops the goroutine. Later
// writes go straight to the catalog.
func (w *catalogWriter) close() {
	w.once.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		close(w.stop)
	})
	<-w.stopped
}
