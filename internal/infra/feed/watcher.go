// Package feed is a reconnecting client for the grid's WebSocket stream.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"edge_grid/internal/infra"

	"github.com/gorilla/websocket"
)

const (
	defaultBaseDelay   = 1 * time.Second
	defaultMaxDelay    = 60 * time.Second
	defaultReadTimeout = 60 * time.Second
	maxRetries         = 10
)

// ErrNotConnected is returned by Send while no connection is up.
var ErrNotConnected = errors.New("feed: not connected")

// Handler receives every server message with its decoded type.
type Handler func(msgType string, payload []byte)

// Options tunes reconnection. Zero values use the defaults.
type Options struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	ReadTimeout time.Duration
	Logger      *slog.Logger
	// OnConnect runs after every successful (re)connection.
	OnConnect func()
}

// Watcher handles the WebSocket connection
type Watcher struct {
	url     string
	opts    Options
	handler Handler
	logger  *slog.Logger

	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewWatcher creates a new watcher for url.
func NewWatcher(url string, opts Options, handler Handler) *Watcher {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = defaultMaxDelay
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		url:     url,
		opts:    opts,
		handler: handler,
		logger:  logger,
	}
}

// Connect starts the WebSocket connection with automatic reconnection
func (w *Watcher) Connect(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.connectionLoop(ctx)

	return nil
}

// connectionLoop handles connection and reconnection with exponential backoff
func (w *Watcher) connectionLoop(ctx context.Context) {
	defer w.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("feed panic recovered", slog.Any("panic", r))
		}
	}()

	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("feed connection loop stopped")
			return
		default:
		}

		err := w.connect(ctx)
		if err != nil {
			w.logger.Warn("feed connection failed",
				slog.Any("error", err),
				slog.Int("retry", retryCount),
			)

			// Exponential backoff
			delay := infra.CalculateBackoff(retryCount, w.opts.BaseDelay, w.opts.MaxDelay)
			retryCount++
			if retryCount > maxRetries {
				w.logger.Error("feed max retries exceeded, resetting counter")
				retryCount = 0
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		// Connection successful, reset retry counter
		retryCount = 0
		if w.opts.OnConnect != nil {
			w.opts.OnConnect()
		}

		// Read messages until error
		w.readLoop(ctx)
	}
}

// connect establishes the WebSocket connection
func (w *Watcher) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.mu.Unlock()

	w.logger.Info("feed connected", slog.String("url", w.url))
	return nil
}

// Send writes v as JSON in a thread-safe manner.
func (w *Watcher) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.RLock()
	conn := w.conn
	w.mu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads messages from WebSocket
func (w *Watcher) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()

		if conn == nil {
			return
		}

		// Set read deadline
		conn.SetReadDeadline(time.Now().Add(w.opts.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.logger.Warn("feed read error", slog.Any("error", err))
			}
			w.closeConnection()
			return
		}

		w.handleMessage(message)
	}
}

// handleMessage decodes the message type and hands the payload on.
func (w *Watcher) handleMessage(message []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &env); err != nil {
		w.logger.Debug("feed message parse error", slog.Any("error", err))
		return
	}
	if w.handler != nil {
		w.handler(env.Type, message)
	}
}

// closeConnection safely closes the WebSocket connection
func (w *Watcher) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.connected = false
}

// Disconnect closes the WebSocket connection
func (w *Watcher) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
	w.logger.Info("feed disconnected")
}

// IsConnected returns connection status
func (w *Watcher) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}
