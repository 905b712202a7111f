// Package hub is the session registry and broadcaster. Every message is
// marshalled once and queued on each session without blocking; a session
// whose queue is full is dropped so one slow reader never stalls the rest.
package hub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"edge_grid/internal/infra"
)

// Session is one live client connection as seen by the hub.
type Session interface {
	ID() string
	// Enqueue queues an encoded message without blocking and reports
	// whether it was accepted.
	Enqueue(msg []byte) bool
	// Close stops the session's writer. It must be safe to call more than once.
	Close()
}

// Hub tracks registered sessions.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]Session

	logger  *slog.Logger
	metrics *infra.Metrics
}

// New creates an empty hub. A nil logger or metrics falls back to the defaults.
func New(logger *slog.Logger, metrics *infra.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	return &Hub{
		sessions: make(map[string]Session),
		logger:   logger,
		metrics:  metrics,
	}
}

// Register adds s and queues initial as its first message. No broadcast can
// reach s before initial does.
func (h *Hub) Register(s Session, initial any) error {
	b, err := json.Marshal(initial)
	if err != nil {
		return fmt.Errorf("marshal initial message: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.sessions[s.ID()]; exists {
		return fmt.Errorf("session %s already registered", s.ID())
	}
	if !s.Enqueue(b) {
		s.Close()
		return fmt.Errorf("session %s rejected initial message", s.ID())
	}
	h.sessions[s.ID()] = s
	h.metrics.IncrementSessions()
	h.logger.Info("session connected", slog.String("session", s.ID()), slog.Int("total", len(h.sessions)))
	return nil
}

// Unregister removes and closes the session. It reports whether the session
// was registered; a second call is a no-op.
func (h *Hub) Unregister(id string) bool {
	h.mu.Lock()
	s, ok := h.sessions[id]
	if ok {
		delete(h.sessions, id)
		h.metrics.DecrementSessions()
	}
	total := len(h.sessions)
	h.mu.Unlock()

	if !ok {
		return false
	}
	s.Close()
	h.logger.Info("session disconnected", slog.String("session", id), slog.Int("total", total))
	return true
}

// Broadcast sends msg to every registered session. Only a marshal failure is
// returned; per-session failures drop that session and are logged.
func (h *Hub) Broadcast(msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal broadcast: %w", err)
	}

	var lagging []string
	delivered := 0

	h.mu.RLock()
	for id, s := range h.sessions {
		if s.Enqueue(b) {
			delivered++
		} else {
			lagging = append(lagging, id)
		}
	}
	h.mu.RUnlock()

	h.metrics.RecordBroadcast(delivered)

	for _, id := range lagging {
		if h.Unregister(id) {
			h.metrics.RecordDroppedSession()
			h.logger.Warn("dropped lagging session", slog.String("session", id))
		}
	}
	return nil
}

// Count returns the number of registered sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
