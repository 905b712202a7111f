package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	ticks            atomic.Uint64
	formulaFailures  atomic.Uint64
	overridesApplied atomic.Uint64
	broadcasts       atomic.Uint64
	messagesSent     atomic.Uint64
	sessionsDropped  atomic.Uint64
	persistErrors    atomic.Uint64

	// Tick latency tracking
	tickSumNs  atomic.Int64
	tickCount  atomic.Uint64
	lastTickNs atomic.Int64

	// Gauges
	activeSessions atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordTick records one completed tick with its compute latency.
func (m *Metrics) RecordTick(latencyNs int64) {
	m.ticks.Add(1)
	m.tickSumNs.Add(latencyNs)
	m.tickCount.Add(1)
	m.lastTickNs.Store(latencyNs)
}

// RecordFormulaFailure records n formula evaluations that fell back.
func (m *Metrics) RecordFormulaFailure(n int) {
	if n > 0 {
		m.formulaFailures.Add(uint64(n))
	}
}

// RecordOverride records an applied override write or removal.
func (m *Metrics) RecordOverride() {
	m.overridesApplied.Add(1)
}

// RecordBroadcast records one fan-out reaching delivered sessions.
func (m *Metrics) RecordBroadcast(delivered int) {
	m.broadcasts.Add(1)
	m.messagesSent.Add(uint64(delivered))
}

// RecordDroppedSession records a session disconnected for lagging.
func (m *Metrics) RecordDroppedSession() {
	m.sessionsDropped.Add(1)
}

// RecordPersistError records a failed catalog write.
func (m *Metrics) RecordPersistError() {
	m.persistErrors.Add(1)
}

// SetActiveSessions sets the current session count.
func (m *Metrics) SetActiveSessions(count int32) {
	m.activeSessions.Store(count)
}

// IncrementSessions increments active sessions by 1.
func (m *Metrics) IncrementSessions() {
	m.activeSessions.Add(1)
}

// DecrementSessions decrements active sessions by 1.
func (m *Metrics) DecrementSessions() {
	m.activeSessions.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	Ticks            uint64    `json:"ticks"`
	FormulaFailures  uint64    `json:"formula_failures"`
	OverridesApplied uint64    `json:"overrides_applied"`
	Broadcasts       uint64    `json:"broadcasts"`
	MessagesSent     uint64    `json:"messages_sent"`
	SessionsDropped  uint64    `json:"sessions_dropped"`
	PersistErrors    uint64    `json:"persist_errors"`
	AvgTickNs        int64     `json:"avg_tick_ns"`
	LastTickNs       int64     `json:"last_tick_ns"`
	ActiveSessions   int32     `json:"active_sessions"`
	Timestamp        time.Time `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avg int64
	count := m.tickCount.Load()
	if count > 0 {
		avg = m.tickSumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		Ticks:            m.ticks.Load(),
		FormulaFailures:  m.formulaFailures.Load(),
		OverridesApplied: m.overridesApplied.Load(),
		Broadcasts:       m.broadcasts.Load(),
		MessagesSent:     m.messagesSent.Load(),
		SessionsDropped:  m.sessionsDropped.Load(),
		PersistErrors:    m.persistErrors.Load(),
		AvgTickNs:        avg,
		LastTickNs:       m.lastTickNs.Load(),
		ActiveSessions:   m.activeSessions.Load(),
		Timestamp:        time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.ticks.Store(0)
	m.formulaFailures.Store(0)
	m.overridesApplied.Store(0)
	m.broadcasts.Store(0)
	m.messagesSent.Store(0)
	m.sessionsDropped.Store(0)
	m.persistErrors.Store(0)
	m.tickSumNs.Store(0)
	m.tickCount.Store(0)
	m.lastTickNs.Store(0)
	m.activeSessions.Store(0)
}
