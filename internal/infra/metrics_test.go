package infra

import (
	"testing"
)

func TestMetrics_RecordTick(t *testing.T) {
	m := &Metrics{}

	m.RecordTick(1000)
	m.RecordTick(2000)
	m.RecordTick(3000)

	snap := m.Snapshot()

	if snap.Ticks != 3 {
		t.Errorf("Expected 3 ticks, got %d", snap.Ticks)
	}

	// Average latency: (1000 + 2000 + 3000) / 3 = 2000
	if snap.AvgTickNs != 2000 {
		t.Errorf("Expected avg tick 2000, got %d", snap.AvgTickNs)
	}
	if snap.LastTickNs != 3000 {
		t.Errorf("Expected last tick 3000, got %d", snap.LastTickNs)
	}
}

func TestMetrics_Sessions(t *testing.T) {
	m := &Metrics{}

	m.IncrementSessions()
	m.IncrementSessions()
	m.IncrementSessions()

	snap := m.Snapshot()
	if snap.ActiveSessions != 3 {
		t.Errorf("Expected 3 sessions, got %d", snap.ActiveSessions)
	}

	m.DecrementSessions()
	snap = m.Snapshot()
	if snap.ActiveSessions != 2 {
		t.Errorf("Expected 2 sessions, got %d", snap.ActiveSessions)
	}
}

func TestMetrics_Broadcasts(t *testing.T) {
	m := &Metrics{}

	m.RecordBroadcast(3)
	m.RecordBroadcast(0)
	m.RecordDroppedSession()
	m.RecordFormulaFailure(2)
	m.RecordFormulaFailure(0)

	snap := m.Snapshot()
	if snap.Broadcasts != 2 || snap.MessagesSent != 3 {
		t.Errorf("Expected 2 broadcasts / 3 messages, got %d / %d", snap.Broadcasts, snap.MessagesSent)
	}
	if snap.SessionsDropped != 1 {
		t.Errorf("Expected 1 dropped session, got %d", snap.SessionsDropped)
	}
	if snap.FormulaFailures != 2 {
		t.Errorf("Expected 2 formula failures, got %d", snap.FormulaFailures)
	}
}

func TestMetrics_Reset(t *testing.T) {
	m := &Metrics{}

	m.RecordTick(1000)
	m.RecordOverride()
	m.RecordPersistError()
	m.IncrementSessions()

	m.Reset()
	snap := m.Snapshot()

	if snap.Ticks != 0 {
		t.Error("Expected 0 ticks after reset")
	}
	if snap.OverridesApplied != 0 || snap.PersistErrors != 0 {
		t.Error("Expected 0 counters after reset")
	}
	if snap.ActiveSessions != 0 {
		t.Error("Expected 0 sessions after reset")
	}
}
