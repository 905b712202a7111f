package hub

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"edge_grid/internal/infra"
)

type fakeSession struct {
	id  string
	cap int

	mu     sync.Mutex
	msgs   [][]byte
	closed int
}

func newFake(id string, capacity int) *fakeSession {
	return &fakeSession{id: id, cap: capacity}
}

func (f *fakeSession) ID() string { return f.id }

func (f *fakeSession) Enqueue(msg []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed > 0 || len(f.msgs) >= f.cap {
		return false
	}
	f.msgs = append(f.msgs, msg)
	return true
}

func (f *fakeSession) Close() {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
}

func (f *fakeSession) types(t *testing.T) []string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.msgs))
	for _, m := range f.msgs {
		var v struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(m, &v); err != nil {
			t.Fatalf("bad json %s: %v", m, err)
		}
		out = append(out, v.Type)
	}
	return out
}

func newTestHub() (*Hub, *infra.Metrics) {
	m := &infra.Metrics{}
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)), m), m
}

type msg struct {
	Type string `json:"type"`
}

func TestHub_RegisterSendsInitialFirst(t *testing.T) {
	h, m := newTestHub()
	s := newFake("a", 10)

	if err := h.Register(s, msg{Type: "initial_data"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	h.Broadcast(msg{Type: "cell_update"})

	got := s.types(t)
	if len(got) != 2 || got[0] != "initial_data" || got[1] != "cell_update" {
		t.Errorf("messages = %v", got)
	}
	if h.Count() != 1 || m.Snapshot().ActiveSessions != 1 {
		t.Errorf("count = %d, active = %d", h.Count(), m.Snapshot().ActiveSessions)
	}
}

func TestHub_RegisterDuplicate(t *testing.T) {
	h, _ := newTestHub()
	h.Register(newFake("a", 10), msg{Type: "initial_data"})
	if err := h.Register(newFake("a", 10), msg{Type: "initial_data"}); err == nil {
		t.Error("expected duplicate id to be rejected")
	}
}

func TestHub_UnregisterIdempotent(t *testing.T) {
	h, m := newTestHub()
	s := newFake("a", 10)
	h.Register(s, msg{Type: "initial_data"})

	if !h.Unregister("a") {
		t.Error("first Unregister should report true")
	}
	if h.Unregister("a") {
		t.Error("second Unregister should be a no-op")
	}
	if s.closed != 1 {
		t.Errorf("session closed %d times, want 1", s.closed)
	}
	if m.Snapshot().ActiveSessions != 0 {
		t.Error("active sessions should be back to 0")
	}

	h.Broadcast(msg{Type: "cell_update"})
	if n := len(s.types(t)); n != 1 {
		t.Errorf("unregistered session got %d messages, want only initial", n)
	}
}

func TestHub_LaggingSessionIsolated(t *testing.T) {
	h, m := newTestHub()
	slow := newFake("slow", 1) // only room for the initial message
	fast := newFake("fast", 10)
	h.Register(slow, msg{Type: "initial_data"})
	h.Register(fast, msg{Type: "initial_data"})

	if err := h.Broadcast(msg{Type: "cell_update"}); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}
	h.Broadcast(msg{Type: "cell_update"})

	if got := fast.types(t); len(got) != 3 {
		t.Errorf("fast session got %v, want 3 messages", got)
	}
	if h.Count() != 1 {
		t.Errorf("count = %d, want slow session dropped", h.Count())
	}
	snap := m.Snapshot()
	if snap.SessionsDropped != 1 {
		t.Errorf("dropped = %d, want 1", snap.SessionsDropped)
	}
	if slow.closed != 1 {
		t.Error("dropped session should be closed")
	}
}

func TestHub_BroadcastMarshalError(t *testing.T) {
	h, _ := newTestHub()
	if err := h.Broadcast(make(chan int)); err == nil {
		t.Error("expected marshal error")
	}
}

func TestHub_ConcurrentBroadcast(t *testing.T) {
	h, _ := newTestHub()
	for _, id := range []string{"a", "b", "c"} {
		h.Register(newFake(id, 1000), msg{Type: "initial_data"})
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				h.Broadcast(msg{Type: "cell_update"})
			}
		}()
	}
	wg.Wait()

	if h.Count() != 3 {
		t.Errorf("count = %d, want 3", h.Count())
	}
}
