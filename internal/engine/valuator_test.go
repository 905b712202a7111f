package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeGrid struct {
	mu      sync.Mutex
	ticks   []time.Time
	panicAt int
	dumped  string
	dumpErr error
}

func (g *fakeGrid) Tick(now time.Time) {
	g.mu.Lock()
	g.ticks = append(g.ticks, now)
	n := len(g.ticks)
	g.mu.Unlock()
	if g.panicAt > 0 && n == g.panicAt {
		panic("formula table corrupted")
	}
}

func (g *fakeGrid) DumpState(filename string) error {
	g.dumped = filename
	if g.dumpErr != nil {
		return g.dumpErr
	}
	return os.WriteFile(filename, []byte("{}"), 0644)
}

func (g *fakeGrid) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.ticks)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestValuator_TicksUntilCancelled(t *testing.T) {
	grid := &fakeGrid{}
	v := NewValuator(grid, 10*time.Millisecond, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		v.Run(ctx)
		close(done)
	}()

	time.Sleep(75 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	n := grid.count()
	if n < 3 {
		t.Errorf("Expected at least 3 ticks, got %d", n)
	}
	after := grid.count()
	time.Sleep(30 * time.Millisecond)
	if grid.count() != after {
		t.Error("Ticks continued after Run returned")
	}
}

func TestValuator_FirstTickIsImmediate(t *testing.T) {
	grid := &fakeGrid{}
	v := NewValuator(grid, time.Hour, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go v.Run(ctx)

	deadline := time.Now().Add(time.Second)
	for grid.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Expected an immediate first tick")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestValuator_PanicDumpsAndHalts(t *testing.T) {
	grid := &fakeGrid{panicAt: 1}
	v := NewValuator(grid, time.Millisecond, quietLogger())
	path := filepath.Join(t.TempDir(), "dump.json")
	v.SetDumpFile(path)

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("Valuator should have re-panicked")
		}
		if !strings.HasPrefix(r.(string), "HALTED:") {
			t.Errorf("panic = %v, want HALTED prefix", r)
		}
		if grid.dumped != path {
			t.Errorf("dumped to %q, want %q", grid.dumped, path)
		}
		if _, err := os.Stat(path); err != nil {
			t.Errorf("dump file missing: %v", err)
		}
	}()

	v.Run(context.Background())
}

func TestValuator_PanicWithFailedDumpStillHalts(t *testing.T) {
	grid := &fakeGrid{panicAt: 1, dumpErr: errors.New("read-only fs")}
	v := NewValuator(grid, time.Millisecond, quietLogger())

	defer func() {
		if recover() == nil {
			t.Fatal("Valuator should have re-panicked")
		}
	}()

	v.Run(context.Background())
}
