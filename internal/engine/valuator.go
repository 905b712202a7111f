package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultDumpFile receives the grid state when the loop panics.
const DefaultDumpFile = "panic_dump.json"

// Grid is the state the valuation loop drives.
type Grid interface {
	// Tick recomputes every engine-controlled field and broadcasts the result.
	Tick(now time.Time)
	DumpState(filename string) error
}

// Valuator is the perpetual tick loop: compute all, broadcast, sleep, repeat.
type Valuator struct {
	grid     Grid
	interval time.Duration
	now      func() time.Time
	dumpFile string
	logger   *slog.Logger
}

// NewValuator creates a loop ticking grid every interval.
func NewValuator(grid Grid, interval time.Duration, logger *slog.Logger) *Valuator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Valuator{
		grid:     grid,
		interval: interval,
		now:      time.Now,
		dumpFile: DefaultDumpFile,
		logger:   logger,
	}
}

// SetDumpFile changes where the state is written on panic.
func (v *Valuator) SetDumpFile(path string) {
	v.dumpFile = path
}

// Run ticks immediately and then once per interval after each tick finishes,
// until ctx is cancelled. This MUST be run in a single goroutine.
//
// An unexpected panic dumps the grid state and halts the process by panicking again.
func (v *Valuator) Run(ctx context.Context) {
	v.logger.Info("valuation engine started", slog.Duration("interval", v.interval))

	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			if err := v.grid.DumpState(v.dumpFile); err != nil {
				v.logger.Error("failed to write state dump", slog.Any("error", err))
			} else {
				v.logger.Info("state dumped", slog.String("file", v.dumpFile))
			}
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()

	timer := time.NewTimer(v.interval)
	defer timer.Stop()

	for {
		v.grid.Tick(v.now())
		timer.Reset(v.interval)

		select {
		case <-ctx.Done():
			v.logger.Info("valuation engine stopping...")
			return
		case <-timer.C:
		}
	}
}
