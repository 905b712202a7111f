package infra

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"edge_grid/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.TickInterval() != time.Second {
		t.Errorf("tick interval = %v, want 1s", cfg.TickInterval())
	}
	recs := cfg.SeedRecords()
	if len(recs) != 4 || recs[0].Symbol != "TYM5" || len(recs[0].Formulas) != 2 {
		t.Errorf("seeds = %+v", recs)
	}
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Server.Addr != ":8000" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9100"
engine:
  tick_interval_ms: 250
symbols:
  - symbol: AAA
  - symbol: BBB
    description: "second"
    formulas:
      bid_q: "AAA.bid_q"
    depends_on: [AAA]
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Server.Addr != ":9100" || cfg.Engine.TickIntervalMS != 250 {
		t.Errorf("cfg = %+v", cfg)
	}
	if len(cfg.Symbols) != 2 || *cfg.Symbols[1].Description != "second" {
		t.Errorf("symbols = %+v", cfg.Symbols)
	}
	if cfg.Logging.MaxBackups != 3 {
		t.Error("unset keys should keep their defaults")
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("GRID_ADDR", ":7000")
	t.Setenv("GRID_TICK_MS", "500")
	t.Setenv("GRID_STORAGE_ENABLED", "true")
	t.Setenv("GRID_DB_PATH", "/tmp/grid.db")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Server.Addr != ":7000" || cfg.Engine.TickIntervalMS != 500 {
		t.Errorf("env not applied: %+v", cfg.Server)
	}
	if !cfg.Storage.Enabled || cfg.Storage.Path != "/tmp/grid.db" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
}

func TestLoadConfig_BadEnv(t *testing.T) {
	t.Setenv("GRID_TICK_MS", "fast")
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	var ce *domain.ConfigError
	if !errors.As(err, &ce) || ce.Field != "GRID_TICK_MS" {
		t.Errorf("err = %v, want ConfigError on GRID_TICK_MS", err)
	}
}

func TestLoadConfig_DotEnv(t *testing.T) {
	t.Run("applied", func(t *testing.T) {
		t.Chdir(t.TempDir())
		// registered for cleanup, then cleared so the .env entry can apply
		t.Setenv("GRID_LOG_LEVEL", "")
		os.Unsetenv("GRID_LOG_LEVEL")
		if err := os.WriteFile(".env", []byte("GRID_LOG_LEVEL=debug\n"), 0644); err != nil {
			t.Fatal(err)
		}

		cfg, err := LoadConfig("absent.yaml")
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Logging.Level != "debug" {
			t.Errorf("log level = %q, want debug from .env", cfg.Logging.Level)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		t.Chdir(t.TempDir())
		if err := os.WriteFile(".env", []byte("GRID_ADDR=\":9000\n"), 0644); err != nil {
			t.Fatal(err)
		}

		_, err := LoadConfig("absent.yaml")
		var ce *domain.ConfigError
		if !errors.As(err, &ce) || ce.Field != ".env" {
			t.Errorf("err = %v, want ConfigError on .env", err)
		}
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
		target error
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = " " }, "server.addr", nil},
		{"zero tick", func(c *Config) { c.Engine.TickIntervalMS = 0 }, "engine.tick_interval_ms", nil},
		{"zero send buffer", func(c *Config) { c.Server.SendBuffer = 0 }, "server.send_buffer", nil},
		{"storage without path", func(c *Config) { c.Storage.Enabled = true; c.Storage.Path = "" }, "storage.path", nil},
		{"duplicate seed", func(c *Config) { c.Symbols = append(c.Symbols, SymbolSeed{Symbol: "TUM5"}) }, "symbols.TUM5", domain.ErrDuplicateSymbol},
		{"toggle formula", func(c *Config) { c.Symbols[1].Formulas = map[string]string{"maker": "1"} }, "symbols.NQM5.formulas.maker", domain.ErrFormulaField},
		{"unknown field formula", func(c *Config) { c.Symbols[1].Formulas = map[string]string{"mid": "1"} }, "symbols.NQM5.formulas", domain.ErrUnknownField},
		{"unknown dependency", func(c *Config) { c.Symbols[1].DependsOn = []string{"ZZZ"} }, "symbols.NQM5.depends_on", domain.ErrSymbolNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			var ce *domain.ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("err = %v, want ConfigError", err)
			}
			if ce.Field != tt.field {
				t.Errorf("field = %q, want %q", ce.Field, tt.field)
			}
			if tt.target != nil && !errors.Is(err, tt.target) {
				t.Errorf("err = %v, want %v", err, tt.target)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"info":  slog.LevelInfo,
		"":      slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLogger_WritesRotatedFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.File = filepath.Join(t.TempDir(), "logs", "app.log")

	logger := NewLogger(cfg)
	logger.Info("hello")

	if _, err := os.Stat(cfg.Logging.File); err != nil {
		t.Errorf("log file not created: %v", err)
	}
}

func TestCalculateBackoff(t *testing.T) {
	base, maxDelay := time.Second, 60*time.Second
	tests := []struct {
		retry int
		want  time.Duration
	}{
		{-1, time.Second},
		{0, time.Second},
		{1, 2 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second},
		{200, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := CalculateBackoff(tt.retry, base, maxDelay); got != tt.want {
			t.Errorf("CalculateBackoff(%d) = %v, want %v", tt.retry, got, tt.want)
		}
	}
}
