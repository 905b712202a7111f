package infra

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"edge_grid/internal/domain"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// SymbolSeed is one symbol the grid starts with.
type SymbolSeed struct {
	Symbol      string            `yaml:"symbol"`
	Description *string           `yaml:"description"`
	Formulas    map[string]string `yaml:"formulas"`
	DependsOn   []string          `yaml:"depends_on"`
}

// Config holds every application setting.
// After LoadConfig reads the file, environment variables override it.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Server struct {
		Addr           string   `yaml:"addr"`
		AllowedOrigins []string `yaml:"allowed_origins"`
		SendBuffer     int      `yaml:"send_buffer"`
		ReadLimit      int64    `yaml:"read_limit"`
	} `yaml:"server"`

	Engine struct {
		TickIntervalMS int     `yaml:"tick_interval_ms"`
		InitialEdge    float64 `yaml:"initial_edge"`
		InitialQty     float64 `yaml:"initial_qty"`
		DumpFile       string  `yaml:"dump_file"`
	} `yaml:"engine"`

	Logging struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"logging"`

	Storage struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"storage"`

	Feed struct {
		URL            string `yaml:"url"`
		BaseDelayMS    int    `yaml:"base_delay_ms"`
		MaxDelayMS     int    `yaml:"max_delay_ms"`
		ReadTimeoutSec int    `yaml:"read_timeout_sec"`
	} `yaml:"feed"`

	Symbols []SymbolSeed `yaml:"symbols"`
}

func strPtr(s string) *string { return &s }

// DefaultConfig returns the built-in settings, including the four seed
// symbols and the two TYM5 edge formulas.
func DefaultConfig() *Config {
	var cfg Config
	cfg.App.Name = "edge-grid"
	cfg.App.Version = "0.1.0"

	cfg.Server.Addr = ":8000"
	cfg.Server.AllowedOrigins = []string{"*"}
	cfg.Server.SendBuffer = 256
	cfg.Server.ReadLimit = 64 * 1024

	cfg.Engine.TickIntervalMS = 1000
	cfg.Engine.InitialEdge = -10
	cfg.Engine.InitialQty = 0
	cfg.Engine.DumpFile = "panic_dump.json"

	cfg.Logging.Level = "info"
	cfg.Logging.File = "logs/app.log"
	cfg.Logging.MaxSizeMB = 10
	cfg.Logging.MaxBackups = 3
	cfg.Logging.MaxAgeDays = 28

	cfg.Storage.Enabled = false
	cfg.Storage.Path = "data/edge_grid.db"

	cfg.Feed.URL = "ws://localhost:8000/ws"
	cfg.Feed.BaseDelayMS = 1000
	cfg.Feed.MaxDelayMS = 60000
	cfg.Feed.ReadTimeoutSec = 60

	cfg.Symbols = []SymbolSeed{
		{
			Symbol:      "TYM5",
			Description: strPtr("30-Year Treasury Bond"),
			Formulas: map[string]string{
				"bid_edge": "0.5 * context['TYM5']['bid_edge'] + 0.5 * context['NQM5']['bid_edge'] - 0.3 * context['ESM5']['bid_edge']",
				"ask_edge": "0.5 * context['TYM5']['ask_edge'] + 0.5 * context['NQM5']['ask_edge'] - 0.3 * context['ESM5']['ask_edge']",
			},
			DependsOn: []string{"NQM5", "ESM5"},
		},
		{Symbol: "NQM5", Description: strPtr("Nasdaq-100 E-mini")},
		{Symbol: "ESM5", Description: strPtr("E-mini S&P 500")},
		{Symbol: "TUM5", Description: strPtr("2-Year Treasury Note")},
	}
	return &cfg
}

// LoadConfig reads and parses the config file on top of DefaultConfig. A
// missing file is not an error. A .env file next to the working directory is
// loaded before environment overrides are applied.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	// Existing environment variables win over .env entries.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, &domain.ConfigError{Field: ".env", Err: err}
	}

	if err := overrideWithEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// TickInterval returns the engine period.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Engine.TickIntervalMS) * time.Millisecond
}

// SeedRecords converts the seed symbols to catalog records.
func (c *Config) SeedRecords() []domain.SymbolRecord {
	recs := make([]domain.SymbolRecord, 0, len(c.Symbols))
	for _, s := range c.Symbols {
		recs = append(recs, domain.SymbolRecord{
			Symbol:      s.Symbol,
			Description: s.Description,
			Formulas:    s.Formulas,
			DependsOn:   s.DependsOn,
		})
	}
	return recs
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return &domain.ConfigError{Field: "server.addr", Err: errors.New("must not be empty")}
	}
	if c.Server.SendBuffer <= 0 {
		return &domain.ConfigError{Field: "server.send_buffer", Err: errors.New("must be positive")}
	}
	if c.Engine.TickIntervalMS <= 0 {
		return &domain.ConfigError{Field: "engine.tick_interval_ms", Err: errors.New("must be positive")}
	}
	if c.Storage.Enabled && c.Storage.Path == "" {
		return &domain.ConfigError{Field: "storage.path", Err: errors.New("required when storage is enabled")}
	}

	known := make(map[string]bool, len(c.Symbols))
	for _, s := range c.Symbols {
		if s.Symbol == "" {
			return &domain.ConfigError{Field: "symbols", Err: domain.ErrInvalidSymbol}
		}
		if known[s.Symbol] {
			return &domain.ConfigError{Field: "symbols." + s.Symbol, Err: domain.ErrDuplicateSymbol}
		}
		known[s.Symbol] = true
	}
	for _, s := range c.Symbols {
		for name := range s.Formulas {
			f, err := domain.ParseField(name)
			if err != nil {
				return &domain.ConfigError{Field: "symbols." + s.Symbol + ".formulas", Err: err}
			}
			if !f.IsNumeric() {
				return &domain.ConfigError{Field: "symbols." + s.Symbol + ".formulas." + name, Err: domain.ErrFormulaField}
			}
		}
		for _, dep := range s.DependsOn {
			if !known[dep] {
				return &domain.ConfigError{
					Field: "symbols." + s.Symbol + ".depends_on",
					Err:   fmt.Errorf("%w: %s", domain.ErrSymbolNotFound, dep),
				}
			}
		}
	}

	return nil
}

// overrideWithEnv overwrites settings with environment variables when present.
func overrideWithEnv(cfg *Config) error {
	if v := os.Getenv("GRID_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("GRID_TICK_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return &domain.ConfigError{Field: "GRID_TICK_MS", Err: err}
		}
		cfg.Engine.TickIntervalMS = ms
	}
	if v := os.Getenv("GRID_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GRID_LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}
	if v := os.Getenv("GRID_STORAGE_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return &domain.ConfigError{Field: "GRID_STORAGE_ENABLED", Err: err}
		}
		cfg.Storage.Enabled = enabled
	}
	if v := os.Getenv("GRID_DB_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	return nil
}
